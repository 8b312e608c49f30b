package normalisers

import (
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/custodia-labs/policyqa/internal/core/domain"
)

// PolicyHintKey is the raw metadata key sources use to suggest a policy id.
const PolicyHintKey = "policy_hint"

// maxSectionLabel bounds section labels taken from heading lines.
const maxSectionLabel = 80

// documentNamespace seeds name-based document ids. Changing it changes every id.
var documentNamespace = uuid.MustParse("1b0e2d6a-7c44-5f0b-8d3e-94a1c6f2e7b5")

var (
	policyLine     = regexp.MustCompile(`(?im)^\s*policy\s*(?:id|number|no\.?|#)\s*[:#]\s*([A-Za-z0-9][A-Za-z0-9._/-]*)`)
	headingKeyword = regexp.MustCompile(`^(?:SECTION|COVERAGE|PART|ARTICLE|ENDORSEMENT|EXCLUSIONS?|DEFINITIONS|CONDITIONS)\b`)
	markdownHead   = regexp.MustCompile(`^#{1,6}\s+(.+)$`)
)

// DocumentID derives the stable document id for a URI.
func DocumentID(uri string) string {
	return uuid.NewSHA1(documentNamespace, []byte(filepath.ToSlash(uri))).String()
}

// InferPolicyID returns the policy a document belongs to. A "Policy ID:" or
// "Policy Number:" line in the content wins, then the source's policy hint,
// then the file stem.
func InferPolicyID(content string, raw *domain.RawDocument) string {
	if m := policyLine.FindStringSubmatch(content); m != nil {
		return strings.TrimRight(m[1], ".")
	}
	if hint, ok := raw.Metadata[PolicyHintKey].(string); ok && hint != "" {
		return hint
	}
	return Stem(raw.URI)
}

// Stem returns the file name of uri without its extension.
func Stem(uri string) string {
	name := filepath.Base(uri)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// TitleFromURI turns a file name into a human-readable title.
func TitleFromURI(uri string) string {
	title := Stem(uri)
	title = strings.ReplaceAll(title, "_", " ")
	title = strings.ReplaceAll(title, "-", " ")
	return title
}

// FirstLine returns the first non-blank line of content, or "".
func FirstLine(content string) string {
	for _, line := range strings.Split(content, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

// Sections lists heading labels in document order without duplicates.
func Sections(content string) []string {
	var sections []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(content, "\n") {
		label := SectionLabel(line)
		if label == "" || seen[label] {
			continue
		}
		seen[label] = true
		sections = append(sections, label)
	}
	return sections
}

// SectionLabel returns the section label a line introduces, or "".
// Markdown headings, insurance keywords such as "COVERAGE B: COLLISION"
// and short all-caps lines count as headings.
func SectionLabel(line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return ""
	}
	if m := markdownHead.FindStringSubmatch(line); m != nil {
		return truncateLabel(strings.TrimSpace(m[1]))
	}
	if head := headingOnly(line); headingKeyword.MatchString(head) && head == strings.ToUpper(head) {
		return truncateLabel(head)
	}
	if policyLine.MatchString(line) {
		return ""
	}
	if len(line) <= maxSectionLabel && isAllCaps(line) {
		return strings.TrimRight(line, ":")
	}
	return ""
}

// headingOnly drops the body that follows a heading on the same line,
// as in "COVERAGE B: COLLISION - Deductible: $500".
func headingOnly(line string) string {
	if i := strings.Index(line, " - "); i > 0 {
		line = line[:i]
	}
	return strings.TrimRight(strings.TrimSpace(line), ":")
}

func isAllCaps(line string) bool {
	letters := 0
	for _, r := range line {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsLetter(r) {
			letters++
		}
	}
	return letters >= 3
}

func truncateLabel(label string) string {
	if len(label) <= maxSectionLabel {
		return label
	}
	cut := maxSectionLabel
	for cut > 0 && !utf8.RuneStart(label[cut]) {
		cut--
	}
	return strings.TrimSpace(label[:cut])
}

// NewDocument assembles a document from a raw input and extracted text.
// Raw metadata is copied and the MIME type recorded.
func NewDocument(raw *domain.RawDocument, title, content string, now time.Time) *domain.Document {
	metadata := make(map[string]any, len(raw.Metadata)+1)
	for k, v := range raw.Metadata {
		metadata[k] = v
	}
	metadata["mime_type"] = raw.MIMEType

	return &domain.Document{
		ID:        DocumentID(raw.URI),
		PolicyID:  InferPolicyID(content, raw),
		URI:       raw.URI,
		Title:     title,
		Content:   content,
		Sections:  Sections(content),
		Metadata:  metadata,
		CreatedAt: now,
	}
}
