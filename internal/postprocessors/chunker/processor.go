// Package chunker provides a deterministic structural chunker with a
// sliding-window fallback.
package chunker

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/custodia-labs/policyqa/internal/core/domain"
	"github.com/custodia-labs/policyqa/internal/core/ports/driven"
)

// Ensure Processor implements the interface.
var _ driven.Chunker = (*Processor)(nil)

// DefaultMaxTokens is the default number of tokens per chunk.
const DefaultMaxTokens = 200

// DefaultOverlapTokens is the default number of overlapping tokens.
const DefaultOverlapTokens = 40

// maxSectionLabel bounds section labels taken from heading lines.
const maxSectionLabel = 80

// chunkNamespace seeds name-based chunk ids. Changing it changes every id.
var chunkNamespace = uuid.MustParse("6f1c7d0e-3b7a-5c59-9a57-2c1f4e8b9d10")

var (
	paragraphBreak = regexp.MustCompile(`\n[ \t]*\n`)
	headingKeyword = regexp.MustCompile(`^(?:SECTION|COVERAGE|PART|ARTICLE|ENDORSEMENT|EXCLUSIONS?|DEFINITIONS|CONDITIONS)\b`)
	markdownHead   = regexp.MustCompile(`^#{1,6}\s+(.+)$`)
)

// Processor splits document content into chunks.
// Paragraphs of one section are packed together up to the token budget;
// a paragraph larger than the budget is split with a sliding window.
// A token is a whitespace-delimited word.
type Processor struct {
	maxTokens int
	overlap   int
}

// Option configures the chunker processor.
type Option func(*Processor)

// WithMaxTokens sets the default chunk size in tokens.
func WithMaxTokens(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.maxTokens = n
		}
	}
}

// WithOverlap sets the default overlap between windows in tokens.
func WithOverlap(n int) Option {
	return func(p *Processor) {
		if n >= 0 {
			p.overlap = n
		}
	}
}

// New creates a new chunker processor with the given options.
func New(opts ...Option) *Processor {
	p := &Processor{
		maxTokens: DefaultMaxTokens,
		overlap:   DefaultOverlapTokens,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the processor name. It is part of the ingestion checksum,
// so it changes whenever boundaries would change.
func (p *Processor) Name() string {
	return "structural-window-v1"
}

// ChunkID derives the stable chunk identifier for a document offset.
func ChunkID(documentID string, start int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%s#%d", documentID, start))).String()
}

// Chunk splits the document. Non-positive maxTokens and negative overlap
// fall back to the processor defaults.
func (p *Processor) Chunk(doc *domain.Document, maxTokens, overlapTokens int) ([]domain.Chunk, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: document is nil", domain.ErrInvalidDocument)
	}
	if doc.ID == "" {
		return nil, fmt.Errorf("%w: document has no id", domain.ErrInvalidDocument)
	}
	if !utf8.ValidString(doc.Content) {
		return nil, fmt.Errorf("%w: %s is not valid UTF-8", domain.ErrInvalidDocument, doc.ID)
	}
	if strings.TrimSpace(doc.Content) == "" {
		return nil, fmt.Errorf("%w: %s is empty", domain.ErrInvalidDocument, doc.ID)
	}

	maxTokens, overlapTokens = p.params(maxTokens, overlapTokens)

	paras := splitParagraphs(doc.Content)
	total := 0
	for i := range paras {
		total += len(paras[i].words)
	}

	b := &builder{doc: doc}

	// Short documents are a single chunk regardless of structure.
	if total <= maxTokens {
		first, last := paras[0], paras[len(paras)-1]
		b.emit(first.start, last.end, firstSection(paras, doc), total)
		return b.chunks, nil
	}

	var group []paragraph
	groupTokens := 0
	flush := func() {
		if len(group) == 0 {
			return
		}
		b.emit(group[0].start, group[len(group)-1].end, group[0].section, groupTokens)
		group = group[:0]
		groupTokens = 0
	}

	for _, para := range paras {
		n := len(para.words)
		if n > maxTokens {
			flush()
			b.window(para, maxTokens, overlapTokens)
			continue
		}
		if len(group) > 0 && (groupTokens+n > maxTokens || para.section != group[0].section) {
			flush()
		}
		group = append(group, para)
		groupTokens += n
	}
	flush()

	return b.chunks, nil
}

// params resolves per-call parameters against the defaults.
func (p *Processor) params(maxTokens, overlap int) (int, int) {
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}
	if overlap < 0 {
		overlap = p.overlap
	}
	// Overlap must leave the window room to advance
	if overlap >= maxTokens {
		overlap = maxTokens / 4
	}
	return maxTokens, overlap
}

type span struct {
	start, end int
}

type paragraph struct {
	start, end int
	words      []span
	section    string
}

// splitParagraphs returns trimmed paragraphs with absolute byte offsets and
// the running section label.
func splitParagraphs(content string) []paragraph {
	var paras []paragraph
	section := ""

	add := func(start, end int) {
		raw := content[start:end]
		lead := len(raw) - len(strings.TrimLeftFunc(raw, unicode.IsSpace))
		trail := len(raw) - len(strings.TrimRightFunc(raw, unicode.IsSpace))
		start, end = start+lead, end-trail
		if start >= end {
			return
		}
		text := content[start:end]
		if label, ok := headingLabel(firstLine(text)); ok {
			section = label
		}
		paras = append(paras, paragraph{
			start:   start,
			end:     end,
			words:   wordSpans(text, start),
			section: section,
		})
	}

	prev := 0
	for _, loc := range paragraphBreak.FindAllStringIndex(content, -1) {
		add(prev, loc[0])
		prev = loc[1]
	}
	add(prev, len(content))

	return paras
}

// wordSpans returns the absolute offsets of each whitespace-delimited word.
func wordSpans(text string, base int) []span {
	var words []span
	inWord := false
	start := 0
	for i, r := range text {
		if unicode.IsSpace(r) {
			if inWord {
				words = append(words, span{base + start, base + i})
				inWord = false
			}
			continue
		}
		if !inWord {
			start = i
			inWord = true
		}
	}
	if inWord {
		words = append(words, span{base + start, base + len(text)})
	}
	return words
}

func firstLine(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		return strings.TrimSpace(text[:i])
	}
	return strings.TrimSpace(text)
}

// headingLabel reports whether line is a section heading and returns its label.
func headingLabel(line string) (string, bool) {
	if line == "" {
		return "", false
	}
	if m := markdownHead.FindStringSubmatch(line); m != nil {
		return clampLabel(m[1]), true
	}
	if headingKeyword.MatchString(line) {
		return clampLabel(line), true
	}
	if isAllCaps(line) && len(line) <= maxSectionLabel {
		return clampLabel(line), true
	}
	return "", false
}

// isAllCaps is true for lines with at least two letters and no lowercase.
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
	return letters >= 2
}

func clampLabel(s string) string {
	s = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(s), ":"))
	if len(s) <= maxSectionLabel {
		return s
	}
	cut := maxSectionLabel
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// firstSection picks the label for a single-chunk document.
func firstSection(paras []paragraph, doc *domain.Document) string {
	for _, p := range paras {
		if p.section != "" {
			return p.section
		}
	}
	if len(doc.Sections) > 0 {
		return doc.Sections[0]
	}
	return ""
}

// builder accumulates chunks with sequential positions.
type builder struct {
	doc    *domain.Document
	chunks []domain.Chunk
}

func (b *builder) emit(start, end int, section string, tokens int) {
	b.chunks = append(b.chunks, domain.Chunk{
		ID:         ChunkID(b.doc.ID, start),
		DocumentID: b.doc.ID,
		PolicyID:   b.doc.PolicyID,
		Content:    b.doc.Content[start:end],
		Start:      start,
		End:        end,
		Section:    section,
		Position:   len(b.chunks),
		Metadata:   map[string]any{"tokens": tokens},
	})
}

// window splits an oversized paragraph into overlapping windows of maxTokens.
func (b *builder) window(para paragraph, maxTokens, overlap int) {
	words := para.words
	step := maxTokens - overlap
	for i := 0; i < len(words); i += step {
		j := i + maxTokens
		if j > len(words) {
			j = len(words)
		}
		b.emit(words[i].start, words[j-1].end, para.section, j-i)
		if j == len(words) {
			return
		}
	}
}
