// Package markdown loads Markdown policy documents.
package markdown

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/custodia-labs/policyqa/internal/core/domain"
	"github.com/custodia-labs/policyqa/internal/core/ports/driven"
	"github.com/custodia-labs/policyqa/internal/normalisers"
	"github.com/custodia-labs/policyqa/internal/normalisers/plaintext"
)

// Ensure Normaliser implements the interface.
var _ driven.Normaliser = (*Normaliser)(nil)

var (
	frontMatter  = regexp.MustCompile(`(?s)\A---\n.*?\n---\n`)
	codeFence    = regexp.MustCompile("(?m)^[ \t]*(```|~~~).*$\n?")
	htmlComment  = regexp.MustCompile(`(?s)<!--.*?-->`)
	images       = regexp.MustCompile(`!\[([^\]]*)\]\([^)]+\)`)
	links        = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	inlineCode   = regexp.MustCompile("`([^`]+)`")
	strong       = regexp.MustCompile(`(\*\*|__)(\S(?:[^*_]*?\S)?)(\*\*|__)`)
	starItalic   = regexp.MustCompile(`\*(\S[^*\n]*?)\*`)
	underItalic  = regexp.MustCompile(`\b_(\S[^_\n]*?)_\b`)
	blockquote   = regexp.MustCompile(`(?m)^>\s?`)
	rule         = regexp.MustCompile(`(?m)^[ \t]*[-*_]([ \t]*[-*_]){2,}[ \t]*$`)
	tableDivider = regexp.MustCompile(`(?m)^[ \t]*\|?[ \t]*:?-{3,}:?[ \t]*(\|[ \t]*:?-{3,}:?[ \t]*)*\|?[ \t]*$\n?`)
	extraBlank   = regexp.MustCompile(`\n{3,}`)
	h1           = regexp.MustCompile(`(?m)^#\s+(.+)$`)
)

// Normaliser handles Markdown documents.
type Normaliser struct {
	now func() time.Time
}

// New creates a new Markdown normaliser.
func New() *Normaliser {
	return &Normaliser{now: time.Now}
}

// SupportedMIMETypes returns the MIME types this normaliser handles.
func (n *Normaliser) SupportedMIMETypes() []string {
	return []string{"text/markdown", "text/x-markdown"}
}

// Priority returns the selection priority.
func (n *Normaliser) Priority() int {
	return 50
}

// Normalise converts a markdown document to a document.
// Heading lines are kept so the chunker can follow sections; inline
// formatting is removed.
func (n *Normaliser) Normalise(_ context.Context, raw *domain.RawDocument) (*domain.Document, error) {
	if raw == nil {
		return nil, domain.ErrInvalidInput
	}

	source := plaintext.Clean(raw.Content)
	content := Strip(source)

	doc := normalisers.NewDocument(raw, title(content, raw.URI), content, n.now())
	doc.Metadata["format"] = "markdown"
	return doc, nil
}

// title returns the first H1 heading, falling back to the file name.
func title(content, uri string) string {
	if m := h1.FindStringSubmatch(content); m != nil {
		return strings.TrimSpace(m[1])
	}
	return normalisers.TitleFromURI(uri)
}

// Strip removes markdown formatting while keeping headings, list items
// and the text of links and code.
func Strip(content string) string {
	content = frontMatter.ReplaceAllString(content, "")
	content = htmlComment.ReplaceAllString(content, "")
	content = codeFence.ReplaceAllString(content, "")
	content = rule.ReplaceAllString(content, "")
	content = tableDivider.ReplaceAllString(content, "")
	content = images.ReplaceAllString(content, "$1")
	content = links.ReplaceAllString(content, "$1")
	content = inlineCode.ReplaceAllString(content, "$1")
	content = strong.ReplaceAllString(content, "$2")
	content = starItalic.ReplaceAllString(content, "$1")
	content = underItalic.ReplaceAllString(content, "$1")
	content = blockquote.ReplaceAllString(content, "")
	content = extraBlank.ReplaceAllString(content, "\n\n")
	return strings.TrimSpace(content)
}
