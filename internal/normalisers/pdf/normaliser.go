// Package pdf loads PDF policy documents by extracting their plain text.
package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"github.com/custodia-labs/policyqa/internal/core/domain"
	"github.com/custodia-labs/policyqa/internal/core/ports/driven"
	"github.com/custodia-labs/policyqa/internal/logger"
	"github.com/custodia-labs/policyqa/internal/normalisers"
	"github.com/custodia-labs/policyqa/internal/normalisers/plaintext"
)

// Ensure Normaliser implements the interface.
var _ driven.Normaliser = (*Normaliser)(nil)

// maxTitleLength is the longest first line accepted as a title.
const maxTitleLength = 200

// ErrNoText is returned for PDFs without a text layer, such as scans.
var ErrNoText = errors.New("pdf has no extractable text")

// Extractor returns the plain text of each page of a PDF.
type Extractor interface {
	Extract(ctx context.Context, content []byte) ([]string, error)
}

// Normaliser handles PDF documents.
type Normaliser struct {
	extractor Extractor
	now       func() time.Time
}

// New creates a PDF normaliser backed by the pure Go PDF reader.
func New() *Normaliser {
	return NewWithExtractor(textExtractor{})
}

// NewWithExtractor creates a PDF normaliser with a custom extractor.
func NewWithExtractor(extractor Extractor) *Normaliser {
	return &Normaliser{extractor: extractor, now: time.Now}
}

// SupportedMIMETypes returns the MIME types this normaliser handles.
func (n *Normaliser) SupportedMIMETypes() []string {
	return []string{"application/pdf"}
}

// Priority returns the selection priority.
func (n *Normaliser) Priority() int {
	return 50
}

// Normalise extracts the text of every page and builds a document.
// Pages are separated by a blank line.
func (n *Normaliser) Normalise(ctx context.Context, raw *domain.RawDocument) (*domain.Document, error) {
	if raw == nil {
		return nil, domain.ErrInvalidInput
	}

	pages, err := n.extractor.Extract(ctx, raw.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrInvalidDocument, raw.URI, err)
	}

	parts := make([]string, 0, len(pages))
	for _, page := range pages {
		if text := plaintext.Clean([]byte(page)); strings.TrimSpace(text) != "" {
			parts = append(parts, strings.TrimSpace(text))
		}
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrInvalidDocument, raw.URI, ErrNoText)
	}
	content := strings.Join(parts, "\n\n")

	doc := normalisers.NewDocument(raw, extractTitle(content, raw.URI), content, n.now())
	doc.Metadata["pages"] = len(pages)
	return doc, nil
}

// extractTitle uses the first short non-blank line, falling back to the
// file name.
func extractTitle(content, uri string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(strings.Trim(line, "\x00"))
		if line != "" && len(line) <= maxTitleLength {
			return line
		}
	}
	return normalisers.TitleFromURI(uri)
}

// textExtractor reads PDFs with github.com/ledongthuc/pdf.
type textExtractor struct{}

func (textExtractor) Extract(ctx context.Context, content []byte) (pages []string, err error) {
	// The reader panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	total := reader.NumPage()
	pages = make([]string, 0, total)
	fonts := make(map[string]*pdf.Font)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(fonts)
		if err != nil {
			logger.Warn("pdf: skipping page %d: %v", i, err)
			continue
		}
		pages = append(pages, text)
	}
	return pages, nil
}
