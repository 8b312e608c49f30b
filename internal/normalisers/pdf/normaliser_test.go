package pdf

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/policyqa/internal/core/domain"
	"github.com/custodia-labs/policyqa/internal/core/ports/driven"
	"github.com/custodia-labs/policyqa/internal/normalisers"
)

// mockExtractor is a test double for Extractor.
type mockExtractor struct {
	pages []string
	err   error
}

func (m *mockExtractor) Extract(_ context.Context, _ []byte) ([]string, error) {
	return m.pages, m.err
}

func TestNew(t *testing.T) {
	normaliser := New()
	require.NotNil(t, normaliser)
	assert.IsType(t, textExtractor{}, normaliser.extractor)
}

func TestSupportedMIMETypes(t *testing.T) {
	assert.Equal(t, []string{"application/pdf"}, New().SupportedMIMETypes())
}

func TestPriority(t *testing.T) {
	assert.Equal(t, 50, New().Priority())
}

func TestInterfaceCompliance(t *testing.T) {
	var _ driven.Normaliser = (*Normaliser)(nil)
}

func TestNormalise_NilDocument(t *testing.T) {
	doc, err := New().Normalise(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Nil(t, doc)
}

func TestNormalise_JoinsPages(t *testing.T) {
	extractor := &mockExtractor{pages: []string{
		"AUTO POLICY DECLARATIONS\r\nPolicy ID: POL-AUTO-001\r\n",
		"   ",
		"COVERAGE B: COLLISION\nDeductible: $500 per accident\n",
	}}
	raw := &domain.RawDocument{
		URI:      "/docs/auto/declarations.pdf",
		MIMEType: "application/pdf",
		Content:  []byte("%PDF-1.4"),
		Metadata: map[string]any{normalisers.PolicyHintKey: "auto"},
	}

	doc, err := NewWithExtractor(extractor).Normalise(context.Background(), raw)
	require.NoError(t, err)

	assert.Equal(t, normalisers.DocumentID(raw.URI), doc.ID)
	assert.Equal(t, "AUTO POLICY DECLARATIONS", doc.Title)
	assert.Equal(t, "POL-AUTO-001", doc.PolicyID)
	assert.Equal(t,
		"AUTO POLICY DECLARATIONS\nPolicy ID: POL-AUTO-001\n\nCOVERAGE B: COLLISION\nDeductible: $500 per accident",
		doc.Content)
	assert.Equal(t, []string{"AUTO POLICY DECLARATIONS", "COVERAGE B: COLLISION"}, doc.Sections)
	assert.Equal(t, 3, doc.Metadata["pages"])
	assert.Equal(t, "application/pdf", doc.Metadata["mime_type"])
}

func TestNormalise_NoText(t *testing.T) {
	raw := &domain.RawDocument{URI: "/docs/scan.pdf", Content: []byte("%PDF-1.4")}

	_, err := NewWithExtractor(&mockExtractor{pages: []string{"", " \n "}}).Normalise(context.Background(), raw)
	assert.ErrorIs(t, err, domain.ErrInvalidDocument)
	assert.ErrorIs(t, err, ErrNoText)
}

func TestNormalise_ExtractorError(t *testing.T) {
	raw := &domain.RawDocument{URI: "/docs/broken.pdf"}
	boom := errors.New("boom")

	_, err := NewWithExtractor(&mockExtractor{err: boom}).Normalise(context.Background(), raw)
	assert.ErrorIs(t, err, domain.ErrInvalidDocument)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "/docs/broken.pdf")
}

func TestNormalise_NotAPDF(t *testing.T) {
	raw := &domain.RawDocument{URI: "/docs/fake.pdf", Content: []byte("this is not a pdf")}

	doc, err := New().Normalise(context.Background(), raw)
	assert.ErrorIs(t, err, domain.ErrInvalidDocument)
	assert.Nil(t, doc)
}

func TestExtractTitle(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		uri      string
		expected string
	}{
		{
			name:     "first line as title",
			content:  "Document Title\n\nSome content here.",
			uri:      "/doc.pdf",
			expected: "Document Title",
		},
		{
			name:     "skip empty lines",
			content:  "\n\n\nActual Title\nContent",
			uri:      "/doc.pdf",
			expected: "Actual Title",
		},
		{
			name:     "fallback to filename",
			content:  "",
			uri:      "/path/to/my_document.pdf",
			expected: "my document",
		},
		{
			name:     "skip very long first line",
			content:  strings.Repeat("x", 250) + "\nShort Title\nContent",
			uri:      "/doc.pdf",
			expected: "Short Title",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, extractTitle(tc.content, tc.uri))
		})
	}
}
