package normalisers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/policyqa/internal/core/domain"
)

type fakeNormaliser struct {
	name     string
	types    []string
	priority int
	seen     *domain.RawDocument
}

func (f *fakeNormaliser) SupportedMIMETypes() []string { return f.types }

func (f *fakeNormaliser) Priority() int { return f.priority }

func (f *fakeNormaliser) Normalise(_ context.Context, raw *domain.RawDocument) (*domain.Document, error) {
	f.seen = raw
	return &domain.Document{ID: f.name, URI: raw.URI}, nil
}

func TestMIMEType(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/docs/auto.txt", "text/plain"},
		{"/docs/HOME.MD", "text/markdown"},
		{"notes.markdown", "text/markdown"},
		{"/docs/policy.pdf", "application/pdf"},
		{"/docs/page.html", "text/html"},
		{"/docs/noext", "application/octet-stream"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, MIMEType(tt.path))
		})
	}
}

func TestRegistry_PicksHighestPriority(t *testing.T) {
	fallback := &fakeNormaliser{name: "fallback", types: []string{"text/plain", "text/markdown"}, priority: 5}
	md := &fakeNormaliser{name: "markdown", types: []string{"text/markdown"}, priority: 50}
	r := NewRegistry(fallback, md)

	doc, err := r.Normalise(context.Background(), &domain.RawDocument{URI: "a.md", MIMEType: "text/markdown"})
	require.NoError(t, err)
	assert.Equal(t, "markdown", doc.ID)

	doc, err = r.Normalise(context.Background(), &domain.RawDocument{URI: "a.txt", MIMEType: "text/plain"})
	require.NoError(t, err)
	assert.Equal(t, "fallback", doc.ID)
}

func TestRegistry_ResolvesMissingMIMEType(t *testing.T) {
	pdf := &fakeNormaliser{name: "pdf", types: []string{"application/pdf"}, priority: 50}
	r := NewRegistry(pdf)

	raw := &domain.RawDocument{URI: "/docs/policy.pdf"}
	doc, err := r.Normalise(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "pdf", doc.ID)
	assert.Equal(t, "application/pdf", pdf.seen.MIMEType)
	assert.Empty(t, raw.MIMEType, "caller's document is not modified")
}

func TestRegistry_Unsupported(t *testing.T) {
	r := NewRegistry()

	_, err := r.Normalise(context.Background(), &domain.RawDocument{URI: "/docs/photo.png"})
	assert.ErrorIs(t, err, domain.ErrUnsupportedType)
	assert.Contains(t, err.Error(), "/docs/photo.png")

	_, err = r.Normalise(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRegistry_SupportedMIMETypes(t *testing.T) {
	r := NewRegistry(
		&fakeNormaliser{types: []string{"text/plain"}},
		&fakeNormaliser{types: []string{"application/pdf", "text/plain"}},
	)
	assert.Equal(t, []string{"application/pdf", "text/plain"}, r.SupportedMIMETypes())
	assert.True(t, r.Supports("/x/policy.pdf"))
	assert.False(t, r.Supports("/x/policy.md"))
}
