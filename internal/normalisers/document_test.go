package normalisers

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/custodia-labs/policyqa/internal/core/domain"
)

func TestDocumentID(t *testing.T) {
	a := DocumentID("/docs/auto.txt")
	assert.Equal(t, a, DocumentID("/docs/auto.txt"))
	assert.NotEqual(t, a, DocumentID("/docs/home.txt"))
	assert.Len(t, a, 36)
}

func TestInferPolicyID(t *testing.T) {
	tests := []struct {
		name    string
		content string
		uri     string
		hint    any
		want    string
	}{
		{name: "policy id line", content: "Header\nPolicy ID: POL-AUTO-001\n", uri: "/d/a.txt", want: "POL-AUTO-001"},
		{name: "policy number line", content: "POLICY NUMBER: HO-3/2024", uri: "/d/a.txt", want: "HO-3/2024"},
		{name: "policy no", content: "Policy No: 77-A.", uri: "/d/a.txt", want: "77-A"},
		{name: "content beats hint", content: "Policy ID: X1", uri: "/d/a.txt", hint: "auto", want: "X1"},
		{name: "hint", content: "no id here", uri: "/d/auto/a.txt", hint: "auto", want: "auto"},
		{name: "non string hint ignored", content: "", uri: "/d/a.txt", hint: 7, want: "a"},
		{name: "stem", content: "The policy is in force.", uri: "/d/home-2024.md", want: "home-2024"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := &domain.RawDocument{URI: tt.uri}
			if tt.hint != nil {
				raw.Metadata = map[string]any{PolicyHintKey: tt.hint}
			}
			assert.Equal(t, tt.want, InferPolicyID(tt.content, raw))
		})
	}
}

func TestSectionLabel(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"COVERAGE B: COLLISION - Deductible: $500 per accident", "COVERAGE B: COLLISION"},
		{"SECTION 3", "SECTION 3"},
		{"EXCLUSIONS:", "EXCLUSIONS"},
		{"## Coverage A: Dwelling", "Coverage A: Dwelling"},
		{"DEFINITIONS", "DEFINITIONS"},
		{"Coverage applies to the vehicle.", ""},
		{"POLICY ID: POL-1", ""},
		{"$500", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, SectionLabel(tt.line))
		})
	}
}

func TestSectionLabel_Truncates(t *testing.T) {
	label := SectionLabel("# " + strings.Repeat("é", 60))
	assert.LessOrEqual(t, len(label), maxSectionLabel)
	assert.True(t, strings.HasPrefix(label, "é"))
	assert.NotContains(t, label, "�")
}

func TestSections_DeduplicatesInOrder(t *testing.T) {
	content := "SECTION 1\ntext\nSECTION 2\nmore\nSECTION 1\n"
	assert.Equal(t, []string{"SECTION 1", "SECTION 2"}, Sections(content))
	assert.Nil(t, Sections("just prose"))
}

func TestTitleHelpers(t *testing.T) {
	assert.Equal(t, "home policy 2024", TitleFromURI("/docs/home_policy-2024.txt"))
	assert.Equal(t, "home", Stem("/docs/home.pdf"))
	assert.Equal(t, "First", FirstLine("\n  \nFirst\nSecond"))
	assert.Equal(t, "", FirstLine(" \n"))
}

func TestNewDocument(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	raw := &domain.RawDocument{
		URI:      "/docs/auto/policy.txt",
		MIMEType: "text/plain",
		Metadata: map[string]any{PolicyHintKey: "auto", "size": 10},
	}

	doc := NewDocument(raw, "Policy", "SECTION 1\nbody", now)

	assert.Equal(t, DocumentID(raw.URI), doc.ID)
	assert.Equal(t, "auto", doc.PolicyID)
	assert.Equal(t, []string{"SECTION 1"}, doc.Sections)
	assert.Equal(t, now, doc.CreatedAt)
	assert.Equal(t, "text/plain", doc.Metadata["mime_type"])
	assert.Equal(t, 10, doc.Metadata["size"])

	doc.Metadata["size"] = 11
	assert.Equal(t, 10, raw.Metadata["size"], "metadata is copied")
}
