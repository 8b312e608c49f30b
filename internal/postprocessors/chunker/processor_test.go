package chunker

import (
	"errors"
	"strings"
	"testing"

	"github.com/custodia-labs/policyqa/internal/core/domain"
)

func TestNew(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		p := New()
		if p.maxTokens != DefaultMaxTokens {
			t.Errorf("expected maxTokens %d, got %d", DefaultMaxTokens, p.maxTokens)
		}
		if p.overlap != DefaultOverlapTokens {
			t.Errorf("expected overlap %d, got %d", DefaultOverlapTokens, p.overlap)
		}
	})

	t.Run("custom values", func(t *testing.T) {
		p := New(WithMaxTokens(50), WithOverlap(5))
		if p.maxTokens != 50 || p.overlap != 5 {
			t.Errorf("expected 50/5, got %d/%d", p.maxTokens, p.overlap)
		}
	})

	t.Run("zero values ignored", func(t *testing.T) {
		p := New(WithMaxTokens(0), WithOverlap(-1))
		if p.maxTokens != DefaultMaxTokens {
			t.Errorf("expected default maxTokens, got %d", p.maxTokens)
		}
		if p.overlap != DefaultOverlapTokens {
			t.Errorf("expected default overlap, got %d", p.overlap)
		}
	})
}

func TestProcessor_Name(t *testing.T) {
	if New().Name() == "" {
		t.Error("expected non-empty name")
	}
}

func TestProcessor_Chunk_InvalidDocument(t *testing.T) {
	p := New()
	tests := []struct {
		name string
		doc  *domain.Document
	}{
		{"nil document", nil},
		{"missing id", &domain.Document{Content: "text"}},
		{"empty content", &domain.Document{ID: "d", Content: ""}},
		{"whitespace only", &domain.Document{ID: "d", Content: "  \n\t\n "}},
		{"invalid utf8", &domain.Document{ID: "d", Content: string([]byte{0xff, 0xfe, 0xfd})}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, err := p.Chunk(tt.doc, 10, 2)
			if !errors.Is(err, domain.ErrInvalidDocument) {
				t.Fatalf("expected ErrInvalidDocument, got %v", err)
			}
			if chunks != nil {
				t.Errorf("expected no chunks, got %d", len(chunks))
			}
		})
	}
}

func TestProcessor_Chunk_ShortDocumentIsOneChunk(t *testing.T) {
	p := New()
	doc := &domain.Document{
		ID:       "auto-policy",
		PolicyID: "POL-AUTO-001",
		Content:  "COVERAGE B: COLLISION\n\nCollision deductible: $500",
	}

	chunks, err := p.Chunk(doc, 50, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}

	c := chunks[0]
	if c.Content != doc.Content {
		t.Errorf("expected chunk to cover the whole document, got %q", c.Content)
	}
	if c.Section != "COVERAGE B: COLLISION" {
		t.Errorf("expected section from heading, got %q", c.Section)
	}
	if c.PolicyID != "POL-AUTO-001" {
		t.Errorf("expected policy id to be copied, got %q", c.PolicyID)
	}
	if c.ID != ChunkID(doc.ID, 0) {
		t.Errorf("expected id derived from offset 0, got %s", c.ID)
	}
}

func TestProcessor_Chunk_OffsetsMatchContent(t *testing.T) {
	p := New()
	doc := &domain.Document{
		ID: "doc",
		Content: "SECTION 1 LIABILITY\nLiability covers bodily injury to others.\n\n" +
			"Limits are $100,000 per person.\n\n" +
			"SECTION 2 COLLISION\nCollision deductible: $500 per accident.\n\n" +
			"Repairs begin after adjuster approval.",
	}

	chunks, err := p.Chunk(doc, 8, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	for i, c := range chunks {
		if doc.Content[c.Start:c.End] != c.Content {
			t.Errorf("chunk %d content does not match its offsets", i)
		}
		if c.Position != i {
			t.Errorf("expected position %d, got %d", i, c.Position)
		}
		if i > 0 && c.Start <= chunks[i-1].Start {
			t.Errorf("chunk %d does not start after chunk %d", i, i-1)
		}
	}

	// Section boundaries are structural boundaries
	for _, c := range chunks {
		if strings.Contains(c.Content, "SECTION 1") && strings.Contains(c.Content, "SECTION 2") {
			t.Errorf("chunk spans two sections: %q", c.Content)
		}
	}
	last := chunks[len(chunks)-1]
	if last.Section != "SECTION 2 COLLISION" {
		t.Errorf("expected last chunk in SECTION 2, got %q", last.Section)
	}
}

func TestProcessor_Chunk_SlidingWindowOverlap(t *testing.T) {
	p := New()
	words := make([]string, 24)
	for i := range words {
		words[i] = "w" + string(rune('a'+i))
	}
	doc := &domain.Document{ID: "long", Content: strings.Join(words, " ")}

	chunks, err := p.Chunk(doc, 10, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Windows start at words 0, 7, 14 and the third reaches the end.
	if len(chunks) != 3 {
		t.Fatalf("expected 3 windows, got %d", len(chunks))
	}
	for i, c := range chunks {
		if n := len(strings.Fields(c.Content)); n != 10 {
			t.Errorf("window %d: expected 10 tokens, got %d", i, n)
		}
	}
	first := strings.Fields(chunks[0].Content)
	second := strings.Fields(chunks[1].Content)
	if strings.Join(first[7:], " ") != strings.Join(second[:3], " ") {
		t.Errorf("expected 3 overlapping tokens between windows")
	}
	if !strings.HasSuffix(chunks[2].Content, words[23]) {
		t.Errorf("expected last window to end with the last word")
	}
}

func TestProcessor_Chunk_Deterministic(t *testing.T) {
	p := New()
	doc := &domain.Document{
		ID:      "home-policy",
		Content: strings.Repeat("DWELLING COVERAGE\nThe dwelling is covered up to the limit.\n\n", 20),
	}

	first, err := p.Chunk(doc, 30, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := New().Chunk(doc, 30, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	seen := make(map[string]bool)
	for i := range first {
		if first[i].ID != second[i].ID || first[i].Start != second[i].Start || first[i].End != second[i].End {
			t.Errorf("chunk %d differs between runs", i)
		}
		if seen[first[i].ID] {
			t.Errorf("duplicate chunk ID: %s", first[i].ID)
		}
		seen[first[i].ID] = true
	}
}

func TestProcessor_Chunk_OverlapClamped(t *testing.T) {
	p := New()
	doc := &domain.Document{ID: "d", Content: strings.Repeat("word ", 40)}

	chunks, err := p.Chunk(doc, 10, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) < 4 {
		t.Errorf("expected window to advance with clamped overlap, got %d chunks", len(chunks))
	}
}

func TestChunkID(t *testing.T) {
	if ChunkID("a", 0) != ChunkID("a", 0) {
		t.Error("expected stable id")
	}
	if ChunkID("a", 0) == ChunkID("a", 1) {
		t.Error("expected offset to change id")
	}
	if ChunkID("a", 0) == ChunkID("b", 0) {
		t.Error("expected document to change id")
	}
}

func TestHeadingLabel(t *testing.T) {
	tests := []struct {
		line    string
		want    string
		heading bool
	}{
		{"## Claims Process", "Claims Process", true},
		{"COVERAGE B: COLLISION - Deductible: $500 per accident", "COVERAGE B: COLLISION - Deductible: $500 per accident", true},
		{"EXCLUSIONS:", "EXCLUSIONS", true},
		{"Collision deductible: $500", "", false},
		{"", "", false},
		{"$500", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok := headingLabel(tt.line)
			if ok != tt.heading || got != tt.want {
				t.Errorf("headingLabel(%q) = %q, %v; want %q, %v", tt.line, got, ok, tt.want, tt.heading)
			}
		})
	}
}
