package driven

import "github.com/custodia-labs/policyqa/internal/core/domain"

// Chunker splits a document into ordered, overlapping chunks.
//
// Chunking must be deterministic: the same document and parameters always
// produce the same boundaries and ids. Empty or unreadable documents fail
// with domain.ErrInvalidDocument.
type Chunker interface {
	// Chunk splits the document with the given token budget.
	Chunk(doc *domain.Document, maxTokens, overlapTokens int) ([]domain.Chunk, error)

	// Name returns the chunker name for logging and checksums.
	Name() string
}
