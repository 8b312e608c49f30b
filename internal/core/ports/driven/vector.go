package driven

import (
	"context"

	"github.com/custodia-labs/policyqa/internal/core/domain"
)

// VectorIndex stores embedding records under a named collection and
// answers nearest-neighbour queries.
//
// Implementations wrap connectivity failures with domain.ErrIndexUnavailable.
// The index is shared; implementations must tolerate concurrent writers.
type VectorIndex interface {
	// Collection returns the collection this index reads and writes.
	Collection() string

	// EnsureCollection creates the collection if it does not exist.
	EnsureCollection(ctx context.Context, dimensions int) error

	// ListCollections returns the names of existing collections.
	ListCollections(ctx context.Context) ([]string, error)

	// Upsert inserts or overwrites records keyed by chunk id.
	Upsert(ctx context.Context, records []domain.EmbeddingRecord) error

	// Delete removes records by chunk id. Unknown ids are ignored.
	Delete(ctx context.Context, chunkIDs []string) error

	// Search returns up to k records nearest to the query vector.
	// The filter is applied before ranking.
	Search(ctx context.Context, query []float32, k int, filter *domain.SearchFilter) ([]VectorHit, error)

	// Close releases resources.
	Close() error
}

// VectorHit represents a similarity search result.
type VectorHit struct {
	// ChunkID is the matched chunk.
	ChunkID string

	// Payload is the metadata stored with the vector.
	Payload domain.ChunkPayload

	// Score is the cosine similarity (-1 to 1).
	Score float64
}
