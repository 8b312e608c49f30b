package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/custodia-labs/policyqa/internal/adapters/driven/storage"
	"github.com/custodia-labs/policyqa/internal/core/domain"
	"github.com/custodia-labs/policyqa/internal/core/ports/driven"
)

// Ensure VectorIndex implements the interface.
var _ driven.VectorIndex = (*VectorIndex)(nil)

// VectorIndex is an in-memory brute-force implementation of driven.VectorIndex.
// Collections live only as long as the process.
type VectorIndex struct {
	mu          sync.RWMutex
	collection  string
	collections map[string]int
	records     map[string]domain.EmbeddingRecord
	closed      bool
}

// NewVectorIndex creates a new in-memory index for a collection.
func NewVectorIndex(collection string) *VectorIndex {
	return &VectorIndex{
		collection:  collection,
		collections: make(map[string]int),
		records:     make(map[string]domain.EmbeddingRecord),
	}
}

// Collection returns the collection name.
func (v *VectorIndex) Collection() string {
	return v.collection
}

// EnsureCollection records the collection and its dimensions.
func (v *VectorIndex) EnsureCollection(_ context.Context, dimensions int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return domain.ErrIndexUnavailable
	}
	if dims, ok := v.collections[v.collection]; ok && dims != dimensions {
		return fmt.Errorf("%w: collection %s has %d dimensions, not %d",
			domain.ErrInvalidInput, v.collection, dims, dimensions)
	}
	v.collections[v.collection] = dimensions
	return nil
}

// ListCollections returns the existing collection names.
func (v *VectorIndex) ListCollections(_ context.Context) ([]string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return nil, domain.ErrIndexUnavailable
	}
	names := make([]string, 0, len(v.collections))
	for name := range v.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Upsert inserts or overwrites records by chunk id.
func (v *VectorIndex) Upsert(_ context.Context, records []domain.EmbeddingRecord) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return domain.ErrIndexUnavailable
	}
	for _, r := range records {
		r.Vector = append([]float32(nil), r.Vector...)
		v.records[r.ChunkID] = r
	}
	return nil
}

// Delete removes records by chunk id.
func (v *VectorIndex) Delete(_ context.Context, chunkIDs []string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return domain.ErrIndexUnavailable
	}
	for _, id := range chunkIDs {
		delete(v.records, id)
	}
	return nil
}

// Search scans every record passing the filter and returns the k nearest.
func (v *VectorIndex) Search(
	_ context.Context,
	query []float32,
	k int,
	filter *domain.SearchFilter,
) ([]driven.VectorHit, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return nil, domain.ErrIndexUnavailable
	}

	hits := make([]driven.VectorHit, 0, len(v.records))
	for id, r := range v.records {
		if !filter.Matches(r.Payload) {
			continue
		}
		hits = append(hits, driven.VectorHit{
			ChunkID: id,
			Payload: r.Payload,
			Score:   storage.Cosine(query, r.Vector),
		})
	}
	return storage.TopK(hits, k), nil
}

// Len returns the number of stored records.
func (v *VectorIndex) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.records)
}

// Close marks the index unavailable.
func (v *VectorIndex) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	return nil
}
