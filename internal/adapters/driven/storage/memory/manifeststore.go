package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/custodia-labs/policyqa/internal/core/domain"
	"github.com/custodia-labs/policyqa/internal/core/ports/driven"
)

// Ensure ManifestStore implements the interface.
var _ driven.ManifestStore = (*ManifestStore)(nil)

// ManifestStore is an in-memory implementation of driven.ManifestStore.
type ManifestStore struct {
	mu        sync.RWMutex
	manifests map[string]domain.DocumentManifest
}

// NewManifestStore creates a new in-memory manifest store.
func NewManifestStore() *ManifestStore {
	return &ManifestStore{
		manifests: make(map[string]domain.DocumentManifest),
	}
}

// Get retrieves a manifest by document ID.
func (s *ManifestStore) Get(_ context.Context, documentID string) (*domain.DocumentManifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.manifests[documentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	m.Chunks = append([]domain.ChunkFingerprint(nil), m.Chunks...)
	return &m, nil
}

// Save stores or replaces a manifest.
func (s *ManifestStore) Save(_ context.Context, manifest *domain.DocumentManifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := *manifest
	m.Chunks = append([]domain.ChunkFingerprint(nil), manifest.Chunks...)
	s.manifests[m.DocumentID] = m
	return nil
}

// Delete removes a manifest.
func (s *ManifestStore) Delete(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.manifests, documentID)
	return nil
}

// List returns manifests ordered by document ID, optionally for one policy.
func (s *ManifestStore) List(_ context.Context, policyID string) ([]domain.DocumentManifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []domain.DocumentManifest
	for _, m := range s.manifests {
		if policyID == "" || m.PolicyID == policyID {
			result = append(result, m)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].DocumentID < result[j].DocumentID })
	return result, nil
}
