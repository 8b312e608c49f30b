package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/custodia-labs/policyqa/internal/core/domain"
	"github.com/custodia-labs/policyqa/internal/core/ports/driven"
	"github.com/custodia-labs/policyqa/internal/core/ports/driving"
)

// Ensure Catalog implements the interface.
var _ driving.CatalogService = (*Catalog)(nil)

// Catalog reports indexed policies and documents from the manifest store.
type Catalog struct {
	manifests driven.ManifestStore
}

// NewCatalog creates a catalog over the manifest store.
func NewCatalog(manifests driven.ManifestStore) *Catalog {
	return &Catalog{manifests: manifests}
}

// Policies groups manifests by policy.
func (c *Catalog) Policies(ctx context.Context) ([]domain.PolicySummary, error) {
	manifests, err := c.manifests.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list manifests: %w", err)
	}

	byPolicy := make(map[string]*domain.PolicySummary)
	for _, m := range manifests {
		s, ok := byPolicy[m.PolicyID]
		if !ok {
			s = &domain.PolicySummary{PolicyID: m.PolicyID}
			byPolicy[m.PolicyID] = s
		}
		s.Documents++
		s.Chunks += len(m.Chunks)
		if m.IndexedAt.After(s.IndexedAt) {
			s.IndexedAt = m.IndexedAt
		}
	}

	summaries := make([]domain.PolicySummary, 0, len(byPolicy))
	for _, s := range byPolicy {
		summaries = append(summaries, *s)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].PolicyID < summaries[j].PolicyID
	})
	return summaries, nil
}

// Documents lists indexed documents, optionally for one policy.
func (c *Catalog) Documents(ctx context.Context, policyID string) ([]domain.IndexedDocument, error) {
	manifests, err := c.manifests.List(ctx, policyID)
	if err != nil {
		return nil, fmt.Errorf("list manifests: %w", err)
	}

	docs := make([]domain.IndexedDocument, 0, len(manifests))
	for _, m := range manifests {
		docs = append(docs, domain.IndexedDocument{
			DocumentID:     m.DocumentID,
			PolicyID:       m.PolicyID,
			URI:            m.URI,
			Chunks:         len(m.Chunks),
			EmbeddingModel: m.EmbeddingModel,
			IndexedAt:      m.IndexedAt,
		})
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].URI < docs[j].URI
	})
	return docs, nil
}
