package driven

import (
	"context"

	"github.com/custodia-labs/policyqa/internal/core/domain"
)

// ManifestStore persists what was last indexed per document.
type ManifestStore interface {
	// Get returns the manifest for a document or domain.ErrNotFound.
	Get(ctx context.Context, documentID string) (*domain.DocumentManifest, error)

	// Save stores or replaces a manifest.
	Save(ctx context.Context, manifest *domain.DocumentManifest) error

	// Delete removes a manifest. Missing manifests are not an error.
	Delete(ctx context.Context, documentID string) error

	// List returns manifests, optionally restricted to one policy.
	// An empty policyID lists every manifest.
	List(ctx context.Context, policyID string) ([]domain.DocumentManifest, error)
}
