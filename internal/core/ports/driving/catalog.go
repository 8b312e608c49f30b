package driving

import (
	"context"

	"github.com/custodia-labs/policyqa/internal/core/domain"
)

// CatalogService lists what has been indexed.
type CatalogService interface {
	// Policies returns one summary per indexed policy, ordered by policy id.
	Policies(ctx context.Context) ([]domain.PolicySummary, error)

	// Documents returns the indexed documents of a policy, ordered by URI.
	// An empty policyID lists every document.
	Documents(ctx context.Context, policyID string) ([]domain.IndexedDocument, error)
}
