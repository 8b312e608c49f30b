package driving

import (
	"context"

	"github.com/custodia-labs/policyqa/internal/core/domain"
)

// AskRequest is a single question from the request boundary.
type AskRequest struct {
	// Question is the natural-language question.
	Question string

	// PolicyID optionally restricts the answer to one policy.
	PolicyID string
}

// QueryService answers questions against the indexed policies.
type QueryService interface {
	// Ask returns a grounded answer. Failures are *domain.QueryError.
	Ask(ctx context.Context, req AskRequest) (*domain.AnswerResult, error)

	// Stats returns cache and cost statistics.
	Stats(ctx context.Context) (*domain.QueryStats, error)
}

// CacheService administers the answer cache.
type CacheService interface {
	// InvalidatePolicy drops answers scoped to the policy and unscoped answers.
	InvalidatePolicy(ctx context.Context, policyID string) (int, error)

	// Clear drops every cached answer.
	Clear(ctx context.Context) (int, error)

	// Stats returns hit and miss counters and the number of live entries.
	Stats(ctx context.Context) (domain.CacheStats, error)
}
