package driven

import (
	"context"

	"github.com/custodia-labs/policyqa/internal/core/domain"
)

// DocumentSource lists and watches raw policy files.
type DocumentSource interface {
	// Root returns the location the source reads from.
	Root() string

	// List streams every matching document.
	// The error channel is closed when listing completes.
	List(ctx context.Context) (<-chan domain.RawDocument, <-chan error)

	// Watch streams changes until the context is cancelled.
	Watch(ctx context.Context) (<-chan domain.RawDocumentChange, error)

	// Close releases resources.
	Close() error
}
