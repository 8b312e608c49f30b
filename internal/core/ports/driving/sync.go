package driving

import (
	"context"

	"github.com/custodia-labs/policyqa/internal/core/domain"
)

// SyncOptions controls a full sync run.
type SyncOptions struct {
	// Prune removes indexed documents that are no longer in the source.
	Prune bool
}

// WatchEvent reports the outcome of one applied change.
type WatchEvent struct {
	Change domain.ChangeType
	URI    string
	Report *domain.IngestionReport
	Err    error
}

// SyncService keeps the index in step with the document source.
type SyncService interface {
	// Sync loads every document from the source and ingests it.
	Sync(ctx context.Context, opts SyncOptions) (*domain.IngestionReport, error)

	// EnsureIndexed syncs only when the collection does not exist yet.
	EnsureIndexed(ctx context.Context) (*domain.IngestionReport, error)

	// Watch applies source changes until the context is cancelled.
	// onEvent may be nil.
	Watch(ctx context.Context, onEvent func(WatchEvent)) error
}
