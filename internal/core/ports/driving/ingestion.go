package driving

import (
	"context"

	"github.com/custodia-labs/policyqa/internal/core/domain"
)

// DocumentLoader produces the documents for a startup ingestion.
type DocumentLoader func(ctx context.Context) ([]domain.Document, error)

// IngestionService turns documents into a queryable vector index.
type IngestionService interface {
	// Ingest chunks, embeds and upserts documents idempotently.
	// Per-document failures are reported; only an unreachable index is fatal.
	Ingest(ctx context.Context, docs []domain.Document) (*domain.IngestionReport, error)

	// Remove deletes documents and their chunk records from the index.
	Remove(ctx context.Context, documentIDs []string) (*domain.IngestionReport, error)

	// EnsureIndexed ingests from load only when the collection does not exist yet.
	// The returned report is nil when ingestion was not needed.
	EnsureIndexed(ctx context.Context, load DocumentLoader) (*domain.IngestionReport, error)

	// Status returns progress of the current ingestion run.
	Status() domain.IngestionStatus
}
