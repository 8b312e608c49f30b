package domain

import (
	"errors"
	"fmt"
)

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedType indicates an unknown document type or provider.
	ErrUnsupportedType = errors.New("unsupported type")

	// ErrIngestionInProgress indicates an ingestion run is already active.
	ErrIngestionInProgress = errors.New("ingestion in progress")

	// Pipeline error kinds.

	// ErrInvalidDocument indicates empty or unreadable input to chunking.
	// Ingestion records it and continues with the remaining documents.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrEmbeddingFailure indicates the embedder failed for a chunk batch.
	// Ingestion records it against the document and continues.
	ErrEmbeddingFailure = errors.New("embedding failure")

	// ErrIndexUnavailable indicates the vector index cannot be reached.
	// Fatal for the current ingestion or query call.
	ErrIndexUnavailable = errors.New("vector index unavailable")

	// ErrSynthesisUnavailable indicates the LLM failed after its retry policy.
	// Surfaced as a query failure and never cached.
	ErrSynthesisUnavailable = errors.New("synthesis unavailable")

	// ErrGroundingViolation indicates the model cited a chunk that was not supplied.
	// The citation is dropped and the violation logged; callers never see it.
	ErrGroundingViolation = errors.New("grounding violation")

	// ErrEmbeddingModelMismatch indicates a query embedder differs from the
	// model the index was built with.
	ErrEmbeddingModelMismatch = errors.New("embedding model mismatch")

	// ErrCacheUnavailable indicates the cache backend cannot be reached.
	ErrCacheUnavailable = errors.New("cache unavailable")

	// Provider errors.

	// ErrLLMUnavailable indicates the LLM service is not configured or unreachable.
	ErrLLMUnavailable = errors.New("LLM service unavailable")

	// ErrEmbeddingUnavailable indicates the embedding service is not configured or unreachable.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrRateLimited indicates the API rate limit was exceeded.
	ErrRateLimited = errors.New("rate limited")
)

// QueryError is the typed failure result of a single query.
// Stage is the state the query was in when it failed.
type QueryError struct {
	Stage QueryState
	Err   error
}

// Error implements error.
func (e *QueryError) Error() string {
	return fmt.Sprintf("query failed during %s: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *QueryError) Unwrap() error {
	return e.Err
}
