package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrors_Uniqueness(t *testing.T) {
	all := []error{
		ErrNotFound,
		ErrInvalidInput,
		ErrUnsupportedType,
		ErrIngestionInProgress,
		ErrInvalidDocument,
		ErrEmbeddingFailure,
		ErrIndexUnavailable,
		ErrSynthesisUnavailable,
		ErrGroundingViolation,
		ErrEmbeddingModelMismatch,
		ErrCacheUnavailable,
		ErrLLMUnavailable,
		ErrEmbeddingUnavailable,
		ErrRateLimited,
	}

	for i, a := range all {
		for j, b := range all {
			if i != j {
				assert.False(t, errors.Is(a, b), "%v should not match %v", a, b)
			}
		}
	}
}

func TestErrors_WithWrapping(t *testing.T) {
	wrapped := fmt.Errorf("qdrant search: %w", ErrIndexUnavailable)

	assert.ErrorIs(t, wrapped, ErrIndexUnavailable)
	assert.Equal(t, "qdrant search: vector index unavailable", wrapped.Error())

	qerr := &QueryError{Stage: QueryRetrieve, Err: wrapped}
	var target *QueryError
	assert.True(t, errors.As(fmt.Errorf("ask: %w", qerr), &target))
	assert.Equal(t, QueryRetrieve, target.Stage)
	assert.ErrorIs(t, qerr, ErrIndexUnavailable)
}
