package resilient

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/custodia-labs/policyqa/internal/core/domain"
	"github.com/custodia-labs/policyqa/internal/core/ports/driven"
	"github.com/custodia-labs/policyqa/internal/telemetry"
)

// Ensure Embedder implements the interface.
var _ driven.EmbeddingService = (*Embedder)(nil)

// Embedder applies a Policy to every embedding call of the wrapped service.
type Embedder struct {
	inner  driven.EmbeddingService
	policy *Policy
}

// NewEmbedder wraps an embedding service. metrics may be nil.
func NewEmbedder(inner driven.EmbeddingService, cfg Config, metrics *telemetry.Metrics) *Embedder {
	if cfg.Name == "" {
		cfg.Name = "embedding"
	}
	return &Embedder{
		inner:  inner,
		policy: NewPolicy(cfg, domain.ErrEmbeddingUnavailable, metrics),
	}
}

// Embed calls the wrapped service under the policy.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "embedding.embed")
	defer span.End()
	span.SetAttributes(
		attribute.String("embedding.provider", e.policy.Name()),
		attribute.String("embedding.model", e.inner.ModelName()),
	)

	var vector []float32
	attempts, err := e.policy.Do(ctx, func(ctx context.Context) error {
		var callErr error
		vector, callErr = e.inner.Embed(ctx, text)
		return callErr
	})
	span.SetAttributes(attribute.Int("embedding.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return vector, nil
}

// EmbedBatch calls the wrapped service under the policy. A retry resends
// the whole batch.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, span := telemetry.Tracer().Start(ctx, "embedding.embed_batch")
	defer span.End()
	span.SetAttributes(
		attribute.String("embedding.provider", e.policy.Name()),
		attribute.String("embedding.model", e.inner.ModelName()),
		attribute.Int("embedding.batch_size", len(texts)),
	)

	var vectors [][]float32
	attempts, err := e.policy.Do(ctx, func(ctx context.Context) error {
		var callErr error
		vectors, callErr = e.inner.EmbedBatch(ctx, texts)
		return callErr
	})
	span.SetAttributes(attribute.Int("embedding.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return vectors, nil
}

// Dimensions returns the wrapped vector size.
func (e *Embedder) Dimensions() int {
	return e.inner.Dimensions()
}

// ModelName returns the wrapped model name.
func (e *Embedder) ModelName() string {
	return e.inner.ModelName()
}

// Ping checks the wrapped service directly, bypassing the policy.
func (e *Embedder) Ping(ctx context.Context) error {
	return e.inner.Ping(ctx)
}

// Close closes the wrapped service.
func (e *Embedder) Close() error {
	return e.inner.Close()
}

// Unwrap returns the wrapped service.
func (e *Embedder) Unwrap() driven.EmbeddingService {
	return e.inner
}
