package resilient

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/custodia-labs/policyqa/internal/core/domain"
	"github.com/custodia-labs/policyqa/internal/core/ports/driven"
	"github.com/custodia-labs/policyqa/internal/telemetry"
)

// Ensure LLM implements the interface.
var _ driven.LLMService = (*LLM)(nil)

// LLM applies a Policy to every Generate call of the wrapped service.
type LLM struct {
	inner  driven.LLMService
	policy *Policy
}

// NewLLM wraps an LLM service. metrics may be nil.
func NewLLM(inner driven.LLMService, cfg Config, metrics *telemetry.Metrics) *LLM {
	if cfg.Name == "" {
		cfg.Name = "llm"
	}
	return &LLM{
		inner:  inner,
		policy: NewPolicy(cfg, domain.ErrLLMUnavailable, metrics),
	}
}

// Generate calls the wrapped service under the policy.
func (l *LLM) Generate(ctx context.Context, prompt string, opts driven.GenerateOptions) (*driven.Generation, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "llm.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", l.policy.Name()),
		attribute.String("llm.model", l.inner.ModelName()),
		attribute.Int("llm.max_tokens", opts.MaxTokens),
	)

	var gen *driven.Generation
	attempts, err := l.policy.Do(ctx, func(ctx context.Context) error {
		var callErr error
		gen, callErr = l.inner.Generate(ctx, prompt, opts)
		return callErr
	})
	span.SetAttributes(attribute.Int("llm.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("llm.input_tokens", gen.InputTokens),
		attribute.Int("llm.output_tokens", gen.OutputTokens),
	)
	return gen, nil
}

// ModelName returns the wrapped model name.
func (l *LLM) ModelName() string {
	return l.inner.ModelName()
}

// Ping checks the wrapped service directly, bypassing the policy.
func (l *LLM) Ping(ctx context.Context) error {
	return l.inner.Ping(ctx)
}

// Close closes the wrapped service.
func (l *LLM) Close() error {
	return l.inner.Close()
}

// Unwrap returns the wrapped service.
func (l *LLM) Unwrap() driven.LLMService {
	return l.inner
}
