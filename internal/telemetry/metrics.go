package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Query outcomes recorded on the queries counter.
const (
	OutcomeAnswered  = "answered"
	OutcomeAbstained = "abstained"
	OutcomeCached    = "cached"
	OutcomeFailed    = "failed"
)

// Metrics holds the application instruments.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Queries             metric.Int64Counter
	QueryDuration       metric.Float64Histogram
	CacheHits           metric.Int64Counter
	CacheMisses         metric.Int64Counter
	SynthesisCalls      metric.Int64Counter
	GroundingViolations metric.Int64Counter
	TokensUsed          metric.Int64Counter
	DocumentsIngested   metric.Int64Counter
	BreakerStateChanges metric.Int64Counter
}

// NewMetrics creates the instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(InstrumentationName)
	m := &Metrics{}
	var err error

	if m.Queries, err = meter.Int64Counter("policyqa.queries.total",
		metric.WithDescription("Questions answered, by outcome")); err != nil {
		return nil, err
	}
	if m.QueryDuration, err = meter.Float64Histogram("policyqa.query.duration",
		metric.WithDescription("End-to-end query latency"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.CacheHits, err = meter.Int64Counter("policyqa.cache.hits",
		metric.WithDescription("Answer cache hits")); err != nil {
		return nil, err
	}
	if m.CacheMisses, err = meter.Int64Counter("policyqa.cache.misses",
		metric.WithDescription("Answer cache misses")); err != nil {
		return nil, err
	}
	if m.SynthesisCalls, err = meter.Int64Counter("policyqa.synthesis.calls",
		metric.WithDescription("LLM synthesis calls")); err != nil {
		return nil, err
	}
	if m.GroundingViolations, err = meter.Int64Counter("policyqa.grounding.violations",
		metric.WithDescription("Citations dropped because the chunk was not supplied")); err != nil {
		return nil, err
	}
	if m.TokensUsed, err = meter.Int64Counter("policyqa.llm.tokens",
		metric.WithDescription("LLM tokens used")); err != nil {
		return nil, err
	}
	if m.DocumentsIngested, err = meter.Int64Counter("policyqa.ingest.documents",
		metric.WithDescription("Documents processed by ingestion, by result")); err != nil {
		return nil, err
	}
	if m.BreakerStateChanges, err = meter.Int64Counter("policyqa.circuit_breaker.state_changes",
		metric.WithDescription("Circuit breaker state changes")); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordQuery records one finished query.
func (m *Metrics) RecordQuery(ctx context.Context, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.Queries.Add(ctx, 1, attrs)
	m.QueryDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordCache records a cache lookup result.
func (m *Metrics) RecordCache(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.Add(ctx, 1)
		return
	}
	m.CacheMisses.Add(ctx, 1)
}

// RecordSynthesis records one LLM call and its token usage.
func (m *Metrics) RecordSynthesis(ctx context.Context, model string, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.SynthesisCalls.Add(ctx, 1, metric.WithAttributes(attribute.String("llm.model", model)))
	m.TokensUsed.Add(ctx, int64(inputTokens), metric.WithAttributes(
		attribute.String("llm.model", model), attribute.String("direction", "input")))
	m.TokensUsed.Add(ctx, int64(outputTokens), metric.WithAttributes(
		attribute.String("llm.model", model), attribute.String("direction", "output")))
}

// RecordGroundingViolations records dropped citations.
func (m *Metrics) RecordGroundingViolations(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.GroundingViolations.Add(ctx, int64(n))
}

// RecordIngested records one ingested document by result (added, updated, skipped, failed).
func (m *Metrics) RecordIngested(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.DocumentsIngested.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordBreakerState records a circuit breaker transition.
func (m *Metrics) RecordBreakerState(service, state string) {
	if m == nil {
		return
	}
	m.BreakerStateChanges.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("state", state),
	))
}
