package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/custodia-labs/policyqa/internal/core/domain"
	"github.com/custodia-labs/policyqa/internal/core/ports/driving"
	"github.com/custodia-labs/policyqa/internal/logger"
	"github.com/custodia-labs/policyqa/internal/telemetry"
)

// Ensure QueryOrchestrator implements the interface.
var _ driving.QueryService = (*QueryOrchestrator)(nil)

// strictTransitions makes illegal state transitions panic. Tests enable it.
var strictTransitions = false

// QueryOrchestrator answers questions through cache, retrieval and synthesis.
// Concurrent identical questions share one retrieval and synthesis.
type QueryOrchestrator struct {
	cache       *AnswerCache
	retriever   *Retriever
	synthesizer *Synthesizer
	costs       *CostTracker
	metrics     *telemetry.Metrics
	topK        int
	now         func() time.Time

	// onTransition observes every state change.
	onTransition func(from, to domain.QueryState)

	flights singleflight.Group
}

// OrchestratorOption configures a QueryOrchestrator.
type OrchestratorOption func(*QueryOrchestrator)

// WithTopK sets the number of chunks retrieved per question.
func WithTopK(k int) OrchestratorOption {
	return func(o *QueryOrchestrator) {
		if k > 0 {
			o.topK = k
		}
	}
}

// WithOrchestratorMetrics records query outcomes and latency.
func WithOrchestratorMetrics(m *telemetry.Metrics) OrchestratorOption {
	return func(o *QueryOrchestrator) {
		o.metrics = m
	}
}

// WithTransitionObserver is called on every state change.
func WithTransitionObserver(fn func(from, to domain.QueryState)) OrchestratorOption {
	return func(o *QueryOrchestrator) {
		o.onTransition = fn
	}
}

// WithOrchestratorClock sets the clock for timestamps and latency.
func WithOrchestratorClock(now func() time.Time) OrchestratorOption {
	return func(o *QueryOrchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// NewQueryOrchestrator creates a query orchestrator.
func NewQueryOrchestrator(
	cache *AnswerCache,
	retriever *Retriever,
	synthesizer *Synthesizer,
	costs *CostTracker,
	opts ...OrchestratorOption,
) *QueryOrchestrator {
	o := &QueryOrchestrator{
		cache:       cache,
		retriever:   retriever,
		synthesizer: synthesizer,
		costs:       costs,
		topK:        domain.DefaultAppSettings().Retrieval.TopK,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Ask answers a question. Failures are returned as *domain.QueryError.
// A caller whose context ends stops waiting; the shared work continues
// for other callers asking the same question.
func (o *QueryOrchestrator) Ask(ctx context.Context, req driving.AskRequest) (*domain.AnswerResult, error) {
	query := domain.Query{
		Question:   strings.TrimSpace(req.Question),
		PolicyID:   strings.TrimSpace(req.PolicyID),
		ReceivedAt: o.now(),
	}

	ctx, span := telemetry.Tracer().Start(ctx, "query.ask")
	defer span.End()
	if query.PolicyID != "" {
		span.SetAttributes(attribute.String("query.policy_id", query.PolicyID))
	}

	run := o.newRun(domain.QueryReceived)
	logger.Section("Query")
	logger.Debug("Question: %q (policy %q)", query.Question, query.PolicyID)

	if query.Question == "" {
		return nil, o.finishFailed(ctx, run, query, fmt.Errorf("%w: question is empty", domain.ErrInvalidInput))
	}

	// 1. CACHE CHECK
	run.advance(domain.QueryCacheCheck)
	key := o.cache.Key(query.Question, query.PolicyID)
	span.SetAttributes(attribute.String("query.cache_key", key.Hash))

	entry, hit, err := o.cache.Get(ctx, key)
	if err != nil {
		logger.Warn("Cache check failed, treating as miss: %v", err)
	}
	if hit {
		run.advance(domain.QueryCacheHit)
		o.costs.RecordCacheHit(entry.Usage)
		result := resultFromEntry(entry)
		result.Cached = true
		run.advance(domain.QueryDone)
		return o.finish(ctx, query, result, telemetry.OutcomeCached), nil
	}
	run.advance(domain.QueryCacheMiss)

	// 2. RETRIEVE, SYNTHESIZE, CACHE WRITE (shared per key)
	ch := o.flights.DoChan(key.Raw, func() (any, error) {
		flightCtx := context.WithoutCancel(ctx)
		// A flight for this key may have finished between the check above
		// and joining the group.
		if entry, ok := o.cache.Recheck(flightCtx, key); ok {
			return &flightResult{result: resultFromEntry(entry), usage: entry.Usage, cached: true}, nil
		}
		result, err := o.answer(flightCtx, query, key)
		if err != nil {
			return nil, err
		}
		return &flightResult{result: result}, nil
	})

	select {
	case <-ctx.Done():
		logger.Debug("Caller gave up waiting: %v", ctx.Err())
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			logger.Debug("Answer shared with concurrent identical question")
		}
		if res.Err != nil {
			o.metrics.RecordQuery(ctx, telemetry.OutcomeFailed, o.now().Sub(query.ReceivedAt))
			span.RecordError(res.Err)
			return nil, res.Err
		}
		flight := res.Val.(*flightResult)
		result := *flight.result
		if flight.cached {
			o.costs.RecordCacheHit(flight.usage)
			result.Cached = true
			return o.finish(ctx, query, &result, telemetry.OutcomeCached), nil
		}
		o.costs.RecordRequest()
		outcome := telemetry.OutcomeAnswered
		if result.Abstained {
			outcome = telemetry.OutcomeAbstained
		}
		return o.finish(ctx, query, &result, outcome), nil
	}
}

// flightResult is what one shared flight hands to every waiting caller.
type flightResult struct {
	result *domain.AnswerResult
	usage  domain.TokenUsage
	cached bool
}

// answer runs the miss path for one flight. Its context is detached from
// the first caller and each stage carries its own timeout.
func (o *QueryOrchestrator) answer(ctx context.Context, query domain.Query, key domain.CacheKey) (*domain.AnswerResult, error) {
	run := o.newRun(domain.QueryCacheMiss)

	run.advance(domain.QueryRetrieve)
	var filter *domain.SearchFilter
	if query.PolicyID != "" {
		filter = &domain.SearchFilter{PolicyID: query.PolicyID}
	}
	chunks, err := o.retriever.Retrieve(ctx, query.Question, o.topK, filter)
	if err != nil {
		return nil, run.fail(err)
	}

	run.advance(domain.QuerySynthesize)
	syn, err := o.synthesizer.Synthesize(ctx, query.Question, chunks)
	if err != nil {
		return nil, run.fail(err)
	}
	if syn.Parsed != nil {
		o.costs.RecordAPICall(syn.Usage)
	}

	result := &domain.AnswerResult{
		Answer:     syn.Answer,
		Confidence: syn.Confidence,
		Citations:  syn.Citations,
		Sources:    sourcesFrom(syn.Context),
		Abstained:  syn.Abstained,
		Timestamp:  o.now(),
	}
	if result.Citations == nil {
		result.Citations = []domain.Citation{}
	}

	run.advance(domain.QueryCacheWrite)
	entry := &domain.CacheEntry{
		Question:    query.Question,
		Answer:      result.Answer,
		Confidence:  result.Confidence,
		Citations:   result.Citations,
		Sources:     result.Sources,
		Abstained:   result.Abstained,
		Usage:       syn.Usage,
		GeneratedAt: result.Timestamp,
	}
	if err := o.cache.Put(ctx, key, entry, o.cache.TTL()); err != nil {
		logger.Warn("Cache write failed: %v", err)
	}

	run.advance(domain.QueryDone)
	return result, nil
}

// Stats returns cache and cost statistics.
func (o *QueryOrchestrator) Stats(ctx context.Context) (*domain.QueryStats, error) {
	cacheStats, err := o.cache.Stats(ctx)
	if err != nil {
		logger.Warn("Cache stats unavailable: %v", err)
	}
	return &domain.QueryStats{
		Cache: cacheStats,
		Cost:  o.costs.Stats(),
	}, nil
}

func (o *QueryOrchestrator) finish(
	ctx context.Context,
	query domain.Query,
	result *domain.AnswerResult,
	outcome string,
) *domain.AnswerResult {
	result.Latency = o.now().Sub(query.ReceivedAt)
	o.metrics.RecordQuery(ctx, outcome, result.Latency)
	logger.Debug("Answered in %dms (%s, confidence %.2f)", result.ResponseTimeMS(), outcome, result.Confidence)
	return result
}

func (o *QueryOrchestrator) finishFailed(ctx context.Context, run *queryRun, query domain.Query, err error) error {
	o.metrics.RecordQuery(ctx, telemetry.OutcomeFailed, o.now().Sub(query.ReceivedAt))
	return run.fail(err)
}

func resultFromEntry(e *domain.CacheEntry) *domain.AnswerResult {
	return &domain.AnswerResult{
		Answer:     e.Answer,
		Confidence: e.Confidence,
		Citations:  e.Citations,
		Sources:    e.Sources,
		Abstained:  e.Abstained,
		Timestamp:  e.GeneratedAt,
	}
}

func sourcesFrom(chunks []domain.RetrievedChunk) []domain.Source {
	sources := make([]domain.Source, 0, len(chunks))
	for _, c := range chunks {
		doc := c.Title
		if doc == "" {
			doc = c.URI
		}
		if doc == "" {
			doc = c.Chunk.DocumentID
		}
		sources = append(sources, domain.Source{
			Document:   doc,
			ChunkID:    c.Chunk.ID,
			PolicyID:   c.Chunk.PolicyID,
			Similarity: c.Score,
			Text:       preview(c.Chunk.Content, domain.SourcePreviewLength),
		})
	}
	return sources
}

// preview truncates text to at most n runes.
func preview(text string, n int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}

// queryRun tracks one pass through the query state machine.
type queryRun struct {
	mu      sync.Mutex
	state   domain.QueryState
	observe func(from, to domain.QueryState)
}

func (o *QueryOrchestrator) newRun(start domain.QueryState) *queryRun {
	return &queryRun{state: start, observe: o.onTransition}
}

// advance moves to next. An illegal move is a programming error: it panics
// under strictTransitions and is otherwise logged and forced to FAILED.
func (r *queryRun) advance(next domain.QueryState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	from := r.state
	if !from.CanTransition(next) {
		if strictTransitions {
			panic(fmt.Sprintf("illegal query transition %s -> %s", from, next))
		}
		logger.Error("Illegal query transition %s -> %s", from, next)
		next = domain.QueryFailed
	}
	r.state = next
	if r.observe != nil {
		r.observe(from, next)
	}
}

// fail moves to FAILED and returns the typed error for the stage that failed.
func (r *queryRun) fail(err error) error {
	r.mu.Lock()
	stage := r.state
	r.mu.Unlock()

	r.advance(domain.QueryFailed)
	logger.Warn("Query failed during %s: %v", stage, err)
	return &domain.QueryError{Stage: stage, Err: err}
}
