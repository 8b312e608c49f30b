package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/policyqa/internal/core/domain"
	"github.com/custodia-labs/policyqa/internal/core/ports/driven"
	"github.com/custodia-labs/policyqa/internal/core/ports/driving"
)

func TestQueryOrchestrator_AnswersFromPolicyAndCaches(t *testing.T) {
	s := newTestStack(t, "Your collision deductible is $500 per claim.")
	s.ingest(t, autoPolicyDoc(), homePolicyDoc())
	ctx := context.Background()

	first, err := s.query.Ask(ctx, driving.AskRequest{Question: "What is my collision deductible?"})
	require.NoError(t, err)

	assert.Contains(t, first.Answer, "$500")
	assert.False(t, first.Cached)
	assert.False(t, first.Abstained)
	assert.GreaterOrEqual(t, first.Confidence, 0.8)
	require.NotEmpty(t, first.Citations)
	assert.Equal(t, "auto-policy", first.Citations[0].DocumentID)
	require.NotEmpty(t, first.Sources)
	assert.Equal(t, "Auto Insurance Policy", first.Sources[0].Document)
	assert.LessOrEqual(t, len([]rune(first.Sources[0].Text)), domain.SourcePreviewLength)

	second, err := s.query.Ask(ctx, driving.AskRequest{Question: "  what is my COLLISION deductible?  "})
	require.NoError(t, err)

	assert.True(t, second.Cached)
	assert.Equal(t, first.Answer, second.Answer)
	assert.Equal(t, first.Citations, second.Citations)
	assert.Equal(t, int32(1), s.llm.calls.Load())

	stats, err := s.query.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Cost.TotalRequests)
	assert.Equal(t, 1, stats.Cost.CachedRequests)
	assert.Equal(t, 1, stats.Cost.APICalls)
	assert.Equal(t, int64(1), stats.Cache.Hits)
	assert.Equal(t, int64(1), stats.Cache.Misses)
	assert.Equal(t, 1, stats.Cache.Items)
}

func TestQueryOrchestrator_PromptOnlyCarriesRelevantChunks(t *testing.T) {
	s := newTestStack(t, "Your collision deductible is $500.")
	s.ingest(t, autoPolicyDoc(), homePolicyDoc())

	_, err := s.query.Ask(context.Background(), driving.AskRequest{Question: "collision deductible"})
	require.NoError(t, err)

	prompt := s.llm.prompt()
	assert.Contains(t, prompt, "$500")
	assert.NotContains(t, prompt, "Flood and surface water")
}

func TestQueryOrchestrator_EmptyQuestion(t *testing.T) {
	s := newTestStack(t, "unused")

	_, err := s.query.Ask(context.Background(), driving.AskRequest{Question: "   "})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	var qerr *domain.QueryError
	require.True(t, errors.As(err, &qerr))
	assert.Equal(t, domain.QueryReceived, qerr.Stage)
	assert.Equal(t, int32(0), s.llm.calls.Load())
}

func TestQueryOrchestrator_AbstainsWithoutCallingModel(t *testing.T) {
	s := newTestStack(t, "unused")
	s.ingest(t, autoPolicyDoc())

	result, err := s.query.Ask(context.Background(), driving.AskRequest{Question: "Is earthquake damage covered?"})
	require.NoError(t, err)

	assert.True(t, result.Abstained)
	assert.Equal(t, AbstentionAnswer, result.Answer)
	assert.Zero(t, result.Confidence)
	assert.NotNil(t, result.Citations)
	assert.Empty(t, result.Citations)
	assert.Equal(t, int32(0), s.llm.calls.Load())

	again, err := s.query.Ask(context.Background(), driving.AskRequest{Question: "Is earthquake damage covered?"})
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.True(t, again.Abstained)
}

func TestQueryOrchestrator_PolicyFilterScopesRetrieval(t *testing.T) {
	s := newTestStack(t, "Flood damage is excluded.")
	s.ingest(t, autoPolicyDoc(), homePolicyDoc())

	// The auto policy says nothing about floods.
	result, err := s.query.Ask(context.Background(), driving.AskRequest{
		Question: "Is flood water damage covered?",
		PolicyID: autoPolicy,
	})
	require.NoError(t, err)
	assert.True(t, result.Abstained)

	result, err = s.query.Ask(context.Background(), driving.AskRequest{
		Question: "Is flood water damage covered?",
		PolicyID: homePolicy,
	})
	require.NoError(t, err)
	assert.False(t, result.Abstained)
	require.NotEmpty(t, result.Citations)
	assert.Equal(t, "home-policy", result.Citations[0].DocumentID)
	for _, src := range result.Sources {
		assert.Equal(t, homePolicy, src.PolicyID)
	}
}

func TestQueryOrchestrator_SynthesisFailureIsNotCached(t *testing.T) {
	s := newTestStack(t, "Your collision deductible is $500.")
	s.ingest(t, autoPolicyDoc())
	s.llm.err = errors.New("overloaded")

	_, err := s.query.Ask(context.Background(), driving.AskRequest{Question: "collision deductible?"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSynthesisUnavailable)

	var qerr *domain.QueryError
	require.True(t, errors.As(err, &qerr))
	assert.Equal(t, domain.QuerySynthesize, qerr.Stage)

	s.llm.err = nil
	result, err := s.query.Ask(context.Background(), driving.AskRequest{Question: "collision deductible?"})
	require.NoError(t, err)
	assert.False(t, result.Cached)
	assert.Equal(t, 0, s.costs.Stats().CachedRequests)
}

func TestQueryOrchestrator_RetrievalFailureStage(t *testing.T) {
	s := newTestStack(t, "unused")
	s.ingest(t, autoPolicyDoc())
	require.NoError(t, s.index.Close())

	_, err := s.query.Ask(context.Background(), driving.AskRequest{Question: "collision deductible?"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)

	var qerr *domain.QueryError
	require.True(t, errors.As(err, &qerr))
	assert.Equal(t, domain.QueryRetrieve, qerr.Stage)
}

func TestQueryOrchestrator_CacheFailureDegradesToMiss(t *testing.T) {
	s := newTestStack(t, "Your collision deductible is $500.")
	s.ingest(t, autoPolicyDoc())
	s.query.cache = NewAnswerCache(failingCacheBackend{}, domain.CacheSettings{KeyPrefix: "test:"})

	for i := 0; i < 2; i++ {
		result, err := s.query.Ask(context.Background(), driving.AskRequest{Question: "collision deductible?"})
		require.NoError(t, err)
		assert.False(t, result.Cached)
	}
	assert.Equal(t, int32(2), s.llm.calls.Load())
}

func TestQueryOrchestrator_TransitionsFollowStateMachine(t *testing.T) {
	var mu sync.Mutex
	var seen []domain.QueryState
	observe := func(_, to domain.QueryState) {
		mu.Lock()
		seen = append(seen, to)
		mu.Unlock()
	}

	s := newTestStack(t, "Your collision deductible is $500.", WithTransitionObserver(observe))
	s.ingest(t, autoPolicyDoc())

	_, err := s.query.Ask(context.Background(), driving.AskRequest{Question: "collision deductible?"})
	require.NoError(t, err)

	mu.Lock()
	miss := append([]domain.QueryState(nil), seen...)
	seen = nil
	mu.Unlock()

	assert.Equal(t, []domain.QueryState{
		domain.QueryCacheCheck,
		domain.QueryCacheMiss,
		domain.QueryRetrieve,
		domain.QuerySynthesize,
		domain.QueryCacheWrite,
		domain.QueryDone,
	}, miss)

	_, err = s.query.Ask(context.Background(), driving.AskRequest{Question: "collision deductible?"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []domain.QueryState{
		domain.QueryCacheCheck,
		domain.QueryCacheHit,
		domain.QueryDone,
	}, seen)
}

func TestQueryOrchestrator_ConcurrentIdenticalQuestionsShareOneCall(t *testing.T) {
	s := newTestStack(t, "Your collision deductible is $500.")
	s.ingest(t, autoPolicyDoc())
	s.llm.gate = make(chan struct{})

	const callers = 8
	results := make([]*domain.AnswerResult, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.query.Ask(context.Background(), driving.AskRequest{Question: "collision deductible?"})
		}(i)
	}

	// Hold the model until the first call is in flight so the rest join it.
	require.Eventually(t, func() bool { return s.llm.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(s.llm.gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Contains(t, results[i].Answer, "$500")
	}
	assert.Equal(t, int32(1), s.llm.calls.Load())

	stats := s.costs.Stats()
	assert.Equal(t, 1, stats.APICalls)
	assert.Equal(t, callers, stats.TotalRequests)
}

// staleOnceBackend reports a miss for the next Get after stale is set, as a
// read that landed just before a concurrent write would.
type staleOnceBackend struct {
	driven.CacheBackend
	stale atomic.Bool
}

func (b *staleOnceBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if b.stale.CompareAndSwap(true, false) {
		return nil, false, nil
	}
	return b.CacheBackend.Get(ctx, key)
}

func TestQueryOrchestrator_FlightRechecksCacheAfterLateMiss(t *testing.T) {
	s := newTestStack(t, "Your collision deductible is $500.")
	s.ingest(t, autoPolicyDoc())
	backend := &staleOnceBackend{CacheBackend: s.backend}
	s.cache.backend = backend
	ctx := context.Background()

	first, err := s.query.Ask(ctx, driving.AskRequest{Question: "collision deductible?"})
	require.NoError(t, err)
	require.False(t, first.Cached)

	backend.stale.Store(true)
	second, err := s.query.Ask(ctx, driving.AskRequest{Question: "collision deductible?"})
	require.NoError(t, err)

	assert.True(t, second.Cached)
	assert.Equal(t, first.Answer, second.Answer)
	assert.Equal(t, int32(1), s.llm.calls.Load())

	stats := s.costs.Stats()
	assert.Equal(t, 1, stats.APICalls)
	assert.Equal(t, 2, stats.TotalRequests)
	assert.Equal(t, 1, stats.CachedRequests)
}

func TestQueryOrchestrator_CallerCancellationLeavesFlightRunning(t *testing.T) {
	s := newTestStack(t, "Your collision deductible is $500.")
	s.ingest(t, autoPolicyDoc())
	s.llm.gate = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.query.Ask(ctx, driving.AskRequest{Question: "collision deductible?"})
		done <- err
	}()

	require.Eventually(t, func() bool { return s.llm.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(s.llm.gate)

	// The detached flight still writes the cache.
	require.Eventually(t, func() bool {
		stats, err := s.cache.Stats(context.Background())
		return err == nil && stats.Items == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestQueryOrchestrator_CacheExpiresAfterTTL(t *testing.T) {
	s := newTestStack(t, "Your collision deductible is $500.")
	s.ingest(t, autoPolicyDoc())
	s.cache.ttl = time.Second
	ctx := context.Background()

	_, err := s.query.Ask(ctx, driving.AskRequest{Question: "collision deductible?"})
	require.NoError(t, err)

	s.clock.Advance(2 * time.Second)

	result, err := s.query.Ask(ctx, driving.AskRequest{Question: "collision deductible?"})
	require.NoError(t, err)
	assert.False(t, result.Cached)
	assert.Equal(t, int32(2), s.llm.calls.Load())
}

func TestQueryOrchestrator_ReingestInvalidatesPolicyAnswers(t *testing.T) {
	s := newTestStack(t, "Your collision deductible is $500.")
	s.ingest(t, autoPolicyDoc(), homePolicyDoc())
	ctx := context.Background()

	ask := func(q, policy string) *domain.AnswerResult {
		r, err := s.query.Ask(ctx, driving.AskRequest{Question: q, PolicyID: policy})
		require.NoError(t, err)
		return r
	}

	ask("collision deductible?", autoPolicy)
	ask("roof dwelling coverage?", homePolicy)
	ask("collision deductible?", "")

	updated := autoPolicyDoc()
	updated.Content = updated.Content + "\n\nRental reimbursement is $30 per day."
	report := s.ingest(t, updated)
	assert.Equal(t, []string{autoPolicy}, report.InvalidatedPolicies)

	assert.False(t, ask("collision deductible?", autoPolicy).Cached)
	assert.True(t, ask("roof dwelling coverage?", homePolicy).Cached)
	assert.False(t, ask("collision deductible?", "").Cached)
}

func TestQueryOrchestrator_ResultsAreIndependentCopies(t *testing.T) {
	s := newTestStack(t, "Your collision deductible is $500.")
	s.ingest(t, autoPolicyDoc())
	s.llm.gate = make(chan struct{})

	var wg sync.WaitGroup
	results := make([]*domain.AnswerResult, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = s.query.Ask(context.Background(), driving.AskRequest{Question: "collision deductible?"})
		}(i)
	}
	require.Eventually(t, func() bool { return s.llm.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(s.llm.gate)
	wg.Wait()

	require.NotNil(t, results[0])
	require.NotNil(t, results[1])
	assert.NotSame(t, results[0], results[1])
}
