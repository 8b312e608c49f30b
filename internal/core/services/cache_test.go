package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachemem "github.com/custodia-labs/policyqa/internal/adapters/driven/cache/memory"
	"github.com/custodia-labs/policyqa/internal/core/domain"
)

func newTestAnswerCache(ttl time.Duration) (*AnswerCache, *cachemem.Cache, *fakeClock) {
	clock := newFakeClock()
	backend := cachemem.New(cachemem.WithClock(clock.Now))
	cache := NewAnswerCache(backend, domain.CacheSettings{TTL: ttl, KeyPrefix: "t:"}, WithCacheClock(clock.Now))
	return cache, backend, clock
}

func putAnswer(t *testing.T, c *AnswerCache, question, policyID string) domain.CacheKey {
	t.Helper()
	key := c.Key(question, policyID)
	require.NoError(t, c.Put(context.Background(), key, &domain.CacheEntry{
		Question: question,
		Answer:   "answer to " + question,
		Usage:    domain.TokenUsage{InputTokens: 10, OutputTokens: 2},
	}, 0))
	return key
}

func TestAnswerCache_PutGet(t *testing.T) {
	c, _, clock := newTestAnswerCache(time.Minute)
	ctx := context.Background()

	key := putAnswer(t, c, "What is covered?", "POL-1")

	entry, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "answer to What is covered?", entry.Answer)
	assert.Equal(t, key.Raw, entry.Key)
	assert.Equal(t, "POL-1", entry.PolicyID)
	assert.Equal(t, time.Minute, entry.TTL)
	assert.True(t, clock.Now().Equal(entry.GeneratedAt))
}

func TestAnswerCache_TTL(t *testing.T) {
	c, _, clock := newTestAnswerCache(time.Second)
	ctx := context.Background()
	key := putAnswer(t, c, "q", "")

	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	clock.Advance(2 * time.Second)

	_, ok, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAnswerCache_InvalidatePolicyScoping(t *testing.T) {
	c, _, _ := newTestAnswerCache(time.Minute)
	ctx := context.Background()

	a := putAnswer(t, c, "q1", "A")
	b := putAnswer(t, c, "q1", "B")
	all := putAnswer(t, c, "q1", "")

	n, err := c.InvalidatePolicy(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, ok, _ := c.Get(ctx, a)
	assert.False(t, ok, "policy A answer must be dropped")
	_, ok, _ = c.Get(ctx, all)
	assert.False(t, ok, "unscoped answer must be dropped")
	_, ok, _ = c.Get(ctx, b)
	assert.True(t, ok, "policy B answer must survive")
}

func TestAnswerCache_InvalidatePolicyPrefixIsExact(t *testing.T) {
	c, _, _ := newTestAnswerCache(time.Minute)
	ctx := context.Background()

	keep := putAnswer(t, c, "q", "POL-10")
	putAnswer(t, c, "q", "POL-1")

	_, err := c.InvalidatePolicy(ctx, "POL-1")
	require.NoError(t, err)

	_, ok, _ := c.Get(ctx, keep)
	assert.True(t, ok)
}

func TestAnswerCache_InvalidatePolicyWithColons(t *testing.T) {
	tests := []struct {
		name       string
		invalidate string
		dropped    string
		kept       string
	}{
		{name: "parent keeps child", invalidate: "POL", dropped: "POL", kept: "POL:SUB"},
		{name: "child keeps parent", invalidate: "POL:SUB", dropped: "POL:SUB", kept: "POL"},
		{name: "glob characters are literal", invalidate: "POL*", dropped: "POL*", kept: "POL-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, _ := newTestAnswerCache(time.Minute)
			ctx := context.Background()

			dropped := putAnswer(t, c, "q", tt.dropped)
			kept := putAnswer(t, c, "q", tt.kept)

			n, err := c.InvalidatePolicy(ctx, tt.invalidate)
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			_, ok, _ := c.Get(ctx, dropped)
			assert.False(t, ok)
			_, ok, _ = c.Get(ctx, kept)
			assert.True(t, ok)
		})
	}
}

func TestAnswerCache_InvalidateEmptyPolicyClears(t *testing.T) {
	c, _, _ := newTestAnswerCache(time.Minute)
	ctx := context.Background()
	putAnswer(t, c, "q", "A")
	putAnswer(t, c, "q", "")

	n, err := c.InvalidatePolicy(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestAnswerCache_InvalidateMatch(t *testing.T) {
	c, _, _ := newTestAnswerCache(time.Minute)
	ctx := context.Background()
	putAnswer(t, c, "q1", "A")
	putAnswer(t, c, "q2", "A")
	putAnswer(t, c, "q1", "B")

	n, err := c.Invalidate(ctx, func(k domain.CacheKey) bool { return k.PolicyID == "A" })
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Items)
}

func TestAnswerCache_ClearLeavesForeignKeys(t *testing.T) {
	c, backend, _ := newTestAnswerCache(time.Minute)
	ctx := context.Background()
	putAnswer(t, c, "q", "")
	require.NoError(t, backend.Set(ctx, "t:other", []byte("x"), 0))

	n, err := c.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, backend.Len())
}

func TestAnswerCache_Stats(t *testing.T) {
	c, _, _ := newTestAnswerCache(time.Minute)
	ctx := context.Background()
	key := putAnswer(t, c, "q", "")

	_, _, _ = c.Get(ctx, key)
	_, _, _ = c.Get(ctx, key)
	_, _, _ = c.Get(ctx, c.Key("missing", ""))

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 200.0/3, stats.HitRate, 1e-9)
	assert.Equal(t, 1, stats.Items)
}

func TestAnswerCache_BackendErrors(t *testing.T) {
	c := NewAnswerCache(failingCacheBackend{}, domain.CacheSettings{})
	ctx := context.Background()
	key := c.Key("q", "")

	_, ok, err := c.Get(ctx, key)
	assert.False(t, ok)
	assert.ErrorIs(t, err, errBackendDown)

	assert.ErrorIs(t, c.Put(ctx, key, &domain.CacheEntry{}, 0), errBackendDown)

	_, err = c.InvalidatePolicy(ctx, "A")
	assert.ErrorIs(t, err, errBackendDown)

	stats, err := c.Stats(ctx)
	assert.Error(t, err)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestAnswerCache_DefaultTTL(t *testing.T) {
	c := NewAnswerCache(cachemem.New(), domain.CacheSettings{})
	assert.Equal(t, domain.DefaultAppSettings().Cache.TTL, c.TTL())
}
