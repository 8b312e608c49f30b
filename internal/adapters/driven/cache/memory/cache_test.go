package memory

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/policyqa/internal/core/domain"
)

type fakeClock struct {
	t time.Time
}

func (f *fakeClock) Now() time.Time { return f.t }

func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestCache() (*Cache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(WithClock(clock.Now)), clock
}

func TestCache_SetGet(t *testing.T) {
	c, _ := newTestCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	got, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	_, ok, err = c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_Expiry(t *testing.T) {
	c, clock := newTestCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", []byte("v"), time.Second))
	require.NoError(t, c.Set(ctx, "forever", []byte("v"), 0))

	clock.Advance(999 * time.Millisecond)
	_, ok, _ := c.Get(ctx, "short")
	assert.True(t, ok)

	clock.Advance(time.Millisecond)
	_, ok, _ = c.Get(ctx, "short")
	assert.False(t, ok, "entry must expire exactly at its TTL")

	clock.Advance(24 * time.Hour)
	_, ok, _ = c.Get(ctx, "forever")
	assert.True(t, ok)
}

func TestCache_KeysAndPatterns(t *testing.T) {
	c, _ := newTestCache()
	ctx := context.Background()

	for _, k := range []string{
		"p:answer:_all:aaa",
		"p:answer:POL-A:bbb",
		"p:answer:POL-AB:ccc",
		"other:key",
	} {
		require.NoError(t, c.Set(ctx, k, []byte("x"), time.Minute))
	}

	keys, err := c.Keys(ctx, "p:answer:*")
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"p:answer:POL-A:bbb", "p:answer:POL-AB:ccc", "p:answer:_all:aaa"}, keys)

	keys, err = c.Keys(ctx, "p:answer:POL-A:*")
	require.NoError(t, err)
	assert.Equal(t, []string{"p:answer:POL-A:bbb"}, keys)

	n, err := c.DeleteByPattern(ctx, "p:answer:*")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, c.Len())
}

func TestCache_EscapedPattern(t *testing.T) {
	c, _ := newTestCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a*b", []byte("x"), 0))
	require.NoError(t, c.Set(ctx, "axxb", []byte("x"), 0))

	keys, err := c.Keys(ctx, `a\*b`)
	require.NoError(t, err)
	assert.Equal(t, []string{"a*b"}, keys)
}

func TestCache_KeysSkipsExpired(t *testing.T) {
	c, clock := newTestCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "old", []byte("x"), time.Second))
	require.NoError(t, c.Set(ctx, "new", []byte("x"), time.Hour))
	clock.Advance(2 * time.Second)

	keys, err := c.Keys(ctx, "*")
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, keys)
	assert.Equal(t, 1, c.Len())
}

func TestCache_Delete(t *testing.T) {
	c, _ := newTestCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("x"), 0))
	n, err := c.Delete(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCache_Closed(t *testing.T) {
	c, _ := newTestCache()
	require.NoError(t, c.Close())

	_, _, err := c.Get(context.Background(), "k")
	assert.ErrorIs(t, err, domain.ErrCacheUnavailable)
	assert.ErrorIs(t, c.Set(context.Background(), "k", nil, 0), domain.ErrCacheUnavailable)
}
