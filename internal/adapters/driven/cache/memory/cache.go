// Package memory provides an in-process answer cache backend.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gobwas/glob"

	"github.com/custodia-labs/policyqa/internal/core/domain"
	"github.com/custodia-labs/policyqa/internal/core/ports/driven"
)

// Ensure Cache implements the interface.
var _ driven.CacheBackend = (*Cache)(nil)

type item struct {
	value   []byte
	expires time.Time
}

func (i item) expired(now time.Time) bool {
	return !i.expires.IsZero() && !now.Before(i.expires)
}

// Cache is a map-backed driven.CacheBackend with lazy expiry.
type Cache struct {
	mu     sync.Mutex
	items  map[string]item
	now    func() time.Time
	closed bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock sets the clock used for expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		items: make(map[string]item),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value for key unless it has expired.
func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, false, domain.ErrCacheUnavailable
	}

	it, ok := c.items[key]
	if !ok {
		return nil, false, nil
	}
	if it.expired(c.now()) {
		delete(c.items, key)
		return nil, false, nil
	}
	return append([]byte(nil), it.value...), true, nil
}

// Set stores value under key. A zero ttl never expires.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.ErrCacheUnavailable
	}

	it := item{value: append([]byte(nil), value...)}
	if ttl > 0 {
		it.expires = c.now().Add(ttl)
	}
	c.items[key] = it
	return nil
}

// Delete removes keys and returns how many were live.
func (c *Cache) Delete(_ context.Context, keys ...string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, domain.ErrCacheUnavailable
	}

	now := c.now()
	n := 0
	for _, k := range keys {
		if it, ok := c.items[k]; ok {
			if !it.expired(now) {
				n++
			}
			delete(c.items, k)
		}
	}
	return n, nil
}

// DeleteByPattern removes every live key matching a Redis-style glob.
func (c *Cache) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	keys, err := c.Keys(ctx, pattern)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	return c.Delete(ctx, keys...)
}

// Keys lists live keys matching a Redis-style glob. Expired keys are pruned.
func (c *Cache) Keys(_ context.Context, pattern string) ([]string, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: bad pattern %q: %w", domain.ErrInvalidInput, pattern, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, domain.ErrCacheUnavailable
	}

	now := c.now()
	var keys []string
	for k, it := range c.items {
		if it.expired(now) {
			delete(c.items, k)
			continue
		}
		if g.Match(k) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Len returns the number of stored keys, including expired ones not yet pruned.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Close drops all entries and makes further calls fail.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]item)
	c.closed = true
	return nil
}
