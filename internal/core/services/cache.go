package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/custodia-labs/policyqa/internal/core/domain"
	"github.com/custodia-labs/policyqa/internal/core/ports/driven"
	"github.com/custodia-labs/policyqa/internal/core/ports/driving"
	"github.com/custodia-labs/policyqa/internal/logger"
	"github.com/custodia-labs/policyqa/internal/telemetry"
)

// Ensure AnswerCache implements the interface.
var _ driving.CacheService = (*AnswerCache)(nil)

// DefaultCacheTimeout bounds each cache backend call.
const DefaultCacheTimeout = 2 * time.Second

// AnswerCache stores synthesised answers keyed by question fingerprint.
// Entries expire a fixed TTL after they are written.
type AnswerCache struct {
	backend driven.CacheBackend
	prefix  string
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
	metrics *telemetry.Metrics

	hits   atomic.Int64
	misses atomic.Int64
}

// AnswerCacheOption configures an AnswerCache.
type AnswerCacheOption func(*AnswerCache)

// WithCacheClock sets the clock used to stamp and expire entries.
func WithCacheClock(now func() time.Time) AnswerCacheOption {
	return func(c *AnswerCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithCacheTimeout bounds each backend call.
func WithCacheTimeout(d time.Duration) AnswerCacheOption {
	return func(c *AnswerCache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithCacheMetrics records hits and misses.
func WithCacheMetrics(m *telemetry.Metrics) AnswerCacheOption {
	return func(c *AnswerCache) {
		c.metrics = m
	}
}

// NewAnswerCache creates an answer cache over a backend.
func NewAnswerCache(backend driven.CacheBackend, cfg domain.CacheSettings, opts ...AnswerCacheOption) *AnswerCache {
	c := &AnswerCache{
		backend: backend,
		prefix:  cfg.KeyPrefix,
		ttl:     cfg.TTL,
		timeout: DefaultCacheTimeout,
		now:     time.Now,
	}
	if c.ttl <= 0 {
		c.ttl = domain.DefaultAppSettings().Cache.TTL
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key derives the cache key for a question and optional policy filter.
func (c *AnswerCache) Key(question, policyID string) domain.CacheKey {
	return BuildCacheKey(c.prefix, question, policyID)
}

// TTL returns the default entry lifetime.
func (c *AnswerCache) TTL() time.Duration {
	return c.ttl
}

// Get returns the live entry for key. Errors count as misses.
func (c *AnswerCache) Get(ctx context.Context, key domain.CacheKey) (*domain.CacheEntry, bool, error) {
	entry, ok, err := c.lookup(ctx, key)
	if !ok {
		c.recordMiss(ctx)
		return nil, false, err
	}
	c.hits.Add(1)
	c.metrics.RecordCache(ctx, true)
	return entry, true, nil
}

// Recheck is Get without touching the hit and miss counters. It serves a
// second look at a key whose miss was already counted.
func (c *AnswerCache) Recheck(ctx context.Context, key domain.CacheKey) (*domain.CacheEntry, bool) {
	entry, ok, err := c.lookup(ctx, key)
	if err != nil {
		logger.Debug("Cache recheck failed: %v", err)
	}
	return entry, ok
}

func (c *AnswerCache) lookup(ctx context.Context, key domain.CacheKey) (*domain.CacheEntry, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	data, ok, err := c.backend.Get(ctx, key.Raw)
	if err != nil {
		return nil, false, fmt.Errorf("get cached answer: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	var entry domain.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		logger.Warn("Dropping unreadable cache entry %s: %v", key.Raw, err)
		_, _ = c.backend.Delete(ctx, key.Raw)
		return nil, false, nil
	}

	// The backend TTL is authoritative; this guards backends with coarse expiry.
	if !c.now().Before(entry.ExpiresAt()) {
		return nil, false, nil
	}
	return &entry, true, nil
}

// Put stores an entry under key. A non-positive ttl uses the default.
func (c *AnswerCache) Put(ctx context.Context, key domain.CacheKey, entry *domain.CacheEntry, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	entry.Key = key.Raw
	entry.PolicyID = key.PolicyID
	entry.TTL = ttl
	if entry.GeneratedAt.IsZero() {
		entry.GeneratedAt = c.now()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.backend.Set(ctx, key.Raw, data, ttl); err != nil {
		return fmt.Errorf("store cached answer: %w", err)
	}
	return nil
}

// Invalidate deletes every entry whose key satisfies match.
func (c *AnswerCache) Invalidate(ctx context.Context, match func(domain.CacheKey) bool) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.backend.Keys(ctx, answersPattern(c.prefix))
	if err != nil {
		return 0, fmt.Errorf("list cached answers: %w", err)
	}

	var doomed []string
	for _, k := range raw {
		key, ok := ParseCacheKey(c.prefix, k)
		if ok && match(key) {
			doomed = append(doomed, k)
		}
	}
	if len(doomed) == 0 {
		return 0, nil
	}

	n, err := c.backend.Delete(ctx, doomed...)
	if err != nil {
		return n, fmt.Errorf("delete cached answers: %w", err)
	}
	return n, nil
}

// InvalidatePolicy drops answers scoped to policyID and answers asked across
// all policies. Answers scoped to other policies survive, including ones
// whose id merely starts with policyID. An empty policyID clears the cache.
func (c *AnswerCache) InvalidatePolicy(ctx context.Context, policyID string) (int, error) {
	if policyID == "" {
		return c.Clear(ctx)
	}

	n, err := c.Invalidate(ctx, func(key domain.CacheKey) bool {
		return key.PolicyID == policyID || key.PolicyID == ""
	})
	if err != nil {
		return n, fmt.Errorf("invalidate policy %s: %w", policyID, err)
	}

	logger.Debug("Invalidated %d cached answers for policy %s and unscoped answers", n, policyID)
	return n, nil
}

// Clear drops every cached answer.
func (c *AnswerCache) Clear(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	n, err := c.backend.DeleteByPattern(ctx, answersPattern(c.prefix))
	if err != nil {
		return 0, fmt.Errorf("clear cache: %w", err)
	}
	return n, nil
}

// Stats returns hit and miss counters and the number of live entries.
func (c *AnswerCache) Stats(ctx context.Context) (domain.CacheStats, error) {
	stats := domain.CacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	keys, err := c.backend.Keys(ctx, answersPattern(c.prefix))
	if err != nil {
		return stats, fmt.Errorf("count cached answers: %w", err)
	}
	stats.Items = len(keys)
	return stats, nil
}

func (c *AnswerCache) recordMiss(ctx context.Context) {
	c.misses.Add(1)
	c.metrics.RecordCache(ctx, false)
}
