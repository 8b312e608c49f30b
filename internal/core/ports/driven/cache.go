package driven

import (
	"context"
	"time"
)

// CacheBackend is a key-value store with per-key TTL.
//
// Patterns use Redis glob syntax (`*`, `?`, `[abc]`). Implementations wrap
// connectivity failures with domain.ErrCacheUnavailable.
type CacheBackend interface {
	// Get returns the value for key. The bool is false on a miss or expiry.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key for ttl. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes keys and returns how many existed.
	Delete(ctx context.Context, keys ...string) (int, error)

	// DeleteByPattern removes every key matching pattern.
	DeleteByPattern(ctx context.Context, pattern string) (int, error)

	// Keys lists live keys matching pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Close releases resources.
	Close() error
}
