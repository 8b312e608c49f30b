// Package resilient wraps provider adapters with rate limiting, circuit
// breaking, bounded retry and tracing.
//
// The core services never retry. Everything transient about a provider call
// is decided here: domain.ErrRateLimited, domain.ErrLLMUnavailable and
// domain.ErrEmbeddingUnavailable are retried with exponential backoff, any
// other error is returned at once.
package resilient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/custodia-labs/policyqa/internal/core/domain"
	"github.com/custodia-labs/policyqa/internal/logger"
	"github.com/custodia-labs/policyqa/internal/telemetry"
)

// Default policy values.
const (
	DefaultRequestsPerMinute = 300
	DefaultMaxAttempts       = 3
	DefaultBaseBackoff       = 500 * time.Millisecond
	DefaultMaxBackoff        = 10 * time.Second

	// Breaker settings follow a ratio trip: at least breakerMinRequests in
	// the window with breakerFailureRatio of them failing.
	breakerMinRequests  = 3
	breakerFailureRatio = 0.6
	breakerHalfOpenMax  = 5
	breakerInterval     = 10 * time.Second
	breakerOpenTimeout  = 60 * time.Second
)

// Config holds the policy for one provider.
type Config struct {
	// Name identifies the provider in logs, spans and breaker metrics.
	Name string

	// RequestsPerMinute caps outgoing calls. Zero disables limiting.
	RequestsPerMinute int

	// MaxAttempts is the total number of tries for a transient failure.
	MaxAttempts int

	// BaseBackoff is the delay before the second attempt; it doubles each retry.
	BaseBackoff time.Duration

	// MaxBackoff caps a single delay.
	MaxBackoff time.Duration

	// AttemptTimeout bounds one attempt. Zero leaves only the caller's deadline.
	AttemptTimeout time.Duration

	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
}

// ConfigFromSettings builds a policy config from resilience settings.
// The stage timeout is split evenly across attempts so retries fit the
// caller's deadline.
func ConfigFromSettings(name string, s domain.ResilienceSettings, stageTimeout time.Duration) Config {
	cfg := Config{
		Name:              name,
		RequestsPerMinute: s.RequestsPerMinute,
		MaxAttempts:       s.MaxAttempts,
		BaseBackoff:       s.BaseBackoff,
	}
	if cfg.MaxAttempts > 0 && stageTimeout > 0 {
		cfg.AttemptTimeout = stageTimeout / time.Duration(cfg.MaxAttempts)
	}
	return cfg
}

// Policy executes calls under one provider's limits.
type Policy struct {
	name           string
	limiter        *rate.Limiter
	breaker        *gobreaker.CircuitBreaker
	maxAttempts    int
	baseBackoff    time.Duration
	maxBackoff     time.Duration
	attemptTimeout time.Duration
	unavailable    error

	// sleep waits between attempts; tests replace it.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPolicy creates a policy. unavailable is the sentinel returned when the
// breaker is open. metrics may be nil.
func NewPolicy(cfg Config, unavailable error, metrics *telemetry.Metrics) *Policy {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultBaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = breakerOpenTimeout
	}

	p := &Policy{
		name:           cfg.Name,
		maxAttempts:    cfg.MaxAttempts,
		baseBackoff:    cfg.BaseBackoff,
		maxBackoff:     cfg.MaxBackoff,
		attemptTimeout: cfg.AttemptTimeout,
		unavailable:    unavailable,
		sleep:          sleepContext,
	}

	if cfg.RequestsPerMinute > 0 {
		burst := max(cfg.RequestsPerMinute/10, 1)
		p.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), burst)
	}

	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: breakerHalfOpenMax,
		Interval:    breakerInterval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < breakerMinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= breakerFailureRatio
		},
		// Request errors say nothing about provider health.
		IsSuccessful: func(err error) bool {
			return err == nil || !Retryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker %s: %s -> %s", name, from, to)
			metrics.RecordBreakerState(name, to.String())
		},
	})

	return p
}

// Name returns the provider name.
func (p *Policy) Name() string {
	return p.name
}

// State returns the breaker state name (closed, half-open, open).
func (p *Policy) State() string {
	return p.breaker.State().String()
}

// Do runs fn until it succeeds, fails permanently, or attempts run out.
// It returns the number of attempts made alongside the final error.
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	var err error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if p.limiter != nil {
			if waitErr := p.limiter.Wait(ctx); waitErr != nil {
				return attempt - 1, fmt.Errorf("%s: rate limiter: %w", p.name, waitErr)
			}
		}

		_, err = p.breaker.Execute(func() (any, error) {
			return nil, p.attempt(ctx, fn)
		})
		if err == nil {
			return attempt, nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return attempt, fmt.Errorf("%w: %s: %w", p.unavailable, p.name, err)
		}
		if !Retryable(err) || ctx.Err() != nil || attempt == p.maxAttempts {
			return attempt, err
		}

		delay := p.backoff(attempt)
		logger.Debug("%s: attempt %d/%d failed, retrying in %s: %v", p.name, attempt, p.maxAttempts, delay, err)
		if sleepErr := p.sleep(ctx, delay); sleepErr != nil {
			return attempt, err
		}
	}
	return p.maxAttempts, err
}

func (p *Policy) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.attemptTimeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, p.attemptTimeout)
	defer cancel()
	return fn(attemptCtx)
}

// backoff returns the delay after the given failed attempt.
func (p *Policy) backoff(attempt int) time.Duration {
	d := p.baseBackoff << (attempt - 1)
	if d <= 0 || d > p.maxBackoff {
		return p.maxBackoff
	}
	return d
}

// Retryable reports whether err is a transient provider failure.
func Retryable(err error) bool {
	return errors.Is(err, domain.ErrRateLimited) ||
		errors.Is(err, domain.ErrLLMUnavailable) ||
		errors.Is(err, domain.ErrEmbeddingUnavailable)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
