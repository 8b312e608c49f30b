package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/custodia-labs/policyqa/internal/core/domain"
)

func TestPricingFor(t *testing.T) {
	table := domain.DefaultModelPricing()

	assert.Equal(t, table["claude-haiku-4"], PricingFor("claude-haiku-4-20250101"))
	assert.Equal(t, table["claude-opus-4"], PricingFor("claude-opus-4-1"))
	assert.Equal(t, table[domain.DefaultPricingModel], PricingFor("gpt-4o-mini"))
}

func TestCostTracker(t *testing.T) {
	tracker := NewCostTracker("claude-sonnet-4-20250514")
	usage := domain.TokenUsage{InputTokens: 1_000_000, OutputTokens: 100_000}

	tracker.RecordRequest()
	tracker.RecordAPICall(usage)
	tracker.RecordCacheHit(usage)
	tracker.RecordCacheHit(usage)

	stats := tracker.Stats()
	assert.Equal(t, 3, stats.TotalRequests)
	assert.Equal(t, 2, stats.CachedRequests)
	assert.Equal(t, 1, stats.APICalls)
	assert.Equal(t, 1_100_000, stats.TotalTokens)
	assert.InDelta(t, 200.0/3, stats.CacheHitRatePercent, 1e-9)

	// 1M input at $3 plus 100k output at $15.
	assert.InDelta(t, 4.5, stats.TotalCostUSD, 1e-9)
	assert.InDelta(t, 13.5, stats.CostWithoutCacheUSD, 1e-9)
	assert.InDelta(t, 9.0, stats.SavingsUSD, 1e-9)
	assert.InDelta(t, 200.0/3, stats.SavingsPercent, 1e-9)
}

func TestCostTracker_EmptyAndReset(t *testing.T) {
	tracker := NewCostTracker("unknown")

	stats := tracker.Stats()
	assert.Zero(t, stats.CacheHitRatePercent)
	assert.Zero(t, stats.SavingsPercent)

	tracker.RecordRequest()
	tracker.RecordAPICall(domain.TokenUsage{InputTokens: 10})
	tracker.Reset()

	stats = tracker.Stats()
	assert.Zero(t, stats.TotalRequests)
	assert.Zero(t, stats.TotalTokens)
	assert.Equal(t, "unknown", stats.Model)
}
