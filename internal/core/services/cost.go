package services

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/custodia-labs/policyqa/internal/core/domain"
)

// CostTracker accumulates LLM token usage and estimated spend.
// Cache hits count the tokens the cached answer originally cost, so
// savings can be reported against an uncached baseline.
type CostTracker struct {
	mu      sync.Mutex
	model   string
	pricing domain.ModelPricing
	now     func() time.Time

	totalRequests  int
	cachedRequests int
	apiCalls       int
	inputTokens    int
	outputTokens   int
	savedInput     int
	savedOutput    int
}

// NewCostTracker creates a tracker priced for model. Unknown models use
// the default pricing.
func NewCostTracker(model string) *CostTracker {
	return &CostTracker{
		model:   model,
		pricing: PricingFor(model),
		now:     time.Now,
	}
}

// PricingFor returns the price table entry whose family prefixes model.
func PricingFor(model string) domain.ModelPricing {
	table := domain.DefaultModelPricing()

	families := make([]string, 0, len(table))
	for family := range table {
		families = append(families, family)
	}
	// Longest family first so the most specific prefix wins.
	sort.Slice(families, func(i, j int) bool { return len(families[i]) > len(families[j]) })

	for _, family := range families {
		if strings.HasPrefix(model, family) {
			return table[family]
		}
	}
	return table[domain.DefaultPricingModel]
}

// RecordRequest records a query answered without the cache.
func (t *CostTracker) RecordRequest() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalRequests++
}

// RecordAPICall records one LLM call. Concurrent identical questions
// share a call, so calls and requests are counted separately.
func (t *CostTracker) RecordAPICall(usage domain.TokenUsage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.apiCalls++
	t.inputTokens += usage.InputTokens
	t.outputTokens += usage.OutputTokens
}

// RecordCacheHit records a query answered from cache. usage is what the
// cached answer cost when it was generated.
func (t *CostTracker) RecordCacheHit(usage domain.TokenUsage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalRequests++
	t.cachedRequests++
	t.savedInput += usage.InputTokens
	t.savedOutput += usage.OutputTokens
}

// Stats returns a snapshot of usage and spend.
func (t *CostTracker) Stats() domain.CostStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	actual := t.cost(t.inputTokens, t.outputTokens)
	withoutCache := actual + t.cost(t.savedInput, t.savedOutput)

	stats := domain.CostStats{
		Model:               t.model,
		TotalRequests:       t.totalRequests,
		CachedRequests:      t.cachedRequests,
		APICalls:            t.apiCalls,
		TotalInputTokens:    t.inputTokens,
		TotalOutputTokens:   t.outputTokens,
		TotalTokens:         t.inputTokens + t.outputTokens,
		TotalCostUSD:        actual,
		CostWithoutCacheUSD: withoutCache,
		SavingsUSD:          withoutCache - actual,
		Timestamp:           t.now(),
	}
	if t.totalRequests > 0 {
		stats.CacheHitRatePercent = float64(t.cachedRequests) / float64(t.totalRequests) * 100
	}
	if withoutCache > 0 {
		stats.SavingsPercent = stats.SavingsUSD / withoutCache * 100
	}
	return stats
}

// Reset clears all counters.
func (t *CostTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalRequests = 0
	t.cachedRequests = 0
	t.apiCalls = 0
	t.inputTokens = 0
	t.outputTokens = 0
	t.savedInput = 0
	t.savedOutput = 0
}

func (t *CostTracker) cost(input, output int) float64 {
	return float64(input)/1_000_000*t.pricing.InputPerMillion +
		float64(output)/1_000_000*t.pricing.OutputPerMillion
}
