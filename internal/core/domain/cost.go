package domain

import "time"

// ModelPricing is the USD price per million tokens for a model family.
type ModelPricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// DefaultPricingModel is used when a model has no pricing entry.
const DefaultPricingModel = "claude-sonnet-4"

// DefaultModelPricing returns the built-in price table.
func DefaultModelPricing() map[string]ModelPricing {
	return map[string]ModelPricing{
		"claude-haiku-4":  {InputPerMillion: 0.25, OutputPerMillion: 1.25},
		"claude-sonnet-4": {InputPerMillion: 3.00, OutputPerMillion: 15.00},
		"claude-opus-4":   {InputPerMillion: 15.00, OutputPerMillion: 75.00},
	}
}

// CostStats is a snapshot of LLM usage and spend.
type CostStats struct {
	Model               string    `json:"model"`
	TotalRequests       int       `json:"total_requests"`
	CachedRequests      int       `json:"cached_requests"`
	APICalls            int       `json:"api_calls"`
	CacheHitRatePercent float64   `json:"cache_hit_rate_percent"`
	TotalInputTokens    int       `json:"total_input_tokens"`
	TotalOutputTokens   int       `json:"total_output_tokens"`
	TotalTokens         int       `json:"total_tokens"`
	TotalCostUSD        float64   `json:"total_cost_usd"`
	CostWithoutCacheUSD float64   `json:"cost_without_cache_usd"`
	SavingsUSD          float64   `json:"savings_usd"`
	SavingsPercent      float64   `json:"savings_percent"`
	Timestamp           time.Time `json:"timestamp"`
}

// CacheStats is a snapshot of answer-cache effectiveness.
type CacheStats struct {
	Hits    int64   `json:"cache_hits"`
	Misses  int64   `json:"cache_misses"`
	HitRate float64 `json:"hit_rate"`
	Items   int     `json:"cached_items"`
}

// QueryStats aggregates cache and cost statistics.
type QueryStats struct {
	Cache CacheStats `json:"cache"`
	Cost  CostStats  `json:"cost"`
}
