package mcp

import (
	"context"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/policyqa/internal/core/domain"
	"github.com/custodia-labs/policyqa/internal/core/ports/driving"
)

// AskInput is the input schema for the ask tool.
type AskInput struct {
	Question string `json:"question" jsonschema:"the question about the insurance policies"`
	PolicyID string `json:"policy_id,omitempty" jsonschema:"restrict the answer to one policy, e.g. POL-AUTO-001"`
}

// AskOutput is the output schema for the ask tool.
type AskOutput struct {
	Answer         string            `json:"answer"`
	Confidence     float64           `json:"confidence"`
	Abstained      bool              `json:"abstained"`
	Cached         bool              `json:"cached"`
	ResponseTimeMS int64             `json:"response_time_ms"`
	Citations      []domain.Citation `json:"citations"`
	Sources        []domain.Source   `json:"sources"`
}

// CacheStatsInput is the (empty) input schema for the cache_stats tool.
type CacheStatsInput struct{}

// CacheStatsOutput is the output schema for the cache_stats tool.
type CacheStatsOutput struct {
	CacheHits           int64   `json:"cache_hits"`
	CacheMisses         int64   `json:"cache_misses"`
	HitRate             float64 `json:"hit_rate"`
	CachedItems         int     `json:"cached_items"`
	Model               string  `json:"model"`
	TotalRequests       int     `json:"total_requests"`
	APICalls            int     `json:"api_calls"`
	TotalTokens         int     `json:"total_tokens"`
	TotalCostUSD        float64 `json:"total_cost_usd"`
	CostWithoutCacheUSD float64 `json:"cost_without_cache_usd"`
	SavingsUSD          float64 `json:"savings_usd"`
	SavingsPercent      float64 `json:"savings_percent"`
}

// ReindexInput is the input schema for the reindex tool.
type ReindexInput struct {
	Prune bool `json:"prune,omitempty" jsonschema:"remove indexed documents whose files were deleted"`
}

// InvalidateCacheInput is the input schema for the invalidate_cache tool.
type InvalidateCacheInput struct {
	PolicyID string `json:"policy_id,omitempty" jsonschema:"drop answers for one policy; empty clears the whole cache"`
}

// InvalidateCacheOutput is the output schema for the invalidate_cache tool.
type InvalidateCacheOutput struct {
	Removed int `json:"removed"`
}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "ask",
		Description: "Answer a question about the indexed insurance policies with citations",
	}, s.handleAsk)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "cache_stats",
		Description: "Report answer cache hit rate and token cost savings",
	}, s.handleCacheStats)

	if s.ports.Cache != nil {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        "invalidate_cache",
			Description: "Drop cached answers for a policy, or all cached answers",
		}, s.handleInvalidateCache)
	}

	if s.ports.Sync != nil {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        "reindex",
			Description: "Re-read the policy documents directory and update the index",
		}, s.handleReindex)
	}
}

// handleAsk handles the ask tool invocation.
func (s *Server) handleAsk(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input AskInput,
) (*mcp.CallToolResult, AskOutput, error) {
	result, err := s.ports.Query.Ask(ctx, driving.AskRequest{
		Question: input.Question,
		PolicyID: strings.TrimSpace(input.PolicyID),
	})
	if err != nil {
		return nil, AskOutput{}, err
	}

	output := AskOutput{
		Answer:         result.Answer,
		Confidence:     result.Confidence,
		Abstained:      result.Abstained,
		Cached:         result.Cached,
		ResponseTimeMS: result.ResponseTimeMS(),
		Citations:      result.Citations,
		Sources:        result.Sources,
	}
	if output.Citations == nil {
		output.Citations = []domain.Citation{}
	}
	if output.Sources == nil {
		output.Sources = []domain.Source{}
	}

	return nil, output, nil
}

// handleCacheStats handles the cache_stats tool invocation.
func (s *Server) handleCacheStats(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	_ CacheStatsInput,
) (*mcp.CallToolResult, CacheStatsOutput, error) {
	stats, err := s.ports.Query.Stats(ctx)
	if err != nil {
		return nil, CacheStatsOutput{}, err
	}
	return nil, CacheStatsOutput{
		CacheHits:           stats.Cache.Hits,
		CacheMisses:         stats.Cache.Misses,
		HitRate:             stats.Cache.HitRate,
		CachedItems:         stats.Cache.Items,
		Model:               stats.Cost.Model,
		TotalRequests:       stats.Cost.TotalRequests,
		APICalls:            stats.Cost.APICalls,
		TotalTokens:         stats.Cost.TotalTokens,
		TotalCostUSD:        stats.Cost.TotalCostUSD,
		CostWithoutCacheUSD: stats.Cost.CostWithoutCacheUSD,
		SavingsUSD:          stats.Cost.SavingsUSD,
		SavingsPercent:      stats.Cost.SavingsPercent,
	}, nil
}

// handleInvalidateCache handles the invalidate_cache tool invocation.
func (s *Server) handleInvalidateCache(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input InvalidateCacheInput,
) (*mcp.CallToolResult, InvalidateCacheOutput, error) {
	var (
		removed int
		err     error
	)
	if policyID := strings.TrimSpace(input.PolicyID); policyID != "" {
		removed, err = s.ports.Cache.InvalidatePolicy(ctx, policyID)
	} else {
		removed, err = s.ports.Cache.Clear(ctx)
	}
	if err != nil {
		return nil, InvalidateCacheOutput{}, err
	}
	return nil, InvalidateCacheOutput{Removed: removed}, nil
}

// handleReindex handles the reindex tool invocation.
func (s *Server) handleReindex(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input ReindexInput,
) (*mcp.CallToolResult, domain.IngestionReport, error) {
	report, err := s.ports.Sync.Sync(ctx, driving.SyncOptions{Prune: input.Prune})
	if err != nil {
		return nil, domain.IngestionReport{}, err
	}
	return nil, *report, nil
}
