package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/custodia-labs/policyqa/internal/core/domain"
	"github.com/custodia-labs/policyqa/internal/core/ports/driven"
	"github.com/custodia-labs/policyqa/internal/logger"
	"github.com/custodia-labs/policyqa/internal/telemetry"
)

// maxOverfetch caps how far past k a search widens to replace hits
// embedded with another model.
const maxOverfetch = 8

// Retriever finds the chunks most similar to a question.
// It is pinned to the embedding model the index was built with.
type Retriever struct {
	embedder      driven.EmbeddingService
	index         driven.VectorIndex
	model         string
	embedTimeout  time.Duration
	searchTimeout time.Duration
}

// NewRetriever creates a retriever. pinnedModel is the embedding model the
// index was built with; an empty value pins the embedder's current model.
func NewRetriever(
	embedder driven.EmbeddingService,
	index driven.VectorIndex,
	pinnedModel string,
	timeouts domain.TimeoutSettings,
) *Retriever {
	if pinnedModel == "" && embedder != nil {
		pinnedModel = embedder.ModelName()
	}
	defaults := domain.DefaultAppSettings().Timeouts
	if timeouts.Embed <= 0 {
		timeouts.Embed = defaults.Embed
	}
	if timeouts.Search <= 0 {
		timeouts.Search = defaults.Search
	}
	return &Retriever{
		embedder:      embedder,
		index:         index,
		model:         pinnedModel,
		embedTimeout:  timeouts.Embed,
		searchTimeout: timeouts.Search,
	}
}

// Model returns the pinned embedding model.
func (r *Retriever) Model() string {
	return r.model
}

// Retrieve returns up to k chunks ordered by descending score, ties broken by
// chunk id. The filter is applied by the index before ranking.
func (r *Retriever) Retrieve(
	ctx context.Context,
	question string,
	k int,
	filter *domain.SearchFilter,
) ([]domain.RetrievedChunk, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "retriever.retrieve")
	defer span.End()
	span.SetAttributes(attribute.Int("retrieval.k", k))
	if filter != nil && filter.PolicyID != "" {
		span.SetAttributes(attribute.String("retrieval.policy_id", filter.PolicyID))
	}

	if k <= 0 {
		return nil, nil
	}
	if got := r.embedder.ModelName(); got != r.model {
		return nil, fmt.Errorf("%w: index built with %q, query embedder is %q",
			domain.ErrEmbeddingModelMismatch, r.model, got)
	}

	embedCtx, cancel := context.WithTimeout(ctx, r.embedTimeout)
	vector, err := r.embedder.Embed(embedCtx, question)
	cancel()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("embed question: %w", err)
	}

	// Hits from other embedding models are dropped after the index ranks,
	// so widen the search until k usable hits survive or the index runs dry.
	var results []domain.RetrievedChunk
	for fetch := k; ; fetch *= 2 {
		searchCtx, cancel := context.WithTimeout(ctx, r.searchTimeout)
		hits, err := r.index.Search(searchCtx, vector, fetch, filter)
		cancel()
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("search index: %w", err)
		}

		var stale []string
		results, stale = r.usable(hits, filter)
		if len(stale) == 0 || len(results) >= k || len(hits) < fetch || fetch >= k*maxOverfetch {
			if len(stale) > 0 {
				logger.Warn("Dropped %d chunks indexed with another model (expected %q): %v",
					len(stale), r.model, stale)
			}
			break
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})
	if len(results) > k {
		results = results[:k]
	}

	span.SetAttributes(attribute.Int("retrieval.results", len(results)))
	logger.Debug("Retrieved %d chunks", len(results))
	return results, nil
}

// usable keeps hits embedded with the pinned model that pass filter and
// returns the ids of hits from other models.
func (r *Retriever) usable(hits []driven.VectorHit, filter *domain.SearchFilter) ([]domain.RetrievedChunk, []string) {
	results := make([]domain.RetrievedChunk, 0, len(hits))
	var stale []string
	for _, hit := range hits {
		if hit.Payload.EmbeddingModel != "" && hit.Payload.EmbeddingModel != r.model {
			stale = append(stale, hit.ChunkID)
			continue
		}
		if !filter.Matches(hit.Payload) {
			continue
		}
		results = append(results, toRetrievedChunk(hit))
	}
	return results, stale
}

func toRetrievedChunk(hit driven.VectorHit) domain.RetrievedChunk {
	p := hit.Payload
	return domain.RetrievedChunk{
		Chunk: domain.Chunk{
			ID:         hit.ChunkID,
			DocumentID: p.DocumentID,
			PolicyID:   p.PolicyID,
			Content:    p.Text,
			Start:      p.Start,
			End:        p.End,
			Section:    p.Section,
			Position:   p.Position,
		},
		URI:   p.URI,
		Title: p.Title,
		Score: hit.Score,
	}
}
