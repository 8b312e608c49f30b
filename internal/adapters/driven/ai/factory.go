// Package ai provides factory functions for creating AI service adapters.
package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	geminiembed "github.com/custodia-labs/policyqa/internal/adapters/driven/embedding/gemini"
	ollamaembed "github.com/custodia-labs/policyqa/internal/adapters/driven/embedding/ollama"
	openaiembed "github.com/custodia-labs/policyqa/internal/adapters/driven/embedding/openai"
	anthropicllm "github.com/custodia-labs/policyqa/internal/adapters/driven/llm/anthropic"
	geminillm "github.com/custodia-labs/policyqa/internal/adapters/driven/llm/gemini"
	ollamallm "github.com/custodia-labs/policyqa/internal/adapters/driven/llm/ollama"
	openaillm "github.com/custodia-labs/policyqa/internal/adapters/driven/llm/openai"
	"github.com/custodia-labs/policyqa/internal/adapters/driven/resilient"
	"github.com/custodia-labs/policyqa/internal/core/domain"
	"github.com/custodia-labs/policyqa/internal/core/ports/driven"
	"github.com/custodia-labs/policyqa/internal/telemetry"
)

// pingTimeout is the maximum time to wait for service connectivity validation.
const pingTimeout = 5 * time.Second

// Options controls how providers are built.
type Options struct {
	// Metrics receives circuit breaker state changes. May be nil.
	Metrics *telemetry.Metrics

	// SkipPing builds providers without a connectivity check.
	SkipPing bool
}

// Providers holds the embedding and LLM services used by the pipeline.
// Both are wrapped with the resilience policy from settings.
type Providers struct {
	Embedding driven.EmbeddingService
	LLM       driven.LLMService
}

// Close releases all resources held by the providers.
func (p *Providers) Close() {
	if p.Embedding != nil {
		p.Embedding.Close()
	}
	if p.LLM != nil {
		p.LLM.Close()
	}
}

// NewProviders builds both providers from settings, validates them with a
// ping, and wraps them with rate limiting, circuit breaking and retry.
func NewProviders(ctx context.Context, settings *domain.AppSettings, opts Options) (*Providers, error) {
	embedder, err := CreateEmbeddingService(ctx, &settings.Embedding)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrEmbeddingUnavailable, err)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedding provider is not configured", domain.ErrEmbeddingUnavailable)
	}

	llm, err := CreateLLMService(ctx, &settings.LLM)
	if err != nil {
		embedder.Close()
		return nil, fmt.Errorf("%w: %w", domain.ErrLLMUnavailable, err)
	}
	if llm == nil {
		embedder.Close()
		return nil, fmt.Errorf("%w: LLM provider is not configured", domain.ErrLLMUnavailable)
	}

	if !opts.SkipPing {
		if err := ping(ctx, embedder, llm); err != nil {
			embedder.Close()
			llm.Close()
			return nil, err
		}
	}

	embedCfg := resilient.ConfigFromSettings(
		"embedding."+settings.Embedding.Provider.String(), settings.Resilience, settings.Timeouts.Embed)
	llmCfg := resilient.ConfigFromSettings(
		"llm."+settings.LLM.Provider.String(), settings.Resilience, settings.Timeouts.Generate)

	return &Providers{
		Embedding: resilient.NewEmbedder(embedder, embedCfg, opts.Metrics),
		LLM:       resilient.NewLLM(llm, llmCfg, opts.Metrics),
	}, nil
}

// ping checks both services concurrently within pingTimeout.
func ping(ctx context.Context, embedder driven.EmbeddingService, llm driven.LLMService) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	embedErr := make(chan error, 1)
	go func() { embedErr <- embedder.Ping(ctx) }()
	llmErr := llm.Ping(ctx)

	var errs []error
	if err := <-embedErr; err != nil {
		errs = append(errs, fmt.Errorf("%w: %s unreachable: %w",
			domain.ErrEmbeddingUnavailable, embedder.ModelName(), err))
	}
	if llmErr != nil {
		errs = append(errs, fmt.Errorf("%w: %s unreachable: %w",
			domain.ErrLLMUnavailable, llm.ModelName(), llmErr))
	}
	return errors.Join(errs...)
}

// CreateEmbeddingService creates the appropriate embedding service based on settings.
// Returns nil if the provider is not configured.
func CreateEmbeddingService(ctx context.Context, settings *domain.EmbeddingSettings) (driven.EmbeddingService, error) {
	if settings == nil || !settings.IsConfigured() {
		return nil, nil
	}

	switch settings.Provider {
	case domain.AIProviderOllama:
		return ollamaembed.NewEmbeddingService(ollamaembed.Config{
			BaseURL: settings.BaseURL,
			Model:   settings.Model,
		}), nil

	case domain.AIProviderOpenAI:
		return openaiembed.NewEmbeddingService(openaiembed.Config{
			APIKey:  settings.APIKey,
			BaseURL: settings.BaseURL,
			Model:   settings.Model,
		})

	case domain.AIProviderGemini:
		return geminiembed.NewEmbeddingService(ctx, geminiembed.Config{
			APIKey:   settings.APIKey,
			Model:    settings.Model,
			Endpoint: settings.BaseURL,
		})

	case domain.AIProviderAnthropic:
		return nil, fmt.Errorf("anthropic does not support embeddings, use ollama, openai or gemini")

	default:
		return nil, fmt.Errorf("%w: embedding provider %s", domain.ErrUnsupportedType, settings.Provider)
	}
}

// CreateLLMService creates the appropriate LLM service based on settings.
// Returns nil if the provider is not configured.
func CreateLLMService(ctx context.Context, settings *domain.LLMSettings) (driven.LLMService, error) {
	if settings == nil || !settings.IsConfigured() {
		return nil, nil
	}

	switch settings.Provider {
	case domain.AIProviderOllama:
		return ollamallm.NewLLMService(ollamallm.LLMConfig{
			BaseURL: settings.BaseURL,
			Model:   settings.Model,
		}), nil

	case domain.AIProviderOpenAI:
		return openaillm.NewLLMService(openaillm.LLMConfig{
			APIKey:  settings.APIKey,
			BaseURL: settings.BaseURL,
			Model:   settings.Model,
		})

	case domain.AIProviderAnthropic:
		return anthropicllm.NewLLMService(anthropicllm.Config{
			APIKey:  settings.APIKey,
			BaseURL: settings.BaseURL,
			Model:   settings.Model,
		})

	case domain.AIProviderGemini:
		return geminillm.NewLLMService(ctx, geminillm.Config{
			APIKey:   settings.APIKey,
			Model:    settings.Model,
			Endpoint: settings.BaseURL,
		})

	default:
		return nil, fmt.Errorf("%w: LLM provider %s", domain.ErrUnsupportedType, settings.Provider)
	}
}
