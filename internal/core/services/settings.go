package services

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/custodia-labs/policyqa/internal/core/domain"
	"github.com/custodia-labs/policyqa/internal/core/ports/driven"
	"github.com/custodia-labs/policyqa/internal/core/ports/driving"
)

// Ensure SettingsService implements the interface.
var _ driving.SettingsService = (*SettingsService)(nil)

// Config keys for settings storage.
//
//nolint:gosec // G101: These are config key names, not actual credentials.
const (
	keyEmbedProvider = "embedding.provider"
	keyEmbedModel    = "embedding.model"
	keyEmbedBaseURL  = "embedding.base_url"
	keyEmbedAPIKey   = "embedding.api_key"
	keyLLMProvider   = "llm.provider"
	keyLLMModel      = "llm.model"
	keyLLMBaseURL    = "llm.base_url"
	keyLLMAPIKey     = "llm.api_key"

	keyVectorBackend    = "vector_index.backend"
	keyVectorCollection = "vector_index.collection"
	keyQdrantURL        = "vector_index.qdrant_url"
	keyQdrantAPIKey     = "vector_index.qdrant_api_key"

	keyCacheBackend   = "cache.backend"
	keyCacheTTL       = "cache.ttl"
	keyCachePrefix    = "cache.key_prefix"
	keyRedisURL       = "cache.redis_url"
	keyRedisPassword  = "cache.redis_password"
	keyRedisDB        = "cache.redis_db"
	keyChunkMax       = "chunking.max_tokens"
	keyChunkOverlap   = "chunking.overlap_tokens"
	keyTopK           = "retrieval.top_k"
	keyMinRelevance   = "retrieval.min_relevance"
	keySynthMaxTokens = "synthesis.max_tokens"
	keySynthTemp      = "synthesis.temperature"

	keyTimeoutEmbed    = "timeouts.embed"
	keyTimeoutSearch   = "timeouts.search"
	keyTimeoutGenerate = "timeouts.generate"
	keyTimeoutCache    = "timeouts.cache"

	keyRPM          = "resilience.requests_per_minute"
	keyMaxAttempts  = "resilience.max_attempts"
	keyBaseBackoff  = "resilience.base_backoff"
	keyBatchTokens  = "resilience.embed_batch_tokens"
	keyBatchSize    = "resilience.embed_batch_size"
	keyOTLPEndpoint = "telemetry.otlp_endpoint"
	keyServiceName  = "telemetry.service_name"
	keySampleRatio  = "telemetry.sample_ratio"
	keyDocsDir      = "ingest.docs_dir"
	keyInclude      = "ingest.include"
)

// SettingsService maps the flat config store onto domain.AppSettings.
type SettingsService struct {
	configStore driven.ConfigStore
}

// NewSettingsService creates a new settings service.
func NewSettingsService(configStore driven.ConfigStore) *SettingsService {
	return &SettingsService{configStore: configStore}
}

// Get retrieves current application settings.
func (s *SettingsService) Get() (*domain.AppSettings, error) {
	d := domain.DefaultAppSettings()

	settings := &domain.AppSettings{
		Embedding: domain.EmbeddingSettings{
			Provider: s.getProvider(keyEmbedProvider, d.Embedding.Provider),
			Model:    s.configStore.GetString(keyEmbedModel),
			BaseURL:  s.configStore.GetString(keyEmbedBaseURL), // No default - empty is valid for cloud providers
			APIKey:   s.configStore.GetString(keyEmbedAPIKey),
		},
		LLM: domain.LLMSettings{
			Provider: s.getProvider(keyLLMProvider, d.LLM.Provider),
			Model:    s.configStore.GetString(keyLLMModel),
			BaseURL:  s.configStore.GetString(keyLLMBaseURL),
			APIKey:   s.configStore.GetString(keyLLMAPIKey),
		},
		VectorIndex: domain.VectorIndexSettings{
			Backend:      s.getVectorBackend(d.VectorIndex.Backend),
			Collection:   s.getString(keyVectorCollection, d.VectorIndex.Collection),
			QdrantURL:    s.configStore.GetString(keyQdrantURL),
			QdrantAPIKey: s.configStore.GetString(keyQdrantAPIKey),
		},
		Cache: domain.CacheSettings{
			Backend:       s.getCacheBackend(d.Cache.Backend),
			TTL:           s.getDuration(keyCacheTTL, d.Cache.TTL),
			KeyPrefix:     s.getString(keyCachePrefix, d.Cache.KeyPrefix),
			RedisURL:      s.configStore.GetString(keyRedisURL),
			RedisPassword: s.configStore.GetString(keyRedisPassword),
			RedisDB:       s.configStore.GetInt(keyRedisDB),
		},
		Chunking: domain.ChunkingSettings{
			MaxTokens:     s.getInt(keyChunkMax, d.Chunking.MaxTokens),
			OverlapTokens: s.getInt(keyChunkOverlap, d.Chunking.OverlapTokens),
		},
		Retrieval: domain.RetrievalSettings{
			TopK:         s.getInt(keyTopK, d.Retrieval.TopK),
			MinRelevance: s.getFloat(keyMinRelevance, d.Retrieval.MinRelevance),
		},
		Synthesis: domain.SynthesisSettings{
			MaxTokens:   s.getInt(keySynthMaxTokens, d.Synthesis.MaxTokens),
			Temperature: s.getFloat(keySynthTemp, d.Synthesis.Temperature),
		},
		Timeouts: domain.TimeoutSettings{
			Embed:    s.getDuration(keyTimeoutEmbed, d.Timeouts.Embed),
			Search:   s.getDuration(keyTimeoutSearch, d.Timeouts.Search),
			Generate: s.getDuration(keyTimeoutGenerate, d.Timeouts.Generate),
			Cache:    s.getDuration(keyTimeoutCache, d.Timeouts.Cache),
		},
		Resilience: domain.ResilienceSettings{
			RequestsPerMinute: s.getInt(keyRPM, d.Resilience.RequestsPerMinute),
			MaxAttempts:       s.getInt(keyMaxAttempts, d.Resilience.MaxAttempts),
			BaseBackoff:       s.getDuration(keyBaseBackoff, d.Resilience.BaseBackoff),
			EmbedBatchTokens:  s.getInt(keyBatchTokens, d.Resilience.EmbedBatchTokens),
			EmbedBatchSize:    s.getInt(keyBatchSize, d.Resilience.EmbedBatchSize),
		},
		Telemetry: domain.TelemetrySettings{
			OTLPEndpoint: s.configStore.GetString(keyOTLPEndpoint),
			ServiceName:  s.getString(keyServiceName, d.Telemetry.ServiceName),
			SampleRatio:  s.getFloat(keySampleRatio, d.Telemetry.SampleRatio),
		},
		Ingest: domain.IngestSettings{
			DocsDir: s.configStore.GetString(keyDocsDir),
			Include: d.Ingest.Include,
		},
	}
	if include := s.configStore.GetStringSlice(keyInclude); len(include) > 0 {
		settings.Ingest.Include = include
	}

	// Fill provider default models
	if settings.Embedding.Model == "" {
		settings.Embedding.Model = domain.DefaultEmbeddingModels()[settings.Embedding.Provider]
	}
	if settings.LLM.Model == "" {
		settings.LLM.Model = domain.DefaultLLMModels()[settings.LLM.Provider]
	}

	return settings, nil
}

// Save persists application settings.
func (s *SettingsService) Save(settings *domain.AppSettings) error {
	values := []struct {
		key   string
		value any
	}{
		{keyEmbedProvider, settings.Embedding.Provider.String()},
		{keyEmbedModel, settings.Embedding.Model},
		{keyEmbedBaseURL, settings.Embedding.BaseURL},
		{keyLLMProvider, settings.LLM.Provider.String()},
		{keyLLMModel, settings.LLM.Model},
		{keyLLMBaseURL, settings.LLM.BaseURL},
		{keyVectorBackend, string(settings.VectorIndex.Backend)},
		{keyVectorCollection, settings.VectorIndex.Collection},
		{keyQdrantURL, settings.VectorIndex.QdrantURL},
		{keyCacheBackend, string(settings.Cache.Backend)},
		{keyCacheTTL, settings.Cache.TTL.String()},
		{keyCachePrefix, settings.Cache.KeyPrefix},
		{keyRedisURL, settings.Cache.RedisURL},
		{keyRedisDB, settings.Cache.RedisDB},
		{keyChunkMax, settings.Chunking.MaxTokens},
		{keyChunkOverlap, settings.Chunking.OverlapTokens},
		{keyTopK, settings.Retrieval.TopK},
		{keyMinRelevance, settings.Retrieval.MinRelevance},
		{keySynthMaxTokens, settings.Synthesis.MaxTokens},
		{keySynthTemp, settings.Synthesis.Temperature},
		{keyTimeoutEmbed, settings.Timeouts.Embed.String()},
		{keyTimeoutSearch, settings.Timeouts.Search.String()},
		{keyTimeoutGenerate, settings.Timeouts.Generate.String()},
		{keyTimeoutCache, settings.Timeouts.Cache.String()},
		{keyRPM, settings.Resilience.RequestsPerMinute},
		{keyMaxAttempts, settings.Resilience.MaxAttempts},
		{keyBaseBackoff, settings.Resilience.BaseBackoff.String()},
		{keyBatchTokens, settings.Resilience.EmbedBatchTokens},
		{keyBatchSize, settings.Resilience.EmbedBatchSize},
		{keyOTLPEndpoint, settings.Telemetry.OTLPEndpoint},
		{keyServiceName, settings.Telemetry.ServiceName},
		{keySampleRatio, settings.Telemetry.SampleRatio},
		{keyDocsDir, settings.Ingest.DocsDir},
		{keyInclude, settings.Ingest.Include},
	}
	for _, v := range values {
		if err := s.configStore.Set(v.key, v.value); err != nil {
			return fmt.Errorf("save %s: %w", v.key, err)
		}
	}

	// Secrets are only written when present
	secrets := map[string]string{
		keyEmbedAPIKey:   settings.Embedding.APIKey,
		keyLLMAPIKey:     settings.LLM.APIKey,
		keyQdrantAPIKey:  settings.VectorIndex.QdrantAPIKey,
		keyRedisPassword: settings.Cache.RedisPassword,
	}
	for key, value := range secrets {
		if value == "" {
			continue
		}
		if err := s.configStore.Set(key, value); err != nil {
			return fmt.Errorf("save %s: %w", key, err)
		}
	}

	return nil
}

// Validate checks that the settings can build a working pipeline.
func (s *SettingsService) Validate() error {
	settings, err := s.Get()
	if err != nil {
		return err
	}

	var errs []error

	if !settings.Embedding.IsConfigured() {
		errs = append(errs, errors.New("embedding provider is not configured"))
	} else if !settings.Embedding.Provider.SupportsEmbeddings() {
		errs = append(errs, fmt.Errorf("provider %s does not support embeddings", settings.Embedding.Provider))
	}
	if !settings.LLM.IsConfigured() {
		errs = append(errs, errors.New("LLM provider is not configured"))
	}

	if settings.VectorIndex.Backend == domain.VectorBackendQdrant && settings.VectorIndex.QdrantURL == "" {
		errs = append(errs, errors.New("qdrant backend requires vector_index.qdrant_url"))
	}
	if settings.Cache.Backend == domain.CacheBackendRedis && settings.Cache.RedisURL == "" {
		errs = append(errs, errors.New("redis cache requires cache.redis_url"))
	}

	if settings.Chunking.OverlapTokens >= settings.Chunking.MaxTokens {
		errs = append(errs, fmt.Errorf("chunking overlap %d must be below max tokens %d",
			settings.Chunking.OverlapTokens, settings.Chunking.MaxTokens))
	}
	if r := settings.Retrieval.MinRelevance; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("retrieval.min_relevance %.2f must be within [0, 1]", r))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrInvalidInput, errors.Join(errs...))
	}
	return nil
}

// GetDefaults returns default settings.
func (s *SettingsService) GetDefaults() domain.AppSettings {
	return domain.DefaultAppSettings()
}

// Helper methods for reading config with defaults.

func (s *SettingsService) getString(key, defaultVal string) string {
	val := s.configStore.GetString(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func (s *SettingsService) getInt(key string, defaultVal int) int {
	val := s.configStore.GetInt(key)
	if val == 0 {
		return defaultVal
	}
	return val
}

func (s *SettingsService) getFloat(key string, defaultVal float64) float64 {
	if _, exists := s.configStore.Get(key); !exists {
		return defaultVal
	}
	return s.configStore.GetFloat(key)
}

// getDuration accepts Go duration strings ("30s") or whole seconds.
func (s *SettingsService) getDuration(key string, defaultVal time.Duration) time.Duration {
	raw, exists := s.configStore.Get(key)
	if !exists {
		return defaultVal
	}
	switch v := raw.(type) {
	case string:
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	case int64:
		if v > 0 {
			return time.Duration(v) * time.Second
		}
	case int:
		if v > 0 {
			return time.Duration(v) * time.Second
		}
	case float64:
		if v > 0 {
			return time.Duration(v * float64(time.Second))
		}
	}
	return defaultVal
}

func (s *SettingsService) getProvider(key string, defaultVal domain.AIProvider) domain.AIProvider {
	provider := domain.AIProvider(s.configStore.GetString(key))
	if !provider.IsValid() {
		return defaultVal
	}
	return provider
}

func (s *SettingsService) getVectorBackend(defaultVal domain.VectorBackend) domain.VectorBackend {
	backend := domain.VectorBackend(s.configStore.GetString(keyVectorBackend))
	if !backend.IsValid() {
		return defaultVal
	}
	return backend
}

func (s *SettingsService) getCacheBackend(defaultVal domain.CacheBackend) domain.CacheBackend {
	backend := domain.CacheBackend(s.configStore.GetString(keyCacheBackend))
	if !backend.IsValid() {
		return defaultVal
	}
	return backend
}
