package domain

import "time"

const unknownDescription = "Unknown"

// AIProvider identifies an AI service provider for embeddings or LLM.
type AIProvider string

// Available AI providers.
const (
	// AIProviderOllama is local Ollama instance.
	AIProviderOllama AIProvider = "ollama"

	// AIProviderOpenAI is OpenAI cloud API.
	AIProviderOpenAI AIProvider = "openai"

	// AIProviderAnthropic is Anthropic cloud API.
	AIProviderAnthropic AIProvider = "anthropic"

	// AIProviderGemini is Google Generative AI cloud API.
	AIProviderGemini AIProvider = "gemini"
)

// IsValid returns true if the AI provider is recognised.
func (p AIProvider) IsValid() bool {
	switch p {
	case AIProviderOllama, AIProviderOpenAI, AIProviderAnthropic, AIProviderGemini:
		return true
	default:
		return false
	}
}

// RequiresAPIKey returns true if this provider needs an API key.
func (p AIProvider) RequiresAPIKey() bool {
	return p == AIProviderOpenAI || p == AIProviderAnthropic || p == AIProviderGemini
}

// SupportsEmbeddings returns true if the provider offers an embedding API.
func (p AIProvider) SupportsEmbeddings() bool {
	return p == AIProviderOllama || p == AIProviderOpenAI || p == AIProviderGemini
}

// String returns the string representation.
func (p AIProvider) String() string {
	return string(p)
}

// Description returns a human-readable description of the provider.
func (p AIProvider) Description() string {
	switch p {
	case AIProviderOllama:
		return "Ollama (local)"
	case AIProviderOpenAI:
		return "OpenAI (cloud)"
	case AIProviderAnthropic:
		return "Anthropic (cloud)"
	case AIProviderGemini:
		return "Google Gemini (cloud)"
	default:
		return unknownDescription
	}
}

// EmbeddingSettings holds embedding provider configuration.
type EmbeddingSettings struct {
	// Provider is the embedding service provider.
	Provider AIProvider

	// Model is the embedding model name.
	Model string

	// BaseURL is the API endpoint (for Ollama or compatible APIs).
	BaseURL string

	// APIKey is the API key (for cloud providers).
	APIKey string
}

// IsConfigured returns true if the embedding provider is set up.
func (e EmbeddingSettings) IsConfigured() bool {
	if !e.Provider.IsValid() {
		return false
	}
	if e.Provider.RequiresAPIKey() && e.APIKey == "" {
		return false
	}
	return true
}

// LLMSettings holds LLM provider configuration.
type LLMSettings struct {
	// Provider is the LLM service provider.
	Provider AIProvider

	// Model is the LLM model name.
	Model string

	// BaseURL is the API endpoint (for Ollama or compatible APIs).
	BaseURL string

	// APIKey is the API key (for cloud providers).
	APIKey string
}

// IsConfigured returns true if the LLM provider is set up.
func (l LLMSettings) IsConfigured() bool {
	if !l.Provider.IsValid() {
		return false
	}
	if l.Provider.RequiresAPIKey() && l.APIKey == "" {
		return false
	}
	return true
}

// VectorBackend selects the vector index implementation.
type VectorBackend string

// Available vector backends.
const (
	VectorBackendMemory VectorBackend = "memory"
	VectorBackendSQLite VectorBackend = "sqlite"
	VectorBackendQdrant VectorBackend = "qdrant"
)

// IsValid returns true if the backend is recognised.
func (b VectorBackend) IsValid() bool {
	switch b {
	case VectorBackendMemory, VectorBackendSQLite, VectorBackendQdrant:
		return true
	default:
		return false
	}
}

// VectorIndexSettings holds vector index configuration.
type VectorIndexSettings struct {
	// Backend selects memory, sqlite or qdrant.
	Backend VectorBackend

	// Collection is the named collection holding chunk embeddings.
	Collection string

	// QdrantURL is the Qdrant REST endpoint.
	QdrantURL string

	// QdrantAPIKey is sent as the api-key header when set.
	QdrantAPIKey string
}

// CacheBackend selects the answer cache implementation.
type CacheBackend string

// Available cache backends.
const (
	CacheBackendMemory CacheBackend = "memory"
	CacheBackendRedis  CacheBackend = "redis"
)

// IsValid returns true if the backend is recognised.
func (b CacheBackend) IsValid() bool {
	return b == CacheBackendMemory || b == CacheBackendRedis
}

// CacheSettings holds answer cache configuration.
type CacheSettings struct {
	Backend CacheBackend

	// TTL is how long an answer is served from cache.
	TTL time.Duration

	// KeyPrefix namespaces cache keys in a shared backend.
	KeyPrefix string

	// RedisURL is either a redis:// URL or a host:port address.
	RedisURL      string
	RedisPassword string
	RedisDB       int
}

// ChunkingSettings holds chunker parameters. Tokens are whitespace-delimited words.
type ChunkingSettings struct {
	MaxTokens     int
	OverlapTokens int
}

// RetrievalSettings holds retriever parameters.
type RetrievalSettings struct {
	// TopK is the number of chunks passed to synthesis.
	TopK int

	// MinRelevance is the similarity floor below which chunks are ignored.
	MinRelevance float64
}

// SynthesisSettings holds LLM generation parameters.
type SynthesisSettings struct {
	MaxTokens   int
	Temperature float64
}

// TimeoutSettings bounds every external call.
type TimeoutSettings struct {
	Embed    time.Duration
	Search   time.Duration
	Generate time.Duration
	Cache    time.Duration
}

// ResilienceSettings configures rate limiting and retry for provider calls.
type ResilienceSettings struct {
	RequestsPerMinute int
	MaxAttempts       int
	BaseBackoff       time.Duration

	// EmbedBatchTokens caps the estimated tokens per embedding request.
	EmbedBatchTokens int

	// EmbedBatchSize caps the texts per embedding request.
	EmbedBatchSize int
}

// TelemetrySettings configures tracing export.
type TelemetrySettings struct {
	// OTLPEndpoint enables the OTLP gRPC trace exporter when set.
	OTLPEndpoint string

	ServiceName string
	SampleRatio float64
}

// IngestSettings configures the document source.
type IngestSettings struct {
	// DocsDir is loaded automatically when the collection does not exist.
	DocsDir string

	// Include lists doublestar patterns relative to DocsDir.
	Include []string
}

// AppSettings holds all application settings.
type AppSettings struct {
	Embedding   EmbeddingSettings
	LLM         LLMSettings
	VectorIndex VectorIndexSettings
	Cache       CacheSettings
	Chunking    ChunkingSettings
	Retrieval   RetrievalSettings
	Synthesis   SynthesisSettings
	Timeouts    TimeoutSettings
	Resilience  ResilienceSettings
	Telemetry   TelemetrySettings
	Ingest      IngestSettings
}

// DefaultCollection is the vector collection for policy chunks.
const DefaultCollection = "insurance_docs"

// DefaultAppSettings returns settings with sensible defaults.
// AI providers are left unconfigured; keys come from config or environment.
func DefaultAppSettings() AppSettings {
	return AppSettings{
		Embedding: EmbeddingSettings{},
		LLM:       LLMSettings{},
		VectorIndex: VectorIndexSettings{
			Backend:    VectorBackendSQLite,
			Collection: DefaultCollection,
		},
		Cache: CacheSettings{
			Backend:   CacheBackendMemory,
			TTL:       300 * time.Second,
			KeyPrefix: "policyqa:",
		},
		Chunking: ChunkingSettings{
			MaxTokens:     200,
			OverlapTokens: 40,
		},
		Retrieval: RetrievalSettings{
			TopK:         3,
			MinRelevance: 0.25,
		},
		Synthesis: SynthesisSettings{
			MaxTokens:   1000,
			Temperature: 0,
		},
		Timeouts: TimeoutSettings{
			Embed:    30 * time.Second,
			Search:   10 * time.Second,
			Generate: 60 * time.Second,
			Cache:    2 * time.Second,
		},
		Resilience: ResilienceSettings{
			RequestsPerMinute: 300,
			MaxAttempts:       3,
			BaseBackoff:       500 * time.Millisecond,
			EmbedBatchTokens:  8000,
			EmbedBatchSize:    64,
		},
		Telemetry: TelemetrySettings{
			ServiceName: "policyqa",
			SampleRatio: 1.0,
		},
		Ingest: IngestSettings{
			Include: []string{"**/*.txt", "**/*.md", "**/*.pdf"},
		},
	}
}

// AllEmbeddingProviders returns providers that support embeddings.
func AllEmbeddingProviders() []AIProvider {
	return []AIProvider{
		AIProviderOllama,
		AIProviderOpenAI,
		AIProviderGemini,
	}
}

// AllLLMProviders returns providers that support LLM operations.
func AllLLMProviders() []AIProvider {
	return []AIProvider{
		AIProviderOllama,
		AIProviderOpenAI,
		AIProviderAnthropic,
		AIProviderGemini,
	}
}

// DefaultEmbeddingModels returns default models for each embedding provider.
func DefaultEmbeddingModels() map[AIProvider]string {
	return map[AIProvider]string{
		AIProviderOllama: "nomic-embed-text",
		AIProviderOpenAI: "text-embedding-3-small",
		AIProviderGemini: "text-embedding-004",
	}
}

// DefaultLLMModels returns default models for each LLM provider.
func DefaultLLMModels() map[AIProvider]string {
	return map[AIProvider]string{
		AIProviderOllama:    "llama3.2",
		AIProviderOpenAI:    "gpt-4o-mini",
		AIProviderAnthropic: "claude-sonnet-4-20250514",
		AIProviderGemini:    "gemini-2.0-flash",
	}
}

// EmbeddingDimensions returns the vector dimensions for known models.
func EmbeddingDimensions() map[string]int {
	return map[string]int{
		// Ollama models
		"nomic-embed-text":  768,
		"mxbai-embed-large": 1024,
		"all-minilm":        384,
		// OpenAI models
		"text-embedding-3-small": 1536,
		"text-embedding-3-large": 3072,
		"text-embedding-ada-002": 1536,
		// Gemini models
		"text-embedding-004": 768,
	}
}
