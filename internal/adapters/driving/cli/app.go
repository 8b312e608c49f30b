package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/custodia-labs/policyqa/internal/adapters/driven/ai"
	cachemem "github.com/custodia-labs/policyqa/internal/adapters/driven/cache/memory"
	cacheredis "github.com/custodia-labs/policyqa/internal/adapters/driven/cache/redis"
	"github.com/custodia-labs/policyqa/internal/adapters/driven/config/env"
	"github.com/custodia-labs/policyqa/internal/adapters/driven/config/file"
	"github.com/custodia-labs/policyqa/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/policyqa/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/policyqa/internal/adapters/driven/vector/qdrant"
	"github.com/custodia-labs/policyqa/internal/connectors/filesystem"
	"github.com/custodia-labs/policyqa/internal/core/domain"
	"github.com/custodia-labs/policyqa/internal/core/ports/driven"
	"github.com/custodia-labs/policyqa/internal/core/ports/driving"
	"github.com/custodia-labs/policyqa/internal/core/services"
	"github.com/custodia-labs/policyqa/internal/logger"
	"github.com/custodia-labs/policyqa/internal/normalisers"
	"github.com/custodia-labs/policyqa/internal/normalisers/markdown"
	"github.com/custodia-labs/policyqa/internal/normalisers/pdf"
	"github.com/custodia-labs/policyqa/internal/normalisers/plaintext"
	"github.com/custodia-labs/policyqa/internal/postprocessors/chunker"
	"github.com/custodia-labs/policyqa/internal/telemetry"
)

// App holds the services a command needs. It owns every client it opens
// and releases them in Close.
type App struct {
	Settings  *domain.AppSettings
	Query     driving.QueryService
	Cache     driving.CacheService
	Ingestion driving.IngestionService
	Sync      driving.SyncService
	Catalog   driving.CatalogService

	closers []func() error
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// AppOptions are the global flags that shape how the app is built.
type AppOptions struct {
	ConfigDir string
	DataDir   string
	EnvFiles  []string

	// DocsDir overrides ingest.docs_dir.
	DocsDir string

	// Progress receives ingestion progress. May be nil.
	Progress services.ProgressFunc

	// FileOnly skips environment overrides so saved settings only contain
	// what the user entered.
	FileOnly bool
}

// appFactory builds the app for a command. Tests replace it.
var appFactory = NewApp

// settingsFactory builds the settings service. Tests replace it.
var settingsFactory = NewSettingsService

// openApp builds the app from the global flags.
func openApp(ctx context.Context, progress services.ProgressFunc) (*App, error) {
	opts := globalOptions()
	opts.Progress = progress
	return appFactory(ctx, opts)
}

// NewSettingsService layers .env files, the TOML config file and
// environment variables.
func NewSettingsService(opts AppOptions) (driving.SettingsService, error) {
	if err := env.LoadDotEnv(opts.EnvFiles...); err != nil {
		return nil, err
	}

	store, err := file.NewConfigStore(opts.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	logger.Debug("Config file: %s", store.Path())

	if opts.FileOnly {
		return services.NewSettingsService(store), nil
	}
	return services.NewSettingsService(env.New(store)), nil
}

// NewApp wires adapters and services from settings.
func NewApp(ctx context.Context, opts AppOptions) (*App, error) {
	settingsService, err := settingsFactory(opts)
	if err != nil {
		return nil, err
	}
	settings, err := settingsService.Get()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if opts.DocsDir != "" {
		settings.Ingest.DocsDir = opts.DocsDir
	}

	app := &App{Settings: settings}
	if err := app.wire(ctx, opts); err != nil {
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) wire(ctx context.Context, opts AppOptions) error {
	settings := a.Settings

	shutdown, err := telemetry.InitTracer(ctx, settings.Telemetry, version)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	a.onClose(func() error { return shutdown(context.Background()) })

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		logger.Warn("Metrics disabled: %v", err)
		metrics = nil
	}

	index, manifests, err := a.openIndex(settings, opts.DataDir)
	if err != nil {
		return err
	}

	backend, err := a.openCache(ctx, settings)
	if err != nil {
		return err
	}

	providers, err := ai.NewProviders(ctx, settings, ai.Options{Metrics: metrics})
	if err != nil {
		return err
	}
	a.onClose(func() error { providers.Close(); return nil })

	cache := services.NewAnswerCache(backend, settings.Cache,
		services.WithCacheTimeout(settings.Timeouts.Cache),
		services.WithCacheMetrics(metrics))

	ingestionOpts := []services.IngestionOption{services.WithIngestionMetrics(metrics)}
	if opts.Progress != nil {
		ingestionOpts = append(ingestionOpts, services.WithProgress(opts.Progress))
	}
	ingestion := services.NewIngestionPipeline(
		chunker.New(
			chunker.WithMaxTokens(settings.Chunking.MaxTokens),
			chunker.WithOverlap(settings.Chunking.OverlapTokens),
		),
		providers.Embedding,
		index,
		manifests,
		cache,
		services.IngestionConfig{
			MaxTokens:     settings.Chunking.MaxTokens,
			OverlapTokens: settings.Chunking.OverlapTokens,
			BatchTokens:   settings.Resilience.EmbedBatchTokens,
			BatchSize:     settings.Resilience.EmbedBatchSize,
			EmbedTimeout:  settings.Timeouts.Embed,
		},
		ingestionOpts...,
	)

	retriever := services.NewRetriever(providers.Embedding, index, "", settings.Timeouts)
	synthesizer := services.NewSynthesizer(providers.LLM, services.SynthesizerConfig{
		MinRelevance: settings.Retrieval.MinRelevance,
		MaxTokens:    settings.Synthesis.MaxTokens,
		Temperature:  settings.Synthesis.Temperature,
		Timeout:      settings.Timeouts.Generate,
	}, metrics)
	costs := services.NewCostTracker(providers.LLM.ModelName())

	a.Query = services.NewQueryOrchestrator(cache, retriever, synthesizer, costs,
		services.WithTopK(settings.Retrieval.TopK),
		services.WithOrchestratorMetrics(metrics))
	a.Cache = cache
	a.Ingestion = ingestion
	a.Catalog = services.NewCatalog(manifests)

	if settings.Ingest.DocsDir != "" {
		source := filesystem.New(filesystem.Config{
			Root:    settings.Ingest.DocsDir,
			Include: settings.Ingest.Include,
		})
		a.onClose(source.Close)
		a.Sync = services.NewSyncOrchestrator(source, newNormaliserRegistry(), ingestion, manifests)
	}

	return nil
}

// openIndex opens the configured vector index with a matching manifest store.
func (a *App) openIndex(settings *domain.AppSettings, dataDir string) (driven.VectorIndex, driven.ManifestStore, error) {
	collection := settings.VectorIndex.Collection

	switch settings.VectorIndex.Backend {
	case domain.VectorBackendMemory:
		index := memory.NewVectorIndex(collection)
		a.onClose(index.Close)
		return index, memory.NewManifestStore(), nil

	case domain.VectorBackendQdrant:
		// Manifests stay local so reindexing can diff against them.
		store, err := a.openSQLite(dataDir)
		if err != nil {
			return nil, nil, err
		}
		index, err := qdrant.New(qdrant.Config{
			URL:        settings.VectorIndex.QdrantURL,
			APIKey:     settings.VectorIndex.QdrantAPIKey,
			Collection: collection,
			Timeout:    settings.Timeouts.Search,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", domain.ErrIndexUnavailable, err)
		}
		a.onClose(index.Close)
		return index, store.ManifestStore(), nil

	default:
		store, err := a.openSQLite(dataDir)
		if err != nil {
			return nil, nil, err
		}
		return store.VectorIndex(collection), store.ManifestStore(), nil
	}
}

func (a *App) openSQLite(dataDir string) (*sqlite.Store, error) {
	store, err := sqlite.NewStore(dataDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrIndexUnavailable, err)
	}
	a.onClose(store.Close)
	logger.Debug("Index database: %s", store.Path())
	return store, nil
}

// openCache opens the configured answer cache backend.
func (a *App) openCache(ctx context.Context, settings *domain.AppSettings) (driven.CacheBackend, error) {
	if settings.Cache.Backend != domain.CacheBackendRedis {
		backend := cachemem.New()
		a.onClose(backend.Close)
		return backend, nil
	}

	backend, err := cacheredis.New(ctx, settings.Cache.RedisURL, settings.Cache.RedisPassword, settings.Cache.RedisDB)
	if err != nil {
		// The cache is an optimisation; answering still works without it.
		logger.Warn("Redis unavailable, using in-memory cache: %v", err)
		fallback := cachemem.New()
		a.onClose(fallback.Close)
		return fallback, nil
	}
	a.onClose(backend.Close)
	return backend, nil
}

// newNormaliserRegistry registers the loaders for supported policy formats.
func newNormaliserRegistry() *normalisers.Registry {
	return normalisers.NewRegistry(
		plaintext.New(),
		markdown.New(),
		pdf.New(),
	)
}

// resolveDir makes a flag path absolute for display.
func resolveDir(dir string) string {
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return dir
}
