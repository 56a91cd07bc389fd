package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	rcron "github.com/robfig/cron/v3"

	"github.com/Rev4nchist/agent-arch/internal/cache"
	"github.com/Rev4nchist/agent-arch/internal/config"
	"github.com/Rev4nchist/agent-arch/internal/crosssession"
	"github.com/Rev4nchist/agent-arch/internal/governor"
	"github.com/Rev4nchist/agent-arch/internal/hmlr"
	"github.com/Rev4nchist/agent-arch/internal/httpapi"
	"github.com/Rev4nchist/agent-arch/internal/hydrator"
	"github.com/Rev4nchist/agent-arch/internal/learning"
	"github.com/Rev4nchist/agent-arch/internal/llm"
	"github.com/Rev4nchist/agent-arch/internal/memory"
	"github.com/Rev4nchist/agent-arch/internal/observability"
	"github.com/Rev4nchist/agent-arch/internal/segments"
	"github.com/Rev4nchist/agent-arch/internal/similarity"
	"github.com/Rev4nchist/agent-arch/internal/suggestions"
	"github.com/Rev4nchist/agent-arch/internal/vector"
)

type BuildResult struct {
	Config     config.Config
	API        *httpapi.Server
	Service    *hmlr.Service
	Metrics    *observability.Metrics
	Embeddings *cache.Cache[string, []float32]

	// StoreMode names the persistence backends in use.
	StoreMode string
	// LLMEnabled reports whether fact extraction can fall back to the LLM.
	LLMEnabled bool

	// Cleanup stops background work and releases stores. Call it once on
	// shutdown.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	stores, err := memory.NewStores(ctx, cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("memory store init failed: %w", err)
	}

	vectors, err := vector.NewProvider(vector.Config{
		Embedder: vector.EmbedderConfig{
			Backend: cfg.EmbeddingProvider,
			BaseURL: cfg.EmbeddingBaseURL,
			APIKey:  cfg.EmbeddingAPIKey,
			Model:   cfg.EmbeddingModel,
			Dim:     cfg.EmbeddingDim,
		},
		PersistDir: cfg.VectorPersistDir,
	}, logger)
	if err != nil {
		_ = stores.Close()
		return nil, fmt.Errorf("vector provider init failed: %w", err)
	}

	embeddings := cache.New[string, []float32](cfg.EmbeddingCacheMaxSize, cfg.EmbeddingCacheTTL())
	engine := similarity.NewEngine(segmentEmbedder(cfg.EmbeddingProvider, vectors), embeddings, logger)

	manager := segments.NewManager(stores.Documents, segments.WithLogger(logger))

	var candidates governor.CandidateRetriever
	if vectors.Enabled() {
		candidates = vectors
	}
	router := governor.New(governor.Config{
		Threshold:     cfg.SimilarityThreshold,
		MaxCandidates: cfg.MaxCandidates,
		MinScore:      cfg.MinSimilarityScore,
		LookupTimeout: cfg.LookupTimeout,
	}, governor.Deps{
		Segments:   manager,
		Scorer:     engine,
		Facts:      stores.Facts,
		Candidates: candidates,
		Observer:   metrics,
		Logger:     logger,
	})

	crossCfg := crosssession.DefaultConfig()
	crossCfg.Enabled = cfg.Enabled
	accessor := crosssession.NewAccessor(crossCfg, manager, stores.Facts, stores.Facts, crosssession.WithLogger(logger))
	orchestrator := suggestions.NewOrchestrator(suggestions.Config{
		Enabled:     cfg.Enabled,
		MaxPage:     suggestions.DefaultConfig().MaxPage,
		MaxFollowUp: suggestions.DefaultConfig().MaxFollowUp,
	}, accessor, suggestions.DefaultCatalog(), metrics, logger)

	var completer llm.Completer
	anthropicCompleter, err := llm.NewAnthropicCompleter(llm.Config{
		APIKey:  cfg.AnthropicAPIKey,
		BaseURL: cfg.AnthropicBaseURL,
		Model:   cfg.LLMModel,
	})
	switch {
	case err == nil:
		completer = anthropicCompleter
	case errors.Is(err, llm.ErrDisabled):
		logger.Info("llm fact extraction disabled, using patterns only")
	default:
		_ = stores.Close()
		return nil, fmt.Errorf("llm completer init failed: %w", err)
	}

	var indexer learning.FactIndexer
	if vectors.Enabled() {
		indexer = vectors
	}
	learner := learning.NewLearner(learning.Config{
		FactExtraction: cfg.FactExtractionEnabled,
		ProfileUpdate:  cfg.ProfileUpdateEnabled,
	}, stores.Facts, stores.Facts, indexer, learning.NewFactExtractor(completer), learning.WithLogger(logger))
	pool := learning.NewPool(learning.PoolConfig{
		Workers:   cfg.BackgroundWorkers,
		QueueSize: cfg.BackgroundQueue,
	}, learner, metrics, logger)
	pool.Start()

	svc := hmlr.New(hmlr.Config{Enabled: cfg.Enabled}, hmlr.Deps{
		Router:      router,
		Segments:    manager,
		Profiles:    stores.Facts,
		Facts:       stores.Facts,
		Hydrator:    hydrator.New(hydrator.Config{MaxTokens: cfg.MaxContextTokens}),
		Suggestions: orchestrator,
		Vectors:     vectors,
		Embeddings:  engine,
		Background:  pool,
		Logger:      logger,
	})

	sweeper := rcron.New()
	if _, err := sweeper.AddFunc(cfg.CacheSweepSpec, func() {
		purged := embeddings.PurgeExpired()
		stats := embeddings.Stats()
		metrics.ObserveCache(stats)
		logger.Debug("embedding cache swept", "purged", purged, "size", stats.Size, "hit_rate", stats.HitRatePercent)
	}); err != nil {
		pool.Close()
		_ = stores.Close()
		return nil, fmt.Errorf("invalid cache sweep schedule %q: %w", cfg.CacheSweepSpec, err)
	}
	sweeper.Start()

	api := httpapi.New(cfg, svc, embeddings, metrics)

	cleanup := func() error {
		<-sweeper.Stop().Done()
		// Drain queued learning before the stores go away.
		pool.Close()
		var errs []string
		if err := vectors.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if err := stores.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:     cfg,
		API:        api,
		Service:    svc,
		Metrics:    metrics,
		Embeddings: embeddings,
		StoreMode:  storeMode(cfg),
		LLMEnabled: completer != nil,
		Cleanup:    cleanup,
	}, nil
}

// segmentEmbedder returns vectors when provider is a remote model and nil
// otherwise, which leaves segment similarity on keywords. Local hash
// embeddings only serve the vector index.
func segmentEmbedder(provider string, vectors similarity.Embedder) similarity.Embedder {
	if remoteEmbeddings(provider) {
		return vectors
	}
	return nil
}

func remoteEmbeddings(provider string) bool {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case vector.BackendOpenAI, vector.BackendOllama:
		return true
	default:
		return false
	}
}

func storeMode(cfg config.Config) string {
	switch {
	case strings.TrimSpace(cfg.DatabaseURL) != "":
		return "postgres"
	case strings.TrimSpace(cfg.SQLitePath) != "":
		return "in-memory+sqlite"
	default:
		return "in-memory"
	}
}
