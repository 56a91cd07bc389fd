package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" || cfg.MetricsNamespace != "hmlr" {
		t.Fatalf("BindAddr = %q MetricsNamespace = %q", cfg.BindAddr, cfg.MetricsNamespace)
	}
	if !cfg.Enabled || !cfg.FactExtractionEnabled || !cfg.ProfileUpdateEnabled {
		t.Fatalf("feature flags = %v/%v/%v, want all enabled", cfg.Enabled, cfg.FactExtractionEnabled, cfg.ProfileUpdateEnabled)
	}
	if cfg.SimilarityThreshold != 0.7 || cfg.MinSimilarityScore != 0.3 {
		t.Fatalf("threshold = %v min score = %v, want 0.7/0.3", cfg.SimilarityThreshold, cfg.MinSimilarityScore)
	}
	if cfg.EmbeddingCacheMaxSize != 1000 || cfg.EmbeddingCacheTTL() != time.Hour {
		t.Fatalf("cache = %d/%v, want 1000/1h", cfg.EmbeddingCacheMaxSize, cfg.EmbeddingCacheTTL())
	}
	if cfg.EmbeddingProvider != "hash" || cfg.EmbeddingDim != 256 {
		t.Fatalf("embedding = %s/%d, want hash/256", cfg.EmbeddingProvider, cfg.EmbeddingDim)
	}
	if cfg.LookupTimeout != 3*time.Second || cfg.CacheSweepSpec != "@every 5m" {
		t.Fatalf("LookupTimeout = %v CacheSweepSpec = %q", cfg.LookupTimeout, cfg.CacheSweepSpec)
	}
}

func TestLoadOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("HMLR_ENABLED", "off")
	t.Setenv("HMLR_SIMILARITY_THRESHOLD", "0.65")
	t.Setenv("HMLR_EMBEDDING_CACHE_MAX_SIZE", "3")
	t.Setenv("EMBEDDING_PROVIDER", "OpenAI")
	t.Setenv("HMLR_LOOKUP_TIMEOUT", "750ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Enabled {
		t.Fatalf("Enabled = true, want false")
	}
	if cfg.SimilarityThreshold != 0.65 || cfg.EmbeddingCacheMaxSize != 3 {
		t.Fatalf("threshold = %v size = %d", cfg.SimilarityThreshold, cfg.EmbeddingCacheMaxSize)
	}
	if cfg.EmbeddingProvider != "openai" || cfg.LookupTimeout != 750*time.Millisecond {
		t.Fatalf("provider = %q timeout = %v", cfg.EmbeddingProvider, cfg.LookupTimeout)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"HMLR_SIMILARITY_THRESHOLD":     "1.5",
		"HMLR_MIN_SIMILARITY_SCORE":     "-0.1",
		"HMLR_EMBEDDING_CACHE_MAX_SIZE": "0",
		"HMLR_MAX_CANDIDATES":           "abc",
		"HMLR_LOOKUP_TIMEOUT":           "10ms",
		"HMLR_BACKGROUND_WORKERS":       "0",
		"HMLR_ENABLED":                  "maybe",
		"EMBEDDING_PROVIDER":            "word2vec",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(key, value)
			_, err := Load()
			if err == nil {
				t.Fatalf("Load() error = nil, want failure for %s=%s", key, value)
			}
			if !strings.Contains(err.Error(), key) {
				t.Fatalf("Load() error = %v, want mention of %s", err, key)
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"DATABASE_URL",
		"SQLITE_PATH",
		"HMLR_ENABLED",
		"HMLR_FACT_EXTRACTION_ENABLED",
		"HMLR_PROFILE_UPDATE_ENABLED",
		"HMLR_SIMILARITY_THRESHOLD",
		"HMLR_EMBEDDING_CACHE_MAX_SIZE",
		"HMLR_EMBEDDING_CACHE_TTL_MINUTES",
		"HMLR_MAX_CANDIDATES",
		"HMLR_MIN_SIMILARITY_SCORE",
		"HMLR_MAX_CONTEXT_TOKENS",
		"HMLR_LOOKUP_TIMEOUT",
		"HMLR_BACKGROUND_WORKERS",
		"HMLR_BACKGROUND_QUEUE",
		"HMLR_CACHE_SWEEP_SPEC",
		"EMBEDDING_PROVIDER",
		"EMBEDDING_BASE_URL",
		"EMBEDDING_API_KEY",
		"EMBEDDING_MODEL",
		"EMBEDDING_DIM",
		"VECTOR_PERSIST_DIR",
		"ANTHROPIC_API_KEY",
		"ANTHROPIC_BASE_URL",
		"LLM_MODEL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
