package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the memory routing service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	DatabaseURL string
	SQLitePath  string

	Enabled               bool
	FactExtractionEnabled bool
	ProfileUpdateEnabled  bool

	SimilarityThreshold      float64
	EmbeddingCacheMaxSize    int
	EmbeddingCacheTTLMinutes int
	MaxCandidates            int
	MinSimilarityScore       float64
	MaxContextTokens         int
	LookupTimeout            time.Duration

	BackgroundWorkers int
	BackgroundQueue   int
	CacheSweepSpec    string

	EmbeddingProvider string
	EmbeddingBaseURL  string
	EmbeddingAPIKey   string
	EmbeddingModel    string
	EmbeddingDim      int
	VectorPersistDir  string

	AnthropicAPIKey  string
	AnthropicBaseURL string
	LLMModel         string
}

// EmbeddingCacheTTL is the cache TTL as a duration.
func (c Config) EmbeddingCacheTTL() time.Duration {
	return time.Duration(c.EmbeddingCacheTTLMinutes) * time.Minute
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "hmlr"),
		ShutdownTimeout:  15 * time.Second,

		DatabaseURL: stringsTrimSpace("DATABASE_URL"),
		SQLitePath:  stringsTrimSpace("SQLITE_PATH"),

		Enabled:               true,
		FactExtractionEnabled: true,
		ProfileUpdateEnabled:  true,

		SimilarityThreshold:      0.7,
		EmbeddingCacheMaxSize:    1000,
		EmbeddingCacheTTLMinutes: 60,
		MaxCandidates:            10,
		MinSimilarityScore:       0.3,
		MaxContextTokens:         2000,
		LookupTimeout:            3 * time.Second,

		BackgroundWorkers: 2,
		BackgroundQueue:   256,
		CacheSweepSpec:    envOrDefault("HMLR_CACHE_SWEEP_SPEC", "@every 5m"),

		EmbeddingProvider: strings.ToLower(envOrDefault("EMBEDDING_PROVIDER", "hash")),
		EmbeddingBaseURL:  stringsTrimSpace("EMBEDDING_BASE_URL"),
		EmbeddingAPIKey:   stringsTrimSpace("EMBEDDING_API_KEY"),
		EmbeddingModel:    stringsTrimSpace("EMBEDDING_MODEL"),
		EmbeddingDim:      256,
		VectorPersistDir:  stringsTrimSpace("VECTOR_PERSIST_DIR"),

		AnthropicAPIKey:  stringsTrimSpace("ANTHROPIC_API_KEY"),
		AnthropicBaseURL: stringsTrimSpace("ANTHROPIC_BASE_URL"),
		LLMModel:         envOrDefault("LLM_MODEL", "claude-3-5-haiku-latest"),
	}

	var err error
	if cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin); err != nil {
		return Config{}, err
	}
	if cfg.Enabled, err = boolFromEnv("HMLR_ENABLED", cfg.Enabled); err != nil {
		return Config{}, err
	}
	if cfg.FactExtractionEnabled, err = boolFromEnv("HMLR_FACT_EXTRACTION_ENABLED", cfg.FactExtractionEnabled); err != nil {
		return Config{}, err
	}
	if cfg.ProfileUpdateEnabled, err = boolFromEnv("HMLR_PROFILE_UPDATE_ENABLED", cfg.ProfileUpdateEnabled); err != nil {
		return Config{}, err
	}
	if cfg.SimilarityThreshold, err = floatFromEnv("HMLR_SIMILARITY_THRESHOLD", cfg.SimilarityThreshold); err != nil {
		return Config{}, err
	}
	if cfg.EmbeddingCacheMaxSize, err = intFromEnv("HMLR_EMBEDDING_CACHE_MAX_SIZE", cfg.EmbeddingCacheMaxSize); err != nil {
		return Config{}, err
	}
	if cfg.EmbeddingCacheTTLMinutes, err = intFromEnv("HMLR_EMBEDDING_CACHE_TTL_MINUTES", cfg.EmbeddingCacheTTLMinutes); err != nil {
		return Config{}, err
	}
	if cfg.MaxCandidates, err = intFromEnv("HMLR_MAX_CANDIDATES", cfg.MaxCandidates); err != nil {
		return Config{}, err
	}
	if cfg.MinSimilarityScore, err = floatFromEnv("HMLR_MIN_SIMILARITY_SCORE", cfg.MinSimilarityScore); err != nil {
		return Config{}, err
	}
	if cfg.MaxContextTokens, err = intFromEnv("HMLR_MAX_CONTEXT_TOKENS", cfg.MaxContextTokens); err != nil {
		return Config{}, err
	}
	if cfg.LookupTimeout, err = durationFromEnv("HMLR_LOOKUP_TIMEOUT", cfg.LookupTimeout); err != nil {
		return Config{}, err
	}
	if cfg.BackgroundWorkers, err = intFromEnv("HMLR_BACKGROUND_WORKERS", cfg.BackgroundWorkers); err != nil {
		return Config{}, err
	}
	if cfg.BackgroundQueue, err = intFromEnv("HMLR_BACKGROUND_QUEUE", cfg.BackgroundQueue); err != nil {
		return Config{}, err
	}
	if cfg.EmbeddingDim, err = intFromEnv("EMBEDDING_DIM", cfg.EmbeddingDim); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("HMLR_SIMILARITY_THRESHOLD must be within [0,1]")
	}
	if c.MinSimilarityScore < 0 || c.MinSimilarityScore > 1 {
		return fmt.Errorf("HMLR_MIN_SIMILARITY_SCORE must be within [0,1]")
	}
	if c.EmbeddingCacheMaxSize <= 0 {
		return fmt.Errorf("HMLR_EMBEDDING_CACHE_MAX_SIZE must be positive")
	}
	if c.EmbeddingCacheTTLMinutes <= 0 {
		return fmt.Errorf("HMLR_EMBEDDING_CACHE_TTL_MINUTES must be positive")
	}
	if c.MaxCandidates <= 0 {
		return fmt.Errorf("HMLR_MAX_CANDIDATES must be positive")
	}
	if c.MaxContextTokens <= 0 {
		return fmt.Errorf("HMLR_MAX_CONTEXT_TOKENS must be positive")
	}
	if c.LookupTimeout < 100*time.Millisecond {
		return fmt.Errorf("HMLR_LOOKUP_TIMEOUT must be at least 100ms")
	}
	if c.BackgroundWorkers <= 0 {
		return fmt.Errorf("HMLR_BACKGROUND_WORKERS must be positive")
	}
	if c.BackgroundQueue <= 0 {
		return fmt.Errorf("HMLR_BACKGROUND_QUEUE must be positive")
	}
	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("EMBEDDING_DIM must be positive")
	}
	switch c.EmbeddingProvider {
	case "hash", "openai", "ollama", "none":
	default:
		return fmt.Errorf("EMBEDDING_PROVIDER must be one of hash, openai, ollama, none")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
