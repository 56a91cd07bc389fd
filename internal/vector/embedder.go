package vector

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	chromem "github.com/philippgille/chromem-go"
)

// Embedding backends.
const (
	BackendHash   = "hash"
	BackendOpenAI = "openai"
	BackendOllama = "ollama"
	BackendNone   = "none"
)

var ErrEmptyText = errors.New("vector: empty text")

// EmbedderConfig selects the embedding function handed to chromem.
type EmbedderConfig struct {
	Backend string
	BaseURL string
	APIKey  string
	Model   string
	Dim     int
}

// NewEmbeddingFunc returns the embedding function for cfg.Backend, or nil
// for BackendNone.
func NewEmbeddingFunc(cfg EmbedderConfig) (chromem.EmbeddingFunc, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendHash:
		return NewHashEmbeddingFunc(cfg.Dim), nil
	case BackendOpenAI:
		if cfg.BaseURL == "" {
			cfg.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Model == "" {
			cfg.Model = string(chromem.EmbeddingModelOpenAI3Small)
		}
		return chromem.NewEmbeddingFuncOpenAICompat(cfg.BaseURL, cfg.APIKey, cfg.Model, nil), nil
	case BackendOllama:
		if cfg.Model == "" {
			cfg.Model = "nomic-embed-text"
		}
		return chromem.NewEmbeddingFuncOllama(cfg.Model, cfg.BaseURL), nil
	case BackendNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown embedding backend %q", cfg.Backend)
	}
}

// NewHashEmbeddingFunc returns a local feature-hashing embedder: each
// lowercased token lands in an FNV bucket with a hash-derived sign and the
// result is unit length. Texts sharing vocabulary score close together.
func NewHashEmbeddingFunc(dim int) chromem.EmbeddingFunc {
	if dim <= 0 {
		dim = 256
	}
	return func(_ context.Context, text string) ([]float32, error) {
		tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if len(tokens) == 0 {
			return nil, ErrEmptyText
		}
		vec := make([]float32, dim)
		for _, tok := range tokens {
			h := fnv.New64a()
			_, _ = h.Write([]byte(tok))
			sum := h.Sum64()
			sign := float32(1)
			if sum>>63 == 1 {
				sign = -1
			}
			vec[sum%uint64(dim)] += sign
		}
		return normalize(vec), nil
	}
}

func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
	return vec
}
