// Package similarity scores how well a query fits an existing segment.
package similarity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Rev4nchist/agent-arch/internal/cache"
	"github.com/Rev4nchist/agent-arch/internal/memory"
	"github.com/Rev4nchist/agent-arch/internal/policy"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

const (
	segmentKeyPrefix = "segment:"

	// segmentEmbedTimeout bounds a shared segment embedding call, which
	// outlives the request that started it.
	segmentEmbedTimeout = 5 * time.Second
)

// Engine scores queries against segments using cached segment embeddings,
// falling back to KeywordScore when no embedder is set or it fails.
type Engine struct {
	embedder Embedder
	cache    *cache.Cache[string, []float32]
	group    singleflight.Group
	logger   *slog.Logger

	embedTimeout time.Duration
}

// NewEngine builds an engine. A nil embedder means keyword scoring only.
func NewEngine(embedder Embedder, embeddings *cache.Cache[string, []float32], logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{embedder: embedder, cache: embeddings, logger: logger, embedTimeout: segmentEmbedTimeout}
}

// Score returns the similarity of query to seg in [0,1].
func (e *Engine) Score(ctx context.Context, query string, seg memory.Segment) float64 {
	if e.embedder == nil {
		return KeywordScore(query, seg)
	}

	qv, err := e.embedder.Embed(ctx, policy.Redact(query))
	if err != nil {
		e.logger.Warn("query embedding failed, using keyword similarity", "segment_id", seg.ID, "err", err)
		return KeywordScore(query, seg)
	}
	sv, err := e.segmentEmbedding(ctx, seg)
	if err != nil {
		e.logger.Warn("segment embedding failed, using keyword similarity", "segment_id", seg.ID, "err", err)
		return KeywordScore(query, seg)
	}
	sim, err := CosineSimilarity(qv, sv)
	if err != nil {
		e.logger.Warn("cosine similarity failed, using keyword similarity", "segment_id", seg.ID, "err", err)
		return KeywordScore(query, seg)
	}
	return clamp01(sim)
}

// Forget drops the cached embedding of a segment after its content changed.
func (e *Engine) Forget(segmentID string) {
	if e.cache != nil {
		e.cache.Delete(segmentKeyPrefix + segmentID)
	}
}

func (e *Engine) segmentEmbedding(ctx context.Context, seg memory.Segment) ([]float32, error) {
	key := segmentKeyPrefix + seg.ID
	if e.cache != nil {
		if v, ok := e.cache.Get(key); ok {
			return v, nil
		}
	}

	// The shared call is detached from the request that started it.
	v, err, _ := e.group.Do(key, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.embedTimeout)
		defer cancel()
		vec, err := e.embedder.Embed(callCtx, SegmentEmbeddingText(seg))
		if err != nil {
			return nil, fmt.Errorf("embed segment %s: %w", seg.ID, err)
		}
		if e.cache != nil {
			e.cache.Set(key, vec)
		}
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

// SegmentEmbeddingText is the text embedded for a segment: its label,
// keywords, summary and up to the last three turn queries, with inline
// credentials and other PII masked.
func SegmentEmbeddingText(seg memory.Segment) string {
	parts := make([]string, 0, 6)
	if seg.TopicLabel != "" {
		parts = append(parts, seg.TopicLabel)
	}
	if len(seg.Keywords) > 0 {
		parts = append(parts, strings.Join(seg.Keywords, " "))
	}
	if seg.Summary != "" {
		parts = append(parts, seg.Summary)
	}
	start := len(seg.Turns) - 3
	if start < 0 {
		start = 0
	}
	for _, t := range seg.Turns[start:] {
		if t.Query != "" {
			parts = append(parts, t.Query)
		}
	}
	return policy.Redact(strings.Join(parts, "\n"))
}
