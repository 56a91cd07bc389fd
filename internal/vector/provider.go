// Package vector is the vector-search and embedding provider, backed by an
// embedded chromem-go database with one collection per user.
package vector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/Rev4nchist/agent-arch/internal/memory"
	"github.com/Rev4nchist/agent-arch/internal/policy"
)

var ErrDisabled = errors.New("vector: embeddings disabled")

const (
	metaType       = "memory_type"
	metaSourceID   = "source_id"
	metaCategory   = "category"
	metaTopicLabel = "topic_label"
	metaConfidence = "confidence"
	metaCreatedAt  = "created_at"
)

// Filter restricts search results. An empty MemoryType matches all types.
type Filter struct {
	MemoryType memory.MemoryType
}

type Config struct {
	Embedder   EmbedderConfig
	PersistDir string
}

// Provider stores candidate memories and answers similarity searches.
type Provider struct {
	mu          sync.RWMutex
	db          *chromem.DB
	embed       chromem.EmbeddingFunc
	collections map[string]*chromem.Collection
	logger      *slog.Logger
	now         func() time.Time
}

func NewProvider(cfg Config, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	embed, err := NewEmbeddingFunc(cfg.Embedder)
	if err != nil {
		return nil, err
	}

	db := chromem.NewDB()
	if dir := strings.TrimSpace(cfg.PersistDir); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create vector dir: %w", err)
		}
		if db, err = chromem.NewPersistentDB(dir, false); err != nil {
			return nil, fmt.Errorf("open vector db: %w", err)
		}
	}

	return &Provider{
		db:          db,
		embed:       embed,
		collections: make(map[string]*chromem.Collection),
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// Enabled reports whether an embedding function is configured.
func (p *Provider) Enabled() bool { return p != nil && p.embed != nil }

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	if !p.Enabled() {
		return nil, ErrDisabled
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	vec, err := p.embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	return vec, nil
}

// Retrieve embeds query and searches the user's collection.
func (p *Provider) Retrieve(ctx context.Context, userID, query string, topK int, minScore float64) ([]memory.CandidateMemory, error) {
	vec, err := p.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return p.Search(ctx, userID, vec, topK, minScore, Filter{})
}

// Search returns up to topK candidates scoring at least minScore.
func (p *Provider) Search(ctx context.Context, userID string, vec []float32, topK int, minScore float64, filter Filter) ([]memory.CandidateMemory, error) {
	if topK <= 0 {
		return nil, nil
	}
	col, err := p.collection(userID)
	if err != nil {
		return nil, err
	}
	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if topK > count {
		topK = count
	}

	var where map[string]string
	if filter.MemoryType != "" {
		where = map[string]string{metaType: string(filter.MemoryType)}
	}

	// chromem rejects nResults above the number of matching documents, so
	// step down until the query fits.
	var results []chromem.Result
	for n := topK; n >= 1; n-- {
		results, err = col.QueryEmbedding(ctx, vec, n, where, nil)
		if err == nil {
			break
		}
		if !isResultCountError(err) {
			return nil, fmt.Errorf("vector query: %w", err)
		}
	}
	if err != nil {
		return nil, nil
	}

	out := make([]memory.CandidateMemory, 0, len(results))
	for _, r := range results {
		if float64(r.Similarity) < minScore {
			continue
		}
		out = append(out, toCandidate(userID, r))
	}
	return out, nil
}

// Upsert embeds and stores a candidate. SECRET facts are rejected.
func (p *Provider) Upsert(ctx context.Context, c memory.CandidateMemory) error {
	if c.Type == memory.TypeFact && memory.ParseFactCategory(c.Category) == memory.CategorySecret {
		return policy.ErrSecretFact
	}
	if !p.Enabled() {
		return ErrDisabled
	}
	if c.ID == "" {
		return errors.New("vector: candidate id is required")
	}
	col, err := p.collection(c.UserID)
	if err != nil {
		return err
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = p.now()
	}

	doc := chromem.Document{
		ID:      c.ID,
		Content: c.Content,
		Metadata: map[string]string{
			metaType:       string(c.Type),
			metaSourceID:   c.SourceID,
			metaCategory:   c.Category,
			metaTopicLabel: c.TopicLabel,
			metaConfidence: strconv.FormatFloat(c.Confidence, 'f', -1, 64),
			metaCreatedAt:  c.CreatedAt.Format(time.RFC3339),
		},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add vector document: %w", err)
	}
	return nil
}

// IndexFact stores the indexable text of a fact as a FACT candidate.
func (p *Provider) IndexFact(ctx context.Context, f memory.Fact) error {
	text, err := policy.IndexableFact(f)
	if err != nil {
		return err
	}
	return p.Upsert(ctx, memory.CandidateMemory{
		ID:         "fact:" + f.ID,
		UserID:     f.UserID,
		Content:    text,
		Type:       memory.TypeFact,
		SourceID:   f.ID,
		Category:   string(f.Category),
		Confidence: f.Confidence,
		CreatedAt:  f.CreatedAt,
	})
}

// IndexSegmentSummary stores a PII-redacted summary of seg as a
// SEGMENT_SUMMARY candidate.
func (p *Provider) IndexSegmentSummary(ctx context.Context, seg memory.Segment) error {
	text := seg.TopicLabel
	if seg.Summary != "" {
		text += ": " + seg.Summary
	}
	if len(seg.Keywords) > 0 {
		text += " (" + strings.Join(seg.Keywords, ", ") + ")"
	}
	text, _ = policy.RedactPII(text)
	return p.Upsert(ctx, memory.CandidateMemory{
		ID:         "segment:" + seg.ID,
		UserID:     seg.UserID,
		Content:    text,
		Type:       memory.TypeSegmentSummary,
		SourceID:   seg.ID,
		TopicLabel: seg.TopicLabel,
		Confidence: 1,
		CreatedAt:  seg.LastActivityAt,
	})
}

func (p *Provider) Delete(ctx context.Context, userID, id string) error {
	col, err := p.collection(userID)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("delete vector document: %w", err)
	}
	return nil
}

// DeleteUser drops the user's whole collection.
func (p *Provider) DeleteUser(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.collections, userID)
	if err := p.db.DeleteCollection(collectionName(userID)); err != nil {
		return fmt.Errorf("delete vector collection: %w", err)
	}
	return nil
}

// Count returns the number of documents stored for a user.
func (p *Provider) Count(userID string) int {
	col, err := p.collection(userID)
	if err != nil {
		return 0
	}
	return col.Count()
}

func (p *Provider) Close() error { return nil }

func (p *Provider) collection(userID string) (*chromem.Collection, error) {
	p.mu.RLock()
	col, ok := p.collections[userID]
	p.mu.RUnlock()
	if ok {
		return col, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if col, ok := p.collections[userID]; ok {
		return col, nil
	}
	col, err := p.db.GetOrCreateCollection(collectionName(userID), nil, p.embed)
	if err != nil {
		return nil, fmt.Errorf("create vector collection: %w", err)
	}
	p.collections[userID] = col
	return col, nil
}

func collectionName(userID string) string {
	if userID == "" {
		return "global"
	}
	return "user_" + userID
}

func isResultCountError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "nResults") || strings.Contains(msg, "number of documents")
}

func toCandidate(userID string, r chromem.Result) memory.CandidateMemory {
	c := memory.CandidateMemory{
		ID:         r.ID,
		UserID:     userID,
		Content:    r.Content,
		Type:       memory.MemoryType(r.Metadata[metaType]),
		SourceID:   r.Metadata[metaSourceID],
		Score:      float64(r.Similarity),
		Category:   r.Metadata[metaCategory],
		TopicLabel: r.Metadata[metaTopicLabel],
	}
	c.Confidence, _ = strconv.ParseFloat(r.Metadata[metaConfidence], 64)
	c.CreatedAt, _ = time.Parse(time.RFC3339, r.Metadata[metaCreatedAt])
	return c
}
