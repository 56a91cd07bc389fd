package learning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Rev4nchist/agent-arch/internal/memory"
	"github.com/Rev4nchist/agent-arch/internal/policy"
)

const defaultMaxCommonQueries = 10

type FactSink interface {
	SaveFact(ctx context.Context, f memory.Fact) (string, error)
}

type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*memory.UserProfile, error)
	SaveProfile(ctx context.Context, p memory.UserProfile) error
}

// FactIndexer receives non-secret facts for vector search.
type FactIndexer interface {
	IndexFact(ctx context.Context, f memory.Fact) error
}

type Config struct {
	FactExtraction   bool
	ProfileUpdate    bool
	MaxCommonQueries int
}

// Learner is the Processor that extracts facts and updates the profile.
type Learner struct {
	cfg       Config
	facts     FactSink
	profiles  ProfileStore
	index     FactIndexer
	extractor *FactExtractor
	now       func() time.Time
	logger    *slog.Logger

	// profile updates are read-modify-write; one at a time.
	profileMu sync.Mutex
}

type LearnerOption func(*Learner)

func WithClock(now func() time.Time) LearnerOption {
	return func(l *Learner) { l.now = now }
}

func WithLogger(logger *slog.Logger) LearnerOption {
	return func(l *Learner) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLearner builds a learner. index and extractor may be nil.
func NewLearner(cfg Config, facts FactSink, profiles ProfileStore, index FactIndexer, extractor *FactExtractor, opts ...LearnerOption) *Learner {
	if cfg.MaxCommonQueries <= 0 {
		cfg.MaxCommonQueries = defaultMaxCommonQueries
	}
	if extractor == nil {
		extractor = NewFactExtractor(nil)
	}
	l := &Learner{
		cfg:       cfg,
		facts:     facts,
		profiles:  profiles,
		index:     index,
		extractor: extractor,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Learner) Process(ctx context.Context, job Job) error {
	var errs []error
	if l.cfg.FactExtraction {
		if err := l.learnFacts(ctx, job); err != nil {
			errs = append(errs, err)
		}
	}
	if l.cfg.ProfileUpdate {
		if err := l.learnProfile(ctx, job); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (l *Learner) learnFacts(ctx context.Context, job Job) error {
	facts, err := l.extractor.Extract(ctx, job.Query)
	if err != nil {
		return err
	}
	for _, f := range facts {
		f.UserID = job.UserID
		f.SourceSegmentID = job.SegmentID
		f.CreatedAt = l.now()
		id, err := l.facts.SaveFact(ctx, f)
		if err != nil {
			return fmt.Errorf("save fact %q: %w", f.Key, err)
		}
		f.ID = id
		if f.IsSecret() || l.index == nil {
			continue
		}
		if err := l.index.IndexFact(ctx, f); err != nil {
			l.logger.Warn("fact indexing degraded", "source", "vectors", "user_id", job.UserID, "fact_id", id, "err", err)
		}
	}
	return nil
}

func (l *Learner) learnProfile(ctx context.Context, job Job) error {
	l.profileMu.Lock()
	defer l.profileMu.Unlock()

	current, err := l.profiles.GetProfile(ctx, job.UserID)
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}
	updated := LearnProfile(current, job, l.cfg.MaxCommonQueries, l.now())
	if err := l.profiles.SaveProfile(ctx, updated); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

// LearnProfile folds one turn into a profile. current may be nil.
func LearnProfile(current *memory.UserProfile, job Job, maxCommonQueries int, now time.Time) memory.UserProfile {
	var p memory.UserProfile
	if current != nil {
		p = current.Clone()
	}
	p.UserID = job.UserID

	p.Patterns.TotalQueries++
	if policy.IsTechnicalQuery(job.Query) {
		p.Patterns.TechnicalQueries++
	}
	if label := strings.TrimSpace(job.TopicLabel); label != "" {
		if p.Patterns.TopicFrequency == nil {
			p.Patterns.TopicFrequency = make(map[string]int)
		}
		p.Patterns.TopicFrequency[label]++
	}

	// Queries carrying a credential are never kept; the rest are masked
	// because common queries come back as suggestions.
	if q := strings.TrimSpace(job.Query); q != "" && !policy.ContainsSecret(q) {
		q = policy.Redact(q)
		queries := []string{q}
		for _, existing := range p.CommonQueries {
			if !strings.EqualFold(existing, q) && !policy.ContainsSecret(existing) {
				queries = append(queries, existing)
			}
		}
		if len(queries) > maxCommonQueries {
			queries = queries[:maxCommonQueries]
		}
		p.CommonQueries = queries
	}

	for _, e := range job.Entities {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			continue
		}
		found := false
		for i := range p.KnownEntities {
			if strings.EqualFold(p.KnownEntities[i].Name, name) {
				found = true
				if p.KnownEntities[i].Type == "" {
					p.KnownEntities[i].Type = e.Type
				}
				break
			}
		}
		if !found {
			p.KnownEntities = append(p.KnownEntities, memory.KnownEntity{Name: name, Type: e.Type})
		}
	}

	p.LastUpdated = now
	return p
}
