// Package governor routes each query to a segment: continue the active one,
// resume a paused one, or start a new topic.
package governor

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Rev4nchist/agent-arch/internal/memory"
	"github.com/Rev4nchist/agent-arch/internal/policy"
)

type Scenario string

const (
	TopicContinuation Scenario = "TOPIC_CONTINUATION"
	TopicResumption   Scenario = "TOPIC_RESUMPTION"
	NewTopicFirst     Scenario = "NEW_TOPIC_FIRST"
	TopicShift        Scenario = "TOPIC_SHIFT"
)

// Lookup sources, also used as stage names.
const (
	SourceSegments = "segments"
	SourceFacts    = "facts"
	SourceVectors  = "vectors"
	StageDecide    = "decide"
	StageTotal     = "route_total"
)

const (
	minFactCandidateConfidence = 0.5
	labelDedupPrefix           = 20
	resumeFactor               = 0.8
)

type Scorer interface {
	Score(ctx context.Context, query string, seg memory.Segment) float64
}

type SegmentSource interface {
	SessionSegments(ctx context.Context, sessionID string) ([]memory.Segment, error)
}

type FactSearcher interface {
	SearchFacts(ctx context.Context, userID string, keywords []string, limit int) ([]memory.Fact, error)
}

type CandidateRetriever interface {
	Retrieve(ctx context.Context, userID, query string, topK int, minScore float64) ([]memory.CandidateMemory, error)
}

// Observer receives routing telemetry. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObserveRoute(scenario string)
	ObserveDegraded(source string)
	ObserveStage(stage string, d time.Duration)
}

type Config struct {
	Threshold     float64
	MaxCandidates int
	MinScore      float64
	LookupTimeout time.Duration
	MaxFacts      int
}

func DefaultConfig() Config {
	return Config{
		Threshold:     0.7,
		MaxCandidates: 10,
		MinScore:      0.3,
		LookupTimeout: 3 * time.Second,
		MaxFacts:      5,
	}
}

type Request struct {
	UserID    string   `json:"user_id"`
	SessionID string   `json:"session_id"`
	Query     string   `json:"query"`
	Intent    string   `json:"intent,omitempty"`
	Entities  []string `json:"entities,omitempty"`
}

// Decision is the routing outcome for one query.
type Decision struct {
	Scenario         Scenario                 `json:"scenario"`
	MatchedSegmentID string                   `json:"matched_segment_id,omitempty"`
	IsNewTopic       bool                     `json:"is_new_topic"`
	SuggestedLabel   string                   `json:"suggested_label,omitempty"`
	Segment          *memory.Segment          `json:"segment,omitempty"`
	PauseSegmentID   string                   `json:"pause_segment_id,omitempty"`
	Facts            []memory.Fact            `json:"facts"`
	Candidates       []memory.CandidateMemory `json:"candidates"`
	Similarity       float64                  `json:"similarity"`
	Keywords         []string                 `json:"keywords"`
	Intent           string                   `json:"intent,omitempty"`
}

type Governor struct {
	cfg        Config
	segments   SegmentSource
	scorer     Scorer
	facts      FactSearcher
	candidates CandidateRetriever
	observer   Observer
	logger     *slog.Logger
}

type Deps struct {
	Segments   SegmentSource
	Scorer     Scorer
	Facts      FactSearcher
	Candidates CandidateRetriever
	Observer   Observer
	Logger     *slog.Logger
}

// New builds a governor. Facts, Candidates and Observer may be nil.
func New(cfg Config, deps Deps) *Governor {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = def.MaxCandidates
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = def.LookupTimeout
	}
	if cfg.MaxFacts <= 0 {
		cfg.MaxFacts = def.MaxFacts
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Governor{
		cfg:        cfg,
		segments:   deps.Segments,
		scorer:     deps.Scorer,
		facts:      deps.Facts,
		candidates: deps.Candidates,
		observer:   deps.Observer,
		logger:     logger,
	}
}

// Route decides the scenario for req. Only identifier validation produces an
// error; failed lookups degrade to empty results.
func (g *Governor) Route(ctx context.Context, req Request) (Decision, error) {
	if err := policy.ValidateID("user_id", req.UserID); err != nil {
		return Decision{}, err
	}
	if err := policy.ValidateID("session_id", req.SessionID); err != nil {
		return Decision{}, err
	}

	start := time.Now()
	keywords := ExtractKeywords(req.Query, req.Entities)

	var (
		segs       []memory.Segment
		facts      []memory.Fact
		candidates []memory.CandidateMemory
	)
	var eg errgroup.Group
	eg.Go(func() error {
		segs = g.fetchSegments(ctx, req)
		return nil
	})
	eg.Go(func() error {
		facts = g.fetchFacts(ctx, req, keywords)
		return nil
	})
	eg.Go(func() error {
		candidates = g.fetchCandidates(ctx, req)
		return nil
	})
	_ = eg.Wait()

	decideStart := time.Now()
	d := g.decide(ctx, req, segs)
	d.Facts = facts
	d.Candidates = FilterCandidates(candidates, g.cfg.MaxCandidates)
	d.Keywords = keywords
	d.Intent = req.Intent
	if d.IsNewTopic {
		d.SuggestedLabel = SuggestLabel(keywords, req.Intent)
	}

	g.observeStage(StageDecide, time.Since(decideStart))
	g.observeStage(StageTotal, time.Since(start))
	if g.observer != nil {
		g.observer.ObserveRoute(string(d.Scenario))
	}
	g.logger.Debug("query routed",
		"user_id", req.UserID, "session_id", req.SessionID,
		"scenario", d.Scenario, "segment_id", d.MatchedSegmentID, "similarity", d.Similarity)
	return d, nil
}

func (g *Governor) decide(ctx context.Context, req Request, segs []memory.Segment) Decision {
	active, paused := partition(segs)

	if active == nil {
		if match, score, ok := g.bestPaused(ctx, req.Query, paused); ok {
			return resumption(match, score)
		}
		return Decision{Scenario: NewTopicFirst, IsNewTopic: true}
	}

	sim := g.scorer.Score(ctx, req.Query, *active)
	if sim >= g.cfg.Threshold {
		seg := *active
		return Decision{
			Scenario:         TopicContinuation,
			MatchedSegmentID: seg.ID,
			Segment:          &seg,
			Similarity:       sim,
		}
	}

	if match, score, ok := g.bestPaused(ctx, req.Query, paused); ok {
		d := resumption(match, score)
		d.PauseSegmentID = active.ID
		return d
	}
	return Decision{
		Scenario:       TopicShift,
		IsNewTopic:     true,
		PauseSegmentID: active.ID,
		Similarity:     sim,
	}
}

func resumption(seg memory.Segment, score float64) Decision {
	return Decision{
		Scenario:         TopicResumption,
		MatchedSegmentID: seg.ID,
		Segment:          &seg,
		Similarity:       score,
	}
}

// bestPaused returns the paused segment with the highest score strictly
// above threshold*0.8. Ties keep the first one found.
func (g *Governor) bestPaused(ctx context.Context, query string, paused []memory.Segment) (memory.Segment, float64, bool) {
	floor := g.cfg.Threshold * resumeFactor
	best := -1
	bestScore := floor
	for i, seg := range paused {
		if score := g.scorer.Score(ctx, query, seg); score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return memory.Segment{}, 0, false
	}
	return paused[best], bestScore, true
}

// partition splits segments into the single ACTIVE one (the most recently
// active, if several claim it) and the rest, treated as paused.
func partition(segs []memory.Segment) (*memory.Segment, []memory.Segment) {
	ordered := make([]memory.Segment, len(segs))
	copy(ordered, segs)
	memory.SortByLastActivity(ordered)

	var active *memory.Segment
	paused := make([]memory.Segment, 0, len(ordered))
	for i := range ordered {
		if active == nil && ordered[i].IsActive() {
			active = &ordered[i]
			continue
		}
		paused = append(paused, ordered[i])
	}
	return active, paused
}

func (g *Governor) fetchSegments(ctx context.Context, req Request) []memory.Segment {
	start := time.Now()
	defer func() { g.observeStage(SourceSegments, time.Since(start)) }()

	lctx, cancel := context.WithTimeout(ctx, g.cfg.LookupTimeout)
	defer cancel()
	segs, err := g.segments.SessionSegments(lctx, req.SessionID)
	if err != nil {
		g.degraded(SourceSegments, req, err)
		return nil
	}
	return segs
}

func (g *Governor) fetchFacts(ctx context.Context, req Request, keywords []string) []memory.Fact {
	if g.facts == nil || len(keywords) == 0 {
		return []memory.Fact{}
	}
	start := time.Now()
	defer func() { g.observeStage(SourceFacts, time.Since(start)) }()

	lctx, cancel := context.WithTimeout(ctx, g.cfg.LookupTimeout)
	defer cancel()
	facts, err := g.facts.SearchFacts(lctx, req.UserID, keywords, g.cfg.MaxFacts)
	if err != nil {
		g.degraded(SourceFacts, req, err)
		return []memory.Fact{}
	}
	if len(facts) > g.cfg.MaxFacts {
		facts = facts[:g.cfg.MaxFacts]
	}
	return facts
}

func (g *Governor) fetchCandidates(ctx context.Context, req Request) []memory.CandidateMemory {
	if g.candidates == nil || strings.TrimSpace(req.Query) == "" {
		return nil
	}
	start := time.Now()
	defer func() { g.observeStage(SourceVectors, time.Since(start)) }()

	lctx, cancel := context.WithTimeout(ctx, g.cfg.LookupTimeout)
	defer cancel()
	cands, err := g.candidates.Retrieve(lctx, req.UserID, req.Query, g.cfg.MaxCandidates, g.cfg.MinScore)
	if err != nil {
		g.degraded(SourceVectors, req, err)
		return nil
	}
	return cands
}

func (g *Governor) degraded(source string, req Request, err error) {
	g.logger.Warn("routing lookup degraded",
		"source", source, "user_id", req.UserID, "session_id", req.SessionID, "err", err)
	if g.observer != nil {
		g.observer.ObserveDegraded(source)
	}
}

func (g *Governor) observeStage(stage string, d time.Duration) {
	if g.observer != nil {
		g.observer.ObserveStage(stage, d)
	}
}

// FilterCandidates drops low-confidence FACT candidates and SEGMENT_SUMMARY
// candidates whose label prefix repeats, then keeps the top max by score.
func FilterCandidates(cands []memory.CandidateMemory, max int) []memory.CandidateMemory {
	out := make([]memory.CandidateMemory, 0, len(cands))
	seenLabels := make(map[string]struct{})
	for _, c := range cands {
		switch c.Type {
		case memory.TypeFact:
			if c.Confidence < minFactCandidateConfidence {
				continue
			}
		case memory.TypeSegmentSummary:
			key := labelPrefix(c.TopicLabel)
			if _, dup := seenLabels[key]; dup {
				continue
			}
			seenLabels[key] = struct{}{}
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}

func labelPrefix(label string) string {
	runes := []rune(strings.ToLower(label))
	if len(runes) > labelDedupPrefix {
		runes = runes[:labelDedupPrefix]
	}
	return string(runes)
}
