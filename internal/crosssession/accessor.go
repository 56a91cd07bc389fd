// Package crosssession surfaces a user's unresolved open loops and learned
// interests across all of their sessions.
package crosssession

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/Rev4nchist/agent-arch/internal/memory"
)

const (
	currentSessionBase = 100
	otherSessionBase   = 80
	minPriority        = 40
)

// RecencyPriority decays a base priority by hours since last activity:
// half a point per hour for the first day, then 0.3 per hour, floored at 40.
func RecencyPriority(hours float64, currentSession bool) int {
	if hours < 0 {
		hours = 0
	}
	base := float64(otherSessionBase)
	if currentSession {
		base = currentSessionBase
	}
	var decay float64
	if hours <= 24 {
		decay = hours * 0.5
	} else {
		decay = 12 + (hours-24)*0.3
	}
	p := int(math.Round(base - decay))
	if p < minPriority {
		return minPriority
	}
	return p
}

type SegmentReader interface {
	SessionSegments(ctx context.Context, sessionID string) ([]memory.Segment, error)
	GetSegmentsWithOpenLoops(ctx context.Context, userID string, limit int) ([]memory.Segment, error)
}

type ProfileReader interface {
	GetProfile(ctx context.Context, userID string) (*memory.UserProfile, error)
}

type FactSearcher interface {
	SearchFacts(ctx context.Context, userID string, keywords []string, limit int) ([]memory.Fact, error)
}

type Config struct {
	Enabled           bool
	MaxOpenLoops      int
	MaxRecentSegments int
	MaxAge            time.Duration
	MaxCommonQueries  int
	MaxTopicInterests int
	MaxEntities       int
	MaxFacts          int
	Expertise         ExpertiseThresholds
}

func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		MaxOpenLoops:      5,
		MaxRecentSegments: 10,
		MaxAge:            720 * time.Hour,
		MaxCommonQueries:  5,
		MaxTopicInterests: 5,
		MaxEntities:       5,
		MaxFacts:          5,
		Expertise:         DefaultExpertiseThresholds(),
	}
}

type OpenLoop struct {
	Text               string    `json:"text"`
	SegmentID          string    `json:"segment_id"`
	SessionID          string    `json:"session_id"`
	TopicLabel         string    `json:"topic_label"`
	Priority           int       `json:"priority"`
	FromCurrentSession bool      `json:"from_current_session"`
	LastActivity       time.Time `json:"last_activity"`
}

// Bundle is everything known about a user that can personalize a response.
type Bundle struct {
	OpenLoops      []OpenLoop           `json:"open_loops"`
	CommonQueries  []string             `json:"common_queries"`
	TopicInterests []string             `json:"topic_interests"`
	KnownEntities  []memory.KnownEntity `json:"known_entities"`
	RelevantFacts  []memory.Fact        `json:"relevant_facts"`
	Expertise      Expertise            `json:"expertise"`
}

// IsEmpty reports whether the bundle carries nothing to personalize with.
func (b Bundle) IsEmpty() bool {
	return len(b.OpenLoops) == 0 && len(b.CommonQueries) == 0 &&
		len(b.TopicInterests) == 0 && len(b.KnownEntities) == 0
}

func emptyBundle() Bundle {
	return Bundle{
		OpenLoops:      []OpenLoop{},
		CommonQueries:  []string{},
		TopicInterests: []string{},
		KnownEntities:  []memory.KnownEntity{},
		RelevantFacts:  []memory.Fact{},
		Expertise:      Intermediate,
	}
}

type Accessor struct {
	cfg      Config
	segments SegmentReader
	profiles ProfileReader
	facts    FactSearcher
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Accessor)

func WithClock(now func() time.Time) Option {
	return func(a *Accessor) { a.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Accessor) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAccessor builds an accessor. facts may be nil.
func NewAccessor(cfg Config, segments SegmentReader, profiles ProfileReader, facts FactSearcher, opts ...Option) *Accessor {
	a := &Accessor{
		cfg:      cfg,
		segments: segments,
		profiles: profiles,
		facts:    facts,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Bundle gathers the user's memory bundle. sessionID and keywords are
// optional. Read failures leave the affected part empty; when the feature
// is disabled no store is touched.
func (a *Accessor) Bundle(ctx context.Context, userID, sessionID string, keywords []string) Bundle {
	b := emptyBundle()
	if !a.cfg.Enabled || userID == "" {
		return b
	}

	b.OpenLoops = a.OpenLoops(ctx, userID, sessionID)

	profile, err := a.profiles.GetProfile(ctx, userID)
	if err != nil {
		a.degraded("profile", userID, err)
		profile = nil
	}
	if profile != nil {
		b.CommonQueries = head(profile.CommonQueries, a.cfg.MaxCommonQueries)
		b.TopicInterests = TopicInterests(*profile, a.cfg.MaxTopicInterests)
		b.KnownEntities = headEntities(profile.KnownEntities, a.cfg.MaxEntities)
	}
	b.Expertise = ClassifyExpertise(profile, a.cfg.Expertise)

	if a.facts != nil && len(keywords) > 0 {
		facts, err := a.facts.SearchFacts(ctx, userID, keywords, a.cfg.MaxFacts)
		if err != nil {
			a.degraded("facts", userID, err)
		} else if len(facts) > 0 {
			if a.cfg.MaxFacts > 0 && len(facts) > a.cfg.MaxFacts {
				facts = facts[:a.cfg.MaxFacts]
			}
			b.RelevantFacts = facts
		}
	}
	return b
}

// OpenLoops aggregates open loops from the current session and the user's
// most recent segments, drops segments older than MaxAge, ranks by recency
// priority and caps the list.
func (a *Accessor) OpenLoops(ctx context.Context, userID, sessionID string) []OpenLoop {
	out := []OpenLoop{}
	if !a.cfg.Enabled || userID == "" {
		return out
	}

	var segs []memory.Segment
	if sessionID != "" {
		current, err := a.segments.SessionSegments(ctx, sessionID)
		if err != nil {
			a.degraded("session_segments", userID, err)
		}
		for _, s := range current {
			if s.UserID == userID && s.HasOpenLoops() {
				segs = append(segs, s)
			}
		}
	}
	recent, err := a.segments.GetSegmentsWithOpenLoops(ctx, userID, a.cfg.MaxRecentSegments)
	if err != nil {
		a.degraded("user_segments", userID, err)
	}
	segs = append(segs, recent...)

	now := a.now()
	seen := make(map[string]struct{})
	for _, s := range segs {
		age := now.Sub(s.LastActivityAt)
		if a.cfg.MaxAge > 0 && age > a.cfg.MaxAge {
			continue
		}
		current := sessionID != "" && s.SessionID == sessionID
		priority := RecencyPriority(age.Hours(), current)
		for _, text := range s.OpenLoops {
			text = strings.TrimSpace(text)
			if text == "" {
				continue
			}
			key := s.ID + "\x00" + strings.ToLower(text)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, OpenLoop{
				Text:               text,
				SegmentID:          s.ID,
				SessionID:          s.SessionID,
				TopicLabel:         s.TopicLabel,
				Priority:           priority,
				FromCurrentSession: current,
				LastActivity:       s.LastActivityAt,
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	if a.cfg.MaxOpenLoops > 0 && len(out) > a.cfg.MaxOpenLoops {
		out = out[:a.cfg.MaxOpenLoops]
	}
	return out
}

// TopicInterests lists topics by descending frequency, then explicit
// preferred topics, without case-insensitive duplicates.
func TopicInterests(p memory.UserProfile, max int) []string {
	type freq struct {
		topic string
		count int
	}
	ranked := make([]freq, 0, len(p.Patterns.TopicFrequency))
	for topic, n := range p.Patterns.TopicFrequency {
		ranked = append(ranked, freq{topic, n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].topic < ranked[j].topic
	})

	out := []string{}
	seen := make(map[string]struct{})
	add := func(topic string) {
		topic = strings.TrimSpace(topic)
		key := strings.ToLower(topic)
		if topic == "" {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, topic)
	}
	for _, f := range ranked {
		add(f.topic)
	}
	for _, topic := range p.PreferredTopics() {
		add(topic)
	}
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}

func (a *Accessor) degraded(source, userID string, err error) {
	a.logger.Warn("cross-session read degraded", "source", source, "user_id", userID, "err", err)
}

func head(in []string, n int) []string {
	if n > 0 && len(in) > n {
		in = in[:n]
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func headEntities(in []memory.KnownEntity, n int) []memory.KnownEntity {
	if n > 0 && len(in) > n {
		in = in[:n]
	}
	out := make([]memory.KnownEntity, len(in))
	copy(out, in)
	return out
}
