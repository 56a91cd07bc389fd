package memory

import (
	"strings"
	"time"
)

// SegmentStatus is the lifecycle state of a segment within its session.
type SegmentStatus string

const (
	StatusActive SegmentStatus = "ACTIVE"
	StatusPaused SegmentStatus = "PAUSED"
)

// Turn is one query/response exchange recorded in a segment.
type Turn struct {
	Index           int       `json:"index"`
	Query           string    `json:"query"`
	ResponseSummary string    `json:"response_summary"`
	Intent          string    `json:"intent,omitempty"`
	Entities        []string  `json:"entities,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Segment is a topic-scoped span of conversation turns within a session.
type Segment struct {
	ID             string        `json:"id"`
	SessionID      string        `json:"session_id"`
	UserID         string        `json:"user_id"`
	TopicLabel     string        `json:"topic_label"`
	Turns          []Turn        `json:"turns"`
	Summary        string        `json:"summary"`
	Keywords       []string      `json:"keywords"`
	OpenLoops      []string      `json:"open_loops"`
	Decisions      []string      `json:"decisions"`
	Status         SegmentStatus `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	LastActivityAt time.Time     `json:"last_activity_at"`

	// Version is bumped by every successful upsert and used for optimistic
	// concurrency checks at the store boundary.
	Version int64 `json:"version"`
}

// Clone returns a deep copy so callers never share slices with a store.
func (s Segment) Clone() Segment {
	c := s
	if s.Turns != nil {
		c.Turns = make([]Turn, len(s.Turns))
		for i, t := range s.Turns {
			t.Entities = cloneStrings(t.Entities)
			c.Turns[i] = t
		}
	}
	c.Keywords = cloneStrings(s.Keywords)
	c.OpenLoops = cloneStrings(s.OpenLoops)
	c.Decisions = cloneStrings(s.Decisions)
	return c
}

func (s Segment) IsActive() bool { return s.Status == StatusActive }

func (s Segment) HasOpenLoops() bool { return len(s.OpenLoops) > 0 }

// LastTurn returns the most recent turn, if any.
func (s Segment) LastTurn() (Turn, bool) {
	if len(s.Turns) == 0 {
		return Turn{}, false
	}
	return s.Turns[len(s.Turns)-1], true
}

// FactCategory classifies a stored fact.
type FactCategory string

const (
	CategoryDefinition FactCategory = "DEFINITION"
	CategoryAcronym    FactCategory = "ACRONYM"
	CategorySecret     FactCategory = "SECRET"
	CategoryEntity     FactCategory = "ENTITY"
)

// ParseFactCategory maps free text onto a known category, defaulting to ENTITY.
func ParseFactCategory(v string) FactCategory {
	switch FactCategory(strings.ToUpper(strings.TrimSpace(v))) {
	case CategoryDefinition:
		return CategoryDefinition
	case CategoryAcronym:
		return CategoryAcronym
	case CategorySecret:
		return CategorySecret
	default:
		return CategoryEntity
	}
}

// Fact is a user-scoped key/value fact extracted from conversation.
type Fact struct {
	ID              string       `json:"id"`
	UserID          string       `json:"user_id"`
	Key             string       `json:"key"`
	Value           string       `json:"value"`
	Category        FactCategory `json:"category"`
	Confidence      float64      `json:"confidence"`
	Evidence        string       `json:"evidence,omitempty"`
	SourceSegmentID string       `json:"source_segment_id,omitempty"`
	Verified        bool         `json:"verified"`
	CreatedAt       time.Time    `json:"created_at"`
}

func (f Fact) IsSecret() bool { return f.Category == CategorySecret }

// KnownEntity is a named entity the user has referred to.
type KnownEntity struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// InteractionPatterns holds long-run counters used for expertise
// classification and topic interests.
type InteractionPatterns struct {
	TotalQueries     int            `json:"total_queries"`
	TechnicalQueries int            `json:"technical_queries"`
	TopicFrequency   map[string]int `json:"topic_frequency,omitempty"`
}

// Well-known preference keys.
const (
	PrefPreferredTopics = "preferred_topics"
	PrefResponseStyle   = "response_style"
	PrefExpertiseLevel  = "expertise_level"
)

// UserProfile is the learned profile of a user.
type UserProfile struct {
	UserID        string              `json:"user_id"`
	Preferences   map[string]string   `json:"preferences,omitempty"`
	CommonQueries []string            `json:"common_queries,omitempty"`
	KnownEntities []KnownEntity       `json:"known_entities,omitempty"`
	Patterns      InteractionPatterns `json:"interaction_patterns"`
	LastUpdated   time.Time           `json:"last_updated"`
}

// PreferredTopics splits the comma-separated preferred_topics preference.
func (p UserProfile) PreferredTopics() []string {
	raw := strings.TrimSpace(p.Preferences[PrefPreferredTopics])
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (p UserProfile) Clone() UserProfile {
	c := p
	if p.Preferences != nil {
		c.Preferences = make(map[string]string, len(p.Preferences))
		for k, v := range p.Preferences {
			c.Preferences[k] = v
		}
	}
	c.CommonQueries = cloneStrings(p.CommonQueries)
	if p.KnownEntities != nil {
		c.KnownEntities = append([]KnownEntity(nil), p.KnownEntities...)
	}
	if p.Patterns.TopicFrequency != nil {
		c.Patterns.TopicFrequency = make(map[string]int, len(p.Patterns.TopicFrequency))
		for k, v := range p.Patterns.TopicFrequency {
			c.Patterns.TopicFrequency[k] = v
		}
	}
	return c
}

// MemoryType distinguishes vector-search candidates.
type MemoryType string

const (
	TypeFact           MemoryType = "FACT"
	TypeSegmentSummary MemoryType = "SEGMENT_SUMMARY"
)

// CandidateMemory is a transient vector-search hit.
type CandidateMemory struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Content    string     `json:"content"`
	Type       MemoryType `json:"memory_type"`
	SourceID   string     `json:"source_id"`
	Score      float64    `json:"score"`
	Category   string     `json:"category,omitempty"`
	TopicLabel string     `json:"topic_label,omitempty"`
	Confidence float64    `json:"confidence,omitempty"`
	CreatedAt  time.Time  `json:"created_at,omitempty"`
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
