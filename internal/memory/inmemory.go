package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is an in-process DocumentStore and FactStore for local/dev use.
type InMemoryStore struct {
	mu       sync.RWMutex
	segments map[string]Segment
	facts    map[string][]Fact
	profiles map[string]UserProfile
	now      func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		segments: make(map[string]Segment),
		facts:    make(map[string][]Fact),
		profiles: make(map[string]UserProfile),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *InMemoryStore) GetSegment(_ context.Context, id, sessionID string) (Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seg, ok := s.segments[id]
	if !ok || seg.SessionID != sessionID {
		return Segment{}, ErrNotFound
	}
	return seg.Clone(), nil
}

func (s *InMemoryStore) QuerySessionSegments(_ context.Context, sessionID string, filter SegmentFilter) ([]Segment, error) {
	return s.query(func(seg Segment) bool { return seg.SessionID == sessionID }, filter), nil
}

func (s *InMemoryStore) QueryUserSegments(_ context.Context, userID string, filter SegmentFilter) ([]Segment, error) {
	return s.query(func(seg Segment) bool { return seg.UserID == userID }, filter), nil
}

func (s *InMemoryStore) query(partition func(Segment) bool, filter SegmentFilter) []Segment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Segment, 0)
	for _, seg := range s.segments {
		if partition(seg) && filter.match(seg) {
			out = append(out, seg.Clone())
		}
	}
	SortByLastActivity(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

func (s *InMemoryStore) UpsertSegment(_ context.Context, seg Segment) (Segment, error) {
	if seg.ID == "" {
		seg.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, exists := s.segments[seg.ID]
	switch {
	case seg.Version == 0 && exists:
		return Segment{}, fmt.Errorf("insert segment %s: %w", seg.ID, ErrConflict)
	case seg.Version != 0 && !exists:
		return Segment{}, fmt.Errorf("update segment %s: %w", seg.ID, ErrNotFound)
	case exists && current.Version != seg.Version:
		return Segment{}, fmt.Errorf("update segment %s (have %d, stored %d): %w", seg.ID, seg.Version, current.Version, ErrConflict)
	}
	seg.Version++
	stored := seg.Clone()
	s.segments[seg.ID] = stored
	return stored.Clone(), nil
}

func (s *InMemoryStore) DeleteSegment(_ context.Context, id, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seg, ok := s.segments[id]
	if !ok || seg.SessionID != sessionID {
		return ErrNotFound
	}
	delete(s.segments, id)
	return nil
}

func (s *InMemoryStore) SearchFacts(_ context.Context, userID string, keywords []string, limit int) ([]Fact, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []Fact
	for _, f := range s.facts[userID] {
		if FactKeywordHits(f, keywords) > 0 {
			matched = append(matched, f)
		}
	}
	return rankFacts(matched, keywords, limit), nil
}

func (s *InMemoryStore) SaveFact(_ context.Context, fact Fact) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fact.CreatedAt.IsZero() {
		fact.CreatedAt = s.now()
	}
	facts := s.facts[fact.UserID]
	for i, existing := range facts {
		if strings.EqualFold(existing.Key, fact.Key) {
			fact.ID = existing.ID
			facts[i] = fact
			return fact.ID, nil
		}
	}
	if fact.ID == "" {
		fact.ID = uuid.NewString()
	}
	s.facts[fact.UserID] = append(facts, fact)
	return fact.ID, nil
}

func (s *InMemoryStore) GetProfile(_ context.Context, userID string) (*UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, nil
	}
	c := p.Clone()
	return &c, nil
}

func (s *InMemoryStore) SaveProfile(_ context.Context, profile UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if profile.LastUpdated.IsZero() {
		profile.LastUpdated = s.now()
	}
	s.profiles[profile.UserID] = profile.Clone()
	return nil
}

func (s *InMemoryStore) UpdateProfileField(_ context.Context, userID, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		p = UserProfile{UserID: userID}
	}
	if p.Preferences == nil {
		p.Preferences = make(map[string]string)
	}
	p.Preferences[field] = value
	p.LastUpdated = s.now()
	s.profiles[userID] = p
	return nil
}

func (s *InMemoryStore) DeleteUserData(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.facts, userID)
	delete(s.profiles, userID)
	return nil
}

func (s *InMemoryStore) Close() error { return nil }

// SortByLastActivity orders segments most recently active first.
func SortByLastActivity(segs []Segment) {
	sort.SliceStable(segs, func(i, j int) bool {
		return segs[i].LastActivityAt.After(segs[j].LastActivityAt)
	})
}

// FactKeywordHits counts keywords found in the fact key or value.
func FactKeywordHits(f Fact, keywords []string) int {
	key := strings.ToLower(f.Key)
	value := strings.ToLower(f.Value)
	n := 0
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if strings.Contains(key, kw) || strings.Contains(value, kw) {
			n++
		}
	}
	return n
}
