package memory

import (
	"context"
	"errors"
	"sort"
)

var (
	ErrNotFound = errors.New("memory: not found")
	// ErrConflict is returned by UpsertSegment when the stored version does
	// not match the version the caller read.
	ErrConflict = errors.New("memory: version conflict")
)

// SegmentFilter narrows segment queries. Zero values mean "no filter".
type SegmentFilter struct {
	Status            SegmentStatus
	OnlyWithOpenLoops bool
	Limit             int
}

func (f SegmentFilter) match(s Segment) bool {
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	if f.OnlyWithOpenLoops && !s.HasOpenLoops() {
		return false
	}
	return true
}

// DocumentStore holds conversation segments partitioned by session id.
// Query results are ordered by last activity, most recent first.
type DocumentStore interface {
	GetSegment(ctx context.Context, id, sessionID string) (Segment, error)
	QuerySessionSegments(ctx context.Context, sessionID string, filter SegmentFilter) ([]Segment, error)
	QueryUserSegments(ctx context.Context, userID string, filter SegmentFilter) ([]Segment, error)
	// UpsertSegment inserts when Version is zero, otherwise replaces the
	// stored document only if its version equals seg.Version. The stored
	// copy, with its new version, is returned.
	UpsertSegment(ctx context.Context, seg Segment) (Segment, error)
	DeleteSegment(ctx context.Context, id, sessionID string) error
	Close() error
}

// FactStore holds user facts and learned profiles.
type FactStore interface {
	SearchFacts(ctx context.Context, userID string, keywords []string, limit int) ([]Fact, error)
	SaveFact(ctx context.Context, fact Fact) (string, error)
	// GetProfile returns (nil, nil) when the user has no profile yet.
	GetProfile(ctx context.Context, userID string) (*UserProfile, error)
	SaveProfile(ctx context.Context, profile UserProfile) error
	UpdateProfileField(ctx context.Context, userID, field, value string) error
	DeleteUserData(ctx context.Context, userID string) error
	Close() error
}

// rankFacts orders facts by keyword hits, then confidence, and truncates.
func rankFacts(facts []Fact, keywords []string, limit int) []Fact {
	hits := make([]int, len(facts))
	for i, f := range facts {
		hits[i] = FactKeywordHits(f, keywords)
	}
	idx := make([]int, len(facts))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		fa, fb := idx[a], idx[b]
		if hits[fa] != hits[fb] {
			return hits[fa] > hits[fb]
		}
		return facts[fa].Confidence > facts[fb].Confidence
	})
	if limit > 0 && len(idx) > limit {
		idx = idx[:limit]
	}
	out := make([]Fact, 0, len(idx))
	for _, i := range idx {
		out = append(out, facts[i])
	}
	return out
}
