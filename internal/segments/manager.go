// Package segments owns the lifecycle of topic segments within a session and
// keeps at most one of them ACTIVE.
package segments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Rev4nchist/agent-arch/internal/memory"
	"github.com/Rev4nchist/agent-arch/internal/reliability"
)

var (
	// ErrStorage wraps every fault raised by the document store.
	ErrStorage         = errors.New("segment storage error")
	ErrSegmentNotFound = errors.New("segment not found")
	// ErrNotOwner is always reported together with ErrSegmentNotFound.
	ErrNotOwner = errors.New("segment owned by another user")
)

const (
	maxKeywords     = 20
	conflictRetries = 4
)

type Manager struct {
	store  memory.DocumentStore
	locks  *keyedMutex
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func NewManager(store memory.DocumentStore, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		locks:  newKeyedMutex(),
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateSegment pauses whatever is ACTIVE in the session and stores a new
// ACTIVE segment, optionally seeded with its first turn.
func (m *Manager) CreateSegment(ctx context.Context, sessionID, userID, topicLabel string, firstTurn *memory.Turn) (memory.Segment, error) {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	if err := m.pauseActive(ctx, sessionID, ""); err != nil {
		return memory.Segment{}, err
	}

	now := m.now()
	seg := memory.Segment{
		ID:             uuid.NewString(),
		SessionID:      sessionID,
		UserID:         userID,
		TopicLabel:     topicLabel,
		Turns:          []memory.Turn{},
		Keywords:       []string{},
		OpenLoops:      []string{},
		Decisions:      []string{},
		Status:         memory.StatusActive,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if firstTurn != nil {
		t := *firstTurn
		t.Index = 0
		if t.Timestamp.IsZero() {
			t.Timestamp = now
		}
		seg.Turns = append(seg.Turns, t)
	}

	stored, err := m.store.UpsertSegment(ctx, seg)
	if err != nil {
		return memory.Segment{}, storageErr("create segment", err)
	}
	m.logger.Debug("segment created", "segment_id", stored.ID, "session_id", sessionID, "topic", topicLabel)
	return stored, nil
}

// SessionSegments returns every segment of a session, most recently active
// first. If the store holds more than one ACTIVE segment, only the most
// recently active keeps that status in the returned view.
func (m *Manager) SessionSegments(ctx context.Context, sessionID string) ([]memory.Segment, error) {
	segs, err := m.store.QuerySessionSegments(ctx, sessionID, memory.SegmentFilter{})
	if err != nil {
		return nil, storageErr("query session segments", err)
	}
	memory.SortByLastActivity(segs)

	seenActive := false
	for i := range segs {
		if !segs[i].IsActive() {
			continue
		}
		if seenActive {
			m.logger.Warn("multiple active segments in session, treating extra as paused",
				"session_id", sessionID, "segment_id", segs[i].ID)
			segs[i].Status = memory.StatusPaused
			continue
		}
		seenActive = true
	}
	return segs, nil
}

// GetActiveSegment returns nil when the session has no ACTIVE segment.
func (m *Manager) GetActiveSegment(ctx context.Context, sessionID string) (*memory.Segment, error) {
	segs, err := m.SessionSegments(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for i := range segs {
		if segs[i].IsActive() {
			s := segs[i]
			return &s, nil
		}
	}
	return nil, nil
}

// GetPausedSegments returns the session's PAUSED segments, most recent first.
func (m *Manager) GetPausedSegments(ctx context.Context, sessionID string) ([]memory.Segment, error) {
	segs, err := m.SessionSegments(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]memory.Segment, 0, len(segs))
	for _, s := range segs {
		if s.Status == memory.StatusPaused {
			out = append(out, s)
		}
	}
	return out, nil
}

// GetSegmentsWithOpenLoops returns the user's segments across all sessions
// that carry at least one open loop, most recently active first.
func (m *Manager) GetSegmentsWithOpenLoops(ctx context.Context, userID string, limit int) ([]memory.Segment, error) {
	segs, err := m.store.QueryUserSegments(ctx, userID, memory.SegmentFilter{OnlyWithOpenLoops: true, Limit: limit})
	if err != nil {
		return nil, storageErr("query open-loop segments", err)
	}
	memory.SortByLastActivity(segs)
	if limit > 0 && len(segs) > limit {
		segs = segs[:limit]
	}
	return segs, nil
}

func (m *Manager) AppendTurn(ctx context.Context, segmentID, sessionID string, turn memory.Turn) (memory.Segment, error) {
	unlock := m.locks.Lock(sessionID)
	defer unlock()
	return m.mutate(ctx, segmentID, sessionID, func(seg *memory.Segment) error {
		turn.Index = len(seg.Turns)
		if turn.Timestamp.IsZero() {
			turn.Timestamp = m.now()
		}
		seg.Turns = append(seg.Turns, turn)
		return nil
	})
}

func (m *Manager) Pause(ctx context.Context, segmentID, sessionID string) (memory.Segment, error) {
	unlock := m.locks.Lock(sessionID)
	defer unlock()
	return m.mutate(ctx, segmentID, sessionID, func(seg *memory.Segment) error {
		seg.Status = memory.StatusPaused
		return nil
	})
}

// Resume pauses the session's current ACTIVE segment, if it is a different
// one, then marks the target ACTIVE.
func (m *Manager) Resume(ctx context.Context, segmentID, sessionID string) (memory.Segment, error) {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	if _, err := m.load(ctx, segmentID, sessionID); err != nil {
		return memory.Segment{}, err
	}
	if err := m.pauseActive(ctx, sessionID, segmentID); err != nil {
		return memory.Segment{}, err
	}
	return m.mutate(ctx, segmentID, sessionID, func(seg *memory.Segment) error {
		seg.Status = memory.StatusActive
		return nil
	})
}

func (m *Manager) AddOpenLoop(ctx context.Context, segmentID, sessionID, loop string) (memory.Segment, error) {
	loop = strings.TrimSpace(loop)
	unlock := m.locks.Lock(sessionID)
	defer unlock()
	return m.mutate(ctx, segmentID, sessionID, func(seg *memory.Segment) error {
		if loop == "" || indexFold(seg.OpenLoops, loop) >= 0 {
			return nil
		}
		seg.OpenLoops = append(seg.OpenLoops, loop)
		return nil
	})
}

// ResolveOpenLoop removes a loop, matched case-insensitively. Removing a
// loop that is not present is a no-op.
func (m *Manager) ResolveOpenLoop(ctx context.Context, segmentID, sessionID, loop string) (memory.Segment, error) {
	loop = strings.TrimSpace(loop)
	unlock := m.locks.Lock(sessionID)
	defer unlock()
	return m.mutate(ctx, segmentID, sessionID, func(seg *memory.Segment) error {
		if i := indexFold(seg.OpenLoops, loop); i >= 0 {
			seg.OpenLoops = append(seg.OpenLoops[:i], seg.OpenLoops[i+1:]...)
		}
		return nil
	})
}

func (m *Manager) AddDecision(ctx context.Context, segmentID, sessionID, decision string) (memory.Segment, error) {
	decision = strings.TrimSpace(decision)
	unlock := m.locks.Lock(sessionID)
	defer unlock()
	return m.mutate(ctx, segmentID, sessionID, func(seg *memory.Segment) error {
		if decision != "" {
			seg.Decisions = append(seg.Decisions, decision)
		}
		return nil
	})
}

// UpdateSummary replaces the running summary when summary is non-empty and
// merges keywords, keeping the first maxKeywords distinct ones.
func (m *Manager) UpdateSummary(ctx context.Context, segmentID, sessionID, summary string, keywords []string) (memory.Segment, error) {
	unlock := m.locks.Lock(sessionID)
	defer unlock()
	return m.mutate(ctx, segmentID, sessionID, func(seg *memory.Segment) error {
		if s := strings.TrimSpace(summary); s != "" {
			seg.Summary = s
		}
		seg.Keywords = MergeKeywords(seg.Keywords, keywords, maxKeywords)
		return nil
	})
}

// EraseUser deletes every segment of a user and returns them.
func (m *Manager) EraseUser(ctx context.Context, userID string) ([]memory.Segment, error) {
	segs, err := m.store.QueryUserSegments(ctx, userID, memory.SegmentFilter{})
	if err != nil {
		return nil, storageErr("query user segments", err)
	}
	for _, seg := range segs {
		unlock := m.locks.Lock(seg.SessionID)
		err := m.store.DeleteSegment(ctx, seg.ID, seg.SessionID)
		unlock()
		if err != nil && !errors.Is(err, memory.ErrNotFound) {
			return nil, storageErr("delete segment", err)
		}
	}
	return segs, nil
}

// pauseActive pauses every ACTIVE segment of the session except keepID.
// Callers hold the session lock.
func (m *Manager) pauseActive(ctx context.Context, sessionID, keepID string) error {
	active, err := m.store.QuerySessionSegments(ctx, sessionID, memory.SegmentFilter{Status: memory.StatusActive})
	if err != nil {
		return storageErr("query active segments", err)
	}
	for _, seg := range active {
		if seg.ID == keepID {
			continue
		}
		if _, err := m.mutate(ctx, seg.ID, sessionID, func(s *memory.Segment) error {
			s.Status = memory.StatusPaused
			return nil
		}); err != nil && !errors.Is(err, ErrSegmentNotFound) {
			return err
		}
	}
	return nil
}

// CheckOwner returns ErrSegmentNotFound unless the segment exists and
// belongs to userID. Owners never change, so the result holds for later
// mutations of the same segment.
func (m *Manager) CheckOwner(ctx context.Context, segmentID, sessionID, userID string) error {
	seg, err := m.load(ctx, segmentID, sessionID)
	if err != nil {
		return err
	}
	if seg.UserID != userID {
		return fmt.Errorf("%w: %w: %s", ErrSegmentNotFound, ErrNotOwner, segmentID)
	}
	return nil
}

func (m *Manager) load(ctx context.Context, segmentID, sessionID string) (memory.Segment, error) {
	seg, err := m.store.GetSegment(ctx, segmentID, sessionID)
	if errors.Is(err, memory.ErrNotFound) {
		return memory.Segment{}, fmt.Errorf("%w: %s", ErrSegmentNotFound, segmentID)
	}
	if err != nil {
		return memory.Segment{}, storageErr("load segment", err)
	}
	return seg, nil
}

// mutate applies fn to a fresh copy of the segment, stamps last activity and
// saves it, re-reading on version conflicts.
func (m *Manager) mutate(ctx context.Context, segmentID, sessionID string, fn func(*memory.Segment) error) (memory.Segment, error) {
	var out memory.Segment
	err := reliability.Retry(ctx, conflictRetries, 5*time.Millisecond, 50*time.Millisecond,
		func(err error) bool { return errors.Is(err, memory.ErrConflict) },
		func() error {
			seg, err := m.load(ctx, segmentID, sessionID)
			if err != nil {
				return err
			}
			if err := fn(&seg); err != nil {
				return err
			}
			seg.LastActivityAt = m.now()
			saved, err := m.store.UpsertSegment(ctx, seg)
			if err != nil {
				if errors.Is(err, memory.ErrConflict) {
					return err
				}
				return storageErr("save segment", err)
			}
			out = saved
			return nil
		})
	if errors.Is(err, memory.ErrConflict) {
		return memory.Segment{}, storageErr("save segment", err)
	}
	return out, err
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// MergeKeywords appends new keywords not already present (case-insensitive),
// keeping at most max entries.
func MergeKeywords(existing, add []string, max int) []string {
	out := make([]string, 0, len(existing)+len(add))
	seen := make(map[string]struct{}, len(existing)+len(add))
	for _, list := range [][]string{existing, add} {
		for _, kw := range list {
			key := strings.ToLower(strings.TrimSpace(kw))
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			if max > 0 && len(out) >= max {
				return out
			}
			seen[key] = struct{}{}
			out = append(out, key)
		}
	}
	return out
}

func indexFold(list []string, v string) int {
	for i, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), v) {
			return i
		}
	}
	return -1
}
