// Package hmlr is the service facade over routing, hydration, turn
// recording, suggestions and user erasure.
package hmlr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/Rev4nchist/agent-arch/internal/governor"
	"github.com/Rev4nchist/agent-arch/internal/hydrator"
	"github.com/Rev4nchist/agent-arch/internal/learning"
	"github.com/Rev4nchist/agent-arch/internal/memory"
	"github.com/Rev4nchist/agent-arch/internal/policy"
	"github.com/Rev4nchist/agent-arch/internal/segments"
	"github.com/Rev4nchist/agent-arch/internal/suggestions"
	"github.com/Rev4nchist/agent-arch/internal/vector"
)

var ErrDisabled = errors.New("hmlr: memory routing is disabled")

const maxSummaryRunes = 1200

type Router interface {
	Route(ctx context.Context, req governor.Request) (governor.Decision, error)
}

type ProfileReader interface {
	GetProfile(ctx context.Context, userID string) (*memory.UserProfile, error)
}

type UserDataEraser interface {
	DeleteUserData(ctx context.Context, userID string) error
}

// VectorIndex receives segment summaries and forgets users.
type VectorIndex interface {
	IndexSegmentSummary(ctx context.Context, seg memory.Segment) error
	DeleteUser(ctx context.Context, userID string) error
}

// EmbeddingCache drops cached segment embeddings.
type EmbeddingCache interface {
	Forget(segmentID string)
}

type Submitter interface {
	Submit(job learning.Job) bool
}

type Config struct {
	Enabled bool
}

// Deps are the collaborators of a Service. Vectors, Embeddings and
// Background may be nil.
type Deps struct {
	Router      Router
	Segments    *segments.Manager
	Profiles    ProfileReader
	Facts       UserDataEraser
	Hydrator    *hydrator.Hydrator
	Suggestions *suggestions.Orchestrator
	Vectors     VectorIndex
	Embeddings  EmbeddingCache
	Background  Submitter
	Logger      *slog.Logger
}

type Service struct {
	cfg         Config
	router      Router
	segments    *segments.Manager
	profiles    ProfileReader
	facts       UserDataEraser
	hydrator    *hydrator.Hydrator
	suggestions *suggestions.Orchestrator
	vectors     VectorIndex
	embeddings  EmbeddingCache
	background  Submitter
	logger      *slog.Logger
}

func New(cfg Config, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := deps.Hydrator
	if h == nil {
		h = hydrator.New(hydrator.DefaultConfig())
	}
	return &Service{
		cfg:         cfg,
		router:      deps.Router,
		segments:    deps.Segments,
		profiles:    deps.Profiles,
		facts:       deps.Facts,
		hydrator:    h,
		suggestions: deps.Suggestions,
		vectors:     deps.Vectors,
		embeddings:  deps.Embeddings,
		background:  deps.Background,
		logger:      logger,
	}
}

func (s *Service) Enabled() bool { return s != nil && s.cfg.Enabled }

// RouteRequest is a query to route within a session.
type RouteRequest = governor.Request

// TurnRecord is what the caller learned from answering a routed query.
type TurnRecord struct {
	UserID          string               `json:"user_id"`
	SessionID       string               `json:"session_id"`
	Query           string               `json:"query"`
	ResponseSummary string               `json:"response_summary"`
	Intent          string               `json:"intent,omitempty"`
	Entities        []memory.KnownEntity `json:"entities,omitempty"`
	OpenLoops       []string             `json:"open_loops,omitempty"`
	Decisions       []string             `json:"decisions,omitempty"`
	Summary         string               `json:"summary,omitempty"`
}

// ErasureReport summarizes what EraseUser removed.
type ErasureReport struct {
	UserID          string `json:"user_id"`
	SegmentsDeleted int    `json:"segments_deleted"`
	FactsDeleted    bool   `json:"facts_deleted"`
	VectorsDeleted  bool   `json:"vectors_deleted"`
}

func disabledDecision() governor.Decision {
	return governor.Decision{
		Scenario:   governor.NewTopicFirst,
		IsNewTopic: true,
		Facts:      []memory.Fact{},
		Candidates: []memory.CandidateMemory{},
		Keywords:   []string{},
	}
}

// Prepare routes a query and hydrates its context. Only invalid identifiers
// produce an error.
func (s *Service) Prepare(ctx context.Context, req RouteRequest) (governor.Decision, hydrator.Context, error) {
	if err := validateIDs(req.UserID, req.SessionID); err != nil {
		return governor.Decision{}, hydrator.Context{}, err
	}
	if !s.Enabled() {
		return disabledDecision(), hydrator.Context{}, nil
	}

	d, err := s.router.Route(ctx, req)
	if err != nil {
		return governor.Decision{}, hydrator.Context{}, err
	}

	var profile *memory.UserProfile
	if s.profiles != nil {
		profile, err = s.profiles.GetProfile(ctx, req.UserID)
		if err != nil {
			s.logger.Warn("profile lookup degraded", "source", "profile", "user_id", req.UserID, "session_id", req.SessionID, "err", err)
			profile = nil
		}
	}
	return d, s.hydrator.Hydrate(d, profile, req.Query), nil
}

// RecordTurn applies a routing decision to the segment store and stores the
// turn, then queues background learning.
func (s *Service) RecordTurn(ctx context.Context, d governor.Decision, rec TurnRecord) (memory.Segment, error) {
	if err := validateIDs(rec.UserID, rec.SessionID); err != nil {
		return memory.Segment{}, err
	}
	if !s.Enabled() {
		return memory.Segment{}, ErrDisabled
	}

	// Stored segment text is masked; the raw query only reaches the fact
	// learner, which keeps SECRET values out of every index.
	turn := memory.Turn{
		Query:           policy.Redact(rec.Query),
		ResponseSummary: policy.Redact(rec.ResponseSummary),
		Intent:          rec.Intent,
		Entities:        entityNames(rec.Entities),
	}
	seg, err := s.applyDecision(ctx, d, rec, turn)
	if err != nil {
		return memory.Segment{}, err
	}

	for _, loop := range rec.OpenLoops {
		if strings.TrimSpace(loop) == "" {
			continue
		}
		if seg, err = s.segments.AddOpenLoop(ctx, seg.ID, seg.SessionID, policy.Redact(loop)); err != nil {
			return memory.Segment{}, err
		}
	}
	for _, decision := range rec.Decisions {
		if strings.TrimSpace(decision) == "" {
			continue
		}
		if seg, err = s.segments.AddDecision(ctx, seg.ID, seg.SessionID, policy.Redact(decision)); err != nil {
			return memory.Segment{}, err
		}
	}
	addition := rec.Summary
	if addition == "" {
		addition = rec.ResponseSummary
	}
	seg, err = s.segments.UpdateSummary(ctx, seg.ID, seg.SessionID, ExtendSummary(seg.Summary, policy.Redact(addition), maxSummaryRunes), d.Keywords)
	if err != nil {
		return memory.Segment{}, err
	}

	if s.embeddings != nil {
		s.embeddings.Forget(seg.ID)
	}
	if s.vectors != nil {
		if err := s.vectors.IndexSegmentSummary(ctx, seg); err != nil && !errors.Is(err, vector.ErrDisabled) {
			s.logger.Warn("segment summary indexing degraded", "source", "vectors", "user_id", rec.UserID, "session_id", rec.SessionID, "segment_id", seg.ID, "err", err)
		}
	}
	if s.background != nil {
		s.background.Submit(learning.Job{
			UserID:          rec.UserID,
			SessionID:       rec.SessionID,
			SegmentID:       seg.ID,
			TopicLabel:      seg.TopicLabel,
			Query:           rec.Query,
			ResponseSummary: rec.ResponseSummary,
			Entities:        rec.Entities,
		})
	}
	return seg, nil
}

func (s *Service) applyDecision(ctx context.Context, d governor.Decision, rec TurnRecord, turn memory.Turn) (memory.Segment, error) {
	label := d.SuggestedLabel
	if label == "" {
		label = governor.SuggestLabel(d.Keywords, rec.Intent)
	}
	create := func() (memory.Segment, error) {
		return s.segments.CreateSegment(ctx, rec.SessionID, rec.UserID, label, &turn)
	}

	// Segment IDs in d come from the client, so each one is checked against
	// the recording user before it is touched. Foreign segments read as
	// missing.
	switch d.Scenario {
	case governor.TopicContinuation:
		err := s.segments.CheckOwner(ctx, d.MatchedSegmentID, rec.SessionID, rec.UserID)
		var seg memory.Segment
		if err == nil {
			seg, err = s.segments.AppendTurn(ctx, d.MatchedSegmentID, rec.SessionID, turn)
		}
		if errors.Is(err, segments.ErrSegmentNotFound) {
			s.logger.Warn("matched segment unavailable, starting a new one", "user_id", rec.UserID, "session_id", rec.SessionID, "segment_id", d.MatchedSegmentID, "err", err)
			return create()
		}
		return seg, err
	case governor.TopicResumption:
		err := s.segments.CheckOwner(ctx, d.MatchedSegmentID, rec.SessionID, rec.UserID)
		if err == nil {
			_, err = s.segments.Resume(ctx, d.MatchedSegmentID, rec.SessionID)
		}
		if err != nil {
			if errors.Is(err, segments.ErrSegmentNotFound) {
				s.logger.Warn("resumed segment unavailable, starting a new one", "user_id", rec.UserID, "session_id", rec.SessionID, "segment_id", d.MatchedSegmentID, "err", err)
				return create()
			}
			return memory.Segment{}, err
		}
		return s.segments.AppendTurn(ctx, d.MatchedSegmentID, rec.SessionID, turn)
	case governor.TopicShift:
		if d.PauseSegmentID != "" {
			err := s.segments.CheckOwner(ctx, d.PauseSegmentID, rec.SessionID, rec.UserID)
			if err == nil {
				_, err = s.segments.Pause(ctx, d.PauseSegmentID, rec.SessionID)
			}
			if err != nil && !errors.Is(err, segments.ErrSegmentNotFound) {
				return memory.Segment{}, err
			}
		}
		return create()
	case governor.NewTopicFirst, "":
		return create()
	default:
		return memory.Segment{}, fmt.Errorf("hmlr: unknown scenario %q", d.Scenario)
	}
}

// ResolveOpenLoop removes a loop from a segment owned by userID.
func (s *Service) ResolveOpenLoop(ctx context.Context, userID, segmentID, sessionID, loop string) (memory.Segment, error) {
	if err := validateIDs(userID, sessionID); err != nil {
		return memory.Segment{}, err
	}
	if err := policy.ValidateID("segment_id", segmentID); err != nil {
		return memory.Segment{}, err
	}
	if !s.Enabled() {
		return memory.Segment{}, ErrDisabled
	}
	if err := s.segments.CheckOwner(ctx, segmentID, sessionID, userID); err != nil {
		return memory.Segment{}, err
	}
	return s.segments.ResolveOpenLoop(ctx, segmentID, sessionID, loop)
}

func (s *Service) PageSuggestions(ctx context.Context, req suggestions.PageRequest) suggestions.Response {
	return s.suggestions.PageSuggestions(ctx, req)
}

func (s *Service) FollowUpSuggestions(ctx context.Context, req suggestions.FollowUpRequest) suggestions.Response {
	return s.suggestions.FollowUpSuggestions(ctx, req)
}

// EraseUser deletes every segment, fact, profile and vector document of a
// user. Segment and fact failures are returned; vector failures are logged.
func (s *Service) EraseUser(ctx context.Context, userID string) (ErasureReport, error) {
	if err := policy.ValidateID("user_id", userID); err != nil {
		return ErasureReport{}, err
	}
	report := ErasureReport{UserID: userID}

	deleted, err := s.segments.EraseUser(ctx, userID)
	if err != nil {
		return report, err
	}
	report.SegmentsDeleted = len(deleted)
	if s.embeddings != nil {
		for _, seg := range deleted {
			s.embeddings.Forget(seg.ID)
		}
	}

	if s.facts != nil {
		if err := s.facts.DeleteUserData(ctx, userID); err != nil {
			return report, fmt.Errorf("erase facts: %w", err)
		}
		report.FactsDeleted = true
	}
	if s.vectors != nil {
		if err := s.vectors.DeleteUser(ctx, userID); err != nil {
			s.logger.Warn("vector erasure failed", "source", "vectors", "user_id", userID, "err", err)
		} else {
			report.VectorsDeleted = true
		}
	}
	s.logger.Info("user data erased", "user_id", userID, "segments", report.SegmentsDeleted)
	return report, nil
}

// ExtendSummary appends addition to a running summary and keeps at most
// max runes, dropping the oldest text first.
func ExtendSummary(existing, addition string, max int) string {
	existing = strings.TrimSpace(existing)
	addition = strings.TrimSpace(addition)
	if addition == "" {
		return existing
	}
	if strings.HasSuffix(existing, addition) {
		return existing
	}
	out := addition
	if existing != "" {
		out = existing + " " + addition
	}
	if max <= 0 || utf8.RuneCountInString(out) <= max {
		return out
	}
	runes := []rune(out)
	cut := len(runes) - max
	tail := string(runes[cut:])
	if runes[cut-1] != ' ' {
		if i := strings.IndexByte(tail, ' '); i >= 0 && i < len(tail)-1 {
			tail = tail[i+1:]
		}
	}
	return strings.TrimSpace(tail)
}

func validateIDs(userID, sessionID string) error {
	if err := policy.ValidateID("user_id", userID); err != nil {
		return err
	}
	return policy.ValidateID("session_id", sessionID)
}

func entityNames(entities []memory.KnownEntity) []string {
	if len(entities) == 0 {
		return nil
	}
	out := make([]string, 0, len(entities))
	for _, e := range entities {
		if name := strings.TrimSpace(e.Name); name != "" {
			out = append(out, name)
		}
	}
	return out
}
