package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Rev4nchist/agent-arch/internal/governor"
	"github.com/Rev4nchist/agent-arch/internal/hmlr"
	"github.com/Rev4nchist/agent-arch/internal/hydrator"
	"github.com/Rev4nchist/agent-arch/internal/policy"
	"github.com/Rev4nchist/agent-arch/internal/suggestions"
)

type routeResponse struct {
	Decision governor.Decision `json:"decision"`
	Context  hydrator.Context  `json:"context"`
}

type recordTurnRequest struct {
	hmlr.TurnRecord
	Decision governor.Decision `json:"decision"`
}

type resolveLoopRequest struct {
	UserID    string `json:"user_id"`
	SegmentID string `json:"segment_id"`
	SessionID string `json:"session_id"`
	Loop      string `json:"loop"`
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req hmlr.RouteRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "query is required")
		return
	}
	d, hctx, err := s.memory.Prepare(r.Context(), req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, routeResponse{Decision: d, Context: hctx})
}

func (s *Server) handleRecordTurn(w http.ResponseWriter, r *http.Request) {
	var req recordTurnRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "query is required")
		return
	}
	seg, err := s.memory.RecordTurn(r.Context(), req.Decision, req.TurnRecord)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, seg)
}

func (s *Server) handleResolveOpenLoop(w http.ResponseWriter, r *http.Request) {
	var req resolveLoopRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}
	seg, err := s.memory.ResolveOpenLoop(r.Context(), req.UserID, req.SegmentID, req.SessionID, req.Loop)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, seg)
}

func (s *Server) handlePageSuggestions(w http.ResponseWriter, r *http.Request) {
	if s.memory == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "memory service not configured")
		return
	}
	q := r.URL.Query()
	req := suggestions.PageRequest{
		UserID:    strings.TrimSpace(q.Get("user_id")),
		SessionID: strings.TrimSpace(q.Get("session_id")),
		Page:      strings.TrimSpace(q.Get("page")),
	}
	if !validOptionalIDs(w, req.UserID, req.SessionID) {
		return
	}
	respondJSON(w, http.StatusOK, s.memory.PageSuggestions(r.Context(), req))
}

func (s *Server) handleFollowUpSuggestions(w http.ResponseWriter, r *http.Request) {
	var req suggestions.FollowUpRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}
	if !validOptionalIDs(w, req.UserID, req.SessionID) {
		return
	}
	respondJSON(w, http.StatusOK, s.memory.FollowUpSuggestions(r.Context(), req))
}

func (s *Server) handleEraseUser(w http.ResponseWriter, r *http.Request) {
	if s.memory == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "memory service not configured")
		return
	}
	report, err := s.memory.EraseUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// decodeRequest reads a JSON body into out, writing the error response
// itself when it returns false.
func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request, out any) bool {
	if s.memory == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "memory service not configured")
		return false
	}
	if err := decodeJSON(r, out); err != nil {
		if errors.Is(err, errEmptyBody) {
			respondError(w, http.StatusBadRequest, "invalid_request", "request body is required")
			return false
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return false
	}
	return true
}

// validOptionalIDs accepts blank identifiers, which fall back to static
// suggestions, but rejects malformed ones.
func validOptionalIDs(w http.ResponseWriter, userID, sessionID string) bool {
	if userID != "" {
		if err := policy.ValidateID("user_id", userID); err != nil {
			respondServiceError(w, err)
			return false
		}
	}
	if sessionID != "" {
		if err := policy.ValidateID("session_id", sessionID); err != nil {
			respondServiceError(w, err)
			return false
		}
	}
	return true
}
