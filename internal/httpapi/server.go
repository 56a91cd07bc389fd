package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/Rev4nchist/agent-arch/internal/cache"
	"github.com/Rev4nchist/agent-arch/internal/config"
	"github.com/Rev4nchist/agent-arch/internal/governor"
	"github.com/Rev4nchist/agent-arch/internal/hmlr"
	"github.com/Rev4nchist/agent-arch/internal/hydrator"
	"github.com/Rev4nchist/agent-arch/internal/memory"
	"github.com/Rev4nchist/agent-arch/internal/observability"
	"github.com/Rev4nchist/agent-arch/internal/policy"
	"github.com/Rev4nchist/agent-arch/internal/protocol"
	"github.com/Rev4nchist/agent-arch/internal/segments"
	"github.com/Rev4nchist/agent-arch/internal/suggestions"
)

// Memory is the routing service surface exposed over HTTP.
type Memory interface {
	Enabled() bool
	Prepare(ctx context.Context, req hmlr.RouteRequest) (governor.Decision, hydrator.Context, error)
	RecordTurn(ctx context.Context, d governor.Decision, rec hmlr.TurnRecord) (memory.Segment, error)
	ResolveOpenLoop(ctx context.Context, userID, segmentID, sessionID, loop string) (memory.Segment, error)
	PageSuggestions(ctx context.Context, req suggestions.PageRequest) suggestions.Response
	FollowUpSuggestions(ctx context.Context, req suggestions.FollowUpRequest) suggestions.Response
	EraseUser(ctx context.Context, userID string) (hmlr.ErasureReport, error)
}

// CacheStatser reports embedding cache statistics.
type CacheStatser interface {
	Stats() cache.Stats
}

type Server struct {
	cfg      config.Config
	memory   Memory
	cache    CacheStatser
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

// New builds the HTTP server. cacheStats and metrics may be nil.
func New(cfg config.Config, mem Memory, cacheStats CacheStatser, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		memory:  mem,
		cache:   cacheStats,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browsers may only connect from the same origin unless
				// explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/routing", s.handlePerfRouting)

	r.Route("/v1/hmlr", func(r chi.Router) {
		r.Post("/route", s.handleRoute)
		r.Post("/turns", s.handleRecordTurn)
		r.Post("/open-loops/resolve", s.handleResolveOpenLoop)
		r.Get("/suggestions", s.handlePageSuggestions)
		r.Post("/suggestions/follow-up", s.handleFollowUpSuggestions)
		r.Get("/cache/stats", s.handleCacheStats)
		r.Delete("/users/{id}", s.handleEraseUser)
		r.Get("/session/ws", s.handleSessionWS)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"hmlr_enabled": s.memory != nil && s.memory.Enabled(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.memory == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "memory service not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"hmlr_enabled": s.memory.Enabled(),
	})
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if err := policy.ValidateID("user_id", userID); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_identifier", err.Error())
		return
	}
	if err := policy.ValidateID("session_id", sessionID); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_identifier", err.Error())
		return
	}
	if s.memory == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "memory service not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 256)
	outbound := make(chan any, 256)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		s.runConnection(ctx, userID, sessionID, inbound, outbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					s.observeWS("outbound", "write_error")
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.observeWS("outbound", string(t))
				}
			}
		}
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			errEvent := protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			}
			select {
			case outbound <- errEvent:
			default:
				// Writes stay single-threaded; drop when the queue is full.
				s.observeWS("outbound", "drop_full")
			}
			continue
		}

		if t, ok := messageTypeOf(parsed); ok {
			s.observeWS("inbound", string(t))
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
}

// runConnection handles client messages in arrival order, so a record_turn
// always sees the decision of the route_query sent before it.
func (s *Server) runConnection(ctx context.Context, userID, sessionID string, inbound <-chan any, outbound chan<- any) {
	for msg := range inbound {
		reply := s.handleClientMessage(ctx, userID, sessionID, msg)
		if reply == nil {
			continue
		}
		select {
		case <-ctx.Done():
			// Keep draining so the reader never blocks on a full channel.
		case outbound <- reply:
		}
	}
}

func (s *Server) handleClientMessage(ctx context.Context, userID, sessionID string, msg any) any {
	switch m := msg.(type) {
	case protocol.RouteQuery:
		d, hctx, err := s.memory.Prepare(ctx, hmlr.RouteRequest{
			UserID:    userID,
			SessionID: sessionID,
			Query:     m.Query,
			Intent:    m.Intent,
			Entities:  m.Entities,
		})
		if err != nil {
			return errorEvent(sessionID, m.RequestID, err)
		}
		return protocol.RouteResult{
			Type:      protocol.TypeRouteResult,
			RequestID: m.RequestID,
			SessionID: sessionID,
			Decision:  d,
			Context:   hctx,
		}
	case protocol.RecordTurn:
		seg, err := s.memory.RecordTurn(ctx, m.Decision, hmlr.TurnRecord{
			UserID:          userID,
			SessionID:       sessionID,
			Query:           m.Query,
			ResponseSummary: m.ResponseSummary,
			Intent:          m.Intent,
			Entities:        m.Entities,
			OpenLoops:       m.OpenLoops,
			Decisions:       m.Decisions,
			Summary:         m.Summary,
		})
		if err != nil {
			return errorEvent(sessionID, m.RequestID, err)
		}
		return protocol.TurnRecorded{
			Type:      protocol.TypeTurnRecorded,
			RequestID: m.RequestID,
			SessionID: sessionID,
			Segment:   seg,
		}
	case protocol.RequestSuggestions:
		var resp suggestions.Response
		if m.Kind == protocol.SuggestionsFollowUp {
			resp = s.memory.FollowUpSuggestions(ctx, suggestions.FollowUpRequest{
				UserID:    userID,
				SessionID: sessionID,
				Page:      m.Page,
				Query:     m.Query,
				Intent:    m.Intent,
			})
		} else {
			resp = s.memory.PageSuggestions(ctx, suggestions.PageRequest{
				UserID:    userID,
				SessionID: sessionID,
				Page:      m.Page,
			})
		}
		return protocol.Suggestions{
			Type:      protocol.TypeSuggestions,
			RequestID: m.RequestID,
			SessionID: sessionID,
			Kind:      m.Kind,
			Response:  resp,
		}
	default:
		return nil
	}
}

func errorEvent(sessionID, requestID string, err error) protocol.ErrorEvent {
	_, code := classifyError(err)
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		RequestID: requestID,
		SessionID: sessionID,
		Code:      code,
		Source:    "hmlr",
		Retryable: errors.Is(err, segments.ErrStorage),
		Detail:    err.Error(),
	}
}

// classifyError maps service errors onto an HTTP status and error code.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, policy.ErrInvalidIdentifier):
		return http.StatusBadRequest, "invalid_identifier"
	case errors.Is(err, hmlr.ErrDisabled):
		return http.StatusServiceUnavailable, "hmlr_disabled"
	case errors.Is(err, segments.ErrSegmentNotFound):
		return http.StatusNotFound, "segment_not_found"
	case errors.Is(err, segments.ErrStorage):
		return http.StatusServiceUnavailable, "storage_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (s *Server) observeWS(direction, msgType string) {
	if s.metrics != nil {
		s.metrics.ObserveWSMessage(direction, msgType)
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func respondServiceError(w http.ResponseWriter, err error) {
	status, code := classifyError(err)
	respondError(w, status, code, err.Error())
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.RouteQuery:
		return m.Type, true
	case protocol.RecordTurn:
		return m.Type, true
	case protocol.RequestSuggestions:
		return m.Type, true
	case protocol.RouteResult:
		return m.Type, true
	case protocol.TurnRecorded:
		return m.Type, true
	case protocol.Suggestions:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
