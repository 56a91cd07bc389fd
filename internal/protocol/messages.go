package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Rev4nchist/agent-arch/internal/governor"
	"github.com/Rev4nchist/agent-arch/internal/hydrator"
	"github.com/Rev4nchist/agent-arch/internal/memory"
	"github.com/Rev4nchist/agent-arch/internal/suggestions"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeRouteQuery         MessageType = "route_query"
	TypeRecordTurn         MessageType = "record_turn"
	TypeRequestSuggestions MessageType = "request_suggestions"
	TypeRouteResult        MessageType = "route_result"
	TypeTurnRecorded       MessageType = "turn_recorded"
	TypeSuggestions        MessageType = "suggestions"
	TypeErrorEvent         MessageType = "error_event"
)

// Suggestion kinds carried by request_suggestions.
const (
	SuggestionsPage     = "page"
	SuggestionsFollowUp = "follow_up"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// RouteQuery asks the server to route and hydrate a query. User and session
// come from the connection.
type RouteQuery struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Query     string      `json:"query"`
	Intent    string      `json:"intent,omitempty"`
	Entities  []string    `json:"entities,omitempty"`
}

type RecordTurn struct {
	Type            MessageType          `json:"type"`
	RequestID       string               `json:"request_id,omitempty"`
	Decision        governor.Decision    `json:"decision"`
	Query           string               `json:"query"`
	ResponseSummary string               `json:"response_summary"`
	Intent          string               `json:"intent,omitempty"`
	Entities        []memory.KnownEntity `json:"entities,omitempty"`
	OpenLoops       []string             `json:"open_loops,omitempty"`
	Decisions       []string             `json:"decisions,omitempty"`
	Summary         string               `json:"summary,omitempty"`
}

type RequestSuggestions struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Kind      string      `json:"kind"`
	Page      string      `json:"page,omitempty"`
	Query     string      `json:"query,omitempty"`
	Intent    string      `json:"intent,omitempty"`
}

type RouteResult struct {
	Type      MessageType       `json:"type"`
	RequestID string            `json:"request_id,omitempty"`
	SessionID string            `json:"session_id"`
	Decision  governor.Decision `json:"decision"`
	Context   hydrator.Context  `json:"context"`
}

type TurnRecorded struct {
	Type      MessageType    `json:"type"`
	RequestID string         `json:"request_id,omitempty"`
	SessionID string         `json:"session_id"`
	Segment   memory.Segment `json:"segment"`
}

type Suggestions struct {
	Type      MessageType          `json:"type"`
	RequestID string               `json:"request_id,omitempty"`
	SessionID string               `json:"session_id"`
	Kind      string               `json:"kind"`
	Response  suggestions.Response `json:"response"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeRouteQuery:
		var msg RouteQuery
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Query) == "" {
			return nil, errors.New("invalid route_query: query is required")
		}
		return msg, nil
	case TypeRecordTurn:
		var msg RecordTurn
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Query) == "" || msg.Decision.Scenario == "" {
			return nil, errors.New("invalid record_turn: query and decision are required")
		}
		return msg, nil
	case TypeRequestSuggestions:
		var msg RequestSuggestions
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Kind == "" {
			msg.Kind = SuggestionsPage
		}
		if msg.Kind != SuggestionsPage && msg.Kind != SuggestionsFollowUp {
			return nil, fmt.Errorf("invalid request_suggestions: unknown kind %q", msg.Kind)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
