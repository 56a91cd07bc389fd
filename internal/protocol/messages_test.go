package protocol

import (
	"errors"
	"testing"

	"github.com/Rev4nchist/agent-arch/internal/governor"
)

func TestParseClientMessageRouteQuery(t *testing.T) {
	raw := []byte(`{"type":"route_query","request_id":"r1","query":"what about the budget?","entities":["Atlas"]}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	q, ok := msg.(RouteQuery)
	if !ok {
		t.Fatalf("message type = %T, want RouteQuery", msg)
	}
	if q.RequestID != "r1" || q.Query != "what about the budget?" || len(q.Entities) != 1 {
		t.Fatalf("unexpected route query: %+v", q)
	}
}

func TestParseClientMessageRecordTurn(t *testing.T) {
	raw := []byte(`{"type":"record_turn","query":"q","response_summary":"a","decision":{"scenario":"TOPIC_SHIFT","pause_segment_id":"seg-1","is_new_topic":true},"open_loops":["follow up"]}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	rec, ok := msg.(RecordTurn)
	if !ok {
		t.Fatalf("message type = %T, want RecordTurn", msg)
	}
	if rec.Decision.Scenario != governor.TopicShift || rec.Decision.PauseSegmentID != "seg-1" {
		t.Fatalf("Decision = %+v", rec.Decision)
	}
	if len(rec.OpenLoops) != 1 {
		t.Fatalf("OpenLoops = %v, want 1 entry", rec.OpenLoops)
	}
}

func TestParseClientMessageSuggestionsDefaultsToPage(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"request_suggestions","page":"tasks"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	req, ok := msg.(RequestSuggestions)
	if !ok {
		t.Fatalf("message type = %T, want RequestSuggestions", msg)
	}
	if req.Kind != SuggestionsPage || req.Page != "tasks" {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageRejectsInvalid(t *testing.T) {
	for _, raw := range []string{
		`{"type":"route_query","query":"  "}`,
		`{"type":"record_turn","query":"q"}`,
		`{"type":"request_suggestions","kind":"sideways"}`,
		`not json`,
	} {
		if _, err := ParseClientMessage([]byte(raw)); err == nil {
			t.Fatalf("ParseClientMessage(%s) error = nil, want validation error", raw)
		}
	}
}

func BenchmarkParseClientMessageRouteQuery(b *testing.B) {
	raw := []byte(`{"type":"route_query","request_id":"r7","query":"more about the API design approach","intent":"technical_question"}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseClientMessage(raw)
		if err != nil {
			b.Fatalf("ParseClientMessage() error = %v", err)
		}
		if _, ok := msg.(RouteQuery); !ok {
			b.Fatalf("message type = %T, want RouteQuery", msg)
		}
	}
}
