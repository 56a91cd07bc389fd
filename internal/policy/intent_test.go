package policy

import (
	"errors"
	"strings"
	"testing"

	"github.com/Rev4nchist/agent-arch/internal/memory"
)

func TestDetectIntent(t *testing.T) {
	cases := []struct {
		query string
		want  string
	}{
		{"what is on the agenda for tomorrow's meeting", IntentMeeting},
		{"what are the license costs?", IntentBudget},
		{"assign this task to Dana", IntentTask},
		{"how do I wire a new agent workflow", IntentAgentDevelopment},
		{"why does the endpoint return an error", IntentTechnical},
		{"hello there", IntentGeneral},
		{"", IntentGeneral},
	}
	for _, tc := range cases {
		if got := DetectIntent(tc.query); got != tc.want {
			t.Fatalf("DetectIntent(%q) = %q, want %q", tc.query, got, tc.want)
		}
	}
}

func TestIsTechnicalQueryMatchesWholeTokens(t *testing.T) {
	if !IsTechnicalQuery("Which SQL index fits this?") {
		t.Fatalf("IsTechnicalQuery(sql index) = false, want true")
	}
	if IsTechnicalQuery("capital of France") {
		t.Fatalf("IsTechnicalQuery(capital) = true, want false (api is only a substring)")
	}
}

func TestHumanizeIntent(t *testing.T) {
	if got := HumanizeIntent("budget_inquiry"); got != "Budget Inquiry" {
		t.Fatalf("HumanizeIntent() = %q, want %q", got, "Budget Inquiry")
	}
}

func TestValidateID(t *testing.T) {
	if err := ValidateID("user_id", "user-42@corp"); err != nil {
		t.Fatalf("ValidateID(valid) error = %v", err)
	}
	for _, bad := range []string{"", "has space", "drop;table", strings.Repeat("x", 129)} {
		if err := ValidateID("user_id", bad); !errors.Is(err, ErrInvalidIdentifier) {
			t.Fatalf("ValidateID(%q) error = %v, want ErrInvalidIdentifier", bad, err)
		}
	}
}

func TestSecretFactsNeverExposeValue(t *testing.T) {
	secret := memory.Fact{Key: "staging password", Value: "hunter2", Category: memory.CategorySecret}
	if got := RenderFact(secret); got != "staging password: [SENSITIVE - Available on request]" {
		t.Fatalf("RenderFact(secret) = %q", got)
	}
	if _, err := IndexableFact(secret); !errors.Is(err, ErrSecretFact) {
		t.Fatalf("IndexableFact(secret) error = %v, want ErrSecretFact", err)
	}

	plain := memory.Fact{Key: "HMLR", Value: "hierarchical memory lookup & routing", Category: memory.CategoryAcronym}
	text, err := IndexableFact(plain)
	if err != nil {
		t.Fatalf("IndexableFact(plain) error = %v", err)
	}
	if text != "HMLR: hierarchical memory lookup & routing" {
		t.Fatalf("IndexableFact(plain) = %q", text)
	}
}
