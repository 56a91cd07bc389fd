package policy

import (
	"strings"
)

// Intent labels produced by DetectIntent.
const (
	IntentMeeting          = "meeting_inquiry"
	IntentTask             = "task_management"
	IntentAgentDevelopment = "agent_development"
	IntentBudget           = "budget_inquiry"
	IntentProposal         = "proposal_review"
	IntentTechnical        = "technical_question"
	IntentGeneral          = "general_question"
)

type intentRule struct {
	intent   string
	keywords []string
}

// Order matters: the first rule with a matching keyword wins.
var intentRules = []intentRule{
	{IntentMeeting, []string{"meeting", "meetings", "agenda", "minutes", "calendar", "standup", "attendees"}},
	{IntentTask, []string{"task", "tasks", "todo", "to-do", "assign", "deadline", "due date", "backlog"}},
	{IntentAgentDevelopment, []string{"agent", "agents", "prompt", "tooling", "orchestrat", "workflow"}},
	{IntentBudget, []string{"budget", "cost", "costs", "spend", "pricing", "license", "invoice", "expense"}},
	{IntentProposal, []string{"proposal", "proposals", "rfc", "approval", "review the plan"}},
}

var technicalKeywords = []string{
	"api", "endpoint", "database", "schema", "deploy", "kubernetes", "docker",
	"latency", "error", "exception", "stack trace", "function", "refactor",
	"sdk", "embedding", "vector", "query", "cache", "config", "code", "bug",
	"http", "json", "sql", "index", "thread", "concurrency", "architecture",
}

// DetectIntent maps a query onto a coarse intent label using keyword lists.
func DetectIntent(query string) string {
	in := strings.ToLower(strings.TrimSpace(query))
	if in == "" {
		return IntentGeneral
	}
	for _, rule := range intentRules {
		if containsAny(in, rule.keywords) {
			return rule.intent
		}
	}
	if IsTechnicalQuery(in) {
		return IntentTechnical
	}
	return IntentGeneral
}

// IsTechnicalQuery reports whether a query touches engineering vocabulary.
func IsTechnicalQuery(query string) bool {
	in := strings.ToLower(query)
	for _, tok := range strings.FieldsFunc(in, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' || r == '_')
	}) {
		for _, kw := range technicalKeywords {
			if tok == kw {
				return true
			}
		}
	}
	for _, kw := range technicalKeywords {
		if strings.Contains(kw, " ") && strings.Contains(in, kw) {
			return true
		}
	}
	return false
}

// HumanizeIntent turns "budget_inquiry" into "Budget Inquiry".
func HumanizeIntent(intent string) string {
	parts := strings.FieldsFunc(intent, func(r rune) bool { return r == '_' || r == '-' || r == ' ' })
	for i, p := range parts {
		parts[i] = strings.ToUpper(p[:1]) + strings.ToLower(p[1:])
	}
	return strings.Join(parts, " ")
}

func containsAny(in string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(in, kw) {
			return true
		}
	}
	return false
}
