package suggestions

import (
	"strings"

	"github.com/Rev4nchist/agent-arch/internal/crosssession"
	"github.com/Rev4nchist/agent-arch/internal/memory"
	"github.com/Rev4nchist/agent-arch/internal/policy"
)

// ReturnToPriority is the open-loop priority above which the intent
// provider injects a "Return to" suggestion.
const ReturnToPriority = 70

const (
	commonQueryPriority   = 60
	topicInterestPriority = 55
	entityPriority        = 50
	contextPriority       = 45
	intentPriority        = 40
	staticPriority        = 20
)

// MemoryProvider turns a cross-session memory bundle into suggestions.
type MemoryProvider struct{}

func (MemoryProvider) Suggest(b crosssession.Bundle) []Suggestion {
	var out []Suggestion
	for _, loop := range b.OpenLoops {
		verb := "Resume: "
		if loop.FromCurrentSession {
			verb = "Continue: "
		}
		out = append(out, Suggestion{
			Text:       verb + loop.Text,
			Source:     SourceOpenLoop,
			Priority:   loop.Priority,
			Confidence: 0.9,
			Metadata: map[string]string{
				"segment_id":  loop.SegmentID,
				"topic_label": loop.TopicLabel,
			},
		})
	}
	for _, q := range b.CommonQueries {
		if policy.ContainsSecret(q) {
			continue
		}
		out = append(out, Suggestion{
			Text:       phraseForExpertise(q, b.Expertise),
			Source:     SourceCommonQuery,
			Priority:   commonQueryPriority,
			Confidence: 0.7,
		})
	}
	for _, topic := range b.TopicInterests {
		out = append(out, Suggestion{
			Text:       "Explore more about " + topic,
			Source:     SourceTopicInterest,
			Priority:   topicInterestPriority,
			Confidence: 0.6,
		})
	}
	for _, e := range b.KnownEntities {
		text := "Tell me about " + e.Name
		if isTrackedEntity(e.Type) {
			text = "Update on " + e.Name
		}
		out = append(out, Suggestion{
			Text:       text,
			Source:     SourceEntity,
			Priority:   entityPriority,
			Confidence: 0.6,
			Metadata:   map[string]string{"entity_type": e.Type},
		})
	}
	for _, f := range b.RelevantFacts {
		text := "Details on " + f.Key
		if f.Category == memory.CategoryAcronym || f.Category == memory.CategoryDefinition {
			text = "Explain more about " + f.Key
		}
		out = append(out, Suggestion{
			Text:       text,
			Source:     SourceContext,
			Priority:   contextPriority,
			Confidence: f.Confidence,
		})
	}
	return out
}

func phraseForExpertise(query string, level crosssession.Expertise) string {
	q := strings.TrimRight(strings.TrimSpace(query), "?")
	switch level {
	case crosssession.Beginner:
		return "Explain the basics: " + q
	case crosssession.Advanced, crosssession.Expert:
		return "Go deeper: " + q
	default:
		return q + "?"
	}
}

func isTrackedEntity(kind string) bool {
	switch strings.ToLower(kind) {
	case "project", "task", "proposal", "agent", "meeting":
		return true
	default:
		return false
	}
}

// StaticProvider serves fixed per-page lists from the catalog.
type StaticProvider struct {
	catalog Catalog
}

func NewStaticProvider(c Catalog) StaticProvider { return StaticProvider{catalog: c} }

func (p StaticProvider) Suggest(page string) []Suggestion {
	items := p.catalog.page(page)
	out := make([]Suggestion, 0, len(items))
	for i, text := range items {
		out = append(out, Suggestion{
			Text:       text,
			Source:     SourceStatic,
			Priority:   staticPriority - i,
			Confidence: 0.5,
		})
	}
	return out
}

// IntentProvider serves fixed per-intent follow-ups and reminds the user of
// high-priority open loops.
type IntentProvider struct {
	catalog Catalog
}

func NewIntentProvider(c Catalog) IntentProvider { return IntentProvider{catalog: c} }

func (p IntentProvider) Suggest(intent string, loops []crosssession.OpenLoop) []Suggestion {
	var out []Suggestion
	for _, loop := range loops {
		if loop.Priority <= ReturnToPriority || loop.TopicLabel == "" {
			continue
		}
		out = append(out, Suggestion{
			Text:       "Return to: " + loop.TopicLabel,
			Source:     SourceIntent,
			Priority:   loop.Priority,
			Confidence: 0.8,
			Metadata:   map[string]string{"segment_id": loop.SegmentID},
		})
		break
	}
	for i, text := range p.catalog.intent(intent) {
		out = append(out, Suggestion{
			Text:       text,
			Source:     SourceIntent,
			Priority:   intentPriority - i,
			Confidence: 0.7,
		})
	}
	return out
}
