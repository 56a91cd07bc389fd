// Package hydrator assembles routing output and user data into one bounded
// context block for the language model.
package hydrator

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/Rev4nchist/agent-arch/internal/governor"
	"github.com/Rev4nchist/agent-arch/internal/memory"
	"github.com/Rev4nchist/agent-arch/internal/policy"
)

const (
	TruncationMarker = "\n[... context truncated]"

	maxSummaryKeywords = 5
	maxDecisions       = 3
	maxHistoryTurns    = 5
	maxFacts           = 10
	maxPreferences     = 5
	maxEntities        = 5
	maxOpenLoops       = 5
)

type Config struct {
	MaxTokens     int
	CharsPerToken int
}

func DefaultConfig() Config {
	return Config{MaxTokens: 2000, CharsPerToken: 4}
}

// Context is the hydrated output. Each block is also kept on its own.
type Context struct {
	SegmentSummary  string `json:"segment_summary"`
	History         string `json:"history"`
	Facts           string `json:"facts"`
	Preferences     string `json:"preferences"`
	OpenLoops       string `json:"open_loops"`
	FullContext     string `json:"full_context"`
	EstimatedTokens int    `json:"estimated_tokens"`
	Truncated       bool   `json:"truncated"`
}

type Hydrator struct {
	cfg Config
}

func New(cfg Config) *Hydrator {
	def := DefaultConfig()
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.CharsPerToken <= 0 {
		cfg.CharsPerToken = def.CharsPerToken
	}
	return &Hydrator{cfg: cfg}
}

// MaxChars is the hard character budget of FullContext.
func (h *Hydrator) MaxChars() int { return h.cfg.MaxTokens * h.cfg.CharsPerToken }

// Hydrate builds the context for a routed query. profile may be nil.
func (h *Hydrator) Hydrate(d governor.Decision, profile *memory.UserProfile, query string) Context {
	c := Context{
		Facts:       factsBlock(d.Facts, query),
		Preferences: preferencesBlock(profile),
	}
	if d.Segment != nil {
		c.SegmentSummary = policy.Redact(summaryBlock(*d.Segment))
		c.History = policy.Redact(historyBlock(d.Segment.Turns))
		c.OpenLoops = policy.Redact(openLoopsBlock(d.Segment.OpenLoops))
	}

	parts := []string{header(d)}
	for _, block := range []string{c.SegmentSummary, c.Preferences, c.Facts, c.OpenLoops, c.History} {
		if block != "" {
			parts = append(parts, block)
		}
	}
	c.FullContext, c.Truncated = truncate(strings.Join(parts, "\n\n"), h.MaxChars())
	c.EstimatedTokens = EstimateTokens(c.FullContext)
	return c
}

// EstimateTokens approximates tokens as a quarter of the character count.
func EstimateTokens(text string) int {
	return int(float64(len(text)) * 0.25)
}

func header(d governor.Decision) string {
	label := d.SuggestedLabel
	if d.Segment != nil && d.Segment.TopicLabel != "" {
		label = d.Segment.TopicLabel
	}
	switch d.Scenario {
	case governor.TopicContinuation:
		return fmt.Sprintf("[%s] Continuing topic: %s", d.Scenario, label)
	case governor.TopicResumption:
		return fmt.Sprintf("[%s] Resuming earlier topic: %s", d.Scenario, label)
	case governor.TopicShift:
		return fmt.Sprintf("[%s] Switching to new topic: %s", d.Scenario, label)
	default:
		return fmt.Sprintf("[%s] New topic: %s", governor.NewTopicFirst, label)
	}
}

func summaryBlock(seg memory.Segment) string {
	var b strings.Builder
	b.WriteString("Topic: " + seg.TopicLabel)
	if seg.Summary != "" {
		b.WriteString("\nSummary: " + seg.Summary)
	}
	if kws := first(seg.Keywords, maxSummaryKeywords); len(kws) > 0 {
		b.WriteString("\nKeywords: " + strings.Join(kws, ", "))
	}
	if ds := last(seg.Decisions, maxDecisions); len(ds) > 0 {
		b.WriteString("\nDecisions:")
		for _, d := range ds {
			b.WriteString("\n- " + d)
		}
	}
	return b.String()
}

func historyBlock(turns []memory.Turn) string {
	if len(turns) == 0 {
		return ""
	}
	start := len(turns) - maxHistoryTurns
	if start < 0 {
		start = 0
	}
	var b strings.Builder
	b.WriteString("Recent conversation:")
	for _, t := range turns[start:] {
		b.WriteString("\nUser: " + t.Query)
		if t.ResponseSummary != "" {
			b.WriteString("\nAssistant: " + t.ResponseSummary)
		}
	}
	return b.String()
}

// factsBlock lists facts mentioned in the query first. SECRET values are
// never rendered.
func factsBlock(facts []memory.Fact, query string) string {
	if len(facts) == 0 {
		return ""
	}
	ordered := make([]memory.Fact, len(facts))
	copy(ordered, facts)
	q := strings.ToLower(query)
	sort.SliceStable(ordered, func(i, j int) bool {
		mi := q != "" && strings.Contains(q, strings.ToLower(ordered[i].Key))
		mj := q != "" && strings.Contains(q, strings.ToLower(ordered[j].Key))
		return mi && !mj
	})

	var b strings.Builder
	b.WriteString("Known facts:")
	for _, f := range first(ordered, maxFacts) {
		b.WriteString("\n- " + policy.RenderFact(f))
	}
	return b.String()
}

func preferencesBlock(p *memory.UserProfile) string {
	if p == nil {
		return ""
	}
	var lines []string

	keys := make([]string, 0, len(p.Preferences))
	for k := range p.Preferences {
		if k == memory.PrefResponseStyle || k == memory.PrefExpertiseLevel {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range first(keys, maxPreferences) {
		lines = append(lines, fmt.Sprintf("- %s: %s", k, p.Preferences[k]))
	}

	if ents := first(p.KnownEntities, maxEntities); len(ents) > 0 {
		names := make([]string, 0, len(ents))
		for _, e := range ents {
			if e.Type != "" {
				names = append(names, fmt.Sprintf("%s (%s)", e.Name, e.Type))
			} else {
				names = append(names, e.Name)
			}
		}
		lines = append(lines, "- Known entities: "+strings.Join(names, ", "))
	}
	if style := p.Preferences[memory.PrefResponseStyle]; style != "" {
		lines = append(lines, "- Preferred response style: "+style)
	}
	if level := p.Preferences[memory.PrefExpertiseLevel]; level != "" {
		lines = append(lines, "- Expertise level: "+level)
	}

	if len(lines) == 0 {
		return ""
	}
	return "User preferences:\n" + strings.Join(lines, "\n")
}

func openLoopsBlock(loops []string) string {
	loops = last(loops, maxOpenLoops)
	if len(loops) == 0 {
		return ""
	}
	return "Open items:\n- " + strings.Join(loops, "\n- ")
}

// truncate cuts text to max bytes on a rune boundary, leaving room for the
// marker.
func truncate(text string, max int) (string, bool) {
	if len(text) <= max {
		return text, false
	}
	cut := max - len(TruncationMarker)
	if cut < 0 {
		cut = 0
	}
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + TruncationMarker, true
}

func first[T any](in []T, n int) []T {
	if len(in) > n {
		return in[:n]
	}
	return in
}

func last[T any](in []T, n int) []T {
	if len(in) > n {
		return in[len(in)-n:]
	}
	return in
}
