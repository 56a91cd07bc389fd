package learning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/Rev4nchist/agent-arch/internal/llm"
	"github.com/Rev4nchist/agent-arch/internal/memory"
	"github.com/Rev4nchist/agent-arch/internal/policy"
)

var (
	acronymStandsFor = regexp.MustCompile(`\b([A-Z][A-Z0-9]{1,9})\s+stands\s+for\s+([^.,;!?\n]+)`)
	acronymParens    = regexp.MustCompile(`\b([A-Z][A-Z0-9]{1,9})\s+\(([A-Za-z][^()]{3,80})\)`)
	definitionMeans  = regexp.MustCompile(`(?i)\b([a-z][a-z0-9 _-]{1,40}?)\s+(?:means|is defined as)\s+([^.;!?\n]+)`)
	secretStatement  = regexp.MustCompile(`(?i)\bmy\s+(password|passcode|api[ _-]?key|access[ _-]?token|token|secret|pin)\s+(?:is|=|:)\s*([^\s,;]+)`)
)

// Subjects too vague to define anything ("that means we ship Friday").
var vagueSubjects = map[string]struct{}{
	"this": {}, "that": {}, "it": {}, "which": {}, "what": {},
}

const extractionPrompt = `Extract durable facts the user stated about their work from the message below.
Return only a JSON array. Each element has "key", "value", "category" (DEFINITION, ACRONYM, SECRET or ENTITY) and "confidence" between 0 and 1.
Return [] when there is nothing worth remembering.

Message:
%s`

// FactExtractor finds facts in user text. Deterministic patterns run
// first; the completer is consulted only when none match.
type FactExtractor struct {
	completer llm.Completer
}

// NewFactExtractor builds an extractor. completer may be nil.
func NewFactExtractor(completer llm.Completer) *FactExtractor {
	return &FactExtractor{completer: completer}
}

func (e *FactExtractor) Extract(ctx context.Context, text string) ([]memory.Fact, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	if facts := ExtractPatterns(text); len(facts) > 0 {
		return facts, nil
	}
	if e.completer == nil {
		return nil, nil
	}

	out, err := e.completer.Complete(ctx, fmt.Sprintf(extractionPrompt, text), 512, 0)
	if err != nil {
		if errors.Is(err, llm.ErrDisabled) {
			return nil, nil
		}
		return nil, fmt.Errorf("llm fact extraction: %w", err)
	}
	return parseExtraction(out, text)
}

// ExtractPatterns applies the acronym, definition and secret patterns.
func ExtractPatterns(text string) []memory.Fact {
	var facts []memory.Fact
	seen := make(map[string]struct{})
	add := func(key, value string, category memory.FactCategory, confidence float64, evidence string) {
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			return
		}
		id := strings.ToLower(key)
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		redacted, _ := policy.RedactPII(evidence)
		facts = append(facts, memory.Fact{
			Key:        key,
			Value:      value,
			Category:   category,
			Confidence: confidence,
			Evidence:   redacted,
		})
	}

	for _, m := range secretStatement.FindAllStringSubmatch(text, -1) {
		add(strings.ToLower(m[1]), m[2], memory.CategorySecret, 0.95, m[0])
	}
	for _, m := range acronymStandsFor.FindAllStringSubmatch(text, -1) {
		add(m[1], m[2], memory.CategoryAcronym, 0.9, m[0])
	}
	for _, m := range acronymParens.FindAllStringSubmatch(text, -1) {
		add(m[1], m[2], memory.CategoryAcronym, 0.85, m[0])
	}
	for _, m := range definitionMeans.FindAllStringSubmatch(text, -1) {
		key := trimArticle(m[1])
		if _, vague := vagueSubjects[strings.ToLower(key)]; vague {
			continue
		}
		add(key, m[2], memory.CategoryDefinition, 0.8, m[0])
	}
	return facts
}

type extractedFact struct {
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

func parseExtraction(raw, text string) ([]memory.Fact, error) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end < start {
		return nil, fmt.Errorf("llm fact extraction: no JSON array in response")
	}
	var items []extractedFact
	if err := json.Unmarshal([]byte(raw[start:end+1]), &items); err != nil {
		return nil, fmt.Errorf("llm fact extraction: decode: %w", err)
	}

	evidence, _ := policy.RedactPII(text)
	facts := make([]memory.Fact, 0, len(items))
	for _, it := range items {
		key := strings.TrimSpace(it.Key)
		value := strings.TrimSpace(it.Value)
		if key == "" || value == "" {
			continue
		}
		conf := it.Confidence
		if conf <= 0 || conf > 1 {
			conf = 0.6
		}
		facts = append(facts, memory.Fact{
			Key:        key,
			Value:      value,
			Category:   memory.ParseFactCategory(it.Category),
			Confidence: conf,
			Evidence:   evidence,
		})
	}
	return facts, nil
}

func trimArticle(s string) string {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	for _, prefix := range []string{"the term ", "the ", "a ", "an "} {
		if strings.HasPrefix(lower, prefix) {
			return strings.TrimSpace(s[len(prefix):])
		}
	}
	return s
}
