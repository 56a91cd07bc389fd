package similarity

import (
	"strings"
	"unicode"

	"github.com/Rev4nchist/agent-arch/internal/memory"
)

// EmptyKeywordScore is returned for segments that have no keywords yet.
const EmptyKeywordScore = 0.3

// Tokenize splits on whitespace, lowercases, trims edge punctuation and
// returns the distinct tokens in first-seen order.
func Tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	out := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool { return unicode.IsPunct(r) || unicode.IsSymbol(r) })
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// KeywordScore is the deterministic overlap heuristic used when embeddings
// are unavailable. The topic label appearing in the query and any query token
// appearing in the most recent turn each count as one extra match.
func KeywordScore(query string, seg memory.Segment) float64 {
	if len(seg.Keywords) == 0 {
		return EmptyKeywordScore
	}
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return 0
	}

	keywords := make(map[string]struct{}, len(seg.Keywords))
	for _, kw := range seg.Keywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			keywords[kw] = struct{}{}
		}
	}
	if len(keywords) == 0 {
		return EmptyKeywordScore
	}

	matches := 0
	for _, tok := range tokens {
		if _, ok := keywords[tok]; ok {
			matches++
		}
	}

	if label := strings.ToLower(strings.TrimSpace(seg.TopicLabel)); label != "" &&
		strings.Contains(strings.ToLower(query), label) {
		matches++
	}

	if last, ok := seg.LastTurn(); ok {
		recent := make(map[string]struct{})
		for _, tok := range Tokenize(last.Query) {
			recent[tok] = struct{}{}
		}
		for _, tok := range tokens {
			if _, ok := recent[tok]; ok {
				matches++
				break
			}
		}
	}

	denom := len(keywords)
	if len(tokens) > denom {
		denom = len(tokens)
	}
	return clamp01(float64(matches) / float64(denom) * 1.5)
}

func clamp01(v float64) float64 {
	switch {
	case v != v || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
