package suggestions

import (
	"sort"
	"strings"
)

// Source identifies which provider produced a suggestion.
type Source string

const (
	SourceOpenLoop      Source = "OPEN_LOOP"
	SourceCommonQuery   Source = "COMMON_QUERY"
	SourceTopicInterest Source = "TOPIC_INTEREST"
	SourceEntity        Source = "ENTITY"
	SourceContext       Source = "CONTEXT"
	SourceStatic        Source = "STATIC"
	SourceIntent        Source = "INTENT"
)

// SourceCaps is the per-source limit applied while filling a ranked list.
var SourceCaps = map[Source]int{
	SourceOpenLoop:      2,
	SourceCommonQuery:   2,
	SourceTopicInterest: 2,
	SourceEntity:        1,
	SourceContext:       2,
	SourceStatic:        3,
	SourceIntent:        2,
}

type Suggestion struct {
	Text       string            `json:"text"`
	Source     Source            `json:"source"`
	Priority   int               `json:"priority"`
	Confidence float64           `json:"confidence"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Rank orders candidates by priority then confidence, drops duplicates by
// normalized text, applies SourceCaps and stops at max.
func Rank(cands []Suggestion, max int) []Suggestion {
	return rank(cands, max, SourceCaps)
}

func rank(cands []Suggestion, max int, caps map[Source]int) []Suggestion {
	if max <= 0 || len(cands) == 0 {
		return []Suggestion{}
	}
	sorted := make([]Suggestion, len(cands))
	copy(sorted, cands)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority > sorted[j].Priority
		}
		return sorted[i].Confidence > sorted[j].Confidence
	})

	out := make([]Suggestion, 0, max)
	seen := make(map[string]struct{}, len(sorted))
	perSource := make(map[Source]int)
	for _, s := range sorted {
		key := Normalize(s.Text)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		if limit, ok := caps[s.Source]; ok && perSource[s.Source] >= limit {
			continue
		}
		seen[key] = struct{}{}
		perSource[s.Source]++
		out = append(out, s)
		if len(out) == max {
			break
		}
	}
	return out
}

// Normalize lowercases text and collapses whitespace runs.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
