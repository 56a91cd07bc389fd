package governor

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/Rev4nchist/agent-arch/internal/policy"
)

const (
	maxKeywords   = 10
	maxLabelRunes = 50
	labelKeywords = 3
	fallbackLabel = "General Discussion"

	redactedPrefix = "redacted_"
)

var wordPattern = regexp.MustCompile(`[a-z][a-z0-9_\-]{2,}`)

var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`
		a about above after again all also am an and any are as at be because been before
		being below between both but by can could did do does doing down during each few
		for from further get got had has have having he her here hers him his how i if in
		into is it its just let me more most much my no nor not now of off on once only or
		other our ours out over own please same she should show so some such tell than that
		the their them then there these they this those through to too under until up very
		want was we were what when where which while who whom why will with would you your
		yours hello thanks thank okay ok yes sure need like know give make let's what's
		it's i'm can't don't again anything something`) {
		stopwords[w] = struct{}{}
	}
}

// ExtractKeywords returns up to ten distinct lowercase keywords from the
// query followed by the caller-supplied entities, skipping stopwords.
// Inline credentials and other PII in the query never become keywords.
func ExtractKeywords(query string, entities []string) []string {
	out := make([]string, 0, maxKeywords)
	seen := make(map[string]struct{})
	add := func(w string) bool {
		w = strings.Trim(strings.ToLower(strings.TrimSpace(w)), "-_")
		if w == "" {
			return true
		}
		if _, stop := stopwords[w]; stop {
			return true
		}
		if _, dup := seen[w]; dup {
			return true
		}
		seen[w] = struct{}{}
		out = append(out, w)
		return len(out) < maxKeywords
	}

	for _, w := range wordPattern.FindAllString(strings.ToLower(policy.Redact(query)), -1) {
		if strings.HasPrefix(w, redactedPrefix) {
			continue
		}
		if !add(w) {
			return out
		}
	}
	for _, e := range entities {
		if !add(e) {
			return out
		}
	}
	return out
}

// SuggestLabel derives a topic label from up to three keywords, prefixed by
// the humanized intent when one is given, and capped at 50 characters.
func SuggestLabel(keywords []string, intent string) string {
	n := len(keywords)
	if n > labelKeywords {
		n = labelKeywords
	}
	words := make([]string, 0, n)
	for _, kw := range keywords[:n] {
		words = append(words, titleCase(kw))
	}
	label := strings.Join(words, " ")

	if intent = strings.TrimSpace(intent); intent != "" && intent != policy.IntentGeneral {
		prefix := policy.HumanizeIntent(intent)
		if label == "" {
			label = prefix
		} else {
			label = prefix + ": " + label
		}
	}
	if label == "" {
		label = fallbackLabel
	}
	return truncateRunes(label, maxLabelRunes)
}

func titleCase(w string) string {
	parts := strings.Fields(w)
	for i, p := range parts {
		r, size := utf8.DecodeRuneInString(p)
		parts[i] = strings.ToUpper(string(r)) + p[size:]
	}
	return strings.Join(parts, " ")
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max]))
}
