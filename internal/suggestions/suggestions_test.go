package suggestions

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/Rev4nchist/agent-arch/internal/crosssession"
	"github.com/Rev4nchist/agent-arch/internal/memory"
)

type fakeBundles struct {
	bundle crosssession.Bundle
	calls  int
	last   []string
}

func (f *fakeBundles) Bundle(_ context.Context, _, _ string, keywords []string) crosssession.Bundle {
	f.calls++
	f.last = keywords
	return f.bundle
}

type countingObserver struct {
	personalized, fallback int
}

func (c *countingObserver) ObserveSuggestions(_ string, personalized bool) {
	if personalized {
		c.personalized++
	} else {
		c.fallback++
	}
}

func richBundle() crosssession.Bundle {
	return crosssession.Bundle{
		OpenLoops: []crosssession.OpenLoop{
			{Text: "pick auth scheme", TopicLabel: "API Design", Priority: 99, FromCurrentSession: true, SegmentID: "s1"},
			{Text: "confirm license count", TopicLabel: "Budget", Priority: 78, SegmentID: "s2"},
			{Text: "draft agenda", TopicLabel: "Meetings", Priority: 60, SegmentID: "s3"},
		},
		CommonQueries:  []string{"how do I deploy an agent?", "show budget"},
		TopicInterests: []string{"API Design", "Budget", "Agents"},
		KnownEntities:  []memory.KnownEntity{{Name: "Atlas", Type: "project"}, {Name: "Dana", Type: "person"}},
		RelevantFacts:  []memory.Fact{{Key: "SLA", Category: memory.CategoryAcronym, Confidence: 0.9}},
		Expertise:      crosssession.Intermediate,
	}
}

func TestRankOrdersAndCaps(t *testing.T) {
	cands := []Suggestion{
		{Text: "static a", Source: SourceStatic, Priority: 20},
		{Text: "loop 1", Source: SourceOpenLoop, Priority: 99},
		{Text: "loop 2", Source: SourceOpenLoop, Priority: 90},
		{Text: "loop 3", Source: SourceOpenLoop, Priority: 95},
		{Text: "entity 1", Source: SourceEntity, Priority: 50, Confidence: 0.4},
		{Text: "entity 2", Source: SourceEntity, Priority: 50, Confidence: 0.9},
	}
	got := Rank(cands, 6)

	var texts []string
	for _, s := range got {
		texts = append(texts, s.Text)
	}
	want := "loop 1,loop 3,entity 2,static a"
	if strings.Join(texts, ",") != want {
		t.Fatalf("Rank = %v, want %s", texts, want)
	}
}

func TestRankDedupesNormalizedText(t *testing.T) {
	cands := []Suggestion{
		{Text: "Show  Budget", Source: SourceCommonQuery, Priority: 60},
		{Text: "show budget", Source: SourceStatic, Priority: 10},
		{Text: " SHOW budget ", Source: SourceIntent, Priority: 5},
	}
	got := Rank(cands, 6)
	if len(got) != 1 || got[0].Source != SourceCommonQuery {
		t.Fatalf("Rank = %+v, want single COMMON_QUERY entry", got)
	}
}

func TestRankNeverExceedsMax(t *testing.T) {
	var cands []Suggestion
	sources := []Source{SourceOpenLoop, SourceCommonQuery, SourceTopicInterest, SourceEntity, SourceContext, SourceStatic, SourceIntent}
	for i := 0; i < 40; i++ {
		cands = append(cands, Suggestion{Text: fmt.Sprintf("s%d", i), Source: sources[i%len(sources)], Priority: i})
	}
	for _, max := range []int{0, 1, 4, 6} {
		if got := Rank(cands, max); len(got) > max {
			t.Fatalf("len(Rank(max=%d)) = %d", max, len(got))
		}
	}
}

func TestPageSuggestionsPersonalized(t *testing.T) {
	bundles := &fakeBundles{bundle: richBundle()}
	obs := &countingObserver{}
	o := NewOrchestrator(DefaultConfig(), bundles, DefaultCatalog(), obs, nil)

	resp := o.PageSuggestions(context.Background(), PageRequest{UserID: "u1", Page: "dashboard"})
	if !resp.Personalized || resp.FallbackReason != "" {
		t.Fatalf("Personalized = %v reason = %q, want personalized", resp.Personalized, resp.FallbackReason)
	}
	if len(resp.Suggestions) != 6 {
		t.Fatalf("len(Suggestions) = %d, want 6", len(resp.Suggestions))
	}
	if resp.Suggestions[0].Text != "Continue: pick auth scheme" {
		t.Fatalf("Suggestions[0] = %q", resp.Suggestions[0].Text)
	}
	if resp.Suggestions[1].Text != "Resume: confirm license count" {
		t.Fatalf("Suggestions[1] = %q", resp.Suggestions[1].Text)
	}
	loops := 0
	for _, s := range resp.Suggestions {
		if s.Source == SourceOpenLoop {
			loops++
		}
	}
	if loops != 2 {
		t.Fatalf("open loop suggestions = %d, want 2", loops)
	}
	if obs.personalized != 1 {
		t.Fatalf("observer personalized = %d, want 1", obs.personalized)
	}
}

func TestFollowUpSuggestionsInjectsReturnTo(t *testing.T) {
	bundles := &fakeBundles{bundle: richBundle()}
	o := NewOrchestrator(DefaultConfig(), bundles, DefaultCatalog(), nil, nil)

	resp := o.FollowUpSuggestions(context.Background(), FollowUpRequest{UserID: "u1", Query: "what is the license cost?"})
	if len(resp.Suggestions) > 4 {
		t.Fatalf("len(Suggestions) = %d, want <= 4", len(resp.Suggestions))
	}
	found := false
	for _, s := range resp.Suggestions {
		if s.Text == "Return to: API Design" {
			found = true
		}
	}
	if !found {
		t.Fatalf("Suggestions = %+v, want Return to: API Design", resp.Suggestions)
	}
	if len(bundles.last) == 0 {
		t.Fatalf("bundle keywords empty, want extracted query keywords")
	}
}

func TestFallbacks(t *testing.T) {
	catalog := DefaultCatalog()
	cases := []struct {
		name    string
		cfg     Config
		userID  string
		bundle  crosssession.Bundle
		reason  string
		fetched bool
	}{
		{"disabled", Config{Enabled: false}, "u1", richBundle(), FallbackDisabled, false},
		{"no user", DefaultConfig(), "", richBundle(), FallbackNoUser, false},
		{"empty bundle", DefaultConfig(), "u1", crosssession.Bundle{}, FallbackNoMemory, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bundles := &fakeBundles{bundle: tc.bundle}
			o := NewOrchestrator(tc.cfg, bundles, catalog, nil, nil)
			resp := o.PageSuggestions(context.Background(), PageRequest{UserID: tc.userID, Page: "meetings"})
			if resp.Personalized || resp.FallbackReason != tc.reason {
				t.Fatalf("Personalized = %v reason = %q, want false/%q", resp.Personalized, resp.FallbackReason, tc.reason)
			}
			if (bundles.calls > 0) != tc.fetched {
				t.Fatalf("bundle calls = %d, fetched want %v", bundles.calls, tc.fetched)
			}
			want := catalog.Pages["meetings"]
			if len(resp.Suggestions) != len(want) {
				t.Fatalf("len(Suggestions) = %d, want %d", len(resp.Suggestions), len(want))
			}
			for i, s := range resp.Suggestions {
				if s.Source != SourceStatic || s.Text != want[i] {
					t.Fatalf("Suggestions[%d] = %+v, want static %q", i, s, want[i])
				}
			}
		})
	}
}

func TestUnknownPageUsesDefault(t *testing.T) {
	p := NewStaticProvider(DefaultCatalog())
	got := p.Suggest("no-such-page")
	if len(got) == 0 || got[0].Text != DefaultCatalog().Pages[DefaultPage][0] {
		t.Fatalf("Suggest(unknown) = %+v, want default page", got)
	}
}

func TestMemoryProviderPhrasing(t *testing.T) {
	b := richBundle()
	b.Expertise = crosssession.Beginner
	got := MemoryProvider{}.Suggest(b)

	want := map[string]Source{
		"Explain the basics: how do I deploy an agent": SourceCommonQuery,
		"Explore more about Budget":                    SourceTopicInterest,
		"Update on Atlas":                              SourceEntity,
		"Tell me about Dana":                           SourceEntity,
		"Explain more about SLA":                       SourceContext,
	}
	have := make(map[string]Source)
	for _, s := range got {
		have[s.Text] = s.Source
	}
	for text, src := range want {
		if have[text] != src {
			t.Fatalf("missing %q (%s) in %v", text, src, have)
		}
	}
}

func TestMemoryProviderSkipsSecretCommonQueries(t *testing.T) {
	b := crosssession.Bundle{CommonQueries: []string{"my password is hunter2", "show budget"}}
	for _, s := range (MemoryProvider{}).Suggest(b) {
		if strings.Contains(s.Text, "hunter2") {
			t.Fatalf("suggestion leaked secret: %q", s.Text)
		}
	}
}

func TestLoadCatalogRequiresDefaultPage(t *testing.T) {
	if _, err := LoadCatalog([]byte("pages:\n  tasks: [a]\n")); err == nil {
		t.Fatalf("LoadCatalog() error = nil, want missing default page")
	}
	if _, err := LoadCatalog([]byte("pages: [")); err == nil {
		t.Fatalf("LoadCatalog() error = nil, want parse error")
	}
}
