package learning

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Rev4nchist/agent-arch/internal/llm"
	"github.com/Rev4nchist/agent-arch/internal/memory"
)

type recordingProcessor struct {
	mu   sync.Mutex
	jobs []Job
	err  error
}

func (r *recordingProcessor) Process(_ context.Context, job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	return r.err
}

func (r *recordingProcessor) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

type outcomeCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (o *outcomeCounter) ObserveBackgroundTask(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = make(map[string]int)
	}
	o.counts[outcome]++
}

func (o *outcomeCounter) get(outcome string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counts[outcome]
}

func TestPoolDrainsOnClose(t *testing.T) {
	proc := &recordingProcessor{}
	obs := &outcomeCounter{}
	p := NewPool(PoolConfig{Workers: 2, QueueSize: 16}, proc, obs, nil)
	p.Start()
	for i := 0; i < 10; i++ {
		if !p.Submit(Job{UserID: "u1"}) {
			t.Fatalf("Submit(%d) = false, want true", i)
		}
	}
	p.Close()

	if proc.count() != 10 {
		t.Fatalf("processed = %d, want 10", proc.count())
	}
	if obs.get(OutcomeCompleted) != 10 {
		t.Fatalf("completed = %d, want 10", obs.get(OutcomeCompleted))
	}
	if p.Submit(Job{UserID: "u1"}) {
		t.Fatalf("Submit after Close = true, want false")
	}
}

func TestPoolDropsWhenFull(t *testing.T) {
	proc := &recordingProcessor{}
	obs := &outcomeCounter{}
	p := NewPool(PoolConfig{Workers: 1, QueueSize: 1}, proc, obs, nil)

	if !p.Submit(Job{UserID: "u1"}) {
		t.Fatalf("first Submit = false, want true")
	}
	if p.Submit(Job{UserID: "u1"}) {
		t.Fatalf("second Submit = true, want dropped")
	}
	if obs.get(OutcomeDropped) != 1 {
		t.Fatalf("dropped = %d, want 1", obs.get(OutcomeDropped))
	}
	p.Close()
	if proc.count() != 1 {
		t.Fatalf("processed = %d, want 1", proc.count())
	}
}

func TestPoolCountsFailures(t *testing.T) {
	proc := &recordingProcessor{err: errors.New("boom")}
	obs := &outcomeCounter{}
	p := NewPool(PoolConfig{Workers: 1, QueueSize: 4}, proc, obs, nil)
	p.Start()
	p.Submit(Job{UserID: "u1"})
	p.Close()
	if obs.get(OutcomeFailed) != 1 {
		t.Fatalf("failed = %d, want 1", obs.get(OutcomeFailed))
	}
}

func TestExtractPatterns(t *testing.T) {
	facts := ExtractPatterns("SLA stands for service level agreement. We track RPO (recovery point objective). Velocity means story points per sprint.")
	want := map[string]memory.FactCategory{
		"SLA":      memory.CategoryAcronym,
		"RPO":      memory.CategoryAcronym,
		"Velocity": memory.CategoryDefinition,
	}
	if len(facts) != len(want) {
		t.Fatalf("ExtractPatterns = %+v, want %d facts", facts, len(want))
	}
	for _, f := range facts {
		if want[f.Key] != f.Category {
			t.Fatalf("fact %q category = %s, want %s", f.Key, f.Category, want[f.Key])
		}
	}
	if facts[0].Value != "service level agreement" {
		t.Fatalf("SLA value = %q", facts[0].Value)
	}
}

func TestExtractPatternsSecretEvidenceRedacted(t *testing.T) {
	facts := ExtractPatterns("my password is hunter2")
	if len(facts) != 1 || facts[0].Category != memory.CategorySecret {
		t.Fatalf("ExtractPatterns = %+v, want one SECRET fact", facts)
	}
	if facts[0].Value != "hunter2" {
		t.Fatalf("Value = %q, want hunter2", facts[0].Value)
	}
	if facts[0].Evidence == "" || strings.Contains(facts[0].Evidence, "hunter2") {
		t.Fatalf("Evidence = %q, want redacted", facts[0].Evidence)
	}
}

func TestExtractPatternsSkipsVagueSubjects(t *testing.T) {
	if facts := ExtractPatterns("that means we ship on Friday"); len(facts) != 0 {
		t.Fatalf("ExtractPatterns = %+v, want none", facts)
	}
}

type fakeCompleter struct {
	out   string
	err   error
	calls int
}

func (f *fakeCompleter) Complete(context.Context, string, int, float64) (string, error) {
	f.calls++
	return f.out, f.err
}

func TestExtractorFallsBackToLLM(t *testing.T) {
	c := &fakeCompleter{out: "Sure:\n[{\"key\":\"Atlas\",\"value\":\"our billing service\",\"category\":\"entity\",\"confidence\":0.7}]"}
	facts, err := NewFactExtractor(c).Extract(context.Background(), "we moved billing into Atlas last week")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if c.calls != 1 || len(facts) != 1 {
		t.Fatalf("calls = %d facts = %+v", c.calls, facts)
	}
	if facts[0].Category != memory.CategoryEntity || facts[0].Confidence != 0.7 {
		t.Fatalf("fact = %+v", facts[0])
	}
}

func TestExtractorSkipsLLMWhenPatternsMatch(t *testing.T) {
	c := &fakeCompleter{}
	if _, err := NewFactExtractor(c).Extract(context.Background(), "SLA stands for service level agreement"); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if c.calls != 0 {
		t.Fatalf("completer calls = %d, want 0", c.calls)
	}
}

func TestExtractorDisabledLLM(t *testing.T) {
	c := &fakeCompleter{err: llm.ErrDisabled}
	facts, err := NewFactExtractor(c).Extract(context.Background(), "nothing to see")
	if err != nil || len(facts) != 0 {
		t.Fatalf("Extract() = %v, %v, want no facts and nil error", facts, err)
	}
	c = &fakeCompleter{out: "no json here"}
	if _, err := NewFactExtractor(c).Extract(context.Background(), "nothing to see"); err == nil {
		t.Fatalf("Extract() error = nil, want decode failure")
	}
}

type recordingIndex struct {
	facts []memory.Fact
}

func (r *recordingIndex) IndexFact(_ context.Context, f memory.Fact) error {
	r.facts = append(r.facts, f)
	return nil
}

func TestLearnerNeverIndexesSecrets(t *testing.T) {
	store := memory.NewInMemoryStore()
	index := &recordingIndex{}
	l := NewLearner(Config{FactExtraction: true}, store, store, index, nil)

	err := l.Process(context.Background(), Job{
		UserID:    "u1",
		SegmentID: "seg-1",
		Query:     "my api key is sk-123 and SLA stands for service level agreement",
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	facts, err := store.SearchFacts(context.Background(), "u1", []string{"api key", "sla"}, 10)
	if err != nil {
		t.Fatalf("SearchFacts() error = %v", err)
	}
	if len(facts) != 2 {
		t.Fatalf("stored facts = %+v, want 2", facts)
	}
	if len(index.facts) != 1 || index.facts[0].Key != "SLA" {
		t.Fatalf("indexed = %+v, want only SLA", index.facts)
	}
	if index.facts[0].ID == "" || index.facts[0].SourceSegmentID != "seg-1" {
		t.Fatalf("indexed fact = %+v, want id and source segment", index.facts[0])
	}
}

func TestLearnerUpdatesProfile(t *testing.T) {
	store := memory.NewInMemoryStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewLearner(Config{ProfileUpdate: true}, store, store, nil, nil, WithClock(func() time.Time { return now }))

	jobs := []Job{
		{UserID: "u1", TopicLabel: "API Design", Query: "how do I version the api endpoint?", Entities: []memory.KnownEntity{{Name: "Atlas"}}},
		{UserID: "u1", TopicLabel: "Budget", Query: "show budget"},
		{UserID: "u1", TopicLabel: "API Design", Query: "How do I version the API endpoint?", Entities: []memory.KnownEntity{{Name: "atlas", Type: "project"}}},
	}
	for _, job := range jobs {
		if err := l.Process(context.Background(), job); err != nil {
			t.Fatalf("Process() error = %v", err)
		}
	}

	p, err := store.GetProfile(context.Background(), "u1")
	if err != nil || p == nil {
		t.Fatalf("GetProfile() = %v, %v", p, err)
	}
	if p.Patterns.TotalQueries != 3 || p.Patterns.TechnicalQueries != 2 {
		t.Fatalf("patterns = %+v, want total 3 technical 2", p.Patterns)
	}
	if p.Patterns.TopicFrequency["API Design"] != 2 {
		t.Fatalf("topic frequency = %v", p.Patterns.TopicFrequency)
	}
	if len(p.CommonQueries) != 2 || p.CommonQueries[0] != "How do I version the API endpoint?" {
		t.Fatalf("CommonQueries = %v", p.CommonQueries)
	}
	if len(p.KnownEntities) != 1 || p.KnownEntities[0].Type != "project" {
		t.Fatalf("KnownEntities = %+v", p.KnownEntities)
	}
	if !p.LastUpdated.Equal(now) {
		t.Fatalf("LastUpdated = %v, want %v", p.LastUpdated, now)
	}
}

func TestLearnProfileCapsCommonQueries(t *testing.T) {
	var p *memory.UserProfile
	for i := 0; i < 15; i++ {
		next := LearnProfile(p, Job{UserID: "u1", Query: string(rune('a'+i)) + " query"}, 10, time.Now())
		p = &next
	}
	if len(p.CommonQueries) != 10 || p.CommonQueries[0] != "o query" {
		t.Fatalf("CommonQueries = %v, want 10 newest first", p.CommonQueries)
	}
}

func TestLearnProfileSkipsSecretQueries(t *testing.T) {
	now := time.Now()
	p := LearnProfile(nil, Job{UserID: "u1", Query: "how do I rotate keys?"}, 10, now)
	p = LearnProfile(&p, Job{UserID: "u1", Query: "my password is hunter2"}, 10, now)
	p = LearnProfile(&p, Job{UserID: "u1", Query: "email the report to sam@example.com"}, 10, now)

	want := []string{"email the report to [REDACTED_EMAIL]", "how do I rotate keys?"}
	if len(p.CommonQueries) != len(want) {
		t.Fatalf("CommonQueries = %v, want %v", p.CommonQueries, want)
	}
	for i := range want {
		if p.CommonQueries[i] != want[i] {
			t.Fatalf("CommonQueries = %v, want %v", p.CommonQueries, want)
		}
	}
	if p.Patterns.TotalQueries != 3 {
		t.Fatalf("TotalQueries = %d, want 3", p.Patterns.TotalQueries)
	}
}
