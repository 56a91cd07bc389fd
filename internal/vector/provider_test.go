package vector

import (
	"context"
	"errors"
	"testing"

	"github.com/Rev4nchist/agent-arch/internal/memory"
	"github.com/Rev4nchist/agent-arch/internal/policy"
)

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	p, err := NewProvider(Config{Embedder: EmbedderConfig{Backend: BackendHash, Dim: 128}}, nil)
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	return p
}

func TestHashEmbeddingIsDeterministicAndUnitLength(t *testing.T) {
	embed := NewHashEmbeddingFunc(64)
	a, err := embed(context.Background(), "API design review")
	if err != nil {
		t.Fatalf("embed() error = %v", err)
	}
	b, _ := embed(context.Background(), "api DESIGN review!")
	var norm float32
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embedding differs at %d: %v vs %v", i, a[i], b[i])
		}
		norm += a[i] * a[i]
	}
	if norm < 0.999 || norm > 1.001 {
		t.Fatalf("squared norm = %v, want 1", norm)
	}
	if _, err := embed(context.Background(), "  ...  "); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("embed(punctuation) error = %v, want ErrEmptyText", err)
	}
}

func TestProviderSearchFiltersByTypeAndScore(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	seg := memory.Segment{ID: "s1", UserID: "u1", TopicLabel: "Budget Discussion", Summary: "Q3 budget and license cost", Keywords: []string{"budget", "cost"}}
	if err := p.IndexSegmentSummary(ctx, seg); err != nil {
		t.Fatalf("IndexSegmentSummary() error = %v", err)
	}
	fact := memory.Fact{ID: "f1", UserID: "u1", Key: "budget owner", Value: "finance team", Category: memory.CategoryEntity, Confidence: 0.8}
	if err := p.IndexFact(ctx, fact); err != nil {
		t.Fatalf("IndexFact() error = %v", err)
	}
	if got := p.Count("u1"); got != 2 {
		t.Fatalf("Count() = %d, want 2", got)
	}

	vec, _ := p.Embed(ctx, "budget cost")
	got, err := p.Search(ctx, "u1", vec, 10, 0, Filter{MemoryType: memory.TypeSegmentSummary})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 1 || got[0].SourceID != "s1" || got[0].TopicLabel != "Budget Discussion" {
		t.Fatalf("Search(segment filter) = %+v", got)
	}

	got, err = p.Search(ctx, "u1", vec, 10, 1.01, Filter{})
	if err != nil {
		t.Fatalf("Search(minScore) error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Search(minScore>1) = %+v, want empty", got)
	}

	other, _ := p.Search(ctx, "u2", vec, 10, 0, Filter{})
	if len(other) != 0 {
		t.Fatalf("Search(other user) = %+v, want empty", other)
	}
}

func TestProviderRejectsSecretFacts(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	secret := memory.Fact{ID: "f2", UserID: "u1", Key: "db password", Value: "hunter2", Category: memory.CategorySecret}
	if err := p.IndexFact(ctx, secret); !errors.Is(err, policy.ErrSecretFact) {
		t.Fatalf("IndexFact(secret) error = %v, want ErrSecretFact", err)
	}
	err := p.Upsert(ctx, memory.CandidateMemory{ID: "x", UserID: "u1", Content: "hunter2", Type: memory.TypeFact, Category: "SECRET"})
	if !errors.Is(err, policy.ErrSecretFact) {
		t.Fatalf("Upsert(secret) error = %v, want ErrSecretFact", err)
	}
	if got := p.Count("u1"); got != 0 {
		t.Fatalf("Count() = %d, want 0", got)
	}
}

func TestProviderDeleteAndDeleteUser(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		if err := p.Upsert(ctx, memory.CandidateMemory{ID: id, UserID: "u1", Content: "agent tooling " + id, Type: memory.TypeSegmentSummary}); err != nil {
			t.Fatalf("Upsert(%s) error = %v", id, err)
		}
	}
	if err := p.Delete(ctx, "u1", "a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got := p.Count("u1"); got != 1 {
		t.Fatalf("Count() after Delete = %d, want 1", got)
	}
	if err := p.DeleteUser(ctx, "u1"); err != nil {
		t.Fatalf("DeleteUser() error = %v", err)
	}
	if got := p.Count("u1"); got != 0 {
		t.Fatalf("Count() after DeleteUser = %d, want 0", got)
	}
}

func TestProviderDisabled(t *testing.T) {
	p, err := NewProvider(Config{Embedder: EmbedderConfig{Backend: BackendNone}}, nil)
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	if p.Enabled() {
		t.Fatalf("Enabled() = true, want false")
	}
	if _, err := p.Retrieve(context.Background(), "u1", "anything", 5, 0); !errors.Is(err, ErrDisabled) {
		t.Fatalf("Retrieve() error = %v, want ErrDisabled", err)
	}
}
