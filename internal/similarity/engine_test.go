package similarity

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Rev4nchist/agent-arch/internal/cache"
	"github.com/Rev4nchist/agent-arch/internal/memory"
)

type countingEmbedder struct {
	mu    sync.Mutex
	calls map[string]int
	vecs  map[string][]float32
	err   error
}

func (e *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.calls == nil {
		e.calls = make(map[string]int)
	}
	e.calls[text]++
	if e.err != nil {
		return nil, e.err
	}
	if v, ok := e.vecs[text]; ok {
		return v, nil
	}
	return []float32{1, 0}, nil
}

func (e *countingEmbedder) count(text string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[text]
}

func apiSegment() memory.Segment {
	return memory.Segment{
		ID:         "seg-api",
		TopicLabel: "API design",
		Keywords:   []string{"api", "design", "backend"},
	}
}

func TestKeywordScoreContinuationExample(t *testing.T) {
	got := KeywordScore("more about the API design approach", apiSegment())
	if math.Abs(got-0.75) > 1e-9 {
		t.Fatalf("KeywordScore() = %v, want 0.75", got)
	}
}

func TestKeywordScoreNoKeywords(t *testing.T) {
	if got := KeywordScore("anything at all", memory.Segment{}); got != EmptyKeywordScore {
		t.Fatalf("KeywordScore(no keywords) = %v, want %v", got, EmptyKeywordScore)
	}
}

func TestKeywordScoreRecentTurnMatch(t *testing.T) {
	seg := memory.Segment{
		Keywords: []string{"budget", "cost"},
		Turns:    []memory.Turn{{Query: "Show the Q3 forecast"}},
	}
	// budget hits a keyword and forecast hits the last turn: 2/2*1.5 capped at 1
	if got := KeywordScore("budget forecast?", seg); got != 1 {
		t.Fatalf("KeywordScore() = %v, want 1", got)
	}
}

func TestKeywordScoreBounded(t *testing.T) {
	seg := memory.Segment{TopicLabel: "go", Keywords: []string{"go"}, Turns: []memory.Turn{{Query: "go go go"}}}
	for _, q := range []string{"go", "", "   ", "!!!", "go go go go"} {
		got := KeywordScore(q, seg)
		if got < 0 || got > 1 {
			t.Fatalf("KeywordScore(%q) = %v, outside [0,1]", q, got)
		}
	}
}

func TestTokenizeTrimsPunctuationAndDedupes(t *testing.T) {
	got := Tokenize("What about the Budget? budget, (cost)")
	want := []string{"what", "about", "the", "budget", "cost"}
	if len(got) != len(want) {
		t.Fatalf("Tokenize() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Tokenize()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestEngineCachesSegmentEmbedding(t *testing.T) {
	emb := &countingEmbedder{}
	e := NewEngine(emb, cache.New[string, []float32](10, time.Hour), nil)
	seg := apiSegment()

	for i := 0; i < 3; i++ {
		if got := e.Score(context.Background(), "api", seg); got != 1 {
			t.Fatalf("Score() = %v, want 1 for identical vectors", got)
		}
	}
	text := SegmentEmbeddingText(seg)
	if n := emb.count(text); n != 1 {
		t.Fatalf("segment embedded %d times, want 1", n)
	}

	e.Forget(seg.ID)
	e.Score(context.Background(), "api", seg)
	if n := emb.count(text); n != 2 {
		t.Fatalf("segment embedded %d times after Forget, want 2", n)
	}
}

func TestEngineClampsNegativeCosine(t *testing.T) {
	seg := apiSegment()
	emb := &countingEmbedder{vecs: map[string][]float32{
		"opposite":                {-1, 0},
		SegmentEmbeddingText(seg): {1, 0},
	}}
	e := NewEngine(emb, cache.New[string, []float32](10, time.Hour), nil)
	if got := e.Score(context.Background(), "opposite", seg); got != 0 {
		t.Fatalf("Score() = %v, want 0", got)
	}
}

func TestEngineFallsBackToKeywordsOnError(t *testing.T) {
	emb := &countingEmbedder{err: errors.New("provider down")}
	e := NewEngine(emb, cache.New[string, []float32](10, time.Hour), nil)
	got := e.Score(context.Background(), "more about the API design approach", apiSegment())
	if math.Abs(got-0.75) > 1e-9 {
		t.Fatalf("Score() = %v, want keyword fallback 0.75", got)
	}
}

func TestSegmentEmbeddingTextUsesLastThreeTurns(t *testing.T) {
	seg := memory.Segment{
		TopicLabel: "Budget",
		Keywords:   []string{"budget", "cost"},
		Summary:    "Q3 planning",
		Turns:      []memory.Turn{{Query: "t1"}, {Query: "t2"}, {Query: "t3"}, {Query: "t4"}},
	}
	want := "Budget\nbudget cost\nQ3 planning\nt2\nt3\nt4"
	if got := SegmentEmbeddingText(seg); got != want {
		t.Fatalf("SegmentEmbeddingText() = %q, want %q", got, want)
	}
}

func TestSegmentEmbeddingTextMasksSecrets(t *testing.T) {
	seg := memory.Segment{
		TopicLabel: "Staging access",
		Summary:    "User shared the api key: sk-live-9",
		Turns:      []memory.Turn{{Query: "my password is hunter2"}},
	}
	got := SegmentEmbeddingText(seg)
	for _, leaked := range []string{"hunter2", "sk-live-9"} {
		if strings.Contains(got, leaked) {
			t.Fatalf("SegmentEmbeddingText() = %q, leaked %q", got, leaked)
		}
	}
	if !strings.Contains(got, "my password is [REDACTED_SECRET]") {
		t.Fatalf("SegmentEmbeddingText() = %q, want masked turn", got)
	}
}

// ctxEmbedder fails when the context it is handed is already done, and
// otherwise blocks until release is closed or the context ends.
type ctxEmbedder struct {
	release chan struct{}
}

func (e *ctxEmbedder) Embed(ctx context.Context, _ string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.release == nil {
		return []float32{1, 0}, nil
	}
	select {
	case <-e.release:
		return []float32{1, 0}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestSegmentEmbeddingIgnoresCallerCancellation(t *testing.T) {
	embeddings := cache.New[string, []float32](10, time.Hour)
	e := NewEngine(&ctxEmbedder{}, embeddings, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	vec, err := e.segmentEmbedding(ctx, apiSegment())
	if err != nil {
		t.Fatalf("segmentEmbedding() error = %v", err)
	}
	if len(vec) != 2 {
		t.Fatalf("segmentEmbedding() = %v, want 2 dims", vec)
	}
	if _, ok := embeddings.Get(segmentKeyPrefix + apiSegment().ID); !ok {
		t.Fatalf("embedding not cached after cancelled caller")
	}
}

func TestSegmentEmbeddingSharedCallOutlivesLeader(t *testing.T) {
	emb := &ctxEmbedder{release: make(chan struct{})}
	e := NewEngine(emb, cache.New[string, []float32](10, time.Hour), nil)
	seg := apiSegment()

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := e.segmentEmbedding(leaderCtx, seg)
		leaderErr <- err
	}()
	waiterErr := make(chan error, 1)
	go func() {
		time.Sleep(20 * time.Millisecond)
		_, err := e.segmentEmbedding(context.Background(), seg)
		waiterErr <- err
	}()

	time.Sleep(40 * time.Millisecond)
	cancelLeader()
	close(emb.release)

	if err := <-waiterErr; err != nil {
		t.Fatalf("waiter segmentEmbedding() error = %v", err)
	}
	if err := <-leaderErr; err != nil {
		t.Fatalf("leader segmentEmbedding() error = %v", err)
	}
}

func TestSegmentEmbeddingTimesOut(t *testing.T) {
	e := NewEngine(&ctxEmbedder{release: make(chan struct{})}, nil, nil)
	e.embedTimeout = 20 * time.Millisecond

	_, err := e.segmentEmbedding(context.Background(), apiSegment())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("segmentEmbedding() error = %v, want deadline exceeded", err)
	}
}
