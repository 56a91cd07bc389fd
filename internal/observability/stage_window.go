package observability

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// StageStats summarizes the recent latencies of one routing stage.
type StageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
	OverTarget  int     `json:"over_target,omitempty"`
}

// Indicator counts an event such as a degraded lookup. PerRoute is the
// count divided by the number of routed queries seen so far.
type Indicator struct {
	Name     string  `json:"name"`
	Count    int     `json:"count"`
	PerRoute float64 `json:"per_route,omitempty"`
}

type StageSnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	WindowSize  int          `json:"window_size"`
	Routes      int          `json:"routes"`
	Stages      []StageStats `json:"stages"`
	Indicators  []Indicator  `json:"indicators,omitempty"`
}

// p95 latency targets per routing stage, in milliseconds.
var stageTargets = map[string]float64{
	"segments":    50,
	"facts":       50,
	"vectors":     150,
	"decide":      20,
	"route_total": 250,
}

const totalStage = "route_total"

// ring holds the most recent latencies of a stage.
type ring struct {
	buf  []float64
	head int
	size int
	last float64
}

func (r *ring) push(v float64) {
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
	r.last = v
}

// sorted returns a sorted copy of the held samples.
func (r *ring) sorted() []float64 {
	out := make([]float64, r.size)
	copy(out, r.buf[:r.size])
	sort.Float64s(out)
	return out
}

// stageWindow keeps the last capacity latencies per routing stage plus
// event counters.
type stageWindow struct {
	mu         sync.RWMutex
	capacity   int
	rings      map[string]*ring
	indicators map[string]int
	routes     int
}

func newStageWindow(capacity int) *stageWindow {
	if capacity <= 0 {
		capacity = 256
	}
	return &stageWindow{
		capacity:   capacity,
		rings:      make(map[string]*ring),
		indicators: make(map[string]int),
	}
}

func (w *stageWindow) Observe(stage string, ms float64) {
	if stage == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	r, ok := w.rings[stage]
	if !ok {
		r = &ring{buf: make([]float64, w.capacity)}
		w.rings[stage] = r
	}
	r.push(ms)
	if stage == totalStage {
		w.routes++
	}
}

func (w *stageWindow) ObserveIndicator(name string) {
	name = strings.TrimSpace(name)
	if w == nil || name == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.indicators[name]++
}

func (w *stageWindow) Snapshot() StageSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	snap := StageSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.capacity,
		Routes:      w.routes,
		Stages:      make([]StageStats, 0, len(w.rings)),
	}
	for _, stage := range sortedKeys(w.rings) {
		if r := w.rings[stage]; r.size > 0 {
			snap.Stages = append(snap.Stages, summarize(stage, r))
		}
	}
	for _, name := range sortedKeys(w.indicators) {
		ind := Indicator{Name: name, Count: w.indicators[name]}
		if w.routes > 0 {
			ind.PerRoute = round2(float64(ind.Count) / float64(w.routes))
		}
		snap.Indicators = append(snap.Indicators, ind)
	}
	return snap
}

func summarize(stage string, r *ring) StageStats {
	samples := r.sorted()
	target := stageTargets[stage]

	sum := 0.0
	over := 0
	for _, v := range samples {
		sum += v
		if target > 0 && v > target {
			over++
		}
	}
	return StageStats{
		Stage:       stage,
		Samples:     len(samples),
		LastMS:      round2(r.last),
		AvgMS:       round2(sum / float64(len(samples))),
		P50MS:       round2(quantile(samples, 0.50)),
		P95MS:       round2(quantile(samples, 0.95)),
		P99MS:       round2(quantile(samples, 0.99)),
		TargetP95MS: target,
		OverTarget:  over,
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// quantile interpolates linearly between the closest ranks of sorted.
func quantile(sorted []float64, q float64) float64 {
	switch n := len(sorted); {
	case n == 0:
		return 0
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[n-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	frac := pos - float64(lo)
	if frac == 0 {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[lo+1]-sorted[lo])*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
