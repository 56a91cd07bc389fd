package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/Rev4nchist/agent-arch/internal/cache"
)

func TestStageWindowSnapshot(t *testing.T) {
	w := newStageWindow(8)
	w.Observe("vectors", 50)
	w.Observe("vectors", 70)
	w.Observe("vectors", 90)
	w.ObserveIndicator("degraded_facts")
	w.ObserveIndicator("degraded_facts")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != "vectors" || s.Samples != 3 {
		t.Fatalf("stage = %q samples = %d, want vectors/3", s.Stage, s.Samples)
	}
	if s.LastMS != 90 || s.P50MS != 70 {
		t.Fatalf("LastMS = %.2f P50MS = %.2f, want 90/70", s.LastMS, s.P50MS)
	}
	if s.P95MS <= 70 || s.P95MS > 90 {
		t.Fatalf("P95MS = %.2f, want (70,90]", s.P95MS)
	}
	if s.TargetP95MS != 150 {
		t.Fatalf("TargetP95MS = %.2f, want 150", s.TargetP95MS)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators = %+v, want degraded_facts x2", snap.Indicators)
	}
}

func TestStageWindowWrapsAround(t *testing.T) {
	w := newStageWindow(4)
	for i := 1; i <= 10; i++ {
		w.Observe("decide", float64(i))
	}
	s := w.Snapshot().Stages[0]
	if s.Samples != 4 {
		t.Fatalf("Samples = %d, want 4", s.Samples)
	}
	if s.AvgMS != 8.5 {
		t.Fatalf("AvgMS = %.2f, want 8.5", s.AvgMS)
	}
}

func TestStageWindowTargetsAndRates(t *testing.T) {
	w := newStageWindow(16)
	for _, ms := range []float64{10, 30, 40} {
		w.Observe("decide", ms)
	}
	for i := 0; i < 4; i++ {
		w.Observe("route_total", 100)
	}
	w.ObserveIndicator("degraded_segments")

	snap := w.Snapshot()
	if snap.Routes != 4 {
		t.Fatalf("Routes = %d, want 4", snap.Routes)
	}
	decide := snap.Stages[0]
	if decide.Stage != "decide" || decide.OverTarget != 2 {
		t.Fatalf("decide stats = %+v, want 2 samples over the 20ms target", decide)
	}
	if got := snap.Indicators[0].PerRoute; got != 0.25 {
		t.Fatalf("PerRoute = %v, want 0.25", got)
	}
}

func TestMetricsObservers(t *testing.T) {
	m := NewMetrics("hmlr_test_observers")
	m.ObserveRoute("TOPIC_SHIFT")
	m.ObserveRoute("TOPIC_SHIFT")
	m.ObserveDegraded("vectors")
	m.ObserveStage("route_total", 12*time.Millisecond)
	m.ObserveBackgroundTask("dropped")
	m.ObserveSuggestions("page", true)
	m.ObserveCache(cache.Stats{Size: 3, HitRatePercent: 75})

	if got := metricValue(t, m.RouteDecisions.WithLabelValues("TOPIC_SHIFT")); got != 2 {
		t.Fatalf("route decisions = %v, want 2", got)
	}
	if got := metricValue(t, m.DegradedSources.WithLabelValues("vectors")); got != 1 {
		t.Fatalf("degraded = %v, want 1", got)
	}
	if got := metricValue(t, m.SuggestionResponses.WithLabelValues("page", "true")); got != 1 {
		t.Fatalf("suggestion responses = %v, want 1", got)
	}
	if got := metricValue(t, m.CacheHitRate); got != 75 {
		t.Fatalf("cache hit rate = %v, want 75", got)
	}
	snap := m.SnapshotRouteStages()
	if len(snap.Stages) != 1 || snap.Stages[0].LastMS != 12 {
		t.Fatalf("snapshot = %+v, want route_total 12ms", snap.Stages)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Name != "degraded_vectors" {
		t.Fatalf("indicators = %+v", snap.Indicators)
	}
}

func metricValue(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if c := out.GetCounter(); c != nil {
		return c.GetValue()
	}
	return out.GetGauge().GetValue()
}
