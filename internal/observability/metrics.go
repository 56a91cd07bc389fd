package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Rev4nchist/agent-arch/internal/cache"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	RouteDecisions      *prometheus.CounterVec
	DegradedSources     *prometheus.CounterVec
	RouteStageLatency   *prometheus.HistogramVec
	BackgroundTasks     *prometheus.CounterVec
	SuggestionResponses *prometheus.CounterVec
	WSMessages          *prometheus.CounterVec
	CacheSize           prometheus.Gauge
	CacheHitRate        prometheus.Gauge

	stages *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		RouteDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_decisions_total",
			Help:      "Routing decisions by scenario.",
		}, []string{"scenario"}),
		DegradedSources: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_sources_total",
			Help:      "Lookups that failed and degraded to empty results, by source.",
		}, []string{"source"}),
		RouteStageLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "route_stage_latency_ms",
			Help:      "Routing stage latency in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 3000},
		}, []string{"stage"}),
		BackgroundTasks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "background_tasks_total",
			Help:      "Post-turn background tasks by outcome.",
		}, []string{"outcome"}),
		SuggestionResponses: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suggestion_responses_total",
			Help:      "Suggestion responses by kind and personalization.",
		}, []string{"kind", "personalized"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		CacheSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "embedding_cache_size",
			Help:      "Entries held by the segment embedding cache.",
		}),
		CacheHitRate: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "embedding_cache_hit_rate_percent",
			Help:      "Hit rate of the segment embedding cache in percent.",
		}),
		stages: newStageWindow(512),
	}
}

func (m *Metrics) ObserveRoute(scenario string) {
	m.RouteDecisions.WithLabelValues(scenario).Inc()
}

func (m *Metrics) ObserveDegraded(source string) {
	m.DegradedSources.WithLabelValues(source).Inc()
	m.stages.ObserveIndicator("degraded_" + source)
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	ms := float64(d.Microseconds()) / 1000
	m.RouteStageLatency.WithLabelValues(stage).Observe(ms)
	m.stages.Observe(stage, ms)
}

func (m *Metrics) ObserveBackgroundTask(outcome string) {
	m.BackgroundTasks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveSuggestions(kind string, personalized bool) {
	m.SuggestionResponses.WithLabelValues(kind, strconv.FormatBool(personalized)).Inc()
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// ObserveCache publishes the embedding cache gauges.
func (m *Metrics) ObserveCache(s cache.Stats) {
	m.CacheSize.Set(float64(s.Size))
	m.CacheHitRate.Set(s.HitRatePercent)
}

// SnapshotRouteStages returns the in-process latency window.
func (m *Metrics) SnapshotRouteStages() StageSnapshot {
	return m.stages.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
