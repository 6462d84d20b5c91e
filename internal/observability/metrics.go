package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the relay.
type Metrics struct {
	ActiveRelays            prometheus.Gauge
	RelayRequests           *prometheus.CounterVec
	ProtocolEvents          *prometheus.CounterVec
	ParseErrors             prometheus.Counter
	UpstreamErrors          *prometheus.CounterVec
	ChunksEmitted           prometheus.Counter
	WSMessages              *prometheus.CounterVec
	UpstreamFirstEventDelay prometheus.Histogram

	stages *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegistry(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry registers instruments on reg. Tests pass a private registry.
func NewMetricsWithRegistry(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveRelays: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_relays",
			Help:      "Number of chat turns currently being relayed.",
		}),
		RelayRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_requests_total",
			Help:      "Relayed chat turns by outcome.",
		}, []string{"outcome"}),
		ProtocolEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_events_total",
			Help:      "Decoded upstream events by kind.",
		}, []string{"kind"}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_errors_total",
			Help:      "Upstream streams that ended mid-frame.",
		}),
		UpstreamErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Upstream failures by class.",
		}, []string{"class"}),
		ChunksEmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_emitted_total",
			Help:      "Word-group chunks written to callers.",
		}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		UpstreamFirstEventDelay: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_first_event_latency_ms",
			Help:      "Latency from request start to the first upstream event in milliseconds.",
			Buckets:   []float64{50, 100, 200, 300, 500, 800, 1200, 2000, 5000},
		}),
		stages: newStageWindow(256),
	}
}

func (m *Metrics) ObserveRelay(outcome string) {
	if m == nil {
		return
	}
	m.RelayRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveEvent(kind string) {
	if m == nil {
		return
	}
	m.ProtocolEvents.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveParseError() {
	if m == nil {
		return
	}
	m.ParseErrors.Inc()
	m.stages.ObserveIndicator("parse_error")
}

func (m *Metrics) ObserveUpstreamError(class string) {
	if m == nil {
		return
	}
	m.UpstreamErrors.WithLabelValues(class).Inc()
	m.stages.ObserveIndicator("upstream_error")
}

func (m *Metrics) ObserveChunk() {
	if m == nil {
		return
	}
	m.ChunksEmitted.Inc()
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) RelayStarted() {
	if m == nil {
		return
	}
	m.ActiveRelays.Inc()
}

func (m *Metrics) RelayFinished() {
	if m == nil {
		return
	}
	m.ActiveRelays.Dec()
}

func (m *Metrics) ObserveFirstEventLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamFirstEventDelay.Observe(float64(d.Milliseconds()))
	m.stages.Observe(StageUpstreamFirstEvent, durationMS(d))
}

// ObserveStage records a pipeline stage duration in the rolling window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stages.Observe(stage, durationMS(d))
}

func (m *Metrics) ObserveIndicator(name string) {
	if m == nil {
		return
	}
	m.stages.ObserveIndicator(name)
}

func (m *Metrics) SnapshotStages() StageSnapshot {
	if m == nil {
		return newStageWindow(0).Snapshot()
	}
	return m.stages.Snapshot()
}

func (m *Metrics) ResetStages() {
	if m == nil {
		return
	}
	m.stages.Reset()
}

func durationMS(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// MetricsHandlerFor serves a specific gatherer, used with private registries.
func MetricsHandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
