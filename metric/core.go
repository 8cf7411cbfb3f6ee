package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the runtime-level instruments: engine lifecycle, message
// routing, callback latency and transport health. Domain-specific
// instruments register through the MetricsRegistrar interface instead.
type Metrics struct {
	EngineStatus     *prometheus.GaugeVec
	MessagesRouted   *prometheus.CounterVec
	MessagesDropped  *prometheus.CounterVec
	CallbackDuration *prometheus.HistogramVec
	PathOutDepth     *prometheus.GaugeVec
	CommandTimeouts  *prometheus.CounterVec
	ErrorsTotal      *prometheus.CounterVec

	TransportConnected  *prometheus.GaugeVec
	TransportReconnects *prometheus.CounterVec
}

// NewMetrics creates the runtime instrument set.
func NewMetrics() *Metrics {
	return &Metrics{
		EngineStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "graphmesh",
				Subsystem: "engine",
				Name:      "status",
				Help:      "Engine status (1=running, 0=stopped)",
			},
			[]string{"graph"},
		),

		MessagesRouted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "graphmesh",
				Subsystem: "engine",
				Name:      "messages_routed_total",
				Help:      "Messages routed by the engine, by message type",
			},
			[]string{"graph", "type"},
		),

		MessagesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "graphmesh",
				Subsystem: "engine",
				Name:      "messages_dropped_total",
				Help:      "Messages dropped for lack of a route or path record",
			},
			[]string{"graph", "reason"},
		),

		CallbackDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "graphmesh",
				Subsystem: "extension",
				Name:      "callback_duration_seconds",
				Help:      "Time spent inside extension callbacks",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"graph", "callback"},
		),

		PathOutDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "graphmesh",
				Subsystem: "path",
				Name:      "out_depth",
				Help:      "In-flight commands awaiting a terminal result",
			},
			[]string{"graph"},
		),

		CommandTimeouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "graphmesh",
				Subsystem: "path",
				Name:      "timeouts_total",
				Help:      "Commands that expired before a terminal result arrived",
			},
			[]string{"graph"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "graphmesh",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Runtime errors by component",
			},
			[]string{"component", "class"},
		),

		TransportConnected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "graphmesh",
				Subsystem: "transport",
				Name:      "connected",
				Help:      "Transport link status (0=down, 1=up)",
			},
			[]string{"transport"},
		),

		TransportReconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "graphmesh",
				Subsystem: "transport",
				Name:      "reconnects_total",
				Help:      "Completed transport reconnections",
			},
			[]string{"transport"},
		),
	}
}

// RecordEngineStatus updates an engine's lifecycle gauge.
func (m *Metrics) RecordEngineStatus(graph string, status int) {
	m.EngineStatus.WithLabelValues(graph).Set(float64(status))
}

// RecordMessageRouted counts one routed message.
func (m *Metrics) RecordMessageRouted(graph, msgType string) {
	m.MessagesRouted.WithLabelValues(graph, msgType).Inc()
}

// RecordMessageDropped counts one dropped message.
func (m *Metrics) RecordMessageDropped(graph, reason string) {
	m.MessagesDropped.WithLabelValues(graph, reason).Inc()
}

// ObserveCallbackDuration records time spent inside a user callback.
func (m *Metrics) ObserveCallbackDuration(graph, callback string, d time.Duration) {
	m.CallbackDuration.WithLabelValues(graph, callback).Observe(d.Seconds())
}

// RecordPathOutDepth updates the in-flight command gauge.
func (m *Metrics) RecordPathOutDepth(graph string, depth int) {
	m.PathOutDepth.WithLabelValues(graph).Set(float64(depth))
}

// RecordCommandTimeout counts one expired command.
func (m *Metrics) RecordCommandTimeout(graph string) {
	m.CommandTimeouts.WithLabelValues(graph).Inc()
}

// RecordError counts one classified error.
func (m *Metrics) RecordError(component, class string) {
	m.ErrorsTotal.WithLabelValues(component, class).Inc()
}

// RecordTransportStatus updates a transport's link gauge.
func (m *Metrics) RecordTransportStatus(transport string, up bool) {
	v := 0.0
	if up {
		v = 1.0
	}
	m.TransportConnected.WithLabelValues(transport).Set(v)
}

// RecordTransportReconnect counts one completed reconnection.
func (m *Metrics) RecordTransportReconnect(transport string) {
	m.TransportReconnects.WithLabelValues(transport).Inc()
}
