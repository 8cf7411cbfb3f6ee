package metric

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatherNames(t *testing.T, r *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestNewMetricsRegistryExposesCoreInstruments(t *testing.T) {
	registry := NewMetricsRegistry()
	require.NotNil(t, registry.PrometheusRegistry())
	require.NotNil(t, registry.CoreMetrics())

	core := registry.CoreMetrics()
	core.RecordEngineStatus("g1", 2)
	core.RecordMessageRouted("g1", "cmd")
	core.RecordMessageDropped("g1", "no_route")
	core.ObserveCallbackDuration("g1", "OnCmd", 3*time.Millisecond)
	core.RecordPathOutDepth("g1", 4)
	core.RecordCommandTimeout("g1")
	core.RecordError("engine", "transient")
	core.RecordTransportStatus("nats", true)
	core.RecordTransportReconnect("nats")

	names := gatherNames(t, registry)
	assert.True(t, names["graphmesh_engine_status"])
	assert.True(t, names["graphmesh_engine_messages_routed_total"])
	assert.True(t, names["graphmesh_engine_messages_dropped_total"])
	assert.True(t, names["graphmesh_extension_callback_duration_seconds"])
	assert.True(t, names["graphmesh_path_out_depth"])
	assert.True(t, names["graphmesh_path_timeouts_total"])
	assert.True(t, names["graphmesh_transport_connected"])
}

func TestRegisterComponentCollector(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "frames_decoded_total",
		Help: "Frames decoded by the codec",
	})
	require.NoError(t, registry.Register("jsonframe", "frames_decoded_total", counter))
	counter.Inc()

	assert.True(t, gatherNames(t, registry)["frames_decoded_total"])
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	registry := NewMetricsRegistry()

	first := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_total", Help: "x"})
	require.NoError(t, registry.Register("c", "dup_total", first))

	second := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_total", Help: "x"})
	err := registry.Register("c", "dup_total", second)
	require.Error(t, err)
}

func TestUnregisterRemovesCollector(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "depth", Help: "x"})
	require.NoError(t, registry.Register("c", "depth", gauge))

	assert.True(t, registry.Unregister("c", "depth"))
	assert.False(t, registry.Unregister("c", "depth"))
	assert.False(t, gatherNames(t, registry)["depth"])
}
