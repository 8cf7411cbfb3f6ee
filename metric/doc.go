// Package metric provides Prometheus-based metrics for the runtime.
//
// A MetricsRegistry owns the Prometheus registry, the core runtime
// instrument set (engine status, routed messages, callback latency,
// path-table depth, transport health) and any collectors components
// register through the MetricsRegistrar interface. A Server exposes the
// registry over HTTP for scraping.
//
// Typical wiring:
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry)
//	go func() { _ = server.Start() }()
//
//	core := registry.CoreMetrics()
//	core.RecordEngineStatus("g1", 1)
//	core.RecordMessageRouted("g1", "cmd")
//
// All registry operations are safe for concurrent use; recording on the
// instruments is lock-free per the Prometheus client guarantees.
package metric
