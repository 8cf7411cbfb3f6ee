package metric

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/c360/graphmesh/errors"
)

// MetricsRegistrar is the registration surface handed to components that
// carry their own instruments.
type MetricsRegistrar interface {
	Register(owner, name string, collector prometheus.Collector) error
	Unregister(owner, name string) bool
}

// MetricsRegistry owns the Prometheus registry, the runtime Metrics set
// and any component-registered collectors.
type MetricsRegistry struct {
	prometheusRegistry *prometheus.Registry
	core               *Metrics

	mu         sync.RWMutex
	registered map[string]prometheus.Collector
}

// NewMetricsRegistry creates a registry with the runtime metrics and the
// Go runtime collectors pre-registered.
func NewMetricsRegistry() *MetricsRegistry {
	r := &MetricsRegistry{
		prometheusRegistry: prometheus.NewRegistry(),
		core:               NewMetrics(),
		registered:         make(map[string]prometheus.Collector),
	}

	r.prometheusRegistry.MustRegister(
		r.core.EngineStatus,
		r.core.MessagesRouted,
		r.core.MessagesDropped,
		r.core.CallbackDuration,
		r.core.PathOutDepth,
		r.core.CommandTimeouts,
		r.core.ErrorsTotal,
		r.core.TransportConnected,
		r.core.TransportReconnects,
	)
	r.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// PrometheusRegistry returns the underlying Prometheus registry.
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// CoreMetrics returns the shared runtime instrument set.
func (r *MetricsRegistry) CoreMetrics() *Metrics {
	return r.core
}

// Register adds a component-owned collector under owner.name.
func (r *MetricsRegistry) Register(owner, name string, collector prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", owner, name)
	if _, exists := r.registered[key]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("metric %s already registered for %s", name, owner),
			"MetricsRegistry", "Register", "duplicate metric registration")
	}

	if err := r.prometheusRegistry.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if stderrors.As(err, &already) {
			return errors.WrapInvalid(err, "MetricsRegistry", "Register",
				fmt.Sprintf("prometheus conflict for metric %s", name))
		}
		return errors.WrapFatal(err, "MetricsRegistry", "Register",
			"failed to register collector with prometheus")
	}

	r.registered[key] = collector
	return nil
}

// Unregister removes a component-owned collector.
func (r *MetricsRegistry) Unregister(owner, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", owner, name)
	collector, exists := r.registered[key]
	if !exists {
		return false
	}
	if !r.prometheusRegistry.Unregister(collector) {
		return false
	}
	delete(r.registered, key)
	return true
}
