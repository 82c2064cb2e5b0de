package module

import (
	"net/http"

	"github.com/GoCodeAlone/modular"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServiceName is the service key for the metrics collector.
const MetricsServiceName = "metrics.collector"

// MetricsCollector wraps the Prometheus counters for the request service. It
// satisfies both the transport metrics and script metrics interfaces and
// serves its own registry at /metrics.
type MetricsCollector struct {
	registry *prometheus.Registry

	requests    *prometheus.CounterVec
	scriptEvals *prometheus.CounterVec
	activeConns prometheus.Gauge
}

// NewMetricsCollector creates a collector with its own registry, so stray
// default-registry metrics from dependencies never leak into the scrape.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()
	m := &MetricsCollector{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autoserver",
			Name:      "requests_total",
			Help:      "Total number of dispatched requests",
		}, []string{"module", "function", "status"}),
		scriptEvals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autoserver",
			Name:      "script_evaluations_total",
			Help:      "Total number of sandbox script evaluations",
		}, []string{"status"}),
		activeConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "autoserver",
			Name:      "active_connections",
			Help:      "Currently open websocket connections",
		}),
	}
	reg.MustRegister(m.requests)
	reg.MustRegister(m.scriptEvals)
	reg.MustRegister(m.activeConns)
	return m
}

// Name returns the module name.
func (m *MetricsCollector) Name() string { return "metrics" }

// Init registers the collector as a service.
func (m *MetricsCollector) Init(app modular.Application) error {
	return app.RegisterService(MetricsServiceName, m)
}

// ProvidesServices declares the metrics service.
func (m *MetricsCollector) ProvidesServices() []modular.ServiceProvider {
	return []modular.ServiceProvider{
		{Name: MetricsServiceName, Description: "Prometheus metrics collector", Instance: m},
	}
}

// RequiresServices returns no dependencies.
func (m *MetricsCollector) RequiresServices() []modular.ServiceDependency { return nil }

// Handler serves the collector's registry in Prometheus text format.
func (m *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest counts one dispatched request.
func (m *MetricsCollector) RecordRequest(module, function, status string) {
	m.requests.WithLabelValues(module, function, status).Inc()
}

// RecordScriptEvaluation counts one sandbox run.
func (m *MetricsCollector) RecordScriptEvaluation(status string) {
	m.scriptEvals.WithLabelValues(status).Inc()
}

// ConnectionOpened ticks the connection gauge up.
func (m *MetricsCollector) ConnectionOpened() { m.activeConns.Inc() }

// ConnectionClosed ticks the connection gauge down.
func (m *MetricsCollector) ConnectionClosed() { m.activeConns.Dec() }
