package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the plugin host
type Metrics struct {
	registry *prometheus.Registry

	// Plugin lifecycle metrics
	PluginTransitionsTotal *prometheus.CounterVec
	PluginErrorsTotal      prometheus.Counter
	PluginsActive          prometheus.Gauge

	// Bus metrics
	BusEventsTotal        *prometheus.CounterVec
	BusSubscriptionsTotal prometheus.Gauge

	// Scheduler metrics
	TaskExecutionsTotal *prometheus.CounterVec

	// Security metrics
	RateLimitRejectionsTotal  *prometheus.CounterVec
	PermissionRejectionsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		PluginTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugin_transitions_total",
				Help: "Total number of plugin lifecycle transitions",
			},
			[]string{"event"},
		),
		PluginErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "plugin_errors_total",
				Help: "Total number of plugins that entered the error state",
			},
		),
		PluginsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "plugins_active",
				Help: "Number of plugins currently loaded, enabled, or disabled",
			},
		),

		BusEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bus_events_total",
				Help: "Total number of events emitted on the message bus",
			},
			[]string{"source_kind"},
		),
		BusSubscriptionsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bus_subscriptions_total",
				Help: "Number of live bus subscriptions",
			},
		),

		TaskExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "task_executions_total",
				Help: "Total number of scheduled task executions",
			},
			[]string{"status"},
		),

		RateLimitRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limit_rejections_total",
				Help: "Total number of capability calls rejected by the rate limiter",
			},
			[]string{"class"},
		),
		PermissionRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permission_rejections_total",
				Help: "Total number of capability calls rejected by the permission guard",
			},
			[]string{"permission"},
		),
	}

	m.registerMetrics()
	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.PluginTransitionsTotal)
	m.registry.MustRegister(m.PluginErrorsTotal)
	m.registry.MustRegister(m.PluginsActive)

	m.registry.MustRegister(m.BusEventsTotal)
	m.registry.MustRegister(m.BusSubscriptionsTotal)

	m.registry.MustRegister(m.TaskExecutionsTotal)

	m.registry.MustRegister(m.RateLimitRejectionsTotal)
	m.registry.MustRegister(m.PermissionRejectionsTotal)
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
