package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iyuvalk/switcher-breeze-rest/internal/infrastructure/influxdb"
	"github.com/iyuvalk/switcher-breeze-rest/internal/journal"
)

// Metrics holds the Prometheus collectors exposed on /metrics.
//
// Each Metrics owns its registry so several servers (tests) can coexist
// in one process.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	deviceCalls   *prometheus.CounterVec
	deviceLatency *prometheus.HistogramVec
	eventsDropped prometheus.Counter
}

// NewMetrics creates the collectors and registers them, together with the
// Go runtime and process collectors, on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switcher_http_requests_total",
			Help: "HTTP requests by route pattern, method and status code",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "switcher_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 15, 30},
		}, []string{"route"}),
		deviceCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switcher_device_calls_total",
			Help: "Device calls by action and outcome (success, invalid, failed) and error code",
		}, []string{"action", "outcome", "code"}),
		deviceLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "switcher_device_call_duration_seconds",
			Help:    "Time spent waiting for the device adapter",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
		}, []string{"action"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "switcher_event_publish_failures_total",
			Help: "device.command events that could not be published to MQTT",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.deviceCalls,
		m.deviceLatency,
		m.eventsDropped,
	)
	return m
}

// Registry returns the registry so callers can add their own collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// watchJournal exports the journal's dropped-entry count. Registering the
// same Metrics for a second server is a no-op.
func (m *Metrics) watchJournal(w *journal.Writer) {
	dropped := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "switcher_journal_dropped_total",
		Help: "Journal entries discarded because the write queue was full",
	}, func() float64 {
		return float64(w.Dropped())
	})

	var already prometheus.AlreadyRegisteredError
	if err := m.registry.Register(dropped); err != nil && !errors.As(err, &already) {
		panic(err)
	}
}

// watchTelemetry exports the count of InfluxDB batches that were not written.
func (m *Metrics) watchTelemetry(c *influxdb.Client) {
	failed := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "switcher_telemetry_failed_batches_total",
		Help: "InfluxDB telemetry batches that were rejected or not delivered",
	}, func() float64 {
		return float64(c.FailedWrites())
	})

	var already prometheus.AlreadyRegisteredError
	if err := m.registry.Register(failed); err != nil && !errors.As(err, &already) {
		panic(err)
	}
}

func (m *Metrics) observeHTTP(route, method string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (m *Metrics) observeDevice(action, outcome, code string, elapsed time.Duration) {
	m.deviceCalls.WithLabelValues(action, outcome, code).Inc()
	if outcome != journal.OutcomeInvalid {
		m.deviceLatency.WithLabelValues(action).Observe(elapsed.Seconds())
	}
}
