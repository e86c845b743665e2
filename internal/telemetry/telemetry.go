// Package telemetry exposes collector health as Prometheus metrics.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vitalis-app/collector/internal/models"
)

const namespace = "vitalis_collector"

// Metrics holds the collector's instruments on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	cycles          prometheus.Counter
	cycleDuration   prometheus.Histogram
	cycleOverruns   prometheus.Counter
	loopErrors      prometheus.Counter
	polls           *prometheus.CounterVec
	alerts          *prometheus.CounterVec
	storageFailures prometheus.Counter
	endpoints       *prometheus.GaugeVec
}

// New registers all instruments plus the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Completed collection cycles.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall-clock duration of collection cycles.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		cycleOverruns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_overruns_total",
			Help:      "Cycles that took longer than the poll interval.",
		}),
		loopErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_errors_total",
			Help:      "Unexpected errors recovered by the collection loop.",
		}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Endpoint polls by outcome.",
		}, []string{"status"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts raised by severity.",
		}, []string{"severity"}),
		storageFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_failures_total",
			Help:      "Records that could not be saved.",
		}),
		endpoints: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "endpoints",
			Help:      "Endpoints in the last cycle by outcome.",
		}, []string{"status"}),
	}

	m.registry.MustRegister(
		m.cycles, m.cycleDuration, m.cycleOverruns, m.loopErrors,
		m.polls, m.alerts, m.storageFailures, m.endpoints,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveCycle records the outcome of one completed cycle.
func (m *Metrics) ObserveCycle(c *models.CycleResult) {
	m.cycles.Inc()
	m.cycleDuration.Observe(c.Duration.Seconds())

	counts := map[models.PollStatus]int{
		models.PollOK:                0,
		models.PollDisabled:          0,
		models.PollConnectionFailure: 0,
		models.PollRemoteFault:       0,
	}
	for _, r := range c.Results {
		counts[r.Status]++
		m.polls.WithLabelValues(string(r.Status)).Inc()
	}
	for status, n := range counts {
		m.endpoints.WithLabelValues(string(status)).Set(float64(n))
	}
	for _, a := range c.Alerts {
		m.alerts.WithLabelValues(string(a.Severity)).Inc()
	}
}

// CycleOverrun counts a cycle that exceeded the poll interval.
func (m *Metrics) CycleOverrun() { m.cycleOverruns.Inc() }

// LoopError counts a recovered loop-level error.
func (m *Metrics) LoopError() { m.loopErrors.Inc() }

// StorageFailure counts a failed save.
func (m *Metrics) StorageFailure() { m.storageFailures.Inc() }

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
