// Package monitoring exposes rebuild and server metrics to Prometheus.
package monitoring

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "spindle"

// Rebuild results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics holds the collectors of one process. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	rebuilds *prometheus.CounterVec
	duration prometheus.Histogram
	watchers prometheus.Gauge
	servers  prometheus.Gauge
	failing  prometheus.Gauge

	failingScripts atomic.Int64
	started        time.Time
}

// NewMetrics creates the collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		rebuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rebuilds_total",
			Help:      "Build script runs by result.",
		}, []string{"result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rebuild_duration_seconds",
			Help:      "Time spent running one build script.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		watchers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watchers",
			Help:      "Watchers registered with the polling manager.",
		}),
		servers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dev_servers",
			Help:      "Dev servers owned by the server pool.",
		}),
		failing: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "failing_scripts",
			Help:      "Build scripts whose last run failed.",
		}),
		started: time.Now(),
	}

	m.registry.MustRegister(m.rebuilds, m.duration, m.watchers, m.servers, m.failing)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRebuild records one script run.
func (m *Metrics) ObserveRebuild(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	m.rebuilds.WithLabelValues(result).Inc()
	m.duration.Observe(d.Seconds())
}

// SetWatchers records the number of registered watchers.
func (m *Metrics) SetWatchers(n int) {
	if m == nil {
		return
	}
	m.watchers.Set(float64(n))
}

// SetServers records the number of dev servers.
func (m *Metrics) SetServers(n int) {
	if m == nil {
		return
	}
	m.servers.Set(float64(n))
}

// SetFailing records the number of scripts in error.
func (m *Metrics) SetFailing(n int) {
	if m == nil {
		return
	}
	m.failingScripts.Store(int64(n))
	m.failing.Set(float64(n))
}

// Failing returns the last value given to SetFailing.
func (m *Metrics) Failing() int {
	if m == nil {
		return 0
	}
	return int(m.failingScripts.Load())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
