// Package metrics defines daub's Prometheus collectors. Each Metrics value
// owns its own registry so tests and multiple engines never collide.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "daub"

// Metrics groups every collector the daemon updates.
type Metrics struct {
	Registry *prometheus.Registry

	paints         *prometheus.CounterVec
	paintDuration  prometheus.Histogram
	refreshes      *prometheus.CounterVec
	streamUpdates  prometheus.Counter
	streamDropped  prometheus.Counter
	streamConnects prometheus.Counter
	queueDepth     prometheus.Gauge
	converged      prometheus.Gauge
	credentials    *prometheus.GaugeVec
}

// New registers a fresh set of collectors, plus the Go and process
// collectors, on a new registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		paints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "paint",
			Name:      "attempts_total",
			Help:      "The number of paint requests, by outcome",
		}, []string{"outcome"}),
		paintDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "paint",
			Name:      "duration_seconds",
			Help:      "The number of seconds each paint request takes",
			Buckets:   prometheus.DefBuckets,
		}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "snapshot_refreshes_total",
			Help:      "The number of board snapshot refreshes, by result",
		}, []string{"result"}),
		streamUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "stream_updates_total",
			Help:      "The number of pixel updates applied from the board stream",
		}),
		streamDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "stream_dropped_total",
			Help:      "The number of malformed stream frames that were discarded",
		}),
		streamConnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "stream_connects_total",
			Help:      "The number of successful board stream handshakes",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "target",
			Name:      "queued",
			Help:      "The number of targets waiting to be painted",
		}),
		converged: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "target",
			Name:      "converged",
			Help:      "The number of targets currently showing their desired colour",
		}),
		credentials: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "credential",
			Name:      "count",
			Help:      "The number of credentials, by state",
		}, []string{"state"}),
	}

	for _, o := range []string{"success", "credential_invalid", "rejected", "transport"} {
		m.paints.WithLabelValues(o)
	}
	for _, r := range []string{"ok", "failed"} {
		m.refreshes.WithLabelValues(r)
	}

	m.Registry.MustRegister(
		m.paints,
		m.paintDuration,
		m.refreshes,
		m.streamUpdates,
		m.streamDropped,
		m.streamConnects,
		m.queueDepth,
		m.converged,
		m.credentials,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObservePaint records one paint attempt.
func (m *Metrics) ObservePaint(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.paints.WithLabelValues(outcome).Inc()
	m.paintDuration.Observe(took.Seconds())
}

// ObserveRefresh records a snapshot refresh result.
func (m *Metrics) ObserveRefresh(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.refreshes.WithLabelValues(result).Inc()
}

// StreamUpdate counts an applied stream update.
func (m *Metrics) StreamUpdate() {
	if m != nil {
		m.streamUpdates.Inc()
	}
}

// StreamDropped counts a discarded stream frame.
func (m *Metrics) StreamDropped() {
	if m != nil {
		m.streamDropped.Inc()
	}
}

// StreamConnected counts a completed stream handshake.
func (m *Metrics) StreamConnected() {
	if m != nil {
		m.streamConnects.Inc()
	}
}

// SetQueue records queue and convergence levels.
func (m *Metrics) SetQueue(queued, converged int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(queued))
	m.converged.Set(float64(converged))
}

// SetCredentials records credential pool occupancy.
func (m *Metrics) SetCredentials(available, held, invalidated int) {
	if m == nil {
		return
	}
	m.credentials.WithLabelValues("available").Set(float64(available))
	m.credentials.WithLabelValues("held").Set(float64(held))
	m.credentials.WithLabelValues("invalidated").Set(float64(invalidated))
}
