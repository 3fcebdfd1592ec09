// Package metrics exposes Prometheus collectors for top-up cycles.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

const namespace = "topup"

// Metrics holds the service collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	cycles        *prometheus.CounterVec
	swaps         *prometheus.CounterVec
	submissions   *prometheus.CounterVec
	bridgeWait    *prometheus.HistogramVec
	targetBalance prometheus.Gauge
	lastCycle     prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Count of finished top-up cycles by outcome.",
		}, []string{"outcome"}),
		swaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swaps_total",
			Help:      "Count of swap attempts by terminal status.",
		}, []string{"status"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submission_failures_total",
			Help:      "Count of failed on-chain submissions by stage.",
		}, []string{"stage"}),
		bridgeWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bridge_wait_seconds",
			Help:      "Time spent waiting for a bridge credit.",
			Buckets:   []float64{30, 60, 120, 300, 600, 900, 1200, 1800},
		}, []string{"observed"}),
		targetBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "target_balance",
			Help:      "Last observed balance of the target wallet in token units.",
		}),
		lastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_cycle_timestamp_seconds",
			Help:      "Unix time the last cycle finished.",
		}),
	}

	m.registry.MustRegister(
		m.cycles,
		m.swaps,
		m.submissions,
		m.bridgeWait,
		m.targetBalance,
		m.lastCycle,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveCycle(outcome string, at time.Time) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.cycles.WithLabelValues(outcome).Inc()
	m.lastCycle.Set(float64(at.Unix()))
}

func (m *Metrics) ObserveSwap(status string) {
	if m == nil {
		return
	}
	m.swaps.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveSubmissionFailure(stage string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(stage).Inc()
}

func (m *Metrics) ObserveBridgeWait(waited time.Duration, observed bool) {
	if m == nil {
		return
	}
	label := "false"
	if observed {
		label = "true"
	}
	m.bridgeWait.WithLabelValues(label).Observe(waited.Seconds())
}

func (m *Metrics) SetTargetBalance(units decimal.Decimal) {
	if m == nil {
		return
	}
	m.targetBalance.Set(units.InexactFloat64())
}
