// Package metrics exposes prometheus collectors for solves run by the service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes recorded by Observe.
const (
	OutcomeConverged    = "converged"
	OutcomeNotConverged = "not_converged"
	OutcomeError        = "error"
	OutcomeCancelled    = "cancelled"
)

// Metrics holds the service's solve collectors.
type Metrics struct {
	Solves     *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
	Iterations *prometheus.HistogramVec
	Active     prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Solves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "descent_solves_total",
			Help: "Solves finished, by method and outcome.",
		}, []string{"method", "outcome"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "descent_solve_duration_seconds",
			Help:    "Wall time of a solve.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"method"}),
		Iterations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "descent_solve_iterations",
			Help:    "Outer iterations taken by a solve.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"method"}),
		Active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "descent_active_solves",
			Help: "Solves currently running.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Solves, m.Duration, m.Iterations, m.Active)
	}
	return m
}

// Start marks a solve as running and returns the function that records its
// end.
func (m *Metrics) Start(method string) func(outcome string, iterations int) {
	m.Active.Inc()
	begin := time.Now()
	return func(outcome string, iterations int) {
		m.Active.Dec()
		m.Observe(method, outcome, time.Since(begin), iterations)
	}
}

// Observe records one finished solve. Iterations are only recorded for
// solves that produced a result.
func (m *Metrics) Observe(method, outcome string, d time.Duration, iterations int) {
	m.Solves.WithLabelValues(method, outcome).Inc()
	m.Duration.WithLabelValues(method).Observe(d.Seconds())
	if outcome == OutcomeConverged || outcome == OutcomeNotConverged {
		m.Iterations.WithLabelValues(method).Observe(float64(iterations))
	}
}
