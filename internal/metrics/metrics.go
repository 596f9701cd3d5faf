// Package metrics exposes harness progress as Prometheus metrics.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Session and feature outcome label values.
const (
	OutcomeCompleted = "completed"
	OutcomeReset     = "reset"
	OutcomeFault     = "fault"
	OutcomePassed    = "passed"
	OutcomeFailed    = "failed"
)

// Metrics holds the harness collectors.
type Metrics struct {
	SessionsTotal     *prometheus.CounterVec
	FeaturesTotal     *prometheus.CounterVec
	RegressionsTotal  prometheus.Counter
	TokensUsed        prometheus.Gauge
	BudgetResetsTotal prometheus.Counter
	SessionDuration   prometheus.Histogram
}

// NewMetrics registers the harness collectors with the default registry.
// Registration happens once per process; later calls return the same set.
//
// Metrics:
//   - harness_sessions_total{outcome} - sessions by how they ended
//   - harness_features_total{outcome} - validation outcomes
//   - harness_regressions_total - passing features that broke
//   - harness_tokens_used - estimated tokens used by the current session
//   - harness_budget_resets_total - sessions ended by budget exhaustion
//   - harness_session_duration_seconds - wall time per session
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			SessionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "harness_sessions_total",
					Help: "Total number of sessions by outcome",
				},
				[]string{"outcome"},
			),

			FeaturesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "harness_features_total",
					Help: "Total number of feature validations by outcome",
				},
				[]string{"outcome"},
			),

			RegressionsTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "harness_regressions_total",
					Help: "Total number of regressions detected",
				},
			),

			TokensUsed: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "harness_tokens_used",
					Help: "Estimated tokens used by the current session",
				},
			),

			BudgetResetsTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "harness_budget_resets_total",
					Help: "Total number of forced context resets",
				},
			),

			SessionDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "harness_session_duration_seconds",
					Help:    "Duration of a session in seconds",
					Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~2.3h
				},
			),
		}
	})
	return globalMetrics
}

// ObserveSession records a finished session.
func (m *Metrics) ObserveSession(outcome string, d time.Duration, tokens int) {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues(outcome).Inc()
	m.SessionDuration.Observe(d.Seconds())
	m.TokensUsed.Set(float64(tokens))
	if outcome == OutcomeReset {
		m.BudgetResetsTotal.Inc()
	}
}

// ObserveFeature records a validation outcome.
func (m *Metrics) ObserveFeature(passed bool) {
	if m == nil {
		return
	}
	outcome := OutcomeFailed
	if passed {
		outcome = OutcomePassed
	}
	m.FeaturesTotal.WithLabelValues(outcome).Inc()
}

// ObserveRegression records a regression.
func (m *Metrics) ObserveRegression() {
	if m == nil {
		return
	}
	m.RegressionsTotal.Inc()
}

// SetTokens updates the tokens-used gauge.
func (m *Metrics) SetTokens(tokens int) {
	if m == nil {
		return
	}
	m.TokensUsed.Set(float64(tokens))
}
