// Package metrics exposes Prometheus metrics for the eligibility evaluator.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the evaluator's Prometheus collectors.
type Metrics struct {
	Evaluations   *prometheus.CounterVec
	RankChanges   *prometheus.CounterVec
	SignalLatency *prometheus.HistogramVec
}

// New creates and registers the evaluator metrics.
func New() *Metrics {
	return &Metrics{
		Evaluations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mecs_evaluations_total",
			Help: "Eligibility evaluations by verdict",
		}, []string{"result"}),
		RankChanges: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mecs_rank_changes_total",
			Help: "Rank change attempts by outcome",
		}, []string{"outcome"}),
		SignalLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mecs_signal_fetch_duration_seconds",
			Help:    "Latency of candidate signal fetches by signal",
			Buckets: prometheus.DefBuckets,
		}, []string{"signal"}),
	}
}

// ObserveSignalLatency records one signal fetch duration. Nil-safe.
func (m *Metrics) ObserveSignalLatency(signal string, d time.Duration) {
	if m == nil {
		return
	}
	m.SignalLatency.WithLabelValues(signal).Observe(d.Seconds())
}

// CountEvaluation records one evaluation verdict. Nil-safe.
func (m *Metrics) CountEvaluation(result string) {
	if m == nil {
		return
	}
	m.Evaluations.WithLabelValues(result).Inc()
}

// CountRankChange records one rank change attempt. Nil-safe.
func (m *Metrics) CountRankChange(outcome string) {
	if m == nil {
		return
	}
	m.RankChanges.WithLabelValues(outcome).Inc()
}
