// Package metrics exposes Prometheus metrics for the audit reconciliation
// loop.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the loop's Prometheus collectors.
type Metrics struct {
	Pages         *prometheus.CounterVec
	Entries       *prometheus.CounterVec
	LastProcessed prometheus.Gauge
}

// New creates and registers the loop metrics.
func New() *Metrics {
	return &Metrics{
		Pages: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mecs_audit_pages_total",
			Help: "Audit log pages fetched by mode",
		}, []string{"mode"}),
		Entries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mecs_audit_entries_total",
			Help: "Audit log entries handled by outcome",
		}, []string{"outcome"}),
		LastProcessed: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "mecs_audit_last_action_timestamp_seconds",
			Help: "Action timestamp of the most recently reconciled entry",
		}),
	}
}

// CountPage records one fetched audit page. Nil-safe.
func (m *Metrics) CountPage(mode string) {
	if m == nil {
		return
	}
	m.Pages.WithLabelValues(mode).Inc()
}

// CountEntry records one handled entry by outcome. Nil-safe.
func (m *Metrics) CountEntry(outcome string) {
	if m == nil {
		return
	}
	m.Entries.WithLabelValues(outcome).Inc()
}

// SetLastProcessed records the action timestamp of the latest reconciled
// entry. Nil-safe.
func (m *Metrics) SetLastProcessed(t time.Time) {
	if m == nil {
		return
	}
	m.LastProcessed.Set(float64(t.Unix()))
}
