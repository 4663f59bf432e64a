// Package metrics exposes Prometheus counters for the lending and access
// paths. All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the registered collectors.
type Metrics struct {
	registry *prometheus.Registry

	Conflicts     *prometheus.CounterVec
	Borrows       prometheus.Counter
	Returns       prometheus.Counter
	Redemptions   *prometheus.CounterVec
	Compensations *prometheus.CounterVec
	ReconcileHeal prometheus.Counter
	ReturnRetries prometheus.Counter
}

// New registers all collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "acervo",
			Name:      "conflicts_total",
			Help:      "Conditional writes whose predicate no longer held.",
		}, []string{"operation"}),
		Borrows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "acervo",
			Name:      "borrows_total",
			Help:      "Loans created.",
		}),
		Returns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "acervo",
			Name:      "returns_total",
			Help:      "Loans completed.",
		}),
		Redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "acervo",
			Name:      "invite_redemptions_total",
			Help:      "Invite redemption attempts by outcome.",
		}, []string{"outcome"}),
		Compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "acervo",
			Name:      "borrow_compensations_total",
			Help:      "Item reverts after a failed loan insert, by outcome.",
		}, []string{"outcome"}),
		ReconcileHeal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "acervo",
			Name:      "reconcile_heals_total",
			Help:      "Orphaned loaned items set back to available.",
		}),
		ReturnRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "acervo",
			Name:      "return_item_retries_total",
			Help:      "Retried item writes on the return path.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Conflicts, m.Borrows, m.Returns, m.Redemptions,
		m.Compensations, m.ReconcileHeal, m.ReturnRetries,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Conflict(operation string) {
	if m != nil {
		m.Conflicts.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) Borrowed() {
	if m != nil {
		m.Borrows.Inc()
	}
}

func (m *Metrics) Returned() {
	if m != nil {
		m.Returns.Inc()
	}
}

// Redeemed records a redemption outcome: "ok", "exhausted" or "error".
func (m *Metrics) Redeemed(outcome string) {
	if m != nil {
		m.Redemptions.WithLabelValues(outcome).Inc()
	}
}

// Compensated records a borrow compensation: "reverted", "skipped" or "failed".
func (m *Metrics) Compensated(outcome string) {
	if m != nil {
		m.Compensations.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Healed(n int) {
	if m != nil {
		m.ReconcileHeal.Add(float64(n))
	}
}

func (m *Metrics) ReturnRetried() {
	if m != nil {
		m.ReturnRetries.Inc()
	}
}
