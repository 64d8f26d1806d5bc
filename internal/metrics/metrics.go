// Package metrics exposes decision, cache and ledger counters for
// Prometheus.
//
// Metrics owns its registry so several engines (and tests) can coexist
// in one process without colliding on the default registerer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	// Decisions counts authorization decisions.
	// Labels: verdict (allow|deny), cause
	Decisions *prometheus.CounterVec

	// CacheLookups counts policy file cache lookups.
	// Labels: outcome (hit|miss|stale)
	CacheLookups *prometheus.CounterVec

	// LedgerAppends counts annotation attempts.
	// Labels: outcome (ok|full|busy|disabled|no_policy_file|error)
	LedgerAppends *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ward_decisions_total",
			Help: "Total number of authorization decisions",
		}, []string{"verdict", "cause"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ward_cache_lookups_total",
			Help: "Total number of policy file cache lookups",
		}, []string{"outcome"}),
		LedgerAppends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ward_ledger_appends_total",
			Help: "Total number of annotation ledger append attempts",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(m.Decisions, m.CacheLookups, m.LedgerAppends)
	return m
}

func (m *Metrics) ObserveDecision(verdict, cause string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(verdict, cause).Inc()
}

func (m *Metrics) ObserveCacheLookup(outcome string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveLedgerAppend(outcome string) {
	if m == nil {
		return
	}
	m.LedgerAppends.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
