// Package metrics exposes Prometheus metrics for the provisioning daemon.
//
// Recorders are nil-safe: components built without metrics take a nil
// *Metrics and every method becomes a no-op.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "provisiond"

// Metrics holds the counters updated by the quota validators and the
// auto-provisioning engine.
type Metrics struct {
	quotaChecks   *prometheus.CounterVec
	quotaRecounts *prometheus.CounterVec

	autoProvCycles    *prometheus.CounterVec
	autoProvAccounts  *prometheus.CounterVec
	autoProvBatchSize *prometheus.GaugeVec
}

// New creates and registers the metrics with reg. It panics if a metric
// is already registered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		quotaChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "quota",
				Name:      "checks_total",
				Help:      "Quota validations by validator and result.",
			},
			[]string{"validator", "result"}, // "pass", "reject", "error"
		),
		quotaRecounts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "quota",
				Name:      "recounts_total",
				Help:      "Full directory counts performed by quota validators.",
			},
			[]string{"validator"},
		),
		autoProvCycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "autoprov",
				Name:      "domain_cycles_total",
				Help:      "Eager auto-provisioning domain cycles by result.",
			},
			[]string{"domain", "result"}, // "processed", "skipped", "failed"
		),
		autoProvAccounts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "autoprov",
				Name:      "accounts_total",
				Help:      "Externally discovered accounts by outcome.",
			},
			[]string{"domain", "result"}, // "created", "stuck"
		),
		autoProvBatchSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "autoprov",
				Name:      "batch_size",
				Help:      "Current eager auto-provisioning batch size per domain.",
			},
			[]string{"domain"},
		),
	}

	reg.MustRegister(
		m.quotaChecks,
		m.quotaRecounts,
		m.autoProvCycles,
		m.autoProvAccounts,
		m.autoProvBatchSize,
	)
	return m
}

// RecordQuotaCheck counts one validation.
func (m *Metrics) RecordQuotaCheck(validator, result string) {
	if m == nil {
		return
	}
	m.quotaChecks.WithLabelValues(validator, result).Inc()
}

// RecordQuotaRecount counts one full directory count.
func (m *Metrics) RecordQuotaRecount(validator string) {
	if m == nil {
		return
	}
	m.quotaRecounts.WithLabelValues(validator).Inc()
}

// RecordCycle counts one eager cycle over domain.
func (m *Metrics) RecordCycle(domain, result string) {
	if m == nil {
		return
	}
	m.autoProvCycles.WithLabelValues(domain, result).Inc()
}

// RecordAccount counts one external entry processed for domain.
func (m *Metrics) RecordAccount(domain, result string) {
	if m == nil {
		return
	}
	m.autoProvAccounts.WithLabelValues(domain, result).Inc()
}

// SetBatchSize records the batch size of domain.
func (m *Metrics) SetBatchSize(domain string, n int) {
	if m == nil {
		return
	}
	m.autoProvBatchSize.WithLabelValues(domain).Set(float64(n))
}
