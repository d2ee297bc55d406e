// Package metrics exposes Prometheus collectors for card lifecycle, unlock and payment activity.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cardreveal"

// Metrics groups the service collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	cardTransitions  *prometheus.CounterVec
	unlockOutcomes   *prometheus.CounterVec
	checkouts        *prometheus.CounterVec
	reconciled       *prometheus.CounterVec
	reconcileRuns    prometheus.Counter
	upstreamDuration *prometheus.HistogramVec
}

// MustNewMetrics constructs Metrics registered with reg.
// Collectors already registered under the same name are reused.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		cardTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cards",
			Name:      "transitions_total",
			Help:      "Card status transitions applied, by transition.",
		}, []string{"transition"}),
		unlockOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "unlock",
			Name:      "outcomes_total",
			Help:      "Unlock code issue and verify outcomes, by operation and result.",
		}, []string{"operation", "result"}),
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "sessions_total",
			Help:      "Checkout attempts, by result.",
		}, []string{"result"}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "payments_total",
			Help:      "Pending payments examined by reconciliation, by result.",
		}, []string{"result"}),
		reconcileRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "runs_total",
			Help:      "Reconciliation passes over pending payments.",
		}),
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Latency of gateway and notification calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "operation", "status"}),
	}

	m.cardTransitions = registerCounterVec(reg, m.cardTransitions)
	m.unlockOutcomes = registerCounterVec(reg, m.unlockOutcomes)
	m.checkouts = registerCounterVec(reg, m.checkouts)
	m.reconciled = registerCounterVec(reg, m.reconciled)
	m.upstreamDuration = registerHistogramVec(reg, m.upstreamDuration)
	if err := reg.Register(m.reconcileRuns); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			panic(err)
		}
		m.reconcileRuns = already.ExistingCollector.(prometheus.Counter)
	}
	return m
}

func registerCounterVec(reg prometheus.Registerer, c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return already.ExistingCollector.(*prometheus.CounterVec)
		}
		panic(err)
	}
	return c
}

func registerHistogramVec(reg prometheus.Registerer, h *prometheus.HistogramVec) *prometheus.HistogramVec {
	if err := reg.Register(h); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return already.ExistingCollector.(*prometheus.HistogramVec)
		}
		panic(err)
	}
	return h
}

// CardTransition counts one applied status transition, e.g. "available_reserved".
func (m *Metrics) CardTransition(transition string) {
	if m == nil {
		return
	}
	m.cardTransitions.WithLabelValues(transition).Inc()
}

// UnlockOutcome counts an issue or verify result.
func (m *Metrics) UnlockOutcome(operation, result string) {
	if m == nil {
		return
	}
	m.unlockOutcomes.WithLabelValues(operation, result).Inc()
}

// Checkout counts a checkout result.
func (m *Metrics) Checkout(result string) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(result).Inc()
}

// ReconcileRun counts one reconciliation pass.
func (m *Metrics) ReconcileRun() {
	if m == nil {
		return
	}
	m.reconcileRuns.Inc()
}

// Reconciled counts one examined payment by result: paid, pending or failed.
func (m *Metrics) Reconciled(result string) {
	if m == nil {
		return
	}
	m.reconciled.WithLabelValues(result).Inc()
}

// ObserveUpstream records the latency of one external call.
func (m *Metrics) ObserveUpstream(service, operation string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.upstreamDuration.WithLabelValues(service, operation, status).Observe(d.Seconds())
}
