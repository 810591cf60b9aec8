package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns the process collectors. A nil *Registry is valid and
// records nothing, so packages can take one unconditionally.
type Registry struct {
	reg *prometheus.Registry

	reconcileTicks        *prometheus.CounterVec
	reconcileConsecutive  *prometheus.GaugeVec
	reconcileLastSuccess  *prometheus.GaugeVec
	reconcileStaleSkipped *prometheus.CounterVec

	auditRecorded      prometheus.Counter
	auditDropped       prometheus.Counter
	auditAppendFailure prometheus.Counter

	listingMutations *prometheus.CounterVec
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Registry{
		reg: reg,
		reconcileTicks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "listing_reconcile_ticks_total",
			Help: "Reconciliation ticks by scope and result.",
		}, []string{"scope", "result"}),
		reconcileConsecutive: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "listing_reconcile_consecutive_failures",
			Help: "Consecutive failed reconciliation ticks; reset on success.",
		}, []string{"scope"}),
		reconcileLastSuccess: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "listing_reconcile_last_success_timestamp_seconds",
			Help: "Unix time of the last applied reconciliation.",
		}, []string{"scope"}),
		reconcileStaleSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "listing_reconcile_stale_snapshots_total",
			Help: "Fetched snapshots discarded because a local write happened meanwhile.",
		}, []string{"scope"}),
		auditRecorded: f.NewCounter(prometheus.CounterOpts{
			Name: "audit_records_appended_total",
			Help: "Audit records appended to the audit log.",
		}),
		auditDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "audit_records_dropped_total",
			Help: "Audit records dropped because the queue was full or closed.",
		}),
		auditAppendFailure: f.NewCounter(prometheus.CounterOpts{
			Name: "audit_append_failures_total",
			Help: "Audit appends that failed and were not retried.",
		}),
		listingMutations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "listing_mutations_total",
			Help: "Lifecycle transitions by action and outcome.",
		}, []string{"action", "outcome"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

func (r *Registry) ReconcileSucceeded(scope string, at time.Time) {
	if r == nil {
		return
	}
	r.reconcileTicks.WithLabelValues(scope, "ok").Inc()
	r.reconcileConsecutive.WithLabelValues(scope).Set(0)
	r.reconcileLastSuccess.WithLabelValues(scope).Set(float64(at.Unix()))
}

func (r *Registry) ReconcileFailed(scope string, consecutive int) {
	if r == nil {
		return
	}
	r.reconcileTicks.WithLabelValues(scope, "error").Inc()
	r.reconcileConsecutive.WithLabelValues(scope).Set(float64(consecutive))
}

func (r *Registry) ReconcileStale(scope string) {
	if r == nil {
		return
	}
	r.reconcileTicks.WithLabelValues(scope, "stale").Inc()
	r.reconcileStaleSkipped.WithLabelValues(scope).Inc()
}

func (r *Registry) AuditAppended() {
	if r == nil {
		return
	}
	r.auditRecorded.Inc()
}

func (r *Registry) AuditDropped() {
	if r == nil {
		return
	}
	r.auditDropped.Inc()
}

func (r *Registry) AuditAppendFailed() {
	if r == nil {
		return
	}
	r.auditAppendFailure.Inc()
}

// ListingMutation counts a transition. outcome is confirmed, pending_sync or refused.
func (r *Registry) ListingMutation(action, outcome string) {
	if r == nil {
		return
	}
	r.listingMutations.WithLabelValues(action, outcome).Inc()
}
