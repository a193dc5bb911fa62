// Package metrics holds the prometheus collectors exported at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()

	StageTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "capture",
		Name:      "stage_transitions_total",
		Help:      "Pipeline stage transitions by target stage and trigger.",
	}, []string{"to", "trigger"})

	ApprovalDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "capture",
		Name:      "approval_decisions_total",
		Help:      "Approval gate decisions.",
	}, []string{"gate", "outcome"})

	AuditAppends = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "capture",
		Name:      "audit_appends_total",
		Help:      "Entries appended to the audit vault.",
	}, []string{"action"})

	AuditVerifyFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "capture",
		Name:      "audit_verify_failures_total",
		Help:      "Audit entries whose stored hash did not verify.",
	})

	FollowUpChecks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "capture",
		Name:      "followup_checks_total",
		Help:      "Follow-up checks by classification.",
	}, []string{"classification"})

	ExternalFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "capture",
		Name:      "external_failures_total",
		Help:      "Failed external collaborator calls.",
	}, []string{"collaborator"})
)

func init() {
	registry.MustRegister(
		StageTransitions,
		ApprovalDecisions,
		AuditAppends,
		AuditVerifyFailures,
		FollowUpChecks,
		ExternalFailures,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in the prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
