// Copyright 2025 Swixixle
//
// Prometheus metrics for the CDIL gateway

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gateway's Prometheus collectors. Label cardinality is
// kept deliberately low: outcome labels, never tenant ids.
type Metrics struct {
	CertificatesIssued  prometheus.Counter
	IssuanceFailures    *prometheus.CounterVec
	IssuanceDuration    prometheus.Histogram
	Verifications       *prometheus.CounterVec
	ReplayRejections    prometheus.Counter
	AuditEventsAppended prometheus.Counter
	CommitTokensIssued  prometheus.Counter
	CommitTokenFailures *prometheus.CounterVec
	BundlesGenerated    *prometheus.CounterVec
}

// New registers and returns the gateway metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CertificatesIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "cdil_certificates_issued_total",
			Help: "Certificates successfully issued",
		}),
		IssuanceFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cdil_issuance_failures_total",
			Help: "Certificate issuance failures by reason",
		}, []string{"reason"}),
		IssuanceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "cdil_issuance_duration_seconds",
			Help:    "End-to-end certificate issuance latency",
			Buckets: prometheus.DefBuckets,
		}),
		Verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cdil_verifications_total",
			Help: "Certificate verifications by outcome",
		}, []string{"outcome"}),
		ReplayRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "cdil_replay_rejections_total",
			Help: "Requests rejected because a nonce was already used",
		}),
		AuditEventsAppended: factory.NewCounter(prometheus.CounterOpts{
			Name: "cdil_audit_events_appended_total",
			Help: "Audit ledger events appended",
		}),
		CommitTokensIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "cdil_commit_tokens_issued_total",
			Help: "Gatekeeper commit tokens minted",
		}),
		CommitTokenFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cdil_commit_token_failures_total",
			Help: "Gatekeeper commit token verification failures by reason",
		}, []string{"reason"}),
		BundlesGenerated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cdil_bundles_generated_total",
			Help: "Evidence bundles generated by format",
		}, []string{"format"}),
	}
}

// NewUnregistered returns metrics on a private registry, for tests and
// tools that do not expose /metrics.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
