// Package metrics exposes Prometheus instrumentation for the settlement
// subsystem. Collectors are registered on the default registry and served
// from the API's /metrics route.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PaymentVerifications counts payment proof verdicts by tier and outcome.
	PaymentVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "datanexus_payment_verifications_total",
		Help: "Payment proof verification attempts by tier and outcome.",
	}, []string{"tier", "outcome"})

	// PaymentRequired counts 402 challenges issued by the payment gate.
	PaymentRequired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "datanexus_payment_required_total",
		Help: "Payment-required challenges issued to unpaid requests.",
	})

	// EscrowTransitions counts escrow state machine transitions by action and
	// outcome.
	EscrowTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "datanexus_escrow_transitions_total",
		Help: "Escrow transitions by action and outcome.",
	}, []string{"action", "outcome"})

	// SyncAttempts counts chain-sync attempts by record type and outcome.
	SyncAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "datanexus_chainsync_attempts_total",
		Help: "Chain-sync attempts by record type and outcome.",
	}, []string{"record_type", "outcome"})

	// SyncQueueDepth tracks records currently awaiting sync.
	SyncQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "datanexus_chainsync_pending_records",
		Help: "Sync records currently pending or in progress.",
	})
)
