package escrow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wiredan/wiredan/internal/apperr"
)

var (
	escrowOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wiredan",
		Subsystem: "escrow",
		Name:      "operations_total",
		Help:      "Escrow operations by operation and result kind.",
	}, []string{"op", "result"})

	escrowOpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "wiredan",
		Subsystem: "escrow",
		Name:      "operation_duration_seconds",
		Help:      "Escrow operation latency, including gateway calls.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	settledMinor = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wiredan",
		Subsystem: "escrow",
		Name:      "settled_minor_total",
		Help:      "Minor units credited on settlement by terminal status and currency.",
	}, []string{"status", "currency"})

	amountMismatches = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wiredan",
		Subsystem: "escrow",
		Name:      "amount_mismatches_total",
		Help:      "Payment confirmations rejected because the paid amount differed.",
	})

	disputesOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wiredan",
		Subsystem: "escrow",
		Name:      "disputes_opened_total",
		Help:      "Disputes opened.",
	})

	disputesResolved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wiredan",
		Subsystem: "escrow",
		Name:      "disputes_resolved_total",
		Help:      "Disputes resolved by resolution.",
	}, []string{"resolution"})

	providerRefunds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wiredan",
		Subsystem: "escrow",
		Name:      "provider_refunds_total",
		Help:      "Refunds sent back to the card by outcome.",
	}, []string{"outcome"})

	autoReleased = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wiredan",
		Subsystem: "escrow",
		Name:      "auto_released_total",
		Help:      "Escrows released by the auto-release timer.",
	})
)

func init() {
	prometheus.MustRegister(
		escrowOps,
		escrowOpDuration,
		settledMinor,
		amountMismatches,
		disputesOpened,
		disputesResolved,
		providerRefunds,
		autoReleased,
	)
}

// observe records one operation. Use as: defer observe("op", time.Now(), &err)
func observe(op string, start time.Time, errp *error) {
	escrowOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	result := "ok"
	if errp != nil && *errp != nil {
		result = apperr.KindOf(*errp).String()
	}
	escrowOps.WithLabelValues(op, result).Inc()
}
