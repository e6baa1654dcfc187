package paystack

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wiredan/wiredan/internal/circuitbreaker"
)

var (
	gatewayRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wiredan",
		Subsystem: "gateway",
		Name:      "requests_total",
		Help:      "Payment gateway calls by operation and outcome.",
	}, []string{"op", "outcome"})

	gatewayDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "wiredan",
		Subsystem: "gateway",
		Name:      "request_duration_seconds",
		Help:      "Payment gateway call latency.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
	}, []string{"op"})
)

func init() {
	prometheus.MustRegister(gatewayRequests, gatewayDuration)
}

func observeCall(op string, err error, d time.Duration) {
	gatewayDuration.WithLabelValues(op).Observe(d.Seconds())
	gatewayRequests.WithLabelValues(op, outcome(err)).Inc()
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return "circuit_open"
	}
	var ge *GatewayError
	if !errors.As(err, &ge) {
		return "error"
	}
	switch {
	case ge.Timeout():
		return "timeout"
	case ge.Transient():
		return "transient"
	default:
		return "rejected"
	}
}
