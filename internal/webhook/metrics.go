package webhook

import "github.com/prometheus/client_golang/prometheus"

var (
	deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wiredan",
		Subsystem: "webhook",
		Name:      "deliveries_total",
		Help:      "Provider deliveries by event and outcome.",
	}, []string{"event", "outcome"})

	deliveryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "wiredan",
		Subsystem: "webhook",
		Name:      "delivery_duration_seconds",
		Help:      "Time to verify, apply and record a delivery.",
		Buckets:   prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(deliveries, deliveryDuration)
}
