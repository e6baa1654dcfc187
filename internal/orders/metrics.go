package orders

import "github.com/prometheus/client_golang/prometheus"

var (
	ordersCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wiredan",
		Subsystem: "orders",
		Name:      "created_total",
		Help:      "Orders created.",
	})

	orderTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wiredan",
		Subsystem: "orders",
		Name:      "transitions_total",
		Help:      "Order status transitions by from and to status.",
	}, []string{"from", "to"})
)

func init() {
	prometheus.MustRegister(ordersCreated, orderTransitions)
}
