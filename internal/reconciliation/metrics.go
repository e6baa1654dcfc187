package reconciliation

import "github.com/prometheus/client_golang/prometheus"

var (
	reconcileOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wiredan",
		Subsystem: "reconciliation",
		Name:      "outcomes_total",
		Help:      "Pending escrows verified by outcome.",
	}, []string{"outcome"})

	stillPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wiredan",
		Subsystem: "reconciliation",
		Name:      "still_pending",
		Help:      "Escrows the provider still reported as pending in the last run.",
	})

	lastRun = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wiredan",
		Subsystem: "reconciliation",
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time of the last completed reconciliation run.",
	})

	reconcileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "wiredan",
		Subsystem: "reconciliation",
		Name:      "run_duration_seconds",
		Help:      "Duration of reconciliation runs in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	reconcileErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wiredan",
		Subsystem: "reconciliation",
		Name:      "errors_total",
		Help:      "Total reconciliation check errors.",
	})
)

func init() {
	prometheus.MustRegister(
		reconcileOutcomes,
		stillPending,
		lastRun,
		reconcileDuration,
		reconcileErrors,
	)
}
