package ledger

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	moves = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wiredan",
		Subsystem: "ledger",
		Name:      "moves_total",
		Help:      "Balance changes attempted, by entry type, currency and result.",
	}, []string{"type", "currency", "result"})

	movedMinor = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wiredan",
		Subsystem: "ledger",
		Name:      "moved_minor_total",
		Help:      "Minor units applied to balances, by entry type and currency.",
	}, []string{"type", "currency"})

	writeSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "wiredan",
		Subsystem: "ledger",
		Name:      "write_duration_seconds",
		Help:      "Time to apply one credit or debit.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
	}, []string{"direction"})
)

func init() {
	prometheus.MustRegister(moves, movedMinor, writeSeconds)
}

func moveResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrDuplicateEntry):
		return "duplicate"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient"
	case errors.Is(err, ErrAccountNotFound):
		return "no_account"
	default:
		return "error"
	}
}

// recordMove is deferred by every credit and debit path.
func recordMove(c Credit, start time.Time, errp *error) {
	direction := "credit"
	if c.Type.IsDebit() {
		direction = "debit"
	}
	writeSeconds.WithLabelValues(direction).Observe(time.Since(start).Seconds())
	result := moveResult(*errp)
	moves.WithLabelValues(string(c.Type), c.Currency, result).Inc()
	if result == "ok" {
		movedMinor.WithLabelValues(string(c.Type), c.Currency).Add(float64(c.AmountMinor))
	}
}
