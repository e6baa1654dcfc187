package reconciliation

import (
	"context"
	"log/slog"
	"time"

	"github.com/wiredan/wiredan/internal/syncutil"
)

// Timer runs a pending-payment pass on a fixed interval.
type Timer struct {
	*syncutil.Periodic
}

// NewTimer schedules service.Run every interval. A non-positive interval
// disables the sweep.
func NewTimer(service *Service, interval time.Duration, logger *slog.Logger) *Timer {
	run := func(ctx context.Context) {
		if _, err := service.Run(ctx); err != nil {
			logger.Warn("reconciliation run failed", "error", err)
		}
	}
	return &Timer{Periodic: syncutil.NewPeriodic("pending reconciliation", interval, logger, run)}
}

// Start runs the sweep until ctx ends or Stop is called.
func (t *Timer) Start(ctx context.Context) { t.Run(ctx) }
