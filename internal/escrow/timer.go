package escrow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/wiredan/wiredan/internal/syncutil"
)

// Timer releases escrows that have been held longer than the auto-release
// window without a dispute.
type Timer struct {
	service *Service
	after   time.Duration
	batch   int
	logger  *slog.Logger
	now     func() time.Time
	loop    *syncutil.Periodic
}

// NewTimer creates an auto-release timer. after is how long an escrow stays
// held before it is released; zero disables the sweep.
func NewTimer(service *Service, after time.Duration, logger *slog.Logger) *Timer {
	t := &Timer{
		service: service,
		after:   after,
		batch:   100,
		logger:  logger,
		now:     time.Now,
	}
	t.loop = syncutil.NewPeriodic("escrow auto-release", sweepInterval(after), logger,
		func(ctx context.Context) { t.ReleaseExpired(ctx) })
	return t
}

// sweepInterval checks four times per window, between 1s and 30s.
func sweepInterval(after time.Duration) time.Duration {
	if after <= 0 {
		return 0
	}
	return min(max(after/4, time.Second), 30*time.Second)
}

// Enabled reports whether auto-release is configured.
func (t *Timer) Enabled() bool { return t.after > 0 }

// Running reports whether the sweep loop is active.
func (t *Timer) Running() bool { return t.loop.Running() }

// Start runs the sweep until ctx ends or Stop is called. It returns at once
// when auto-release is disabled.
func (t *Timer) Start(ctx context.Context) { t.loop.Run(ctx) }

// Stop ends the sweep loop.
func (t *Timer) Stop() { t.loop.Stop() }

// ReleaseExpired runs one sweep and returns how many escrows it released.
func (t *Timer) ReleaseExpired(ctx context.Context) int {
	if !t.Enabled() {
		return 0
	}
	expired, err := t.service.Store().ListHeldBefore(ctx, t.now().Add(-t.after), t.batch)
	if err != nil {
		t.logger.Warn("failed to list expired escrows", "error", err)
		return 0
	}

	released := 0
	for _, e := range expired {
		if _, err := t.service.Release(ctx, e.OrderID, SystemActor); err != nil {
			// Lost a race with the buyer, an admin, or a dispute.
			if errors.Is(err, ErrNotHeld) || errors.Is(err, ErrInvalidOrderState) {
				t.logger.Debug("skipping escrow settled elsewhere", "order_id", e.OrderID, "error", err)
				continue
			}
			t.logger.Warn("failed to auto-release escrow",
				"order_id", e.OrderID,
				"error", err,
			)
			continue
		}
		released++
		autoReleased.Inc()
		t.logger.Info("auto-released escrow",
			"order_id", e.OrderID,
			"seller_id", e.SellerID,
			"amount_minor", e.AmountMinor,
		)
	}
	return released
}
