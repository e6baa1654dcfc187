// Package reconciliation settles pending escrows whose webhook never
// arrived by asking the provider for the authoritative status.
package reconciliation

import (
	"context"
	"log/slog"
	"time"

	"github.com/wiredan/wiredan/internal/escrow"
	"github.com/wiredan/wiredan/internal/paystack"
	"github.com/wiredan/wiredan/internal/retry"
)

// PendingLister lists escrows still awaiting payment.
type PendingLister interface {
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*escrow.Escrow, error)
}

// Verifier applies the provider's view of one reference.
type Verifier interface {
	Verify(ctx context.Context, reference string, actor escrow.Actor) (*escrow.VerifyResult, error)
}

// ItemError is one escrow the run could not verify.
type ItemError struct {
	OrderID   string `json:"orderId"`
	Reference string `json:"reference"`
	Error     string `json:"error"`
}

// Report summarizes one run.
type Report struct {
	StartedAt    time.Time     `json:"startedAt"`
	Duration     time.Duration `json:"duration"`
	Checked      int           `json:"checked"`
	Held         int           `json:"held"`
	Failed       int           `json:"failed"`
	StillPending int           `json:"stillPending"`
	Errors       []ItemError   `json:"errors,omitempty"`
}

// Service runs pending-payment reconciliation.
type Service struct {
	lister       PendingLister
	verifier     Verifier
	pendingAfter time.Duration
	batch        int
	policy       retry.Policy
	now          func() time.Time
	logger       *slog.Logger
}

// NewService creates a reconciler that checks escrows pending for longer
// than pendingAfter.
func NewService(lister PendingLister, verifier Verifier, pendingAfter time.Duration, logger *slog.Logger) *Service {
	return &Service{
		lister:       lister,
		verifier:     verifier,
		pendingAfter: pendingAfter,
		batch:        200,
		policy: retry.Policy{
			MaxAttempts: 3,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    5 * time.Second,
			Retryable:   paystack.IsTransient,
			OnRetry: func(attempt int, err error, wait time.Duration) {
				logger.Debug("reconciliation: retrying verify", "attempt", attempt, "wait", wait, "error", err)
			},
		},
		now:    time.Now,
		logger: logger,
	}
}

// Run verifies every stale pending escrow once. It returns an error only
// when the pending list itself cannot be read.
func (s *Service) Run(ctx context.Context) (*Report, error) {
	r := &Report{StartedAt: s.now()}
	defer func() {
		r.Duration = time.Since(r.StartedAt)
		reconcileDuration.Observe(r.Duration.Seconds())
		lastRun.SetToCurrentTime()
	}()

	pending, err := s.lister.ListPendingBefore(ctx, r.StartedAt.Add(-s.pendingAfter), s.batch)
	if err != nil {
		reconcileErrors.Inc()
		return nil, err
	}

	for _, e := range pending {
		if ctx.Err() != nil {
			break
		}
		r.Checked++

		res, err := retry.Value(ctx, s.policy, func() (*escrow.VerifyResult, error) {
			return s.verifier.Verify(ctx, e.ProviderReference, escrow.SystemActor)
		})
		if err != nil {
			r.Errors = append(r.Errors, ItemError{OrderID: e.OrderID, Reference: e.ProviderReference, Error: err.Error()})
			reconcileErrors.Inc()
			s.logger.Warn("reconciliation: verify failed",
				"order_id", e.OrderID, "reference", e.ProviderReference, "error", err)
			continue
		}

		switch res.Outcome {
		case escrow.OutcomeHeld:
			r.Held++
		case escrow.OutcomeFailed:
			r.Failed++
		case escrow.OutcomePending:
			r.StillPending++
		}
		reconcileOutcomes.WithLabelValues(string(res.Outcome)).Inc()
	}

	stillPending.Set(float64(r.StillPending))
	if r.Held+r.Failed > 0 || len(r.Errors) > 0 {
		s.logger.Info("reconciliation run complete",
			"checked", r.Checked, "held", r.Held, "failed", r.Failed,
			"still_pending", r.StillPending, "errors", len(r.Errors))
	}
	return r, nil
}
