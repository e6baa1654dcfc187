package escrow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/wiredan/wiredan/internal/apperr"
	"github.com/wiredan/wiredan/internal/ledger"
	"github.com/wiredan/wiredan/internal/orders"
	"github.com/wiredan/wiredan/internal/paystack"
)

func TestInitChargesTotalAndHoldsPrincipal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	o := env.placeOrder(t, 10000)

	res, err := env.svc.InitEscrow(ctx, o.ID, "buyer@example.com", buyer)
	if err != nil {
		t.Fatalf("InitEscrow failed: %v", err)
	}
	if res.RedirectURL == "" || !strings.HasPrefix(res.Reference, "esc_") {
		t.Fatalf("unexpected init result: %+v", res)
	}

	req := env.gw.lastInit()
	if req.AmountMinor != 10200 {
		t.Errorf("charged %d, want 10200", req.AmountMinor)
	}
	if req.Metadata.BuyerFee != 200 || req.Metadata.Type != paystack.MetadataTypeEscrow || req.Metadata.OrderID != o.ID {
		t.Errorf("unexpected metadata: %+v", req.Metadata)
	}
	if got := env.orderStatus(t, o.ID); got != orders.StatusPending {
		t.Errorf("order status = %s, want pending", got)
	}

	e, applied, err := env.svc.ConfirmHeld(ctx, o.ID, res.Reference, 10200)
	if err != nil {
		t.Fatalf("ConfirmHeld failed: %v", err)
	}
	if !applied {
		t.Error("first confirmation should apply")
	}
	if e.Status != StatusHeld || e.AmountMinor != 10000 || e.BuyerFeeMinor != 200 {
		t.Errorf("unexpected escrow: %+v", e)
	}
	if got := env.orderStatus(t, o.ID); got != orders.StatusPaidEscrow {
		t.Errorf("order status = %s, want paid_escrow", got)
	}
	if n := len(env.entries(t, o.ID)); n != 0 {
		t.Errorf("holding must not credit anyone, got %d entries", n)
	}
}

func TestReleaseCreditsSellerPayout(t *testing.T) {
	env := newTestEnv(t)
	o, _ := env.holdOrder(t, 10000)

	e, err := env.svc.Release(context.Background(), o.ID, buyer)
	if err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if e.Status != StatusReleased || e.SellerFeeMinor != 200 {
		t.Errorf("unexpected escrow: %+v", e)
	}
	if got := env.balance(t, seller.ID); got != 9800 {
		t.Errorf("seller balance = %d, want 9800", got)
	}
	if got := env.balance(t, buyer.ID); got != 0 {
		t.Errorf("buyer balance = %d, want 0", got)
	}
	if got := env.orderStatus(t, o.ID); got != orders.StatusReleased {
		t.Errorf("order status = %s, want released", got)
	}
}

func TestRefundCreditsBuyerPrincipal(t *testing.T) {
	env := newTestEnv(t)
	o, _ := env.holdOrder(t, 10000)

	e, err := env.svc.Refund(context.Background(), o.ID, admin)
	if err != nil {
		t.Fatalf("Refund failed: %v", err)
	}
	if e.Status != StatusRefunded {
		t.Errorf("status = %s, want refunded", e.Status)
	}
	if got := env.balance(t, buyer.ID); got != 10000 {
		t.Errorf("buyer balance = %d, want 10000", got)
	}
	if got := env.balance(t, seller.ID); got != 0 {
		t.Errorf("seller must not be credited, got %d", got)
	}
	if got := env.orderStatus(t, o.ID); got != orders.StatusRefunded {
		t.Errorf("order status = %s, want refunded", got)
	}
	if len(env.gw.refunds) != 0 {
		t.Errorf("provider refunds are off by default, got %v", env.gw.refunds)
	}
}

func TestConfirmAfterReleaseIsIgnored(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	o, e := env.holdOrder(t, 10000)
	if _, err := env.svc.Release(ctx, o.ID, buyer); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	_, applied, err := env.svc.ConfirmHeld(ctx, o.ID, e.ProviderReference, 10200)
	if !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled, got %v", err)
	}
	if applied {
		t.Error("must not apply")
	}
	if got := env.balance(t, seller.ID); got != 9800 {
		t.Errorf("seller balance changed: %d", got)
	}
}

func TestReleaseOnPendingFailsNotHeld(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	o := env.placeOrder(t, 10000)
	if _, err := env.svc.InitEscrow(ctx, o.ID, "buyer@example.com", buyer); err != nil {
		t.Fatalf("InitEscrow failed: %v", err)
	}

	_, err := env.svc.Release(ctx, o.ID, buyer)
	if !errors.Is(err, ErrNotHeld) {
		t.Fatalf("expected ErrNotHeld, got %v", err)
	}
	if apperr.KindOf(err) != apperr.Precondition {
		t.Errorf("kind = %v, want precondition", apperr.KindOf(err))
	}
	if n := len(env.entries(t, o.ID)); n != 0 {
		t.Errorf("no ledger mutation expected, got %d entries", n)
	}
}

func TestConfirmHeld_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	o, e := env.holdOrder(t, 5000)

	before, _ := env.orders.Events(ctx, o.ID)
	again, applied, err := env.svc.ConfirmHeld(ctx, o.ID, e.ProviderReference, e.ExpectedCharge())
	if err != nil {
		t.Fatalf("duplicate confirmation should succeed: %v", err)
	}
	if applied {
		t.Error("duplicate confirmation must report applied=false")
	}
	if again.Status != StatusHeld {
		t.Errorf("status = %s", again.Status)
	}
	after, _ := env.orders.Events(ctx, o.ID)
	if len(after) != len(before) {
		t.Errorf("duplicate confirmation wrote %d timeline events", len(after)-len(before))
	}
}

func TestConfirmHeld_AmountMismatchRecordedNotApplied(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	o := env.placeOrder(t, 10000)
	res, _ := env.svc.InitEscrow(ctx, o.ID, "buyer@example.com", buyer)

	_, _, err := env.svc.ConfirmHeld(ctx, o.ID, res.Reference, 10000)
	if !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", err)
	}

	e, _ := env.svc.Get(ctx, o.ID)
	if e.Status != StatusPending {
		t.Errorf("escrow status = %s, want pending", e.Status)
	}
	events, _ := env.orders.Events(ctx, o.ID)
	last := events[len(events)-1]
	if !strings.Contains(last.Note, "rejected") || last.From != last.To {
		t.Errorf("expected a rejection note on the timeline, got %+v", last)
	}
}

func TestConfirmHeld_UnknownReference(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	o := env.placeOrder(t, 10000)
	if _, err := env.svc.InitEscrow(ctx, o.ID, "buyer@example.com", buyer); err != nil {
		t.Fatal(err)
	}

	if _, _, err := env.svc.ConfirmHeld(ctx, o.ID, "esc_someoneelse", 10200); !errors.Is(err, ErrReferenceMismatch) {
		t.Errorf("expected ErrReferenceMismatch, got %v", err)
	}
	if _, _, err := env.svc.ConfirmHeld(ctx, "ord_missing", "esc_x", 10200); !errors.Is(err, ErrEscrowNotFound) {
		t.Errorf("expected ErrEscrowNotFound, got %v", err)
	}
}

func TestInitEscrow_Preconditions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	o := env.placeOrder(t, 10000)

	if _, err := env.svc.InitEscrow(ctx, o.ID, "x@example.com", seller); !errors.Is(err, ErrForbidden) {
		t.Errorf("seller init: expected ErrForbidden, got %v", err)
	}
	if _, err := env.svc.InitEscrow(ctx, "ord_missing", "x@example.com", buyer); !errors.Is(err, orders.ErrOrderNotFound) {
		t.Errorf("missing order: expected ErrOrderNotFound, got %v", err)
	}

	if _, err := env.svc.InitEscrow(ctx, o.ID, "buyer@example.com", buyer); err != nil {
		t.Fatalf("first init: %v", err)
	}
	if _, err := env.svc.InitEscrow(ctx, o.ID, "buyer@example.com", buyer); !errors.Is(err, ErrDuplicateEscrow) {
		t.Errorf("second init: expected ErrDuplicateEscrow, got %v", err)
	}
	if n := len(env.gw.inits); n != 1 {
		t.Errorf("provider initialized %d times, want 1", n)
	}
}

func TestInitEscrow_GatewayFailureWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	o := env.placeOrder(t, 10000)
	env.gw.initErr = &paystack.GatewayError{Op: "initialize", StatusCode: 400, Detail: "Invalid key"}

	_, err := env.svc.InitEscrow(ctx, o.ID, "buyer@example.com", buyer)
	if apperr.KindOf(err) != apperr.Gateway {
		t.Fatalf("expected gateway error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Invalid key") {
		t.Errorf("provider message should surface, got %q", err.Error())
	}
	if _, err := env.svc.Get(ctx, o.ID); !errors.Is(err, ErrEscrowNotFound) {
		t.Errorf("no escrow should exist, got %v", err)
	}
	if got := env.orderStatus(t, o.ID); got != orders.StatusCreated {
		t.Errorf("order status = %s, want created", got)
	}
}

func TestFailPending_AllowsRetry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	o := env.placeOrder(t, 10000)
	first, _ := env.svc.InitEscrow(ctx, o.ID, "buyer@example.com", buyer)

	if err := env.svc.FailPending(ctx, o.ID, first.Reference, "declined"); err != nil {
		t.Fatalf("FailPending failed: %v", err)
	}
	if got := env.orderStatus(t, o.ID); got != orders.StatusCreated {
		t.Errorf("order status = %s, want created", got)
	}
	if err := env.svc.FailPending(ctx, o.ID, first.Reference, "declined"); !errors.Is(err, ErrEscrowNotFound) {
		t.Errorf("second failure: expected ErrEscrowNotFound, got %v", err)
	}

	second, err := env.svc.InitEscrow(ctx, o.ID, "buyer@example.com", buyer)
	if err != nil {
		t.Fatalf("retry init failed: %v", err)
	}
	if second.Reference == first.Reference {
		t.Error("retry must use a fresh reference")
	}
	if _, _, err := env.svc.ConfirmHeld(ctx, o.ID, first.Reference, 10200); !errors.Is(err, ErrReferenceMismatch) {
		t.Errorf("late success for the failed reference: expected ErrReferenceMismatch, got %v", err)
	}
}

func TestFailPending_HeldEscrowUntouched(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	o, e := env.holdOrder(t, 10000)

	if err := env.svc.FailPending(ctx, o.ID, e.ProviderReference, "late failure"); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected ErrNotPending, got %v", err)
	}
	if got := env.orderStatus(t, o.ID); got != orders.StatusPaidEscrow {
		t.Errorf("order status = %s, want paid_escrow", got)
	}
}

func TestSettle_ConcurrentCallersCreditOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	o, _ := env.holdOrder(t, 10000)

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = env.svc.Release(ctx, o.ID, buyer)
			} else {
				_, err = env.svc.Refund(ctx, o.ID, admin)
			}
			if err == nil {
				successes.Add(1)
			} else if !errors.Is(err, ErrNotHeld) {
				t.Errorf("loser got %v, want ErrNotHeld", err)
			}
		}(i)
	}
	wg.Wait()

	if n := successes.Load(); n != 1 {
		t.Fatalf("%d settlements succeeded, want exactly 1", n)
	}
	entries := env.entries(t, o.ID)
	if len(entries) != 1 {
		t.Fatalf("got %d ledger entries, want 1", len(entries))
	}
	total := env.balance(t, buyer.ID) + env.balance(t, seller.ID)
	if total != 9800 && total != 10000 {
		t.Errorf("credited %d, want 9800 (release) or 10000 (refund)", total)
	}
}

func TestRefund_AdminOnly(t *testing.T) {
	env := newTestEnv(t)
	o, _ := env.holdOrder(t, 10000)

	for _, a := range []Actor{buyer, seller} {
		if _, err := env.svc.Refund(context.Background(), o.ID, a); !errors.Is(err, ErrForbidden) {
			t.Errorf("%s refund: expected ErrForbidden, got %v", a.ID, err)
		}
	}
}

func TestRelease_OnlyBuyerOrAdmin(t *testing.T) {
	env := newTestEnv(t)
	o, _ := env.holdOrder(t, 10000)

	if _, err := env.svc.Release(context.Background(), o.ID, seller); !errors.Is(err, ErrForbidden) {
		t.Errorf("seller release: expected ErrForbidden, got %v", err)
	}
	if _, err := env.svc.Release(context.Background(), o.ID, admin); err != nil {
		t.Errorf("admin release: %v", err)
	}
}

func TestProviderRefund_DebitsAfterAcceptance(t *testing.T) {
	env := newTestEnv(t)
	env.svc.WithProviderRefunds(env.ledger)
	o, e := env.holdOrder(t, 10000)

	if _, err := env.svc.Refund(context.Background(), o.ID, admin); err != nil {
		t.Fatalf("Refund failed: %v", err)
	}
	if len(env.gw.refunds) != 1 || env.gw.refunds[0] != e.ProviderReference+":10000" {
		t.Errorf("provider refunds = %v", env.gw.refunds)
	}
	if got := env.balance(t, buyer.ID); got != 0 {
		t.Errorf("buyer balance = %d, want 0 after card refund", got)
	}
	entries := env.entries(t, o.ID)
	if len(entries) != 2 || entries[1].Type != ledger.EntryRefundPayout {
		t.Errorf("unexpected entries: %+v", entries)
	}
}

func TestProviderRefund_FailureKeepsCredit(t *testing.T) {
	env := newTestEnv(t)
	env.svc.WithProviderRefunds(env.ledger)
	env.gw.refundErr = &paystack.GatewayError{Op: "refund", StatusCode: 503, Detail: "unavailable"}
	o, _ := env.holdOrder(t, 10000)

	e, err := env.svc.Refund(context.Background(), o.ID, admin)
	if err != nil {
		t.Fatalf("refund must commit even if the provider fails: %v", err)
	}
	if e.Status != StatusRefunded {
		t.Errorf("status = %s", e.Status)
	}
	if got := env.balance(t, buyer.ID); got != 10000 {
		t.Errorf("buyer balance = %d, want 10000", got)
	}
}

func TestEscrowSummary(t *testing.T) {
	env := newTestEnv(t)
	o, e := env.holdOrder(t, 10000)

	sum, err := env.svc.EscrowSummary(context.Background(), o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Status != "held" || sum.AmountMinor != 10000 || sum.BuyerFeeMinor != 200 || sum.ProviderReference != e.ProviderReference {
		t.Errorf("unexpected summary: %+v", sum)
	}

	if _, err := env.svc.EscrowSummary(context.Background(), "ord_none"); apperr.KindOf(err) != apperr.NotFound {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestPayoutRoundingToZeroSkipsCredit(t *testing.T) {
	env := newTestEnv(t)
	o, _ := env.holdOrder(t, 1)

	// 1 * 0.02 rounds to 0, so the seller receives the whole unit.
	if _, err := env.svc.Release(context.Background(), o.ID, buyer); err != nil {
		t.Fatal(err)
	}
	if got := env.balance(t, seller.ID); got != 1 {
		t.Errorf("seller balance = %d, want 1", got)
	}
}
