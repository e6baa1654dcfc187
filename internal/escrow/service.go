package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wiredan/wiredan/internal/fees"
	"github.com/wiredan/wiredan/internal/idgen"
	"github.com/wiredan/wiredan/internal/ledger"
	"github.com/wiredan/wiredan/internal/logging"
	"github.com/wiredan/wiredan/internal/orders"
	"github.com/wiredan/wiredan/internal/paystack"
	"github.com/wiredan/wiredan/internal/traces"
)

// Gateway is the payment provider as the engine sees it.
type Gateway interface {
	Initialize(ctx context.Context, req paystack.InitializeRequest) (*paystack.InitResult, error)
	Verify(ctx context.Context, reference string) (*paystack.PaymentResult, error)
	Refund(ctx context.Context, reference string, amountMinor int64) (*paystack.RefundResult, error)
}

// OrderReader loads orders.
type OrderReader interface {
	Get(ctx context.Context, id string) (*orders.Order, error)
}

// Notifier pushes order status changes to live subscribers.
type Notifier interface {
	NotifyOrder(orderID, event string, data any)
}

// Service implements the escrow lifecycle.
type Service struct {
	store    Store
	orders   OrderReader
	gateway  Gateway
	fees     fees.Schedule
	notifier Notifier
	payouts  ledger.Store // non-nil when refunds are sent back to the card
	logger   *slog.Logger
}

// NewService creates a new escrow service.
func NewService(store Store, orderReader OrderReader, gateway Gateway, schedule fees.Schedule) *Service {
	return &Service{
		store:   store,
		orders:  orderReader,
		gateway: gateway,
		fees:    schedule,
		logger:  slog.Default(),
	}
}

// WithNotifier publishes status changes to live order streams.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// WithLogger sets the logger used outside request scope.
func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = l
	return s
}

// WithProviderRefunds makes Refund return the principal to the buyer's card
// after crediting it, debiting the buyer's account once the provider
// accepts.
func (s *Service) WithProviderRefunds(ledgerStore ledger.Store) *Service {
	s.payouts = ledgerStore
	return s
}

// Store exposes the store for the timer and reconciler wiring.
func (s *Service) Store() Store { return s.store }

// log prefers the request logger; background callers get the service's.
func (s *Service) log(ctx context.Context) *slog.Logger {
	if logging.RequestID(ctx) == "" {
		ctx = logging.WithLogger(ctx, s.logger)
	}
	return logging.L(ctx)
}

func (s *Service) notify(orderID, event string, e *Escrow) {
	if s.notifier == nil || e == nil {
		return
	}
	s.notifier.NotifyOrder(orderID, event, e)
}

// InitResult is what the buyer needs to complete checkout.
type InitResult struct {
	RedirectURL string  `json:"redirect_url"`
	Reference   string  `json:"reference"`
	Escrow      *Escrow `json:"escrow"`
}

// InitEscrow opens a checkout for the order's total plus the buyer fee.
// The provider is called before anything is written locally.
func (s *Service) InitEscrow(ctx context.Context, orderID, buyerEmail string, actor Actor) (_ *InitResult, err error) {
	ctx, span := traces.StartSpan(ctx, "escrow.InitEscrow", traces.OrderID(orderID), traces.Actor(actor.ID))
	defer func() { traces.End(span, err) }()
	defer observe("init", time.Now(), &err)

	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.Admin && actor.ID != o.BuyerID {
		return nil, ErrForbidden
	}
	if cur, gerr := s.store.Get(ctx, orderID); gerr == nil && !cur.IsTerminal() {
		return nil, ErrDuplicateEscrow
	} else if gerr != nil && !errors.Is(gerr, ErrEscrowNotFound) {
		return nil, gerr
	}
	if o.Status != orders.StatusCreated {
		return nil, ErrInvalidOrderState
	}

	quote, err := s.fees.Quote(o.TotalMinor)
	if err != nil {
		return nil, err
	}
	reference := idgen.WithPrefix("esc_")

	checkout, err := s.gateway.Initialize(ctx, paystack.InitializeRequest{
		Email:       strings.TrimSpace(buyerEmail),
		AmountMinor: quote.TotalCharge,
		Currency:    o.Currency,
		Reference:   reference,
		Metadata: paystack.Metadata{
			OrderID:  o.ID,
			BuyerID:  o.BuyerID,
			SellerID: o.SellerID,
			Type:     paystack.MetadataTypeEscrow,
			BuyerFee: quote.BuyerFee,
		},
	})
	if err != nil {
		return nil, err
	}

	e := &Escrow{
		ID:                idgen.WithPrefix("escrow_"),
		OrderID:           o.ID,
		BuyerID:           o.BuyerID,
		SellerID:          o.SellerID,
		AmountMinor:       quote.Amount,
		BuyerFeeMinor:     quote.BuyerFee,
		Currency:          o.Currency,
		Status:            StatusPending,
		ProviderReference: checkout.Reference,
		CreatedAt:         time.Now(),
		UpdatedAt:         time.Now(),
	}
	if err := s.store.CreatePending(ctx, e, actor.ID); err != nil {
		// The provider transaction is orphaned; it expires unpaid.
		s.log(ctx).Warn("escrow init: provider transaction opened but not recorded",
			"order_id", orderID, "reference", checkout.Reference, "error", err)
		return nil, err
	}

	s.log(ctx).Info("escrow initialized",
		"order_id", orderID, "reference", e.ProviderReference,
		"amount_minor", e.AmountMinor, "buyer_fee_minor", e.BuyerFeeMinor)
	s.notify(orderID, "escrow.pending", e)
	return &InitResult{RedirectURL: checkout.AuthorizationURL, Reference: e.ProviderReference, Escrow: e}, nil
}

// ConfirmHeld records that the provider captured the charge. The amount
// must equal the expected charge exactly; a mismatch is written to the
// order timeline and not applied. A second confirmation of the same
// reference succeeds with applied=false.
func (s *Service) ConfirmHeld(ctx context.Context, orderID, reference string, amountMinor int64) (_ *Escrow, applied bool, err error) {
	ctx, span := traces.StartSpan(ctx, "escrow.ConfirmHeld",
		traces.OrderID(orderID), traces.Reference(reference), traces.AmountMinor(amountMinor))
	defer func() { traces.End(span, err) }()
	defer observe("confirm", time.Now(), &err)

	e, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, false, err
	}
	if e.ProviderReference != reference {
		s.log(ctx).Error("payment confirmation for unknown reference",
			"order_id", orderID, "reference", reference, "current_reference", e.ProviderReference)
		return nil, false, ErrReferenceMismatch
	}
	switch e.Status {
	case StatusHeld:
		return e, false, nil
	case StatusReleased, StatusRefunded:
		return nil, false, ErrAlreadySettled
	}

	if amountMinor != e.ExpectedCharge() {
		note := fmt.Sprintf("payment %s rejected: paid %d, expected %d", reference, amountMinor, e.ExpectedCharge())
		if nerr := s.store.RecordNote(ctx, orderID, "provider", note); nerr != nil {
			return nil, false, nerr
		}
		amountMismatches.Inc()
		s.log(ctx).Warn("payment amount mismatch",
			"order_id", orderID, "reference", reference, "paid", amountMinor, "expected", e.ExpectedCharge())
		return nil, false, ErrAmountMismatch
	}

	held, applied, err := s.store.MarkHeld(ctx, orderID, reference, "payment confirmed: "+reference)
	if err != nil {
		return nil, false, err
	}
	if applied {
		s.log(ctx).Info("escrow held", "order_id", orderID, "reference", reference)
		s.notify(orderID, "escrow.held", held)
	}
	return held, applied, nil
}

// FailPending discards a pending escrow after the provider reported the
// charge failed, so the buyer can start a new checkout.
func (s *Service) FailPending(ctx context.Context, orderID, reference, reason string) (err error) {
	ctx, span := traces.StartSpan(ctx, "escrow.FailPending", traces.OrderID(orderID), traces.Reference(reference))
	defer func() { traces.End(span, err) }()
	defer observe("fail", time.Now(), &err)

	note := "payment failed: " + reference
	if reason != "" {
		note += " (" + reason + ")"
	}
	if err := s.store.DiscardPending(ctx, orderID, reference, note); err != nil {
		return err
	}
	s.log(ctx).Info("pending escrow discarded", "order_id", orderID, "reference", reference, "reason", reason)
	s.notify(orderID, "escrow.failed", &Escrow{OrderID: orderID, ProviderReference: reference, Status: StatusPending})
	return nil
}

// Release pays the seller. The buyer confirms receipt, or an admin acts on
// their behalf; the auto-release timer uses SystemActor.
func (s *Service) Release(ctx context.Context, orderID string, actor Actor) (*Escrow, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.Admin && actor.ID != o.BuyerID {
		return nil, ErrForbidden
	}
	switch o.Status {
	case orders.StatusPaidEscrow:
	case orders.StatusDisputed:
		return nil, ErrInvalidOrderState
	default:
		return nil, ErrNotHeld
	}
	return s.settle(ctx, o, StatusReleased, actor, "", "released by "+actor.ID)
}

// Refund returns the principal to the buyer. Admin only. The buyer fee is
// not refunded.
func (s *Service) Refund(ctx context.Context, orderID string, actor Actor) (*Escrow, error) {
	if !actor.Admin {
		return nil, ErrForbidden
	}
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	var resolution Resolution
	switch o.Status {
	case orders.StatusPaidEscrow:
	case orders.StatusDisputed:
		resolution = ResolveRefund
	default:
		return nil, ErrNotHeld
	}
	return s.settle(ctx, o, StatusRefunded, actor, resolution, "refunded by "+actor.ID)
}

// OpenDispute freezes a held escrow until an admin resolves it. Only the
// order's buyer or seller can open one.
func (s *Service) OpenDispute(ctx context.Context, orderID, reason string, actor Actor) (_ *Dispute, err error) {
	defer observe("dispute_open", time.Now(), &err)

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !o.IsParticipant(actor.ID) {
		return nil, ErrForbidden
	}
	if o.Status != orders.StatusPaidEscrow {
		return nil, ErrInvalidOrderState
	}

	d := &Dispute{
		OrderID:  orderID,
		Reason:   reason,
		OpenedBy: actor.ID,
		OpenedAt: time.Now(),
	}
	if err := s.store.OpenDispute(ctx, d); err != nil {
		return nil, err
	}
	disputesOpened.Inc()
	s.log(ctx).Info("dispute opened", "order_id", orderID, "opened_by", actor.ID)
	if e, gerr := s.store.Get(ctx, orderID); gerr == nil {
		s.notify(orderID, "order.disputed", e)
	}
	return d, nil
}

// ResolveDispute settles a disputed order either way. Admin only.
func (s *Service) ResolveDispute(ctx context.Context, orderID string, action Resolution, actor Actor) (*Escrow, error) {
	if !actor.Admin {
		return nil, ErrForbidden
	}
	if !action.Valid() {
		return nil, ErrInvalidAction
	}
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != orders.StatusDisputed {
		return nil, ErrInvalidOrderState
	}

	to := StatusReleased
	if action == ResolveRefund {
		to = StatusRefunded
	}
	return s.settle(ctx, o, to, actor, action, "dispute resolved: "+string(action))
}

// settle moves a held escrow to a terminal status and credits the winner
// in one store operation.
func (s *Service) settle(ctx context.Context, o *orders.Order, to Status, actor Actor, resolution Resolution, note string) (_ *Escrow, err error) {
	op := "release"
	if to == StatusRefunded {
		op = "refund"
	}
	ctx, span := traces.StartSpan(ctx, "escrow."+op, traces.OrderID(o.ID), traces.Actor(actor.ID))
	defer func() { traces.End(span, err) }()
	defer observe(op, time.Now(), &err)
	ctx = logging.WithOrder(ctx, o.ID)

	e, err := s.store.Get(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	if e.Status != StatusHeld {
		return nil, ErrNotHeld
	}

	st := Settlement{
		OrderID:    o.ID,
		To:         to,
		OrderFrom:  o.Status,
		Actor:      actor.ID,
		Note:       note,
		Resolution: resolution,
	}
	credit := ledger.Credit{
		Currency:  e.Currency,
		OrderID:   o.ID,
		Reference: e.ProviderReference,
	}
	if to == StatusReleased {
		st.SellerFeeMinor = fees.SellerFee(e.AmountMinor, s.fees.Seller)
		credit.OwnerUserID = e.SellerID
		credit.AmountMinor = e.AmountMinor - st.SellerFeeMinor
		credit.Type = ledger.EntryEscrowRelease
	} else {
		credit.OwnerUserID = e.BuyerID
		credit.AmountMinor = e.AmountMinor
		credit.Type = ledger.EntryEscrowRefund
	}
	if credit.AmountMinor > 0 {
		st.Credit = &credit
	}

	settled, err := s.store.Settle(ctx, st)
	if errors.Is(err, ledger.ErrDuplicateEntry) {
		// Another settlement already credited this order.
		return nil, ErrNotHeld
	}
	if err != nil {
		return nil, err
	}

	settledMinor.WithLabelValues(string(to), settled.Currency).Add(float64(credit.AmountMinor))
	if resolution != "" {
		disputesResolved.WithLabelValues(string(resolution)).Inc()
	}
	s.log(ctx).Info("escrow settled",
		"status", to, "by", actor.ID,
		"credited", credit.OwnerUserID, "amount_minor", credit.AmountMinor,
		"seller_fee_minor", st.SellerFeeMinor)
	s.notify(o.ID, "escrow."+string(to), settled)

	if to == StatusRefunded && s.payouts != nil && st.Credit != nil {
		s.refundToCard(ctx, settled, credit)
	}
	return settled, nil
}

// refundToCard asks the provider to return the principal and, once
// accepted, debits the buyer's account by the same amount. Failures are
// logged and leave the credit in the buyer's account.
func (s *Service) refundToCard(ctx context.Context, e *Escrow, credit ledger.Credit) {
	ctx = context.WithoutCancel(ctx)
	if _, err := s.gateway.Refund(ctx, e.ProviderReference, credit.AmountMinor); err != nil {
		providerRefunds.WithLabelValues("failed").Inc()
		s.log(ctx).Error("provider refund failed; amount stays in buyer account",
			"reference", e.ProviderReference, "error", err)
		return
	}

	debit := credit
	debit.Type = ledger.EntryRefundPayout
	if _, err := s.payouts.Debit(ctx, debit); err != nil {
		providerRefunds.WithLabelValues("debit_failed").Inc()
		s.log(ctx).Error("provider refund accepted but buyer debit failed",
			"reference", e.ProviderReference, "error", err)
		return
	}
	providerRefunds.WithLabelValues("accepted").Inc()
}

// VerifyOutcome is what a manual verification did.
type VerifyOutcome string

const (
	OutcomeHeld      VerifyOutcome = "held"
	OutcomeFailed    VerifyOutcome = "failed"
	OutcomePending   VerifyOutcome = "pending"
	OutcomeUnchanged VerifyOutcome = "unchanged"
)

// VerifyResult reports the escrow after verification.
type VerifyResult struct {
	Escrow         *Escrow       `json:"escrow,omitempty"`
	Outcome        VerifyOutcome `json:"outcome"`
	Applied        bool          `json:"applied"`
	ProviderStatus string        `json:"providerStatus,omitempty"`
}

// Verify asks the provider for the authoritative status of a pending
// escrow and applies it. Used by the checkout callback and the reconciler
// when a webhook never arrived.
func (s *Service) Verify(ctx context.Context, reference string, actor Actor) (vr *VerifyResult, err error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Verify", traces.Reference(reference), traces.Actor(actor.ID))
	defer func() {
		if vr != nil {
			span.SetAttributes(traces.Outcome(string(vr.Outcome)))
		}
		traces.End(span, err)
	}()

	e, err := s.store.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if !actor.Admin && actor.ID != e.BuyerID && actor.ID != e.SellerID {
		return nil, ErrForbidden
	}
	if e.Status != StatusPending {
		return &VerifyResult{Escrow: e, Outcome: OutcomeUnchanged}, nil
	}

	res, err := s.gateway.Verify(ctx, reference)
	if err != nil {
		return nil, err
	}
	if res.Metadata.OrderID != "" && res.Metadata.OrderID != e.OrderID {
		return nil, ErrReferenceMismatch
	}

	switch {
	case res.Status.Succeeded():
		held, applied, err := s.ConfirmHeld(ctx, e.OrderID, reference, res.AmountMinor)
		if err != nil {
			return nil, err
		}
		return &VerifyResult{Escrow: held, Outcome: OutcomeHeld, Applied: applied, ProviderStatus: string(res.Status)}, nil
	case res.Status.Failed():
		if err := s.FailPending(ctx, e.OrderID, reference, string(res.Status)); err != nil {
			return nil, err
		}
		return &VerifyResult{Outcome: OutcomeFailed, Applied: true, ProviderStatus: string(res.Status)}, nil
	default:
		return &VerifyResult{Escrow: e, Outcome: OutcomePending, ProviderStatus: string(res.Status)}, nil
	}
}

// Get returns the order's escrow.
func (s *Service) Get(ctx context.Context, orderID string) (*Escrow, error) {
	return s.store.Get(ctx, orderID)
}

// GetByReference returns the escrow for a provider reference.
func (s *Service) GetByReference(ctx context.Context, reference string) (*Escrow, error) {
	return s.store.GetByReference(ctx, reference)
}

// Disputes returns the order's dispute history.
func (s *Service) Disputes(ctx context.Context, orderID string) ([]*Dispute, error) {
	return s.store.Disputes(ctx, orderID)
}

// EscrowSummary implements orders.EscrowView.
func (s *Service) EscrowSummary(ctx context.Context, orderID string) (*orders.EscrowSummary, error) {
	e, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &orders.EscrowSummary{
		Status:            string(e.Status),
		AmountMinor:       e.AmountMinor,
		BuyerFeeMinor:     e.BuyerFeeMinor,
		ProviderReference: e.ProviderReference,
		UpdatedAt:         e.UpdatedAt,
	}, nil
}
