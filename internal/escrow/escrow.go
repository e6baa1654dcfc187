// Package escrow holds a buyer's payment between checkout and settlement.
//
// Flow:
//  1. Buyer initializes payment → escrow pending, order pending
//  2. Provider confirms the charge (webhook or verify) → escrow held, order paid_escrow
//  3. Buyer confirms receipt, admin resolves, or the hold times out → released, seller credited
//  4. Either party disputes → order disputed; only an admin can settle it
//  5. Admin refund → refunded, buyer credited with the principal
//
// Ledger balances move only at step 3 or 5, exactly once per order, in the
// same store operation that moves the escrow out of held.
package escrow

import (
	"context"
	"time"

	"github.com/wiredan/wiredan/internal/apperr"
	"github.com/wiredan/wiredan/internal/ledger"
	"github.com/wiredan/wiredan/internal/orders"
)

var (
	ErrEscrowNotFound    = apperr.New(apperr.NotFound, "escrow_not_found", "escrow not found")
	ErrDuplicateEscrow   = apperr.New(apperr.Precondition, "duplicate_escrow", "order already has an active escrow")
	ErrInvalidOrderState = apperr.New(apperr.Precondition, "invalid_order_state", "order status does not allow this operation")
	ErrNotHeld           = apperr.New(apperr.Precondition, "escrow_not_held", "escrow is not holding funds")
	ErrNotPending        = apperr.New(apperr.Precondition, "escrow_not_pending", "escrow is not awaiting payment")
	ErrAlreadySettled    = apperr.New(apperr.Precondition, "escrow_already_settled", "escrow already released or refunded")
	ErrAmountMismatch    = apperr.New(apperr.Precondition, "amount_mismatch", "paid amount does not match the expected charge")
	ErrReferenceMismatch = apperr.New(apperr.Precondition, "reference_mismatch", "payment reference does not belong to this escrow")
	ErrForbidden         = apperr.New(apperr.Forbidden, "forbidden", "not allowed to perform this escrow operation")
	ErrInvalidAction     = apperr.New(apperr.Validation, "invalid_action", "action must be release or refund")
	ErrReasonRequired    = apperr.New(apperr.Validation, "reason_required", "a dispute reason is required")
)

// Status represents the state of an escrow.
type Status string

const (
	StatusPending  Status = "pending"  // Checkout opened, awaiting provider confirmation
	StatusHeld     Status = "held"     // Funds captured, not yet credited to anyone
	StatusReleased Status = "released" // Seller credited with the payout
	StatusRefunded Status = "refunded" // Buyer credited with the principal
)

// IsTerminal returns true for released and refunded.
func (s Status) IsTerminal() bool {
	return s == StatusReleased || s == StatusRefunded
}

// Escrow is the payment record attached to one order.
type Escrow struct {
	ID                string    `json:"id"`
	OrderID           string    `json:"orderId"`
	BuyerID           string    `json:"buyerId"`
	SellerID          string    `json:"sellerId"`
	AmountMinor       int64     `json:"amountMinor"` // order total (principal)
	BuyerFeeMinor     int64     `json:"buyerFeeMinor"`
	SellerFeeMinor    int64     `json:"sellerFeeMinor"` // set at release
	Currency          string    `json:"currency"`
	Status            Status    `json:"status"`
	ProviderReference string    `json:"providerReference"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// ExpectedCharge is what the provider must report as paid.
func (e *Escrow) ExpectedCharge() int64 {
	return e.AmountMinor + e.BuyerFeeMinor
}

// IsTerminal returns true if the escrow is in a final state.
func (e *Escrow) IsTerminal() bool { return e.Status.IsTerminal() }

// Actor is whoever asks for an operation.
type Actor struct {
	ID    string
	Admin bool
}

// SystemActor is used by the auto-release timer and the reconciler.
var SystemActor = Actor{ID: "system", Admin: true}

// Resolution is an admin's dispute decision.
type Resolution string

const (
	ResolveRelease Resolution = "release"
	ResolveRefund  Resolution = "refund"
)

// Valid reports whether r is release or refund.
func (r Resolution) Valid() bool { return r == ResolveRelease || r == ResolveRefund }

// Dispute is the append-only record of a contested order.
type Dispute struct {
	ID         string     `json:"id"`
	OrderID    string     `json:"orderId"`
	Reason     string     `json:"reason"`
	OpenedBy   string     `json:"openedBy"`
	OpenedAt   time.Time  `json:"openedAt"`
	Resolution Resolution `json:"resolution,omitempty"`
	ResolvedBy string     `json:"resolvedBy,omitempty"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

// Settlement moves a held escrow to a terminal status.
type Settlement struct {
	OrderID        string
	To             Status        // released or refunded
	OrderFrom      orders.Status // paid_escrow or disputed
	SellerFeeMinor int64
	Credit         *ledger.Credit // nil when the payout rounds to zero
	Actor          string
	Note           string
	Resolution     Resolution // stamped on the open dispute when OrderFrom is disputed
}

// orderTo maps the escrow's terminal status onto the order's.
func (s Settlement) orderTo() orders.Status {
	if s.To == StatusRefunded {
		return orders.StatusRefunded
	}
	return orders.StatusReleased
}

// Store persists escrows. Every mutating method is atomic across the
// escrow, order, ledger and dispute rows it touches, and uses the current
// status as the guard so concurrent callers cannot both succeed.
type Store interface {
	// CreatePending inserts a pending escrow and moves the order
	// created → pending. ErrDuplicateEscrow if the order already has a
	// non-terminal escrow.
	CreatePending(ctx context.Context, e *Escrow, actor string) error
	// Get returns the order's active escrow, or its most recent one.
	Get(ctx context.Context, orderID string) (*Escrow, error)
	GetByReference(ctx context.Context, reference string) (*Escrow, error)
	// MarkHeld moves pending → held and the order pending → paid_escrow.
	// applied is false when the escrow was already held.
	MarkHeld(ctx context.Context, orderID, reference, note string) (e *Escrow, applied bool, err error)
	// DiscardPending deletes a pending escrow and returns the order to created.
	DiscardPending(ctx context.Context, orderID, reference, note string) error
	// Settle moves held → s.To, moves the order and applies the credit.
	Settle(ctx context.Context, s Settlement) (*Escrow, error)
	// OpenDispute moves the order paid_escrow → disputed and records d.
	OpenDispute(ctx context.Context, d *Dispute) error
	Disputes(ctx context.Context, orderID string) ([]*Dispute, error)
	// RecordNote appends a note to the order timeline without a transition.
	RecordNote(ctx context.Context, orderID, actor, note string) error
	// ListHeldBefore returns held escrows last updated before cutoff whose
	// order is not disputed.
	ListHeldBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Escrow, error)
	// ListPendingBefore returns pending escrows created before cutoff.
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Escrow, error)
}
