// Package orders stores marketplace orders and their audit trail.
//
// An order is immutable except for its status. Status moves along a closed
// graph; every move (and every rejected payment event worth keeping) writes
// an Event row so the order's history can be replayed as a timeline.
//
//	created --> pending --> paid_escrow --> released
//	   ^           |            |    \
//	   +-----------+            |     +--> disputed --> released | refunded
//	                            +--> refunded
package orders

import (
	"context"
	"time"

	"github.com/wiredan/wiredan/internal/apperr"
	"github.com/wiredan/wiredan/internal/pagination"
)

var (
	ErrOrderNotFound     = apperr.New(apperr.NotFound, "order_not_found", "order not found")
	ErrInvalidQuantity   = apperr.New(apperr.Validation, "invalid_quantity", "quantity must be positive and not exceed the listing quantity")
	ErrSelfPurchase      = apperr.New(apperr.Validation, "self_purchase", "buyer and seller cannot be the same user")
	ErrInvalidTransition = apperr.New(apperr.Precondition, "invalid_transition", "order status does not allow this transition")
	ErrNotParticipant    = apperr.New(apperr.Forbidden, "forbidden", "not a participant of this order")
)

// Status is the order lifecycle state.
type Status string

const (
	StatusCreated    Status = "created"
	StatusPending    Status = "pending" // payment initialized, awaiting provider
	StatusPaidEscrow Status = "paid_escrow"
	StatusDisputed   Status = "disputed"
	StatusReleased   Status = "released"
	StatusRefunded   Status = "refunded"
)

var transitions = map[Status][]Status{
	StatusCreated:    {StatusPending},
	StatusPending:    {StatusPaidEscrow, StatusCreated},
	StatusPaidEscrow: {StatusReleased, StatusRefunded, StatusDisputed},
	StatusDisputed:   {StatusReleased, StatusRefunded},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusPending, StatusPaidEscrow, StatusDisputed, StatusReleased, StatusRefunded:
		return true
	}
	return false
}

// IsTerminal returns true if the order is in a final state.
func (s Status) IsTerminal() bool {
	return s == StatusReleased || s == StatusRefunded
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Order is a buyer's purchase of a listing.
type Order struct {
	ID         string    `json:"id"`
	ListingID  string    `json:"listingId"`
	BuyerID    string    `json:"buyerId"`
	SellerID   string    `json:"sellerId"`
	Quantity   int64     `json:"quantity"`
	TotalMinor int64     `json:"totalMinor"`
	Currency   string    `json:"currency"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// IsParticipant reports whether userID is the buyer or the seller.
func (o *Order) IsParticipant(userID string) bool {
	return userID != "" && (o.BuyerID == userID || o.SellerID == userID)
}

// Event is one row of the order's audit trail. A note-only event has
// From == To.
type Event struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"orderId"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Actor     string    `json:"actor"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Transition is a requested status change.
type Transition struct {
	OrderID string
	From    Status
	To      Status
	Actor   string
	Note    string
}

// Store persists orders and events.
type Store interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	ListForUser(ctx context.Context, userID string, after *pagination.Cursor, limit int) ([]*Order, error)
	// Transition moves the order from t.From to t.To if it is still in
	// t.From, and appends the event. Returns ErrInvalidTransition otherwise.
	Transition(ctx context.Context, t Transition) (*Order, error)
	AppendNote(ctx context.Context, orderID, actor, note string) error
	Events(ctx context.Context, orderID string) ([]*Event, error)
}
