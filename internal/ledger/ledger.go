// Package ledger tracks per-user account balances in integer minor units.
//
// Balances only move through increment-by-delta operations, never through a
// read-modify-write of the balance column. Every movement writes one entry
// keyed by (order_id, type), so a second credit for the same order and
// purpose is refused by the store.
package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/wiredan/wiredan/internal/apperr"
)

var (
	ErrAccountNotFound     = apperr.New(apperr.NotFound, "account_not_found", "account not found")
	ErrInvalidAmount       = apperr.New(apperr.Validation, "invalid_amount", "amount must be a positive number of minor units")
	ErrInvalidCurrency     = apperr.New(apperr.Validation, "invalid_currency", "currency must be a 3-letter code")
	ErrInsufficientBalance = apperr.New(apperr.Precondition, "insufficient_balance", "operation would make the balance negative")
	ErrDuplicateEntry      = apperr.New(apperr.Precondition, "duplicate_entry", "ledger entry already recorded for this order")
)

// EntryType is the purpose of a ledger movement.
type EntryType string

const (
	EntryEscrowRelease EntryType = "escrow_release" // seller payout
	EntryEscrowRefund  EntryType = "escrow_refund"  // buyer principal returned
	EntryRefundPayout  EntryType = "refund_payout"  // refunded principal sent back to the card
)

// Valid reports whether t is a known entry type.
func (t EntryType) Valid() bool {
	switch t {
	case EntryEscrowRelease, EntryEscrowRefund, EntryRefundPayout:
		return true
	}
	return false
}

// IsDebit reports whether entries of this type decrease the balance.
func (t EntryType) IsDebit() bool { return t == EntryRefundPayout }

// Account is one user's balance in one currency.
type Account struct {
	ID           string    `json:"id"`
	OwnerUserID  string    `json:"ownerUserId"`
	Currency     string    `json:"currency"`
	BalanceMinor int64     `json:"balanceMinor"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Entry is an append-only record of one balance movement.
type Entry struct {
	ID           string    `json:"id"`
	AccountID    string    `json:"accountId"`
	OrderID      string    `json:"orderId"`
	Type         EntryType `json:"type"`
	AmountMinor  int64     `json:"amountMinor"`
	BalanceAfter int64     `json:"balanceAfter"`
	Reference    string    `json:"reference,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Credit describes a balance movement attributable to an order. AmountMinor
// is always positive; the entry type decides the direction.
type Credit struct {
	OwnerUserID string
	Currency    string
	AmountMinor int64
	OrderID     string
	Type        EntryType
	Reference   string // provider reference of the escrow
}

// Validate checks a credit before it reaches a store.
func (c Credit) Validate() error {
	if c.AmountMinor <= 0 {
		return ErrInvalidAmount
	}
	if len(c.Currency) != 3 {
		return ErrInvalidCurrency
	}
	if c.OwnerUserID == "" || c.OrderID == "" {
		return apperr.Validationf("credit requires owner and order")
	}
	if !c.Type.Valid() {
		return apperr.Validationf("unknown entry type %q", c.Type)
	}
	return nil
}

// Store persists accounts and entries.
type Store interface {
	// EnsureAccount returns the owner's account, creating it at zero.
	EnsureAccount(ctx context.Context, ownerUserID, currency string) (*Account, error)
	GetAccount(ctx context.Context, ownerUserID, currency string) (*Account, error)
	ListAccounts(ctx context.Context, ownerUserID string) ([]*Account, error)
	// Credit atomically increments the balance and records the entry.
	Credit(ctx context.Context, c Credit) (*Entry, error)
	// Debit atomically decrements an existing balance and records the entry
	// with a negative amount. It never takes a balance below zero.
	Debit(ctx context.Context, c Credit) (*Entry, error)
	ListEntries(ctx context.Context, accountID string, limit int) ([]*Entry, error)
	EntriesForOrder(ctx context.Context, orderID string) ([]*Entry, error)
}

// Ledger is the read side of account balances plus lazy account creation.
// Credits are applied by the escrow engine through the store directly so
// they can share the escrow transaction.
type Ledger struct {
	store Store
}

// New creates a new ledger
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// Store exposes the underlying store for the escrow engine wiring.
func (l *Ledger) Store() Store { return l.store }

// Open creates the owner's account if it does not exist yet.
func (l *Ledger) Open(ctx context.Context, ownerUserID, currency string) (*Account, error) {
	currency = strings.ToUpper(currency)
	if len(currency) != 3 {
		return nil, ErrInvalidCurrency
	}
	return l.store.EnsureAccount(ctx, ownerUserID, currency)
}

// Balance returns the owner's balance in currency; zero if no account yet.
func (l *Ledger) Balance(ctx context.Context, ownerUserID, currency string) (int64, error) {
	acct, err := l.store.GetAccount(ctx, ownerUserID, strings.ToUpper(currency))
	if errors.Is(err, ErrAccountNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return acct.BalanceMinor, nil
}

// Accounts lists the owner's accounts.
func (l *Ledger) Accounts(ctx context.Context, ownerUserID string) ([]*Account, error) {
	return l.store.ListAccounts(ctx, ownerUserID)
}

// History returns the newest entries for one of the owner's accounts.
func (l *Ledger) History(ctx context.Context, ownerUserID, currency string, limit int) ([]*Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	acct, err := l.store.GetAccount(ctx, ownerUserID, strings.ToUpper(currency))
	if err != nil {
		return nil, err
	}
	return l.store.ListEntries(ctx, acct.ID, limit)
}

// OrderCredits sums every movement recorded against an order. Debits count
// negatively, so a refund paid back out to the card nets to zero.
func (l *Ledger) OrderCredits(ctx context.Context, orderID string) (int64, error) {
	entries, err := l.store.EntriesForOrder(ctx, orderID)
	if err != nil {
		return 0, err
	}
	var sum int64
	for _, e := range entries {
		sum += e.AmountMinor
	}
	return sum, nil
}
