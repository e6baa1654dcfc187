package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wiredan/wiredan/internal/apperr"
	"github.com/wiredan/wiredan/internal/idgen"
)

// MemoryStore is an in-memory ledger store for demo/development mode.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*Account // owner|currency -> account
	entries  []*Entry
	byOrder  map[string]bool // order|type -> recorded
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*Account),
		byOrder:  make(map[string]bool),
	}
}

func accountKey(owner, currency string) string { return owner + "|" + currency }

func (m *MemoryStore) ensureLocked(owner, currency string) *Account {
	key := accountKey(owner, currency)
	acct, ok := m.accounts[key]
	if !ok {
		now := time.Now()
		acct = &Account{
			ID:          idgen.WithPrefix("acct_"),
			OwnerUserID: owner,
			Currency:    currency,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		m.accounts[key] = acct
	}
	return acct
}

func (m *MemoryStore) EnsureAccount(ctx context.Context, ownerUserID, currency string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *m.ensureLocked(ownerUserID, currency)
	return &cp, nil
}

func (m *MemoryStore) GetAccount(ctx context.Context, ownerUserID, currency string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acct, ok := m.accounts[accountKey(ownerUserID, currency)]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *acct
	return &cp, nil
}

func (m *MemoryStore) ListAccounts(ctx context.Context, ownerUserID string) ([]*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Account
	for _, acct := range m.accounts {
		if acct.OwnerUserID == ownerUserID {
			cp := *acct
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out, nil
}

func (m *MemoryStore) Credit(ctx context.Context, c Credit) (_ *Entry, err error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.Type.IsDebit() {
		return nil, apperr.Validationf("%s is a debit entry type", c.Type)
	}
	defer recordMove(c, time.Now(), &err)

	m.mu.Lock()
	defer m.mu.Unlock()

	acct := m.ensureLocked(c.OwnerUserID, c.Currency)
	return m.moveLocked(acct, c, c.AmountMinor)
}

func (m *MemoryStore) Debit(ctx context.Context, c Credit) (_ *Entry, err error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if !c.Type.IsDebit() {
		return nil, apperr.Validationf("%s is a credit entry type", c.Type)
	}
	defer recordMove(c, time.Now(), &err)

	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[accountKey(c.OwnerUserID, c.Currency)]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return m.moveLocked(acct, c, -c.AmountMinor)
}

// moveLocked applies delta and appends the entry. Caller must hold m.mu.
func (m *MemoryStore) moveLocked(acct *Account, c Credit, delta int64) (*Entry, error) {
	orderKey := c.OrderID + "|" + string(c.Type)
	if m.byOrder[orderKey] {
		return nil, ErrDuplicateEntry
	}
	if err := applyDelta(acct, delta); err != nil {
		return nil, err
	}

	entry := &Entry{
		ID:           idgen.WithPrefix("le_"),
		AccountID:    acct.ID,
		OrderID:      c.OrderID,
		Type:         c.Type,
		AmountMinor:  delta,
		BalanceAfter: acct.BalanceMinor,
		Reference:    c.Reference,
		CreatedAt:    acct.UpdatedAt,
	}
	m.entries = append(m.entries, entry)
	m.byOrder[orderKey] = true

	cp := *entry
	return &cp, nil
}

// applyDelta is the only place an in-memory balance changes.
func applyDelta(acct *Account, delta int64) error {
	if acct.BalanceMinor+delta < 0 {
		return ErrInsufficientBalance
	}
	acct.BalanceMinor += delta
	acct.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) ListEntries(ctx context.Context, accountID string, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Entry
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].AccountID == accountID {
			cp := *m.entries[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) EntriesForOrder(ctx context.Context, orderID string) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Entry
	for _, e := range m.entries {
		if e.OrderID == orderID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}
