package escrow

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/wiredan/wiredan/internal/idgen"
	"github.com/wiredan/wiredan/internal/ledger"
	"github.com/wiredan/wiredan/internal/orders"
	"github.com/wiredan/wiredan/internal/syncutil"
)

// MemoryStore is an in-memory escrow store for demo/development mode. It
// composes the order and ledger stores and serializes every mutation of an
// order under a per-order lock, validating before the first write so a
// failed step leaves nothing behind.
type MemoryStore struct {
	orders orders.Store
	ledger ledger.Store
	locks  syncutil.KeyedMutex

	mu       sync.RWMutex
	byOrder  map[string]*Escrow // latest escrow per order
	byRef    map[string]string  // reference -> order id
	disputes map[string][]*Dispute
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory escrow store.
func NewMemoryStore(orderStore orders.Store, ledgerStore ledger.Store) *MemoryStore {
	return &MemoryStore{
		orders:   orderStore,
		ledger:   ledgerStore,
		byOrder:  make(map[string]*Escrow),
		byRef:    make(map[string]string),
		disputes: make(map[string][]*Dispute),
	}
}

func (m *MemoryStore) current(orderID string) (*Escrow, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byOrder[orderID]
	return e, ok
}

func (m *MemoryStore) CreatePending(ctx context.Context, e *Escrow, actor string) error {
	unlock, err := m.locks.LockContext(ctx, e.OrderID)
	if err != nil {
		return err
	}
	defer unlock()

	if cur, ok := m.current(e.OrderID); ok && !cur.IsTerminal() {
		return ErrDuplicateEscrow
	}
	m.mu.RLock()
	_, refTaken := m.byRef[e.ProviderReference]
	m.mu.RUnlock()
	if refTaken {
		return ErrDuplicateEscrow
	}

	_, err = m.orders.Transition(ctx, orders.Transition{
		OrderID: e.OrderID,
		From:    orders.StatusCreated,
		To:      orders.StatusPending,
		Actor:   actor,
		Note:    "payment initialized: " + e.ProviderReference,
	})
	if err != nil {
		return orderStateErr(err)
	}

	cp := *e
	m.mu.Lock()
	m.byOrder[e.OrderID] = &cp
	m.byRef[e.ProviderReference] = e.OrderID
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, orderID string) (*Escrow, error) {
	e, ok := m.current(orderID)
	if !ok {
		return nil, ErrEscrowNotFound
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) GetByReference(ctx context.Context, reference string) (*Escrow, error) {
	m.mu.RLock()
	orderID, ok := m.byRef[reference]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrEscrowNotFound
	}
	return m.Get(ctx, orderID)
}

// locked returns the order's escrow after checking the reference. Caller
// must hold the order lock.
func (m *MemoryStore) locked(orderID, reference string) (*Escrow, error) {
	e, ok := m.current(orderID)
	if !ok {
		return nil, ErrEscrowNotFound
	}
	if reference != "" && e.ProviderReference != reference {
		return nil, ErrReferenceMismatch
	}
	return e, nil
}

func (m *MemoryStore) MarkHeld(ctx context.Context, orderID, reference, note string) (*Escrow, bool, error) {
	unlock, err := m.locks.LockContext(ctx, orderID)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	e, err := m.locked(orderID, reference)
	if err != nil {
		return nil, false, err
	}
	switch e.Status {
	case StatusHeld:
		return m.snapshot(e), false, nil
	case StatusReleased, StatusRefunded:
		return nil, false, ErrAlreadySettled
	}

	if _, err := m.orders.Transition(ctx, orders.Transition{
		OrderID: orderID,
		From:    orders.StatusPending,
		To:      orders.StatusPaidEscrow,
		Actor:   "provider",
		Note:    note,
	}); err != nil {
		return nil, false, orderStateErr(err)
	}

	m.mu.Lock()
	e.Status = StatusHeld
	e.UpdatedAt = time.Now()
	cp := *e
	m.mu.Unlock()
	return &cp, true, nil
}

func (m *MemoryStore) DiscardPending(ctx context.Context, orderID, reference, note string) error {
	unlock, err := m.locks.LockContext(ctx, orderID)
	if err != nil {
		return err
	}
	defer unlock()

	e, err := m.locked(orderID, reference)
	if err != nil {
		return err
	}
	if e.IsTerminal() {
		return ErrAlreadySettled
	}
	if e.Status != StatusPending {
		return ErrNotPending
	}

	if _, err := m.orders.Transition(ctx, orders.Transition{
		OrderID: orderID,
		From:    orders.StatusPending,
		To:      orders.StatusCreated,
		Actor:   "provider",
		Note:    note,
	}); err != nil {
		return orderStateErr(err)
	}

	m.mu.Lock()
	delete(m.byOrder, orderID)
	delete(m.byRef, e.ProviderReference)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Settle(ctx context.Context, s Settlement) (*Escrow, error) {
	unlock, err := m.locks.LockContext(ctx, s.OrderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	e, err := m.locked(s.OrderID, "")
	if err != nil {
		return nil, err
	}
	if e.Status != StatusHeld {
		return nil, ErrNotHeld
	}
	o, err := m.orders.Get(ctx, s.OrderID)
	if err != nil {
		return nil, err
	}
	if o.Status != s.OrderFrom || !orders.CanTransition(s.OrderFrom, s.orderTo()) {
		return nil, ErrInvalidOrderState
	}

	// The credit is the only step that can still fail on valid input.
	if s.Credit != nil {
		if _, err := m.ledger.Credit(ctx, *s.Credit); err != nil {
			return nil, err
		}
	}
	if _, err := m.orders.Transition(ctx, orders.Transition{
		OrderID: s.OrderID,
		From:    s.OrderFrom,
		To:      s.orderTo(),
		Actor:   s.Actor,
		Note:    s.Note,
	}); err != nil {
		return nil, orderStateErr(err)
	}

	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	e.Status = s.To
	e.SellerFeeMinor = s.SellerFeeMinor
	e.UpdatedAt = now
	if s.OrderFrom == orders.StatusDisputed {
		for _, d := range m.disputes[s.OrderID] {
			if d.ResolvedAt == nil {
				d.Resolution = s.Resolution
				d.ResolvedBy = s.Actor
				d.ResolvedAt = &now
			}
		}
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) OpenDispute(ctx context.Context, d *Dispute) error {
	unlock, err := m.locks.LockContext(ctx, d.OrderID)
	if err != nil {
		return err
	}
	defer unlock()

	e, err := m.locked(d.OrderID, "")
	if err != nil {
		return err
	}
	if e.Status != StatusHeld {
		return ErrNotHeld
	}
	if _, err := m.orders.Transition(ctx, orders.Transition{
		OrderID: d.OrderID,
		From:    orders.StatusPaidEscrow,
		To:      orders.StatusDisputed,
		Actor:   d.OpenedBy,
		Note:    "dispute opened: " + d.Reason,
	}); err != nil {
		return orderStateErr(err)
	}

	if d.ID == "" {
		d.ID = idgen.WithPrefix("dsp_")
	}
	cp := *d
	m.mu.Lock()
	m.disputes[d.OrderID] = append(m.disputes[d.OrderID], &cp)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Disputes(ctx context.Context, orderID string) ([]*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Dispute, 0, len(m.disputes[orderID]))
	for _, d := range m.disputes[orderID] {
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) RecordNote(ctx context.Context, orderID, actor, note string) error {
	return m.orders.AppendNote(ctx, orderID, actor, note)
}

func (m *MemoryStore) ListHeldBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Escrow, error) {
	candidates := m.list(func(e *Escrow) bool {
		return e.Status == StatusHeld && e.UpdatedAt.Before(cutoff)
	})

	var out []*Escrow
	for _, e := range candidates {
		o, err := m.orders.Get(ctx, e.OrderID)
		if err != nil {
			return nil, err
		}
		if o.Status != orders.StatusPaidEscrow {
			continue
		}
		out = append(out, e)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Escrow, error) {
	out := m.list(func(e *Escrow) bool {
		return e.Status == StatusPending && e.CreatedAt.Before(cutoff)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// list returns copies of matching escrows, oldest update first.
func (m *MemoryStore) list(match func(*Escrow) bool) []*Escrow {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Escrow
	for _, e := range m.byOrder {
		if match(e) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out
}

func (m *MemoryStore) snapshot(e *Escrow) *Escrow {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp := *e
	return &cp
}

// orderStateErr translates an order guard failure into the escrow error
// callers expect.
func orderStateErr(err error) error {
	if errors.Is(err, orders.ErrInvalidTransition) {
		return ErrInvalidOrderState
	}
	return err
}
