package orders

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wiredan/wiredan/internal/idgen"
	"github.com/wiredan/wiredan/internal/pagination"
)

// MemoryStore is an in-memory order store for demo/development mode.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]*Order
	events map[string][]*Event
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory order store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]*Order),
		events: make(map[string][]*Event),
	}
}

func (m *MemoryStore) Create(ctx context.Context, o *Order) error {
	if !o.Status.Valid() {
		return ErrInvalidTransition
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *o
	m.orders[o.ID] = &cp
	m.appendLocked(o.ID, o.Status, o.Status, o.BuyerID, "order created", o.CreatedAt)
	return nil
}

func (m *MemoryStore) appendLocked(orderID string, from, to Status, actor, note string, at time.Time) {
	m.events[orderID] = append(m.events[orderID], &Event{
		ID:        idgen.WithPrefix("oev_"),
		OrderID:   orderID,
		From:      from,
		To:        to,
		Actor:     actor,
		Note:      note,
		CreatedAt: at,
	})
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *MemoryStore) ListForUser(ctx context.Context, userID string, after *pagination.Cursor, limit int) ([]*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Order
	for _, o := range m.orders {
		if !o.IsParticipant(userID) {
			continue
		}
		if after != nil && !before(o, after) {
			continue
		}
		cp := *o
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// before reports whether o sorts after the cursor in newest-first order.
func before(o *Order, c *pagination.Cursor) bool {
	if o.CreatedAt.Equal(c.CreatedAt) {
		return o.ID < c.ID
	}
	return o.CreatedAt.Before(c.CreatedAt)
}

func (m *MemoryStore) Transition(ctx context.Context, t Transition) (*Order, error) {
	if !CanTransition(t.From, t.To) {
		return nil, ErrInvalidTransition
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[t.OrderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if o.Status != t.From {
		return nil, ErrInvalidTransition
	}
	now := time.Now()
	o.Status = t.To
	o.UpdatedAt = now
	m.appendLocked(o.ID, t.From, t.To, t.Actor, t.Note, now)
	orderTransitions.WithLabelValues(string(t.From), string(t.To)).Inc()

	cp := *o
	return &cp, nil
}

func (m *MemoryStore) AppendNote(ctx context.Context, orderID, actor, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	m.appendLocked(orderID, o.Status, o.Status, actor, note, time.Now())
	return nil
}

func (m *MemoryStore) Events(ctx context.Context, orderID string) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.orders[orderID]; !ok {
		return nil, ErrOrderNotFound
	}
	evs := m.events[orderID]
	out := make([]*Event, len(evs))
	for i, e := range evs {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}
