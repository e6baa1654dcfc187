package webhook

import (
	"context"
	"sync"
)

// MemoryStore keeps deliveries in memory, newest last.
type MemoryStore struct {
	mu         sync.RWMutex
	deliveries []*Delivery
	max        int
}

// NewMemoryStore keeps at most the last 1000 deliveries.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{max: 1000}
}

func (m *MemoryStore) Record(ctx context.Context, d *Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *d
	m.deliveries = append(m.deliveries, &cp)
	if over := len(m.deliveries) - m.max; over > 0 {
		m.deliveries = append([]*Delivery(nil), m.deliveries[over:]...)
	}
	return nil
}

func (m *MemoryStore) ListByReference(ctx context.Context, reference string, limit int) ([]*Delivery, error) {
	return m.newest(limit, func(d *Delivery) bool { return d.Reference == reference }), nil
}

func (m *MemoryStore) Recent(ctx context.Context, limit int) ([]*Delivery, error) {
	return m.newest(limit, func(*Delivery) bool { return true }), nil
}

func (m *MemoryStore) newest(limit int, match func(*Delivery) bool) []*Delivery {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Delivery
	for i := len(m.deliveries) - 1; i >= 0 && len(out) < limit; i-- {
		if match(m.deliveries[i]) {
			cp := *m.deliveries[i]
			out = append(out, &cp)
		}
	}
	return out
}
