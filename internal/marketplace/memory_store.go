package marketplace

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is an in-memory users/listings directory for demo mode and
// tests. It also acts as a trivial KYC verifier.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]*User
	listings map[string]*Listing
}

var (
	_ Users    = (*MemoryStore)(nil)
	_ Listings = (*MemoryStore)(nil)
	_ Verifier = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty directory.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]*User),
		listings: make(map[string]*Listing),
	}
}

// PutUser inserts or replaces a user.
func (m *MemoryStore) PutUser(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = &u
}

// PutListing inserts or replaces a listing.
func (m *MemoryStore) PutListing(l Listing) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listings[l.ID] = &l
}

func (m *MemoryStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) GetListing(ctx context.Context, id string) (*Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.listings[id]
	if !ok {
		return nil, ErrListingNotFound
	}
	cp := *l
	return &cp, nil
}

// VerifyIdentity accepts any document with a non-empty number and marks the
// user verified. Development only.
func (m *MemoryStore) VerifyIdentity(ctx context.Context, docs Documents) (*Identity, error) {
	if strings.TrimSpace(docs.Number) == "" {
		return &Identity{Verified: false}, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[docs.UserID]
	if !ok {
		return nil, ErrUserNotFound
	}
	u.KYCVerified = true
	if name := docs.Metadata["legal_name"]; name != "" {
		u.LegalName = name
	}
	return &Identity{Verified: true, LegalName: u.LegalName}, nil
}
