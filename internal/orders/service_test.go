package orders

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wiredan/wiredan/internal/marketplace"
	"github.com/wiredan/wiredan/internal/pagination"
)

func newTestService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	dir := marketplace.NewMemoryStore()
	dir.PutUser(marketplace.User{ID: "buyer", Email: "buyer@example.com", KYCVerified: true})
	dir.PutUser(marketplace.User{ID: "seller", KYCVerified: true})
	dir.PutUser(marketplace.User{ID: "unverified"})
	dir.PutListing(marketplace.Listing{ID: "lst_1", SellerID: "seller", PriceMinor: 2500, Quantity: 4, Currency: "NGN"})

	store := NewMemoryStore()
	return NewService(store, marketplace.NewDirectory(dir, dir)), store
}

func TestService_Create(t *testing.T) {
	svc, _ := newTestService(t)

	o, err := svc.Create(context.Background(), "buyer", "lst_1", 4)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), o.TotalMinor)
	assert.Equal(t, StatusCreated, o.Status)
	assert.Equal(t, "seller", o.SellerID)
	assert.Equal(t, "NGN", o.Currency)

	timeline, err := svc.Timeline(context.Background(), o.ID)
	require.NoError(t, err)
	require.Len(t, timeline, 1)
	assert.Equal(t, "order created", timeline[0].Note)
}

func TestService_CreateValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		buyer   string
		listing string
		qty     int64
		want    error
	}{
		{"zero quantity", "buyer", "lst_1", 0, ErrInvalidQuantity},
		{"more than listed", "buyer", "lst_1", 5, ErrInvalidQuantity},
		{"self purchase", "seller", "lst_1", 1, ErrSelfPurchase},
		{"unverified buyer", "unverified", "lst_1", 1, marketplace.ErrKYCRequired},
		{"unknown buyer", "ghost", "lst_1", 1, marketplace.ErrUserNotFound},
		{"unknown listing", "buyer", "lst_x", 1, marketplace.ErrListingNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.buyer, tt.listing, tt.qty)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestService_GetVisibility(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	o, err := svc.Create(ctx, "buyer", "lst_1", 1)
	require.NoError(t, err)

	_, err = svc.Get(ctx, o.ID, "buyer", false)
	assert.NoError(t, err)
	_, err = svc.Get(ctx, o.ID, "seller", false)
	assert.NoError(t, err)
	_, err = svc.Get(ctx, o.ID, "stranger", false)
	assert.ErrorIs(t, err, ErrNotParticipant)
	_, err = svc.Get(ctx, o.ID, "admin", true)
	assert.NoError(t, err)
	_, err = svc.Get(ctx, "ord_missing", "buyer", false)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestCanTransition_Closure(t *testing.T) {
	all := []Status{StatusCreated, StatusPending, StatusPaidEscrow, StatusDisputed, StatusReleased, StatusRefunded}
	allowed := map[[2]Status]bool{
		{StatusCreated, StatusPending}:     true,
		{StatusPending, StatusPaidEscrow}:  true,
		{StatusPending, StatusCreated}:     true,
		{StatusPaidEscrow, StatusReleased}: true,
		{StatusPaidEscrow, StatusRefunded}: true,
		{StatusPaidEscrow, StatusDisputed}: true,
		{StatusDisputed, StatusReleased}:   true,
		{StatusDisputed, StatusRefunded}:   true,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]Status{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
	assert.True(t, StatusReleased.IsTerminal())
	assert.True(t, StatusRefunded.IsTerminal())
	assert.False(t, StatusDisputed.IsTerminal())
	assert.False(t, Status("shipped").Valid())
}

func TestMemoryStore_TransitionCAS(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	o, _ := svc.Create(ctx, "buyer", "lst_1", 1)

	_, err := store.Transition(ctx, Transition{OrderID: o.ID, From: StatusCreated, To: StatusPending, Actor: "buyer"})
	require.NoError(t, err)

	// Stale expected status loses.
	_, err = store.Transition(ctx, Transition{OrderID: o.ID, From: StatusCreated, To: StatusPending, Actor: "buyer"})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// Edge not in the graph.
	_, err = store.Transition(ctx, Transition{OrderID: o.ID, From: StatusPending, To: StatusReleased})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, store.AppendNote(ctx, o.ID, "system", "amount mismatch"))
	evs, _ := store.Events(ctx, o.ID)
	require.Len(t, evs, 3)
	assert.Equal(t, StatusPending, evs[2].From)
	assert.Equal(t, StatusPending, evs[2].To)
}

func TestMemoryStore_ListForUserPaginates(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Create(ctx, &Order{
			ID: "ord_" + string(rune('a'+i)), BuyerID: "b", SellerID: "s",
			Status: StatusCreated, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	first, err := store.ListForUser(ctx, "b", nil, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "ord_e", first[0].ID)

	last := first[len(first)-1]
	next, err := store.ListForUser(ctx, "s", &pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}, 10)
	require.NoError(t, err)
	require.Len(t, next, 3)
	assert.Equal(t, "ord_c", next[0].ID)
}
