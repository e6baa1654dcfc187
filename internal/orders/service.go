package orders

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/wiredan/wiredan/internal/idgen"
	"github.com/wiredan/wiredan/internal/marketplace"
	"github.com/wiredan/wiredan/internal/pagination"
)

// Directory is the read-only view of users and listings.
type Directory interface {
	RequireVerified(ctx context.Context, userID string) (*marketplace.User, error)
	GetListing(ctx context.Context, id string) (*marketplace.Listing, error)
}

// Service implements order creation and lookup.
type Service struct {
	store Store
	dir   Directory
	now   func() time.Time
}

// NewService creates a new order service.
func NewService(store Store, dir Directory) *Service {
	return &Service{store: store, dir: dir, now: time.Now}
}

// Store exposes the store for the escrow engine wiring.
func (s *Service) Store() Store { return s.store }

// Create places an order for quantity units of a listing. The buyer must be
// KYC verified; price and stock come from the listing at this moment and
// are not re-checked later.
func (s *Service) Create(ctx context.Context, buyerID, listingID string, quantity int64) (*Order, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if _, err := s.dir.RequireVerified(ctx, buyerID); err != nil {
		return nil, err
	}
	listing, err := s.dir.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.SellerID == buyerID {
		return nil, ErrSelfPurchase
	}
	if quantity > listing.Quantity {
		return nil, ErrInvalidQuantity
	}
	if listing.PriceMinor <= 0 || listing.PriceMinor > math.MaxInt64/quantity {
		return nil, fmt.Errorf("listing %s: %w", listingID, ErrInvalidQuantity)
	}

	now := s.now()
	o := &Order{
		ID:         idgen.WithPrefix("ord_"),
		ListingID:  listing.ID,
		BuyerID:    buyerID,
		SellerID:   listing.SellerID,
		Quantity:   quantity,
		TotalMinor: listing.PriceMinor * quantity,
		Currency:   listing.Currency,
		Status:     StatusCreated,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	ordersCreated.Inc()
	return o, nil
}

// Get returns an order visible to viewer (participant or admin).
func (s *Service) Get(ctx context.Context, id, viewerID string, admin bool) (*Order, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !admin && !o.IsParticipant(viewerID) {
		return nil, ErrNotParticipant
	}
	return o, nil
}

// ListForUser returns orders where the user is buyer or seller, newest first.
func (s *Service) ListForUser(ctx context.Context, userID string, after *pagination.Cursor, limit int) ([]*Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.ListForUser(ctx, userID, after, limit)
}

// Timeline returns the order's audit trail, oldest first.
func (s *Service) Timeline(ctx context.Context, orderID string) ([]*Event, error) {
	return s.store.Events(ctx, orderID)
}
