// Package marketplace holds the read-only view of users, listings and KYC
// status that order creation and account opening consult. Registration,
// listing CRUD and document verification live in other services; this
// package only reads their rows or answers from memory in development.
package marketplace

import (
	"context"
	"strings"

	"github.com/wiredan/wiredan/internal/apperr"
)

var (
	ErrUserNotFound    = apperr.New(apperr.NotFound, "user_not_found", "user not found")
	ErrListingNotFound = apperr.New(apperr.NotFound, "listing_not_found", "listing not found")
	ErrKYCRequired     = apperr.New(apperr.Forbidden, "kyc_required", "identity verification required")
)

// User is the subset of the user record the engine relies on.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	KYCVerified bool   `json:"kycVerified"`
	LegalName   string `json:"legalName,omitempty"`
}

// Listing is the subset of a listing that prices an order.
type Listing struct {
	ID         string `json:"id"`
	SellerID   string `json:"sellerId"`
	PriceMinor int64  `json:"priceMinor"`
	Quantity   int64  `json:"quantity"`
	Currency   string `json:"currency"`
}

// Documents are opaque KYC inputs passed through to the verifier.
type Documents struct {
	UserID   string            `json:"userId"`
	Kind     string            `json:"kind"` // e.g. "nin", "passport"
	Number   string            `json:"number"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Identity is the verifier's verdict.
type Identity struct {
	Verified  bool   `json:"verified"`
	LegalName string `json:"legalName,omitempty"`
}

// Users reads user records.
type Users interface {
	GetUser(ctx context.Context, id string) (*User, error)
}

// Listings reads listing records.
type Listings interface {
	GetListing(ctx context.Context, id string) (*Listing, error)
}

// Verifier checks identity documents.
type Verifier interface {
	VerifyIdentity(ctx context.Context, docs Documents) (*Identity, error)
}

// Directory combines the collaborators and answers the gating questions
// the order and ledger packages ask.
type Directory struct {
	users    Users
	listings Listings
}

// NewDirectory creates a directory over the given readers.
func NewDirectory(users Users, listings Listings) *Directory {
	return &Directory{users: users, listings: listings}
}

func (d *Directory) GetUser(ctx context.Context, id string) (*User, error) {
	return d.users.GetUser(ctx, id)
}

func (d *Directory) GetListing(ctx context.Context, id string) (*Listing, error) {
	l, err := d.listings.GetListing(ctx, id)
	if err != nil {
		return nil, err
	}
	l.Currency = strings.ToUpper(l.Currency)
	return l, nil
}

// RequireVerified returns ErrKYCRequired unless the user exists and has
// passed identity verification.
func (d *Directory) RequireVerified(ctx context.Context, userID string) (*User, error) {
	u, err := d.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !u.KYCVerified {
		return nil, ErrKYCRequired
	}
	return u, nil
}

// CheckVerified is RequireVerified without the user record.
func (d *Directory) CheckVerified(ctx context.Context, userID string) error {
	_, err := d.RequireVerified(ctx, userID)
	return err
}
