package marketplace

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresStore reads users and listings owned by the account and listing
// services. It never writes.
type PostgresStore struct {
	db *sql.DB
}

var (
	_ Users    = (*PostgresStore)(nil)
	_ Listings = (*PostgresStore)(nil)
)

// NewPostgresStore creates a new PostgreSQL-backed directory reader.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) GetUser(ctx context.Context, id string) (*User, error) {
	u := &User{}
	var legal sql.NullString
	err := p.db.QueryRowContext(ctx, `
		SELECT id, email, kyc_verified, legal_name FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Email, &u.KYCVerified, &legal)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	u.LegalName = legal.String
	return u, nil
}

func (p *PostgresStore) GetListing(ctx context.Context, id string) (*Listing, error) {
	l := &Listing{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, seller_id, price_minor, quantity, currency FROM listings WHERE id = $1`, id,
	).Scan(&l.ID, &l.SellerID, &l.PriceMinor, &l.Quantity, &l.Currency)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrListingNotFound
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}
