package marketplace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectory_RequireVerified(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	mem.PutUser(User{ID: "u1", Email: "u1@example.com", KYCVerified: true})
	mem.PutUser(User{ID: "u2", Email: "u2@example.com"})
	d := NewDirectory(mem, mem)

	u, err := d.RequireVerified(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1@example.com", u.Email)

	_, err = d.RequireVerified(ctx, "u2")
	assert.ErrorIs(t, err, ErrKYCRequired)

	_, err = d.RequireVerified(ctx, "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestDirectory_GetListingNormalizesCurrency(t *testing.T) {
	mem := NewMemoryStore()
	mem.PutListing(Listing{ID: "l1", SellerID: "s1", PriceMinor: 5000, Quantity: 3, Currency: "ngn"})
	d := NewDirectory(mem, mem)

	l, err := d.GetListing(context.Background(), "l1")
	require.NoError(t, err)
	assert.Equal(t, "NGN", l.Currency)

	_, err = d.GetListing(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrListingNotFound)
}

func TestMemoryStore_VerifyIdentity(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	mem.PutUser(User{ID: "u1"})

	id, err := mem.VerifyIdentity(ctx, Documents{UserID: "u1", Kind: "nin"})
	require.NoError(t, err)
	assert.False(t, id.Verified)

	id, err = mem.VerifyIdentity(ctx, Documents{
		UserID: "u1", Kind: "nin", Number: "12345678901",
		Metadata: map[string]string{"legal_name": "Ada Obi"},
	})
	require.NoError(t, err)
	assert.True(t, id.Verified)
	assert.Equal(t, "Ada Obi", id.LegalName)

	u, _ := mem.GetUser(ctx, "u1")
	assert.True(t, u.KYCVerified)
}
