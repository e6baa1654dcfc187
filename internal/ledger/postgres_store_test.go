//go:build integration

package ledger

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pgtest "github.com/wiredan/wiredan/internal/testutil"
)

func TestPostgresStore_CreditUpsertsAndRefusesDuplicates(t *testing.T) {
	db, cleanup := pgtest.PGTest(t)
	defer cleanup()
	ctx := context.Background()
	s := NewPostgresStore(db)
	moves.Reset()

	c := Credit{OwnerUserID: "seller_1", Currency: "NGN", AmountMinor: 9800, OrderID: "ord_pg1", Type: EntryEscrowRelease, Reference: "esc_1"}
	entry, err := s.Credit(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, int64(9800), entry.BalanceAfter)
	assert.False(t, entry.CreatedAt.IsZero())

	_, err = s.Credit(ctx, c)
	require.ErrorIs(t, err, ErrDuplicateEntry)

	acct, err := s.GetAccount(ctx, "seller_1", "NGN")
	require.NoError(t, err)
	assert.Equal(t, int64(9800), acct.BalanceMinor, "rejected duplicate must not move the balance")

	assert.Equal(t, 1.0, testutil.ToFloat64(moves.WithLabelValues("escrow_release", "NGN", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(moves.WithLabelValues("escrow_release", "NGN", "duplicate")))
}

func TestPostgresStore_DebitNeverGoesNegative(t *testing.T) {
	db, cleanup := pgtest.PGTest(t)
	defer cleanup()
	ctx := context.Background()
	s := NewPostgresStore(db)
	moves.Reset()

	debit := Credit{OwnerUserID: "buyer_1", Currency: "NGN", AmountMinor: 5000, OrderID: "ord_pg2", Type: EntryRefundPayout}
	_, err := s.Debit(ctx, debit)
	require.ErrorIs(t, err, ErrAccountNotFound)

	_, err = s.Credit(ctx, Credit{OwnerUserID: "buyer_1", Currency: "NGN", AmountMinor: 4000, OrderID: "ord_pg2", Type: EntryEscrowRefund})
	require.NoError(t, err)
	_, err = s.Debit(ctx, debit)
	require.ErrorIs(t, err, ErrInsufficientBalance)

	debit.AmountMinor = 4000
	entry, err := s.Debit(ctx, debit)
	require.NoError(t, err)
	assert.Equal(t, int64(-4000), entry.AmountMinor)
	assert.Equal(t, int64(0), entry.BalanceAfter)

	entries, err := s.EntriesForOrder(ctx, "ord_pg2")
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(moves.WithLabelValues("refund_payout", "NGN", "no_account")))
	assert.Equal(t, 1.0, testutil.ToFloat64(moves.WithLabelValues("refund_payout", "NGN", "insufficient")))
	assert.Equal(t, 1.0, testutil.ToFloat64(moves.WithLabelValues("refund_payout", "NGN", "ok")))
}
