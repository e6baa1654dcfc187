package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/wiredan/wiredan/internal/idgen"
)

// PostgresStore implements Store with PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL-backed ledger store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const accountColumns = `id, owner_user_id, currency, balance_minor, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (*Account, error) {
	a := &Account{}
	err := row.Scan(&a.ID, &a.OwnerUserID, &a.Currency, &a.BalanceMinor, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (p *PostgresStore) EnsureAccount(ctx context.Context, ownerUserID, currency string) (*Account, error) {
	// DO UPDATE (a no-op) so RETURNING yields the existing row on conflict.
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO accounts (id, owner_user_id, currency, balance_minor, created_at, updated_at)
		VALUES ($1, $2, $3, 0, NOW(), NOW())
		ON CONFLICT (owner_user_id, currency) DO UPDATE SET owner_user_id = EXCLUDED.owner_user_id
		RETURNING `+accountColumns,
		idgen.WithPrefix("acct_"), ownerUserID, currency)
	return scanAccount(row)
}

func (p *PostgresStore) GetAccount(ctx context.Context, ownerUserID, currency string) (*Account, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE owner_user_id = $1 AND currency = $2`, ownerUserID, currency)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	return a, err
}

func (p *PostgresStore) ListAccounts(ctx context.Context, ownerUserID string) ([]*Account, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE owner_user_id = $1 ORDER BY currency`, ownerUserID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Credit applies c in its own transaction.
func (p *PostgresStore) Credit(ctx context.Context, c Credit) (*Entry, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	entry, err := CreditTx(ctx, tx, c)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit credit: %w", err)
	}
	return entry, nil
}

// CreditTx increments the owner's balance by c.AmountMinor and records the
// entry using the caller's transaction. The account row is upserted so a
// first credit creates it. A second entry for the same (order, type) fails
// with ErrDuplicateEntry; the balance CHECK surfaces as
// ErrInsufficientBalance.
func CreditTx(ctx context.Context, tx Execer, c Credit) (_ *Entry, err error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.Type.IsDebit() {
		return nil, fmt.Errorf("ledger: %s is a debit entry type", c.Type)
	}
	defer recordMove(c, time.Now(), &err)

	entry := &Entry{
		ID:          idgen.WithPrefix("le_"),
		OrderID:     c.OrderID,
		Type:        c.Type,
		AmountMinor: c.AmountMinor,
		Reference:   c.Reference,
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO accounts (id, owner_user_id, currency, balance_minor, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (owner_user_id, currency) DO UPDATE SET
			balance_minor = accounts.balance_minor + EXCLUDED.balance_minor,
			updated_at    = NOW()
		RETURNING id, balance_minor`,
		idgen.WithPrefix("acct_"), c.OwnerUserID, c.Currency, c.AmountMinor,
	).Scan(&entry.AccountID, &entry.BalanceAfter)
	if err != nil {
		return nil, mapPQError(fmt.Errorf("credit balance: %w", err))
	}

	if err := insertEntry(ctx, tx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Debit applies c in its own transaction.
func (p *PostgresStore) Debit(ctx context.Context, c Credit) (*Entry, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	entry, err := DebitTx(ctx, tx, c)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit debit: %w", err)
	}
	return entry, nil
}

// DebitTx decrements an existing balance by c.AmountMinor. The balance
// CHECK constraint refuses to go below zero.
func DebitTx(ctx context.Context, tx Execer, c Credit) (_ *Entry, err error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if !c.Type.IsDebit() {
		return nil, fmt.Errorf("ledger: %s is a credit entry type", c.Type)
	}
	defer recordMove(c, time.Now(), &err)

	entry := &Entry{
		ID:          idgen.WithPrefix("le_"),
		OrderID:     c.OrderID,
		Type:        c.Type,
		AmountMinor: -c.AmountMinor,
		Reference:   c.Reference,
	}

	err = tx.QueryRowContext(ctx, `
		UPDATE accounts SET balance_minor = balance_minor - $3, updated_at = NOW()
		WHERE owner_user_id = $1 AND currency = $2
		RETURNING id, balance_minor`,
		c.OwnerUserID, c.Currency, c.AmountMinor,
	).Scan(&entry.AccountID, &entry.BalanceAfter)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, mapPQError(fmt.Errorf("debit balance: %w", err))
	}

	if err := insertEntry(ctx, tx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func insertEntry(ctx context.Context, tx Execer, entry *Entry) error {
	err := tx.QueryRowContext(ctx, `
		INSERT INTO ledger_entries (id, account_id, order_id, type, amount_minor, balance_after, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING created_at`,
		entry.ID, entry.AccountID, entry.OrderID, string(entry.Type),
		entry.AmountMinor, entry.BalanceAfter, nullString(entry.Reference),
	).Scan(&entry.CreatedAt)
	if err != nil {
		return mapPQError(fmt.Errorf("record entry: %w", err))
	}
	return nil
}

func mapPQError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return ErrDuplicateEntry
		case "23514": // check_violation
			return ErrInsufficientBalance
		}
	}
	return err
}

const entryColumns = `id, account_id, order_id, type, amount_minor, balance_after, reference, created_at`

func scanEntry(row scanner) (*Entry, error) {
	e := &Entry{}
	var typ string
	var ref sql.NullString
	if err := row.Scan(&e.ID, &e.AccountID, &e.OrderID, &typ, &e.AmountMinor, &e.BalanceAfter, &ref, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Type = EntryType(typ)
	e.Reference = ref.String
	return e, nil
}

func (p *PostgresStore) queryEntries(ctx context.Context, query string, args ...any) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ListEntries(ctx context.Context, accountID string, limit int) ([]*Entry, error) {
	return p.queryEntries(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries
		WHERE account_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, accountID, limit)
}

func (p *PostgresStore) EntriesForOrder(ctx context.Context, orderID string) ([]*Entry, error) {
	return p.queryEntries(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries
		WHERE order_id = $1 ORDER BY created_at`, orderID)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
