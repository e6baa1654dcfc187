package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/wiredan/wiredan/internal/idgen"
	"github.com/wiredan/wiredan/internal/pagination"
)

// PostgresStore persists orders in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL-backed order store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const orderColumns = `id, listing_id, buyer_id, seller_id, quantity, total_minor, currency, status, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (*Order, error) {
	o := &Order{}
	var status string
	err := row.Scan(&o.ID, &o.ListingID, &o.BuyerID, &o.SellerID, &o.Quantity,
		&o.TotalMinor, &o.Currency, &status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Status = Status(status)
	if !o.Status.Valid() {
		return nil, fmt.Errorf("order %s has unknown status %q", o.ID, status)
	}
	return o, nil
}

func (p *PostgresStore) Create(ctx context.Context, o *Order) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		o.ID, o.ListingID, o.BuyerID, o.SellerID, o.Quantity,
		o.TotalMinor, o.Currency, string(o.Status), o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	if err := insertEvent(ctx, tx, o.ID, o.Status, o.Status, o.BuyerID, "order created"); err != nil {
		return err
	}
	return tx.Commit()
}

func insertEvent(ctx context.Context, tx Execer, orderID string, from, to Status, actor, note string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO order_events (id, order_id, from_status, to_status, actor, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		idgen.WithPrefix("oev_"), orderID, string(from), string(to), actor, nullString(note))
	if err != nil {
		return fmt.Errorf("insert order event: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Order, error) {
	o, err := scanOrder(p.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	return o, err
}

func (p *PostgresStore) ListForUser(ctx context.Context, userID string, after *pagination.Cursor, limit int) ([]*Order, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if after == nil {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+orderColumns+` FROM orders
			WHERE buyer_id = $1 OR seller_id = $1
			ORDER BY created_at DESC, id DESC LIMIT $2`, userID, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+orderColumns+` FROM orders
			WHERE (buyer_id = $1 OR seller_id = $1)
			  AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC LIMIT $4`, userID, after.CreatedAt, after.ID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Transition(ctx context.Context, t Transition) (*Order, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	o, err := TransitionTx(ctx, tx, t)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return o, nil
}

// TransitionTx performs a compare-and-swap on the order status inside the
// caller's transaction and appends the audit event. The escrow store calls
// it so the order and escrow rows commit together.
func TransitionTx(ctx context.Context, tx Execer, t Transition) (*Order, error) {
	if !CanTransition(t.From, t.To) {
		return nil, ErrInvalidTransition
	}
	o, err := scanOrder(tx.QueryRowContext(ctx, `
		UPDATE orders SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING `+orderColumns, t.OrderID, string(t.From), string(t.To)))
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if qerr := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, t.OrderID).Scan(&exists); qerr != nil {
			return nil, qerr
		}
		if !exists {
			return nil, ErrOrderNotFound
		}
		return nil, ErrInvalidTransition
	}
	if err != nil {
		return nil, fmt.Errorf("transition order: %w", err)
	}
	if err := insertEvent(ctx, tx, t.OrderID, t.From, t.To, t.Actor, t.Note); err != nil {
		return nil, err
	}
	orderTransitions.WithLabelValues(string(t.From), string(t.To)).Inc()
	return o, nil
}

func (p *PostgresStore) AppendNote(ctx context.Context, orderID, actor, note string) error {
	return AppendNoteTx(ctx, p.db, orderID, actor, note)
}

// AppendNoteTx records a note event at the order's current status.
func AppendNoteTx(ctx context.Context, tx Execer, orderID, actor, note string) error {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO order_events (id, order_id, from_status, to_status, actor, note, created_at)
		SELECT $1, id, status, status, $3, $4, NOW() FROM orders WHERE id = $2`,
		idgen.WithPrefix("oev_"), orderID, actor, note)
	if err != nil {
		return fmt.Errorf("append order note: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (p *PostgresStore) Events(ctx context.Context, orderID string) ([]*Event, error) {
	if _, err := p.Get(ctx, orderID); err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, order_id, from_status, to_status, actor, note, created_at
		FROM order_events WHERE order_id = $1 ORDER BY seq`, orderID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Event
	for rows.Next() {
		e := &Event{}
		var from, to string
		var note sql.NullString
		if err := rows.Scan(&e.ID, &e.OrderID, &from, &to, &e.Actor, &note, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.From, e.To, e.Note = Status(from), Status(to), note.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
