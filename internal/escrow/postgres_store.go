package escrow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/wiredan/wiredan/internal/idgen"
	"github.com/wiredan/wiredan/internal/ledger"
	"github.com/wiredan/wiredan/internal/orders"
)

// PostgresStore persists escrow data in PostgreSQL. Each mutation is a
// single transaction spanning the escrows, orders, order_events,
// accounts, ledger_entries and disputes tables.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL-backed escrow store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var escrowFields = []string{
	"id", "order_id", "buyer_id", "seller_id", "amount_minor", "buyer_fee_minor",
	"seller_fee_minor", "currency", "status", "provider_reference", "created_at", "updated_at",
}

var escrowColumns = strings.Join(escrowFields, ", ")

// qualified prefixes every escrow column with alias for joins.
func qualified(alias string) string {
	cols := make([]string, len(escrowFields))
	for i, f := range escrowFields {
		cols[i] = alias + "." + f
	}
	return strings.Join(cols, ", ")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEscrow(s scanner) (*Escrow, error) {
	e := &Escrow{}
	var status string
	err := s.Scan(&e.ID, &e.OrderID, &e.BuyerID, &e.SellerID, &e.AmountMinor, &e.BuyerFeeMinor,
		&e.SellerFeeMinor, &e.Currency, &status, &e.ProviderReference, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Status = Status(status)
	return e, nil
}

func scanEscrows(rows *sql.Rows) ([]*Escrow, error) {
	var result []*Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// withTx runs fn in a transaction and commits if it returns nil.
func (p *PostgresStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (p *PostgresStore) CreatePending(ctx context.Context, e *Escrow, actor string) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := orders.TransitionTx(ctx, tx, orders.Transition{
			OrderID: e.OrderID,
			From:    orders.StatusCreated,
			To:      orders.StatusPending,
			Actor:   actor,
			Note:    "payment initialized: " + e.ProviderReference,
		}); err != nil {
			return orderStateErr(err)
		}

		err := tx.QueryRowContext(ctx, `
			INSERT INTO escrows (`+escrowColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, 0, $7, 'pending', $8, NOW(), NOW())
			RETURNING created_at, updated_at`,
			e.ID, e.OrderID, e.BuyerID, e.SellerID, e.AmountMinor, e.BuyerFeeMinor,
			e.Currency, e.ProviderReference,
		).Scan(&e.CreatedAt, &e.UpdatedAt)
		if isUniqueViolation(err) {
			return ErrDuplicateEscrow
		}
		if err != nil {
			return fmt.Errorf("insert escrow: %w", err)
		}
		e.Status = StatusPending
		return nil
	})
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// getTx returns the order's active escrow if any, else its latest one.
func getTx(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, orderID string) (*Escrow, error) {
	e, err := scanEscrow(q.QueryRowContext(ctx, `
		SELECT `+escrowColumns+` FROM escrows
		WHERE order_id = $1
		ORDER BY (status IN ('pending', 'held')) DESC, created_at DESC
		LIMIT 1`, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEscrowNotFound
	}
	return e, err
}

func (p *PostgresStore) Get(ctx context.Context, orderID string) (*Escrow, error) {
	return getTx(ctx, p.db, orderID)
}

func (p *PostgresStore) GetByReference(ctx context.Context, reference string) (*Escrow, error) {
	e, err := scanEscrow(p.db.QueryRowContext(ctx,
		`SELECT `+escrowColumns+` FROM escrows WHERE provider_reference = $1`, reference))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEscrowNotFound
	}
	return e, err
}

// explain classifies a compare-and-swap that matched no rows.
func explain(ctx context.Context, tx *sql.Tx, orderID, reference string, want Status) error {
	cur, err := getTx(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if reference != "" && cur.ProviderReference != reference {
		return ErrReferenceMismatch
	}
	switch {
	case cur.IsTerminal():
		if want == StatusHeld {
			return ErrNotHeld
		}
		return ErrAlreadySettled
	case want == StatusHeld:
		return ErrNotHeld
	default:
		return ErrNotPending
	}
}

func (p *PostgresStore) MarkHeld(ctx context.Context, orderID, reference, note string) (*Escrow, bool, error) {
	var (
		out     *Escrow
		applied bool
	)
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		e, err := scanEscrow(tx.QueryRowContext(ctx, `
			UPDATE escrows SET status = 'held', updated_at = NOW()
			WHERE order_id = $1 AND provider_reference = $2 AND status = 'pending'
			RETURNING `+escrowColumns, orderID, reference))
		if errors.Is(err, sql.ErrNoRows) {
			cur, gerr := getTx(ctx, tx, orderID)
			if gerr != nil {
				return gerr
			}
			switch {
			case cur.ProviderReference != reference:
				return ErrReferenceMismatch
			case cur.Status == StatusHeld:
				out = cur
				return nil
			case cur.IsTerminal():
				return ErrAlreadySettled
			}
			return ErrNotPending
		}
		if err != nil {
			return fmt.Errorf("mark held: %w", err)
		}

		if _, err := orders.TransitionTx(ctx, tx, orders.Transition{
			OrderID: orderID,
			From:    orders.StatusPending,
			To:      orders.StatusPaidEscrow,
			Actor:   "provider",
			Note:    note,
		}); err != nil {
			return orderStateErr(err)
		}
		out, applied = e, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, applied, nil
}

func (p *PostgresStore) DiscardPending(ctx context.Context, orderID, reference, note string) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM escrows
			WHERE order_id = $1 AND provider_reference = $2 AND status = 'pending'`,
			orderID, reference)
		if err != nil {
			return fmt.Errorf("discard escrow: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return explain(ctx, tx, orderID, reference, StatusPending)
		}

		_, err = orders.TransitionTx(ctx, tx, orders.Transition{
			OrderID: orderID,
			From:    orders.StatusPending,
			To:      orders.StatusCreated,
			Actor:   "provider",
			Note:    note,
		})
		return orderStateErr(err)
	})
}

func (p *PostgresStore) Settle(ctx context.Context, s Settlement) (*Escrow, error) {
	var out *Escrow
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		e, err := scanEscrow(tx.QueryRowContext(ctx, `
			UPDATE escrows SET status = $2, seller_fee_minor = $3, updated_at = NOW()
			WHERE order_id = $1 AND status = 'held'
			RETURNING `+escrowColumns, s.OrderID, string(s.To), s.SellerFeeMinor))
		if errors.Is(err, sql.ErrNoRows) {
			return explain(ctx, tx, s.OrderID, "", StatusHeld)
		}
		if err != nil {
			return fmt.Errorf("settle escrow: %w", err)
		}

		if _, err := orders.TransitionTx(ctx, tx, orders.Transition{
			OrderID: s.OrderID,
			From:    s.OrderFrom,
			To:      s.orderTo(),
			Actor:   s.Actor,
			Note:    s.Note,
		}); err != nil {
			return orderStateErr(err)
		}

		if s.Credit != nil {
			if _, err := ledger.CreditTx(ctx, tx, *s.Credit); err != nil {
				return err
			}
		}

		if s.OrderFrom == orders.StatusDisputed {
			if _, err := tx.ExecContext(ctx, `
				UPDATE disputes SET resolution = $2, resolved_by = $3, resolved_at = NOW()
				WHERE order_id = $1 AND resolved_at IS NULL`,
				s.OrderID, string(s.Resolution), s.Actor); err != nil {
				return fmt.Errorf("resolve dispute: %w", err)
			}
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *PostgresStore) OpenDispute(ctx context.Context, d *Dispute) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		var id string
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM escrows WHERE order_id = $1 AND status = 'held' FOR UPDATE`,
			d.OrderID).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			if _, gerr := getTx(ctx, tx, d.OrderID); gerr != nil {
				return gerr
			}
			return ErrNotHeld
		}
		if err != nil {
			return fmt.Errorf("lock escrow: %w", err)
		}

		if _, err := orders.TransitionTx(ctx, tx, orders.Transition{
			OrderID: d.OrderID,
			From:    orders.StatusPaidEscrow,
			To:      orders.StatusDisputed,
			Actor:   d.OpenedBy,
			Note:    "dispute opened: " + d.Reason,
		}); err != nil {
			return orderStateErr(err)
		}

		if d.ID == "" {
			d.ID = idgen.WithPrefix("dsp_")
		}
		err = tx.QueryRowContext(ctx, `
			INSERT INTO disputes (id, order_id, reason, opened_by, opened_at)
			VALUES ($1, $2, $3, $4, NOW())
			RETURNING opened_at`,
			d.ID, d.OrderID, d.Reason, d.OpenedBy).Scan(&d.OpenedAt)
		if err != nil {
			return fmt.Errorf("insert dispute: %w", err)
		}
		return nil
	})
}

func (p *PostgresStore) Disputes(ctx context.Context, orderID string) ([]*Dispute, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, order_id, reason, opened_by, opened_at, resolution, resolved_by, resolved_at
		FROM disputes WHERE order_id = $1 ORDER BY opened_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Dispute
	for rows.Next() {
		d := &Dispute{}
		var (
			resolution sql.NullString
			resolvedBy sql.NullString
			resolvedAt sql.NullTime
		)
		if err := rows.Scan(&d.ID, &d.OrderID, &d.Reason, &d.OpenedBy, &d.OpenedAt,
			&resolution, &resolvedBy, &resolvedAt); err != nil {
			return nil, err
		}
		d.Resolution = Resolution(resolution.String)
		d.ResolvedBy = resolvedBy.String
		if resolvedAt.Valid {
			d.ResolvedAt = &resolvedAt.Time
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *PostgresStore) RecordNote(ctx context.Context, orderID, actor, note string) error {
	return orders.AppendNoteTx(ctx, p.db, orderID, actor, note)
}

func (p *PostgresStore) ListHeldBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Escrow, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+qualified("e")+`
		FROM escrows e JOIN orders o ON o.id = e.order_id
		WHERE e.status = 'held' AND o.status = 'paid_escrow' AND e.updated_at < $1
		ORDER BY e.updated_at
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanEscrows(rows)
}

func (p *PostgresStore) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Escrow, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+escrowColumns+`
		FROM escrows
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanEscrows(rows)
}
