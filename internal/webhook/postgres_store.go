package webhook

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore persists deliveries in the webhook_deliveries table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed delivery inbox.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const deliveryColumns = `id, event, reference, order_id, signature_ok, outcome, detail, received_at`

func (p *PostgresStore) Record(ctx context.Context, d *Delivery) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (`+deliveryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.Event, nullString(d.Reference), nullString(d.OrderID),
		d.SignatureOK, string(d.Outcome), nullString(d.Detail), d.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

func (p *PostgresStore) ListByReference(ctx context.Context, reference string, limit int) ([]*Delivery, error) {
	return p.query(ctx, `
		SELECT `+deliveryColumns+` FROM webhook_deliveries
		WHERE reference = $1 ORDER BY received_at DESC LIMIT $2`, reference, limit)
}

func (p *PostgresStore) Recent(ctx context.Context, limit int) ([]*Delivery, error) {
	return p.query(ctx, `
		SELECT `+deliveryColumns+` FROM webhook_deliveries
		ORDER BY received_at DESC LIMIT $1`, limit)
}

func (p *PostgresStore) query(ctx context.Context, q string, args ...any) ([]*Delivery, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Delivery
	for rows.Next() {
		d := &Delivery{}
		var ref, orderID, detail sql.NullString
		var outcome string
		if err := rows.Scan(&d.ID, &d.Event, &ref, &orderID, &d.SignatureOK, &outcome, &detail, &d.ReceivedAt); err != nil {
			return nil, err
		}
		d.Reference = ref.String
		d.OrderID = orderID.String
		d.Detail = detail.String
		d.Outcome = Outcome(outcome)
		out = append(out, d)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
