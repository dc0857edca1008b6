// Package tracking is the append-only audit trail of order status changes.
package tracking

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/joao-fontenele/giftshop/internal/domain"
)

// Querier is satisfied by both *sql.DB and *sql.Tx so entries can be written
// inside the transaction that changes the order.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Append writes a new entry and fills its id and timestamp when unset.
func Append(ctx context.Context, q Querier, entry *domain.TrackingEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO order_tracking (id, order_id, status, message, location, courier_name, tracking_number, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, entry.ID, entry.OrderID, entry.Status, entry.Message, entry.Location,
		entry.CourierName, entry.TrackingNumber, entry.Actor, entry.CreatedAt)
	return err
}

// List returns the history of an order in creation order.
func List(ctx context.Context, q Querier, orderID string) ([]domain.TrackingEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, order_id, status, message, location, courier_name, tracking_number, actor, created_at
		FROM order_tracking
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	entries := []domain.TrackingEntry{}
	for rows.Next() {
		var e domain.TrackingEntry
		if err := rows.Scan(&e.ID, &e.OrderID, &e.Status, &e.Message, &e.Location,
			&e.CourierName, &e.TrackingNumber, &e.Actor, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}
