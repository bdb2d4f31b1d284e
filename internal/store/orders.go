package store

import (
	"context"
	"database/sql"
	"errors"

	"storefront-checkout/internal/models"
)

// OrderNumberExists reports whether an order already uses number.
func (s *Store) OrderNumberExists(ctx context.Context, number string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM orders WHERE order_number = $1)", number)
	return exists, err
}

// GetOrderByNumber retrieves an order by its external number
func (s *Store) GetOrderByNumber(ctx context.Context, number string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE order_number = $1", number)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderLines retrieves all lines for an order
func (s *Store) GetOrderLines(ctx context.Context, orderID int64) ([]models.OrderLine, error) {
	var lines []models.OrderLine
	err := s.db.SelectContext(ctx, &lines,
		"SELECT * FROM order_lines WHERE order_id = $1 ORDER BY id", orderID)
	return lines, err
}

// FetchUnpublishedEvents returns outbox rows not yet handed to the broker, oldest first.
func (s *Store) FetchUnpublishedEvents(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	var events []models.OutboxEvent
	err := s.db.SelectContext(ctx, &events,
		`SELECT id, event_id, event_type, aggregate_key, payload, created_at, published_at
		 FROM outbox_events WHERE published_at IS NULL ORDER BY id LIMIT $1`, limit)
	return events, err
}

// MarkEventPublished stamps an outbox row as delivered
func (s *Store) MarkEventPublished(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE outbox_events SET published_at = NOW() WHERE id = $1 AND published_at IS NULL", id)
	return err
}
