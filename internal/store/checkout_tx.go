package store

import (
	"context"
	"database/sql"
	"fmt"

	"storefront-checkout/internal/models"

	"github.com/jmoiron/sqlx"
)

// ReservationOwner identifies whose reservations a checkout consumes.
// Authenticated users own reservations by user id, guests by session id.
type ReservationOwner struct {
	UserID    *int64
	SessionID string
}

// CheckoutTx is the unit of work used to commit an order. Every method runs
// inside the same database transaction; nothing is visible to other sessions
// until the enclosing WithCheckoutTx returns nil.
type CheckoutTx interface {
	// LockProductStock locks the product rows (in id order) and returns their stock.
	LockProductStock(ctx context.Context, productIDs []int64) (map[int64]int, error)
	// ReservationsForUpdate locks and returns the owner's reservations for the products.
	ReservationsForUpdate(ctx context.Context, owner ReservationOwner, productIDs []int64) ([]models.StockReservation, error)
	InsertOrder(ctx context.Context, order *models.Order) error
	InsertOrderLines(ctx context.Context, lines []models.OrderLine) error
	// DecrementStock subtracts qty from a product's stock unless that would take
	// it below zero. A negative qty returns stock. Reports whether a row changed.
	DecrementStock(ctx context.Context, productID int64, qty int) (bool, error)
	DeleteReservations(ctx context.Context, ids []int64) error
	// IncrementCouponUsage adds one use. With enforceLimit the update only
	// applies while usage_count < usage_limit. Reports whether a row changed.
	IncrementCouponUsage(ctx context.Context, couponID int64, enforceLimit bool) (bool, error)
	ClearCart(ctx context.Context, userID int64) error
	InsertOutboxEvent(ctx context.Context, event *models.OutboxEvent) error
}

// WithCheckoutTx runs fn inside a READ COMMITTED transaction. Oversell is
// prevented by the row locks and conditional updates of CheckoutTx, not by the
// isolation level. Any error from fn rolls everything back; Postgres errors
// are classified so callers can tell retryable conflicts apart.
func (s *Store) WithCheckoutTx(ctx context.Context, fn func(tx CheckoutTx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback()

	if err := fn(&checkoutTx{tx: tx}); err != nil {
		return classify(err)
	}

	return classify(tx.Commit())
}

type checkoutTx struct {
	tx *sqlx.Tx
}

func (c *checkoutTx) LockProductStock(ctx context.Context, productIDs []int64) (map[int64]int, error) {
	if len(productIDs) == 0 {
		return map[int64]int{}, nil
	}

	query, args, err := sqlx.In("SELECT id, stock FROM products WHERE id IN (?) ORDER BY id FOR UPDATE", productIDs)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		ID    int64 `db:"id"`
		Stock int   `db:"stock"`
	}
	if err := c.tx.SelectContext(ctx, &rows, c.tx.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to lock products: %w", err)
	}

	stock := make(map[int64]int, len(rows))
	for _, r := range rows {
		stock[r.ID] = r.Stock
	}
	return stock, nil
}

func (c *checkoutTx) ReservationsForUpdate(ctx context.Context, owner ReservationOwner, productIDs []int64) ([]models.StockReservation, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}

	const cols = "SELECT id, user_id, session_id, product_id, quantity, created_at FROM stock_reservations"

	var (
		query string
		args  []interface{}
		err   error
	)
	switch {
	case owner.UserID != nil:
		query, args, err = sqlx.In(cols+" WHERE user_id = ? AND product_id IN (?) ORDER BY id FOR UPDATE",
			*owner.UserID, productIDs)
	case owner.SessionID != "":
		query, args, err = sqlx.In(cols+" WHERE user_id IS NULL AND session_id = ? AND product_id IN (?) ORDER BY id FOR UPDATE",
			owner.SessionID, productIDs)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var reservations []models.StockReservation
	if err := c.tx.SelectContext(ctx, &reservations, c.tx.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to lock reservations: %w", err)
	}
	return reservations, nil
}

func (c *checkoutTx) InsertOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (
			order_number, user_id, contact_name, contact_email, contact_phone, contact_address,
			subtotal_cents, discount_amount_cents, shipping_amount_cents, tax_amount_cents, total_amount_cents,
			currency, status, payment_status, payment_method, external_payment_ref, coupon_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id, created_at, updated_at`

	return c.tx.GetContext(ctx, order, query,
		order.OrderNumber, order.UserID, order.ContactName, order.ContactEmail, order.ContactPhone, order.ContactAddress,
		order.SubtotalCents, order.DiscountAmountCents, order.ShippingAmountCents, order.TaxAmountCents, order.TotalAmountCents,
		order.Currency, order.Status, order.PaymentStatus, order.PaymentMethod, order.ExternalPaymentRef, order.CouponID)
}

func (c *checkoutTx) InsertOrderLines(ctx context.Context, lines []models.OrderLine) error {
	if len(lines) == 0 {
		return nil
	}
	_, err := c.tx.NamedExecContext(ctx, `
		INSERT INTO order_lines (order_id, product_id, name, unit_price_cents, quantity, image_ref)
		VALUES (:order_id, :product_id, :name, :unit_price_cents, :quantity, :image_ref)`, lines)
	return err
}

func (c *checkoutTx) DecrementStock(ctx context.Context, productID int64, qty int) (bool, error) {
	res, err := c.tx.ExecContext(ctx,
		"UPDATE products SET stock = stock - $1 WHERE id = $2 AND stock - $1 >= 0",
		qty, productID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *checkoutTx) DeleteReservations(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In("DELETE FROM stock_reservations WHERE id IN (?)", ids)
	if err != nil {
		return err
	}
	_, err = c.tx.ExecContext(ctx, c.tx.Rebind(query), args...)
	return err
}

func (c *checkoutTx) IncrementCouponUsage(ctx context.Context, couponID int64, enforceLimit bool) (bool, error) {
	query := "UPDATE coupons SET usage_count = usage_count + 1 WHERE id = $1"
	if enforceLimit {
		query += " AND (usage_limit IS NULL OR usage_count < usage_limit)"
	}

	res, err := c.tx.ExecContext(ctx, query, couponID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *checkoutTx) ClearCart(ctx context.Context, userID int64) error {
	_, err := c.tx.ExecContext(ctx, "DELETE FROM cart_items WHERE user_id = $1", userID)
	return err
}

func (c *checkoutTx) InsertOutboxEvent(ctx context.Context, event *models.OutboxEvent) error {
	return c.tx.GetContext(ctx, event, `
		INSERT INTO outbox_events (event_id, event_type, aggregate_key, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		event.EventID, event.EventType, event.AggregateKey, string(event.Payload))
}
