package models

import "time"

// Event types
const (
	EventTypeOrderPlaced = "ORDER_PLACED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderPlacedEvent is recorded in the outbox when an order commits.
type OrderPlacedEvent struct {
	BaseEvent
	OrderID          int64           `json:"order_id"`
	OrderNumber      string          `json:"order_number"`
	UserID           *int64          `json:"user_id,omitempty"`
	TotalAmountCents int64           `json:"total_amount_cents"`
	Currency         string          `json:"currency"`
	PaymentMethod    string          `json:"payment_method"`
	PaymentStatus    string          `json:"payment_status"`
	CouponID         *int64          `json:"coupon_id,omitempty"`
	Items            []OrderItemData `json:"items"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID      int64 `json:"product_id"`
	Quantity       int   `json:"quantity"`
	UnitPriceCents int64 `json:"unit_price_cents"`
}
