package models

import (
	"database/sql"
	"time"
)

// Product is the live catalog row. Stock is mutated only by the checkout commit.
type Product struct {
	ID         int64     `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	PriceCents int64     `db:"price_cents" json:"price_cents"`
	ImageRef   string    `db:"image_ref" json:"image_ref"`
	Stock      int       `db:"stock" json:"stock"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// ProductSnapshot is the point-in-time view of a product read at checkout.
type ProductSnapshot struct {
	ID             int64  `db:"id" json:"id"`
	Name           string `db:"name" json:"name"`
	UnitPriceCents int64  `db:"price_cents" json:"unit_price_cents"`
	ImageRef       string `db:"image_ref" json:"image_ref"`
	AvailableStock int    `db:"stock" json:"available_stock"`
}

// CartLine is a client supplied line of the cart being checked out.
type CartLine struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// StockReservation is stock already taken out of Product.stock before checkout.
// Guests own reservations through SessionID.
type StockReservation struct {
	ID        int64          `db:"id" json:"id"`
	UserID    sql.NullInt64  `db:"user_id" json:"user_id"`
	SessionID sql.NullString `db:"session_id" json:"session_id"`
	ProductID int64          `db:"product_id" json:"product_id"`
	Quantity  int            `db:"quantity" json:"quantity"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

type CouponType string

const (
	CouponTypePercentage CouponType = "PERCENTAGE"
	CouponTypeFixed      CouponType = "FIXED"
)

// Coupon is a promotional code. For PERCENTAGE coupons Value is a whole percent,
// for FIXED coupons it is an amount in cents.
type Coupon struct {
	ID         int64         `db:"id" json:"id"`
	Code       string        `db:"code" json:"code"`
	Type       CouponType    `db:"type" json:"type"`
	Value      int64         `db:"value" json:"value"`
	IsActive   bool          `db:"is_active" json:"is_active"`
	ExpiresAt  sql.NullTime  `db:"expires_at" json:"expires_at"`
	UsageLimit sql.NullInt64 `db:"usage_limit" json:"usage_limit"`
	UsageCount int64         `db:"usage_count" json:"usage_count"`
}

// ShippingZone carries an explicit shipping charge for a delivery area.
type ShippingZone struct {
	ID          int64  `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	ChargeCents int64  `db:"charge_cents" json:"charge_cents"`
}

// ContactInfo is the buyer's delivery contact copied onto the order.
type ContactInfo struct {
	Name    string `json:"name" binding:"required"`
	Email   string `json:"email" binding:"required,email"`
	Phone   string `json:"phone"`
	Address string `json:"address" binding:"required"`
}

// Order is created exactly once, together with its lines.
type Order struct {
	ID                  int64          `db:"id" json:"id"`
	OrderNumber         string         `db:"order_number" json:"order_number"`
	UserID              sql.NullInt64  `db:"user_id" json:"user_id"`
	ContactName         string         `db:"contact_name" json:"contact_name"`
	ContactEmail        string         `db:"contact_email" json:"contact_email"`
	ContactPhone        string         `db:"contact_phone" json:"contact_phone"`
	ContactAddress      string         `db:"contact_address" json:"contact_address"`
	SubtotalCents       int64          `db:"subtotal_cents" json:"subtotal_cents"`
	DiscountAmountCents int64          `db:"discount_amount_cents" json:"discount_amount_cents"`
	ShippingAmountCents int64          `db:"shipping_amount_cents" json:"shipping_amount_cents"`
	TaxAmountCents      int64          `db:"tax_amount_cents" json:"tax_amount_cents"`
	TotalAmountCents    int64          `db:"total_amount_cents" json:"total_amount_cents"`
	Currency            string         `db:"currency" json:"currency"`
	Status              string         `db:"status" json:"status"`
	PaymentStatus       string         `db:"payment_status" json:"payment_status"`
	PaymentMethod       string         `db:"payment_method" json:"payment_method"`
	ExternalPaymentRef  sql.NullString `db:"external_payment_ref" json:"external_payment_ref"`
	CouponID            sql.NullInt64  `db:"coupon_id" json:"coupon_id"`
	CreatedAt           time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at" json:"updated_at"`
}

// OrderLine is a copy of product attributes at the time of purchase.
type OrderLine struct {
	ID             int64  `db:"id" json:"id"`
	OrderID        int64  `db:"order_id" json:"order_id"`
	ProductID      int64  `db:"product_id" json:"product_id"`
	Name           string `db:"name" json:"name"`
	UnitPriceCents int64  `db:"unit_price_cents" json:"unit_price_cents"`
	Quantity       int    `db:"quantity" json:"quantity"`
	ImageRef       string `db:"image_ref" json:"image_ref"`
}

// OutboxEvent is an event row written in the same transaction as the order.
type OutboxEvent struct {
	ID           int64        `db:"id"`
	EventID      string       `db:"event_id"`
	EventType    string       `db:"event_type"`
	AggregateKey string       `db:"aggregate_key"`
	Payload      []byte       `db:"payload"`
	CreatedAt    time.Time    `db:"created_at"`
	PublishedAt  sql.NullTime `db:"published_at"`
}

// Order statuses
const (
	OrderStatusPending    = "PENDING"
	OrderStatusProcessing = "PROCESSING"
)

// Payment statuses
const (
	PaymentStatusPending = "PENDING"
	PaymentStatusPaid    = "PAID"
)

// Payment methods
const (
	PaymentMethodCOD     = "COD"
	PaymentMethodGateway = "GATEWAY"
)
