package service

import (
	"context"
	"time"

	"storefront-checkout/internal/gateway"
	"storefront-checkout/internal/models"
	"storefront-checkout/internal/redisclient"
	"storefront-checkout/internal/store"
)

// CatalogStore is the read-only catalog collaborator.
type CatalogStore interface {
	GetProductSnapshots(ctx context.Context, ids []int64) ([]models.ProductSnapshot, error)
}

type CouponStore interface {
	GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error)
}

type OrderNumberStore interface {
	OrderNumberExists(ctx context.Context, number string) (bool, error)
}

// TxRunner opens the atomic unit of work used by the commit.
type TxRunner interface {
	WithCheckoutTx(ctx context.Context, fn func(tx store.CheckoutTx) error) error
}

// OrderStore is everything order placement needs from persistence.
// *store.Store satisfies it.
type OrderStore interface {
	CatalogStore
	CouponStore
	OrderNumberStore
	TxRunner
	GetShippingZone(ctx context.Context, id int64) (*models.ShippingZone, error)
	GetOrderByNumber(ctx context.Context, number string) (*models.Order, error)
	GetOrderLines(ctx context.Context, orderID int64) ([]models.OrderLine, error)
}

type PaymentGateway interface {
	RetrievePayment(ctx context.Context, ref string) (*gateway.Payment, error)
}

// IdempotencyStore guards against double submission of the same checkout.
// *redisclient.Client satisfies it.
type IdempotencyStore interface {
	ClaimIdempotencyKey(ctx context.Context, key, fingerprint string, pendingTTL time.Duration) (*redisclient.Claim, error)
	CompleteIdempotencyKey(ctx context.Context, key string, claim *redisclient.Claim, orderNumber string, ttl time.Duration) error
	ReleaseIdempotencyKey(ctx context.Context, key string, claim *redisclient.Claim) error
}
