package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"storefront-checkout/internal/models"
)

// idempotencySettleTimeout bounds completing or releasing a claim after the
// request context may already be gone.
const idempotencySettleTimeout = 3 * time.Second

// idempotencyScope namespaces a client supplied key by the caller, so two
// buyers sending the same key never share a claim.
func idempotencyScope(identity Identity, key string) string {
	switch {
	case identity.UserID != nil:
		return fmt.Sprintf("user:%d:%s", *identity.UserID, key)
	case identity.SessionID != "":
		return fmt.Sprintf("session:%s:%s", identity.SessionID, key)
	default:
		return "guest:" + key
	}
}

type fingerprintInput struct {
	Lines          []models.CartLine  `json:"lines"`
	Contact        models.ContactInfo `json:"contact"`
	PaymentMethod  string             `json:"payment_method"`
	PaymentRef     string             `json:"payment_ref"`
	CouponCode     string             `json:"coupon_code"`
	ShippingZoneID *int64             `json:"shipping_zone_id"`
}

// requestFingerprint hashes the normalized submission. Line order, duplicate
// lines and letter case of codes do not change it.
func requestFingerprint(req *PlaceOrderRequest) string {
	payload, _ := json.Marshal(fingerprintInput{
		Lines: mergeLines(req.Lines),
		Contact: models.ContactInfo{
			Name:    strings.TrimSpace(req.Contact.Name),
			Email:   strings.ToLower(strings.TrimSpace(req.Contact.Email)),
			Phone:   strings.TrimSpace(req.Contact.Phone),
			Address: strings.TrimSpace(req.Contact.Address),
		},
		PaymentMethod:  strings.ToUpper(strings.TrimSpace(req.PaymentMethod)),
		PaymentRef:     strings.TrimSpace(req.PaymentRef),
		CouponCode:     strings.ToLower(strings.TrimSpace(req.CouponCode)),
		ShippingZoneID: req.ShippingZoneID,
	})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// settleContext outlives the request so a claim is still completed or
// released after the client disconnects or the payment timeout fires.
func settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), idempotencySettleTimeout)
}
