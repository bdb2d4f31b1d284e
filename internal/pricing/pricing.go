// Package pricing turns priced cart lines, an optional coupon and the shipping
// policy into order totals. Every amount is in integer cents and Compute is a
// pure function: the payment verifier compares its Total against the charge
// recorded by the gateway, so identical inputs must give identical totals.
package pricing

import (
	"fmt"

	"storefront-checkout/internal/models"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Policy is the store-wide shipping and tax configuration.
type Policy struct {
	FlatShippingCents          int64
	FreeShippingThresholdCents int64
	// TaxRatePercent is applied to the subtotal before discounts.
	TaxRatePercent decimal.Decimal
}

// AppliedCoupon is a coupon that passed validation.
type AppliedCoupon struct {
	Type  models.CouponType
	Value int64
}

type Input struct {
	Lines     []models.CartLine
	Snapshots map[int64]models.ProductSnapshot
	Coupon    *AppliedCoupon
	// ZoneChargeCents overrides the flat shipping fee when set.
	ZoneChargeCents *int64
}

type Breakdown struct {
	SubtotalCents int64 `json:"subtotal_cents"`
	DiscountCents int64 `json:"discount_cents"`
	ShippingCents int64 `json:"shipping_cents"`
	TaxCents      int64 `json:"tax_cents"`
	TotalCents    int64 `json:"total_cents"`
}

// Compute prices the cart.
//
// The discount is kept as computed even when it exceeds the subtotal; only the
// final total is clamped at zero. Free shipping applies when the subtotal is
// strictly above the threshold and waives the zone charge as well as the flat fee.
func Compute(in Input, policy Policy) (Breakdown, error) {
	var b Breakdown

	for _, line := range in.Lines {
		snap, ok := in.Snapshots[line.ProductID]
		if !ok {
			return Breakdown{}, fmt.Errorf("no snapshot for product %d", line.ProductID)
		}
		b.SubtotalCents += snap.UnitPriceCents * int64(line.Quantity)
	}

	if in.Coupon != nil {
		switch in.Coupon.Type {
		case models.CouponTypePercentage:
			b.DiscountCents = percentOf(b.SubtotalCents, decimal.NewFromInt(in.Coupon.Value))
		case models.CouponTypeFixed:
			b.DiscountCents = in.Coupon.Value
		default:
			return Breakdown{}, fmt.Errorf("unknown coupon type %q", in.Coupon.Type)
		}
	}

	if in.ZoneChargeCents != nil {
		b.ShippingCents = *in.ZoneChargeCents
	} else {
		b.ShippingCents = policy.FlatShippingCents
	}
	if b.SubtotalCents > policy.FreeShippingThresholdCents {
		b.ShippingCents = 0
	}

	b.TaxCents = percentOf(b.SubtotalCents, policy.TaxRatePercent)

	b.TotalCents = max(0, b.SubtotalCents-b.DiscountCents+b.ShippingCents+b.TaxCents)
	return b, nil
}

// percentOf returns amount × pct / 100 rounded half away from zero to the cent.
func percentOf(amount int64, pct decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(pct).Div(hundred).Round(0).IntPart()
}
