package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront-checkout/internal/models"
	"storefront-checkout/internal/store"
)

// CouponValidation is the advisory result of a coupon check. Coupon is set
// whenever the code resolved, whatever the status.
type CouponValidation struct {
	Status CouponStatus
	Coupon *models.Coupon
}

func (v *CouponValidation) Valid() bool {
	return v.Status == CouponValid
}

type CouponValidator struct {
	store CouponStore
	now   func() time.Time
}

func NewCouponValidator(store CouponStore, now func() time.Time) *CouponValidator {
	if now == nil {
		now = time.Now
	}
	return &CouponValidator{store: store, now: now}
}

// Validate looks the code up case-insensitively and reports its status.
// Only storage failures are returned as errors.
func (v *CouponValidator) Validate(ctx context.Context, code string) (*CouponValidation, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return &CouponValidation{Status: CouponNotFound}, nil
	}

	coupon, err := v.store.GetCouponByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return &CouponValidation{Status: CouponNotFound}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up coupon: %w", err)
	}

	return &CouponValidation{Status: v.status(coupon), Coupon: coupon}, nil
}

func (v *CouponValidator) status(c *models.Coupon) CouponStatus {
	switch {
	case !c.IsActive:
		return CouponInactive
	case c.ExpiresAt.Valid && !v.now().Before(c.ExpiresAt.Time):
		return CouponExpired
	case c.UsageLimit.Valid && c.UsageCount >= c.UsageLimit.Int64:
		return CouponLimitReached
	default:
		return CouponValid
	}
}
