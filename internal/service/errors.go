package service

import (
	"errors"
	"fmt"
)

// Machine readable error codes returned to API clients.
const (
	CodeInvalidCart          = "invalid_cart"
	CodeOutOfStock           = "out_of_stock"
	CodeCouponRejected       = "coupon_rejected"
	CodePaymentVerification  = "payment_verification_failed"
	CodeOrderNumberExhausted = "order_number_exhausted"
	CodeTransientCommit      = "transient_commit"
	CodeSubmissionInFlight   = "submission_in_progress"
	CodeIdempotencyKeyReused = "idempotency_key_reused"
	CodeNotFound             = "not_found"
	CodeInternal             = "internal"
)

var (
	// ErrOrderNumberExhausted is returned when no unused order number could be
	// generated within the configured number of attempts.
	ErrOrderNumberExhausted = errors.New("order number generation exhausted")

	// ErrSubmissionInFlight means another request with the same idempotency key
	// is still being processed.
	ErrSubmissionInFlight = errors.New("order submission already in progress")

	// ErrIdempotencyKeyReused means the idempotency key was already used by the
	// same caller for a different request.
	ErrIdempotencyKeyReused = errors.New("idempotency key already used for a different request")

	ErrOrderNotFound = errors.New("order not found")
)

// InvalidCartError reports a malformed cart or a line that does not resolve
// to a product. ProductID is zero when the problem is not tied to a product.
type InvalidCartError struct {
	Reason    string
	ProductID int64
}

func (e *InvalidCartError) Error() string {
	if e.ProductID != 0 {
		return fmt.Sprintf("invalid cart: %s (product %d)", e.Reason, e.ProductID)
	}
	return "invalid cart: " + e.Reason
}

type OutOfStockError struct {
	ProductID int64
	Name      string
	Requested int
	Available int
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("product %d (%s) is out of stock: requested %d, available %d",
		e.ProductID, e.Name, e.Requested, e.Available)
}

type CouponStatus string

const (
	CouponNotFound     CouponStatus = "NOT_FOUND"
	CouponInactive     CouponStatus = "INACTIVE"
	CouponExpired      CouponStatus = "EXPIRED"
	CouponLimitReached CouponStatus = "LIMIT_REACHED"
	CouponValid        CouponStatus = "VALID"
)

type CouponError struct {
	Code   string
	Status CouponStatus
}

func (e *CouponError) Error() string {
	return fmt.Sprintf("coupon %q rejected: %s", e.Code, e.Status)
}

// PaymentVerificationError means the gateway record does not back the order.
// Err carries the underlying gateway failure, if any.
type PaymentVerificationError struct {
	Reason string
	Err    error
}

func (e *PaymentVerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("payment verification failed: %s: %v", e.Reason, e.Err)
	}
	return "payment verification failed: " + e.Reason
}

func (e *PaymentVerificationError) Unwrap() error {
	return e.Err
}

// TransientCommitError is returned once the commit has been retried the
// maximum number of times without getting past storage contention.
type TransientCommitError struct {
	Attempts int
	Err      error
}

func (e *TransientCommitError) Error() string {
	return fmt.Sprintf("commit failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TransientCommitError) Unwrap() error {
	return e.Err
}

// ErrorCode maps err to one of the Code constants.
func ErrorCode(err error) string {
	var (
		invalidCart *InvalidCartError
		outOfStock  *OutOfStockError
		coupon      *CouponError
		payment     *PaymentVerificationError
		transient   *TransientCommitError
	)

	switch {
	case errors.As(err, &invalidCart):
		return CodeInvalidCart
	case errors.As(err, &outOfStock):
		return CodeOutOfStock
	case errors.As(err, &coupon):
		return CodeCouponRejected
	case errors.As(err, &payment):
		return CodePaymentVerification
	case errors.As(err, &transient):
		return CodeTransientCommit
	case errors.Is(err, ErrOrderNumberExhausted):
		return CodeOrderNumberExhausted
	case errors.Is(err, ErrSubmissionInFlight):
		return CodeSubmissionInFlight
	case errors.Is(err, ErrIdempotencyKeyReused):
		return CodeIdempotencyKeyReused
	case errors.Is(err, ErrOrderNotFound):
		return CodeNotFound
	default:
		return CodeInternal
	}
}
