package service

import (
	"errors"
	"fmt"
	"testing"

	"storefront-checkout/internal/store"

	"github.com/stretchr/testify/assert"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: &InvalidCartError{Reason: "cart is empty"}, want: CodeInvalidCart},
		{err: fmt.Errorf("wrapped: %w", &OutOfStockError{ProductID: 1}), want: CodeOutOfStock},
		{err: &CouponError{Code: "X", Status: CouponExpired}, want: CodeCouponRejected},
		{err: &PaymentVerificationError{Reason: "amount mismatch"}, want: CodePaymentVerification},
		{err: &TransientCommitError{Attempts: 4, Err: store.ErrWriteConflict}, want: CodeTransientCommit},
		{err: ErrOrderNumberExhausted, want: CodeOrderNumberExhausted},
		{err: ErrSubmissionInFlight, want: CodeSubmissionInFlight},
		{err: ErrIdempotencyKeyReused, want: CodeIdempotencyKeyReused},
		{err: ErrOrderNotFound, want: CodeNotFound},
		{err: errors.New("boom"), want: CodeInternal},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorCode(tt.err), tt.err.Error())
	}
}

func TestErrorsUnwrap(t *testing.T) {
	tce := &TransientCommitError{Attempts: 2, Err: fmt.Errorf("%w: deadlock", store.ErrWriteConflict)}
	assert.ErrorIs(t, tce, store.ErrWriteConflict)

	pve := &PaymentVerificationError{Reason: "payment already used", Err: store.ErrPaymentRefUsed}
	assert.ErrorIs(t, pve, store.ErrPaymentRefUsed)
	assert.Equal(t, "payment verification failed: payment already used: "+store.ErrPaymentRefUsed.Error(), pve.Error())
}
