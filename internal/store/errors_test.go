package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	assert.NoError(t, classify(nil))

	plain := errors.New("boom")
	assert.Same(t, plain, classify(plain))

	err := classify(&pq.Error{Code: "40001"})
	assert.ErrorIs(t, err, ErrWriteConflict)

	err = classify(fmt.Errorf("insert: %w", &pq.Error{Code: "40P01"}))
	assert.ErrorIs(t, err, ErrWriteConflict)

	err = classify(&pq.Error{Code: "23505", Constraint: "orders_order_number_key"})
	assert.ErrorIs(t, err, ErrDuplicateOrderNumber)

	err = classify(&pq.Error{Code: "23505", Constraint: "orders_external_payment_ref_key"})
	assert.ErrorIs(t, err, ErrPaymentRefUsed)

	other := &pq.Error{Code: "23505", Constraint: "idx_coupons_code"}
	assert.Equal(t, error(other), classify(other))
}

func TestClassifyKeepsDriverError(t *testing.T) {
	err := classify(fmt.Errorf("insert order: %w", &pq.Error{
		Code:       "23505",
		Constraint: "orders_order_number_key",
	}))
	assert.ErrorIs(t, err, ErrDuplicateOrderNumber)

	var pqErr *pq.Error
	if assert.ErrorAs(t, err, &pqErr) {
		assert.Equal(t, pq.ErrorCode("23505"), pqErr.Code)
		assert.Equal(t, "orders_order_number_key", pqErr.Constraint)
	}

	err = classify(&pq.Error{Code: "40001"})
	assert.ErrorIs(t, err, ErrWriteConflict)
	assert.ErrorAs(t, err, &pqErr)
}
