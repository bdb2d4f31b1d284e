package store

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrWriteConflict marks a serialization failure or deadlock; the whole
	// transaction can be retried against fresh data.
	ErrWriteConflict = errors.New("write conflict")

	ErrDuplicateOrderNumber = errors.New("duplicate order number")
	ErrPaymentRefUsed       = errors.New("payment reference already used by another order")
)

const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"

	orderNumberConstraint = "orders_order_number_key"
	paymentRefConstraint  = "orders_external_payment_ref_key"
)

// classify maps Postgres errors onto the store's sentinel errors. Errors that
// are not *pq.Error are returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case pgSerializationFailure, pgDeadlockDetected:
		return fmt.Errorf("%w: %w", ErrWriteConflict, err)
	case pgUniqueViolation:
		switch pqErr.Constraint {
		case orderNumberConstraint:
			return fmt.Errorf("%w: %w", ErrDuplicateOrderNumber, err)
		case paymentRefConstraint:
			return fmt.Errorf("%w: %w", ErrPaymentRefUsed, err)
		}
	}
	return err
}
