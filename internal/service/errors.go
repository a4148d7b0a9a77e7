package service

import (
	"fmt"
	"order-payment-service/internal/gateway"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when the referenced order, attempt or
	// reservation does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when the caller does not own the resource.
	ErrForbidden = errors.New("forbidden")
	// ErrStalePrecondition is returned when a conditional write finds that
	// another transaction changed the row first.
	ErrStalePrecondition = errors.New("state changed concurrently")
	// ErrPaymentClosed is returned when a payment can no longer be retried
	// or switched to another method.
	ErrPaymentClosed = errors.New("payment can no longer be changed")
)

// ValidationError reports bad input. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// InsufficientStockError is returned when a line asks for more portions than
// the dish has left.
type InsufficientStockError struct {
	DishID    string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for dish %s: requested %d, available %d", e.DishID, e.Requested, e.Available)
}

// InvalidTransitionError names both ends of a rejected status change.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid order status transition from %s to %s", e.From, e.To)
}

// MismatchError is returned when a reported paid amount falls outside the
// tolerance band around the recorded attempt amount.
type MismatchError struct {
	AttemptID string
	Expected  decimal.Decimal
	Got       decimal.Decimal
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("reconciliation mismatch for attempt %s: expected %s, got %s",
		e.AttemptID, e.Expected.String(), e.Got.String())
}

// TxAbortError is the single error a caller sees when a unit of work was
// rolled back. Err is whatever failed inside it.
type TxAbortError struct {
	Op  string
	Err error
}

func (e *TxAbortError) Error() string {
	return fmt.Sprintf("%s aborted: %v", e.Op, e.Err)
}

func (e *TxAbortError) Unwrap() error { return e.Err }

func abort(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TxAbortError{Op: op, Err: err}
}

// IsReconciliationMismatch reports a callback that must not be treated as
// paid: a bad signature or an amount outside tolerance.
func IsReconciliationMismatch(err error) bool {
	var mismatch *MismatchError
	return errors.As(err, &mismatch) || errors.Is(err, gateway.ErrInvalidSignature)
}

// IsClientError reports errors caused by the request rather than the system.
func IsClientError(err error) bool {
	var (
		validation *ValidationError
		stock      *InsufficientStockError
		transition *InvalidTransitionError
	)
	return errors.As(err, &validation) || errors.As(err, &stock) || errors.As(err, &transition) ||
		errors.Is(err, ErrPaymentClosed)
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Wrap(ErrNotFound, what)
	}
	return errors.Wrapf(err, "load %s", what)
}
