package errs

import (
	"errors"
	"fmt"
)

// Sentinel errors for branches that carry no extra detail.
var (
	ErrNotFound          = errors.New("not found")
	ErrCaptureInProgress = errors.New("a capture for this order is already in progress")
)

// ValidationError rejects bad input before any mutation happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func Validation(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// InsufficientStockError is reported per variant with the counts the
// buyer needs to see. The caller attaches the human-readable name.
type InsufficientStockError struct {
	VariantID   string
	ProductName string
	Available   int
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	name := e.ProductName
	if name == "" {
		name = e.VariantID
	}
	return fmt.Sprintf("insufficient stock for %s: available %d, requested %d", name, e.Available, e.Requested)
}

// IllegalTransitionError signals an event that does not match the
// order's current state. The order is left untouched.
type IllegalTransitionError struct {
	OrderID string
	Event   string
	Status  string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("order %s: event %q not allowed in status %q", e.OrderID, e.Event, e.Status)
}

// GatewayUnavailableError marks a transient gateway failure. No local
// state was changed; the caller may retry the same call.
type GatewayUnavailableError struct {
	Op  string
	Err error
}

func (e *GatewayUnavailableError) Error() string {
	return fmt.Sprintf("payment gateway unavailable during %s: %v", e.Op, e.Err)
}

func (e *GatewayUnavailableError) Unwrap() error { return e.Err }

// IsRetryable reports whether the caller should retry the operation
// without treating the payment as failed.
func IsRetryable(err error) bool {
	var g *GatewayUnavailableError
	return errors.As(err, &g) || errors.Is(err, ErrCaptureInProgress)
}
