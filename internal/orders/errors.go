package orders

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrProductNotFound = errors.New("product not found")

	// ErrConcurrencyConflict is surfaced after the store has exhausted
	// its internal retries on transaction contention.
	ErrConcurrencyConflict = errors.New("transaction conflict, retries exhausted")

	// ErrDuplicateExternalID means another create with the same external
	// id committed first. The orchestrator resolves it to that order.
	ErrDuplicateExternalID = errors.New("duplicate external id")
)

// InsufficientStockError is a refused reservation. No side effect occurred.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// InvalidStateTransitionError is a guard failure. No side effect occurred.
type InvalidStateTransitionError struct {
	From  Status
	Event Event
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: cannot %s order in state %s", e.Event, e.From)
}

// ValidationError rejects malformed input before any side effect.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid value for %s", e.Field)
}

// PersistenceError wraps a storage fault inside an operation. When it
// happens after a successful reservation the shared transaction rolls
// the reservation back, and the orchestrator logs it distinctly.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
