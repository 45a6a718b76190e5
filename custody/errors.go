/*
errors.go - Centralized error types for the custody core

PURPOSE:
  All error types in one place. Atomic-phase failures are surfaced to the
  caller; best-effort ledger failures are logged and never escalate.

ERROR CATEGORIES:
  1. Not-found errors - missing item/staff
  2. Precondition errors - item/staff not in the expected custody state
  3. Conflict errors - optimistic-lock retries exhausted (retryable)
  4. Batch errors - scan validation and submission

USAGE:
  if errors.Is(err, custody.ErrAlreadyCheckedOut) { ... }
  var pe *custody.PreconditionError
  if errors.As(err, &pe) { ... }

SEE ALSO:
  - engine.go: Produces these errors
  - batch.go: Batch validation errors
*/
package custody

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrItemNotFound is returned when the referenced item does not exist.
	ErrItemNotFound = errors.New("item not found")

	// ErrStaffNotFound is returned when the referenced staff record does not exist.
	ErrStaffNotFound = errors.New("staff not found")

	// ErrStaffInactive is returned when checking out to an inactive staff record.
	ErrStaffInactive = errors.New("staff record is not active")

	// ErrAlreadyCheckedOut is returned by checkout on a non-available tool.
	ErrAlreadyCheckedOut = errors.New("item is already checked out")

	// ErrNotCheckedOut is returned by checkin on an available tool.
	ErrNotCheckedOut = errors.New("item is not checked out")

	// ErrInsufficientQuantity is returned when consumable stock cannot cover
	// the requested quantity.
	ErrInsufficientQuantity = errors.New("insufficient quantity")

	// ErrKindMismatch is returned when a tool operation targets a consumable
	// or vice versa.
	ErrKindMismatch = errors.New("operation does not apply to this item kind")

	// ErrInvalidQuantity is returned for zero or negative quantities.
	ErrInvalidQuantity = errors.New("quantity must be positive")

	// ErrTransactionConflict is returned when the store's bounded conflict
	// retries exhaust. Rare; safe to retry the whole operation.
	ErrTransactionConflict = errors.New("transaction conflict")

	// ErrBatchTypeMismatch is returned when a scanned item does not match the
	// established batch type. The batch itself is unchanged.
	ErrBatchTypeMismatch = errors.New("item does not match batch type")

	// ErrDuplicateScan is returned when an item is scanned into a batch twice.
	ErrDuplicateScan = errors.New("item already scanned into this batch")

	// ErrEmptyBatch is returned when submitting a batch with no items.
	ErrEmptyBatch = errors.New("batch has no items")

	// ErrInvalidRange is returned for a history query with end before start.
	ErrInvalidRange = errors.New("invalid range: end before start")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// PreconditionError reports an item that was not in the state the operation
// requires, observed inside the atomic phase (so it reflects the committed
// state at decision time, not the scan-time snapshot).
type PreconditionError struct {
	ItemID string
	Status ItemStatus
	Err    error // ErrAlreadyCheckedOut or ErrNotCheckedOut
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("item %s: %v (status: %s)", e.ItemID, e.Err, e.Status)
}

func (e *PreconditionError) Unwrap() error { return e.Err }

// InsufficientQuantityError reports a consumable stock shortage.
type InsufficientQuantityError struct {
	ItemID    string
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientQuantityError) Error() string {
	return fmt.Sprintf("item %s: insufficient quantity: available %s, requested %s",
		e.ItemID, e.Available, e.Requested)
}

func (e *InsufficientQuantityError) Unwrap() error { return ErrInsufficientQuantity }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing item or staff record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrItemNotFound) || errors.Is(err, ErrStaffNotFound)
}

// IsPrecondition returns true if the error is a custody-state precondition
// failure (client error, not retryable as-is).
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrAlreadyCheckedOut) ||
		errors.Is(err, ErrNotCheckedOut) ||
		errors.Is(err, ErrInsufficientQuantity) ||
		errors.Is(err, ErrStaffInactive) ||
		errors.Is(err, ErrKindMismatch)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransactionConflict)
}
