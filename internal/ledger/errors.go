package ledger

import (
	"errors"
	"fmt"
)

// Error taxonomy for the reconciliation engine. Handlers map these onto
// HTTP status codes; callers racing on a status transition must treat
// ErrInvalidTransition as a no-op, not a retryable failure.
var (
	// ErrNotFound means the referenced user, transaction, or code does
	// not exist. No mutation happened.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition means the transaction's current status does
	// not permit the requested transition (another caller may have won
	// the race). Non-retryable.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrCapacityExhausted means no active payment code can absorb the
	// requested amount. Nothing was allocated.
	ErrCapacityExhausted = errors.New("no payment code can absorb amount")

	// ErrConcurrencyConflict is surfaced after bounded internal retries
	// on lock contention.
	ErrConcurrencyConflict = errors.New("concurrent update conflict")
)

// ValidationError rejects malformed input before any mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsCapacityExhausted reports whether err wraps ErrCapacityExhausted.
func IsCapacityExhausted(err error) bool {
	return errors.Is(err, ErrCapacityExhausted)
}

// IsInvalidTransition reports whether err wraps ErrInvalidTransition.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}
