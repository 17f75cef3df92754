package checkout

import (
	"errors"
	"fmt"
	"strings"
)

// ErrReservationTimeout signals another submission holds the fingerprint and
// did not produce an order within the bounded wait.
var ErrReservationTimeout = errors.New("checkout reservation timed out")

// ErrPersistenceFailed signals the order store kept failing after the retry
// budget was spent. The submission is safe to retry as a whole.
var ErrPersistenceFailed = errors.New("order persistence failed")

// ErrStatusConflict is returned by stores when an optimistic status update
// finds a different stored status than expected.
var ErrStatusConflict = errors.New("order status conflict")

// ErrOrderNotFound is returned by stores for unknown order ids.
var ErrOrderNotFound = errors.New("order not found")

// ErrCartNotFound is returned by cart services when the session has no cart
// to order from.
var ErrCartNotFound = errors.New("cart not found")

// ErrInvariantViolation signals a programming error, e.g. a draft order
// reaching the redirect resolver. Never swallowed.
var ErrInvariantViolation = errors.New("checkout invariant violation")

// ValidationError carries the per-field errors of a rejected submission.
// It is expected control flow, not an internal failure.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.String())
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// FieldError describes one invalid or missing billing field.
type FieldError struct {
	Field  string
	Label  string
	Reason FieldErrorReason
}

func (f FieldError) String() string {
	return fmt.Sprintf("%s (%s)", f.Field, f.Reason)
}

// FieldErrorReason distinguishes missing fields from malformed ones.
type FieldErrorReason string

const (
	ReasonMissingField  FieldErrorReason = "missing"
	ReasonInvalidFormat FieldErrorReason = "invalid-format"
)
