package tickets

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrUnknownReference: neither the order reference nor the payment handle
	// matches a ticket. Normal for unrelated payments and expired orders.
	ErrUnknownReference = errors.New("unknown order reference")

	// ErrReservationLost: the order was released between the reservation
	// commit and the moment its payment handle was recorded.
	ErrReservationLost = errors.New("reservation released before payment was recorded")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

type Conflict struct {
	Number int    `json:"number"`
	Status Status `json:"status"`
}

// ConflictError lists every requested ticket that was not AVAILABLE.
type ConflictError struct {
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	parts := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		parts = append(parts, fmt.Sprintf("%d=%s", c.Number, c.Status))
	}
	return "tickets unavailable: " + strings.Join(parts, ", ")
}

// Numbers returns the conflicting ticket numbers in the order they were found.
func (e *ConflictError) Numbers() []int {
	out := make([]int, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		out = append(out, c.Number)
	}
	return out
}

type PaymentProviderError struct {
	Err error
}

func (e *PaymentProviderError) Error() string { return "payment provider: " + e.Err.Error() }
func (e *PaymentProviderError) Unwrap() error { return e.Err }

// TransientStoreError is safe to retry: the failed statement was never
// partially applied.
type TransientStoreError struct {
	Err error
}

func (e *TransientStoreError) Error() string { return "store unavailable: " + e.Err.Error() }
func (e *TransientStoreError) Unwrap() error { return e.Err }

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsTransient(err error) bool {
	var t *TransientStoreError
	return errors.As(err, &t)
}

func AsConflict(err error) (*ConflictError, bool) {
	var c *ConflictError
	ok := errors.As(err, &c)
	return c, ok
}

func IsPaymentProvider(err error) bool {
	var p *PaymentProviderError
	return errors.As(err, &p)
}
