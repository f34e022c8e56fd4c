package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidState     = errors.New("invalid state")
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrDuplicateBooking = errors.New("duplicate booking")
	ErrValidation       = errors.New("validation error")
	ErrRideUnavailable  = errors.New("ride unavailable")
)

// Kind classifies an operation outcome for API callers.
type Kind string

const (
	KindOK               Kind = "ok"
	KindNotFound         Kind = "not_found"
	KindForbidden        Kind = "forbidden"
	KindInvalidState     Kind = "invalid_state"
	KindCapacityExceeded Kind = "capacity_exceeded"
	KindDuplicateBooking Kind = "duplicate_booking"
	KindValidation       Kind = "validation_error"
	KindRideUnavailable  Kind = "ride_unavailable"
	KindInternal         Kind = "internal"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrNotFound, KindNotFound},
	{ErrForbidden, KindForbidden},
	{ErrInvalidState, KindInvalidState},
	{ErrCapacityExceeded, KindCapacityExceeded},
	{ErrDuplicateBooking, KindDuplicateBooking},
	{ErrValidation, KindValidation},
	{ErrRideUnavailable, KindRideUnavailable},
}

// KindOf maps err onto its Kind. Errors outside the ledger's vocabulary are internal.
func KindOf(err error) Kind {
	if err == nil {
		return KindOK
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// IsExpected reports whether err is a recoverable, caller-facing outcome.
func IsExpected(err error) bool {
	k := KindOf(err)
	return k != KindInternal && k != KindOK
}

// ValidationError names the offending field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
