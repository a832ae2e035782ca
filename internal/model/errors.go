package model

import (
	"errors"
	"fmt"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrStoreUnavailable     = errors.New("store unavailable")
	ErrIntegrity            = errors.New("ledger integrity violation")
	ErrMemberInactive       = errors.New("member is not active")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrRandomSource         = errors.New("random source failure")
)

// ValidationError is a rejected request that should not be retried as-is.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IntegrityError reports the first log entry whose stored balance does not
// follow from its predecessor.
type IntegrityError struct {
	MemberID string
	Sequence int64
	Expected int64
	Actual   int64
	Detail   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("ledger integrity violation for member %s at sequence %d: %s (expected %d, got %d)",
		e.MemberID, e.Sequence, e.Detail, e.Expected, e.Actual)
}

func (e *IntegrityError) Is(target error) bool {
	return target == ErrIntegrity
}
