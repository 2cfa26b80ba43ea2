// Package common defines shared constants and sentinel errors used across
// docseal components. Callers should use errors.Is to match these values.
package common

import (
	"errors"
	"sort"
	"strings"
)

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal      = errors.New("internal error")
	ErrVersionConflict = errors.New("version conflict")

	// Malformed input, rejected before any state change.
	ErrValidation = errors.New("validation error")

	// Signing / document-access token errors. Always fail closed.
	ErrInvalidToken  = errors.New("invalid token")
	ErrTokenExpired  = errors.New("token expired")
	ErrTokenNotFound = errors.New("token not found")

	// State machine violations. No mutation occurs.
	ErrOutOfTurn        = errors.New("out of turn")
	ErrAlreadyProcessed = errors.New("already processed")

	// Inbound event payload failed decryption or hash verification.
	ErrIntegrity = errors.New("integrity error")

	// Sealing cannot proceed with the input it was given; retrying will not help.
	ErrFatalSealing = errors.New("fatal sealing error")

	// Preview credential is unknown, inactive, expired or exhausted.
	ErrAccessDenied = errors.New("access denied")
)

// ValidationError collects field-level problems found in a request.
// It matches ErrValidation under errors.Is.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError returns an empty ValidationError ready for Add.
func NewValidationError() *ValidationError {
	return &ValidationError{Fields: map[string]string{}}
}

// Add records a problem for field. The first message per field wins.
func (e *ValidationError) Add(field, msg string) {
	if _, ok := e.Fields[field]; ok {
		return
	}
	e.Fields[field] = msg
}

// Empty reports whether no problems were recorded.
func (e *ValidationError) Empty() bool {
	return len(e.Fields) == 0
}

// OrNil returns e when problems were recorded and nil otherwise.
func (e *ValidationError) OrNil() error {
	if e.Empty() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for f, m := range e.Fields {
		parts = append(parts, f+": "+m)
	}
	sort.Strings(parts)
	return "validation error: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
