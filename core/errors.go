package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced agent, player, action or
	// condition node does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write would violate a rule tree
	// invariant or a rule fails write-time validation.
	ErrConflict = errors.New("conflict")

	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation failed")
)

// domainError carries a human readable message while matching one of the
// sentinels above through errors.Is.
type domainError struct {
	kind error
	msg  string
}

func (e *domainError) Error() string { return e.msg }

func (e *domainError) Unwrap() error { return e.kind }

// NotFoundf formats a message and marks it as ErrNotFound.
func NotFoundf(format string, args ...any) error {
	return &domainError{kind: ErrNotFound, msg: fmt.Sprintf(format, args...)}
}

// Conflictf formats a message and marks it as ErrConflict.
func Conflictf(format string, args ...any) error {
	return &domainError{kind: ErrConflict, msg: fmt.Sprintf(format, args...)}
}

// Validationf formats a message and marks it as ErrValidation.
func Validationf(format string, args ...any) error {
	return &domainError{kind: ErrValidation, msg: fmt.Sprintf(format, args...)}
}
