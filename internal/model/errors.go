package model

import (
	"errors"
	"fmt"
)

// Outcome errors shared by the repositories, the services and the HTTP
// layer.  ErrInvalidState, ErrExpired and ErrConflict are the expected
// results of a lost race and are returned as plain values; callers
// should not log them as faults.
var (
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")
	ErrUnavailable      = errors.New("unit unavailable for the requested dates")
	ErrInvalidState     = errors.New("reservation is not in a state that allows this transition")
	ErrExpired          = errors.New("reservation hold has expired")
	ErrConflict         = errors.New("overlapping confirmed reservation exists")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// ValidationError describes a rejected input field.  It matches
// ErrValidation with errors.Is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid builds a ValidationError.
func Invalid(field, msg string) error { return &ValidationError{Field: field, Message: msg} }

// IsRaceOutcome reports whether err is one of the well-defined results of
// concurrent transitions rather than a failure.
func IsRaceOutcome(err error) bool {
	return errors.Is(err, ErrInvalidState) || errors.Is(err, ErrExpired) || errors.Is(err, ErrConflict)
}
