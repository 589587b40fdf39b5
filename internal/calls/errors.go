package calls

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound           = errors.New("calls: not found")
	ErrInvalidTransition  = errors.New("calls: invalid transition")
	ErrSchedulingConflict = errors.New("calls: scheduling conflict")
	ErrValidation         = errors.New("calls: validation failed")

	// ErrRetryable marks transient storage failures (lock wait, serialization,
	// transaction deadline). Callers may retry the whole use case.
	ErrRetryable = errors.New("calls: transient failure, retry")
)

// NotFoundError identifies the entity that did not resolve.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("calls: %s %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// TransitionError is raised by the aggregate when a requested status change is
// not in the transition table or a precondition is unmet.
type TransitionError struct {
	CallID string
	From   Status
	To     Status
	Reason string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("calls: cannot move call %s from %s to %s", e.CallID, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// ConflictError lists the bookings overlapping a proposed window.
// ConflictingIDs is empty when the conflict was reported by a storage constraint.
type ConflictError struct {
	ProviderID     string
	Start          time.Time
	End            time.Time
	ConflictingIDs []string
}

func (e *ConflictError) Error() string {
	msg := fmt.Sprintf("calls: provider %s is not available between %s and %s",
		e.ProviderID, e.Start.UTC().Format(time.RFC3339), e.End.UTC().Format(time.RFC3339))
	if len(e.ConflictingIDs) > 0 {
		msg += " (conflicts with " + strings.Join(e.ConflictingIDs, ", ") + ")"
	}
	return msg
}

func (e *ConflictError) Is(target error) bool { return target == ErrSchedulingConflict }

// ValidationError reports malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "calls: " + e.Message
	}
	return fmt.Sprintf("calls: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}
