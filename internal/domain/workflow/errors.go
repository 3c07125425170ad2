package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when a status transition is not allowed
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidStatus is returned when a status is not valid
	ErrInvalidStatus = errors.New("invalid status")

	// ErrUnknownRecoveryStrategy is returned for recovery strategies other than retry and escalate
	ErrUnknownRecoveryStrategy = errors.New("unknown recovery strategy")

	// ErrNotRecoverable is returned when recovery is requested for a workflow that has not failed
	ErrNotRecoverable = errors.New("workflow is not in a recoverable status")
)

// InvalidTransitionError names both ends of a rejected transition
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s: cannot transition from %s to %s", ErrInvalidTransition, e.From, e.To)
}

// Unwrap allows errors.Is(err, ErrInvalidTransition)
func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// InvalidStatusError reports a value that is not a workflow status
type InvalidStatusError struct {
	Value string
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("%s: %q", ErrInvalidStatus, e.Value)
}

// Unwrap allows errors.Is(err, ErrInvalidStatus)
func (e *InvalidStatusError) Unwrap() error {
	return ErrInvalidStatus
}
