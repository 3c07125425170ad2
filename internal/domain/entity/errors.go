package entity

import (
	"errors"
	"fmt"
)

// Error kinds. Callers classify failures with errors.Is.
var (
	ErrValidation         = errors.New("validation error")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrInternal           = errors.New("internal error")
)

// Approval queue errors
var (
	ErrInvalidAction       = fmt.Errorf("%w: action must be one of approve, modify, escalate", ErrValidation)
	ErrMissingModifiedText = fmt.Errorf("%w: modified_response is required for modify action", ErrValidation)
	ErrQueueEntryNotFound  = fmt.Errorf("%w: approval queue entry", ErrNotFound)
	ErrAlreadyProcessed    = fmt.Errorf("%w: approval queue entry already processed", ErrConflict)
)

// Workflow and timeout errors
var (
	ErrWorkflowNotFound = fmt.Errorf("%w: workflow instance", ErrNotFound)
	ErrStepNotFound     = fmt.Errorf("%w: workflow step", ErrNotFound)
	ErrTrackingNotFound = fmt.Errorf("%w: timeout tracking", ErrNotFound)
)

// ErrPaymentPlanNotFound is returned for an unknown payment plan attempt
var ErrPaymentPlanNotFound = fmt.Errorf("%w: payment plan", ErrNotFound)

// ServiceUnavailableError identifies the downstream dependency that failed
type ServiceUnavailableError struct {
	Service string
	Reason  string
	Err     error
}

// NewServiceUnavailableError wraps err as an outage of the named service
func NewServiceUnavailableError(service, reason string, err error) *ServiceUnavailableError {
	return &ServiceUnavailableError{Service: service, Reason: reason, Err: err}
}

func (e *ServiceUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s unavailable: %s: %v", e.Service, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s unavailable: %s", e.Service, e.Reason)
}

// Is matches ErrServiceUnavailable
func (e *ServiceUnavailableError) Is(target error) bool {
	return target == ErrServiceUnavailable
}

func (e *ServiceUnavailableError) Unwrap() error {
	return e.Err
}
