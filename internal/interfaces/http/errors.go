package http

import (
	"errors"
	"net/http"

	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
	domainwf "github.com/garyjia/sms-orchestrator/internal/domain/workflow"
)

// Error codes returned in the response envelope
const (
	CodeInvalidAction          = "INVALID_ACTION"
	CodeMissingModifiedText    = "MISSING_MODIFIED_TEXT"
	CodeQueueEntryNotFound     = "QUEUE_ENTRY_NOT_FOUND"
	CodeActionAlreadyProcessed = "ACTION_ALREADY_PROCESSED"
	CodeActionProcessingFailed = "ACTION_PROCESSING_FAILED"
	CodeValidationError        = "VALIDATION_ERROR"
	CodeWorkflowNotFound       = "WORKFLOW_NOT_FOUND"
	CodePaymentPlanNotFound    = "PAYMENT_PLAN_NOT_FOUND"
	CodeInvalidTransition      = "INVALID_TRANSITION"
	CodeNotFound               = "NOT_FOUND"
	CodeConflict               = "CONFLICT"
	CodeServiceUnavailable     = "SERVICE_UNAVAILABLE"
	CodeInternalError          = "INTERNAL_ERROR"
)

// classifyError maps an error to its HTTP status and envelope code.
// fallback is the code used for unclassified failures.
func classifyError(err error, fallback string) (int, string) {
	switch {
	case errors.Is(err, entity.ErrInvalidAction):
		return http.StatusBadRequest, CodeInvalidAction
	case errors.Is(err, entity.ErrMissingModifiedText):
		return http.StatusBadRequest, CodeMissingModifiedText
	case errors.Is(err, entity.ErrQueueEntryNotFound):
		return http.StatusNotFound, CodeQueueEntryNotFound
	case errors.Is(err, entity.ErrAlreadyProcessed):
		return http.StatusConflict, CodeActionAlreadyProcessed
	case errors.Is(err, entity.ErrWorkflowNotFound):
		return http.StatusNotFound, CodeWorkflowNotFound
	case errors.Is(err, entity.ErrPaymentPlanNotFound):
		return http.StatusNotFound, CodePaymentPlanNotFound
	case errors.Is(err, domainwf.ErrInvalidTransition), errors.Is(err, domainwf.ErrNotRecoverable):
		return http.StatusConflict, CodeInvalidTransition
	case errors.Is(err, entity.ErrValidation):
		return http.StatusBadRequest, CodeValidationError
	case errors.Is(err, entity.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, entity.ErrConflict):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, entity.ErrServiceUnavailable):
		return http.StatusServiceUnavailable, CodeServiceUnavailable
	}

	if fallback == "" {
		fallback = CodeInternalError
	}
	return http.StatusInternalServerError, fallback
}
