package entity

import (
	"time"

	"github.com/garyjia/sms-orchestrator/internal/domain/workflow"
)

// WorkflowType classifies what a workflow instance is processing
type WorkflowType string

const (
	WorkflowTypeSMSProcessing         WorkflowType = "sms_processing"
	WorkflowTypePaymentPlanValidation WorkflowType = "payment_plan_validation"
	WorkflowTypeEscalation            WorkflowType = "escalation"
)

// StepType classifies a workflow step
type StepType string

const (
	StepTypeAPICall           StepType = "api_call"
	StepTypeAIProcessing      StepType = "ai_processing"
	StepTypeDatabaseOperation StepType = "database_operation"
	StepTypeNotification      StepType = "notification"
)

// StepStatus is the outcome of a workflow step
type StepStatus string

const (
	StepStatusStarted   StepStatus = "started"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// IsFinal returns true once the step will not change again
func (s StepStatus) IsFinal() bool {
	return s == StepStatusCompleted || s == StepStatusFailed || s == StepStatusSkipped
}

// WorkflowInstance tracks the processing of one inbound conversation turn
type WorkflowInstance struct {
	ID             string                 `json:"id"`
	ConversationID string                 `json:"conversation_id"`
	WorkflowType   WorkflowType           `json:"workflow_type"`
	TenantID       string                 `json:"tenant_id"`
	PhoneNumber    string                 `json:"phone_number"`
	Status         workflow.Status        `json:"status"`
	StartedAt      time.Time              `json:"started_at"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	Metadata       map[string]interface{} `json:"metadata"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// Clone returns a copy with its own metadata map
func (w *WorkflowInstance) Clone() *WorkflowInstance {
	c := *w
	c.Metadata = make(map[string]interface{}, len(w.Metadata))
	for k, v := range w.Metadata {
		c.Metadata[k] = v
	}
	if w.CompletedAt != nil {
		t := *w.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// WorkflowStep is one append-only entry in a workflow's history
type WorkflowStep struct {
	ID          string                 `json:"id"`
	WorkflowID  string                 `json:"workflow_id"`
	StepName    string                 `json:"step_name"`
	StepType    StepType               `json:"step_type"`
	Status      StepStatus             `json:"status"`
	InputData   map[string]interface{} `json:"input_data,omitempty"`
	OutputData  map[string]interface{} `json:"output_data,omitempty"`
	ErrorDetail string                 `json:"error_details,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	DurationMs  *int64                 `json:"duration_ms,omitempty"`
}

// Complete finalizes the step and records its duration
func (s *WorkflowStep) Complete(status StepStatus, output map[string]interface{}, errDetail string, at time.Time) {
	s.Status = status
	s.OutputData = output
	s.ErrorDetail = errDetail
	s.CompletedAt = &at
	d := at.Sub(s.StartedAt).Milliseconds()
	s.DurationMs = &d
}

// WorkflowProgress summarizes how far a workflow has gone
type WorkflowProgress struct {
	CompletedSteps      int        `json:"completed_steps"`
	TotalSteps          int        `json:"total_steps"`
	CurrentStep         string     `json:"current_step,omitempty"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
}

// WorkflowStatusView is the read model returned by the workflow status API
type WorkflowStatusView struct {
	Workflow *WorkflowInstance `json:"workflow"`
	Steps    []*WorkflowStep   `json:"steps"`
	Progress WorkflowProgress  `json:"progress"`
}
