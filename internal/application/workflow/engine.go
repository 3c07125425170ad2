package workflow

import (
	"context"

	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
	"github.com/garyjia/sms-orchestrator/internal/domain/event"
	domainwf "github.com/garyjia/sms-orchestrator/internal/domain/workflow"
)

// WorkflowEngine drives workflow instances through their lifecycle and records every step
type WorkflowEngine interface {
	// CreateInstance stores a new instance in the received status
	CreateInstance(ctx context.Context, req CreateInstanceRequest) (*entity.WorkflowInstance, error)

	// TransitionState moves an instance to a new status and appends a status_update step.
	// Disallowed transitions return an error wrapping domainwf.ErrInvalidTransition and entity.ErrConflict.
	TransitionState(ctx context.Context, workflowID string, to domainwf.Status, errMsg string) (*entity.WorkflowInstance, error)

	// Recover resumes a failed instance with the given strategy
	Recover(ctx context.Context, workflowID string, strategy domainwf.RecoveryStrategy) (*entity.WorkflowInstance, error)

	// AddStep starts a step on an instance
	AddStep(ctx context.Context, workflowID, name string, stepType entity.StepType, input map[string]interface{}) (*entity.WorkflowStep, error)

	// CompleteStep finishes a started step and records its duration
	CompleteStep(ctx context.Context, stepID string, status entity.StepStatus, output map[string]interface{}, errMsg string) (*entity.WorkflowStep, error)

	// GetStatus returns the instance, its steps and a progress summary
	GetStatus(ctx context.Context, workflowID string) (*entity.WorkflowStatusView, error)

	// GetByConversation returns the status view of the latest instance of a conversation
	GetByConversation(ctx context.Context, conversationID string) (*entity.WorkflowStatusView, error)

	// CleanupOlderThan removes completed and failed instances started more than days ago
	CleanupOlderThan(ctx context.Context, days int) (int, error)

	// HandleEvent applies the transition a domain event implies, if any
	HandleEvent(ctx context.Context, evt *event.Event) error
}

// CreateInstanceRequest carries the fields of a new workflow instance
type CreateInstanceRequest struct {
	ConversationID string
	WorkflowType   entity.WorkflowType
	TenantID       string
	PhoneNumber    string
	Metadata       map[string]interface{}
}

// Logger is the logging surface the engine needs
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}
