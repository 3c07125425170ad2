package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/sms-orchestrator/internal/application/dispatcher"
	"github.com/garyjia/sms-orchestrator/internal/application/port"
	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
	"github.com/garyjia/sms-orchestrator/internal/domain/event"
	domainwf "github.com/garyjia/sms-orchestrator/internal/domain/workflow"
)

// engineImpl is the concrete implementation of WorkflowEngine
type engineImpl struct {
	workflowRepo port.WorkflowRepository
	stepRepo     port.StepRepository
	txManager    port.TransactionManager
	locker       port.KeyLocker
	dispatcher   dispatcher.Dispatcher
	logger       Logger
	now          func() time.Time
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the event dispatcher for emitting events
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithLogger sets the engine logger
func WithLogger(logger Logger) EngineOption {
	return func(e *engineImpl) {
		e.logger = logger
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		e.now = now
	}
}

// NewEngine creates a new workflow engine
func NewEngine(
	workflowRepo port.WorkflowRepository,
	stepRepo port.StepRepository,
	txManager port.TransactionManager,
	locker port.KeyLocker,
	opts ...EngineOption,
) WorkflowEngine {
	e := &engineImpl{
		workflowRepo: workflowRepo,
		stepRepo:     stepRepo,
		txManager:    txManager,
		locker:       locker,
		now:          func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// CreateInstance stores a received instance together with its workflow_created step
func (e *engineImpl) CreateInstance(ctx context.Context, req CreateInstanceRequest) (*entity.WorkflowInstance, error) {
	if req.ConversationID == "" {
		return nil, fmt.Errorf("%w: conversation_id is required", entity.ErrValidation)
	}
	if req.WorkflowType == "" {
		req.WorkflowType = entity.WorkflowTypeSMSProcessing
	}

	now := e.now()
	instance := &entity.WorkflowInstance{
		ID:             uuid.NewString(),
		ConversationID: req.ConversationID,
		WorkflowType:   req.WorkflowType,
		TenantID:       req.TenantID,
		PhoneNumber:    req.PhoneNumber,
		Status:         domainwf.StatusReceived,
		StartedAt:      now,
		Metadata:       req.Metadata,
		UpdatedAt:      now,
	}
	if instance.Metadata == nil {
		instance.Metadata = make(map[string]interface{})
	}

	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := e.workflowRepo.Create(txCtx, instance); err != nil {
			return fmt.Errorf("failed to create workflow: %w", err)
		}

		step := newCompletedStep(instance.ID, StepWorkflowCreated, entity.StepTypeDatabaseOperation,
			map[string]interface{}{"workflow_type": string(instance.WorkflowType)},
			map[string]interface{}{"workflow_id": instance.ID},
			now,
		)
		if err := e.stepRepo.Create(txCtx, step); err != nil {
			return fmt.Errorf("failed to record creation step: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logInfo("Workflow created",
		"workflow_id", instance.ID,
		"conversation_id", instance.ConversationID,
		"workflow_type", instance.WorkflowType)

	return instance, nil
}

// TransitionState triggers a status transition for an instance
func (e *engineImpl) TransitionState(ctx context.Context, workflowID string, to domainwf.Status, errMsg string) (*entity.WorkflowInstance, error) {
	if !to.IsValid() {
		return nil, fmt.Errorf("%w: %w", entity.ErrValidation, &domainwf.InvalidStatusError{Value: string(to)})
	}

	unlock, err := e.locker.Lock(ctx, lockKey(workflowID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var previous domainwf.Status
	var updated *entity.WorkflowInstance
	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		previous, updated, err = e.transitionLocked(txCtx, workflowID, to, errMsg, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.publishStatusChange(ctx, updated, previous, errMsg)
	return updated, nil
}

// transitionLocked validates and applies a transition inside an open transaction.
// The caller holds the instance lock.
func (e *engineImpl) transitionLocked(
	txCtx context.Context,
	workflowID string,
	to domainwf.Status,
	errMsg string,
	mutate func(instance *entity.WorkflowInstance),
) (domainwf.Status, *entity.WorkflowInstance, error) {
	var previous domainwf.Status
	now := e.now()

	updated, err := e.workflowRepo.Update(txCtx, workflowID, func(instance *entity.WorkflowInstance) error {
		previous = instance.Status
		if err := domainwf.ValidateTransition(instance.Status, to); err != nil {
			return fmt.Errorf("%w: %w", entity.ErrConflict, err)
		}

		instance.Status = to
		instance.UpdatedAt = now
		if errMsg != "" {
			instance.ErrorMessage = errMsg
		}
		if to.IsFinished() {
			instance.CompletedAt = &now
		}
		if mutate != nil {
			mutate(instance)
		}
		return nil
	})
	if err != nil {
		return "", nil, err
	}

	if err := e.stepRepo.Create(txCtx, newStatusUpdateStep(workflowID, previous, to, errMsg, now)); err != nil {
		return "", nil, fmt.Errorf("failed to record status update step: %w", err)
	}

	return previous, updated, nil
}

// Recover resumes a failed instance. retry returns it to processing, escalate hands it to a human.
func (e *engineImpl) Recover(ctx context.Context, workflowID string, strategy domainwf.RecoveryStrategy) (*entity.WorkflowInstance, error) {
	unlock, err := e.locker.Lock(ctx, lockKey(workflowID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var previous domainwf.Status
	var updated *entity.WorkflowInstance
	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		current, err := e.workflowRepo.GetByID(txCtx, workflowID)
		if err != nil {
			return err
		}

		target, err := domainwf.RecoveryTarget(current.Status, strategy)
		if err != nil {
			if errors.Is(err, domainwf.ErrUnknownRecoveryStrategy) {
				return fmt.Errorf("%w: %w", entity.ErrValidation, err)
			}
			return fmt.Errorf("%w: %w", entity.ErrConflict, err)
		}

		var mutate func(*entity.WorkflowInstance)
		if strategy == domainwf.RecoveryRetry {
			if err := e.stepRepo.Create(txCtx, newRecoveryStep(workflowID, current.Status, strategy, e.now())); err != nil {
				return fmt.Errorf("failed to record recovery step: %w", err)
			}
			mutate = func(instance *entity.WorkflowInstance) {
				if instance.Metadata == nil {
					instance.Metadata = make(map[string]interface{})
				}
				instance.Metadata["recovery_attempt"] = true
			}
		}

		previous, updated, err = e.transitionLocked(txCtx, workflowID, target, "", mutate)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.logInfo("Workflow recovered",
		"workflow_id", workflowID,
		"strategy", strategy,
		"status", updated.Status)

	e.publishStatusChange(ctx, updated, previous, "")
	return updated, nil
}

// AddStep starts a step on an existing instance
func (e *engineImpl) AddStep(ctx context.Context, workflowID, name string, stepType entity.StepType, input map[string]interface{}) (*entity.WorkflowStep, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: step name is required", entity.ErrValidation)
	}
	if _, err := e.workflowRepo.GetByID(ctx, workflowID); err != nil {
		return nil, err
	}

	step := newStep(workflowID, name, stepType, input, e.now())
	if err := e.stepRepo.Create(ctx, step); err != nil {
		return nil, fmt.Errorf("failed to add step: %w", err)
	}
	return step, nil
}

// CompleteStep finalizes a started step
func (e *engineImpl) CompleteStep(ctx context.Context, stepID string, status entity.StepStatus, output map[string]interface{}, errMsg string) (*entity.WorkflowStep, error) {
	if !status.IsFinal() {
		return nil, fmt.Errorf("%w: step cannot be completed with status %s", entity.ErrValidation, status)
	}

	step, err := e.stepRepo.GetByID(ctx, stepID)
	if err != nil {
		return nil, err
	}
	if step.Status.IsFinal() {
		return nil, fmt.Errorf("%w: step %s already %s", entity.ErrConflict, stepID, step.Status)
	}

	step.Complete(status, output, errMsg, e.now())
	if err := e.stepRepo.Update(ctx, step); err != nil {
		return nil, fmt.Errorf("failed to complete step: %w", err)
	}
	return step, nil
}

// GetStatus returns the instance with its steps and progress
func (e *engineImpl) GetStatus(ctx context.Context, workflowID string) (*entity.WorkflowStatusView, error) {
	instance, err := e.workflowRepo.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return e.statusView(ctx, instance)
}

// GetByConversation returns the status of the latest instance of a conversation
func (e *engineImpl) GetByConversation(ctx context.Context, conversationID string) (*entity.WorkflowStatusView, error) {
	instance, err := e.workflowRepo.GetLatestByConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return e.statusView(ctx, instance)
}

func (e *engineImpl) statusView(ctx context.Context, instance *entity.WorkflowInstance) (*entity.WorkflowStatusView, error) {
	steps, err := e.stepRepo.ListByWorkflow(ctx, instance.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}

	return &entity.WorkflowStatusView{
		Workflow: instance,
		Steps:    steps,
		Progress: buildProgress(instance, steps, e.now()),
	}, nil
}

// CleanupOlderThan removes finished instances older than the horizon
func (e *engineImpl) CleanupOlderThan(ctx context.Context, days int) (int, error) {
	if days <= 0 {
		return 0, fmt.Errorf("%w: days must be positive", entity.ErrValidation)
	}

	cutoff := e.now().Add(-time.Duration(days) * 24 * time.Hour)
	removed, err := e.workflowRepo.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up workflows: %w", err)
	}

	if removed > 0 {
		e.logInfo("Old workflows removed", "count", removed, "older_than_days", days)
	}
	return removed, nil
}

// HandleEvent maps approval and timeout events onto workflow transitions.
// Transitions the current status does not permit are skipped.
func (e *engineImpl) HandleEvent(ctx context.Context, evt *event.Event) error {
	if evt == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if evt.WorkflowID == "" {
		return nil
	}

	to, errMsg, err := e.mapEventToStatus(evt)
	if err != nil {
		return err
	}
	if to == "" {
		return nil
	}

	current, err := e.workflowRepo.GetByID(ctx, evt.WorkflowID)
	if err != nil {
		return err
	}
	if !domainwf.CanTransition(current.Status, to) {
		e.logInfo("Event transition skipped",
			"workflow_id", evt.WorkflowID,
			"event_type", evt.Type,
			"status", current.Status,
			"target", to)
		return nil
	}

	_, err = e.TransitionState(ctx, evt.WorkflowID, to, errMsg)
	return err
}

func (e *engineImpl) mapEventToStatus(evt *event.Event) (domainwf.Status, string, error) {
	switch evt.Type {
	case event.TypeApprovalProcessed:
		switch entity.ApprovalAction(evt.GetPayloadString(event.KeyAction)) {
		case entity.ActionApprove, entity.ActionModify:
			if !evt.GetPayloadBool(event.KeyDelivered) {
				return domainwf.StatusFailed, "sms delivery failed after approval", nil
			}
			return domainwf.StatusSent, "", nil
		case entity.ActionEscalate, entity.ActionAutoEscalate:
			return domainwf.StatusEscalated, "", nil
		default:
			return "", "", nil
		}

	case event.TypeTimeoutEscalated:
		return domainwf.StatusEscalated, "", nil

	case event.TypeWorkflowStatusChanged,
		event.TypeApprovalRequired,
		event.TypeEscalationRequested,
		event.TypeTimeoutWarning,
		event.TypeCircuitStateChanged:
		return "", "", nil

	default:
		return "", "", fmt.Errorf("unknown event type: %s", evt.Type)
	}
}

func (e *engineImpl) publishStatusChange(ctx context.Context, instance *entity.WorkflowInstance, previous domainwf.Status, errMsg string) {
	e.logInfo("Workflow status changed",
		"workflow_id", instance.ID,
		"previous_status", previous,
		"new_status", instance.Status)

	if e.dispatcher == nil {
		return
	}

	e.dispatcher.DispatchAsync(ctx, event.NewEvent(
		event.TypeWorkflowStatusChanged,
		instance.ID,
		instance.ConversationID,
		map[string]interface{}{
			event.KeyPreviousStatus: previous.String(),
			event.KeyNewStatus:      instance.Status.String(),
			event.KeyReason:         errMsg,
		},
	))
}

func (e *engineImpl) logInfo(msg string, kv ...interface{}) {
	if e.logger != nil {
		e.logger.Info(msg, kv...)
	}
}

// Verify interface compliance
var _ WorkflowEngine = (*engineImpl)(nil)
