package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/garyjia/sms-orchestrator/internal/ai"
	"github.com/garyjia/sms-orchestrator/internal/application/dispatcher"
	"github.com/garyjia/sms-orchestrator/internal/application/port"
	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
	"github.com/garyjia/sms-orchestrator/internal/domain/event"
	"github.com/garyjia/sms-orchestrator/internal/metrics"
	"github.com/garyjia/sms-orchestrator/pkg/utils"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ApprovalService routes scored replies and manages the human approval queue
type ApprovalService interface {
	RouteResponse(score decimal.Decimal) ai.RoutingDecision
	CreateEntry(ctx context.Context, req CreateEntryRequest) (*entity.ApprovalQueueEntry, error)
	ProcessAction(ctx context.Context, req ActionRequest) (*ActionResult, error)
	CheckApprovalTimeouts(ctx context.Context) (int, error)
	GetPending(ctx context.Context) ([]*entity.ApprovalQueueEntry, error)
	GetEntry(ctx context.Context, id string) (*entity.ApprovalQueueEntry, error)
	GetAuditLogs(ctx context.Context, queueID string) ([]*entity.ApprovalAuditLogEntry, error)
	ExportAuditLogs(ctx context.Context, queueID string) ([]byte, error)
	ExportContentType() string
}

// CreateEntryRequest carries a reply that needs a manager decision
type CreateEntryRequest struct {
	WorkflowID      string          `json:"workflow_id"`
	TenantID        string          `json:"tenant_id" validate:"required"`
	PhoneNumber     string          `json:"phone_number" validate:"required"`
	OriginalMessage string          `json:"original_message" validate:"required"`
	AIResponse      string          `json:"ai_response" validate:"required"`
	ConfidenceScore decimal.Decimal `json:"confidence_score"`
}

// ActionRequest is a decision on a pending entry
type ActionRequest struct {
	QueueID          string                `json:"queue_id" validate:"required"`
	Action           entity.ApprovalAction `json:"action"`
	ApprovedBy       string                `json:"approved_by" validate:"required"`
	ModifiedResponse string                `json:"modified_response,omitempty"`
	Reason           string                `json:"reason,omitempty"`
}

// ActionResult reports the committed decision and what happened after it
type ActionResult struct {
	Entry         *entity.ApprovalQueueEntry    `json:"entry"`
	AuditLog      *entity.ApprovalAuditLogEntry `json:"audit_log"`
	Delivered     bool                          `json:"delivered"`
	MessageID     string                        `json:"message_id,omitempty"`
	DeliveryError string                        `json:"delivery_error,omitempty"`
}

// ApprovalConfig holds queue policy
type ApprovalConfig struct {
	Timeout    time.Duration
	Thresholds ai.RoutingThresholds
}

// ApprovalDeps are the collaborators of the approval service
type ApprovalDeps struct {
	QueueRepo  port.ApprovalQueueRepository
	AuditRepo  port.AuditLogRepository
	TxManager  port.TransactionManager
	Locker     port.KeyLocker
	SMS        port.SMSSender
	Exporter   port.AuditExporter
	Dispatcher dispatcher.Dispatcher
	Logger     Logger
}

type approvalServiceImpl struct {
	queueRepo  port.ApprovalQueueRepository
	auditRepo  port.AuditLogRepository
	txManager  port.TransactionManager
	locker     port.KeyLocker
	sms        port.SMSSender
	exporter   port.AuditExporter
	dispatcher dispatcher.Dispatcher
	router     *ai.Router
	timeout    time.Duration
	logger     Logger
	now        func() time.Time
}

// NewApprovalService creates a new ApprovalService
func NewApprovalService(deps ApprovalDeps, config ApprovalConfig) (ApprovalService, error) {
	router, err := ai.NewRouter(config.Thresholds)
	if err != nil {
		return nil, fmt.Errorf("invalid routing thresholds: %w", err)
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = entity.DefaultApprovalTimeoutHours * time.Hour
	}

	return &approvalServiceImpl{
		queueRepo:  deps.QueueRepo,
		auditRepo:  deps.AuditRepo,
		txManager:  deps.TxManager,
		locker:     deps.Locker,
		sms:        deps.SMS,
		exporter:   deps.Exporter,
		dispatcher: deps.Dispatcher,
		router:     router,
		timeout:    timeout,
		logger:     deps.Logger,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// RouteResponse decides the path of a reply from its confidence score
func (s *approvalServiceImpl) RouteResponse(score decimal.Decimal) ai.RoutingDecision {
	decision := s.router.Route(score)
	metrics.RecordRouting(decision.String(), score.InexactFloat64())
	return decision
}

// CreateEntry queues a reply for review. The manager alert goes out asynchronously,
// so a notification failure never fails creation.
func (s *approvalServiceImpl) CreateEntry(ctx context.Context, req CreateEntryRequest) (*entity.ApprovalQueueEntry, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", entity.ErrValidation, utils.DescribeValidationError(err))
	}
	if req.ConfidenceScore.IsNegative() || req.ConfidenceScore.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("%w: confidence_score must be between 0 and 1", entity.ErrValidation)
	}

	entry := &entity.ApprovalQueueEntry{
		ID:              uuid.NewString(),
		WorkflowID:      req.WorkflowID,
		TenantID:        req.TenantID,
		PhoneNumber:     req.PhoneNumber,
		OriginalMessage: req.OriginalMessage,
		AIResponse:      req.AIResponse,
		ConfidenceScore: req.ConfidenceScore,
		Status:          entity.ApprovalStatusPending,
		CreatedAt:       s.now(),
	}

	if err := s.queueRepo.Create(ctx, entry); err != nil {
		s.logger.Error("Failed to create approval entry", "tenant_id", req.TenantID, "error", err)
		return nil, fmt.Errorf("create approval entry: %w", err)
	}

	s.logger.Info("Approval entry created",
		"queue_id", entry.ID,
		"workflow_id", entry.WorkflowID,
		"tenant_id", entry.TenantID,
		"confidence_score", entry.ConfidenceScore.StringFixed(2))

	s.dispatcher.DispatchAsync(ctx, event.NewEvent(event.TypeApprovalRequired, entry.WorkflowID, entry.ID, nil))
	return entry, nil
}

// ProcessAction applies a manager decision. The entry update and its audit log
// commit together before any SMS or notification side effect.
func (s *approvalServiceImpl) ProcessAction(ctx context.Context, req ActionRequest) (*ActionResult, error) {
	if !req.Action.IsManagerAction() {
		metrics.RecordApprovalAction(req.Action.String(), "invalid")
		return nil, entity.ErrInvalidAction
	}
	if req.Action == entity.ActionModify && req.ModifiedResponse == "" {
		metrics.RecordApprovalAction(req.Action.String(), "invalid")
		return nil, entity.ErrMissingModifiedText
	}
	if err := utils.ValidateStruct(req); err != nil {
		metrics.RecordApprovalAction(req.Action.String(), "invalid")
		return nil, fmt.Errorf("%w: %s", entity.ErrValidation, utils.DescribeValidationError(err))
	}

	result, err := s.applyAction(ctx, req)
	if err != nil {
		metrics.RecordApprovalAction(req.Action.String(), resultLabel(err))
		return nil, err
	}
	metrics.RecordApprovalAction(req.Action.String(), "success")

	s.afterCommit(ctx, req, result)
	return result, nil
}

// applyAction runs the locked read-modify-write and audit append
func (s *approvalServiceImpl) applyAction(ctx context.Context, req ActionRequest) (*ActionResult, error) {
	unlock, err := s.locker.Lock(ctx, "approval:"+req.QueueID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.now()
	result := &ActionResult{}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		entry, err := s.queueRepo.Update(txCtx, req.QueueID, func(e *entity.ApprovalQueueEntry) error {
			if !e.IsPending() {
				return fmt.Errorf("%w: status is %s", entity.ErrAlreadyProcessed, e.Status)
			}
			e.Status = req.Action.ResultingStatus()
			e.ApprovalAction = req.Action
			e.ApprovedBy = req.ApprovedBy
			e.ApprovedAt = &now
			if req.Action == entity.ActionModify {
				e.ModifiedResponse = req.ModifiedResponse
			}
			return nil
		})
		if err != nil {
			return err
		}

		audit := &entity.ApprovalAuditLogEntry{
			ID:               uuid.NewString(),
			ResponseQueueID:  entry.ID,
			Action:           req.Action,
			OriginalResponse: entry.AIResponse,
			FinalResponse:    entry.FinalResponse(),
			Reason:           req.Reason,
			ApprovedBy:       req.ApprovedBy,
			CreatedAt:        now,
		}
		if err := s.auditRepo.Create(txCtx, audit); err != nil {
			if errors.Is(err, entity.ErrConflict) {
				return fmt.Errorf("%w: audit log exists", entity.ErrAlreadyProcessed)
			}
			return fmt.Errorf("create audit log: %w", err)
		}

		result.Entry = entry
		result.AuditLog = audit
		return nil
	})
	if err != nil {
		if !errors.Is(err, entity.ErrNotFound) && !errors.Is(err, entity.ErrConflict) {
			s.logger.Error("Failed to process approval action",
				"queue_id", req.QueueID,
				"action", req.Action,
				"error", err)
		}
		return nil, err
	}

	s.logger.Info("Approval action committed",
		"queue_id", req.QueueID,
		"action", req.Action,
		"approved_by", req.ApprovedBy,
		"status", result.Entry.Status)

	return result, nil
}

// afterCommit delivers or escalates, then announces the decision
func (s *approvalServiceImpl) afterCommit(ctx context.Context, req ActionRequest, result *ActionResult) {
	entry := result.Entry

	switch req.Action {
	case entity.ActionApprove, entity.ActionModify:
		messageID, err := s.sms.Send(ctx, entry.PhoneNumber, entry.FinalResponse())
		if err != nil {
			metrics.RecordSMS("failed")
			result.DeliveryError = err.Error()
			s.logger.Error("Approved response delivery failed",
				"queue_id", entry.ID,
				"workflow_id", entry.WorkflowID,
				"error", err)
		} else {
			metrics.RecordSMS("sent")
			result.Delivered = true
			result.MessageID = messageID
			s.logger.Info("Approved response delivered", "queue_id", entry.ID, "message_id", messageID)
		}

	case entity.ActionEscalate, entity.ActionAutoEscalate:
		payload := map[string]interface{}{
			event.KeyQueueID: entry.ID,
			event.KeyActor:   req.ApprovedBy,
			event.KeyReason:  req.Reason,
		}
		if req.Action == entity.ActionAutoEscalate {
			payload[event.KeyTimeoutHours] = int(s.timeout.Hours())
		}
		s.dispatcher.DispatchAsync(ctx, event.NewEvent(event.TypeEscalationRequested, entry.WorkflowID, entry.ID, payload))
	}

	s.dispatcher.DispatchAsync(ctx, event.NewEvent(event.TypeApprovalProcessed, entry.WorkflowID, entry.ID, map[string]interface{}{
		event.KeyAction:    req.Action.String(),
		event.KeyActor:     req.ApprovedBy,
		event.KeyDelivered: result.Delivered,
		event.KeyMessageID: result.MessageID,
	}))
}

// CheckApprovalTimeouts escalates entries left pending longer than the approval timeout.
// Entries a manager decides concurrently are skipped.
func (s *approvalServiceImpl) CheckApprovalTimeouts(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.timeout)
	expired, err := s.queueRepo.ListPendingBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list expired approvals: %w", err)
	}

	hours := int(s.timeout.Hours())
	escalated := 0
	for _, entry := range expired {
		if err := ctx.Err(); err != nil {
			return escalated, err
		}

		req := ActionRequest{
			QueueID:    entry.ID,
			Action:     entity.ActionAutoEscalate,
			ApprovedBy: entity.SystemActor,
			Reason:     fmt.Sprintf("Approval timeout after %d hours", hours),
		}

		result, err := s.applyAction(ctx, req)
		if err != nil {
			if errors.Is(err, entity.ErrConflict) || errors.Is(err, entity.ErrNotFound) {
				continue
			}
			metrics.RecordApprovalAction(req.Action.String(), "error")
			s.logger.Error("Failed to auto-escalate approval", "queue_id", entry.ID, "error", err)
			continue
		}
		metrics.RecordApprovalAction(req.Action.String(), "success")

		s.afterCommit(ctx, req, result)
		escalated++
	}

	if escalated > 0 {
		s.logger.Info("Approval timeouts escalated", "count", escalated, "timeout_hours", hours)
	}
	return escalated, nil
}

// GetPending returns pending entries, oldest first
func (s *approvalServiceImpl) GetPending(ctx context.Context) ([]*entity.ApprovalQueueEntry, error) {
	entries, err := s.queueRepo.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending approvals: %w", err)
	}
	metrics.SetPendingApprovals(len(entries))
	return entries, nil
}

// GetEntry returns one queue entry
func (s *approvalServiceImpl) GetEntry(ctx context.Context, id string) (*entity.ApprovalQueueEntry, error) {
	return s.queueRepo.GetByID(ctx, id)
}

// GetAuditLogs returns audit logs, all of them when queueID is empty
func (s *approvalServiceImpl) GetAuditLogs(ctx context.Context, queueID string) ([]*entity.ApprovalAuditLogEntry, error) {
	logs, err := s.auditRepo.List(ctx, queueID)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	return logs, nil
}

// ExportAuditLogs renders audit logs as a spreadsheet
func (s *approvalServiceImpl) ExportAuditLogs(ctx context.Context, queueID string) ([]byte, error) {
	logs, err := s.GetAuditLogs(ctx, queueID)
	if err != nil {
		return nil, err
	}

	data, err := s.exporter.Export(logs)
	if err != nil {
		s.logger.Error("Failed to export audit logs", "queue_id", queueID, "error", err)
		return nil, fmt.Errorf("export audit logs: %w", err)
	}
	return data, nil
}

// ExportContentType is the MIME type of ExportAuditLogs output
func (s *approvalServiceImpl) ExportContentType() string {
	return s.exporter.ContentType()
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, entity.ErrNotFound):
		return "not_found"
	case errors.Is(err, entity.ErrConflict):
		return "conflict"
	case errors.Is(err, entity.ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}
