package port

import (
	"context"
	"time"

	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
)

// ApprovalQueueRepository defines persistence operations for ApprovalQueueEntry
type ApprovalQueueRepository interface {
	Create(ctx context.Context, entry *entity.ApprovalQueueEntry) error

	// GetByID returns entity.ErrQueueEntryNotFound when the id is unknown
	GetByID(ctx context.Context, id string) (*entity.ApprovalQueueEntry, error)

	// Update reads the entry, applies fn and writes it back if the stored
	// version has not moved. An error from fn aborts the write.
	Update(ctx context.Context, id string, fn func(entry *entity.ApprovalQueueEntry) error) (*entity.ApprovalQueueEntry, error)

	// ListPending returns pending entries ordered by created_at ascending
	ListPending(ctx context.Context) ([]*entity.ApprovalQueueEntry, error)

	// ListPendingBefore returns pending entries created before cutoff, oldest first
	ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*entity.ApprovalQueueEntry, error)
}

// AuditLogRepository defines persistence operations for ApprovalAuditLogEntry.
// Entries are immutable and unique per queue entry.
type AuditLogRepository interface {
	// Create returns an error wrapping entity.ErrConflict if the queue entry already has a log
	Create(ctx context.Context, entry *entity.ApprovalAuditLogEntry) error

	// List returns logs newest first. An empty queueID returns all logs.
	List(ctx context.Context, queueID string) ([]*entity.ApprovalAuditLogEntry, error)
}

// WorkflowRepository defines persistence operations for WorkflowInstance
type WorkflowRepository interface {
	Create(ctx context.Context, instance *entity.WorkflowInstance) error

	// GetByID returns entity.ErrWorkflowNotFound when the id is unknown
	GetByID(ctx context.Context, id string) (*entity.WorkflowInstance, error)

	// GetLatestByConversation returns the most recently started instance for a conversation
	GetLatestByConversation(ctx context.Context, conversationID string) (*entity.WorkflowInstance, error)

	// Update applies fn and writes the instance back. updated_at is stamped unless fn set it.
	Update(ctx context.Context, id string, fn func(instance *entity.WorkflowInstance) error) (*entity.WorkflowInstance, error)

	// DeleteFinishedBefore removes completed or failed instances started before cutoff, with their steps
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// StepRepository defines persistence operations for WorkflowStep
type StepRepository interface {
	Create(ctx context.Context, step *entity.WorkflowStep) error
	GetByID(ctx context.Context, id string) (*entity.WorkflowStep, error)
	Update(ctx context.Context, step *entity.WorkflowStep) error

	// ListByWorkflow returns steps in the order they were started
	ListByWorkflow(ctx context.Context, workflowID string) ([]*entity.WorkflowStep, error)
}

// TimeoutRepository defines persistence operations for TimeoutTracking
type TimeoutRepository interface {
	// CreateIfAbsent stores t unless the workflow is already tracked.
	// It returns the stored row and whether it was created by this call.
	CreateIfAbsent(ctx context.Context, t *entity.TimeoutTracking) (*entity.TimeoutTracking, bool, error)

	// Get returns entity.ErrTrackingNotFound when the workflow is not tracked
	Get(ctx context.Context, workflowID string) (*entity.TimeoutTracking, error)

	// Update applies fn and writes the row back. updated_at is stamped unless fn set it.
	Update(ctx context.Context, workflowID string, fn func(t *entity.TimeoutTracking) error) (*entity.TimeoutTracking, error)

	// ListMonitored returns rows whose escalation has not been triggered
	ListMonitored(ctx context.Context) ([]*entity.TimeoutTracking, error)

	List(ctx context.Context) ([]*entity.TimeoutTracking, error)

	// DeleteEscalatedBefore removes escalated rows last updated before cutoff
	DeleteEscalatedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// NotificationRepository defines persistence operations for Notification records
type NotificationRepository interface {
	Create(ctx context.Context, n *entity.Notification) error
	UpdateStatus(ctx context.Context, id string, status string, errorMsg string) error
	ListByReference(ctx context.Context, referenceID string) ([]*entity.Notification, error)
}

// PaymentPlanRepository defines persistence operations for PaymentPlanAttempt
type PaymentPlanRepository interface {
	Create(ctx context.Context, attempt *entity.PaymentPlanAttempt) error

	// GetByID returns entity.ErrPaymentPlanNotFound when the id is unknown
	GetByID(ctx context.Context, id string) (*entity.PaymentPlanAttempt, error)

	// ListByWorkflow returns attempts oldest first
	ListByWorkflow(ctx context.Context, workflowID string) ([]*entity.PaymentPlanAttempt, error)

	// ListByConversation returns one page of attempts newest first, and the total count
	ListByConversation(ctx context.Context, conversationID string, limit, offset int) ([]*entity.PaymentPlanAttempt, int, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
