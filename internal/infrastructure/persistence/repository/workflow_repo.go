package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/sms-orchestrator/internal/application/port"
	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
	"github.com/garyjia/sms-orchestrator/internal/domain/workflow"
	"github.com/garyjia/sms-orchestrator/internal/infrastructure/persistence/sqlite"
)

const workflowColumns = `
	id, conversation_id, workflow_type, tenant_id, phone_number, status,
	started_at, completed_at, error_message, metadata, updated_at`

// WorkflowRepository implements port.WorkflowRepository
type WorkflowRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewWorkflowRepository creates a new workflow repository
func NewWorkflowRepository(db *sql.DB, logger *zap.Logger) port.WorkflowRepository {
	return &WorkflowRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new workflow instance
func (r *WorkflowRepository) Create(ctx context.Context, instance *entity.WorkflowInstance) error {
	metadata, err := encodeMap(instance.Metadata)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if instance.StartedAt.IsZero() {
		instance.StartedAt = now
	}
	if instance.UpdatedAt.IsZero() {
		instance.UpdatedAt = now
	}

	query := `INSERT INTO workflow_instances (` + workflowColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		instance.ID,
		instance.ConversationID,
		instance.WorkflowType,
		instance.TenantID,
		instance.PhoneNumber,
		instance.Status,
		instance.StartedAt.UTC(),
		nullTime(instance.CompletedAt),
		instance.ErrorMessage,
		metadata,
		instance.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create workflow instance", zap.String("id", instance.ID), zap.Error(err))
		return fmt.Errorf("failed to create workflow instance: %w", err)
	}

	return nil
}

// GetByID retrieves a workflow instance by ID
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*entity.WorkflowInstance, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflow_instances WHERE id = ?`
	return r.getOne(ctx, query, id)
}

// GetLatestByConversation retrieves the most recently started instance of a conversation
func (r *WorkflowRepository) GetLatestByConversation(ctx context.Context, conversationID string) (*entity.WorkflowInstance, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM workflow_instances
		WHERE conversation_id = ?
		ORDER BY started_at DESC
		LIMIT 1
	`
	return r.getOne(ctx, query, conversationID)
}

func (r *WorkflowRepository) getOne(ctx context.Context, query string, key string) (*entity.WorkflowInstance, error) {
	instance, err := scanWorkflow(sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", entity.ErrWorkflowNotFound, key)
	}
	if err != nil {
		r.logger.Error("Failed to get workflow instance", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("failed to get workflow instance: %w", err)
	}
	return instance, nil
}

// Update applies fn to the stored instance and writes the mutable columns back
func (r *WorkflowRepository) Update(ctx context.Context, id string, fn func(instance *entity.WorkflowInstance) error) (*entity.WorkflowInstance, error) {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	stamped := current.UpdatedAt
	if err := fn(current); err != nil {
		return nil, err
	}

	metadata, err := encodeMap(current.Metadata)
	if err != nil {
		return nil, err
	}
	if current.UpdatedAt.Equal(stamped) {
		current.UpdatedAt = time.Now().UTC()
	}

	query := `
		UPDATE workflow_instances
		SET status = ?, completed_at = ?, error_message = ?, metadata = ?, updated_at = ?
		WHERE id = ?
	`
	if _, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		current.Status,
		nullTime(current.CompletedAt),
		current.ErrorMessage,
		metadata,
		current.UpdatedAt,
		id,
	); err != nil {
		r.logger.Error("Failed to update workflow instance", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to update workflow instance: %w", err)
	}

	return current, nil
}

// DeleteFinishedBefore removes completed and failed instances started before cutoff.
// Steps go with them through the foreign key cascade.
func (r *WorkflowRepository) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		DELETE FROM workflow_instances
		WHERE status IN (?, ?) AND started_at < ?
	`

	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		workflow.StatusCompleted,
		workflow.StatusFailed,
		cutoff.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to clean up workflow instances", zap.Error(err))
		return 0, fmt.Errorf("failed to clean up workflow instances: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

func scanWorkflow(row rowScanner) (*entity.WorkflowInstance, error) {
	var instance entity.WorkflowInstance
	var completedAt sql.NullTime
	var metadata sql.NullString

	err := row.Scan(
		&instance.ID,
		&instance.ConversationID,
		&instance.WorkflowType,
		&instance.TenantID,
		&instance.PhoneNumber,
		&instance.Status,
		&instance.StartedAt,
		&completedAt,
		&instance.ErrorMessage,
		&metadata,
		&instance.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	instance.CompletedAt = timePtr(completedAt)
	if instance.Metadata, err = decodeMap(metadata); err != nil {
		return nil, err
	}
	if instance.Metadata == nil {
		instance.Metadata = make(map[string]interface{})
	}

	return &instance, nil
}

// Verify interface compliance
var _ port.WorkflowRepository = (*WorkflowRepository)(nil)
