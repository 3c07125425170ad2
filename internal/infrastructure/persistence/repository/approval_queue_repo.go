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
	"github.com/garyjia/sms-orchestrator/internal/infrastructure/persistence/sqlite"
)

const approvalQueueColumns = `
	id, workflow_id, tenant_id, phone_number, original_message, ai_response,
	confidence_score, status, approval_action, modified_response, approved_by,
	approved_at, created_at, version`

// ApprovalQueueRepository implements port.ApprovalQueueRepository
type ApprovalQueueRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewApprovalQueueRepository creates a new approval queue repository
func NewApprovalQueueRepository(db *sql.DB, logger *zap.Logger) port.ApprovalQueueRepository {
	return &ApprovalQueueRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new queue entry at version 1
func (r *ApprovalQueueRepository) Create(ctx context.Context, entry *entity.ApprovalQueueEntry) error {
	query := `
		INSERT INTO approval_queue (` + approvalQueueColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	entry.Version = 1

	_, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		entry.ID,
		entry.WorkflowID,
		entry.TenantID,
		entry.PhoneNumber,
		entry.OriginalMessage,
		entry.AIResponse,
		entry.ConfidenceScore,
		entry.Status,
		entry.ApprovalAction,
		entry.ModifiedResponse,
		entry.ApprovedBy,
		nullTime(entry.ApprovedAt),
		entry.CreatedAt.UTC(),
		entry.Version,
	)
	if err != nil {
		r.logger.Error("Failed to create approval queue entry", zap.String("id", entry.ID), zap.Error(err))
		return fmt.Errorf("failed to create approval queue entry: %w", err)
	}

	return nil
}

// GetByID retrieves a queue entry by ID
func (r *ApprovalQueueRepository) GetByID(ctx context.Context, id string) (*entity.ApprovalQueueEntry, error) {
	query := `SELECT ` + approvalQueueColumns + ` FROM approval_queue WHERE id = ?`

	entry, err := scanQueueEntry(sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", entity.ErrQueueEntryNotFound, id)
	}
	if err != nil {
		r.logger.Error("Failed to get approval queue entry", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get approval queue entry: %w", err)
	}

	return entry, nil
}

// Update applies fn and writes the entry only if nobody else wrote it since it was read
func (r *ApprovalQueueRepository) Update(ctx context.Context, id string, fn func(entry *entity.ApprovalQueueEntry) error) (*entity.ApprovalQueueEntry, error) {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	readVersion := current.Version
	if err := fn(current); err != nil {
		return nil, err
	}

	query := `
		UPDATE approval_queue
		SET status = ?, approval_action = ?, modified_response = ?, approved_by = ?,
			approved_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`

	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		current.Status,
		current.ApprovalAction,
		current.ModifiedResponse,
		current.ApprovedBy,
		nullTime(current.ApprovedAt),
		id,
		readVersion,
	)
	if err != nil {
		r.logger.Error("Failed to update approval queue entry", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to update approval queue entry: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("%w: approval queue entry %s changed concurrently", entity.ErrConflict, id)
	}

	current.Version = readVersion + 1
	return current, nil
}

// ListPending returns pending entries, oldest first
func (r *ApprovalQueueRepository) ListPending(ctx context.Context) ([]*entity.ApprovalQueueEntry, error) {
	query := `
		SELECT ` + approvalQueueColumns + `
		FROM approval_queue
		WHERE status = ?
		ORDER BY created_at ASC
	`
	return r.list(ctx, query, entity.ApprovalStatusPending)
}

// ListPendingBefore returns pending entries created before cutoff, oldest first
func (r *ApprovalQueueRepository) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*entity.ApprovalQueueEntry, error) {
	query := `
		SELECT ` + approvalQueueColumns + `
		FROM approval_queue
		WHERE status = ? AND created_at < ?
		ORDER BY created_at ASC
	`
	return r.list(ctx, query, entity.ApprovalStatusPending, cutoff.UTC())
}

func (r *ApprovalQueueRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.ApprovalQueueEntry, error) {
	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list approval queue entries", zap.Error(err))
		return nil, fmt.Errorf("failed to list approval queue entries: %w", err)
	}
	defer rows.Close()

	var entries []*entity.ApprovalQueueEntry
	for rows.Next() {
		entry, err := scanQueueEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval queue entry: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func scanQueueEntry(row rowScanner) (*entity.ApprovalQueueEntry, error) {
	var entry entity.ApprovalQueueEntry
	var approvedAt sql.NullTime

	err := row.Scan(
		&entry.ID,
		&entry.WorkflowID,
		&entry.TenantID,
		&entry.PhoneNumber,
		&entry.OriginalMessage,
		&entry.AIResponse,
		&entry.ConfidenceScore,
		&entry.Status,
		&entry.ApprovalAction,
		&entry.ModifiedResponse,
		&entry.ApprovedBy,
		&approvedAt,
		&entry.CreatedAt,
		&entry.Version,
	)
	if err != nil {
		return nil, err
	}

	entry.ApprovedAt = timePtr(approvedAt)
	return &entry, nil
}

// Verify interface compliance
var _ port.ApprovalQueueRepository = (*ApprovalQueueRepository)(nil)
