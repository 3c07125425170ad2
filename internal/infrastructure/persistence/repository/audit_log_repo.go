package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/garyjia/sms-orchestrator/internal/application/port"
	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
	"github.com/garyjia/sms-orchestrator/internal/infrastructure/persistence/sqlite"
)

// AuditLogRepository implements port.AuditLogRepository
type AuditLogRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAuditLogRepository creates a new audit log repository
func NewAuditLogRepository(db *sql.DB, logger *zap.Logger) port.AuditLogRepository {
	return &AuditLogRepository{
		db:     db,
		logger: logger,
	}
}

// Create appends an audit log. A second log for the same queue entry is a conflict.
func (r *AuditLogRepository) Create(ctx context.Context, entry *entity.ApprovalAuditLogEntry) error {
	query := `
		INSERT INTO approval_audit_log (
			id, response_queue_id, action, original_response, final_response,
			reason, approved_by, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		entry.ID,
		entry.ResponseQueueID,
		entry.Action,
		entry.OriginalResponse,
		entry.FinalResponse,
		entry.Reason,
		entry.ApprovedBy,
		entry.CreatedAt.UTC(),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return fmt.Errorf("%w: audit log already exists for queue entry %s", entity.ErrConflict, entry.ResponseQueueID)
		}
		r.logger.Error("Failed to create audit log",
			zap.String("response_queue_id", entry.ResponseQueueID),
			zap.Error(err))
		return fmt.Errorf("failed to create audit log: %w", err)
	}

	return nil
}

// List returns audit logs newest first, optionally filtered by queue entry
func (r *AuditLogRepository) List(ctx context.Context, queueID string) ([]*entity.ApprovalAuditLogEntry, error) {
	query := `
		SELECT id, response_queue_id, action, original_response, final_response,
			reason, approved_by, created_at
		FROM approval_audit_log
	`
	var args []interface{}
	if queueID != "" {
		query += ` WHERE response_queue_id = ?`
		args = append(args, queueID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list audit logs", zap.String("queue_id", queueID), zap.Error(err))
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	defer rows.Close()

	var logs []*entity.ApprovalAuditLogEntry
	for rows.Next() {
		var l entity.ApprovalAuditLogEntry
		if err := rows.Scan(
			&l.ID,
			&l.ResponseQueueID,
			&l.Action,
			&l.OriginalResponse,
			&l.FinalResponse,
			&l.Reason,
			&l.ApprovedBy,
			&l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		logs = append(logs, &l)
	}

	return logs, rows.Err()
}

// Verify interface compliance
var _ port.AuditLogRepository = (*AuditLogRepository)(nil)
