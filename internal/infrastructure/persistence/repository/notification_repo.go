package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/sms-orchestrator/internal/application/port"
	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
	"github.com/garyjia/sms-orchestrator/internal/infrastructure/persistence/sqlite"
)

// NotificationRepository implements port.NotificationRepository
type NotificationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *sql.DB, logger *zap.Logger) port.NotificationRepository {
	return &NotificationRepository{
		db:     db,
		logger: logger,
	}
}

// Create records a notification attempt
func (r *NotificationRepository) Create(ctx context.Context, n *entity.Notification) error {
	query := `
		INSERT INTO notifications (
			id, type, reference_id, channel, status, payload,
			error_message, sent_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now

	_, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		n.ID,
		n.Type,
		n.ReferenceID,
		n.Channel,
		n.Status,
		n.Payload,
		n.ErrorMessage,
		nullTime(n.SentAt),
		n.CreatedAt.UTC(),
		n.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create notification",
			zap.String("reference_id", n.ReferenceID),
			zap.String("type", string(n.Type)),
			zap.Error(err))
		return fmt.Errorf("failed to create notification: %w", err)
	}

	return nil
}

// UpdateStatus updates notification status. SENT also stamps sent_at.
func (r *NotificationRepository) UpdateStatus(ctx context.Context, id string, status string, errorMsg string) error {
	now := time.Now().UTC()

	var sentAt sql.NullTime
	if status == entity.NotificationStatusSent {
		sentAt = sql.NullTime{Time: now, Valid: true}
	}

	query := `
		UPDATE notifications
		SET status = ?, error_message = ?, sent_at = COALESCE(?, sent_at), updated_at = ?
		WHERE id = ?
	`
	if _, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query, status, errorMsg, sentAt, now, id); err != nil {
		r.logger.Error("Failed to update notification status",
			zap.String("id", id),
			zap.String("status", status),
			zap.Error(err))
		return fmt.Errorf("failed to update notification status: %w", err)
	}

	return nil
}

// ListByReference returns the notifications sent about a queue entry or workflow, oldest first
func (r *NotificationRepository) ListByReference(ctx context.Context, referenceID string) ([]*entity.Notification, error) {
	query := `
		SELECT id, type, reference_id, channel, status, payload,
			error_message, sent_at, created_at, updated_at
		FROM notifications
		WHERE reference_id = ?
		ORDER BY created_at ASC
	`

	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, referenceID)
	if err != nil {
		r.logger.Error("Failed to list notifications", zap.String("reference_id", referenceID), zap.Error(err))
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var result []*entity.Notification
	for rows.Next() {
		var n entity.Notification
		var sentAt sql.NullTime
		if err := rows.Scan(
			&n.ID,
			&n.Type,
			&n.ReferenceID,
			&n.Channel,
			&n.Status,
			&n.Payload,
			&n.ErrorMessage,
			&sentAt,
			&n.CreatedAt,
			&n.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.SentAt = timePtr(sentAt)
		result = append(result, &n)
	}

	return result, rows.Err()
}

// Verify interface compliance
var _ port.NotificationRepository = (*NotificationRepository)(nil)
