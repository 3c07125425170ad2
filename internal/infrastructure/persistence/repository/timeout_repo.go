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

const timeoutColumns = `
	workflow_id, phone_number, last_ai_response, timeout_threshold_hours, status,
	escalation_triggered, warning_sent, warning_sent_at, escalation_triggered_at,
	created_at, updated_at`

// TimeoutRepository implements port.TimeoutRepository
type TimeoutRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTimeoutRepository creates a new timeout tracking repository
func NewTimeoutRepository(db *sql.DB, logger *zap.Logger) port.TimeoutRepository {
	return &TimeoutRepository{
		db:     db,
		logger: logger,
	}
}

// CreateIfAbsent inserts the row unless the workflow is already tracked
func (r *TimeoutRepository) CreateIfAbsent(ctx context.Context, t *entity.TimeoutTracking) (*entity.TimeoutTracking, bool, error) {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}

	query := `
		INSERT INTO timeout_tracking (` + timeoutColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workflow_id) DO NOTHING
	`
	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		t.WorkflowID,
		t.PhoneNumber,
		t.LastAIResponse.UTC(),
		t.TimeoutThresholdHours,
		t.Status,
		boolToInt(t.EscalationTriggered),
		boolToInt(t.WarningSent),
		nullTime(t.WarningSentAt),
		nullTime(t.EscalationTriggeredAt),
		t.CreatedAt.UTC(),
		t.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create timeout tracking", zap.String("workflow_id", t.WorkflowID), zap.Error(err))
		return nil, false, fmt.Errorf("failed to create timeout tracking: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 1 {
		return t.Clone(), true, nil
	}

	existing, err := r.Get(ctx, t.WorkflowID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// Get retrieves the tracking row of a workflow
func (r *TimeoutRepository) Get(ctx context.Context, workflowID string) (*entity.TimeoutTracking, error) {
	query := `SELECT ` + timeoutColumns + ` FROM timeout_tracking WHERE workflow_id = ?`

	t, err := scanTracking(sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, workflowID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", entity.ErrTrackingNotFound, workflowID)
	}
	if err != nil {
		r.logger.Error("Failed to get timeout tracking", zap.String("workflow_id", workflowID), zap.Error(err))
		return nil, fmt.Errorf("failed to get timeout tracking: %w", err)
	}
	return t, nil
}

// Update applies fn to the stored row and writes it back.
// Callers serialize updates per workflow with a port.KeyLocker.
func (r *TimeoutRepository) Update(ctx context.Context, workflowID string, fn func(t *entity.TimeoutTracking) error) (*entity.TimeoutTracking, error) {
	current, err := r.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	stamped := current.UpdatedAt
	if err := fn(current); err != nil {
		return nil, err
	}
	if current.UpdatedAt.Equal(stamped) {
		current.UpdatedAt = time.Now().UTC()
	}

	query := `
		UPDATE timeout_tracking
		SET last_ai_response = ?, timeout_threshold_hours = ?, status = ?,
			escalation_triggered = ?, warning_sent = ?, warning_sent_at = ?,
			escalation_triggered_at = ?, updated_at = ?
		WHERE workflow_id = ?
	`
	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		current.LastAIResponse.UTC(),
		current.TimeoutThresholdHours,
		current.Status,
		boolToInt(current.EscalationTriggered),
		boolToInt(current.WarningSent),
		nullTime(current.WarningSentAt),
		nullTime(current.EscalationTriggeredAt),
		current.UpdatedAt,
		workflowID,
	)
	if err != nil {
		r.logger.Error("Failed to update timeout tracking", zap.String("workflow_id", workflowID), zap.Error(err))
		return nil, fmt.Errorf("failed to update timeout tracking: %w", err)
	}

	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("%w: %s", entity.ErrTrackingNotFound, workflowID)
	}

	return current, nil
}

// ListMonitored returns rows that have not been escalated yet
func (r *TimeoutRepository) ListMonitored(ctx context.Context) ([]*entity.TimeoutTracking, error) {
	query := `
		SELECT ` + timeoutColumns + `
		FROM timeout_tracking
		WHERE escalation_triggered = 0
		ORDER BY last_ai_response ASC
	`
	return r.list(ctx, query)
}

// List returns every tracked conversation
func (r *TimeoutRepository) List(ctx context.Context) ([]*entity.TimeoutTracking, error) {
	query := `SELECT ` + timeoutColumns + ` FROM timeout_tracking ORDER BY created_at ASC`
	return r.list(ctx, query)
}

// DeleteEscalatedBefore removes escalated rows last updated before cutoff
func (r *TimeoutRepository) DeleteEscalatedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	query := `DELETE FROM timeout_tracking WHERE status = ? AND updated_at < ?`

	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query, entity.TimeoutStatusEscalated, cutoff.UTC())
	if err != nil {
		r.logger.Error("Failed to clean up timeout tracking", zap.Error(err))
		return 0, fmt.Errorf("failed to clean up timeout tracking: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

func (r *TimeoutRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.TimeoutTracking, error) {
	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list timeout tracking", zap.Error(err))
		return nil, fmt.Errorf("failed to list timeout tracking: %w", err)
	}
	defer rows.Close()

	var items []*entity.TimeoutTracking
	for rows.Next() {
		t, err := scanTracking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan timeout tracking: %w", err)
		}
		items = append(items, t)
	}

	return items, rows.Err()
}

func scanTracking(row rowScanner) (*entity.TimeoutTracking, error) {
	var t entity.TimeoutTracking
	var warningSentAt, escalatedAt sql.NullTime

	err := row.Scan(
		&t.WorkflowID,
		&t.PhoneNumber,
		&t.LastAIResponse,
		&t.TimeoutThresholdHours,
		&t.Status,
		&t.EscalationTriggered,
		&t.WarningSent,
		&warningSentAt,
		&escalatedAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.WarningSentAt = timePtr(warningSentAt)
	t.EscalationTriggeredAt = timePtr(escalatedAt)
	return &t, nil
}

// Verify interface compliance
var _ port.TimeoutRepository = (*TimeoutRepository)(nil)
