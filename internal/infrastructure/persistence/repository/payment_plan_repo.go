package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/sms-orchestrator/internal/application/port"
	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
	"github.com/garyjia/sms-orchestrator/internal/infrastructure/persistence/sqlite"
)

const paymentPlanColumns = `
	id, workflow_id, conversation_id, tenant_id, extracted_from,
	weekly_amount, duration_weeks, start_date, extraction_confidence,
	raw_text, status, validation_result, created_at
`

// PaymentPlanRepository implements port.PaymentPlanRepository
type PaymentPlanRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPaymentPlanRepository creates a new payment plan repository
func NewPaymentPlanRepository(db *sql.DB, logger *zap.Logger) port.PaymentPlanRepository {
	return &PaymentPlanRepository{
		db:     db,
		logger: logger,
	}
}

// Create stores an extraction attempt with its validation result
func (r *PaymentPlanRepository) Create(ctx context.Context, a *entity.PaymentPlanAttempt) error {
	validation, err := json.Marshal(a.Validation)
	if err != nil {
		return fmt.Errorf("failed to encode validation result: %w", err)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO payment_plan_attempts (` + paymentPlanColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		a.ID,
		a.WorkflowID,
		a.ConversationID,
		a.TenantID,
		a.ExtractedFrom,
		a.WeeklyAmount,
		a.DurationWeeks,
		nullTime(a.StartDate),
		a.ExtractionConfidence,
		a.RawText,
		a.Status,
		string(validation),
		a.CreatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create payment plan attempt",
			zap.String("workflow_id", a.WorkflowID),
			zap.Error(err))
		return fmt.Errorf("failed to create payment plan attempt: %w", err)
	}
	return nil
}

// GetByID retrieves an attempt by id
func (r *PaymentPlanRepository) GetByID(ctx context.Context, id string) (*entity.PaymentPlanAttempt, error) {
	query := `SELECT ` + paymentPlanColumns + ` FROM payment_plan_attempts WHERE id = ?`

	a, err := scanPaymentPlan(sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", entity.ErrPaymentPlanNotFound, id)
	}
	if err != nil {
		r.logger.Error("Failed to get payment plan attempt", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get payment plan attempt: %w", err)
	}
	return a, nil
}

// ListByWorkflow returns a workflow's attempts, oldest first
func (r *PaymentPlanRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*entity.PaymentPlanAttempt, error) {
	query := `SELECT ` + paymentPlanColumns + `
		FROM payment_plan_attempts
		WHERE workflow_id = ?
		ORDER BY created_at ASC`
	return r.list(ctx, query, workflowID)
}

// ListByConversation returns a page of a conversation's attempts, newest first
func (r *PaymentPlanRepository) ListByConversation(ctx context.Context, conversationID string, limit, offset int) ([]*entity.PaymentPlanAttempt, int, error) {
	var total int
	err := sqlite.Executor(ctx, r.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM payment_plan_attempts WHERE conversation_id = ?`, conversationID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count payment plan attempts: %w", err)
	}

	if limit <= 0 {
		limit = -1
	}
	query := `SELECT ` + paymentPlanColumns + `
		FROM payment_plan_attempts
		WHERE conversation_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`
	attempts, err := r.list(ctx, query, conversationID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return attempts, total, nil
}

func (r *PaymentPlanRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.PaymentPlanAttempt, error) {
	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list payment plan attempts", zap.Error(err))
		return nil, fmt.Errorf("failed to list payment plan attempts: %w", err)
	}
	defer rows.Close()

	var result []*entity.PaymentPlanAttempt
	for rows.Next() {
		a, err := scanPaymentPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment plan attempt: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func scanPaymentPlan(row rowScanner) (*entity.PaymentPlanAttempt, error) {
	var a entity.PaymentPlanAttempt
	var startDate sql.NullTime
	var validation string

	if err := row.Scan(
		&a.ID,
		&a.WorkflowID,
		&a.ConversationID,
		&a.TenantID,
		&a.ExtractedFrom,
		&a.WeeklyAmount,
		&a.DurationWeeks,
		&startDate,
		&a.ExtractionConfidence,
		&a.RawText,
		&a.Status,
		&validation,
		&a.CreatedAt,
	); err != nil {
		return nil, err
	}

	a.StartDate = timePtr(startDate)
	if validation != "" && validation != "null" {
		a.Validation = &entity.PaymentPlanValidation{}
		if err := json.Unmarshal([]byte(validation), a.Validation); err != nil {
			return nil, fmt.Errorf("failed to decode validation result: %w", err)
		}
	}
	return &a, nil
}

// Verify interface compliance
var _ port.PaymentPlanRepository = (*PaymentPlanRepository)(nil)
