package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/sms-orchestrator/internal/application/port"
	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
	"github.com/garyjia/sms-orchestrator/internal/infrastructure/persistence/sqlite"
)

const stepColumns = `
	id, workflow_id, step_name, step_type, status, input_data, output_data,
	error_details, started_at, completed_at, duration_ms`

// StepRepository implements port.StepRepository
type StepRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStepRepository creates a new workflow step repository
func NewStepRepository(db *sql.DB, logger *zap.Logger) port.StepRepository {
	return &StepRepository{
		db:     db,
		logger: logger,
	}
}

// Create appends a step after the workflow's existing steps
func (r *StepRepository) Create(ctx context.Context, step *entity.WorkflowStep) error {
	input, err := encodeOptionalMap(step.InputData)
	if err != nil {
		return err
	}
	output, err := encodeOptionalMap(step.OutputData)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflow_steps (seq, ` + stepColumns + `)
		VALUES (
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM workflow_steps WHERE workflow_id = ?),
			?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		)
	`

	var duration sql.NullInt64
	if step.DurationMs != nil {
		duration = sql.NullInt64{Int64: *step.DurationMs, Valid: true}
	}

	_, err = sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		step.WorkflowID,
		step.ID,
		step.WorkflowID,
		step.StepName,
		step.StepType,
		step.Status,
		input,
		output,
		step.ErrorDetail,
		step.StartedAt.UTC(),
		nullTime(step.CompletedAt),
		duration,
	)
	if err != nil {
		r.logger.Error("Failed to create workflow step",
			zap.String("workflow_id", step.WorkflowID),
			zap.String("step_name", step.StepName),
			zap.Error(err))
		return fmt.Errorf("failed to create workflow step: %w", err)
	}

	return nil
}

// GetByID retrieves a step by ID
func (r *StepRepository) GetByID(ctx context.Context, id string) (*entity.WorkflowStep, error) {
	query := `SELECT ` + stepColumns + ` FROM workflow_steps WHERE id = ?`

	step, err := scanStep(sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", entity.ErrStepNotFound, id)
	}
	if err != nil {
		r.logger.Error("Failed to get workflow step", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get workflow step: %w", err)
	}
	return step, nil
}

// Update writes the completion fields of a step
func (r *StepRepository) Update(ctx context.Context, step *entity.WorkflowStep) error {
	output, err := encodeOptionalMap(step.OutputData)
	if err != nil {
		return err
	}

	var duration sql.NullInt64
	if step.DurationMs != nil {
		duration = sql.NullInt64{Int64: *step.DurationMs, Valid: true}
	}

	query := `
		UPDATE workflow_steps
		SET status = ?, output_data = ?, error_details = ?, completed_at = ?, duration_ms = ?
		WHERE id = ?
	`
	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		step.Status,
		output,
		step.ErrorDetail,
		nullTime(step.CompletedAt),
		duration,
		step.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update workflow step", zap.String("id", step.ID), zap.Error(err))
		return fmt.Errorf("failed to update workflow step: %w", err)
	}

	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", entity.ErrStepNotFound, step.ID)
	}
	return nil
}

// ListByWorkflow returns the steps of a workflow in insertion order
func (r *StepRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*entity.WorkflowStep, error) {
	query := `
		SELECT ` + stepColumns + `
		FROM workflow_steps
		WHERE workflow_id = ?
		ORDER BY seq ASC
	`

	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, workflowID)
	if err != nil {
		r.logger.Error("Failed to list workflow steps", zap.String("workflow_id", workflowID), zap.Error(err))
		return nil, fmt.Errorf("failed to list workflow steps: %w", err)
	}
	defer rows.Close()

	var steps []*entity.WorkflowStep
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow step: %w", err)
		}
		steps = append(steps, step)
	}

	return steps, rows.Err()
}

func scanStep(row rowScanner) (*entity.WorkflowStep, error) {
	var step entity.WorkflowStep
	var input, output sql.NullString
	var completedAt sql.NullTime
	var duration sql.NullInt64

	err := row.Scan(
		&step.ID,
		&step.WorkflowID,
		&step.StepName,
		&step.StepType,
		&step.Status,
		&input,
		&output,
		&step.ErrorDetail,
		&step.StartedAt,
		&completedAt,
		&duration,
	)
	if err != nil {
		return nil, err
	}

	if step.InputData, err = decodeMap(input); err != nil {
		return nil, err
	}
	if step.OutputData, err = decodeMap(output); err != nil {
		return nil, err
	}
	step.CompletedAt = timePtr(completedAt)
	if duration.Valid {
		d := duration.Int64
		step.DurationMs = &d
	}

	return &step, nil
}

// Verify interface compliance
var _ port.StepRepository = (*StepRepository)(nil)
