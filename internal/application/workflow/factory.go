package workflow

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
	domainwf "github.com/garyjia/sms-orchestrator/internal/domain/workflow"
)

// Step names written by the engine itself
const (
	StepWorkflowCreated  = "workflow_created"
	StepWorkflowRecovery = "workflow_recovery"
	statusUpdatePrefix   = "status_update_"
)

// StatusUpdateStepName returns the name of the step recorded for a transition to status
func StatusUpdateStepName(status domainwf.Status) string {
	return statusUpdatePrefix + status.String()
}

// expectedSteps is the step count an sms_processing run usually produces
const expectedSteps = entity.DefaultExpectedWorkflowSteps

func newStep(workflowID, name string, stepType entity.StepType, input map[string]interface{}, at time.Time) *entity.WorkflowStep {
	return &entity.WorkflowStep{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		StepName:   name,
		StepType:   stepType,
		Status:     entity.StepStatusStarted,
		InputData:  input,
		StartedAt:  at,
	}
}

func newCompletedStep(workflowID, name string, stepType entity.StepType, input, output map[string]interface{}, at time.Time) *entity.WorkflowStep {
	step := newStep(workflowID, name, stepType, input, at)
	step.Complete(entity.StepStatusCompleted, output, "", at)
	return step
}

func newStatusUpdateStep(workflowID string, from, to domainwf.Status, errMsg string, at time.Time) *entity.WorkflowStep {
	return newCompletedStep(workflowID, StatusUpdateStepName(to), entity.StepTypeDatabaseOperation,
		map[string]interface{}{"previous_status": from.String()},
		map[string]interface{}{"new_status": to.String(), "error_message": errMsg},
		at,
	)
}

func newRecoveryStep(workflowID string, from domainwf.Status, strategy domainwf.RecoveryStrategy, at time.Time) *entity.WorkflowStep {
	return newCompletedStep(workflowID, StepWorkflowRecovery, entity.StepTypeDatabaseOperation,
		map[string]interface{}{"previous_status": from.String(), "strategy": strategy.String()},
		map[string]interface{}{"recovery_attempt": true},
		at,
	)
}

// buildProgress summarizes steps. Estimated completion is the mean completed
// step duration times the steps still expected, and is omitted once the
// workflow has finished or before any step completed.
func buildProgress(instance *entity.WorkflowInstance, steps []*entity.WorkflowStep, now time.Time) entity.WorkflowProgress {
	progress := entity.WorkflowProgress{
		TotalSteps: len(steps),
	}
	if progress.TotalSteps < expectedSteps {
		progress.TotalSteps = expectedSteps
	}

	var totalMs int64
	for _, s := range steps {
		if s.Status != entity.StepStatusCompleted {
			continue
		}
		progress.CompletedSteps++
		if s.DurationMs != nil {
			totalMs += *s.DurationMs
		}
	}

	if n := len(steps); n > 0 {
		last := steps[n-1]
		if last.Status == entity.StepStatusStarted || last.Status == entity.StepStatusFailed {
			progress.CurrentStep = last.StepName
		}
	}

	if progress.CompletedSteps > 0 && !instance.Status.IsFinished() {
		remaining := expectedSteps - progress.CompletedSteps
		if remaining < 0 {
			remaining = 0
		}
		avg := float64(totalMs) / float64(progress.CompletedSteps)
		eta := now.Add(time.Duration(avg*float64(remaining)) * time.Millisecond)
		progress.EstimatedCompletion = &eta
	}

	return progress
}

func lockKey(workflowID string) string {
	return fmt.Sprintf("workflow:%s", workflowID)
}
