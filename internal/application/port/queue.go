package port

import (
	"context"

	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
)

// IntakeJob is an accepted inbound message waiting for processing
type IntakeJob struct {
	WorkflowID string
	Message    entity.InboundMessage
}

// IntakeQueue hands accepted messages to background workers
type IntakeQueue interface {
	// Enqueue returns an error wrapping entity.ErrServiceUnavailable when the queue is full
	Enqueue(ctx context.Context, job IntakeJob) error
}
