package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/sms-orchestrator/internal/application/port"
	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
	"github.com/garyjia/sms-orchestrator/internal/metrics"
)

// IntakeHandler processes one accepted inbound message
type IntakeHandler func(ctx context.Context, msg entity.InboundMessage, workflowID string) error

// IntakePoolConfig holds configuration for the intake pool
type IntakePoolConfig struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
}

// DefaultIntakePoolConfig returns default configuration
func DefaultIntakePoolConfig() IntakePoolConfig {
	return IntakePoolConfig{
		Workers:    4,
		QueueSize:  100,
		JobTimeout: 2 * time.Minute,
	}
}

// IntakePool runs inbound messages through the handler on a fixed set of goroutines.
// It implements port.IntakeQueue; a full buffer rejects instead of blocking the caller.
type IntakePool struct {
	config  IntakePoolConfig
	logger  *zap.Logger
	jobs    chan port.IntakeJob
	handler IntakeHandler

	mu        sync.RWMutex
	isRunning bool
	closed    bool
	wg        sync.WaitGroup

	processedCount int64
	failedCount    int64
}

// NewIntakePool creates a pool. Call Handle before Start.
func NewIntakePool(config IntakePoolConfig, logger *zap.Logger) *IntakePool {
	defaults := DefaultIntakePoolConfig()
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = defaults.JobTimeout
	}
	return &IntakePool{
		config: config,
		logger: logger,
		jobs:   make(chan port.IntakeJob, config.QueueSize),
	}
}

// Handle sets the function that processes each job
func (p *IntakePool) Handle(h IntakeHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
}

// Name implements Worker
func (p *IntakePool) Name() string {
	return "IntakePool"
}

// Enqueue implements port.IntakeQueue
func (p *IntakePool) Enqueue(ctx context.Context, job port.IntakeJob) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return fmt.Errorf("%w: intake pool stopped", entity.ErrServiceUnavailable)
	}

	select {
	case p.jobs <- job:
		metrics.SetIntakeQueueDepth(len(p.jobs))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		p.logger.Error("Intake queue full, rejecting message",
			zap.String("workflow_id", job.WorkflowID),
			zap.Int("queue_size", p.config.QueueSize))
		return fmt.Errorf("%w: intake queue full", entity.ErrServiceUnavailable)
	}
}

// Start implements Worker
func (p *IntakePool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isRunning {
		return fmt.Errorf("intake pool already running")
	}
	if p.closed {
		return fmt.Errorf("intake pool cannot be restarted")
	}
	if p.handler == nil {
		return fmt.Errorf("intake pool has no handler")
	}
	p.isRunning = true

	// jobs outlive the manager's cancellation so a drain can finish them
	base := context.WithoutCancel(ctx)
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.loop(base, i)
	}

	p.logger.Info("IntakePool started",
		zap.Int("workers", p.config.Workers),
		zap.Int("queue_size", p.config.QueueSize))
	return nil
}

// Stop implements Worker. It stops accepting jobs and waits for the buffer to drain.
func (p *IntakePool) Stop() error {
	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return nil
	}
	p.isRunning = false
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	metrics.SetIntakeQueueDepth(0)

	p.mu.RLock()
	defer p.mu.RUnlock()
	p.logger.Info("IntakePool stopped",
		zap.Int64("processed_count", p.processedCount),
		zap.Int64("failed_count", p.failedCount))
	return nil
}

// Stats returns processed and failed job counts
func (p *IntakePool) Stats() (processed, failed int64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.processedCount, p.failedCount
}

func (p *IntakePool) loop(base context.Context, id int) {
	defer p.wg.Done()

	for job := range p.jobs {
		metrics.SetIntakeQueueDepth(len(p.jobs))
		p.run(base, id, job)
	}
}

func (p *IntakePool) run(base context.Context, id int, job port.IntakeJob) {
	ctx, cancel := context.WithTimeout(base, p.config.JobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Intake job panicked",
				zap.Int("worker", id),
				zap.String("workflow_id", job.WorkflowID),
				zap.Any("panic", r))
			p.record(false)
		}
	}()

	p.mu.RLock()
	handler := p.handler
	p.mu.RUnlock()

	if err := handler(ctx, job.Message, job.WorkflowID); err != nil {
		p.logger.Error("Intake job failed",
			zap.Int("worker", id),
			zap.String("workflow_id", job.WorkflowID),
			zap.Error(err))
		p.record(false)
		return
	}
	p.record(true)
}

func (p *IntakePool) record(ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ok {
		p.processedCount++
	} else {
		p.failedCount++
	}
}

// Verify interface compliance
var (
	_ port.IntakeQueue = (*IntakePool)(nil)
	_ Worker           = (*IntakePool)(nil)
)
