package container

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/garyjia/sms-orchestrator/internal/application/dispatcher"
	"github.com/garyjia/sms-orchestrator/internal/application/port"
	"github.com/garyjia/sms-orchestrator/internal/application/service"
	"github.com/garyjia/sms-orchestrator/internal/application/workflow"
	"github.com/garyjia/sms-orchestrator/internal/infrastructure/worker"
	"github.com/garyjia/sms-orchestrator/internal/reliability"
)

// Container manages all application dependencies and lifecycle.
// Components are initialized in dependency order and torn down in reverse.
type Container struct {
	config *Config
	logger *zap.Logger

	// Infrastructure - Data
	sqlDB        *sql.DB
	txManager    port.TransactionManager
	repositories *RepositoryBundle
	locker       port.KeyLocker
	redis        *redis.Client

	// Infrastructure - External
	breakers *reliability.Manager
	external *ExternalBundle

	// Application
	dispatcher dispatcher.Dispatcher
	workflow   workflow.WorkflowEngine
	services   *ServiceBundle

	// Workers
	intakePool *worker.IntakePool
	sweeps     *worker.SweepWorker
	workers    *worker.WorkerManager

	// Lifecycle
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	ApprovalQueue port.ApprovalQueueRepository
	AuditLog      port.AuditLogRepository
	Workflow      port.WorkflowRepository
	Step          port.StepRepository
	Timeout       port.TimeoutRepository
	Notification  port.NotificationRepository
	PaymentPlan   port.PaymentPlanRepository
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Approval     service.ApprovalService
	Timeout      service.TimeoutMonitor
	Notification service.NotificationService
	Intake       service.IntakeService
	PaymentPlan  service.PaymentPlanService
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components and begins processing.
// Components are initialized in dependency order:
// 1. Database, repositories and locks
// 2. Dispatcher and circuit breakers
// 3. External clients
// 4. Workflow engine and application services
// 5. Workers
func (c *Container) Start(ctx context.Context) error {
	if err := c.Init(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.workers.StartAll(c.ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	c.logger.Info("Workers started", zap.Strings("workers", c.workers.Names()))

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

// Init builds every component without starting background workers.
// One-shot commands use it to run a sweep or query the store directly.
func (c *Container) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.services != nil {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	// Step 1: Initialize database, repositories and locks
	if err := c.initDatabase(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized", zap.String("driver", c.config.Database.Driver))

	// Step 2: Initialize dispatcher and breakers
	c.dispatcher = ProvideDispatcher(c.logger)
	c.breakers = ProvideBreakers(&c.config.Breakers, c.dispatcher, c.logger)

	// Step 3: Initialize external clients
	if err := c.initExternalClients(); err != nil {
		return fmt.Errorf("failed to initialize external clients: %w", err)
	}
	c.logger.Info("External clients initialized")

	// Step 4: Initialize workflow engine and services
	if err := c.initServices(); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	c.logger.Info("Application services initialized")

	// Step 5: Build workers
	c.initWorkers()

	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")

	var errs []error

	// Step 1: Stop workers; the intake pool drains accepted messages
	if c.workers != nil && c.workers.IsRunning() {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		} else {
			c.logger.Info("Workers stopped")
		}
	}

	// Step 2: Close dispatcher, waiting for in-flight notifications
	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		} else {
			c.logger.Info("Dispatcher closed")
		}
	}

	// Cancel context to signal anything still running
	if c.cancel != nil {
		c.cancel()
	}

	// Step 3: Close lock backend
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			c.logger.Error("Failed to close redis client", zap.Error(err))
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}

	// Step 4: Close database
	if c.sqlDB != nil {
		if err := c.sqlDB.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
	}

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors: %w", len(errs), errors.Join(errs...))
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// Ready returns true when all components are initialized and workers run.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
// An open circuit is reported but does not fail overall health.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, h ComponentHealth) {
		status.Components[name] = h
		if !h.Healthy {
			status.Overall = false
		}
	}

	// Check database
	switch {
	case c.sqlDB != nil:
		if err := c.sqlDB.PingContext(ctx); err != nil {
			set("database", ComponentHealth{Healthy: false, Message: fmt.Sprintf("ping failed: %v", err)})
		} else {
			set("database", ComponentHealth{Healthy: true})
		}
	case c.repositories != nil:
		set("database", ComponentHealth{Healthy: true, Message: "in-memory"})
	default:
		set("database", ComponentHealth{Healthy: false, Message: "not initialized"})
	}

	// Check lock backend
	if c.redis != nil {
		if err := c.redis.Ping(ctx).Err(); err != nil {
			set("locks", ComponentHealth{Healthy: false, Message: fmt.Sprintf("redis ping failed: %v", err)})
		} else {
			set("locks", ComponentHealth{Healthy: true, Message: "redis"})
		}
	} else if c.locker != nil {
		set("locks", ComponentHealth{Healthy: true, Message: "local"})
	}

	// Check workers
	if c.workers != nil {
		h := ComponentHealth{
			Healthy: c.workers.IsRunning(),
			Message: fmt.Sprintf("workers: %v", c.workers.Names()),
		}
		if c.intakePool != nil {
			processed, failed := c.intakePool.Stats()
			h.Message += fmt.Sprintf(", intake processed=%d failed=%d", processed, failed)
		}
		set("workers", h)
	} else {
		set("workers", ComponentHealth{Healthy: false, Message: "not initialized"})
	}

	// Check dispatcher
	if c.dispatcher != nil {
		set("dispatcher", ComponentHealth{
			Healthy: true,
			Message: fmt.Sprintf("in-flight handlers: %d", c.dispatcher.InFlight()),
		})
	} else {
		set("dispatcher", ComponentHealth{Healthy: false, Message: "not initialized"})
	}

	// Circuit breakers
	if c.breakers != nil {
		for _, s := range c.breakers.Statuses() {
			status.Components["circuit:"+s.Service] = ComponentHealth{
				Healthy: s.IsAvailable,
				Message: s.State.String(),
			}
		}
	}

	return status
}

func (c *Container) initDatabase() error {
	bundle, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return err
	}
	c.sqlDB = bundle.SqlDB
	c.txManager = bundle.TxManager
	c.repositories = bundle.Repos

	locks, err := ProvideLocker(c.ctx, &c.config.Lock, c.logger)
	if err != nil {
		if c.sqlDB != nil {
			_ = c.sqlDB.Close()
			c.sqlDB = nil
		}
		return err
	}
	c.locker = locks.Locker
	c.redis = locks.Redis

	return nil
}

func (c *Container) initExternalClients() error {
	external, err := ProvideExternalClients(c.config, c.breakers, c.logger)
	if err != nil {
		return err
	}
	c.external = external
	return nil
}

func (c *Container) initServices() error {
	c.workflow = ProvideWorkflowEngine(c.repositories, c.txManager, c.locker, c.dispatcher, c.logger)
	c.intakePool = ProvideIntakePool(&c.config.Worker, c.logger)

	services, err := ProvideServices(&ServiceDeps{
		Config:     c.config,
		Repos:      c.repositories,
		TxManager:  c.txManager,
		Locker:     c.locker,
		External:   c.external,
		Breakers:   c.breakers,
		Dispatcher: c.dispatcher,
		Engine:     c.workflow,
		Queue:      c.intakePool,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	c.services = services

	c.intakePool.Handle(services.Intake.Process)
	RegisterEventHandlers(c.dispatcher, c.workflow, services, c.logger)
	return nil
}

func (c *Container) initWorkers() {
	c.sweeps = worker.NewSweepWorker(c.logger, SweepJobs(c.config, c.services, c.workflow, c.logger)...)
	workers := []worker.Worker{c.intakePool, c.sweeps}
	if lark := ProvideLarkCommands(&c.config.Notify, c.services.Approval, c.logger); lark != nil {
		workers = append(workers, lark)
	}
	c.workers = ProvideWorkers(c.logger, workers...)
}

// Getters for accessing container components

// TransactionManager returns the transaction manager.
func (c *Container) TransactionManager() port.TransactionManager {
	return c.txManager
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Locker returns the per-key locker.
func (c *Container) Locker() port.KeyLocker {
	return c.locker
}

// Breakers returns the circuit breaker manager.
func (c *Container) Breakers() *reliability.Manager {
	return c.breakers
}

// External returns the downstream adapters.
func (c *Container) External() *ExternalBundle {
	return c.external
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// WorkflowEngine returns the workflow engine.
func (c *Container) WorkflowEngine() workflow.WorkflowEngine {
	return c.workflow
}

// Services returns all application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Sweeps returns the scheduled job runner.
func (c *Container) Sweeps() *worker.SweepWorker {
	return c.sweeps
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.WorkerManager {
	return c.workers
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}

// KVLogger returns the key-value logger handed to the application layer.
func (c *Container) KVLogger() interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
} {
	return &zapLoggerAdapter{logger: c.logger}
}

// zapLoggerAdapter adapts zap.Logger to the key-value Logger interfaces
// of the application and ai packages.
type zapLoggerAdapter struct {
	logger *zap.Logger
}

func (a *zapLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, convertToZapFields(keysAndValues...)...)
}

func (a *zapLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, convertToZapFields(keysAndValues...)...)
}

// convertToZapFields converts key-value pairs to zap fields.
func convertToZapFields(keysAndValues ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		if err, ok := keysAndValues[i+1].(error); ok {
			fields = append(fields, zap.NamedError(key, err))
			continue
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
