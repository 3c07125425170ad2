package container

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/garyjia/sms-orchestrator/internal/ai"
	"github.com/garyjia/sms-orchestrator/internal/application/dispatcher"
	"github.com/garyjia/sms-orchestrator/internal/application/port"
	"github.com/garyjia/sms-orchestrator/internal/application/service"
	"github.com/garyjia/sms-orchestrator/internal/application/workflow"
	"github.com/garyjia/sms-orchestrator/internal/domain/event"
	"github.com/garyjia/sms-orchestrator/internal/infrastructure/export"
	"github.com/garyjia/sms-orchestrator/internal/infrastructure/external/collections"
	"github.com/garyjia/sms-orchestrator/internal/infrastructure/external/notify"
	"github.com/garyjia/sms-orchestrator/internal/infrastructure/external/openai"
	"github.com/garyjia/sms-orchestrator/internal/infrastructure/lock"
	"github.com/garyjia/sms-orchestrator/internal/infrastructure/persistence/memory"
	"github.com/garyjia/sms-orchestrator/internal/infrastructure/persistence/repository"
	"github.com/garyjia/sms-orchestrator/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/sms-orchestrator/internal/infrastructure/worker"
	"github.com/garyjia/sms-orchestrator/internal/interfaces/websocket"
	"github.com/garyjia/sms-orchestrator/internal/metrics"
	"github.com/garyjia/sms-orchestrator/internal/reliability"
	"github.com/garyjia/sms-orchestrator/pkg/database"
)

// Breaker names, also used as service names in errors and metrics
const (
	BreakerSMSAgent     = "sms_agent"
	BreakerMonitor      = "collections_monitor"
	BreakerNotification = "notification"
	BreakerOpenAI       = "openai"
)

// Sweep job names
const (
	JobApprovalTimeouts = "approval-timeouts"
	JobResponseTimeouts = "response-timeouts"
	JobCleanup          = "cleanup"
)

// DatabaseBundle holds database-related components.
// SqlDB is nil for the memory driver.
type DatabaseBundle struct {
	SqlDB     *sql.DB
	TxManager port.TransactionManager
	Repos     *RepositoryBundle
}

// ProvideDatabase opens the configured store, runs migrations and builds the repositories.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}

	if cfg.Driver == DriverMemory {
		workflows := memory.NewWorkflowRepository()
		logger.Info("Using in-memory repositories")
		return &DatabaseBundle{
			TxManager: memory.NewTxManager(),
			Repos: &RepositoryBundle{
				ApprovalQueue: memory.NewApprovalQueueRepository(),
				AuditLog:      memory.NewAuditLogRepository(),
				Workflow:      workflows,
				Step:          workflows.Steps(),
				Timeout:       memory.NewTimeoutRepository(),
				Notification:  memory.NewNotificationRepository(),
				PaymentPlan:   memory.NewPaymentPlanRepository(),
			},
		}, nil
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		BusyTimeout:     cfg.BusyTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := database.NewMigrator(db, logger).RunMigrations(cfg.MigrationsDir); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		SqlDB:     db.DB,
		TxManager: sqlite.NewDB(db.DB, logger),
		Repos:     ProvideRepositories(db.DB, logger),
	}, nil
}

// ProvideRepositories creates the SQL repositories on an open database.
func ProvideRepositories(db *sql.DB, logger *zap.Logger) *RepositoryBundle {
	return &RepositoryBundle{
		ApprovalQueue: repository.NewApprovalQueueRepository(db, logger),
		AuditLog:      repository.NewAuditLogRepository(db, logger),
		Workflow:      repository.NewWorkflowRepository(db, logger),
		Step:          repository.NewStepRepository(db, logger),
		Timeout:       repository.NewTimeoutRepository(db, logger),
		Notification:  repository.NewNotificationRepository(db, logger),
		PaymentPlan:   repository.NewPaymentPlanRepository(db, logger),
	}
}

// LockBundle holds the key locker and the Redis client behind it, if any.
type LockBundle struct {
	Locker port.KeyLocker
	Redis  *redis.Client
}

// ProvideLocker creates the per-key locker. The redis driver pings before returning.
func ProvideLocker(ctx context.Context, cfg *LockConfig, logger *zap.Logger) (*LockBundle, error) {
	if cfg.Driver != LockRedis {
		return &LockBundle{Locker: lock.WithMaxWait(lock.NewKeyedMutex(), cfg.MaxWait)}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}

	logger.Info("Using redis locks", zap.String("addr", cfg.RedisAddr))
	locker := lock.NewRedisLocker(rdb, lock.RedisConfig{
		TTL:          cfg.TTL,
		RetryBackoff: cfg.RetryEvery,
	}, logger)

	return &LockBundle{
		Locker: lock.WithMaxWait(locker, cfg.MaxWait),
		Redis:  rdb,
	}, nil
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(logger *zap.Logger) dispatcher.Dispatcher {
	return dispatcher.NewDispatcher(
		dispatcher.WithLogger(&zapLoggerAdapter{logger: logger}),
		dispatcher.WithHandlerTimeout(time.Minute),
	)
}

// ProvideBreakers creates the breaker manager. Every transition is counted and announced.
func ProvideBreakers(cfg *BreakerConfig, d dispatcher.Dispatcher, logger *zap.Logger) *reliability.Manager {
	manager := reliability.NewManager(func(name string, from, to reliability.State) {
		metrics.RecordCircuitTransition(name, to.String())
		logger.Info("Circuit breaker state changed",
			zap.String("service", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()))
		d.DispatchAsync(context.Background(), event.NewEvent(event.TypeCircuitStateChanged, "", name, map[string]interface{}{
			event.KeyService:   name,
			event.KeyFromState: from.String(),
			event.KeyToState:   to.String(),
		}))
	})

	manager.GetOrCreate(BreakerSMSAgent, cfg.SMSThreshold, cfg.ResetTimeout)
	manager.GetOrCreate(BreakerMonitor, cfg.MonitorThreshold, cfg.ResetTimeout)
	manager.GetOrCreate(BreakerNotification, cfg.NotificationThreshold, cfg.ResetTimeout)
	manager.GetOrCreate(BreakerOpenAI, cfg.OpenAIThreshold, cfg.ResetTimeout)

	return manager
}

// ExternalBundle holds the downstream adapters.
type ExternalBundle struct {
	Generator *openai.Generator
	SMSAgent  *collections.SMSAgentClient
	Monitor   *collections.MonitorClient
	Notifier  port.Notifier
	Exporter  port.AuditExporter
	Detector  *ai.EscalationDetector
	Scorer    *ai.ConfidenceScorer
}

// ProvideExternalClients creates the downstream adapters on their breakers.
func ProvideExternalClients(cfg *Config, breakers *reliability.Manager, logger *zap.Logger) (*ExternalBundle, error) {
	prompts := openai.DefaultPrompts()
	if cfg.OpenAI.PromptsPath != "" {
		loaded, err := openai.LoadPrompts(cfg.OpenAI.PromptsPath)
		if err != nil {
			return nil, err
		}
		prompts = loaded
	}

	openaiBreaker, _ := breakers.Get(BreakerOpenAI)
	smsBreaker, _ := breakers.Get(BreakerSMSAgent)
	monitorBreaker, _ := breakers.Get(BreakerMonitor)

	generator := openai.NewGenerator(openai.Config{
		APIKey:            cfg.OpenAI.APIKey,
		BaseURL:           cfg.OpenAI.BaseURL,
		Model:             cfg.OpenAI.Model,
		Temperature:       cfg.OpenAI.Temperature,
		MaxTokens:         cfg.OpenAI.MaxTokens,
		Timeout:           cfg.OpenAI.Timeout,
		RequestsPerMinute: cfg.OpenAI.RequestsPerMinute,
	}, prompts, openaiBreaker, cfg.Retry, logger)

	serviceLogger := &zapLoggerAdapter{logger: logger}

	return &ExternalBundle{
		Generator: generator,
		SMSAgent:  collections.NewSMSAgentClient(cfg.Services.SMSAgentURL, cfg.Services.Timeout, smsBreaker, logger),
		Monitor:   collections.NewMonitorClient(cfg.Services.CollectionsMonitorURL, cfg.Services.Timeout, monitorBreaker, logger),
		Notifier:  ProvideNotifier(cfg, logger),
		Exporter:  export.NewXLSXExporter(logger),
		Detector:  ai.NewEscalationDetector(cfg.Escalation.TriggerThreshold, serviceLogger),
		Scorer:    ai.NewConfidenceScorer(serviceLogger),
	}, nil
}

// ProvideNotifier returns the notification service webhook, fanned out to
// Lark and Slack when those channels are configured.
func ProvideNotifier(cfg *Config, logger *zap.Logger) port.Notifier {
	webhook := notify.NewWebhookNotifier(cfg.Services.NotificationURL, cfg.Services.Timeout, logger)

	channels := []port.Notifier{webhook}
	if cfg.Notify.LarkAppID != "" && cfg.Notify.LarkChatID != "" {
		channels = append(channels, notify.NewLarkNotifier(notify.LarkConfig{
			AppID:     cfg.Notify.LarkAppID,
			AppSecret: cfg.Notify.LarkAppSecret,
			ChatID:    cfg.Notify.LarkChatID,
		}, logger))
	}
	if cfg.Notify.SlackToken != "" && cfg.Notify.SlackChannel != "" {
		channels = append(channels, notify.NewSlackNotifier(cfg.Notify.SlackToken, cfg.Notify.SlackChannel, logger))
	}

	if len(channels) == 1 {
		return webhook
	}

	names := make([]string, 0, len(channels))
	for _, ch := range channels {
		names = append(names, ch.Name())
	}
	logger.Info("Manager alerts fan out", zap.String("channels", strings.Join(names, ",")))
	return notify.NewFanoutNotifier(logger, channels...)
}

// ProvideWorkflowEngine creates the workflow engine.
func ProvideWorkflowEngine(repos *RepositoryBundle, tx port.TransactionManager, locker port.KeyLocker, d dispatcher.Dispatcher, logger *zap.Logger) workflow.WorkflowEngine {
	return workflow.NewEngine(
		repos.Workflow,
		repos.Step,
		tx,
		locker,
		workflow.WithDispatcher(d),
		workflow.WithLogger(&zapLoggerAdapter{logger: logger}),
	)
}

// ServiceDeps holds dependencies required for creating application services.
type ServiceDeps struct {
	Config     *Config
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Locker     port.KeyLocker
	External   *ExternalBundle
	Breakers   *reliability.Manager
	Dispatcher dispatcher.Dispatcher
	Engine     workflow.WorkflowEngine
	Queue      port.IntakeQueue
	Logger     *zap.Logger
}

// ProvideServices creates all application services.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}
	if deps.Repos == nil || deps.External == nil || deps.Engine == nil || deps.Queue == nil {
		return nil, fmt.Errorf("repositories, external clients, engine and queue are required")
	}

	cfg := deps.Config
	serviceLogger := &zapLoggerAdapter{logger: deps.Logger}
	notificationBreaker, _ := deps.Breakers.Get(BreakerNotification)

	notifications := service.NewNotificationService(
		deps.Repos.Notification,
		deps.External.Notifier,
		notificationBreaker,
		service.NotificationConfig{
			ApprovalEnabled:   cfg.Approval.NotificationEnabled,
			EscalationEnabled: cfg.Approval.EscalationNotificationEnabled,
			PublicBaseURL:     cfg.Approval.PublicBaseURL,
		},
		serviceLogger,
	)

	approvals, err := service.NewApprovalService(service.ApprovalDeps{
		QueueRepo:  deps.Repos.ApprovalQueue,
		AuditRepo:  deps.Repos.AuditLog,
		TxManager:  deps.TxManager,
		Locker:     deps.Locker,
		SMS:        deps.External.SMSAgent,
		Exporter:   deps.External.Exporter,
		Dispatcher: deps.Dispatcher,
		Logger:     serviceLogger,
	}, service.ApprovalConfig{
		Timeout:    cfg.Approval.Timeout,
		Thresholds: ai.NewRoutingThresholds(cfg.Approval.AutoSendThreshold, cfg.Approval.EscalationThreshold),
	})
	if err != nil {
		return nil, err
	}

	timeouts := service.NewTimeoutMonitor(
		deps.Repos.Timeout,
		deps.Locker,
		notifications,
		deps.Dispatcher,
		service.TimeoutConfig{
			ThresholdHours: cfg.Escalation.TimeoutHours,
			WarningWindow:  cfg.Escalation.WarningWindow,
		},
		serviceLogger,
	)

	plans := service.NewPaymentPlanService(deps.Repos.PaymentPlan, deps.Engine, nil, serviceLogger)

	intake := service.NewIntakeService(service.IntakeDeps{
		Engine:        deps.Engine,
		Queue:         deps.Queue,
		Tenants:       deps.External.Monitor,
		Conversations: deps.External.SMSAgent,
		Detector:      deps.External.Detector,
		Generator:     deps.External.Generator,
		Scorer:        deps.External.Scorer,
		SMS:           deps.External.SMSAgent,
		Approvals:     approvals,
		Timeouts:      timeouts,
		Notifications: notifications,
		Plans:         plans,
		Logger:        serviceLogger,
	})

	return &ServiceBundle{
		Approval:     approvals,
		Timeout:      timeouts,
		Notification: notifications,
		Intake:       intake,
		PaymentPlan:  plans,
	}, nil
}

// RegisterEventHandlers subscribes the services and the engine to domain events.
func RegisterEventHandlers(d dispatcher.Dispatcher, engine workflow.WorkflowEngine, services *ServiceBundle, logger *zap.Logger) {
	d.Subscribe(event.TypeApprovalRequired, "approval_notifier", approvalRequiredHandler(services))
	d.Subscribe(event.TypeEscalationRequested, "escalation_notifier", escalationRequestedHandler(services))

	d.Subscribe(event.TypeApprovalProcessed, "workflow_engine", engine.HandleEvent)
	d.Subscribe(event.TypeApprovalProcessed, "timeout_tracker", approvalDeliveredHandler(services))
	d.Subscribe(event.TypeTimeoutEscalated, "workflow_engine", engine.HandleEvent)

	logger.Info("Event handlers registered")
}

func approvalRequiredHandler(services *ServiceBundle) dispatcher.Handler {
	return func(ctx context.Context, evt *event.Event) error {
		entry, err := services.Approval.GetEntry(ctx, evt.ReferenceID)
		if err != nil {
			return fmt.Errorf("load queue entry %s: %w", evt.ReferenceID, err)
		}
		return services.Notification.NotifyApprovalRequired(ctx, entry)
	}
}

// approvalDeliveredHandler starts the response window once an approved reply reaches the tenant
func approvalDeliveredHandler(services *ServiceBundle) dispatcher.Handler {
	return func(ctx context.Context, evt *event.Event) error {
		if delivered, _ := evt.Payload[event.KeyDelivered].(bool); !delivered {
			return nil
		}
		entry, err := services.Approval.GetEntry(ctx, evt.ReferenceID)
		if err != nil {
			return fmt.Errorf("load queue entry %s: %w", evt.ReferenceID, err)
		}

		tracking, err := services.Timeout.Register(ctx, entry.WorkflowID, entry.PhoneNumber, evt.Timestamp, 0)
		if err != nil {
			return err
		}
		if tracking.LastAIResponse.Before(evt.Timestamp) {
			_, err = services.Timeout.UpdateResponse(ctx, entry.WorkflowID, evt.Timestamp, true)
		}
		return err
	}
}

func escalationRequestedHandler(services *ServiceBundle) dispatcher.Handler {
	return func(ctx context.Context, evt *event.Event) error {
		entry, err := services.Approval.GetEntry(ctx, evt.ReferenceID)
		if err != nil {
			return fmt.Errorf("load queue entry %s: %w", evt.ReferenceID, err)
		}

		score := entry.ConfidenceScore
		notice := service.EscalationNotice{
			QueueID:         entry.ID,
			WorkflowID:      entry.WorkflowID,
			TenantID:        entry.TenantID,
			PhoneNumber:     entry.PhoneNumber,
			ConfidenceScore: &score,
			ResponseText:    entry.AIResponse,
			OriginalMessage: entry.OriginalMessage,
			EscalatedAt:     evt.Timestamp,
		}
		if v, ok := evt.Payload[event.KeyReason].(string); ok {
			notice.Reason = v
		}
		if v, ok := evt.Payload[event.KeyActor].(string); ok {
			notice.EscalatedBy = v
		}
		if v, ok := evt.Payload[event.KeyTimeoutHours].(int); ok {
			notice.TimeoutHours = v
		}

		return services.Notification.NotifyEscalation(ctx, notice)
	}
}

// ProvideIntakePool creates the intake worker pool. Its handler is attached once services exist.
func ProvideIntakePool(cfg *WorkerConfig, logger *zap.Logger) *worker.IntakePool {
	return worker.NewIntakePool(worker.IntakePoolConfig{
		Workers:    cfg.IntakeWorkers,
		QueueSize:  cfg.IntakeQueueSize,
		JobTimeout: cfg.IntakeJobTimeout,
	}, logger)
}

// SweepJobs returns the scheduled maintenance jobs.
func SweepJobs(cfg *Config, services *ServiceBundle, engine workflow.WorkflowEngine, logger *zap.Logger) []worker.SweepJob {
	return []worker.SweepJob{
		{
			Name:     JobApprovalTimeouts,
			Schedule: cfg.Approval.Schedule,
			Timeout:  cfg.Worker.SweepTimeout,
			Run: func(ctx context.Context) error {
				n, err := services.Approval.CheckApprovalTimeouts(ctx)
				if n > 0 {
					logger.Info("Approval timeouts escalated", zap.Int("count", n))
				}
				return err
			},
		},
		{
			Name:     JobResponseTimeouts,
			Schedule: cfg.Escalation.Schedule,
			Timeout:  cfg.Worker.SweepTimeout,
			Run: func(ctx context.Context) error {
				result, err := services.Timeout.ProcessTimeouts(ctx)
				if result != nil && (result.Escalated > 0 || result.Warned > 0) {
					logger.Info("Response timeouts processed",
						zap.Int("escalated", result.Escalated),
						zap.Int("warned", result.Warned))
				}
				return err
			},
		},
		{
			Name:     JobCleanup,
			Schedule: cfg.Escalation.CleanupSchedule,
			Timeout:  cfg.Worker.SweepTimeout,
			Run: func(ctx context.Context) error {
				trackings, err := services.Timeout.CleanupOld(ctx, cfg.Escalation.CleanupDays)
				if err != nil {
					return err
				}
				workflows, err := engine.CleanupOlderThan(ctx, cfg.Escalation.CleanupDays)
				if err != nil {
					return err
				}
				logger.Info("Old records cleaned up",
					zap.Int("timeout_trackings", trackings),
					zap.Int("workflows", workflows))
				return nil
			},
		},
	}
}

// ProvideLarkCommands creates the Lark chat command listener, or nil when it is not enabled.
func ProvideLarkCommands(cfg *NotifyConfig, approvals service.ApprovalService, logger *zap.Logger) *websocket.LarkAdapter {
	if !cfg.LarkCommands || cfg.LarkAppID == "" {
		return nil
	}
	return websocket.NewLarkAdapter(websocket.LarkAdapterConfig{
		AppID:     cfg.LarkAppID,
		AppSecret: cfg.LarkAppSecret,
		ChatID:    cfg.LarkChatID,
	}, approvals, logger)
}

// ProvideWorkers registers the given workers in start order, not yet started.
// Nil entries are skipped.
func ProvideWorkers(logger *zap.Logger, workers ...worker.Worker) *worker.WorkerManager {
	manager := worker.NewWorkerManager(logger)
	for _, w := range workers {
		if w == nil {
			continue
		}
		manager.Register(w)
	}
	return manager
}
