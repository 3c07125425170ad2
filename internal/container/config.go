// Package container provides dependency injection and lifecycle management
// for the SMS reply orchestrator.
package container

import (
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/sms-orchestrator/internal/reliability"
)

// Database drivers
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Lock drivers
const (
	LockLocal = "local"
	LockRedis = "redis"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	Database   DatabaseConfig
	Lock       LockConfig
	OpenAI     OpenAIConfig
	Services   ServicesConfig
	Breakers   BreakerConfig
	Retry      reliability.RetryPolicy
	Approval   ApprovalConfig
	Escalation EscalationConfig
	Worker     WorkerConfig
	Notify     NotifyConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Driver is "sqlite" or "memory"
	Driver string

	// Path to SQLite database file
	Path string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration

	// MigrationsDir overrides the embedded migrations when set
	MigrationsDir string
}

// LockConfig selects the per-key locker.
type LockConfig struct {
	// Driver is "local" or "redis"
	Driver string

	TTL        time.Duration
	RetryEvery time.Duration

	// MaxWait bounds how long a caller queues for a key. Zero waits for ctx.
	MaxWait time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// OpenAIConfig holds reply generation settings.
type OpenAIConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	Temperature       float32
	MaxTokens         int
	Timeout           time.Duration
	RequestsPerMinute int

	// PromptsPath points at a prompts YAML file. Empty uses the built-in prompt.
	PromptsPath string
}

// ServicesConfig holds downstream endpoints.
type ServicesConfig struct {
	SMSAgentURL           string
	CollectionsMonitorURL string
	NotificationURL       string
	Timeout               time.Duration
}

// BreakerConfig holds per-service failure thresholds.
type BreakerConfig struct {
	SMSThreshold          int
	NotificationThreshold int
	MonitorThreshold      int
	OpenAIThreshold       int
	ResetTimeout          time.Duration
}

// ApprovalConfig holds routing and approval queue policy.
type ApprovalConfig struct {
	Timeout                       time.Duration
	AutoSendThreshold             float64
	EscalationThreshold           float64
	NotificationEnabled           bool
	EscalationNotificationEnabled bool
	PublicBaseURL                 string
	Schedule                      string
}

// EscalationConfig holds response timeout policy.
type EscalationConfig struct {
	TimeoutHours     int
	WarningWindow    time.Duration
	TriggerThreshold float64
	Schedule         string
	CleanupSchedule  string
	CleanupDays      int
}

// WorkerConfig holds background worker settings.
type WorkerConfig struct {
	IntakeWorkers    int
	IntakeQueueSize  int
	IntakeJobTimeout time.Duration
	SweepTimeout     time.Duration
}

// NotifyConfig holds the optional chat channels for manager alerts.
type NotifyConfig struct {
	LarkAppID     string
	LarkAppSecret string
	LarkChatID    string
	// LarkCommands reads approve/modify/escalate commands from the Lark chat
	LarkCommands bool
	SlackToken   string
	SlackChannel string
}

// DefaultConfig returns a Config with sensible defaults.
// It runs entirely in process: memory repositories and a local locker.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:          DriverMemory,
			Path:            "data/orchestrator.db",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Lock: LockConfig{
			Driver:     LockLocal,
			TTL:        30 * time.Second,
			RetryEvery: 50 * time.Millisecond,
			MaxWait:    10 * time.Second,
		},
		OpenAI: OpenAIConfig{
			Model:             "gpt-4-turbo",
			Temperature:       0.7,
			MaxTokens:         200,
			Timeout:           30 * time.Second,
			RequestsPerMinute: 3500,
		},
		Services: ServicesConfig{
			SMSAgentURL:           "http://localhost:8002",
			CollectionsMonitorURL: "http://localhost:8001",
			NotificationURL:       "http://localhost:8003",
			Timeout:               10 * time.Second,
		},
		Breakers: BreakerConfig{
			SMSThreshold:          3,
			NotificationThreshold: 3,
			MonitorThreshold:      5,
			OpenAIThreshold:       5,
			ResetTimeout:          300 * time.Second,
		},
		Retry: reliability.DefaultRetryPolicy(),
		Approval: ApprovalConfig{
			Timeout:                       24 * time.Hour,
			AutoSendThreshold:             0.85,
			EscalationThreshold:           0.60,
			NotificationEnabled:           true,
			EscalationNotificationEnabled: true,
			PublicBaseURL:                 "http://localhost:8000",
			Schedule:                      "*/5 * * * *",
		},
		Escalation: EscalationConfig{
			TimeoutHours:     36,
			WarningWindow:    6 * time.Hour,
			TriggerThreshold: 0.7,
			Schedule:         "*/5 * * * *",
			CleanupSchedule:  "0 3 * * *",
			CleanupDays:      30,
		},
		Worker: WorkerConfig{
			IntakeWorkers:    4,
			IntakeQueueSize:  100,
			IntakeJobTimeout: 2 * time.Minute,
			SweepTimeout:     2 * time.Minute,
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Database.Path == "" {
			errs = append(errs, fmt.Errorf("database.path is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver must be %q or %q, got %q", DriverSQLite, DriverMemory, c.Database.Driver))
	}

	switch c.Lock.Driver {
	case LockLocal:
	case LockRedis:
		if c.Lock.RedisAddr == "" {
			errs = append(errs, fmt.Errorf("redis.addr is required for the redis lock driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("lock.driver must be %q or %q, got %q", LockLocal, LockRedis, c.Lock.Driver))
	}

	if c.OpenAI.APIKey == "" {
		errs = append(errs, fmt.Errorf("openai.api_key is required"))
	}
	if c.Services.SMSAgentURL == "" {
		errs = append(errs, fmt.Errorf("services.sms_agent_url is required"))
	}
	if c.Services.CollectionsMonitorURL == "" {
		errs = append(errs, fmt.Errorf("services.collections_monitor_url is required"))
	}
	if c.Services.NotificationURL == "" {
		errs = append(errs, fmt.Errorf("services.notification_url is required"))
	}
	if c.Approval.AutoSendThreshold <= c.Approval.EscalationThreshold {
		errs = append(errs, fmt.Errorf("approval.auto_send_threshold must exceed approval.escalation_threshold"))
	}
	if c.Worker.IntakeWorkers <= 0 {
		errs = append(errs, fmt.Errorf("worker.intake_workers must be positive"))
	}

	return errors.Join(errs...)
}
