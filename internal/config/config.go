package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config holds all application configuration
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Lock           LockConfig           `mapstructure:"lock"`
	Redis          RedisConfig          `mapstructure:"redis"`
	OpenAI         OpenAIConfig         `mapstructure:"openai"`
	Services       ServicesConfig       `mapstructure:"services"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Retry          RetryConfig          `mapstructure:"retry"`
	Approval       ApprovalConfig       `mapstructure:"approval"`
	Escalation     EscalationConfig     `mapstructure:"escalation"`
	Worker         WorkerConfig         `mapstructure:"worker"`
	Notify         NotifyConfig         `mapstructure:"notify"`
	Logger         LoggerConfig         `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	WebhookSecret   string        `mapstructure:"webhook_secret"`
	WebhookMaxSkew  time.Duration `mapstructure:"webhook_max_skew"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
}

// LockConfig selects the per-key lock implementation
type LockConfig struct {
	Driver     string        `mapstructure:"driver"`
	TTL        time.Duration `mapstructure:"ttl"`
	RetryEvery time.Duration `mapstructure:"retry_every"`
	MaxWait    time.Duration `mapstructure:"max_wait"`
}

// RedisConfig holds Redis connection settings for the distributed lock
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// OpenAIConfig holds OpenAI API configuration
type OpenAIConfig struct {
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	Model             string        `mapstructure:"model"`
	Temperature       float32       `mapstructure:"temperature"`
	MaxTokens         int           `mapstructure:"max_tokens"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	PromptsPath       string        `mapstructure:"prompts_path"`
}

// ServicesConfig holds downstream service endpoints
type ServicesConfig struct {
	SMSAgentURL           string        `mapstructure:"sms_agent_url"`
	CollectionsMonitorURL string        `mapstructure:"collections_monitor_url"`
	NotificationURL       string        `mapstructure:"notification_url"`
	Timeout               time.Duration `mapstructure:"timeout"`
}

// CircuitBreakerConfig holds per-service failure thresholds
type CircuitBreakerConfig struct {
	SMSThreshold          int           `mapstructure:"sms_threshold"`
	NotificationThreshold int           `mapstructure:"notification_threshold"`
	MonitorThreshold      int           `mapstructure:"monitor_threshold"`
	OpenAIThreshold       int           `mapstructure:"openai_threshold"`
	ResetTimeout          time.Duration `mapstructure:"reset_timeout"`
}

// RetryConfig holds the retry policy for generation calls
type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// ApprovalConfig holds routing thresholds and the manager approval SLA
type ApprovalConfig struct {
	TimeoutHours                  int     `mapstructure:"timeout_hours"`
	AutoSendThreshold             float64 `mapstructure:"auto_send_threshold"`
	EscalationThreshold           float64 `mapstructure:"escalation_threshold"`
	NotificationEnabled           bool    `mapstructure:"notification_enabled"`
	EscalationNotificationEnabled bool    `mapstructure:"escalation_notification_enabled"`
	PublicBaseURL                 string  `mapstructure:"public_base_url"`
	Schedule                      string  `mapstructure:"schedule"`
}

// EscalationConfig holds the conversation response SLA
type EscalationConfig struct {
	TimeoutHours     int     `mapstructure:"timeout_hours"`
	WarningHours     int     `mapstructure:"warning_hours"`
	TriggerThreshold float64 `mapstructure:"trigger_threshold"`
	Schedule         string  `mapstructure:"schedule"`
	CleanupSchedule  string  `mapstructure:"cleanup_schedule"`
	CleanupDays      int     `mapstructure:"cleanup_days"`
}

// WorkerConfig holds intake pool sizing
type WorkerConfig struct {
	IntakeWorkers    int           `mapstructure:"intake_workers"`
	IntakeQueueSize  int           `mapstructure:"intake_queue_size"`
	IntakeJobTimeout time.Duration `mapstructure:"intake_job_timeout"`
	SweepTimeout     time.Duration `mapstructure:"sweep_timeout"`
}

// NotifyConfig holds manager alert channels beyond the notification service
type NotifyConfig struct {
	LarkAppID     string `mapstructure:"lark_app_id"`
	LarkAppSecret string `mapstructure:"lark_app_secret"`
	LarkChatID    string `mapstructure:"lark_chat_id"`
	// LarkCommandsEnabled lets managers approve, modify or escalate from the Lark chat
	LarkCommandsEnabled bool   `mapstructure:"lark_commands_enabled"`
	SlackToken          string `mapstructure:"slack_token"`
	SlackChannel        string `mapstructure:"slack_channel"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load reads .env (if present), then the YAML file, then environment variables.
// An empty configPath uses defaults and the environment only.
func Load(configPath string) (*Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.webhook_max_skew", 5*time.Minute)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/orchestrator.db")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", 0)
	v.SetDefault("database.busy_timeout", "5s")

	v.SetDefault("lock.driver", "local")
	v.SetDefault("lock.ttl", 30*time.Second)
	v.SetDefault("lock.retry_every", 50*time.Millisecond)
	v.SetDefault("lock.max_wait", 10*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("openai.model", "gpt-4-turbo")
	v.SetDefault("openai.temperature", 0.7)
	v.SetDefault("openai.max_tokens", 200)
	v.SetDefault("openai.timeout", 30*time.Second)
	v.SetDefault("openai.requests_per_minute", 3500)

	v.SetDefault("services.sms_agent_url", "http://localhost:8002")
	v.SetDefault("services.collections_monitor_url", "http://localhost:8001")
	v.SetDefault("services.notification_url", "http://localhost:8003")
	v.SetDefault("services.timeout", 30*time.Second)

	v.SetDefault("circuit_breaker.sms_threshold", 3)
	v.SetDefault("circuit_breaker.notification_threshold", 3)
	v.SetDefault("circuit_breaker.monitor_threshold", 5)
	v.SetDefault("circuit_breaker.openai_threshold", 5)
	v.SetDefault("circuit_breaker.reset_timeout", 300*time.Second)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff", time.Second)
	v.SetDefault("retry.max_backoff", 10*time.Second)

	v.SetDefault("approval.timeout_hours", 24)
	v.SetDefault("approval.auto_send_threshold", 0.85)
	v.SetDefault("approval.escalation_threshold", 0.60)
	v.SetDefault("approval.notification_enabled", true)
	v.SetDefault("approval.escalation_notification_enabled", true)
	v.SetDefault("approval.public_base_url", "http://localhost:8000")
	v.SetDefault("approval.schedule", "*/5 * * * *")

	v.SetDefault("escalation.timeout_hours", 36)
	v.SetDefault("escalation.warning_hours", 6)
	v.SetDefault("escalation.trigger_threshold", 0.7)
	v.SetDefault("escalation.schedule", "*/5 * * * *")
	v.SetDefault("escalation.cleanup_schedule", "0 3 * * *")
	v.SetDefault("escalation.cleanup_days", 30)

	v.SetDefault("worker.intake_workers", 4)
	v.SetDefault("worker.intake_queue_size", 100)
	v.SetDefault("worker.intake_job_timeout", 2*time.Minute)
	v.SetDefault("worker.sweep_timeout", 2*time.Minute)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars binds secrets and endpoints to their conventional variable names
func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("openai.api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("server.webhook_secret", "SMS_WEBHOOK_SECRET")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("database.path", "DATABASE_PATH")
	_ = v.BindEnv("services.sms_agent_url", "SMS_AGENT_URL")
	_ = v.BindEnv("services.collections_monitor_url", "COLLECTIONS_MONITOR_URL")
	_ = v.BindEnv("services.notification_url", "NOTIFICATION_SERVICE_URL")
	_ = v.BindEnv("notify.lark_app_id", "LARK_APP_ID")
	_ = v.BindEnv("notify.lark_app_secret", "LARK_APP_SECRET")
	_ = v.BindEnv("notify.lark_chat_id", "LARK_CHAT_ID")
	_ = v.BindEnv("notify.slack_token", "SLACK_BOT_TOKEN")
	_ = v.BindEnv("notify.slack_channel", "SLACK_CHANNEL")
}

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Port > 0 && c.Server.Port < 65536, "server.port must be between 1 and 65535")

	check(c.Database.Driver == "sqlite" || c.Database.Driver == "memory",
		"database.driver must be sqlite or memory, got %q", c.Database.Driver)
	check(c.Database.Driver != "sqlite" || c.Database.Path != "", "database.path is required for sqlite")

	check(c.Lock.Driver == "local" || c.Lock.Driver == "redis",
		"lock.driver must be local or redis, got %q", c.Lock.Driver)
	check(c.Lock.Driver != "redis" || c.Redis.Addr != "", "redis.addr is required for the redis lock")

	check(c.OpenAI.APIKey != "", "openai.api_key is required")
	check(c.OpenAI.Model != "", "openai.model is required")
	check(c.OpenAI.Temperature >= 0 && c.OpenAI.Temperature <= 2, "openai.temperature must be between 0 and 2")
	check(c.OpenAI.RequestsPerMinute >= 0, "openai.requests_per_minute must not be negative")

	for name, raw := range map[string]string{
		"services.sms_agent_url":           c.Services.SMSAgentURL,
		"services.collections_monitor_url": c.Services.CollectionsMonitorURL,
		"services.notification_url":        c.Services.NotificationURL,
		"approval.public_base_url":         c.Approval.PublicBaseURL,
	} {
		u, err := url.Parse(raw)
		check(err == nil && u.Scheme != "" && u.Host != "", "%s must be an absolute URL, got %q", name, raw)
	}

	check(c.CircuitBreaker.SMSThreshold > 0 && c.CircuitBreaker.NotificationThreshold > 0 &&
		c.CircuitBreaker.MonitorThreshold > 0 && c.CircuitBreaker.OpenAIThreshold > 0,
		"circuit_breaker thresholds must be positive")
	check(c.CircuitBreaker.ResetTimeout > 0, "circuit_breaker.reset_timeout must be positive")
	check(c.Retry.MaxAttempts > 0, "retry.max_attempts must be positive")

	check(c.Approval.EscalationThreshold >= 0 && c.Approval.AutoSendThreshold <= 1 &&
		c.Approval.EscalationThreshold < c.Approval.AutoSendThreshold,
		"approval thresholds must satisfy 0 <= escalation_threshold < auto_send_threshold <= 1")
	check(c.Approval.TimeoutHours > 0, "approval.timeout_hours must be positive")

	check(c.Escalation.TimeoutHours > 0, "escalation.timeout_hours must be positive")
	check(c.Escalation.WarningHours >= 0 && c.Escalation.WarningHours < c.Escalation.TimeoutHours,
		"escalation.warning_hours must be less than escalation.timeout_hours")
	check(c.Escalation.CleanupDays > 0, "escalation.cleanup_days must be positive")

	for name, expr := range map[string]string{
		"approval.schedule":           c.Approval.Schedule,
		"escalation.schedule":         c.Escalation.Schedule,
		"escalation.cleanup_schedule": c.Escalation.CleanupSchedule,
	} {
		_, err := scheduleParser.Parse(expr)
		check(err == nil, "%s is not a valid cron expression: %q", name, expr)
	}

	check(c.Worker.IntakeWorkers > 0, "worker.intake_workers must be positive")
	check(c.Worker.IntakeQueueSize > 0, "worker.intake_queue_size must be positive")

	check((c.Notify.LarkAppID == "") == (c.Notify.LarkAppSecret == ""),
		"notify.lark_app_id and notify.lark_app_secret must be set together")
	check(c.Notify.LarkAppID == "" || c.Notify.LarkChatID != "", "notify.lark_chat_id is required when Lark is configured")
	check(!c.Notify.LarkCommandsEnabled || c.Notify.LarkAppID != "", "notify.lark_commands_enabled needs the Lark app credentials")
	check(c.Notify.SlackToken == "" || c.Notify.SlackChannel != "", "notify.slack_channel is required when Slack is configured")

	return errors.Join(errs...)
}

// Addr returns the host:port the HTTP server listens on
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
