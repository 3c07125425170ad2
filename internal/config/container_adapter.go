package config

import (
	"time"

	"github.com/garyjia/sms-orchestrator/internal/container"
	"github.com/garyjia/sms-orchestrator/internal/reliability"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	retry := reliability.DefaultRetryPolicy()
	if c.Retry.MaxAttempts > 0 {
		retry.MaxAttempts = c.Retry.MaxAttempts
	}
	if c.Retry.InitialBackoff > 0 {
		retry.InitialBackoff = c.Retry.InitialBackoff
	}
	if c.Retry.MaxBackoff > 0 {
		retry.MaxBackoff = c.Retry.MaxBackoff
	}

	return &container.Config{
		Database: container.DatabaseConfig{
			Driver:          c.Database.Driver,
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			BusyTimeout:     c.Database.BusyTimeout,
			MigrationsDir:   c.Database.MigrationsDir,
		},
		Lock: container.LockConfig{
			Driver:        c.Lock.Driver,
			TTL:           c.Lock.TTL,
			RetryEvery:    c.Lock.RetryEvery,
			MaxWait:       c.Lock.MaxWait,
			RedisAddr:     c.Redis.Addr,
			RedisPassword: c.Redis.Password,
			RedisDB:       c.Redis.DB,
		},
		OpenAI: container.OpenAIConfig{
			APIKey:            c.OpenAI.APIKey,
			BaseURL:           c.OpenAI.BaseURL,
			Model:             c.OpenAI.Model,
			Temperature:       c.OpenAI.Temperature,
			MaxTokens:         c.OpenAI.MaxTokens,
			Timeout:           c.OpenAI.Timeout,
			RequestsPerMinute: c.OpenAI.RequestsPerMinute,
			PromptsPath:       c.OpenAI.PromptsPath,
		},
		Services: container.ServicesConfig{
			SMSAgentURL:           c.Services.SMSAgentURL,
			CollectionsMonitorURL: c.Services.CollectionsMonitorURL,
			NotificationURL:       c.Services.NotificationURL,
			Timeout:               c.Services.Timeout,
		},
		Breakers: container.BreakerConfig{
			SMSThreshold:          c.CircuitBreaker.SMSThreshold,
			NotificationThreshold: c.CircuitBreaker.NotificationThreshold,
			MonitorThreshold:      c.CircuitBreaker.MonitorThreshold,
			OpenAIThreshold:       c.CircuitBreaker.OpenAIThreshold,
			ResetTimeout:          c.CircuitBreaker.ResetTimeout,
		},
		Retry: retry,
		Approval: container.ApprovalConfig{
			Timeout:                       time.Duration(c.Approval.TimeoutHours) * time.Hour,
			AutoSendThreshold:             c.Approval.AutoSendThreshold,
			EscalationThreshold:           c.Approval.EscalationThreshold,
			NotificationEnabled:           c.Approval.NotificationEnabled,
			EscalationNotificationEnabled: c.Approval.EscalationNotificationEnabled,
			PublicBaseURL:                 c.Approval.PublicBaseURL,
			Schedule:                      c.Approval.Schedule,
		},
		Escalation: container.EscalationConfig{
			TimeoutHours:     c.Escalation.TimeoutHours,
			WarningWindow:    time.Duration(c.Escalation.WarningHours) * time.Hour,
			TriggerThreshold: c.Escalation.TriggerThreshold,
			Schedule:         c.Escalation.Schedule,
			CleanupSchedule:  c.Escalation.CleanupSchedule,
			CleanupDays:      c.Escalation.CleanupDays,
		},
		Worker: container.WorkerConfig{
			IntakeWorkers:    c.Worker.IntakeWorkers,
			IntakeQueueSize:  c.Worker.IntakeQueueSize,
			IntakeJobTimeout: c.Worker.IntakeJobTimeout,
			SweepTimeout:     c.Worker.SweepTimeout,
		},
		Notify: container.NotifyConfig{
			LarkAppID:     c.Notify.LarkAppID,
			LarkAppSecret: c.Notify.LarkAppSecret,
			LarkChatID:    c.Notify.LarkChatID,
			LarkCommands:  c.Notify.LarkCommandsEnabled,
			SlackToken:    c.Notify.SlackToken,
			SlackChannel:  c.Notify.SlackChannel,
		},
	}
}
