package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/sms-orchestrator/internal/application/dispatcher"
	"github.com/garyjia/sms-orchestrator/internal/application/port"
	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
	"github.com/garyjia/sms-orchestrator/internal/domain/event"
	"github.com/garyjia/sms-orchestrator/internal/metrics"
)

// TimeoutMonitor tracks how long conversations go without an AI reply and escalates stale ones
type TimeoutMonitor interface {
	Register(ctx context.Context, workflowID, phone string, lastAIResponse time.Time, thresholdHours int) (*entity.TimeoutTracking, error)
	UpdateResponse(ctx context.Context, workflowID string, at time.Time, resetFlags bool) (*entity.TimeoutTracking, error)
	CheckTimeouts(ctx context.Context, now time.Time) (*TimeoutCheckResult, error)
	ProcessTimeouts(ctx context.Context) (*TimeoutCheckResult, error)
	TimeRemaining(t *entity.TimeoutTracking, now time.Time) float64
	MarkEscalated(ctx context.Context, workflowID string) (*entity.TimeoutTracking, error)
	Get(ctx context.Context, workflowID string) (*entity.TimeoutTracking, error)
	Statistics(ctx context.Context) (*entity.TimeoutStatistics, error)
	CleanupOld(ctx context.Context, days int) (int, error)
}

// TimeoutCheckResult lists the rows a check moved into expired or warning
type TimeoutCheckResult struct {
	Expired   []*entity.TimeoutTracking `json:"expired"`
	Warnings  []*entity.TimeoutTracking `json:"warnings"`
	Escalated int                       `json:"escalated"`
	Warned    int                       `json:"warned"`
}

// TimeoutConfig holds response timeout policy
type TimeoutConfig struct {
	ThresholdHours int
	WarningWindow  time.Duration
}

// errUnchanged aborts a conditional update whose condition no longer holds
var errUnchanged = errors.New("tracking unchanged")

type timeoutMonitorImpl struct {
	repo          port.TimeoutRepository
	locker        port.KeyLocker
	notifications NotificationService
	dispatcher    dispatcher.Dispatcher
	config        TimeoutConfig
	logger        Logger
	now           func() time.Time
}

// NewTimeoutMonitor creates a new TimeoutMonitor
func NewTimeoutMonitor(
	repo port.TimeoutRepository,
	locker port.KeyLocker,
	notifications NotificationService,
	d dispatcher.Dispatcher,
	config TimeoutConfig,
	logger Logger,
) TimeoutMonitor {
	if config.ThresholdHours <= 0 {
		config.ThresholdHours = entity.DefaultTimeoutThresholdHours
	}
	if config.WarningWindow <= 0 {
		config.WarningWindow = entity.DefaultWarningWindowHours * time.Hour
	}
	return &timeoutMonitorImpl{
		repo:          repo,
		locker:        locker,
		notifications: notifications,
		dispatcher:    d,
		config:        config,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Register starts tracking a workflow. A workflow already tracked keeps its row.
func (m *timeoutMonitorImpl) Register(ctx context.Context, workflowID, phone string, lastAIResponse time.Time, thresholdHours int) (*entity.TimeoutTracking, error) {
	if workflowID == "" {
		return nil, fmt.Errorf("%w: workflow_id is required", entity.ErrValidation)
	}
	if thresholdHours <= 0 {
		thresholdHours = m.config.ThresholdHours
	}

	now := m.now()
	tracking, created, err := m.repo.CreateIfAbsent(ctx, &entity.TimeoutTracking{
		WorkflowID:            workflowID,
		PhoneNumber:           phone,
		LastAIResponse:        lastAIResponse,
		TimeoutThresholdHours: thresholdHours,
		Status:                entity.TimeoutStatusActive,
		CreatedAt:             now,
		UpdatedAt:             now,
	})
	if err != nil {
		return nil, fmt.Errorf("register timeout tracking: %w", err)
	}

	if created {
		m.logger.Info("Workflow registered for timeout monitoring",
			"workflow_id", workflowID,
			"timeout_hours", thresholdHours)
	}
	return tracking, nil
}

// UpdateResponse restarts the window from a new AI reply
func (m *timeoutMonitorImpl) UpdateResponse(ctx context.Context, workflowID string, at time.Time, resetFlags bool) (*entity.TimeoutTracking, error) {
	unlock, err := m.locker.Lock(ctx, timeoutKey(workflowID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := m.now()
	updated, err := m.repo.Update(ctx, workflowID, func(t *entity.TimeoutTracking) error {
		t.LastAIResponse = at
		t.Status = entity.TimeoutStatusActive
		t.UpdatedAt = now
		if resetFlags {
			t.WarningSent = false
			t.WarningSentAt = nil
			t.EscalationTriggered = false
			t.EscalationTriggeredAt = nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("Workflow timeout updated", "workflow_id", workflowID, "last_ai_response", at)
	return updated, nil
}

// CheckTimeouts evaluates each monitored row on its own. Expired rows are marked
// expired until escalation is triggered. Warnings are one-shot.
func (m *timeoutMonitorImpl) CheckTimeouts(ctx context.Context, now time.Time) (*TimeoutCheckResult, error) {
	rows, err := m.repo.ListMonitored(ctx)
	if err != nil {
		return nil, fmt.Errorf("list monitored timeouts: %w", err)
	}

	result := &TimeoutCheckResult{}
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		switch {
		case row.IsExpired(now) && !row.EscalationTriggered:
			t, err := m.conditionalUpdate(ctx, row.WorkflowID, func(t *entity.TimeoutTracking) bool {
				if !t.IsExpired(now) || t.EscalationTriggered {
					return false
				}
				t.Status = entity.TimeoutStatusExpired
				t.UpdatedAt = now
				return true
			})
			if err != nil {
				m.logger.Error("Failed to mark timeout expired", "workflow_id", row.WorkflowID, "error", err)
				continue
			}
			if t != nil {
				result.Expired = append(result.Expired, t)
			}

		case row.InWarningWindow(now, m.config.WarningWindow) && !row.WarningSent:
			t, err := m.conditionalUpdate(ctx, row.WorkflowID, func(t *entity.TimeoutTracking) bool {
				if !t.InWarningWindow(now, m.config.WarningWindow) || t.WarningSent {
					return false
				}
				t.Status = entity.TimeoutStatusWarning
				t.WarningSent = true
				t.WarningSentAt = &now
				t.UpdatedAt = now
				return true
			})
			if err != nil {
				m.logger.Error("Failed to mark timeout warning", "workflow_id", row.WorkflowID, "error", err)
				continue
			}
			if t != nil {
				result.Warnings = append(result.Warnings, t)
			}
		}
	}

	if len(result.Expired) > 0 || len(result.Warnings) > 0 {
		m.logger.Info("Timeout check complete",
			"expired_count", len(result.Expired),
			"warning_count", len(result.Warnings),
			"total_monitored", len(rows))
	}
	return result, nil
}

// conditionalUpdate applies fn under the row lock. It returns nil when fn declines.
func (m *timeoutMonitorImpl) conditionalUpdate(ctx context.Context, workflowID string, fn func(t *entity.TimeoutTracking) bool) (*entity.TimeoutTracking, error) {
	unlock, err := m.locker.Lock(ctx, timeoutKey(workflowID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	updated, err := m.repo.Update(ctx, workflowID, func(t *entity.TimeoutTracking) error {
		if !fn(t) {
			return errUnchanged
		}
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return nil, nil
	}
	return updated, err
}

// ProcessTimeouts runs a check and acts on it: expired conversations are escalated
// and announced, warnings are sent to managers
func (m *timeoutMonitorImpl) ProcessTimeouts(ctx context.Context) (*TimeoutCheckResult, error) {
	now := m.now()
	result, err := m.CheckTimeouts(ctx, now)
	if err != nil {
		return result, err
	}

	for _, t := range result.Expired {
		if err := m.escalate(ctx, t, now); err != nil {
			m.logger.Error("Timeout escalation failed", "workflow_id", t.WorkflowID, "error", err)
			continue
		}
		result.Escalated++
	}

	for _, t := range result.Warnings {
		hours := m.TimeRemaining(t, now)
		metrics.RecordTimeoutEvent("warning")
		if err := m.notifications.NotifyTimeoutWarning(ctx, t, hours); err != nil {
			m.logger.Error("Timeout warning notification failed", "workflow_id", t.WorkflowID, "error", err)
		} else {
			result.Warned++
		}
		m.dispatcher.DispatchAsync(ctx, event.NewEvent(event.TypeTimeoutWarning, t.WorkflowID, t.WorkflowID, map[string]interface{}{
			event.KeyHoursRemaining: hours,
		}))
	}

	return result, nil
}

func (m *timeoutMonitorImpl) escalate(ctx context.Context, t *entity.TimeoutTracking, now time.Time) error {
	escalated, err := m.MarkEscalated(ctx, t.WorkflowID)
	if err != nil {
		return err
	}
	metrics.RecordTimeoutEvent("escalated")

	escalationID := fmt.Sprintf("escalation-%s-%d", t.WorkflowID, now.Unix())
	reason := fmt.Sprintf("%d-hour response timeout exceeded", t.TimeoutThresholdHours)

	if err := m.notifications.NotifyEscalation(ctx, EscalationNotice{
		WorkflowID:   t.WorkflowID,
		PhoneNumber:  t.PhoneNumber,
		Reason:       reason,
		EscalatedBy:  entity.SystemActor,
		EscalatedAt:  now,
		EscalationID: escalationID,
	}); err != nil {
		m.logger.Error("Timeout escalation notification failed",
			"workflow_id", t.WorkflowID,
			"escalation_id", escalationID,
			"error", err)
	}

	m.dispatcher.DispatchAsync(ctx, event.NewEvent(event.TypeTimeoutEscalated, escalated.WorkflowID, escalated.WorkflowID, map[string]interface{}{
		event.KeyEscalationID: escalationID,
		event.KeyReason:       reason,
	}))

	m.logger.Info("Timeout escalation triggered",
		"workflow_id", t.WorkflowID,
		"escalation_id", escalationID)
	return nil
}

// TimeRemaining returns hours left before expiry, never negative
func (m *timeoutMonitorImpl) TimeRemaining(t *entity.TimeoutTracking, now time.Time) float64 {
	return t.RemainingHours(now)
}

// MarkEscalated records that escalation has been triggered for a workflow
func (m *timeoutMonitorImpl) MarkEscalated(ctx context.Context, workflowID string) (*entity.TimeoutTracking, error) {
	unlock, err := m.locker.Lock(ctx, timeoutKey(workflowID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := m.now()
	return m.repo.Update(ctx, workflowID, func(t *entity.TimeoutTracking) error {
		t.Status = entity.TimeoutStatusEscalated
		t.EscalationTriggered = true
		if t.EscalationTriggeredAt == nil {
			t.EscalationTriggeredAt = &now
		}
		t.UpdatedAt = now
		return nil
	})
}

// Get returns the tracking row of a workflow
func (m *timeoutMonitorImpl) Get(ctx context.Context, workflowID string) (*entity.TimeoutTracking, error) {
	return m.repo.Get(ctx, workflowID)
}

// Statistics counts tracked rows by status
func (m *timeoutMonitorImpl) Statistics(ctx context.Context) (*entity.TimeoutStatistics, error) {
	rows, err := m.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list timeouts: %w", err)
	}

	stats := &entity.TimeoutStatistics{
		Total: len(rows),
		ByStatus: map[entity.TimeoutStatus]int{
			entity.TimeoutStatusActive:    0,
			entity.TimeoutStatusWarning:   0,
			entity.TimeoutStatusExpired:   0,
			entity.TimeoutStatusEscalated: 0,
		},
	}
	for _, t := range rows {
		stats.ByStatus[t.Status]++
		if t.WarningSent {
			stats.WarningsSent++
		}
		if t.EscalationTriggered {
			stats.EscalationsTriggered++
		}
	}
	return stats, nil
}

// CleanupOld removes escalated rows older than days. Other rows are kept.
func (m *timeoutMonitorImpl) CleanupOld(ctx context.Context, days int) (int, error) {
	if days <= 0 {
		days = 7
	}

	cutoff := m.now().Add(-time.Duration(days) * 24 * time.Hour)
	removed, err := m.repo.DeleteEscalatedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup timeouts: %w", err)
	}
	if removed > 0 {
		m.logger.Info("Old timeout rows removed", "count", removed, "older_than_days", days)
	}
	return removed, nil
}

func timeoutKey(workflowID string) string {
	return "timeout:" + workflowID
}
