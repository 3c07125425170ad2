package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/garyjia/sms-orchestrator/internal/application/dispatcher"
	"github.com/garyjia/sms-orchestrator/internal/application/port"
	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
	"github.com/garyjia/sms-orchestrator/internal/domain/event"
)

type mockLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)
}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

func (m *mockLogger) ErrorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.errors)
}

// mockDispatcher records events instead of running handlers
type mockDispatcher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (m *mockDispatcher) Subscribe(eventType event.Type, name string, handler dispatcher.Handler) {}

func (m *mockDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	m.record(evt)
	return nil
}

func (m *mockDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	m.record(evt)
}

func (m *mockDispatcher) Handlers(eventType event.Type) []dispatcher.HandlerInfo { return nil }
func (m *mockDispatcher) InFlight() int64                                        { return 0 }
func (m *mockDispatcher) Close() error                                           { return nil }

func (m *mockDispatcher) record(evt *event.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
}

func (m *mockDispatcher) ofType(t event.Type) []*event.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*event.Event
	for _, e := range m.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type sentSMS struct {
	Phone string
	Text  string
}

type mockSMSSender struct {
	mu       sync.Mutex
	sendFunc func(ctx context.Context, phone, text string) (string, error)
	sent     []sentSMS
}

func (m *mockSMSSender) Send(ctx context.Context, phone, text string) (string, error) {
	m.mu.Lock()
	m.sent = append(m.sent, sentSMS{Phone: phone, Text: text})
	n := len(m.sent)
	m.mu.Unlock()

	if m.sendFunc != nil {
		return m.sendFunc(ctx, phone, text)
	}
	return fmt.Sprintf("msg-%d", n), nil
}

func (m *mockSMSSender) Sent() []sentSMS {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentSMS(nil), m.sent...)
}

type mockNotifier struct {
	mu       sync.Mutex
	sendFunc func(ctx context.Context, payload *entity.NotificationPayload) error
	payloads []*entity.NotificationPayload
}

func (m *mockNotifier) Send(ctx context.Context, payload *entity.NotificationPayload) error {
	m.mu.Lock()
	m.payloads = append(m.payloads, payload)
	m.mu.Unlock()

	if m.sendFunc != nil {
		return m.sendFunc(ctx, payload)
	}
	return nil
}

func (m *mockNotifier) Name() string { return "mock" }

func (m *mockNotifier) Payloads() []*entity.NotificationPayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*entity.NotificationPayload(nil), m.payloads...)
}

type mockExporter struct {
	exportFunc func(logs []*entity.ApprovalAuditLogEntry) ([]byte, error)
}

func (m *mockExporter) Export(logs []*entity.ApprovalAuditLogEntry) ([]byte, error) {
	if m.exportFunc != nil {
		return m.exportFunc(logs)
	}
	return []byte(fmt.Sprintf("%d rows", len(logs))), nil
}

func (m *mockExporter) ContentType() string { return "text/plain" }

// mockNotificationService records calls without building payloads
type mockNotificationService struct {
	mu          sync.Mutex
	escalations []EscalationNotice
	warnings    []string
	approvals   []string
	failWith    error
}

func (m *mockNotificationService) NotifyApprovalRequired(ctx context.Context, entry *entity.ApprovalQueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approvals = append(m.approvals, entry.ID)
	return m.failWith
}

func (m *mockNotificationService) NotifyEscalation(ctx context.Context, notice EscalationNotice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.escalations = append(m.escalations, notice)
	return m.failWith
}

func (m *mockNotificationService) NotifyTimeoutWarning(ctx context.Context, tracking *entity.TimeoutTracking, hoursRemaining float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnings = append(m.warnings, tracking.WorkflowID)
	return m.failWith
}

func (m *mockNotificationService) Send(ctx context.Context, payload *entity.NotificationPayload) error {
	return m.failWith
}

func (m *mockNotificationService) Escalations() []EscalationNotice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EscalationNotice(nil), m.escalations...)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errDownstream = errors.New("downstream unavailable")

var (
	_ port.SMSSender        = (*mockSMSSender)(nil)
	_ port.Notifier         = (*mockNotifier)(nil)
	_ port.AuditExporter    = (*mockExporter)(nil)
	_ NotificationService   = (*mockNotificationService)(nil)
	_ dispatcher.Dispatcher = (*mockDispatcher)(nil)
)
