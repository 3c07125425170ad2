package container

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/sms-orchestrator/internal/application/service"
	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
	domainwf "github.com/garyjia/sms-orchestrator/internal/domain/workflow"
)

// downstream fakes the SMS agent, collections monitor, notification service and OpenAI
type downstream struct {
	srv *httptest.Server

	mu    sync.Mutex
	hits  map[string]int
	reply string
}

func newDownstream(t *testing.T) *downstream {
	d := &downstream{
		hits:  make(map[string]int),
		reply: "Hi, thanks for reaching out. Your balance is due on the 1st. Let us know if you need a payment plan.",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		d.hit("openai")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "gpt-4-turbo",
			"choices": []map[string]interface{}{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": d.replyText()},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"prompt_tokens": 40, "completion_tokens": 20, "total_tokens": 60},
		})
	})
	mux.HandleFunc("/sms/send", func(w http.ResponseWriter, r *http.Request) {
		d.hit("sms")
		_ = json.NewEncoder(w).Encode(map[string]string{"message_id": "msg-1"})
	})
	mux.HandleFunc("/conversations/", func(w http.ResponseWriter, r *http.Request) {
		d.hit("history")
		_ = json.NewEncoder(w).Encode([]interface{}{})
	})
	mux.HandleFunc("/monitor/tenant/", func(w http.ResponseWriter, r *http.Request) {
		d.hit("monitor")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"tenant_id":               strings.TrimPrefix(r.URL.Path, "/monitor/tenant/"),
			"has_outstanding_balance": true,
			"outstanding_balance":     450.0,
			"language_preference":     "en",
		})
	})
	mux.HandleFunc("/notifications/send", func(w http.ResponseWriter, r *http.Request) {
		d.hit("notify")
		w.WriteHeader(http.StatusOK)
	})

	d.srv = httptest.NewServer(mux)
	t.Cleanup(d.srv.Close)
	return d
}

func (d *downstream) hit(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hits[name]++
}

func (d *downstream) count(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hits[name]
}

func (d *downstream) replyText() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reply
}

func testConfig(d *downstream) *Config {
	cfg := DefaultConfig()
	cfg.OpenAI.APIKey = "sk-test"
	cfg.OpenAI.BaseURL = d.srv.URL + "/v1"
	cfg.Services.SMSAgentURL = d.srv.URL
	cfg.Services.CollectionsMonitorURL = d.srv.URL
	cfg.Services.NotificationURL = d.srv.URL
	cfg.Services.Timeout = 2 * time.Second
	cfg.Retry.InitialBackoff = time.Millisecond
	cfg.Retry.MaxBackoff = time.Millisecond
	return cfg
}

func startContainer(t *testing.T, cfg *Config) *Container {
	c, err := NewContainer(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() {
		if !c.closed.Load() {
			_ = c.Close()
		}
	})
	return c
}

func inbound(content string) entity.InboundMessage {
	return entity.InboundMessage{
		TenantID:       "tenant-42",
		PhoneNumber:    "+15551234567",
		Content:        content,
		ConversationID: "conv-42",
	}
}

func waitForStatus(t *testing.T, c *Container, workflowID string, accept ...domainwf.Status) domainwf.Status {
	var last domainwf.Status
	require.Eventually(t, func() bool {
		view, err := c.WorkflowEngine().GetStatus(context.Background(), workflowID)
		if err != nil {
			return false
		}
		last = view.Workflow.Status
		for _, s := range accept {
			if last == s {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond, "workflow stuck in %s", last)
	return last
}

func TestNewContainer_Validation(t *testing.T) {
	_, err := NewContainer(nil, zap.NewNop())
	assert.Error(t, err)

	_, err = NewContainer(DefaultConfig(), nil)
	assert.Error(t, err)

	_, err = NewContainer(DefaultConfig(), zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai.api_key")
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OpenAI.APIKey = "sk-test"
	require.NoError(t, cfg.Validate())

	cfg.Database.Driver = "postgres"
	cfg.Lock.Driver = LockRedis
	cfg.Approval.AutoSendThreshold = 0.5
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.driver")
	assert.Contains(t, err.Error(), "redis.addr")
	assert.Contains(t, err.Error(), "auto_send_threshold")
}

func TestContainer_Lifecycle(t *testing.T) {
	d := newDownstream(t)
	c := startContainer(t, testConfig(d))

	assert.True(t, c.Ready())
	assert.NotNil(t, c.Services().Intake)
	assert.NotNil(t, c.Services().Approval)
	assert.ElementsMatch(t, []string{"IntakePool", "SweepWorker"}, c.Workers().Names())

	health := c.Health(context.Background())
	assert.True(t, health.Overall)
	assert.Equal(t, "in-memory", health.Components["database"].Message)
	assert.Contains(t, health.Components, "circuit:"+BreakerOpenAI)

	assert.Error(t, c.Start(context.Background()), "second start")

	require.NoError(t, c.Close())
	assert.False(t, c.Ready())
	assert.Error(t, c.Close(), "second close")
	assert.Error(t, c.Start(context.Background()), "start after close")
}

func TestContainer_LegalThreatEscalatesWithoutGeneration(t *testing.T) {
	d := newDownstream(t)
	c := startContainer(t, testConfig(d))

	instance, err := c.Services().Intake.Receive(context.Background(), inbound("I am calling my lawyer about this"))
	require.NoError(t, err)

	waitForStatus(t, c, instance.ID, domainwf.StatusEscalated)
	assert.Eventually(t, func() bool { return d.count("notify") >= 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, d.count("openai"))
	assert.Equal(t, 0, d.count("sms"))
}

func TestContainer_RoutineMessageIsRouted(t *testing.T) {
	d := newDownstream(t)
	c := startContainer(t, testConfig(d))

	instance, err := c.Services().Intake.Receive(context.Background(), inbound("When is my payment due?"))
	require.NoError(t, err)

	status := waitForStatus(t, c, instance.ID,
		domainwf.StatusSent, domainwf.StatusAwaitingApproval, domainwf.StatusEscalated)
	assert.Equal(t, 1, d.count("openai"))
	assert.GreaterOrEqual(t, d.count("monitor"), 1)

	switch status {
	case domainwf.StatusSent:
		assert.Equal(t, 1, d.count("sms"))
		assert.Eventually(t, func() bool {
			tracking, err := c.Services().Timeout.Get(context.Background(), instance.ID)
			return err == nil && tracking.Status == entity.TimeoutStatusActive
		}, 2*time.Second, 10*time.Millisecond)
	case domainwf.StatusAwaitingApproval:
		pending, err := c.Services().Approval.GetPending(context.Background())
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, instance.ID, pending[0].WorkflowID)
	}
}

func TestContainer_ApprovedReplyStartsResponseWindow(t *testing.T) {
	d := newDownstream(t)
	cfg := testConfig(d)
	cfg.Approval.AutoSendThreshold = 1.0
	cfg.Approval.EscalationThreshold = 0.0
	c := startContainer(t, cfg)
	ctx := context.Background()

	instance, err := c.Services().Intake.Receive(ctx, inbound("When is my payment due?"))
	require.NoError(t, err)
	waitForStatus(t, c, instance.ID, domainwf.StatusAwaitingApproval)

	pending, err := c.Services().Approval.GetPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	_, err = c.Services().Timeout.Get(ctx, instance.ID)
	require.ErrorIs(t, err, entity.ErrNotFound)

	result, err := c.Services().Approval.ProcessAction(ctx, service.ActionRequest{
		QueueID:    pending[0].ID,
		Action:     entity.ActionApprove,
		ApprovedBy: "manager@example.com",
	})
	require.NoError(t, err)
	require.True(t, result.Delivered)

	assert.Eventually(t, func() bool {
		tracking, err := c.Services().Timeout.Get(ctx, instance.ID)
		return err == nil &&
			tracking.Status == entity.TimeoutStatusActive &&
			tracking.PhoneNumber == "+15551234567"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestContainer_GenerationOutageFailsWorkflow(t *testing.T) {
	d := newDownstream(t)
	cfg := testConfig(d)
	cfg.OpenAI.BaseURL = d.srv.URL + "/missing/v1"
	c := startContainer(t, cfg)

	instance, err := c.Services().Intake.Receive(context.Background(), inbound("When is my payment due?"))
	require.NoError(t, err)

	waitForStatus(t, c, instance.ID, domainwf.StatusFailed)
	assert.Equal(t, 0, d.count("sms"))
}

func TestContainer_SweepsRunOnDemand(t *testing.T) {
	d := newDownstream(t)
	c := startContainer(t, testConfig(d))
	ctx := context.Background()

	for _, job := range []string{JobApprovalTimeouts, JobResponseTimeouts, JobCleanup} {
		require.NoError(t, c.Sweeps().RunNow(ctx, job), job)
		_, ok := c.Sweeps().LastRun(job)
		assert.True(t, ok, job)
	}
}

func TestContainer_InitWithoutWorkers(t *testing.T) {
	d := newDownstream(t)
	c, err := NewContainer(testConfig(d), zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, c.Init(context.Background()))
	assert.False(t, c.Ready())
	assert.False(t, c.Workers().IsRunning())

	n, err := c.Services().Approval.CheckApprovalTimeouts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, c.Close())
}

func TestConvertToZapFields(t *testing.T) {
	fields := convertToZapFields("a", 1, 2, "skipped", "err", assert.AnError, "dangling")
	require.Len(t, fields, 2)
	assert.Equal(t, "a", fields[0].Key)
	assert.Equal(t, "err", fields[1].Key)
}

func TestProvideLarkCommands(t *testing.T) {
	cfg := &NotifyConfig{LarkAppID: "cli_x", LarkAppSecret: "secret", LarkChatID: "oc_alerts"}
	assert.Nil(t, ProvideLarkCommands(cfg, nil, zap.NewNop()), "disabled")

	cfg.LarkCommands = true
	listener := ProvideLarkCommands(cfg, nil, zap.NewNop())
	require.NotNil(t, listener)

	manager := ProvideWorkers(zap.NewNop(), listener, nil)
	assert.Equal(t, []string{"LarkCommandListener"}, manager.Names())
}
