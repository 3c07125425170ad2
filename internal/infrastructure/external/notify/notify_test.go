package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"github.com/shopspring/decimal"
	slacklib "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/sms-orchestrator/internal/application/port"
	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
)

func approvalPayload() *entity.NotificationPayload {
	score := decimal.RequireFromString("0.72")
	return &entity.NotificationPayload{
		Type:            entity.NotificationApprovalRequired,
		Priority:        entity.PriorityMedium,
		Subject:         "Approval Required: Tenant tenant-42 Response (Confidence: 72%)",
		QueueID:         "queue-1",
		WorkflowID:      "wf-1",
		TenantID:        "tenant-42",
		PhoneNumber:     "+15551234567",
		ConfidenceScore: &score,
		ResponseText:    "We can set up a payment plan.",
		TenantMessage:   "Can I pay later?",
		ActionLinks: map[string]string{
			"escalate": "https://example.com/approve?action=escalate&queue_id=queue-1",
			"approve":  "https://example.com/approve?action=approve&queue_id=queue-1",
			"modify":   "https://example.com/approve?action=modify&queue_id=queue-1",
		},
		CreatedAt: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

// --- webhook ---

func TestWebhookNotifier_PostsPayload(t *testing.T) {
	var got entity.NotificationPayload
	var path, contentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		contentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL+"/", time.Second, zap.NewNop())
	require.NoError(t, n.Send(context.Background(), approvalPayload()))

	assert.Equal(t, "/notifications/send", path)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, entity.NotificationApprovalRequired, got.Type)
	assert.Equal(t, "queue-1", got.QueueID)
	assert.Equal(t, "webhook", n.Name())
}

func TestWebhookNotifier_ServerErrorIsServiceUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	err := NewWebhookNotifier(server.URL, time.Second, zap.NewNop()).Send(context.Background(), approvalPayload())

	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrServiceUnavailable)
}

func TestWebhookNotifier_ClientErrorIsNotAnOutage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer server.Close()

	err := NewWebhookNotifier(server.URL, time.Second, zap.NewNop()).Send(context.Background(), approvalPayload())

	require.Error(t, err)
	assert.NotErrorIs(t, err, entity.ErrServiceUnavailable)
	assert.Contains(t, err.Error(), "400")
}

func TestWebhookNotifier_UnreachableIsServiceUnavailable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	err := NewWebhookNotifier(url, time.Second, zap.NewNop()).Send(context.Background(), approvalPayload())

	assert.ErrorIs(t, err, entity.ErrServiceUnavailable)
}

// --- lark ---

type mockLarkAPI struct {
	mu      sync.Mutex
	reqs    []*larkim.CreateMessageReq
	resp    *larkim.CreateMessageResp
	callErr error
}

func (m *mockLarkAPI) Create(ctx context.Context, req *larkim.CreateMessageReq, options ...larkcore.RequestOptionFunc) (*larkim.CreateMessageResp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reqs = append(m.reqs, req)
	if m.callErr != nil {
		return nil, m.callErr
	}
	return m.resp, nil
}

func okLarkResp() *larkim.CreateMessageResp {
	id := "om_123"
	return &larkim.CreateMessageResp{
		CodeError: larkcore.CodeError{Code: 0},
		Data:      &larkim.CreateMessageRespData{MessageId: &id},
	}
}

func TestLarkNotifier_SendsOneMessage(t *testing.T) {
	api := &mockLarkAPI{resp: okLarkResp()}
	n := NewLarkNotifierWithAPI(api, "oc_managers", zap.NewNop())

	require.NoError(t, n.Send(context.Background(), approvalPayload()))
	assert.Len(t, api.reqs, 1)
}

func TestLarkNotifier_MessageBodyIsInteractiveCard(t *testing.T) {
	n := NewLarkNotifierWithAPI(&mockLarkAPI{}, "oc_managers", zap.NewNop())

	body, err := n.messageBody(approvalPayload())
	require.NoError(t, err)
	require.NotNil(t, body)
	assert.Equal(t, "oc_managers", *body.ReceiveId)
	assert.Equal(t, larkMsgTypeCard, *body.MsgType)

	var card map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(*body.Content), &card))
	header := card["header"].(map[string]interface{})
	assert.Equal(t, "orange", header["template"])
	assert.Equal(t, "Approval Required: Tenant tenant-42 Response (Confidence: 72%)",
		header["title"].(map[string]interface{})["content"])

	elements := card["elements"].([]interface{})
	require.Len(t, elements, 2)
	assert.Contains(t, elements[0].(map[string]interface{})["content"], "**Confidence:** 0.72")

	actions := elements[1].(map[string]interface{})["actions"].([]interface{})
	require.Len(t, actions, 3)
	first := actions[0].(map[string]interface{})
	assert.Equal(t, "primary", first["type"])
	assert.Contains(t, first["url"], "action=approve")
}

func TestLarkNotifier_APIFailure(t *testing.T) {
	api := &mockLarkAPI{resp: &larkim.CreateMessageResp{
		CodeError: larkcore.CodeError{Code: 230002, Msg: "bot not in chat"},
	}}
	err := NewLarkNotifierWithAPI(api, "oc_managers", zap.NewNop()).Send(context.Background(), approvalPayload())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "230002")
}

func TestLarkNotifier_TransportFailureIsServiceUnavailable(t *testing.T) {
	api := &mockLarkAPI{callErr: errors.New("connection reset")}
	err := NewLarkNotifierWithAPI(api, "oc_managers", zap.NewNop()).Send(context.Background(), approvalPayload())

	assert.ErrorIs(t, err, entity.ErrServiceUnavailable)
}

func TestLarkNotifier_RequiresChat(t *testing.T) {
	api := &mockLarkAPI{resp: okLarkResp()}
	err := NewLarkNotifierWithAPI(api, "", zap.NewNop()).Send(context.Background(), approvalPayload())

	require.Error(t, err)
	assert.Empty(t, api.reqs)
}

// --- slack ---

type mockSlackAPI struct {
	channel string
	opts    int
	err     error
}

func (m *mockSlackAPI) PostMessageContext(ctx context.Context, channelID string, options ...slacklib.MsgOption) (string, string, error) {
	m.channel = channelID
	m.opts = len(options)
	if m.err != nil {
		return "", "", m.err
	}
	return channelID, "1700000000.000100", nil
}

func TestSlackNotifier_Posts(t *testing.T) {
	api := &mockSlackAPI{}
	n := NewSlackNotifierWithAPI(api, "#collections", zap.NewNop())

	require.NoError(t, n.Send(context.Background(), approvalPayload()))
	assert.Equal(t, "#collections", api.channel)
	assert.Equal(t, 2, api.opts)
	assert.Equal(t, "slack", n.Name())
}

func TestSlackNotifier_Error(t *testing.T) {
	api := &mockSlackAPI{err: errors.New("channel_not_found")}
	err := NewSlackNotifierWithAPI(api, "#collections", zap.NewNop()).Send(context.Background(), approvalPayload())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")
}

func TestBuildAlertBlocks(t *testing.T) {
	blocks := BuildAlertBlocks(approvalPayload())
	require.Len(t, blocks, 3)

	section, ok := blocks[1].(*slacklib.SectionBlock)
	require.True(t, ok)
	assert.Contains(t, section.Text.Text, "*Tenant:* tenant-42")
	assert.Contains(t, section.Text.Text, "*Proposed reply:* We can set up a payment plan.")

	actions, ok := blocks[2].(*slacklib.ActionBlock)
	require.True(t, ok)
	require.Len(t, actions.Elements.ElementSet, 3)

	approve := actions.Elements.ElementSet[0].(*slacklib.ButtonBlockElement)
	assert.Equal(t, "approve", approve.Value)
	assert.Equal(t, slacklib.StylePrimary, approve.Style)
	assert.Contains(t, approve.URL, "action=approve")
	assert.Equal(t, "escalate", actions.Elements.ElementSet[2].(*slacklib.ButtonBlockElement).Value)
}

func TestBuildAlertBlocks_NoActions(t *testing.T) {
	hours := 4.5
	blocks := BuildAlertBlocks(&entity.NotificationPayload{
		Type:           entity.NotificationTimeoutWarning,
		Subject:        "Response Timeout Warning: 4.5h remaining",
		WorkflowID:     "wf-9",
		HoursRemaining: &hours,
	})

	require.Len(t, blocks, 2)
	section := blocks[1].(*slacklib.SectionBlock)
	assert.Contains(t, section.Text.Text, "*Hours remaining:* 4.5")
}

// --- fanout ---

type stubNotifier struct {
	name  string
	err   error
	calls int
}

func (s *stubNotifier) Send(ctx context.Context, payload *entity.NotificationPayload) error {
	s.calls++
	return s.err
}

func (s *stubNotifier) Name() string { return s.name }

func TestFanoutNotifier_DeliversToAll(t *testing.T) {
	a := &stubNotifier{name: "webhook"}
	b := &stubNotifier{name: "slack"}
	f := NewFanoutNotifier(zap.NewNop(), a, nil, b)

	require.NoError(t, f.Send(context.Background(), approvalPayload()))
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
	assert.Equal(t, "webhook+slack", f.Name())
}

func TestFanoutNotifier_PartialFailureSucceeds(t *testing.T) {
	a := &stubNotifier{name: "webhook", err: errors.New("down")}
	b := &stubNotifier{name: "slack"}

	assert.NoError(t, NewFanoutNotifier(zap.NewNop(), a, b).Send(context.Background(), approvalPayload()))
}

func TestFanoutNotifier_AllFail(t *testing.T) {
	down := entity.NewServiceUnavailableError("notification", "server error: 503", nil)
	a := &stubNotifier{name: "webhook", err: down}
	b := &stubNotifier{name: "slack", err: errors.New("channel_not_found")}

	err := NewFanoutNotifier(zap.NewNop(), a, b).Send(context.Background(), approvalPayload())

	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrServiceUnavailable)
	assert.Contains(t, err.Error(), "slack: channel_not_found")
}

func TestFanoutNotifier_Empty(t *testing.T) {
	assert.Error(t, NewFanoutNotifier(zap.NewNop()).Send(context.Background(), approvalPayload()))
}

var _ port.Notifier = (*stubNotifier)(nil)
