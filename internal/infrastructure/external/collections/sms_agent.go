package collections

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/sms-orchestrator/internal/application/port"
	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
	"github.com/garyjia/sms-orchestrator/internal/reliability"
	"github.com/garyjia/sms-orchestrator/pkg/utils"
)

// SMSAgentClient sends SMS and reads conversation history from the SMS agent
type SMSAgentClient struct {
	client *httpClient
	logger *zap.Logger
}

// NewSMSAgentClient creates a client for the SMS agent at baseURL
func NewSMSAgentClient(baseURL string, timeout time.Duration, breaker *reliability.Breaker, logger *zap.Logger) *SMSAgentClient {
	return &SMSAgentClient{
		client: newHTTPClient("sms_agent", baseURL, timeout, breaker, logger),
		logger: logger,
	}
}

type sendRequest struct {
	PhoneNumber string `json:"phone_number"`
	Message     string `json:"message"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
	ID        string `json:"id"`
}

// Send implements port.SMSSender. A local id is assigned when the agent returns none.
func (c *SMSAgentClient) Send(ctx context.Context, phone, text string) (string, error) {
	var out sendResponse
	if err := c.client.do(ctx, http.MethodPost, "/sms/send", sendRequest{PhoneNumber: phone, Message: text}, &out); err != nil {
		return "", fmt.Errorf("send sms: %w", err)
	}

	id := out.MessageID
	if id == "" {
		id = out.ID
	}
	if id == "" {
		id = "local-" + uuid.NewString()
	}

	c.logger.Info("SMS sent", zap.String("message_id", id), utils.PhoneField(phone), zap.Int("length", len(text)))
	return id, nil
}

type historyMessage struct {
	Direction      string    `json:"direction"`
	MessageContent string    `json:"message_content"`
	Content        string    `json:"content"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
	Timestamp      time.Time `json:"timestamp"`
}

func (m historyMessage) toEntity() entity.ConversationMessage {
	text := m.MessageContent
	if text == "" {
		text = m.Content
	}
	if text == "" {
		text = m.Text
	}
	ts := m.CreatedAt
	if ts.IsZero() {
		ts = m.Timestamp
	}
	return entity.ConversationMessage{Direction: m.Direction, Text: text, Timestamp: ts}
}

// History implements port.ConversationSource.
// The agent answers with a bare list or with a "messages" or "conversations" wrapper.
func (c *SMSAgentClient) History(ctx context.Context, phone string) ([]entity.ConversationMessage, error) {
	var raw json.RawMessage
	if err := c.client.do(ctx, http.MethodGet, "/conversations/"+url.PathEscape(phone), nil, &raw); err != nil {
		return nil, fmt.Errorf("fetch conversation history: %w", err)
	}

	msgs, err := decodeHistory(raw)
	if err != nil {
		return nil, fmt.Errorf("decode conversation history: %w", err)
	}

	out := make([]entity.ConversationMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.toEntity())
	}
	return out, nil
}

func decodeHistory(raw json.RawMessage) ([]historyMessage, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var list []historyMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}

	var wrapped struct {
		Messages      []historyMessage `json:"messages"`
		Conversations []historyMessage `json:"conversations"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Messages != nil {
		return wrapped.Messages, nil
	}
	return wrapped.Conversations, nil
}

// Verify interface compliance
var (
	_ port.SMSSender          = (*SMSAgentClient)(nil)
	_ port.ConversationSource = (*SMSAgentClient)(nil)
)
