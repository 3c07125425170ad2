package notify

import (
	"context"
	"encoding/json"
	"fmt"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"

	"github.com/garyjia/sms-orchestrator/internal/application/port"
	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
)

const (
	larkReceiveIDTypeChat = "chat_id"
	larkMsgTypeCard       = "interactive"
)

// LarkMessageAPI is the subset of the Lark IM client the notifier uses
type LarkMessageAPI interface {
	Create(ctx context.Context, req *larkim.CreateMessageReq, options ...larkcore.RequestOptionFunc) (*larkim.CreateMessageResp, error)
}

// LarkConfig holds Lark app credentials and the target chat
type LarkConfig struct {
	AppID     string
	AppSecret string
	ChatID    string
}

// LarkNotifier posts interactive cards to a Lark group chat
type LarkNotifier struct {
	api    LarkMessageAPI
	chatID string
	logger *zap.Logger
}

// NewLarkNotifier creates a notifier backed by the Lark SDK client
func NewLarkNotifier(cfg LarkConfig, logger *zap.Logger) *LarkNotifier {
	client := lark.NewClient(cfg.AppID, cfg.AppSecret,
		lark.WithLogLevel(larkcore.LogLevelInfo),
		lark.WithEnableTokenCache(true),
	)
	return NewLarkNotifierWithAPI(client.Im.Message, cfg.ChatID, logger)
}

// NewLarkNotifierWithAPI creates a notifier over an existing message API
func NewLarkNotifierWithAPI(api LarkMessageAPI, chatID string, logger *zap.Logger) *LarkNotifier {
	return &LarkNotifier{api: api, chatID: chatID, logger: logger}
}

// Name implements port.Notifier
func (n *LarkNotifier) Name() string {
	return "lark"
}

// Send implements port.Notifier
func (n *LarkNotifier) Send(ctx context.Context, payload *entity.NotificationPayload) error {
	if n.chatID == "" {
		return fmt.Errorf("lark chat id is not configured")
	}

	body, err := n.messageBody(payload)
	if err != nil {
		return err
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(larkReceiveIDTypeChat).
		Body(body).
		Build()

	resp, err := n.api.Create(ctx, req)
	if err != nil {
		n.logger.Error("Failed to send Lark card", zap.String("chat_id", n.chatID), zap.Error(err))
		return entity.NewServiceUnavailableError("lark", "request failed", err)
	}
	if !resp.Success() {
		n.logger.Error("Lark API returned failure",
			zap.String("chat_id", n.chatID),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return fmt.Errorf("lark API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	messageID := ""
	if resp.Data != nil && resp.Data.MessageId != nil {
		messageID = *resp.Data.MessageId
	}
	n.logger.Info("Lark card sent",
		zap.String("message_id", messageID),
		zap.String("type", string(payload.Type)))
	return nil
}

// messageBody is the create-message body carrying the card for the configured chat
func (n *LarkNotifier) messageBody(payload *entity.NotificationPayload) (*larkim.CreateMessageReqBody, error) {
	card, err := json.Marshal(buildLarkCard(payload))
	if err != nil {
		return nil, fmt.Errorf("marshal lark card: %w", err)
	}
	return larkim.NewCreateMessageReqBodyBuilder().
		ReceiveId(n.chatID).
		MsgType(larkMsgTypeCard).
		Content(string(card)).
		Build(), nil
}

// buildLarkCard renders the payload as a Lark interactive card
func buildLarkCard(p *entity.NotificationPayload) map[string]interface{} {
	template := "blue"
	switch p.Priority {
	case entity.PriorityHigh:
		template = "red"
	case entity.PriorityMedium:
		template = "orange"
	}

	elements := []interface{}{
		map[string]interface{}{
			"tag":     "markdown",
			"content": markdown(p, "**"),
		},
	}

	if links := actionLinks(p); len(links) > 0 {
		actions := make([]interface{}, 0, len(links))
		for _, l := range links {
			buttonType := "default"
			if l.Action == "approve" {
				buttonType = "primary"
			}
			actions = append(actions, map[string]interface{}{
				"tag":  "button",
				"text": map[string]interface{}{"tag": "plain_text", "content": title(l.Action)},
				"type": buttonType,
				"url":  l.URL,
			})
		}
		elements = append(elements, map[string]interface{}{
			"tag":     "action",
			"actions": actions,
		})
	}

	return map[string]interface{}{
		"config": map[string]interface{}{"wide_screen_mode": true},
		"header": map[string]interface{}{
			"template": template,
			"title":    map[string]interface{}{"tag": "plain_text", "content": p.Subject},
		},
		"elements": elements,
	}
}

// Verify interface compliance
var _ port.Notifier = (*LarkNotifier)(nil)
