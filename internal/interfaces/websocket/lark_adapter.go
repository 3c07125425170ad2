// Package websocket provides WebSocket adapters for external event sources.
// The Lark adapter lets managers act on approval alerts from the alert chat.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	larkdispatcher "github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"
	"go.uber.org/zap"

	"github.com/garyjia/sms-orchestrator/internal/application/service"
	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
)

const larkMsgTypeText = "text"

// ActionProcessor applies a manager decision to an approval queue entry
type ActionProcessor interface {
	ProcessAction(ctx context.Context, req service.ActionRequest) (*service.ActionResult, error)
}

// LarkAdapterConfig holds configuration for the Lark WebSocket adapter.
type LarkAdapterConfig struct {
	AppID     string
	AppSecret string
	ChatID    string // only messages in this chat are read
}

// LarkAdapter listens to the manager alert chat over the Lark WebSocket
// and turns command messages into approval actions:
//
//	approve <queue_id>
//	modify <queue_id> <replacement reply>
//	escalate <queue_id> [reason]
type LarkAdapter struct {
	cfg       LarkAdapterConfig
	processor ActionProcessor
	logger    *zap.Logger

	wsClient *larkws.Client
	cancel   context.CancelFunc
	mu       sync.RWMutex
	started  bool
}

// NewLarkAdapter creates a new Lark WebSocket adapter.
func NewLarkAdapter(cfg LarkAdapterConfig, processor ActionProcessor, logger *zap.Logger) *LarkAdapter {
	return &LarkAdapter{
		cfg:       cfg,
		processor: processor,
		logger:    logger,
	}
}

// Name implements worker.Worker
func (a *LarkAdapter) Name() string {
	return "LarkCommandListener"
}

// Start opens the WebSocket connection in the background. The connection lives until Stop or ctx cancellation.
func (a *LarkAdapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return fmt.Errorf("adapter already started")
	}

	// Verification token and encrypt key are not used in WebSocket mode
	sdkDispatcher := larkdispatcher.NewEventDispatcher("", "").
		OnP2MessageReceiveV1(a.handleMessage)

	a.wsClient = larkws.NewClient(
		a.cfg.AppID,
		a.cfg.AppSecret,
		larkws.WithEventHandler(sdkDispatcher),
	)

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.started = true

	a.logger.Info("Starting Lark command listener",
		zap.String("app_id", a.cfg.AppID),
		zap.String("chat_id", a.cfg.ChatID))

	go func(client *larkws.Client) {
		if err := client.Start(runCtx); err != nil && runCtx.Err() == nil {
			a.logger.Error("Lark WebSocket client error", zap.Error(err))
		}
	}(a.wsClient)

	return nil
}

// Stop cancels the connection context. The SDK client has no close call of its own.
func (a *LarkAdapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return nil
	}
	a.cancel()
	a.started = false
	a.logger.Info("Lark command listener stopped")
	return nil
}

// IsRunning returns whether the adapter is currently running.
func (a *LarkAdapter) IsRunning() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.started
}

type textContent struct {
	Text string `json:"text"`
}

// handleMessage is called by the Lark SDK for every message the bot can see.
// Errors from the approval service are logged, not returned, so Lark does not redeliver.
func (a *LarkAdapter) handleMessage(ctx context.Context, evt *larkim.P2MessageReceiveV1) error {
	if evt == nil || evt.Event == nil || evt.Event.Message == nil {
		return nil
	}
	msg := evt.Event.Message

	if a.cfg.ChatID != "" && deref(msg.ChatId) != a.cfg.ChatID {
		return nil
	}
	if deref(msg.MessageType) != larkMsgTypeText {
		return nil
	}

	var content textContent
	if err := json.Unmarshal([]byte(deref(msg.Content)), &content); err != nil {
		a.logger.Debug("Ignoring Lark message with unreadable content", zap.Error(err))
		return nil
	}

	actor := senderID(evt)
	req, ok, err := ParseCommand(content.Text, actor)
	if !ok {
		return nil
	}
	if err != nil {
		a.logger.Info("Rejected Lark approval command",
			zap.String("message_id", deref(msg.MessageId)),
			zap.String("actor", actor),
			zap.Error(err))
		return nil
	}

	result, err := a.processor.ProcessAction(ctx, req)
	if err != nil {
		log := a.logger.Error
		if errors.Is(err, entity.ErrValidation) || errors.Is(err, entity.ErrNotFound) || errors.Is(err, entity.ErrConflict) {
			log = a.logger.Info
		}
		log("Lark approval command failed",
			zap.String("queue_id", req.QueueID),
			zap.String("action", req.Action.String()),
			zap.String("actor", actor),
			zap.Error(err))
		return nil
	}

	a.logger.Info("Lark approval command applied",
		zap.String("queue_id", req.QueueID),
		zap.String("action", req.Action.String()),
		zap.String("actor", actor),
		zap.Bool("delivered", result.Delivered))
	return nil
}

var mentionPattern = regexp.MustCompile(`@_user_\d+`)

// ParseCommand reads an approval command from chat text.
// ok is false when the text is not a command at all; err is set when it is a malformed one.
func ParseCommand(text, actor string) (req service.ActionRequest, ok bool, err error) {
	fields := strings.Fields(mentionPattern.ReplaceAllString(text, " "))
	if len(fields) == 0 {
		return req, false, nil
	}

	action := entity.ApprovalAction(strings.ToLower(fields[0]))
	if !action.IsManagerAction() {
		return req, false, nil
	}
	if len(fields) < 2 {
		return req, true, fmt.Errorf("%w: %s needs a queue id", entity.ErrValidation, action)
	}

	req = service.ActionRequest{
		QueueID:    fields[1],
		Action:     action,
		ApprovedBy: actor,
	}
	rest := strings.Join(fields[2:], " ")

	switch action {
	case entity.ActionModify:
		if rest == "" {
			return req, true, fmt.Errorf("%w: modify needs the replacement reply", entity.ErrMissingModifiedText)
		}
		req.ModifiedResponse = rest
	case entity.ActionEscalate:
		req.Reason = rest
	}
	return req, true, nil
}

func senderID(evt *larkim.P2MessageReceiveV1) string {
	sender := evt.Event.Sender
	if sender == nil || sender.SenderId == nil {
		return "lark:unknown"
	}
	if id := deref(sender.SenderId.OpenId); id != "" {
		return "lark:" + id
	}
	if id := deref(sender.SenderId.UserId); id != "" {
		return "lark:" + id
	}
	return "lark:unknown"
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
