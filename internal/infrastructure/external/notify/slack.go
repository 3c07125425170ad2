package notify

import (
	"context"
	"fmt"

	slacklib "github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/garyjia/sms-orchestrator/internal/application/port"
	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
)

// SlackAPI abstracts the subset of the Slack client used by SlackNotifier
type SlackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slacklib.MsgOption) (string, string, error)
}

// SlackNotifier posts Block Kit alerts to a Slack channel
type SlackNotifier struct {
	api     SlackAPI
	channel string
	logger  *zap.Logger
}

// NewSlackNotifier creates a notifier using a bot token
func NewSlackNotifier(token, channel string, logger *zap.Logger) *SlackNotifier {
	return NewSlackNotifierWithAPI(slacklib.New(token), channel, logger)
}

// NewSlackNotifierWithAPI creates a notifier over an existing API client
func NewSlackNotifierWithAPI(api SlackAPI, channel string, logger *zap.Logger) *SlackNotifier {
	return &SlackNotifier{api: api, channel: channel, logger: logger}
}

// Name implements port.Notifier
func (n *SlackNotifier) Name() string {
	return "slack"
}

// Send implements port.Notifier
func (n *SlackNotifier) Send(ctx context.Context, payload *entity.NotificationPayload) error {
	if n.channel == "" {
		return fmt.Errorf("slack channel is not configured")
	}

	_, ts, err := n.api.PostMessageContext(ctx, n.channel,
		slacklib.MsgOptionText(payload.Subject, false),
		slacklib.MsgOptionBlocks(BuildAlertBlocks(payload)...),
	)
	if err != nil {
		n.logger.Error("Failed to post Slack alert", zap.String("channel", n.channel), zap.Error(err))
		return fmt.Errorf("slack post message: %w", err)
	}

	n.logger.Info("Slack alert posted",
		zap.String("channel", n.channel),
		zap.String("ts", ts),
		zap.String("type", string(payload.Type)))
	return nil
}

// BuildAlertBlocks renders a notification as Block Kit blocks.
// Action links become URL buttons below the body.
func BuildAlertBlocks(p *entity.NotificationPayload) []slacklib.Block {
	header := slacklib.NewHeaderBlock(
		slacklib.NewTextBlockObject(slacklib.PlainTextType, p.Subject, false, false),
	)
	body := slacklib.NewSectionBlock(
		slacklib.NewTextBlockObject(slacklib.MarkdownType, markdown(p, "*"), false, false),
		nil,
		nil,
	)
	blocks := []slacklib.Block{header, body}

	links := actionLinks(p)
	if len(links) == 0 {
		return blocks
	}

	buttons := make([]slacklib.BlockElement, 0, len(links))
	for _, l := range links {
		btn := slacklib.NewButtonBlockElement(
			"alert_"+l.Action,
			l.Action,
			slacklib.NewTextBlockObject(slacklib.PlainTextType, title(l.Action), false, false),
		)
		btn.URL = l.URL
		if l.Action == "approve" {
			btn.Style = slacklib.StylePrimary
		}
		buttons = append(buttons, btn)
	}
	return append(blocks, slacklib.NewActionBlock("alert_actions", buttons...))
}

// Verify interface compliance
var _ port.Notifier = (*SlackNotifier)(nil)
