package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/sms-orchestrator/internal/application/port"
	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
)

// WebhookNotifier posts payloads to the notification service
type WebhookNotifier struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewWebhookNotifier creates a notifier for the service at baseURL
func NewWebhookNotifier(baseURL string, timeout time.Duration, logger *zap.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Name implements port.Notifier
func (n *WebhookNotifier) Name() string {
	return "webhook"
}

// Send implements port.Notifier. 5xx and transport errors are reported as service unavailable.
func (n *WebhookNotifier) Send(ctx context.Context, payload *entity.NotificationPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	url := n.baseURL + "/notifications/send"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.logger.Error("Notification service unreachable", zap.String("url", url), zap.Error(err))
		return entity.NewServiceUnavailableError("notification", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		n.logger.Error("Notification service rejected payload",
			zap.Int("status_code", resp.StatusCode),
			zap.String("type", string(payload.Type)),
			zap.String("body", string(snippet)))
		if resp.StatusCode >= 500 {
			return entity.NewServiceUnavailableError("notification", fmt.Sprintf("server error: %d", resp.StatusCode), nil)
		}
		return fmt.Errorf("notification service returned %d", resp.StatusCode)
	}

	n.logger.Info("Notification delivered",
		zap.String("type", string(payload.Type)),
		zap.String("reference_id", payload.ReferenceID()))
	return nil
}

// Verify interface compliance
var _ port.Notifier = (*WebhookNotifier)(nil)
