package port

import (
	"context"

	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
)

// SMSSender delivers a text message to a phone number
type SMSSender interface {
	Send(ctx context.Context, phone, text string) (messageID string, err error)
}

// ConversationSource fetches prior messages exchanged with a phone number
type ConversationSource interface {
	History(ctx context.Context, phone string) ([]entity.ConversationMessage, error)
}

// TenantContextSource fetches what the collections monitor knows about a tenant
type TenantContextSource interface {
	TenantContext(ctx context.Context, tenantID string) (*entity.TenantContext, error)
}

// GenerationRequest is the input to a reply generation
type GenerationRequest struct {
	TenantMessage string
	Tenant        entity.TenantContext
	History       []entity.ConversationMessage
	Language      string
}

// GeneratedResponse is a reply produced by the language model, already formatted for SMS
type GeneratedResponse struct {
	Text             string
	Language         string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// TotalTokens returns prompt plus completion tokens
func (r *GeneratedResponse) TotalTokens() int {
	return r.PromptTokens + r.CompletionTokens
}

// ResponseGenerator produces a reply to a tenant message
type ResponseGenerator interface {
	Generate(ctx context.Context, req GenerationRequest) (*GeneratedResponse, error)
}

// Notifier delivers a manager alert over one channel
type Notifier interface {
	Send(ctx context.Context, payload *entity.NotificationPayload) error

	// Name identifies the channel in notification records
	Name() string
}

// EscalationDetector scans tenant text for signals that require a human
type EscalationDetector interface {
	Detect(ctx context.Context, text string) (*entity.EscalationSignal, error)
}
