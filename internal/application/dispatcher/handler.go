package dispatcher

import (
	"context"

	"github.com/garyjia/sms-orchestrator/internal/domain/event"
)

// Handler processes domain events
type Handler func(ctx context.Context, evt *event.Event) error

// HandlerInfo names a subscription for logs and health output
type HandlerInfo struct {
	Name      string     `json:"name"`
	EventType event.Type `json:"event_type"`
	Handler   Handler    `json:"-"`
}
