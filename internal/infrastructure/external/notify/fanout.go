package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/garyjia/sms-orchestrator/internal/application/port"
	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
)

// FanoutNotifier delivers each payload to every configured channel.
// A send succeeds when at least one channel accepts it.
type FanoutNotifier struct {
	notifiers []port.Notifier
	logger    *zap.Logger
}

// NewFanoutNotifier combines notifiers. Nil entries are skipped.
func NewFanoutNotifier(logger *zap.Logger, notifiers ...port.Notifier) *FanoutNotifier {
	kept := make([]port.Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			kept = append(kept, n)
		}
	}
	return &FanoutNotifier{notifiers: kept, logger: logger}
}

// Name joins the channel names, e.g. "webhook+slack"
func (f *FanoutNotifier) Name() string {
	names := make([]string, len(f.notifiers))
	for i, n := range f.notifiers {
		names[i] = n.Name()
	}
	return strings.Join(names, "+")
}

// Send implements port.Notifier
func (f *FanoutNotifier) Send(ctx context.Context, payload *entity.NotificationPayload) error {
	if len(f.notifiers) == 0 {
		return fmt.Errorf("no notification channels configured")
	}

	var errs []error
	for _, n := range f.notifiers {
		if err := n.Send(ctx, payload); err != nil {
			f.logger.Error("Notification channel failed",
				zap.String("channel", n.Name()),
				zap.String("type", string(payload.Type)),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}

	if len(errs) == len(f.notifiers) {
		return errors.Join(errs...)
	}
	return nil
}

// Verify interface compliance
var _ port.Notifier = (*FanoutNotifier)(nil)
