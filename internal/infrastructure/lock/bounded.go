package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/sms-orchestrator/internal/application/port"
	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
)

// Bounded caps how long callers wait for a key on the wrapped locker
type Bounded struct {
	inner   port.KeyLocker
	maxWait time.Duration
}

// WithMaxWait wraps inner. A zero maxWait returns inner unchanged.
func WithMaxWait(inner port.KeyLocker, maxWait time.Duration) port.KeyLocker {
	if maxWait <= 0 {
		return inner
	}
	return &Bounded{inner: inner, maxWait: maxWait}
}

// Lock gives up with entity.ErrConflict once maxWait passes.
// Cancellation of the caller's ctx is returned as is.
func (b *Bounded) Lock(ctx context.Context, key string) (func(), error) {
	waitCtx, cancel := context.WithTimeout(ctx, b.maxWait)
	defer cancel()

	unlock, err := b.inner.Lock(waitCtx, key)
	if err == nil {
		return unlock, nil
	}
	if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: timed out waiting %s for lock %s", entity.ErrConflict, b.maxWait, key)
	}
	return nil, err
}

var _ port.KeyLocker = (*Bounded)(nil)
