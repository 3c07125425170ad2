package reliability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

var (
	// ErrRateLimited marks a downstream rejection that is safe to retry later
	ErrRateLimited = errors.New("rate limited")

	// ErrTimeout marks a downstream call that did not answer in time
	ErrTimeout = errors.New("timeout")
)

// RetryPolicy retries a call with bounded exponential backoff.
// It is independent of Breaker; compose them by calling Execute inside Do.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Retryable      func(err error) bool
}

// DefaultRetryPolicy returns three attempts with 1s, 2s backoff capped at 10s
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2,
		Retryable:      IsRetryable,
	}
}

// Backoff returns the delay before the given retry (1-based)
func (p RetryPolicy) Backoff(retry int) time.Duration {
	delay := float64(p.InitialBackoff)
	for i := 1; i < retry; i++ {
		delay *= p.Multiplier
	}
	if p.MaxBackoff > 0 && time.Duration(delay) > p.MaxBackoff {
		return p.MaxBackoff
	}
	return time.Duration(delay)
}

// Do calls fn until it succeeds, returns a non-retryable error, or attempts run out
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) || attempt == attempts {
			break
		}

		timer := time.NewTimer(p.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry abandoned after %d attempts: %w", attempt, ctx.Err())
		case <-timer.C:
		}
	}
	return err
}

// IsRetryable accepts timeouts and rate limits only
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
