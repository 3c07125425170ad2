package reliability

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
)

var errDownstream = errors.New("downstream failed")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(threshold int, reset time.Duration, onChange StateChangeFunc) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	b := NewBreaker(Settings{
		Name:             "notification",
		FailureThreshold: threshold,
		ResetTimeout:     reset,
		OnStateChange:    onChange,
	})
	b.now = clock.Now
	return b, clock
}

func fail(context.Context) error    { return errDownstream }
func succeed(context.Context) error { return nil }

func TestBreaker_OpensAfterThresholdFailures(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.ErrorIs(t, b.Execute(ctx, fail), errDownstream)
		assert.Equal(t, StateClosed, b.State())
	}

	require.ErrorIs(t, b.Execute(ctx, fail), errDownstream)
	assert.Equal(t, StateOpen, b.State())
	assert.Equal(t, 3, b.Status().FailureCount)
}

func TestBreaker_OpenCircuitShortCircuits(t *testing.T) {
	b, _ := newTestBreaker(2, time.Minute, nil)
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)
	require.Equal(t, StateOpen, b.State())

	var calls int32
	err := b.Execute(ctx, func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.ErrorIs(t, err, entity.ErrServiceUnavailable)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls), "function must not be invoked while open")
	assert.False(t, b.Status().IsAvailable)
}

func TestBreaker_HalfOpenAfterCooldown(t *testing.T) {
	t.Run("trial success closes", func(t *testing.T) {
		b, clock := newTestBreaker(1, time.Minute, nil)
		ctx := context.Background()

		_ = b.Execute(ctx, fail)
		require.Equal(t, StateOpen, b.State())

		clock.Advance(59 * time.Second)
		assert.ErrorIs(t, b.Execute(ctx, succeed), ErrCircuitOpen)

		clock.Advance(time.Second)
		assert.True(t, b.Status().IsAvailable)
		require.NoError(t, b.Execute(ctx, succeed))
		assert.Equal(t, StateClosed, b.State())
		assert.Equal(t, 0, b.Status().FailureCount)
	})

	t.Run("trial failure reopens", func(t *testing.T) {
		b, clock := newTestBreaker(3, time.Minute, nil)
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			_ = b.Execute(ctx, fail)
		}
		clock.Advance(time.Minute)

		require.ErrorIs(t, b.Execute(ctx, fail), errDownstream)
		assert.Equal(t, StateOpen, b.State())
		assert.ErrorIs(t, b.Execute(ctx, succeed), ErrCircuitOpen)
	})
}

func TestBreaker_HalfOpenAllowsSingleTrial(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute, nil)
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	clock.Advance(time.Minute)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- b.Execute(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	assert.Equal(t, StateHalfOpen, b.State())
	assert.ErrorIs(t, b.Execute(ctx, succeed), ErrCircuitOpen, "second caller must not run while trial is in flight")

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_PanickingTrialReopensCircuit(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute, nil)
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	clock.Advance(time.Minute)

	assert.PanicsWithValue(t, "boom", func() {
		_ = b.Execute(ctx, func(context.Context) error { panic("boom") })
	})
	assert.Equal(t, StateOpen, b.State(), "a panicking trial counts as a failure")

	clock.Advance(time.Hour)
	called := false
	require.NoError(t, b.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	}))
	assert.True(t, called)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_PanicInClosedStateCountsAsFailure(t *testing.T) {
	b, _ := newTestBreaker(2, time.Minute, nil)
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = b.Execute(ctx, func(context.Context) error { panic("boom") })
	})
	assert.Equal(t, 1, b.Status().FailureCount)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute, nil)
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)
	require.NoError(t, b.Execute(ctx, succeed))
	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)

	assert.Equal(t, StateClosed, b.State(), "failures must be consecutive to open")
}

func TestBreaker_CallerCancellationIsNotAFailure(t *testing.T) {
	b, _ := newTestBreaker(1, time.Minute, nil)

	err := b.Execute(context.Background(), func(context.Context) error {
		return context.Canceled
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, b.State())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, b.Execute(ctx, succeed), context.Canceled)
}

func TestBreaker_StateChangeCallback(t *testing.T) {
	var mu sync.Mutex
	var transitions []string
	onChange := func(name string, from, to State) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, name+":"+string(from)+"->"+string(to))
	}

	b, clock := newTestBreaker(1, time.Minute, onChange)
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	clock.Advance(time.Minute)
	_ = b.Execute(ctx, succeed)

	assert.Equal(t, []string{
		"notification:closed->open",
		"notification:open->half_open",
		"notification:half_open->closed",
	}, transitions)
}

func TestBreaker_ConcurrentCallersKeepCountConsistent(t *testing.T) {
	b, _ := newTestBreaker(1000, time.Minute, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Execute(ctx, fail)
		}()
	}
	wg.Wait()

	status := b.Status()
	assert.Equal(t, 50, status.FailureCount)
	assert.Equal(t, StateClosed, status.State)
	require.NotNil(t, status.LastFailure)
}

func TestBreaker_Reset(t *testing.T) {
	b, _ := newTestBreaker(1, time.Hour, nil)
	_ = b.Execute(context.Background(), fail)
	require.Equal(t, StateOpen, b.State())

	b.Reset()

	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Execute(context.Background(), succeed))
}

func TestNewBreaker_Defaults(t *testing.T) {
	b := NewBreaker(Settings{Name: "sms"})
	status := b.Status()

	assert.Equal(t, "sms", status.Service)
	assert.Equal(t, 5, status.FailureThreshold)
	assert.Equal(t, "5m0s", status.ResetTimeout)
	assert.True(t, status.IsAvailable)
	assert.Nil(t, status.LastFailure)
}
