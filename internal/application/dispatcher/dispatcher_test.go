package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/garyjia/sms-orchestrator/internal/domain/event"
)

// mockLogger implements Logger for testing
type mockLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)
}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

func (m *mockLogger) ErrorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.errors)
}

func (m *mockLogger) HasInfo(msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, info := range m.infos {
		if info == msg {
			return true
		}
	}
	return false
}

func approvalEvent() *event.Event {
	return event.NewEvent(event.TypeApprovalProcessed, "wf-1", "q-1", map[string]interface{}{
		event.KeyAction: "approve",
	})
}

func TestSubscribe(t *testing.T) {
	t.Run("logs registration and lists handlers", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))

		d.Subscribe(event.TypeApprovalProcessed, "workflow-sync", func(ctx context.Context, evt *event.Event) error { return nil })
		d.Subscribe(event.TypeApprovalProcessed, "", func(ctx context.Context, evt *event.Event) error { return nil })

		if !logger.HasInfo("Handler registered") {
			t.Error("expected registration to be logged")
		}

		handlers := d.Handlers(event.TypeApprovalProcessed)
		if len(handlers) != 2 {
			t.Fatalf("expected 2 handlers, got %d", len(handlers))
		}
		if handlers[0].Name != "workflow-sync" {
			t.Errorf("expected first handler name workflow-sync, got %s", handlers[0].Name)
		}
		if handlers[1].Name != "approval.processed#1" {
			t.Errorf("expected generated name, got %s", handlers[1].Name)
		}
		if handlers[0].Handler != nil {
			t.Error("listing must not expose handler functions")
		}
	})
}

func TestDispatch(t *testing.T) {
	t.Run("runs handlers in registration order", func(t *testing.T) {
		d := NewDispatcher()
		var order []int

		d.Subscribe(event.TypeApprovalProcessed, "first", func(ctx context.Context, evt *event.Event) error {
			order = append(order, 1)
			return nil
		})
		d.Subscribe(event.TypeApprovalProcessed, "second", func(ctx context.Context, evt *event.Event) error {
			order = append(order, 2)
			return nil
		})

		if err := d.Dispatch(context.Background(), approvalEvent()); err != nil {
			t.Fatalf("dispatch failed: %v", err)
		}
		if len(order) != 2 || order[0] != 1 || order[1] != 2 {
			t.Errorf("expected handlers to run in order [1, 2], got %v", order)
		}
	})

	t.Run("stops at first error", func(t *testing.T) {
		d := NewDispatcher()
		expectedErr := errors.New("handler error")
		called := false

		d.Subscribe(event.TypeApprovalProcessed, "failing", func(ctx context.Context, evt *event.Event) error {
			return expectedErr
		})
		d.Subscribe(event.TypeApprovalProcessed, "after", func(ctx context.Context, evt *event.Event) error {
			called = true
			return nil
		})

		err := d.Dispatch(context.Background(), approvalEvent())
		if !errors.Is(err, expectedErr) {
			t.Errorf("expected error to wrap %v, got %v", expectedErr, err)
		}
		if called {
			t.Error("expected second handler not to be called after first error")
		}
	})

	t.Run("recovers from handler panic", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))

		d.Subscribe(event.TypeApprovalProcessed, "panics", func(ctx context.Context, evt *event.Event) error {
			panic("test panic")
		})

		if err := d.Dispatch(context.Background(), approvalEvent()); err == nil {
			t.Fatal("expected error from panic recovery")
		}
		if logger.ErrorCount() == 0 {
			t.Error("expected panic to be logged as error")
		}
	})

	t.Run("ignores events without handlers", func(t *testing.T) {
		d := NewDispatcher()
		if err := d.Dispatch(context.Background(), approvalEvent()); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("rejects events after close", func(t *testing.T) {
		d := NewDispatcher()
		if err := d.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		if err := d.Dispatch(context.Background(), approvalEvent()); !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	})
}

func TestDispatchAsync(t *testing.T) {
	t.Run("close waits for handlers", func(t *testing.T) {
		d := NewDispatcher()
		var count int32

		for i := 0; i < 3; i++ {
			d.Subscribe(event.TypeApprovalRequired, "", func(ctx context.Context, evt *event.Event) error {
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&count, 1)
				return nil
			})
		}

		d.DispatchAsync(context.Background(), event.NewEvent(event.TypeApprovalRequired, "wf-1", "q-1", nil))

		if err := d.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		if got := atomic.LoadInt32(&count); got != 3 {
			t.Errorf("expected 3 handler runs, got %d", got)
		}
		if d.InFlight() != 0 {
			t.Errorf("expected no handlers in flight, got %d", d.InFlight())
		}
	})

	t.Run("handlers outlive the caller context", func(t *testing.T) {
		d := NewDispatcher()
		var sawCancel atomic.Bool

		d.Subscribe(event.TypeEscalationRequested, "notify", func(ctx context.Context, evt *event.Event) error {
			time.Sleep(10 * time.Millisecond)
			if ctx.Err() != nil {
				sawCancel.Store(true)
			}
			return nil
		})

		ctx, cancel := context.WithCancel(context.Background())
		d.DispatchAsync(ctx, event.NewEvent(event.TypeEscalationRequested, "wf-1", "q-1", nil))
		cancel()

		_ = d.Close()
		if sawCancel.Load() {
			t.Error("async handler observed the caller's cancellation")
		}
	})

	t.Run("handler timeout applies", func(t *testing.T) {
		d := NewDispatcher(WithHandlerTimeout(5 * time.Millisecond))
		var deadlineHit atomic.Bool

		d.Subscribe(event.TypeTimeoutEscalated, "slow", func(ctx context.Context, evt *event.Event) error {
			<-ctx.Done()
			deadlineHit.Store(errors.Is(ctx.Err(), context.DeadlineExceeded))
			return ctx.Err()
		})

		d.DispatchAsync(context.Background(), event.NewEvent(event.TypeTimeoutEscalated, "wf-1", "wf-1", nil))
		_ = d.Close()

		if !deadlineHit.Load() {
			t.Error("expected handler context to hit its deadline")
		}
	})

	t.Run("errors and panics are logged, not propagated", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))

		d.Subscribe(event.TypeApprovalRequired, "err", func(ctx context.Context, evt *event.Event) error {
			return errors.New("webhook down")
		})
		d.Subscribe(event.TypeApprovalRequired, "panic", func(ctx context.Context, evt *event.Event) error {
			panic("boom")
		})

		d.DispatchAsync(context.Background(), event.NewEvent(event.TypeApprovalRequired, "wf-1", "q-1", nil))
		_ = d.Close()

		if logger.ErrorCount() != 2 {
			t.Errorf("expected 2 logged errors, got %d", logger.ErrorCount())
		}
	})

	t.Run("dropped after close", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))
		called := false
		d.Subscribe(event.TypeApprovalRequired, "", func(ctx context.Context, evt *event.Event) error {
			called = true
			return nil
		})

		_ = d.Close()
		d.DispatchAsync(context.Background(), event.NewEvent(event.TypeApprovalRequired, "wf-1", "q-1", nil))

		if called {
			t.Error("handler ran after close")
		}
		if logger.ErrorCount() != 1 {
			t.Errorf("expected rejection to be logged, got %d errors", logger.ErrorCount())
		}
		if err := d.Close(); !errors.Is(err, ErrClosed) {
			t.Errorf("expected second close to return ErrClosed, got %v", err)
		}
	})

	t.Run("dispatch racing close", func(t *testing.T) {
		d := NewDispatcher()
		var count int32
		d.Subscribe(event.TypeApprovalRequired, "", func(ctx context.Context, evt *event.Event) error {
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&count, 1)
			return nil
		})

		var senders sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < 8; i++ {
			senders.Add(1)
			go func() {
				defer senders.Done()
				<-start
				for j := 0; j < 50; j++ {
					d.DispatchAsync(context.Background(), event.NewEvent(event.TypeApprovalRequired, "wf-1", "q-1", nil))
				}
			}()
		}

		close(start)
		if err := d.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		afterClose := atomic.LoadInt32(&count)
		senders.Wait()
		time.Sleep(10 * time.Millisecond)

		if got := atomic.LoadInt32(&count); got != afterClose {
			t.Errorf("handlers ran after close returned: %d then %d", afterClose, got)
		}
		if d.InFlight() != 0 {
			t.Errorf("expected no handlers in flight, got %d", d.InFlight())
		}
	})
}
