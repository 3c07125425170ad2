package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/sms-orchestrator/internal/application/port"
	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
)

func job(id string) port.IntakeJob {
	return port.IntakeJob{
		WorkflowID: id,
		Message:    entity.InboundMessage{TenantID: "tenant-1", PhoneNumber: "+15551234567", Content: "hi", ConversationID: "conv-1"},
	}
}

// --- IntakePool ---

func TestIntakePool_ProcessesJobs(t *testing.T) {
	pool := NewIntakePool(IntakePoolConfig{Workers: 3, QueueSize: 10, JobTimeout: time.Second}, zap.NewNop())

	var mu sync.Mutex
	seen := make(map[string]bool)
	pool.Handle(func(ctx context.Context, msg entity.InboundMessage, workflowID string) error {
		mu.Lock()
		defer mu.Unlock()
		seen[workflowID] = true
		return nil
	})

	require.NoError(t, pool.Start(context.Background()))
	for _, id := range []string{"wf-1", "wf-2", "wf-3", "wf-4"} {
		require.NoError(t, pool.Enqueue(context.Background(), job(id)))
	}
	require.NoError(t, pool.Stop())

	assert.Len(t, seen, 4)
	processed, failed := pool.Stats()
	assert.Equal(t, int64(4), processed)
	assert.Equal(t, int64(0), failed)
}

func TestIntakePool_FullQueueRejects(t *testing.T) {
	pool := NewIntakePool(IntakePoolConfig{Workers: 1, QueueSize: 1, JobTimeout: time.Second}, zap.NewNop())

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	pool.Handle(func(ctx context.Context, msg entity.InboundMessage, workflowID string) error {
		started <- struct{}{}
		<-release
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	require.NoError(t, pool.Enqueue(context.Background(), job("wf-1")))
	<-started
	require.NoError(t, pool.Enqueue(context.Background(), job("wf-2")))

	err := pool.Enqueue(context.Background(), job("wf-3"))
	assert.ErrorIs(t, err, entity.ErrServiceUnavailable)

	close(release)
	require.NoError(t, pool.Stop())
}

func TestIntakePool_StopDrainsBuffer(t *testing.T) {
	pool := NewIntakePool(IntakePoolConfig{Workers: 1, QueueSize: 5, JobTimeout: time.Second}, zap.NewNop())

	var count int32
	pool.Handle(func(ctx context.Context, msg entity.InboundMessage, workflowID string) error {
		time.Sleep(5 * time.Millisecond)
		assert.NoError(t, ctx.Err())
		atomic.AddInt32(&count, 1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, pool.Start(ctx))
	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Enqueue(context.Background(), job("wf")))
	}
	cancel()
	require.NoError(t, pool.Stop())

	assert.Equal(t, int32(5), atomic.LoadInt32(&count))
	assert.ErrorIs(t, pool.Enqueue(context.Background(), job("late")), entity.ErrServiceUnavailable)
}

func TestIntakePool_CountsFailuresAndPanics(t *testing.T) {
	pool := NewIntakePool(IntakePoolConfig{Workers: 1, QueueSize: 5, JobTimeout: time.Second}, zap.NewNop())
	pool.Handle(func(ctx context.Context, msg entity.InboundMessage, workflowID string) error {
		switch workflowID {
		case "fail":
			return errors.New("downstream down")
		case "panic":
			panic("boom")
		}
		return nil
	})

	require.NoError(t, pool.Start(context.Background()))
	for _, id := range []string{"ok", "fail", "panic", "ok"} {
		require.NoError(t, pool.Enqueue(context.Background(), job(id)))
	}
	require.NoError(t, pool.Stop())

	processed, failed := pool.Stats()
	assert.Equal(t, int64(2), processed)
	assert.Equal(t, int64(2), failed)
}

func TestIntakePool_StartRequiresHandler(t *testing.T) {
	pool := NewIntakePool(IntakePoolConfig{}, zap.NewNop())
	assert.Error(t, pool.Start(context.Background()))
}

// --- SweepWorker ---

func TestValidateSchedule(t *testing.T) {
	assert.NoError(t, ValidateSchedule("*/5 * * * *"))
	assert.NoError(t, ValidateSchedule("0 3 * * *"))
	assert.Error(t, ValidateSchedule("every five minutes"))
	assert.Error(t, ValidateSchedule("0 */5 * * * *"))
}

func TestSweepWorker_RunNow(t *testing.T) {
	var ran int32
	w := NewSweepWorker(zap.NewNop(),
		SweepJob{Name: "approval-timeout", Schedule: "*/5 * * * *", Run: func(ctx context.Context) error {
			atomic.AddInt32(&ran, 1)
			return nil
		}},
		SweepJob{Name: "cleanup", Schedule: "0 3 * * *", Run: func(ctx context.Context) error {
			return errors.New("db locked")
		}},
	)

	require.NoError(t, w.RunNow(context.Background(), "approval-timeout"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
	_, ok := w.LastRun("approval-timeout")
	assert.True(t, ok)

	assert.EqualError(t, w.RunNow(context.Background(), "cleanup"), "db locked")
	assert.Error(t, w.RunNow(context.Background(), "missing"))
}

func TestSweepWorker_JobTimeout(t *testing.T) {
	w := NewSweepWorker(zap.NewNop(), SweepJob{
		Name:     "slow",
		Schedule: "*/5 * * * *",
		Timeout:  10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})

	assert.ErrorIs(t, w.RunNow(context.Background(), "slow"), context.DeadlineExceeded)
}

func TestSweepWorker_StartRejectsBadSchedule(t *testing.T) {
	w := NewSweepWorker(zap.NewNop(), SweepJob{Name: "bad", Schedule: "nope", Run: func(context.Context) error { return nil }})
	assert.Error(t, w.Start(context.Background()))
}

func TestSweepWorker_StartStop(t *testing.T) {
	w := NewSweepWorker(zap.NewNop(), SweepJob{Name: "tick", Schedule: "*/5 * * * *", Run: func(context.Context) error { return nil }})

	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()))
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}

// --- WorkerManager ---

type fakeWorker struct {
	name     string
	startErr error
	log      *[]string
}

func (f *fakeWorker) Start(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	*f.log = append(*f.log, "start:"+f.name)
	return nil
}

func (f *fakeWorker) Stop() error {
	*f.log = append(*f.log, "stop:"+f.name)
	return nil
}

func (f *fakeWorker) Name() string { return f.name }

func TestWorkerManager_StartsInOrderStopsInReverse(t *testing.T) {
	var log []string
	m := NewWorkerManager(zap.NewNop())
	m.Register(&fakeWorker{name: "pool", log: &log})
	m.Register(&fakeWorker{name: "sweeps", log: &log})

	require.NoError(t, m.StartAll(context.Background()))
	assert.True(t, m.IsRunning())
	assert.Error(t, m.StartAll(context.Background()))
	require.NoError(t, m.StopAll())

	assert.Equal(t, []string{"start:pool", "start:sweeps", "stop:sweeps", "stop:pool"}, log)
	assert.Equal(t, []string{"pool", "sweeps"}, m.Names())
	assert.False(t, m.IsRunning())
}

func TestWorkerManager_SkipsWorkersThatFailToStart(t *testing.T) {
	var log []string
	m := NewWorkerManager(zap.NewNop())
	m.Register(&fakeWorker{name: "broken", startErr: errors.New("no handler"), log: &log})
	m.Register(&fakeWorker{name: "sweeps", log: &log})

	err := m.StartAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")

	require.NoError(t, m.StopAll())
	assert.Equal(t, []string{"start:sweeps", "stop:sweeps"}, log)
}
