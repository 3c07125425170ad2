package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/garyjia/sms-orchestrator/internal/metrics"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateSchedule reports whether expr is a valid 5-field cron expression
func ValidateSchedule(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", expr, err)
	}
	return nil
}

// SweepJob is one scheduled maintenance task
type SweepJob struct {
	Name     string
	Schedule string
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

// SweepWorker runs sweep jobs on cron schedules in UTC.
// A run that is still going when its next tick fires is skipped.
type SweepWorker struct {
	jobs   []SweepJob
	logger *zap.Logger

	mu        sync.Mutex
	cron      *cron.Cron
	ctx       context.Context
	cancel    context.CancelFunc
	isRunning bool
	lastRun   map[string]time.Time
}

// NewSweepWorker creates a sweep worker for jobs
func NewSweepWorker(logger *zap.Logger, jobs ...SweepJob) *SweepWorker {
	return &SweepWorker{
		jobs:    jobs,
		logger:  logger,
		lastRun: make(map[string]time.Time),
	}
}

// Name implements Worker
func (w *SweepWorker) Name() string {
	return "SweepWorker"
}

// Start implements Worker
func (w *SweepWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		return fmt.Errorf("sweep worker already running")
	}

	logger := cronLogger{w.logger}
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	w.ctx, w.cancel = context.WithCancel(ctx)
	runCtx := w.ctx
	for _, job := range w.jobs {
		job := job
		if _, err := c.AddFunc(job.Schedule, func() { _ = w.runJob(runCtx, job) }); err != nil {
			w.cancel()
			return fmt.Errorf("schedule %s: %w", job.Name, err)
		}
		w.logger.Info("Sweep scheduled",
			zap.String("job", job.Name),
			zap.String("schedule", job.Schedule))
	}

	c.Start()
	w.cron = c
	w.isRunning = true
	return nil
}

// Stop implements Worker. It waits for running jobs to return.
func (w *SweepWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	c := w.cron
	cancel := w.cancel
	w.mu.Unlock()

	cancel()
	<-c.Stop().Done()
	w.logger.Info("SweepWorker stopped")
	return nil
}

// RunNow executes the named job once, outside its schedule
func (w *SweepWorker) RunNow(ctx context.Context, name string) error {
	for _, job := range w.jobs {
		if job.Name == name {
			return w.runJob(ctx, job)
		}
	}
	return fmt.Errorf("unknown sweep job %q", name)
}

// LastRun returns when the named job last finished
func (w *SweepWorker) LastRun(name string) (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.lastRun[name]
	return t, ok
}

func (w *SweepWorker) runJob(ctx context.Context, job SweepJob) error {
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := job.Run(ctx)
	duration := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"
		w.logger.Error("Sweep failed",
			zap.String("job", job.Name),
			zap.Duration("duration", duration),
			zap.Error(err))
	} else {
		w.logger.Info("Sweep completed",
			zap.String("job", job.Name),
			zap.Duration("duration", duration))
	}
	metrics.RecordSweep(job.Name, status, duration)

	w.mu.Lock()
	w.lastRun[job.Name] = time.Now()
	w.mu.Unlock()
	return err
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}

// Verify interface compliance
var (
	_ Worker      = (*SweepWorker)(nil)
	_ cron.Logger = cronLogger{}
)
