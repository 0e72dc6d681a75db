// Package scheduler runs periodic maintenance jobs.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is a named periodic task. Spec uses the cron syntax, including the
// "@every <duration>" form.
type Job struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Scheduler runs jobs on their schedules. A job never overlaps with its own
// previous run.
type Scheduler struct {
	cron *cron.Cron
	lg   *zap.Logger
	ctx  context.Context

	mu     sync.Mutex
	lastOK map[string]time.Time
}

// New creates a Scheduler. Jobs run with ctx, so cancelling it aborts
// in-flight runs.
func New(ctx context.Context, lg *zap.Logger) *Scheduler {
	cl := cronLogger{lg: lg.Named("cron")}
	return &Scheduler{
		cron: cron.New(cron.WithLogger(cl), cron.WithChain(
			cron.Recover(cl),
			cron.SkipIfStillRunning(cl),
		)),
		lg:     lg,
		ctx:    ctx,
		lastOK: make(map[string]time.Time),
	}
}

// Add registers a job. Jobs with an empty Spec are disabled.
func (s *Scheduler) Add(j Job) error {
	if j.Spec == "" {
		s.lg.Info("Job disabled", zap.String("job", j.Name))
		return nil
	}
	if _, err := s.cron.AddFunc(j.Spec, func() { s.run(j) }); err != nil {
		return errors.Wrapf(err, "schedule %s (%q)", j.Name, j.Spec)
	}
	s.markOK(j.Name, time.Now())
	return nil
}

// LastSuccess returns when the job last finished without error, or when it
// was added if it has not succeeded yet. Disabled and unknown jobs report the
// zero time.
func (s *Scheduler) LastSuccess(name string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastOK[name]
}

func (s *Scheduler) markOK(name string, t time.Time) {
	s.mu.Lock()
	s.lastOK[name] = t
	s.mu.Unlock()
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs and waits for running jobs to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (s *Scheduler) run(j Job) {
	lg := s.lg.With(zap.String("job", j.Name))
	ctx := zctx.Base(s.ctx, lg)
	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}

	start := time.Now()
	if err := j.Run(ctx); err != nil {
		lg.Error("Job failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return
	}
	s.markOK(j.Name, time.Now())
	lg.Debug("Job finished", zap.Duration("duration", time.Since(start)))
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	lg *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.lg.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.lg.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
