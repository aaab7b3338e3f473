package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// CronRunner triggers a SweepJob every interval. A tick that fires while
// the previous sweep is still running is skipped.
type CronRunner struct {
	job      *SweepJob
	interval time.Duration
	logger   *slog.Logger
	c        *cron.Cron
}

// NewCronRunner builds a runner; call Run to start it.
func NewCronRunner(job *SweepJob, interval time.Duration, logger *slog.Logger) *CronRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &CronRunner{job: job, interval: interval, logger: logger}
}

// Run schedules the sweep and blocks until ctx is done, then waits for a
// running sweep to finish.
func (r *CronRunner) Run(ctx context.Context) error {
	if r.interval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", r.interval)
	}
	clog := cronLogger{r.logger}
	r.c = cron.New(
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	r.c.Schedule(cron.Every(r.interval), cron.FuncJob(func() { r.tick(ctx) }))

	r.logger.Info("sweep runner started", "interval", r.interval.String())
	r.c.Start()
	<-ctx.Done()
	<-r.c.Stop().Done()
	r.logger.Info("sweep runner stopped")
	return nil
}

func (r *CronRunner) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := r.job.Run(ctx, nil); err != nil && !errors.Is(err, ErrSkipped) {
		r.logger.Error("scheduled sweep failed", "error", err)
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
