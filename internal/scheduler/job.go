package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"queryguard/internal/escalation"
	"queryguard/internal/types"
)

// sweepLockID is a single fixed key: sweeps run every minute or so and the
// lock is released when the sweep finishes.
const sweepLockID = "escalation_sweep"

// JobHistorian records executions. Optional.
type JobHistorian interface {
	Start(ctx context.Context, jobType string, startedAt time.Time) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int, err error) error
}

// ErrSkipped is returned by SweepJob.Run when another worker holds the lock.
var ErrSkipped = errors.New("sweep skipped: lock held by another worker")

// SweepJob wraps a Sweeper with locking and history.
type SweepJob struct {
	Sweeper  *escalation.Sweeper
	Lock     Locker
	LockTTL  time.Duration
	History  JobHistorian
	WorkerID string
	Logger   *slog.Logger
	// Clock supplies "now" when the caller passes no reference time.
	Clock types.Clock
}

func (j *SweepJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}

// Run executes one sweep. With a non-nil ref the sweep evaluates deadlines
// as of ref; elapsed wall time still advances so the report duration is
// real. Persistence errors inside the sweep are in the report, not the
// returned error.
func (j *SweepJob) Run(ctx context.Context, ref *time.Time) (escalation.SweepReport, error) {
	logger := j.logger()
	lock := j.Lock
	if lock == nil {
		lock = NoopLocker{}
	}

	acquired, err := lock.Acquire(ctx, sweepLockID, j.WorkerID, j.LockTTL)
	if err != nil {
		logger.ErrorContext(ctx, "failed to acquire job lock", "lock_id", sweepLockID, "error", err)
		return escalation.SweepReport{}, fmt.Errorf("acquiring job lock %s: %w", sweepLockID, err)
	}
	if !acquired {
		logger.InfoContext(ctx, "job lock not acquired, another worker is sweeping", "lock_id", sweepLockID)
		return escalation.SweepReport{}, ErrSkipped
	}
	defer func() {
		// Release even when ctx is done so the next tick is not blocked for a full TTL.
		if err := lock.Release(context.WithoutCancel(ctx), sweepLockID, j.WorkerID); err != nil {
			logger.WarnContext(ctx, "failed to release job lock", "lock_id", sweepLockID, "error", err)
		}
	}()

	sweeper := j.Sweeper
	if ref != nil {
		sweeper = sweeper.At(newReferenceClock(ref.UTC()))
	}

	var jobID int64
	if j.History != nil {
		started := time.Now().UTC()
		if j.Clock != nil {
			started = j.Clock.Now()
		}
		if jobID, err = j.History.Start(ctx, string(TaskEscalationSweep), started); err != nil {
			logger.ErrorContext(ctx, "failed to start job history", "error", err)
			jobID = 0
		}
	}

	report := sweeper.RunSweep(ctx)

	if jobID != 0 {
		status := "success"
		var runErr error
		if len(report.Errors) > 0 {
			status = "failed"
			runErr = report.Errors[0]
		}
		if err := j.History.Finish(context.WithoutCancel(ctx), jobID, status, report.Escalated(), runErr); err != nil {
			logger.ErrorContext(ctx, "failed to finish job history", "job_id", jobID, "error", err)
		}
	}
	return report, nil
}

// referenceClock starts at a pinned instant and advances with the wall clock.
type referenceClock struct {
	ref   time.Time
	start time.Time
}

func newReferenceClock(ref time.Time) referenceClock {
	return referenceClock{ref: ref, start: time.Now()}
}

func (c referenceClock) Now() time.Time { return c.ref.Add(time.Since(c.start)) }
