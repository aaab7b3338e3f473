// Package main is the entrypoint for the escalator.
//
// On Lambda an EventBridge schedule invokes Handle with a SweepPayload; each
// invocation runs one escalation sweep under the job lock. Outside Lambda
// (or with -local) the same job runs in-process every SWEEP_INTERVAL until
// SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"

	"queryguard/internal/app"
	"queryguard/internal/config"
	"queryguard/internal/db"
	"queryguard/internal/escalation"
	"queryguard/internal/scheduler"
	"queryguard/internal/telemetry"
	"queryguard/internal/types"
)

// SweepRunner is the part of scheduler.SweepJob the handler calls.
type SweepRunner interface {
	Run(ctx context.Context, ref *time.Time) (escalation.SweepReport, error)
}

// Result is returned to the Lambda runtime and shows up in the invocation log.
type Result struct {
	Task    scheduler.TaskType      `json:"task"`
	Skipped bool                    `json:"skipped,omitempty"`
	Report  *escalation.SweepReport `json:"report,omitempty"`
}

// Handler serves EventBridge invocations.
type Handler struct {
	Job    SweepRunner
	Logger *slog.Logger
}

// Handle runs one sweep. Per-record failures are reported in the result;
// only a failure of the sweep as a whole (lock or candidate query) is
// returned as an error so the invocation is marked failed.
func (h *Handler) Handle(ctx context.Context, payload scheduler.SweepPayload) (Result, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger.InfoContext(ctx, "escalator invoked", "task", payload.Task, "reference_time", payload.ReferenceTime)

	switch payload.Task {
	case scheduler.TaskEscalationSweep:
	case "":
		return Result{}, fmt.Errorf("empty task type in sweep payload")
	default:
		return Result{}, fmt.Errorf("unknown task type: %q", payload.Task)
	}

	report, err := h.Job.Run(ctx, payload.ReferenceTime)
	if errors.Is(err, scheduler.ErrSkipped) {
		return Result{Task: payload.Task, Skipped: true}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("task %s failed: %w", payload.Task, err)
	}

	res := Result{Task: payload.Task, Report: &report}
	for _, e := range report.Errors {
		if e.QueryID == "" {
			return res, fmt.Errorf("task %s failed: %w", payload.Task, e)
		}
	}
	logger.InfoContext(ctx, "escalation sweep complete",
		"sweep_id", report.SweepID,
		"examined", report.Examined,
		"escalated", report.Escalated(),
		"errors", len(report.Errors),
	)
	return res, nil
}

func main() {
	local := flag.Bool("local", false, "run sweeps in-process on SWEEP_INTERVAL instead of serving Lambda")
	flag.Parse()

	if err := run(*local); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(local bool) error {
	ctx := context.Background()

	cfg, err := config.Load(config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL")), config.Options{})
	if err != nil {
		return err
	}
	logger := app.NewLogger(os.Stdout, cfg.LogLevel, true).With("service", cfg.Service, "component", "escalator")
	logger.Info("escalator initializing", "version", cfg.Build.String())

	store, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	recorder, err := telemetry.New(ctx, cfg, types.NewSlogLogger(logger))
	if err != nil {
		return err
	}
	sweeper, err := app.BuildSweeper(ctx, cfg, store, logger, app.SweepDeps{Metrics: recorder})
	if err != nil {
		return err
	}
	locker, closeLock, err := app.NewLocker(ctx, cfg, store)
	if err != nil {
		return err
	}
	defer closeLock()

	job := app.NewSweepJob(sweeper, locker, app.NewHistorian(store), cfg, logger)
	logger.Info("escalator initialized",
		"worker_id", job.WorkerID,
		"store", cfg.Database.Backend,
		"lock", cfg.Escalation.LockBackend,
		"timeout", cfg.Escalation.Timeout.String(),
	)

	if local || os.Getenv("AWS_LAMBDA_RUNTIME_API") == "" {
		sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return scheduler.NewCronRunner(job, cfg.Escalation.SweepInterval, logger).Run(sigCtx)
	}

	h := &Handler{Job: job, Logger: logger}
	lambda.Start(h.Handle)
	return nil
}
