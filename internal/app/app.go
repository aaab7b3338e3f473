// Package app wires the QueryGuard components from a loaded Config. The
// escalator Lambda, the API server and queryctl all build their sweep and
// store dependencies here so they behave identically.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"queryguard/internal/config"
	"queryguard/internal/db"
	"queryguard/internal/escalation"
	"queryguard/internal/external"
	"queryguard/internal/notifications/core"
	"queryguard/internal/notifications/template"
	"queryguard/internal/scheduler"
	"queryguard/internal/telemetry"
	"queryguard/internal/types"
)

// NewLogger builds the process logger. JSON output is used everywhere
// except the CLI.
func NewLogger(w io.Writer, level string, json bool) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if json {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// SweepDeps are optional overrides for BuildSweeper.
type SweepDeps struct {
	Metrics  telemetry.Recorder
	Clock    types.Clock
	SQS      core.SQSSender
	Registry []external.RegistryOption
}

// BuildDispatcher assembles providers, resolver, renderer and failure log.
func BuildDispatcher(ctx context.Context, cfg *config.Config, logger *slog.Logger, deps SweepDeps) (*core.Dispatcher, error) {
	tlog := types.NewSlogLogger(logger)

	registry, err := external.NewProviderRegistry(ctx, cfg, logger, deps.Registry...)
	if err != nil {
		return nil, fmt.Errorf("building provider registry: %w", err)
	}
	renderer, err := template.New(template.Config{
		BaseURL:      cfg.Server.BaseURL,
		ExcerptRunes: cfg.Notify.ShortMessageExcerpt,
		SMSMaxRunes:  cfg.Notify.SMSMaxRunes,
	})
	if err != nil {
		return nil, fmt.Errorf("building renderer: %w", err)
	}
	resolver := core.NewResolver(core.DirectoryFromConfig(cfg.Contacts), tlog)

	opts := []core.DispatcherOption{
		core.WithLogger(tlog),
		core.WithSendTimeout(cfg.Notify.SendTimeout),
	}
	if deps.Metrics != nil {
		opts = append(opts, core.WithMetrics(deps.Metrics))
	}
	if deps.Clock != nil {
		opts = append(opts, core.WithClock(deps.Clock))
	}
	if queue := cfg.AWS.DeliveryFailureQueue; queue != "" {
		client := deps.SQS
		if client == nil {
			awsCfg, err := config.LoadAWS(ctx, cfg.AWS)
			if err != nil {
				return nil, err
			}
			client = sqs.NewFromConfig(awsCfg)
		}
		opts = append(opts, core.WithFailureRecorder(core.NewSQSFailureLog(client, queue, tlog)))
	}

	logger.Info("notification channels configured", "channels", registry.Channels())
	return core.NewDispatcher(registry, resolver, renderer, opts...), nil
}

// BuildSweeper assembles a Sweeper over store.
func BuildSweeper(ctx context.Context, cfg *config.Config, store escalation.QueryStore, logger *slog.Logger, deps SweepDeps) (*escalation.Sweeper, error) {
	dispatcher, err := BuildDispatcher(ctx, cfg, logger, deps)
	if err != nil {
		return nil, err
	}

	opts := []escalation.Option{escalation.WithLogger(types.NewSlogLogger(logger))}
	if deps.Metrics != nil {
		opts = append(opts, escalation.WithMetrics(deps.Metrics))
	}
	if deps.Clock != nil {
		opts = append(opts, escalation.WithClock(deps.Clock))
	}
	return escalation.NewSweeper(store, dispatcher, escalation.Config{
		Timeout:     cfg.Escalation.Timeout,
		Concurrency: cfg.Escalation.SweepConcurrency,
	}, opts...), nil
}

// Closer releases a resource opened during wiring.
type Closer func() error

// NewLocker returns the sweep lock named by LOCK_BACKEND. The Postgres lock
// reuses the store's pool when the store is Postgres.
func NewLocker(ctx context.Context, cfg *config.Config, store db.Store) (scheduler.Locker, Closer, error) {
	noop := func() error { return nil }

	switch cfg.Escalation.LockBackend {
	case config.LockRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password.Unmask(),
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
		}
		return scheduler.NewRedisLocker(client), client.Close, nil

	case config.LockPostgres:
		if pg, ok := store.(*db.PostgresStore); ok {
			return db.NewJobLockRepository(pg.Pool), noop, nil
		}
		pool, err := db.NewPool(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		return db.NewJobLockRepository(pool), func() error { pool.Close(); return nil }, nil
	}
	return scheduler.NoopLocker{}, noop, nil
}

// NewHistorian records sweeps in job_history when the store is Postgres.
func NewHistorian(store db.Store) scheduler.JobHistorian {
	if pg, ok := store.(*db.PostgresStore); ok {
		return db.NewJobHistoryRepository(pg.Pool)
	}
	return nil
}

// NewSweepJob wraps sweeper with the configured lock and history.
func NewSweepJob(sweeper *escalation.Sweeper, locker scheduler.Locker, history scheduler.JobHistorian, cfg *config.Config, logger *slog.Logger) *scheduler.SweepJob {
	return &scheduler.SweepJob{
		Sweeper:  sweeper,
		Lock:     locker,
		LockTTL:  cfg.Escalation.LockTTL,
		History:  history,
		WorkerID: uuid.NewString(),
		Logger:   logger,
	}
}
