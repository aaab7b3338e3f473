// Package db provides the query stores used by QueryGuard: a PostgreSQL
// repository built on pgx and a SQLite store for local and CLI use. The
// Postgres repositories accept a DBTX so the same code works on a
// *pgxpool.Pool or inside a pgx.Tx.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"queryguard/internal/config"
	"queryguard/internal/escalation"
	"queryguard/internal/types"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the full query store surface: the sweep operations plus the
// operator reads and writes.
type Store interface {
	escalation.QueryStore

	Create(ctx context.Context, q *types.Query) error
	GetByID(ctx context.Context, id string) (*types.Query, error)
	List(ctx context.Context, params ListQueriesParams) ([]*types.Query, types.PageInfo, error)
	MarkResponded(ctx context.Context, id string, tier types.Tier, at time.Time) (*types.Query, error)
	Resolve(ctx context.Context, id string, at time.Time) (*types.Query, error)
	SetNotes(ctx context.Context, id string, notes string, at time.Time) (*types.Query, error)
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*SQLiteQueryStore)(nil)
)

// ListQueriesParams filters and pages List. Results are newest first.
type ListQueriesParams struct {
	Status []types.QueryStatus `json:"status"`
	Level  types.Tier          `json:"escalation_level"`
	Limit  int                 `json:"limit"`
	// Cursor is the created_at of the last item on the previous page.
	Cursor string `json:"cursor"`
}

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

func (p ListQueriesParams) limit() int {
	switch {
	case p.Limit <= 0:
		return defaultListLimit
	case p.Limit > maxListLimit:
		return maxListLimit
	}
	return p.Limit
}

func (p ListQueriesParams) cursorTime() (time.Time, bool, error) {
	if p.Cursor == "" {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(time.RFC3339Nano, p.Cursor)
	if err != nil {
		return time.Time{}, false, types.NewAppError(types.ErrCodeValidationInvalidQuery,
			"invalid cursor format; expected RFC3339 timestamp", err)
	}
	return t, true, nil
}

// page trims a limit+1 result set and computes the next cursor.
func page(results []*types.Query, limit int) ([]*types.Query, types.PageInfo) {
	info := types.PageInfo{}
	if len(results) > limit {
		info.HasMore = true
		info.NextCursor = results[limit-1].CreatedAt.Format(time.RFC3339Nano)
		results = results[:limit]
	}
	return results, info
}

// respondedColumn returns the flag column for tier. Column names never come
// from user input.
func respondedColumn(t types.Tier) (string, error) {
	switch t {
	case types.TierCustomerSupport:
		return "customer_support_responded", nil
	case types.TierManager:
		return "manager_responded", nil
	case types.TierCEO:
		return "ceo_responded", nil
	}
	return "", types.NewAppError(types.ErrCodeValidationInvalidTier, fmt.Sprintf("unknown tier %q", t), nil)
}

// escalatedAtColumn returns the timestamp column written when a query
// enters t. CUSTOMER_SUPPORT has none.
func escalatedAtColumn(t types.Tier) (string, error) {
	switch t {
	case types.TierManager:
		return "escalated_to_manager_at", nil
	case types.TierCEO:
		return "escalated_to_ceo_at", nil
	}
	return "", types.NewAppError(types.ErrCodeValidationInvalidTier, fmt.Sprintf("tier %q is not an escalation target", t), nil)
}

// Open connects the backend named by cfg.Backend.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Backend {
	case config.StoreSQLite:
		return OpenSQLite(ctx, cfg.SQLitePath)
	case config.StorePostgres, "":
		pool, err := NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &PostgresStore{QueryRepository: NewQueryRepository(pool), Pool: pool}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

// NewPool builds a pgx pool from cfg and verifies connectivity.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if !cfg.URL.IsSet() {
		return nil, fmt.Errorf("DATABASE_URL is required for the postgres store")
	}
	pcfg, err := pgxpool.ParseConfig(cfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		pcfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		pcfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.HealthCheckPeriod > 0 {
		pcfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("creating pgx pool: %w", err)
	}

	pingCtx := ctx
	if cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.AcquireTimeout)
		defer cancel()
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// PostgresStore pairs the repository with the pool that backs it.
type PostgresStore struct {
	*QueryRepository
	Pool *pgxpool.Pool
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.Pool.Ping(ctx) }

func (s *PostgresStore) Close() error {
	s.Pool.Close()
	return nil
}
