package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"queryguard/internal/types"
)

// QueryRepository provides data access for the queries table in Postgres.
//
// The sweep operations are written so that concurrent sweepers never double
// escalate: TryTransition is a single conditional UPDATE whose WHERE clause
// carries the expected (status, level) pair, and the caller learns whether
// it won from RowsAffected.
type QueryRepository struct {
	db DBTX
}

// NewQueryRepository creates a QueryRepository backed by the given
// connection (pool or transaction).
func NewQueryRepository(db DBTX) *QueryRepository {
	return &QueryRepository{db: db}
}

// queryColumns is the column order expected by scanQuery.
const queryColumns = `id, name, email, phone, subject, message,
	status, escalation_level,
	customer_support_responded, manager_responded, ceo_responded,
	created_at, escalated_to_manager_at, escalated_to_ceo_at,
	last_escalation_check, updated_at, notes`

// currentTierUnanswered is true when the flag of the tier currently holding
// the query is false.
const currentTierUnanswered = `NOT (CASE escalation_level
		WHEN 'CUSTOMER_SUPPORT' THEN customer_support_responded
		WHEN 'MANAGER' THEN manager_responded
		ELSE ceo_responded END)`

func scanQuery(row pgx.Row) (*types.Query, error) {
	var q types.Query
	err := row.Scan(
		&q.ID,
		&q.Name,
		&q.Email,
		&q.Phone,
		&q.Subject,
		&q.Message,
		&q.Status,
		&q.EscalationLevel,
		&q.CustomerSupportResponded,
		&q.ManagerResponded,
		&q.CEOResponded,
		&q.CreatedAt,
		&q.EscalatedToManagerAt,
		&q.EscalatedToCEOAt,
		&q.LastEscalationCheck,
		&q.UpdatedAt,
		&q.Notes,
	)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *QueryRepository) collect(rows pgx.Rows, what string) ([]*types.Query, error) {
	defer rows.Close()
	var out []*types.Query
	for rows.Next() {
		q, err := scanQuery(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan "+what, err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating "+what, err)
	}
	return out, nil
}

// Create inserts a new query. The caller assigns ID and timestamps.
func (r *QueryRepository) Create(ctx context.Context, q *types.Query) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO queries (`+queryColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		q.ID, q.Name, q.Email, q.Phone, q.Subject, q.Message,
		q.Status, q.EscalationLevel,
		q.CustomerSupportResponded, q.ManagerResponded, q.CEOResponded,
		q.CreatedAt, q.EscalatedToManagerAt, q.EscalatedToCEOAt,
		q.LastEscalationCheck, q.UpdatedAt, q.Notes,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create query", err)
	}
	return nil
}

// GetByID returns the query or a not_found_query error.
func (r *QueryRepository) GetByID(ctx context.Context, id string) (*types.Query, error) {
	q, err := scanQuery(r.db.QueryRow(ctx,
		`SELECT `+queryColumns+` FROM queries WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundQuery, "query not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve query", err)
	}
	return q, nil
}

// List returns queries newest first using a limit+1 fetch to detect more pages.
func (r *QueryRepository) List(ctx context.Context, params ListQueriesParams) ([]*types.Query, types.PageInfo, error) {
	limit := params.limit()

	var conditions []string
	var args []any
	argIdx := 1

	if len(params.Status) > 0 {
		placeholders := make([]string, len(params.Status))
		for i, s := range params.Status {
			placeholders[i] = fmt.Sprintf("$%d", argIdx)
			args = append(args, s)
			argIdx++
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")))
	}
	if params.Level != "" {
		conditions = append(conditions, fmt.Sprintf("escalation_level = $%d", argIdx))
		args = append(args, params.Level)
		argIdx++
	}
	cursor, ok, err := params.cursorTime()
	if err != nil {
		return nil, types.PageInfo{}, err
	}
	if ok {
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", argIdx))
		args = append(args, cursor)
		argIdx++
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	sql := fmt.Sprintf(`SELECT %s FROM queries %s ORDER BY created_at DESC LIMIT $%d`, queryColumns, where, argIdx)
	args = append(args, limit+1)

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "failed to list queries", err)
	}
	results, err := r.collect(rows, "query row")
	if err != nil {
		return nil, types.PageInfo{}, err
	}
	results, info := page(results, limit)
	return results, info, nil
}

// MarkResponded sets the responded flag for tier. The status becomes
// RESPONDED only when tier is the one currently holding the query. A
// resolved query is rejected with conflict_query_resolved.
func (r *QueryRepository) MarkResponded(ctx context.Context, id string, tier types.Tier, at time.Time) (*types.Query, error) {
	col, err := respondedColumn(tier)
	if err != nil {
		return nil, err
	}
	q, err := scanQuery(r.db.QueryRow(ctx,
		`UPDATE queries
		 SET `+col+` = TRUE,
		     status = CASE WHEN escalation_level = $2 THEN 'RESPONDED' ELSE status END,
		     updated_at = $3
		 WHERE id = $1 AND status <> 'RESOLVED'
		 RETURNING `+queryColumns,
		id, tier, at,
	))
	if err == nil {
		return q, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to record response", err)
	}
	// Zero rows: either missing or resolved.
	if _, getErr := r.GetByID(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, types.NewAppError(types.ErrCodeConflictResolved, "query is resolved", nil)
}

// Resolve moves the query to RESOLVED. Resolving twice returns the
// already-resolved record unchanged.
func (r *QueryRepository) Resolve(ctx context.Context, id string, at time.Time) (*types.Query, error) {
	q, err := scanQuery(r.db.QueryRow(ctx,
		`UPDATE queries SET status = 'RESOLVED', updated_at = $2
		 WHERE id = $1 AND status <> 'RESOLVED'
		 RETURNING `+queryColumns,
		id, at,
	))
	if err == nil {
		return q, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to resolve query", err)
	}
	return r.GetByID(ctx, id)
}

// SetNotes replaces the operator notes. Notes stay editable after resolution.
func (r *QueryRepository) SetNotes(ctx context.Context, id string, notes string, at time.Time) (*types.Query, error) {
	q, err := scanQuery(r.db.QueryRow(ctx,
		`UPDATE queries SET notes = $2, updated_at = $3 WHERE id = $1 RETURNING `+queryColumns,
		id, notes, at,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundQuery, "query not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to update notes", err)
	}
	return q, nil
}

// FindQueriesNeedingEscalationCheck returns PENDING and ESCALATED_LEVEL2
// queries whose current tier has not responded, oldest first.
func (r *QueryRepository) FindQueriesNeedingEscalationCheck(ctx context.Context) ([]*types.Query, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+queryColumns+` FROM queries
		 WHERE status IN ('PENDING', 'ESCALATED_LEVEL2') AND `+currentTierUnanswered+`
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to find escalation candidates", err)
	}
	return r.collect(rows, "escalation candidate")
}

// FindUnansweredAtTier returns unresolved queries held by tier whose flag
// for that tier is still false.
func (r *QueryRepository) FindUnansweredAtTier(ctx context.Context, tier types.Tier) ([]*types.Query, error) {
	col, err := respondedColumn(tier)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+queryColumns+` FROM queries
		 WHERE escalation_level = $1 AND status <> 'RESOLVED' AND `+col+` = FALSE
		 ORDER BY created_at ASC`,
		tier,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to find unanswered queries", err)
	}
	return r.collect(rows, "unanswered query")
}

// TryTransition applies t only if the row still matches expected, the
// expected tier has not responded, and the target timestamp is unset.
// It reports whether this caller won the claim.
//
// SQL pattern:
//
//	UPDATE queries SET status=$4, escalation_level=$5, <target>_at=$6, ...
//	WHERE id=$1 AND status=$2 AND escalation_level=$3
//	  AND <expected tier flag> = FALSE AND <target>_at IS NULL
func (r *QueryRepository) TryTransition(ctx context.Context, id string, expected types.QueryState, t types.Transition) (bool, error) {
	flag, err := respondedColumn(expected.Level)
	if err != nil {
		return false, err
	}
	tsCol, err := escalatedAtColumn(t.To.Level)
	if err != nil {
		return false, err
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE queries
		 SET status = $4,
		     escalation_level = $5,
		     `+tsCol+` = $6,
		     last_escalation_check = GREATEST(last_escalation_check, $6),
		     updated_at = $6
		 WHERE id = $1 AND status = $2 AND escalation_level = $3
		   AND `+flag+` = FALSE AND `+tsCol+` IS NULL`,
		id, expected.Status, expected.Level, t.To.Status, t.To.Level, t.At,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to apply escalation transition", err)
	}
	return tag.RowsAffected() == 1, nil
}

// TouchLastCheck advances last_escalation_check to now. GREATEST keeps it
// from moving backwards and resolved rows are left alone.
func (r *QueryRepository) TouchLastCheck(ctx context.Context, id string, now time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE queries SET last_escalation_check = GREATEST(last_escalation_check, $2)
		 WHERE id = $1 AND status <> 'RESOLVED'`,
		id, now,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update last escalation check", err)
	}
	return nil
}
