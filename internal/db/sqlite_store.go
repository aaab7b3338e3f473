package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"queryguard/internal/types"
)

// SQLiteQueryStore is the single-file store used by queryctl and local
// runs. It applies the same conditional-update claim as the Postgres
// repository.
type SQLiteQueryStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies
// the schema. ":memory:" is accepted for tests.
func OpenSQLite(ctx context.Context, path string) (*SQLiteQueryStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; this also keeps a :memory: database on a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout = 5000")
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")

	b, err := schemaFS.ReadFile("schema/sqlite.sql")
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, string(b)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying sqlite schema: %w", err)
	}
	return &SQLiteQueryStore{db: db}, nil
}

func (s *SQLiteQueryStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteQueryStore) Close() error { return s.db.Close() }

func toNanos(t time.Time) int64 { return t.UnixNano() }

func toNullNanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func toNullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func fromNullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteQuery(row rowScanner) (*types.Query, error) {
	var (
		q                       types.Query
		phone, subject, notes   sql.NullString
		created, updated        int64
		mgrAt, ceoAt, lastCheck sql.NullInt64
		status, level           string
	)
	err := row.Scan(
		&q.ID, &q.Name, &q.Email, &phone, &subject, &q.Message,
		&status, &level,
		&q.CustomerSupportResponded, &q.ManagerResponded, &q.CEOResponded,
		&created, &mgrAt, &ceoAt, &lastCheck, &updated, &notes,
	)
	if err != nil {
		return nil, err
	}
	q.Phone = fromNullString(phone)
	q.Subject = fromNullString(subject)
	q.Notes = fromNullString(notes)
	q.Status = types.QueryStatus(status)
	q.EscalationLevel = types.Tier(level)
	q.CreatedAt = fromNanos(created)
	q.UpdatedAt = fromNanos(updated)
	q.EscalatedToManagerAt = fromNullNanos(mgrAt)
	q.EscalatedToCEOAt = fromNullNanos(ceoAt)
	q.LastEscalationCheck = fromNullNanos(lastCheck)
	return &q, nil
}

func (s *SQLiteQueryStore) queryAll(ctx context.Context, what string, query string, args ...any) ([]*types.Query, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query "+what, err)
	}
	defer rows.Close()
	var out []*types.Query
	for rows.Next() {
		q, err := scanSQLiteQuery(rows)
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

func (s *SQLiteQueryStore) Create(ctx context.Context, q *types.Query) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO queries (`+queryColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.Name, q.Email, toNullString(q.Phone), toNullString(q.Subject), q.Message,
		string(q.Status), string(q.EscalationLevel),
		q.CustomerSupportResponded, q.ManagerResponded, q.CEOResponded,
		toNanos(q.CreatedAt), toNullNanos(q.EscalatedToManagerAt), toNullNanos(q.EscalatedToCEOAt),
		toNullNanos(q.LastEscalationCheck), toNanos(q.UpdatedAt), toNullString(q.Notes),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create query", err)
	}
	return nil
}

func (s *SQLiteQueryStore) GetByID(ctx context.Context, id string) (*types.Query, error) {
	q, err := scanSQLiteQuery(s.db.QueryRowContext(ctx,
		`SELECT `+queryColumns+` FROM queries WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundQuery, "query not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve query", err)
	}
	return q, nil
}

func (s *SQLiteQueryStore) List(ctx context.Context, params ListQueriesParams) ([]*types.Query, types.PageInfo, error) {
	limit := params.limit()

	var conditions []string
	var args []any
	if len(params.Status) > 0 {
		ph := make([]string, len(params.Status))
		for i, st := range params.Status {
			ph[i] = "?"
			args = append(args, string(st))
		}
		conditions = append(conditions, "status IN ("+strings.Join(ph, ", ")+")")
	}
	if params.Level != "" {
		conditions = append(conditions, "escalation_level = ?")
		args = append(args, string(params.Level))
	}
	cursor, ok, err := params.cursorTime()
	if err != nil {
		return nil, types.PageInfo{}, err
	}
	if ok {
		conditions = append(conditions, "created_at < ?")
		args = append(args, toNanos(cursor))
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, limit+1)

	results, err := s.queryAll(ctx, "query row",
		`SELECT `+queryColumns+` FROM queries `+where+` ORDER BY created_at DESC LIMIT ?`, args...)
	if err != nil {
		return nil, types.PageInfo{}, err
	}
	results, info := page(results, limit)
	return results, info, nil
}

func (s *SQLiteQueryStore) MarkResponded(ctx context.Context, id string, tier types.Tier, at time.Time) (*types.Query, error) {
	col, err := respondedColumn(tier)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE queries
		 SET `+col+` = 1,
		     status = CASE WHEN escalation_level = ? THEN 'RESPONDED' ELSE status END,
		     updated_at = ?
		 WHERE id = ? AND status <> 'RESOLVED'`,
		string(tier), toNanos(at), id,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to record response", err)
	}
	q, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, types.NewAppError(types.ErrCodeConflictResolved, "query is resolved", nil)
	}
	return q, nil
}

func (s *SQLiteQueryStore) Resolve(ctx context.Context, id string, at time.Time) (*types.Query, error) {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE queries SET status = 'RESOLVED', updated_at = ? WHERE id = ? AND status <> 'RESOLVED'`,
		toNanos(at), id,
	); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to resolve query", err)
	}
	return s.GetByID(ctx, id)
}

func (s *SQLiteQueryStore) SetNotes(ctx context.Context, id string, notes string, at time.Time) (*types.Query, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queries SET notes = ?, updated_at = ? WHERE id = ?`, notes, toNanos(at), id)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to update notes", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, types.NewAppError(types.ErrCodeNotFoundQuery, "query not found", nil)
	}
	return s.GetByID(ctx, id)
}

func (s *SQLiteQueryStore) FindQueriesNeedingEscalationCheck(ctx context.Context) ([]*types.Query, error) {
	return s.queryAll(ctx, "escalation candidate",
		`SELECT `+queryColumns+` FROM queries
		 WHERE status IN ('PENDING', 'ESCALATED_LEVEL2') AND `+currentTierUnanswered+`
		 ORDER BY created_at ASC`)
}

func (s *SQLiteQueryStore) FindUnansweredAtTier(ctx context.Context, tier types.Tier) ([]*types.Query, error) {
	col, err := respondedColumn(tier)
	if err != nil {
		return nil, err
	}
	return s.queryAll(ctx, "unanswered query",
		`SELECT `+queryColumns+` FROM queries
		 WHERE escalation_level = ? AND status <> 'RESOLVED' AND `+col+` = 0
		 ORDER BY created_at ASC`, string(tier))
}

func (s *SQLiteQueryStore) TryTransition(ctx context.Context, id string, expected types.QueryState, t types.Transition) (bool, error) {
	flag, err := respondedColumn(expected.Level)
	if err != nil {
		return false, err
	}
	tsCol, err := escalatedAtColumn(t.To.Level)
	if err != nil {
		return false, err
	}
	at := toNanos(t.At)
	res, err := s.db.ExecContext(ctx,
		`UPDATE queries
		 SET status = ?, escalation_level = ?, `+tsCol+` = ?,
		     last_escalation_check = MAX(COALESCE(last_escalation_check, ?), ?),
		     updated_at = ?
		 WHERE id = ? AND status = ? AND escalation_level = ?
		   AND `+flag+` = 0 AND `+tsCol+` IS NULL`,
		string(t.To.Status), string(t.To.Level), at, at, at, at,
		id, string(expected.Status), string(expected.Level),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to apply escalation transition", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to read transition result", err)
	}
	return n == 1, nil
}

func (s *SQLiteQueryStore) TouchLastCheck(ctx context.Context, id string, now time.Time) error {
	at := toNanos(now)
	_, err := s.db.ExecContext(ctx,
		`UPDATE queries SET last_escalation_check = MAX(COALESCE(last_escalation_check, ?), ?)
		 WHERE id = ? AND status <> 'RESOLVED'`,
		at, at, id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update last escalation check", err)
	}
	return nil
}
