package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/mock"

	"queryguard/internal/types"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// --- Mock Row ---

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

// --- Mock Rows ---

type mockRows struct {
	data   []*types.Query
	idx    int
	closed bool
	errVal error
}

func newMockRows(qs ...*types.Query) *mockRows {
	return &mockRows{data: qs, idx: -1}
}

func (r *mockRows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	return r.idx < len(r.data)
}

func (r *mockRows) Scan(dest ...any) error { return fillQuery(r.data[r.idx])(dest...) }

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.errVal }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }

// fillQuery returns a scan function that writes q into destinations laid
// out in queryColumns order.
func fillQuery(q *types.Query) func(dest ...any) error {
	return func(dest ...any) error {
		*dest[0].(*string) = q.ID
		*dest[1].(*string) = q.Name
		*dest[2].(*string) = q.Email
		*dest[3].(**string) = q.Phone
		*dest[4].(**string) = q.Subject
		*dest[5].(*string) = q.Message
		*dest[6].(*types.QueryStatus) = q.Status
		*dest[7].(*types.Tier) = q.EscalationLevel
		*dest[8].(*bool) = q.CustomerSupportResponded
		*dest[9].(*bool) = q.ManagerResponded
		*dest[10].(*bool) = q.CEOResponded
		*dest[11].(*time.Time) = q.CreatedAt
		*dest[12].(**time.Time) = q.EscalatedToManagerAt
		*dest[13].(**time.Time) = q.EscalatedToCEOAt
		*dest[14].(**time.Time) = q.LastEscalationCheck
		*dest[15].(*time.Time) = q.UpdatedAt
		*dest[16].(**string) = q.Notes
		return nil
	}
}

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func sampleQuery(id string) *types.Query {
	return &types.Query{
		ID:              id,
		Name:            "Ada Lovelace",
		Email:           "ada@example.com",
		Message:         "Order #4411 never arrived.",
		Status:          types.StatusPending,
		EscalationLevel: types.TierCustomerSupport,
		CreatedAt:       t0,
		UpdatedAt:       t0,
	}
}
