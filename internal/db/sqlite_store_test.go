package db

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queryguard/internal/escalation"
	"queryguard/internal/notifications/core"
	"queryguard/internal/types"
)

func openTestSQLite(t *testing.T) *SQLiteQueryStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "qg.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func strPtr(s string) *string { return &s }

var toManager = types.Transition{
	To: types.QueryState{Status: types.StatusEscalatedLevel2, Level: types.TierManager},
	At: t0.Add(31 * time.Minute),
}

var fromSupport = types.QueryState{Status: types.StatusPending, Level: types.TierCustomerSupport}

func TestSQLite_CreateAndGetRoundTrip(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	q := sampleQuery("q1")
	q.Phone = strPtr("+15551234567")
	q.Subject = strPtr("Missing order")

	require.NoError(t, s.Create(ctx, q))
	got, err := s.GetByID(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, q, got)

	_, err = s.GetByID(ctx, "nope")
	assert.Equal(t, types.ErrCodeNotFoundQuery, appCode(t, err))
}

func TestSQLite_TryTransitionIsCompareAndSet(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, sampleQuery("q1")))

	won, err := s.TryTransition(ctx, "q1", fromSupport, toManager)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = s.TryTransition(ctx, "q1", fromSupport, toManager)
	require.NoError(t, err)
	assert.False(t, won, "second claim with a stale precondition loses")

	q, err := s.GetByID(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusEscalatedLevel2, q.Status)
	assert.Equal(t, types.TierManager, q.EscalationLevel)
	require.NotNil(t, q.EscalatedToManagerAt)
	assert.True(t, toManager.At.Equal(*q.EscalatedToManagerAt))
	assert.True(t, toManager.At.Equal(*q.LastEscalationCheck))
}

func TestSQLite_TryTransitionRespectsRespondedFlag(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	q := sampleQuery("q1")
	q.CustomerSupportResponded = true
	require.NoError(t, s.Create(ctx, q))

	won, err := s.TryTransition(ctx, "q1", fromSupport, toManager)
	require.NoError(t, err)
	assert.False(t, won)
}

func TestSQLite_TouchLastCheckIsMonotonic(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, sampleQuery("q1")))

	later := t0.Add(10 * time.Minute)
	require.NoError(t, s.TouchLastCheck(ctx, "q1", later))
	require.NoError(t, s.TouchLastCheck(ctx, "q1", t0.Add(time.Minute)))

	q, err := s.GetByID(ctx, "q1")
	require.NoError(t, err)
	assert.True(t, later.Equal(*q.LastEscalationCheck))
}

func TestSQLite_ResolvedRowsAreFrozen(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, sampleQuery("q1")))

	resolved, err := s.Resolve(ctx, "q1", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, types.StatusResolved, resolved.Status)

	again, err := s.Resolve(ctx, "q1", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, resolved, again, "resolve is idempotent")

	require.NoError(t, s.TouchLastCheck(ctx, "q1", t0.Add(2*time.Hour)))
	_, err = s.MarkResponded(ctx, "q1", types.TierCustomerSupport, t0.Add(2*time.Hour))
	assert.Equal(t, types.ErrCodeConflictResolved, appCode(t, err))

	q, err := s.GetByID(ctx, "q1")
	require.NoError(t, err)
	assert.Nil(t, q.LastEscalationCheck)
	assert.False(t, q.CustomerSupportResponded)

	noted, err := s.SetNotes(ctx, "q1", "refund issued", t0.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "refund issued", *noted.Notes)
	assert.Equal(t, types.StatusResolved, noted.Status)
}

func TestSQLite_MarkResponded(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, sampleQuery("q1")))
	won, err := s.TryTransition(ctx, "q1", fromSupport, toManager)
	require.NoError(t, err)
	require.True(t, won)

	// A late response from support sets its flag but does not change status.
	q, err := s.MarkResponded(ctx, "q1", types.TierCustomerSupport, t0.Add(40*time.Minute))
	require.NoError(t, err)
	assert.True(t, q.CustomerSupportResponded)
	assert.Equal(t, types.StatusEscalatedLevel2, q.Status)

	q, err = s.MarkResponded(ctx, "q1", types.TierManager, t0.Add(41*time.Minute))
	require.NoError(t, err)
	assert.True(t, q.ManagerResponded)
	assert.Equal(t, types.StatusResponded, q.Status)

	_, err = s.MarkResponded(ctx, "missing", types.TierManager, t0)
	assert.Equal(t, types.ErrCodeNotFoundQuery, appCode(t, err))
}

func TestSQLite_CandidateQueries(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	pending := sampleQuery("pending")
	answered := sampleQuery("answered")
	answered.CustomerSupportResponded = true
	answered.Status = types.StatusResponded
	ceo := sampleQuery("ceo")
	ceo.Status = types.StatusEscalatedLevel3
	ceo.EscalationLevel = types.TierCEO
	mgrAt, ceoAt := t0.Add(30*time.Minute), t0.Add(60*time.Minute)
	ceo.EscalatedToManagerAt, ceo.EscalatedToCEOAt = &mgrAt, &ceoAt
	for _, q := range []*types.Query{pending, answered, ceo} {
		require.NoError(t, s.Create(ctx, q))
	}

	got, err := s.FindQueriesNeedingEscalationCheck(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "pending", got[0].ID)

	atCEO, err := s.FindUnansweredAtTier(ctx, types.TierCEO)
	require.NoError(t, err)
	require.Len(t, atCEO, 1)
	assert.Equal(t, "ceo", atCEO[0].ID)
}

func TestSQLite_ListPaginates(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c"} {
		q := sampleQuery(id)
		q.CreatedAt = t0.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.Create(ctx, q))
	}

	first, info, err := s.List(ctx, ListQueriesParams{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "c", first[0].ID)
	assert.True(t, info.HasMore)

	rest, info, err := s.List(ctx, ListQueriesParams{Limit: 2, Cursor: info.NextCursor})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "a", rest[0].ID)
	assert.False(t, info.HasMore)

	filtered, _, err := s.List(ctx, ListQueriesParams{Status: []types.QueryStatus{types.StatusResolved}})
	require.NoError(t, err)
	assert.Empty(t, filtered)
}

type countingNotifier struct {
	mu    sync.Mutex
	tiers []types.Tier
}

func (n *countingNotifier) Notify(_ context.Context, q *types.Query, tier types.Tier) core.DispatchResult {
	n.mu.Lock()
	n.tiers = append(n.tiers, tier)
	n.mu.Unlock()
	return core.DispatchResult{QueryID: q.ID, Tier: tier}
}

// Concurrent sweeps against a real store escalate each breach once.
func TestSQLite_ConcurrentSweepsFireOnce(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	for _, id := range []string{"x", "y", "z"} {
		require.NoError(t, s.Create(ctx, sampleQuery(id)))
	}
	n := &countingNotifier{}
	now := t0.Add(31 * time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sw := escalation.NewSweeper(s, n,
				escalation.Config{Timeout: 30 * time.Minute, Concurrency: 3},
				escalation.WithClock(types.FixedClock{At: now}),
			)
			sw.RunSweep(ctx)
		}()
	}
	wg.Wait()

	assert.Len(t, n.tiers, 3)
	for _, id := range []string{"x", "y", "z"} {
		q, err := s.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, types.TierManager, q.EscalationLevel)
	}
}
