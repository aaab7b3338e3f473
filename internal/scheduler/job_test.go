package scheduler

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queryguard/internal/escalation"
	"queryguard/internal/notifications/core"
	"queryguard/internal/types"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// oneQueryStore holds a single PENDING query and grants every claim once.
type oneQueryStore struct {
	mu      sync.Mutex
	q       *types.Query
	claimed int
}

func (s *oneQueryStore) FindQueriesNeedingEscalationCheck(context.Context) ([]*types.Query, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.q == nil || s.claimed > 0 {
		return nil, nil
	}
	return []*types.Query{s.q.Clone()}, nil
}

func (s *oneQueryStore) TryTransition(context.Context, string, types.QueryState, types.Transition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claimed++
	return s.claimed == 1, nil
}

func (s *oneQueryStore) TouchLastCheck(context.Context, string, time.Time) error { return nil }

func (s *oneQueryStore) FindUnansweredAtTier(context.Context, types.Tier) ([]*types.Query, error) {
	return nil, nil
}

type nopNotifier struct{}

func (nopNotifier) Notify(_ context.Context, q *types.Query, tier types.Tier) core.DispatchResult {
	return core.DispatchResult{QueryID: q.ID, Tier: tier}
}

type fakeLocker struct {
	mu       sync.Mutex
	held     bool
	err      error
	released int
}

func (l *fakeLocker) Acquire(context.Context, string, string, time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	if l.held {
		return false, nil
	}
	l.held = true
	return true, nil
}

func (l *fakeLocker) Release(context.Context, string, string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
	l.released++
	return nil
}

type fakeHistory struct {
	started  []string
	statuses []string
	items    []int
}

func (h *fakeHistory) Start(_ context.Context, jobType string, _ time.Time) (int64, error) {
	h.started = append(h.started, jobType)
	return int64(len(h.started)), nil
}

func (h *fakeHistory) Finish(_ context.Context, _ int64, status string, items int, _ error) error {
	h.statuses = append(h.statuses, status)
	h.items = append(h.items, items)
	return nil
}

func newJob(store escalation.QueryStore, now time.Time) *SweepJob {
	sw := escalation.NewSweeper(store, nopNotifier{}, escalation.Config{Timeout: 30 * time.Minute},
		escalation.WithClock(types.FixedClock{At: now}))
	return &SweepJob{Sweeper: sw, LockTTL: time.Minute, WorkerID: "worker-1"}
}

func pending() *types.Query {
	return &types.Query{
		ID: "q1", Name: "Ada", Email: "ada@example.com", Message: "hi",
		Status: types.StatusPending, EscalationLevel: types.TierCustomerSupport,
		CreatedAt: t0, UpdatedAt: t0,
	}
}

func TestSweepJob_RunsAndRecordsHistory(t *testing.T) {
	job := newJob(&oneQueryStore{q: pending()}, t0.Add(time.Hour))
	lock := &fakeLocker{}
	hist := &fakeHistory{}
	job.Lock, job.History = lock, hist

	report, err := job.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.EscalatedToManager)
	assert.Equal(t, []string{string(TaskEscalationSweep)}, hist.started)
	assert.Equal(t, []string{"success"}, hist.statuses)
	assert.Equal(t, []int{1}, hist.items)
	assert.Equal(t, 1, lock.released)
	assert.False(t, lock.held)
}

func TestSweepJob_SkipsWhenLockHeld(t *testing.T) {
	job := newJob(&oneQueryStore{q: pending()}, t0.Add(time.Hour))
	job.Lock = &fakeLocker{held: true}

	_, err := job.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrSkipped)
}

func TestSweepJob_LockErrorIsReturned(t *testing.T) {
	job := newJob(&oneQueryStore{}, t0)
	job.Lock = &fakeLocker{err: errors.New("redis down")}

	_, err := job.Run(context.Background(), nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSkipped)
}

func TestSweepJob_ReferenceTimeOverridesClock(t *testing.T) {
	// The job's own clock says the deadline has not passed.
	job := newJob(&oneQueryStore{q: pending()}, t0.Add(time.Minute))

	report, err := job.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Escalated())

	ref := t0.Add(2 * time.Hour)
	report, err = job.Run(context.Background(), &ref)
	require.NoError(t, err)
	assert.Equal(t, 1, report.EscalatedToManager)
	assert.False(t, report.StartedAt.Before(ref))
}

func TestSweepJob_HistoryMarksFailedSweeps(t *testing.T) {
	job := newJob(&failingStore{}, t0)
	hist := &fakeHistory{}
	job.History = hist

	report, err := job.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, []string{"failed"}, hist.statuses)
}

type failingStore struct{ oneQueryStore }

func (*failingStore) FindQueriesNeedingEscalationCheck(context.Context) ([]*types.Query, error) {
	return nil, errors.New("db unavailable")
}

func TestCronRunner_StopsOnCancel(t *testing.T) {
	job := newJob(&oneQueryStore{}, t0)
	r := NewCronRunner(job, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestCronRunner_RejectsZeroInterval(t *testing.T) {
	r := NewCronRunner(newJob(&oneQueryStore{}, t0), 0, nil)
	assert.Error(t, r.Run(context.Background()))
}

// Runs only when a Redis instance is available.
func TestRedisLocker_Integration(t *testing.T) {
	addr := os.Getenv("QUERYGUARD_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("QUERYGUARD_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	l := NewRedisLocker(client)
	ctx := context.Background()
	id := "test-" + time.Now().Format("150405.000000")

	ok, err := l.Acquire(ctx, id, "a", 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.Acquire(ctx, id, "b", 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Release(ctx, id, "b"), "foreign release is a no-op")
	ok, _ = l.Acquire(ctx, id, "b", 5*time.Second)
	assert.False(t, ok)

	require.NoError(t, l.Release(ctx, id, "a"))
	ok, err = l.Acquire(ctx, id, "b", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, l.Release(ctx, id, "b"))
}
