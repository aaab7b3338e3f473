package escalation

import (
	"context"
	"errors"
	"sync"
	"time"

	"queryguard/internal/notifications/core"
	"queryguard/internal/types"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

const timeout = 30 * time.Minute

func newQuery(id string) *types.Query {
	return &types.Query{
		ID:              id,
		Name:            "Grace Hopper",
		Email:           "grace@example.com",
		Message:         "The invoice total looks wrong.",
		Status:          types.StatusPending,
		EscalationLevel: types.TierCustomerSupport,
		CreatedAt:       t0,
		UpdatedAt:       t0,
	}
}

func atManager(id string, since time.Time) *types.Query {
	q := newQuery(id)
	q.Status = types.StatusEscalatedLevel2
	q.EscalationLevel = types.TierManager
	q.EscalatedToManagerAt = &since
	return q
}

func atCEO(id string, since time.Time) *types.Query {
	q := atManager(id, since.Add(-timeout))
	q.Status = types.StatusEscalatedLevel3
	q.EscalationLevel = types.TierCEO
	q.EscalatedToCEOAt = &since
	return q
}

// memStore mirrors the conditional-update semantics of the SQL stores.
type memStore struct {
	mu      sync.Mutex
	rows    map[string]*types.Query
	history map[string][]types.Tier

	findErr       error
	transitionErr map[string]error
	touchErr      map[string]error
	// barrier, when set, holds every TryTransition caller until all
	// expected callers have arrived so the compare steps overlap.
	barrier *sync.WaitGroup
}

func newMemStore(qs ...*types.Query) *memStore {
	s := &memStore{
		rows:          make(map[string]*types.Query),
		history:       make(map[string][]types.Tier),
		transitionErr: make(map[string]error),
		touchErr:      make(map[string]error),
	}
	for _, q := range qs {
		s.rows[q.ID] = q.Clone()
		s.history[q.ID] = []types.Tier{q.EscalationLevel}
	}
	return s
}

func (s *memStore) get(id string) *types.Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[id].Clone()
}

func (s *memStore) levels(id string) []types.Tier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Tier(nil), s.history[id]...)
}

func (s *memStore) FindQueriesNeedingEscalationCheck(context.Context) ([]*types.Query, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Query
	for _, q := range s.rows {
		if (q.Status == types.StatusPending || q.Status == types.StatusEscalatedLevel2) && !q.CurrentTierResponded() {
			out = append(out, q.Clone())
		}
	}
	return out, nil
}

func (s *memStore) FindUnansweredAtTier(_ context.Context, tier types.Tier) ([]*types.Query, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Query
	for _, q := range s.rows {
		if q.EscalationLevel == tier && !q.IsResolved() && !q.RespondedAt(tier) {
			out = append(out, q.Clone())
		}
	}
	return out, nil
}

func (s *memStore) TryTransition(_ context.Context, id string, expected types.QueryState, t types.Transition) (bool, error) {
	if err := s.transitionErr[id]; err != nil {
		return false, err
	}
	if s.barrier != nil {
		s.barrier.Done()
		s.barrier.Wait()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.rows[id]
	if !ok || q.State() != expected || q.CurrentTierResponded() {
		return false, nil
	}
	s.rows[id] = q.Apply(t)
	s.history[id] = append(s.history[id], t.To.Level)
	return true, nil
}

func (s *memStore) TouchLastCheck(_ context.Context, id string, now time.Time) error {
	if err := s.touchErr[id]; err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.rows[id]
	if !ok || q.IsResolved() {
		return nil
	}
	if q.LastEscalationCheck == nil || now.After(*q.LastEscalationCheck) {
		at := now
		q.LastEscalationCheck = &at
	}
	return nil
}

type notifyCall struct {
	query *types.Query
	tier  types.Tier
}

type recordingNotifier struct {
	mu     sync.Mutex
	calls  []notifyCall
	result func(q *types.Query, tier types.Tier) core.DispatchResult
}

func (n *recordingNotifier) Notify(ctx context.Context, q *types.Query, tier types.Tier) core.DispatchResult {
	n.mu.Lock()
	n.calls = append(n.calls, notifyCall{query: q, tier: tier})
	n.mu.Unlock()
	if n.result != nil {
		return n.result(q, tier)
	}
	return core.DispatchResult{QueryID: q.ID, Tier: tier}
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

type recordingSweepMetrics struct {
	reports []SweepReport
}

func (m *recordingSweepMetrics) RecordSweep(_ context.Context, r SweepReport) {
	m.reports = append(m.reports, r)
}

type warnCounter struct {
	mu    sync.Mutex
	warns []string
}

func (w *warnCounter) Info(string, ...any)  {}
func (w *warnCounter) Error(string, ...any) {}
func (w *warnCounter) Warn(msg string, _ ...any) {
	w.mu.Lock()
	w.warns = append(w.warns, msg)
	w.mu.Unlock()
}
func (w *warnCounter) With(...any) types.Logger { return w }

func (w *warnCounter) count(msg string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, m := range w.warns {
		if m == msg {
			n++
		}
	}
	return n
}

var errDB = errors.New("connection reset by peer")

func sweeperAt(store QueryStore, n Notifier, now time.Time, opts ...Option) *Sweeper {
	base := []Option{WithClock(types.FixedClock{At: now}), WithIDGenerator(func() string { return "sweep-test" })}
	return NewSweeper(store, n, Config{Timeout: timeout, Concurrency: 4}, append(base, opts...)...)
}
