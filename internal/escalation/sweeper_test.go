package escalation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queryguard/internal/config"
	"queryguard/internal/notifications/core"
	"queryguard/internal/notifications/template"
	"queryguard/internal/types"
)

// Scenario 1: no escalation before the deadline, one MANAGER notice after.
func TestRunSweep_EscalatesToManagerAfterTimeout(t *testing.T) {
	store := newMemStore(newQuery("q1"))
	n := &recordingNotifier{}

	early := sweeperAt(store, n, t0.Add(29*time.Minute)).RunSweep(context.Background())
	assert.Equal(t, 1, early.Examined)
	assert.Equal(t, 0, early.Escalated())
	assert.Equal(t, 1, early.Touched)
	assert.Equal(t, types.StatusPending, store.get("q1").Status)
	assert.Equal(t, 0, n.count())

	now := t0.Add(31 * time.Minute)
	report := sweeperAt(store, n, now).RunSweep(context.Background())

	assert.Equal(t, 1, report.EscalatedToManager)
	assert.Equal(t, "sweep-test", report.SweepID)
	q := store.get("q1")
	assert.Equal(t, types.StatusEscalatedLevel2, q.Status)
	assert.Equal(t, types.TierManager, q.EscalationLevel)
	require.NotNil(t, q.EscalatedToManagerAt)
	assert.Equal(t, now, *q.EscalatedToManagerAt)
	assert.Equal(t, now, *q.LastEscalationCheck)

	require.Equal(t, 1, n.count())
	assert.Equal(t, types.TierManager, n.calls[0].tier)
	assert.Equal(t, types.TierManager, n.calls[0].query.EscalationLevel, "notice carries the post-transition record")
}

// Scenario 2: a responded tier is never escalated.
func TestRunSweep_RespondedTierIsNotEscalated(t *testing.T) {
	q := newQuery("q2")
	q.CustomerSupportResponded = true
	store := newMemStore(q)
	n := &recordingNotifier{}

	report := sweeperAt(store, n, t0.Add(31*time.Minute)).RunSweep(context.Background())

	assert.Equal(t, 0, report.Examined, "responded records are not candidates")
	got := store.get("q2")
	assert.Equal(t, types.StatusPending, got.Status)
	assert.True(t, got.CustomerSupportResponded)
	assert.Equal(t, 0, n.count())
}

// Scenario 3: the manager deadline is measured from the manager escalation.
func TestRunSweep_EscalatesToCEO(t *testing.T) {
	t1 := t0.Add(45 * time.Minute)
	store := newMemStore(atManager("q3", t1))
	n := &recordingNotifier{}

	report := sweeperAt(store, n, t1.Add(29*time.Minute)).RunSweep(context.Background())
	assert.Equal(t, 0, report.Escalated(), "74 minutes since creation but only 29 at MANAGER")

	report = sweeperAt(store, n, t1.Add(31*time.Minute)).RunSweep(context.Background())
	assert.Equal(t, 1, report.EscalatedToCEO)
	q := store.get("q3")
	assert.Equal(t, types.StatusEscalatedLevel3, q.Status)
	assert.Equal(t, t1, *q.EscalatedToManagerAt, "manager timestamp is written once")
	require.Equal(t, 1, n.count())
	assert.Equal(t, types.TierCEO, n.calls[0].tier)
	assert.Equal(t, []types.Tier{types.TierManager, types.TierCEO}, store.levels("q3"))
}

// Scenario 4: CEO is terminal; an overdue CEO record is reported, not moved.
func TestRunSweep_CEOTierOverdueIsReportedNotEscalated(t *testing.T) {
	store := newMemStore(atCEO("q4", t0))
	n := &recordingNotifier{}
	logger := &warnCounter{}
	metrics := &recordingSweepMetrics{}

	var report SweepReport
	require.NotPanics(t, func() {
		report = sweeperAt(store, n, t0.Add(90*24*time.Hour), WithLogger(logger), WithMetrics(metrics)).
			RunSweep(context.Background())
	})

	assert.Equal(t, 1, report.TerminalOverdue)
	assert.Equal(t, 0, report.Escalated())
	assert.Equal(t, 0, n.count())
	assert.Equal(t, types.StatusEscalatedLevel3, store.get("q4").Status)
	assert.Equal(t, []types.Tier{types.TierCEO}, store.levels("q4"))
	assert.Equal(t, 1, logger.count("CEO tier overdue, no higher tier to escalate to"))
	require.Len(t, metrics.reports, 1)
	assert.Equal(t, 1, metrics.reports[0].TerminalOverdue)
}

// Scenario 5: concurrent sweeps on one overdue record fire exactly once.
func TestRunSweep_ConcurrentSweepsFireOnce(t *testing.T) {
	const sweeps = 8
	store := newMemStore(newQuery("q5"))
	store.barrier = &sync.WaitGroup{}
	store.barrier.Add(sweeps)
	n := &recordingNotifier{}
	now := t0.Add(31 * time.Minute)

	reports := make([]SweepReport, sweeps)
	var wg sync.WaitGroup
	for i := 0; i < sweeps; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reports[i] = sweeperAt(store, n, now).RunSweep(context.Background())
		}()
	}
	wg.Wait()

	won, lost := 0, 0
	for _, r := range reports {
		won += r.EscalatedToManager
		lost += r.ClaimsLost
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, sweeps-1, lost)
	assert.Equal(t, 1, n.count())
	assert.Equal(t, []types.Tier{types.TierCustomerSupport, types.TierManager}, store.levels("q5"))
}

// Scenario 6: a failed email send does not undo the transition.
func TestRunSweep_PartialDeliveryFailureKeepsTransition(t *testing.T) {
	store := newMemStore(newQuery("q6"))

	email := &stubChannel{channel: types.ChannelEmail, err: types.NewAppError(types.ErrCodeUpstreamEmailProvider, "smtp relay down", nil)}
	sms := &stubChannel{channel: types.ChannelSMS}
	reg, err := core.NewProviderRegistry(email, sms)
	require.NoError(t, err)
	renderer, err := template.New(template.Config{BaseURL: "https://ops.example.com"})
	require.NoError(t, err)
	resolver := core.NewResolver(core.DirectoryFromConfig(config.ContactsConfig{
		ManagerEmail:     "manager@example.com",
		ManagerMessaging: "+15550000002",
	}), nil)

	var result core.DispatchResult
	dispatcher := core.NewDispatcher(reg, resolver, renderer)
	notifier := &recordingNotifier{result: func(q *types.Query, tier types.Tier) core.DispatchResult {
		result = dispatcher.Notify(context.Background(), q, tier)
		return result
	}}

	report := sweeperAt(store, notifier, t0.Add(31*time.Minute)).RunSweep(context.Background())

	assert.Equal(t, 1, report.EscalatedToManager)
	assert.Equal(t, 1, report.NotificationFailures)
	assert.Equal(t, types.StatusEscalatedLevel2, store.get("q6").Status)
	assert.Equal(t, 1, result.Succeeded())
	assert.Equal(t, 1, result.Failed())
	o, _ := result.Outcome(types.ChannelEmail)
	assert.False(t, o.Success)
	assert.Contains(t, sms.lastBody, "[URGENT]")
}

func TestRunSweep_ResolvedIsSticky(t *testing.T) {
	q := newQuery("r1")
	q.Status = types.StatusResolved
	store := newMemStore(q)
	// Force the resolved row through the candidate path as a stale read.
	candidates := &staleStore{memStore: store, extra: []*types.Query{q}}

	report := sweeperAt(candidates, &recordingNotifier{}, t0.Add(10*time.Hour)).RunSweep(context.Background())

	assert.Equal(t, 1, report.Examined)
	assert.Equal(t, 0, report.Touched)
	assert.Equal(t, q, store.get("r1"))
}

func TestRunSweep_PersistenceErrorsAreCollected(t *testing.T) {
	store := newMemStore(newQuery("bad"), newQuery("good"))
	store.transitionErr["bad"] = errDB
	n := &recordingNotifier{}

	report := sweeperAt(store, n, t0.Add(time.Hour)).RunSweep(context.Background())

	assert.Equal(t, 2, report.Examined)
	assert.Equal(t, 1, report.EscalatedToManager)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "bad", report.Errors[0].QueryID)
	assert.Equal(t, "try_transition", report.Errors[0].Op)
	assert.ErrorIs(t, report.Errors[0], errDB)
	assert.Equal(t, types.StatusPending, store.get("bad").Status)
	assert.Equal(t, 1, n.count())

	// A failed claim skips the record entirely for this sweep.
	assert.Equal(t, 1, report.Touched)
	assert.Nil(t, store.get("bad").LastEscalationCheck)
	assert.NotNil(t, store.get("good").LastEscalationCheck)
}

func TestRunSweep_TouchFailureIsRecorded(t *testing.T) {
	store := newMemStore(newQuery("q"))
	store.touchErr["q"] = errDB

	report := sweeperAt(store, &recordingNotifier{}, t0.Add(time.Minute)).RunSweep(context.Background())

	assert.Equal(t, 0, report.Touched)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "touch_last_check", report.Errors[0].Op)
}

func TestRunSweep_CandidateFetchFailure(t *testing.T) {
	store := newMemStore()
	store.findErr = errors.New("db unavailable")
	metrics := &recordingSweepMetrics{}

	report := sweeperAt(store, &recordingNotifier{}, t0, WithMetrics(metrics)).RunSweep(context.Background())

	require.Len(t, report.Errors, 1)
	assert.Empty(t, report.Errors[0].QueryID)
	assert.Equal(t, "db unavailable", report.Errors[0].Message)
	assert.Len(t, metrics.reports, 1)
}

func TestRunSweep_MonotonicAcrossManySweeps(t *testing.T) {
	store := newMemStore(newQuery("m"))
	n := &recordingNotifier{}
	for minute := 0; minute <= 180; minute += 7 {
		sweeperAt(store, n, t0.Add(time.Duration(minute)*time.Minute)).RunSweep(context.Background())
	}
	assert.Equal(t, []types.Tier{types.TierCustomerSupport, types.TierManager, types.TierCEO}, store.levels("m"))
	assert.Equal(t, 2, n.count())
}

func TestRunSweep_LegacyManagerRecordWarns(t *testing.T) {
	q := newQuery("legacy")
	q.Status = types.StatusEscalatedLevel2
	q.EscalationLevel = types.TierManager
	store := newMemStore(q)
	logger := &warnCounter{}

	report := sweeperAt(store, &recordingNotifier{}, t0.Add(time.Hour), WithLogger(logger)).RunSweep(context.Background())

	assert.Equal(t, 1, report.EscalatedToCEO)
	assert.Equal(t, 1, logger.count("escalation timestamp missing for tier, timing from creation"))
}

type staleStore struct {
	*memStore
	extra []*types.Query
}

func (s *staleStore) FindQueriesNeedingEscalationCheck(ctx context.Context) ([]*types.Query, error) {
	qs, err := s.memStore.FindQueriesNeedingEscalationCheck(ctx)
	return append(qs, s.extra...), err
}

type stubChannel struct {
	channel  types.Channel
	err      error
	mu       sync.Mutex
	lastBody string
}

func (s *stubChannel) Channel() types.Channel { return s.channel }

func (s *stubChannel) Send(_ context.Context, _ string, c core.Content) (string, error) {
	s.mu.Lock()
	s.lastBody = c.Body
	s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	return string(s.channel) + "-1", nil
}

func TestSweeper_AtPinsTheClock(t *testing.T) {
	store := newMemStore(newQuery("pinned"))
	base := sweeperAt(store, &recordingNotifier{}, t0)

	report := base.At(types.FixedClock{At: t0.Add(time.Hour)}).RunSweep(context.Background())
	assert.Equal(t, 1, report.EscalatedToManager)

	report = base.RunSweep(context.Background())
	assert.Equal(t, 0, report.Escalated(), "the original sweeper keeps its own clock")
}
