package escalation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"queryguard/internal/notifications/core"
	"queryguard/internal/types"
)

// DefaultConcurrency bounds how many records one sweep processes at once.
const DefaultConcurrency = 8

// QueryStore is the persistence the sweeper needs.
type QueryStore interface {
	// FindQueriesNeedingEscalationCheck returns records in PENDING or
	// ESCALATED_LEVEL2 whose current tier has not responded.
	FindQueriesNeedingEscalationCheck(ctx context.Context) ([]*types.Query, error)
	// TryTransition commits t only if the record is still in expected and
	// its current-tier flag is false. It reports whether this caller won.
	TryTransition(ctx context.Context, id string, expected types.QueryState, t types.Transition) (bool, error)
	// TouchLastCheck moves LastEscalationCheck forward to now. It never
	// moves it backwards and never touches RESOLVED records.
	TouchLastCheck(ctx context.Context, id string, now time.Time) error
	// FindUnansweredAtTier returns unresolved records at tier whose flag
	// for that tier is false.
	FindUnansweredAtTier(ctx context.Context, tier types.Tier) ([]*types.Query, error)
}

// Notifier sends the tier notice for an escalated query.
type Notifier interface {
	Notify(ctx context.Context, q *types.Query, tier types.Tier) core.DispatchResult
}

// Metrics receives one report per sweep.
type Metrics interface {
	RecordSweep(ctx context.Context, r SweepReport)
}

type nopMetrics struct{}

func (nopMetrics) RecordSweep(context.Context, SweepReport) {}

// RecordError is a failure tied to one record (or to the sweep itself when
// QueryID is empty).
type RecordError struct {
	QueryID string `json:"query_id,omitempty"`
	Op      string `json:"op"`
	Err     error  `json:"-"`
	Message string `json:"error"`
}

func newRecordError(id, op string, err error) RecordError {
	return RecordError{QueryID: id, Op: op, Err: err, Message: err.Error()}
}

func (e RecordError) Error() string {
	if e.QueryID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.QueryID, e.Err)
}

func (e RecordError) Unwrap() error { return e.Err }

// SweepReport summarises one sweep.
type SweepReport struct {
	SweepID              string        `json:"sweep_id"`
	StartedAt            time.Time     `json:"started_at"`
	Duration             time.Duration `json:"duration"`
	Examined             int           `json:"examined"`
	EscalatedToManager   int           `json:"escalated_to_manager"`
	EscalatedToCEO       int           `json:"escalated_to_ceo"`
	ClaimsLost           int           `json:"claims_lost"`
	Touched              int           `json:"touched"`
	TerminalOverdue      int           `json:"terminal_overdue"`
	NotificationFailures int           `json:"notification_failures"`
	Errors               []RecordError `json:"errors,omitempty"`
}

// Escalated is the total number of transitions this sweep committed.
func (r SweepReport) Escalated() int { return r.EscalatedToManager + r.EscalatedToCEO }

// Config tunes a Sweeper.
type Config struct {
	Timeout     time.Duration
	Concurrency int
}

// Sweeper runs escalation sweeps. It holds no state between runs, so any
// number of sweepers may run against the same store; the conditional
// transition decides which one notifies.
type Sweeper struct {
	store       QueryStore
	notifier    Notifier
	metrics     Metrics
	clock       types.Clock
	logger      types.Logger
	newID       func() string
	timeout     time.Duration
	concurrency int
}

// Option customizes a Sweeper.
type Option func(*Sweeper)

func WithClock(c types.Clock) Option {
	return func(s *Sweeper) { s.clock = c }
}

func WithLogger(l types.Logger) Option {
	return func(s *Sweeper) { s.logger = l }
}

func WithMetrics(m Metrics) Option {
	return func(s *Sweeper) { s.metrics = m }
}

// WithIDGenerator overrides how sweep IDs are minted.
func WithIDGenerator(fn func() string) Option {
	return func(s *Sweeper) { s.newID = fn }
}

// NewSweeper creates a Sweeper.
func NewSweeper(store QueryStore, notifier Notifier, cfg Config, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:       store,
		notifier:    notifier,
		metrics:     nopMetrics{},
		clock:       types.RealClock{},
		logger:      types.NopLogger{},
		newID:       uuid.NewString,
		timeout:     cfg.Timeout,
		concurrency: cfg.Concurrency,
	}
	if s.concurrency <= 0 {
		s.concurrency = DefaultConcurrency
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// At returns a copy of s that reads time from c. Used for manual runs
// pinned to a reference time.
func (s *Sweeper) At(c types.Clock) *Sweeper {
	cp := *s
	cp.clock = c
	return &cp
}

// sweepRun carries the mutable state of one RunSweep call.
type sweepRun struct {
	mu     sync.Mutex
	report SweepReport
	seen   map[string]struct{}
	logger types.Logger
}

func (r *sweepRun) update(fn func(*SweepReport)) {
	r.mu.Lock()
	fn(&r.report)
	r.mu.Unlock()
}

func (r *sweepRun) fail(id, op string, err error) {
	r.update(func(rep *SweepReport) { rep.Errors = append(rep.Errors, newRecordError(id, op, err)) })
}

// RunSweep examines every candidate once and returns what happened. It does
// not return an error: persistence failures are collected in the report and
// the scan carries on with the next record.
func (s *Sweeper) RunSweep(ctx context.Context) SweepReport {
	started := s.clock.Now()
	id := s.newID()
	ctx = types.WithSweepID(ctx, id)

	run := &sweepRun{
		report: SweepReport{SweepID: id, StartedAt: started},
		seen:   make(map[string]struct{}),
		logger: s.logger.With("sweep_id", id),
	}
	ctx = types.WithLogger(ctx, run.logger)

	candidates, err := s.store.FindQueriesNeedingEscalationCheck(ctx)
	if err != nil {
		run.logger.Error("failed to load escalation candidates", "error", err)
		run.fail("", "find_candidates", err)
		return s.finish(ctx, run, started)
	}

	g := &errgroup.Group{}
	g.SetLimit(s.concurrency)
	for _, q := range candidates {
		if ctx.Err() != nil {
			run.fail("", "sweep", ctx.Err())
			break
		}
		run.seen[q.ID] = struct{}{}
		g.Go(func() error {
			s.process(ctx, run, q)
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() == nil {
		s.scanTerminalOverdue(ctx, run)
	}
	return s.finish(ctx, run, started)
}

func (s *Sweeper) finish(ctx context.Context, run *sweepRun, started time.Time) SweepReport {
	run.mu.Lock()
	report := run.report
	run.mu.Unlock()
	report.Duration = s.clock.Now().Sub(started)

	s.metrics.RecordSweep(ctx, report)
	run.logger.Info("escalation sweep complete",
		"examined", report.Examined,
		"escalated_to_manager", report.EscalatedToManager,
		"escalated_to_ceo", report.EscalatedToCEO,
		"claims_lost", report.ClaimsLost,
		"touched", report.Touched,
		"terminal_overdue", report.TerminalOverdue,
		"notification_failures", report.NotificationFailures,
		"errors", len(report.Errors),
		"duration_ms", report.Duration.Milliseconds(),
	)
	return report
}

func (s *Sweeper) process(ctx context.Context, run *sweepRun, q *types.Query) {
	now := s.clock.Now()
	log := run.logger.With("query_id", q.ID, "state", q.State().String())
	run.update(func(r *SweepReport) { r.Examined++ })

	d := Evaluate(q, now, s.timeout)
	if d.AnchorMissing && q.EscalationLevel != types.TierCustomerSupport {
		log.Warn("escalation timestamp missing for tier, timing from creation",
			"tier", q.EscalationLevel)
	}

	switch d.Action {
	case ActionSkipResolved:
		return
	case ActionEscalate:
		if !s.escalate(ctx, run, log, q, d) {
			return
		}
	case ActionTerminalOverdue:
		s.reportOverdue(run, log, q, d, now)
	}

	if err := s.store.TouchLastCheck(ctx, q.ID, now); err != nil {
		log.Error("failed to update last escalation check", "error", err)
		run.fail(q.ID, "touch_last_check", err)
		return
	}
	run.update(func(r *SweepReport) { r.Touched++ })
}

// escalate claims and notifies. It returns false when the claim failed
// with a persistence error; the record is then left untouched this sweep.
func (s *Sweeper) escalate(ctx context.Context, run *sweepRun, log types.Logger, q *types.Query, d Decision) bool {
	won, err := s.store.TryTransition(ctx, q.ID, d.From, d.Transition)
	if err != nil {
		log.Error("failed to claim escalation", "error", err, "to", d.To.String())
		run.fail(q.ID, "try_transition", err)
		return false
	}
	if !won {
		log.Info("escalation claimed elsewhere, skipping", "to", d.To.String())
		run.update(func(r *SweepReport) { r.ClaimsLost++ })
		return true
	}

	run.update(func(r *SweepReport) {
		if d.Tier == types.TierCEO {
			r.EscalatedToCEO++
		} else {
			r.EscalatedToManager++
		}
	})
	log.Info("query escalated", "from", d.From.String(), "to", d.To.String(),
		"overdue_ms", d.Overdue(d.Transition.At).Milliseconds())

	// The transition is committed; notices go out even if the sweep's
	// context is cancelled. Each send is bounded by the dispatcher.
	res := s.notifier.Notify(context.WithoutCancel(ctx), q.Apply(d.Transition), d.Tier)
	if failed := res.Failed(); failed > 0 {
		run.update(func(r *SweepReport) { r.NotificationFailures += failed })
	}
	return true
}

func (s *Sweeper) reportOverdue(run *sweepRun, log types.Logger, q *types.Query, d Decision, now time.Time) {
	run.update(func(r *SweepReport) { r.TerminalOverdue++ })
	log.Warn("CEO tier overdue, no higher tier to escalate to",
		"tier", q.EscalationLevel,
		"overdue_ms", d.Overdue(now).Milliseconds(),
	)
}

// scanTerminalOverdue reports CEO-tier records whose window has passed.
// Those records are not escalation candidates, so the main scan never sees
// them.
func (s *Sweeper) scanTerminalOverdue(ctx context.Context, run *sweepRun) {
	stale, err := s.store.FindUnansweredAtTier(ctx, types.TierCEO)
	if err != nil {
		run.logger.Error("failed to scan CEO tier", "error", err)
		run.fail("", "find_unanswered_ceo", err)
		return
	}
	now := s.clock.Now()
	for _, q := range stale {
		if _, dup := run.seen[q.ID]; dup {
			continue
		}
		d := Evaluate(q, now, s.timeout)
		if d.Action == ActionTerminalOverdue {
			s.reportOverdue(run, run.logger.With("query_id", q.ID), q, d, now)
		}
	}
}
