// Package escalation decides when an unanswered query moves up the tier
// chain and runs the periodic sweep that applies those decisions.
package escalation

import (
	"time"

	"queryguard/internal/types"
)

// Action is the outcome of evaluating one query.
type Action string

const (
	// ActionSkipResolved: the query is RESOLVED; nothing may change.
	ActionSkipResolved Action = "skip_resolved"
	// ActionEscalate: the current tier timed out and a higher tier exists.
	ActionEscalate Action = "escalate"
	// ActionTerminalOverdue: the CEO tier timed out. There is no higher
	// tier so no transition happens; the query is reported.
	ActionTerminalOverdue Action = "terminal_overdue"
	// ActionTouch: nothing is due; only the last-check timestamp moves.
	ActionTouch Action = "touch"
)

// Decision is what the sweeper should do with a query.
type Decision struct {
	Action Action
	// From is the state the claim is conditioned on.
	From types.QueryState
	// To and Tier are set for ActionEscalate.
	To         types.QueryState
	Tier       types.Tier
	Transition types.Transition
	// Deadline is when the current tier's window closed or will close.
	Deadline time.Time
	// AnchorMissing is set when the tier's escalation timestamp was absent
	// and CreatedAt was used instead.
	AnchorMissing bool
}

// Overdue reports how far past the deadline now is.
func (d Decision) Overdue(now time.Time) time.Duration {
	if d.Deadline.IsZero() || now.Before(d.Deadline) {
		return 0
	}
	return now.Sub(d.Deadline)
}

// Evaluate applies the escalation rules to q at now. It is pure: q is not
// modified.
//
// A tier's window opens when the query entered it (CreatedAt for
// CUSTOMER_SUPPORT) and lasts timeout. Once the window has fully elapsed
// (elapsed >= timeout) and the tier has not responded, the query moves to
// the next tier, or is reported terminal-overdue at CEO.
func Evaluate(q *types.Query, now time.Time, timeout time.Duration) Decision {
	d := Decision{From: q.State(), Tier: q.EscalationLevel}

	if q.IsResolved() {
		d.Action = ActionSkipResolved
		return d
	}

	anchor := q.EscalatedAt(q.EscalationLevel)
	if anchor == nil {
		created := q.CreatedAt
		anchor = &created
		d.AnchorMissing = true
	}
	d.Deadline = anchor.Add(timeout)

	if q.CurrentTierResponded() || now.Before(d.Deadline) {
		d.Action = ActionTouch
		return d
	}

	next, ok := q.EscalationLevel.Next()
	if !ok {
		d.Action = ActionTerminalOverdue
		return d
	}

	d.Action = ActionEscalate
	d.Tier = next
	d.To = types.QueryState{Status: next.EscalatedStatus(), Level: next}
	d.Transition = types.Transition{To: d.To, At: now}
	return d
}
