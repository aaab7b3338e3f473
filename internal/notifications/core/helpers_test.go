package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"queryguard/internal/types"
)

type logEntry struct {
	level string
	msg   string
	args  []any
}

// captureLogger records entries from itself and every child built with With.
type captureLogger struct {
	mu      *sync.Mutex
	entries *[]logEntry
	attrs   []any
}

func newCaptureLogger() *captureLogger {
	return &captureLogger{mu: &sync.Mutex{}, entries: &[]logEntry{}}
}

func (l *captureLogger) log(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	all := append(append([]any{}, l.attrs...), args...)
	*l.entries = append(*l.entries, logEntry{level: level, msg: msg, args: all})
}

func (l *captureLogger) Info(msg string, args ...any)  { l.log("info", msg, args) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.log("warn", msg, args) }
func (l *captureLogger) Error(msg string, args ...any) { l.log("error", msg, args) }
func (l *captureLogger) With(args ...any) types.Logger {
	return &captureLogger{mu: l.mu, entries: l.entries, attrs: append(append([]any{}, l.attrs...), args...)}
}

func (l *captureLogger) count(level, msg string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range *l.entries {
		if e.level == level && e.msg == msg {
			n++
		}
	}
	return n
}

type fakeProvider struct {
	channel types.Channel
	name    string
	send    func(ctx context.Context, to string, c Content) (string, error)

	mu    sync.Mutex
	calls []string
}

func (p *fakeProvider) Channel() types.Channel { return p.channel }
func (p *fakeProvider) Name() string           { return p.name }

func (p *fakeProvider) Send(ctx context.Context, to string, c Content) (string, error) {
	p.mu.Lock()
	p.calls = append(p.calls, to)
	p.mu.Unlock()
	if p.send == nil {
		return p.name + "-msg-1", nil
	}
	return p.send(ctx, to, c)
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type fakeRenderer struct {
	err error
}

func (r fakeRenderer) Render(q *types.Query, tier types.Tier, ch types.Channel, _ time.Time) (Content, error) {
	if r.err != nil {
		return Content{}, r.err
	}
	return Content{Subject: fmt.Sprintf("%s %s", tier, q.ID), Body: "body for " + string(ch)}, nil
}

type staticResolver Recipient

func (s staticResolver) Resolve(types.Tier) (Recipient, bool) {
	r := Recipient(s)
	return r, !r.IsZero()
}

type deliveryObs struct {
	channel types.Channel
	tier    types.Tier
	result  MetricResult
}

type recordingMetrics struct {
	mu         sync.Mutex
	deliveries []deliveryObs
	latencies  int
}

func (m *recordingMetrics) RecordDelivery(_ context.Context, ch types.Channel, tier types.Tier, result MetricResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries = append(m.deliveries, deliveryObs{ch, tier, result})
}

func (m *recordingMetrics) RecordLatency(context.Context, types.Channel, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies++
}

func (m *recordingMetrics) results() map[types.Channel]MetricResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[types.Channel]MetricResult)
	for _, d := range m.deliveries {
		out[d.channel] = d.result
	}
	return out
}

type recordingFailures struct {
	mu       sync.Mutex
	failures []DeliveryFailure
	err      error
}

func (r *recordingFailures) RecordFailure(_ context.Context, f DeliveryFailure) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, f)
	return r.err
}

var fixedNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func testQuery() *types.Query {
	return &types.Query{
		ID:              "q-100",
		Name:            "Ada Lovelace",
		Email:           "ada@example.com",
		Message:         "My order never arrived",
		Status:          types.StatusEscalatedLevel2,
		EscalationLevel: types.TierManager,
		CreatedAt:       fixedNow.Add(-40 * time.Minute),
	}
}
