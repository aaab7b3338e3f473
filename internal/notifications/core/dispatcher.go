package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"queryguard/internal/types"
)

// DefaultSendTimeout bounds a single provider call.
const DefaultSendTimeout = 10 * time.Second

// Dispatcher fans a tier notification out to every registered provider.
type Dispatcher struct {
	registry    *ProviderRegistry
	resolver    RecipientResolver
	renderer    Renderer
	metrics     NotificationMetrics
	failures    FailureRecorder
	clock       types.Clock
	logger      types.Logger
	sendTimeout time.Duration
}

// DispatcherOption customizes a Dispatcher.
type DispatcherOption func(*Dispatcher)

func WithMetrics(m NotificationMetrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithFailureRecorder(f FailureRecorder) DispatcherOption {
	return func(d *Dispatcher) { d.failures = f }
}

func WithClock(c types.Clock) DispatcherOption {
	return func(d *Dispatcher) { d.clock = c }
}

func WithLogger(l types.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// WithSendTimeout overrides DefaultSendTimeout. Non-positive values are ignored.
func WithSendTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if t > 0 {
			d.sendTimeout = t
		}
	}
}

// NewDispatcher wires a dispatcher. The registry, resolver and renderer are
// required.
func NewDispatcher(registry *ProviderRegistry, resolver RecipientResolver, renderer Renderer, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry:    registry,
		resolver:    resolver,
		renderer:    renderer,
		metrics:     NopMetrics{},
		failures:    NopFailureRecorder{},
		clock:       types.RealClock{},
		logger:      types.NopLogger{},
		sendTimeout: DefaultSendTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify sends the tier notice for q on every channel concurrently and
// reports one outcome per channel. It never returns an error and never
// panics: a failing or panicking provider only marks its own outcome.
func (d *Dispatcher) Notify(ctx context.Context, q *types.Query, tier types.Tier) DispatchResult {
	providers := d.registry.Providers()
	result := DispatchResult{
		QueryID:  q.ID,
		Tier:     tier,
		Outcomes: make([]ChannelOutcome, len(providers)),
	}
	logger := types.LoggerFromContext(ctx, d.logger)
	if len(providers) == 0 {
		logger.Warn("no notification providers registered", "query_id", q.ID, "tier", string(tier))
		return result
	}

	recipient, _ := d.resolver.Resolve(tier)
	now := d.clock.Now()

	var g errgroup.Group
	for i, p := range providers {
		g.Go(func() error {
			result.Outcomes[i] = d.sendOne(ctx, p, q, tier, recipient, now)
			return nil
		})
	}
	_ = g.Wait()

	logger.Info("escalation notice dispatched",
		"query_id", q.ID,
		"tier", string(tier),
		"succeeded", result.Succeeded(),
		"failed", result.Failed(),
	)
	return result
}

func (d *Dispatcher) sendOne(ctx context.Context, p ChannelProvider, q *types.Query, tier types.Tier, rcpt Recipient, now time.Time) (out ChannelOutcome) {
	ch := p.Channel()
	out = ChannelOutcome{Channel: ch, Provider: ProviderName(p), Recipient: rcpt.For(ch)}
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			out.Success = false
			out.Skipped = false
			out.Err = types.NewAppError(types.ErrCodeInternalUnexpected, "provider panicked", fmt.Errorf("%v", r))
		}
		out.Duration = time.Since(start)
		d.finish(ctx, q, tier, &out)
	}()

	if out.Recipient == "" {
		out.Skipped = true
		out.Err = ErrNoRecipient
		return out
	}

	content, err := d.renderer.Render(q, tier, ch, now)
	if err != nil {
		out.Err = fmt.Errorf("render %s: %w", ch, err)
		return out
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	id, err := sendBounded(sendCtx, p, out.Recipient, content)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(sendCtx.Err(), context.DeadlineExceeded) {
			err = types.NewAppError(types.ErrCodeUpstreamUnavailable, "send timed out", err)
		}
		out.Err = err
		return out
	}
	out.Success = true
	out.ProviderMessageID = id
	return out
}

// sendBounded returns when the provider does or when ctx ends, whichever is
// first, so a provider that ignores its context cannot stall the sweep.
func sendBounded(ctx context.Context, p ChannelProvider, to string, c Content) (string, error) {
	type sendResult struct {
		id  string
		err error
	}
	done := make(chan sendResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- sendResult{err: types.NewAppError(types.ErrCodeInternalUnexpected, "provider panicked", fmt.Errorf("%v", r))}
			}
		}()
		id, err := p.Send(ctx, to, c)
		done <- sendResult{id: id, err: err}
	}()

	select {
	case r := <-done:
		return r.id, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// finish records metrics, logs and the failure log entry for one outcome.
func (d *Dispatcher) finish(ctx context.Context, q *types.Query, tier types.Tier, out *ChannelOutcome) {
	if out.Err != nil {
		out.Error = out.Err.Error()
	}
	log := types.LoggerFromContext(ctx, d.logger).With(
		"query_id", q.ID,
		"tier", string(tier),
		"channel", string(out.Channel),
		"provider", out.Provider,
		"recipient", RedactRecipient(out.Channel, out.Recipient),
	)

	switch {
	case out.Success:
		d.metrics.RecordDelivery(ctx, out.Channel, tier, MetricSuccess)
		d.metrics.RecordLatency(ctx, out.Channel, out.Duration)
		log.Info("notification sent", "provider_message_id", out.ProviderMessageID)
	case out.Skipped:
		d.metrics.RecordDelivery(ctx, out.Channel, tier, MetricSkipped)
		log.Warn("notification skipped", "reason", out.Error)
	default:
		d.metrics.RecordDelivery(ctx, out.Channel, tier, MetricFailed)
		log.Error("notification failed", "error", out.Error)

		f := DeliveryFailure{
			QueryID:    q.ID,
			Tier:       tier,
			Channel:    out.Channel,
			Provider:   out.Provider,
			Recipient:  out.Recipient,
			Error:      out.Error,
			SweepID:    types.GetSweepID(ctx),
			OccurredAt: d.clock.Now(),
		}
		var appErr *types.AppError
		if errors.As(out.Err, &appErr) {
			f.ErrorCode = appErr.Code
		}
		// The sweep context may already be near its deadline; the failure
		// log gets its own short budget.
		recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := d.failures.RecordFailure(recCtx, f); err != nil {
			log.Warn("failed to record delivery failure", "error", err)
		}
	}
}
