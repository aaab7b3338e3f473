// Package core holds the escalation notification pipeline shared by every
// channel: the provider contract, the provider registry, recipient
// resolution, fan-out dispatch, retry and rate-limit decorators, and the
// delivery-failure log.
package core

import (
	"context"
	"errors"
	"time"

	"queryguard/internal/types"
)

// Content is rendered notification text for a single channel.
type Content struct {
	// Subject is used by email only.
	Subject string
	// Body is the plain text body. For short-message channels it is the
	// whole message.
	Body string
	// HTMLBody is an optional HTML alternative for email.
	HTMLBody string
}

// ChannelProvider delivers rendered content to one recipient on one channel.
// Send returns the provider's message identifier on success.
type ChannelProvider interface {
	Channel() types.Channel
	Send(ctx context.Context, to string, c Content) (string, error)
}

// Named is implemented by providers that report a backend name ("sendgrid",
// "twilio") for logs and metrics.
type Named interface {
	Name() string
}

// ProviderName returns p's backend name, or its channel when p is unnamed.
func ProviderName(p ChannelProvider) string {
	if n, ok := p.(Named); ok {
		return n.Name()
	}
	return string(p.Channel())
}

// Renderer produces channel-specific content for a query at a tier.
type Renderer interface {
	Render(q *types.Query, tier types.Tier, ch types.Channel, now time.Time) (Content, error)
}

// RecipientResolver maps a tier to its contact addresses.
type RecipientResolver interface {
	Resolve(tier types.Tier) (Recipient, bool)
}

// MetricResult categorizes a delivery outcome for metrics reporting.
type MetricResult string

const (
	MetricSuccess MetricResult = "success"
	MetricFailed  MetricResult = "failed"
	MetricSkipped MetricResult = "skipped"
)

// NotificationMetrics receives one observation per channel outcome.
type NotificationMetrics interface {
	RecordDelivery(ctx context.Context, ch types.Channel, tier types.Tier, result MetricResult)
	RecordLatency(ctx context.Context, ch types.Channel, d time.Duration)
}

// NopMetrics discards observations.
type NopMetrics struct{}

func (NopMetrics) RecordDelivery(context.Context, types.Channel, types.Tier, MetricResult) {}
func (NopMetrics) RecordLatency(context.Context, types.Channel, time.Duration)            {}

// ChannelOutcome is the result of one channel send.
type ChannelOutcome struct {
	Channel           types.Channel `json:"channel"`
	Provider          string        `json:"provider"`
	Recipient         string        `json:"recipient,omitempty"`
	Success           bool          `json:"success"`
	Skipped           bool          `json:"skipped,omitempty"`
	ProviderMessageID string        `json:"provider_message_id,omitempty"`
	Err               error         `json:"-"`
	Error             string        `json:"error,omitempty"`
	Duration          time.Duration `json:"duration"`
}

// DispatchResult collects per-channel outcomes for one Notify call.
type DispatchResult struct {
	QueryID  string           `json:"query_id"`
	Tier     types.Tier       `json:"tier"`
	Outcomes []ChannelOutcome `json:"outcomes"`
}

// Succeeded counts successful sends.
func (r DispatchResult) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Success {
			n++
		}
	}
	return n
}

// Failed counts attempted sends that did not succeed. Skipped channels are
// not failures.
func (r DispatchResult) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if !o.Success && !o.Skipped {
			n++
		}
	}
	return n
}

// Outcome returns the outcome for ch.
func (r DispatchResult) Outcome(ch types.Channel) (ChannelOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.Channel == ch {
			return o, true
		}
	}
	return ChannelOutcome{}, false
}

// ErrNoRecipient marks a channel skipped because no contact is configured.
var ErrNoRecipient = errors.New("no recipient configured for channel")

// RetryPolicy defines the exponential backoff parameters for send retries.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// NoRetry performs exactly one attempt.
var NoRetry = RetryPolicy{MaxAttempts: 1}

// CalculateNextRetry computes the delay before retry number attempt (0-based):
// min(BaseDelay * BackoffFactor^attempt, MaxDelay).
func CalculateNextRetry(policy RetryPolicy, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	factor := policy.BackoffFactor
	if factor < 1 {
		factor = 1
	}

	delay := float64(policy.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= factor
	}

	d := time.Duration(delay)
	if policy.MaxDelay > 0 && (d > policy.MaxDelay || d < 0) {
		d = policy.MaxDelay
	}
	return d
}
