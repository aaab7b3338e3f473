package core

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"queryguard/internal/types"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func contextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsRetryable reports whether a send error may succeed on another attempt.
// Only AppErrors with a retryable code qualify; context errors never do.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return appErr.Code.Retryable()
	}
	return false
}

type retryingProvider struct {
	inner  ChannelProvider
	policy RetryPolicy
	sleep  SleepFunc
}

// WithRetry retries retryable failures with exponential backoff. A policy
// with MaxAttempts <= 1 returns p unchanged.
func WithRetry(p ChannelProvider, policy RetryPolicy, sleep SleepFunc) ChannelProvider {
	if policy.MaxAttempts <= 1 {
		return p
	}
	if sleep == nil {
		sleep = contextSleep
	}
	return &retryingProvider{inner: p, policy: policy, sleep: sleep}
}

func (r *retryingProvider) Channel() types.Channel { return r.inner.Channel() }
func (r *retryingProvider) Name() string           { return ProviderName(r.inner) }

func (r *retryingProvider) Send(ctx context.Context, to string, c Content) (string, error) {
	var lastErr error
	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := r.sleep(ctx, CalculateNextRetry(r.policy, attempt-1)); err != nil {
				return "", lastErr
			}
		}
		id, err := r.inner.Send(ctx, to, c)
		if err == nil {
			return id, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			break
		}
	}
	return "", lastErr
}

type rateLimitedProvider struct {
	inner   ChannelProvider
	limiter *rate.Limiter
}

// WithRateLimit blocks each send on limiter. A nil limiter returns p
// unchanged.
func WithRateLimit(p ChannelProvider, limiter *rate.Limiter) ChannelProvider {
	if limiter == nil {
		return p
	}
	return &rateLimitedProvider{inner: p, limiter: limiter}
}

func (r *rateLimitedProvider) Channel() types.Channel { return r.inner.Channel() }
func (r *rateLimitedProvider) Name() string           { return ProviderName(r.inner) }

func (r *rateLimitedProvider) Send(ctx context.Context, to string, c Content) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamRateLimited, "local send rate exceeded", err)
	}
	return r.inner.Send(ctx, to, c)
}

// DecorateOptions configures Decorate.
type DecorateOptions struct {
	Retry         RetryPolicy
	RatePerSecond float64
	RateBurst     int
	Sleep         SleepFunc
}

// Decorate applies rate limiting and retry to p. The limiter sits inside the
// retry loop so each attempt consumes a token.
func Decorate(p ChannelProvider, opts DecorateOptions) ChannelProvider {
	if opts.RatePerSecond > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		p = WithRateLimit(p, rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst))
	}
	return WithRetry(p, opts.Retry, opts.Sleep)
}
