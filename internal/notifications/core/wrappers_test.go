package core

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"queryguard/internal/types"
)

func TestCalculateNextRetry(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 4, BaseDelay: time.Second, MaxDelay: 10 * time.Second, BackoffFactor: 2}
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{-1, time.Second},
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second}, // 16s capped
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, CalculateNextRetry(policy, tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestWithRetry_SingleAttemptIsPassThrough(t *testing.T) {
	p := &fakeProvider{channel: types.ChannelEmail, name: "sendgrid"}
	assert.Same(t, ChannelProvider(p), WithRetry(p, NoRetry, nil))
}

func TestWithRetry_RetriesTransientFailures(t *testing.T) {
	attempts := 0
	p := &fakeProvider{channel: types.ChannelSMS, name: "twilio", send: func(context.Context, string, Content) (string, error) {
		attempts++
		if attempts < 3 {
			return "", types.NewAppError(types.ErrCodeUpstreamUnavailable, "503", nil)
		}
		return "SM123", nil
	}}
	var slept []time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	wrapped := WithRetry(p, RetryPolicy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2}, sleep)
	id, err := wrapped.Send(context.Background(), "+15550000002", Content{Body: "hi"})

	require.NoError(t, err)
	assert.Equal(t, "SM123", id)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, slept)
	assert.Equal(t, "twilio", ProviderName(wrapped))
	assert.Equal(t, types.ChannelSMS, wrapped.Channel())
}

func TestWithRetry_StopsOnPermanentFailure(t *testing.T) {
	attempts := 0
	p := &fakeProvider{channel: types.ChannelEmail, name: "ses", send: func(context.Context, string, Content) (string, error) {
		attempts++
		return "", types.NewAppError(types.ErrCodeRecipientBlocked, "suppressed address", nil)
	}}

	wrapped := WithRetry(p, RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond}, func(context.Context, time.Duration) error { return nil })
	_, err := wrapped.Send(context.Background(), "x@example.com", Content{})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestWithRetry_ContextEndsBackoff(t *testing.T) {
	p := &fakeProvider{channel: types.ChannelEmail, name: "ses", send: func(context.Context, string, Content) (string, error) {
		return "", types.NewAppError(types.ErrCodeUpstreamRateLimited, "429", nil)
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	wrapped := WithRetry(p, RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour}, nil)
	_, err := wrapped.Send(ctx, "x@example.com", Content{})

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamRateLimited, appErr.Code)
	assert.Equal(t, 1, p.callCount())
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(types.NewAppError(types.ErrCodeUpstreamUnavailable, "x", nil)))
	assert.False(t, IsRetryable(types.NewAppError(types.ErrCodeUpstreamRejected, "x", nil)))
	assert.False(t, IsRetryable(context.DeadlineExceeded))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
}

func TestWithRateLimit(t *testing.T) {
	p := &fakeProvider{channel: types.ChannelTelegram, name: "telegram"}
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	wrapped := WithRateLimit(p, limiter)

	_, err := wrapped.Send(context.Background(), "1", Content{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = wrapped.Send(ctx, "1", Content{})

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamRateLimited, appErr.Code)
	assert.Equal(t, 1, p.callCount())

	assert.Same(t, ChannelProvider(p), WithRateLimit(p, nil))
}

func TestDecorate_NoOptionsReturnsProvider(t *testing.T) {
	p := &fakeProvider{channel: types.ChannelEmail, name: "sendgrid"}
	assert.Same(t, ChannelProvider(p), Decorate(p, DecorateOptions{Retry: NoRetry}))
}

type fakeSQS struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &sqs.SendMessageOutput{}, nil
}

func TestSQSFailureLog_RecordFailure(t *testing.T) {
	client := &fakeSQS{}
	log := NewSQSFailureLog(client, "https://sqs.us-east-1.amazonaws.com/123/delivery-failures", nil)

	err := log.RecordFailure(context.Background(), DeliveryFailure{
		QueryID:    "q-1",
		Tier:       types.TierCEO,
		Channel:    types.ChannelEmail,
		Provider:   "sendgrid",
		Recipient:  "ceo@example.com",
		ErrorCode:  types.ErrCodeUpstreamEmailProvider,
		Error:      "503",
		OccurredAt: fixedNow,
	})
	require.NoError(t, err)
	require.Len(t, client.inputs, 1)

	in := client.inputs[0]
	assert.Equal(t, "https://sqs.us-east-1.amazonaws.com/123/delivery-failures", *in.QueueUrl)
	assert.Equal(t, "CEO", *in.MessageAttributes["tier"].StringValue)

	var body DeliveryFailure
	require.NoError(t, json.Unmarshal([]byte(*in.MessageBody), &body))
	assert.Equal(t, "c***@example.com", body.Recipient)
	assert.Equal(t, types.ErrCodeUpstreamEmailProvider, body.ErrorCode)
}

func TestSQSFailureLog_SendError(t *testing.T) {
	client := &fakeSQS{err: errors.New("access denied")}
	err := NewSQSFailureLog(client, "q", nil).RecordFailure(context.Background(), DeliveryFailure{Channel: types.ChannelSMS})
	assert.ErrorContains(t, err, "access denied")
}
