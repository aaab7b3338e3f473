package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queryguard/internal/types"
)

func newTestDispatcher(t *testing.T, rcpt Recipient, providers ...ChannelProvider) (*Dispatcher, *recordingMetrics, *recordingFailures) {
	t.Helper()
	reg, err := NewProviderRegistry(providers...)
	require.NoError(t, err)
	m := &recordingMetrics{}
	f := &recordingFailures{}
	d := NewDispatcher(reg, staticResolver(rcpt), fakeRenderer{},
		WithMetrics(m),
		WithFailureRecorder(f),
		WithClock(types.FixedClock{At: fixedNow}),
		WithSendTimeout(200*time.Millisecond),
	)
	return d, m, f
}

var bothContacts = Recipient{Email: "manager@example.com", Messaging: "+15550000002"}

func TestNotify_AllChannelsSucceed(t *testing.T) {
	email := &fakeProvider{channel: types.ChannelEmail, name: "sendgrid"}
	sms := &fakeProvider{channel: types.ChannelSMS, name: "twilio"}
	d, m, f := newTestDispatcher(t, bothContacts, email, sms)

	res := d.Notify(context.Background(), testQuery(), types.TierManager)

	require.Len(t, res.Outcomes, 2)
	assert.Equal(t, 2, res.Succeeded())
	assert.Equal(t, 0, res.Failed())
	assert.Equal(t, "q-100", res.QueryID)
	assert.Equal(t, types.TierManager, res.Tier)

	o, ok := res.Outcome(types.ChannelEmail)
	require.True(t, ok)
	assert.Equal(t, "manager@example.com", o.Recipient)
	assert.Equal(t, "sendgrid-msg-1", o.ProviderMessageID)

	o, _ = res.Outcome(types.ChannelSMS)
	assert.Equal(t, "+15550000002", o.Recipient)
	assert.Equal(t, "twilio", o.Provider)

	assert.Equal(t, MetricSuccess, m.results()[types.ChannelEmail])
	assert.Equal(t, 2, m.latencies)
	assert.Empty(t, f.failures)
}

// One channel failing must not affect the other; the failure is recorded
// for operators.
func TestNotify_PartialChannelFailure(t *testing.T) {
	email := &fakeProvider{channel: types.ChannelEmail, name: "sendgrid", send: func(context.Context, string, Content) (string, error) {
		return "", types.NewAppError(types.ErrCodeUpstreamEmailProvider, "sendgrid 503", nil)
	}}
	sms := &fakeProvider{channel: types.ChannelSMS, name: "twilio"}
	d, m, f := newTestDispatcher(t, bothContacts, email, sms)

	ctx := types.WithSweepID(context.Background(), "sweep-7")
	res := d.Notify(ctx, testQuery(), types.TierManager)

	assert.Equal(t, 1, res.Succeeded())
	assert.Equal(t, 1, res.Failed())

	o, _ := res.Outcome(types.ChannelEmail)
	assert.False(t, o.Success)
	assert.Contains(t, o.Error, "sendgrid 503")

	o, _ = res.Outcome(types.ChannelSMS)
	assert.True(t, o.Success)

	assert.Equal(t, MetricFailed, m.results()[types.ChannelEmail])
	assert.Equal(t, MetricSuccess, m.results()[types.ChannelSMS])

	require.Len(t, f.failures, 1)
	failure := f.failures[0]
	assert.Equal(t, "q-100", failure.QueryID)
	assert.Equal(t, types.ChannelEmail, failure.Channel)
	assert.Equal(t, types.ErrCodeUpstreamEmailProvider, failure.ErrorCode)
	assert.Equal(t, "sweep-7", failure.SweepID)
	assert.Equal(t, fixedNow, failure.OccurredAt)
}

func TestNotify_MissingRecipientSkipsChannel(t *testing.T) {
	email := &fakeProvider{channel: types.ChannelEmail, name: "ses"}
	tg := &fakeProvider{channel: types.ChannelTelegram, name: "telegram"}
	d, m, f := newTestDispatcher(t, Recipient{Email: "ceo@example.com"}, email, tg)

	res := d.Notify(context.Background(), testQuery(), types.TierCEO)

	o, _ := res.Outcome(types.ChannelTelegram)
	assert.True(t, o.Skipped)
	assert.ErrorIs(t, o.Err, ErrNoRecipient)
	assert.Equal(t, 0, tg.callCount())
	assert.Equal(t, 0, res.Failed())
	assert.Equal(t, MetricSkipped, m.results()[types.ChannelTelegram])
	assert.Empty(t, f.failures)
}

func TestNotify_PanickingProviderIsContained(t *testing.T) {
	bad := &fakeProvider{channel: types.ChannelSlack, name: "slack", send: func(context.Context, string, Content) (string, error) {
		panic("nil map write")
	}}
	good := &fakeProvider{channel: types.ChannelEmail, name: "sendgrid"}
	d, _, f := newTestDispatcher(t, Recipient{Email: "a@example.com", Messaging: "#ops"}, good, bad)

	var res DispatchResult
	require.NotPanics(t, func() {
		res = d.Notify(context.Background(), testQuery(), types.TierManager)
	})

	o, _ := res.Outcome(types.ChannelSlack)
	assert.False(t, o.Success)
	assert.Contains(t, o.Error, "panicked")
	o, _ = res.Outcome(types.ChannelEmail)
	assert.True(t, o.Success)
	assert.Len(t, f.failures, 1)
}

func TestNotify_SendTimeoutBoundsStuckProvider(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	stuck := &fakeProvider{channel: types.ChannelSMS, name: "twilio", send: func(context.Context, string, Content) (string, error) {
		<-release // ignores ctx on purpose
		return "late", nil
	}}
	d, _, _ := newTestDispatcher(t, bothContacts, stuck)

	start := time.Now()
	res := d.Notify(context.Background(), testQuery(), types.TierManager)

	assert.Less(t, time.Since(start), 2*time.Second)
	o, _ := res.Outcome(types.ChannelSMS)
	assert.False(t, o.Success)
	var appErr *types.AppError
	require.ErrorAs(t, o.Err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamUnavailable, appErr.Code)
}

func TestNotify_RenderFailure(t *testing.T) {
	email := &fakeProvider{channel: types.ChannelEmail, name: "sendgrid"}
	reg, err := NewProviderRegistry(email)
	require.NoError(t, err)
	d := NewDispatcher(reg, staticResolver(bothContacts), fakeRenderer{err: errors.New("template missing")})

	res := d.Notify(context.Background(), testQuery(), types.TierManager)

	o, _ := res.Outcome(types.ChannelEmail)
	assert.False(t, o.Success)
	assert.Contains(t, o.Error, "template missing")
	assert.Equal(t, 0, email.callCount())
}

func TestNotify_FailureLogErrorIsOnlyLogged(t *testing.T) {
	email := &fakeProvider{channel: types.ChannelEmail, name: "sendgrid", send: func(context.Context, string, Content) (string, error) {
		return "", errors.New("boom")
	}}
	reg, err := NewProviderRegistry(email)
	require.NoError(t, err)
	logger := newCaptureLogger()
	failures := &recordingFailures{err: errors.New("sqs down")}
	d := NewDispatcher(reg, staticResolver(bothContacts), fakeRenderer{},
		WithFailureRecorder(failures), WithLogger(logger))

	res := d.Notify(context.Background(), testQuery(), types.TierManager)

	assert.Equal(t, 1, res.Failed())
	assert.Equal(t, 1, logger.count("warn", "failed to record delivery failure"))
}

func TestNotify_NoProviders(t *testing.T) {
	reg, err := NewProviderRegistry()
	require.NoError(t, err)
	d := NewDispatcher(reg, staticResolver(bothContacts), fakeRenderer{})

	res := d.Notify(context.Background(), testQuery(), types.TierCEO)
	assert.Empty(t, res.Outcomes)
}

func TestProviderRegistry(t *testing.T) {
	email := &fakeProvider{channel: types.ChannelEmail, name: "sendgrid"}
	sms := &fakeProvider{channel: types.ChannelSMS, name: "twilio"}

	reg, err := NewProviderRegistry(email, nil, sms)
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Len())
	assert.Equal(t, []types.Channel{types.ChannelEmail, types.ChannelSMS}, reg.Channels())

	p, ok := reg.Get(types.ChannelSMS)
	require.True(t, ok)
	assert.Equal(t, "twilio", ProviderName(p))

	_, err = NewProviderRegistry(email, &fakeProvider{channel: types.ChannelEmail, name: "ses"})
	assert.ErrorContains(t, err, "already served by sendgrid")
}
