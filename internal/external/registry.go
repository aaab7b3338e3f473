package external

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	"queryguard/internal/config"
	"queryguard/internal/notifications/core"
	"queryguard/internal/security"
	"queryguard/internal/types"
)

const maxProviderRedirects = 3

// RegistryOption is a functional option for NewProviderRegistry.
type RegistryOption func(*registryConfig)

type registryConfig struct {
	sesAPI     SESAPI
	httpClient *http.Client
	sleep      core.SleepFunc
}

// WithSESAPI injects the SES client instead of loading AWS config.
func WithSESAPI(api SESAPI) RegistryOption {
	return func(rc *registryConfig) { rc.sesAPI = api }
}

// WithHTTPClient overrides the HTTP client shared by the HTTP vendors.
// Its timeout should not exceed NOTIFY_SEND_TIMEOUT.
func WithHTTPClient(c *http.Client) RegistryOption {
	return func(rc *registryConfig) { rc.httpClient = c }
}

// WithRetrySleep overrides the wait between channel retries.
func WithRetrySleep(fn core.SleepFunc) RegistryOption {
	return func(rc *registryConfig) { rc.sleep = fn }
}

// NewProviderRegistry builds one provider per configured channel and wraps
// each in the rate-limit and retry decorators. With IS_TEST_MODE set every
// configured channel gets a StubProvider and no credentials are needed.
func NewProviderRegistry(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...RegistryOption) (*core.ProviderRegistry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rc := &registryConfig{}
	for _, opt := range opts {
		opt(rc)
	}
	if rc.httpClient == nil {
		if cfg.Notify.BlockPrivateEgress {
			rc.httpClient = security.NewGuard().NewHTTPClient(cfg.Notify.SendTimeout, maxProviderRedirects)
		} else {
			rc.httpClient = &http.Client{Timeout: cfg.Notify.SendTimeout}
		}
	}

	var providers []core.ChannelProvider
	if cfg.IsTestMode {
		logger.Info("initializing notification providers in STUB mode",
			"email_provider", cfg.Notify.EmailProvider,
			"messaging_provider", cfg.Notify.MessagingProvider,
		)
		stubLogger := logger.With("mode", "stub")
		if cfg.Notify.EmailProvider != config.EmailNone {
			providers = append(providers, NewStubProvider(types.ChannelEmail, stubLogger))
		}
		if ch, ok := MessagingChannel(cfg.Notify.MessagingProvider); ok {
			providers = append(providers, NewStubProvider(ch, stubLogger))
		}
	} else {
		email, err := newEmailProvider(ctx, cfg, logger, rc)
		if err != nil {
			return nil, err
		}
		messaging, err := newMessagingProvider(cfg, logger, rc)
		if err != nil {
			return nil, err
		}
		providers = append(providers, email, messaging)
	}

	decorate := core.DecorateOptions{
		Retry: core.RetryPolicy{
			MaxAttempts:   cfg.Notify.RetryMaxAttempts,
			BaseDelay:     cfg.Notify.RetryBaseDelay,
			MaxDelay:      cfg.Notify.SendTimeout,
			BackoffFactor: 2,
		},
		RatePerSecond: cfg.Notify.RatePerSecond,
		RateBurst:     cfg.Notify.RateBurst,
		Sleep:         rc.sleep,
	}
	for i, p := range providers {
		if p != nil {
			providers[i] = core.Decorate(p, decorate)
		}
	}
	return core.NewProviderRegistry(providers...)
}

// MessagingChannel maps a MESSAGING_PROVIDER value to the channel it serves.
// "stub" stands in for SMS.
func MessagingChannel(provider string) (types.Channel, bool) {
	switch provider {
	case config.MessagingTwilio, config.MessagingStub:
		return types.ChannelSMS, true
	case config.MessagingTelegram:
		return types.ChannelTelegram, true
	case config.MessagingSlack:
		return types.ChannelSlack, true
	default:
		return "", false
	}
}

func newEmailProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger, rc *registryConfig) (core.ChannelProvider, error) {
	switch cfg.Notify.EmailProvider {
	case config.EmailSendGrid:
		base := NewBaseClient(rc.httpClient, "sendgrid", NoTransportRetry)
		return NewSendGridClient(base, SendGridClientConfig{
			APIKey:      cfg.SendGrid.APIKey.Unmask(),
			BaseURL:     cfg.SendGrid.BaseURL,
			FromAddress: cfg.Notify.FromAddress,
			FromName:    cfg.Notify.FromName,
			Logger:      logger.With("client", "sendgrid"),
		}), nil
	case config.EmailSES:
		api := rc.sesAPI
		if api == nil {
			awsCfg, err := config.LoadAWS(ctx, cfg.AWS)
			if err != nil {
				return nil, fmt.Errorf("ses provider: %w", err)
			}
			api = sesv2.NewFromConfig(awsCfg)
		}
		return NewSESClientWithAPI(api, SESClientConfig{
			ConfigSetName: cfg.SES.ConfigurationSet,
			FromAddress:   cfg.Notify.FromAddress,
			FromName:      cfg.Notify.FromName,
			Logger:        logger.With("client", "ses"),
		}), nil
	case config.EmailStub:
		return NewStubProvider(types.ChannelEmail, logger.With("mode", "stub")), nil
	case config.EmailNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Notify.EmailProvider)
	}
}

func newMessagingProvider(cfg *config.Config, logger *slog.Logger, rc *registryConfig) (core.ChannelProvider, error) {
	switch cfg.Notify.MessagingProvider {
	case config.MessagingTwilio:
		base := NewBaseClient(rc.httpClient, "twilio", NoTransportRetry)
		return NewTwilioClient(base, TwilioClientConfig{
			AccountSID: cfg.Twilio.AccountSID,
			AuthToken:  cfg.Twilio.AuthToken.Unmask(),
			FromNumber: cfg.Twilio.FromNumber,
			BaseURL:    cfg.Twilio.BaseURL,
			Logger:     logger.With("client", "twilio"),
		}), nil
	case config.MessagingTelegram:
		tg, err := NewTelegramClient(TelegramClientConfig{
			Token:  cfg.Telegram.BotToken.Unmask(),
			APIURL: cfg.Telegram.APIURL,
			HTTP:   rc.httpClient,
			Logger: logger.With("client", "telegram"),
		})
		if err != nil {
			return nil, err
		}
		return tg, nil
	case config.MessagingSlack:
		base := NewBaseClient(rc.httpClient, "slack", NoTransportRetry)
		return NewSlackClient(base, SlackClientConfig{
			WebhookURL: cfg.Slack.WebhookURL.Unmask(),
			Logger:     logger.With("client", "slack"),
		}), nil
	case config.MessagingStub:
		return NewStubProvider(types.ChannelSMS, logger.With("mode", "stub")), nil
	case config.MessagingNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown messaging provider %q", cfg.Notify.MessagingProvider)
	}
}
