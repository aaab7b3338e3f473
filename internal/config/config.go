// Package config defines the configuration structure for QueryGuard.
// Configuration is loaded once at process start (Lambda cold start, server
// boot, CLI invocation) and is immutable thereafter. Components receive the
// sub-struct they need rather than reading the environment themselves.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format aborts startup.
package config

import (
	"time"

	"queryguard/internal/types"
)

// SecretString is an alias for types.SecretString.
type SecretString = types.SecretString

// Store backends.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Email provider names accepted by EMAIL_PROVIDER.
const (
	EmailSendGrid = "sendgrid"
	EmailSES      = "ses"
	EmailStub     = "stub"
	EmailNone     = "none"
)

// Messaging provider names accepted by MESSAGING_PROVIDER.
const (
	MessagingTwilio   = "twilio"
	MessagingTelegram = "telegram"
	MessagingSlack    = "slack"
	MessagingStub     = "stub"
	MessagingNone     = "none"
)

// Lock and metric backends.
const (
	LockNone     = "none"
	LockPostgres = "postgres"
	LockRedis    = "redis"

	MetricsNone       = "none"
	MetricsCloudWatch = "cloudwatch"
	MetricsPrometheus = "prometheus"
)

// Config is the top-level configuration struct.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"queryguard"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	IsTestMode  bool   `envconfig:"IS_TEST_MODE" default:"false"`

	Escalation    EscalationConfig
	Contacts      ContactsConfig
	Notify        NotifyConfig
	SendGrid      SendGridConfig
	SES           SESConfig
	Twilio        TwilioConfig
	Telegram      TelegramConfig
	Slack         SlackConfig
	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Redis         RedisConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// EscalationConfig controls the sweep.
type EscalationConfig struct {
	// Timeout is how long a tier has to respond before the query moves up.
	Timeout          time.Duration `envconfig:"ESCALATION_TIMEOUT" default:"30m" validate:"min=1s"`
	SweepInterval    time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m" validate:"min=1s"`
	SweepConcurrency int           `envconfig:"SWEEP_CONCURRENCY" default:"8" validate:"min=1,max=256"`
	LockTTL          time.Duration `envconfig:"LOCK_TTL" default:"5m" validate:"min=1s"`
	LockBackend      string        `envconfig:"LOCK_BACKEND" default:"none" validate:"oneof=none postgres redis"`
}

// ContactsConfig is the per-tier contact directory. Empty tier entries fall
// back to the customer support entry, then to the global default.
type ContactsConfig struct {
	SupportEmail     string `envconfig:"CONTACT_SUPPORT_EMAIL" validate:"omitempty,email"`
	SupportMessaging string `envconfig:"CONTACT_SUPPORT_MESSAGING"`
	ManagerEmail     string `envconfig:"CONTACT_MANAGER_EMAIL" validate:"omitempty,email"`
	ManagerMessaging string `envconfig:"CONTACT_MANAGER_MESSAGING"`
	CEOEmail         string `envconfig:"CONTACT_CEO_EMAIL" validate:"omitempty,email"`
	CEOMessaging     string `envconfig:"CONTACT_CEO_MESSAGING"`
	DefaultEmail     string `envconfig:"CONTACT_DEFAULT_EMAIL" validate:"omitempty,email"`
	DefaultMessaging string `envconfig:"CONTACT_DEFAULT_MESSAGING"`
}

// NotifyConfig selects providers and tunes delivery.
type NotifyConfig struct {
	EmailProvider     string        `envconfig:"EMAIL_PROVIDER" default:"sendgrid" validate:"oneof=sendgrid ses stub none"`
	MessagingProvider string        `envconfig:"MESSAGING_PROVIDER" default:"twilio" validate:"oneof=twilio telegram slack stub none"`
	SendTimeout       time.Duration `envconfig:"NOTIFY_SEND_TIMEOUT" default:"10s" validate:"min=100ms"`
	// RetryMaxAttempts of 1 means a single attempt with no retry.
	RetryMaxAttempts int           `envconfig:"NOTIFY_RETRY_MAX_ATTEMPTS" default:"1" validate:"min=1,max=10"`
	RetryBaseDelay   time.Duration `envconfig:"NOTIFY_RETRY_BASE_DELAY" default:"500ms"`
	// RatePerSecond of 0 disables rate limiting.
	RatePerSecond       float64 `envconfig:"NOTIFY_RATE_PER_SECOND" default:"0" validate:"min=0"`
	RateBurst           int     `envconfig:"NOTIFY_RATE_BURST" default:"1" validate:"min=1"`
	ShortMessageExcerpt int     `envconfig:"SHORT_MESSAGE_EXCERPT" default:"120" validate:"min=10,max=1000"`
	SMSMaxRunes         int     `envconfig:"SMS_MAX_RUNES" default:"320" validate:"min=70"`
	FromAddress         string  `envconfig:"EMAIL_FROM_ADDRESS" default:"escalations@queryguard.local" validate:"email"`
	FromName            string  `envconfig:"EMAIL_FROM_NAME" default:"QueryGuard Escalations"`
	// BlockPrivateEgress refuses provider connections to loopback, link-local
	// and private addresses. Disable it to point providers at local mocks.
	BlockPrivateEgress bool `envconfig:"NOTIFY_BLOCK_PRIVATE_EGRESS" default:"true"`
}

// SendGridConfig holds SendGrid v3 API settings.
type SendGridConfig struct {
	APIKey  SecretString `envconfig:"SENDGRID_API_KEY"`
	BaseURL string       `envconfig:"SENDGRID_BASE_URL" default:"https://api.sendgrid.com" validate:"url"`
}

// SESConfig holds Amazon SES v2 settings. Credentials come from the default
// AWS chain.
type SESConfig struct {
	ConfigurationSet string `envconfig:"SES_CONFIGURATION_SET"`
}

// TwilioConfig holds Twilio Programmable Messaging settings.
type TwilioConfig struct {
	AccountSID string       `envconfig:"TWILIO_ACCOUNT_SID"`
	AuthToken  SecretString `envconfig:"TWILIO_AUTH_TOKEN"`
	FromNumber string       `envconfig:"TWILIO_FROM_NUMBER" validate:"omitempty,e164"`
	BaseURL    string       `envconfig:"TWILIO_BASE_URL" default:"https://api.twilio.com" validate:"url"`
}

// TelegramConfig holds the bot token used for escalation messages.
type TelegramConfig struct {
	BotToken SecretString `envconfig:"TELEGRAM_BOT_TOKEN"`
	APIURL   string       `envconfig:"TELEGRAM_API_URL" default:"https://api.telegram.org" validate:"url"`
}

// SlackConfig holds the incoming webhook. The URL embeds its own credential.
type SlackConfig struct {
	WebhookURL SecretString `envconfig:"SLACK_WEBHOOK_URL"`
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// RequestTimeout bounds each operator API request.
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"15s" validate:"min=1s"`
	// BaseURL prefixes deep links in notifications (no trailing slash).
	BaseURL string `envconfig:"BASE_URL" default:"http://localhost:8080" validate:"required,url"`
}

// DatabaseConfig holds store selection and pool tuning parameters.
type DatabaseConfig struct {
	Backend string `envconfig:"STORE_BACKEND" default:"postgres" validate:"oneof=postgres sqlite"`

	// Resolved from SSM or Env
	URL SecretString `envconfig:"DATABASE_URL"`

	SQLitePath string `envconfig:"SQLITE_PATH" default:"queryguard.db"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// DeliveryFailureQueue receives one message per failed channel send.
	// Empty disables the failure log.
	DeliveryFailureQueue string `envconfig:"SQS_DELIVERY_FAILURES" validate:"omitempty,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// RedisConfig is used when LOCK_BACKEND=redis.
type RedisConfig struct {
	Addr     string       `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password SecretString `envconfig:"REDIS_PASSWORD"`
	DB       int          `envconfig:"REDIS_DB" default:"0"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricBackend   string `envconfig:"METRIC_BACKEND" default:"none" validate:"oneof=none cloudwatch prometheus"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"QueryGuard"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment values.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
