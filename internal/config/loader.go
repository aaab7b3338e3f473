package config

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is returned by Load to describe which stage failed.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ssmParamSuffix marks pointer variables: TWILIO_AUTH_TOKEN_SSM_PARAM holds
// the SSM path whose value becomes TWILIO_AUTH_TOKEN.
const ssmParamSuffix = "_SSM_PARAM"

const localEnv = "local"

// envSource abstracts the process environment so tests do not mutate
// global state.
type envSource struct {
	lookup  func(key string) (string, bool)
	set     func(key, value string) error
	environ func() []string
}

func osEnv() envSource {
	return envSource{lookup: os.LookupEnv, set: os.Setenv, environ: os.Environ}
}

// Options tweaks Load for entrypoints with different needs.
type Options struct {
	// DotenvFiles are loaded in order before anything else. Missing files are
	// ignored. Defaults to ".env".
	DotenvFiles []string
	// SkipBackendChecks disables the provider credential checks. The CLI
	// uses it for read-only commands that never send notifications.
	SkipBackendChecks bool
}

// Load reads and validates the configuration.
//
//  1. Pin the process timezone to UTC.
//  2. Load dotenv files (non-fatal when absent, never overrides the environment).
//  3. Outside APP_ENV=local, resolve *_SSM_PARAM pointers through provider.
//  4. Populate Config with envconfig.
//  5. Validate struct tags, then the cross-field backend requirements.
//
// provider may be nil for local runs.
func Load(provider SecretProvider, opts Options) (*Config, error) {
	return load(provider, opts, osEnv())
}

func load(provider SecretProvider, opts Options, env envSource) (*Config, error) {
	time.Local = time.UTC

	files := opts.DotenvFiles
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}

	if appEnv, _ := env.lookup("APP_ENV"); appEnv != localEnv {
		if err := resolveSSMParams(provider, env); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}
	cfg.Build = NewBuildInfo()
	cfg.Server.BaseURL = strings.TrimRight(cfg.Server.BaseURL, "/")

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	if !opts.SkipBackendChecks {
		if err := cfg.checkBackends(); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

// ResolveSecrets runs only the SSM stage. Lambda entrypoints call it before
// Load when they need secrets injected ahead of other initialisation.
func ResolveSecrets(provider SecretProvider) error {
	if appEnv, _ := os.LookupEnv("APP_ENV"); appEnv == localEnv {
		return nil
	}
	return resolveSSMParams(provider, osEnv())
}

// checkBackends enforces the settings each selected backend needs. Test mode
// swaps every provider for a stub, so credentials are not required there.
func (c *Config) checkBackends() error {
	var missing []string
	need := func(ok bool, name string) {
		if !ok {
			missing = append(missing, name)
		}
	}

	if c.Database.Backend == StorePostgres || c.Escalation.LockBackend == LockPostgres {
		need(c.Database.URL.IsSet(), "DATABASE_URL")
	}
	if c.Escalation.LockBackend == LockRedis {
		need(c.Redis.Addr != "", "REDIS_ADDR")
	}

	if !c.IsTestMode {
		switch c.Notify.EmailProvider {
		case EmailSendGrid:
			need(c.SendGrid.APIKey.IsSet(), "SENDGRID_API_KEY")
		}
		switch c.Notify.MessagingProvider {
		case MessagingTwilio:
			need(c.Twilio.AccountSID != "", "TWILIO_ACCOUNT_SID")
			need(c.Twilio.AuthToken.IsSet(), "TWILIO_AUTH_TOKEN")
			need(c.Twilio.FromNumber != "", "TWILIO_FROM_NUMBER")
		case MessagingTelegram:
			need(c.Telegram.BotToken.IsSet(), "TELEGRAM_BOT_TOKEN")
		case MessagingSlack:
			need(c.Slack.WebhookURL.IsSet(), "SLACK_WEBHOOK_URL")
		}
	}

	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrMissingEnv,
			Message: "selected backends require: " + strings.Join(missing, ", "),
		}
	}
	return nil
}

// resolveSSMParams fetches every *_SSM_PARAM pointer whose target variable is
// still unset and writes the resolved value back into the environment, where
// envconfig picks it up.
func resolveSSMParams(provider SecretProvider, env envSource) error {
	pathToTarget := make(map[string]string)

	for _, entry := range env.environ() {
		key, path, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasSuffix(key, ssmParamSuffix) || path == "" {
			continue
		}
		target := strings.TrimSuffix(key, ssmParamSuffix)
		if _, set := env.lookup(target); set {
			continue
		}
		pathToTarget[path] = target
	}

	if len(pathToTarget) == 0 {
		return nil
	}

	paths := make([]string, 0, len(pathToTarget))
	for p := range pathToTarget {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	if provider == nil {
		targets := make([]string, 0, len(paths))
		for _, p := range paths {
			targets = append(targets, pathToTarget[p])
		}
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: "a SecretProvider is required outside local (need: " + strings.Join(targets, ", ") + ")",
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resolved, err := provider.GetParametersBatch(ctx, paths)
	if err != nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("failed to resolve %d SSM parameters", len(paths)),
			Err:     err,
		}
	}

	var missing []string
	for _, p := range paths {
		value, ok := resolved[p]
		if !ok {
			missing = append(missing, pathToTarget[p])
			continue
		}
		if err := env.set(pathToTarget[p], value); err != nil {
			return &ConfigError{
				Type:    ErrSSMResolution,
				Message: "failed to set resolved value for " + pathToTarget[p],
				Err:     err,
			}
		}
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: "SSM parameters not found for: " + strings.Join(missing, ", "),
		}
	}
	return nil
}
