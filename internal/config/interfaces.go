package config

import "context"

// SecretProvider resolves secret parameter paths to their plaintext values.
// SSMProvider serves deployed environments; EnvVarProvider serves local runs
// and tests.
type SecretProvider interface {
	// GetParametersBatch returns path -> value for every path it could
	// resolve. Paths it cannot find are omitted rather than reported as an
	// error, and the caller decides whether that is fatal.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
