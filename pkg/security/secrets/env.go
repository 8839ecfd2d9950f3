package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// EnvProvider loads secrets from environment variables.
//
// Secret names are converted to uppercase environment variable names with
// hyphens replaced by underscores, with an optional namespace prefix.
// "openai-api-key" with prefix "AEGIS_SECRET_" reads AEGIS_SECRET_OPENAI_API_KEY.
type EnvProvider struct {
	// Prefix is prepended to every environment variable name.
	Prefix string
}

// NewEnvProvider creates an environment variable secret provider.
func NewEnvProvider(prefix string) *EnvProvider {
	return &EnvProvider{Prefix: prefix}
}

// GetSecret retrieves a secret from an environment variable.
func (p *EnvProvider) GetSecret(ctx context.Context, name string) (string, error) {
	envVar := p.secretNameToEnvVar(name)

	value := os.Getenv(envVar)
	if value == "" {
		return "", fmt.Errorf("secret not found in environment: %s (env var: %s)", name, envVar)
	}

	return value, nil
}

// Name returns "env".
func (p *EnvProvider) Name() string {
	return "env"
}

// Supports reports true for every name; the environment is the fallback
// backend of last resort.
func (p *EnvProvider) Supports(name string) bool {
	return name != ""
}

func (p *EnvProvider) secretNameToEnvVar(name string) string {
	converted := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	return p.Prefix + converted
}
