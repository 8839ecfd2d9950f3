package secrets

import "context"

// Provider retrieves secret values from a backend.
//
// Implementations include environment variables and files. Providers are
// chained by the Manager with priority-based fallback.
type Provider interface {
	// GetSecret retrieves a secret by name.
	// Returns an error if the secret is not found or cannot be retrieved.
	GetSecret(ctx context.Context, name string) (string, error)

	// Name returns the provider name ("env", "file").
	Name() string

	// Supports reports whether this provider can serve the given secret name.
	Supports(name string) bool
}
