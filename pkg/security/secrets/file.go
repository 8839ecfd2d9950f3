package secrets

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// FileProvider loads secrets from a YAML file mapping names to values.
//
// The file is read once at construction and can be reloaded with Refresh,
// which supports rotation without a restart. File permissions should
// restrict access to the gateway user.
type FileProvider struct {
	path    string
	mu      sync.RWMutex
	secrets map[string]string
}

// NewFileProvider creates a file-backed secret provider and loads the file.
func NewFileProvider(path string) (*FileProvider, error) {
	p := &FileProvider{
		path:    path,
		secrets: make(map[string]string),
	}
	if err := p.Refresh(context.Background()); err != nil {
		return nil, err
	}
	return p, nil
}

// GetSecret retrieves a secret from the loaded file.
func (p *FileProvider) GetSecret(ctx context.Context, name string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	value, ok := p.secrets[name]
	if !ok || value == "" {
		return "", fmt.Errorf("secret not found in file %s: %s", p.path, name)
	}

	return value, nil
}

// Name returns "file".
func (p *FileProvider) Name() string {
	return "file"
}

// Supports reports whether the loaded file contains the secret.
func (p *FileProvider) Supports(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.secrets[name]
	return ok
}

// Refresh reloads the secrets file, replacing the in-memory map atomically.
func (p *FileProvider) Refresh(ctx context.Context) error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("failed to read secrets file %q: %w", p.path, err)
	}

	loaded := make(map[string]string)
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("failed to parse secrets file %q: %w", p.path, err)
	}

	p.mu.Lock()
	p.secrets = loaded
	p.mu.Unlock()

	return nil
}
