// Package config defines the gateway configuration model and its YAML
// loading, defaulting and validation logic. Configuration never contains
// provider credentials directly; providers reference secrets by name and
// the secret store resolves them at dispatch time.
package config
