package config

import (
	"fmt"
	"net/url"
	"strings"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError collects all field errors found in a configuration.
type ValidationError struct {
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate checks the configuration and returns a ValidationError if any
// rule fails. All errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateProviders(cfg.Providers)...)
	errs = append(errs, validateTenants(cfg.Tenants)...)
	errs = append(errs, validateWallet(&cfg.Wallet)...)
	errs = append(errs, validateRateLimit(&cfg.RateLimit)...)
	errs = append(errs, validateScan(&cfg.Scan)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

func validateServer(s *ServerConfig) []FieldError {
	var errs []FieldError

	if s.ListenAddress == "" {
		errs = append(errs, FieldError{"server.listen_address", "must not be empty"})
	}
	if s.MaxRequestTimeout < s.DefaultRequestTimeout {
		errs = append(errs, FieldError{"server.max_request_timeout", "must be at least default_request_timeout"})
	}
	if s.TLS.Enabled {
		if s.TLS.CertFile == "" {
			errs = append(errs, FieldError{"server.tls.cert_file", "required when TLS is enabled"})
		}
		if s.TLS.KeyFile == "" {
			errs = append(errs, FieldError{"server.tls.key_file", "required when TLS is enabled"})
		}
	}

	return errs
}

func validateProviders(providers []ProviderConfig) []FieldError {
	var errs []FieldError

	seen := make(map[string]bool)
	for i, p := range providers {
		prefix := fmt.Sprintf("providers[%d]", i)

		if p.Name == "" {
			errs = append(errs, FieldError{prefix + ".name", "must not be empty"})
		} else if seen[p.Name] {
			errs = append(errs, FieldError{prefix + ".name", fmt.Sprintf("duplicate provider name %q", p.Name)})
		}
		seen[p.Name] = true

		switch p.Kind {
		case "openai", "anthropic", "generic":
		default:
			errs = append(errs, FieldError{prefix + ".kind", fmt.Sprintf("unknown kind %q (want openai, anthropic or generic)", p.Kind)})
		}

		if p.BaseURL == "" {
			errs = append(errs, FieldError{prefix + ".base_url", "must not be empty"})
		} else if u, err := url.Parse(p.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, FieldError{prefix + ".base_url", fmt.Sprintf("invalid URL %q", p.BaseURL)})
		}

		// Self-hosted (generic) endpoints may run without authentication.
		if p.APIKeyRef == "" && p.Kind != "generic" {
			errs = append(errs, FieldError{prefix + ".api_key_ref", "must reference a secret; literal keys are not accepted"})
		}

		if len(p.Models) == 0 {
			errs = append(errs, FieldError{prefix + ".models", "must advertise at least one model"})
		}
		for j, m := range p.Models {
			if m.Name == "" {
				errs = append(errs, FieldError{fmt.Sprintf("%s.models[%d].name", prefix, j), "must not be empty"})
			}
			if m.InputPricePer1M < 0 || m.OutputPricePer1M < 0 {
				errs = append(errs, FieldError{fmt.Sprintf("%s.models[%d]", prefix, j), "prices must not be negative"})
			}
		}
	}

	return errs
}

func validateTenants(tenants []TenantConfig) []FieldError {
	var errs []FieldError

	seen := make(map[string]bool)
	for i, t := range tenants {
		prefix := fmt.Sprintf("tenants[%d]", i)
		if t.ID == "" {
			errs = append(errs, FieldError{prefix + ".id", "must not be empty"})
		} else if seen[t.ID] {
			errs = append(errs, FieldError{prefix + ".id", fmt.Sprintf("duplicate tenant id %q", t.ID)})
		}
		seen[t.ID] = true

		if t.Cache.SimilarityThreshold < 0 || t.Cache.SimilarityThreshold > 1 {
			errs = append(errs, FieldError{prefix + ".cache.similarity_threshold", "must be between 0 and 1"})
		}
	}

	return errs
}

func validateWallet(w *WalletConfig) []FieldError {
	var errs []FieldError

	switch w.Backend {
	case "memory", "sqlite":
	default:
		errs = append(errs, FieldError{"wallet.backend", fmt.Sprintf("unknown backend %q (want memory or sqlite)", w.Backend)})
	}
	if w.Backend == "sqlite" && w.SQLitePath == "" {
		errs = append(errs, FieldError{"wallet.sqlite_path", "required for the sqlite backend"})
	}

	ids := make(map[string]bool, len(w.Wallets))
	for _, n := range w.Wallets {
		ids[n.ID] = true
	}
	for i, n := range w.Wallets {
		prefix := fmt.Sprintf("wallet.wallets[%d]", i)
		if n.ID == "" {
			errs = append(errs, FieldError{prefix + ".id", "must not be empty"})
		}
		if n.Tenant == "" {
			errs = append(errs, FieldError{prefix + ".tenant", "must not be empty"})
		}
		if n.Parent != "" && !ids[n.Parent] {
			errs = append(errs, FieldError{prefix + ".parent", fmt.Sprintf("unknown parent wallet %q", n.Parent)})
		}
		if n.HardLimit < 0 || n.Overdraft < 0 {
			errs = append(errs, FieldError{prefix, "limits must not be negative"})
		}
		switch n.Kind {
		case "organization", "department", "team", "user", "service_account":
		default:
			errs = append(errs, FieldError{prefix + ".kind", fmt.Sprintf("unknown wallet kind %q", n.Kind)})
		}
	}

	return errs
}

func validateRateLimit(rl *RateLimitConfig) []FieldError {
	var errs []FieldError

	switch rl.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, FieldError{"rate_limit.backend", fmt.Sprintf("unknown backend %q (want memory or redis)", rl.Backend)})
	}
	if rl.Backend == "redis" && rl.RedisAddr == "" {
		errs = append(errs, FieldError{"rate_limit.redis_addr", "required for the redis backend"})
	}

	return errs
}

func validateScan(s *ScanConfig) []FieldError {
	var errs []FieldError

	valid := map[string]bool{
		"allow": true, "log_only": true, "redact": true, "block": true, "quarantine": true,
	}
	for field, action := range map[string]string{
		"scan.pii_action":       s.PIIAction,
		"scan.secret_action":    s.SecretAction,
		"scan.injection_action": s.InjectionAction,
	} {
		if !valid[action] {
			errs = append(errs, FieldError{field, fmt.Sprintf("unknown action %q", action)})
		}
	}
	if s.InjectionBlockScore < 0 || s.InjectionBlockScore > 1 {
		errs = append(errs, FieldError{"scan.injection_block_score", "must be between 0 and 1"})
	}

	return errs
}
