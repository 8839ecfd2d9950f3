package config

import (
	"time"

	"strato-hq/aegis/pkg/telemetry/logging"
)

// Config is the root configuration for the gateway.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Logging   LoggingConfig    `yaml:"logging"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Auth      AuthConfig       `yaml:"auth"`
	Tenants   []TenantConfig   `yaml:"tenants"`
	Providers []ProviderConfig `yaml:"providers"`
	Routing   RoutingConfig    `yaml:"routing"`
	Wallet    WalletConfig     `yaml:"wallet"`
	Ledger    LedgerConfig     `yaml:"ledger"`
	Cache     CacheConfig      `yaml:"cache"`
	RateLimit RateLimitConfig  `yaml:"rate_limit"`
	Scan      ScanConfig       `yaml:"scan"`
	Policy    PolicyConfig     `yaml:"policy"`
	Analytics AnalyticsConfig  `yaml:"analytics"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// ListenAddress is the host:port the gateway binds to.
	ListenAddress string `yaml:"listen_address"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes"`

	// DefaultRequestTimeout is the effective deadline when the client does
	// not send one. Client-supplied deadlines are capped at MaxRequestTimeout.
	DefaultRequestTimeout time.Duration `yaml:"default_request_timeout"`
	MaxRequestTimeout     time.Duration `yaml:"max_request_timeout"`

	TLS TLSConfig `yaml:"tls"`
}

// TLSConfig configures TLS termination for the client-facing listener.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level           string                  `yaml:"level"`
	Format          string                  `yaml:"format"`
	AddSource       bool                    `yaml:"add_source"`
	RedactSensitive bool                    `yaml:"redact_sensitive"`
	RedactPatterns  []logging.RedactPattern `yaml:"redact_patterns"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AuthConfig configures client authentication.
type AuthConfig struct {
	// APIKeys maps client API keys to principals. Keys may be literal for
	// development or secret references of the form ${NAME}.
	APIKeys []APIKeyConfig `yaml:"api_keys"`

	// JWTSecretRef is the secret reference for validating bearer tokens.
	// Empty disables JWT authentication.
	JWTSecretRef string `yaml:"jwt_secret_ref"`

	// JWTIssuer, when set, is required in token claims.
	JWTIssuer string `yaml:"jwt_issuer"`
}

// APIKeyConfig binds an API key to a tenant and actor.
type APIKeyConfig struct {
	Key      string `yaml:"key"`
	Tenant   string `yaml:"tenant"`
	Actor    string `yaml:"actor"`
	Team     string `yaml:"team"`
	WalletID string `yaml:"wallet_id"`
	// Kind is "user" or "service_account".
	Kind string `yaml:"kind"`
}

// TenantConfig describes a tenant isolation boundary.
type TenantConfig struct {
	ID string `yaml:"id"`

	// PlanTier is informational ("free", "team", "enterprise").
	PlanTier string `yaml:"plan_tier"`

	// ResidencyRegions lists regions the tenant's requests may be
	// dispatched to. Empty means no residency constraint.
	ResidencyRegions []string `yaml:"residency_regions"`

	// PolicySet selects the named policy set evaluated for this tenant.
	PolicySet string `yaml:"policy_set"`

	// EncryptionKeyRef references the tenant's at-rest encryption key.
	EncryptionKeyRef string `yaml:"encryption_key_ref"`

	// StoreContent opts the tenant into prompt/response body retention.
	StoreContent bool `yaml:"store_content"`

	Cache TenantCacheConfig `yaml:"cache"`
}

// TenantCacheConfig holds the per-tenant semantic cache settings.
type TenantCacheConfig struct {
	Enabled             bool          `yaml:"enabled"`
	SimilarityThreshold float64       `yaml:"similarity_threshold"`
	TTL                 time.Duration `yaml:"ttl"`
	MaxEntries          int           `yaml:"max_entries"`
}

// ProviderConfig describes one upstream connector.
type ProviderConfig struct {
	// Name uniquely identifies the connector.
	Name string `yaml:"name"`

	// Kind selects the adapter: "openai", "anthropic", "generic".
	Kind string `yaml:"kind"`

	// BaseURL is the upstream endpoint.
	BaseURL string `yaml:"base_url"`

	// APIKeyRef is the secret-store reference for the provider key.
	APIKeyRef string `yaml:"api_key_ref"`

	// Priority orders connectors for default routing; lower wins.
	Priority int `yaml:"priority"`

	// Regions the connector serves from.
	Regions []string `yaml:"regions"`

	// Models advertised by this connector.
	Models []ModelConfig `yaml:"models"`

	Timeout     time.Duration `yaml:"timeout"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	MaxRetries  int           `yaml:"max_retries"`

	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`

	// RequestsPerMinute and TokensPerMinute bound traffic to this
	// connector. Zero means unlimited.
	RequestsPerMinute int `yaml:"requests_per_minute"`
	TokensPerMinute   int `yaml:"tokens_per_minute"`

	// ProbeInterval controls the background health probe cadence.
	ProbeInterval time.Duration `yaml:"probe_interval"`

	// RecoveryProbes is the number of consecutive successful probes
	// required to move a degraded connector back to healthy.
	RecoveryProbes int `yaml:"recovery_probes"`
}

// ModelConfig describes a model advertised by a connector.
type ModelConfig struct {
	// Name is the model alias clients request.
	Name string `yaml:"name"`

	// UpstreamName is the identifier sent to the provider; defaults to Name.
	UpstreamName string `yaml:"upstream_name"`

	// InputPricePer1M and OutputPricePer1M are USD per one million tokens.
	InputPricePer1M  float64 `yaml:"input_price_per_1m"`
	OutputPricePer1M float64 `yaml:"output_price_per_1m"`

	// ContextWindow is the maximum total tokens the model accepts.
	ContextWindow int `yaml:"context_window"`

	// Capabilities advertises features: "streaming", "tools", "vision",
	// "embeddings".
	Capabilities []string `yaml:"capabilities"`
}

// RoutingConfig configures the router.
type RoutingConfig struct {
	// Strategy is "priority", "cost" or "latency".
	Strategy string `yaml:"strategy"`

	// RulesFile is the YAML file holding the ordered routing rules.
	// Watched for changes when Watch is true.
	RulesFile string `yaml:"rules_file"`
	Watch     bool   `yaml:"watch"`
}

// WalletConfig configures budget accounting.
type WalletConfig struct {
	// Backend is "memory" or "sqlite".
	Backend    string `yaml:"backend"`
	SQLitePath string `yaml:"sqlite_path"`

	// ResetSchedule is a cron expression for period resets.
	ResetSchedule string `yaml:"reset_schedule"`

	// TransactionTimeout bounds a single wallet mutation.
	TransactionTimeout time.Duration `yaml:"transaction_timeout"`

	// Wallets seeds the budget tree at startup.
	Wallets []WalletNodeConfig `yaml:"wallets"`
}

// WalletNodeConfig seeds one node of the budget tree.
type WalletNodeConfig struct {
	ID     string `yaml:"id"`
	Tenant string `yaml:"tenant"`
	Parent string `yaml:"parent"`
	// Kind is "organization", "department", "team", "user" or "service_account".
	Kind           string    `yaml:"kind"`
	HardLimit      float64   `yaml:"hard_limit"`
	Overdraft      float64   `yaml:"overdraft"`
	SoftThresholds []float64 `yaml:"soft_thresholds"`
	// ResetPeriod is "monthly", "weekly" or "daily".
	ResetPeriod string `yaml:"reset_period"`
}

// LedgerConfig configures the audit ledger.
type LedgerConfig struct {
	// Backend is "memory" or "sqlite".
	Backend    string `yaml:"backend"`
	SQLitePath string `yaml:"sqlite_path"`

	AsyncBuffer  int           `yaml:"async_buffer"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// RetentionDays bounds content retention; metadata is kept longer.
	RetentionDays int `yaml:"retention_days"`
}

// CacheConfig configures the semantic cache defaults. Per-tenant settings
// override these.
type CacheConfig struct {
	Enabled             bool          `yaml:"enabled"`
	SimilarityThreshold float64       `yaml:"similarity_threshold"`
	TTL                 time.Duration `yaml:"ttl"`
	MaxEntriesPerTenant int           `yaml:"max_entries_per_tenant"`

	// ModelTTLOverrides sets per-model TTLs on top of the default.
	ModelTTLOverrides map[string]time.Duration `yaml:"model_ttl_overrides"`

	// EmbedderProvider and EmbedderModel select the embedding connector.
	EmbedderProvider string `yaml:"embedder_provider"`
	EmbedderModel    string `yaml:"embedder_model"`

	// EmbedderConcurrency bounds concurrent embedding calls.
	EmbedderConcurrency int `yaml:"embedder_concurrency"`

	// LookupTimeout bounds a cache lookup; on expiry the cache is bypassed.
	LookupTimeout time.Duration `yaml:"lookup_timeout"`
}

// RateLimitConfig configures request rate limiting.
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`

	// Backend is "memory" or "redis".
	Backend string `yaml:"backend"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// TenantRPM and ActorRPM are requests-per-minute budgets.
	TenantRPM int `yaml:"tenant_rpm"`
	ActorRPM  int `yaml:"actor_rpm"`

	// Burst is the bucket size on top of the sustained rate.
	Burst int `yaml:"burst"`

	// PolicyID is reported in rate-limit response headers.
	PolicyID string `yaml:"policy_id"`
}

// ScanConfig configures the pre-dispatch security scanner.
type ScanConfig struct {
	Enabled bool `yaml:"enabled"`

	// PIIAction, SecretAction and InjectionAction select the response to a
	// detection: "allow", "log_only", "redact", "block", "quarantine".
	PIIAction       string `yaml:"pii_action"`
	SecretAction    string `yaml:"secret_action"`
	InjectionAction string `yaml:"injection_action"`

	// InjectionBlockScore is the composite risk score at or above which the
	// injection action fires.
	InjectionBlockScore float64 `yaml:"injection_block_score"`
}

// PolicyConfig configures the policy evaluator.
type PolicyConfig struct {
	// File is the YAML policy set definition.
	File string `yaml:"file"`

	// Timeout bounds one evaluation; on expiry the decision fails closed
	// unless FailOpen is set.
	Timeout  time.Duration `yaml:"timeout"`
	FailOpen bool          `yaml:"fail_open"`
}

// AnalyticsConfig configures the async analytics sink.
type AnalyticsConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
}
