package config

import "time"

// Default values for configuration fields.
const (
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 10 * time.Minute
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1 << 20

	DefaultRequestTimeout    = 120 * time.Second
	DefaultMaxRequestTimeout = 5 * time.Minute

	DefaultProviderTimeout       = 120 * time.Second
	DefaultProviderDialTimeout   = 5 * time.Second
	DefaultProviderMaxRetries    = 3
	DefaultProviderProbeInterval = 15 * time.Second
	DefaultRecoveryProbes        = 5
	DefaultMaxIdleConns          = 100
	DefaultMaxIdleConnsPerHost   = 10
	DefaultIdleConnTimeout       = 90 * time.Second

	DefaultRoutingStrategy = "priority"

	DefaultWalletBackend       = "memory"
	DefaultWalletResetSchedule = "0 0 * * *"
	DefaultWalletTxTimeout     = 500 * time.Millisecond

	DefaultLedgerBackend       = "memory"
	DefaultLedgerAsyncBuffer   = 1000
	DefaultLedgerWriteTimeout  = 5 * time.Second
	DefaultLedgerRetentionDays = 365

	DefaultCacheSimilarityThreshold = 0.97
	DefaultCacheTTL                 = 24 * time.Hour
	DefaultCacheMaxEntriesPerTenant = 10000
	DefaultCacheEmbedderConcurrency = 8
	DefaultCacheLookupTimeout       = 50 * time.Millisecond

	DefaultRateLimitBackend = "memory"
	DefaultTenantRPM        = 600
	DefaultActorRPM         = 120
	DefaultRateLimitBurst   = 20
	DefaultRateLimitPolicy  = "default"

	DefaultScanAction          = "log_only"
	DefaultInjectionBlockScore = 0.8

	DefaultPolicyTimeout = 100 * time.Millisecond

	DefaultAnalyticsBufferSize = 4096

	DefaultMetricsPath = "/metrics"
)

// ApplyDefaults fills zero-valued fields with defaults. It mutates cfg in place.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if cfg.Server.DefaultRequestTimeout == 0 {
		cfg.Server.DefaultRequestTimeout = DefaultRequestTimeout
	}
	if cfg.Server.MaxRequestTimeout == 0 {
		cfg.Server.MaxRequestTimeout = DefaultMaxRequestTimeout
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}

	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.Timeout == 0 {
			p.Timeout = DefaultProviderTimeout
		}
		if p.DialTimeout == 0 {
			p.DialTimeout = DefaultProviderDialTimeout
		}
		if p.MaxRetries == 0 {
			p.MaxRetries = DefaultProviderMaxRetries
		}
		if p.ProbeInterval == 0 {
			p.ProbeInterval = DefaultProviderProbeInterval
		}
		if p.RecoveryProbes == 0 {
			p.RecoveryProbes = DefaultRecoveryProbes
		}
		if p.MaxIdleConns == 0 {
			p.MaxIdleConns = DefaultMaxIdleConns
		}
		if p.MaxIdleConnsPerHost == 0 {
			p.MaxIdleConnsPerHost = DefaultMaxIdleConnsPerHost
		}
		if p.IdleConnTimeout == 0 {
			p.IdleConnTimeout = DefaultIdleConnTimeout
		}
		for j := range p.Models {
			if p.Models[j].UpstreamName == "" {
				p.Models[j].UpstreamName = p.Models[j].Name
			}
		}
	}

	if cfg.Routing.Strategy == "" {
		cfg.Routing.Strategy = DefaultRoutingStrategy
	}

	if cfg.Wallet.Backend == "" {
		cfg.Wallet.Backend = DefaultWalletBackend
	}
	if cfg.Wallet.ResetSchedule == "" {
		cfg.Wallet.ResetSchedule = DefaultWalletResetSchedule
	}
	if cfg.Wallet.TransactionTimeout == 0 {
		cfg.Wallet.TransactionTimeout = DefaultWalletTxTimeout
	}

	if cfg.Ledger.Backend == "" {
		cfg.Ledger.Backend = DefaultLedgerBackend
	}
	if cfg.Ledger.AsyncBuffer == 0 {
		cfg.Ledger.AsyncBuffer = DefaultLedgerAsyncBuffer
	}
	if cfg.Ledger.WriteTimeout == 0 {
		cfg.Ledger.WriteTimeout = DefaultLedgerWriteTimeout
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = DefaultLedgerRetentionDays
	}

	if cfg.Cache.SimilarityThreshold == 0 {
		cfg.Cache.SimilarityThreshold = DefaultCacheSimilarityThreshold
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = DefaultCacheTTL
	}
	if cfg.Cache.MaxEntriesPerTenant == 0 {
		cfg.Cache.MaxEntriesPerTenant = DefaultCacheMaxEntriesPerTenant
	}
	if cfg.Cache.EmbedderConcurrency == 0 {
		cfg.Cache.EmbedderConcurrency = DefaultCacheEmbedderConcurrency
	}
	if cfg.Cache.LookupTimeout == 0 {
		cfg.Cache.LookupTimeout = DefaultCacheLookupTimeout
	}

	if cfg.RateLimit.Backend == "" {
		cfg.RateLimit.Backend = DefaultRateLimitBackend
	}
	if cfg.RateLimit.TenantRPM == 0 {
		cfg.RateLimit.TenantRPM = DefaultTenantRPM
	}
	if cfg.RateLimit.ActorRPM == 0 {
		cfg.RateLimit.ActorRPM = DefaultActorRPM
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = DefaultRateLimitBurst
	}
	if cfg.RateLimit.PolicyID == "" {
		cfg.RateLimit.PolicyID = DefaultRateLimitPolicy
	}

	if cfg.Scan.PIIAction == "" {
		cfg.Scan.PIIAction = DefaultScanAction
	}
	if cfg.Scan.SecretAction == "" {
		cfg.Scan.SecretAction = DefaultScanAction
	}
	if cfg.Scan.InjectionAction == "" {
		cfg.Scan.InjectionAction = DefaultScanAction
	}
	if cfg.Scan.InjectionBlockScore == 0 {
		cfg.Scan.InjectionBlockScore = DefaultInjectionBlockScore
	}

	if cfg.Policy.Timeout == 0 {
		cfg.Policy.Timeout = DefaultPolicyTimeout
	}

	if cfg.Analytics.BufferSize == 0 {
		cfg.Analytics.BufferSize = DefaultAnalyticsBufferSize
	}

	for i := range cfg.Tenants {
		t := &cfg.Tenants[i]
		if t.Cache.SimilarityThreshold == 0 {
			t.Cache.SimilarityThreshold = cfg.Cache.SimilarityThreshold
		}
		if t.Cache.TTL == 0 {
			t.Cache.TTL = cfg.Cache.TTL
		}
		if t.Cache.MaxEntries == 0 {
			t.Cache.MaxEntries = cfg.Cache.MaxEntriesPerTenant
		}
	}
}
