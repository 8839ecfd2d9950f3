package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"strato-hq/aegis/pkg/analytics"
	"strato-hq/aegis/pkg/cache"
	"strato-hq/aegis/pkg/config"
	"strato-hq/aegis/pkg/ledger"
	"strato-hq/aegis/pkg/metering"
	"strato-hq/aegis/pkg/policy"
	"strato-hq/aegis/pkg/providers"
	"strato-hq/aegis/pkg/proxy/handlers"
	"strato-hq/aegis/pkg/proxy/middleware"
	"strato-hq/aegis/pkg/ratelimit"
	"strato-hq/aegis/pkg/routing"
	"strato-hq/aegis/pkg/security/auth"
	"strato-hq/aegis/pkg/security/scan"
	"strato-hq/aegis/pkg/security/secrets"
	"strato-hq/aegis/pkg/telemetry/health"
	"strato-hq/aegis/pkg/telemetry/logging"
	"strato-hq/aegis/pkg/telemetry/metrics"
	"strato-hq/aegis/pkg/wallet"

	// Connector adapters register their factories at init time.
	_ "strato-hq/aegis/pkg/providers/anthropic"
	_ "strato-hq/aegis/pkg/providers/generic"
	_ "strato-hq/aegis/pkg/providers/openai"
)

// Version is stamped by the build.
var Version = "dev"

// Server is the assembled gateway.
type Server struct {
	cfg    *config.Config
	logger *logging.Logger

	httpServer *http.Server

	registry    *providers.Registry
	prober      *providers.Prober
	router      *routing.Router
	rulesWatch  *routing.Watcher
	wallets     *wallet.Service
	walletStore wallet.Store
	scheduler   *wallet.Scheduler
	ledgerRec   *ledger.Recorder
	ledgerStore ledger.Storage
	cacheEngine *cache.Engine
	sink        *analytics.Sink
	redisClient *redis.Client

	pruneDone chan struct{}
	sweepDone chan struct{}
}

// New assembles a gateway from configuration.
func New(cfg *config.Config) (*Server, error) {
	logger, err := logging.New(logging.Config{
		Level:           cfg.Logging.Level,
		Format:          cfg.Logging.Format,
		AddSource:       cfg.Logging.AddSource,
		RedactSensitive: cfg.Logging.RedactSensitive,
		RedactPatterns:  cfg.Logging.RedactPatterns,
	})
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	slogger := logger.Slog()

	s := &Server{cfg: cfg, logger: logger}

	// Secret store: environment backend with a request-path cache.
	secretMgr := secrets.NewManager(
		[]secrets.Provider{secrets.NewEnvProvider("")},
		secrets.CacheConfig{Enabled: true, TTL: 5 * time.Minute},
	)

	// Connector registry and background prober.
	providerConfigs := make([]providers.Config, 0, len(cfg.Providers))
	prices := metering.NewPriceTable()
	for _, p := range cfg.Providers {
		pc := providers.Config{
			Name:                p.Name,
			Kind:                p.Kind,
			BaseURL:             p.BaseURL,
			APIKeyRef:           p.APIKeyRef,
			Priority:            p.Priority,
			Regions:             p.Regions,
			Timeout:             p.Timeout,
			DialTimeout:         p.DialTimeout,
			MaxIdleConns:        p.MaxIdleConns,
			MaxIdleConnsPerHost: p.MaxIdleConnsPerHost,
			IdleConnTimeout:     p.IdleConnTimeout,
			RequestsPerMinute:   p.RequestsPerMinute,
			TokensPerMinute:     p.TokensPerMinute,
			ProbeInterval:       p.ProbeInterval,
			RecoveryProbes:      p.RecoveryProbes,
		}
		for _, m := range p.Models {
			caps := make([]providers.Capability, 0, len(m.Capabilities))
			for _, c := range m.Capabilities {
				caps = append(caps, providers.Capability(c))
			}
			pc.Models = append(pc.Models, providers.ModelInfo{
				Name:             m.Name,
				UpstreamName:     m.UpstreamName,
				InputPricePer1M:  m.InputPricePer1M,
				OutputPricePer1M: m.OutputPricePer1M,
				ContextWindow:    m.ContextWindow,
				Capabilities:     caps,
			})
			prices.Set(metering.ModelPrice{
				Provider:    p.Name,
				Model:       m.Name,
				InputPer1M:  m.InputPricePer1M,
				OutputPer1M: m.OutputPricePer1M,
			})
		}
		providerConfigs = append(providerConfigs, pc)
	}

	registry, err := providers.NewRegistry(providerConfigs, secretMgr)
	if err != nil {
		return nil, fmt.Errorf("building connector registry: %w", err)
	}
	s.registry = registry
	s.prober = providers.NewProber(registry.All(), slogger)

	// Router and rules.
	var rules []routing.Rule
	if cfg.Routing.RulesFile != "" {
		rules, err = routing.LoadRules(cfg.Routing.RulesFile)
		if err != nil {
			return nil, fmt.Errorf("loading routing rules: %w", err)
		}
	}
	s.router = routing.NewRouter(registry, routing.Strategy(cfg.Routing.Strategy), rules, slogger)
	if cfg.Routing.Watch && cfg.Routing.RulesFile != "" {
		s.rulesWatch, err = routing.NewWatcher(s.router, cfg.Routing.RulesFile, slogger)
		if err != nil {
			return nil, fmt.Errorf("watching routing rules: %w", err)
		}
	}

	// Wallet service.
	switch cfg.Wallet.Backend {
	case "sqlite":
		s.walletStore, err = wallet.NewSQLiteStore(cfg.Wallet.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("opening wallet store: %w", err)
		}
	default:
		s.walletStore = wallet.NewMemoryStore()
	}
	s.wallets = wallet.NewService(s.walletStore, wallet.ServiceConfig{
		TransactionTimeout: cfg.Wallet.TransactionTimeout,
		Logger:             slogger,
	})
	if err := seedWallets(s.walletStore, cfg.Wallet.Wallets); err != nil {
		return nil, fmt.Errorf("seeding wallets: %w", err)
	}

	// Ledger.
	switch cfg.Ledger.Backend {
	case "sqlite":
		s.ledgerStore, err = ledger.NewSQLiteStorage(cfg.Ledger.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("opening ledger storage: %w", err)
		}
	default:
		s.ledgerStore = ledger.NewMemoryStorage()
	}
	s.ledgerRec = ledger.NewRecorder(s.ledgerStore, ledger.Config{
		AsyncBuffer:  cfg.Ledger.AsyncBuffer,
		WriteTimeout: cfg.Ledger.WriteTimeout,
		Logger:       slogger,
	})

	// Wallet reset scheduler appends its audit entries to the ledger.
	s.scheduler = wallet.NewScheduler(s.wallets, s.ledgerRec, slogger)

	// Semantic cache.
	var embedder cache.Embedder = cache.HashingEmbedder{}
	if cfg.Cache.EmbedderProvider != "" {
		if p := registry.Get(cfg.Cache.EmbedderProvider); p != nil {
			embedder = cache.NewProviderEmbedder(p, cfg.Cache.EmbedderModel)
		}
	}
	s.cacheEngine = cache.NewEngine(
		cache.NewBoundedEmbedder(embedder, cfg.Cache.EmbedderConcurrency),
		cfg.Cache.ModelTTLOverrides,
		slogger,
	)

	// Analytics sink: JSON lines to stdout by default; the production
	// deployment points this at the time-series collaborator.
	s.sink = analytics.NewSink(analytics.NewJSONLinesWriter(os.Stdout), cfg.Analytics.BufferSize, slogger)

	// Policy evaluator.
	var engine *policy.Engine
	if cfg.Policy.File != "" {
		engine, err = policy.LoadEngine(cfg.Policy.File)
		if err != nil {
			return nil, fmt.Errorf("loading policy rules: %w", err)
		}
	} else {
		engine = policy.NewEngine(nil)
	}
	evaluator := &policy.Bounded{
		Inner:    engine,
		Timeout:  cfg.Policy.Timeout,
		FailOpen: cfg.Policy.FailOpen,
	}

	// Rate limiter.
	var limiter ratelimit.Limiter = ratelimit.NewMemoryLimiter()
	if cfg.RateLimit.Backend == "redis" {
		s.redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.RedisAddr,
			Password: cfg.RateLimit.RedisPassword,
			DB:       cfg.RateLimit.RedisDB,
		})
		limiter = ratelimit.NewRedisLimiter(s.redisClient)
	}

	// Scanner.
	scanner := scan.NewScanner(scan.Config{
		PIIAction:           scan.Action(cfg.Scan.PIIAction),
		SecretAction:        scan.Action(cfg.Scan.SecretAction),
		InjectionAction:     scan.Action(cfg.Scan.InjectionAction),
		InjectionBlockScore: cfg.Scan.InjectionBlockScore,
	})

	// Authentication.
	keys := make([]auth.KeyEntry, 0, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		key := k.Key
		if resolved, err := secretMgr.GetSecret(context.Background(), key); err == nil {
			key = resolved
		}
		keys = append(keys, auth.KeyEntry{
			Key: key,
			Principal: auth.Principal{
				Tenant:   k.Tenant,
				Actor:    k.Actor,
				Team:     k.Team,
				WalletID: k.WalletID,
				Kind:     auth.ActorKind(k.Kind),
			},
		})
	}
	authenticator := auth.NewAuthenticator(auth.Config{
		Keys:         keys,
		JWTSecretRef: cfg.Auth.JWTSecretRef,
		JWTIssuer:    cfg.Auth.JWTIssuer,
		Secrets:      secretMgr,
	})

	collector := metrics.NewCollector()

	// Handler dependencies.
	tenants := make(map[string]config.TenantConfig, len(cfg.Tenants))
	for _, t := range cfg.Tenants {
		tenants[t.ID] = t
	}
	deps := &handlers.Deps{
		Logger:             slogger,
		Router:             s.router,
		Wallets:            s.wallets,
		Ledger:             s.ledgerRec,
		Cache:              s.cacheEngine,
		Policy:             evaluator,
		Counter:            metering.NewCounter(),
		Costs:              metering.NewCostEngine(prices),
		Analytics:          s.sink,
		Metrics:            collector,
		Tenants:            tenants,
		CacheLookupTimeout: cfg.Cache.LookupTimeout,
		PolicyEngine:       engine,
	}

	// Health checks.
	checker := health.NewChecker()
	checker.Register("connectors", func(ctx context.Context) (health.Status, string) {
		healthy, degraded := 0, 0
		for _, p := range registry.All() {
			switch p.Health().State() {
			case providers.StateHealthy:
				healthy++
			case providers.StateDegraded:
				degraded++
			}
		}
		switch {
		case healthy > 0:
			return health.StatusHealthy, ""
		case degraded > 0:
			return health.StatusDegraded, "only degraded connectors available"
		default:
			return health.StatusUnhealthy, "no connector available"
		}
	})
	checker.Register("wallet_store", func(ctx context.Context) (health.Status, string) {
		if _, err := s.walletStore.List(ctx, ""); err != nil {
			return health.StatusUnhealthy, err.Error()
		}
		return health.StatusHealthy, ""
	})

	// Routes and the middleware chain, in the authoritative order.
	mux := http.NewServeMux()
	chain := func(h http.Handler) http.Handler {
		return middleware.Chain(h,
			middleware.Recovery(slogger),
			middleware.Auth(authenticator),
			middleware.Correlation,
			middleware.AccessLog(slogger),
			middleware.RateLimit(limiter, middleware.RateLimitConfig{
				TenantRPM: cfg.RateLimit.TenantRPM,
				ActorRPM:  cfg.RateLimit.ActorRPM,
				Burst:     cfg.RateLimit.Burst,
				PolicyID:  cfg.RateLimit.PolicyID,
			}, slogger),
			middleware.Headers(Version),
			middleware.Timeout(cfg.Server.DefaultRequestTimeout, cfg.Server.MaxRequestTimeout),
			middleware.SecurityScan(scanner, nil, nil, slogger),
			middleware.WalletCheck(s.wallets, deps.Costs, slogger),
		)
	}

	mux.Handle("/v1/chat/completions", chain(handlers.NewChatHandler(deps)))
	mux.Handle("/v1/completions", chain(handlers.NewCompletionsHandler(deps)))
	mux.Handle("/v1/embeddings", chain(handlers.NewEmbeddingsHandler(deps)))
	mux.Handle("/v1/wallet/balance", chain(handlers.NewWalletHandler(deps)))
	mux.Handle("/v1/analytics/cost", chain(handlers.NewAnalyticsHandler(deps)))
	mux.Handle("/v1/routes", chain(handlers.NewRoutesHandler(deps)))
	mux.Handle("/v1/policies", chain(handlers.NewPoliciesHandler(deps)))

	mux.Handle("/healthz", health.LivenessHandler())
	mux.Handle("/readyz", checker.ReadinessHandler())
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, collector.Handler())
	}

	s.httpServer = &http.Server{
		Addr:           cfg.Server.ListenAddress,
		Handler:        mux,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	return s, nil
}

// Handler returns the assembled route handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start launches the background workers and the listener. Blocks until
// the listener stops.
func (s *Server) Start() error {
	s.prober.Start()
	if err := s.scheduler.Start(s.cfg.Wallet.ResetSchedule); err != nil {
		return fmt.Errorf("starting wallet scheduler: %w", err)
	}

	// Content retention: prune request payloads past the horizon daily.
	// Chain metadata (sequence, hashes) is kept.
	if sqliteLedger, ok := s.ledgerStore.(*ledger.SQLiteStorage); ok && s.cfg.Ledger.RetentionDays > 0 {
		s.pruneDone = make(chan struct{})
		go func() {
			ticker := time.NewTicker(24 * time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-s.pruneDone:
					return
				case <-ticker.C:
					horizon := time.Now().AddDate(0, 0, -s.cfg.Ledger.RetentionDays)
					ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
					pruned, err := sqliteLedger.PruneContent(ctx, horizon)
					cancel()
					if err != nil {
						s.logger.Error("ledger retention prune failed", "error", err)
					} else if pruned > 0 {
						s.logger.Info("ledger retention prune", "records", pruned)
					}
				}
			}
		}()
	}

	// Expired cache entries are dropped lazily on lookup; the sweep
	// reclaims memory for tenants that went quiet.
	s.sweepDone = make(chan struct{})
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-s.sweepDone:
				return
			case <-ticker.C:
				if removed := s.cacheEngine.Sweep(); removed > 0 {
					s.logger.Debug("cache sweep", "expired", removed)
				}
			}
		}
	}()

	s.logger.Info("gateway listening",
		"address", s.cfg.Server.ListenAddress,
		"tls", s.cfg.Server.TLS.Enabled,
		"providers", len(s.cfg.Providers),
	)

	var err error
	if s.cfg.Server.TLS.Enabled {
		err = s.httpServer.ListenAndServeTLS(s.cfg.Server.TLS.CertFile, s.cfg.Server.TLS.KeyFile)
	} else {
		err = s.httpServer.ListenAndServe()
	}
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops background workers.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownErr := s.httpServer.Shutdown(ctx)

	if s.pruneDone != nil {
		close(s.pruneDone)
	}
	if s.sweepDone != nil {
		close(s.sweepDone)
	}
	s.prober.Stop()
	s.scheduler.Stop()
	if s.rulesWatch != nil {
		s.rulesWatch.Close()
	}
	s.sink.Close()
	s.ledgerRec.Close()
	s.ledgerStore.Close()
	s.walletStore.Close()
	s.registry.Close()
	if s.redisClient != nil {
		s.redisClient.Close()
	}

	s.logger.Info("gateway stopped")
	return shutdownErr
}

// seedWallets inserts configured wallet nodes that do not exist yet,
// parents before children.
func seedWallets(store wallet.Store, nodes []config.WalletNodeConfig) error {
	ctx := context.Background()

	pending := append([]config.WalletNodeConfig(nil), nodes...)
	for len(pending) > 0 {
		progressed := false
		var next []config.WalletNodeConfig

		for _, n := range pending {
			if _, err := store.Get(ctx, n.ID); err == nil {
				progressed = true
				continue
			}
			if n.Parent != "" {
				if _, err := store.Get(ctx, n.Parent); err != nil {
					next = append(next, n)
					continue
				}
			}

			w := &wallet.Wallet{
				ID:             n.ID,
				Tenant:         n.Tenant,
				ParentID:       n.Parent,
				Kind:           wallet.Kind(n.Kind),
				HardLimit:      n.HardLimit,
				Overdraft:      n.Overdraft,
				SoftThresholds: n.SoftThresholds,
				ResetPeriod:    wallet.ResetPeriod(n.ResetPeriod),
			}
			if err := store.Create(ctx, w); err != nil {
				return err
			}
			progressed = true
		}

		if !progressed {
			return fmt.Errorf("wallet seed has unresolvable parents: %d nodes remain", len(next))
		}
		pending = next
	}

	return nil
}
