package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/upb/hive/config"
	"github.com/upb/hive/internal/observability"
	"github.com/upb/hive/repositories"
	"github.com/upb/hive/repositories/postgres"
	"github.com/upb/hive/services/cache"
	"github.com/upb/hive/services/classifier"
	"github.com/upb/hive/services/hive"
	"github.com/upb/hive/services/ledger"
	"github.com/upb/hive/services/providers"
	"github.com/upb/hive/services/providers/anthropic"
	"github.com/upb/hive/services/providers/gateway"
	"github.com/upb/hive/services/providers/gemini"
	"github.com/upb/hive/services/providers/openai"
	"github.com/upb/hive/services/routing"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB // nil when no database is configured
	Logger *zap.Logger

	// Observability
	Metrics           observability.Metrics
	prometheusMetrics *observability.PrometheusMetrics

	// Dispatch ledger, nil without a database
	Dispatches repositories.DispatchRepository
	Ledger     *ledger.Service

	// Routing
	Registry *providers.Registry
	Router   *routing.Service
	Adapters map[providers.Family]providers.Adapter
	Cache    *cache.ResponseCache
	Hive     *hive.Hive

	stopCleanup chan struct{}
	closeOnce   sync.Once
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:      cfg,
		Logger:      logger,
		stopCleanup: make(chan struct{}),
	}

	deps.initMetrics(cfg)

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := deps.initLedger(cfg); err != nil {
		deps.closeDB()
		return nil, fmt.Errorf("failed to initialize dispatch ledger: %w", err)
	}

	if err := deps.initProviders(cfg); err != nil {
		deps.stopLedger()
		deps.closeDB()
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	deps.initCache(cfg)
	deps.initHive(cfg)

	logger.Info("all dependencies initialized successfully",
		zap.Int("providers", deps.Registry.Len()),
		zap.Bool("ledger", deps.Ledger != nil),
		zap.Bool("metrics", cfg.Observability.MetricsEnabled))
	return deps, nil
}

func (d *Dependencies) initMetrics(cfg *config.Config) {
	if !cfg.Observability.MetricsEnabled {
		d.Metrics = observability.NopMetrics{}
		return
	}
	d.prometheusMetrics = observability.NewPrometheusMetrics()
	d.Metrics = d.prometheusMetrics
}

// initDatabase connects to PostgreSQL and creates the ledger schema
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	if !cfg.Database.Enabled {
		d.Logger.Info("database not configured, dispatch ledger disabled")
		return nil
	}

	db, err := postgres.NewDB(cfg.Database, d.Logger)
	if err != nil {
		return err
	}

	if err := db.InitSchema(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	d.DB = db
	d.Logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))
	return nil
}

func (d *Dependencies) initLedger(cfg *config.Config) error {
	if d.DB == nil {
		return nil
	}

	d.Dispatches = postgres.NewDispatchRepository(d.DB, d.Logger)
	d.Ledger = ledger.NewService(d.Dispatches, d.Logger, ledger.Config{
		BufferSize:  cfg.Ledger.BufferSize,
		WorkerCount: cfg.Ledger.WorkerCount,
	})
	if err := d.Ledger.Start(); err != nil {
		return err
	}

	if d.prometheusMetrics != nil {
		d.prometheusMetrics.RegisterLedger(ledgerStats(d.Ledger))
	}
	return nil
}

// ledgerStats adapts the ledger's counters to the metrics exporter
func ledgerStats(l *ledger.Service) func() observability.LedgerStats {
	return func() observability.LedgerStats {
		s := l.GetStats()
		return observability.LedgerStats{Pending: s.PendingRecords, Dropped: s.Dropped}
	}
}

// initProviders builds the registry from the catalog and one adapter per family
func (d *Dependencies) initProviders(cfg *config.Config) error {
	catalog := providers.DefaultCatalog()
	if cfg.Providers.CatalogFile != "" {
		loaded, err := providers.LoadCatalog(cfg.Providers.CatalogFile)
		if err != nil {
			return err
		}
		catalog = loaded
		d.Logger.Info("loaded provider catalog", zap.String("path", cfg.Providers.CatalogFile))
	}
	providers.ApplyOverrides(catalog, cfg.Providers.Endpoints, cfg.Providers.Models)

	registry, err := providers.NewRegistry(catalog, d.Logger)
	if err != nil {
		return err
	}

	for _, p := range catalog {
		if p.Enabled && !registry.HasAPIKey(p.ID) {
			d.Logger.Warn("provider has no API key, it will be skipped",
				zap.String("provider", p.ID),
				zap.String("env", p.APIKeyEnv))
		}
	}

	httpClient := providers.NewHTTPClient(cfg.Providers.HTTPTimeout)
	d.Adapters = map[providers.Family]providers.Adapter{
		providers.FamilyOpenAI:    openai.NewAdapter(httpClient),
		providers.FamilyAnthropic: anthropic.NewAdapter(httpClient),
		providers.FamilyGemini:    gemini.NewAdapter(httpClient),
		providers.FamilyGateway:   gateway.NewAdapter(httpClient, nil),
	}

	d.Registry = registry
	d.Router = routing.NewService(registry, d.Logger)
	return nil
}

func (d *Dependencies) initCache(cfg *config.Config) {
	d.Cache = cache.New(cfg.Hive.CacheTTL, cfg.Hive.CacheMaxEntries)

	interval := cfg.Hive.CacheCleanupInterval
	if interval <= 0 {
		interval = cfg.Hive.CacheTTL
	}
	go d.Cache.StartCleanupWorker(interval, d.stopCleanup)
}

func (d *Dependencies) initHive(cfg *config.Config) {
	opts := []hive.Option{hive.WithMetrics(d.Metrics)}
	if d.Ledger != nil {
		opts = append(opts, hive.WithLedger(d.Ledger))
	}

	d.Hive = hive.New(
		hive.Config{
			AttemptTimeout:     cfg.Hive.AttemptTimeout,
			DefaultMaxTokens:   cfg.Hive.DefaultMaxTokens,
			DefaultTemperature: cfg.Hive.DefaultTemperature,
		},
		d.Registry,
		d.Router,
		d.Adapters,
		classifier.New(cfg.Hive.ServerErrorPenalty, d.Logger),
		d.Cache,
		d.Logger,
		opts...,
	)

	// seed the availability gauge
	d.Hive.ProviderStatus()
}

// MetricsHandler serves the Prometheus registry, or nil when metrics are off
func (d *Dependencies) MetricsHandler() http.Handler {
	if d.prometheusMetrics == nil {
		return nil
	}
	return d.prometheusMetrics.Handler()
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	var errs []error

	d.closeOnce.Do(func() {
		d.Logger.Info("shutting down dependencies")

		close(d.stopCleanup)

		if err := d.stopLedger(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop dispatch ledger: %w", err))
		}

		if err := d.closeDB(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}

		if d.Logger != nil {
			_ = d.Logger.Sync()
		}
	})

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}
	return nil
}

func (d *Dependencies) stopLedger() error {
	if d.Ledger == nil {
		return nil
	}
	return d.Ledger.Stop(d.Config.Ledger.StopTimeout)
}

func (d *Dependencies) closeDB() error {
	if d.DB == nil {
		return nil
	}
	if err := d.DB.Close(); err != nil {
		return err
	}
	d.Logger.Info("database connection closed")
	return nil
}
