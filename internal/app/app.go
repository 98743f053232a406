// Package app assembles a ledger from configuration: storage, page cache,
// policy and the services built on them. The API server and duesctl both
// start from Open.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/duesledger/duesledger/internal/auth"
	"github.com/duesledger/duesledger/internal/cache"
	"github.com/duesledger/duesledger/internal/config"
	"github.com/duesledger/duesledger/internal/ledger"
	"github.com/duesledger/duesledger/internal/metrics"
	"github.com/duesledger/duesledger/internal/repository"
	"github.com/duesledger/duesledger/internal/repository/sqlite"
	"github.com/duesledger/duesledger/internal/service"
)

// App holds the opened dependencies and services.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Policy   config.Policy
	Store    ledger.Store
	Cache    *cache.Cache // nil when REDIS_URL is unset
	Sealer   *auth.Sealer
	Recorder metrics.Recorder

	Members   *service.MemberService
	Reconcile *service.ReconcileService
	Stats     *service.StatsService
	APIKeys   *service.APIKeyService
}

// Options tune Open.
type Options struct {
	// Recorder receives metrics. Nil means no-op.
	Recorder metrics.Recorder
	// Now overrides the clock used by the services.
	Now func() time.Time
}

// Open connects to storage (and Redis when configured), applies schema
// migrations and builds the services.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}

	sealer, err := auth.NewSealer(cfg.APIKeySealKey)
	if err != nil {
		return nil, fmt.Errorf("invalid API_KEY_SEAL_KEY: %w", err)
	}

	store, err := OpenStore(ctx, cfg.StorageDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open %s ledger: %s", cfg.StorageDriver, SanitizeError(err, cfg.DatabaseURL))
	}
	logger.Info("ledger opened",
		slog.String("driver", cfg.StorageDriver),
		slog.String("database_url", RedactURL(cfg.DatabaseURL)),
	)

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Policy:   policy,
		Store:    store,
		Sealer:   sealer,
		Recorder: opts.Recorder,
	}
	if a.Recorder == nil {
		a.Recorder = metrics.NewNoop()
	}

	if cfg.RedisURL != "" {
		c, err := cache.New(ctx, cfg.RedisURL)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("connect to Redis: %s", SanitizeError(err, cfg.RedisURL))
		}
		a.Cache = c
		logger.Info("connected to Redis", slog.String("redis_url", RedactURL(cfg.RedisURL)))
	}

	pages := a.PageCache()
	a.Members = service.NewMemberService(store, pages, policy, a.Recorder, logger, opts.Now)
	a.Reconcile = service.NewReconcileService(store, pages, a.Recorder, logger, opts.Now)
	a.Stats = service.NewStatsService(store, policy, opts.Now)
	a.APIKeys = service.NewAPIKeyService(store, sealer, logger, opts.Now)
	return a, nil
}

// OpenStore opens the ledger for driver and brings its schema up to date.
func OpenStore(ctx context.Context, driver, databaseURL string) (ledger.Store, error) {
	switch driver {
	case config.DriverSQLite:
		return sqlite.New(ctx, databaseURL)
	case config.DriverPostgres:
		repo, err := repository.New(ctx, databaseURL)
		if err != nil {
			return nil, err
		}
		if err := repo.Migrate(ctx); err != nil {
			repo.Close()
			return nil, err
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

// PageCache returns the Redis cache, or a no-op cache without Redis.
func (a *App) PageCache() service.PageCache {
	if a.Cache == nil {
		return cache.Nop{}
	}
	return a.Cache
}

// Close releases storage and cache connections.
func (a *App) Close() {
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.Logger.Warn("failed to close Redis client", slog.String("error", err.Error()))
		}
	}
	a.Store.Close()
}
