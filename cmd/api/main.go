// Package main is the entrypoint for the dues ledger API server.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/duesledger/duesledger/internal/app"
	"github.com/duesledger/duesledger/internal/auth"
	"github.com/duesledger/duesledger/internal/config"
	"github.com/duesledger/duesledger/internal/handler"
	"github.com/duesledger/duesledger/internal/importer"
	"github.com/duesledger/duesledger/internal/metrics"
	"github.com/duesledger/duesledger/internal/middleware"
	"github.com/duesledger/duesledger/internal/server"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := app.NewLogger(cfg, os.Stdout)
	recorder := metrics.NewPrometheus()

	a, err := app.Open(ctx, cfg, logger, app.Options{Recorder: recorder})
	if err != nil {
		logger.Error("failed to start", slog.String("error", err.Error()))
		os.Exit(1)
	}

	srv := server.New(newRouter(a, recorder), server.Options{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)

	srv.OnShutdown("ledger", func(context.Context) error {
		a.Close()
		return nil
	})

	if cfg.StatementDir != "" {
		w, err := importer.NewWatcher(cfg.StatementDir, a.Reconcile, logger, importer.DefaultDebounce)
		if err != nil {
			logger.Error("failed to watch statement directory",
				slog.String("dir", cfg.StatementDir),
				slog.String("error", err.Error()),
			)
			a.Close()
			os.Exit(1)
		}
		srv.Go("statement-watcher", w.Run)
		srv.OnShutdown("statement-watcher", func(context.Context) error {
			return w.Close()
		})
	}

	logger.Info("starting server",
		slog.Int("port", cfg.AppPort),
		slog.String("env", cfg.AppEnv),
		slog.String("storage", cfg.StorageDriver),
		slog.Bool("redis", a.Cache != nil),
	)

	if err := srv.Run(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// newRouter wires the handlers and middleware around the opened ledger.
func newRouter(a *app.App, recorder *metrics.PrometheusRecorder) http.Handler {
	cfg := a.Config

	checks := map[string]handler.HealthChecker{"database": a.Store, "redis": nil}
	rateLimit := middleware.RateLimitConfig{
		Logger:  a.Logger,
		Enabled: cfg.RateLimitEnabled,
		RPS:     cfg.RateLimitRPS,
		Burst:   cfg.RateLimitBurst,
	}
	if a.Cache != nil {
		checks["redis"] = a.Cache
		rateLimit.Limiter = a.Cache
	}

	h := handler.New(a.Logger, a.Stats, a.Members, a.Reconcile)

	return handler.NewRouter(handler.RouterConfig{
		Logger:  a.Logger,
		Handler: h,
		Health:  handler.NewHealthHandler(checks),
		Metrics: recorder.Handler(),
		PrivateAPI: middleware.PrivateAPIConfig{
			Logger:        a.Logger,
			Authenticator: auth.NewVerifier(a.Store, a.Sealer, a.Logger),
			Recorder:      recorder,
			MaxBodySize:   cfg.MaxRequestBodySize,
		},
		RateLimit:     rateLimit,
		CORSOrigins:   cfg.CORSAllowedOrigins,
		IsDevelopment: cfg.IsDevelopment(),
	})
}
