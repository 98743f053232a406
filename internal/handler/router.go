package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/duesledger/duesledger/internal/middleware"
)

// RouterConfig collects what NewRouter wires together.
type RouterConfig struct {
	Logger        *slog.Logger
	Handler       *Handler
	Health        *HealthHandler
	Metrics       http.Handler
	PrivateAPI    middleware.PrivateAPIConfig
	RateLimit     middleware.RateLimitConfig
	CORSOrigins   []string
	IsDevelopment bool
}

// NewRouter builds the chi router serving the whole API.
func NewRouter(cfg RouterConfig) *chi.Mux {
	h := cfg.Handler
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recoverer(cfg.Logger))
	r.Use(middleware.SecureHeaders(cfg.IsDevelopment))

	r.Get("/healthz", cfg.Health.Healthz)
	r.Get("/readyz", cfg.Health.Readyz)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RateLimitIP(cfg.RateLimit))

		r.Group(func(r chi.Router) {
			r.Use(middleware.PublicCORS(cfg.CORSOrigins))
			r.Get("/month/{year}/{month}.json", h.Month)
			r.Get("/mana.json", h.Mana)
			r.Get("/months_due/{file}", h.MonthsDue)
			r.Get("/members.json", h.MemberList)
		})

		r.With(middleware.PrivateAPI(cfg.PrivateAPI)).Post("/{method}", h.Private)
	})

	r.NotFound(h.NotFound)
	r.MethodNotAllowed(h.MethodNotAllowed)

	return r
}
