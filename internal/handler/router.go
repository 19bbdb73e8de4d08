package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yourorg/booklending/internal/domain"
	"github.com/yourorg/booklending/internal/observability/metrics"
	"github.com/yourorg/booklending/internal/security"
	"github.com/yourorg/booklending/internal/security/audit"
	"github.com/yourorg/booklending/internal/security/middleware"
	"github.com/yourorg/booklending/internal/security/ratelimit"
)

const maxBodyBytes = 1 << 20

// RouterConfig holds everything the HTTP surface is built from
type RouterConfig struct {
	Auth          *AuthHandler
	Books         *BookHandler
	Transactions  *TransactionHandler
	Health        *HealthHandler
	Authenticator *middleware.Authenticator
	Guard         *security.Guard
	Audit         *audit.Logger
	Limiter       ratelimit.Limiter
	CORSOrigins   []string
	Logger        *slog.Logger
}

// NewRouter mounts the API under /api/v1 plus the operational endpoints.
func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(log))
	r.Use(chimw.Recoverer)
	r.Use(metrics.HTTPMetricsMiddleware)
	r.Use(middleware.CORS(cfg.CORSOrigins))

	r.Get("/healthz", cfg.Health.Health)
	r.Get("/readyz", cfg.Health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.LimitBody(maxBodyBytes))
		r.Use(middleware.ValidateJSONContentType(log))

		// Public routes are limited per client address.
		r.Group(func(r chi.Router) {
			if cfg.Limiter != nil {
				r.Use(middleware.RateLimit(cfg.Limiter, log))
			}
			r.Post("/users/register", cfg.Auth.Register)
			r.Post("/users/login", cfg.Auth.Login)
			r.Get("/books", cfg.Books.List)
			r.Get("/books/{id}", cfg.Books.Get)
		})

		r.Group(func(r chi.Router) {
			r.Use(cfg.Authenticator.Middleware)
			if cfg.Limiter != nil {
				r.Use(middleware.RateLimit(cfg.Limiter, log))
			}

			r.Route("/transactions", cfg.Transactions.Routes)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(cfg.Guard, cfg.Audit, domain.RoleManager))
				r.Post("/books", cfg.Books.Create)
				r.Put("/books/{id}", cfg.Books.Update)
				r.Delete("/books/{id}", cfg.Books.Delete)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	return r
}
