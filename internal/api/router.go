// Package api provides the HTTP control API for the registration agent.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/pushlane/pushlane/internal/agent"
	"github.com/pushlane/pushlane/internal/api/handler"
	"github.com/pushlane/pushlane/internal/api/middleware"
	"github.com/pushlane/pushlane/internal/resilience"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version    string
	Logger     zerolog.Logger
	Metrics    *middleware.Metrics
	Agent      *agent.Agent
	Registry   *resilience.Registry
	Tokens     middleware.TokenValidator
	RateLimit  middleware.RateLimitConfig
	RequireTLS bool
}

// NewRouter creates a new chi router with all control API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing())
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))
	r.Use(middleware.ContentTypeJSON)

	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.Agent, cfg.Registry, cfg.Logger)
	registrationHandler := handler.NewRegistrationHandler(cfg.Agent, cfg.Logger)
	namedUserHandler := handler.NewNamedUserHandler(cfg.Agent, cfg.Logger)

	authMiddleware := middleware.Auth(cfg.Tokens)

	r.Route("/v1", func(r chi.Router) {
		// Liveness stays public and unthrottled for probes.
		r.Get("/ops/health", opsHandler.HealthCheck)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(cfg.RateLimit))
			r.Use(authMiddleware)
			r.Use(middleware.RateLimitBySubject(cfg.RateLimit))
			r.Use(middleware.RequireJSON)

			r.Get("/ops/status", opsHandler.SystemStatus)

			r.Post("/registration/update", registrationHandler.UpdateRegistration)
			r.Put("/push", registrationHandler.UpdatePush)

			r.Route("/channel", func(r chi.Router) {
				r.Get("/tags", registrationHandler.GetTags)
				r.Put("/tags", registrationHandler.SetTags)
				r.Post("/tag-groups", registrationHandler.EditTagGroups)
			})

			r.Route("/named-user", func(r chi.Router) {
				r.Put("/", namedUserHandler.SetNamedUser)
				r.Delete("/", namedUserHandler.ClearNamedUser)
				r.Post("/tag-groups", namedUserHandler.EditTagGroups)
			})
		})
	})

	return r
}
