// Package server provides the relay's HTTP surface.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	"github.com/carlossalguero/oauthrelay/services/relay/internal/oauth"
	"github.com/carlossalguero/oauthrelay/services/shared/errors"
	"github.com/carlossalguero/oauthrelay/services/shared/health"
	"github.com/carlossalguero/oauthrelay/services/shared/logger"
	"github.com/carlossalguero/oauthrelay/services/shared/metrics"
)

// Exchanger is the relay operation the handlers expose.
type Exchanger interface {
	Exchange(ctx context.Context, code string) (*oauth.Identity, error)
	AuthorizeURL(state string) string
}

// Config holds router dependencies.
type Config struct {
	Exchanger     Exchanger
	Health        *health.Checker
	Metrics       *metrics.Metrics
	AllowedOrigin string
	Logger        *logger.Logger
}

// NewRouter builds the relay router.
func NewRouter(cfg Config) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	log = log.WithComponent("http")

	checker := cfg.Health
	if checker == nil {
		checker = health.NewChecker()
	}

	h := &handlers{exchanger: cfg.Exchanger, log: log}

	r := chi.NewRouter()
	r.Use(RequestID())
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{cfg.AllowedOrigin},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", RequestIDHeader},
		ExposedHeaders:   []string{RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           600,
	}).Handler)
	r.Use(Tracing("/metrics", "/health/live"))
	r.Use(Logging(log))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.HTTPMiddleware(routePattern))
	}
	r.Use(Recovery(log))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		errors.WriteJSON(w, errors.NotFound("route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		errors.WriteJSON(w, errors.MethodNotAllowed("method not allowed"))
	})

	r.Method(http.MethodGet, "/health", checker.LivenessHandler())
	r.Method(http.MethodGet, "/api/health", checker.LivenessHandler())
	r.Method(http.MethodGet, "/health/live", checker.LivenessHandler())
	r.Method(http.MethodGet, "/health/ready", checker.ReadinessHandler())

	r.Post("/oauth", h.exchange)
	r.Post("/api/github/oauth", h.exchange)
	r.Get("/oauth/authorize", h.authorize)

	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	return r
}

// routePattern labels metrics by matched route so unknown paths share one
// series.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
