package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/gateway-control-plane/internal/handler"
	"github.com/gateway-control-plane/internal/handler/admin"
	"github.com/gateway-control-plane/internal/metrics"
	"github.com/gateway-control-plane/internal/middleware"
	"github.com/gateway-control-plane/internal/sandbox"
	"github.com/gateway-control-plane/internal/service"
)

// Deps are the collaborators the HTTP surface is built from.
type Deps struct {
	Store       handler.HealthStore
	APIKeys     *service.APIKeyService
	Webhooks    *service.WebhookService
	Delivery    *service.DeliveryService
	Sandbox     *sandbox.Executor
	RateLimiter middleware.Limiter
	AuthLimiter *middleware.AuthAttemptLimiter
	Metrics     *metrics.Metrics

	RateLimitWindow time.Duration
	CORSOrigins     []string
	Version         string
}

// NewRouter wires the operator (/admin), gateway (/v1) and ops routes.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(hlog.NewHandler(log.Logger))
	r.Use(requestIDLogger)
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		level := zerolog.InfoLevel
		if status >= http.StatusInternalServerError {
			level = zerolog.WarnLevel
		}
		hlog.FromRequest(r).WithLevel(level).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(chimw.Recoverer)
	r.Use(middleware.Metrics(d.Metrics))
	r.Use(middleware.SecurityHeaders)
	if len(d.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   d.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Api-Key"},
			ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
	r.Use(middleware.RequireJSON)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		handler.RespondError(w, http.StatusNotFound, "not_found", "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		handler.RespondError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	})

	r.Method(http.MethodGet, "/health", handler.NewHealthHandler(d.Store, d.Version))
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	r.Route("/admin", func(r chi.Router) {
		r.Method(http.MethodGet, "/api-keys", admin.NewListAPIKeysHandler(d.APIKeys))
		r.Method(http.MethodPost, "/api-keys", admin.NewCreateAPIKeyHandler(d.APIKeys))
		r.Method(http.MethodDelete, "/api-keys/{id}", admin.NewRevokeAPIKeyHandler(d.APIKeys))

		r.Method(http.MethodGet, "/webhooks", admin.NewListWebhooksHandler(d.Webhooks))
		r.Method(http.MethodPost, "/webhooks", admin.NewCreateWebhookHandler(d.Webhooks))
		r.Method(http.MethodGet, "/webhooks/{id}", admin.NewGetWebhookHandler(d.Webhooks))
		r.Method(http.MethodPatch, "/webhooks/{id}", admin.NewUpdateWebhookHandler(d.Webhooks))
		r.Method(http.MethodDelete, "/webhooks/{id}", admin.NewDeleteWebhookHandler(d.Webhooks))
		r.Method(http.MethodPost, "/webhooks/{id}/test", admin.NewTestWebhookHandler(d.Delivery))

		r.Method(http.MethodPost, "/sandbox", admin.NewSandboxHandler(d.Sandbox))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(d.APIKeys, d.AuthLimiter))
		r.Use(middleware.RateLimitMiddleware(d.RateLimiter, d.Metrics))

		r.Method(http.MethodGet, "/usage", handler.NewUsageHandler(d.APIKeys, d.RateLimiter, d.RateLimitWindow))
		r.Method(http.MethodPost, "/events", handler.NewEventsHandler(d.Delivery))
	})

	return r
}

// requestIDLogger tags the request logger with chi's request id.
func requestIDLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := chimw.GetReqID(r.Context()); id != "" {
			hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("request_id", id)
			})
		}
		next.ServeHTTP(w, r)
	})
}
