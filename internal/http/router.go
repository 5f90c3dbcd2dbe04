// Package httpapi assembles the HTTP surface: global middleware, the /v1 API
// and the operational endpoints.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"credrep/internal/platform/metrics"
	ratelimit "credrep/internal/ratelimit/middleware"
	id "credrep/pkg/domain"
	"credrep/pkg/platform/httputil"
	"credrep/pkg/platform/middleware/admin"
	"credrep/pkg/platform/middleware/auth"
	"credrep/pkg/platform/middleware/metadata"
	request "credrep/pkg/platform/middleware/request"
	"credrep/pkg/platform/middleware/requesttime"
	"credrep/pkg/platform/middleware/version"
)

// DefaultRequestTimeout bounds a single request when Config leaves it unset.
const DefaultRequestTimeout = 30 * time.Second

// Registrar mounts one domain's routes onto the /v1 router.
type Registrar interface {
	Register(r chi.Router, requireAuth func(http.Handler) http.Handler)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

type Config struct {
	Logger            *slog.Logger
	Metrics           *metrics.Metrics
	TokenValidator    auth.JWTValidator
	RevocationChecker auth.TokenRevocationChecker
	AdminTokenHash    string
	RequestTimeout    time.Duration
	// RateLimiter applies per-IP budgets to /v1. Nil disables limiting.
	RateLimiter *ratelimit.Middleware
	// Handlers are mounted under /v1 behind caller authentication.
	Handlers []Registrar
	// Admin is mounted under /v1 behind the admin token.
	Admin Registrar
	// Health maps a dependency name to its probe.
	Health map[string]HealthCheck
}

func NewRouter(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(request.Recovery(logger))
	r.Use(request.RequestID)
	r.Use(request.Logger(logger))
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(metrics.LatencyMiddleware(cfg.Metrics))
	r.Use(request.Timeout(timeout))

	r.Get("/health", healthHandler(cfg.Health))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	requireAuth := func(next http.Handler) http.Handler {
		authed := auth.RequireAuth(cfg.TokenValidator, cfg.RevocationChecker, logger)
		return authed(version.ValidateTokenVersion(logger)(next))
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(version.ExtractVersion(id.APIVersionV1))
		v1.Use(request.ContentTypeJSON)
		if cfg.RateLimiter != nil {
			v1.Use(cfg.RateLimiter.ByMethod())
		}
		for _, h := range cfg.Handlers {
			h.Register(v1, requireAuth)
		}
		if cfg.Admin != nil {
			cfg.Admin.Register(v1, admin.RequireAdminToken(cfg.AdminTokenHash, logger))
		}
	})
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// healthHandler returns 503 when any probe fails.
func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
		status := http.StatusOK
		for name, check := range checks {
			if err := check(r.Context()); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
