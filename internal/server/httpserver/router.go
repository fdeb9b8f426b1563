package httpserver

import (
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/yndnr/rxcheckpoint/internal/server/httpserver/handler"
	"github.com/yndnr/rxcheckpoint/internal/telemetry/metric"
	"github.com/yndnr/rxcheckpoint/internal/telemetry/tracer"
)

// RouterConfig holds configuration for the HTTP router.
type RouterConfig struct {
	// Handler serves the API. Required.
	Handler *handler.Handler

	// Metrics is exposed on MetricsPath and records request metrics. Optional.
	Metrics *metric.Registry

	// MetricsPath defaults to /metrics.
	MetricsPath string

	// Tracer starts a span per request. Optional.
	Tracer *tracer.Provider

	// Logger for request logging.
	Logger *slog.Logger

	// RateLimit is the per-client request rate on API routes; 0 disables.
	RateLimit float64

	// RateBurst is the per-client burst.
	RateBurst int

	// AdminTokenHash is the token.Hash of the admin bearer token. Empty
	// leaves /admin/v1 unauthenticated.
	AdminTokenHash string

	// AdminAllowList is the IP/CIDR allowlist for admin API (empty = no restriction).
	AdminAllowList []string

	// EnableAudit enables audit logging for API and admin requests.
	EnableAudit bool
}

// DefaultRouterConfig returns default router configuration.
func DefaultRouterConfig() *RouterConfig {
	return &RouterConfig{
		MetricsPath: "/metrics",
		RateLimit:   100,
		RateBurst:   20,
		EnableAudit: true,
	}
}

// NewRouter creates and configures the HTTP router with all routes and middleware.
func NewRouter(cfg *RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	h := cfg.Handler

	// Every route: Metrics -> Recover -> RequestID -> Trace -> ...
	base := []Middleware{
		Metrics(cfg.Metrics),
		Recover(cfg.Logger),
		RequestID(),
		Trace(cfg.Tracer),
	}

	// API routes add RateLimit -> Audit.
	api := append([]Middleware{}, base...)
	if cfg.RateLimit > 0 {
		api = append(api, RateLimit(rate.Limit(cfg.RateLimit), cfg.RateBurst))
	}
	if cfg.EnableAudit {
		api = append(api, Audit(cfg.Logger))
	}

	// Admin routes add NetworkACL -> AdminAuth.
	admin := append([]Middleware{}, api...)
	if len(cfg.AdminAllowList) > 0 {
		admin = append(admin, NetworkACL(cfg.AdminAllowList, cfg.Logger))
	}
	admin = append(admin, AdminAuth(cfg.AdminTokenHash))

	mux := http.NewServeMux()

	// Health endpoints
	probe := Chain(h, base...)
	mux.Handle("GET /health", probe)
	mux.Handle("GET /ready", probe)

	// Metrics endpoint
	if cfg.Metrics != nil {
		mux.Handle("GET "+cfg.MetricsPath, Chain(cfg.Metrics.Handler(), base...))
	}

	// Entity endpoints
	entities := Chain(h, api...)
	mux.Handle("GET /v1/entities/{kind}", entities)
	mux.Handle("POST /v1/entities/{kind}", entities)
	mux.Handle("DELETE /v1/entities/{kind}", entities)
	mux.Handle("PUT /v1/entities/{kind}/state", entities)

	// Admin endpoints
	adminHandler := Chain(h, admin...)
	mux.Handle("GET /admin/v1/status/summary", adminHandler)
	mux.Handle("POST /admin/v1/checkpoints", adminHandler)
	mux.Handle("GET /admin/v1/checkpoints/current", adminHandler)
	mux.Handle("POST /admin/v1/recoveries", adminHandler)
	mux.Handle("POST /admin/v1/parallelism", adminHandler)

	return mux
}
