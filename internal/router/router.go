package router

import (
	"log"
	"net/http"

	"fraud-report-intake/internal/config"
	"fraud-report-intake/internal/handlers"
	"fraud-report-intake/internal/metrics"
	"fraud-report-intake/internal/middleware"
)

// ThrottleConfig maps the HTTP throttle settings out of cfg.
func ThrottleConfig(cfg config.Config) middleware.ThrottleConfig {
	return middleware.ThrottleConfig{
		RPS:         cfg.RateLimitRPS,
		Burst:       cfg.RateLimitBurst,
		TTL:         cfg.RateLimiterTTL,
		BypassHosts: cfg.RateLimitBypassDomains,
	}
}

// New builds the route table and middleware chain. A nil throttle is built
// from cfg; callers that sweep it themselves pass their own.
func New(api *handlers.API, throttle *middleware.Throttle, logger *log.Logger, cfg config.Config, version string) http.Handler {
	if throttle == nil {
		throttle = middleware.NewThrottle(ThrottleConfig(cfg), logger)
	}
	middleware.SetTrustProxyHeaders(cfg.TrustProxyHeaders)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", api.Health)
	mux.HandleFunc("/livez", api.Live)
	mux.HandleFunc("/readyz", api.Ready)
	mux.Handle("/metrics", metrics.Handler())

	mux.HandleFunc("/api/reports", api.Reports)
	mux.HandleFunc("/api/reports/", api.ReportByID)
	mux.HandleFunc("/api/statistics", api.Statistics)

	admin := middleware.AdminGuard(cfg.AdminTokens, logger)
	mux.Handle("/api/admin/statuses", admin(http.HandlerFunc(api.AdminStatuses)))
	mux.Handle("/api/admin/reports/", admin(http.HandlerFunc(api.AdminReports)))

	return middleware.Chain(mux,
		middleware.SecurityHeaders(),
		middleware.VersionHeader(version),
		middleware.RequestIDMiddleware(),
		middleware.Recover(logger),
		middleware.Logging(logger),
		throttle.Middleware(),
	)
}
