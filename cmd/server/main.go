package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"fraud-report-intake/internal/challenge"
	"fraud-report-intake/internal/config"
	"fraud-report-intake/internal/domain"
	"fraud-report-intake/internal/handlers"
	"fraud-report-intake/internal/intake"
	"fraud-report-intake/internal/maintenance"
	"fraud-report-intake/internal/middleware"
	"fraud-report-intake/internal/preview"
	"fraud-report-intake/internal/ratelimit"
	"fraud-report-intake/internal/router"
	"fraud-report-intake/internal/ssrf"
	"fraud-report-intake/internal/storage"
	slogadapter "fraud-report-intake/internal/util/logadapter"

	"github.com/joho/godotenv"
)

var version string

const sweepInterval = 30 * time.Second

func main() {
	// version is injected via -ldflags "-X main.version=..."
	if version == "" {
		version = "dev"
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{AddSource: false, ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.TimeKey {
			return slog.Attr{Key: a.Key, Value: slog.StringValue(a.Value.Time().UTC().Format(time.RFC3339Nano))}
		}
		return a
	}})
	rootLogger := slog.New(handler)
	logger := slogadapter.New(rootLogger, "server")

	// existing environment variables win over .env entries
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Printf("dotenv: load error: %v", err)
	}

	cfg := config.Load(slogadapter.New(rootLogger, "config"))
	{
		red := cfg.Redacted()
		rootLogger.Info("effective_config",
			slog.String("port", red.Port),
			slog.Float64("rate_limit_rps", red.RateLimitRPS),
			slog.Int("rate_limit_burst", red.RateLimitBurst),
			slog.String("rate_limit_ttl", red.RateLimiterTTL.String()),
			slog.Any("rate_limit_bypass_domains", red.RateLimitBypassDomains),
			slog.Bool("trust_proxy_headers", red.TrustProxyHeaders),
			slog.Any("admin_tokens", red.AdminTokens),
			slog.String("submission_window", red.SubmissionWindow.String()),
			slog.Int("submission_max_per_window", red.SubmissionMaxInWindow),
			slog.String("submission_min_interval", red.SubmissionMinInterval.String()),
			slog.String("min_form_completion", red.MinFormCompletion.String()),
			slog.String("turnstile_secret", red.TurnstileSecret),
			slog.String("turnstile_verify_url", red.TurnstileVerifyURL),
			slog.String("preview_timeout", red.PreviewTimeout.String()),
			slog.String("preview_denylist", red.PreviewDenylist),
			slog.Int64("preview_max_bytes", red.PreviewMaxBytes),
			slog.String("storage_public_url", red.StoragePublicURL),
			slog.String("storage_bucket", red.StorageBucket),
			slog.String("database_url", red.DatabaseURL),
		)
	}
	if cfg.TurnstileSecret == "" {
		rootLogger.Warn("TURNSTILE_SECRET_KEY not set - every submission will be rejected with 503")
	}
	if cfg.StoragePublicURL == "" {
		rootLogger.Warn("STORAGE_PUBLIC_URL not set - submissions with screenshots will be rejected")
	}
	if len(cfg.AdminTokens) == 0 {
		rootLogger.Warn("no valid admin tokens configured - admin endpoints disabled")
	}

	store, closeStore, err := openStore(cfg, rootLogger)
	if err != nil {
		rootLogger.Error("store init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer closeStore()

	fetcher := preview.New(cfg.PreviewTimeout, cfg.PreviewMaxBytes, cfg.PreviewUserAgent, slogadapter.New(rootLogger, "preview"))
	if cfg.PreviewDenylist != "" {
		deny := domain.NewDenylist(cfg.PreviewDenylist)
		if err := deny.Load(); err != nil {
			rootLogger.Error("preview denylist load failed", slog.String("path", cfg.PreviewDenylist), slog.String("error", err.Error()))
		} else {
			rootLogger.Info("preview denylist loaded", slog.Int("hosts", deny.Len()))
		}
		fetcher.Policy = ssrf.All(ssrf.Public, deny)
	}

	limiter := ratelimit.New(cfg.SubmissionWindow, cfg.SubmissionMaxInWindow, cfg.SubmissionMinInterval)
	pipeline := &intake.Pipeline{
		Limiter:           limiter,
		Verifier:          challenge.New(cfg.TurnstileSecret, cfg.TurnstileVerifyURL, cfg.ChallengeTimeout, slogadapter.New(rootLogger, "challenge")),
		Previewer:         fetcher,
		Store:             store,
		Attachments:       intake.AttachmentPolicy{Origin: cfg.StoragePublicURL, Bucket: cfg.StorageBucket},
		MinFormCompletion: cfg.MinFormCompletion,
		PreviewBudget:     2 * cfg.PreviewTimeout,
		Logger:            slogadapter.New(rootLogger, "intake"),
	}

	httpLogger := slogadapter.New(rootLogger, "http")
	throttle := middleware.NewThrottle(router.ThrottleConfig(cfg), httpLogger)
	api := &handlers.API{Intake: pipeline, Store: store, Logger: slogadapter.New(rootLogger, "api")}
	mux := router.New(api, throttle, httpLogger, cfg, version)

	// preview fetches can take up to two candidate timeouts
	writeTimeout := 2*cfg.PreviewTimeout + cfg.ChallengeTimeout + 10*time.Second

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	housekeeping := maintenance.New(limiter, throttle, store, slogadapter.New(rootLogger, "maintenance"))
	housekeeping.Interval = sweepInterval
	housekeeping.Start()

	go func() {
		rootLogger.Info("server starting", slog.String("addr", srv.Addr), slog.String("version", version))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			rootLogger.Error("listen error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	rootLogger.Info("shutdown signal received")
	housekeeping.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		rootLogger.Error("server shutdown error", slog.String("error", err.Error()))
	} else {
		rootLogger.Info("server stopped gracefully")
	}
}

// openStore selects PostgreSQL when DATABASE_URL is set, else the in-memory store.
func openStore(cfg config.Config, rootLogger *slog.Logger) (storage.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		rootLogger.Warn("DATABASE_URL not set - using in-memory store, reports are lost on restart")
		return storage.NewMemoryStore(), func() {}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	db, err := storage.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	pg := storage.NewPostgresStore(db)
	if err := pg.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	rootLogger.Info("postgres store ready")
	return pg, func() {
		if err := db.Close(); err != nil {
			rootLogger.Error("postgres close error", slog.String("error", err.Error()))
		}
	}, nil
}
