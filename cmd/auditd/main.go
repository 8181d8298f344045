package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hostelworks/backoffice-audit/internal/platform/audit"
	"github.com/hostelworks/backoffice-audit/internal/platform/auth"
	"github.com/hostelworks/backoffice-audit/internal/platform/clock"
	"github.com/hostelworks/backoffice-audit/internal/platform/config"
	"github.com/hostelworks/backoffice-audit/internal/platform/export"
	"github.com/hostelworks/backoffice-audit/internal/platform/report"
	"github.com/hostelworks/backoffice-audit/internal/platform/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	boot := zerolog.New(os.Stderr)
	cfg, err := config.Load()
	if err != nil {
		boot.Fatal().Err(err).Msg("load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stderr).Level(level).With().
		Timestamp().Str("service", "auditd").Str("version", cfg.Version).
		Logger()

	clk := clock.RealClock{}

	var store audit.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("open database")
		}
		if err := db.PingContext(ctx); err != nil {
			logger.Fatal().Err(err).Msg("ping database")
		}
		defer db.Close()
		// The driver's extended protocol takes one statement per Exec.
		for _, stmt := range strings.Split(server.AuditEventsDDL, ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				logger.Fatal().Err(err).Msg("ensure audit schema")
			}
		}
		store = server.NewPostgresStore(db, clk)
		logger.Info().Msg("using postgres event store")
	} else {
		store = audit.NewMemoryStore(clk)
		logger.Warn().Msg("no database configured, using in-memory event store")
	}

	var cache *server.ReportCache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Msg("redis unreachable, report cache disabled")
		} else {
			cache = server.NewReportCache(rdb, time.Duration(cfg.CacheTTLSecs)*time.Second)
			defer rdb.Close()
		}
	}

	guard, err := server.NewRemoteAccessGuard(clk, store, cfg.TrustedCIDRList())
	if err != nil {
		logger.Fatal().Err(err).Msg("configure remote access guard")
	}

	var authMW func(http.Handler) http.Handler
	if cfg.JWTSecret != "" {
		verifier := auth.NewJWTVerifier(cfg.JWTSecret, auth.NewRevocationList())
		var creds *auth.CredentialVerifier
		if cfg.ServiceCredHash != "" {
			creds = auth.NewCredentialVerifier(cfg.ServiceCredUser, cfg.ServiceCredHash)
		}
		authMW = auth.Middleware(verifier, creds, []string{"/healthz"})
	} else {
		logger.Warn().Msg("no jwt secret configured, authentication disabled")
	}

	srv := &server.Server{
		Store:      store,
		Clock:      clk,
		Assembler:  report.NewAssembler(store, clk),
		Exporter:   export.Builtin{},
		Metrics:    server.NewMetrics(),
		Cache:      cache,
		Logger:     logger,
		Auth:       authMW,
		Guard:      guard,
		RatePerMin: cfg.RateLimitPerMinute,
	}

	tlsCfg, err := server.BuildTLSConfig(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("configure tls")
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Routes(),
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Bool("tls", tlsCfg != nil).Msg("http listening")
		var err error
		if tlsCfg != nil {
			err = httpServer.ListenAndServeTLS("", "")
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics shutdown")
	}
}
