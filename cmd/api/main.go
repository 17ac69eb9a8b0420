// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

// Command api is the entry point for the Meridian portal API server.
//
// # Startup Sequence
//
//  1. Initialize structured logger.
//  2. Load configuration from environment variables.
//  3. Connect to PostgreSQL (pgxpool).
//  4. Connect to Redis.
//  5. Run database migrations (idempotent).
//  6. Initialize the signing key manager and token service.
//  7. Wire the auth, risk, and authorization domains.
//  8. Start HTTP server with graceful shutdown and background sweeps.
//
// No business logic lives here. All wiring is explicit constructor injection.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meridianhq/meridian/internal/api"
	"github.com/meridianhq/meridian/internal/auth"
	"github.com/meridianhq/meridian/internal/auth/audit"
	"github.com/meridianhq/meridian/internal/auth/keys"
	"github.com/meridianhq/meridian/internal/auth/session"
	"github.com/meridianhq/meridian/internal/auth/token"
	"github.com/meridianhq/meridian/internal/authz"
	"github.com/meridianhq/meridian/internal/authz/risk"
	"github.com/meridianhq/meridian/internal/platform/config"
	"github.com/meridianhq/meridian/internal/platform/constants"
	"github.com/meridianhq/meridian/internal/platform/middleware"
	"github.com/meridianhq/meridian/internal/platform/migration"
	pgstore "github.com/meridianhq/meridian/internal/platform/postgres"
	redisstore "github.com/meridianhq/meridian/internal/platform/redis"
)

func main() {
	// ── 1. Logger ──────────────────────────────────────────────────────────
	// Initialize first so that subsequent startup errors are structured JSON.
	rawLog := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	log := rawLog.With(slog.String("app", constants.AppName))
	slog.SetDefault(log)

	log.Info("service_initializing", slog.String("version", constants.AppVersion))

	// ── 2. Configuration ──────────────────────────────────────────────────
	cfg, err := config.Load()
	must(log, err, "load configuration")

	if cfg.Debug {
		debugLog := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
		log = debugLog.With(slog.String("app", constants.AppName))
		slog.SetDefault(log)
		log.Debug("debug_logging_enabled")
	}

	log.Info("configuration_loaded",
		slog.String("environment", cfg.Environment),
		slog.String("port", cfg.ServerPort),
	)

	// Root context for the process; canceled on shutdown so background
	// goroutines (rate-limit cleanup, sweeps) stop with the server.
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Startup uses a 30s deadline so misconfiguration is caught quickly
	// rather than hanging indefinitely.
	startupCtx, startupCancel := context.WithTimeout(rootCtx, 30*time.Second)
	defer startupCancel()

	// ── 3. PostgreSQL ─────────────────────────────────────────────────────
	pool, err := pgstore.NewPool(startupCtx, cfg.DatabaseURL, log)
	must(log, err, "connect to postgres")
	defer func() {
		log.Info("closing postgres pool")
		pool.Close()
	}()

	// ── 4. Redis ──────────────────────────────────────────────────────────
	rdb, err := redisstore.NewClient(startupCtx, cfg.RedisURL, log)
	must(log, err, "connect to redis")
	defer func() {
		log.Info("closing redis client")
		if cerr := rdb.Close(); cerr != nil {
			log.Error("redis close error", slog.Any("error", cerr))
		}
	}()

	// ── 5. Migrations ─────────────────────────────────────────────────────
	must(log, migration.RunUp(cfg.DatabaseURL, cfg.MigrationPath, log), "run migrations")

	// ── 6. Keys & Tokens ──────────────────────────────────────────────────
	keyStore, err := keys.NewFileStore(cfg.KeyStoreDir)
	must(log, err, "open key store")

	keyManager := keys.NewManager(rootCtx, keyStore, cfg.KeyGraceWindow(), log)
	must(log, keyManager.WaitReady(startupCtx), "initialize key manager")

	tokenService := token.NewService(keyManager, token.Config{
		Issuer:       cfg.JWTIssuer,
		Audience:     cfg.JWTAudience,
		AccessTTL:    cfg.AccessTokenTTL(),
		RefreshTTL:   cfg.RefreshTokenTTL(),
		Leeway:       cfg.ClockSkew(),
		LegacySecret: []byte(cfg.JWTSecret),
	}, log)

	// ── 7. Domain Wiring ──────────────────────────────────────────────────
	userRepository := auth.NewUserRepository(pool)
	sessionStore := session.NewPostgresStore(pool)
	auditStore := audit.NewPostgresStore(pool)
	recorder := audit.NewRecorder(auditStore, cfg.AuditHashChain, log)

	deviceStore := risk.NewDeviceStore(rdb)
	countryStore := risk.NewCountryStore(rdb)
	attemptStore := risk.NewFailedAttemptStore(rdb)
	riskEngine := risk.NewEngine(deviceStore, countryStore, attemptStore, auditStore, recorder, log)

	authService := auth.NewService(userRepository, sessionStore, tokenService, recorder, riskEngine, attemptStore, log)

	ruleStore := authz.NewPostgresRuleStore(pool)
	permissionEngine := authz.NewEngine(ruleStore, log)
	must(log, permissionEngine.Load(startupCtx), "load permission rules")

	pdp := authz.NewPDP(permissionEngine, riskEngine, recorder, log)

	// ── 8. HTTP Handlers ──────────────────────────────────────────────────
	liveness, readiness := api.NewHealthHandlers(api.HealthDependencies{
		CheckDatabase: func() error {
			return pgstore.Ping(context.Background(), pool)
		},
		CheckCache: func() error {
			return redisstore.Ping(context.Background(), rdb)
		},
		CheckKeys: func() error {
			checkCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return keyManager.WaitReady(checkCtx)
		},
	}, log)

	credentialGuard := middleware.RateLimit(rootCtx, constants.AuthRateLimitRPS, constants.AuthRateLimitBurst)
	sessionGuard := chain(middleware.RequireAuth, middleware.RequireSession(sessionStore))

	authHandler := auth.NewHandler(authService, credentialGuard, sessionGuard)
	authzHandler := authz.NewHandler(pdp, userRepository, sessionStore, deviceStore, tokenService, sessionGuard)

	handlers := api.Handlers{
		Liveness:  liveness,
		Readiness: readiness,
		Auth:      authHandler,
		Authz:     authzHandler,
		Keys:      keyManager,
	}

	server := api.NewServer(rootCtx, cfg, log, tokenService, handlers)

	// ── 9. Background Sweeps ──────────────────────────────────────────────
	go runSweeps(rootCtx, log, sessionStore, keyManager)

	// ── 10. Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case sig := <-quit:
		log.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-serverErr:
		log.Error("server startup error", slog.Any("error", err))
	}

	rootCancel()

	log.Info("shutting down server", slog.Duration("timeout", constants.ShutdownTimeout))
	if err := server.Shutdown(constants.ShutdownTimeout); err != nil {
		log.Error("shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	log.Info("server stopped cleanly")
}

// runSweeps runs the periodic maintenance tasks: expired-session cleanup and
// signing-key retirement.
func runSweeps(ctx context.Context, log *slog.Logger, sessions *session.PostgresStore, keyManager *keys.Manager) {
	ticker := time.NewTicker(constants.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, time.Minute)

			if removed, err := sessions.CleanupExpiredSessions(sweepCtx); err != nil {
				log.Error("session_sweep_failed", slog.Any("error", err))
			} else if removed > 0 {
				log.Info("session_sweep_completed", slog.Int("sessions_removed", removed))
			}

			if purged, err := keyManager.Cleanup(sweepCtx); err != nil {
				log.Error("key_sweep_failed", slog.Any("error", err))
			} else if purged > 0 {
				log.Info("key_sweep_completed", slog.Int("keys_purged", purged))
			}

			cancel()
		case <-ctx.Done():
			return
		}
	}
}

// chain composes middlewares left to right into a single guard.
func chain(outer func(http.Handler) http.Handler, rest ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		for i := len(rest) - 1; i >= 0; i-- {
			next = rest[i](next)
		}
		return outer(next)
	}
}

// must logs a structured fatal error and terminates the process if err is non-nil.
//
// It is intentionally limited to startup wiring. After startup, all errors
// must be returned and handled explicitly (never panic).
func must(log *slog.Logger, err error, context string) {
	if err != nil {
		log.Error("startup failure",
			slog.String("context", context),
			slog.Any("error", err),
		)
		os.Exit(1)
	}
}
