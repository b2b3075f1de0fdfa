package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gateway-control-plane/internal/config"
	"github.com/gateway-control-plane/internal/metrics"
	"github.com/gateway-control-plane/internal/middleware"
	"github.com/gateway-control-plane/internal/sandbox"
	"github.com/gateway-control-plane/internal/server"
	"github.com/gateway-control-plane/internal/service"
	"github.com/gateway-control-plane/internal/store"
	"github.com/gateway-control-plane/internal/webhook"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("server exited with error")
	}
}

func setupLogger(cfg *config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFormat == "console" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Str("service", "gateway-control-plane").Logger()
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	m := metrics.New()

	limiter, closeLimiter := openRateLimiter(ctx, cfg)
	defer closeLimiter()

	keys := service.NewAPIKeyService(st, cfg.KeyPrefix())
	webhooks := service.NewWebhookService(st, cfg.SuccessRateWindow)
	sender := webhook.NewClient(webhook.Config{
		SigningSecret: cfg.WebhookSigningSecret,
		Timeout:       cfg.DeliveryTimeout,
		UserAgent:     "gateway-control-plane-webhooks/" + version,
	})
	delivery := service.NewDeliveryService(webhooks, sender, m, service.DeliveryConfig{
		Timeout:     cfg.DeliveryTimeout,
		MaxRetries:  cfg.DeliveryMaxRetries,
		BaseDelay:   cfg.DeliveryBaseDelay,
		MaxDelay:    cfg.DeliveryMaxDelay,
		Concurrency: cfg.DeliveryConcurrency,
	})
	executor := sandbox.NewExecutor(sandbox.Config{
		Timeout:      cfg.SandboxTimeout,
		MaxBodyBytes: cfg.SandboxMaxBodyBytes,
		Metrics:      m,
	})

	router := server.NewRouter(server.Deps{
		Store:           st,
		APIKeys:         keys,
		Webhooks:        webhooks,
		Delivery:        delivery,
		Sandbox:         executor,
		RateLimiter:     limiter,
		AuthLimiter: middleware.NewAuthAttemptLimiter(middleware.AuthLimits{
			MaxFailures:   cfg.AuthMaxFailures,
			Window:        cfg.AuthFailureWindow,
			BlockDuration: cfg.AuthBlockDuration,
		}, m),
		Metrics:         m,
		RateLimitWindow: cfg.GatewayRateLimitWindow,
		CORSOrigins:     cfg.CORSOrigins,
		Version:         version,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Str("version", version).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
			return
		}
		serverErrCh <- nil
	}()

	select {
	case err := <-serverErrCh:
		if err != nil {
			return fmt.Errorf("server startup failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	var shutdownErr error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		shutdownErr = fmt.Errorf("graceful shutdown failed: %w", err)
	}
	if err := delivery.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("in-flight webhook deliveries cancelled")
	}
	if err := <-serverErrCh; err != nil && shutdownErr == nil {
		shutdownErr = err
	}

	log.Info().Msg("server stopped")
	return shutdownErr
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	if cfg.UsesMemoryStore() {
		log.Warn().Msg("DATABASE_URL not set, using in-memory store; data will not survive restarts")
		return store.NewMemory(), func() {}, nil
	}

	if cfg.RunMigrations {
		if err := store.Migrate(cfg.DatabaseURL); err != nil {
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info().Msg("connected to PostgreSQL")
	return store.NewPostgres(pool), pool.Close, nil
}

// openRateLimiter prefers Redis when configured and falls back to the
// in-process limiter when it is unreachable.
func openRateLimiter(ctx context.Context, cfg *config.Config) (middleware.Limiter, func()) {
	memory := middleware.NewRateLimiter(cfg.GatewayRateLimitMax, cfg.GatewayRateLimitWindow)
	if cfg.RedisURL == "" {
		return memory, func() {}
	}

	rl, err := middleware.NewRedisRateLimiter(ctx, cfg.RedisURL, cfg.GatewayRateLimitMax, cfg.GatewayRateLimitWindow)
	if err != nil {
		log.Warn().Err(err).Msg("redis rate limiter unavailable, using in-memory limiter")
		return memory, func() {}
	}

	log.Info().Msg("using redis rate limiter")
	return rl, func() {
		if err := rl.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close redis client")
		}
	}
}
