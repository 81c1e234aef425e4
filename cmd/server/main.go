package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	svix "github.com/svix/svix-webhooks/go"
	"golang.org/x/sync/errgroup"

	"github.com/eldtechnologies/thomas/internal/api"
	"github.com/eldtechnologies/thomas/internal/api/middleware"
	"github.com/eldtechnologies/thomas/internal/config"
	"github.com/eldtechnologies/thomas/internal/handlers"
	"github.com/eldtechnologies/thomas/internal/presence"
	"github.com/eldtechnologies/thomas/internal/realtime"
	"github.com/eldtechnologies/thomas/internal/store"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Redis store
	redisStore, err := store.NewRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer redisStore.Close()
	logger.Info().Msg("connected to Redis")

	// Initialize user directory: PostgreSQL when configured, SQLite otherwise
	var directory store.DataStore
	if cfg.DatabaseURL != "" {
		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		directory = pgStore
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		sqliteStore, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		directory = sqliteStore
		logger.Info().Str("path", cfg.SQLitePath).Msg("using SQLite directory")
	}
	defer directory.Close()

	// Realtime: local hub, cross-instance broker, optional Pusher
	hub := realtime.NewHub(logger, handlers.ChannelAuthorizer(redisStore))
	broker := realtime.NewRedisBroker(redisStore.Client(), hub, logger)
	backends := []realtime.Backend{{Name: "redis", Publisher: broker}}
	if cfg.PusherEnabled() {
		backends = append(backends, realtime.Backend{
			Name:      "pusher",
			Publisher: realtime.NewPusherPublisher(cfg.PusherAppID, cfg.PusherKey, cfg.PusherSecret, cfg.PusherCluster),
		})
		logger.Info().Str("cluster", cfg.PusherCluster).Msg("pusher fan-out enabled")
	}
	publisher := realtime.NewFanout(backends...)

	tracker := presence.NewTracker(redisStore.Client(), redisStore, publisher, logger, cfg.HeartbeatTTL, cfg.StaleAfter)

	var webhook *svix.Webhook
	if cfg.ClerkWebhookSecret != "" {
		webhook, err = svix.NewWebhook(cfg.ClerkWebhookSecret)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid webhook signing secret")
		}
	} else {
		logger.Warn().Msg("CLERK_WEBHOOK_SIGNING_SECRET not set, webhooks disabled")
	}

	auth, err := middleware.NewAuthMiddleware(logger, middleware.AuthConfig{
		PublicKeyPEM:      cfg.ClerkJWTKey,
		Issuer:            cfg.ClerkIssuer,
		AuthorizedParties: cfg.ClerkAuthorizedParties,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid session key")
	}

	h := handlers.NewHandler(handlers.Config{
		Redis:          redisStore,
		Directory:      directory,
		Presence:       tracker,
		Publisher:      publisher,
		Hub:            hub,
		Webhook:        webhook,
		Logger:         logger,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	// Create router
	router := api.NewRouter(logger, h, auth, redisStore, api.RouterConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimit: middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		},
	})

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return broker.Run(gctx, nil)
	})

	g.Go(func() error {
		tracker.RunReaper(gctx, cfg.ReapInterval)
		return nil
	})

	g.Go(func() error {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting Thomas server")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server...")

		// Graceful shutdown with 30 second timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		return
	}
	logger.Info().Msg("server stopped")
}
