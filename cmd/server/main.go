package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"campusconnect/internal/api"
	"campusconnect/internal/chat"
	"campusconnect/internal/config"
	"campusconnect/internal/db"
	myMiddleware "campusconnect/internal/middleware"
	"campusconnect/internal/user"
)

func main() {
	// 1. Config & Flags
	cfg := config.Load()
	addr := flag.String("addr", ":"+cfg.Port, "http service address")
	flag.Parse()

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Connect to Database (Platform Layer)
	database, err := db.NewDatabase(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("failed to connect to database")
	}
	defer database.Close()
	logger.Info().Str("driver", cfg.DBDriver).Msg("connected to database")

	if err := database.AutoMigrate(); err != nil {
		logger.Fatal().Err(err).Msg("migration failed")
	}
	logger.Info().Msg("database schema initialized")

	// 3. Connect to Redis (optional; enables cross-instance relay and rate limiting)
	var redisClient *redis.Client
	var bus chat.Bus
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		bus = chat.NewRedisBus(redisClient, logger)
		logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis")
	} else {
		logger.Warn().Msg("REDIS_ADDR not set, running single instance")
	}

	// 4. User directory + token validation
	userRepo := user.NewRepository(database)
	userService := user.NewService(userRepo, cfg.JWTSecret)
	userHandler := user.NewHandler(userService, logger)
	authMiddleware := myMiddleware.NewAuthMiddleware(userService)

	// 5. Messaging core
	registry := chat.NewRegistry()
	hub := chat.NewHub(registry, bus, logger)
	chatService := chat.NewService(chat.NewRepository(database), userRepo, hub, logger)
	chatService.StoreTimeout = cfg.StoreTimeout

	go hub.Run(ctx)
	go func() {
		if err := hub.ListenRemote(ctx); err != nil {
			logger.Error().Err(err).Msg("remote relay listener stopped")
		}
	}()

	chatHandler := chat.NewHandler(ctx, hub, chatService, cfg.FrontendURL, logger)

	// 6. Define Routes
	router := api.NewRouter(api.Deps{
		Logger:      logger,
		Chat:        chatHandler,
		Users:       userHandler,
		Auth:        authMiddleware,
		Registry:    registry,
		Database:    database,
		Redis:       redisClient,
		RateLimit:   cfg.RateLimitPerMinute,
		FrontendURL: cfg.FrontendURL,
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", *addr).Str("env", cfg.Env).Str("instance", hub.ID()).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
	}
	<-hub.Done()
	// In-flight sends finish before the deferred database.Close runs.
	chatHandler.Wait()
	logger.Info().Msg("server stopped")
}
