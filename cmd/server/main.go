package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	config "github.com/avatarctic/ranked-posts/configs"
	"github.com/avatarctic/ranked-posts/internal/application/services"
	"github.com/avatarctic/ranked-posts/internal/core/ports"
	"github.com/avatarctic/ranked-posts/internal/infrastructure/db"
	"github.com/avatarctic/ranked-posts/internal/infrastructure/health"
	"github.com/avatarctic/ranked-posts/internal/infrastructure/httpserver"
	"github.com/avatarctic/ranked-posts/internal/infrastructure/redis"
	"github.com/avatarctic/ranked-posts/internal/infrastructure/repositories"
)

const shutdownTimeout = 10 * time.Second

func newLogger(cfg config.LogConfig) *logrus.Logger {
	logger := logrus.New()
	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(2)
	}
	logger := newLogger(cfg.Log)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("ranked posts service stopped")
	}
	logger.Info("ranked posts service stopped")
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(&cfg.Database, logger)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := database.Migrate(); err != nil {
		return err
	}

	redisClient, err := redis.NewRedisClient(&cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	codec, err := redis.CodecByName(cfg.Cache.Codec)
	if err != nil {
		return err
	}
	rankedCache := redis.NewRankedCache(redisClient, redis.RankedCacheConfig{
		KeyPrefix:          cfg.Cache.KeyPrefix,
		MaxEntries:         cfg.Cache.MaxEntries,
		MaxScoreDuplicates: cfg.Cache.MaxScoreDuplicates,
		TTL:                cfg.Cache.TTL,
		ImageTTL:           cfg.Cache.ImageTTL,
		Codec:              codec,
	}, logger)

	postRepo := repositories.NewPostRepository(database, logger)
	coordinator := services.NewPostCacheCoordinator(postRepo, rankedCache, &services.CoordinatorConfig{
		CacheCallTimeout: cfg.Cache.CallTimeout,
		StoreCallTimeout: cfg.Server.StoreCallTimeout,
	}, logger)
	postService := services.NewPostService(postRepo, coordinator, &services.PageConfig{
		DefaultSize: cfg.Page.DefaultSize,
		MaxSize:     cfg.Page.MaxSize,
	}, logger)
	limiter := services.NewRateLimiterService(repositories.NewRateLimitRedisRepository(redisClient), &services.RateLimiterConfig{
		DefaultRequestsPerMinute: cfg.RateLimit.DefaultRequestsPerMinute,
		BurstMultiplier:          cfg.RateLimit.BurstMultiplier,
		Window:                   cfg.RateLimit.Window,
		KeyPrefix:                cfg.RateLimit.KeyPrefix,
	}, logger)

	server := httpserver.NewServer(&httpserver.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		TLSCertFile:  cfg.Server.TLSCertFile,
		TLSKeyFile:   cfg.Server.TLSKeyFile,
		BodyLimit:    cfg.Server.BodyLimit,
	}, logger, httpserver.ServerDeps{
		PostService:        postService,
		TokenVerifier:      services.NewJWTVerifier(&cfg.JWT),
		RateLimiterService: limiter,
		HealthCheckers: []ports.HealthChecker{
			health.NewDBHealthChecker(database),
			health.NewRedisHealthChecker(redisClient),
		},
	})

	// warm the ranked cache so the first readers do not pay for the refill
	if _, err := coordinator.Refill(ctx); err != nil {
		logger.WithError(err).Warn("initial ranked cache refill failed, first read will retry")
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Start() }()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return <-serveErr
}
