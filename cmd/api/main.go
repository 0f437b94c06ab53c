package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/cache"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/config"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/database"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/logging"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/metrics"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/middleware"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/payments"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/plans"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/queue"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/quota"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/referral"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/settings"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/storage"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/tracing"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/usage"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger = logger.WithField("service", "api")

	closer, err := tracing.Init(cfg.Tracing)
	if err != nil {
		logger.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer closer.Close()

	// Initialize database
	db, err := database.New(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := db.Migrate(ctx); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}
	repo := database.NewRepository(db)

	redis, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redis.Close()

	stor, err := storage.New(cfg.Storage, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}

	q, err := queue.New(cfg.Queue, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()

	loc, err := cfg.Quota.Location()
	if err != nil {
		logger.Fatalf("Invalid quota timezone: %v", err)
	}

	catalog := plans.Default()
	ledger := quota.New(repo, catalog, logger, quota.WithLocation(loc), quota.WithHoldTTL(cfg.Quota.HoldTTL))

	api := &API{
		catalog:   catalog,
		quota:     ledger,
		referrals: referral.New(repo, ledger, catalog, cfg.Quota.ReferralBonusMinutes, logger),
		settings:  settings.NewService(repo, ledger, catalog, logger),
		usage:     usage.NewRecorder(repo, redis, logger),
		payments:  payments.NewService(repo, ledger, catalog, cfg.Payments, logger),
		media:     stor,
		jobs:      q,
		results:   redis,
		stats:     redis,
		queues:    q,
		health: map[string]func(context.Context) error{
			"database": repo.Ping,
			"redis":    redis.Ping,
			"storage":  stor.Health,
		},
		maxFileSize: cfg.Pipeline.MaxFileSize,
		logger:      logger,
	}

	limiter := middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	go limiter.Cleanup(ctx, 10*time.Minute)

	gin.SetMode(gin.ReleaseMode)
	router := setupRouter(api, routerDeps{
		auth:         middleware.NewAuth(cfg.Auth.JWTSecret),
		limiter:      limiter,
		counter:      redis,
		submitLimit:  cfg.Pipeline.SubmissionsPerMinute,
		submitWindow: time.Minute,
	})

	metricsServer := metrics.NewServer(cfg.Metrics.Port, logger)
	go func() {
		if err := metricsServer.Start(); err != nil {
			logger.ErrorWithErr("Metrics server stopped", err)
		}
	}()

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Starting API server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithErr("Server forced to shutdown", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithErr("Metrics server forced to shutdown", err)
	}

	logger.Info("Server stopped")
}
