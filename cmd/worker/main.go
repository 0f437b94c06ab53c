package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/therealutkarshpriyadarshi/transcribe/internal/cache"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/config"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/database"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/export"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/logging"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/media"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/metrics"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/pipeline"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/plans"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/queue"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/quota"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/settings"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/storage"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/tracing"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/transcriber/whisper"
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
	hostname, _ := os.Hostname()
	logger = logger.WithField("service", "worker").WithWorkerID(hostname)

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

	backend := whisper.NewClient(whisper.Config{
		URL:        cfg.Transcriber.URL,
		Timeout:    cfg.Transcriber.Timeout,
		MaxRetries: cfg.Transcriber.MaxRetries,
	}, logger)

	if err := os.MkdirAll(cfg.Pipeline.TempDir, 0o755); err != nil {
		logger.Fatalf("Failed to create temp dir: %v", err)
	}

	proc := pipeline.New(pipeline.Config{
		MaxFileSize:           cfg.Pipeline.MaxFileSize,
		RejectUnknownDuration: cfg.Pipeline.RejectUnknownDuration,
	}, pipeline.Deps{
		Fetcher:     media.NewStorageFetcher(stor, cfg.Pipeline.TempDir, logger),
		Prober:      media.NewFFprobe(cfg.Pipeline.FFprobePath),
		Ledger:      ledger,
		Catalog:     catalog,
		Transcriber: backend,
		Recorder:    usage.NewRecorder(repo, redis, logger),
	}, logger)

	worker := NewWorker(WorkerConfig{
		InlineTextLimit: cfg.Pipeline.InlineTextLimit,
		ResultTTL:       cfg.Pipeline.ResultTTL,
		LockTTL:         cfg.Quota.HoldTTL,
	}, proc, settings.NewService(repo, ledger, catalog, logger), catalog,
		export.NewService(stor, logger), redis, q, logger)
	worker.RemoveUploads(stor)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checkCtx, checkCancel := context.WithTimeout(ctx, 5*time.Second)
	if !backend.IsAvailable(checkCtx) {
		logger.Warn("Transcription backend is not reachable yet, jobs will be retried")
	}
	checkCancel()

	metricsServer := metrics.NewServer(cfg.Metrics.Port, logger)
	go func() {
		if err := metricsServer.Start(); err != nil {
			logger.ErrorWithErr("Metrics server stopped", err)
		}
	}()

	go reportQueueMetrics(ctx, q, worker, logger, 15*time.Second)
	go PurgeHolds(ctx, repo, cfg.Quota.HoldTTL, logger)

	// Start consuming jobs
	if err := q.ConsumeJobs(ctx, worker.Handle); err != nil {
		logger.Fatalf("Failed to consume jobs: %v", err)
	}
	logger.Info("Worker started, waiting for jobs...")

	// Handle shutdown gracefully
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithErr("Metrics server forced to shutdown", err)
	}

	logger.Info("Worker stopped")
}

func reportQueueMetrics(ctx context.Context, q *queue.Queue, w *Worker, logger *logging.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			depth, err := q.Depth()
			if err != nil {
				logger.WithError(err).Warn("Failed to inspect queue depth")
				continue
			}
			metrics.UpdateJobMetrics(w.InFlight(), depth)
		}
	}
}
