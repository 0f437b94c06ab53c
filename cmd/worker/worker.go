package main

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/therealutkarshpriyadarshi/transcribe/internal/cache"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/export"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/logging"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/metrics"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/pipeline"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/plans"
	"github.com/therealutkarshpriyadarshi/transcribe/pkg/models"
)

// WarningExportFailed flags a result that was delivered inline because the
// export could not be published
const WarningExportFailed = "export_failed"

// Processor runs one request through the pipeline
type Processor interface {
	Process(ctx context.Context, req pipeline.Request) pipeline.Outcome
}

// Exporter publishes rendered transcripts
type Exporter interface {
	Publish(ctx context.Context, userID int64, jobID, format string, doc export.Document) (*export.Published, error)
}

// SettingsReader loads a user's preferences
type SettingsReader interface {
	Get(ctx context.Context, userID int64) (*models.UserSettings, error)
}

// ResultStore caches job results and guards jobs against double processing
type ResultStore interface {
	AcquireLock(ctx context.Context, resource string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, resource string) error
	SetJobResult(ctx context.Context, result *models.JobResult, ttl time.Duration) error
	GetJobResult(ctx context.Context, jobID string) (*models.JobResult, error)
	IncrementStat(ctx context.Context, stat string) error
}

// JobQueue publishes results and requeues retryable failures
type JobQueue interface {
	PublishResult(ctx context.Context, result *models.JobResult) error
	PublishToRetryQueue(ctx context.Context, job *models.TranscriptionJob, reason string) (bool, error)
}

// MediaRemover deletes submitted media once a job is finished
type MediaRemover interface {
	Delete(ctx context.Context, objectName string) error
}

// WorkerConfig holds delivery limits
type WorkerConfig struct {
	InlineTextLimit int
	ResultTTL       time.Duration
	LockTTL         time.Duration
}

// Worker turns queued jobs into published results
type Worker struct {
	cfg       WorkerConfig
	processor Processor
	settings  SettingsReader
	catalog   *plans.Catalog
	exporter  Exporter
	results   ResultStore
	queue     JobQueue
	uploads   MediaRemover
	logger    *logging.Logger

	inFlight atomic.Int64
}

// NewWorker creates a worker
func NewWorker(cfg WorkerConfig, processor Processor, settings SettingsReader, catalog *plans.Catalog,
	exporter Exporter, results ResultStore, queue JobQueue, logger *logging.Logger) *Worker {
	if cfg.InlineTextLimit <= 0 {
		cfg.InlineTextLimit = 4000
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Minute
	}
	return &Worker{
		cfg:       cfg,
		processor: processor,
		settings:  settings,
		catalog:   catalog,
		exporter:  exporter,
		results:   results,
		queue:     queue,
		logger:    logger,
	}
}

// RemoveUploads makes the worker delete API uploads after their final outcome
func (w *Worker) RemoveUploads(r MediaRemover) {
	w.uploads = r
}

// InFlight is the number of jobs currently being handled
func (w *Worker) InFlight() int {
	return int(w.inFlight.Load())
}

func lockName(jobID string) string {
	return "job:" + jobID
}

// Handle processes one job. A returned error requeues the message.
func (w *Worker) Handle(ctx context.Context, job *models.TranscriptionJob) error {
	log := w.logger.WithJobID(job.ID).WithUserID(job.UserID)

	// A redelivery after the result was stored only needs publishing again.
	cached, err := w.results.GetJobResult(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("failed to check job result: %w", err)
	}
	if cached != nil {
		log.Info("Job already completed, republishing result")
		if err := w.queue.PublishResult(ctx, cached); err != nil {
			return err
		}
		w.removeUpload(ctx, job)
		return nil
	}

	acquired, err := w.results.AcquireLock(ctx, lockName(job.ID), w.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("failed to lock job: %w", err)
	}
	if !acquired {
		log.Warn("Job is already being processed elsewhere, skipping")
		return nil
	}
	defer func() {
		if err := w.results.ReleaseLock(context.WithoutCancel(ctx), lockName(job.ID)); err != nil {
			log.WithError(err).Warn("Failed to release job lock")
		}
	}()

	w.inFlight.Add(1)
	defer w.inFlight.Add(-1)

	prefs := w.loadSettings(ctx, job.UserID)
	req := pipeline.Request{
		UserID: job.UserID,
		Media:  job.Media,
		Settings: pipeline.Settings{
			Language: firstNonEmpty(job.Language, prefs.TranscribeLang),
			Task:     firstNonEmpty(job.TaskType, prefs.TaskType),
		},
	}

	out := w.processor.Process(ctx, req)

	if out.Status == pipeline.StatusFailed && out.Retryable {
		deadLettered, err := w.queue.PublishToRetryQueue(ctx, job, string(out.Code))
		if err != nil {
			return fmt.Errorf("failed to schedule retry: %w", err)
		}
		if !deadLettered {
			w.count(ctx, cache.StatRetries)
			log.Infof("Job scheduled for retry after %s", out.Code)
			return nil
		}
		log.Warnf("Job dead-lettered after %d retries", job.RetryCount)
	}

	result := out.Result(job)
	if out.Delivery != nil {
		w.attachExport(ctx, job, out.Delivery, prefs.ExportFormat, result)
	}
	result.CompletedAt = time.Now().UTC()

	// The result store outlives the request; the caller going away must not
	// lose the transcript.
	sctx := context.WithoutCancel(ctx)
	if err := w.results.SetJobResult(sctx, result, w.cfg.ResultTTL); err != nil {
		log.WithError(err).Error("Failed to cache job result")
	}
	if err := w.queue.PublishResult(sctx, result); err != nil {
		return fmt.Errorf("failed to publish result: %w", err)
	}
	w.count(sctx, cache.OutcomeStat(result.Code))
	w.removeUpload(sctx, job)

	log.WithFields(map[string]interface{}{
		"status": result.Status,
		"code":   result.Code,
	}).Info("Job finished")
	return nil
}

func (w *Worker) count(ctx context.Context, stat string) {
	if err := w.results.IncrementStat(ctx, stat); err != nil {
		w.logger.WithError(err).WithField("stat", stat).Warn("Failed to increment stat")
	}
}

func (w *Worker) removeUpload(ctx context.Context, job *models.TranscriptionJob) {
	if w.uploads == nil || !job.Media.UploadedBy(job.UserID) {
		return
	}
	if err := w.uploads.Delete(ctx, job.Media.Key); err != nil {
		w.logger.WithJobID(job.ID).WithError(err).Warn("Failed to remove uploaded media")
	}
}

func (w *Worker) loadSettings(ctx context.Context, userID int64) models.UserSettings {
	prefs, err := w.settings.Get(ctx, userID)
	if err != nil || prefs == nil {
		if err != nil {
			w.logger.WithUserID(userID).WithError(err).Warn("Failed to load settings, using defaults")
		}
		return models.DefaultSettings(userID)
	}
	return *prefs
}

// attachExport uploads the transcript when it is too long to deliver inline
// or when the user prefers a file format their plan allows.
func (w *Worker) attachExport(ctx context.Context, job *models.TranscriptionJob, d *pipeline.Delivery,
	preferred string, result *models.JobResult) {
	long := d.CharCount > w.cfg.InlineTextLimit
	format := export.FormatTXT
	if preferred != "" && preferred != export.FormatTXT {
		if plan, err := w.catalog.Lookup(d.Plan); err == nil && plan.AllowsExport(preferred) {
			format = preferred
		}
	}
	if !long && format == export.FormatTXT {
		return
	}

	doc := export.Document{Text: d.Text, Segments: d.Segments, DurationSeconds: d.DurationMinutes * 60}
	published, err := w.exporter.Publish(ctx, job.UserID, job.ID, format, doc)
	if errors.Is(err, export.ErrUnsupportedFormat) {
		if !long {
			return
		}
		published, err = w.exporter.Publish(ctx, job.UserID, job.ID, export.FormatTXT, doc)
	}
	if err != nil {
		w.logger.WithJobID(job.ID).WithError(err).Warn("Failed to publish export, delivering inline")
		metrics.RecordError("worker", "export")
		if result.Warning == "" {
			result.Warning = WarningExportFailed
		}
		return
	}

	result.ExportFormat = published.Format
	result.ExportURL = published.URL
	if long {
		result.Text = truncateRunes(d.Text, w.cfg.InlineTextLimit)
	}
}

// HoldPurger deletes reservation holds that outlived their TTL
type HoldPurger interface {
	PurgeExpiredHolds(ctx context.Context, now time.Time) (int64, error)
}

// PurgeHolds removes expired holds every interval until ctx is done. Expired
// holds no longer count against quotas; this only keeps the table small.
func PurgeHolds(ctx context.Context, purger HoldPurger, interval time.Duration, logger *logging.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := purger.PurgeExpiredHolds(ctx, time.Now().UTC())
			if err != nil {
				logger.WithError(err).Warn("Failed to purge expired holds")
				continue
			}
			if n > 0 {
				logger.Debugf("Purged %d expired quota holds", n)
			}
		}
	}
}

func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
