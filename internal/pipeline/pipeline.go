// Package pipeline runs one submitted file through validation, admission,
// transcription and accounting, producing a single terminal Outcome.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/therealutkarshpriyadarshi/transcribe/internal/logging"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/media"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/metrics"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/plans"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/quota"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/tracing"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/transcriber"
	"github.com/therealutkarshpriyadarshi/transcribe/pkg/models"
)

// Gate names, used for spans and metrics
const (
	GateFetched        = "fetch"
	GateDurationProbed = "probe"
	GateAdmitted       = "admit"
	GateTranscribed    = "transcribe"
	GateRecorded       = "record"
)

const (
	defaultMaxFileSize   = 25 * 1024 * 1024
	defaultRecordTimeout = 10 * time.Second
	defaultTask          = "transcribe"
)

// MediaFetcher materializes a media reference on local disk
type MediaFetcher interface {
	Fetch(ctx context.Context, ref models.MediaRef) (*media.Artifact, error)
}

// DurationProber measures a media file in seconds
type DurationProber interface {
	Probe(ctx context.Context, path string) (float64, error)
}

// UsageRecorder stores completed transcriptions
type UsageRecorder interface {
	Append(ctx context.Context, stat *models.UsageStat) error
}

// Config holds pipeline limits
type Config struct {
	MaxFileSize           int64
	RejectUnknownDuration bool
	// RecordTimeout bounds accounting once the caller may have gone away.
	RecordTimeout time.Duration
}

// Deps are the collaborators a Pipeline composes
type Deps struct {
	Fetcher     MediaFetcher
	Prober      DurationProber
	Ledger      *quota.Ledger
	Catalog     *plans.Catalog
	Transcriber transcriber.Transcriber
	Recorder    UsageRecorder
}

// Settings are the user's per-request preferences
type Settings struct {
	Language string
	Task     string
}

// Request is one submitted file
type Request struct {
	UserID   int64
	Media    models.MediaRef
	Settings Settings
}

// Pipeline processes requests. It holds no per-request state and is safe
// for concurrent use.
type Pipeline struct {
	cfg    Config
	deps   Deps
	logger *logging.Logger
}

// New creates a pipeline
func New(cfg Config, deps Deps, logger *logging.Logger) *Pipeline {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = defaultMaxFileSize
	}
	if cfg.RecordTimeout <= 0 {
		cfg.RecordTimeout = defaultRecordTimeout
	}
	return &Pipeline{cfg: cfg, deps: deps, logger: logger}
}

// Process runs req to completion. The fetched artifact is always released,
// and minutes are debited only for work that passed the transcription gate.
func (p *Pipeline) Process(ctx context.Context, req Request) (out Outcome) {
	start := time.Now()
	span, ctx := tracing.StartSpan(ctx, "pipeline.process")
	tracing.SetTag(span, "user_id", req.UserID)
	tracing.SetTag(span, "media_kind", string(req.Media.Kind))
	log := p.logger.WithUserID(req.UserID)

	defer func() {
		tracing.SetTag(span, "outcome", string(out.Code))
		tracing.FinishSpan(span)
		metrics.RecordOutcome(string(out.Status), string(out.Code), time.Since(start).Seconds())
		log.LogPipelineEvent(req.UserID, "completed", string(out.Code), map[string]interface{}{
			"status":      out.Status,
			"warning":     out.Warning,
			"retryable":   out.Retryable,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}()

	if !req.Media.Kind.Valid() {
		return rejected(CodeUnsupportedMedia)
	}
	metrics.RecordSubmission(string(req.Media.Kind))

	task := req.Settings.Task
	if task == "" {
		task = defaultTask
	}
	language := req.Settings.Language
	if language == "" {
		language = models.LanguageAuto
	}

	var artifact *media.Artifact
	err := p.gate(ctx, GateFetched, func(ctx context.Context) (err error) {
		artifact, err = p.deps.Fetcher.Fetch(ctx, req.Media)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return failed(CodeCanceled, true)
		}
		log.WithError(err).Warn("Failed to fetch media")
		return failed(CodeFetchFailed, false)
	}
	defer func() {
		if err := artifact.Release(); err != nil {
			log.WithError(err).Warn("Failed to remove media artifact")
		}
	}()

	if artifact.Size > p.cfg.MaxFileSize {
		out = rejected(CodeFileTooLarge)
		out.FileSize = artifact.Size
		return out
	}

	var seconds float64
	err = p.gate(ctx, GateDurationProbed, func(ctx context.Context) (err error) {
		seconds, err = p.deps.Prober.Probe(ctx, artifact.Path)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return failed(CodeCanceled, true)
		}
		if p.cfg.RejectUnknownDuration {
			log.WithError(err).Warn("Rejecting media with unknown duration")
			return rejected(CodeDurationUnknown)
		}
		log.WithError(err).Warn("Duration probe failed, continuing with zero duration")
		seconds = 0
	}
	minutes := seconds / 60

	var (
		reservation *quota.Reservation
		decision    quota.Decision
	)
	err = p.gate(ctx, GateAdmitted, func(ctx context.Context) (err error) {
		reservation, decision, err = p.deps.Ledger.Reserve(ctx, req.UserID, minutes)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return failed(CodeCanceled, true)
		}
		log.WithError(err).Error("Failed to check quota")
		return failed(CodeInternalError, !errors.Is(err, quota.ErrQuotaNotFound))
	}
	if reservation == nil {
		out = rejected(CodeQuotaExceeded)
		out.Quota = &decision
		return out
	}
	// Release is a no-op once Commit ran.
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.RecordTimeout)
		defer cancel()
		if err := reservation.Release(rctx); err != nil {
			log.WithError(err).Warn("Failed to release quota hold")
		}
	}()

	plan, err := p.deps.Catalog.Lookup(decision.Plan)
	if err != nil {
		log.WithError(err).Error("Quota row references an unknown plan")
		return failed(CodeInternalError, false)
	}

	var result *transcriber.Result
	txStart := time.Now()
	err = p.gate(ctx, GateTranscribed, func(ctx context.Context) (err error) {
		result, err = p.deps.Transcriber.Transcribe(ctx, transcriber.Job{
			AudioPath: artifact.Path,
			Model:     plan.ModelTier,
			Language:  language,
			Task:      task,
		})
		return err
	})
	processing := time.Since(txStart).Seconds()
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return failed(CodeCanceled, true)
		case transcriber.IsTransient(err):
			log.WithError(err).Warn("Transcription backend unavailable")
			return failed(CodeBackendUnavailable, true)
		default:
			log.WithError(err).Error("Transcription failed")
			return failed(CodeTranscriptionFailed, false)
		}
	}

	detected := result.Language
	if detected == "" {
		detected = language
	}
	delivery := &Delivery{
		Text:             result.Text,
		Language:         detected,
		TaskType:         task,
		CharCount:        utf8.RuneCountInString(result.Text),
		WordCount:        len(strings.Fields(result.Text)),
		ProcessingTime:   processing,
		DurationMinutes:  minutes,
		RemainingMinutes: remainingAfter(decision, minutes),
		Plan:             plan.Type,
		Segments:         result.Segments,
	}
	out = delivered(delivery)

	// The transcript exists now; accounting must not be lost to a caller
	// that stopped waiting.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.RecordTimeout)
	defer cancel()
	var commitErr error
	err = p.gate(rctx, GateRecorded, func(ctx context.Context) error {
		var errs []error
		if commitErr = reservation.Commit(ctx); commitErr != nil && !errors.Is(commitErr, quota.ErrHoldLapsed) {
			errs = append(errs, commitErr)
		}
		stat := &models.UsageStat{
			UserID:          req.UserID,
			FileType:        string(req.Media.Kind),
			FileSize:        artifact.Size,
			DurationSeconds: seconds,
			ProcessingTime:  processing,
			Language:        detected,
			TaskType:        task,
			CharactersCount: delivery.CharCount,
			WordsCount:      delivery.WordCount,
			Timestamp:       time.Now().UTC(),
		}
		if err := p.deps.Recorder.Append(ctx, stat); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})
	switch {
	case err != nil:
		log.WithError(err).Error("Failed to record usage")
		metrics.RecordError("pipeline", "persistence")
		out.Warning = WarningPersistenceError
	case commitErr != nil:
		log.WithError(commitErr).Warn("Transcription outlived its quota hold, minutes not debited")
		metrics.RecordError("pipeline", "hold_lapsed")
		out.Warning = WarningHoldLapsed
	}
	return out
}

func (p *Pipeline) gate(ctx context.Context, name string, fn func(context.Context) error) error {
	span, ctx := tracing.StartSpan(ctx, "pipeline."+name)
	start := time.Now()
	err := fn(ctx)
	metrics.RecordGate(name, time.Since(start).Seconds())
	tracing.LogError(span, err)
	tracing.FinishSpan(span)
	return err
}

func remainingAfter(d quota.Decision, minutes float64) float64 {
	if d.Unlimited {
		return models.UnlimitedMinutes
	}
	if r := d.Remaining - minutes; r > 0 {
		return r
	}
	return 0
}
