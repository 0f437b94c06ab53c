// Package usage appends usage records and serves per-user reports.
package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/therealutkarshpriyadarshi/transcribe/internal/logging"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/metrics"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/store"
	"github.com/therealutkarshpriyadarshi/transcribe/pkg/models"
)

var ErrInvalidStat = errors.New("invalid usage stat")

// DefaultSummaryTTL is how long a cached report is served
const DefaultSummaryTTL = 5 * time.Minute

// SummaryCache is a read-through cache for usage reports
type SummaryCache interface {
	GetUsageSummary(ctx context.Context, userID int64) (*models.UsageSummary, error)
	SetUsageSummary(ctx context.Context, summary *models.UsageSummary, ttl time.Duration) error
	DeleteUsageSummary(ctx context.Context, userID int64) error
}

// Recorder writes usage_stats rows
type Recorder struct {
	store  store.Store
	cache  SummaryCache
	ttl    time.Duration
	logger *logging.Logger
}

// NewRecorder creates a recorder. cache may be nil.
func NewRecorder(st store.Store, cache SummaryCache, logger *logging.Logger) *Recorder {
	return &Recorder{store: st, cache: cache, ttl: DefaultSummaryTTL, logger: logger}
}

func validate(stat *models.UsageStat) error {
	switch {
	case stat.UserID == 0:
		return fmt.Errorf("%w: missing user", ErrInvalidStat)
	case stat.DurationSeconds < 0, stat.ProcessingTime < 0, stat.FileSize < 0:
		return fmt.Errorf("%w: negative measurement", ErrInvalidStat)
	case stat.CharactersCount < 0, stat.WordsCount < 0:
		return fmt.Errorf("%w: negative count", ErrInvalidStat)
	}
	return nil
}

// Append inserts one usage record. Records are never updated.
func (r *Recorder) Append(ctx context.Context, stat *models.UsageStat) error {
	if err := validate(stat); err != nil {
		return err
	}
	if stat.Timestamp.IsZero() {
		stat.Timestamp = time.Now().UTC()
	}

	start := time.Now()
	err := r.store.AppendUsage(ctx, stat)
	metrics.RecordDatabaseOperation("append_usage", metrics.Status(err), time.Since(start).Seconds())
	r.logger.LogDatabaseOperation("append_usage", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}

	if r.cache != nil {
		if err := r.cache.DeleteUsageSummary(ctx, stat.UserID); err != nil {
			r.logger.WithUserID(stat.UserID).WithError(err).Warn("Failed to invalidate usage summary")
		}
	}
	return nil
}

// Summary returns aggregated usage for a user
func (r *Recorder) Summary(ctx context.Context, userID int64) (*models.UsageSummary, error) {
	if r.cache != nil {
		cached, err := r.cache.GetUsageSummary(ctx, userID)
		if err != nil {
			r.logger.WithUserID(userID).WithError(err).Warn("Usage summary cache read failed")
		}
		metrics.RecordCacheAccess("usage", cached != nil)
		if cached != nil {
			return cached, nil
		}
	}

	summary, err := r.store.UsageSummary(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize usage: %w", err)
	}

	if r.cache != nil {
		if err := r.cache.SetUsageSummary(ctx, summary, r.ttl); err != nil {
			r.logger.WithUserID(userID).WithError(err).Warn("Failed to cache usage summary")
		}
	}
	return summary, nil
}
