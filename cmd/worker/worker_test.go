package main

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/cache"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/export"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/logging"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/pipeline"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/plans"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/queue"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/quota"
	"github.com/therealutkarshpriyadarshi/transcribe/pkg/models"
)

type fakeProcessor struct {
	mu       sync.Mutex
	outcome  pipeline.Outcome
	requests []pipeline.Request
}

func (p *fakeProcessor) Process(_ context.Context, req pipeline.Request) pipeline.Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	return p.outcome
}

func (p *fakeProcessor) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

type fakeExporter struct {
	err     error
	formats []string
}

func (e *fakeExporter) Publish(_ context.Context, userID int64, jobID, format string, doc export.Document) (*export.Published, error) {
	e.formats = append(e.formats, format)
	if e.err != nil {
		return nil, e.err
	}
	data, err := export.Render(format, doc)
	if err != nil {
		return nil, err
	}
	key := export.ObjectKey(userID, jobID, format, time.Now())
	return &export.Published{Format: format, Key: key, URL: "https://exports.local/" + key, Size: int64(len(data))}, nil
}

type fakeSettings map[int64]*models.UserSettings

func (s fakeSettings) Get(_ context.Context, userID int64) (*models.UserSettings, error) {
	if prefs, ok := s[userID]; ok {
		return prefs, nil
	}
	d := models.DefaultSettings(userID)
	return &d, nil
}

type fakeQueue struct {
	mu         sync.Mutex
	results    []*models.JobResult
	retries    []string
	publishErr error
}

func (q *fakeQueue) PublishResult(_ context.Context, result *models.JobResult) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.publishErr != nil {
		return q.publishErr
	}
	q.results = append(q.results, result)
	return nil
}

func (q *fakeQueue) PublishToRetryQueue(_ context.Context, job *models.TranscriptionJob, reason string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if job.RetryCount >= queue.MaxRetries {
		return true, nil
	}
	q.retries = append(q.retries, reason)
	return false, nil
}

type fakeRemover struct {
	keys []string
}

func (r *fakeRemover) Delete(_ context.Context, objectName string) error {
	r.keys = append(r.keys, objectName)
	return nil
}

type harness struct {
	worker    *Worker
	processor *fakeProcessor
	exporter  *fakeExporter
	settings  fakeSettings
	queue     *fakeQueue
	uploads   *fakeRemover
	cache     *cache.Cache
}

func newHarness(t *testing.T, outcome pipeline.Outcome) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	redis, err := cache.NewCache(mr.Host(), port, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { redis.Close() })

	h := &harness{
		processor: &fakeProcessor{outcome: outcome},
		exporter:  &fakeExporter{},
		settings:  fakeSettings{},
		queue:     &fakeQueue{},
		uploads:   &fakeRemover{},
		cache:     redis,
	}
	h.worker = NewWorker(WorkerConfig{InlineTextLimit: 20, ResultTTL: time.Hour, LockTTL: time.Minute},
		h.processor, h.settings, plans.Default(), h.exporter, redis, h.queue, logging.NewNopLogger())
	h.worker.RemoveUploads(h.uploads)
	return h
}

func deliveredOutcome(text, plan string) pipeline.Outcome {
	return pipeline.Outcome{
		Status:  pipeline.StatusDelivered,
		Code:    pipeline.CodeDelivered,
		Message: pipeline.CodeDelivered.Message(),
		Delivery: &pipeline.Delivery{
			Text:             text,
			Language:         "en",
			TaskType:         models.TaskTranscribe,
			CharCount:        len([]rune(text)),
			WordCount:        len(strings.Fields(text)),
			DurationMinutes:  0.5,
			RemainingMinutes: 4.5,
			Plan:             plan,
			Segments:         []models.Segment{{Start: 0, End: 30, Text: text}},
		},
	}
}

func newJob(id string) *models.TranscriptionJob {
	return &models.TranscriptionJob{
		ID:      id,
		UserID:  42,
		ReplyTo: "chat-42",
		Media:   models.MediaRef{Key: "uploads/42/a.ogg", Kind: models.MediaKindVoice},
	}
}

func TestHandleDeliversInline(t *testing.T) {
	h := newHarness(t, deliveredOutcome("short text", plans.Free))
	ctx := context.Background()

	require.NoError(t, h.worker.Handle(ctx, newJob("job-1")))

	require.Len(t, h.queue.results, 1)
	res := h.queue.results[0]
	assert.Equal(t, "job-1", res.JobID)
	assert.Equal(t, "chat-42", res.ReplyTo)
	assert.Equal(t, string(pipeline.StatusDelivered), res.Status)
	assert.Equal(t, "short text", res.Text)
	assert.Empty(t, res.ExportURL)
	assert.Empty(t, h.exporter.formats)
	assert.False(t, res.CompletedAt.IsZero())

	cached, err := h.cache.GetJobResult(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "short text", cached.Text)

	delivered, err := h.cache.GetStat(ctx, cache.OutcomeStat("delivered"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), delivered)

	// the lock is released once the job ends
	acquired, err := h.cache.AcquireLock(ctx, lockName("job-1"), time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.Equal(t, 0, h.worker.InFlight())
}

func TestHandleSettingsFillMissingJobFields(t *testing.T) {
	h := newHarness(t, deliveredOutcome("hi", plans.Free))
	h.settings[42] = &models.UserSettings{UserID: 42, TranscribeLang: "ar", TaskType: models.TaskTranslate, ExportFormat: "txt"}

	require.NoError(t, h.worker.Handle(context.Background(), newJob("job-1")))
	job := newJob("job-2")
	job.Language = "fr"
	require.NoError(t, h.worker.Handle(context.Background(), job))

	require.Len(t, h.processor.requests, 2)
	assert.Equal(t, pipeline.Settings{Language: "ar", Task: models.TaskTranslate}, h.processor.requests[0].Settings)
	assert.Equal(t, pipeline.Settings{Language: "fr", Task: models.TaskTranslate}, h.processor.requests[1].Settings)
	assert.Equal(t, models.MediaKindVoice, h.processor.requests[0].Media.Kind)
}

func TestHandleExportsLongText(t *testing.T) {
	text := strings.Repeat("كلمة ", 10)
	h := newHarness(t, deliveredOutcome(text, plans.Free))

	require.NoError(t, h.worker.Handle(context.Background(), newJob("job-1")))

	res := h.queue.results[0]
	assert.Equal(t, []string{export.FormatTXT}, h.exporter.formats)
	assert.Equal(t, export.FormatTXT, res.ExportFormat)
	assert.Contains(t, res.ExportURL, "job-1.txt")
	assert.Equal(t, 20, len([]rune(res.Text)))
	assert.True(t, strings.HasPrefix(text, res.Text))
}

func TestHandleExportFormats(t *testing.T) {
	long := strings.Repeat("word ", 10)

	tests := []struct {
		name       string
		plan       string
		preferred  string
		text       string
		wantCalls  []string
		wantFormat string
	}{
		{name: "allowed srt", plan: plans.Free, preferred: "srt", text: "hi", wantCalls: []string{"srt"}, wantFormat: "srt"},
		{name: "vtt not on plan", plan: plans.Free, preferred: "vtt", text: "hi", wantCalls: nil, wantFormat: ""},
		{name: "vtt on business", plan: plans.Business, preferred: "vtt", text: "hi", wantCalls: []string{"vtt"}, wantFormat: "vtt"},
		{name: "pdf short stays inline", plan: plans.Pro, preferred: "pdf", text: "hi", wantCalls: []string{"pdf"}, wantFormat: ""},
		{name: "pdf long falls back to txt", plan: plans.Pro, preferred: "pdf", text: long, wantCalls: []string{"pdf", "txt"}, wantFormat: "txt"},
		{name: "disallowed long uses txt", plan: plans.Basic, preferred: "docx", text: long, wantCalls: []string{"txt"}, wantFormat: "txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, deliveredOutcome(tt.text, tt.plan))
			h.settings[42] = &models.UserSettings{UserID: 42, ExportFormat: tt.preferred}

			require.NoError(t, h.worker.Handle(context.Background(), newJob("job-1")))

			res := h.queue.results[0]
			assert.Equal(t, tt.wantCalls, h.exporter.formats)
			assert.Equal(t, tt.wantFormat, res.ExportFormat)
			assert.Empty(t, res.Warning)
		})
	}
}

func TestHandleExportFailureDeliversInline(t *testing.T) {
	text := strings.Repeat("word ", 10)
	h := newHarness(t, deliveredOutcome(text, plans.Free))
	h.exporter.err = errors.New("bucket unavailable")

	require.NoError(t, h.worker.Handle(context.Background(), newJob("job-1")))

	res := h.queue.results[0]
	assert.Equal(t, WarningExportFailed, res.Warning)
	assert.Equal(t, text, res.Text)
	assert.Empty(t, res.ExportURL)
}

func TestHandleKeepsPersistenceWarning(t *testing.T) {
	out := deliveredOutcome(strings.Repeat("word ", 10), plans.Free)
	out.Warning = pipeline.WarningPersistenceError
	h := newHarness(t, out)
	h.exporter.err = errors.New("bucket unavailable")

	require.NoError(t, h.worker.Handle(context.Background(), newJob("job-1")))
	assert.Equal(t, pipeline.WarningPersistenceError, h.queue.results[0].Warning)
}

func TestHandleRetryableFailure(t *testing.T) {
	out := pipeline.Outcome{
		Status:    pipeline.StatusFailed,
		Code:      pipeline.CodeBackendUnavailable,
		Message:   pipeline.CodeBackendUnavailable.Message(),
		Retryable: true,
	}

	t.Run("scheduled for retry", func(t *testing.T) {
		h := newHarness(t, out)
		require.NoError(t, h.worker.Handle(context.Background(), newJob("job-1")))

		assert.Equal(t, []string{"backend_unavailable"}, h.queue.retries)
		assert.Empty(t, h.queue.results)
		cached, err := h.cache.GetJobResult(context.Background(), "job-1")
		require.NoError(t, err)
		assert.Nil(t, cached)
		retries, err := h.cache.GetStat(context.Background(), cache.StatRetries)
		require.NoError(t, err)
		assert.Equal(t, int64(1), retries)
	})

	t.Run("dead lettered after max retries", func(t *testing.T) {
		h := newHarness(t, out)
		job := newJob("job-1")
		job.RetryCount = queue.MaxRetries

		require.NoError(t, h.worker.Handle(context.Background(), job))

		assert.Empty(t, h.queue.retries)
		require.Len(t, h.queue.results, 1)
		assert.Equal(t, string(pipeline.StatusFailed), h.queue.results[0].Status)
		assert.Equal(t, string(pipeline.CodeBackendUnavailable), h.queue.results[0].Code)
	})
}

func TestHandleRejectionCarriesQuota(t *testing.T) {
	h := newHarness(t, pipeline.Outcome{
		Status:  pipeline.StatusRejected,
		Code:    pipeline.CodeQuotaExceeded,
		Message: pipeline.CodeQuotaExceeded.Message(),
		Quota:   &quota.Decision{Admitted: false, Plan: plans.Free, Used: 4, Held: 0.5, Limit: 5, Remaining: 0.5},
	})

	require.NoError(t, h.worker.Handle(context.Background(), newJob("job-1")))

	res := h.queue.results[0]
	assert.Equal(t, string(pipeline.CodeQuotaExceeded), res.Code)
	assert.InDelta(t, 4.5, res.MinutesUsed, 1e-9)
	assert.InDelta(t, 5, res.MinutesLimit, 1e-9)
	assert.InDelta(t, 0.5, res.RemainingMinutes, 1e-9)
}

func TestHandleRedeliveryRepublishesCachedResult(t *testing.T) {
	h := newHarness(t, deliveredOutcome("hi", plans.Free))
	ctx := context.Background()
	require.NoError(t, h.cache.SetJobResult(ctx, &models.JobResult{JobID: "job-1", Status: "delivered", Text: "earlier"}, time.Hour))

	require.NoError(t, h.worker.Handle(ctx, newJob("job-1")))

	assert.Equal(t, 0, h.processor.calls())
	require.Len(t, h.queue.results, 1)
	assert.Equal(t, "earlier", h.queue.results[0].Text)
}

func TestHandleSkipsLockedJob(t *testing.T) {
	h := newHarness(t, deliveredOutcome("hi", plans.Free))
	ctx := context.Background()
	acquired, err := h.cache.AcquireLock(ctx, lockName("job-1"), time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	require.NoError(t, h.worker.Handle(ctx, newJob("job-1")))

	assert.Equal(t, 0, h.processor.calls())
	assert.Empty(t, h.queue.results)
}

func TestHandlePublishFailureRequeues(t *testing.T) {
	h := newHarness(t, deliveredOutcome("hi", plans.Free))
	h.queue.publishErr = errors.New("channel closed")
	ctx := context.Background()

	err := h.worker.Handle(ctx, newJob("job-1"))
	require.Error(t, err)

	// the stored result lets the redelivery skip the pipeline
	cached, err := h.cache.GetJobResult(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "hi", cached.Text)

	h.queue.publishErr = nil
	require.NoError(t, h.worker.Handle(ctx, newJob("job-1")))
	assert.Equal(t, 1, h.processor.calls())
	assert.Len(t, h.queue.results, 1)
}

func TestHandleRemovesUploadsAfterFinalOutcome(t *testing.T) {
	t.Run("delivered", func(t *testing.T) {
		h := newHarness(t, deliveredOutcome("hi", plans.Free))
		require.NoError(t, h.worker.Handle(context.Background(), newJob("job-1")))
		assert.Equal(t, []string{"uploads/42/a.ogg"}, h.uploads.keys)
	})

	t.Run("kept for retry", func(t *testing.T) {
		h := newHarness(t, pipeline.Outcome{Status: pipeline.StatusFailed, Code: pipeline.CodeFetchFailed, Retryable: true})
		require.NoError(t, h.worker.Handle(context.Background(), newJob("job-1")))
		assert.Empty(t, h.uploads.keys)
	})

	t.Run("another user's upload is left alone", func(t *testing.T) {
		h := newHarness(t, deliveredOutcome("hi", plans.Free))
		job := newJob("job-1")
		job.Media.Key = "uploads/43/a.ogg"
		require.NoError(t, h.worker.Handle(context.Background(), job))
		assert.Empty(t, h.uploads.keys)
	})

	t.Run("caller-owned media is left alone", func(t *testing.T) {
		h := newHarness(t, deliveredOutcome("hi", plans.Free))
		job := newJob("job-1")
		job.Media.Key = "inbox/42/a.ogg"
		require.NoError(t, h.worker.Handle(context.Background(), job))
		assert.Empty(t, h.uploads.keys)
	})
}

type fakePurger struct {
	calls chan time.Time
}

func (p *fakePurger) PurgeExpiredHolds(_ context.Context, now time.Time) (int64, error) {
	select {
	case p.calls <- now:
	default:
	}
	return 1, nil
}

func TestPurgeHolds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	purger := &fakePurger{calls: make(chan time.Time, 1)}
	done := make(chan struct{})
	go func() {
		PurgeHolds(ctx, purger, 5*time.Millisecond, logging.NewNopLogger())
		close(done)
	}()

	select {
	case at := <-purger.calls:
		assert.Equal(t, time.UTC, at.Location())
	case <-time.After(time.Second):
		t.Fatal("purge was not run")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "مرح", truncateRunes("مرحبا", 3))
	assert.Equal(t, "abc", truncateRunes("abc", 10))
	assert.Equal(t, "", truncateRunes("abc", 0))
}
