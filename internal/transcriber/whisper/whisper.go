// Package whisper is a client for a faster-whisper HTTP sidecar.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/logging"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/metrics"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/transcriber"
	"github.com/therealutkarshpriyadarshi/transcribe/pkg/models"
)

const (
	defaultURL           = "http://localhost:8387"
	defaultModel         = "base"
	defaultTimeout       = 10 * time.Minute
	defaultMaxRetries    = 3
	defaultRetryInterval = 500 * time.Millisecond
)

// Config holds configuration for the sidecar client
type Config struct {
	URL           string
	Timeout       time.Duration
	MaxRetries    uint
	RetryInterval time.Duration
}

// Client implements transcriber.Transcriber over HTTP
type Client struct {
	cfg    Config
	client *http.Client
	logger *logging.Logger
}

var _ transcriber.Transcriber = (*Client)(nil)

// NewClient creates a sidecar client
func NewClient(cfg Config, logger *logging.Logger) *Client {
	if cfg.URL == "" {
		cfg.URL = defaultURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// IsAvailable checks if the sidecar is reachable
func (c *Client) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Transcribe uploads the audio file and returns the transcript. Transient
// failures are retried with exponential backoff before being reported.
func (c *Client) Transcribe(ctx context.Context, job transcriber.Job) (*transcriber.Result, error) {
	audio, err := os.ReadFile(job.AudioPath)
	if err != nil {
		return nil, &transcriber.BackendError{Err: fmt.Errorf("read audio file: %w", err)}
	}

	model := job.Model
	if model == "" {
		model = defaultModel
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.RetryInterval

	start := time.Now()
	result, err := backoff.Retry(ctx, func() (*transcriber.Result, error) {
		res, err := c.send(ctx, audio, filepath.Base(job.AudioPath), model, job)
		if err != nil && !transcriber.IsTransient(err) {
			return nil, backoff.Permanent(err)
		}
		return res, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(c.cfg.MaxRetries),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.WithError(err).WithField("retry_in", next.String()).Warn("Transcription backend unavailable, retrying")
		}),
	)
	if err != nil {
		metrics.RecordTranscriberRequest(model, "error", time.Since(start).Seconds())
		var be *transcriber.BackendError
		if !errors.As(err, &be) {
			// Context expiry while waiting between attempts.
			err = &transcriber.BackendError{Transient: true, Err: err}
		}
		return nil, err
	}

	metrics.RecordTranscriberRequest(model, "success", time.Since(start).Seconds())
	return result, nil
}

func (c *Client) send(ctx context.Context, audio []byte, filename, model string, job transcriber.Job) (*transcriber.Result, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("audio", filename)
	if err != nil {
		return nil, &transcriber.BackendError{Err: fmt.Errorf("create form file: %w", err)}
	}
	if _, err := part.Write(audio); err != nil {
		return nil, &transcriber.BackendError{Err: fmt.Errorf("write audio data: %w", err)}
	}

	_ = writer.WriteField("model", model)
	if job.Language != "" && job.Language != models.LanguageAuto {
		_ = writer.WriteField("language", job.Language)
	}
	if job.Task != "" {
		_ = writer.WriteField("task", job.Task)
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/transcribe", &buf)
	if err != nil {
		return nil, &transcriber.BackendError{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &transcriber.BackendError{Transient: true, Err: fmt.Errorf("whisper request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &transcriber.BackendError{
			Transient:  resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
			StatusCode: resp.StatusCode,
			Err:        errors.New(string(body)),
		}
	}

	var result whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &transcriber.BackendError{Err: fmt.Errorf("decode whisper response: %w", err)}
	}

	return toResult(&result, job.Language), nil
}

// --- internal Whisper API response types ---

type whisperResponse struct {
	Text     string           `json:"text"`
	Segments []whisperSegment `json:"segments"`
	Language string           `json:"language"`
}

type whisperSegment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

func toResult(resp *whisperResponse, hint string) *transcriber.Result {
	segments := make([]models.Segment, len(resp.Segments))
	for i, seg := range resp.Segments {
		segments[i] = models.Segment{
			Start: seg.Start,
			End:   seg.End,
			Text:  seg.Text,
		}
	}

	var duration float64
	if len(resp.Segments) > 0 {
		duration = resp.Segments[len(resp.Segments)-1].End
	}

	language := resp.Language
	if language == "" {
		language = hint
	}

	return &transcriber.Result{
		Text:     resp.Text,
		Language: language,
		Segments: segments,
		Duration: duration,
	}
}
