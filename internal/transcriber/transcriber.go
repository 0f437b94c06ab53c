// Package transcriber defines the speech-to-text backend contract.
package transcriber

import (
	"context"
	"errors"
	"fmt"

	"github.com/therealutkarshpriyadarshi/transcribe/pkg/models"
)

// Job is one transcription request
type Job struct {
	AudioPath string
	Model     string
	// Language is a hint; "auto" or empty lets the backend detect it.
	Language string
	Task     string
}

// Result is a finished transcription
type Result struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Segments []models.Segment `json:"segments"`
	Duration float64          `json:"duration"`
}

// Transcriber turns audio into text
type Transcriber interface {
	Transcribe(ctx context.Context, job Job) (*Result, error)
}

// BackendError reports a failed backend call. Transient errors may succeed
// when retried later.
type BackendError struct {
	Transient  bool
	StatusCode int
	Err        error
}

func (e *BackendError) Error() string {
	kind := "fatal"
	if e.Transient {
		kind = "transient"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("transcription backend %s error (status %d): %v", kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transcription backend %s error: %v", kind, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable backend failure
func IsTransient(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Transient
}
