package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/therealutkarshpriyadarshi/transcribe/internal/logging"
)

// ObjectStore is the subset of storage used for exports
type ObjectStore interface {
	UploadExport(ctx context.Context, objectName string, reader io.Reader, size int64) error
	PresignExport(ctx context.Context, objectName string) (string, error)
}

// Published describes an uploaded export
type Published struct {
	Format string `json:"format"`
	Key    string `json:"key"`
	URL    string `json:"url"`
	Size   int64  `json:"size"`
}

// Service renders transcripts and publishes them to object storage
type Service struct {
	store  ObjectStore
	logger *logging.Logger
}

// NewService creates an export service
func NewService(store ObjectStore, logger *logging.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// ObjectKey is where an export for a job is stored
func ObjectKey(userID int64, jobID, format string, at time.Time) string {
	return fmt.Sprintf("%d/%s/%s.%s", userID, at.UTC().Format("2006-01-02"), jobID, format)
}

// Publish renders doc and uploads it, returning a presigned download URL
func (s *Service) Publish(ctx context.Context, userID int64, jobID, format string, doc Document) (*Published, error) {
	data, err := Render(format, doc)
	if err != nil {
		return nil, err
	}

	key := ObjectKey(userID, jobID, format, time.Now())
	if err := s.store.UploadExport(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
		return nil, fmt.Errorf("failed to publish export: %w", err)
	}

	url, err := s.store.PresignExport(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to publish export: %w", err)
	}

	s.logger.WithUserID(userID).WithJobID(jobID).WithField("format", format).Debug("Export published")
	return &Published{Format: format, Key: key, URL: url, Size: int64(len(data))}, nil
}
