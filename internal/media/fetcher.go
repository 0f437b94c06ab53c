package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/logging"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/metrics"
	"github.com/therealutkarshpriyadarshi/transcribe/pkg/models"
)

var ErrInvalidRef = errors.New("invalid media reference")

// Downloader copies an object to a local path
type Downloader interface {
	DownloadFile(ctx context.Context, objectName, filePath string) error
}

// StorageFetcher materializes media from object storage into a temp directory
type StorageFetcher struct {
	store   Downloader
	tempDir string
	logger  *logging.Logger
}

// NewStorageFetcher creates a fetcher writing under tempDir
func NewStorageFetcher(store Downloader, tempDir string, logger *logging.Logger) *StorageFetcher {
	return &StorageFetcher{store: store, tempDir: tempDir, logger: logger}
}

// Fetch downloads ref and returns the local artifact
func (f *StorageFetcher) Fetch(ctx context.Context, ref models.MediaRef) (*Artifact, error) {
	if ref.Key == "" || !ref.Kind.Valid() {
		return nil, fmt.Errorf("%w: key=%q kind=%q", ErrInvalidRef, ref.Key, ref.Kind)
	}
	if err := os.MkdirAll(f.tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	path := filepath.Join(f.tempDir, fmt.Sprintf("%s.%s", uuid.New().String(), ref.Kind.Extension()))
	if err := f.store.DownloadFile(ctx, ref.Key, path); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to fetch media: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to stat media: %w", err)
	}

	metrics.RecordMediaSize(info.Size())
	f.logger.WithFields(map[string]interface{}{
		"key":  ref.Key,
		"kind": ref.Kind,
		"size": info.Size(),
	}).Debug("Media fetched")
	return NewArtifact(path, info.Size(), ref.Kind, nil), nil
}
