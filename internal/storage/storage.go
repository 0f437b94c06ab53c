package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/config"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/logging"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/metrics"
)

// ErrObjectNotFound is returned when a key does not exist in the bucket
var ErrObjectNotFound = errors.New("object not found")

// Storage provides object storage operations for submitted media and exports
type Storage struct {
	client       *minio.Client
	bucketName   string
	exportBucket string
	urlExpiry    time.Duration
	logger       *logging.Logger
}

// New creates a new storage client
func New(cfg config.StorageConfig, logger *logging.Logger) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	// Ensure buckets exist
	ctx := context.Background()
	for _, bucket := range []string{cfg.BucketName, cfg.ExportBucket} {
		exists, err := client.BucketExists(ctx, bucket)
		if err != nil {
			return nil, fmt.Errorf("failed to check bucket existence: %w", err)
		}

		if !exists {
			err = client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{
				Region: cfg.Region,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
	}

	return &Storage{
		client:       client,
		bucketName:   cfg.BucketName,
		exportBucket: cfg.ExportBucket,
		urlExpiry:    cfg.URLExpiry,
		logger:       logger,
	}, nil
}

func (s *Storage) observe(operation, bucket, key string, size int64, start time.Time, err error) {
	duration := time.Since(start)
	metrics.RecordStorageOperation(operation, metrics.Status(err), duration.Seconds(), size)
	s.logger.LogStorageOperation(operation, bucket, key, size, duration, err)
}

// Upload uploads submitted media
func (s *Storage) Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error {
	start := time.Now()
	_, err := s.client.PutObject(ctx, s.bucketName, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	s.observe("upload", s.bucketName, objectName, size, start, err)
	if err != nil {
		return fmt.Errorf("failed to upload object: %w", err)
	}

	return nil
}

// Stat returns the size of a media object
func (s *Storage) Stat(ctx context.Context, objectName string) (int64, error) {
	info, err := s.client.StatObject(ctx, s.bucketName, objectName, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return 0, ErrObjectNotFound
		}
		return 0, fmt.Errorf("failed to stat object: %w", err)
	}

	return info.Size, nil
}

// DownloadFile downloads a media object to the local filesystem
func (s *Storage) DownloadFile(ctx context.Context, objectName, filePath string) error {
	start := time.Now()
	err := s.client.FGetObject(ctx, s.bucketName, objectName, filePath, minio.GetObjectOptions{})
	s.observe("download", s.bucketName, objectName, 0, start, err)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return ErrObjectNotFound
		}
		return fmt.Errorf("failed to download file: %w", err)
	}

	return nil
}

// Delete deletes a media object
func (s *Storage) Delete(ctx context.Context, objectName string) error {
	err := s.client.RemoveObject(ctx, s.bucketName, objectName, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}

	return nil
}

// UploadExport stores a rendered transcript in the export bucket
func (s *Storage) UploadExport(ctx context.Context, objectName string, reader io.Reader, size int64) error {
	start := time.Now()
	_, err := s.client.PutObject(ctx, s.exportBucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType:        getContentType(objectName),
		ContentDisposition: fmt.Sprintf("attachment; filename=%q", filepath.Base(objectName)),
	})
	s.observe("export", s.exportBucket, objectName, size, start, err)
	if err != nil {
		return fmt.Errorf("failed to upload export: %w", err)
	}

	return nil
}

// PresignExport returns a time-limited download URL for an export
func (s *Storage) PresignExport(ctx context.Context, objectName string) (string, error) {
	url, err := s.client.PresignedGetObject(ctx, s.exportBucket, objectName, s.urlExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate URL: %w", err)
	}

	return url.String(), nil
}

// Health checks that the media bucket is reachable
func (s *Storage) Health(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.bucketName); err != nil {
		return fmt.Errorf("storage unreachable: %w", err)
	}
	return nil
}

// getContentType returns the content type based on file extension
func getContentType(filePath string) string {
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".ogg", ".oga":
		return "audio/ogg"
	case ".mp3":
		return "audio/mpeg"
	case ".m4a":
		return "audio/mp4"
	case ".wav":
		return "audio/wav"
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".txt":
		return "text/plain; charset=utf-8"
	case ".srt":
		return "application/x-subrip"
	case ".vtt":
		return "text/vtt"
	default:
		return "application/octet-stream"
	}
}

// ContentTypeFor exposes the extension mapping to uploaders
func ContentTypeFor(filePath string) string {
	return getContentType(filePath)
}
