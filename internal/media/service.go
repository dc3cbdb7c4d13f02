/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"

	"github.com/friendsincode/inkpress/internal/config"
	"github.com/friendsincode/inkpress/internal/thumbnail"
)

// ErrNotFound is returned when a storage key does not exist.
var ErrNotFound = errors.New("object not found")

// Storage interface abstracts file storage operations.
type Storage interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	URL(key string) string
	CheckAccess(ctx context.Context) error
}

// Service stores uploaded archives and their rendered thumbnails.
type Service struct {
	storage Storage
	logger  zerolog.Logger

	readAttempts uint
	readDelay    time.Duration
}

// NewService creates a media service using filesystem or S3 storage based on config.
func NewService(cfg *config.Config, logger zerolog.Logger) (*Service, error) {
	logger = logger.With().Str("component", "media").Logger()

	var storage Storage
	if cfg.S3Bucket != "" {
		s3cfg := S3Config{
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			Endpoint:        cfg.S3Endpoint,
			PublicBaseURL:   cfg.S3PublicBaseURL,
			UsePathStyle:    cfg.S3UsePathStyle,
		}
		if s3cfg.AccessKeyID == "" || s3cfg.SecretAccessKey == "" {
			logger.Warn().Msg("S3 credentials not configured, using default credential chain")
		}

		s3Storage, err := NewS3Storage(context.Background(), s3cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 storage: %w", err)
		}
		storage = s3Storage
	} else {
		storage = NewFilesystemStorage(cfg.StorageRoot, logger)
	}

	return NewServiceWithStorage(storage, cfg.StorageReadAttempts, logger), nil
}

// NewServiceWithStorage wraps an existing backend.
func NewServiceWithStorage(storage Storage, readAttempts uint, logger zerolog.Logger) *Service {
	if readAttempts == 0 {
		readAttempts = 3
	}
	return &Service{
		storage:      storage,
		logger:       logger,
		readAttempts: readAttempts,
		readDelay:    100 * time.Millisecond,
	}
}

// StoreArchive saves an uploaded archive and returns its storage key.
func (s *Service) StoreArchive(ctx context.Context, fileID string, body io.Reader, size int64) (string, error) {
	key := ArchiveKey(fileID)
	if err := s.storage.Put(ctx, key, body, size, "application/octet-stream"); err != nil {
		s.logger.Error().Err(err).Str("file_id", fileID).Msg("archive store failed")
		return "", fmt.Errorf("store archive: %w", err)
	}

	s.logger.Info().
		Str("file_id", fileID).
		Str("key", key).
		Int64("size", size).
		Msg("archive stored")
	return key, nil
}

// OpenForRead opens a stored archive. Transient backend errors are retried
// with exponential backoff; a missing object is not.
func (s *Service) OpenForRead(ctx context.Context, fileID string) (io.ReadCloser, error) {
	key := ArchiveKey(fileID)
	var rc io.ReadCloser
	err := retry.Do(
		func() error {
			r, err := s.storage.Open(ctx, key)
			if err != nil {
				return err
			}
			rc = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(s.readAttempts),
		retry.Delay(s.readDelay),
		retry.MaxDelay(2*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return !errors.Is(err, ErrNotFound) }),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Debug().Err(err).Str("file_id", fileID).Uint("retry", n+1).Msg("archive read failed, retrying")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", key, err)
	}
	return rc, nil
}

// WriteThumbnail uploads a rendered thumbnail and returns its location.
// pageIndex thumbnail.CoverIndex stores the cover.
func (s *Service) WriteThumbnail(ctx context.Context, fileID string, pageIndex, size int, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open thumbnail: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat thumbnail: %w", err)
	}

	key := ThumbnailKey(fileID, pageIndex, size)
	if err := s.storage.Put(ctx, key, f, info.Size(), "image/jpeg"); err != nil {
		return "", fmt.Errorf("store thumbnail: %w", err)
	}
	return s.storage.URL(key), nil
}

// DeleteFile removes a stored archive.
func (s *Service) DeleteFile(ctx context.Context, fileID string) error {
	key := ArchiveKey(fileID)
	if err := s.storage.Delete(ctx, key); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("archive delete failed")
		return fmt.Errorf("delete archive: %w", err)
	}
	return nil
}

// CheckStorageAccess verifies that the storage backend is accessible.
func (s *Service) CheckStorageAccess(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.storage.CheckAccess(ctx)
}

// ArchiveKey is the storage key of an uploaded archive.
func ArchiveKey(fileID string) string {
	return path.Join("archives", shard(fileID), fileID)
}

// ThumbnailKey is the storage key of a rendered thumbnail.
func ThumbnailKey(fileID string, pageIndex, size int) string {
	name := thumbnail.PageName(pageIndex, size)
	if pageIndex == thumbnail.CoverIndex {
		name = thumbnail.CoverName(size)
	}
	return path.Join("thumbnails", shard(fileID), fileID, name)
}

// shard spreads ids over two directory levels: id[0:2]/id[2:4].
func shard(id string) string {
	if len(id) < 4 {
		return "_"
	}
	return path.Join(id[0:2], id[2:4])
}
