/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package catalog persists uploaded files and their processing results.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/inkpress/internal/models"
	"github.com/friendsincode/inkpress/internal/processor"
)

// Store is the gorm-backed metadata store.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// New creates a store.
func New(db *gorm.DB, logger zerolog.Logger) *Store {
	return &Store{db: db, logger: logger.With().Str("component", "catalog").Logger()}
}

// Registration describes a newly stored archive.
type Registration struct {
	ID               string
	OriginalFilename string
	Format           string
	SizeBytes        int64
	StorageKey       string
	ContentHash      string
	ChapterID        *string
}

// Register records an uploaded archive in the uploaded state.
func (s *Store) Register(ctx context.Context, r Registration) (*models.UploadedFile, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	format := r.Format
	if format == "" {
		format = extOf(r.OriginalFilename)
	}
	now := time.Now().UTC()
	file := &models.UploadedFile{
		ID:               r.ID,
		OriginalFilename: r.OriginalFilename,
		Format:           format,
		SizeBytes:        r.SizeBytes,
		StorageKey:       r.StorageKey,
		ContentHash:      r.ContentHash,
		ChapterID:        r.ChapterID,
		Status:           models.FileUploaded,
		UploadedAt:       now,
	}
	if err := s.db.WithContext(ctx).Create(file).Error; err != nil {
		return nil, fmt.Errorf("register file: %w", err)
	}
	s.logger.Info().Str("file_id", file.ID).Str("filename", file.OriginalFilename).Msg("file registered")
	return file, nil
}

// GetFile loads a file record.
func (s *Store) GetFile(ctx context.Context, fileID string) (*models.UploadedFile, error) {
	var file models.UploadedFile
	err := s.db.WithContext(ctx).First(&file, "id = ?", fileID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load file: %w", err)
	}
	return &file, nil
}

// FindByHash returns the live file with the given SHA-256 content hash.
func (s *Store) FindByHash(ctx context.Context, hash string) (*models.UploadedFile, error) {
	var file models.UploadedFile
	err := s.db.WithContext(ctx).
		Where("content_hash = ? AND status <> ?", hash, models.FileDeleted).
		Order("uploaded_at").
		First(&file).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find file by hash: %w", err)
	}
	return &file, nil
}

// GetResult loads a file with its pages and thumbnails in page order.
func (s *Store) GetResult(ctx context.Context, fileID string) (*models.UploadedFile, error) {
	var file models.UploadedFile
	err := s.db.WithContext(ctx).
		Preload("Pages", func(db *gorm.DB) *gorm.DB { return db.Order("page_index ASC") }).
		Preload("Pages.Thumbnails", func(db *gorm.DB) *gorm.DB { return db.Order("size DESC") }).
		First(&file, "id = ?", fileID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load result: %w", err)
	}
	return &file, nil
}

// GetPendingFiles lists files without a final result, oldest first. Files
// left in processing by a crashed instance are included.
func (s *Store) GetPendingFiles(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&models.UploadedFile{}).
		Where("status IN ?", []models.FileStatus{models.FileUploaded, models.FileProcessing}).
		Order("uploaded_at ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list pending files: %w", err)
	}
	return ids, nil
}

// MarkProcessing moves a file to processing and returns its new attempt count.
func (s *Store) MarkProcessing(ctx context.Context, fileID string) (uint, error) {
	var file models.UploadedFile
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.UploadedFile{}).
			Where("id = ? AND status <> ?", fileID, models.FileDeleted).
			Updates(map[string]any{
				"status":              models.FileProcessing,
				"processing_attempts": gorm.Expr("processing_attempts + 1"),
				"updated_at":          time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return models.ErrFileNotFound
		}
		return tx.Select("processing_attempts").First(&file, "id = ?", fileID).Error
	})
	if err != nil {
		return 0, fmt.Errorf("mark processing: %w", err)
	}
	return file.ProcessingAttempts, nil
}

// MarkProcessed stores a successful result, replacing any earlier pages.
func (s *Store) MarkProcessed(ctx context.Context, fileID string, result *processor.Result) error {
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := deletePages(tx, fileID); err != nil {
			return err
		}

		pages := make([]models.Page, len(result.Pages))
		for i, p := range result.Pages {
			page := models.Page{
				ID:        uuid.NewString(),
				FileID:    fileID,
				Index:     p.Index,
				Filename:  p.Filename,
				Width:     p.Width,
				Height:    p.Height,
				Format:    string(p.Format),
				SizeBytes: p.SizeBytes,
				IsCover:   p.IsCover,
			}
			for _, size := range sortedSizes(p.Thumbnails) {
				page.Thumbnails = append(page.Thumbnails, models.Thumbnail{
					ID:       uuid.NewString(),
					PageID:   page.ID,
					Size:     size,
					Location: p.Thumbnails[size],
				})
			}
			pages[i] = page
		}
		if len(pages) > 0 {
			if err := tx.Create(&pages).Error; err != nil {
				return fmt.Errorf("insert pages: %w", err)
			}
		}

		var cover *int
		if result.Cover != nil {
			idx := result.Cover.Index
			cover = &idx
		}
		return tx.Model(&models.UploadedFile{ID: fileID}).
			Select("status", "error_message", "metadata", "warnings", "page_count", "cover_page",
				"cover_thumbnails", "container", "total_entries", "processed_at", "updated_at").
			Updates(&models.UploadedFile{
				Status:          models.FileProcessed,
				ErrorMessage:    nil,
				Metadata:        result.Metadata,
				Warnings:        result.Warnings,
				PageCount:       len(result.Pages),
				CoverPage:       cover,
				CoverThumbnails: result.CoverThumbnails,
				Container:       string(result.Container),
				TotalEntries:    result.TotalEntries,
				ProcessedAt:     &now,
				UpdatedAt:       now,
			}).Error
	})
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

// MarkPending returns a file to the queue with the reason of the last failure.
func (s *Store) MarkPending(ctx context.Context, fileID, message string) error {
	err := s.db.WithContext(ctx).
		Model(&models.UploadedFile{}).
		Where("id = ?", fileID).
		Updates(map[string]any{
			"status":        models.FileUploaded,
			"error_message": message,
			"updated_at":    time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("mark pending: %w", err)
	}
	return nil
}

// Requeue returns a failed file to the queue. The attempt count is kept, so
// the file gets one more attempt before it is terminal again. Only files in
// the error state can be requeued.
func (s *Store) Requeue(ctx context.Context, fileID string) error {
	res := s.db.WithContext(ctx).
		Model(&models.UploadedFile{}).
		Where("id = ? AND status = ?", fileID, models.FileError).
		Updates(map[string]any{
			"status":     models.FileUploaded,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("requeue file: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		file, err := s.GetFile(ctx, fileID)
		if err != nil {
			return err
		}
		return fmt.Errorf("file %s is %s, only failed files can be requeued", fileID, file.Status)
	}
	s.logger.Info().Str("file_id", fileID).Msg("file requeued")
	return nil
}

// MarkError records a terminal failure. The attempt count never decreases.
func (s *Store) MarkError(ctx context.Context, fileID, message string, attempts uint) error {
	err := s.db.WithContext(ctx).
		Model(&models.UploadedFile{}).
		Where("id = ?", fileID).
		Updates(map[string]any{
			"status":        models.FileError,
			"error_message": message,
			"processing_attempts": gorm.Expr(
				"CASE WHEN processing_attempts < ? THEN ? ELSE processing_attempts END", attempts, attempts),
			"updated_at": time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("mark error: %w", err)
	}
	return nil
}

// Delete marks a file deleted and drops its pages.
func (s *Store) Delete(ctx context.Context, fileID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.UploadedFile{}).
			Where("id = ?", fileID).
			Updates(map[string]any{"status": models.FileDeleted, "updated_at": time.Now().UTC()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return models.ErrFileNotFound
		}
		return deletePages(tx, fileID)
	})
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

func deletePages(tx *gorm.DB, fileID string) error {
	pageIDs := tx.Model(&models.Page{}).Select("id").Where("file_id = ?", fileID)
	if err := tx.Where("page_id IN (?)", pageIDs).Delete(&models.Thumbnail{}).Error; err != nil {
		return fmt.Errorf("delete thumbnails: %w", err)
	}
	if err := tx.Where("file_id = ?", fileID).Delete(&models.Page{}).Error; err != nil {
		return fmt.Errorf("delete pages: %w", err)
	}
	return nil
}
