/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"errors"
	"time"

	"github.com/friendsincode/inkpress/internal/metadata"
	"github.com/friendsincode/inkpress/internal/procerr"
)

// ErrFileNotFound is returned when an uploaded file id is unknown or deleted.
var ErrFileNotFound = errors.New("uploaded file not found")

// FileStatus tracks an uploaded archive through processing.
type FileStatus string

const (
	FileUploaded   FileStatus = "uploaded"
	FileProcessing FileStatus = "processing"
	FileProcessed  FileStatus = "processed"
	FileError      FileStatus = "error"
	FileDeleted    FileStatus = "deleted"
)

// UploadedFile is a stored archive awaiting or holding a processing result.
type UploadedFile struct {
	ID                 string     `gorm:"type:uuid;primaryKey" json:"id"`
	OriginalFilename   string     `json:"original_filename"`
	Format             string     `gorm:"type:varchar(8)" json:"format"`
	SizeBytes          int64      `json:"size_bytes"`
	StorageKey         string     `json:"storage_key"`
	ContentHash        string     `gorm:"type:varchar(64);index" json:"content_hash,omitempty"`
	ChapterID          *string    `gorm:"type:uuid;index" json:"chapter_id,omitempty"`
	Status             FileStatus `gorm:"type:varchar(16);index" json:"status"`
	ProcessingAttempts uint       `json:"processing_attempts"`
	ErrorMessage       *string    `gorm:"type:text" json:"error_message,omitempty"`

	// Populated on success.
	Metadata        metadata.Manga    `gorm:"serializer:json" json:"metadata"`
	Warnings        []procerr.Warning `gorm:"serializer:json" json:"warnings,omitempty"`
	PageCount       int               `json:"page_count"`
	CoverPage       *int              `json:"cover_page,omitempty"`
	CoverThumbnails map[int]string    `gorm:"serializer:json" json:"cover_thumbnails,omitempty"`
	Container       string            `gorm:"type:varchar(8)" json:"container"`
	TotalEntries    int               `json:"total_entries"`

	Pages []Page `gorm:"foreignKey:FileID;constraint:OnDelete:CASCADE" json:"pages,omitempty"`

	UploadedAt  time.Time  `json:"uploaded_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Page is one page of a processed archive.
type Page struct {
	ID         string      `gorm:"type:uuid;primaryKey" json:"id"`
	FileID     string      `gorm:"type:uuid;uniqueIndex:idx_page_file_index" json:"file_id"`
	Index      int         `gorm:"column:page_index;uniqueIndex:idx_page_file_index" json:"index"`
	Filename   string      `json:"filename"`
	Width      int         `json:"width"`
	Height     int         `json:"height"`
	Format     string      `gorm:"type:varchar(8)" json:"format"`
	SizeBytes  int64       `json:"size_bytes"`
	IsCover    bool        `json:"is_cover"`
	Thumbnails []Thumbnail `gorm:"foreignKey:PageID;constraint:OnDelete:CASCADE" json:"thumbnails,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Thumbnail is one rendered size of a page.
type Thumbnail struct {
	ID       string `gorm:"type:uuid;primaryKey" json:"id"`
	PageID   string `gorm:"type:uuid;index" json:"page_id"`
	Size     int    `json:"size"`
	Location string `json:"location"`
}

// ChapterStatus tracks a chapter as its archive is processed.
type ChapterStatus string

const (
	ChapterUploaded   ChapterStatus = "uploaded"
	ChapterProcessing ChapterStatus = "processing"
	ChapterReady      ChapterStatus = "ready"
	ChapterError      ChapterStatus = "error"
)

// Chapter is the reader-facing unit an uploaded archive belongs to.
type Chapter struct {
	ID        string        `gorm:"type:uuid;primaryKey" json:"id"`
	Title     string        `json:"title"`
	Number    *float64      `json:"number,omitempty"`
	Volume    *float64      `json:"volume,omitempty"`
	Language  string        `gorm:"type:varchar(16)" json:"language"`
	PageCount int           `json:"page_count"`
	Status    ChapterStatus `gorm:"type:varchar(16);index" json:"status"`
	Error     string        `gorm:"type:text" json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}
