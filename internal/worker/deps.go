/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package worker

import (
	"context"
	"io"

	"github.com/friendsincode/inkpress/internal/metadata"
	"github.com/friendsincode/inkpress/internal/models"
	"github.com/friendsincode/inkpress/internal/processor"
)

// FileStorage reads stored archives and persists rendered thumbnails.
type FileStorage interface {
	OpenForRead(ctx context.Context, fileID string) (io.ReadCloser, error)
	// WriteThumbnail stores a rendered thumbnail and returns its location.
	// Cover thumbnails use thumbnail.CoverIndex as pageIndex.
	WriteThumbnail(ctx context.Context, fileID string, pageIndex, size int, localPath string) (string, error)
}

// MetadataStore persists per-file processing state.
type MetadataStore interface {
	GetFile(ctx context.Context, fileID string) (*models.UploadedFile, error)
	GetPendingFiles(ctx context.Context) ([]string, error)
	// MarkProcessing moves the file to processing and returns the
	// incremented attempt count.
	MarkProcessing(ctx context.Context, fileID string) (uint, error)
	MarkProcessed(ctx context.Context, fileID string, result *processor.Result) error
	// MarkPending returns the file to the queue after a retryable failure
	// or an interrupted attempt.
	MarkPending(ctx context.Context, fileID, message string) error
	MarkError(ctx context.Context, fileID, message string, attempts uint) error
}

// Outcome is the final result of processing reported to a chapter.
type Outcome struct {
	Succeeded bool
	PageCount int
	Metadata  *metadata.Manga
	Message   string
}

// ChapterBridge mirrors file processing onto the owning chapter.
type ChapterBridge interface {
	OnProcessingStarted(ctx context.Context, chapterID string) error
	OnProcessingFinished(ctx context.Context, chapterID string, outcome Outcome) error
}

// Processor runs one extraction attempt.
type Processor interface {
	Process(ctx context.Context, in processor.Input, pctx processor.Context) (*processor.Result, error)
}

// Locker provides a cross-instance lease on a file id.
type Locker interface {
	// TryLock returns acquired=false without error when another holder owns key.
	TryLock(ctx context.Context, key string) (unlock func(), acquired bool, err error)
}

// LockInspector is implemented by lockers that can name the current holder.
type LockInspector interface {
	Holder(ctx context.Context, key string) (string, error)
}
