/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/friendsincode/inkpress/internal/archive"
	"github.com/friendsincode/inkpress/internal/events"
	"github.com/friendsincode/inkpress/internal/media"
	"github.com/friendsincode/inkpress/internal/models"
	"github.com/friendsincode/inkpress/internal/procerr"
	"github.com/friendsincode/inkpress/internal/processor"
	"github.com/friendsincode/inkpress/internal/telemetry"
	"github.com/friendsincode/inkpress/internal/thumbnail"
)

const persistTimeout = 15 * time.Second

type outcome string

const (
	outcomeSucceeded   outcome = "succeeded"
	outcomePartial     outcome = "partial"
	outcomeRetry       outcome = "retry"
	outcomeFailed      outcome = "failed"
	outcomeInterrupted outcome = "interrupted"
	// deferred attempts never reached the processor and do not count.
	outcomeDeferred outcome = "deferred"
	outcomeSkipped  outcome = "skipped"
)

type attemptResult struct {
	fileID   string
	outcome  outcome
	attempts uint
	message  string
}

// attempt runs one processing attempt and persists its outcome. It runs on a
// worker while the file id is held in-flight by the loop, so no other
// attempt for the same id can write concurrently.
func (p *Pool) attempt(parent context.Context, fileID string) attemptResult {
	start := time.Now()
	telemetry.WorkerInFlight.Inc()
	defer telemetry.WorkerInFlight.Dec()

	ctx, span := telemetry.StartSpan(parent, "inkpress/worker", "archive.attempt")
	defer span.End()
	span.SetAttributes(attribute.String("file_id", fileID))

	logger := p.logger.With().Str("file_id", fileID).Logger()
	res := attemptResult{fileID: fileID}

	finish := func(o outcome, err error) attemptResult {
		res.outcome = o
		if err != nil {
			res.message = err.Error()
			span.RecordError(err)
			span.SetStatus(codes.Error, string(procerr.KindOf(err)))
		}
		span.SetAttributes(attribute.String("outcome", string(o)), attribute.Int("attempt", int(res.attempts)))
		telemetry.ArchiveAttemptsTotal.WithLabelValues(string(o)).Inc()
		telemetry.ArchiveAttemptDuration.WithLabelValues(string(o)).Observe(time.Since(start).Seconds())
		return res
	}

	if p.deps.Locker != nil {
		unlock, ok, err := p.deps.Locker.TryLock(ctx, fileID)
		if err != nil {
			logger.Warn().Err(err).Msg("file lock unavailable, deferring")
			return finish(outcomeDeferred, err)
		}
		if !ok {
			telemetry.LockContentionTotal.Inc()
			ev := logger.Debug()
			if li, ok := p.deps.Locker.(LockInspector); ok {
				if holder, err := li.Holder(ctx, fileID); err == nil && holder != "" {
					ev = ev.Str("holder", holder)
				}
			}
			ev.Msg("file locked by another instance, deferring")
			return finish(outcomeDeferred, errors.New("file locked by another instance"))
		}
		defer unlock()
	}

	file, err := p.deps.Store.GetFile(ctx, fileID)
	if errors.Is(err, models.ErrFileNotFound) {
		logger.Warn().Msg("file no longer exists, dropping")
		return finish(outcomeSkipped, err)
	}
	if err != nil {
		logger.Warn().Err(err).Msg("load file failed, deferring")
		return finish(outcomeDeferred, err)
	}
	if file.Status == models.FileDeleted {
		return finish(outcomeSkipped, nil)
	}
	if file.Status == models.FileProcessing && file.ProcessingAttempts >= p.cfg.MaxAttempts {
		// An instance stopped mid-attempt on the last allowed try.
		res.attempts = file.ProcessingAttempts
		err := procerr.New(procerr.KindProcessingTimeout, "resume attempt",
			fmt.Errorf("abandoned after %d of %d attempts", file.ProcessingAttempts, p.cfg.MaxAttempts))
		p.fail(ctx, file, logger, file.ProcessingAttempts, err)
		return finish(outcomeFailed, err)
	}

	attempts, err := p.deps.Store.MarkProcessing(ctx, fileID)
	if err != nil {
		logger.Warn().Err(err).Msg("mark processing failed, deferring")
		return finish(outcomeDeferred, err)
	}
	res.attempts = attempts
	logger = logger.With().Uint("attempt", attempts).Logger()
	logger.Info().Str("filename", file.OriginalFilename).Msg("processing attempt started")
	p.publish(events.EventFileProcessing, events.Payload{"file_id": fileID, "attempt": attempts})

	if file.ChapterID != nil && p.deps.Chapters != nil {
		if err := p.deps.Chapters.OnProcessingStarted(ctx, *file.ChapterID); err != nil {
			logger.Warn().Err(err).Str("chapter_id", *file.ChapterID).Msg("chapter start notification failed")
		}
	}

	result, runErr := p.run(ctx, file)

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if runErr == nil {
		if err := p.deps.Store.MarkProcessed(persistCtx, fileID, result); err != nil {
			runErr = procerr.New(procerr.KindStorageUnavailable, "persist result", err)
		}
	}

	if runErr == nil {
		recordResult(result)
		p.notifyFinished(persistCtx, file, logger, Outcome{
			Succeeded: true,
			PageCount: len(result.Pages),
			Metadata:  &result.Metadata,
		})
		p.publish(events.EventFileProcessed, events.Payload{
			"file_id":  fileID,
			"attempt":  attempts,
			"pages":    len(result.Pages),
			"warnings": len(result.Warnings),
		})
		logger.Info().
			Int("pages", len(result.Pages)).
			Int("warnings", len(result.Warnings)).
			Dur("duration", time.Since(start)).
			Msg("processing attempt succeeded")
		if result.Partial() {
			return finish(outcomePartial, nil)
		}
		return finish(outcomeSucceeded, nil)
	}

	kind := procerr.KindOf(runErr)
	telemetry.ArchiveFailuresTotal.WithLabelValues(string(kind)).Inc()

	switch {
	case parent.Err() != nil && attempts < p.cfg.MaxAttempts:
		if err := p.deps.Store.MarkPending(persistCtx, fileID, "interrupted by shutdown"); err != nil {
			logger.Error().Err(err).Msg("persist interrupted attempt failed")
		}
		logger.Warn().Err(runErr).Msg("processing attempt interrupted")
		return finish(outcomeInterrupted, runErr)

	case procerr.Retryable(runErr) && attempts < p.cfg.MaxAttempts:
		if err := p.deps.Store.MarkPending(persistCtx, fileID, runErr.Error()); err != nil {
			logger.Error().Err(err).Msg("persist retryable failure failed")
		}
		logger.Warn().Err(runErr).Str("kind", string(kind)).Msg("processing attempt failed, will retry")
		return finish(outcomeRetry, runErr)

	default:
		// Interrupted final attempts land here too, so the count never passes MaxAttempts.
		p.fail(persistCtx, file, logger, attempts, runErr)
		return finish(outcomeFailed, runErr)
	}
}

// fail records a terminal failure and tells listeners.
func (p *Pool) fail(ctx context.Context, file *models.UploadedFile, logger zerolog.Logger, attempts uint, runErr error) {
	kind := procerr.KindOf(runErr)
	if err := p.deps.Store.MarkError(ctx, file.ID, runErr.Error(), attempts); err != nil {
		logger.Error().Err(err).Msg("persist terminal failure failed")
	}
	p.notifyFinished(ctx, file, logger, Outcome{Message: runErr.Error()})
	p.publish(events.EventFileFailed, events.Payload{
		"file_id": file.ID,
		"attempt": attempts,
		"kind":    string(kind),
		"error":   runErr.Error(),
	})
	logger.Error().Err(runErr).Str("kind", string(kind)).Msg("processing failed")
}

// run fetches the archive into a fresh scratch directory and processes it.
// The scratch directory is removed before returning.
func (p *Pool) run(ctx context.Context, file *models.UploadedFile) (*processor.Result, error) {
	if p.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.AttemptTimeout)
		defer cancel()
	}

	if p.cfg.ScratchRoot != "" {
		if err := os.MkdirAll(p.cfg.ScratchRoot, 0o755); err != nil {
			return nil, procerr.New(procerr.KindStorageUnavailable, "create scratch root", err)
		}
	}
	scratch, err := os.MkdirTemp(p.cfg.ScratchRoot, "attempt-*")
	if err != nil {
		return nil, procerr.New(procerr.KindStorageUnavailable, "create scratch dir", err)
	}
	defer os.RemoveAll(scratch)

	local, err := p.fetch(ctx, file, scratch)
	if err != nil {
		return nil, err
	}

	fileID := file.ID
	return p.deps.Processor.Process(ctx, processor.Input{
		FileID:   fileID,
		Filename: file.OriginalFilename,
		Format:   archive.ParseFormat(file.Format),
		Path:     local,
	}, processor.Context{
		ScratchDir:     scratch,
		ThumbnailDir:   filepath.Join(scratch, "thumbnails"),
		Extensions:     p.cfg.Extensions,
		ThumbnailSizes: p.cfg.ThumbnailSizes,
		Publish: func(ctx context.Context, out thumbnail.Output) (string, error) {
			idx := out.PageIndex
			if out.Cover {
				idx = thumbnail.CoverIndex
			}
			return p.deps.Storage.WriteThumbnail(ctx, fileID, idx, out.Size, out.Path)
		},
	})
}

func (p *Pool) fetch(ctx context.Context, file *models.UploadedFile, scratch string) (string, error) {
	rc, err := p.deps.Storage.OpenForRead(ctx, file.ID)
	if err != nil {
		return "", storageErr("open stored archive", err)
	}
	defer rc.Close()

	ext := strings.ToLower(filepath.Ext(file.OriginalFilename))
	local := filepath.Join(scratch, "source"+ext)
	f, err := os.Create(local)
	if err != nil {
		return "", procerr.New(procerr.KindStorageUnavailable, "create local copy", err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return "", storageErr("copy stored archive", err)
	}
	if err := f.Close(); err != nil {
		return "", procerr.New(procerr.KindStorageUnavailable, "close local copy", err)
	}
	return local, nil
}

func (p *Pool) notifyFinished(ctx context.Context, file *models.UploadedFile, logger zerolog.Logger, o Outcome) {
	if file.ChapterID == nil || p.deps.Chapters == nil {
		return
	}
	if err := p.deps.Chapters.OnProcessingFinished(ctx, *file.ChapterID, o); err != nil {
		logger.Warn().Err(err).Str("chapter_id", *file.ChapterID).Msg("chapter finish notification failed")
	}
}

func (p *Pool) publish(t events.EventType, payload events.Payload) {
	if p.deps.Events != nil {
		p.deps.Events.Publish(t, payload)
	}
}

func storageErr(op string, err error) error {
	var pe *procerr.Error
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, media.ErrNotFound) {
		return procerr.New(procerr.KindArchiveMissing, op, err)
	}
	return procerr.New(procerr.KindStorageUnavailable, op, err)
}

func recordResult(r *processor.Result) {
	telemetry.PagesProcessedTotal.Add(float64(len(r.Pages)))
	ok := len(r.CoverThumbnails)
	for _, pg := range r.Pages {
		ok += len(pg.Thumbnails)
	}
	telemetry.ThumbnailsTotal.WithLabelValues("ok").Add(float64(ok))
	for _, w := range r.Warnings {
		telemetry.ProcessingWarningsTotal.WithLabelValues(string(w.Kind)).Inc()
		if w.Kind == procerr.KindThumbnailGeneration {
			telemetry.ThumbnailsTotal.WithLabelValues("failed").Inc()
		}
	}
}
