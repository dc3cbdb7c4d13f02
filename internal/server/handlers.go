/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/inkpress/internal/archive"
	"github.com/friendsincode/inkpress/internal/catalog"
	"github.com/friendsincode/inkpress/internal/chapter"
	"github.com/friendsincode/inkpress/internal/models"
	"github.com/friendsincode/inkpress/internal/worker"
)

// FileQueue is the worker pool surface used by the API.
type FileQueue interface {
	Enqueue(fileID string) bool
	Status(ctx context.Context, fileID string) (worker.Status, error)
}

// FileCatalog records uploads and serves processing results.
type FileCatalog interface {
	Register(ctx context.Context, r catalog.Registration) (*models.UploadedFile, error)
	GetResult(ctx context.Context, fileID string) (*models.UploadedFile, error)
}

// ArchiveStore persists uploaded archive bytes.
type ArchiveStore interface {
	StoreArchive(ctx context.Context, fileID string, body io.Reader, size int64) (string, error)
	DeleteFile(ctx context.Context, fileID string) error
}

// ChapterCatalog creates chapters that uploads can attach to.
type ChapterCatalog interface {
	Create(ctx context.Context, title string) (*models.Chapter, error)
	Get(ctx context.Context, id string) (*models.Chapter, error)
}

// API serves the file processing endpoints.
type API struct {
	queue     FileQueue
	catalog   FileCatalog
	store     ArchiveStore
	chapters  ChapterCatalog
	maxUpload int64
	logger    zerolog.Logger
}

// NewAPI creates the handler set. maxUpload bounds request bodies in bytes.
// chapters may be nil, which disables the chapter endpoints and the
// chapter_id check on upload.
func NewAPI(queue FileQueue, cat FileCatalog, store ArchiveStore, chapters ChapterCatalog, maxUpload int64, logger zerolog.Logger) *API {
	return &API{
		queue:     queue,
		catalog:   cat,
		store:     store,
		chapters:  chapters,
		maxUpload: maxUpload,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts the API under /api/v1.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1/files", func(r chi.Router) {
		r.Post("/", a.handleUpload)
		r.Route("/{fileID}", func(r chi.Router) {
			r.Post("/process", a.handleProcess)
			r.Get("/status", a.handleStatus)
			r.Get("/result", a.handleResult)
		})
	})
	if a.chapters != nil {
		r.Route("/api/v1/chapters", func(r chi.Router) {
			r.Post("/", a.handleCreateChapter)
			r.Get("/{chapterID}", a.handleGetChapter)
		})
	}
}

type uploadResponse struct {
	FileID string            `json:"file_id"`
	Status models.FileStatus `json:"status"`
	Queued bool              `json:"queued"`
}

func (a *API) handleUpload(w http.ResponseWriter, r *http.Request) {
	if a.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, a.maxUpload)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file_too_large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_multipart")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file_required")
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if archive.ParseFormat(filepath.Ext(filename)) == archive.FormatUnknown {
		writeError(w, http.StatusUnsupportedMediaType, "unsupported_archive_type")
		return
	}

	var chapterID *string
	if v := strings.TrimSpace(r.FormValue("chapter_id")); v != "" {
		if a.chapters != nil {
			if _, err := a.chapters.Get(r.Context(), v); !a.checkChapter(w, v, err) {
				return
			}
		}
		chapterID = &v
	}

	fileID := uuid.NewString()
	hash := sha256.New()
	key, err := a.store.StoreArchive(r.Context(), fileID, io.TeeReader(file, hash), header.Size)
	if err != nil {
		a.logger.Error().Err(err).Str("file_id", fileID).Msg("store archive failed")
		writeError(w, http.StatusInternalServerError, "storage_error")
		return
	}

	rec, err := a.catalog.Register(r.Context(), catalog.Registration{
		ID:               fileID,
		OriginalFilename: filename,
		SizeBytes:        header.Size,
		StorageKey:       key,
		ContentHash:      hex.EncodeToString(hash.Sum(nil)),
		ChapterID:        chapterID,
	})
	if err != nil {
		a.logger.Error().Err(err).Str("file_id", fileID).Msg("register file failed")
		if derr := a.store.DeleteFile(r.Context(), fileID); derr != nil {
			a.logger.Warn().Err(derr).Str("file_id", fileID).Msg("remove orphaned archive failed")
		}
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	queued := a.queue.Enqueue(rec.ID)
	writeJSON(w, http.StatusCreated, uploadResponse{FileID: rec.ID, Status: rec.Status, Queued: queued})
}

func (a *API) handleProcess(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileID")
	st, err := a.queue.Status(r.Context(), fileID)
	if !a.checkLookup(w, fileID, err) {
		return
	}
	if st.Status == models.FileDeleted {
		writeError(w, http.StatusGone, "file_deleted")
		return
	}
	queued := a.queue.Enqueue(fileID)
	writeJSON(w, http.StatusAccepted, map[string]any{"file_id": fileID, "queued": queued})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileID")
	st, err := a.queue.Status(r.Context(), fileID)
	if !a.checkLookup(w, fileID, err) {
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) handleResult(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileID")
	rec, err := a.catalog.GetResult(r.Context(), fileID)
	if !a.checkLookup(w, fileID, err) {
		return
	}
	if rec.Status != models.FileProcessed {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":   "not_processed",
			"file_id": fileID,
			"status":  rec.Status,
		})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type createChapterRequest struct {
	Title string `json:"title"`
}

func (a *API) handleCreateChapter(w http.ResponseWriter, r *http.Request) {
	var req createChapterRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	ch, err := a.chapters.Create(r.Context(), req.Title)
	if err != nil {
		a.logger.Error().Err(err).Msg("create chapter failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusCreated, ch)
}

func (a *API) handleGetChapter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "chapterID")
	ch, err := a.chapters.Get(r.Context(), id)
	if !a.checkChapter(w, id, err) {
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (a *API) checkChapter(w http.ResponseWriter, chapterID string, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, chapter.ErrNotFound):
		writeError(w, http.StatusNotFound, "chapter_not_found")
	default:
		a.logger.Error().Err(err).Str("chapter_id", chapterID).Msg("chapter lookup failed")
		writeError(w, http.StatusInternalServerError, "db_error")
	}
	return false
}

func (a *API) checkLookup(w http.ResponseWriter, fileID string, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, models.ErrFileNotFound):
		writeError(w, http.StatusNotFound, "file_not_found")
	default:
		a.logger.Error().Err(err).Str("file_id", fileID).Msg("file lookup failed")
		writeError(w, http.StatusInternalServerError, "db_error")
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
