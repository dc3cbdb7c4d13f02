package server

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/inkpress/internal/catalog"
	"github.com/friendsincode/inkpress/internal/chapter"
	"github.com/friendsincode/inkpress/internal/models"
	"github.com/friendsincode/inkpress/internal/worker"
)

type fakeBackend struct {
	mu       sync.Mutex
	files    map[string]*models.UploadedFile
	stored   map[string][]byte
	chapters map[string]*models.Chapter
	enqueued []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		files:    map[string]*models.UploadedFile{},
		stored:   map[string][]byte{},
		chapters: map[string]*models.Chapter{"ch-1": {ID: "ch-1", Status: models.ChapterUploaded}},
	}
}

func (f *fakeBackend) Create(_ context.Context, title string) (*models.Chapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := &models.Chapter{ID: fmt.Sprintf("ch-%d", len(f.chapters)+1), Title: title, Status: models.ChapterUploaded}
	f.chapters[ch.ID] = ch
	return ch, nil
}

func (f *fakeBackend) Get(_ context.Context, id string) (*models.Chapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.chapters[id]
	if !ok {
		return nil, chapter.ErrNotFound
	}
	return ch, nil
}

func (f *fakeBackend) Enqueue(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, id)
	return true
}

func (f *fakeBackend) Status(_ context.Context, id string) (worker.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[id]
	if !ok {
		return worker.Status{}, models.ErrFileNotFound
	}
	return worker.Status{FileID: id, Status: file.Status, Attempts: file.ProcessingAttempts}, nil
}

func (f *fakeBackend) Register(_ context.Context, r catalog.Registration) (*models.UploadedFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file := &models.UploadedFile{ID: r.ID, OriginalFilename: r.OriginalFilename, StorageKey: r.StorageKey,
		ContentHash: r.ContentHash, ChapterID: r.ChapterID, Status: models.FileUploaded}
	f.files[r.ID] = file
	return file, nil
}

func (f *fakeBackend) GetResult(_ context.Context, id string) (*models.UploadedFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[id]
	if !ok {
		return nil, models.ErrFileNotFound
	}
	return file, nil
}

func (f *fakeBackend) StoreArchive(_ context.Context, id string, body io.Reader, _ int64) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored[id] = data
	return "archives/" + id, nil
}

func (f *fakeBackend) DeleteFile(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.stored, id)
	return nil
}

func newTestRouter(b *fakeBackend) http.Handler {
	r := chi.NewRouter()
	NewAPI(b, b, b, b, 1<<20, zerolog.Nop()).Routes(r)
	return r
}

func multipartBody(t *testing.T, filename string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write(content)
	_ = mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestUploadRegistersAndEnqueues(t *testing.T) {
	b := newFakeBackend()
	body, ct := multipartBody(t, "Vol.01 Ch.003.cbz", []byte("PK\x03\x04data"), map[string]string{"chapter_id": "ch-1"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/files", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	newTestRouter(b).ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body)
	}
	var resp uploadResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.FileID == "" || !resp.Queued || resp.Status != models.FileUploaded {
		t.Fatalf("response = %+v", resp)
	}
	if len(b.enqueued) != 1 || b.enqueued[0] != resp.FileID {
		t.Fatalf("enqueued = %v", b.enqueued)
	}
	file := b.files[resp.FileID]
	if file.ChapterID == nil || *file.ChapterID != "ch-1" || file.OriginalFilename != "Vol.01 Ch.003.cbz" {
		t.Fatalf("registered = %+v", file)
	}
	if string(b.stored[resp.FileID]) != "PK\x03\x04data" {
		t.Fatal("archive bytes not stored")
	}
	sum := sha256.Sum256([]byte("PK\x03\x04data"))
	if file.ContentHash != hex.EncodeToString(sum[:]) {
		t.Fatalf("content hash = %q", file.ContentHash)
	}
}

func TestUploadRejectsUnknownExtension(t *testing.T) {
	b := newFakeBackend()
	body, ct := multipartBody(t, "notes.pdf", []byte("%PDF"), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/files", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	newTestRouter(b).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d", rr.Code)
	}
	if len(b.stored) != 0 || len(b.enqueued) != 0 {
		t.Fatal("rejected upload had side effects")
	}
}

func TestUploadRejectsUnknownChapter(t *testing.T) {
	b := newFakeBackend()
	body, ct := multipartBody(t, "ch.cbz", []byte("PK\x03\x04data"), map[string]string{"chapter_id": "nope"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/files", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	newTestRouter(b).ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body)
	}
	if len(b.stored) != 0 || len(b.files) != 0 || len(b.enqueued) != 0 {
		t.Fatal("rejected upload had side effects")
	}
}

func TestChapterEndpoints(t *testing.T) {
	b := newFakeBackend()
	router := newTestRouter(b)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/chapters", strings.NewReader(`{"title":"  Ch. 4  "}`)))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d body=%s", rr.Code, rr.Body)
	}
	var created models.Chapter
	if err := json.NewDecoder(rr.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	if created.ID == "" || created.Status != models.ChapterUploaded {
		t.Fatalf("created = %+v", created)
	}

	tests := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodGet, "/api/v1/chapters/" + created.ID, "", http.StatusOK},
		{http.MethodGet, "/api/v1/chapters/missing", "", http.StatusNotFound},
		{http.MethodPost, "/api/v1/chapters", "{not json", http.StatusBadRequest},
		{http.MethodPost, "/api/v1/chapters", "", http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body)))
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d; body=%s", rr.Code, tt.want, rr.Body)
			}
		})
	}
}

func TestFileEndpoints(t *testing.T) {
	b := newFakeBackend()
	b.files["done"] = &models.UploadedFile{ID: "done", Status: models.FileProcessed, PageCount: 12}
	b.files["waiting"] = &models.UploadedFile{ID: "waiting", Status: models.FileUploaded, ProcessingAttempts: 1}
	router := newTestRouter(b)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/v1/files/waiting/status", http.StatusOK},
		{http.MethodGet, "/api/v1/files/missing/status", http.StatusNotFound},
		{http.MethodPost, "/api/v1/files/waiting/process", http.StatusAccepted},
		{http.MethodPost, "/api/v1/files/missing/process", http.StatusNotFound},
		{http.MethodGet, "/api/v1/files/done/result", http.StatusOK},
		{http.MethodGet, "/api/v1/files/waiting/result", http.StatusConflict},
		{http.MethodGet, "/api/v1/files/missing/result", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(tt.method, tt.path, nil))
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d; body=%s", rr.Code, tt.want, rr.Body)
			}
		})
	}

	if len(b.enqueued) != 1 || b.enqueued[0] != "waiting" {
		t.Fatalf("enqueued = %v", b.enqueued)
	}
}

func TestStatusBody(t *testing.T) {
	b := newFakeBackend()
	b.files["f"] = &models.UploadedFile{ID: "f", Status: models.FileError, ProcessingAttempts: 3}
	rr := httptest.NewRecorder()
	newTestRouter(b).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/files/f/status", nil))

	var st worker.Status
	if err := json.NewDecoder(rr.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Status != models.FileError || st.Attempts != 3 {
		t.Fatalf("status = %+v", st)
	}
}
