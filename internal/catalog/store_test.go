package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/inkpress/internal/db"
	"github.com/friendsincode/inkpress/internal/inspect"
	"github.com/friendsincode/inkpress/internal/metadata"
	"github.com/friendsincode/inkpress/internal/models"
	"github.com/friendsincode/inkpress/internal/procerr"
	"github.com/friendsincode/inkpress/internal/processor"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(database, zerolog.Nop())
}

func register(t *testing.T, s *Store, name string) *models.UploadedFile {
	t.Helper()
	f, err := s.Register(context.Background(), Registration{OriginalFilename: name, SizeBytes: 42})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return f
}

func sampleResult() *processor.Result {
	ch := 12.0
	pages := []processor.Page{
		{Index: 0, Filename: "cover.jpg", Width: 800, Height: 1200, Format: inspect.FormatJPEG, IsCover: true,
			Thumbnails: map[int]string{256: "t/0-256.jpg", 512: "t/0-512.jpg"}},
		{Index: 1, Filename: "002.jpg", Width: 800, Height: 1200, Format: inspect.FormatJPEG,
			Thumbnails: map[int]string{256: "t/1-256.jpg"}},
	}
	cover := pages[0]
	return &processor.Result{
		Container:       "zip",
		TotalEntries:    3,
		Metadata:        metadata.Manga{Series: "Monster", Chapter: &ch},
		Pages:           pages,
		Cover:           &cover,
		CoverThumbnails: map[int]string{256: "t/cover-256.jpg"},
		Warnings:        []procerr.Warning{{Kind: procerr.KindThumbnailGeneration, Entry: "002.jpg", Size: 512, Message: "boom"}},
	}
}

func TestRegisterInfersFormat(t *testing.T) {
	s := newTestStore(t)
	f := register(t, s, "Monster v01.CBZ")
	if f.Format != "cbz" || f.Status != models.FileUploaded || f.ID == "" {
		t.Fatalf("unexpected file %+v", f)
	}
}

func TestLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := register(t, s, "a.cbz")

	pending, err := s.GetPendingFiles(ctx)
	if err != nil || len(pending) != 1 || pending[0] != f.ID {
		t.Fatalf("pending = %v, %v", pending, err)
	}

	for want := uint(1); want <= 2; want++ {
		got, err := s.MarkProcessing(ctx, f.ID)
		if err != nil {
			t.Fatalf("mark processing: %v", err)
		}
		if got != want {
			t.Fatalf("attempts = %d, want %d", got, want)
		}
		if err := s.MarkPending(ctx, f.ID, "flaky"); err != nil {
			t.Fatalf("mark pending: %v", err)
		}
	}

	if _, err := s.MarkProcessing(ctx, f.ID); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if err := s.MarkProcessed(ctx, f.ID, sampleResult()); err != nil {
		t.Fatalf("mark processed: %v", err)
	}

	got, err := s.GetResult(ctx, f.ID)
	if err != nil {
		t.Fatalf("get result: %v", err)
	}
	if got.Status != models.FileProcessed || got.ProcessingAttempts != 3 || got.ErrorMessage != nil {
		t.Fatalf("unexpected file state %+v", got)
	}
	if got.PageCount != 2 || len(got.Pages) != 2 || got.Pages[0].Index != 0 || !got.Pages[0].IsCover {
		t.Fatalf("unexpected pages %+v", got.Pages)
	}
	if len(got.Pages[0].Thumbnails) != 2 || got.Pages[0].Thumbnails[0].Size != 512 {
		t.Fatalf("unexpected thumbnails %+v", got.Pages[0].Thumbnails)
	}
	if got.Metadata.Series != "Monster" || got.Metadata.Chapter == nil || *got.Metadata.Chapter != 12 {
		t.Fatalf("metadata not persisted: %+v", got.Metadata)
	}
	if len(got.Warnings) != 1 || got.CoverThumbnails[256] != "t/cover-256.jpg" {
		t.Fatalf("warnings/cover not persisted: %+v %+v", got.Warnings, got.CoverThumbnails)
	}
	if got.CoverPage == nil || *got.CoverPage != 0 || got.ProcessedAt == nil {
		t.Fatalf("cover page / processed_at missing")
	}

	pending, _ = s.GetPendingFiles(ctx)
	if len(pending) != 0 {
		t.Fatalf("processed file still pending: %v", pending)
	}
}

func TestReprocessReplacesPages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := register(t, s, "a.cbz")

	for i := 0; i < 2; i++ {
		if _, err := s.MarkProcessing(ctx, f.ID); err != nil {
			t.Fatal(err)
		}
		if err := s.MarkProcessed(ctx, f.ID, sampleResult()); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.GetResult(ctx, f.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Pages) != 2 {
		t.Fatalf("expected pages to be replaced, got %d", len(got.Pages))
	}
	var thumbs int64
	s.db.Model(&models.Thumbnail{}).Count(&thumbs)
	if thumbs != 3 {
		t.Fatalf("expected 3 thumbnails after reprocess, got %d", thumbs)
	}
}

func TestMarkErrorNeverLowersAttempts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := register(t, s, "a.cbz")

	for i := 0; i < 3; i++ {
		if _, err := s.MarkProcessing(ctx, f.ID); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.MarkError(ctx, f.ID, "corrupt archive", 1); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetFile(ctx, f.ID)
	if got.Status != models.FileError || got.ProcessingAttempts != 3 {
		t.Fatalf("unexpected state %s attempts=%d", got.Status, got.ProcessingAttempts)
	}
	if got.ErrorMessage == nil || *got.ErrorMessage != "corrupt archive" {
		t.Fatalf("error message = %v", got.ErrorMessage)
	}
}

func TestDeletedFilesAreNotProcessed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := register(t, s, "a.cbz")

	if err := s.Delete(ctx, f.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.MarkProcessing(ctx, f.ID); !errors.Is(err, models.ErrFileNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	pending, _ := s.GetPendingFiles(ctx)
	if len(pending) != 0 {
		t.Fatalf("deleted file pending: %v", pending)
	}
	if _, err := s.GetFile(ctx, "nope"); !errors.Is(err, models.ErrFileNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFindByHash(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	f, err := s.Register(ctx, Registration{OriginalFilename: "a.cbz", ContentHash: "abc123"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	got, err := s.FindByHash(ctx, "abc123")
	if err != nil || got.ID != f.ID {
		t.Fatalf("FindByHash = %v, %v", got, err)
	}
	if _, err := s.FindByHash(ctx, "other"); !errors.Is(err, models.ErrFileNotFound) {
		t.Fatalf("unknown hash err = %v", err)
	}

	if err := s.Delete(ctx, f.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.FindByHash(ctx, "abc123"); !errors.Is(err, models.ErrFileNotFound) {
		t.Fatalf("deleted file still matched: %v", err)
	}
}

func TestRequeueKeepsAttempts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	f := register(t, s, "a.cbz")

	if err := s.Requeue(ctx, f.ID); err == nil {
		t.Fatal("uploaded file should not be requeued")
	}
	if _, err := s.MarkProcessing(ctx, f.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkError(ctx, f.ID, "corrupt archive", 1); err != nil {
		t.Fatal(err)
	}
	if err := s.Requeue(ctx, f.ID); err != nil {
		t.Fatalf("requeue: %v", err)
	}

	got, _ := s.GetFile(ctx, f.ID)
	if got.Status != models.FileUploaded || got.ProcessingAttempts != 1 {
		t.Fatalf("unexpected state %s attempts=%d", got.Status, got.ProcessingAttempts)
	}
	if err := s.Requeue(ctx, "nope"); !errors.Is(err, models.ErrFileNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
