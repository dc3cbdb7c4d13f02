package chapter

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/inkpress/internal/events"
	"github.com/friendsincode/inkpress/internal/metadata"
	"github.com/friendsincode/inkpress/internal/models"
	"github.com/friendsincode/inkpress/internal/worker"
)

func newTestBridge(t *testing.T) (*Bridge, *events.Bus) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.Chapter{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	bus := events.NewBus()
	return NewBridge(db, bus, zerolog.Nop()), bus
}

func ptr(f float64) *float64 { return &f }

func TestProcessingStartedAndReady(t *testing.T) {
	ctx := context.Background()
	b, bus := newTestBridge(t)
	ready := bus.Subscribe(events.EventChapterReady)

	ch, err := b.Create(ctx, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := b.OnProcessingStarted(ctx, ch.ID); err != nil {
		t.Fatalf("started: %v", err)
	}
	got, _ := b.Get(ctx, ch.ID)
	if got.Status != models.ChapterProcessing {
		t.Fatalf("status = %s, want processing", got.Status)
	}

	err = b.OnProcessingFinished(ctx, ch.ID, worker.Outcome{
		Succeeded: true,
		PageCount: 24,
		Metadata: &metadata.Manga{
			Title:    "Blue Harbor",
			Chapter:  ptr(12.5),
			Volume:   ptr(2),
			Language: "en",
		},
	})
	if err != nil {
		t.Fatalf("finished: %v", err)
	}

	got, _ = b.Get(ctx, ch.ID)
	if got.Status != models.ChapterReady || got.PageCount != 24 {
		t.Fatalf("chapter = %+v", got)
	}
	if got.Title != "Blue Harbor" || got.Number == nil || *got.Number != 12.5 || got.Language != "en" {
		t.Fatalf("metadata not applied: %+v", got)
	}

	select {
	case msg := <-ready:
		if msg["chapter_id"] != ch.ID {
			t.Fatalf("event = %v", msg)
		}
	default:
		t.Fatal("no ready event")
	}
}

func TestExistingFieldsAreKept(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBridge(t)
	ch, _ := b.Create(ctx, "Editor Title")

	err := b.OnProcessingFinished(ctx, ch.ID, worker.Outcome{
		Succeeded: true,
		PageCount: 3,
		Metadata:  &metadata.Manga{Title: "Guessed", Language: "ja"},
	})
	if err != nil {
		t.Fatalf("finished: %v", err)
	}
	got, _ := b.Get(ctx, ch.ID)
	if got.Title != "Editor Title" {
		t.Fatalf("title overwritten: %q", got.Title)
	}
	if got.Language != "ja" {
		t.Fatalf("language = %q", got.Language)
	}
}

func TestFailureMarksError(t *testing.T) {
	ctx := context.Background()
	b, bus := newTestBridge(t)
	failed := bus.Subscribe(events.EventChapterError)
	ch, _ := b.Create(ctx, "x")

	if err := b.OnProcessingFinished(ctx, ch.ID, worker.Outcome{Message: "corrupt archive"}); err != nil {
		t.Fatalf("finished: %v", err)
	}
	got, _ := b.Get(ctx, ch.ID)
	if got.Status != models.ChapterError || got.Error != "corrupt archive" {
		t.Fatalf("chapter = %+v", got)
	}
	if len(failed) != 1 {
		t.Fatalf("error events = %d", len(failed))
	}
}

func TestUnknownChapter(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBridge(t)
	if err := b.OnProcessingStarted(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("started err = %v", err)
	}
	if err := b.OnProcessingFinished(ctx, "missing", worker.Outcome{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("finished err = %v", err)
	}
	if _, err := b.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get err = %v", err)
	}
}
