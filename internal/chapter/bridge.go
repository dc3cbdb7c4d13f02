/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package chapter mirrors archive processing onto the owning chapter record
// and announces chapter status changes on the event bus.
package chapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/inkpress/internal/events"
	"github.com/friendsincode/inkpress/internal/models"
	"github.com/friendsincode/inkpress/internal/worker"
)

// ErrNotFound is returned when the chapter row does not exist.
var ErrNotFound = errors.New("chapter not found")

// Bridge implements worker.ChapterBridge on top of gorm.
type Bridge struct {
	db     *gorm.DB
	bus    events.Publisher
	logger zerolog.Logger
}

var _ worker.ChapterBridge = (*Bridge)(nil)

// NewBridge creates a bridge. bus may be nil.
func NewBridge(db *gorm.DB, bus events.Publisher, logger zerolog.Logger) *Bridge {
	return &Bridge{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "chapter_bridge").Logger(),
	}
}

// Create inserts an empty chapter awaiting its archive.
func (b *Bridge) Create(ctx context.Context, title string) (*models.Chapter, error) {
	ch := &models.Chapter{
		ID:     uuid.NewString(),
		Title:  strings.TrimSpace(title),
		Status: models.ChapterUploaded,
	}
	if err := b.db.WithContext(ctx).Create(ch).Error; err != nil {
		return nil, fmt.Errorf("create chapter: %w", err)
	}
	return ch, nil
}

// Get loads a chapter by id.
func (b *Bridge) Get(ctx context.Context, id string) (*models.Chapter, error) {
	var ch models.Chapter
	err := b.db.WithContext(ctx).First(&ch, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load chapter: %w", err)
	}
	return &ch, nil
}

// OnProcessingStarted marks the chapter as processing.
func (b *Bridge) OnProcessingStarted(ctx context.Context, chapterID string) error {
	res := b.db.WithContext(ctx).Model(&models.Chapter{}).
		Where("id = ?", chapterID).
		Updates(map[string]any{
			"status":     models.ChapterProcessing,
			"error":      "",
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("mark chapter processing: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}

	b.publish(events.EventChapterProcessing, events.Payload{"chapter_id": chapterID})
	return nil
}

// OnProcessingFinished moves the chapter to ready or error. On success the
// page count is recorded and extracted metadata fills fields that are still
// empty; values already set on the chapter are kept.
func (b *Bridge) OnProcessingFinished(ctx context.Context, chapterID string, outcome worker.Outcome) error {
	var status models.ChapterStatus
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ch models.Chapter
		if err := tx.First(&ch, "id = ?", chapterID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		updates := map[string]any{"updated_at": time.Now()}
		if outcome.Succeeded {
			status = models.ChapterReady
			updates["status"] = status
			updates["page_count"] = outcome.PageCount
			updates["error"] = ""
			fillFromMetadata(&ch, outcome, updates)
		} else {
			status = models.ChapterError
			updates["status"] = status
			updates["error"] = outcome.Message
		}
		return tx.Model(&models.Chapter{}).Where("id = ?", chapterID).Updates(updates).Error
	})
	if errors.Is(err, ErrNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("finish chapter: %w", err)
	}

	b.logger.Info().
		Str("chapter_id", chapterID).
		Str("status", string(status)).
		Int("pages", outcome.PageCount).
		Msg("chapter status updated")

	payload := events.Payload{"chapter_id": chapterID, "status": string(status)}
	if outcome.Succeeded {
		payload["page_count"] = outcome.PageCount
		b.publish(events.EventChapterReady, payload)
	} else {
		payload["error"] = outcome.Message
		b.publish(events.EventChapterError, payload)
	}
	return nil
}

func fillFromMetadata(ch *models.Chapter, outcome worker.Outcome, updates map[string]any) {
	m := outcome.Metadata
	if m == nil {
		return
	}
	if ch.Title == "" {
		title := m.ChapterTitle
		if title == "" {
			title = m.Title
		}
		if title != "" {
			updates["title"] = title
		}
	}
	if ch.Number == nil && m.Chapter != nil {
		updates["number"] = *m.Chapter
	}
	if ch.Volume == nil && m.Volume != nil {
		updates["volume"] = *m.Volume
	}
	if ch.Language == "" && m.Language != "" {
		updates["language"] = m.Language
	}
}

func (b *Bridge) publish(t events.EventType, payload events.Payload) {
	if b.bus != nil {
		b.bus.Publish(t, payload)
	}
}
