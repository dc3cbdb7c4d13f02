/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"github.com/friendsincode/inkpress/internal/models"
	"gorm.io/gorm"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&models.Chapter{},
		&models.UploadedFile{},
		&models.Page{},
		&models.Thumbnail{},
	); err != nil {
		return err
	}

	if err := applyPostgresPendingIndex(database); err != nil {
		return err
	}
	return nil
}

// applyPostgresPendingIndex adds a partial index for the queue seed query,
// which only ever looks at files still waiting for a result.
func applyPostgresPendingIndex(database *gorm.DB) error {
	if database.Dialector.Name() != "postgres" {
		return nil
	}

	stmt := `
CREATE INDEX IF NOT EXISTS idx_uploaded_files_pending
ON uploaded_files (uploaded_at)
WHERE status IN ('uploaded', 'processing');
`
	if err := database.Exec(stmt).Error; err != nil {
		return fmt.Errorf("apply postgres pending index: %w", err)
	}
	return nil
}
