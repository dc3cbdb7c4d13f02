/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package processor

import (
	"github.com/friendsincode/inkpress/internal/archive"
	"github.com/friendsincode/inkpress/internal/inspect"
	"github.com/friendsincode/inkpress/internal/metadata"
	"github.com/friendsincode/inkpress/internal/procerr"
)

// Page is one accepted image in reading order.
type Page struct {
	Index      int            `json:"index" yaml:"index"`
	Filename   string         `json:"filename" yaml:"filename"`
	Width      int            `json:"width" yaml:"width"`
	Height     int            `json:"height" yaml:"height"`
	Format     inspect.Format `json:"format" yaml:"format"`
	SizeBytes  int64          `json:"size_bytes" yaml:"size_bytes"`
	IsCover    bool           `json:"is_cover" yaml:"is_cover"`
	Thumbnails map[int]string `json:"thumbnails,omitempty" yaml:"thumbnails,omitempty"`
}

// SkippedEntry records an archive member left out of the page sequence.
type SkippedEntry struct {
	Path   string `json:"path" yaml:"path"`
	Reason string `json:"reason" yaml:"reason"`
}

// Result is the terminal output of one successful attempt. Partial failures
// are carried in Warnings.
type Result struct {
	Container       archive.Format    `json:"container" yaml:"container"`
	TotalEntries    int               `json:"total_entries" yaml:"total_entries"`
	Metadata        metadata.Manga    `json:"metadata" yaml:"metadata"`
	Pages           []Page            `json:"pages" yaml:"pages"`
	Cover           *Page             `json:"cover,omitempty" yaml:"cover,omitempty"`
	CoverThumbnails map[int]string    `json:"cover_thumbnails,omitempty" yaml:"cover_thumbnails,omitempty"`
	Skipped         []SkippedEntry    `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Warnings        []procerr.Warning `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// Partial reports whether the attempt succeeded with warnings.
func (r *Result) Partial() bool {
	return len(r.Warnings) > 0
}

func (r *Result) warn(err error) {
	r.Warnings = append(r.Warnings, procerr.AsWarning(err))
}
