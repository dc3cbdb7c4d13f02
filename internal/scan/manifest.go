/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scan walks directories of comic archives and summarizes each one
// into a JSON manifest that can later be imported into the catalog.
package scan

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/friendsincode/inkpress/internal/metadata"
)

// ManifestVersion is the current manifest schema version.
const ManifestVersion = 1

// Manifest is the top-level JSON document produced by a scan.
type Manifest struct {
	Version   int       `json:"version"`
	ScannedAt time.Time `json:"scanned_at"`
	RootDirs  []string  `json:"root_dirs"`
	Files     []Entry   `json:"files"`
	Stats     Stats     `json:"stats"`
}

// Entry summarizes one archive.
type Entry struct {
	Path         string          `json:"path"`
	RelativePath string          `json:"relative_path"`
	Filename     string          `json:"filename"`
	Size         int64           `json:"size"`
	ModifiedAt   time.Time       `json:"modified_at"`
	ContentHash  string          `json:"content_hash"`
	Container    string          `json:"container,omitempty"`
	Entries      int             `json:"entries,omitempty"`
	Pages        int             `json:"pages,omitempty"`
	Cover        string          `json:"cover,omitempty"`
	Warnings     int             `json:"warnings,omitempty"`
	Metadata     *metadata.Manga `json:"metadata,omitempty"`
	// Error and ErrorKind are set when the archive would fail processing.
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
}

// OK reports whether the archive produced pages.
func (e Entry) OK() bool {
	return e.Error == "" && e.Pages > 0
}

// Stats holds aggregate scan statistics.
type Stats struct {
	TotalFiles      int     `json:"total_files"`
	TotalSize       int64   `json:"total_size"`
	TotalPages      int     `json:"total_pages"`
	Failed          int     `json:"failed"`
	Errors          int     `json:"errors"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// WriteManifest encodes m as indented JSON.
func WriteManifest(w io.Writer, m *Manifest) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return nil
}

// ReadManifest loads and validates a manifest file.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if m.Version != ManifestVersion {
		return nil, fmt.Errorf("unsupported manifest version: %d", m.Version)
	}
	return &m, nil
}
