/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package pages classifies archive entries and puts accepted images into
// reading order.
package pages

import (
	"path"
	"strings"

	"github.com/friendsincode/inkpress/internal/archive"
)

// DefaultExtensions is the image allow-list used when none is configured.
var DefaultExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".tif", ".tiff"}

// DefaultCoverMarkers mark an entry as the explicit cover.
var DefaultCoverMarkers = []string{"cover", "front"}

var sidecarNames = map[string]bool{
	"comicinfo.xml": true,
	"thumbs.db":     true,
	".ds_store":     true,
}

var sidecarExtensions = map[string]bool{
	".txt": true, ".nfo": true, ".sfv": true, ".xml": true, ".json": true, ".url": true,
}

// Class is the classification of one entry.
type Class int

const (
	ClassOther Class = iota
	ClassImage
	ClassDirectory
	ClassUnreadable
)

func (c Class) String() string {
	switch c {
	case ClassImage:
		return "image"
	case ClassDirectory:
		return "directory"
	case ClassUnreadable:
		return "unreadable"
	default:
		return "other"
	}
}

// Classifier decides which entries are candidate pages.
type Classifier struct {
	extensions   map[string]bool
	coverMarkers []string
}

// NewClassifier builds a classifier. Empty arguments fall back to the defaults.
func NewClassifier(extensions, coverMarkers []string) *Classifier {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	if len(coverMarkers) == 0 {
		coverMarkers = DefaultCoverMarkers
	}

	c := &Classifier{extensions: make(map[string]bool, len(extensions))}
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.extensions[ext] = true
	}
	for _, m := range coverMarkers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			c.coverMarkers = append(c.coverMarkers, m)
		}
	}
	return c
}

// Classify routes an entry to image, directory, unreadable or other.
func (c *Classifier) Classify(e *archive.Entry) Class {
	if e.IsDir {
		return ClassDirectory
	}
	if e.Err != nil {
		if c.looksLikeImage(e.Path) {
			return ClassUnreadable
		}
		return ClassOther
	}
	if c.looksLikeImage(e.Path) {
		return ClassImage
	}
	return ClassOther
}

// IsSidecar reports whether the entry is a metadata file rather than content.
func IsSidecar(name string) bool {
	base := strings.ToLower(path.Base(name))
	return sidecarNames[base] || sidecarExtensions[path.Ext(base)]
}

func (c *Classifier) looksLikeImage(p string) bool {
	if strings.HasPrefix(p, "__MACOSX/") || strings.Contains(p, "/__MACOSX/") {
		return false
	}
	base := path.Base(p)
	if strings.HasPrefix(base, ".") {
		return false
	}
	if IsSidecar(base) {
		return false
	}
	return c.extensions[strings.ToLower(path.Ext(base))]
}

// IsCoverName reports whether the entry name carries a cover marker.
func (c *Classifier) IsCoverName(p string) bool {
	base := strings.ToLower(strings.TrimSuffix(path.Base(p), path.Ext(p)))
	for _, m := range c.coverMarkers {
		if strings.Contains(base, m) {
			return true
		}
	}
	return false
}
