/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package pages

import (
	"github.com/friendsincode/inkpress/internal/archive"
)

// Skipped is an entry left out of the page sequence.
type Skipped struct {
	Entry  *archive.Entry
	Class  Class
	Reason string
}

// Summary is the classification of a whole archive.
type Summary struct {
	Total   int
	Images  []*archive.Entry
	Skipped []Skipped
	// Cover indexes into Images; -1 when there are no images.
	Cover int
}

// Summarize classifies entries, orders the accepted images and designates the
// cover: the first image in page order whose name carries a cover marker,
// otherwise the first page.
func (c *Classifier) Summarize(entries []*archive.Entry) Summary {
	s := Summary{Total: len(entries), Cover: -1}

	byPath := make(map[string]*archive.Entry)
	var paths []string
	for _, e := range entries {
		switch class := c.Classify(e); class {
		case ClassImage:
			if _, dup := byPath[e.Path]; dup {
				s.Skipped = append(s.Skipped, Skipped{Entry: e, Class: class, Reason: "duplicate entry path"})
				continue
			}
			byPath[e.Path] = e
			paths = append(paths, e.Path)
		case ClassDirectory:
			s.Skipped = append(s.Skipped, Skipped{Entry: e, Class: class, Reason: "directory"})
		case ClassUnreadable:
			s.Skipped = append(s.Skipped, Skipped{Entry: e, Class: class, Reason: e.Err.Error()})
		default:
			reason := "not an accepted image"
			if IsSidecar(e.Path) {
				reason = "metadata sidecar"
			}
			if e.Err != nil {
				reason = e.Err.Error()
			}
			s.Skipped = append(s.Skipped, Skipped{Entry: e, Class: class, Reason: reason})
		}
	}

	Sort(paths)
	s.Images = make([]*archive.Entry, 0, len(paths))
	for _, p := range paths {
		s.Images = append(s.Images, byPath[p])
	}
	s.Cover = c.PickCover(s.Images)
	return s
}

// PickCover returns the index of the cover among ordered images, or -1.
func (c *Classifier) PickCover(images []*archive.Entry) int {
	if len(images) == 0 {
		return -1
	}
	for i, e := range images {
		if c.IsCoverName(e.Path) {
			return i
		}
	}
	return 0
}
