/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package metadata derives best-effort chapter metadata from file names,
// archive comments, ComicInfo sidecars and directory structure.
package metadata

import (
	"path"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Manga is best-effort metadata for one uploaded chapter. Empty or nil fields
// are unknown.
type Manga struct {
	Title        string   `json:"title,omitempty" yaml:"title,omitempty"`
	Series       string   `json:"series,omitempty" yaml:"series,omitempty"`
	ChapterTitle string   `json:"chapter_title,omitempty" yaml:"chapter_title,omitempty"`
	Chapter      *float64 `json:"chapter,omitempty" yaml:"chapter,omitempty"`
	Volume       *float64 `json:"volume,omitempty" yaml:"volume,omitempty"`
	Language     string   `json:"language,omitempty" yaml:"language,omitempty"`
	Scanlator    string   `json:"scanlator,omitempty" yaml:"scanlator,omitempty"`
	Year         int      `json:"year,omitempty" yaml:"year,omitempty"`
	Summary      string   `json:"summary,omitempty" yaml:"summary,omitempty"`
	Authors      []string `json:"authors,omitempty" yaml:"authors,omitempty"`
	Tags         []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Source is everything the extractor may look at.
type Source struct {
	Filename  string
	Comment   string
	Paths     []string
	ComicInfo []byte
}

// Extract runs the matchers from most to least specific. A field set by an
// earlier matcher is never overwritten by a later one.
func Extract(src Source) Manga {
	var m Manga
	if len(src.ComicInfo) > 0 {
		fromComicInfo(&m, src.ComicInfo)
	}
	if src.Comment != "" {
		fromComment(&m, src.Comment)
	}
	if src.Filename != "" {
		fromFilename(&m, src.Filename)
	}
	fromDirectories(&m, src.Paths)

	if m.Title == "" {
		m.Title = m.Series
	}
	if m.Series == "" {
		m.Series = m.Title
	}
	m.Authors = dedupe(m.Authors)
	m.Tags = dedupe(m.Tags)
	return m
}

func (m *Manga) setTitle(v string) {
	if m.Title == "" {
		m.Title = clean(v)
	}
}

func (m *Manga) setSeries(v string) {
	if m.Series == "" {
		m.Series = clean(v)
	}
}

func (m *Manga) setChapterTitle(v string) {
	if m.ChapterTitle == "" {
		m.ChapterTitle = clean(v)
	}
}

func (m *Manga) setLanguage(v string) {
	if m.Language == "" {
		m.Language = strings.ToLower(clean(v))
	}
}

func (m *Manga) setScanlator(v string) {
	if m.Scanlator == "" {
		m.Scanlator = clean(v)
	}
}

func (m *Manga) setSummary(v string) {
	if m.Summary == "" {
		m.Summary = strings.TrimSpace(norm.NFC.String(v))
	}
}

func (m *Manga) setChapter(v string) {
	if m.Chapter == nil {
		m.Chapter = parseNumber(v)
	}
}

func (m *Manga) setVolume(v string) {
	if m.Volume == nil {
		m.Volume = parseNumber(v)
	}
}

func (m *Manga) setYear(v string) {
	if m.Year != 0 {
		return
	}
	if y, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && y >= 1900 && y <= 2100 {
		m.Year = y
	}
}

func (m *Manga) addAuthors(v string) {
	m.Authors = append(m.Authors, splitList(v)...)
}

func (m *Manga) addTags(v string) {
	m.Tags = append(m.Tags, splitList(v)...)
}

// fromDirectories uses a single shared top-level folder as the series name.
func fromDirectories(m *Manga, paths []string) {
	if m.Series != "" || len(paths) == 0 {
		return
	}
	top := ""
	for _, p := range paths {
		dir := path.Dir(p)
		if dir == "." {
			return
		}
		first := strings.SplitN(dir, "/", 2)[0]
		if top == "" {
			top = first
		} else if top != first {
			return
		}
	}
	if top == "" {
		return
	}

	rest := fromFolder(top)
	m.setSeries(rest.Title)
	if rest.Chapter != nil {
		m.setChapter(strconv.FormatFloat(*rest.Chapter, 'f', -1, 64))
	}
	if rest.Volume != nil {
		m.setVolume(strconv.FormatFloat(*rest.Volume, 'f', -1, 64))
	}
}

func fromFolder(name string) Manga {
	var m Manga
	fromFilename(&m, name+".dir")
	return m
}

func parseNumber(v string) *float64 {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return nil
	}
	return &f
}

func splitList(v string) []string {
	parts := strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ';' || r == '|' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = clean(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, v := range in {
		key := strings.ToLower(v)
		if !seen[key] {
			seen[key] = true
			out = append(out, v)
		}
	}
	return out
}

// clean NFC-normalizes, turns underscores into spaces and collapses whitespace.
func clean(v string) string {
	v = norm.NFC.String(v)
	v = strings.ReplaceAll(v, "_", " ")
	v = strings.Join(strings.Fields(v), " ")
	return strings.Trim(v, " -.:")
}
