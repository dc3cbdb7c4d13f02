/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package metadata

import (
	"bufio"
	"encoding/xml"
	"path"
	"regexp"
	"strings"
)

var (
	explicitTagPattern = regexp.MustCompile(`\{\s*([a-zA-Z_]+)\s*[=:]\s*([^}]*)\}`)
	leadingGroup       = regexp.MustCompile(`^\s*\[([^\]]+)\]`)
	bracketPattern     = regexp.MustCompile(`[\[(]([^\])]*)[\])]`)
	languageCode       = regexp.MustCompile(`^(?i)[a-z]{2}(?:[-_][a-z]{2})?$`)
	yearPattern        = regexp.MustCompile(`^(19|20)\d{2}$`)
	volumePattern      = regexp.MustCompile(`(?i)(?:^|[\s_\-.])(?:v|vol\.?|volume)[\s_.]*0*(\d+(?:\.\d+)?)\b`)
	chapterPattern     = regexp.MustCompile(`(?i)(?:^|[\s_\-.])(?:c|ch\.?|chap\.?|chapter)[\s_.]*0*(\d+(?:\.\d+)?)\b`)
	trailingNumber     = regexp.MustCompile(`(?:^|[\s_\-])0*(\d+(?:\.\d+)?)\s*$`)
	chapterTitleSep    = regexp.MustCompile(`^\s*[-:]\s*(.+)$`)
	commentLine        = regexp.MustCompile(`^\s*([A-Za-z][A-Za-z _-]*?)\s*[:=]\s*(.+?)\s*$`)
)

// comicInfo is the subset of the ComicRack ComicInfo.xml schema we read.
type comicInfo struct {
	XMLName         xml.Name `xml:"ComicInfo"`
	Title           string   `xml:"Title"`
	Series          string   `xml:"Series"`
	Number          string   `xml:"Number"`
	Volume          string   `xml:"Volume"`
	Summary         string   `xml:"Summary"`
	Year            string   `xml:"Year"`
	Writer          string   `xml:"Writer"`
	Penciller       string   `xml:"Penciller"`
	LanguageISO     string   `xml:"LanguageISO"`
	ScanInformation string   `xml:"ScanInformation"`
	Genre           string   `xml:"Genre"`
	Tags            string   `xml:"Tags"`
}

func fromComicInfo(m *Manga, data []byte) {
	var ci comicInfo
	if err := xml.Unmarshal(data, &ci); err != nil {
		return
	}
	m.setSeries(ci.Series)
	m.setChapterTitle(ci.Title)
	m.setChapter(ci.Number)
	m.setVolume(ci.Volume)
	m.setSummary(ci.Summary)
	m.setYear(ci.Year)
	m.setLanguage(ci.LanguageISO)
	m.setScanlator(ci.ScanInformation)
	m.addAuthors(ci.Writer)
	m.addAuthors(ci.Penciller)
	m.addTags(ci.Genre)
	m.addTags(ci.Tags)
}

func fromComment(m *Manga, comment string) {
	sc := bufio.NewScanner(strings.NewReader(comment))
	for sc.Scan() {
		match := commentLine.FindStringSubmatch(sc.Text())
		if match == nil {
			continue
		}
		applyField(m, match[1], match[2])
	}
}

// applyField maps a free-form key to a metadata field.
func applyField(m *Manga, key, value string) {
	key = strings.ToLower(strings.NewReplacer(" ", "", "_", "", "-", "").Replace(key))
	switch key {
	case "title", "name":
		m.setTitle(value)
	case "series", "manga":
		m.setSeries(value)
	case "chaptertitle":
		m.setChapterTitle(value)
	case "chapter", "ch", "number":
		m.setChapter(value)
	case "volume", "vol":
		m.setVolume(value)
	case "language", "lang":
		m.setLanguage(value)
	case "scanlator", "group", "source", "scans":
		m.setScanlator(value)
	case "author", "authors", "writer", "artist":
		m.addAuthors(value)
	case "tags", "genre", "genres":
		m.addTags(value)
	case "year":
		m.setYear(value)
	case "summary", "description":
		m.setSummary(value)
	}
}

// fromFilename applies, in order: explicit {key=value} tags, bracket
// conventions, then loose volume/chapter number guesses. What remains is the title.
func fromFilename(m *Manga, filename string) {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	name := strings.TrimSuffix(base, path.Ext(base))

	for _, match := range explicitTagPattern.FindAllStringSubmatch(name, -1) {
		applyField(m, match[1], match[2])
	}
	name = explicitTagPattern.ReplaceAllString(name, " ")

	if g := leadingGroup.FindStringSubmatch(name); g != nil {
		if !languageCode.MatchString(strings.TrimSpace(g[1])) {
			m.setScanlator(g[1])
			name = name[len(g[0]):]
		}
	}
	for _, match := range bracketPattern.FindAllStringSubmatch(name, -1) {
		inner := strings.TrimSpace(match[1])
		switch {
		case yearPattern.MatchString(inner):
			m.setYear(inner)
		case languageCode.MatchString(inner):
			m.setLanguage(inner)
		case strings.EqualFold(inner, "digital"), inner == "":
		default:
			m.addTags(inner)
		}
	}
	name = bracketPattern.ReplaceAllString(name, " ")
	name = strings.ReplaceAll(name, "_", " ")

	cut, volEnd := len(name), 0
	if loc := volumePattern.FindStringSubmatchIndex(name); loc != nil {
		m.setVolume(name[loc[2]:loc[3]])
		cut, volEnd = loc[0], loc[1]
	}
	if loc := chapterPattern.FindStringSubmatchIndex(name); loc != nil {
		m.setChapter(name[loc[2]:loc[3]])
		if rest := chapterTitleSep.FindStringSubmatch(name[loc[1]:]); rest != nil {
			m.setChapterTitle(rest[1])
		}
		cut = min(cut, loc[0])
	} else if loc := trailingNumber.FindStringSubmatchIndex(name); loc != nil && loc[0] >= volEnd {
		m.setChapter(name[loc[2]:loc[3]])
		cut = min(cut, loc[0])
	}

	title := clean(name[:cut])
	if title != "" {
		m.setTitle(title)
	}
}
