/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package archive reads ZIP-family and RAR-family comic containers as a lazy
// sequence of entries.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/inkpress/internal/procerr"
)

// Format is a container family.
type Format string

const (
	FormatUnknown Format = ""
	FormatZIP     Format = "zip"
	FormatRAR     Format = "rar"
)

// DefaultMaxEntrySize bounds how many bytes of a single streamed member are spooled.
const DefaultMaxEntrySize = 256 << 20

var (
	zipMagic      = []byte("PK\x03\x04")
	zipEmptyMagic = []byte("PK\x05\x06")
	zipSpanMagic  = []byte("PK\x07\x08")
	rar4Magic     = []byte("Rar!\x1A\x07\x00")
	rar5Magic     = []byte("Rar!\x1A\x07\x01\x00")
)

// ParseFormat maps a declared format or file extension to a container family.
func ParseFormat(s string) Format {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), ".")
	switch s {
	case "zip", "cbz":
		return FormatZIP
	case "rar", "cbr":
		return FormatRAR
	default:
		return FormatUnknown
	}
}

// Sniff identifies the container family from its leading signature.
func Sniff(r io.ReaderAt) (Format, error) {
	header := make([]byte, 8)
	n, err := r.ReadAt(header, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return FormatUnknown, procerr.New(procerr.KindCorruptArchive, "sniff", err)
	}
	header = header[:n]

	switch {
	case bytes.HasPrefix(header, zipMagic), bytes.HasPrefix(header, zipEmptyMagic), bytes.HasPrefix(header, zipSpanMagic):
		return FormatZIP, nil
	case bytes.HasPrefix(header, rar4Magic), bytes.HasPrefix(header, rar5Magic):
		return FormatRAR, nil
	}
	return FormatUnknown, procerr.New(procerr.KindUnsupportedFormat, "sniff",
		fmt.Errorf("unrecognized container signature % x", header))
}

// Entry is one archive member. Bytes are not read until Open is called.
type Entry struct {
	Path     string
	Name     string
	Size     int64
	IsDir    bool
	Modified *time.Time

	// Err is set when the member could not be read; such entries are skipped.
	Err error

	open func() (io.ReadCloser, error)
}

// Open returns a reader over the member's decompressed bytes.
func (e *Entry) Open() (io.ReadCloser, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	if e.IsDir || e.open == nil {
		return nil, procerr.ForEntry(procerr.KindEntryRead, e.Path, errors.New("entry has no content"))
	}
	rc, err := e.open()
	if err != nil {
		return nil, procerr.ForEntry(procerr.KindEntryRead, e.Path, err)
	}
	return rc, nil
}

// Cursor is an owned, non-restartable iterator over archive entries. Next
// returns io.EOF once exhausted. Close releases the file handle and any
// temporary extraction storage and must be called even after early abandonment.
type Cursor interface {
	Next() (*Entry, error)
	Format() Format
	Comment() string
	Close() error
}

// Options tune how a container is opened.
type Options struct {
	// ScratchDir receives spooled members for streaming formats.
	ScratchDir   string
	MaxEntrySize int64
	Logger       zerolog.Logger
}

// Open sniffs the container at path and returns a cursor over its entries. The
// sniffed format wins over the declared one.
func Open(filePath string, declared Format, opts Options) (Cursor, error) {
	if opts.MaxEntrySize <= 0 {
		opts.MaxEntrySize = DefaultMaxEntrySize
	}

	f, err := os.Open(filePath)
	if err != nil {
		return nil, procerr.New(procerr.KindStorageUnavailable, "open archive", err)
	}

	format, err := Sniff(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	if declared != FormatUnknown && declared != format {
		opts.Logger.Warn().
			Str("declared", string(declared)).
			Str("sniffed", string(format)).
			Str("path", filePath).
			Msg("container format does not match declaration, using sniffed format")
	}

	switch format {
	case FormatZIP:
		f.Close()
		return openZip(filePath)
	case FormatRAR:
		return openRar(f, opts)
	}
	f.Close()
	return nil, procerr.New(procerr.KindUnsupportedFormat, "open archive", fmt.Errorf("format %q", format))
}

// memberPath normalizes a member name and rejects absolute or escaping paths.
func memberPath(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	clean := path.Clean(name)
	if clean == "." || clean == "" {
		return "", fmt.Errorf("invalid archive entry path %q", name)
	}
	if path.IsAbs(clean) || filepath.IsAbs(name) || (len(clean) > 1 && clean[1] == ':') {
		return "", fmt.Errorf("absolute archive entry path %q is not allowed", name)
	}
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("archive entry %q escapes extraction root", name)
	}
	return clean, nil
}
