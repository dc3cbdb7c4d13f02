/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package inspect identifies page images by content signature and reads
// their dimensions from the header without decoding pixels.
package inspect

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/friendsincode/inkpress/internal/procerr"
)

// Format is an image encoding recognised by signature.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatGIF  Format = "gif"
	FormatWebP Format = "webp"
	FormatBMP  Format = "bmp"
	FormatTIFF Format = "tiff"
)

// AllFormats lists every format the inspector can read.
var AllFormats = []Format{FormatJPEG, FormatPNG, FormatGIF, FormatWebP, FormatBMP, FormatTIFF}

// headerLen is enough bytes to distinguish every supported signature.
const headerLen = 16

// Info describes an inspected image.
type Info struct {
	Format Format
	Width  int
	Height int
}

// Sniff recognises an image format from its leading bytes.
func Sniff(header []byte) (Format, bool) {
	switch {
	case bytes.HasPrefix(header, []byte{0xFF, 0xD8, 0xFF}):
		return FormatJPEG, true
	case bytes.HasPrefix(header, []byte("\x89PNG\r\n\x1a\n")):
		return FormatPNG, true
	case bytes.HasPrefix(header, []byte("GIF87a")), bytes.HasPrefix(header, []byte("GIF89a")):
		return FormatGIF, true
	case len(header) >= 12 && bytes.Equal(header[0:4], []byte("RIFF")) && bytes.Equal(header[8:12], []byte("WEBP")):
		return FormatWebP, true
	case bytes.HasPrefix(header, []byte("BM")):
		return FormatBMP, true
	case bytes.HasPrefix(header, []byte("II*\x00")), bytes.HasPrefix(header, []byte("MM\x00*")):
		return FormatTIFF, true
	}
	return "", false
}

// ParseFormats maps extension or format names ("jpg", ".webp", "tiff") to formats.
func ParseFormats(names []string) []Format {
	seen := make(map[Format]bool)
	var out []Format
	for _, n := range names {
		var f Format
		switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(n)), ".") {
		case "jpg", "jpeg", "jpe":
			f = FormatJPEG
		case "png":
			f = FormatPNG
		case "gif":
			f = FormatGIF
		case "webp":
			f = FormatWebP
		case "bmp":
			f = FormatBMP
		case "tif", "tiff":
			f = FormatTIFF
		default:
			continue
		}
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

// Inspector checks images against an accepted set of formats.
type Inspector struct {
	accepted map[Format]bool
}

// New builds an inspector; an empty accepted list admits every known format.
func New(accepted []Format) *Inspector {
	if len(accepted) == 0 {
		accepted = AllFormats
	}
	in := &Inspector{accepted: make(map[Format]bool, len(accepted))}
	for _, f := range accepted {
		in.accepted[f] = true
	}
	return in
}

// Inspect reads the image header from r. The extension of the entry is never
// consulted; the signature decides the format.
func (in *Inspector) Inspect(r io.Reader) (Info, error) {
	br := bufio.NewReaderSize(r, 4096)
	header, err := br.Peek(headerLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return Info{}, procerr.New(procerr.KindEntryRead, "read image header", err)
	}

	format, ok := Sniff(header)
	if !ok {
		return Info{}, procerr.New(procerr.KindUnsupportedImageFormat, "inspect", fmt.Errorf("unknown signature % x", header))
	}
	if !in.accepted[format] {
		return Info{}, procerr.New(procerr.KindUnsupportedImageFormat, "inspect", fmt.Errorf("format %s not accepted", format))
	}

	cfg, _, err := image.DecodeConfig(br)
	if err != nil {
		return Info{Format: format}, procerr.New(procerr.KindMalformedImage, "inspect", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Info{Format: format}, procerr.New(procerr.KindMalformedImage, "inspect",
			fmt.Errorf("invalid dimensions %dx%d", cfg.Width, cfg.Height))
	}
	return Info{Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}

// Verify decodes the full image. A header can be intact while the pixel data
// behind it is truncated, so a page is only accepted after this succeeds.
func (in *Inspector) Verify(r io.Reader) error {
	if _, _, err := image.Decode(r); err != nil {
		return procerr.New(procerr.KindMalformedImage, "verify", err)
	}
	return nil
}
