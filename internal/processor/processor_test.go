/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package processor

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/inkpress/internal/archive"
	"github.com/friendsincode/inkpress/internal/procerr"
)

type member struct {
	name string
	data []byte
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// noisyPNGBytes encodes an image that barely compresses, so cutting it in half
// leaves the header intact and the pixel data short.
func noisyPNGBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = byte(i * 7919 % 251)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func buildZip(t *testing.T, members []member) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "chapter.cbz")
	f, err := os.Create(p)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	zw := zip.NewWriter(f)
	for _, m := range members {
		w, err := zw.Create(m.name)
		if err != nil {
			t.Fatalf("create member: %v", err)
		}
		if _, err := w.Write(m.data); err != nil {
			t.Fatalf("write member: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
	return p
}

func newContext(t *testing.T) Context {
	t.Helper()
	return Context{
		ScratchDir:     t.TempDir(),
		ThumbnailDir:   t.TempDir(),
		Extensions:     []string{".png", ".jpg", ".jpeg"},
		ThumbnailSizes: []int{64, 32},
	}
}

func newProcessor() *Processor {
	return New(Config{}, zerolog.Nop())
}

func TestProcessTenPages(t *testing.T) {
	var members []member
	for i := 1; i <= 10; i++ {
		members = append(members, member{fmt.Sprintf("%02d.png", i), pngBytes(t, 40, 80)})
	}
	path := buildZip(t, members)

	res, err := newProcessor().Process(context.Background(), Input{FileID: "f1", Filename: "Series v01 c003.cbz", Path: path}, newContext(t))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(res.Pages) != 10 {
		t.Fatalf("expected 10 pages, got %d", len(res.Pages))
	}
	covers := 0
	for i, p := range res.Pages {
		if p.Index != i {
			t.Errorf("page %d has index %d", i, p.Index)
		}
		if p.Width != 40 || p.Height != 80 {
			t.Errorf("page %d dims %dx%d", i, p.Width, p.Height)
		}
		if len(p.Thumbnails) != 2 {
			t.Errorf("page %d has %d thumbnails", i, len(p.Thumbnails))
		}
		if p.IsCover {
			covers++
		}
	}
	if covers != 1 {
		t.Fatalf("expected exactly one cover, got %d", covers)
	}
	if res.Cover == nil || res.Cover.Index != 0 {
		t.Fatalf("expected first page as cover, got %+v", res.Cover)
	}
	if len(res.CoverThumbnails) != 2 {
		t.Fatalf("expected cover thumbnails, got %v", res.CoverThumbnails)
	}
	if res.Metadata.Series != "Series" {
		t.Errorf("series = %q", res.Metadata.Series)
	}
	if res.Container != archive.FormatZIP {
		t.Errorf("container = %q", res.Container)
	}
	if res.Partial() {
		t.Errorf("unexpected warnings: %+v", res.Warnings)
	}
}

func TestProcessNaturalOrder(t *testing.T) {
	img := pngBytes(t, 10, 10)
	path := buildZip(t, []member{
		{"page10.png", img},
		{"page2.png", img},
		{"page9.png", img},
		{"page1.png", img},
	})

	res, err := newProcessor().Process(context.Background(), Input{FileID: "f", Path: path}, newContext(t))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	var got []string
	for _, p := range res.Pages {
		got = append(got, p.Filename)
	}
	want := []string{"page1.png", "page2.png", "page9.png", "page10.png"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestProcessIsDeterministic(t *testing.T) {
	img := pngBytes(t, 20, 30)
	path := buildZip(t, []member{
		{"b/003.png", img},
		{"a/cover.png", img},
		{"b/001.png", img},
		{"notes.txt", []byte("hello")},
	})
	pctx := newContext(t)
	p := newProcessor()

	first, err := p.Process(context.Background(), Input{FileID: "f", Path: path}, pctx)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := p.Process(context.Background(), Input{FileID: "f", Path: path}, pctx)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("results differ:\n%+v\n%+v", first, second)
	}
	if first.Cover == nil || first.Cover.Filename != "a/cover.png" {
		t.Fatalf("expected marker cover, got %+v", first.Cover)
	}
}

func TestProcessOneCorruptImage(t *testing.T) {
	var members []member
	for i := 1; i <= 10; i++ {
		data := pngBytes(t, 16, 16)
		if i == 5 {
			data = []byte("definitely not an image")
		}
		members = append(members, member{fmt.Sprintf("p%02d.png", i), data})
	}
	path := buildZip(t, members)

	res, err := newProcessor().Process(context.Background(), Input{FileID: "f", Path: path}, newContext(t))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(res.Pages) != 9 {
		t.Fatalf("expected 9 pages, got %d", len(res.Pages))
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("expected 1 warning, got %+v", res.Warnings)
	}
	if res.Warnings[0].Entry != "p05.png" {
		t.Errorf("warning entry = %q", res.Warnings[0].Entry)
	}
	for i, p := range res.Pages {
		if p.Index != i {
			t.Errorf("indices not contiguous at %d", i)
		}
	}
}

func TestProcessTruncatedImageIsSkipped(t *testing.T) {
	var members []member
	for i := 1; i <= 10; i++ {
		data := noisyPNGBytes(t, 64, 64)
		name := fmt.Sprintf("p%02d.png", i)
		if i == 5 {
			data = data[:len(data)/2]
			name = "p05 cover.png"
		}
		members = append(members, member{name, data})
	}
	path := buildZip(t, members)

	res, err := newProcessor().Process(context.Background(), Input{FileID: "f", Path: path}, newContext(t))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(res.Pages) != 9 {
		t.Fatalf("expected 9 pages, got %d", len(res.Pages))
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("expected 1 warning, got %+v", res.Warnings)
	}
	if w := res.Warnings[0]; w.Kind != procerr.KindMalformedImage || w.Entry != "p05 cover.png" {
		t.Errorf("warning = %+v", w)
	}

	covers := 0
	for i, p := range res.Pages {
		if p.Index != i {
			t.Errorf("indices not contiguous at %d", i)
		}
		if p.Filename == "p05 cover.png" {
			t.Errorf("truncated entry kept as page %d", i)
		}
		if len(p.Thumbnails) != 2 {
			t.Errorf("page %d thumbnails = %v", i, p.Thumbnails)
		}
		if p.IsCover {
			covers++
		}
	}
	if covers != 1 || res.Cover == nil || res.Cover.Index != 0 {
		t.Fatalf("cover = %+v (covers=%d)", res.Cover, covers)
	}
	var skipped bool
	for _, s := range res.Skipped {
		skipped = skipped || s.Path == "p05 cover.png"
	}
	if !skipped {
		t.Errorf("truncated entry missing from skipped: %+v", res.Skipped)
	}
}

func TestProcessFailures(t *testing.T) {
	good := pngBytes(t, 8, 8)
	bad := []byte("garbage")

	tests := []struct {
		name    string
		members []member
		raw     []byte
		want    error
	}{
		{
			name:    "only non images",
			members: []member{{"readme.txt", []byte("x")}, {"ComicInfo.xml", []byte("<ComicInfo/>")}},
			want:    procerr.ErrNoAcceptableContent,
		},
		{
			name:    "all images unreadable",
			members: []member{{"1.png", bad}, {"2.png", bad}},
			want:    procerr.ErrNoAcceptableContent,
		},
		{
			name:    "most images unreadable",
			members: []member{{"1.png", good}, {"2.png", good}, {"3.png", bad}, {"4.png", bad}, {"5.png", bad}},
			want:    procerr.ErrCorruptArchive,
		},
		{
			name: "unknown container",
			raw:  []byte("this is not an archive at all"),
			want: procerr.ErrUnsupportedFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var path string
			if tt.raw != nil {
				path = filepath.Join(t.TempDir(), "x.cbz")
				if err := os.WriteFile(path, tt.raw, 0o644); err != nil {
					t.Fatal(err)
				}
			} else {
				path = buildZip(t, tt.members)
			}
			_, err := newProcessor().Process(context.Background(), Input{FileID: "f", Path: path}, newContext(t))
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if procerr.Retryable(err) {
				t.Fatalf("expected terminal error, got retryable %v", err)
			}
		})
	}
}

func TestProcessHalfUnreadableIsAccepted(t *testing.T) {
	good := pngBytes(t, 8, 8)
	path := buildZip(t, []member{{"1.png", good}, {"2.png", []byte("bad")}})

	res, err := newProcessor().Process(context.Background(), Input{FileID: "f", Path: path}, newContext(t))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(res.Pages) != 1 || len(res.Warnings) != 1 {
		t.Fatalf("expected 1 page and 1 warning, got %d pages %d warnings", len(res.Pages), len(res.Warnings))
	}
}

func TestProcessTimeout(t *testing.T) {
	path := buildZip(t, []member{{"1.png", pngBytes(t, 8, 8)}})
	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	<-ctx.Done()

	_, err := newProcessor().Process(ctx, Input{FileID: "f", Path: path}, newContext(t))
	if !errors.Is(err, procerr.ErrProcessingTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if !procerr.Retryable(err) {
		t.Fatal("timeout should be retryable")
	}
}

func TestProcessReadsComicInfo(t *testing.T) {
	info := []byte(`<ComicInfo><Series>From Sidecar</Series><Number>7</Number></ComicInfo>`)
	path := buildZip(t, []member{{"ComicInfo.xml", info}, {"001.png", pngBytes(t, 8, 8)}})

	res, err := newProcessor().Process(context.Background(), Input{FileID: "f", Filename: "other name c01.cbz", Path: path}, newContext(t))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Metadata.Series != "From Sidecar" {
		t.Errorf("series = %q", res.Metadata.Series)
	}
	if res.Metadata.Chapter == nil || *res.Metadata.Chapter != 7 {
		t.Errorf("chapter = %v", res.Metadata.Chapter)
	}
}

func TestProcessWithoutThumbnailSizes(t *testing.T) {
	path := buildZip(t, []member{{"1.png", pngBytes(t, 8, 8)}})
	pctx := newContext(t)
	pctx.ThumbnailSizes = nil

	res, err := newProcessor().Process(context.Background(), Input{FileID: "f", Path: path}, pctx)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(res.Pages[0].Thumbnails) != 0 || res.CoverThumbnails != nil {
		t.Fatal("expected no thumbnails")
	}
}
