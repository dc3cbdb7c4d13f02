/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package thumbnail renders bounded-size JPEG copies of page images.
package thumbnail

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/friendsincode/inkpress/internal/procerr"
)

// DefaultQuality is the JPEG quality used when none is configured.
const DefaultQuality = 85

// PageName is the deterministic file name of a page thumbnail.
func PageName(pageIndex, size int) string {
	return fmt.Sprintf("page-%04d-%d.jpg", pageIndex, size)
}

// CoverName is the deterministic file name of a cover thumbnail.
func CoverName(size int) string {
	return fmt.Sprintf("cover-%d.jpg", size)
}

// CoverIndex is the page index reported to publishers for cover thumbnails.
const CoverIndex = -1

// Job is one source image to render at every configured size.
type Job struct {
	PageIndex int
	Cover     bool
	Open      func() (io.ReadCloser, error)
}

// Output is the outcome for one (page, size) pair.
type Output struct {
	PageIndex int
	Cover     bool
	Size      int
	// Path is the local file, Location where it was published (equal to Path
	// when no publisher is configured).
	Path     string
	Location string
	Err      error
}

// PublishFunc copies a rendered thumbnail to durable storage and returns its location.
type PublishFunc func(ctx context.Context, out Output) (string, error)

// Config configures a Generator.
type Config struct {
	OutputDir   string
	Sizes       []int
	Quality     int
	Concurrency int
	Publish     PublishFunc
}

// Generator renders thumbnails for a set of jobs.
type Generator struct {
	cfg    Config
	logger zerolog.Logger
}

// New creates a generator. Sizes are deduplicated and sorted descending so the
// largest rendition is produced from the original and smaller ones reuse it.
func New(cfg Config, logger zerolog.Logger) *Generator {
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = DefaultQuality
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	seen := make(map[int]bool)
	sizes := make([]int, 0, len(cfg.Sizes))
	for _, s := range cfg.Sizes {
		if s > 0 && !seen[s] {
			seen[s] = true
			sizes = append(sizes, s)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(sizes)))
	cfg.Sizes = sizes

	return &Generator{cfg: cfg, logger: logger.With().Str("component", "thumbnail").Logger()}
}

// Generate renders every job at every size. Failures are reported per output
// and never stop other jobs. If ctx is cancelled, jobs not yet started are
// abandoned and ctx.Err() is returned alongside the outputs produced so far.
func (g *Generator) Generate(ctx context.Context, jobs []Job) ([]Output, error) {
	if err := os.MkdirAll(g.cfg.OutputDir, 0o755); err != nil {
		return nil, procerr.New(procerr.KindStorageUnavailable, "create thumbnail dir", err)
	}

	results := make([][]Output, len(jobs))
	var eg errgroup.Group
	eg.SetLimit(g.cfg.Concurrency)

	for i, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		i, job := i, job
		eg.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			results[i] = g.render(ctx, job)
			return nil
		})
	}
	_ = eg.Wait()

	var out []Output
	for _, r := range results {
		out = append(out, r...)
	}
	return out, ctx.Err()
}

func (g *Generator) render(ctx context.Context, job Job) []Output {
	outputs := make([]Output, len(g.cfg.Sizes))
	for i, size := range g.cfg.Sizes {
		outputs[i] = Output{PageIndex: job.PageIndex, Cover: job.Cover, Size: size, Path: g.path(job, size)}
	}
	fail := func(err error) []Output {
		for i := range outputs {
			outputs[i].Err = err
		}
		return outputs
	}

	src, err := decode(job)
	if err != nil {
		return fail(g.wrap(job, 0, err))
	}

	current := src
	for i := range outputs {
		o := &outputs[i]
		current = imaging.Fit(current, o.Size, o.Size, imaging.Lanczos)
		if err := writeJPEG(o.Path, current, g.cfg.Quality); err != nil {
			o.Err = g.wrap(job, o.Size, err)
			continue
		}
		o.Location = o.Path
		if g.cfg.Publish != nil {
			loc, err := g.cfg.Publish(ctx, *o)
			if err != nil {
				o.Err = g.wrap(job, o.Size, fmt.Errorf("publish: %w", err))
				continue
			}
			o.Location = loc
		}
		g.logger.Debug().
			Int("page_index", job.PageIndex).
			Bool("cover", job.Cover).
			Int("size", o.Size).
			Str("path", o.Path).
			Msg("thumbnail written")
	}
	return outputs
}

func (g *Generator) path(job Job, size int) string {
	if job.Cover {
		return filepath.Join(g.cfg.OutputDir, CoverName(size))
	}
	return filepath.Join(g.cfg.OutputDir, PageName(job.PageIndex, size))
}

func (g *Generator) wrap(job Job, size int, err error) error {
	entry := fmt.Sprintf("page %d", job.PageIndex)
	if job.Cover {
		entry = "cover"
	}
	if size > 0 {
		entry = fmt.Sprintf("%s @%dpx", entry, size)
	}
	return procerr.ForEntry(procerr.KindThumbnailGeneration, entry, err)
}

func decode(job Job) (image.Image, error) {
	if job.Open == nil {
		return nil, fmt.Errorf("no image source")
	}
	rc, err := job.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	img, err := imaging.Decode(rc, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return img, nil
}

// writeJPEG writes through a temporary file so a rerun replaces the previous
// rendition atomically.
func writeJPEG(target string, img image.Image, quality int) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), ".thumb-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if err := imaging.Encode(tmp, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("encode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
