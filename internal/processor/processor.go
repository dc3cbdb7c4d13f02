/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package processor runs one extraction pass over an uploaded archive.
package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/rs/zerolog"

	"github.com/friendsincode/inkpress/internal/archive"
	"github.com/friendsincode/inkpress/internal/inspect"
	"github.com/friendsincode/inkpress/internal/metadata"
	"github.com/friendsincode/inkpress/internal/pages"
	"github.com/friendsincode/inkpress/internal/procerr"
	"github.com/friendsincode/inkpress/internal/thumbnail"
)

// DefaultCorruptRatio is the share of unreadable image-like entries above
// which the whole archive is treated as corrupt.
const DefaultCorruptRatio = 0.5

const maxSidecarSize = 1 << 20

// Input identifies the archive for one attempt.
type Input struct {
	FileID   string
	Filename string
	Format   archive.Format
	// Path is a local copy of the archive.
	Path string
}

// Context is the immutable per-attempt configuration.
type Context struct {
	ScratchDir     string
	ThumbnailDir   string
	Extensions     []string
	ThumbnailSizes []int
	// Publish, when set, copies each thumbnail to durable storage.
	Publish thumbnail.PublishFunc
}

// Config holds processor-wide tuning.
type Config struct {
	CorruptRatio         float64
	CoverMarkers         []string
	ThumbnailQuality     int
	ThumbnailConcurrency int
	MaxEntrySize         int64
}

// Processor sequences reader, classifier, inspector, thumbnail generator and
// metadata extractor into one result.
type Processor struct {
	cfg    Config
	logger zerolog.Logger
}

// New creates a processor.
func New(cfg Config, logger zerolog.Logger) *Processor {
	if cfg.CorruptRatio <= 0 || cfg.CorruptRatio > 1 {
		cfg.CorruptRatio = DefaultCorruptRatio
	}
	if cfg.ThumbnailConcurrency <= 0 {
		cfg.ThumbnailConcurrency = 2
	}
	return &Processor{cfg: cfg, logger: logger.With().Str("component", "processor").Logger()}
}

type inspected struct {
	entry *archive.Entry
	info  inspect.Info
}

// Process runs one attempt. It fails only when the container is unreadable,
// no page survives, too many image entries are unreadable, or ctx ends;
// every other problem is a warning on the result.
func (p *Processor) Process(ctx context.Context, in Input, pctx Context) (*Result, error) {
	logger := p.logger.With().Str("file_id", in.FileID).Logger()

	if err := ctxErr(ctx, "start"); err != nil {
		return nil, err
	}

	cur, err := archive.Open(in.Path, in.Format, archive.Options{
		ScratchDir:   pctx.ScratchDir,
		MaxEntrySize: p.cfg.MaxEntrySize,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer cur.Close()

	result := &Result{Container: cur.Format()}

	entries, comicInfo, err := p.readEntries(ctx, cur, result)
	if err != nil {
		return nil, err
	}
	result.TotalEntries = len(entries)

	classifier := pages.NewClassifier(pctx.Extensions, p.cfg.CoverMarkers)
	summary := classifier.Summarize(entries)
	unreadable := 0
	for _, s := range summary.Skipped {
		result.Skipped = append(result.Skipped, SkippedEntry{Path: s.Entry.Path, Reason: s.Reason})
		if s.Class == pages.ClassUnreadable {
			unreadable++
			result.warn(s.Entry.Err)
		}
	}

	inspector := inspect.New(inspect.ParseFormats(pctx.Extensions))
	var accepted []inspected
	for _, e := range summary.Images {
		if err := ctxErr(ctx, "inspect"); err != nil {
			return nil, err
		}
		info, err := inspectEntry(inspector, e)
		if err != nil {
			unreadable++
			result.warn(procerr.ForEntry(procerr.KindOf(err), e.Path, err))
			result.Skipped = append(result.Skipped, SkippedEntry{Path: e.Path, Reason: err.Error()})
			continue
		}
		accepted = append(accepted, inspected{entry: e, info: info})
	}

	imageLike := len(summary.Images) + countClass(summary, pages.ClassUnreadable)
	if len(accepted) == 0 {
		return nil, procerr.New(procerr.KindNoAcceptableContent, "classify",
			fmt.Errorf("%d entries, %d image-like, none usable", len(entries), imageLike))
	}
	if float64(unreadable) > p.cfg.CorruptRatio*float64(imageLike) {
		return nil, procerr.New(procerr.KindCorruptArchive, "inspect",
			fmt.Errorf("%d of %d image entries unreadable", unreadable, imageLike))
	}

	acceptedEntries := make([]*archive.Entry, len(accepted))
	for i, a := range accepted {
		acceptedEntries[i] = a.entry
	}
	coverIdx := classifier.PickCover(acceptedEntries)

	result.Pages = make([]Page, len(accepted))
	for i, a := range accepted {
		result.Pages[i] = Page{
			Index:     i,
			Filename:  a.entry.Path,
			Width:     a.info.Width,
			Height:    a.info.Height,
			Format:    a.info.Format,
			SizeBytes: a.entry.Size,
			IsCover:   i == coverIdx,
		}
	}

	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.Path
	}
	result.Metadata = metadata.Extract(metadata.Source{
		Filename:  in.Filename,
		Comment:   cur.Comment(),
		Paths:     paths,
		ComicInfo: comicInfo,
	})

	if err := p.thumbnails(ctx, pctx, accepted, coverIdx, result); err != nil {
		return nil, err
	}

	cover := result.Pages[coverIdx]
	result.Cover = &cover

	logger.Info().
		Int("pages", len(result.Pages)).
		Int("skipped", len(result.Skipped)).
		Int("warnings", len(result.Warnings)).
		Str("container", string(result.Container)).
		Msg("archive processed")

	return result, nil
}

// readEntries drains the cursor. A broken header after the first entry
// truncates the archive with a warning instead of failing it.
func (p *Processor) readEntries(ctx context.Context, cur archive.Cursor, result *Result) ([]*archive.Entry, []byte, error) {
	var entries []*archive.Entry
	var comicInfo []byte
	for {
		if err := ctxErr(ctx, "read entries"); err != nil {
			return nil, nil, err
		}
		e, err := cur.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if len(entries) == 0 {
				return nil, nil, fmt.Errorf("read archive: %w", err)
			}
			result.warn(err)
			break
		}
		entries = append(entries, e)

		if !e.IsDir && e.Err == nil && strings.EqualFold(path.Base(e.Path), "comicinfo.xml") && comicInfo == nil {
			comicInfo = readSidecar(e)
		}
	}
	return entries, comicInfo, nil
}

func (p *Processor) thumbnails(ctx context.Context, pctx Context, accepted []inspected, coverIdx int, result *Result) error {
	if len(pctx.ThumbnailSizes) == 0 {
		return nil
	}

	gen := thumbnail.New(thumbnail.Config{
		OutputDir:   pctx.ThumbnailDir,
		Sizes:       pctx.ThumbnailSizes,
		Quality:     p.cfg.ThumbnailQuality,
		Concurrency: p.cfg.ThumbnailConcurrency,
		Publish:     pctx.Publish,
	}, p.logger)

	jobs := make([]thumbnail.Job, 0, len(accepted)+1)
	for i, a := range accepted {
		jobs = append(jobs, thumbnail.Job{PageIndex: i, Open: a.entry.Open})
	}
	jobs = append(jobs, thumbnail.Job{PageIndex: coverIdx, Cover: true, Open: accepted[coverIdx].entry.Open})

	outputs, err := gen.Generate(ctx, jobs)
	if err != nil {
		if ctxErr(ctx, "thumbnails") != nil {
			return ctxErr(ctx, "thumbnails")
		}
		return fmt.Errorf("generate thumbnails: %w", err)
	}

	for _, o := range outputs {
		if o.Err != nil {
			w := procerr.AsWarning(o.Err)
			w.Size = o.Size
			result.Warnings = append(result.Warnings, w)
			continue
		}
		if o.Cover {
			if result.CoverThumbnails == nil {
				result.CoverThumbnails = make(map[int]string)
			}
			result.CoverThumbnails[o.Size] = o.Location
			continue
		}
		page := &result.Pages[o.PageIndex]
		if page.Thumbnails == nil {
			page.Thumbnails = make(map[int]string)
		}
		page.Thumbnails[o.Size] = o.Location
	}
	return nil
}

// inspectEntry reads the header for dimensions, then decodes the whole entry
// so pages with broken pixel data are skipped before indices are assigned.
func inspectEntry(in *inspect.Inspector, e *archive.Entry) (inspect.Info, error) {
	rc, err := e.Open()
	if err != nil {
		return inspect.Info{}, err
	}
	info, err := in.Inspect(rc)
	rc.Close()
	if err != nil {
		return inspect.Info{}, err
	}

	rc, err = e.Open()
	if err != nil {
		return inspect.Info{}, err
	}
	defer rc.Close()
	if err := in.Verify(rc); err != nil {
		return inspect.Info{}, err
	}
	return info, nil
}

func readSidecar(e *archive.Entry) []byte {
	rc, err := e.Open()
	if err != nil {
		return nil
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxSidecarSize))
	if err != nil {
		return nil
	}
	return data
}

func countClass(s pages.Summary, class pages.Class) int {
	n := 0
	for _, sk := range s.Skipped {
		if sk.Class == class {
			n++
		}
	}
	return n
}

// ctxErr converts an ended context into a retryable timeout.
func ctxErr(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return procerr.New(procerr.KindProcessingTimeout, op, err)
	}
	return nil
}
