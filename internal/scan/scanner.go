/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scan

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/friendsincode/inkpress/internal/archive"
	"github.com/friendsincode/inkpress/internal/procerr"
	"github.com/friendsincode/inkpress/internal/processor"
)

// Processor is satisfied by *processor.Processor.
type Processor interface {
	Process(ctx context.Context, in processor.Input, pctx processor.Context) (*processor.Result, error)
}

// Scanner walks directories and summarizes every archive it finds.
type Scanner struct {
	Dirs       []string
	Workers    int
	Extensions []string
	ScratchDir string
	Processor  Processor
	Logger     zerolog.Logger
}

// IsArchive reports whether name has a comic archive extension.
func IsArchive(name string) bool {
	return archive.ParseFormat(filepath.Ext(name)) != archive.FormatUnknown
}

type job struct {
	path string
	root string
	info fs.FileInfo
}

// Scan walks every directory (glob patterns allowed) and returns the
// manifest sorted by path. Unreadable archives are recorded with their error
// rather than aborting the scan.
func (s *Scanner) Scan(ctx context.Context) (*Manifest, error) {
	start := time.Now()
	workers := s.Workers
	if workers < 1 {
		workers = 1
	}

	m := &Manifest{
		Version:   ManifestVersion,
		ScannedAt: start.UTC(),
		RootDirs:  s.Dirs,
	}

	var (
		mu      sync.Mutex
		walkErr int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, pattern := range s.Dirs {
		roots, err := filepath.Glob(pattern)
		if err != nil || len(roots) == 0 {
			roots = []string{pattern}
		}
		for _, root := range roots {
			err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
				if err != nil {
					s.Logger.Warn().Err(err).Str("path", p).Msg("walk error")
					mu.Lock()
					walkErr++
					mu.Unlock()
					return nil
				}
				if gctx.Err() != nil {
					return gctx.Err()
				}
				if d.IsDir() || !IsArchive(d.Name()) {
					return nil
				}
				info, err := d.Info()
				if err != nil {
					return nil
				}
				j := job{path: p, root: root, info: info}
				g.Go(func() error {
					entry := s.summarize(gctx, j)
					mu.Lock()
					m.Files = append(m.Files, entry)
					mu.Unlock()
					return nil
				})
				return nil
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				s.Logger.Warn().Err(err).Str("root", root).Msg("walk aborted")
			}
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(m.Files, func(i, j int) bool { return m.Files[i].Path < m.Files[j].Path })
	m.Stats.Errors = walkErr
	for _, f := range m.Files {
		m.Stats.TotalFiles++
		m.Stats.TotalSize += f.Size
		m.Stats.TotalPages += f.Pages
		if !f.OK() {
			m.Stats.Failed++
		}
	}
	m.Stats.DurationSeconds = time.Since(start).Seconds()
	return m, nil
}

func (s *Scanner) summarize(ctx context.Context, j job) Entry {
	rel, err := filepath.Rel(j.root, j.path)
	if err != nil {
		rel = filepath.Base(j.path)
	}
	entry := Entry{
		Path:         j.path,
		RelativePath: filepath.ToSlash(rel),
		Filename:     filepath.Base(j.path),
		Size:         j.info.Size(),
		ModifiedAt:   j.info.ModTime().UTC(),
	}

	hash, err := HashFile(j.path)
	if err != nil {
		entry.Error = err.Error()
		entry.ErrorKind = string(procerr.KindStorageUnavailable)
		return entry
	}
	entry.ContentHash = hash

	scratch, err := os.MkdirTemp(s.ScratchDir, "scan-*")
	if err != nil {
		entry.Error = err.Error()
		entry.ErrorKind = string(procerr.KindStorageUnavailable)
		return entry
	}
	defer os.RemoveAll(scratch)

	res, err := s.Processor.Process(ctx, processor.Input{
		FileID:   hash[:12],
		Filename: entry.Filename,
		Format:   archive.ParseFormat(filepath.Ext(j.path)),
		Path:     j.path,
	}, processor.Context{
		ScratchDir: scratch,
		Extensions: s.Extensions,
	})
	if err != nil {
		entry.Error = err.Error()
		entry.ErrorKind = string(procerr.KindOf(err))
		s.Logger.Debug().Err(err).Str("path", j.path).Msg("archive would fail processing")
		return entry
	}

	entry.Container = string(res.Container)
	entry.Entries = res.TotalEntries
	entry.Pages = len(res.Pages)
	entry.Warnings = len(res.Warnings)
	if res.Cover != nil {
		entry.Cover = res.Cover.Filename
	}
	md := res.Metadata
	entry.Metadata = &md
	return entry
}

// HashFile returns the hex SHA-256 of a file's contents.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
