/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nwaples/rardecode"
	"github.com/rs/zerolog"

	"github.com/friendsincode/inkpress/internal/procerr"
)

// rarCursor streams a RAR archive. RAR members can only be read in order, so
// each file member is spooled to the scratch directory when it is reached.
type rarCursor struct {
	f        *os.File
	rr       *rardecode.Reader
	spoolDir string
	maxSize  int64
	logger   zerolog.Logger

	seq   int
	done  bool
	once  sync.Once
	close error
}

func openRar(f *os.File, opts Options) (Cursor, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, procerr.New(procerr.KindStorageUnavailable, "rewind rar", err)
	}
	rr, err := rardecode.NewReader(f, "")
	if err != nil {
		f.Close()
		return nil, procerr.New(procerr.KindCorruptArchive, "read rar header", err)
	}

	spoolDir, err := os.MkdirTemp(opts.ScratchDir, "rar-spool-*")
	if err != nil {
		f.Close()
		return nil, procerr.New(procerr.KindStorageUnavailable, "create rar spool", err)
	}

	return &rarCursor{
		f:        f,
		rr:       rr,
		spoolDir: spoolDir,
		maxSize:  opts.MaxEntrySize,
		logger:   opts.Logger,
	}, nil
}

func (r *rarCursor) Format() Format { return FormatRAR }

// Comment is not exposed by the streaming decoder.
func (r *rarCursor) Comment() string { return "" }

func (r *rarCursor) Next() (*Entry, error) {
	if r.done {
		return nil, io.EOF
	}

	h, err := r.rr.Next()
	if errors.Is(err, io.EOF) {
		r.done = true
		return nil, io.EOF
	}
	if err != nil {
		r.done = true
		return nil, procerr.New(procerr.KindCorruptArchive, "read rar header", err)
	}

	e := &Entry{
		Path:  strings.ReplaceAll(h.Name, "\\", "/"),
		Size:  h.UnPackedSize,
		IsDir: h.IsDir,
	}
	if !h.ModificationTime.IsZero() {
		mod := h.ModificationTime
		e.Modified = &mod
	}

	clean, err := memberPath(h.Name)
	if err != nil {
		e.Name = path.Base(e.Path)
		e.Err = procerr.ForEntry(procerr.KindEntryRead, e.Path, err)
		return e, nil
	}
	e.Path = clean
	e.Name = path.Base(clean)
	if e.IsDir {
		return e, nil
	}

	spooled, size, err := r.spool(e.Name)
	if err != nil {
		e.Err = procerr.ForEntry(procerr.KindEntryRead, e.Path, err)
		r.logger.Debug().Err(err).Str("entry", e.Path).Msg("rar member unreadable")
		return e, nil
	}
	e.Size = size
	e.open = func() (io.ReadCloser, error) { return os.Open(spooled) }
	return e, nil
}

func (r *rarCursor) spool(name string) (string, int64, error) {
	r.seq++
	target := filepath.Join(r.spoolDir, fmt.Sprintf("%05d%s", r.seq, strings.ToLower(path.Ext(name))))

	out, err := os.Create(target)
	if err != nil {
		return "", 0, fmt.Errorf("create spool file: %w", err)
	}
	n, err := io.Copy(out, io.LimitReader(r.rr, r.maxSize+1))
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && n > r.maxSize {
		err = fmt.Errorf("entry exceeds %d byte limit", r.maxSize)
	}
	if err != nil {
		os.Remove(target)
		return "", 0, err
	}
	return target, n, nil
}

func (r *rarCursor) Close() error {
	r.once.Do(func() {
		r.done = true
		r.close = r.f.Close()
		if err := os.RemoveAll(r.spoolDir); err != nil && r.close == nil {
			r.close = err
		}
	})
	return r.close
}
