/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/friendsincode/inkpress/internal/procerr"
)

type zipCursor struct {
	rc    *zip.ReadCloser
	pos   int
	once  sync.Once
	close error
}

func openZip(filePath string) (Cursor, error) {
	rc, err := zip.OpenReader(filePath)
	if errors.Is(err, zip.ErrInsecurePath) && rc != nil {
		// member paths are validated per entry in Next
		err = nil
	}
	if err != nil {
		return nil, procerr.New(procerr.KindCorruptArchive, "read zip directory", err)
	}
	return &zipCursor{rc: rc}, nil
}

func (z *zipCursor) Format() Format { return FormatZIP }

func (z *zipCursor) Comment() string { return z.rc.Comment }

func (z *zipCursor) Next() (*Entry, error) {
	if z.pos >= len(z.rc.File) {
		return nil, io.EOF
	}
	f := z.rc.File[z.pos]
	z.pos++

	e := &Entry{
		Path:  strings.ReplaceAll(f.Name, "\\", "/"),
		Size:  int64(f.UncompressedSize64),
		IsDir: f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/"),
	}
	if !f.Modified.IsZero() {
		mod := f.Modified
		e.Modified = &mod
	}

	clean, err := memberPath(f.Name)
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
	if f.Method != zip.Store && f.Method != zip.Deflate {
		e.Err = procerr.ForEntry(procerr.KindEntryRead, e.Path,
			fmt.Errorf("unsupported compression method %d", f.Method))
		return e, nil
	}
	if f.Flags&0x1 != 0 {
		e.Err = procerr.ForEntry(procerr.KindEntryRead, e.Path, errors.New("encrypted entry"))
		return e, nil
	}

	e.open = f.Open
	return e, nil
}

func (z *zipCursor) Close() error {
	z.once.Do(func() {
		z.close = z.rc.Close()
	})
	return z.close
}
