package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/inkpress/internal/procerr"
)

func writeZip(t *testing.T, dir string, files map[string][]byte, order []string) string {
	t.Helper()

	target := filepath.Join(dir, "chapter.cbz")
	f, err := os.Create(target)
	if err != nil {
		t.Fatalf("create zip: %v", err)
	}
	zw := zip.NewWriter(f)
	for _, name := range order {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create entry %s: %v", name, err)
		}
		if _, err := w.Write(files[name]); err != nil {
			t.Fatalf("write entry %s: %v", name, err)
		}
	}
	if err := zw.SetComment("Series: Test"); err != nil {
		t.Fatalf("set comment: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return target
}

func TestSniff(t *testing.T) {
	tests := []struct {
		name    string
		header  []byte
		want    Format
		wantErr procerr.Kind
	}{
		{"zip", []byte("PK\x03\x04rest"), FormatZIP, ""},
		{"empty zip", []byte("PK\x05\x06"), FormatZIP, ""},
		{"rar4", []byte("Rar!\x1A\x07\x00"), FormatRAR, ""},
		{"rar5", []byte("Rar!\x1A\x07\x01\x00"), FormatRAR, ""},
		{"pdf", []byte("%PDF-1.7"), FormatUnknown, procerr.KindUnsupportedFormat},
		{"empty", nil, FormatUnknown, procerr.KindUnsupportedFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Sniff(bytes.NewReader(tt.header))
			if procerr.KindOf(err) != tt.wantErr {
				t.Fatalf("Sniff() error = %v, want kind %q", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Sniff() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{
		"cbz": FormatZIP, ".ZIP": FormatZIP, "cbr": FormatRAR, "rar": FormatRAR, "7z": FormatUnknown,
	}
	for in, want := range cases {
		if got := ParseFormat(in); got != want {
			t.Errorf("ParseFormat(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestZipCursorYieldsEntriesInArchiveOrder(t *testing.T) {
	dir := t.TempDir()
	files := map[string][]byte{
		"vol/":           nil,
		"vol/page10.jpg": []byte("ten"),
		"vol/page2.jpg":  []byte("two"),
		"../escape.jpg":  []byte("nope"),
		"vol/notes.txt":  []byte("hello"),
	}
	order := []string{"vol/", "vol/page10.jpg", "vol/page2.jpg", "../escape.jpg", "vol/notes.txt"}
	archivePath := writeZip(t, dir, files, order)

	cur, err := Open(archivePath, FormatZIP, Options{ScratchDir: dir, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer cur.Close()

	if cur.Format() != FormatZIP {
		t.Fatalf("format = %q", cur.Format())
	}
	if cur.Comment() != "Series: Test" {
		t.Fatalf("comment = %q", cur.Comment())
	}

	var got []*Entry
	for {
		e, err := cur.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		got = append(got, e)
	}
	if len(got) != len(order) {
		t.Fatalf("got %d entries, want %d", len(got), len(order))
	}

	if !got[0].IsDir {
		t.Error("expected first entry to be a directory")
	}
	if got[1].Name != "page10.jpg" || got[1].Path != "vol/page10.jpg" {
		t.Errorf("unexpected entry %+v", got[1])
	}
	if procerr.KindOf(got[3].Err) != procerr.KindEntryRead {
		t.Errorf("expected traversal entry to carry an entry read error, got %v", got[3].Err)
	}

	rc, err := got[2].Open()
	if err != nil {
		t.Fatalf("open entry: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "two" {
		t.Errorf("entry bytes = %q", data)
	}

	if err := cur.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := cur.Close(); err != nil {
		t.Fatalf("second close should be a no-op: %v", err)
	}
}

func TestOpenRejectsUnknownContainer(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "chapter.cbz")
	if err := os.WriteFile(p, []byte("%PDF-1.4 not an archive"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Open(p, FormatZIP, Options{ScratchDir: dir, Logger: zerolog.Nop()})
	if !errors.Is(err, procerr.ErrUnsupportedFormat) {
		t.Fatalf("expected unsupported format, got %v", err)
	}
}

func TestOpenReportsCorruptZip(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "broken.cbz")
	if err := os.WriteFile(p, append([]byte("PK\x03\x04"), bytes.Repeat([]byte{0xAB}, 64)...), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Open(p, FormatZIP, Options{ScratchDir: dir, Logger: zerolog.Nop()})
	if !errors.Is(err, procerr.ErrCorruptArchive) {
		t.Fatalf("expected corrupt archive, got %v", err)
	}
}

func TestMemberPath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"a/b/c.jpg", "a/b/c.jpg", false},
		{"a\\b\\c.jpg", "a/b/c.jpg", false},
		{"./x.png", "x.png", false},
		{"../outside.txt", "", true},
		{"/etc/passwd", "", true},
		{"a/../../b", "", true},
	}
	for _, tt := range tests {
		got, err := memberPath(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("memberPath(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("memberPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
