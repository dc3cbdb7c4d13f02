package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/inkpress/internal/config"
	"github.com/friendsincode/inkpress/internal/thumbnail"
)

func TestNewService(t *testing.T) {
	logger := zerolog.Nop()

	tests := []struct {
		name                string
		bucket              string
		expectedStorageType string
	}{
		{
			name:                "filesystem storage when no bucket",
			expectedStorageType: "filesystem",
		},
		{
			name:                "s3 storage when bucket configured",
			bucket:              "archives",
			expectedStorageType: "s3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{
				StorageRoot:       t.TempDir(),
				S3Bucket:          tt.bucket,
				S3Region:          "eu-west-1",
				S3Endpoint:        "http://localhost:9000",
				S3AccessKeyID:     "minio",
				S3SecretAccessKey: "minio123",
				S3UsePathStyle:    true,
			}

			svc, err := NewService(cfg, logger)
			if err != nil {
				t.Fatalf("NewService() error = %v", err)
			}

			switch tt.expectedStorageType {
			case "filesystem":
				if _, ok := svc.storage.(*FilesystemStorage); !ok {
					t.Errorf("NewService() storage type = %T, want *FilesystemStorage", svc.storage)
				}
			case "s3":
				if _, ok := svc.storage.(*S3Storage); !ok {
					t.Errorf("NewService() storage type = %T, want *S3Storage", svc.storage)
				}
			}
		})
	}
}

func TestStorageKeys(t *testing.T) {
	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"archive", ArchiveKey("abcd1234"), "archives/ab/cd/abcd1234"},
		{"short archive id", ArchiveKey("abc"), "archives/_/abc"},
		{"page thumbnail", ThumbnailKey("abcd1234", 3, 256), "thumbnails/ab/cd/abcd1234/page-0003-256.jpg"},
		{"cover thumbnail", ThumbnailKey("abcd1234", thumbnail.CoverIndex, 512), "thumbnails/ab/cd/abcd1234/cover-512.jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("got %q, want %q", tt.got, tt.expected)
			}
		})
	}
}

func TestFilesystemRoundTrip(t *testing.T) {
	root := t.TempDir()
	svc := NewServiceWithStorage(NewFilesystemStorage(root, zerolog.Nop()), 1, zerolog.Nop())
	ctx := context.Background()

	key, err := svc.StoreArchive(ctx, "abcd1234", strings.NewReader("cbz bytes"), 9)
	if err != nil {
		t.Fatalf("StoreArchive() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(key))); err != nil {
		t.Fatalf("stored archive missing: %v", err)
	}

	rc, err := svc.OpenForRead(ctx, "abcd1234")
	if err != nil {
		t.Fatalf("OpenForRead() error = %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "cbz bytes" {
		t.Fatalf("read %q", data)
	}

	local := filepath.Join(t.TempDir(), "thumb.jpg")
	if err := os.WriteFile(local, []byte("jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}
	loc, err := svc.WriteThumbnail(ctx, "abcd1234", 0, 128, local)
	if err != nil {
		t.Fatalf("WriteThumbnail() error = %v", err)
	}
	if loc != ThumbnailKey("abcd1234", 0, 128) {
		t.Fatalf("location = %q", loc)
	}

	if err := svc.DeleteFile(ctx, "abcd1234"); err != nil {
		t.Fatalf("DeleteFile() error = %v", err)
	}
	if _, err := svc.OpenForRead(ctx, "abcd1234"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

type flakyStorage struct {
	Storage
	failures int
	opens    int
}

func (f *flakyStorage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	f.opens++
	if f.opens <= f.failures {
		return nil, errors.New("connection reset")
	}
	return io.NopCloser(bytes.NewReader([]byte("ok"))), nil
}

func TestOpenForReadRetriesTransientErrors(t *testing.T) {
	backend := &flakyStorage{failures: 2}
	svc := NewServiceWithStorage(backend, 3, zerolog.Nop())
	svc.readDelay = time.Millisecond

	rc, err := svc.OpenForRead(context.Background(), "abcd1234")
	if err != nil {
		t.Fatalf("OpenForRead() error = %v", err)
	}
	rc.Close()
	if backend.opens != 3 {
		t.Fatalf("opens = %d, want 3", backend.opens)
	}
}

func TestOpenForReadDoesNotRetryMissing(t *testing.T) {
	backend := NewFilesystemStorage(t.TempDir(), zerolog.Nop())
	counting := &countingStorage{Storage: backend}
	svc := NewServiceWithStorage(counting, 5, zerolog.Nop())
	svc.readDelay = time.Millisecond

	if _, err := svc.OpenForRead(context.Background(), "missing1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if counting.opens != 1 {
		t.Fatalf("opens = %d, want 1", counting.opens)
	}
}

type countingStorage struct {
	Storage
	opens int
}

func (c *countingStorage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	c.opens++
	return c.Storage.Open(ctx, key)
}

func TestS3URL(t *testing.T) {
	tests := []struct {
		name string
		cfg  S3Config
		want string
	}{
		{"public base", S3Config{Bucket: "b", PublicBaseURL: "https://cdn.example.com/"}, "https://cdn.example.com/k/x.jpg"},
		{"custom endpoint", S3Config{Bucket: "b", Endpoint: "http://minio:9000"}, "http://minio:9000/b/k/x.jpg"},
		{"aws", S3Config{Bucket: "b", Region: "eu-west-1"}, "https://b.s3.eu-west-1.amazonaws.com/k/x.jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &S3Storage{cfg: tt.cfg}
			if got := s.URL("k/x.jpg"); got != tt.want {
				t.Errorf("URL() = %q, want %q", got, tt.want)
			}
		})
	}
}
