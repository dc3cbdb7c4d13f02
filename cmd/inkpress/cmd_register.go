/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/friendsincode/inkpress/internal/catalog"
	"github.com/friendsincode/inkpress/internal/media"
	"github.com/friendsincode/inkpress/internal/models"
	"github.com/friendsincode/inkpress/internal/scan"
)

var (
	registerChapterID string
	importManifest    string
	importDryRun      bool
	importIncludeBad  bool
)

var registerCmd = &cobra.Command{
	Use:   "register <archive>...",
	Short: "Copy local archives into storage and queue them for processing",
	Long: `Copies each archive into archive storage and records it in the uploaded
state. A running "inkpress serve" picks the new files up on its next rescan.
Archives whose content hash is already registered are skipped.

Examples:
  inkpress register "Monster v01 c001.cbz" "Monster v01 c002.cbz"
  inkpress register chapter.cbr --chapter-id 0b6f...`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRegister,
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Register every processable archive from an archivescan manifest",
	Long: `Reads a JSON manifest produced by archivescan and registers each archive
that the scan could process. Matching is done by content_hash (SHA-256), so
archives already in the catalog are skipped and the command can be re-run.

Examples:
  inkpress import --manifest library.json --dry-run
  inkpress import --manifest library.json --include-failed`,
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(registerCmd, importCmd)

	registerCmd.Flags().StringVar(&registerChapterID, "chapter-id", "", "Chapter to attach the archives to")

	importCmd.Flags().StringVar(&importManifest, "manifest", "", "Path to archivescan JSON manifest (required)")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Show what would be registered without changes")
	importCmd.Flags().BoolVar(&importIncludeBad, "include-failed", false, "Also register archives the scan could not process")
	_ = importCmd.MarkFlagRequired("manifest")
}

type registrar struct {
	store   *catalog.Store
	storage *media.Service
}

func newRegistrar() (*registrar, func(), error) {
	store, closeDB, err := openCatalog()
	if err != nil {
		return nil, nil, err
	}
	storage, err := media.NewService(cfg, logger)
	if err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("init media storage: %w", err)
	}
	return &registrar{store: store, storage: storage}, closeDB, nil
}

// register stores one archive. It returns the existing record and false when
// the content hash is already known.
func (r *registrar) register(ctx context.Context, path, hash string, chapterID *string) (*models.UploadedFile, bool, error) {
	if existing, err := r.store.FindByHash(ctx, hash); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, models.ErrFileNotFound) {
		return nil, false, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, false, err
	}

	id := uuid.NewString()
	key, err := r.storage.StoreArchive(ctx, id, f, info.Size())
	if err != nil {
		return nil, false, fmt.Errorf("store archive: %w", err)
	}
	file, err := r.store.Register(ctx, catalog.Registration{
		ID:               id,
		OriginalFilename: filepath.Base(path),
		SizeBytes:        info.Size(),
		StorageKey:       key,
		ContentHash:      hash,
		ChapterID:        chapterID,
	})
	if err != nil {
		_ = r.storage.DeleteFile(ctx, id)
		return nil, false, err
	}
	return file, true, nil
}

func runRegister(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	r, closeDB, err := newRegistrar()
	if err != nil {
		return err
	}
	defer closeDB()

	var chapterID *string
	if registerChapterID != "" {
		chapterID = &registerChapterID
	}

	ctx := cmd.Context()
	failed := 0
	for _, path := range args {
		if !scan.IsArchive(path) {
			fmt.Fprintf(os.Stderr, "  skip %s: not a .cbz/.cbr archive\n", path)
			failed++
			continue
		}
		hash, err := scan.HashFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  error hashing %s: %v\n", path, err)
			failed++
			continue
		}
		file, created, err := r.register(ctx, path, hash, chapterID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  error registering %s: %v\n", path, err)
			failed++
			continue
		}
		if !created {
			fmt.Printf("  %s: already registered as %s (%s)\n", path, file.ID, file.Status)
			continue
		}
		fmt.Printf("  %s: registered as %s\n", path, file.ID)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d archives failed", failed, len(args))
	}
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	manifest, err := scan.ReadManifest(importManifest)
	if err != nil {
		return err
	}
	fmt.Printf("Loaded manifest: %d archives (scanned %s)\n", len(manifest.Files), manifest.ScannedAt.Format("2006-01-02 15:04"))

	r, closeDB, err := newRegistrar()
	if err != nil {
		return err
	}
	defer closeDB()

	ctx := cmd.Context()
	var registered, duplicates, unprocessable, errCount int
	for _, entry := range manifest.Files {
		if !entry.OK() && !importIncludeBad {
			unprocessable++
			continue
		}
		if entry.ContentHash == "" {
			errCount++
			continue
		}

		if importDryRun {
			if existing, err := r.store.FindByHash(ctx, entry.ContentHash); err == nil {
				fmt.Printf("  [dry-run] %s: duplicate of %s\n", entry.RelativePath, existing.ID)
				duplicates++
				continue
			}
			fmt.Printf("  [dry-run] %s: would register (%d pages)\n", entry.RelativePath, entry.Pages)
			registered++
			continue
		}

		current, err := scan.HashFile(entry.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  error reading %s: %v\n", entry.Path, err)
			errCount++
			continue
		}
		if current != entry.ContentHash {
			fmt.Fprintf(os.Stderr, "  %s changed since the scan, skipping\n", entry.Path)
			errCount++
			continue
		}

		_, created, err := r.register(ctx, entry.Path, entry.ContentHash, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  error registering %s: %v\n", entry.Path, err)
			errCount++
			continue
		}
		if created {
			registered++
		} else {
			duplicates++
		}
	}

	fmt.Printf("\nImport %s:\n", modeLabel(importDryRun))
	fmt.Printf("  Registered:       %d\n", registered)
	fmt.Printf("  Already present:  %d\n", duplicates)
	fmt.Printf("  Unprocessable:    %d\n", unprocessable)
	fmt.Printf("  Errors:           %d\n", errCount)
	return nil
}

func modeLabel(dryRun bool) string {
	if dryRun {
		return "complete (dry run)"
	}
	return "complete"
}
