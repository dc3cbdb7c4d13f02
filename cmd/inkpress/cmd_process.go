/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/friendsincode/inkpress/internal/archive"
	"github.com/friendsincode/inkpress/internal/processor"
)

var (
	processOutDir string
	processSizes  []int
	processJSON   bool
)

var processCmd = &cobra.Command{
	Use:   "process <archive>",
	Short: "Process a local archive once and print the result",
	Long: `Runs the full page pipeline against a local .cbz/.cbr file without touching
the database or archive storage. Thumbnails are written under --out.

Examples:
  inkpress process "Monster v01 c003.cbz"
  inkpress process chapter.cbr --out ./thumbs --sizes 256,1024 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().StringVar(&processOutDir, "out", "", "Thumbnail output directory (default: no thumbnails)")
	processCmd.Flags().IntSliceVar(&processSizes, "sizes", nil, "Thumbnail sizes (default: configured sizes)")
	processCmd.Flags().BoolVar(&processJSON, "json", false, "Print JSON instead of YAML")
}

func runProcess(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	path := args[0]

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if cfg.AttemptTimeout > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, cfg.AttemptTimeout)
		defer timeoutCancel()
	}

	scratch, err := os.MkdirTemp(cfg.ScratchRoot, "process-*")
	if err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	pctx := processor.Context{
		ScratchDir: scratch,
		Extensions: cfg.AcceptedExtensions,
	}
	if processOutDir != "" {
		if err := os.MkdirAll(processOutDir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
		pctx.ThumbnailDir = processOutDir
		pctx.ThumbnailSizes = cfg.ThumbnailSizes
		if len(processSizes) > 0 {
			pctx.ThumbnailSizes = processSizes
		}
	}

	proc := processor.New(processor.Config{
		CorruptRatio:         cfg.CorruptRatio,
		CoverMarkers:         cfg.CoverMarkers,
		ThumbnailQuality:     cfg.ThumbnailQuality,
		ThumbnailConcurrency: cfg.ThumbnailConcurrency,
		MaxEntrySize:         cfg.MaxEntrySizeBytes(),
	}, logger)

	result, err := proc.Process(ctx, processor.Input{
		FileID:   "local",
		Filename: filepath.Base(path),
		Format:   archive.ParseFormat(filepath.Ext(path)),
		Path:     path,
	}, pctx)
	if err != nil {
		return fmt.Errorf("process %s: %w", path, err)
	}

	if processJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(result)
}
