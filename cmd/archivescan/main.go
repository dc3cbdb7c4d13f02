/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/inkpress/internal/logging"
	"github.com/friendsincode/inkpress/internal/processor"
	"github.com/friendsincode/inkpress/internal/scan"
)

var (
	dirs       []string
	outputFile string
	workers    int
	extensions []string
	scratchDir string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "archivescan",
	Short: "Scan comic archive directories and produce a JSON manifest",
	Long: `archivescan walks directories of .cbz/.cbr archives, hashes each one and
runs it through the page pipeline without writing thumbnails. The manifest
records page counts, the detected cover, filename metadata and the failure
kind for archives that would not process. "inkpress import" consumes it.

Examples:
  archivescan --dir /srv/library -o manifest.json
  archivescan --dir '/srv/library/*/incoming' --ext .jpg --ext .png
  archivescan --dir /path/to/comics  # output to stdout`,
	RunE: runScan,
}

func init() {
	rootCmd.Flags().StringArrayVar(&dirs, "dir", nil, "Directory to scan (required, repeatable, globs allowed)")
	rootCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	rootCmd.Flags().IntVarP(&workers, "workers", "w", 4, "Parallel archive workers")
	rootCmd.Flags().StringSliceVar(&extensions, "ext", nil, "Accepted page extensions (default: built-in image set)")
	rootCmd.Flags().StringVar(&scratchDir, "scratch", "", "Scratch directory for extracted members (default: system temp)")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log per-archive failures")
	_ = rootCmd.MarkFlagRequired("dir")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runScan(cmd *cobra.Command, args []string) error {
	logger := logging.SetupWithWriter("development", os.Stderr).Level(zerolog.WarnLevel)
	if verbose {
		logger = logger.Level(zerolog.DebugLevel)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	s := &scan.Scanner{
		Dirs:       dirs,
		Workers:    workers,
		Extensions: extensions,
		ScratchDir: scratchDir,
		Processor:  processor.New(processor.Config{}, logger),
		Logger:     logger,
	}

	fmt.Fprintf(os.Stderr, "Scanning %d director(y/ies) with %d workers...\n", len(dirs), max(workers, 1))

	manifest, err := s.Scan(ctx)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Scan complete: %d archives, %d pages, %d would fail, %d walk errors, %.1fs\n",
		manifest.Stats.TotalFiles, manifest.Stats.TotalPages, manifest.Stats.Failed,
		manifest.Stats.Errors, manifest.Stats.DurationSeconds)

	out := os.Stdout
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	if err := scan.WriteManifest(out, manifest); err != nil {
		return err
	}
	if outputFile != "" {
		fmt.Fprintf(os.Stderr, "Manifest written to %s\n", outputFile)
	}
	return nil
}
