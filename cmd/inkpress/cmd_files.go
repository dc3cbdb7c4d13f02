/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var statusPages bool

var statusCmd = &cobra.Command{
	Use:   "status <file-id>",
	Short: "Show the catalog record of an uploaded file",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var retryCmd = &cobra.Command{
	Use:   "retry <file-id>...",
	Short: "Give failed files one more processing attempt",
	Long: `Moves files in the error state back to uploaded. The attempt count is
kept, so each retry grants a single further attempt. A running "inkpress serve"
picks them up on its next rescan.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRetry,
}

func init() {
	rootCmd.AddCommand(statusCmd, retryCmd)
	statusCmd.Flags().BoolVar(&statusPages, "pages", false, "Include pages and thumbnails")
}

func runStatus(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	store, closeDB, err := openCatalog()
	if err != nil {
		return err
	}
	defer closeDB()

	ctx := cmd.Context()
	file, err := store.GetFile(ctx, args[0])
	if statusPages && err == nil {
		file, err = store.GetResult(ctx, args[0])
	}
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(file)
}

func runRetry(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	store, closeDB, err := openCatalog()
	if err != nil {
		return err
	}
	defer closeDB()

	failed := 0
	for _, id := range args {
		if err := store.Requeue(cmd.Context(), id); err != nil {
			fmt.Fprintf(os.Stderr, "  %s: %v\n", id, err)
			failed++
			continue
		}
		fmt.Printf("  %s: requeued\n", id)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files could not be requeued", failed, len(args))
	}
	return nil
}
