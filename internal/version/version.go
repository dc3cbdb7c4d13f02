/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version holds build information.
package version

import "fmt"

// Set at build time via ldflags:
//
//	-X github.com/friendsincode/inkpress/internal/version.Version=X.Y.Z
//	-X github.com/friendsincode/inkpress/internal/version.Commit=abc123
var (
	Version = "0.1.0-dev"
	Commit  = "unknown"
)

// String returns the version and commit for logs and CLI output.
func String() string {
	return fmt.Sprintf("inkpress %s (%s)", Version, Commit)
}
