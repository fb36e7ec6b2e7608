// SPDX-License-Identifier: MIT

// Package version carries build metadata set through -ldflags.
package version

import "fmt"

var (
	// Version is the release tag, e.g. "v1.2.0".
	Version = "dev"

	// Commit is the git short hash of the build.
	Commit = "unknown"

	// Date is the build timestamp.
	Date = "unknown"
)

// String renders the metadata for -version output and User-Agent headers.
func String() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date)
}
