// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
)

// These variables are set via -ldflags at build time.
var (
	// GitCommit is the short git SHA of the build.
	GitCommit = "unknown"

	// GitDirty indicates whether there were uncommitted changes.
	GitDirty = "false"

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"

	// Version is the semantic version. This is set manually for releases.
	Version = "0.1.0-dev"
)

// Info returns a formatted version string suitable for --version output.
func Info() string {
	dirty := ""
	if GitDirty == "true" {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", Version, GitCommit, dirty, BuildTime)
}

// Full returns detailed version information including Go version.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Print writes "<binary> <Info()>" to stdout.
func Print(binary string) {
	fmt.Printf("%s %s\n", binary, Info())
}

// Semantic is a major.minor.patch version.
type Semantic struct {
	Major uint32 `cbor:"major"`
	Minor uint32 `cbor:"minor"`
	Patch uint32 `cbor:"patch"`
}

// String returns "major.minor.patch".
func (s Semantic) String() string {
	return fmt.Sprintf("%d.%d.%d", s.Major, s.Minor, s.Patch)
}

// Compare orders versions lexicographically by (major, minor, patch).
func (s Semantic) Compare(other Semantic) int {
	switch {
	case s.Major != other.Major:
		return compareUint(s.Major, other.Major)
	case s.Minor != other.Minor:
		return compareUint(s.Minor, other.Minor)
	default:
		return compareUint(s.Patch, other.Patch)
	}
}

func compareUint(a, b uint32) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// Parse parses "major.minor.patch", with an optional leading "v". Any
// pre-release or build suffix ("-dev", "+meta") is rejected: such
// versions do not identify shipped code.
func Parse(text string) (Semantic, error) {
	trimmed := strings.TrimPrefix(text, "v")
	parts := strings.Split(trimmed, ".")
	if len(parts) != 3 {
		return Semantic{}, fmt.Errorf("version %q: want major.minor.patch", text)
	}
	var numbers [3]uint32
	for i, part := range parts {
		value, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return Semantic{}, fmt.Errorf("version %q: component %d: %w", text, i, err)
		}
		numbers[i] = uint32(value)
	}
	return Semantic{Major: numbers[0], Minor: numbers[1], Patch: numbers[2]}, nil
}

// Compiled returns the parsed Version and true, or false when Version
// is a development or otherwise unparseable build.
func Compiled() (Semantic, bool) {
	parsed, err := Parse(Version)
	if err != nil {
		return Semantic{}, false
	}
	return parsed, true
}
