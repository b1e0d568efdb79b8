// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"fmt"
	"time"

	"github.com/bureau-foundation/warden/lib/version"
)

// Bump selects which semantic version component an upgrade increments.
type Bump uint8

const (
	BumpPatch Bump = iota
	BumpMinor
	BumpMajor
)

func (b Bump) String() string {
	switch b {
	case BumpPatch:
		return "patch"
	case BumpMinor:
		return "minor"
	case BumpMajor:
		return "major"
	default:
		return fmt.Sprintf("bump(%d)", uint8(b))
	}
}

// ParseBump parses "patch", "minor" or "major".
func ParseBump(text string) (Bump, error) {
	switch text {
	case "patch":
		return BumpPatch, nil
	case "minor":
		return BumpMinor, nil
	case "major":
		return BumpMajor, nil
	default:
		return 0, fmt.Errorf("unknown version bump %q (expected patch, minor or major)", text)
	}
}

// VersionRecord is the persisted version of a unit.
type VersionRecord struct {
	Major               uint32 `cbor:"major"`
	Minor               uint32 `cbor:"minor"`
	Patch               uint32 `cbor:"patch"`
	StableLayoutVersion uint32 `cbor:"layout_version"`

	// LastUpgraded is nanoseconds since the Unix epoch.
	LastUpgraded int64  `cbor:"last_upgraded"`
	UpgradeCount uint64 `cbor:"upgrade_count"`
}

// Semantic returns the semantic version part of the record.
func (r VersionRecord) Semantic() version.Semantic {
	return version.Semantic{Major: r.Major, Minor: r.Minor, Patch: r.Patch}
}

// LastUpgradedTime returns LastUpgraded as a time.Time in UTC.
func (r VersionRecord) LastUpgradedTime() time.Time {
	return time.Unix(0, r.LastUpgraded).UTC()
}

// String renders "v1.2.3,mem_v4,<unix-seconds>.<nanoseconds>".
func (r VersionRecord) String() string {
	return fmt.Sprintf("v%d.%d.%d,mem_v%d,%d.%d",
		r.Major, r.Minor, r.Patch,
		r.StableLayoutVersion,
		r.LastUpgraded/int64(time.Second),
		r.LastUpgraded%int64(time.Second),
	)
}

// bumped returns the record after applying bump and, if layoutChanged,
// advancing the stable layout version. Timestamp and count are left to
// the caller.
func (r VersionRecord) bumped(bump Bump, layoutChanged bool) (VersionRecord, error) {
	next := r
	switch bump {
	case BumpPatch:
		next.Patch++
	case BumpMinor:
		next.Minor++
		next.Patch = 0
	case BumpMajor:
		next.Major++
		next.Minor = 0
		next.Patch = 0
	default:
		return VersionRecord{}, fmt.Errorf("lifecycle: %s is not a valid version bump", bump)
	}
	if layoutChanged {
		next.StableLayoutVersion++
	}
	if next.Semantic().Compare(r.Semantic()) <= 0 || next.StableLayoutVersion < r.StableLayoutVersion {
		return VersionRecord{}, fmt.Errorf("lifecycle: %s bump of %s overflows", bump, r.Semantic())
	}
	return next, nil
}
