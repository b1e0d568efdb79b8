// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package lifecycle tracks a unit's version across in-place code
// replacement and orchestrates the init and upgrade transitions.
//
// A [VersionRecord] holds the semantic version (major, minor, patch),
// the stable layout version, the time of the last upgrade and the
// number of upgrades. It lives in the lifecycle cell and only moves
// forward: a patch bump increments patch, a minor bump increments minor
// and resets patch, a major bump increments major and resets both.
//
// [Manager.OnInit] seeds the record on the first start of a unit.
// [Manager.OnUpgrade] runs once per code replacement: it applies the
// bump, checks the result against the layout version compiled into the
// running code, optionally writes a checkpoint snapshot of the store,
// and runs the migration callback exactly once when the stable layout
// changed. The record is only written after migration succeeds, so a
// failed upgrade leaves the stored version exactly as it was.
//
// Every successful upgrade appends a [HistoryEntry] to the upgrade
// history held in a framework region.
package lifecycle
