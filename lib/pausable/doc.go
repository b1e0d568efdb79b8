// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pausable holds a unit's global pause switch.
//
// The pause flag is persisted in the flags cell and survives upgrades.
// Only the owner or an admin may change it, and it never changes on
// its own. Entrypoints guarded by [State.WhenNotPaused] are rejected
// with [ErrPaused] while the flag is set; entrypoints guarded by
// [State.WhenPaused] (typically recovery operations) are rejected with
// [ErrNotPaused] while it is clear.
package pausable
