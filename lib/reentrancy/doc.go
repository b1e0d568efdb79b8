// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package reentrancy prevents overlapping execution of entrypoints that
// share a lock group.
//
// A [Guard] tracks which groups are currently held. [Guard.Enter]
// takes a group's lock or fails with [ReentrantCallError] if the group
// is already held, whether by the same logical call tree (a callback
// that re-enters the unit) or by another task that suspended while
// holding it. Groups are independent: holding "treasury" does not
// block "registry".
//
// Locks are transient. They are never persisted and are all released
// when the process exits, so an upgrade always starts with every group
// idle.
package reentrancy
