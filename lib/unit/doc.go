// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package unit ties the governance components of one persistent
// execution unit together for a process lifetime.
//
// A host creates a [Unit] over its paged store and calls exactly one of
// [Unit.Init] (first deployment) or [Unit.PostUpgrade] (every later
// start, after the code was replaced) before anything else. Init lays
// out the store and seeds the version record; PostUpgrade reattaches to
// the stored layout, validates it against the configured boundaries,
// and runs the lifecycle upgrade including migration. Until one of them
// succeeds every call fails with [ErrNotReady].
//
// Entrypoints are registered with a handler and a list of guard names
// (see package guard). [Unit.Call] runs an external call as a task on
// the unit's single-slot executor; a handler may call other
// entrypoints with [Call.Invoke], which applies the same guards without
// taking a new execution slot, and may suspend with [Call.Await].
package unit
