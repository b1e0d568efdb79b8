// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package executor runs a unit's calls one at a time.
//
// An [Executor] has a single execution slot. [Executor.Run] waits for
// the slot, runs a task to completion, and frees the slot. A running
// task gives the slot up only at an explicit suspension point,
// [Task.Await], which lets other tasks run while the awaited work is
// outstanding and then waits for the slot again before resuming.
//
// This is the cooperative run-to-completion model: code between two
// suspension points never interleaves with another task, but state a
// task observed before Await may have been changed by other tasks
// when Await returns. Locks that must span a suspension, such as a
// reentrancy group, are held by the task across it.
package executor
