// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pagestore provides the byte-addressable paged store that a
// Warden unit lays out its persistent memory in.
//
// A [Store] is a growable array of fixed-size pages ([PageSize] bytes
// each) addressed by byte offset through io.ReaderAt and io.WriterAt.
// Pages that have never been written read as zeros. A store only grows;
// there is no shrink operation, which keeps every previously handed
// out offset valid for the life of the store.
//
// Four backends implement the interface:
//
//   - [MemoryStore] keeps pages in a single byte slice. State does not
//     survive the process; used by tests and ephemeral hosts.
//   - [FileStore] keeps pages in a flat file. Reads go through a
//     shared read-only memory map, writes through pwrite.
//   - [SQLiteStore] keeps non-zero pages as rows in a SQLite table
//     using zombiezen.com/go/sqlite, one immediate transaction per
//     write.
//   - [PebbleStore] keeps non-zero pages as keys in a Pebble LSM,
//     one synced batch per write.
//
// The SQLite and Pebble backends are sparse: a page that becomes all
// zeros is deleted rather than stored. Every WriteAt on those backends
// is atomic across the pages it touches.
//
// [WriteSnapshot] serializes a store into a compressed, BLAKE3-verified
// stream; [RestoreSnapshot] loads one into an empty store after
// verifying it, and [VerifySnapshot] checks one without writing
// anywhere. Snapshots are what lifecycle checkpoints and the warden
// CLI's snapshot and restore commands produce and consume.
package pagestore
