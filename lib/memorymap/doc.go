// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package memorymap owns the layout of a unit's paged store.
//
// The store is divided into three areas:
//
//   - a reserved prefix of framework pages, starting at page 0, that
//     holds fixed-position records ("cells") for the layout header,
//     pause flag, version record, access control state and the
//     dynamic-region table;
//   - the user page range, [reservedPrefix, userPageEnd), handed to
//     application code as an opaque byte range;
//   - dynamic regions: contiguous page ranges allocated above
//     userPageEnd and identified by a small integer.
//
// Region ids are split into two disjoint ranges. Ids below
// [UserRegionLimit] belong to the application; ids in
// [UserRegionLimit, RegionLimit) are reserved for framework components.
//
// The layout is written once by [Allocator.Format] at first init and
// re-validated by [Allocator.Attach] on every upgrade. The boundaries
// recorded at format time are permanent: a reserved prefix or user page
// end that differs from the stored one is a [ConfigurationError].
// Layout changes are only accepted while the lifecycle window is open
// (see [Allocator.OpenWindow]); outside it they fail with
// [ErrLayoutSealed].
//
// Cells and regions store a single CBOR record each, framed by a small
// header carrying a magic number, the record kind, the payload length
// and a truncated BLAKE3 digest of the payload. An all-zero frame reads
// as absent. Any other framing mismatch means the store is corrupt or
// belongs to something else, and is reported as a ConfigurationError.
package memorymap
