// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for Warden packages.
//
// [RequireReceive], [RequireSend], [RequireClosed], and [RequireQuiet]
// encapsulate the timeout safety valve pattern (select with time.After
// fallback) used when tests coordinate suspended executor tasks. These
// are the only place in the test suite where real wall-clock timeouts
// are used.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no Warden-internal dependencies.
package testutil
