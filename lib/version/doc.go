// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information and the semantic
// version type used by the lifecycle manager.
//
// # Build information
//
// Four package-level variables are injected at build time via
// -ldflags -X:
//
//   - [GitCommit] -- short git SHA of the build
//   - [GitDirty] -- "true" if there were uncommitted changes
//   - [BuildTime] -- UTC timestamp of the build
//   - [Version] -- semantic version of the compiled unit code
//
// # Compiled version
//
// [Compiled] parses [Version] into a [Semantic]. A unit passes it to
// the lifecycle manager so that an upgrade whose bump kind disagrees
// with the shipped code version is rejected before migration runs.
// Development builds ("0.1.0-dev") carry a pre-release suffix and are
// reported as not comparable, which disables that check.
package version
