// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for Warden hosts
// and the warden operator CLI.
//
// Configuration is loaded from a single file specified by either the
// WARDEN_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks and no automatic file
// search. Environment variables never override values from the file.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${WARDEN_ROOT}, and ${VAR:-default} patterns are expanded.
//
// The layout section carries the user page boundary. Once a store has
// been formatted with a given user_page_end the value is fixed for the
// life of that store; the allocator rejects any later change.
//
// Key exports:
//
//   - [Config] -- master struct with Store, Layout, Lifecycle, Log
//   - [Default] -- returns a Config with defaults applied
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// This package depends on no other Warden packages.
package config
