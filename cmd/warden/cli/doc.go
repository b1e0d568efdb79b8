// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command tree the warden operator binary is built
// from. A [Command] carries its own pflag set, help text and either a
// Run function or nested subcommands; [Command.Execute] dispatches on
// the first positional argument.
package cli
