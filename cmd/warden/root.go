// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import "github.com/bureau-foundation/warden/cmd/warden/cli"

func root(env *environment) *cli.Command {
	return &cli.Command{
		Name: "warden",
		Description: `Warden operator tool.

Lays out and upgrades governed stores, reports their persisted
ownership, roles, pause flag and version history, and moves stores
between hosts as BLAKE3-verified snapshots.`,
		HelpOutput: env.stderr,
		Subcommands: []*cli.Command{
			initCommand(env),
			upgradeCommand(env),
			inspectCommand(env),
			dumpCommand(env),
			snapshotCommand(env),
			restoreCommand(env),
			verifyCommand(env),
		},
	}
}
