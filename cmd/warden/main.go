// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// warden is the operator tool for stores governed by a Warden unit. It
// lays out and upgrades stores, reports their persisted governance
// state, and moves them between hosts as verified snapshots.
//
// Every subcommand that touches a store reads the store location from
// the config file named by --config or WARDEN_CONFIG. The verify
// subcommand only reads the snapshot file and needs no config.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/bureau-foundation/warden/lib/process"
	"github.com/bureau-foundation/warden/lib/version"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		process.Fatal(err)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	// Handle --version before dispatch to match other Warden binaries.
	if len(args) > 0 && args[0] == "--version" {
		fmt.Fprintf(stdout, "warden %s\n", version.Info())
		return nil
	}
	return root(&environment{stdout: stdout, stderr: stderr}).Execute(args)
}
