// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/warden/cmd/warden/cli"
	"github.com/bureau-foundation/warden/lib/pagestore"
)

func snapshotCommand(env *environment) *cli.Command {
	var (
		flags       storeFlags
		outPath     string
		compression string
	)
	return &cli.Command{
		Name:    "snapshot",
		Summary: "Write a verified snapshot of the store",
		Description: `Write a verified snapshot of the store.

Non-zero pages are written compressed, followed by a BLAKE3 digest of
the whole stream. The file appears at --out only once it is complete.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("snapshot", pflag.ContinueOnError)
			flags.addFlags(flagSet)
			flagSet.StringVar(&outPath, "out", "", "snapshot file to write (required)")
			flagSet.StringVar(&compression, "compression", "", "zstd, lz4 or none (default: lifecycle.checkpoint_compression)")
			return flagSet
		},
		Examples: []cli.Example{
			{Description: "Snapshot before maintenance", Command: "warden snapshot --out /var/backups/unit.wdsn --compression lz4"},
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			if outPath == "" {
				return errors.New("--out is required")
			}

			s, err := env.open(&flags, false)
			if err != nil {
				return err
			}
			defer s.Close()

			if compression == "" {
				compression = s.config.Lifecycle.CheckpointCompression
			}
			tag, err := pagestore.ParseCompressionTag(compression)
			if err != nil {
				return fmt.Errorf("--compression: %w", err)
			}

			info, err := pagestore.WriteSnapshotFile(outPath, s.store, tag)
			if err != nil {
				return err
			}
			s.logger.Info("snapshot written", "path", outPath, "pages", info.Pages, "bytes", info.Bytes)
			printSnapshotInfo(env.stdout, outPath, info)
			return nil
		},
	}
}

func restoreCommand(env *environment) *cli.Command {
	var (
		flags  storeFlags
		inPath string
	)
	return &cli.Command{
		Name:    "restore",
		Summary: "Restore a snapshot into an empty store",
		Description: `Restore a snapshot into an empty store.

The whole snapshot is verified against its digest before any page is
written. The configured store must be empty.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("restore", pflag.ContinueOnError)
			flags.addFlags(flagSet)
			flagSet.StringVar(&inPath, "in", "", "snapshot file to read (required)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			if inPath == "" {
				return errors.New("--in is required")
			}
			file, err := os.Open(inPath)
			if err != nil {
				return err
			}
			defer file.Close()

			s, err := env.open(&flags, true)
			if err != nil {
				return err
			}
			defer s.Close()

			info, err := pagestore.RestoreSnapshot(file, s.store)
			if err != nil {
				return fmt.Errorf("restoring %s: %w", inPath, err)
			}
			if err := s.store.Sync(); err != nil {
				return fmt.Errorf("syncing restored store: %w", err)
			}
			s.logger.Info("snapshot restored", "path", inPath, "pages", info.Pages)
			printSnapshotInfo(env.stdout, inPath, info)
			return nil
		},
	}
}

func verifyCommand(env *environment) *cli.Command {
	var inPath string
	return &cli.Command{
		Name:    "verify",
		Summary: "Check a snapshot's digest without restoring it",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("verify", pflag.ContinueOnError)
			flagSet.StringVar(&inPath, "in", "", "snapshot file to read (required)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			if inPath == "" {
				return errors.New("--in is required")
			}
			file, err := os.Open(inPath)
			if err != nil {
				return err
			}
			defer file.Close()

			info, err := pagestore.VerifySnapshot(file)
			if err != nil {
				fmt.Fprintf(env.stdout, "%s: FAILED: %v\n", inPath, err)
				return &cli.ExitError{Code: 1}
			}
			printSnapshotInfo(env.stdout, inPath, info)
			return nil
		},
	}
}

func printSnapshotInfo(w io.Writer, path string, info pagestore.SnapshotInfo) {
	fmt.Fprintf(w, "%s: %d pages (%d stored), %s, %d bytes, blake3 %s\n",
		path, info.Pages, info.StoredPages, info.Compression, info.Bytes, info.Digest)
}
