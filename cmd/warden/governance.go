// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/warden/cmd/warden/cli"
	"github.com/bureau-foundation/warden/lib/lifecycle"
	"github.com/bureau-foundation/warden/lib/principal"
	"github.com/bureau-foundation/warden/lib/unit"
	"github.com/bureau-foundation/warden/lib/version"
)

func initCommand(env *environment) *cli.Command {
	var (
		flags   storeFlags
		owner   string
		release string
	)
	return &cli.Command{
		Name:    "init",
		Summary: "Lay out a fresh store and seed its governance state",
		Description: `Lay out a fresh store and seed its governance state.

Writes the layout header with the configured reserved prefix and user
page boundary, seeds the version record at the configured stable
layout version, and allocates the framework regions. The user page
boundary is fixed from here on. With --owner, the principal becomes
the initial owner; otherwise ownership stays unset.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("init", pflag.ContinueOnError)
			flags.addFlags(flagSet)
			flagSet.StringVar(&owner, "owner", "", "principal to install as the initial owner")
			flagSet.StringVar(&release, "release", "", "semantic version to seed (default 0.0.0)")
			return flagSet
		},
		Examples: []cli.Example{
			{Description: "Initialize with an owner", Command: "warden init --owner aaaab-qaaaa-..."},
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			var initialOwner principal.Principal
			if owner != "" {
				parsed, err := principal.Parse(owner)
				if err != nil {
					return fmt.Errorf("--owner: %w", err)
				}
				initialOwner = parsed
			}

			s, err := env.open(&flags, true)
			if err != nil {
				return err
			}
			defer s.Close()

			governed, err := s.unit(release, initialOwner)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			if err := governed.Init(ctx); err != nil {
				return fmt.Errorf("init: %w", err)
			}
			record, _ := governed.Lifecycle().Record()
			fmt.Fprintf(env.stdout, "initialized %s: %s\n", s.config.Store.Path, record)
			return nil
		},
	}
}

func upgradeCommand(env *environment) *cli.Command {
	var (
		flags      storeFlags
		bump       string
		release    string
		checkpoint bool
		pause      bool
	)
	return &cli.Command{
		Name:    "upgrade",
		Summary: "Record a code replacement without a layout change",
		Description: `Record a code replacement without a layout change.

Re-attaches to the store, bumps the stored semantic version and appends
an upgrade history entry. The configured stable layout version must
match the stored one: layout migrations run inside the upgraded unit,
not from this tool.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("upgrade", pflag.ContinueOnError)
			flags.addFlags(flagSet)
			flagSet.StringVar(&bump, "bump", "patch", "version component to bump: patch, minor, major")
			flagSet.StringVar(&release, "release", "", "fail unless the bumped version equals this")
			flagSet.BoolVar(&checkpoint, "checkpoint", false, "snapshot the store to lifecycle.checkpoint_dir first")
			flagSet.BoolVar(&pause, "pause", false, "leave the unit paused after the upgrade")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			parsedBump, err := lifecycle.ParseBump(bump)
			if err != nil {
				return fmt.Errorf("--bump: %w", err)
			}

			s, err := env.open(&flags, false)
			if err != nil {
				return err
			}
			defer s.Close()

			governed, err := s.unit(release, principal.Principal{})
			if err != nil {
				return err
			}
			options := unit.UpgradeOptions{Bump: parsedBump}
			if checkpoint {
				options.Flags |= unit.FlagCheckpoint
			}
			if pause {
				options.Flags |= unit.FlagPauseAfterUpgrade
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			if err := governed.PostUpgrade(ctx, options); err != nil {
				return fmt.Errorf("upgrade: %w", err)
			}
			record, _ := governed.Lifecycle().Record()
			fmt.Fprintf(env.stdout, "upgraded %s: %s\n", s.config.Store.Path, record)
			return nil
		},
	}
}

// unit builds a governance unit over the session's store.
func (s *session) unit(release string, owner principal.Principal) (*unit.Unit, error) {
	lifecycleConfig, err := s.lifecycleConfig()
	if err != nil {
		return nil, err
	}
	if release != "" {
		parsed, err := version.Parse(release)
		if err != nil {
			return nil, fmt.Errorf("--release: %w", err)
		}
		lifecycleConfig.Version = &parsed
	}
	return unit.New(unit.Options{
		Store:               s.store,
		ReservedPrefixPages: s.config.Layout.ReservedPrefixPages,
		UserPageEnd:         s.config.Layout.UserPageEnd,
		InitialOwner:        owner,
		Lifecycle:           lifecycleConfig,
		Logger:              s.logger,
	})
}
