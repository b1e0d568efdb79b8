// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/warden/cmd/warden/cli"
	"github.com/bureau-foundation/warden/lib/access"
	"github.com/bureau-foundation/warden/lib/codec"
	"github.com/bureau-foundation/warden/lib/memorymap"
	"github.com/bureau-foundation/warden/lib/principal"
	"github.com/bureau-foundation/warden/lib/unit"
)

func inspectCommand(env *environment) *cli.Command {
	var (
		flags      storeFlags
		outputJSON bool
	)
	return &cli.Command{
		Name:    "inspect",
		Summary: "Print the persisted governance state of the store",
		Description: `Print the persisted governance state of the store.

Reads the layout header, version record, ownership, admins, roles,
pause flag, dynamic regions and upgrade history. The store is not
modified.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("inspect", pflag.ContinueOnError)
			flags.addFlags(flagSet)
			flagSet.BoolVar(&outputJSON, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			s, err := env.open(&flags, false)
			if err != nil {
				return err
			}
			defer s.Close()

			report, err := unit.Inspect(s.store)
			if err != nil {
				return fmt.Errorf("inspecting %s: %w", s.config.Store.Path, err)
			}
			if outputJSON {
				return cli.WriteJSON(env.stdout, newReportView(report))
			}
			return printReport(env.stdout, report)
		},
	}
}

// reportView is the JSON shape of a unit.Report.
type reportView struct {
	ReservedPrefixPages uint64                                  `json:"reserved_prefix_pages"`
	UserPageEnd         uint64                                  `json:"user_page_end"`
	Regions             []regionView                            `json:"regions"`
	Initialized         bool                                    `json:"initialized"`
	Version             string                                  `json:"version,omitempty"`
	LayoutVersion       uint32                                  `json:"layout_version"`
	UpgradeCount        uint64                                  `json:"upgrade_count"`
	LastUpgraded        *time.Time                              `json:"last_upgraded,omitempty"`
	Ownership           string                                  `json:"ownership"`
	Owner               principal.Principal                     `json:"owner,omitzero"`
	PendingOwner        principal.Principal                     `json:"pending_owner,omitzero"`
	Admins              []principal.Principal                   `json:"admins"`
	Roles               map[access.RoleID][]principal.Principal `json:"roles"`
	RoleAdmins          map[access.RoleID][]access.RoleID       `json:"role_admins"`
	Paused              bool                                    `json:"paused"`
	History             []historyView                           `json:"history"`
}

type regionView struct {
	ID        memorymap.RegionID `json:"id"`
	FirstPage uint64             `json:"first_page"`
	Pages     uint64             `json:"pages"`
	Framework bool               `json:"framework"`
}

type historyView struct {
	From       string    `json:"from"`
	To         string    `json:"to"`
	LayoutFrom uint32    `json:"layout_from"`
	LayoutTo   uint32    `json:"layout_to"`
	At         time.Time `json:"at"`
}

func newReportView(report unit.Report) reportView {
	view := reportView{
		ReservedPrefixPages: report.Layout.ReservedPrefixPages,
		UserPageEnd:         report.Layout.UserPageEnd,
		Regions:             []regionView{},
		Initialized:         report.Initialized,
		Ownership:           report.Ownership.String(),
		Owner:               report.Owner,
		PendingOwner:        report.PendingOwner,
		Admins:              append([]principal.Principal{}, report.Admins...),
		Roles:               report.Roles,
		RoleAdmins:          report.RoleAdmins,
		Paused:              report.Paused,
		History:             []historyView{},
	}
	for _, region := range report.Layout.Regions {
		view.Regions = append(view.Regions, regionView{
			ID:        region.ID,
			FirstPage: region.FirstPage,
			Pages:     region.Pages,
			Framework: region.Framework(),
		})
	}
	if report.Initialized {
		view.Version = report.Version.Semantic().String()
		view.LayoutVersion = report.Version.StableLayoutVersion
		view.UpgradeCount = report.Version.UpgradeCount
		if report.Version.LastUpgraded != 0 {
			last := report.Version.LastUpgradedTime()
			view.LastUpgraded = &last
		}
	}
	for _, entry := range report.History {
		view.History = append(view.History, historyView{
			From:       entry.From.String(),
			To:         entry.To.String(),
			LayoutFrom: entry.LayoutFrom,
			LayoutTo:   entry.LayoutTo,
			At:         entry.Time(),
		})
	}
	return view
}

func printReport(w io.Writer, report unit.Report) error {
	tw := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Layout:\treserved prefix %d pages, user pages end at %d\n",
		report.Layout.ReservedPrefixPages, report.Layout.UserPageEnd)
	if report.Initialized {
		fmt.Fprintf(tw, "Version:\t%s (layout v%d, %d upgrades)\n",
			report.Version.Semantic(), report.Version.StableLayoutVersion, report.Version.UpgradeCount)
		if report.Version.LastUpgraded != 0 {
			fmt.Fprintf(tw, "Last upgraded:\t%s\n", report.Version.LastUpgradedTime().Format(time.RFC3339))
		}
	} else {
		fmt.Fprintf(tw, "Version:\tnone\n")
	}
	fmt.Fprintf(tw, "Ownership:\t%s\n", report.Ownership)
	if !report.Owner.IsZero() {
		fmt.Fprintf(tw, "Owner:\t%s\n", report.Owner)
	}
	if !report.PendingOwner.IsZero() {
		fmt.Fprintf(tw, "Pending owner:\t%s\n", report.PendingOwner)
	}
	fmt.Fprintf(tw, "Paused:\t%t\n", report.Paused)
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(report.Admins) > 0 {
		fmt.Fprintf(w, "\nAdmins:\n")
		for _, admin := range report.Admins {
			fmt.Fprintf(w, "  %s\n", admin)
		}
	}

	roles := make([]access.RoleID, 0, len(report.Roles)+len(report.RoleAdmins))
	for role := range report.Roles {
		roles = append(roles, role)
	}
	for role := range report.RoleAdmins {
		if _, ok := report.Roles[role]; !ok {
			roles = append(roles, role)
		}
	}
	slices.Sort(roles)
	if len(roles) > 0 {
		fmt.Fprintf(w, "\nRoles:\n")
		for _, role := range roles {
			fmt.Fprintf(w, "  %s", role)
			if admins := report.RoleAdmins[role]; len(admins) > 0 {
				fmt.Fprintf(w, " (administered by %v)", admins)
			}
			fmt.Fprintln(w)
			for _, member := range report.Roles[role] {
				fmt.Fprintf(w, "    %s\n", member)
			}
		}
	}

	if len(report.Layout.Regions) > 0 {
		fmt.Fprintf(w, "\nRegions:\n")
		tw = tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "  ID\tFIRST PAGE\tPAGES\tKIND\n")
		for _, region := range report.Layout.Regions {
			kind := "user"
			if region.Framework() {
				kind = "framework"
			}
			fmt.Fprintf(tw, "  %d\t%d\t%d\t%s\n", region.ID, region.FirstPage, region.Pages, kind)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(report.History) > 0 {
		fmt.Fprintf(w, "\nUpgrade history:\n")
		for _, entry := range report.History {
			fmt.Fprintf(w, "  %s\n", entry)
		}
	}
	return nil
}

func dumpCommand(env *environment) *cli.Command {
	var (
		flags    storeFlags
		cellName string
	)
	return &cli.Command{
		Name:    "dump",
		Summary: "Print a framework cell in CBOR diagnostic notation",
		Description: `Print a framework cell in CBOR diagnostic notation.

The cell's frame and checksum are validated before its payload is
decoded. Cells: ` + cellNames() + `.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("dump", pflag.ContinueOnError)
			flags.addFlags(flagSet)
			flagSet.StringVar(&cellName, "cell", "", "cell to dump (required)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			cell, ok := findCell(cellName)
			if !ok {
				return fmt.Errorf("--cell must be one of: %s", cellNames())
			}

			s, err := env.open(&flags, false)
			if err != nil {
				return err
			}
			defer s.Close()

			allocator, err := memorymap.Load(s.store, s.logger)
			if err != nil {
				return err
			}
			payload, found, err := allocator.ReadCellPayload(cell)
			if err != nil {
				return fmt.Errorf("reading %s cell: %w", cell.Kind, err)
			}
			if !found {
				fmt.Fprintf(env.stdout, "%s: empty\n", cell.Kind)
				return nil
			}
			diagnostic, err := codec.Diagnose(payload)
			if err != nil {
				return fmt.Errorf("decoding %s cell: %w", cell.Kind, err)
			}
			fmt.Fprintf(env.stdout, "%s\n", diagnostic)
			return nil
		},
	}
}

func findCell(name string) (memorymap.Cell, bool) {
	for _, cell := range memorymap.Cells() {
		if cell.Kind.String() == name {
			return cell, true
		}
	}
	return memorymap.Cell{}, false
}

func cellNames() string {
	var names []string
	for _, cell := range memorymap.Cells() {
		names = append(names, cell.Kind.String())
	}
	return strings.Join(names, ", ")
}
