// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package unit

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/warden/lib/access"
	"github.com/bureau-foundation/warden/lib/lifecycle"
	"github.com/bureau-foundation/warden/lib/memorymap"
	"github.com/bureau-foundation/warden/lib/pagestore"
	"github.com/bureau-foundation/warden/lib/pausable"
	"github.com/bureau-foundation/warden/lib/principal"
)

// Report is the persisted governance state of a store.
type Report struct {
	Layout memorymap.Layout

	// Version is only meaningful when Initialized is set.
	Version     lifecycle.VersionRecord
	Initialized bool
	History     []lifecycle.HistoryEntry

	Ownership    access.OwnershipState
	Owner        principal.Principal
	PendingOwner principal.Principal
	Admins       []principal.Principal
	Roles        map[access.RoleID][]principal.Principal
	RoleAdmins   map[access.RoleID][]access.RoleID

	Paused bool
}

// Inspect reads the governance state of store without modifying it.
// The store must have been laid out by Init.
func Inspect(store pagestore.Store) (Report, error) {
	allocator, err := memorymap.Load(store, nil)
	if err != nil {
		return Report{}, err
	}
	report := Report{Layout: allocator.Layout()}

	report.Version, report.Initialized, err = lifecycle.ReadVersion(allocator)
	if err != nil {
		return Report{}, err
	}
	if region, ok := allocator.Region(memorymap.UpgradeHistoryRegion); ok {
		if report.History, err = lifecycle.ReadHistory(region); err != nil {
			return Report{}, err
		}
	}

	var roles access.RecordStore = absentRecord{}
	if region, ok := allocator.Region(memorymap.RoleMembershipRegion); ok {
		roles = region
	}
	accessState, err := access.Open(allocator, roles, nil)
	if err != nil {
		return Report{}, err
	}
	report.Ownership = accessState.Ownership()
	report.Owner = accessState.Owner()
	report.PendingOwner = accessState.PendingOwner()
	report.Admins = accessState.Admins()
	report.RoleAdmins = accessState.ConfiguredRoleAdmins()
	report.Roles = make(map[access.RoleID][]principal.Principal)
	for _, role := range accessState.Roles() {
		report.Roles[role] = accessState.Members(role)
	}

	pauseState, err := pausable.Open(allocator, nil, nil)
	if err != nil {
		return Report{}, err
	}
	report.Paused = pauseState.IsPaused()
	return report, nil
}

// Inspect reports the unit's persisted governance state.
func (u *Unit) Inspect() (Report, error) {
	if !u.Ready() {
		return Report{}, ErrNotReady
	}
	return Inspect(u.options.Store)
}

// absentRecord stands in for a region a store does not have.
type absentRecord struct{}

func (absentRecord) ReadRecord(memorymap.Kind, any) (bool, error) { return false, nil }

func (absentRecord) WriteRecord(kind memorymap.Kind, _ any) error {
	return fmt.Errorf("unit: no region holds %s records: %w", kind, errors.ErrUnsupported)
}
