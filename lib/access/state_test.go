// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package access

import (
	"errors"
	"slices"
	"testing"

	"github.com/bureau-foundation/warden/lib/memorymap"
	"github.com/bureau-foundation/warden/lib/pagestore"
	"github.com/bureau-foundation/warden/lib/principal"
)

var (
	alice = principal.MustFromBytes([]byte("alice"))
	bob   = principal.MustFromBytes([]byte("bob"))
	carol = principal.MustFromBytes([]byte("carol"))
	dave  = principal.MustFromBytes([]byte("dave"))
)

type fixture struct {
	store     *pagestore.MemoryStore
	allocator *memorymap.Allocator
	roles     *memorymap.Region
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := pagestore.NewMemoryStore()
	allocator := memorymap.New(store, nil)
	allocator.OpenWindow()
	if err := allocator.Reserve(16); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := allocator.ConfigureUserPageEnd(32); err != nil {
		t.Fatalf("ConfigureUserPageEnd: %v", err)
	}
	if err := allocator.Format(); err != nil {
		t.Fatalf("Format: %v", err)
	}
	roles, err := allocator.AllocateFramework(memorymap.RoleMembershipRegion, RoleMembershipSizeHint)
	if err != nil {
		t.Fatalf("AllocateFramework: %v", err)
	}
	allocator.SealWindow()
	return &fixture{store: store, allocator: allocator, roles: roles}
}

func (f *fixture) open(t *testing.T) *State {
	t.Helper()
	state, err := Open(f.allocator, f.roles, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return state
}

// ownedBy returns a state whose owner is owner.
func ownedBy(t *testing.T, owner principal.Principal) (*State, *fixture) {
	t.Helper()
	f := newFixture(t)
	state := f.open(t)
	if err := state.InitOwner(owner); err != nil {
		t.Fatalf("InitOwner: %v", err)
	}
	return state, f
}

func TestInitOwnerOnce(t *testing.T) {
	state := newFixture(t).open(t)

	if !state.Owner().IsZero() || state.Ownership() != OwnerUnset {
		t.Fatalf("fresh state: owner %v, ownership %s", state.Owner(), state.Ownership())
	}
	if err := state.InitOwner(alice); err != nil {
		t.Fatalf("InitOwner(alice): %v", err)
	}
	if err := state.InitOwner(bob); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("InitOwner(bob): err = %v, want ErrAlreadyInitialized", err)
	}
	if state.Owner() != alice || state.Ownership() != OwnerHeld {
		t.Fatalf("owner = %v (%s), want alice (held)", state.Owner(), state.Ownership())
	}
}

func TestInitOwnerAfterRenounceFails(t *testing.T) {
	state, _ := ownedBy(t, alice)
	if err := state.RenounceOwnership(alice); err != nil {
		t.Fatalf("RenounceOwnership: %v", err)
	}
	if err := state.InitOwner(bob); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("InitOwner after renounce: err = %v", err)
	}
}

func TestAnonymousRejected(t *testing.T) {
	anonymous := principal.Anonymous()
	fresh := newFixture(t).open(t)
	if err := fresh.InitOwner(anonymous); !errors.Is(err, ErrAnonymous) {
		t.Errorf("InitOwner(anonymous): err = %v", err)
	}
	if err := fresh.InitOwner(principal.Principal{}); !errors.Is(err, ErrInvalidPrincipal) {
		t.Errorf("InitOwner(zero): err = %v", err)
	}

	state, _ := ownedBy(t, alice)
	if err := state.ProposeOwnerTransfer(alice, anonymous); !errors.Is(err, ErrAnonymous) {
		t.Errorf("ProposeOwnerTransfer(anonymous): err = %v", err)
	}
	if err := state.AddAdmin(alice, anonymous); !errors.Is(err, ErrAnonymous) {
		t.Errorf("AddAdmin(anonymous): err = %v", err)
	}
	if err := state.GrantRole(alice, "minter", anonymous); !errors.Is(err, ErrAnonymous) {
		t.Errorf("GrantRole(anonymous): err = %v", err)
	}
	if err := state.RequireCapability(anonymous, AuthenticatedCapability()); !IsUnauthorized(err) {
		t.Errorf("anonymous caller passed not-anonymous: err = %v", err)
	}
	if err := state.RequireCapability(bob, AuthenticatedCapability()); err != nil {
		t.Errorf("bob failed not-anonymous: %v", err)
	}
}

func TestTwoStepTransfer(t *testing.T) {
	state, _ := ownedBy(t, alice)

	if err := state.ProposeOwnerTransfer(bob, carol); !IsUnauthorized(err) {
		t.Fatalf("proposal by non-owner: err = %v", err)
	}
	if err := state.ProposeOwnerTransfer(alice, bob); err != nil {
		t.Fatalf("ProposeOwnerTransfer: %v", err)
	}
	if state.Owner() != alice || state.PendingOwner() != bob || state.Ownership() != TransferPending {
		t.Fatalf("after proposal: owner %v pending %v state %s", state.Owner(), state.PendingOwner(), state.Ownership())
	}

	err := state.AcceptOwnerTransfer(carol)
	var notPending *NotPendingSuccessorError
	if !errors.As(err, &notPending) {
		t.Fatalf("AcceptOwnerTransfer(carol): err = %v, want NotPendingSuccessorError", err)
	}
	if notPending.Caller != carol || notPending.Pending != bob {
		t.Errorf("NotPendingSuccessorError = %+v", notPending)
	}

	if err := state.AcceptOwnerTransfer(bob); err != nil {
		t.Fatalf("AcceptOwnerTransfer(bob): %v", err)
	}
	if state.Owner() != bob || !state.PendingOwner().IsZero() || state.Ownership() != OwnerHeld {
		t.Fatalf("after accept: owner %v pending %v state %s", state.Owner(), state.PendingOwner(), state.Ownership())
	}
	if err := state.RequireCapability(alice, OwnerCapability()); !IsUnauthorized(err) {
		t.Errorf("previous owner still passes owner check: %v", err)
	}
}

func TestCancelTransfer(t *testing.T) {
	state, _ := ownedBy(t, alice)
	if err := state.ProposeOwnerTransfer(alice, bob); err != nil {
		t.Fatalf("ProposeOwnerTransfer: %v", err)
	}
	if err := state.CancelOwnerTransfer(bob); !IsUnauthorized(err) {
		t.Fatalf("cancel by successor: err = %v", err)
	}
	if err := state.CancelOwnerTransfer(alice); err != nil {
		t.Fatalf("CancelOwnerTransfer: %v", err)
	}
	if !state.PendingOwner().IsZero() || state.Ownership() != OwnerHeld {
		t.Fatalf("after cancel: pending %v state %s", state.PendingOwner(), state.Ownership())
	}
	if err := state.AcceptOwnerTransfer(bob); err == nil {
		t.Fatal("accept after cancel succeeded")
	}
	// Cancelling with nothing pending is a no-op.
	if err := state.CancelOwnerTransfer(alice); err != nil {
		t.Fatalf("second CancelOwnerTransfer: %v", err)
	}
}

func TestRenounceOwnership(t *testing.T) {
	state, _ := ownedBy(t, alice)
	if err := state.ProposeOwnerTransfer(alice, bob); err != nil {
		t.Fatalf("ProposeOwnerTransfer: %v", err)
	}
	if err := state.RenounceOwnership(bob); !IsUnauthorized(err) {
		t.Fatalf("renounce by non-owner: err = %v", err)
	}
	if err := state.RenounceOwnership(alice); err != nil {
		t.Fatalf("RenounceOwnership: %v", err)
	}
	if !state.Owner().IsZero() || !state.PendingOwner().IsZero() || state.Ownership() != Renounced {
		t.Fatalf("after renounce: owner %v pending %v state %s", state.Owner(), state.PendingOwner(), state.Ownership())
	}
	if err := state.AcceptOwnerTransfer(bob); err == nil {
		t.Fatal("pending successor accepted after renounce")
	}
}

func TestAdmins(t *testing.T) {
	state, _ := ownedBy(t, alice)

	if err := state.AddAdmin(bob, carol); !IsUnauthorized(err) {
		t.Fatalf("AddAdmin by non-owner: err = %v", err)
	}
	for range 2 {
		if err := state.AddAdmin(alice, bob); err != nil {
			t.Fatalf("AddAdmin: %v", err)
		}
	}
	if admins := state.Admins(); len(admins) != 1 || admins[0] != bob {
		t.Fatalf("Admins() = %v, want [bob]", admins)
	}
	if err := state.RequireCapability(bob, AdminCapability()); err != nil {
		t.Errorf("admin fails admin capability: %v", err)
	}
	if err := state.RequireCapability(bob, OwnerCapability()); !IsUnauthorized(err) {
		t.Errorf("admin passes owner capability: %v", err)
	}
	if err := state.RequireCapability(alice, AdminCapability()); err != nil {
		t.Errorf("owner fails admin capability: %v", err)
	}

	// An admin cannot manage admins.
	if err := state.RemoveAdmin(bob, bob); !IsUnauthorized(err) {
		t.Fatalf("RemoveAdmin by admin: err = %v", err)
	}
	if err := state.RenounceAdmin(bob); err != nil {
		t.Fatalf("RenounceAdmin: %v", err)
	}
	if state.IsAdmin(bob) {
		t.Fatal("bob still admin after renouncing")
	}
	if err := state.RenounceAdmin(bob); !IsUnauthorized(err) {
		t.Fatalf("RenounceAdmin by non-admin: err = %v", err)
	}
	if err := state.RemoveAdmin(alice, dave); err != nil {
		t.Fatalf("RemoveAdmin of non-admin: %v", err)
	}
}

func TestGrantAndRevokeRole(t *testing.T) {
	state, _ := ownedBy(t, alice)
	const minter RoleID = "minter"

	if err := state.GrantRole(alice, minter, bob); err != nil {
		t.Fatalf("GrantRole: %v", err)
	}
	if err := state.RequireCapability(bob, RoleCapability(minter)); err != nil {
		t.Fatalf("member fails role capability: %v", err)
	}
	if err := state.RequireCapability(carol, RoleCapability(minter)); !IsUnauthorized(err) {
		t.Fatalf("non-member passes role capability: %v", err)
	}
	if err := state.RevokeRole(alice, minter, bob); err != nil {
		t.Fatalf("RevokeRole: %v", err)
	}
	if err := state.RequireCapability(bob, RoleCapability(minter)); !IsUnauthorized(err) {
		t.Fatalf("revoked member passes role capability: %v", err)
	}
	if roles := state.Roles(); len(roles) != 0 {
		t.Errorf("Roles() after revoking the only member = %v", roles)
	}
}

func TestRoleManagement(t *testing.T) {
	state, _ := ownedBy(t, alice)
	const (
		minter  RoleID = "minter"
		manager RoleID = "minter-manager"
	)

	// Plain members cannot grant.
	if err := state.GrantRole(bob, minter, carol); !IsUnauthorized(err) {
		t.Fatalf("GrantRole by outsider: err = %v", err)
	}

	// Admins can grant any role.
	if err := state.AddAdmin(alice, bob); err != nil {
		t.Fatalf("AddAdmin: %v", err)
	}
	if err := state.GrantRole(bob, manager, carol); err != nil {
		t.Fatalf("GrantRole by admin: %v", err)
	}

	// Role admins require configuration by an admin.
	if err := state.GrantRole(carol, minter, dave); !IsUnauthorized(err) {
		t.Fatalf("GrantRole by unconfigured manager: err = %v", err)
	}
	if err := state.SetRoleAdmins(carol, minter, manager); !IsUnauthorized(err) {
		t.Fatalf("SetRoleAdmins by non-admin: err = %v", err)
	}
	if err := state.SetRoleAdmins(bob, minter, manager); err != nil {
		t.Fatalf("SetRoleAdmins: %v", err)
	}
	if got := state.RoleAdmins(minter); !slices.Equal(got, []RoleID{manager}) {
		t.Fatalf("RoleAdmins = %v", got)
	}
	if err := state.GrantRole(carol, minter, dave); err != nil {
		t.Fatalf("GrantRole by role admin: %v", err)
	}
	if !state.HasRole(minter, dave) {
		t.Fatal("dave lacks minter after grant")
	}

	// A role admin cannot manage its own role.
	if err := state.GrantRole(carol, manager, dave); !IsUnauthorized(err) {
		t.Fatalf("role admin granted its own role: err = %v", err)
	}

	if err := state.RevokeRoleAdmins(bob, minter, manager); err != nil {
		t.Fatalf("RevokeRoleAdmins: %v", err)
	}
	if err := state.RevokeRole(carol, minter, dave); !IsUnauthorized(err) {
		t.Fatalf("RevokeRole by former role admin: err = %v", err)
	}
}

func TestRoleQueries(t *testing.T) {
	state, _ := ownedBy(t, alice)
	for _, grant := range []struct {
		role   RoleID
		member principal.Principal
	}{
		{"minter", bob}, {"burner", bob}, {"minter", carol},
	} {
		if err := state.GrantRole(alice, grant.role, grant.member); err != nil {
			t.Fatalf("GrantRole: %v", err)
		}
	}

	if got := state.RolesOf(bob); !slices.Equal(got, []RoleID{"burner", "minter"}) {
		t.Errorf("RolesOf(bob) = %v", got)
	}
	if got := state.Members("minter"); len(got) != 2 {
		t.Errorf("Members(minter) = %v", got)
	}
	if !state.HasAllRoles(bob, "minter", "burner") || state.HasAllRoles(carol, "minter", "burner") {
		t.Error("HasAllRoles wrong")
	}
	if !state.HasAnyRole(carol, "burner", "minter") || state.HasAnyRole(dave, "burner", "minter") {
		t.Error("HasAnyRole wrong")
	}
	if err := state.RequireCapability(carol, AllRolesCapability("minter", "burner")); !IsUnauthorized(err) {
		t.Errorf("all-roles passed with one role: %v", err)
	}
	if err := state.RequireCapability(carol, AnyRoleCapability("burner", "minter")); err != nil {
		t.Errorf("any-role failed: %v", err)
	}
	// Owner precedence satisfies role requirements without membership.
	if err := state.RequireCapability(alice, RoleCapability("auditor")); err != nil {
		t.Errorf("owner fails role capability: %v", err)
	}
	if state.HasRole("auditor", alice) {
		t.Error("HasRole reports membership from owner precedence")
	}
}

func TestInvalidRole(t *testing.T) {
	state, _ := ownedBy(t, alice)
	if err := state.GrantRole(alice, "", bob); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("GrantRole empty role: err = %v", err)
	}
	if err := state.SetRoleAdmins(alice, "minter", ""); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("SetRoleAdmins empty admin role: err = %v", err)
	}
}

func TestStateSurvivesReopen(t *testing.T) {
	state, f := ownedBy(t, alice)
	steps := []func() error{
		func() error { return state.AddAdmin(alice, bob) },
		func() error { return state.GrantRole(alice, "minter", carol) },
		func() error { return state.SetRoleAdmins(alice, "minter", "manager") },
		func() error { return state.ProposeOwnerTransfer(alice, dave) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	reopened := f.open(t)
	if reopened.Owner() != alice || reopened.PendingOwner() != dave || reopened.Ownership() != TransferPending {
		t.Errorf("ownership not restored: %v %v %s", reopened.Owner(), reopened.PendingOwner(), reopened.Ownership())
	}
	if !reopened.IsAdmin(bob) {
		t.Error("admin not restored")
	}
	if !reopened.HasRole("minter", carol) {
		t.Error("role membership not restored")
	}
	if got := reopened.RoleAdmins("minter"); !slices.Equal(got, []RoleID{"manager"}) {
		t.Errorf("role admins not restored: %v", got)
	}
	if table := reopened.ConfiguredRoleAdmins(); len(table) != 1 || !slices.Equal(table["minter"], []RoleID{"manager"}) {
		t.Errorf("ConfiguredRoleAdmins() = %v", table)
	}
}

// failingCells fails every write after armed is set.
type failingCells struct {
	CellStore
	armed bool
}

func (f *failingCells) WriteCell(cell memorymap.Cell, v any) error {
	if f.armed {
		return errors.New("disk full")
	}
	return f.CellStore.WriteCell(cell, v)
}

type failingRecords struct {
	RecordStore
	armed bool
}

func (f *failingRecords) WriteRecord(kind memorymap.Kind, v any) error {
	if f.armed {
		return errors.New("disk full")
	}
	return f.RecordStore.WriteRecord(kind, v)
}

func TestFailedWriteLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	cells := &failingCells{CellStore: f.allocator}
	records := &failingRecords{RecordStore: f.roles}
	state, err := Open(cells, records, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := state.InitOwner(alice); err != nil {
		t.Fatalf("InitOwner: %v", err)
	}

	cells.armed = true
	records.armed = true
	if err := state.AddAdmin(alice, bob); err == nil {
		t.Fatal("AddAdmin succeeded with failing store")
	}
	if err := state.ProposeOwnerTransfer(alice, bob); err == nil {
		t.Fatal("ProposeOwnerTransfer succeeded with failing store")
	}
	if err := state.GrantRole(alice, "minter", bob); err == nil {
		t.Fatal("GrantRole succeeded with failing store")
	}

	if state.IsAdmin(bob) || !state.PendingOwner().IsZero() || state.HasRole("minter", bob) {
		t.Fatal("in-memory state changed despite failed writes")
	}
}
