// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package access

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/bureau-foundation/warden/lib/memorymap"
	"github.com/bureau-foundation/warden/lib/principal"
)

// CellStore reads and writes framework cells.
type CellStore interface {
	ReadCell(cell memorymap.Cell, v any) (bool, error)
	WriteCell(cell memorymap.Cell, v any) error
}

// RecordStore holds a single record, such as a dynamic region.
type RecordStore interface {
	ReadRecord(kind memorymap.Kind, v any) (bool, error)
	WriteRecord(kind memorymap.Kind, v any) error
}

// RoleMembershipSizeHint is the size requested for the role membership
// region when a store is formatted.
const RoleMembershipSizeHint = 4 * memorymap.PageSize

type accessRecord struct {
	State        OwnershipState        `cbor:"state"`
	Owner        principal.Principal   `cbor:"owner"`
	PendingOwner principal.Principal   `cbor:"pending_owner"`
	Admins       []principal.Principal `cbor:"admins"`
	RoleAdmins   map[RoleID][]RoleID   `cbor:"role_admins"`
}

func (r accessRecord) clone() accessRecord {
	clone := r
	clone.Admins = slices.Clone(r.Admins)
	clone.RoleAdmins = make(map[RoleID][]RoleID, len(r.RoleAdmins))
	for role, admins := range r.RoleAdmins {
		clone.RoleAdmins[role] = slices.Clone(admins)
	}
	return clone
}

type membershipRecord struct {
	Members map[RoleID][]principal.Principal `cbor:"members"`
}

func (r membershipRecord) clone() membershipRecord {
	clone := membershipRecord{Members: make(map[RoleID][]principal.Principal, len(r.Members))}
	for role, members := range r.Members {
		clone.Members[role] = slices.Clone(members)
	}
	return clone
}

// State is a unit's access control state. All methods are safe for
// concurrent use.
type State struct {
	mu     sync.RWMutex
	cells  CellStore
	roles  RecordStore
	logger *slog.Logger

	record  accessRecord
	members membershipRecord
}

// Open loads access control state from the access cell and the role
// membership record. Absent records yield an empty state with the owner
// unset.
func Open(cells CellStore, roles RecordStore, logger *slog.Logger) (*State, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	state := &State{
		cells:   cells,
		roles:   roles,
		logger:  logger,
		record:  accessRecord{RoleAdmins: map[RoleID][]RoleID{}},
		members: membershipRecord{Members: map[RoleID][]principal.Principal{}},
	}

	if _, err := cells.ReadCell(memorymap.AccessCell, &state.record); err != nil {
		return nil, fmt.Errorf("access: loading access cell: %w", err)
	}
	if _, err := roles.ReadRecord(memorymap.KindRoleMembership, &state.members); err != nil {
		return nil, fmt.Errorf("access: loading role membership: %w", err)
	}
	if state.record.RoleAdmins == nil {
		state.record.RoleAdmins = map[RoleID][]RoleID{}
	}
	if state.members.Members == nil {
		state.members.Members = map[RoleID][]principal.Principal{}
	}
	if err := state.record.validate(); err != nil {
		return nil, err
	}
	return state, nil
}

// validate checks that the stored ownership state agrees with the
// owner and pending fields.
func (r accessRecord) validate() error {
	ownerSet, pendingSet := !r.Owner.IsZero(), !r.PendingOwner.IsZero()
	var consistent bool
	switch r.State {
	case OwnerUnset, Renounced:
		consistent = !ownerSet && !pendingSet
	case OwnerHeld:
		consistent = ownerSet && !pendingSet
	case TransferPending:
		consistent = ownerSet && pendingSet
	}
	if !consistent {
		return &memorymap.ConfigurationError{
			Setting: "access",
			Reason: fmt.Sprintf("ownership state %s inconsistent with owner set=%t pending set=%t",
				r.State, ownerSet, pendingSet),
		}
	}
	return nil
}

func (s *State) commitAccess(next accessRecord) error {
	if err := s.cells.WriteCell(memorymap.AccessCell, next); err != nil {
		s.logger.Error("persisting access state failed", "error", err)
		return fmt.Errorf("access: persisting access state: %w", err)
	}
	s.record = next
	return nil
}

func (s *State) commitMembers(next membershipRecord) error {
	if err := s.roles.WriteRecord(memorymap.KindRoleMembership, next); err != nil {
		s.logger.Error("persisting role membership failed", "error", err)
		return fmt.Errorf("access: persisting role membership: %w", err)
	}
	s.members = next
	return nil
}

// transition applies an ownership event to next, failing if the
// current state does not accept it.
func (s *State) transition(next *accessRecord, event ownershipEvent) bool {
	state, ok := s.record.State.next(event)
	if !ok {
		return false
	}
	next.State = state
	return true
}

// InitOwner sets the initial owner. It succeeds exactly once per store.
func (s *State) InitOwner(owner principal.Principal) error {
	if err := validateSubject(owner); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.record.clone()
	if !s.transition(&next, eventInit) {
		return ErrAlreadyInitialized
	}
	next.Owner = owner
	if err := s.commitAccess(next); err != nil {
		return err
	}
	s.logger.Info("owner initialized", "owner", owner.String())
	return nil
}

// ProposeOwnerTransfer nominates a successor. The caller must be the
// owner. Ownership does not change until the successor accepts.
func (s *State) ProposeOwnerTransfer(caller, successor principal.Principal) error {
	if err := validateSubject(successor); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isOwner(caller) {
		return &UnauthorizedError{Caller: caller, Required: OwnerCapability()}
	}
	next := s.record.clone()
	if !s.transition(&next, eventPropose) {
		return fmt.Errorf("access: cannot propose transfer in ownership state %s", s.record.State)
	}
	next.PendingOwner = successor
	if err := s.commitAccess(next); err != nil {
		return err
	}
	s.logger.Info("ownership transfer proposed", "owner", caller.String(), "successor", successor.String())
	return nil
}

// AcceptOwnerTransfer completes a pending transfer. The caller must be
// the nominated successor.
func (s *State) AcceptOwnerTransfer(caller principal.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.record.PendingOwner.IsZero() || s.record.PendingOwner != caller {
		return &NotPendingSuccessorError{Caller: caller, Pending: s.record.PendingOwner}
	}
	next := s.record.clone()
	if !s.transition(&next, eventAccept) {
		return fmt.Errorf("access: cannot accept transfer in ownership state %s", s.record.State)
	}
	previous := next.Owner
	next.Owner = caller
	next.PendingOwner = principal.Principal{}
	if err := s.commitAccess(next); err != nil {
		return err
	}
	s.logger.Info("ownership transferred", "previous_owner", previous.String(), "owner", caller.String())
	return nil
}

// CancelOwnerTransfer clears a pending nomination, if any. The caller
// must be the owner.
func (s *State) CancelOwnerTransfer(caller principal.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isOwner(caller) {
		return &UnauthorizedError{Caller: caller, Required: OwnerCapability()}
	}
	if s.record.State != TransferPending {
		return nil
	}
	next := s.record.clone()
	s.transition(&next, eventCancel)
	cancelled := next.PendingOwner
	next.PendingOwner = principal.Principal{}
	if err := s.commitAccess(next); err != nil {
		return err
	}
	s.logger.Info("ownership transfer cancelled", "owner", caller.String(), "successor", cancelled.String())
	return nil
}

// RenounceOwnership removes the owner permanently. The caller must be
// the owner. Any pending nomination is cleared.
func (s *State) RenounceOwnership(caller principal.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isOwner(caller) {
		return &UnauthorizedError{Caller: caller, Required: OwnerCapability()}
	}
	next := s.record.clone()
	s.transition(&next, eventRenounce)
	next.Owner = principal.Principal{}
	next.PendingOwner = principal.Principal{}
	if err := s.commitAccess(next); err != nil {
		return err
	}
	s.logger.Info("ownership renounced", "previous_owner", caller.String())
	return nil
}

// AddAdmin adds p to the admin set. The caller must be the owner.
// Adding an existing admin is a no-op.
func (s *State) AddAdmin(caller, admin principal.Principal) error {
	if err := validateSubject(admin); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isOwner(caller) {
		return &UnauthorizedError{Caller: caller, Required: OwnerCapability()}
	}
	admins, added := insertPrincipal(s.record.Admins, admin)
	if !added {
		return nil
	}
	next := s.record.clone()
	next.Admins = admins
	if err := s.commitAccess(next); err != nil {
		return err
	}
	s.logger.Info("admin added", "caller", caller.String(), "admin", admin.String())
	return nil
}

// RemoveAdmin removes p from the admin set. The caller must be the
// owner. Removing a non-admin is a no-op.
func (s *State) RemoveAdmin(caller, admin principal.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isOwner(caller) {
		return &UnauthorizedError{Caller: caller, Required: OwnerCapability()}
	}
	return s.removeAdmin(caller, admin)
}

// RenounceAdmin removes the caller from the admin set. The caller must
// be an admin.
func (s *State) RenounceAdmin(caller principal.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isAdmin(caller) {
		return &UnauthorizedError{Caller: caller, Required: AdminCapability()}
	}
	return s.removeAdmin(caller, caller)
}

func (s *State) removeAdmin(caller, admin principal.Principal) error {
	admins, removed := removePrincipal(s.record.Admins, admin)
	if !removed {
		return nil
	}
	next := s.record.clone()
	next.Admins = admins
	if err := s.commitAccess(next); err != nil {
		return err
	}
	s.logger.Info("admin removed", "caller", caller.String(), "admin", admin.String())
	return nil
}

// GrantRole adds member to role. The caller must be the owner, an
// admin, or hold a role configured as an admin of role.
func (s *State) GrantRole(caller principal.Principal, role RoleID, member principal.Principal) error {
	if err := validateRole(role); err != nil {
		return err
	}
	if err := validateSubject(member); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.canManageRole(caller, role) {
		return &UnauthorizedError{Caller: caller, Required: s.roleManagerCapability(role)}
	}
	members, added := insertPrincipal(s.members.Members[role], member)
	if !added {
		return nil
	}
	next := s.members.clone()
	next.Members[role] = members
	if err := s.commitMembers(next); err != nil {
		return err
	}
	s.logger.Info("role granted", "caller", caller.String(), "role", string(role), "member", member.String())
	return nil
}

// RevokeRole removes member from role under the same authorization as
// GrantRole. Revoking a role the member does not hold is a no-op.
func (s *State) RevokeRole(caller principal.Principal, role RoleID, member principal.Principal) error {
	if err := validateRole(role); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.canManageRole(caller, role) {
		return &UnauthorizedError{Caller: caller, Required: s.roleManagerCapability(role)}
	}
	members, removed := removePrincipal(s.members.Members[role], member)
	if !removed {
		return nil
	}
	next := s.members.clone()
	if len(members) == 0 {
		delete(next.Members, role)
	} else {
		next.Members[role] = members
	}
	if err := s.commitMembers(next); err != nil {
		return err
	}
	s.logger.Info("role revoked", "caller", caller.String(), "role", string(role), "member", member.String())
	return nil
}

// SetRoleAdmins lets holders of each of adminRoles grant and revoke
// role, in addition to any role admins already configured. The caller
// must be the owner or an admin.
func (s *State) SetRoleAdmins(caller principal.Principal, role RoleID, adminRoles ...RoleID) error {
	return s.updateRoleAdmins(caller, role, adminRoles, true)
}

// RevokeRoleAdmins removes adminRoles from role's role admins. The
// caller must be the owner or an admin.
func (s *State) RevokeRoleAdmins(caller principal.Principal, role RoleID, adminRoles ...RoleID) error {
	return s.updateRoleAdmins(caller, role, adminRoles, false)
}

func (s *State) updateRoleAdmins(caller principal.Principal, role RoleID, adminRoles []RoleID, add bool) error {
	if err := validateRole(role); err != nil {
		return err
	}
	for _, adminRole := range adminRoles {
		if err := validateRole(adminRole); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.satisfies(caller, AdminCapability()) {
		return &UnauthorizedError{Caller: caller, Required: AdminCapability()}
	}

	current := s.record.RoleAdmins[role]
	updated := slices.Clone(current)
	for _, adminRole := range adminRoles {
		index, found := slices.BinarySearch(updated, adminRole)
		switch {
		case add && !found:
			updated = slices.Insert(updated, index, adminRole)
		case !add && found:
			updated = slices.Delete(updated, index, index+1)
		}
	}
	if slices.Equal(updated, current) {
		return nil
	}

	next := s.record.clone()
	if len(updated) == 0 {
		delete(next.RoleAdmins, role)
	} else {
		next.RoleAdmins[role] = updated
	}
	if err := s.commitAccess(next); err != nil {
		return err
	}
	s.logger.Info("role admins updated",
		"caller", caller.String(),
		"role", string(role),
		"role_admins", updated,
	)
	return nil
}

// RequireCapability returns nil if caller satisfies capability and an
// UnauthorizedError otherwise.
func (s *State) RequireCapability(caller principal.Principal, capability Capability) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.satisfies(caller, capability) {
		return &UnauthorizedError{Caller: caller, Required: capability}
	}
	return nil
}

// satisfies evaluates capability with owner > admin > role precedence.
// Caller holds mu.
func (s *State) satisfies(caller principal.Principal, capability Capability) bool {
	if validateSubject(caller) != nil {
		return false
	}
	if capability.tier == tierAuthenticated || s.isOwner(caller) {
		return true
	}
	if capability.tier == tierOwner {
		return false
	}
	if s.isAdmin(caller) {
		return true
	}
	if capability.tier == tierAdmin || len(capability.roles) == 0 {
		return false
	}
	if capability.all {
		return s.hasAllRoles(caller, capability.roles)
	}
	return s.hasAnyRole(caller, capability.roles)
}

func (s *State) canManageRole(caller principal.Principal, role RoleID) bool {
	if validateSubject(caller) != nil {
		return false
	}
	if s.isOwner(caller) || s.isAdmin(caller) {
		return true
	}
	return s.hasAnyRole(caller, s.record.RoleAdmins[role])
}

func (s *State) roleManagerCapability(role RoleID) Capability {
	if adminRoles := s.record.RoleAdmins[role]; len(adminRoles) > 0 {
		return AnyRoleCapability(adminRoles...)
	}
	return AdminCapability()
}

func (s *State) isOwner(p principal.Principal) bool {
	return !p.IsZero() && s.record.Owner == p
}

func (s *State) isAdmin(p principal.Principal) bool {
	return containsPrincipal(s.record.Admins, p)
}

func (s *State) hasRole(p principal.Principal, role RoleID) bool {
	return containsPrincipal(s.members.Members[role], p)
}

func (s *State) hasAllRoles(p principal.Principal, roles []RoleID) bool {
	for _, role := range roles {
		if !s.hasRole(p, role) {
			return false
		}
	}
	return len(roles) > 0
}

func (s *State) hasAnyRole(p principal.Principal, roles []RoleID) bool {
	return slices.ContainsFunc(roles, func(role RoleID) bool { return s.hasRole(p, role) })
}

// Owner returns the current owner, zero if none.
func (s *State) Owner() principal.Principal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.record.Owner
}

// PendingOwner returns the nominated successor, zero if none.
func (s *State) PendingOwner() principal.Principal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.record.PendingOwner
}

// Ownership returns the ownership state.
func (s *State) Ownership() OwnershipState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.record.State
}

// IsOwner reports whether p is the owner.
func (s *State) IsOwner(p principal.Principal) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOwner(p)
}

// IsAdmin reports whether p is in the admin set.
func (s *State) IsAdmin(p principal.Principal) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isAdmin(p)
}

// Admins returns the admin set in canonical order.
func (s *State) Admins() []principal.Principal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.record.Admins)
}

// HasRole reports whether p is a member of role. Owner and admin
// status do not count.
func (s *State) HasRole(role RoleID, p principal.Principal) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasRole(p, role)
}

// HasAllRoles reports whether p is a member of every role.
func (s *State) HasAllRoles(p principal.Principal, roles ...RoleID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasAllRoles(p, roles)
}

// HasAnyRole reports whether p is a member of at least one role.
func (s *State) HasAnyRole(p principal.Principal, roles ...RoleID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasAnyRole(p, roles)
}

// RolesOf returns the roles p is a member of, sorted.
func (s *State) RolesOf(p principal.Principal) []RoleID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var roles []RoleID
	for _, role := range slices.Sorted(maps.Keys(s.members.Members)) {
		if s.hasRole(p, role) {
			roles = append(roles, role)
		}
	}
	return roles
}

// Members returns the members of role in canonical order.
func (s *State) Members(role RoleID) []principal.Principal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.members.Members[role])
}

// Roles returns every role with at least one member, sorted.
func (s *State) Roles() []RoleID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.members.Members))
}

// RoleAdmins returns the roles configured as admins of role.
func (s *State) RoleAdmins(role RoleID) []RoleID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.record.RoleAdmins[role])
}

// ConfiguredRoleAdmins returns every role with role admins configured
// and its admin roles.
func (s *State) ConfiguredRoleAdmins() map[RoleID][]RoleID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[RoleID][]RoleID, len(s.record.RoleAdmins))
	for role, admins := range s.record.RoleAdmins {
		result[role] = slices.Clone(admins)
	}
	return result
}

func containsPrincipal(sorted []principal.Principal, p principal.Principal) bool {
	_, found := slices.BinarySearchFunc(sorted, p, principal.Principal.Compare)
	return found
}

func insertPrincipal(sorted []principal.Principal, p principal.Principal) ([]principal.Principal, bool) {
	index, found := slices.BinarySearchFunc(sorted, p, principal.Principal.Compare)
	if found {
		return sorted, false
	}
	return slices.Insert(slices.Clone(sorted), index, p), true
}

func removePrincipal(sorted []principal.Principal, p principal.Principal) ([]principal.Principal, bool) {
	index, found := slices.BinarySearchFunc(sorted, p, principal.Principal.Compare)
	if !found {
		return sorted, false
	}
	return slices.Delete(slices.Clone(sorted), index, index+1), true
}
