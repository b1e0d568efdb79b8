// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package access

import (
	"strings"
)

// RoleID names a role. It must not be empty.
type RoleID string

type tier uint8

const (
	tierAuthenticated tier = iota
	tierRole
	tierAdmin
	tierOwner
)

// Capability is a requirement a caller must satisfy.
type Capability struct {
	tier tier

	// roles is the role set for tierRole; all selects whether every
	// role or any one role is required.
	roles []RoleID
	all   bool
}

// OwnerCapability is satisfied only by the owner.
func OwnerCapability() Capability { return Capability{tier: tierOwner} }

// AdminCapability is satisfied by the owner or an admin.
func AdminCapability() Capability { return Capability{tier: tierAdmin} }

// RoleCapability is satisfied by the owner, an admin, or a member of
// role.
func RoleCapability(role RoleID) Capability {
	return Capability{tier: tierRole, roles: []RoleID{role}, all: true}
}

// AnyRoleCapability is satisfied by the owner, an admin, or a member
// of at least one of roles.
func AnyRoleCapability(roles ...RoleID) Capability {
	return Capability{tier: tierRole, roles: roles}
}

// AllRolesCapability is satisfied by the owner, an admin, or a member
// of every one of roles.
func AllRolesCapability(roles ...RoleID) Capability {
	return Capability{tier: tierRole, roles: roles, all: true}
}

// AuthenticatedCapability is satisfied by any non-anonymous caller.
func AuthenticatedCapability() Capability { return Capability{tier: tierAuthenticated} }

// Roles returns the roles named by a role capability.
func (c Capability) Roles() []RoleID { return c.roles }

func (c Capability) String() string {
	switch c.tier {
	case tierOwner:
		return "owner"
	case tierAdmin:
		return "admin"
	case tierAuthenticated:
		return "not-anonymous"
	}
	names := make([]string, len(c.roles))
	for i, role := range c.roles {
		names[i] = string(role)
	}
	switch {
	case len(c.roles) == 1:
		return "role:" + names[0]
	case c.all:
		return "all-roles:" + strings.Join(names, ",")
	default:
		return "any-role:" + strings.Join(names, ",")
	}
}
