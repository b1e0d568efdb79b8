// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package guard

import (
	"fmt"
	"strings"

	"github.com/bureau-foundation/warden/lib/access"
)

// Stage orders guards within a chain.
type Stage uint8

const (
	StageAccess Stage = iota
	StagePause
	StageReentrancy
)

func (s Stage) String() string {
	switch s {
	case StageAccess:
		return "access"
	case StagePause:
		return "pause"
	case StageReentrancy:
		return "reentrancy"
	default:
		return fmt.Sprintf("stage(%d)", uint8(s))
	}
}

type pauseMode uint8

const (
	requireNotPaused pauseMode = iota + 1
	requirePaused
)

// Spec is one parsed guard.
type Spec struct {
	// Name is the guard name as written at registration.
	Name  string
	Stage Stage

	capability access.Capability
	pause      pauseMode
	group      string
}

// Capability returns the capability an access guard requires.
func (s Spec) Capability() access.Capability { return s.capability }

// Group returns the lock group of a reentrancy guard.
func (s Spec) Group() string { return s.group }

// Parse parses a single guard name.
func Parse(name string) (Spec, error) {
	spec := Spec{Name: name}
	kind, argument, hasArgument := strings.Cut(name, ":")

	switch kind {
	case "owner-only", "admin-only", "not-anonymous", "not-paused", "when-paused":
		if hasArgument {
			return Spec{}, fmt.Errorf("guard %q takes no argument", name)
		}
	}

	switch kind {
	case "owner-only":
		spec.capability = access.OwnerCapability()
	case "admin-only":
		spec.capability = access.AdminCapability()
	case "not-anonymous":
		spec.capability = access.AuthenticatedCapability()
	case "role":
		if argument == "" || strings.Contains(argument, ",") {
			return Spec{}, fmt.Errorf("guard %q: want role:NAME", name)
		}
		spec.capability = access.RoleCapability(access.RoleID(argument))
	case "any-role", "all-roles":
		roles, err := parseRoles(name, argument)
		if err != nil {
			return Spec{}, err
		}
		if kind == "any-role" {
			spec.capability = access.AnyRoleCapability(roles...)
		} else {
			spec.capability = access.AllRolesCapability(roles...)
		}
	case "not-paused":
		spec.Stage = StagePause
		spec.pause = requireNotPaused
	case "when-paused":
		spec.Stage = StagePause
		spec.pause = requirePaused
	case "reentrancy-group":
		if argument == "" {
			return Spec{}, fmt.Errorf("guard %q: want reentrancy-group:NAME", name)
		}
		spec.Stage = StageReentrancy
		spec.group = argument
	default:
		return Spec{}, fmt.Errorf("unknown guard %q", name)
	}
	return spec, nil
}

func parseRoles(name, argument string) ([]access.RoleID, error) {
	if argument == "" {
		return nil, fmt.Errorf("guard %q: role list is empty", name)
	}
	var roles []access.RoleID
	for role := range strings.SplitSeq(argument, ",") {
		if role == "" {
			return nil, fmt.Errorf("guard %q: empty role in list", name)
		}
		roles = append(roles, access.RoleID(role))
	}
	return roles, nil
}
