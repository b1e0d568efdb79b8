// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package guard compiles an entrypoint's guard names into a chain of
// checks that runs before the entrypoint body.
//
// Guard names:
//
//	owner-only           caller is the owner
//	admin-only           caller is the owner or an admin
//	role:X               caller holds role X (owner and admins pass)
//	any-role:X,Y         caller holds at least one of the roles
//	all-roles:X,Y        caller holds every listed role
//	not-anonymous        caller is not the anonymous principal
//	not-paused           the unit is not paused
//	when-paused          the unit is paused
//	reentrancy-group:Y   no other call in group Y is in progress
//
// Whatever order the names are listed in, a [Chain] evaluates access
// guards first, then pause guards, then takes reentrancy locks. The
// locks are held while the body runs, including across suspensions,
// and released on every return path including a panic. Every rejection
// is reported as a [*RejectedError] naming the entrypoint and guard.
package guard
