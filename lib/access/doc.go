// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package access holds a unit's access control state: a single owner
// transferable in two steps, a set of admins, and named roles with
// per-role admin configuration.
//
// Capabilities form a fixed precedence: the owner satisfies every
// requirement, an admin satisfies admin and role requirements, and a
// role member satisfies only requirements naming that role. Admins
// may grant and revoke every role; holders of a role configured as a
// role admin of another role may grant and revoke that other role.
//
// Ownership moves through an explicit state machine
// ([OwnershipState]): unset until [State.InitOwner], held, pending
// while a nominated successor has not yet accepted, and renounced once
// the owner gives it up. Renouncement is permanent; InitOwner can never
// be called again.
//
// The owner, pending successor, admin set and role admin configuration
// live in the access cell of the reserved prefix. Role membership lives
// in its own framework region so it can grow independently. Every
// mutation is written to the store before the in-memory state changes,
// so a failed write leaves the state exactly as it was.
//
// The anonymous principal can never become owner, admin or role member.
package access
