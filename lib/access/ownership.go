// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package access

import "fmt"

// OwnershipState is the position of the ownership state machine.
type OwnershipState uint8

const (
	// OwnerUnset: InitOwner has not been called.
	OwnerUnset OwnershipState = iota
	// OwnerHeld: an owner is set and no transfer is pending.
	OwnerHeld
	// TransferPending: an owner is set and a successor is nominated.
	TransferPending
	// Renounced: the owner gave up ownership. Terminal.
	Renounced
)

func (s OwnershipState) String() string {
	switch s {
	case OwnerUnset:
		return "unset"
	case OwnerHeld:
		return "held"
	case TransferPending:
		return "pending"
	case Renounced:
		return "renounced"
	default:
		return fmt.Sprintf("ownership(%d)", uint8(s))
	}
}

type ownershipEvent uint8

const (
	eventInit ownershipEvent = iota
	eventPropose
	eventAccept
	eventCancel
	eventRenounce
)

// ownershipTransitions is total over (state, event): a missing entry is
// a rejected transition. Cancel with nothing pending stays in held.
var ownershipTransitions = map[OwnershipState]map[ownershipEvent]OwnershipState{
	OwnerUnset: {
		eventInit: OwnerHeld,
	},
	OwnerHeld: {
		eventPropose:  TransferPending,
		eventCancel:   OwnerHeld,
		eventRenounce: Renounced,
	},
	TransferPending: {
		eventPropose:  TransferPending,
		eventAccept:   OwnerHeld,
		eventCancel:   OwnerHeld,
		eventRenounce: Renounced,
	},
	Renounced: {},
}

func (s OwnershipState) next(event ownershipEvent) (OwnershipState, bool) {
	next, ok := ownershipTransitions[s][event]
	return next, ok
}
