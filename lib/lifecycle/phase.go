// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import "fmt"

// Phase is the position of a Manager in its per-process lifecycle.
type Phase uint8

const (
	// PhaseUnattached: neither OnInit nor OnUpgrade has run.
	PhaseUnattached Phase = iota
	// PhaseInitializing: OnInit is seeding the version record.
	PhaseInitializing
	// PhaseUpgrading: OnUpgrade is validating versions and checkpointing.
	PhaseUpgrading
	// PhaseMigrating: the migration callback is running.
	PhaseMigrating
	// PhaseReady: the transition completed. Terminal for this process.
	PhaseReady
	// PhaseFailed: the transition failed. Terminal for this process.
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseUnattached:
		return "unattached"
	case PhaseInitializing:
		return "initializing"
	case PhaseUpgrading:
		return "upgrading"
	case PhaseMigrating:
		return "migrating"
	case PhaseReady:
		return "ready"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

type phaseEvent uint8

const (
	eventInit phaseEvent = iota
	eventUpgrade
	eventMigrate
	eventComplete
	eventFail
)

// phaseTransitions is total over (phase, event): a missing entry is a
// rejected transition.
var phaseTransitions = map[Phase]map[phaseEvent]Phase{
	PhaseUnattached: {
		eventInit:    PhaseInitializing,
		eventUpgrade: PhaseUpgrading,
	},
	PhaseInitializing: {
		eventComplete: PhaseReady,
		eventFail:     PhaseFailed,
	},
	PhaseUpgrading: {
		eventMigrate:  PhaseMigrating,
		eventComplete: PhaseReady,
		eventFail:     PhaseFailed,
	},
	PhaseMigrating: {
		eventComplete: PhaseReady,
		eventFail:     PhaseFailed,
	},
	PhaseReady:  {},
	PhaseFailed: {},
}

func (p Phase) next(event phaseEvent) (Phase, bool) {
	next, ok := phaseTransitions[p][event]
	return next, ok
}
