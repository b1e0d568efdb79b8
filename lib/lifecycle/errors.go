// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"errors"
	"fmt"
)

// ErrPhase is returned when OnInit or OnUpgrade is called in a phase
// that does not accept it, such as a second OnUpgrade in one process.
var ErrPhase = errors.New("lifecycle: transition not permitted in the current phase")

// MigrationError reports a failed migration callback. The upgrade is
// aborted and the stored version record is left untouched.
type MigrationError struct {
	From, To uint32
	Err      error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("lifecycle: migrating stable layout v%d to v%d: %v", e.From, e.To, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

// IsMigrationError reports whether err is or wraps a MigrationError.
func IsMigrationError(err error) bool {
	var target *MigrationError
	return errors.As(err, &target)
}
