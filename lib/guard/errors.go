// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package guard

import (
	"errors"
	"fmt"
)

// RejectedError reports a call rejected by a guard. Err is the
// component error (*access.UnauthorizedError, pausable.ErrPaused,
// *reentrancy.ReentrantCallError, ...).
type RejectedError struct {
	Entrypoint string
	Guard      string
	Err        error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: rejected by guard %s: %v", e.Entrypoint, e.Guard, e.Err)
}

func (e *RejectedError) Unwrap() error { return e.Err }

// IsRejected reports whether err is or wraps a RejectedError.
func IsRejected(err error) bool {
	var target *RejectedError
	return errors.As(err, &target)
}
