// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package access

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/warden/lib/principal"
)

// ErrAlreadyInitialized is returned by InitOwner after the owner has
// been initialized once, even if ownership was later renounced.
var ErrAlreadyInitialized = errors.New("access: owner already initialized")

// ErrAnonymous is returned when the anonymous principal is nominated as
// owner, admin or role member.
var ErrAnonymous = errors.New("access: anonymous principal not permitted")

// ErrInvalidPrincipal is returned for the zero principal.
var ErrInvalidPrincipal = errors.New("access: principal is empty")

// ErrInvalidRole is returned for an empty role id.
var ErrInvalidRole = errors.New("access: role id is empty")

// UnauthorizedError reports that a caller lacks a required capability.
type UnauthorizedError struct {
	Caller   principal.Principal
	Required Capability
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("access: %s lacks capability %s", e.Caller, e.Required)
}

// IsUnauthorized reports whether err is or wraps an UnauthorizedError.
func IsUnauthorized(err error) bool {
	var target *UnauthorizedError
	return errors.As(err, &target)
}

// NotPendingSuccessorError is returned when a principal other than the
// nominated successor tries to accept ownership.
type NotPendingSuccessorError struct {
	Caller principal.Principal

	// Pending is the nominated successor, zero if none.
	Pending principal.Principal
}

func (e *NotPendingSuccessorError) Error() string {
	if e.Pending.IsZero() {
		return fmt.Sprintf("access: %s cannot accept ownership: no transfer pending", e.Caller)
	}
	return fmt.Sprintf("access: %s is not the pending owner", e.Caller)
}

func validateSubject(p principal.Principal) error {
	switch {
	case p.IsZero():
		return ErrInvalidPrincipal
	case p.IsAnonymous():
		return ErrAnonymous
	}
	return nil
}

func validateRole(role RoleID) error {
	if role == "" {
		return ErrInvalidRole
	}
	return nil
}
