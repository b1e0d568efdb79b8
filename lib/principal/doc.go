// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package principal defines the caller identity presented with every
// call into a unit.
//
// A [Principal] is an opaque byte string of at most [MaxLength] bytes.
// The host that dispatches calls is responsible for authenticating the
// caller; this package only carries the identity and gives it a
// canonical, checksummed textual form:
//
//	Grouped(Base32(CRC32(bytes) || bytes))
//
// lowercased, unpadded, with a dash after every five characters. The
// CRC32 prefix catches transcription errors in operator input (owner
// nominations typed into a CLI) before they reach an irreversible
// ownership transfer.
//
// The zero Principal means "no principal" and is used for optional
// fields such as an unset owner. [Anonymous] is the identity the host
// assigns to unauthenticated callers; governance operations refuse to
// grant it anything.
package principal
