// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Warden's stable CBOR encoding.
//
// Every framework record persisted in the reserved prefix of a unit's
// paged store (layout header, flags, version record, access control,
// region table) and in framework-reserved dynamic regions (role
// membership, upgrade history) is encoded with this package. The
// encoding is part of the persisted layout: it must decode records
// written by every earlier release, so the configuration here only
// ever changes in backward-compatible ways.
//
// Encoding follows the Core Deterministic profile of RFC 8949 §4.2.
// Rewriting a cell with an unchanged record therefore rewrites the same
// bytes and the same BLAKE3 digest.
//
// The decoder ignores unknown map keys so that a newer release can add
// fields to a record without bumping the stable layout version. Fields
// may be added but never renamed or retyped; a rename or retype is a
// layout change and requires a migration.
//
//	data, err := codec.Marshal(record)
//	err = codec.Unmarshal(data, &record)
//
// Types implementing encoding.TextMarshaler (principal.Principal)
// encode as CBOR text strings.
package codec
