// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package principal

import (
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"slices"
	"strings"
)

// MaxLength is the maximum length of a principal in bytes.
const MaxLength = 29

// anonymousTag is the single byte forming the anonymous principal.
const anonymousTag = 0x04

// encoding is lowercase RFC 4648 base32 without padding.
var encoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// ErrInvalid is wrapped by every parse and construction failure.
var ErrInvalid = errors.New("invalid principal")

// Principal is an opaque caller identity. Principals are comparable
// and safe to use as map keys. The zero value means "no principal".
type Principal struct {
	raw string
}

// FromBytes returns the principal with the given raw bytes. Empty
// input and input longer than MaxLength are rejected.
func FromBytes(raw []byte) (Principal, error) {
	if len(raw) == 0 {
		return Principal{}, fmt.Errorf("%w: empty", ErrInvalid)
	}
	if len(raw) > MaxLength {
		return Principal{}, fmt.Errorf("%w: %d bytes exceeds maximum of %d", ErrInvalid, len(raw), MaxLength)
	}
	return Principal{raw: string(raw)}, nil
}

// MustFromBytes is like FromBytes but panics on invalid input. For
// constants and tests.
func MustFromBytes(raw []byte) Principal {
	p, err := FromBytes(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// Anonymous returns the anonymous principal.
func Anonymous() Principal {
	return Principal{raw: string([]byte{anonymousTag})}
}

// Bytes returns a copy of the raw principal bytes.
func (p Principal) Bytes() []byte {
	return []byte(p.raw)
}

// IsZero reports whether p is the zero Principal.
func (p Principal) IsZero() bool {
	return p.raw == ""
}

// IsAnonymous reports whether p is the anonymous principal.
func (p Principal) IsAnonymous() bool {
	return len(p.raw) == 1 && p.raw[0] == anonymousTag
}

// Compare orders principals by their raw bytes.
func (p Principal) Compare(other Principal) int {
	return strings.Compare(p.raw, other.raw)
}

// String returns the canonical textual form, or "" for the zero
// Principal.
func (p Principal) String() string {
	if p.IsZero() {
		return ""
	}
	body := make([]byte, 4, 4+len(p.raw))
	binary.BigEndian.PutUint32(body, crc32.ChecksumIEEE([]byte(p.raw)))
	body = append(body, p.raw...)

	encoded := encoding.EncodeToString(body)
	var builder strings.Builder
	for i := 0; i < len(encoded); i += 5 {
		if i > 0 {
			builder.WriteByte('-')
		}
		end := min(i+5, len(encoded))
		builder.WriteString(encoded[i:end])
	}
	return builder.String()
}

// Parse parses the canonical textual form. Input is accepted in either
// case; the dash grouping must match the canonical grouping exactly so
// that each principal has a single accepted spelling.
func Parse(text string) (Principal, error) {
	lowered := strings.ToLower(text)
	decoded, err := encoding.DecodeString(strings.ReplaceAll(lowered, "-", ""))
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %q: %v", ErrInvalid, text, err)
	}
	if len(decoded) < 4 {
		return Principal{}, fmt.Errorf("%w: %q: too short", ErrInvalid, text)
	}

	checksum := binary.BigEndian.Uint32(decoded[:4])
	raw := decoded[4:]
	if crc32.ChecksumIEEE(raw) != checksum {
		return Principal{}, fmt.Errorf("%w: %q: checksum mismatch", ErrInvalid, text)
	}

	parsed, err := FromBytes(raw)
	if err != nil {
		return Principal{}, err
	}
	if parsed.String() != lowered {
		return Principal{}, fmt.Errorf("%w: %q: non-canonical grouping", ErrInvalid, text)
	}
	return parsed, nil
}

// MustParse is like Parse but panics on invalid input.
func MustParse(text string) Principal {
	p, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return p
}

// MarshalText implements encoding.TextMarshaler. The zero Principal
// marshals to empty text.
func (p Principal) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty text
// decodes to the zero Principal.
func (p *Principal) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*p = Principal{}
		return nil
	}
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Sort sorts principals in place by raw bytes. Persisted principal
// sets are kept sorted so that their encoding is deterministic.
func Sort(principals []Principal) {
	slices.SortFunc(principals, Principal.Compare)
}
