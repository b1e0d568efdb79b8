// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"github.com/fxamacker/cbor/v2"
)

var (
	// recordEncoder writes cell and region records. Its output is a
	// pure function of the record value, so a digest over an unchanged
	// record never moves.
	recordEncoder cbor.EncMode

	// recordDecoder reads records written by this release or any
	// earlier or later one; map keys it does not know are dropped.
	recordDecoder cbor.DecMode
)

func init() {
	encoding := cbor.CoreDetEncOptions()
	// Principals keep their bytes unexported; encode them through
	// MarshalText.
	encoding.TextMarshaler = cbor.TextMarshalerTextString
	encoder, err := encoding.EncMode()
	if err != nil {
		panic("codec: building record encoder: " + err.Error())
	}

	decoder, err := cbor.DecOptions{
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
		// Repeated keys in a stored record mean corruption.
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("codec: building record decoder: " + err.Error())
	}

	recordEncoder, recordDecoder = encoder, decoder
}

// Marshal returns the canonical CBOR encoding of v.
func Marshal(v any) ([]byte, error) {
	return recordEncoder.Marshal(v)
}

// Unmarshal decodes a CBOR record into v.
func Unmarshal(data []byte, v any) error {
	return recordDecoder.Unmarshal(data, v)
}

// Diagnose renders data in CBOR diagnostic notation (RFC 8949 §8), as
// printed by warden dump.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}
