// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package memorymap

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/warden/lib/codec"
)

// Kind identifies the record a cell or region holds. Kinds are written
// into the store; changing a value breaks existing stores.
type Kind uint8

const (
	KindLayoutHeader   Kind = 1
	KindFlags          Kind = 2
	KindLifecycle      Kind = 3
	KindAccess         Kind = 4
	KindRegionTable    Kind = 5
	KindRoleMembership Kind = 6
	KindUpgradeHistory Kind = 7
)

func (k Kind) String() string {
	switch k {
	case KindLayoutHeader:
		return "layout-header"
	case KindFlags:
		return "flags"
	case KindLifecycle:
		return "lifecycle"
	case KindAccess:
		return "access"
	case KindRegionTable:
		return "region-table"
	case KindRoleMembership:
		return "role-membership"
	case KindUpgradeHistory:
		return "upgrade-history"
	default:
		return fmt.Sprintf("kind(%d)", k)
	}
}

// Frame layout, big-endian:
//
//	magic "WDNC" | format u8 | kind u8 | reserved u16 | length u32 | digest [16]
var recordMagic = []byte("WDNC")

const (
	recordFormat     = 1
	recordHeaderSize = 28
	digestSize       = 16
)

func payloadDigest(payload []byte) [digestSize]byte {
	sum := blake3.Sum256(payload)
	return [digestSize]byte(sum[:digestSize])
}

// readRecord decodes the record framed at [offset, offset+capacity) of
// r into v. It reports false, with v untouched, when the frame is all
// zeros.
func readRecord(r io.ReaderAt, offset, capacity int64, kind Kind, v any) (bool, error) {
	payload, found, err := readPayload(r, offset, capacity, kind)
	if err != nil || !found {
		return false, err
	}
	if err := codec.Unmarshal(payload, v); err != nil {
		return false, corrupt(kind.String(), "decoding payload: %v", err)
	}
	return true, nil
}

// readPayload validates the frame at offset and returns its CBOR
// payload.
func readPayload(r io.ReaderAt, offset, capacity int64, kind Kind) ([]byte, bool, error) {
	header := make([]byte, recordHeaderSize)
	if _, err := r.ReadAt(header, offset); err != nil {
		return nil, false, fmt.Errorf("reading %s record header: %w", kind, err)
	}
	if allZero(header) {
		return nil, false, nil
	}

	if !bytes.Equal(header[0:4], recordMagic) {
		return nil, false, corrupt(kind.String(), "bad record magic %q", header[0:4])
	}
	if header[4] != recordFormat {
		return nil, false, corrupt(kind.String(), "unsupported record format %d", header[4])
	}
	if stored := Kind(header[5]); stored != kind {
		return nil, false, corrupt(kind.String(), "holds a %s record", stored)
	}
	length := int64(binary.BigEndian.Uint32(header[8:12]))
	if length > capacity-recordHeaderSize {
		return nil, false, corrupt(kind.String(), "payload length %d exceeds capacity %d", length, capacity-recordHeaderSize)
	}

	payload := make([]byte, length)
	if _, err := r.ReadAt(payload, offset+recordHeaderSize); err != nil {
		return nil, false, fmt.Errorf("reading %s record payload: %w", kind, err)
	}
	if payloadDigest(payload) != [digestSize]byte(header[12:28]) {
		return nil, false, corrupt(kind.String(), "payload digest mismatch")
	}
	return payload, true, nil
}

// writeRecord encodes v and writes it framed at offset in a single
// WriteAt.
func writeRecord(w io.WriterAt, offset, capacity int64, kind Kind, v any) error {
	payload, err := codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s record: %w", kind, err)
	}
	if int64(len(payload)) > capacity-recordHeaderSize {
		return fmt.Errorf("%w: %s record is %d bytes, capacity %d",
			ErrRecordTooLarge, kind, len(payload), capacity-recordHeaderSize)
	}

	frame := make([]byte, recordHeaderSize+len(payload))
	copy(frame[0:4], recordMagic)
	frame[4] = recordFormat
	frame[5] = byte(kind)
	binary.BigEndian.PutUint32(frame[8:12], uint32(len(payload)))
	digest := payloadDigest(payload)
	copy(frame[12:28], digest[:])
	copy(frame[recordHeaderSize:], payload)

	if _, err := w.WriteAt(frame, offset); err != nil {
		return fmt.Errorf("writing %s record: %w", kind, err)
	}
	return nil
}

func allZero(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}
