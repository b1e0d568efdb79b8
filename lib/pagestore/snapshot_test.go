// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pagestore

import (
	"bytes"
	"errors"
	"testing"
)

// populatedStore returns a memory store with a mix of compressible,
// incompressible and empty pages.
func populatedStore(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	if _, err := store.Grow(5); err != nil {
		t.Fatalf("Grow: %v", err)
	}
	if _, err := store.WriteAt(bytes.Repeat([]byte("cbor-record "), 2000), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	noise := make([]byte, PageSize)
	state := uint32(2463534242)
	for i := range noise {
		state ^= state << 13
		state ^= state >> 17
		state ^= state << 5
		noise[i] = byte(state)
	}
	if _, err := store.WriteAt(noise, 3*PageSize); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	return store
}

func TestSnapshotRoundTrip(t *testing.T) {
	for _, compression := range []CompressionTag{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(compression.String(), func(t *testing.T) {
			source := populatedStore(t)

			var stream bytes.Buffer
			written, err := WriteSnapshot(&stream, source, compression)
			if err != nil {
				t.Fatalf("WriteSnapshot: %v", err)
			}
			if written.Pages != 5 || written.StoredPages != 2 {
				t.Fatalf("snapshot info = %+v; want 5 pages, 2 stored", written)
			}
			if written.Bytes != int64(stream.Len()) {
				t.Errorf("info.Bytes = %d, stream is %d bytes", written.Bytes, stream.Len())
			}

			verified, err := VerifySnapshot(bytes.NewReader(stream.Bytes()))
			if err != nil {
				t.Fatalf("VerifySnapshot: %v", err)
			}
			if verified.Digest != written.Digest {
				t.Fatalf("verify digest %s != write digest %s", verified.Digest, written.Digest)
			}

			target := NewMemoryStore()
			if _, err := RestoreSnapshot(bytes.NewReader(stream.Bytes()), target); err != nil {
				t.Fatalf("RestoreSnapshot: %v", err)
			}
			if target.Pages() != source.Pages() {
				t.Fatalf("restored %d pages, want %d", target.Pages(), source.Pages())
			}
			want := make([]byte, 5*PageSize)
			got := make([]byte, 5*PageSize)
			source.ReadAt(want, 0)
			target.ReadAt(got, 0)
			if !bytes.Equal(want, got) {
				t.Fatal("restored contents differ from source")
			}
		})
	}
}

func TestSnapshotCompressionShrinks(t *testing.T) {
	source := populatedStore(t)

	var plain, compressed bytes.Buffer
	if _, err := WriteSnapshot(&plain, source, CompressionNone); err != nil {
		t.Fatalf("WriteSnapshot none: %v", err)
	}
	if _, err := WriteSnapshot(&compressed, source, CompressionZstd); err != nil {
		t.Fatalf("WriteSnapshot zstd: %v", err)
	}
	if compressed.Len() >= plain.Len() {
		t.Errorf("zstd snapshot is %d bytes, uncompressed is %d", compressed.Len(), plain.Len())
	}
}

func TestSnapshotDigestCoversHeader(t *testing.T) {
	source := populatedStore(t)

	var lz4Stream, zstdStream bytes.Buffer
	lz4Info, err := WriteSnapshot(&lz4Stream, source, CompressionLZ4)
	if err != nil {
		t.Fatalf("WriteSnapshot lz4: %v", err)
	}
	zstdInfo, err := WriteSnapshot(&zstdStream, source, CompressionZstd)
	if err != nil {
		t.Fatalf("WriteSnapshot zstd: %v", err)
	}
	// The header records the requested compression, so the digests
	// differ; each must still verify on its own.
	if lz4Info.Digest == zstdInfo.Digest {
		t.Error("digests of differently tagged snapshots should differ")
	}
}

func TestSnapshotCorruptionDetected(t *testing.T) {
	source := populatedStore(t)

	var stream bytes.Buffer
	if _, err := WriteSnapshot(&stream, source, CompressionNone); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"bad magic", func(b []byte) []byte { b[0] = 'X'; return b }},
		{"bad version", func(b []byte) []byte { b[4] = 99; return b }},
		{"flipped page byte", func(b []byte) []byte { b[snapshotHeaderSize+13+100] ^= 0xFF; return b }},
		{"flipped digest byte", func(b []byte) []byte { b[len(b)-1] ^= 0x01; return b }},
		{"truncated", func(b []byte) []byte { return b[:len(b)-10] }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			corrupted := tt.mutate(bytes.Clone(stream.Bytes()))
			if _, err := VerifySnapshot(bytes.NewReader(corrupted)); !errors.Is(err, ErrSnapshotCorrupt) {
				t.Fatalf("VerifySnapshot: err = %v, want ErrSnapshotCorrupt", err)
			}

			target := NewMemoryStore()
			if _, err := RestoreSnapshot(bytes.NewReader(corrupted), target); !errors.Is(err, ErrSnapshotCorrupt) {
				t.Fatalf("RestoreSnapshot: err = %v, want ErrSnapshotCorrupt", err)
			}
			if target.Pages() != 0 {
				t.Fatal("failed restore wrote into the target")
			}
		})
	}
}

func TestRestoreRequiresEmptyStore(t *testing.T) {
	source := populatedStore(t)
	var stream bytes.Buffer
	if _, err := WriteSnapshot(&stream, source, CompressionLZ4); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	target := NewMemoryStore()
	target.Grow(1)
	if _, err := RestoreSnapshot(&stream, target); !errors.Is(err, ErrStoreNotEmpty) {
		t.Fatalf("RestoreSnapshot into non-empty store: err = %v, want ErrStoreNotEmpty", err)
	}
}

func TestParseCompressionTag(t *testing.T) {
	for _, tag := range []CompressionTag{CompressionNone, CompressionLZ4, CompressionZstd} {
		parsed, err := ParseCompressionTag(tag.String())
		if err != nil || parsed != tag {
			t.Errorf("ParseCompressionTag(%q) = %v, %v; want %v", tag.String(), parsed, err, tag)
		}
	}
	if _, err := ParseCompressionTag("bg4_lz4"); err == nil {
		t.Error("ParseCompressionTag accepted an unknown name")
	}
}
