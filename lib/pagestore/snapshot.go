// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pagestore

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/zeebo/blake3"
)

// Snapshot stream layout (all integers big-endian):
//
//	header:  "WDSN" | version u8 | compression u8 | reserved u16 | page size u32 | page count u64
//	record:  page index u64 | tag u8 | stored length u32 | stored bytes
//	end:     index 0xFFFFFFFFFFFFFFFF | BLAKE3-256 digest (32 bytes)
//
// Only non-zero pages are recorded, in strictly ascending index order.
// The digest covers the header followed by index||page for every
// recorded page, over uncompressed page contents.

var snapshotMagic = [4]byte{'W', 'D', 'S', 'N'}

const (
	snapshotVersion    = 1
	snapshotHeaderSize = 20
	endOfRecords       = math.MaxUint64
)

// ErrSnapshotCorrupt is returned when a snapshot stream is malformed or
// its digest does not match its contents.
var ErrSnapshotCorrupt = errors.New("pagestore: corrupt snapshot")

// ErrStoreNotEmpty is returned by RestoreSnapshot when the target store
// already has pages.
var ErrStoreNotEmpty = errors.New("pagestore: restore target is not empty")

// Digest is the BLAKE3-256 digest of a snapshot.
type Digest [32]byte

// String returns the digest in lowercase hex.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// SnapshotInfo describes a snapshot that was written or read.
type SnapshotInfo struct {
	// Pages is the size of the snapshotted store in pages.
	Pages uint64

	// StoredPages is the number of non-zero pages recorded.
	StoredPages uint64

	// Compression is the requested compression. Individual pages that
	// do not compress are stored verbatim.
	Compression CompressionTag

	// Bytes is the total stream length.
	Bytes int64

	Digest Digest
}

func encodeSnapshotHeader(compression CompressionTag, pages uint64) []byte {
	header := make([]byte, snapshotHeaderSize)
	copy(header, snapshotMagic[:])
	header[4] = snapshotVersion
	header[5] = byte(compression)
	binary.BigEndian.PutUint32(header[8:12], PageSize)
	binary.BigEndian.PutUint64(header[12:20], pages)
	return header
}

// countingWriter tracks how many bytes reach the underlying writer.
type countingWriter struct {
	w     io.Writer
	count int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.count += int64(n)
	return n, err
}

// WriteSnapshot writes every non-zero page of store to w. The store
// must not be written concurrently.
func WriteSnapshot(w io.Writer, store Store, compression CompressionTag) (SnapshotInfo, error) {
	if compression > CompressionZstd {
		return SnapshotInfo{}, fmt.Errorf("unsupported compression tag: %d", compression)
	}

	counter := &countingWriter{w: w}
	buffered := bufio.NewWriter(counter)
	hasher := blake3.New()

	pages := store.Pages()
	header := encodeSnapshotHeader(compression, pages)
	hasher.Write(header)
	if _, err := buffered.Write(header); err != nil {
		return SnapshotInfo{}, fmt.Errorf("writing snapshot header: %w", err)
	}

	info := SnapshotInfo{Pages: pages, Compression: compression}
	page := make([]byte, PageSize)
	record := make([]byte, 13)
	for index := uint64(0); index < pages; index++ {
		if _, err := store.ReadAt(page, int64(index*PageSize)); err != nil {
			return SnapshotInfo{}, fmt.Errorf("reading page %d: %w", index, err)
		}
		if allZero(page) {
			continue
		}

		stored, tag, err := compressPage(page, compression)
		if err != nil {
			return SnapshotInfo{}, fmt.Errorf("compressing page %d: %w", index, err)
		}

		binary.BigEndian.PutUint64(record[0:8], index)
		hasher.Write(record[0:8])
		hasher.Write(page)

		record[8] = byte(tag)
		binary.BigEndian.PutUint32(record[9:13], uint32(len(stored)))
		if _, err := buffered.Write(record); err != nil {
			return SnapshotInfo{}, fmt.Errorf("writing page %d: %w", index, err)
		}
		if _, err := buffered.Write(stored); err != nil {
			return SnapshotInfo{}, fmt.Errorf("writing page %d: %w", index, err)
		}
		info.StoredPages++
	}

	binary.BigEndian.PutUint64(record[0:8], endOfRecords)
	if _, err := buffered.Write(record[0:8]); err != nil {
		return SnapshotInfo{}, fmt.Errorf("writing snapshot trailer: %w", err)
	}
	copy(info.Digest[:], hasher.Sum(nil))
	if _, err := buffered.Write(info.Digest[:]); err != nil {
		return SnapshotInfo{}, fmt.Errorf("writing snapshot digest: %w", err)
	}
	if err := buffered.Flush(); err != nil {
		return SnapshotInfo{}, fmt.Errorf("flushing snapshot: %w", err)
	}
	info.Bytes = counter.count
	return info, nil
}

type snapshotPage struct {
	index uint64
	data  []byte
}

// readSnapshot decodes and fully verifies a snapshot stream. When keep
// is true the decoded pages are returned.
func readSnapshot(r io.Reader, keep bool) (SnapshotInfo, []snapshotPage, error) {
	counter := &countingReader{r: bufio.NewReader(r)}
	hasher := blake3.New()

	header := make([]byte, snapshotHeaderSize)
	if _, err := io.ReadFull(counter, header); err != nil {
		return SnapshotInfo{}, nil, fmt.Errorf("%w: reading header: %v", ErrSnapshotCorrupt, err)
	}
	if [4]byte(header[0:4]) != snapshotMagic {
		return SnapshotInfo{}, nil, fmt.Errorf("%w: bad magic %q", ErrSnapshotCorrupt, header[0:4])
	}
	if header[4] != snapshotVersion {
		return SnapshotInfo{}, nil, fmt.Errorf("%w: unsupported version %d", ErrSnapshotCorrupt, header[4])
	}
	if size := binary.BigEndian.Uint32(header[8:12]); size != PageSize {
		return SnapshotInfo{}, nil, fmt.Errorf("%w: page size %d, want %d", ErrSnapshotCorrupt, size, PageSize)
	}
	hasher.Write(header)

	info := SnapshotInfo{
		Pages:       binary.BigEndian.Uint64(header[12:20]),
		Compression: CompressionTag(header[5]),
	}

	var (
		pages    []snapshotPage
		previous uint64
		first    = true
		record   = make([]byte, 13)
	)
	for {
		if _, err := io.ReadFull(counter, record[0:8]); err != nil {
			return SnapshotInfo{}, nil, fmt.Errorf("%w: reading record: %v", ErrSnapshotCorrupt, err)
		}
		index := binary.BigEndian.Uint64(record[0:8])
		if index == endOfRecords {
			break
		}
		if index >= info.Pages || (!first && index <= previous) {
			return SnapshotInfo{}, nil, fmt.Errorf("%w: page index %d out of order or range", ErrSnapshotCorrupt, index)
		}
		first = false
		previous = index

		if _, err := io.ReadFull(counter, record[8:13]); err != nil {
			return SnapshotInfo{}, nil, fmt.Errorf("%w: reading page %d header: %v", ErrSnapshotCorrupt, index, err)
		}
		tag := CompressionTag(record[8])
		length := binary.BigEndian.Uint32(record[9:13])
		if length > PageSize {
			return SnapshotInfo{}, nil, fmt.Errorf("%w: page %d stored length %d exceeds page size", ErrSnapshotCorrupt, index, length)
		}
		stored := make([]byte, length)
		if _, err := io.ReadFull(counter, stored); err != nil {
			return SnapshotInfo{}, nil, fmt.Errorf("%w: reading page %d: %v", ErrSnapshotCorrupt, index, err)
		}
		page, err := decompressPage(stored, tag, PageSize)
		if err != nil {
			return SnapshotInfo{}, nil, fmt.Errorf("%w: page %d: %v", ErrSnapshotCorrupt, index, err)
		}

		hasher.Write(record[0:8])
		hasher.Write(page)
		info.StoredPages++
		if keep {
			pages = append(pages, snapshotPage{index: index, data: page})
		}
	}

	var stored Digest
	if _, err := io.ReadFull(counter, stored[:]); err != nil {
		return SnapshotInfo{}, nil, fmt.Errorf("%w: reading digest: %v", ErrSnapshotCorrupt, err)
	}
	copy(info.Digest[:], hasher.Sum(nil))
	if stored != info.Digest {
		return SnapshotInfo{}, nil, fmt.Errorf("%w: digest mismatch: stream says %s, contents hash to %s",
			ErrSnapshotCorrupt, stored, info.Digest)
	}
	info.Bytes = counter.count
	return info, pages, nil
}

type countingReader struct {
	r     io.Reader
	count int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.count += int64(n)
	return n, err
}

// VerifySnapshot reads a snapshot from r and checks its structure and
// digest without writing anywhere.
func VerifySnapshot(r io.Reader) (SnapshotInfo, error) {
	info, _, err := readSnapshot(r, false)
	return info, err
}

// RestoreSnapshot verifies the snapshot in r and then writes it into
// store, which must be empty. Nothing is written if verification
// fails.
func RestoreSnapshot(r io.Reader, store Store) (SnapshotInfo, error) {
	if pages := store.Pages(); pages != 0 {
		return SnapshotInfo{}, fmt.Errorf("%w: has %d pages", ErrStoreNotEmpty, pages)
	}

	info, pages, err := readSnapshot(r, true)
	if err != nil {
		return SnapshotInfo{}, err
	}

	if _, err := store.Grow(info.Pages); err != nil {
		return SnapshotInfo{}, fmt.Errorf("growing restore target to %d pages: %w", info.Pages, err)
	}
	for _, page := range pages {
		if _, err := store.WriteAt(page.data, int64(page.index*PageSize)); err != nil {
			return SnapshotInfo{}, fmt.Errorf("restoring page %d: %w", page.index, err)
		}
	}
	if err := store.Sync(); err != nil {
		return SnapshotInfo{}, fmt.Errorf("syncing restored store: %w", err)
	}
	return info, nil
}
