package sstable

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/cascadedb/cascade/pkg/key"
	"github.com/cascadedb/cascade/pkg/sstable/bloom"
)

// restartInterval is the number of entries between full (uncompressed)
// key restart points within a block. Restart offsets are recorded in the
// block, but iteration in either direction decodes the whole block from
// its start.
const restartInterval = 16

// targetBlockSize is the approximate uncompressed size a builder aims for
// before cutting a new block.
const targetBlockSize = 16 * 1024

type blockEntry struct {
	fullKey []byte
	value   key.Value
}

// blockBuilder accumulates entries for one block in strictly ascending
// full-key order, prefix-compressing against the most recent restart
// point and recording a bloom filter over user keys as it goes.
type blockBuilder struct {
	buf          bytes.Buffer
	restarts     []uint32
	count        int
	lastKey      []byte
	filter       *bloom.Filter
	expectedKeys int
}

func newBlockBuilder(expectedKeys int) *blockBuilder {
	return &blockBuilder{
		filter:       bloom.New(expectedKeys),
		expectedKeys: expectedKeys,
	}
}

func putUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

// add appends one entry. fullKey must be strictly greater than the
// previously added key.
func (b *blockBuilder) add(fullKey []byte, v key.Value) {
	shared := 0
	if b.count%restartInterval != 0 {
		shared = commonPrefixLen(b.lastKey, fullKey)
	} else {
		b.restarts = append(b.restarts, uint32(b.buf.Len()))
	}
	unshared := fullKey[shared:]

	putUvarint(&b.buf, uint64(shared))
	putUvarint(&b.buf, uint64(len(unshared)))
	putUvarint(&b.buf, uint64(len(v.Data)))
	b.buf.Write(unshared)
	b.buf.WriteByte(byte(v.Kind))
	b.buf.Write(v.Data)

	b.filter.Add(key.UserKeyOf(fullKey))
	b.lastKey = append(b.lastKey[:0], fullKey...)
	b.count++
}

func commonPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

func (b *blockBuilder) empty() bool { return b.count == 0 }

func (b *blockBuilder) approxSize() int { return b.buf.Len() }

// finish serializes the block: entries, bloom filter blob, restart point
// table, and a fixed trailer so a reader can locate both sections and
// verify the block's checksum independently of every other block.
func (b *blockBuilder) finish() []byte {
	entriesLen := uint32(b.buf.Len())
	filterBytes := b.filter.Marshal()

	var out bytes.Buffer
	out.Write(b.buf.Bytes())
	out.Write(filterBytes)
	for _, r := range b.restarts {
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], r)
		out.Write(tmp[:])
	}
	trailer := make([]byte, 16)
	binary.LittleEndian.PutUint32(trailer[0:4], entriesLen)
	binary.LittleEndian.PutUint32(trailer[4:8], uint32(len(filterBytes)))
	binary.LittleEndian.PutUint32(trailer[8:12], uint32(len(b.restarts)))
	binary.LittleEndian.PutUint32(trailer[12:16], crc32.ChecksumIEEE(out.Bytes()))
	out.Write(trailer)
	return out.Bytes()
}

// block is a parsed, ready-to-iterate block read back from an object or
// the block cache.
type block struct {
	entriesLen uint32
	data       []byte // entries section only
	filter     *bloom.Filter
	restarts   []uint32
}

// parseBlock validates the checksum and splits a raw block into its
// sections. Corruption here is fatal for the containing SST per spec §4.2.
func parseBlock(raw []byte) (*block, error) {
	if len(raw) < 16 {
		return nil, fmt.Errorf("sstable: block too short: %d bytes", len(raw))
	}
	trailer := raw[len(raw)-16:]
	entriesLen := binary.LittleEndian.Uint32(trailer[0:4])
	filterLen := binary.LittleEndian.Uint32(trailer[4:8])
	restartCount := binary.LittleEndian.Uint32(trailer[8:12])
	wantChecksum := binary.LittleEndian.Uint32(trailer[12:16])

	body := raw[:len(raw)-16]
	gotChecksum := crc32.ChecksumIEEE(body)
	if gotChecksum != wantChecksum {
		return nil, fmt.Errorf("sstable: block checksum mismatch: got %#x want %#x", gotChecksum, wantChecksum)
	}

	if uint32(len(body)) < entriesLen+filterLen+restartCount*4 {
		return nil, fmt.Errorf("sstable: block section lengths overflow block size")
	}

	filterStart := entriesLen
	filterEnd := filterStart + filterLen
	restartStart := filterEnd

	restarts := make([]uint32, restartCount)
	for i := uint32(0); i < restartCount; i++ {
		off := restartStart + i*4
		restarts[i] = binary.LittleEndian.Uint32(body[off : off+4])
	}

	return &block{
		entriesLen: entriesLen,
		data:       body[:entriesLen],
		filter:     bloom.Unmarshal(body[filterStart:filterEnd]),
		restarts:   restarts,
	}, nil
}

// decodedEntry is one fully-materialized entry read out of a block.
type decodedEntry struct {
	fullKey []byte
	value   key.Value
}

// entriesBetween decodes every entry from restart point startRestart up
// to restart point endRestart (or the end of the block), reconstructing
// prefix-compressed keys against the restart's full key.
func (b *block) entriesBetween(startRestart, endRestart int) ([]decodedEntry, error) {
	start := 0
	if startRestart > 0 {
		start = int(b.restarts[startRestart])
	}
	end := len(b.data)
	if endRestart < len(b.restarts) {
		end = int(b.restarts[endRestart])
	}

	var out []decodedEntry
	var lastKey []byte
	pos := start
	for pos < end {
		shared, n1 := binary.Uvarint(b.data[pos:])
		if n1 <= 0 {
			return nil, fmt.Errorf("sstable: corrupt entry header (shared)")
		}
		pos += n1
		unsharedLen, n2 := binary.Uvarint(b.data[pos:])
		if n2 <= 0 {
			return nil, fmt.Errorf("sstable: corrupt entry header (unshared)")
		}
		pos += n2
		valueLen, n3 := binary.Uvarint(b.data[pos:])
		if n3 <= 0 {
			return nil, fmt.Errorf("sstable: corrupt entry header (value len)")
		}
		pos += n3

		if pos+int(unsharedLen) > len(b.data) {
			return nil, fmt.Errorf("sstable: corrupt entry: unshared key overruns block")
		}
		unshared := b.data[pos : pos+int(unsharedLen)]
		pos += int(unsharedLen)

		fullKey := make([]byte, int(shared)+len(unshared))
		copy(fullKey, lastKey[:shared])
		copy(fullKey[shared:], unshared)

		if pos >= len(b.data) {
			return nil, fmt.Errorf("sstable: corrupt entry: missing value kind")
		}
		kind := key.ValueKind(b.data[pos])
		pos++

		if pos+int(valueLen) > len(b.data) {
			return nil, fmt.Errorf("sstable: corrupt entry: value overruns block")
		}
		value := b.data[pos : pos+int(valueLen)]
		pos += int(valueLen)

		out = append(out, decodedEntry{fullKey: fullKey, value: key.Value{Kind: kind, Data: value}})
		lastKey = fullKey
	}
	return out, nil
}

// allEntries decodes every entry in the block, in ascending order.
func (b *block) allEntries() ([]decodedEntry, error) {
	return b.entriesBetween(0, len(b.restarts))
}

// mayContainUserKey probes the block's bloom filter before a caller pays
// for a full decode.
func (b *block) mayContainUserKey(userKey []byte) bool {
	return b.filter.MayContain(userKey)
}

// Block is the exported name for a parsed data block, used by the block
// cache (pkg/blockcache) to store and the iterator to scan.
type Block = block

// ParseBlock validates and decodes a raw block, as read from an SST
// object or the block cache.
func ParseBlock(raw []byte) (*Block, error) { return parseBlock(raw) }

// MayContainUserKey probes the block's bloom filter.
func (b *Block) MayContainUserKey(userKey []byte) bool { return b.mayContainUserKey(userKey) }

// AllEntries decodes every entry in the block in ascending order.
func (b *Block) AllEntries() ([]Entry, error) {
	es, err := b.allEntries()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, len(es))
	for i, e := range es {
		out[i] = Entry{FullKey: e.fullKey, Value: e.value}
	}
	return out, nil
}

// Entry is one exported, fully-materialized full-key/value pair.
type Entry struct {
	FullKey []byte
	Value   key.Value
}
