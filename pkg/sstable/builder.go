package sstable

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/cascadedb/cascade/pkg/key"
)

// magicHeader opens every SST object; magicTrailer closes it. Corruption
// detection starts with these two constants failing to match.
var magicHeader = [4]byte{'C', 'S', 'S', 'T'}
var magicTrailer = uint64(0xCA5CADE0_DB000001)

// indexEntry locates one block within the SST: its first key (for
// seeking) and its byte range.
type indexEntry struct {
	firstKey []byte
	offset   uint32
	length   uint32
}

// Meta describes an immutable SST independent of where its bytes live.
// Hummock's version model (pkg/hummock) embeds this alongside an object
// id and level.
type Meta struct {
	SmallestKey []byte
	LargestKey  []byte
	KeyCount    int
	TableIDMin  key.TableID
	TableIDMax  key.TableID
	FileSize    int
}

// Builder accepts full-key/value pairs in strictly ascending order and
// produces one immutable SST. Once built it is never modified, matching
// spec §3's "once written it is never modified" invariant.
type Builder struct {
	blocks      bytes.Buffer
	index       []indexEntry
	cur         *blockBuilder
	curFirstKey []byte
	lastKey     []byte
	keyCount    int
	smallest    []byte
	largest     []byte
	tableMin    key.TableID
	tableMax    key.TableID
	started     bool
}

// NewBuilder creates an empty SST builder. expectedKeysPerBlock sizes the
// first block's bloom filter; it need not be exact. Every later block's
// filter is sized for restartInterval*4 keys.
func NewBuilder(expectedKeysPerBlock int) *Builder {
	b := &Builder{}
	b.cur = newBlockBuilder(expectedKeysPerBlock)
	return b
}

// Add appends one full-key/value pair. fullKey must be strictly greater
// than every previously added key (callers run it through a merge
// iterator with MVCC resolution first).
func (b *Builder) Add(fullKey []byte, v key.Value) error {
	if b.lastKey != nil && key.Compare(fullKey, b.lastKey) <= 0 {
		return fmt.Errorf("sstable: keys must be added in strictly ascending order")
	}
	if b.cur.empty() {
		b.curFirstKey = append([]byte(nil), fullKey...)
	}
	b.cur.add(fullKey, v)
	b.lastKey = append(b.lastKey[:0], fullKey...)

	if !b.started {
		b.smallest = append([]byte(nil), fullKey...)
		b.started = true
	}
	b.largest = append(b.largest[:0], fullKey...)
	b.keyCount++

	if fk, err := key.Decode(fullKey); err == nil {
		if b.keyCount == 1 || fk.TableID < b.tableMin {
			b.tableMin = fk.TableID
		}
		if fk.TableID > b.tableMax {
			b.tableMax = fk.TableID
		}
	}

	if b.cur.approxSize() >= targetBlockSize {
		b.flushBlock()
	}
	return nil
}

func (b *Builder) flushBlock() {
	if b.cur.empty() {
		return
	}
	raw := b.cur.finish()
	offset := uint32(b.blocks.Len())
	b.blocks.Write(raw)
	b.index = append(b.index, indexEntry{
		firstKey: b.curFirstKey,
		offset:   offset,
		length:   uint32(len(raw)),
	})
	b.cur = newBlockBuilder(restartInterval * 4)
	b.curFirstKey = nil
}

// Finish flushes any pending block and serializes the whole SST,
// returning its raw bytes and metadata. An empty builder (no Add calls)
// produces a valid, empty SST — spec §8 requires committing an empty
// epoch to still be representable.
func (b *Builder) Finish() ([]byte, Meta, error) {
	b.flushBlock()

	var out bytes.Buffer
	out.Write(magicHeader[:])
	out.Write(b.blocks.Bytes())

	indexOffset := uint32(out.Len())
	for _, e := range b.index {
		putUvarint(&out, uint64(len(e.firstKey)))
		out.Write(e.firstKey)
		var tmp [8]byte
		binary.LittleEndian.PutUint32(tmp[0:4], e.offset)
		binary.LittleEndian.PutUint32(tmp[4:8], e.length)
		out.Write(tmp[:])
	}
	indexLen := uint32(out.Len()) - indexOffset

	footerStart := out.Len()
	footer := make([]byte, 0, 40)
	footer = binary.LittleEndian.AppendUint32(footer, indexOffset)
	footer = binary.LittleEndian.AppendUint32(footer, indexLen)
	footer = binary.LittleEndian.AppendUint32(footer, uint32(len(b.index)))
	footer = binary.LittleEndian.AppendUint32(footer, uint32(b.keyCount))
	footer = binary.LittleEndian.AppendUint32(footer, uint32(b.tableMin))
	footer = binary.LittleEndian.AppendUint32(footer, uint32(b.tableMax))
	checksum := crc32.ChecksumIEEE(out.Bytes()[:footerStart])
	footer = binary.LittleEndian.AppendUint32(footer, checksum)
	footer = binary.LittleEndian.AppendUint64(footer, magicTrailer)
	out.Write(footer)

	meta := Meta{
		SmallestKey: b.smallest,
		LargestKey:  b.largest,
		KeyCount:    b.keyCount,
		TableIDMin:  b.tableMin,
		TableIDMax:  b.tableMax,
		FileSize:    out.Len(),
	}
	return out.Bytes(), meta, nil
}
