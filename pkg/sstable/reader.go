package sstable

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/cascadedb/cascade/pkg/key"
)

// Index is the parsed footer + block index of an SST: everything needed
// to seek into it without touching a data block. This is what the meta
// cache (pkg/blockcache) holds, since it is small relative to the data.
type Index struct {
	Meta    Meta
	entries []indexEntry
}

// NumBlocks reports how many data blocks the SST has.
func (idx *Index) NumBlocks() int { return len(idx.entries) }

// ParseIndex validates the header/footer magic and checksum and parses
// the block index out of a complete SST byte slice. Any failure here is
// corruption per spec §4.2 and is fatal for the SST.
func ParseIndex(data []byte) (*Index, error) {
	if len(data) < 4+36 {
		return nil, fmt.Errorf("sstable: object too small to be a valid SST: %d bytes", len(data))
	}
	if string(data[0:4]) != string(magicHeader[:]) {
		return nil, fmt.Errorf("sstable: bad magic header")
	}

	footer := data[len(data)-36:]
	indexOffset := binary.LittleEndian.Uint32(footer[0:4])
	indexLen := binary.LittleEndian.Uint32(footer[4:8])
	numEntries := binary.LittleEndian.Uint32(footer[8:12])
	keyCount := binary.LittleEndian.Uint32(footer[12:16])
	tableMin := binary.LittleEndian.Uint32(footer[16:20])
	tableMax := binary.LittleEndian.Uint32(footer[20:24])
	wantChecksum := binary.LittleEndian.Uint32(footer[24:28])
	trailer := binary.LittleEndian.Uint64(footer[28:36])

	if trailer != magicTrailer {
		return nil, fmt.Errorf("sstable: bad magic trailer")
	}
	footerBodyEnd := len(data) - 36
	gotChecksum := crc32.ChecksumIEEE(data[:footerBodyEnd])
	if gotChecksum != wantChecksum {
		return nil, fmt.Errorf("sstable: footer checksum mismatch: got %#x want %#x", gotChecksum, wantChecksum)
	}

	indexBytes := data[indexOffset : indexOffset+indexLen]
	entries := make([]indexEntry, 0, numEntries)
	pos := 0
	for i := uint32(0); i < numEntries; i++ {
		firstKeyLen, n := binary.Uvarint(indexBytes[pos:])
		if n <= 0 {
			return nil, fmt.Errorf("sstable: corrupt index entry %d", i)
		}
		pos += n
		firstKey := append([]byte(nil), indexBytes[pos:pos+int(firstKeyLen)]...)
		pos += int(firstKeyLen)
		offset := binary.LittleEndian.Uint32(indexBytes[pos : pos+4])
		length := binary.LittleEndian.Uint32(indexBytes[pos+4 : pos+8])
		pos += 8
		entries = append(entries, indexEntry{firstKey: firstKey, offset: offset, length: length})
	}

	var smallest, largest []byte
	if len(entries) > 0 {
		smallest = entries[0].firstKey
		last, err := readBlockAt(data, entries[len(entries)-1])
		if err == nil {
			if all, err2 := last.allEntries(); err2 == nil && len(all) > 0 {
				largest = all[len(all)-1].fullKey
			}
		}
	}

	return &Index{
		Meta: Meta{
			SmallestKey: smallest,
			LargestKey:  largest,
			KeyCount:    int(keyCount),
			TableIDMin:  key.TableID(tableMin),
			TableIDMax:  key.TableID(tableMax),
			FileSize:    len(data),
		},
		entries: entries,
	}, nil
}

func readBlockAt(data []byte, e indexEntry) (*block, error) {
	raw := data[4+e.offset : 4+e.offset+e.length]
	return parseBlock(raw)
}

// BlockRaw returns the raw (still-checksummed) bytes of block i, for the
// block cache to store and parse on demand.
func (idx *Index) BlockRaw(data []byte, i int) []byte {
	e := idx.entries[i]
	return data[4+e.offset : 4+e.offset+e.length]
}

// FirstKeyOf returns the first full key of block i, as recorded in the
// index, without touching the block's bytes.
func (idx *Index) FirstKeyOf(i int) []byte { return idx.entries[i].firstKey }

// FindBlock returns the index of the last block whose first key is <=
// target, i.e. the block that would contain target if present. It
// returns -1 if target is smaller than every block's first key.
func (idx *Index) FindBlock(target []byte) int {
	lo, hi := 0, len(idx.entries)-1
	res := -1
	for lo <= hi {
		mid := (lo + hi) / 2
		if key.Compare(idx.entries[mid].firstKey, target) <= 0 {
			res = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return res
}
