package sstable

import "github.com/cascadedb/cascade/pkg/key"

// BlockSource fetches and parses a data block by index. pkg/blockcache
// implements the cached path; NewIterator uses the raw in-memory path
// below for tests and small standalone readers.
type BlockSource interface {
	Block(i int) (*Block, error)
}

// rawBlockSource reads blocks straight out of an in-memory SST image,
// bypassing the block cache. Used by NewIterator and by tests.
type rawBlockSource struct {
	idx  *Index
	data []byte
}

func (s *rawBlockSource) Block(i int) (*Block, error) {
	raw := s.idx.BlockRaw(s.data, i)
	return ParseBlock(raw)
}

// Iterator scans one SST's entries in full-key order (ascending or
// descending), per spec §4.2: seek(full_key), next(), rewind(), is_valid().
// Both directions decode a whole block forward into memory when they load
// it; a reverse iterator then walks the decoded entries backward. Restart
// points are not used for seeking or for reverse scans.
type Iterator struct {
	idx     *Index
	src     BlockSource
	reverse bool

	blockIdx int
	entries  []Entry
	pos      int
	valid    bool
}

// NewIterator builds a forward iterator directly over raw SST bytes and
// its parsed index, without a block cache.
func NewIterator(idx *Index, data []byte) *Iterator {
	return newIterator(idx, &rawBlockSource{idx: idx, data: data}, false)
}

// NewReverseIterator builds a reverse iterator directly over raw SST bytes.
func NewReverseIterator(idx *Index, data []byte) *Iterator {
	return newIterator(idx, &rawBlockSource{idx: idx, data: data}, true)
}

// NewIteratorWithSource builds an iterator backed by an arbitrary block
// source, e.g. a block-cache-backed one from pkg/blockcache.
func NewIteratorWithSource(idx *Index, src BlockSource, reverse bool) *Iterator {
	return newIterator(idx, src, reverse)
}

func newIterator(idx *Index, src BlockSource, reverse bool) *Iterator {
	return &Iterator{idx: idx, src: src, reverse: reverse, blockIdx: -1}
}

// IsValid reports whether the iterator currently sits on an entry.
func (it *Iterator) IsValid() bool { return it.valid }

// Key returns the full key at the current position. Valid only when
// IsValid is true.
func (it *Iterator) Key() []byte { return it.entries[it.pos].FullKey }

// Value returns the value at the current position. Valid only when
// IsValid is true.
func (it *Iterator) Value() key.Value { return it.entries[it.pos].Value }

// Rewind positions the iterator at the first entry in its scan direction
// (the smallest full key for a forward iterator, the largest for reverse).
func (it *Iterator) Rewind() error {
	if it.idx.NumBlocks() == 0 {
		it.valid = false
		return nil
	}
	if it.reverse {
		return it.loadBlock(it.idx.NumBlocks()-1, -1)
	}
	return it.loadBlock(0, 0)
}

// Next advances to the next entry in the iterator's scan direction.
func (it *Iterator) Next() error {
	if !it.valid {
		return nil
	}
	if it.reverse {
		it.pos--
		if it.pos >= 0 {
			return nil
		}
		return it.loadBlock(it.blockIdx-1, -1)
	}
	it.pos++
	if it.pos < len(it.entries) {
		return nil
	}
	return it.loadBlock(it.blockIdx+1, 0)
}

// Seek positions a forward iterator at the first entry with full key >=
// target, or a reverse iterator at the last entry with full key <= target.
// It reports IsValid() == false if no such entry exists.
func (it *Iterator) Seek(target []byte) error {
	if it.idx.NumBlocks() == 0 {
		it.valid = false
		return nil
	}
	bi := it.idx.FindBlock(target)
	if it.reverse {
		if bi < 0 {
			it.valid = false
			return nil
		}
	} else if bi < 0 {
		bi = 0
	}

	if err := it.loadBlockEntries(bi); err != nil {
		return err
	}
	if !it.valid {
		return nil
	}

	if it.reverse {
		p := len(it.entries) - 1
		for p >= 0 && key.Compare(it.entries[p].FullKey, target) > 0 {
			p--
		}
		if p < 0 {
			return it.loadBlock(bi-1, -1)
		}
		it.pos = p
		return nil
	}

	p := 0
	for p < len(it.entries) && key.Compare(it.entries[p].FullKey, target) < 0 {
		p++
	}
	if p >= len(it.entries) {
		return it.loadBlock(bi+1, 0)
	}
	it.pos = p
	return nil
}

// loadBlock loads blockIdx's entries and positions at startPos (-1 means
// "last entry", used by reverse scans). It walks to the next/previous
// block if startPos falls outside the block's range, and reports
// IsValid() == false once it runs off either end of the SST.
func (it *Iterator) loadBlock(blockIdx, startPos int) error {
	if blockIdx < 0 || blockIdx >= it.idx.NumBlocks() {
		it.valid = false
		it.entries = nil
		return nil
	}
	if err := it.loadBlockEntries(blockIdx); err != nil {
		return err
	}
	if len(it.entries) == 0 {
		if it.reverse {
			return it.loadBlock(blockIdx-1, -1)
		}
		return it.loadBlock(blockIdx+1, 0)
	}
	if startPos < 0 {
		startPos = len(it.entries) - 1
	}
	it.pos = startPos
	it.valid = true
	return nil
}

func (it *Iterator) loadBlockEntries(blockIdx int) error {
	b, err := it.src.Block(blockIdx)
	if err != nil {
		return err
	}
	entries, err := b.AllEntries()
	if err != nil {
		return err
	}
	it.blockIdx = blockIdx
	it.entries = entries
	it.valid = len(entries) > 0
	it.pos = 0
	return nil
}
