package miter

import (
	"container/heap"

	"github.com/cascadedb/cascade/pkg/key"
)

// SourceIter is the common shape of every input to a merge: SST
// iterators (pkg/sstable), shared-buffer snapshots, and pending uploads
// all expose Key/Value/Next/IsValid, so the merge doesn't need to know
// which kind of source it is reading from.
type SourceIter interface {
	IsValid() bool
	Key() []byte
	Value() key.Value
	Next() error
}

// Entry is one full-key/value pair, the shape every in-memory source
// (shared-buffer scans, pending-upload snapshots) feeds into a SliceIter.
type Entry struct {
	FullKey []byte
	Value   key.Value
}

// SliceIter adapts a pre-sorted (ascending full-key) slice of entries
// into a SourceIter, for merging in-memory sources that have no natural
// iterator of their own.
type SliceIter struct {
	entries []Entry
	pos     int
}

// NewSliceIter wraps entries, which must already be in ascending
// full-key order.
func NewSliceIter(entries []Entry) *SliceIter { return &SliceIter{entries: entries} }

func (s *SliceIter) IsValid() bool    { return s.pos < len(s.entries) }
func (s *SliceIter) Key() []byte      { return s.entries[s.pos].FullKey }
func (s *SliceIter) Value() key.Value { return s.entries[s.pos].Value }
func (s *SliceIter) Next() error      { s.pos++; return nil }

// heapEntry pairs a source with its index, so Pop from the heap tells us
// which underlying iterator to advance next.
type heapEntry struct {
	src SourceIter
	idx int // sequence number among sources given to New, newest-first
}

type minHeap []heapEntry

func (h minHeap) Len() int { return len(h) }
func (h minHeap) Less(i, j int) bool {
	c := key.Compare(h[i].src.Key(), h[j].src.Key())
	if c != 0 {
		return c < 0
	}
	// Equal full keys (same table/vnode/user-key/epoch) can only happen
	// across sources, e.g. a compaction input SST and an overlapping one;
	// break ties by source recency so the newest source's copy wins when
	// MVCC resolution later also sees equal user keys.
	return h[i].idx < h[j].idx
}
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)        { *h = append(*h, x.(heapEntry)) }
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Merge produces one ascending full-key stream out of multiple ascending
// sources, applying MVCC resolution: for each distinct
// user key, only the newest version at or below ReadEpoch is kept, and
// is dropped entirely if that newest version is a delete — unless
// DropTombstones is false, in which case the tombstone itself is kept
// (a non-bottom-level compaction must still carry it forward so an
// older SST's now-shadowed value stays shadowed).
type Merge struct {
	heap           minHeap
	readEpoch      key.Epoch
	dropTombstones bool

	curKey   []byte
	curValue key.Value
	valid    bool
}

// New builds a merge iterator over sources, which must already be
// positioned (via Rewind or Seek) before being passed in. Sources are
// given newest-first: index 0 wins ties against index 1, etc. This
// matters when a shared-buffer snapshot and a persisted SST can disagree
// on the same exact full key only across flush/compaction races, which
// in-order replay never actually produces, but ties broken consistently
// keep Merge deterministic regardless.
func New(sources []SourceIter, readEpoch key.Epoch, dropTombstones bool) *Merge {
	m := &Merge{readEpoch: readEpoch, dropTombstones: dropTombstones}
	for i, s := range sources {
		if s.IsValid() {
			m.heap = append(m.heap, heapEntry{src: s, idx: i})
		}
	}
	heap.Init(&m.heap)
	m.advance()
	return m
}

// IsValid reports whether the merge currently sits on a resolved entry.
func (m *Merge) IsValid() bool { return m.valid }

// Key returns the current resolved full key (the key of the version
// resolution picked for this user key, so callers that need its epoch
// can read it back out).
func (m *Merge) Key() []byte { return m.curKey }

// Value returns the current resolved value.
func (m *Merge) Value() key.Value { return m.curValue }

// Next advances to the next distinct user key's resolved entry.
func (m *Merge) Next() error {
	if !m.valid {
		return nil
	}
	return m.advance()
}

// advance pops entries off the heap until it has resolved the next
// user key the caller should see (skipping deleted/shadowed/
// read-epoch-excluded versions), or the heap runs dry.
func (m *Merge) advance() error {
	for {
		if m.heap.Len() == 0 {
			m.valid = false
			return nil
		}

		top := m.heap[0]
		groupKey := append([]byte(nil), top.src.Key()...)
		var winner key.Value
		var winnerKey []byte
		haveWinner := false

		// Drain every version of this user key across all sources,
		// keeping only the first one whose epoch is <= readEpoch (the
		// heap already yields them newest-epoch-first within a user key
		// because of the inverted-epoch encoding, so the first eligible
		// one found is the resolved version). winnerKey is that entry's
		// own full key, not groupKey's — groupKey only identifies which
		// entries belong to this drain, and is the newest version's key,
		// which can differ from the one actually selected as winner.
		for m.heap.Len() > 0 && key.SameUserKey(m.heap[0].src.Key(), groupKey) {
			e := m.heap[0]
			fk, err := key.Decode(e.src.Key())
			if err != nil {
				return err
			}
			if !haveWinner && fk.Epoch <= m.readEpoch {
				winner = e.src.Value()
				winnerKey = append([]byte(nil), e.src.Key()...)
				haveWinner = true
			}
			if err := e.src.Next(); err != nil {
				return err
			}
			if e.src.IsValid() {
				m.heap[0] = e
				heap.Fix(&m.heap, 0)
			} else {
				heap.Pop(&m.heap)
			}
		}

		if !haveWinner {
			continue
		}
		if winner.IsDelete() && m.dropTombstones {
			continue
		}
		m.curKey = winnerKey
		m.curValue = winner
		m.valid = true
		return nil
	}
}
