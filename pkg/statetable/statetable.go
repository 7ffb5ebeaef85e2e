package statetable

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/cascadedb/cascade/pkg/blockcache"
	"github.com/cascadedb/cascade/pkg/hummock"
	"github.com/cascadedb/cascade/pkg/hummock/localversion"
	"github.com/cascadedb/cascade/pkg/hummock/miter"
	"github.com/cascadedb/cascade/pkg/hummock/sharedbuffer"
	"github.com/cascadedb/cascade/pkg/key"
	"github.com/cascadedb/cascade/pkg/sstable"
)

// StateTable encodes a relational row at (table_id, vnode, pk_bytes) ->
// value_bytes. Writes are buffered against the shared
// buffer at the table's current write epoch; reads merge the live
// buffer with whatever has already been persisted into Hummock.
type StateTable struct {
	tableID key.TableID
	group   hummock.CompactionGroupID

	buf    *sharedbuffer.Buffer
	mirror *localversion.Mirror
	cache  *blockcache.Cache

	mu          sync.RWMutex
	writeEpoch  key.Epoch
	ownedVNodes map[key.VNode]bool
	watermarks  map[key.VNode][]byte
}

// New creates a state table over tableID. buf, mirror and cache are
// normally shared by every state table on a compute node.
func New(tableID key.TableID, buf *sharedbuffer.Buffer, mirror *localversion.Mirror, cache *blockcache.Cache) *StateTable {
	return &StateTable{
		tableID:     tableID,
		group:       hummock.GroupOf(tableID),
		buf:         buf,
		mirror:      mirror,
		cache:       cache,
		ownedVNodes: make(map[key.VNode]bool),
		watermarks:  make(map[key.VNode][]byte),
	}
}

// fullKeyFor builds the full key for one row at the table's current
// write epoch.
func (t *StateTable) fullKeyFor(vnode key.VNode, pk []byte) []byte {
	t.mu.RLock()
	epoch := t.writeEpoch
	t.mu.RUnlock()
	return key.Encode(key.FullKey{TableID: t.tableID, VNode: vnode, UserKey: pk, Epoch: epoch})
}

// Insert buffers a row write for the current write epoch.
func (t *StateTable) Insert(vnode key.VNode, pk, value []byte) {
	t.buf.Put(t.tableID, vnode, t.fullKeyFor(vnode, pk), key.Value{Kind: key.Put, Data: value})
}

// Update replaces a row's value; old is accepted for symmetry with the
// operators that compute retractions from it, but the row store itself
// is upsert-keyed and does not need old's value to apply new.
func (t *StateTable) Update(vnode key.VNode, pk, _old, new []byte) {
	t.Insert(vnode, pk, new)
}

// Delete buffers a tombstone for pk at the current write epoch.
func (t *StateTable) Delete(vnode key.VNode, pk []byte) {
	t.buf.Put(t.tableID, vnode, t.fullKeyFor(vnode, pk), key.Value{Kind: key.Delete})
}

// Get performs a seek read: the newest version of pk visible at the
// table's current write epoch, merging the live buffer with persisted
// Hummock state.
func (t *StateTable) Get(ctx context.Context, vnode key.VNode, pk []byte) ([]byte, bool, error) {
	end := append(append([]byte(nil), pk...), 0xff)
	rows, err := t.Iter(ctx, vnode, pk, end)
	if err != nil {
		return nil, false, err
	}
	for _, r := range rows {
		if bytes.Equal(r.PK, pk) {
			return r.Value, true, nil
		}
	}
	return nil, false, nil
}

// Row is one resolved (pk, value) pair returned by Iter.
type Row struct {
	PK    []byte
	Value []byte
}

// Iter performs an ordered scan of [startPK, endPK) within one vnode. A
// nil bound is open-ended on that side. Callers that need a scan across
// vnodes iterate per vnode and merge themselves.
func (t *StateTable) Iter(ctx context.Context, vnode key.VNode, startPK, endPK []byte) ([]Row, error) {
	m, err := t.merge(ctx, vnode, startPK, endPK)
	if err != nil {
		return nil, err
	}
	var rows []Row
	for m.IsValid() {
		v := m.Value()
		if !v.IsDelete() {
			fk, err := key.Decode(m.Key())
			if err != nil {
				return nil, err
			}
			if endPK == nil || bytes.Compare(fk.UserKey, endPK) < 0 {
				rows = append(rows, Row{PK: append([]byte(nil), fk.UserKey...), Value: append([]byte(nil), v.Data...)})
			}
		}
		if err := m.Next(); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// Commit advances the write epoch. Buffered writes made before this call
// become visible to the sync triggered by the barrier that carries
// nextEpoch; the caller must invoke Commit in lockstep with the barrier
// it observes.
func (t *StateTable) Commit(nextEpoch key.Epoch) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeEpoch = nextEpoch
	for vnode, boundary := range t.watermarks {
		t.rangeDeleteLocked(vnode, boundary)
		delete(t.watermarks, vnode)
	}
}

// SetWatermark records that every row in vnode with a PK below boundary
// is eligible for cleanup at the next Commit. boundary must be order-preserving encoded
// the same way the operator's PKs are.
func (t *StateTable) SetWatermark(vnode key.VNode, boundary []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.watermarks[vnode]
	if !ok || string(boundary) > string(cur) {
		t.watermarks[vnode] = boundary
	}
}

// rangeDeleteLocked buffers a tombstone for every live row under
// boundary, buffered or persisted, bounding state size for windowed
// operators. Must be called with mu held.
func (t *StateTable) rangeDeleteLocked(vnode key.VNode, boundary []byte) {
	m, err := t.mergeAt(context.Background(), vnode, nil, boundary, t.writeEpoch)
	for ; err == nil && m.IsValid(); err = m.Next() {
		fk, err := key.Decode(m.Key())
		if err != nil || bytes.Compare(fk.UserKey, boundary) >= 0 {
			continue
		}
		t.buf.Put(t.tableID, vnode, key.Encode(key.FullKey{TableID: t.tableID, VNode: vnode, UserKey: fk.UserKey, Epoch: t.writeEpoch}), key.Value{Kind: key.Delete})
	}
}

// UpdateVnodeBitmap is called during scale mutations: the state table
// discards any bookkeeping it held for vnodes it no longer owns. It does
// not evict the shared block cache (pkg/blockcache), which is keyed by
// object rather than vnode and serves every table on the node.
func (t *StateTable) UpdateVnodeBitmap(owned []key.VNode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := make(map[key.VNode]bool, len(owned))
	for _, v := range owned {
		next[v] = true
	}
	for v := range t.watermarks {
		if !next[v] {
			delete(t.watermarks, v)
		}
	}
	t.ownedVNodes = next
}

// merge builds a miter.Merge over the live shared buffer and every
// overlapping persisted SST for (vnode, [startPK, endPK)).
func (t *StateTable) merge(ctx context.Context, vnode key.VNode, startPK, endPK []byte) (*miter.Merge, error) {
	t.mu.RLock()
	readEpoch := t.writeEpoch
	t.mu.RUnlock()
	return t.mergeAt(ctx, vnode, startPK, endPK, readEpoch)
}

// mergeAt is merge at an explicit read epoch; it does not take mu.
func (t *StateTable) mergeAt(ctx context.Context, vnode key.VNode, startPK, endPK []byte, readEpoch key.Epoch) (*miter.Merge, error) {
	bufEntries := t.buf.Scan(t.tableID, vnode, startPK, endPK)
	miterEntries := make([]miter.Entry, len(bufEntries))
	for i, e := range bufEntries {
		miterEntries[i] = miter.Entry{FullKey: e.FullKey, Value: e.Value}
	}
	sources := []miter.SourceIter{miter.NewSliceIter(miterEntries)}

	startFull := key.Encode(key.FullKey{TableID: t.tableID, VNode: vnode, UserKey: startPK, Epoch: ^key.Epoch(0)})
	var endFull []byte
	if endPK != nil {
		endFull = key.Encode(key.FullKey{TableID: t.tableID, VNode: vnode, UserKey: endPK, Epoch: 0})
	}

	v := t.mirror.Current()
	gv := v.Group(t.group)
	for _, level := range gv.Levels {
		for _, sst := range level {
			if endFull != nil && key.Compare(sst.SmallestKey, endFull) >= 0 {
				continue
			}
			if key.Compare(sst.LargestKey, startFull) < 0 {
				continue
			}
			idx, err := t.cache.Index(ctx, sst.ObjectID)
			if err != nil {
				return nil, fmt.Errorf("statetable: load index for object %d: %w", sst.ObjectID, err)
			}
			src := blockcache.NewSource(ctx, t.cache, sst.ObjectID, idx)
			it := sstable.NewIteratorWithSource(idx, src, false)
			if err := it.Seek(startFull); err != nil {
				return nil, fmt.Errorf("statetable: seek object %d: %w", sst.ObjectID, err)
			}
			sources = append(sources, &boundedIter{inner: it, end: endFull})
		}
	}

	return miter.New(sources, readEpoch, true), nil
}

// boundedIter stops a SourceIter once it reaches an exclusive end bound,
// so Iter/Get never read past the requested PK range even though the
// underlying SST iterator has no notion of range bounds itself.
type boundedIter struct {
	inner *sstable.Iterator
	end   []byte
}

func (b *boundedIter) IsValid() bool {
	if !b.inner.IsValid() {
		return false
	}
	if b.end != nil && key.Compare(b.inner.Key(), b.end) >= 0 {
		return false
	}
	return true
}

func (b *boundedIter) Key() []byte       { return b.inner.Key() }
func (b *boundedIter) Value() key.Value  { return b.inner.Value() }
func (b *boundedIter) Next() error       { return b.inner.Next() }
