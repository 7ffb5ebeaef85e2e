package subscription

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cascadedb/cascade/pkg/blockcache"
	"github.com/cascadedb/cascade/pkg/hummock"
	"github.com/cascadedb/cascade/pkg/hummock/miter"
	"github.com/cascadedb/cascade/pkg/key"
	"github.com/cascadedb/cascade/pkg/sstable"
)

// Op tags one row change a Diff call surfaces.
type Op int

const (
	OpInsert Op = iota
	OpDelete
	OpUpdate
)

func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpDelete:
		return "delete"
	case OpUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// Change is one (old_row, new_row, op) diff entry. OldRow is nil for
// OpInsert, NewRow is nil for OpDelete.
type Change struct {
	UserKey []byte
	Op      Op
	OldRow  []byte
	NewRow  []byte
}

// Reader diffs a table's rows between two committed epochs. It holds
// every Hummock version it has been shown (Observe) that it still needs
// to answer a Diff within the retained window.
type Reader struct {
	tableID key.TableID
	group   hummock.CompactionGroupID
	cache   *blockcache.Cache

	mu       sync.Mutex
	versions map[key.Epoch]*hummock.Version
	epochs   []key.Epoch // ascending, kept in sync with versions
	oldest   key.Epoch
}

// New builds a Reader over tableID. cache is normally shared with every
// other reader on the node (pkg/blockcache.Cache).
func New(tableID key.TableID, cache *blockcache.Cache) *Reader {
	return &Reader{
		tableID:  tableID,
		group:    hummock.GroupOf(tableID),
		cache:    cache,
		versions: make(map[key.Epoch]*hummock.Version),
	}
}

// Observe records v as the version current as of its committed epoch
// for this reader's table, the same push a subscription's pin keeps
// alive in the system this spec was distilled from. Versions are
// expected in increasing committed-epoch order, matching how Hummock
// commits are actually generated.
func (r *Reader) Observe(v *hummock.Version) {
	epoch := v.Group(r.group).CommittedEpoch
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.versions[epoch]; ok {
		return
	}
	r.versions[epoch] = v
	r.epochs = append(r.epochs, epoch)
}

// Retain drops every version below oldest and records oldest as the
// floor Diff refuses to seek under. A subscription's RetentionEpochs (pkg/meta/catalog) governs
// how far behind oldest is allowed to trail the latest commit.
func (r *Reader) Retain(oldest key.Epoch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.oldest = oldest
	kept := r.epochs[:0:0]
	for _, e := range r.epochs {
		if e >= oldest {
			kept = append(kept, e)
		} else {
			delete(r.versions, e)
		}
	}
	r.epochs = kept
}

// versionAtOrBefore returns the newest observed version committed at or
// before epoch.
func (r *Reader) versionAtOrBefore(epoch key.Epoch) (*hummock.Version, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := sort.Search(len(r.epochs), func(i int) bool { return r.epochs[i] > epoch })
	if i == 0 {
		return nil, false
	}
	return r.versions[r.epochs[i-1]], true
}

// Diff returns every row that changed in vnode between fromEpoch
// (exclusive) and toEpoch (inclusive).
func (r *Reader) Diff(ctx context.Context, vnode key.VNode, fromEpoch, toEpoch key.Epoch) ([]Change, error) {
	r.mu.Lock()
	oldest := r.oldest
	r.mu.Unlock()
	if fromEpoch < oldest {
		return nil, fmt.Errorf("subscription: fromEpoch %d is below the retained window (oldest %d)", fromEpoch, oldest)
	}

	oldVersion, ok := r.versionAtOrBefore(fromEpoch)
	if !ok {
		return nil, fmt.Errorf("subscription: no version observed at or before epoch %d", fromEpoch)
	}
	newVersion, ok := r.versionAtOrBefore(toEpoch)
	if !ok {
		return nil, fmt.Errorf("subscription: no version observed at or before epoch %d", toEpoch)
	}

	oldRows, err := r.scanAt(ctx, oldVersion, vnode, fromEpoch)
	if err != nil {
		return nil, fmt.Errorf("subscription: scan old epoch %d: %w", fromEpoch, err)
	}
	newRows, err := r.scanAt(ctx, newVersion, vnode, toEpoch)
	if err != nil {
		return nil, fmt.Errorf("subscription: scan new epoch %d: %w", toEpoch, err)
	}
	return diffRows(oldRows, newRows), nil
}

// rowState is one user key's resolved value at a given read epoch.
type rowState struct {
	userKey []byte
	value   key.Value
}

// scanAt resolves every row visible in vnode at readEpoch against
// version, keeping tombstones (dropTombstones=false) so a deleted row
// can still be told apart from a row that never existed.
func (r *Reader) scanAt(ctx context.Context, v *hummock.Version, vnode key.VNode, readEpoch key.Epoch) ([]rowState, error) {
	start, end := vnodeBounds(r.tableID, vnode)
	gv := v.Group(r.group)

	var sources []miter.SourceIter
	for _, level := range gv.Levels {
		for _, sst := range level {
			if !sst.Overlaps(start, end) {
				continue
			}
			idx, err := r.cache.Index(ctx, sst.ObjectID)
			if err != nil {
				return nil, fmt.Errorf("load index for object %d: %w", sst.ObjectID, err)
			}
			src := blockcache.NewSource(ctx, r.cache, sst.ObjectID, idx)
			it := sstable.NewIteratorWithSource(idx, src, false)
			if err := it.Seek(start); err != nil {
				return nil, fmt.Errorf("seek object %d: %w", sst.ObjectID, err)
			}
			sources = append(sources, &boundedIter{inner: it, end: end})
		}
	}

	m := miter.New(sources, readEpoch, false)
	var rows []rowState
	for m.IsValid() {
		fk, err := key.Decode(m.Key())
		if err != nil {
			return nil, err
		}
		rows = append(rows, rowState{userKey: append([]byte(nil), fk.UserKey...), value: m.Value()})
		if err := m.Next(); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// vnodeBounds returns the full-key range one vnode of a table occupies:
// [start, end), where end is the next vnode's (or next table's, at
// vnode 255) start.
func vnodeBounds(tableID key.TableID, vnode key.VNode) (start, end []byte) {
	start = key.Encode(key.FullKey{TableID: tableID, VNode: vnode, Epoch: ^key.Epoch(0)})
	if vnode < key.NumVNodes-1 {
		end = key.Encode(key.FullKey{TableID: tableID, VNode: vnode + 1, Epoch: ^key.Epoch(0)})
	} else {
		end = key.Encode(key.FullKey{TableID: tableID + 1, VNode: 0, Epoch: ^key.Epoch(0)})
	}
	return start, end
}

// diffRows merge-joins two ascending, user-key-sorted row lists and
// emits a Change for every key whose resolved existence or value
// differs between them.
func diffRows(oldRows, newRows []rowState) []Change {
	var changes []Change
	i, j := 0, 0
	for i < len(oldRows) || j < len(newRows) {
		switch {
		case j >= len(newRows) || (i < len(oldRows) && bytes.Compare(oldRows[i].userKey, newRows[j].userKey) < 0):
			if c, ok := changeFor(oldRows[i].userKey, oldRows[i].value, key.Value{Kind: key.Delete}); ok {
				changes = append(changes, c)
			}
			i++
		case i >= len(oldRows) || bytes.Compare(oldRows[i].userKey, newRows[j].userKey) > 0:
			if c, ok := changeFor(newRows[j].userKey, key.Value{Kind: key.Delete}, newRows[j].value); ok {
				changes = append(changes, c)
			}
			j++
		default:
			if c, ok := changeFor(oldRows[i].userKey, oldRows[i].value, newRows[j].value); ok {
				changes = append(changes, c)
			}
			i++
			j++
		}
	}
	return changes
}

// changeFor resolves one user key's old/new values into a Change, or
// reports ok=false when nothing actually changed (both sides absent, or
// identical live values).
func changeFor(userKey []byte, old, new key.Value) (Change, bool) {
	oldExists, newExists := !old.IsDelete(), !new.IsDelete()
	switch {
	case !oldExists && !newExists:
		return Change{}, false
	case !oldExists && newExists:
		return Change{UserKey: userKey, Op: OpInsert, NewRow: new.Data}, true
	case oldExists && !newExists:
		return Change{UserKey: userKey, Op: OpDelete, OldRow: old.Data}, true
	default:
		if bytes.Equal(old.Data, new.Data) {
			return Change{}, false
		}
		return Change{UserKey: userKey, Op: OpUpdate, OldRow: old.Data, NewRow: new.Data}, true
	}
}

// boundedIter stops a SourceIter once it reaches an exclusive end bound,
// the same helper pkg/statetable uses for range-bounded scans.
type boundedIter struct {
	inner *sstable.Iterator
	end   []byte
}

func (b *boundedIter) IsValid() bool {
	if !b.inner.IsValid() {
		return false
	}
	return b.end == nil || key.Compare(b.inner.Key(), b.end) < 0
}

func (b *boundedIter) Key() []byte      { return b.inner.Key() }
func (b *boundedIter) Value() key.Value { return b.inner.Value() }
func (b *boundedIter) Next() error      { return b.inner.Next() }
