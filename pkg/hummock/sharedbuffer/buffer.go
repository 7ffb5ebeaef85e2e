package sharedbuffer

import (
	"sort"
	"sync"

	"github.com/cascadedb/cascade/pkg/key"
)

// FlushGranularity controls how a sealed generation is grouped into
// flush tasks.
// PerVnode is the default: one flush task per (table, vnode), matching
// the buffer's own write-time partitioning and producing many small
// SSTs with no cross-vnode read amplification. PerTable merges every
// vnode of a table into one task, trading fewer/larger SSTs for the
// coarser write amplification of rewriting a whole table's worth of
// data per flush.
type FlushGranularity int

const (
	PerVnode FlushGranularity = iota
	PerTable
)

type shardKey struct {
	Table key.TableID
	VNode key.VNode
}

// shard is one (table, vnode)'s live writes for the current generation.
// A plain mutex-guarded map stands in for the "skiplist-style" structure
// an ordered skiplist would give; entries are sorted only at seal time, when the
// buffer is about to be iterated in full-key order for upload, so hot
// writers never pay an ordered-insert cost.
type shard struct {
	mu   sync.Mutex
	data map[string]key.Value
}

// Buffer is the in-memory write buffer actors write into for the
// current, not-yet-committed epoch. Disjoint (table, vnode) shards never
// contend.
type Buffer struct {
	granularity FlushGranularity

	mu        sync.RWMutex
	shards    map[shardKey]*shard
	generation uint64
}

// New creates an empty shared buffer.
func New(granularity FlushGranularity) *Buffer {
	return &Buffer{granularity: granularity, shards: make(map[shardKey]*shard)}
}

func (b *Buffer) shardFor(table key.TableID, vnode key.VNode) *shard {
	k := shardKey{Table: table, VNode: vnode}
	b.mu.RLock()
	s, ok := b.shards[k]
	b.mu.RUnlock()
	if ok {
		return s
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.shards[k]; ok {
		return s
	}
	s = &shard{data: make(map[string]key.Value)}
	b.shards[k] = s
	return s
}

// Put buffers one write for the current generation. fullKey must already
// be encoded for (table, vnode) — callers get table/vnode from the same
// FullKey they encoded, passed separately so Put never has to decode it
// back out on the hot path.
func (b *Buffer) Put(table key.TableID, vnode key.VNode, fullKey []byte, v key.Value) {
	s := b.shardFor(table, vnode)
	s.mu.Lock()
	s.data[string(fullKey)] = v
	s.mu.Unlock()
}

// Get performs a point read against the live buffer, for the merge path
// that resolves shared-buffer entries against pending uploads and the
// persisted version. fullKey must encode the newest
// version a caller wants to consider; Get does not do MVCC resolution
// across multiple buffered versions of the same user key — the merge
// iterator (pkg/hummock/miter) does that across all sources.
func (b *Buffer) Get(table key.TableID, vnode key.VNode, fullKey []byte) (key.Value, bool) {
	s := b.shardFor(table, vnode)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[string(fullKey)]
	return v, ok
}

// Scan returns the live (not yet sealed) entries for one (table, vnode)
// shard whose user key falls in [startUserKey, endUserKey), in ascending
// full-key order. A nil bound is open-ended on that side. Used by
// pkg/statetable to merge buffered writes with persisted reads.
func (b *Buffer) Scan(table key.TableID, vnode key.VNode, startUserKey, endUserKey []byte) []Entry {
	s := b.shardFor(table, vnode)
	s.mu.Lock()
	raw := make([]Entry, 0, len(s.data))
	for fk, v := range s.data {
		raw = append(raw, Entry{FullKey: []byte(fk), Value: v})
	}
	s.mu.Unlock()

	out := raw[:0:0]
	for _, e := range raw {
		fk, err := key.Decode(e.FullKey)
		if err != nil {
			continue
		}
		if startUserKey != nil && string(fk.UserKey) < string(startUserKey) {
			continue
		}
		if endUserKey != nil && string(fk.UserKey) >= string(endUserKey) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return key.Compare(out[i].FullKey, out[j].FullKey) < 0 })
	return out
}

// Entry is one full-key/value pair read back out of a sealed generation.
type Entry struct {
	FullKey []byte
	Value   key.Value
}

// Sealed is an immutable snapshot of one generation's writes, frozen at
// the instant Seal was called. It is never mutated after being returned.
type Sealed struct {
	Generation  uint64
	Granularity FlushGranularity
	byShard     map[shardKey][]Entry
}

// Seal freezes the current generation and atomically starts a new,
// empty one so writers for the next epoch proceed without waiting for
// this generation's flush to finish uploading.
func (b *Buffer) Seal() *Sealed {
	b.mu.Lock()
	old := b.shards
	gen := b.generation
	b.shards = make(map[shardKey]*shard)
	b.generation++
	b.mu.Unlock()

	sealed := &Sealed{Generation: gen, Granularity: b.granularity, byShard: make(map[shardKey][]Entry, len(old))}
	for k, s := range old {
		s.mu.Lock()
		entries := make([]Entry, 0, len(s.data))
		for fk, v := range s.data {
			entries = append(entries, Entry{FullKey: []byte(fk), Value: v})
		}
		s.mu.Unlock()
		sort.Slice(entries, func(i, j int) bool { return key.Compare(entries[i].FullKey, entries[j].FullKey) < 0 })
		sealed.byShard[k] = entries
	}
	return sealed
}

// FlushTask is one ordered run of entries ready to become one SST,
// scoped per Granularity.
type FlushTask struct {
	Table   key.TableID
	VNode   key.VNode // only meaningful when Granularity == PerVnode
	Entries []Entry
}

// FlushTasks groups a sealed generation's entries per Granularity. Every
// returned task's Entries are already in ascending full-key order.
func (s *Sealed) FlushTasks() []FlushTask {
	if s.Granularity == PerTable {
		return s.flushTasksPerTable()
	}
	tasks := make([]FlushTask, 0, len(s.byShard))
	for k, entries := range s.byShard {
		if len(entries) == 0 {
			continue
		}
		tasks = append(tasks, FlushTask{Table: k.Table, VNode: k.VNode, Entries: entries})
	}
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Table != tasks[j].Table {
			return tasks[i].Table < tasks[j].Table
		}
		return tasks[i].VNode < tasks[j].VNode
	})
	return tasks
}

func (s *Sealed) flushTasksPerTable() []FlushTask {
	byTable := map[key.TableID][]Entry{}
	for k, entries := range s.byShard {
		byTable[k.Table] = append(byTable[k.Table], entries...)
	}
	tasks := make([]FlushTask, 0, len(byTable))
	for table, entries := range byTable {
		if len(entries) == 0 {
			continue
		}
		sort.Slice(entries, func(i, j int) bool { return key.Compare(entries[i].FullKey, entries[j].FullKey) < 0 })
		tasks = append(tasks, FlushTask{Table: table, Entries: entries})
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Table < tasks[j].Table })
	return tasks
}
