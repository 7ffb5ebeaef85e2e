package blockcache

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cascadedb/cascade/pkg/objectstore"
	"github.com/cascadedb/cascade/pkg/sstable"
)

// ObjectID identifies one immutable SST within an object store.
type ObjectID uint64

// ObjectKey is the object-store key an SST with the given id is stored
// under. Writers (compaction, the shared buffer flush path) go through
// hummock.ObjectKey, which returns this same key, so the cache and the
// store agree on naming.
func ObjectKey(id ObjectID) string {
	return fmt.Sprintf("sst/%020d.sst", id)
}

type blockKey struct {
	object ObjectID
	block  int
}

// Cache is the combined meta/block cache fronting an object store. A
// compute node holds one Cache shared by every table it serves.
//
// The meta cache holds one parsed Index per SST (small; every open SST's
// index is worth keeping resident). The block cache holds decoded data
// blocks and is bounded by total decoded bytes, not entry count, since
// blocks vary in size near target_block_size.
type Cache struct {
	store objectstore.Store

	metaMu sync.Mutex
	meta   *lru.Cache[ObjectID, *sstable.Index]

	blockMaxBytes int64

	blockMu    sync.Mutex
	blockBytes int64
	blocks     *lru.Cache[blockKey, *cachedBlock]
}

type cachedBlock struct {
	raw   []byte
	block *sstable.Block
}

// New creates a cache fronting store, holding up to metaEntries parsed
// indexes and up to blockBytes bytes of decoded block data.
func New(store objectstore.Store, metaEntries int, blockBytes int64) (*Cache, error) {
	meta, err := lru.New[ObjectID, *sstable.Index](metaEntries)
	if err != nil {
		return nil, fmt.Errorf("blockcache: create meta cache: %w", err)
	}
	c := &Cache{store: store, meta: meta, blockMaxBytes: blockBytes}

	// The block cache is evicted manually by byte budget (see evictLocked),
	// so it is constructed with an effectively unbounded entry count and a
	// no-op removal beyond bookkeeping golang-lru already does for us.
	blocks, err := lru.NewWithEvict[blockKey, *cachedBlock](1<<31-1, func(_ blockKey, v *cachedBlock) {
		c.blockBytes -= int64(len(v.raw))
	})
	if err != nil {
		return nil, fmt.Errorf("blockcache: create block cache: %w", err)
	}
	c.blocks = blocks
	return c, nil
}

// Index returns the parsed index for an SST, loading and caching it from
// the object store on a miss.
func (c *Cache) Index(ctx context.Context, id ObjectID) (*sstable.Index, error) {
	c.metaMu.Lock()
	if idx, ok := c.meta.Get(id); ok {
		c.metaMu.Unlock()
		return idx, nil
	}
	c.metaMu.Unlock()

	meta, err := c.store.Head(ctx, ObjectKey(id))
	if err != nil {
		return nil, fmt.Errorf("blockcache: head %d: %w", id, err)
	}
	// The footer is a fixed 36 bytes plus the index section; without
	// knowing the index size up front the whole object is read once on a
	// cold load, same as every engine in the pack does for a small
	// metadata section appended to a large immutable file.
	data, err := c.store.GetRange(ctx, ObjectKey(id), 0, meta.Size)
	if err != nil {
		return nil, fmt.Errorf("blockcache: read %d: %w", id, err)
	}
	idx, err := sstable.ParseIndex(data)
	if err != nil {
		return nil, fmt.Errorf("blockcache: parse index %d: %w", id, err)
	}

	c.metaMu.Lock()
	c.meta.Add(id, idx)
	c.metaMu.Unlock()
	return idx, nil
}

// Block returns a decoded data block, loading and caching it on a miss.
// idx must be the Index previously returned by Index for the same id.
func (c *Cache) Block(ctx context.Context, id ObjectID, idx *sstable.Index, i int) (*sstable.Block, error) {
	k := blockKey{object: id, block: i}

	c.blockMu.Lock()
	if cb, ok := c.blocks.Get(k); ok {
		c.blockMu.Unlock()
		return cb.block, nil
	}
	c.blockMu.Unlock()

	meta, err := c.store.Head(ctx, ObjectKey(id))
	if err != nil {
		return nil, fmt.Errorf("blockcache: head %d: %w", id, err)
	}
	full, err := c.store.GetRange(ctx, ObjectKey(id), 0, meta.Size)
	if err != nil {
		return nil, fmt.Errorf("blockcache: read %d: %w", id, err)
	}
	raw := idx.BlockRaw(full, i)
	block, err := sstable.ParseBlock(raw)
	if err != nil {
		return nil, fmt.Errorf("blockcache: parse block %d/%d: %w", id, i, err)
	}

	c.blockMu.Lock()
	c.evictLocked(int64(len(raw)))
	c.blocks.Add(k, &cachedBlock{raw: raw, block: block})
	c.blockBytes += int64(len(raw))
	c.blockMu.Unlock()

	return block, nil
}

// evictLocked removes the least-recently-used blocks until adding
// incoming bytes would still fit within the configured budget. Must be
// called with blockMu held.
func (c *Cache) evictLocked(incoming int64) {
	for c.blockBytes+incoming > c.blockMaxBytes {
		if _, _, ok := c.blocks.RemoveOldest(); !ok {
			return
		}
	}
}

// Source adapts a Cache into an sstable iterator block source for one SST,
// so Iterator.Seek/Next pull decoded blocks through the cache instead of
// re-reading the object store on every call.
type Source struct {
	ctx   context.Context
	cache *Cache
	id    ObjectID
	idx   *sstable.Index
}

// NewSource builds a cached block source for id, usable with
// sstable.NewIteratorWithSource.
func NewSource(ctx context.Context, cache *Cache, id ObjectID, idx *sstable.Index) *Source {
	return &Source{ctx: ctx, cache: cache, id: id, idx: idx}
}

// Block implements sstable.BlockSource.
func (s *Source) Block(i int) (*sstable.Block, error) {
	return s.cache.Block(s.ctx, s.id, s.idx, i)
}

var _ sstable.BlockSource = (*Source)(nil)
