package subscription

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cascadedb/cascade/pkg/blockcache"
	"github.com/cascadedb/cascade/pkg/hummock"
	"github.com/cascadedb/cascade/pkg/key"
	"github.com/cascadedb/cascade/pkg/objectstore"
	"github.com/cascadedb/cascade/pkg/sstable"
)

const testTable key.TableID = 42

// buildSST writes one SST containing entries (already in ascending
// full-key order) and returns the version produced by applying a delta
// that adds it at committedEpoch.
func buildSST(t *testing.T, store objectstore.Store, base *hummock.Version, objID blockcache.ObjectID, committedEpoch key.Epoch, entries []sstEntry) *hummock.Version {
	t.Helper()
	b := sstable.NewBuilder(8)
	for _, e := range entries {
		fk := key.Encode(key.FullKey{TableID: testTable, VNode: e.vnode, UserKey: e.userKey, Epoch: e.epoch})
		require.NoError(t, b.Add(fk, e.value))
	}
	data, meta, err := b.Finish()
	require.NoError(t, err)
	require.NoError(t, store.PutStreaming(context.Background(), blockcache.ObjectKey(objID), bytes.NewReader(data)))

	delta := hummock.Delta{
		Group:     hummock.GroupOf(testTable),
		AddedSSTs: []hummock.SSTInfo{hummock.MetaOf(objID, 0, meta)},
		NewEpoch:  committedEpoch,
	}
	return base.Apply(delta)
}

type sstEntry struct {
	vnode   key.VNode
	userKey []byte
	epoch   key.Epoch
	value   key.Value
}

func TestDiffReportsInsertUpdateAndDelete(t *testing.T) {
	store := objectstore.NewMemStore()
	cache, err := blockcache.New(store, 16, 1<<20)
	require.NoError(t, err)
	ctx := context.Background()

	v0 := hummock.NewVersion()
	v1 := buildSST(t, store, v0, 1, key.Epoch(100), []sstEntry{
		{vnode: 0, userKey: []byte("a"), epoch: key.Epoch(100), value: key.Value{Kind: key.Put, Data: []byte("1")}},
	})
	v2 := buildSST(t, store, v1, 2, key.Epoch(200), []sstEntry{
		{vnode: 0, userKey: []byte("a"), epoch: key.Epoch(200), value: key.Value{Kind: key.Put, Data: []byte("2")}},
		{vnode: 0, userKey: []byte("b"), epoch: key.Epoch(200), value: key.Value{Kind: key.Put, Data: []byte("5")}},
	})
	v3 := buildSST(t, store, v2, 3, key.Epoch(300), []sstEntry{
		{vnode: 0, userKey: []byte("a"), epoch: key.Epoch(300), value: key.Value{Kind: key.Delete}},
	})

	r := New(testTable, cache)
	r.Observe(v1)
	r.Observe(v2)
	r.Observe(v3)

	changes, err := r.Diff(ctx, key.VNode(0), key.Epoch(100), key.Epoch(200))
	require.NoError(t, err)
	require.Len(t, changes, 2)

	byKey := map[string]Change{}
	for _, c := range changes {
		byKey[string(c.UserKey)] = c
	}
	require.Equal(t, OpUpdate, byKey["a"].Op)
	require.Equal(t, []byte("1"), byKey["a"].OldRow)
	require.Equal(t, []byte("2"), byKey["a"].NewRow)
	require.Equal(t, OpInsert, byKey["b"].Op)
	require.Nil(t, byKey["b"].OldRow)
	require.Equal(t, []byte("5"), byKey["b"].NewRow)

	changes, err = r.Diff(ctx, key.VNode(0), key.Epoch(200), key.Epoch(300))
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, OpDelete, changes[0].Op)
	require.Equal(t, []byte("2"), changes[0].OldRow)
	require.Nil(t, changes[0].NewRow)
}

func TestDiffOmitsUnchangedRows(t *testing.T) {
	store := objectstore.NewMemStore()
	cache, err := blockcache.New(store, 16, 1<<20)
	require.NoError(t, err)
	ctx := context.Background()

	v0 := hummock.NewVersion()
	v1 := buildSST(t, store, v0, 1, key.Epoch(100), []sstEntry{
		{vnode: 0, userKey: []byte("a"), epoch: key.Epoch(100), value: key.Value{Kind: key.Put, Data: []byte("1")}},
	})

	r := New(testTable, cache)
	r.Observe(v1)

	changes, err := r.Diff(ctx, key.VNode(0), key.Epoch(100), key.Epoch(100))
	require.NoError(t, err)
	require.Empty(t, changes)
}

func TestDiffBelowRetainedWindowIsRejected(t *testing.T) {
	store := objectstore.NewMemStore()
	cache, err := blockcache.New(store, 16, 1<<20)
	require.NoError(t, err)
	ctx := context.Background()

	v0 := hummock.NewVersion()
	v1 := buildSST(t, store, v0, 1, key.Epoch(100), []sstEntry{
		{vnode: 0, userKey: []byte("a"), epoch: key.Epoch(100), value: key.Value{Kind: key.Put, Data: []byte("1")}},
	})
	v2 := buildSST(t, store, v1, 2, key.Epoch(200), []sstEntry{
		{vnode: 0, userKey: []byte("a"), epoch: key.Epoch(200), value: key.Value{Kind: key.Put, Data: []byte("2")}},
	})

	r := New(testTable, cache)
	r.Observe(v1)
	r.Observe(v2)
	r.Retain(key.Epoch(200))

	_, err = r.Diff(ctx, key.VNode(0), key.Epoch(100), key.Epoch(200))
	require.Error(t, err)
}
