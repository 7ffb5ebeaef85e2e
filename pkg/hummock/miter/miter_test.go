package miter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cascadedb/cascade/pkg/key"
)

// sliceIter is a minimal SourceIter over a pre-sorted, in-memory slice,
// used to drive Merge in isolation from sstable/sharedbuffer.
type sliceIter struct {
	entries []sliceEntry
	pos     int
}

type sliceEntry struct {
	fullKey []byte
	value   key.Value
}

func newSliceIter(entries []sliceEntry) *sliceIter { return &sliceIter{entries: entries, pos: 0} }

func (s *sliceIter) IsValid() bool     { return s.pos < len(s.entries) }
func (s *sliceIter) Key() []byte       { return s.entries[s.pos].fullKey }
func (s *sliceIter) Value() key.Value  { return s.entries[s.pos].value }
func (s *sliceIter) Next() error       { s.pos++; return nil }

func enc(table key.TableID, vnode key.VNode, userKey string, epoch key.Epoch) []byte {
	return key.Encode(key.FullKey{TableID: table, VNode: vnode, UserKey: []byte(userKey), Epoch: epoch})
}

func TestMergeResolvesNewestVersion(t *testing.T) {
	a := newSliceIter([]sliceEntry{
		{fullKey: enc(1, 0, "k1", 200), value: key.Value{Kind: key.Put, Data: []byte("new")}},
		{fullKey: enc(1, 0, "k1", 100), value: key.Value{Kind: key.Put, Data: []byte("old")}},
	})

	m := New([]SourceIter{a}, key.Epoch(1000), true)
	require.True(t, m.IsValid())
	require.Equal(t, []byte("new"), m.Value().Data)
	require.NoError(t, m.Next())
	require.False(t, m.IsValid(), "only one distinct user key should be emitted")
}

func TestMergeAcrossTwoSources(t *testing.T) {
	a := newSliceIter([]sliceEntry{
		{fullKey: enc(1, 0, "a", 100), value: key.Value{Kind: key.Put, Data: []byte("a-val")}},
	})
	b := newSliceIter([]sliceEntry{
		{fullKey: enc(1, 0, "b", 100), value: key.Value{Kind: key.Put, Data: []byte("b-val")}},
	})

	m := New([]SourceIter{a, b}, key.Epoch(1000), true)
	var got []string
	for m.IsValid() {
		got = append(got, string(m.Value().Data))
		require.NoError(t, m.Next())
	}
	require.Equal(t, []string{"a-val", "b-val"}, got)
}

func TestMergeDropsTombstoneWhenRequested(t *testing.T) {
	a := newSliceIter([]sliceEntry{
		{fullKey: enc(1, 0, "k1", 200), value: key.Value{Kind: key.Delete}},
		{fullKey: enc(1, 0, "k1", 100), value: key.Value{Kind: key.Put, Data: []byte("old")}},
	})
	m := New([]SourceIter{a}, key.Epoch(1000), true)
	require.False(t, m.IsValid(), "newest version is a delete, bottom-level compaction drops the key")
}

func TestMergeKeepsTombstoneWhenNotDropping(t *testing.T) {
	a := newSliceIter([]sliceEntry{
		{fullKey: enc(1, 0, "k1", 200), value: key.Value{Kind: key.Delete}},
	})
	m := New([]SourceIter{a}, key.Epoch(1000), false)
	require.True(t, m.IsValid())
	require.True(t, m.Value().IsDelete())
}

func TestMergeRespectsReadEpoch(t *testing.T) {
	visibleKey := enc(1, 0, "k1", 100)
	a := newSliceIter([]sliceEntry{
		{fullKey: enc(1, 0, "k1", 500), value: key.Value{Kind: key.Put, Data: []byte("future")}},
		{fullKey: visibleKey, value: key.Value{Kind: key.Put, Data: []byte("visible")}},
	})
	m := New([]SourceIter{a}, key.Epoch(200), true)
	require.True(t, m.IsValid())
	require.Equal(t, []byte("visible"), m.Value().Data)
	// Key() must name the version actually resolved (epoch 100), not the
	// newest version in the group (epoch 500) that readEpoch excluded.
	require.Equal(t, visibleKey, m.Key())
}
