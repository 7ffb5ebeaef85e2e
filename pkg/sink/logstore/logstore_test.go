package logstore

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/cascadedb/cascade/pkg/blockcache"
	"github.com/cascadedb/cascade/pkg/hummock/localversion"
	"github.com/cascadedb/cascade/pkg/hummock/sharedbuffer"
	"github.com/cascadedb/cascade/pkg/key"
	"github.com/cascadedb/cascade/pkg/objectstore"
	"github.com/cascadedb/cascade/pkg/statetable"
	"github.com/cascadedb/cascade/pkg/streaming"
)

const testTable key.TableID = 99

func newTestLogStore(t *testing.T) *LogStore {
	t.Helper()
	store := objectstore.NewMemStore()
	cache, err := blockcache.New(store, 16, 1<<20)
	require.NoError(t, err)
	mirror := localversion.New(nil, zerolog.Nop())
	buf := sharedbuffer.New(sharedbuffer.PerVnode)
	return New(statetable.New(testTable, buf, mirror, cache))
}

func chunkWithRow(v string) *streaming.Chunk {
	return (&streaming.Chunk{}).Append(streaming.Insert, streaming.Row{v})
}

func TestAppendThenReadReturnsEntriesInEpochAndSeqOrder(t *testing.T) {
	ls := newTestLogStore(t)
	ctx := context.Background()

	require.NoError(t, ls.Append(ctx, key.Epoch(1), chunkWithRow("a")))
	require.NoError(t, ls.Append(ctx, key.Epoch(1), chunkWithRow("b")))
	require.NoError(t, ls.Append(ctx, key.Epoch(2), chunkWithRow("c")))

	entries, err := ls.Read(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, key.Epoch(1), entries[0].Epoch)
	require.Equal(t, uint64(0), entries[0].Seq)
	require.Equal(t, "a", entries[0].Chunk.Changes[0].Row[0])
	require.Equal(t, key.Epoch(1), entries[1].Epoch)
	require.Equal(t, uint64(1), entries[1].Seq)
	require.Equal(t, key.Epoch(2), entries[2].Epoch)
}

func TestTruncateRemovesEntriesOnTheNextCommit(t *testing.T) {
	ls := newTestLogStore(t)
	ctx := context.Background()

	require.NoError(t, ls.Append(ctx, key.Epoch(1), chunkWithRow("a")))
	require.NoError(t, ls.Append(ctx, key.Epoch(2), chunkWithRow("b")))

	require.NoError(t, ls.Truncate(ctx, key.Epoch(1)))

	entries, err := ls.Read(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2, "truncate only arms the watermark; the range delete applies at the next commit")

	require.NoError(t, ls.Append(ctx, key.Epoch(3), chunkWithRow("c")))

	entries, err = ls.Read(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2, "epoch 1's entry was range-deleted by the commit that advanced to epoch 3")
	require.Equal(t, key.Epoch(2), entries[0].Epoch)
	require.Equal(t, key.Epoch(3), entries[1].Epoch)
}
