package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cascadedb/cascade/pkg/streaming"
)

func rowKeys(rows []streaming.Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = streaming.RowKey(r)
	}
	return out
}

func TestTopNEmitsTopKDescendingOnFirstFlush(t *testing.T) {
	src := &sliceSource{msgs: []streaming.Message{
		streaming.ChunkMessage(chunkOf(
			streaming.Change{Op: streaming.Insert, Row: streaming.Row{"a", 5}},
			streaming.Change{Op: streaming.Insert, Row: streaming.Row{"b", 3}},
			streaming.Change{Op: streaming.Insert, Row: streaming.Row{"c", 9}},
			streaming.Change{Op: streaming.Insert, Row: streaming.Row{"d", 1}},
		)),
		streaming.BarrierMessage(barrierAt(1)),
	}}
	top := &TopN{
		Upstream: src, SortCols: []int{1}, SortDesc: []bool{true}, PKCols: []int{0},
		K: 2, State: newState(t), VNode: zeroVNodeRow,
	}
	ctx := context.Background()
	top.Next(ctx) // consume chunk

	msg, err := top.Next(ctx) // flush
	require.NoError(t, err)
	require.True(t, msg.IsChunk())
	ops := map[streaming.Op]bool{}
	for _, c := range msg.Chunk.Changes {
		ops[c.Op] = true
	}
	require.True(t, ops[streaming.Insert])
	require.Len(t, msg.Chunk.Changes, 2, "top-2 by descending value: c(9) and a(5)")
	want := []string{streaming.RowKey(streaming.Row{"c", 9}), streaming.RowKey(streaming.Row{"a", 5})}
	require.ElementsMatch(t, want, rowKeys(changeRows(msg.Chunk.Changes)))
}

func changeRows(cs []streaming.Change) []streaming.Row {
	out := make([]streaming.Row, len(cs))
	for i, c := range cs {
		out[i] = c.Row
	}
	return out
}

func TestTopNWithTiesExtendsPastKOnBoundaryTie(t *testing.T) {
	src := &sliceSource{msgs: []streaming.Message{
		streaming.ChunkMessage(chunkOf(
			streaming.Change{Op: streaming.Insert, Row: streaming.Row{"a", 9}},
			streaming.Change{Op: streaming.Insert, Row: streaming.Row{"b", 9}},
			streaming.Change{Op: streaming.Insert, Row: streaming.Row{"c", 5}},
		)),
		streaming.BarrierMessage(barrierAt(1)),
	}}
	top := &TopN{
		Upstream: src, SortCols: []int{1}, SortDesc: []bool{true}, PKCols: []int{0},
		K: 1, WithTies: true, State: newState(t), VNode: zeroVNodeRow,
	}
	ctx := context.Background()
	top.Next(ctx)
	msg, err := top.Next(ctx)
	require.NoError(t, err)
	require.Len(t, msg.Chunk.Changes, 2, "both rows tied for rank 1 are kept despite K=1")
	want := []string{streaming.RowKey(streaming.Row{"a", 9}), streaming.RowKey(streaming.Row{"b", 9})}
	require.ElementsMatch(t, want, rowKeys(changeRows(msg.Chunk.Changes)))
}

func TestTopNDiffsMembershipAcrossFlushes(t *testing.T) {
	state := newState(t)
	src := &sliceSource{msgs: []streaming.Message{
		streaming.ChunkMessage(chunkOf(
			streaming.Change{Op: streaming.Insert, Row: streaming.Row{"a", 9}},
			streaming.Change{Op: streaming.Insert, Row: streaming.Row{"b", 5}},
			streaming.Change{Op: streaming.Insert, Row: streaming.Row{"c", 1}},
		)),
		streaming.BarrierMessage(barrierAt(1)),
		streaming.ChunkMessage(chunkOf(streaming.Change{Op: streaming.Delete, Row: streaming.Row{"a", 9}})),
		streaming.BarrierMessage(barrierAt(2)),
	}}
	top := &TopN{
		Upstream: src, SortCols: []int{1}, SortDesc: []bool{true}, PKCols: []int{0},
		K: 2, State: state, VNode: zeroVNodeRow,
	}
	ctx := context.Background()
	top.Next(ctx)
	msg1, err := top.Next(ctx) // top-2: a(9), b(5)
	require.NoError(t, err)
	want1 := []string{streaming.RowKey(streaming.Row{"a", 9}), streaming.RowKey(streaming.Row{"b", 5})}
	require.ElementsMatch(t, want1, rowKeys(changeRows(msg1.Chunk.Changes)))

	top.Next(ctx) // barrier 1
	top.Next(ctx) // delete a
	msg2, err := top.Next(ctx) // flush: a drops out, c(1) is promoted into the top-2
	require.NoError(t, err)
	require.Len(t, msg2.Chunk.Changes, 2)
	var deleted, inserted streaming.Row
	for _, c := range msg2.Chunk.Changes {
		switch c.Op {
		case streaming.Delete:
			deleted = c.Row
		case streaming.Insert:
			inserted = c.Row
		}
	}
	require.Equal(t, streaming.RowKey(streaming.Row{"a", 9}), streaming.RowKey(deleted))
	require.Equal(t, streaming.RowKey(streaming.Row{"c", 1}), streaming.RowKey(inserted))
}
