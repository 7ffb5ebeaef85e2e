package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cascadedb/cascade/pkg/streaming"
)

func TestProjectAppliesFnToEveryRow(t *testing.T) {
	src := &sliceSource{msgs: []streaming.Message{
		streaming.ChunkMessage(chunkOf(streaming.Change{Op: streaming.Insert, Row: streaming.Row{1, "a"}})),
	}}
	p := &Project{Upstream: src, Fn: func(r streaming.Row) streaming.Row { return streaming.Row{r[0]} }}

	msg, err := p.Next(context.Background())
	require.NoError(t, err)
	require.True(t, msg.IsChunk())
	require.Equal(t, streaming.Row{1}, msg.Chunk.Changes[0].Row)
}

func TestFilterDropsNonMatchingRowsAndSuppressesEmptyChunk(t *testing.T) {
	src := &sliceSource{msgs: []streaming.Message{
		streaming.ChunkMessage(chunkOf(
			streaming.Change{Op: streaming.Insert, Row: streaming.Row{1}},
			streaming.Change{Op: streaming.Insert, Row: streaming.Row{2}},
		)),
	}}
	f := &Filter{Upstream: src, Fn: func(r streaming.Row) bool { return r[0].(int) > 1 }}

	msg, err := f.Next(context.Background())
	require.NoError(t, err)
	require.True(t, msg.IsChunk())
	require.Len(t, msg.Chunk.Changes, 1)
	require.Equal(t, streaming.Row{2}, msg.Chunk.Changes[0].Row)

	src2 := &sliceSource{msgs: []streaming.Message{
		streaming.ChunkMessage(chunkOf(streaming.Change{Op: streaming.Insert, Row: streaming.Row{0}})),
	}}
	f2 := &Filter{Upstream: src2, Fn: func(r streaming.Row) bool { return r[0].(int) > 1 }}
	msg2, err := f2.Next(context.Background())
	require.NoError(t, err)
	require.False(t, msg2.IsChunk())
}

func TestUnionAlignsBarriersAcrossUpstreams(t *testing.T) {
	left := &sliceSource{msgs: []streaming.Message{streaming.BarrierMessage(barrierAt(5))}}
	right := &sliceSource{msgs: []streaming.Message{
		streaming.ChunkMessage(chunkOf(streaming.Change{Op: streaming.Insert, Row: streaming.Row{9}})),
		streaming.BarrierMessage(barrierAt(5)),
	}}
	u := NewUnion(left, right)
	ctx := context.Background()

	msg1, err := u.Next(ctx)
	require.NoError(t, err)
	require.True(t, msg1.IsChunk(), "right's chunk should pass through before alignment")

	msg2, err := u.Next(ctx)
	require.NoError(t, err)
	require.True(t, msg2.IsBarrier())
	require.Equal(t, barrierAt(5).Epoch, msg2.Barrier.Epoch)
}

func TestExpandNullsColumnsOutsideSubsetAndTagsFlag(t *testing.T) {
	src := &sliceSource{msgs: []streaming.Message{
		streaming.ChunkMessage(chunkOf(streaming.Change{Op: streaming.Insert, Row: streaming.Row{"a", "b"}})),
	}}
	e := &Expand{Upstream: src, Subsets: []ExpandSubset{{Cols: []int{0}}, {Cols: []int{0, 1}}}}

	msg, err := e.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, msg.Chunk.Changes, 2)
	require.Equal(t, streaming.Row{"a", nil, 0}, msg.Chunk.Changes[0].Row)
	require.Equal(t, streaming.Row{"a", "b", 1}, msg.Chunk.Changes[1].Row)
}
