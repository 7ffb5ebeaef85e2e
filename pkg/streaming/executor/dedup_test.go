package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cascadedb/cascade/pkg/streaming"
)

func TestDedupDropsRepeatedKey(t *testing.T) {
	src := &sliceSource{msgs: []streaming.Message{
		streaming.ChunkMessage(chunkOf(
			streaming.Change{Op: streaming.Insert, Row: streaming.Row{"a", 1}},
			streaming.Change{Op: streaming.Insert, Row: streaming.Row{"a", 2}},
			streaming.Change{Op: streaming.Insert, Row: streaming.Row{"b", 3}},
		)),
	}}
	d := &Dedup{Upstream: src, State: newState(t), KeyCols: []int{0}, VNode: zeroVNodeRow}

	msg, err := d.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, msg.Chunk.Changes, 2)
	require.Equal(t, streaming.Row{"a", 1}, msg.Chunk.Changes[0].Row)
	require.Equal(t, streaming.Row{"b", 3}, msg.Chunk.Changes[1].Row)
}

func TestDedupCommitsStateOnBarrier(t *testing.T) {
	src := &sliceSource{msgs: []streaming.Message{streaming.BarrierMessage(barrierAt(2))}}
	d := &Dedup{Upstream: src, State: newState(t), KeyCols: []int{0}, VNode: zeroVNodeRow}

	msg, err := d.Next(context.Background())
	require.NoError(t, err)
	require.True(t, msg.IsBarrier())
}
