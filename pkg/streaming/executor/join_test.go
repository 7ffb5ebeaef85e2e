package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cascadedb/cascade/pkg/streaming"
)

func TestHashJoinInnerEmitsCombinedRowOnceBothSidesHaveState(t *testing.T) {
	left := &sliceSource{msgs: []streaming.Message{
		streaming.ChunkMessage(chunkOf(streaming.Change{Op: streaming.Insert, Row: streaming.Row{1, "L1"}})),
		streaming.BarrierMessage(barrierAt(1)),
	}}
	right := &sliceSource{msgs: []streaming.Message{
		streaming.ChunkMessage(chunkOf(streaming.Change{Op: streaming.Insert, Row: streaming.Row{1, "R1"}})),
		streaming.BarrierMessage(barrierAt(1)),
	}}
	j := &HashJoin{
		Left: left, Right: right,
		LeftKeyCols: []int{0}, RightKeyCols: []int{0},
		Type:       InnerJoin,
		LeftState:  newState(t),
		RightState: newState(t),
		VNode:      zeroVNodeRow,
	}
	ctx := context.Background()

	msg1, err := j.Next(ctx) // left chunk probes empty right state: no match yet
	require.NoError(t, err)
	require.False(t, msg1.IsChunk())

	msg2, err := j.Next(ctx) // right chunk probes left state, which now has L1
	require.NoError(t, err)
	require.True(t, msg2.IsChunk())
	require.Len(t, msg2.Chunk.Changes, 1)
	require.Equal(t, streaming.Row{float64(1), "L1", 1, "R1"}, msg2.Chunk.Changes[0].Row)

	msg3, err := j.Next(ctx) // left barrier, right not seen yet
	require.NoError(t, err)
	require.False(t, msg3.IsBarrier())

	msg4, err := j.Next(ctx) // right barrier completes alignment
	require.NoError(t, err)
	require.True(t, msg4.IsBarrier())
}

func TestHashJoinLeftOuterEmitsUnmatchedLeftRow(t *testing.T) {
	left := &sliceSource{msgs: []streaming.Message{
		streaming.ChunkMessage(chunkOf(streaming.Change{Op: streaming.Insert, Row: streaming.Row{1, "L1"}})),
	}}
	right := &sliceSource{msgs: []streaming.Message{}}
	j := &HashJoin{
		Left: left, Right: right,
		LeftKeyCols: []int{0}, RightKeyCols: []int{0},
		Type:       LeftOuterJoin,
		LeftState:  newState(t),
		RightState: newState(t),
		VNode:      zeroVNodeRow,
	}

	msg, err := j.Next(context.Background()) // left's turn, no match on empty right state
	require.NoError(t, err)
	require.True(t, msg.IsChunk())
	require.Equal(t, streaming.Row{1, "L1"}, msg.Chunk.Changes[0].Row, "left outer keeps the unmatched left row as-is")
}

func TestHashJoinBarrierWatermarkIsMinimumAndWithheldUntilBothSides(t *testing.T) {
	left := &sliceSource{msgs: []streaming.Message{streaming.WatermarkMessage(&streaming.Watermark{Column: 0, Value: 10})}}
	right := &sliceSource{msgs: []streaming.Message{streaming.WatermarkMessage(&streaming.Watermark{Column: 0, Value: 4})}}
	j := &HashJoin{
		Left: left, Right: right,
		LeftKeyCols: []int{0}, RightKeyCols: []int{0},
		Type:       InnerJoin,
		LeftState:  newState(t),
		RightState: newState(t),
		VNode:      zeroVNodeRow,
	}
	ctx := context.Background()

	msg1, err := j.Next(ctx) // only left watermark seen so far
	require.NoError(t, err)
	require.False(t, msg1.IsWatermark())

	msg2, err := j.Next(ctx) // right watermark arrives, min(10,4) = 4
	require.NoError(t, err)
	require.True(t, msg2.IsWatermark())
	require.Equal(t, 4, msg2.Watermark.Value)
}
