package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cascadedb/cascade/pkg/streaming"
)

func intLess(a, b streaming.Datum) bool { return a.(int) < b.(int) }

func TestWatermarkFilterDropsLateRowsAndTracksMax(t *testing.T) {
	src := &sliceSource{msgs: []streaming.Message{
		streaming.ChunkMessage(chunkOf(
			streaming.Change{Op: streaming.Insert, Row: streaming.Row{5}},
			streaming.Change{Op: streaming.Insert, Row: streaming.Row{3}},
			streaming.Change{Op: streaming.Insert, Row: streaming.Row{9}},
		)),
	}}
	w := &WatermarkFilter{Upstream: src, Column: 0, Less: intLess}

	msg, err := w.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, msg.Chunk.Changes, 2, "the row behind the running max (3 after 5) is dropped")
	require.Equal(t, 9, w.max)
}

func TestWatermarkFilterEmitsWatermarkBeforeBarrier(t *testing.T) {
	src := &sliceSource{msgs: []streaming.Message{
		streaming.ChunkMessage(chunkOf(streaming.Change{Op: streaming.Insert, Row: streaming.Row{7}})),
		streaming.BarrierMessage(barrierAt(1)),
	}}
	w := &WatermarkFilter{Upstream: src, Column: 0, Less: intLess}
	ctx := context.Background()

	_, err := w.Next(ctx) // chunk
	require.NoError(t, err)

	msg2, err := w.Next(ctx)
	require.NoError(t, err)
	require.True(t, msg2.IsWatermark())
	require.Equal(t, 7, msg2.Watermark.Value)

	msg3, err := w.Next(ctx)
	require.NoError(t, err)
	require.True(t, msg3.IsBarrier())
}
