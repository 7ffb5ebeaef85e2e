package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cascadedb/cascade/pkg/key"
	"github.com/cascadedb/cascade/pkg/streaming"
)

// scriptedReader replays a fixed sequence of ReadSnapshot results per
// split, one result consumed per call.
type scriptedReader struct {
	results map[string][]snapshotResult
	calls   map[string]int
}

type snapshotResult struct {
	rows       []streaming.Row
	nextOffset []byte
	done       bool
}

func (r *scriptedReader) ReadSnapshot(_ context.Context, split Split, _ []byte) ([]streaming.Row, []byte, bool, error) {
	if r.calls == nil {
		r.calls = make(map[string]int)
	}
	i := r.calls[split.ID]
	r.calls[split.ID] = i + 1
	res := r.results[split.ID][i]
	return res.rows, res.nextOffset, res.done, nil
}

func splitVNode(string) key.VNode { return 0 }

func TestSourceBackfillRoundRobinsAcrossSplitsThenFallsToLive(t *testing.T) {
	reader := &scriptedReader{results: map[string][]snapshotResult{
		"s0": {{rows: []streaming.Row{{0, "a"}}, nextOffset: []byte("1"), done: true}},
		"s1": {{rows: []streaming.Row{{1, "b"}}, nextOffset: []byte("1"), done: true}},
	}}
	live := &sliceSource{msgs: []streaming.Message{streaming.BarrierMessage(barrierAt(1))}}
	b := NewSourceBackfill([]Split{{ID: "s0"}, {ID: "s1"}}, reader, live, newState(t), splitVNode)
	ctx := context.Background()

	msg1, err := b.Next(ctx) // s0's snapshot row
	require.NoError(t, err)
	require.True(t, msg1.IsChunk())
	require.Equal(t, streaming.Row{0, "a"}, msg1.Chunk.Changes[0].Row)

	msg2, err := b.Next(ctx) // s1's snapshot row; both splits now done
	require.NoError(t, err)
	require.True(t, msg2.IsChunk())
	require.Equal(t, streaming.Row{1, "b"}, msg2.Chunk.Changes[0].Row)

	msg3, err := b.Next(ctx) // backfill complete; serves the live barrier peeked into the buffer along the way
	require.NoError(t, err)
	require.True(t, msg3.IsBarrier())
}

func TestSourceBackfillBuffersLiveChunkUntilBackfillCompletes(t *testing.T) {
	reader := &scriptedReader{results: map[string][]snapshotResult{
		"s0": {
			{rows: []streaming.Row{{0, "a"}}, nextOffset: []byte("1"), done: false},
			{rows: nil, nextOffset: []byte("2"), done: true},
		},
		"s1": {{rows: []streaming.Row{{1, "b"}}, nextOffset: []byte("1"), done: true}},
	}}
	live := &sliceSource{msgs: []streaming.Message{
		streaming.ChunkMessage(chunkOf(streaming.Change{Op: streaming.Insert, Row: streaming.Row{9, "live"}})),
		streaming.BarrierMessage(barrierAt(1)),
	}}
	b := NewSourceBackfill([]Split{{ID: "s0"}, {ID: "s1"}}, reader, live, newState(t), splitVNode)
	ctx := context.Background()

	msg1, err := b.Next(ctx) // s0's first snapshot batch
	require.NoError(t, err)
	require.True(t, msg1.IsChunk())
	require.Equal(t, streaming.Row{0, "a"}, msg1.Chunk.Changes[0].Row)

	msg2, err := b.Next(ctx) // peeks the live chunk into the buffer, then s1's snapshot (s1 finishes)
	require.NoError(t, err)
	require.True(t, msg2.IsChunk())
	require.Equal(t, streaming.Row{1, "b"}, msg2.Chunk.Changes[0].Row)

	msg3, err := b.Next(ctx) // s0's final (empty) batch finishes backfill
	require.NoError(t, err)
	require.False(t, msg3.IsChunk())
	require.False(t, msg3.IsBarrier())

	msg4, err := b.Next(ctx) // backfill complete: replay the buffered live chunk first
	require.NoError(t, err)
	require.True(t, msg4.IsChunk())
	require.Equal(t, streaming.Row{9, "live"}, msg4.Chunk.Changes[0].Row)

	msg5, err := b.Next(ctx) // then the live barrier, read fresh
	require.NoError(t, err)
	require.True(t, msg5.IsBarrier())
}
