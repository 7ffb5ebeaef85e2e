package channel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cascadedb/cascade/pkg/key"
	"github.com/cascadedb/cascade/pkg/streaming"
)

func recvNonBlocking(t *testing.T, ch *Channel) (streaming.Message, bool) {
	t.Helper()
	select {
	case msg := <-ch.messages:
		return msg, true
	default:
		return streaming.Message{}, false
	}
}

func TestHashDispatcherRoutesByVNodeOwner(t *testing.T) {
	out := []*Channel{New(4), New(4)}
	d := &HashDispatcher{
		DistKeyCols: []int{0},
		VNodeOwner:  func(v key.VNode, n int) int { return int(v) % n },
	}
	chunk := &streaming.Chunk{Changes: []streaming.Change{
		{Op: streaming.Insert, Row: streaming.Row{"a"}},
		{Op: streaming.Insert, Row: streaming.Row{"b"}},
	}}
	require.NoError(t, d.Dispatch(context.Background(), streaming.ChunkMessage(chunk), out))

	total := 0
	for _, ch := range out {
		if msg, ok := recvNonBlocking(t, ch); ok {
			total += len(msg.Chunk.Changes)
		}
	}
	require.Equal(t, 2, total, "every row lands on exactly one actor")
}

func TestHashDispatcherBroadcastsBarriers(t *testing.T) {
	out := []*Channel{New(1), New(1)}
	d := &HashDispatcher{DistKeyCols: []int{0}}
	b := streaming.BarrierMessage(&streaming.Barrier{Epoch: 3})
	require.NoError(t, d.Dispatch(context.Background(), b, out))

	for _, ch := range out {
		msg, ok := recvNonBlocking(t, ch)
		require.True(t, ok)
		require.True(t, msg.IsBarrier())
	}
}

func TestBroadcastDispatcherCopiesChunkToEveryActor(t *testing.T) {
	out := []*Channel{New(1), New(1), New(1)}
	d := BroadcastDispatcher{}
	chunk := &streaming.Chunk{Changes: []streaming.Change{{Op: streaming.Insert, Row: streaming.Row{1}}}}
	require.NoError(t, d.Dispatch(context.Background(), streaming.ChunkMessage(chunk), out))

	for _, ch := range out {
		msg, ok := recvNonBlocking(t, ch)
		require.True(t, ok)
		require.Len(t, msg.Chunk.Changes, 1)
	}
}

func TestSimpleDispatcherSendsToSoleActor(t *testing.T) {
	out := []*Channel{New(1)}
	d := SimpleDispatcher{}
	chunk := &streaming.Chunk{Changes: []streaming.Change{{Op: streaming.Insert, Row: streaming.Row{1}}}}
	require.NoError(t, d.Dispatch(context.Background(), streaming.ChunkMessage(chunk), out))

	msg, ok := recvNonBlocking(t, out[0])
	require.True(t, ok)
	require.True(t, msg.IsChunk())
}

func TestNoShuffleDispatcherTargetsItsFixedActorIndex(t *testing.T) {
	out := []*Channel{New(1), New(1)}
	d := NoShuffleDispatcher{ActorIndex: 1}
	chunk := &streaming.Chunk{Changes: []streaming.Change{{Op: streaming.Insert, Row: streaming.Row{1}}}}
	require.NoError(t, d.Dispatch(context.Background(), streaming.ChunkMessage(chunk), out))

	_, ok0 := recvNonBlocking(t, out[0])
	require.False(t, ok0)
	msg1, ok1 := recvNonBlocking(t, out[1])
	require.True(t, ok1)
	require.True(t, msg1.IsChunk())
}
