package actor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cascadedb/cascade/pkg/key"
	"github.com/cascadedb/cascade/pkg/streaming"
	"github.com/cascadedb/cascade/pkg/streaming/channel"
)

// scriptedOp replays a fixed sequence of messages, one per Next call,
// then blocks until ctx is cancelled.
type scriptedOp struct {
	mu   sync.Mutex
	msgs []streaming.Message
}

func (s *scriptedOp) Next(ctx context.Context) (streaming.Message, error) {
	s.mu.Lock()
	if len(s.msgs) > 0 {
		msg := s.msgs[0]
		s.msgs = s.msgs[1:]
		s.mu.Unlock()
		return msg, nil
	}
	s.mu.Unlock()
	<-ctx.Done()
	return streaming.Message{}, ctx.Err()
}

type fakeCollector struct {
	mu      sync.Mutex
	collect []key.Epoch
}

func (f *fakeCollector) Collect(_ context.Context, _ ID, epoch key.Epoch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collect = append(f.collect, epoch)
	return nil
}

func TestActorStepDispatchesChunkAndForwardsToOutEdge(t *testing.T) {
	out := channel.New(1)
	chunk := &streaming.Chunk{Changes: []streaming.Change{{Op: streaming.Insert, Row: streaming.Row{1}}}}
	a := &Actor{
		ID:         1,
		Op:         &scriptedOp{msgs: []streaming.Message{streaming.ChunkMessage(chunk)}},
		Out:        []*channel.Channel{out},
		Dispatcher: channel.BroadcastDispatcher{},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.step(ctx))

	msg, err := out.Recv(ctx)
	require.NoError(t, err)
	require.True(t, msg.IsChunk())
	require.Len(t, msg.Chunk.Changes, 1)
}

func TestActorStepReportsBarrierToCollector(t *testing.T) {
	collector := &fakeCollector{}
	a := &Actor{
		ID:        2,
		Op:        &scriptedOp{msgs: []streaming.Message{streaming.BarrierMessage(&streaming.Barrier{Epoch: key.Epoch(7)})}},
		Collector: collector,
	}

	require.NoError(t, a.step(context.Background()))
	require.Equal(t, []key.Epoch{7}, collector.collect)
}

func TestActorStepSkipsEmptyMessageWithoutError(t *testing.T) {
	a := &Actor{ID: 3, Op: &scriptedOp{msgs: []streaming.Message{{}}}}
	require.NoError(t, a.step(context.Background()))
}

func TestActorStepPropagatesUpstreamError(t *testing.T) {
	boom := errors.New("boom")
	a := &Actor{ID: 4, Op: funcOp(func(context.Context) (streaming.Message, error) {
		return streaming.Message{}, boom
	})}
	require.ErrorIs(t, a.step(context.Background()), boom)
}

type funcOp func(ctx context.Context) (streaming.Message, error)

func (f funcOp) Next(ctx context.Context) (streaming.Message, error) { return f(ctx) }
