package actor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/cascadedb/cascade/pkg/streaming"
	"github.com/cascadedb/cascade/pkg/streaming/channel"
)

// controlledOp signals entered every time Next is called, then blocks
// until release is sent or ctx is cancelled, letting a test pin down
// exactly when an actor is mid-step.
type controlledOp struct {
	entered chan struct{}
	release chan struct{}
}

func newControlledOp() *controlledOp {
	return &controlledOp{entered: make(chan struct{}, 4), release: make(chan struct{}, 4)}
}

func (c *controlledOp) Next(ctx context.Context) (streaming.Message, error) {
	c.entered <- struct{}{}
	select {
	case <-c.release:
		return streaming.Message{}, nil
	case <-ctx.Done():
		return streaming.Message{}, ctx.Err()
	}
}

type recordingFailureHandler struct {
	mu     sync.Mutex
	failed map[ID]error
	notify chan struct{}
}

func newRecordingFailureHandler() *recordingFailureHandler {
	return &recordingFailureHandler{failed: make(map[ID]error), notify: make(chan struct{}, 8)}
}

func (r *recordingFailureHandler) ActorFailed(id ID, err error) {
	r.mu.Lock()
	r.failed[id] = err
	r.mu.Unlock()
	r.notify <- struct{}{}
}

func TestSchedulerDrivesActorUntilChunksExhausted(t *testing.T) {
	out := channel.New(4)
	op := &scriptedOp{msgs: []streaming.Message{
		streaming.ChunkMessage(&streaming.Chunk{Changes: []streaming.Change{{Op: streaming.Insert, Row: streaming.Row{1}}}}),
		streaming.ChunkMessage(&streaming.Chunk{Changes: []streaming.Change{{Op: streaming.Insert, Row: streaming.Row{2}}}}),
	}}
	sched := NewScheduler(2, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Add(ctx, &Actor{ID: 1, Op: op, Out: []*channel.Channel{out}, Dispatcher: channel.BroadcastDispatcher{}})

	for i := 0; i < 2; i++ {
		msg, err := out.Recv(ctx)
		require.NoError(t, err)
		require.True(t, msg.IsChunk())
	}
	sched.Stop()
}

func TestSchedulerIsolatesActorFailureFromOthers(t *testing.T) {
	fh := newRecordingFailureHandler()
	sched := NewScheduler(4, fh, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	boom := errors.New("boom")
	failing := funcOp(func(context.Context) (streaming.Message, error) { return streaming.Message{}, boom })
	sched.Add(ctx, &Actor{ID: 1, Op: failing})

	out := channel.New(4)
	healthy := &scriptedOp{msgs: []streaming.Message{
		streaming.ChunkMessage(&streaming.Chunk{Changes: []streaming.Change{{Op: streaming.Insert, Row: streaming.Row{1}}}}),
	}}
	sched.Add(ctx, &Actor{ID: 2, Op: healthy, Out: []*channel.Channel{out}, Dispatcher: channel.BroadcastDispatcher{}})

	select {
	case <-fh.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("failure handler was not notified")
	}
	fh.mu.Lock()
	err := fh.failed[1]
	fh.mu.Unlock()
	require.ErrorIs(t, err, boom)

	msg, err2 := out.Recv(ctx)
	require.NoError(t, err2)
	require.True(t, msg.IsChunk(), "actor 2 keeps running after actor 1 fails")
	sched.Stop()
}

func TestSchedulerBoundsConcurrentSteps(t *testing.T) {
	fh := newRecordingFailureHandler()
	sched := NewScheduler(1, fh, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opA := newControlledOp()
	opB := newControlledOp()
	sched.Add(ctx, &Actor{ID: 1, Op: opA})
	<-opA.entered // actor 1 now holds the sole concurrency slot

	sched.Add(ctx, &Actor{ID: 2, Op: opB})
	select {
	case <-opB.entered:
		t.Fatal("actor 2 should not run while actor 1 holds the only slot")
	case <-time.After(100 * time.Millisecond):
	}

	// Keep actor 1 cycling through steps so its slot is released back to
	// the pool, giving actor 2 a fair chance to eventually acquire it.
	drain := make(chan struct{})
	go func() {
		defer close(drain)
		for {
			select {
			case <-opA.entered:
				opA.release <- struct{}{}
			case <-ctx.Done():
				return
			}
		}
	}()

	select {
	case <-opB.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("actor 2 never got a turn")
	}
	cancel()
	<-drain
	sched.Stop()
}
