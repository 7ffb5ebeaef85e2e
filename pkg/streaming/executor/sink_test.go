package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cascadedb/cascade/pkg/key"
	"github.com/cascadedb/cascade/pkg/streaming"
)

type fakeLogStore struct {
	appended []key.Epoch
	truncate []key.Epoch
}

func (l *fakeLogStore) Append(_ context.Context, epoch key.Epoch, _ *streaming.Chunk) error {
	l.appended = append(l.appended, epoch)
	return nil
}

func (l *fakeLogStore) Truncate(_ context.Context, upTo key.Epoch) error {
	l.truncate = append(l.truncate, upTo)
	return nil
}

type fakeWriter struct {
	wrote []key.Epoch
}

func (w *fakeWriter) Write(_ context.Context, epoch key.Epoch, _ *streaming.Chunk) error {
	w.wrote = append(w.wrote, epoch)
	return nil
}

func TestSinkSyncCommitWritesAndTruncatesBeforeForwardingBarrier(t *testing.T) {
	src := &sliceSource{msgs: []streaming.Message{
		streaming.ChunkMessage(chunkOf(streaming.Change{Op: streaming.Insert, Row: streaming.Row{1}})),
		streaming.BarrierMessage(&streaming.Barrier{Epoch: 2, PrevEpoch: 1}),
	}}
	log := &fakeLogStore{}
	w := &fakeWriter{}
	s := &Sink{Upstream: src, Log: log, Writer: w, Decoupled: false}
	ctx := context.Background()

	_, err := s.Next(ctx) // chunk: appended to the log, held pending (not yet written)
	require.NoError(t, err)
	require.Equal(t, []key.Epoch{0}, log.appended)
	require.Empty(t, w.wrote)

	msg, err := s.Next(ctx) // barrier: write, truncate, then forward
	require.NoError(t, err)
	require.True(t, msg.IsBarrier())
	require.Equal(t, []key.Epoch{1}, w.wrote)
	require.Equal(t, []key.Epoch{1}, log.truncate)
}

func TestSinkDecoupledForwardsBarrierBeforeDelivery(t *testing.T) {
	src := &sliceSource{msgs: []streaming.Message{
		streaming.ChunkMessage(chunkOf(streaming.Change{Op: streaming.Insert, Row: streaming.Row{1}})),
		streaming.BarrierMessage(&streaming.Barrier{Epoch: 2, PrevEpoch: 1}),
	}}
	log := &fakeLogStore{}
	w := &fakeWriter{}
	s := &Sink{Upstream: src, Log: log, Writer: w, Decoupled: true}
	ctx := context.Background()

	s.Next(ctx) // chunk appended to the log

	msg, err := s.Next(ctx) // barrier forwards immediately, no write/truncate on this path
	require.NoError(t, err)
	require.True(t, msg.IsBarrier())
	require.Empty(t, w.wrote, "delivery happens off the barrier's critical path")
	require.Empty(t, log.truncate)
}
