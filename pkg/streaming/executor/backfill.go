package executor

import (
	"context"

	"github.com/cascadedb/cascade/pkg/key"
	"github.com/cascadedb/cascade/pkg/statetable"
	"github.com/cascadedb/cascade/pkg/streaming"
)

// Split is one partition of an upstream source (e.g. a Kafka partition or
// a table range) backfill reads independently.
type Split struct {
	ID string
}

// SourceReader reads one bounded batch of historical rows for split,
// starting from its last persisted offset. done reports that split has
// caught up to the point live ingestion started from, so SourceBackfill
// never needs to read it again.
type SourceReader interface {
	ReadSnapshot(ctx context.Context, split Split, lastOffset []byte) (rows []streaming.Row, nextOffset []byte, done bool, err error)
}

// SourceBackfill concurrently reads a bounded historical snapshot and the
// live stream, merging them into one monotonically-advancing output, and
// persists each split's (split_id, offset) so a restart resumes mid-
// backfill instead of re-reading rows already emitted.
// Live rows that arrive before every split's snapshot has caught up are
// buffered and replayed once backfill completes, rather than interleaved
// ahead of still-incomplete historical data.
type SourceBackfill struct {
	Splits []Split
	Reader SourceReader
	Live   Operator
	State  *statetable.StateTable
	VNode  func(splitID string) key.VNode

	pending  map[string]bool
	buffered []streaming.Message
	splitIdx int
	liveTurn bool
}

// NewSourceBackfill starts every split as pending.
func NewSourceBackfill(splits []Split, reader SourceReader, live Operator, state *statetable.StateTable, vnode func(string) key.VNode) *SourceBackfill {
	pending := make(map[string]bool, len(splits))
	for _, s := range splits {
		pending[s.ID] = true
	}
	return &SourceBackfill{Splits: splits, Reader: reader, Live: live, State: state, VNode: vnode, pending: pending}
}

func (s *SourceBackfill) backfilling() bool { return len(s.pending) > 0 }

func (s *SourceBackfill) Next(ctx context.Context) (streaming.Message, error) {
	if s.backfilling() {
		// Alternate backfill progress with an opportunistic peek at Live, so
		// a live message that arrives mid-backfill is captured into buffered
		// instead of only starting to be read once every split has caught
		// up.
		if s.liveTurn {
			s.liveTurn = false
			if err := s.peekLive(ctx); err != nil {
				return streaming.Message{}, err
			}
		} else {
			s.liveTurn = true
		}
		return s.stepBackfill(ctx)
	}
	if len(s.buffered) > 0 {
		msg := s.buffered[0]
		s.buffered = s.buffered[1:]
		if msg.IsBarrier() {
			s.State.Commit(msg.Barrier.Epoch)
		}
		return msg, nil
	}
	return s.pullLive(ctx)
}

// peekLive pulls one message from Live while backfill is still in
// progress and queues it for replay once every split has caught up.
// Nothing has been committed for a queued barrier's epoch yet, so it
// is held in buffered the same as a chunk rather than forwarded now.
func (s *SourceBackfill) peekLive(ctx context.Context) error {
	msg, err := s.Live.Next(ctx)
	if err != nil {
		return err
	}
	if msg.IsChunk() || msg.IsBarrier() || msg.IsWatermark() {
		s.buffered = append(s.buffered, msg)
	}
	return nil
}

// stepBackfill advances one pending split by one snapshot batch, round-
// robin, so no single large split starves the others' progress.
func (s *SourceBackfill) stepBackfill(ctx context.Context) (streaming.Message, error) {
	for i := 0; i < len(s.Splits); i++ {
		split := s.Splits[s.splitIdx]
		s.splitIdx = (s.splitIdx + 1) % len(s.Splits)
		if !s.pending[split.ID] {
			continue
		}

		vnode := s.VNode(split.ID)
		lastOffset, _, err := s.State.Get(ctx, vnode, []byte(split.ID))
		if err != nil {
			return streaming.Message{}, err
		}
		rows, nextOffset, done, err := s.Reader.ReadSnapshot(ctx, split, lastOffset)
		if err != nil {
			return streaming.Message{}, err
		}
		s.State.Insert(vnode, []byte(split.ID), nextOffset)
		if done {
			delete(s.pending, split.ID)
		}
		if len(rows) == 0 {
			continue
		}
		chunk := &streaming.Chunk{}
		for _, r := range rows {
			chunk.Append(streaming.Insert, r)
		}
		return streaming.ChunkMessage(chunk), nil
	}
	return streaming.Message{}, nil
}

func (s *SourceBackfill) pullLive(ctx context.Context) (streaming.Message, error) {
	msg, err := s.Live.Next(ctx)
	if err != nil {
		return streaming.Message{}, err
	}
	if msg.IsBarrier() {
		s.State.Commit(msg.Barrier.Epoch)
	}
	return msg, nil
}
