package executor

import (
	"context"

	"github.com/cascadedb/cascade/pkg/key"
	"github.com/cascadedb/cascade/pkg/streaming"
)

// LogStore is the durable buffer a Sink writes through (pkg/sink/logstore):
// every chunk is appended before the sink attempts delivery, and Truncate
// drops entries once they are durably delivered.
type LogStore interface {
	Append(ctx context.Context, epoch key.Epoch, chunk *streaming.Chunk) error
	Truncate(ctx context.Context, upToEpoch key.Epoch) error
}

// SinkWriter delivers a chunk to the external system a sink targets.
type SinkWriter interface {
	Write(ctx context.Context, epoch key.Epoch, chunk *streaming.Chunk) error
}

// Sink buffers output chunks into a log store and ships them to an
// external system. When Decoupled is false the
// sink delivers synchronously and truncates the log before forwarding
// the barrier that committed it — the barrier only completes once
// delivery has; when Decoupled is true the barrier commits as soon as
// the chunk is durably logged, and delivery/truncation happen off the
// barrier's critical path (a separate drain loop, not modeled by this
// type, reads the log and truncates it as writes succeed).
type Sink struct {
	Upstream  Operator
	Log       LogStore
	Writer    SinkWriter
	Decoupled bool

	curEpoch key.Epoch
	pending  []*streaming.Chunk
}

func (s *Sink) Next(ctx context.Context) (streaming.Message, error) {
	msg, err := s.Upstream.Next(ctx)
	if err != nil {
		return streaming.Message{}, err
	}

	switch {
	case msg.IsChunk():
		if err := s.Log.Append(ctx, s.curEpoch, msg.Chunk); err != nil {
			return streaming.Message{}, err
		}
		if !s.Decoupled {
			s.pending = append(s.pending, msg.Chunk)
		}
		return streaming.Message{}, nil
	case msg.IsBarrier():
		s.curEpoch = msg.Barrier.Epoch
		if s.Decoupled {
			return msg, nil
		}
		for _, chunk := range s.pending {
			if err := s.Writer.Write(ctx, msg.Barrier.PrevEpoch, chunk); err != nil {
				return streaming.Message{}, err
			}
		}
		s.pending = nil
		if err := s.Log.Truncate(ctx, msg.Barrier.PrevEpoch); err != nil {
			return streaming.Message{}, err
		}
		return msg, nil
	default:
		return msg, nil
	}
}
