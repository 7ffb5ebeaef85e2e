package executor

import (
	"context"

	"github.com/cascadedb/cascade/pkg/streaming"
)

// WatermarkFilter tracks the maximum value observed in Column, forwards
// only rows at or past that bound, and emits a Watermark control message
// at each barrier boundary so downstream operators (joins, Top-N, state
// tables with a SetWatermark boundary) can clean state that can no
// longer be matched.
type WatermarkFilter struct {
	Upstream Operator
	Column   int
	// Less reports whether a sorts before b on Column's type.
	Less func(a, b streaming.Datum) bool

	max     streaming.Datum
	haveMax bool
	outbox  []streaming.Message
}

func (w *WatermarkFilter) Next(ctx context.Context) (streaming.Message, error) {
	if len(w.outbox) > 0 {
		msg := w.outbox[0]
		w.outbox = w.outbox[1:]
		return msg, nil
	}

	msg, err := w.Upstream.Next(ctx)
	if err != nil {
		return streaming.Message{}, err
	}

	if msg.IsBarrier() {
		if w.haveMax {
			w.outbox = append(w.outbox, streaming.WatermarkMessage(&streaming.Watermark{Column: w.Column, Value: w.max}))
		}
		w.outbox = append(w.outbox, msg)
		return w.Next(ctx)
	}

	if !msg.IsChunk() {
		return msg, nil
	}

	out := &streaming.Chunk{}
	for _, c := range msg.Chunk.Changes {
		v := c.Row[w.Column]
		if w.haveMax && w.Less(v, w.max) {
			continue // arrived late, behind the already-advanced watermark
		}
		if !w.haveMax || w.Less(w.max, v) {
			w.max = v
			w.haveMax = true
		}
		out.Append(c.Op, c.Row)
	}
	if out.Empty() {
		return streaming.Message{}, nil
	}
	return streaming.ChunkMessage(out), nil
}
