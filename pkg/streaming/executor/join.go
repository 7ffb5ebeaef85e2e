package executor

import (
	"context"
	"encoding/json"

	"github.com/cascadedb/cascade/pkg/key"
	"github.com/cascadedb/cascade/pkg/statetable"
	"github.com/cascadedb/cascade/pkg/streaming"
)

// JoinType is the join semantics a HashJoin emits.
type JoinType int

const (
	InnerJoin JoinType = iota
	LeftOuterJoin
	RightOuterJoin
	FullOuterJoin
	LeftSemiJoin
	LeftAntiJoin
	RightSemiJoin
	RightAntiJoin
)

// HashJoin probes one side's state table by join key as rows arrive on
// the other, maintaining both sides' state. Left and
// Right are pulled round-robin; a barrier is forwarded once both sides
// have reached it, same alignment rule as Union.
type HashJoin struct {
	Left, Right         Operator
	LeftKeyCols         []int
	RightKeyCols        []int
	Type                JoinType
	LeftState           *statetable.StateTable
	RightState          *statetable.StateTable
	VNode               func(joinKey streaming.Row) key.VNode

	leftBarrier, rightBarrier   *streaming.Barrier
	leftWatermark, rightWatermark *streaming.Watermark
	turn                        int // 0 = pull left next, 1 = pull right next
	outbox                      []streaming.Message
}

func (j *HashJoin) Next(ctx context.Context) (streaming.Message, error) {
	if len(j.outbox) > 0 {
		msg := j.outbox[0]
		j.outbox = j.outbox[1:]
		return msg, nil
	}

	side := j.turn
	j.turn = 1 - j.turn
	if (side == 0 && j.leftBarrier != nil) || (side == 1 && j.rightBarrier != nil) {
		side = 1 - side
	}

	var up Operator
	if side == 0 {
		up = j.Left
	} else {
		up = j.Right
	}
	msg, err := up.Next(ctx)
	if err != nil {
		return streaming.Message{}, err
	}

	switch {
	case msg.IsChunk():
		return j.probe(ctx, side, msg.Chunk)
	case msg.IsWatermark():
		if side == 0 {
			j.leftWatermark = msg.Watermark
		} else {
			j.rightWatermark = msg.Watermark
		}
		if out := j.barrierWatermark(); out != nil {
			return streaming.WatermarkMessage(out), nil
		}
		return streaming.Message{}, nil
	case msg.IsBarrier():
		if side == 0 {
			j.leftBarrier = msg.Barrier
		} else {
			j.rightBarrier = msg.Barrier
		}
		if j.leftBarrier == nil || j.rightBarrier == nil {
			return streaming.Message{}, nil
		}
		epoch := j.leftBarrier.Epoch
		j.LeftState.Commit(epoch)
		j.RightState.Commit(epoch)
		out := j.leftBarrier
		j.leftBarrier, j.rightBarrier = nil, nil
		return streaming.BarrierMessage(out), nil
	default:
		return streaming.Message{}, nil
	}
}

// barrierWatermark combines both sides' watermarks into the one this join
// emits downstream: the minimum of the two, withheld entirely until both
// sides have produced at least one. Emitting the minimum rather than
// either side alone keeps downstream state cleanup conservative — it
// never advances past data that might still arrive on the lagging side
// (see DESIGN.md's Open Question resolution for this operator).
func (j *HashJoin) barrierWatermark() *streaming.Watermark {
	if j.leftWatermark == nil || j.rightWatermark == nil {
		return nil
	}
	if compareBytes(streaming.EncodeSortKey(j.leftWatermark.Value), streaming.EncodeSortKey(j.rightWatermark.Value)) <= 0 {
		return j.leftWatermark
	}
	return j.rightWatermark
}

func (j *HashJoin) probe(ctx context.Context, side int, chunk *streaming.Chunk) (streaming.Message, error) {
	var ownKeyCols []int
	var ownState, otherState *statetable.StateTable
	if side == 0 {
		ownKeyCols = j.LeftKeyCols
		ownState, otherState = j.LeftState, j.RightState
	} else {
		ownKeyCols = j.RightKeyCols
		ownState, otherState = j.RightState, j.LeftState
	}

	out := &streaming.Chunk{}
	for _, c := range chunk.Changes {
		joinKey := c.Row.Project(ownKeyCols)
		vnode := j.VNode(joinKey)
		prefix := streaming.EncodeSortKey(toAny(joinKey)...)

		if c.Op == streaming.Insert || c.Op == streaming.UpdateInsert {
			pk := append(append([]byte(nil), prefix...), []byte(streaming.RowKey(c.Row))...)
			rowBytes, err := json.Marshal([]streaming.Datum(c.Row))
			if err != nil {
				return streaming.Message{}, err
			}
			ownState.Insert(vnode, pk, rowBytes)
		} else {
			pk := append(append([]byte(nil), prefix...), []byte(streaming.RowKey(c.Row))...)
			ownState.Delete(vnode, pk)
		}

		matches, err := matchingRows(ctx, otherState, vnode, prefix)
		if err != nil {
			return streaming.Message{}, err
		}

		if len(matches) == 0 {
			j.emitUnmatched(out, side, c)
			continue
		}
		j.emitMatched(out, side, c, matches)
	}
	if out.Empty() {
		return streaming.Message{}, nil
	}
	return streaming.ChunkMessage(out), nil
}

// emitMatched applies the join's semantics to a row that matched one or
// more rows on the other side: inner/outer joins emit one combined row
// per match, semi joins emit the probing row once regardless of match
// count, and anti joins emit nothing (the row is excluded precisely
// because it matched).
func (j *HashJoin) emitMatched(out *streaming.Chunk, side int, c streaming.Change, matches []streaming.Row) {
	switch j.Type {
	case LeftSemiJoin:
		if side == 0 {
			out.Append(c.Op, c.Row)
		}
		return
	case RightSemiJoin:
		if side == 1 {
			out.Append(c.Op, c.Row)
		}
		return
	case LeftAntiJoin, RightAntiJoin:
		return
	}
	for _, other := range matches {
		left, right := c.Row, other
		if side == 1 {
			left, right = other, c.Row
		}
		out.Append(c.Op, append(append(streaming.Row{}, left...), right...))
	}
}

// emitUnmatched applies outer/semi/anti semantics for a row with no
// match on the other side.
func (j *HashJoin) emitUnmatched(out *streaming.Chunk, side int, c streaming.Change) {
	switch j.Type {
	case LeftOuterJoin:
		if side == 0 {
			out.Append(c.Op, c.Row)
		}
	case RightOuterJoin:
		if side == 1 {
			out.Append(c.Op, c.Row)
		}
	case FullOuterJoin:
		out.Append(c.Op, c.Row)
	case LeftAntiJoin:
		if side == 0 {
			out.Append(c.Op, c.Row)
		}
	case RightAntiJoin:
		if side == 1 {
			out.Append(c.Op, c.Row)
		}
	// InnerJoin, LeftSemiJoin, RightSemiJoin: an unmatched row contributes
	// nothing.
	default:
	}
}

func matchingRows(ctx context.Context, state *statetable.StateTable, vnode key.VNode, prefix []byte) ([]streaming.Row, error) {
	end := append(append([]byte(nil), prefix...), 0xff)
	rows, err := state.Iter(ctx, vnode, prefix, end)
	if err != nil {
		return nil, err
	}
	out := make([]streaming.Row, 0, len(rows))
	for _, r := range rows {
		var vals []streaming.Datum
		if err := json.Unmarshal(r.Value, &vals); err != nil {
			return nil, err
		}
		out = append(out, streaming.Row(vals))
	}
	return out, nil
}
