package executor

import (
	"context"
	"fmt"

	"github.com/cascadedb/cascade/pkg/streaming"
)

// Project applies fn to every row in a chunk, forwarding barriers and
// watermarks unchanged.
type Project struct {
	Upstream Operator
	Fn       func(streaming.Row) streaming.Row
}

func (p *Project) Next(ctx context.Context) (streaming.Message, error) {
	msg, err := p.Upstream.Next(ctx)
	if err != nil || !msg.IsChunk() {
		return msg, err
	}
	out := &streaming.Chunk{Changes: make([]streaming.Change, len(msg.Chunk.Changes))}
	for i, c := range msg.Chunk.Changes {
		out.Changes[i] = streaming.Change{Op: c.Op, Row: p.Fn(c.Row)}
	}
	return streaming.ChunkMessage(out), nil
}

// Filter drops rows for which Fn returns false. An empty resulting chunk
// is suppressed rather than forwarded, so downstream operators never see
// a no-op chunk at a barrier boundary.
type Filter struct {
	Upstream Operator
	Fn       func(streaming.Row) bool
}

func (f *Filter) Next(ctx context.Context) (streaming.Message, error) {
	msg, err := f.Upstream.Next(ctx)
	if err != nil || !msg.IsChunk() {
		return msg, err
	}
	out := &streaming.Chunk{}
	for _, c := range msg.Chunk.Changes {
		if f.Fn(c.Row) {
			out.Append(c.Op, c.Row)
		}
	}
	if out.Empty() {
		return streaming.Message{}, nil
	}
	return streaming.ChunkMessage(out), nil
}

// ExpandSubset is one grouping-sets subset Expand produces: the zero-based
// column indices kept live; every other grouping column is nulled out.
type ExpandSubset struct {
	Cols []int
}

// Expand duplicates each input row once per subset, nulling the columns a
// subset doesn't include and appending a flag column identifying which
// subset produced the copy — the streaming analogue of SQL's GROUPING
// SETS / CUBE / ROLLUP expansion, feeding a downstream hash aggregation
// that groups by (flag, subset columns).
type Expand struct {
	Upstream Operator
	Subsets  []ExpandSubset
	// FlagCol is not read; every output row gets the index of the subset
	// that produced it appended as its last column.
	FlagCol int
}

func (e *Expand) Next(ctx context.Context) (streaming.Message, error) {
	msg, err := e.Upstream.Next(ctx)
	if err != nil || !msg.IsChunk() {
		return msg, err
	}
	out := &streaming.Chunk{}
	for _, c := range msg.Chunk.Changes {
		for flag, subset := range e.Subsets {
			row := c.Row.Clone()
			keep := make(map[int]bool, len(subset.Cols))
			for _, col := range subset.Cols {
				keep[col] = true
			}
			for i := range row {
				if !keep[i] {
					row[i] = nil
				}
			}
			row = append(row, flag)
			out.Append(c.Op, row)
		}
	}
	if out.Empty() {
		return streaming.Message{}, nil
	}
	return streaming.ChunkMessage(out), nil
}

// Union merges N upstreams into one stream. A barrier is only forwarded
// once every upstream has produced a barrier for the same epoch
// (barrier alignment); chunks and watermarks are forwarded as soon as any
// upstream produces one.
type Union struct {
	Upstreams []Operator

	pendingBarrier []*streaming.Barrier // nil until that upstream reaches the current epoch
}

func NewUnion(upstreams ...Operator) *Union {
	return &Union{Upstreams: upstreams, pendingBarrier: make([]*streaming.Barrier, len(upstreams))}
}

func (u *Union) Next(ctx context.Context) (streaming.Message, error) {
	for i, up := range u.Upstreams {
		if u.pendingBarrier[i] != nil {
			continue // already aligned for this epoch, wait for the rest
		}
		msg, err := up.Next(ctx)
		if err != nil {
			return streaming.Message{}, err
		}
		switch {
		case msg.IsBarrier():
			u.pendingBarrier[i] = msg.Barrier
		case msg.IsChunk(), msg.IsWatermark():
			return msg, nil
		}
	}

	for _, b := range u.pendingBarrier {
		if b == nil {
			return streaming.Message{}, nil
		}
	}
	epoch := u.pendingBarrier[0].Epoch
	for _, b := range u.pendingBarrier {
		if b.Epoch != epoch {
			return streaming.Message{}, fmt.Errorf("executor: union upstreams disagree on epoch: %d vs %d", b.Epoch, epoch)
		}
	}
	out := u.pendingBarrier[0]
	for i := range u.pendingBarrier {
		u.pendingBarrier[i] = nil
	}
	return streaming.BarrierMessage(out), nil
}
