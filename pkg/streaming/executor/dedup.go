package executor

import (
	"context"

	"github.com/cascadedb/cascade/pkg/key"
	"github.com/cascadedb/cascade/pkg/statetable"
	"github.com/cascadedb/cascade/pkg/streaming"
)

// Dedup drops rows whose primary key has already been seen, backed by a
// state table of seen keys. Only
// Insert changes are meaningful input; a Delete/UpdateInsert/UpdateDelete
// is forwarded unchanged since append-only sources never produce one.
type Dedup struct {
	Upstream Operator
	State    *statetable.StateTable
	KeyCols  []int
	VNode    func(streaming.Row) key.VNode
}

func (d *Dedup) Next(ctx context.Context) (streaming.Message, error) {
	msg, err := d.Upstream.Next(ctx)
	if err != nil {
		return streaming.Message{}, err
	}

	if msg.IsBarrier() {
		d.State.Commit(msg.Barrier.Epoch)
		return msg, nil
	}
	if !msg.IsChunk() {
		return msg, nil
	}

	out := &streaming.Chunk{}
	for _, c := range msg.Chunk.Changes {
		if c.Op != streaming.Insert {
			out.Append(c.Op, c.Row)
			continue
		}
		vnode := d.VNode(c.Row)
		pk := []byte(streaming.RowKey(c.Row.Project(d.KeyCols)))
		_, seen, err := d.State.Get(ctx, vnode, pk)
		if err != nil {
			return streaming.Message{}, err
		}
		if seen {
			continue
		}
		d.State.Insert(vnode, pk, nil)
		out.Append(c.Op, c.Row)
	}
	if out.Empty() {
		return streaming.Message{}, nil
	}
	return streaming.ChunkMessage(out), nil
}
