package executor

import (
	"context"
	"encoding/json"

	"github.com/cascadedb/cascade/pkg/key"
	"github.com/cascadedb/cascade/pkg/statetable"
	"github.com/cascadedb/cascade/pkg/streaming"
)

// TopN maintains the K best rows per group in a sorted state table keyed
// by (group_key?, sort_key, pk), refilling from state on delete and
// supporting ties at the K-th boundary. Per-row diffing
// is batched to barrier boundaries, the same granularity HashAgg flushes
// at, rather than emitting a change per input row: only the membership
// delta since the last barrier is observable downstream either way, and
// batching keeps one scan of the group's state doing the work instead of
// an incremental rebalance on every row.
type TopN struct {
	Upstream  Operator
	GroupCols []int
	SortCols  []int
	SortDesc  []bool // per SortCols entry; nil means all ascending
	PKCols    []int
	K         int
	WithTies  bool
	State     *statetable.StateTable
	VNode     func(groupKey streaming.Row) key.VNode

	dirty   map[string]dirtyTopNGroup
	lastTop map[string]map[string]streaming.Row // group key -> member RowKey -> row, as of the last flush
	outbox  []streaming.Message
}

type dirtyTopNGroup struct {
	vnode    key.VNode
	groupKey streaming.Row
}

func (t *TopN) sortKeyBytes(row streaming.Row) []byte {
	var out []byte
	for i, col := range t.SortCols {
		b := streaming.EncodeSortKey(row[col])
		if t.SortDesc != nil && i < len(t.SortDesc) && t.SortDesc[i] {
			b = invertBytes(b)
		}
		out = append(out, b...)
	}
	return out
}

func invertBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		out[i] = ^c
	}
	return out
}

// prefixEnd returns the smallest key greater than every key that starts
// with prefix, or nil (open-ended) when prefix is empty or all 0xff.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

func groupPrefix(groupKey streaming.Row) []byte {
	return streaming.EncodeSortKey(toAny(groupKey)...)
}

func (t *TopN) Next(ctx context.Context) (streaming.Message, error) {
	if len(t.outbox) > 0 {
		msg := t.outbox[0]
		t.outbox = t.outbox[1:]
		return msg, nil
	}

	msg, err := t.Upstream.Next(ctx)
	if err != nil {
		return streaming.Message{}, err
	}

	switch {
	case msg.IsBarrier():
		out, err := t.flush(ctx)
		if err != nil {
			return streaming.Message{}, err
		}
		t.State.Commit(msg.Barrier.Epoch)
		if !out.Empty() {
			t.outbox = append(t.outbox, streaming.ChunkMessage(out))
		}
		t.outbox = append(t.outbox, msg)
		return t.Next(ctx)
	case msg.IsChunk():
		if err := t.apply(msg.Chunk); err != nil {
			return streaming.Message{}, err
		}
		return streaming.Message{}, nil
	default:
		return msg, nil
	}
}

func (t *TopN) apply(chunk *streaming.Chunk) error {
	if t.dirty == nil {
		t.dirty = make(map[string]dirtyTopNGroup)
	}
	for _, c := range chunk.Changes {
		groupKey := c.Row.Project(t.GroupCols)
		gk := streaming.RowKey(groupKey)
		vnode := t.VNode(groupKey)
		t.dirty[gk] = dirtyTopNGroup{vnode: vnode, groupKey: groupKey}

		pk := append(append(groupPrefix(groupKey), t.sortKeyBytes(c.Row)...), streaming.EncodeSortKey(toAny(c.Row.Project(t.PKCols))...)...)
		if c.Op == streaming.Insert || c.Op == streaming.UpdateInsert {
			rowBytes, err := json.Marshal([]streaming.Datum(c.Row))
			if err != nil {
				return err
			}
			t.State.Insert(vnode, pk, rowBytes)
		} else {
			t.State.Delete(vnode, pk)
		}
	}
	return nil
}

func (t *TopN) flush(ctx context.Context) (*streaming.Chunk, error) {
	if t.lastTop == nil {
		t.lastTop = make(map[string]map[string]streaming.Row)
	}
	out := &streaming.Chunk{}
	for gk, dg := range t.dirty {
		prefix := groupPrefix(dg.groupKey)
		rows, err := t.State.Iter(ctx, dg.vnode, prefix, prefixEnd(prefix))
		if err != nil {
			return nil, err
		}

		decoded := make([]streaming.Row, len(rows))
		for i, r := range rows {
			var vals []streaming.Datum
			if err := json.Unmarshal(r.Value, &vals); err != nil {
				return nil, err
			}
			decoded[i] = streaming.Row(vals)
		}

		limit := t.K
		if limit > len(decoded) {
			limit = len(decoded)
		}
		if t.WithTies && t.K > 0 && t.K < len(decoded) {
			boundary := t.sortKeyBytes(decoded[t.K-1])
			for limit < len(decoded) && compareBytes(t.sortKeyBytes(decoded[limit]), boundary) == 0 {
				limit++
			}
		}

		newMembers := make(map[string]streaming.Row, limit)
		for _, row := range decoded[:limit] {
			newMembers[streaming.RowKey(row)] = row
		}

		for k, row := range t.lastTop[gk] {
			if _, still := newMembers[k]; !still {
				out.Append(streaming.Delete, row)
			}
		}
		for k, row := range newMembers {
			if _, was := t.lastTop[gk][k]; !was {
				out.Append(streaming.Insert, row)
			}
		}

		t.lastTop[gk] = newMembers
		delete(t.dirty, gk)
	}
	return out, nil
}
