package executor

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/cascadedb/cascade/pkg/key"
	"github.com/cascadedb/cascade/pkg/statetable"
	"github.com/cascadedb/cascade/pkg/streaming"
)

// Accumulator is one aggregate function's running value for one group.
// Add/Retract let HashAgg compute a retract+append delta instead of an
// in-place update.
type Accumulator interface {
	Add(ctx context.Context, v streaming.Datum) error
	Retract(ctx context.Context, v streaming.Datum) error
	Result() streaming.Datum
}

// AccumulatorFactory builds a fresh Accumulator for one group.
type AccumulatorFactory func(vnode key.VNode, groupKey streaming.Row) Accumulator

// AggSpec is one output column of a HashAgg: which input column it reads
// and which kind of accumulator produces it.
type AggSpec struct {
	Col int
	New AccumulatorFactory
}

func toFloat(v streaming.Datum) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	default:
		return 0
	}
}

type sumAccumulator struct{ value float64 }

func (a *sumAccumulator) Add(_ context.Context, v streaming.Datum) error     { a.value += toFloat(v); return nil }
func (a *sumAccumulator) Retract(_ context.Context, v streaming.Datum) error { a.value -= toFloat(v); return nil }
func (a *sumAccumulator) Result() streaming.Datum                            { return a.value }

// NewSum builds a factory for a sum aggregate.
func NewSum() AccumulatorFactory {
	return func(key.VNode, streaming.Row) Accumulator { return &sumAccumulator{} }
}

type countAccumulator struct{ count int64 }

func (a *countAccumulator) Add(context.Context, streaming.Datum) error     { a.count++; return nil }
func (a *countAccumulator) Retract(context.Context, streaming.Datum) error { a.count--; return nil }
func (a *countAccumulator) Result() streaming.Datum                       { return a.count }

// NewCount builds a factory for a row-count aggregate.
func NewCount() AccumulatorFactory {
	return func(key.VNode, streaming.Row) Accumulator { return &countAccumulator{} }
}

// minMaxAccumulator keeps its candidate members in an on-disk ordered
// index (a dedicated state table, PK = groupKey ++ sort(value) ++ a
// sequence number so duplicate values each get their own row) instead of
// only the current extreme, so a Retract of the current extreme can
// re-derive the new one with a bounded scan rather than replaying every
// row the group has ever seen.
type minMaxAccumulator struct {
	index    *statetable.StateTable
	vnode    key.VNode
	groupKey []byte // EncodeSortKey of the group-key columns, shared prefix for this group's index rows
	max      bool   // true for MAX, false for MIN

	mu   sync.Mutex
	seq  uint64
	have bool
	cur  streaming.Datum
}

func newMinMaxAccumulator(index *statetable.StateTable, max bool, vnode key.VNode, groupKey streaming.Row) *minMaxAccumulator {
	return &minMaxAccumulator{index: index, vnode: vnode, groupKey: streaming.EncodeSortKey(toAny(groupKey)...), max: max}
}

func toAny(r streaming.Row) []any {
	out := make([]any, len(r))
	copy(out, r)
	return out
}

func (a *minMaxAccumulator) valuePrefix(v streaming.Datum) []byte {
	return append(append([]byte(nil), a.groupKey...), streaming.EncodeSortKey(v)...)
}

func (a *minMaxAccumulator) Add(ctx context.Context, v streaming.Datum) error {
	v = decodeMember(encodeMember(v))
	a.mu.Lock()
	seq := a.seq
	a.seq++
	a.mu.Unlock()

	pk := append(a.valuePrefix(v), encodeSeq(seq)...)
	a.index.Insert(a.vnode, pk, encodeMember(v))

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.have || a.better(v, a.cur) {
		a.cur = v
		a.have = true
	}
	return nil
}

func (a *minMaxAccumulator) better(candidate, current streaming.Datum) bool {
	cmp := compareBytes(streaming.EncodeSortKey(candidate), streaming.EncodeSortKey(current))
	if a.max {
		return cmp > 0
	}
	return cmp < 0
}

func (a *minMaxAccumulator) Retract(ctx context.Context, v streaming.Datum) error {
	v = decodeMember(encodeMember(v))
	prefix := a.valuePrefix(v)
	end := append(append([]byte(nil), prefix...), 0xff)
	rows, err := a.index.Iter(ctx, a.vnode, prefix, end)
	if err != nil {
		return err
	}
	if len(rows) > 0 {
		a.index.Delete(a.vnode, rows[0].PK)
	}

	a.mu.Lock()
	wasCurrent := a.have && compareBytes(streaming.EncodeSortKey(v), streaming.EncodeSortKey(a.cur)) == 0
	a.mu.Unlock()
	if !wasCurrent {
		return nil
	}
	return a.recompute(ctx)
}

// recompute re-derives the extreme by scanning this group's whole index
// range; the bound is the group-key prefix itself, open-ended, so it only
// touches this group's rows regardless of how many other groups share the
// index table.
func (a *minMaxAccumulator) recompute(ctx context.Context) error {
	end := append(append([]byte(nil), a.groupKey...), 0xff)
	rows, err := a.index.Iter(ctx, a.vnode, a.groupKey, end)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(rows) == 0 {
		a.have = false
		a.cur = nil
		return nil
	}
	// Iter returns ascending PK order, and PKs embed an order-preserving
	// sort-key encoding, so the first row is the min and the last the max.
	idx := 0
	if a.max {
		idx = len(rows) - 1
	}
	a.cur = decodeMember(rows[idx].Value)
	a.have = true
	return nil
}

func (a *minMaxAccumulator) Result() streaming.Datum {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cur
}

func encodeSeq(seq uint64) []byte {
	buf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		buf[i] = byte(seq >> uint(56-8*i))
	}
	return buf
}

func encodeMember(v streaming.Datum) []byte {
	b, _ := json.Marshal(v)
	return b
}

func decodeMember(b []byte) streaming.Datum {
	var v streaming.Datum
	_ = json.Unmarshal(b, &v)
	return v
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// NewMin builds a factory for a MIN aggregate over its input column,
// backed by index for the on-disk ordered candidate set.
func NewMin(index *statetable.StateTable) AccumulatorFactory {
	return func(vnode key.VNode, groupKey streaming.Row) Accumulator {
		return newMinMaxAccumulator(index, false, vnode, groupKey)
	}
}

// NewMax builds a factory for a MAX aggregate, symmetric with NewMin.
func NewMax(index *statetable.StateTable) AccumulatorFactory {
	return func(vnode key.VNode, groupKey streaming.Row) Accumulator {
		return newMinMaxAccumulator(index, true, vnode, groupKey)
	}
}

// group is one hash aggregation group's in-memory bookkeeping between
// flushes. Accumulators live for the lifetime of the operator; crash
// recovery (pkg/meta/recovery) rebuilds a fresh HashAgg and replays
// retained input rather than this operator reading its own persisted
// result rows back out on startup.
type group struct {
	key   streaming.Row
	vnode key.VNode
	accs  []Accumulator

	isNew     bool
	oldResult streaming.Row
	dirty     bool
}

// HashAgg maintains one accumulator set per distinct group key, flushing
// dirty groups to State and emitting the changed rows as a retract
// (UpdateDelete of the old result) plus an append (UpdateInsert of the
// new one) on each barrier — never an in-place update.
type HashAgg struct {
	Upstream  Operator
	GroupCols []int
	Aggs      []AggSpec
	State     *statetable.StateTable
	VNode     func(groupKey streaming.Row) key.VNode

	groups map[string]*group
	outbox []streaming.Message
}

func (h *HashAgg) groupFor(groupKey streaming.Row) *group {
	if h.groups == nil {
		h.groups = make(map[string]*group)
	}
	gk := streaming.RowKey(groupKey)
	g, ok := h.groups[gk]
	if ok {
		return g
	}
	vnode := h.VNode(groupKey)
	g = &group{key: groupKey, vnode: vnode, isNew: true}
	g.accs = make([]Accumulator, len(h.Aggs))
	for i, spec := range h.Aggs {
		g.accs[i] = spec.New(vnode, groupKey)
	}
	h.groups[gk] = g
	return g
}

func (h *HashAgg) Next(ctx context.Context) (streaming.Message, error) {
	if len(h.outbox) > 0 {
		msg := h.outbox[0]
		h.outbox = h.outbox[1:]
		return msg, nil
	}

	msg, err := h.Upstream.Next(ctx)
	if err != nil {
		return streaming.Message{}, err
	}

	switch {
	case msg.IsBarrier():
		out, err := h.flush(ctx)
		if err != nil {
			return streaming.Message{}, err
		}
		h.State.Commit(msg.Barrier.Epoch)
		if !out.Empty() {
			h.outbox = append(h.outbox, streaming.ChunkMessage(out))
		}
		h.outbox = append(h.outbox, msg)
		return h.Next(ctx)
	case msg.IsChunk():
		for _, c := range msg.Chunk.Changes {
			groupKey := c.Row.Project(h.GroupCols)
			g := h.groupFor(groupKey)
			g.dirty = true
			for i, spec := range h.Aggs {
				var accErr error
				if c.Op == streaming.Delete || c.Op == streaming.UpdateDelete {
					accErr = g.accs[i].Retract(ctx, c.Row[spec.Col])
				} else {
					accErr = g.accs[i].Add(ctx, c.Row[spec.Col])
				}
				if accErr != nil {
					return streaming.Message{}, accErr
				}
			}
		}
		return streaming.Message{}, nil
	default:
		return msg, nil
	}
}

func (h *HashAgg) flush(ctx context.Context) (*streaming.Chunk, error) {
	out := &streaming.Chunk{}
	for gk, g := range h.groups {
		if !g.dirty {
			continue
		}
		result := make(streaming.Row, len(h.Aggs))
		for i, acc := range g.accs {
			result[i] = acc.Result()
		}
		if !g.isNew {
			out.Append(streaming.UpdateDelete, append(append(streaming.Row{}, g.key...), g.oldResult...))
		}
		newRow := append(append(streaming.Row{}, g.key...), result...)
		if g.isNew {
			out.Append(streaming.Insert, newRow)
		} else {
			out.Append(streaming.UpdateInsert, newRow)
		}
		h.State.Insert(g.vnode, []byte(gk), encodeResultRow(result))
		g.oldResult = result
		g.isNew = false
		g.dirty = false
	}
	return out, nil
}

func encodeResultRow(r streaming.Row) []byte {
	b, _ := json.Marshal([]streaming.Datum(r))
	return b
}
