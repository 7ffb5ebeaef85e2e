package streaming

import "github.com/cascadedb/cascade/pkg/key"

// Op tags a row change within a chunk. Aggregation and join never emit an
// in-place update: a changed row is always a retraction of its old value
// (UpdateDelete) followed by an append of its new one (UpdateInsert),
// matching the upstream system this spec was distilled from.
type Op int

const (
	Insert Op = iota
	Delete
	UpdateInsert
	UpdateDelete
)

func (o Op) String() string {
	switch o {
	case Insert:
		return "insert"
	case Delete:
		return "delete"
	case UpdateInsert:
		return "update_insert"
	case UpdateDelete:
		return "update_delete"
	default:
		return "unknown"
	}
}

// Datum is one column value. Operators are schema-agnostic: they compare
// and hash datums structurally (see Row.Equal/Row.Hash) rather than
// through a typed column system.
type Datum = any

// Row is one record flowing through the stream, column-ordered.
type Row []Datum

// Clone returns a copy of r safe to retain past the chunk it came from.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	copy(out, r)
	return out
}

// Project returns the sub-row picked out by cols, in order. Used to
// extract group keys, join keys and sort keys without a schema.
func (r Row) Project(cols []int) Row {
	out := make(Row, len(cols))
	for i, c := range cols {
		out[i] = r[c]
	}
	return out
}

// Change is one row mutation within a Chunk.
type Change struct {
	Op  Op
	Row Row
}

// Chunk is a batch of row changes for one epoch.
type Chunk struct {
	Changes []Change
}

// Append adds a change to the chunk in place and returns the chunk for
// chaining.
func (c *Chunk) Append(op Op, row Row) *Chunk {
	c.Changes = append(c.Changes, Change{Op: op, Row: row})
	return c
}

// Empty reports whether the chunk has no changes, the signal an operator
// uses to skip forwarding a no-op chunk at a barrier boundary.
func (c *Chunk) Empty() bool { return c == nil || len(c.Changes) == 0 }

// MutationKind tags the side effect a barrier carries, applied by every
// operator that observes it before the barrier is forwarded.
type MutationKind int

const (
	NoMutation MutationKind = iota
	UpdateVnodeBitmap
	Pause
	Resume
)

// Mutation is the payload of a barrier that changes operator behavior
// rather than just marking an epoch boundary.
type Mutation struct {
	Kind   MutationKind
	VNodes []key.VNode // meaningful only for UpdateVnodeBitmap
}

// Barrier marks an epoch boundary. Operators must flush per-epoch state
// before forwarding it.
type Barrier struct {
	Epoch     key.Epoch
	PrevEpoch key.Epoch
	Mutation  *Mutation
}

// Watermark is a control message a source-adjacent operator emits once
// it has observed the given value as a lower bound on some monotonic
// column; downstream operators use it to clean state for rows that can
// no longer arrive.
type Watermark struct {
	Column int
	Value  Datum
}

// Message is the single type every operator's Next returns: exactly one
// of Chunk, Barrier or Watermark is set. A struct-of-optionals stands in
// for a sum type here since Go has none; IsX methods make the intended
// discriminant explicit at call sites instead of a type switch on `any`.
type Message struct {
	Chunk     *Chunk
	Barrier   *Barrier
	Watermark *Watermark
}

func (m Message) IsChunk() bool     { return m.Chunk != nil }
func (m Message) IsBarrier() bool   { return m.Barrier != nil }
func (m Message) IsWatermark() bool { return m.Watermark != nil }

// ChunkMessage wraps a chunk as a Message.
func ChunkMessage(c *Chunk) Message { return Message{Chunk: c} }

// BarrierMessage wraps a barrier as a Message.
func BarrierMessage(b *Barrier) Message { return Message{Barrier: b} }

// WatermarkMessage wraps a watermark as a Message.
func WatermarkMessage(w *Watermark) Message { return Message{Watermark: w} }
