package logstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cascadedb/cascade/pkg/key"
	"github.com/cascadedb/cascade/pkg/statetable"
	"github.com/cascadedb/cascade/pkg/streaming"
)

// logVNode is the single vnode a sink's log store occupies: a log is a
// per-sink journal, not a sharded table, so it never needs more than one.
const logVNode key.VNode = 0

// LogStore is the durable append-only journal backing a decoupled sink
//, keyed by (epoch, seq_id) over a state table. It
// satisfies executor.LogStore.
type LogStore struct {
	table *statetable.StateTable

	mu      sync.Mutex
	started bool
	epoch   key.Epoch
	seq     uint64
}

// New wraps table as a sink log store. table should be dedicated to one
// sink; sharing it with relational state would mix PK spaces.
func New(table *statetable.StateTable) *LogStore {
	return &LogStore{table: table}
}

// Append journals chunk under the current epoch. Chunks appended under
// the same epoch get increasing seq_ids; moving to a new epoch commits
// the previous one on the underlying state table, which also applies any
// range delete a prior Truncate's watermark left pending.
func (l *LogStore) Append(ctx context.Context, epoch key.Epoch, chunk *streaming.Chunk) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.started || epoch != l.epoch {
		l.table.Commit(epoch)
		l.epoch = epoch
		l.seq = 0
		l.started = true
	}
	data, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("logstore: marshal chunk at epoch %d: %w", epoch, err)
	}
	pk := entryKey(epoch, l.seq)
	l.seq++
	l.table.Insert(logVNode, pk, data)
	return nil
}

// Truncate marks every entry at or below upToEpoch for cleanup. The
// state table's watermark mechanism converts this into a
// range delete at the next Commit, i.e. the next Append into a new
// epoch — truncation never blocks on an immediate delete.
func (l *LogStore) Truncate(_ context.Context, upToEpoch key.Epoch) error {
	l.table.SetWatermark(logVNode, entryKey(upToEpoch+1, 0))
	return nil
}

// Entry is one journaled chunk, returned to a decoupled sink's drain
// loop in (epoch, seq_id) order.
type Entry struct {
	Epoch key.Epoch
	Seq   uint64
	Chunk *streaming.Chunk
}

// Read returns every entry still in the log, oldest first. A drain loop
// tails this, ships each chunk to the external system, and calls
// Truncate once delivery is durable.
func (l *LogStore) Read(ctx context.Context) ([]Entry, error) {
	rows, err := l.table.Iter(ctx, logVNode, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("logstore: read: %w", err)
	}
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		epoch, seq := decodeEntryKey(row.PK)
		var chunk streaming.Chunk
		if err := json.Unmarshal(row.Value, &chunk); err != nil {
			return nil, fmt.Errorf("logstore: unmarshal entry at epoch %d seq %d: %w", epoch, seq, err)
		}
		entries = append(entries, Entry{Epoch: epoch, Seq: seq, Chunk: &chunk})
	}
	return entries, nil
}

// entryKey order-preserving-encodes (epoch, seq) so a range scan or
// watermark boundary over the PK space sorts the same way the log was
// written: big-endian epoch first, then big-endian seq.
func entryKey(epoch key.Epoch, seq uint64) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], uint64(epoch))
	binary.BigEndian.PutUint64(buf[8:16], seq)
	return buf
}

func decodeEntryKey(pk []byte) (key.Epoch, uint64) {
	return key.Epoch(binary.BigEndian.Uint64(pk[0:8])), binary.BigEndian.Uint64(pk[8:16])
}
