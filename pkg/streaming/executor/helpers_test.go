package executor

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/cascadedb/cascade/pkg/blockcache"
	"github.com/cascadedb/cascade/pkg/hummock/localversion"
	"github.com/cascadedb/cascade/pkg/hummock/sharedbuffer"
	"github.com/cascadedb/cascade/pkg/key"
	"github.com/cascadedb/cascade/pkg/objectstore"
	"github.com/cascadedb/cascade/pkg/statetable"
	"github.com/cascadedb/cascade/pkg/streaming"
)

const testTable key.TableID = 1

func newState(t *testing.T) *statetable.StateTable {
	t.Helper()
	store := objectstore.NewMemStore()
	cache, err := blockcache.New(store, 8, 1<<20)
	require.NoError(t, err)
	mirror := localversion.New(nil, zerolog.Nop())
	buf := sharedbuffer.New(sharedbuffer.PerVnode)
	return statetable.New(testTable, buf, mirror, cache)
}

func zeroVNodeRow(streaming.Row) key.VNode { return 0 }
func zeroVNodeStr(string) key.VNode        { return 0 }

// sliceSource replays a fixed sequence of messages, then yields an empty
// message forever (simulating an idle, not-yet-exhausted stream).
type sliceSource struct {
	msgs []streaming.Message
	pos  int
}

func (s *sliceSource) Next(ctx context.Context) (streaming.Message, error) {
	if s.pos >= len(s.msgs) {
		return streaming.Message{}, nil
	}
	m := s.msgs[s.pos]
	s.pos++
	return m, nil
}

func chunkOf(changes ...streaming.Change) *streaming.Chunk {
	return &streaming.Chunk{Changes: changes}
}

func barrierAt(epoch key.Epoch) *streaming.Barrier {
	return &streaming.Barrier{Epoch: epoch, PrevEpoch: epoch - 1}
}
