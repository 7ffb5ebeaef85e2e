package actor

import (
	"context"

	"github.com/cascadedb/cascade/pkg/key"
	"github.com/cascadedb/cascade/pkg/streaming/channel"
	"github.com/cascadedb/cascade/pkg/streaming/executor"
)

// ID identifies one actor on a compute node. Wire-facing code (pkg/rpc)
// converts between this and the meta-side pkg/barrier.ActorID; the two
// packages don't depend on each other directly.
type ID uint64

// Collector reports that an actor has flushed its state for an epoch and
// forwarded the epoch's barrier, the acknowledgement meta's barrier
// manager is waiting to receive. Implemented over
// pkg/rpc's collect call in a real deployment.
type Collector interface {
	Collect(ctx context.Context, actor ID, epoch key.Epoch) error
}

// Actor is one long-lived executor instance: it owns some vnodes
// implicitly through the state its Op reads and writes, pulls messages
// from its operator chain, and fans them out across its downstream
// edges. Actor itself holds no vnode bookkeeping — that lives in the
// state tables its Op's operators were built against.
type Actor struct {
	ID         ID
	Op         executor.Operator
	Out        []*channel.Channel
	Dispatcher channel.Dispatcher
	Collector  Collector
}

// step runs one poll-dispatch-collect cycle. A message with nothing set
// (executor.Operator's "try again" convention) is a no-op step, not an
// error.
func (a *Actor) step(ctx context.Context) error {
	msg, err := a.Op.Next(ctx)
	if err != nil {
		return err
	}
	if !msg.IsChunk() && !msg.IsBarrier() && !msg.IsWatermark() {
		return nil
	}
	if a.Dispatcher != nil && len(a.Out) > 0 {
		if err := a.Dispatcher.Dispatch(ctx, msg, a.Out); err != nil {
			return err
		}
	}
	if msg.IsBarrier() && a.Collector != nil {
		if err := a.Collector.Collect(ctx, a.ID, msg.Barrier.Epoch); err != nil {
			return err
		}
	}
	return nil
}
