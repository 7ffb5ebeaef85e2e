package actor

import (
	"context"

	"github.com/cascadedb/cascade/pkg/streaming"
	"github.com/cascadedb/cascade/pkg/streaming/executor"
)

// Injectable wraps an actor's real upstream operator with a side channel
// meta's inject_barrier RPC feeds directly (pkg/rpc's ComputeHandlers
// delivers onto it). A pending injected barrier always takes priority
// over Upstream, since meta expects an inject_barrier call to be
// observed promptly rather than queued behind whatever the actor's own
// upstream happens to produce next — a source actor, in particular, has
// no other way to learn that a new epoch has started.
type Injectable struct {
	Upstream executor.Operator
	Inject   <-chan streaming.Barrier
}

// Next implements executor.Operator.
func (i *Injectable) Next(ctx context.Context) (streaming.Message, error) {
	select {
	case b := <-i.Inject:
		return streaming.BarrierMessage(&b), nil
	default:
	}
	return i.Upstream.Next(ctx)
}
