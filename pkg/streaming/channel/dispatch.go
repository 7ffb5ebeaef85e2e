package channel

import (
	"context"

	"github.com/cascadedb/cascade/pkg/key"
	"github.com/cascadedb/cascade/pkg/streaming"
)

// Dispatcher fans one upstream message out across a fragment's downstream
// edges. A barrier is always broadcast to every edge
// regardless of the dispatcher kind; only chunk routing differs between
// them.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg streaming.Message, out []*Channel) error
}

func broadcast(ctx context.Context, msg streaming.Message, out []*Channel) error {
	for _, ch := range out {
		if err := ch.Send(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// HashDispatcher routes each row to the downstream actor owning the
// vnode its distribution key hashes to. DistKeyCols picks the columns
// hashed; the edge's downstream actor count must equal len(out) and each
// index's owned vnode range is given by VNodeOwner.
type HashDispatcher struct {
	DistKeyCols []int
	VNodeOwner  func(v key.VNode, numActors int) int
}

func defaultVNodeOwner(v key.VNode, numActors int) int {
	if numActors <= 0 {
		return 0
	}
	return int(v) % numActors
}

// Dispatch splits chunk into per-actor chunks by distribution key, then
// sends each to its owning actor. Barriers and watermarks broadcast.
func (h *HashDispatcher) Dispatch(ctx context.Context, msg streaming.Message, out []*Channel) error {
	if !msg.IsChunk() {
		return broadcast(ctx, msg, out)
	}
	owner := h.VNodeOwner
	if owner == nil {
		owner = defaultVNodeOwner
	}
	perActor := make([]*streaming.Chunk, len(out))
	for _, c := range msg.Chunk.Changes {
		distKey := c.Row.Project(h.DistKeyCols)
		vnode := key.VNodeOf([]byte(streaming.RowKey(distKey)))
		idx := owner(vnode, len(out))
		if perActor[idx] == nil {
			perActor[idx] = &streaming.Chunk{}
		}
		perActor[idx].Append(c.Op, c.Row)
	}
	for i, chunk := range perActor {
		if chunk.Empty() {
			continue
		}
		if err := out[i].Send(ctx, streaming.ChunkMessage(chunk)); err != nil {
			return err
		}
	}
	return nil
}

// BroadcastDispatcher copies every message, chunks included, to every
// downstream actor.
type BroadcastDispatcher struct{}

func (BroadcastDispatcher) Dispatch(ctx context.Context, msg streaming.Message, out []*Channel) error {
	return broadcast(ctx, msg, out)
}

// SimpleDispatcher has exactly one downstream actor.
type SimpleDispatcher struct{}

func (SimpleDispatcher) Dispatch(ctx context.Context, msg streaming.Message, out []*Channel) error {
	if len(out) != 1 {
		return broadcast(ctx, msg, out) // degrades to broadcast rather than silently dropping a misconfigured edge
	}
	return out[0].Send(ctx, msg)
}

// NoShuffleDispatcher is a 1:1 edge used when the upstream and downstream
// fragments share the same partitioning, so actor i's output goes
// straight to actor i's input with no hashing.
type NoShuffleDispatcher struct {
	ActorIndex int
}

func (n NoShuffleDispatcher) Dispatch(ctx context.Context, msg streaming.Message, out []*Channel) error {
	if n.ActorIndex < 0 || n.ActorIndex >= len(out) {
		return nil
	}
	return out[n.ActorIndex].Send(ctx, msg)
}
