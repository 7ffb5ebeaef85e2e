package compute

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cascadedb/cascade/pkg/actor"
	"github.com/cascadedb/cascade/pkg/barrier"
	"github.com/cascadedb/cascade/pkg/hummock/localversion"
	"github.com/cascadedb/cascade/pkg/key"
	"github.com/cascadedb/cascade/pkg/meta/catalog"
	"github.com/cascadedb/cascade/pkg/streaming"
	"github.com/cascadedb/cascade/pkg/streaming/channel"
)

// reportFailureTimeout bounds the ReportActorFailure call ActorFailed
// makes; it runs off the scheduler's failure-handling goroutine, not a
// request context, so it needs its own deadline rather than inheriting
// one from a caller.
const reportFailureTimeout = 10 * time.Second

// Reporter is everything a Node tells meta about its actors: the
// barrier manager's Collect acknowledgement (actor.Collector) plus a
// hard actor failure that Collect alone could never surface — the
// failed actor is, by definition, no longer reporting its own collects.
// A *pkg/rpc.MetaClient in a real deployment.
type Reporter interface {
	actor.Collector
	ReportActorFailure(ctx context.Context, actorID actor.ID, reason string) error
}

// liveActor is everything a Node keeps about one actor it is driving:
// the actor.Actor itself plus the channel its inject_barrier RPC writes
// to.
type liveActor struct {
	actor   *actor.Actor
	inbound *channel.Channel
	inject  chan streaming.Barrier
}

// Node is the compute-node side of the control plane: it implements
// pkg/rpc's ComputeHandlers by turning BuildActors/UpdateActors/
// DropActors/InjectBarrier into pkg/actor.Scheduler calls, and
// pkg/actor.FailureHandler by logging a dropped actor and reporting it
// to meta, so a failure recovery can act on rather than wait out the
// barrier manager's collection timeout for.
//
// Building a fragment's downstream dispatch wiring (which edges each
// actor's output goes to) needs the fragment graph's adjacency, which
// catalog.Fragment does not carry directly (only Upstream fragment ids);
// actors are scheduled with an empty Out/BroadcastDispatcher pair here
// rather than fabricating placement the catalog doesn't expose.
// Wiring that in is the concrete gap this package leaves for whatever
// builds fragment-to-channel routing on top of pkg/meta/catalog.
type Node struct {
	nodeID    string
	scheduler *actor.Scheduler
	mirror    *localversion.Mirror
	collector Reporter
	log       zerolog.Logger

	mu     sync.Mutex
	actors map[actor.ID]*liveActor
}

// NewNode builds a compute node driven by scheduler, mirroring Hummock
// state through mirror and reporting collected barriers and actor
// failures through collector (a *pkg/rpc.MetaClient in a real
// deployment).
func NewNode(nodeID string, scheduler *actor.Scheduler, mirror *localversion.Mirror, collector Reporter, log zerolog.Logger) *Node {
	return &Node{
		nodeID:    nodeID,
		scheduler: scheduler,
		mirror:    mirror,
		collector: collector,
		log:       log,
		actors:    make(map[actor.ID]*liveActor),
	}
}

// Mirror exposes the local Hummock version mirror for state-table reads.
func (n *Node) Mirror() *localversion.Mirror { return n.mirror }

// BuildActors implements pkg/rpc.ComputeHandlers, building every actor of
// fragment pinned to this node.
func (n *Node) BuildActors(ctx context.Context, fragment *catalog.Fragment) error {
	for _, fa := range fragment.Actors {
		if fa.NodeID != n.nodeID {
			continue
		}
		inbound := channel.New(channel.DefaultDepth)
		inject := make(chan streaming.Barrier, 1)
		a := &actor.Actor{
			ID:         fa.ActorID,
			Op:         &actor.Injectable{Upstream: &channel.Reader{Ch: inbound}, Inject: inject},
			Dispatcher: channel.BroadcastDispatcher{},
			Collector:  n.collector,
		}

		n.mu.Lock()
		n.actors[a.ID] = &liveActor{actor: a, inbound: inbound, inject: inject}
		n.mu.Unlock()

		n.scheduler.Add(ctx, a)
		n.log.Info().Uint64("actor_id", uint64(a.ID)).Uint32("fragment_id", fragment.ID).Msg("built actor")
	}
	return nil
}

// UpdateActors implements pkg/rpc.ComputeHandlers. Pushing new channel
// wiring for an already-built actor needs the same fragment-graph
// adjacency the Node type's doc comment describes as absent; this
// validates the actors fragment names are still live here rather than
// rebuilding them.
func (n *Node) UpdateActors(ctx context.Context, fragment *catalog.Fragment) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, fa := range fragment.Actors {
		if fa.NodeID != n.nodeID {
			continue
		}
		if _, ok := n.actors[fa.ActorID]; !ok {
			return fmt.Errorf("compute: update_actors: actor %d not built on this node", fa.ActorID)
		}
	}
	return nil
}

// DropActors implements pkg/rpc.ComputeHandlers. A nil ids means every
// actor this node runs.
func (n *Node) DropActors(ctx context.Context, ids []actor.ID) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if ids == nil {
		for id := range n.actors {
			n.scheduler.Drop(id)
			delete(n.actors, id)
		}
		return nil
	}
	for _, id := range ids {
		if _, ok := n.actors[id]; ok {
			n.scheduler.Drop(id)
			delete(n.actors, id)
		}
	}
	return nil
}

// InjectBarrier implements pkg/rpc.ComputeHandlers by delivering the
// barrier onto the named actor's inject channel, which its Injectable
// operator returns ahead of whatever its upstream produces next.
func (n *Node) InjectBarrier(ctx context.Context, actorID barrier.ActorID, prevEpoch, epoch key.Epoch, actorsToCollect []barrier.ActorID, mutation *barrier.Mutation) error {
	n.mu.Lock()
	la, ok := n.actors[actor.ID(actorID)]
	n.mu.Unlock()
	if !ok {
		return fmt.Errorf("compute: inject_barrier: actor %d not found on this node", actorID)
	}

	b := streaming.Barrier{Epoch: epoch, PrevEpoch: prevEpoch, Mutation: translateMutation(actorID, mutation)}
	select {
	case la.inject <- b:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActorFailed implements pkg/actor.FailureHandler. A failed actor can't
// send its own collect, so without reporting it to meta the barrier
// manager would just sit out its full collection timeout before
// recovery ever noticed.
func (n *Node) ActorFailed(id actor.ID, err error) {
	n.log.Error().Uint64("actor_id", uint64(id)).Err(err).Msg("actor failed, dropped from scheduler")

	ctx, cancel := context.WithTimeout(context.Background(), reportFailureTimeout)
	defer cancel()
	if rerr := n.collector.ReportActorFailure(ctx, id, err.Error()); rerr != nil {
		n.log.Error().Uint64("actor_id", uint64(id)).Err(rerr).Msg("failed to report actor failure to meta")
	}
}

// translateMutation narrows a meta-wide barrier.Mutation to the single
// actor receiving it: only ScaleMutation/PauseMutation/ResumeMutation
// have a local, per-operator counterpart (streaming.Mutation); the
// graph-level mutations (create/drop job, assign splits) are carried
// out through BuildActors/UpdateActors/DropActors instead of an
// in-flight barrier.
func translateMutation(id barrier.ActorID, m *barrier.Mutation) *streaming.Mutation {
	if m == nil {
		return nil
	}
	switch m.Kind {
	case barrier.ScaleMutation:
		return &streaming.Mutation{Kind: streaming.UpdateVnodeBitmap, VNodes: m.VNodes[id]}
	case barrier.PauseMutation:
		return &streaming.Mutation{Kind: streaming.Pause}
	case barrier.ResumeMutation:
		return &streaming.Mutation{Kind: streaming.Resume}
	default:
		return nil
	}
}
