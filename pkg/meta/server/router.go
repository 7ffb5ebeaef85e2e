package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/cascadedb/cascade/pkg/barrier"
	"github.com/cascadedb/cascade/pkg/meta/catalog"
)

// ActorPlacement tracks which compute node each actor currently runs on.
// It implements pkg/rpc's ActorRouter, the lookup barrier injection uses
// to find an actor's host node; ObservingBuilder keeps it in sync
// whenever a fragment's actors are (re)built.
type ActorPlacement struct {
	mu    sync.RWMutex
	nodes map[barrier.ActorID]string
}

// NewActorPlacement builds an empty placement table.
func NewActorPlacement() *ActorPlacement {
	return &ActorPlacement{nodes: make(map[barrier.ActorID]string)}
}

// Observe records fragment's actor placement, overwriting whatever was
// recorded for each actor id before — the only way placement changes is
// a fragment being rebuilt (initial creation, rescale, recovery).
func (p *ActorPlacement) Observe(fragment *catalog.Fragment) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, fa := range fragment.Actors {
		p.nodes[barrier.ActorID(fa.ActorID)] = fa.NodeID
	}
}

// NodeOf implements pkg/rpc.ActorRouter.
func (p *ActorPlacement) NodeOf(actorID barrier.ActorID) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	nodeID, ok := p.nodes[actorID]
	if !ok {
		return "", fmt.Errorf("server: actor %d is not placed on any node", actorID)
	}
	return nodeID, nil
}

// fragmentBuilder is the subset of pkg/rpc.ActorBuilder ObservingBuilder
// wraps.
type fragmentBuilder interface {
	BuildActors(ctx context.Context, fragment *catalog.Fragment) error
}

// ObservingBuilder wraps an ActorBuilder (normally *rpc.ActorBuilder),
// recording each built fragment's placement in Placement right after a
// successful build so the Injector routing off the same Placement always
// reflects where actors actually are. Satisfies both rpc.ActorBuilder's
// shape and pkg/meta/recovery.ActorBuilder.
type ObservingBuilder struct {
	Builder   fragmentBuilder
	Placement *ActorPlacement
}

// BuildActors delegates to Builder, then records fragment's placement.
func (b *ObservingBuilder) BuildActors(ctx context.Context, fragment *catalog.Fragment) error {
	if err := b.Builder.BuildActors(ctx, fragment); err != nil {
		return err
	}
	b.Placement.Observe(fragment)
	return nil
}
