package rpc

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cascadedb/cascade/pkg/barrier"
	"github.com/cascadedb/cascade/pkg/key"
	"github.com/cascadedb/cascade/pkg/meta/catalog"
	"github.com/cascadedb/cascade/pkg/meta/cluster"
)

// ComputeDialer resolves a compute node id to an address, the same
// lookup pkg/meta/cluster.Cluster.Get already does; split out as its own
// interface so tests can fake it without a real Cluster/metastore.
type ComputeDialer interface {
	Get(ctx context.Context, id string) (*cluster.ComputeNode, error)
}

// ComputePool dials and caches one ComputeClient per compute node id, so
// meta's barrier manager, recovery controller, and rescale path all share
// connections instead of dialing per call. The Injector, ActorDropper and
// ActorBuilder adapters below wrap it to implement barrier.Injector,
// recovery.ActorDropper and recovery.ActorBuilder, routing each call to
// the right node(s); it is meta's only consumer of ComputeClient.
type ComputePool struct {
	dialer ComputeDialer

	mu      sync.Mutex
	clients map[string]*ComputeClient
}

// NewComputePool builds a pool resolving node addresses through dialer.
func NewComputePool(dialer ComputeDialer) *ComputePool {
	return &ComputePool{dialer: dialer, clients: make(map[string]*ComputeClient)}
}

func (p *ComputePool) client(ctx context.Context, nodeID string) (*ComputeClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[nodeID]; ok {
		return c, nil
	}
	node, err := p.dialer.Get(ctx, nodeID)
	if err != nil {
		return nil, fmt.Errorf("rpc: resolve compute node %s: %w", nodeID, err)
	}
	c, err := DialCompute(node.Address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	p.clients[nodeID] = c
	return c, nil
}

// InjectBarrier implements barrier.Injector by resolving the actor's
// host node. Actor placement isn't known to this package directly; the
// caller (pkg/meta's barrier wiring) supplies it via nodeOf.
type ActorRouter interface {
	// NodeOf returns the compute node id hosting actor, or an error if the
	// actor is unplaced.
	NodeOf(actorID barrier.ActorID) (nodeID string, err error)
}

// Injector adapts a ComputePool plus an ActorRouter into barrier.Injector.
type Injector struct {
	Pool   *ComputePool
	Router ActorRouter
}

func (i *Injector) InjectBarrier(ctx context.Context, actorID barrier.ActorID, prevEpoch, epoch key.Epoch, actorsToCollect []barrier.ActorID, mutation *barrier.Mutation) error {
	nodeID, err := i.Router.NodeOf(actorID)
	if err != nil {
		return err
	}
	c, err := i.Pool.client(ctx, nodeID)
	if err != nil {
		return err
	}
	return c.InjectBarrier(ctx, actorID, prevEpoch, epoch, actorsToCollect, mutation)
}

// ActorDropper adapts a ComputePool into recovery.ActorDropper by
// broadcasting DropActors(nil) — "drop everything you run" — to every
// live compute node.
type ActorDropper struct {
	Pool    *ComputePool
	Cluster ClusterLister
}

// ClusterLister is the subset of *cluster.Cluster a broadcast-style
// adapter needs.
type ClusterLister interface {
	Live(ctx context.Context) ([]*cluster.ComputeNode, error)
}

func (d *ActorDropper) DropAllActors(ctx context.Context) error {
	nodes, err := d.Cluster.Live(ctx)
	if err != nil {
		return fmt.Errorf("rpc: list live nodes for drop-all: %w", err)
	}
	for _, n := range nodes {
		c, err := d.Pool.client(ctx, n.ID)
		if err != nil {
			return err
		}
		if err := c.DropActors(ctx, nil); err != nil {
			return err
		}
	}
	return nil
}

// ActorBuilder adapts a ComputePool into recovery.ActorBuilder by
// grouping a fragment's actors by their (freshly recomputed) NodeID and
// calling BuildActors on each distinct node with the whole fragment —
// a node ignores FragmentActor entries that don't name it.
type ActorBuilder struct {
	Pool *ComputePool
}

func (b *ActorBuilder) BuildActors(ctx context.Context, fragment *catalog.Fragment) error {
	seen := map[string]bool{}
	for _, fa := range fragment.Actors {
		if seen[fa.NodeID] {
			continue
		}
		seen[fa.NodeID] = true
		c, err := b.Pool.client(ctx, fa.NodeID)
		if err != nil {
			return err
		}
		if err := c.BuildActors(ctx, fragment); err != nil {
			return err
		}
	}
	return nil
}
