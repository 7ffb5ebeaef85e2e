package cluster

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cascadedb/cascade/pkg/metastore"
)

const bucketNodes = "cluster_nodes"

// Status is a compute node's membership state.
type Status int

const (
	Active Status = iota
	Draining
	Dead
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Draining:
		return "draining"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// ComputeNode is one member of the compute fleet the meta service
// schedules actors onto.
type ComputeNode struct {
	ID              string
	Address         string
	Status          Status
	ParallelismUnit int // actor slots this node offers, a small thread pool sized per node
	LastHeartbeat   int64
}

// Cluster is the compute-node membership table, replicated via whatever
// metastore.Store the caller wires in (a raft-backed one in production,
// an in-memory one in tests).
type Cluster struct {
	store metastore.Store
}

// New builds a Cluster over store.
func New(store metastore.Store) *Cluster {
	return &Cluster{store: store}
}

// Join registers a compute node as Active, or re-registers one that
// reconnects under the same id.
func (c *Cluster) Join(ctx context.Context, node *ComputeNode) error {
	node.Status = Active
	data, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("cluster: marshal node %s: %w", node.ID, err)
	}
	if err := metastore.Put(ctx, c.store, bucketNodes, node.ID, data); err != nil {
		return fmt.Errorf("cluster: join %s: %w", node.ID, err)
	}
	return nil
}

// Heartbeat records a liveness timestamp for an already-joined node.
func (c *Cluster) Heartbeat(ctx context.Context, id string, nowMillis int64) error {
	node, err := c.Get(ctx, id)
	if err != nil {
		return err
	}
	node.LastHeartbeat = nowMillis
	if node.Status == Dead {
		node.Status = Active
	}
	return c.put(ctx, node)
}

// MarkDead flags a node unresponsive; pkg/meta/recovery reads this to
// decide which fragments need actors rebuilt elsewhere.
func (c *Cluster) MarkDead(ctx context.Context, id string) error {
	node, err := c.Get(ctx, id)
	if err != nil {
		return err
	}
	node.Status = Dead
	return c.put(ctx, node)
}

// Leave removes a node from membership entirely (a graceful departure,
// distinct from MarkDead's "still listed but unreachable").
func (c *Cluster) Leave(ctx context.Context, id string) error {
	if err := metastore.Delete(ctx, c.store, bucketNodes, id); err != nil {
		return fmt.Errorf("cluster: leave %s: %w", id, err)
	}
	return nil
}

// Get returns one node by id.
func (c *Cluster) Get(ctx context.Context, id string) (*ComputeNode, error) {
	data, err := c.store.Get(ctx, bucketNodes, id)
	if err != nil {
		return nil, fmt.Errorf("cluster: get %s: %w", id, err)
	}
	var node ComputeNode
	if err := json.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("cluster: unmarshal %s: %w", id, err)
	}
	return &node, nil
}

// List returns every node, live or dead, in no particular order.
func (c *Cluster) List(ctx context.Context) ([]*ComputeNode, error) {
	all, err := c.store.ScanPrefix(ctx, bucketNodes, "")
	if err != nil {
		return nil, fmt.Errorf("cluster: list: %w", err)
	}
	nodes := make([]*ComputeNode, 0, len(all))
	for _, data := range all {
		var node ComputeNode
		if err := json.Unmarshal(data, &node); err != nil {
			return nil, fmt.Errorf("cluster: unmarshal node: %w", err)
		}
		nodes = append(nodes, &node)
	}
	return nodes, nil
}

// Live returns every node currently Active.
func (c *Cluster) Live(ctx context.Context) ([]*ComputeNode, error) {
	all, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	live := make([]*ComputeNode, 0, len(all))
	for _, n := range all {
		if n.Status == Active {
			live = append(live, n)
		}
	}
	return live, nil
}

func (c *Cluster) put(ctx context.Context, node *ComputeNode) error {
	data, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("cluster: marshal node %s: %w", node.ID, err)
	}
	if err := metastore.Put(ctx, c.store, bucketNodes, node.ID, data); err != nil {
		return fmt.Errorf("cluster: put %s: %w", node.ID, err)
	}
	return nil
}
