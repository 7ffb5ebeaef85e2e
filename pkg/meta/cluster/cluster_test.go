package cluster

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cascadedb/cascade/pkg/metastore"
)

func TestJoinThenGetReturnsActiveNode(t *testing.T) {
	c := New(metastore.NewMemStore())
	ctx := context.Background()
	require.NoError(t, c.Join(ctx, &ComputeNode{ID: "n1", Address: "10.0.0.1:7070", ParallelismUnit: 4}))

	node, err := c.Get(ctx, "n1")
	require.NoError(t, err)
	require.Equal(t, Active, node.Status)
	require.Equal(t, "10.0.0.1:7070", node.Address)
}

func TestHeartbeatRevivesADeadNode(t *testing.T) {
	c := New(metastore.NewMemStore())
	ctx := context.Background()
	require.NoError(t, c.Join(ctx, &ComputeNode{ID: "n1"}))
	require.NoError(t, c.MarkDead(ctx, "n1"))

	node, err := c.Get(ctx, "n1")
	require.NoError(t, err)
	require.Equal(t, Dead, node.Status)

	require.NoError(t, c.Heartbeat(ctx, "n1", 1000))
	node, err = c.Get(ctx, "n1")
	require.NoError(t, err)
	require.Equal(t, Active, node.Status)
	require.Equal(t, int64(1000), node.LastHeartbeat)
}

func TestLiveExcludesDeadNodes(t *testing.T) {
	c := New(metastore.NewMemStore())
	ctx := context.Background()
	require.NoError(t, c.Join(ctx, &ComputeNode{ID: "n1"}))
	require.NoError(t, c.Join(ctx, &ComputeNode{ID: "n2"}))
	require.NoError(t, c.MarkDead(ctx, "n2"))

	live, err := c.Live(ctx)
	require.NoError(t, err)
	require.Len(t, live, 1)
	require.Equal(t, "n1", live[0].ID)
}

func TestLeaveRemovesNodeFromMembership(t *testing.T) {
	c := New(metastore.NewMemStore())
	ctx := context.Background()
	require.NoError(t, c.Join(ctx, &ComputeNode{ID: "n1"}))
	require.NoError(t, c.Leave(ctx, "n1"))

	_, err := c.Get(ctx, "n1")
	require.Error(t, err)

	nodes, err := c.List(ctx)
	require.NoError(t, err)
	require.Empty(t, nodes)
}
