package server

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/cascadedb/cascade/pkg/actor"
	"github.com/cascadedb/cascade/pkg/barrier"
	"github.com/cascadedb/cascade/pkg/hummock"
	"github.com/cascadedb/cascade/pkg/key"
	"github.com/cascadedb/cascade/pkg/meta/cluster"
	"github.com/cascadedb/cascade/pkg/metastore"
)

type nopInjector struct{}

func (nopInjector) InjectBarrier(context.Context, barrier.ActorID, key.Epoch, key.Epoch, []barrier.ActorID, *barrier.Mutation) error {
	return nil
}

func newTestHandlers() (*Handlers, *hummock.VersionManager) {
	vm := hummock.NewVersionManager(nil)
	bm := barrier.NewManager(nopInjector{}, vm, zerolog.Nop())
	c := cluster.New(metastore.NewMemStore())
	return New(bm, vm, c, nil, zerolog.Nop()), vm
}

func TestJoinRegistersTheNodeWithCluster(t *testing.T) {
	h, _ := newTestHandlers()
	node := &cluster.ComputeNode{ID: "node-1", Address: "127.0.0.1:9000"}
	require.NoError(t, h.Join(context.Background(), node))

	got, err := h.Cluster.Get(context.Background(), "node-1")
	require.NoError(t, err)
	require.Equal(t, cluster.Active, got.Status)
}

func TestHeartbeatUpdatesAnAlreadyJoinedNode(t *testing.T) {
	h, _ := newTestHandlers()
	node := &cluster.ComputeNode{ID: "node-1", Address: "127.0.0.1:9000"}
	require.NoError(t, h.Join(context.Background(), node))
	require.NoError(t, h.Heartbeat(context.Background(), "node-1", 12345))

	got, err := h.Cluster.Get(context.Background(), "node-1")
	require.NoError(t, err)
	require.Equal(t, int64(12345), got.LastHeartbeat)
}

func TestCollectForwardsToTheBarrierManager(t *testing.T) {
	h, _ := newTestHandlers()
	h.Barrier.ActorsToCollect = func() []barrier.ActorID { return []barrier.ActorID{1} }

	epoch := key.NewEpoch(1000, 1)
	done := make(chan error, 1)
	go func() { done <- h.Barrier.Tick(context.Background(), 1000) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(t, h.Collect(context.Background(), actor.ID(1), epoch))
		select {
		case err := <-done:
			require.NoError(t, err)
			return
		case <-time.After(time.Millisecond):
		}
		if time.Now().After(deadline) {
			t.Fatal("tick did not complete in time")
		}
	}
}

func TestCommitEpochStagesSSTsRatherThanCommittingDirectly(t *testing.T) {
	h, vm := newTestHandlers()
	err := h.CommitEpoch(context.Background(), hummock.CompactionGroupID(1), key.Epoch(5), []hummock.SSTInfo{{ObjectID: 9}}, nil)
	require.NoError(t, err)
	require.Empty(t, vm.Current().Groups)
}

func TestGetCompactionTaskReturnsNilWhenNothingQueued(t *testing.T) {
	h, _ := newTestHandlers()
	task, err := h.GetCompactionTask(context.Background())
	require.NoError(t, err)
	require.Nil(t, task)
}

func TestPinVersionReturnsCurrentVersionAndASubscription(t *testing.T) {
	h, vm := newTestHandlers()
	v, deltas := h.PinVersion(context.Background())
	require.Same(t, vm.Current(), v)
	require.NotNil(t, deltas)
}

func TestReportCompactionTaskRejectsAnUnknownTask(t *testing.T) {
	h, _ := newTestHandlers()
	err := h.ReportCompactionTask(context.Background(), hummock.Result{TaskID: hummock.TaskID(404)})
	require.Error(t, err)
}
