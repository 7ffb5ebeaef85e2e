// Package server is meta's terminal implementation of pkg/rpc.MetaHandlers:
// it turns Collect/ReportActorFailure/CommitEpoch/ReportCompactionTask/
// GetCompactionTask/PinVersion into calls against pkg/barrier.Manager,
// pkg/hummock.VersionManager, and pkg/meta/recovery.Controller.
package server

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/cascadedb/cascade/pkg/actor"
	"github.com/cascadedb/cascade/pkg/barrier"
	"github.com/cascadedb/cascade/pkg/blockcache"
	"github.com/cascadedb/cascade/pkg/hummock"
	"github.com/cascadedb/cascade/pkg/key"
	"github.com/cascadedb/cascade/pkg/meta/cluster"
	"github.com/cascadedb/cascade/pkg/meta/recovery"
)

// Handlers implements pkg/rpc.MetaHandlers over one meta replica's
// barrier manager, Hummock version manager, and cluster membership
// table. Recovery is optional (nil in tests that don't exercise
// failure handling) — ReportActorFailure simply skips triggering
// recovery when it is nil.
type Handlers struct {
	Barrier  *barrier.Manager
	Hummock  *hummock.VersionManager
	Cluster  *cluster.Cluster
	Recovery *recovery.Controller

	log zerolog.Logger
}

// New builds a Handlers over the given barrier manager, Hummock version
// manager, cluster membership table, and recovery controller. logger is
// typically pkg/log.WithComponent("meta_server").
func New(b *barrier.Manager, h *hummock.VersionManager, c *cluster.Cluster, r *recovery.Controller, logger zerolog.Logger) *Handlers {
	return &Handlers{Barrier: b, Hummock: h, Cluster: c, Recovery: r, log: logger}
}

// Join registers a newly-started compute node with cluster membership.
func (h *Handlers) Join(ctx context.Context, node *cluster.ComputeNode) error {
	return h.Cluster.Join(ctx, node)
}

// Heartbeat refreshes an already-joined node's liveness.
func (h *Handlers) Heartbeat(ctx context.Context, nodeID string, nowMillis int64) error {
	return h.Cluster.Heartbeat(ctx, nodeID, nowMillis)
}

// Collect records that actorID has flushed and forwarded epoch's
// barrier; once every actor the in-flight epoch is waiting on has
// reported, the barrier manager's own tick folds the epoch's staged
// SSTs into a new Hummock version.
func (h *Handlers) Collect(_ context.Context, actorID actor.ID, epoch key.Epoch) error {
	h.Barrier.Collect(barrier.ActorID(actorID), epoch)
	return nil
}

// ReportActorFailure records a compute-side actor failure and, unless
// the cluster is already recovering, triggers recovery — mirroring how
// cmd/cascade's failure monitor reacts to a lost node, except a failed
// actor reports itself rather than being discovered by a missed
// heartbeat. Recovery runs in its own goroutine so a slow recovery never
// blocks this RPC's response.
func (h *Handlers) ReportActorFailure(_ context.Context, actorID actor.ID, reason string) error {
	h.log.Warn().Uint64("actor_id", uint64(actorID)).Str("reason", reason).Msg("compute node reported actor failure")
	if h.Recovery == nil || h.Recovery.State() != recovery.Running {
		return nil
	}
	go func() {
		if err := h.Recovery.Recover(context.Background(), recovery.ActorFailure); err != nil {
			h.log.Error().Err(err).Msg("recovery after actor failure failed")
		}
	}()
	return nil
}

// CommitEpoch stages one compute node's flushed SSTs for epoch under
// group. This is not the barrier-gated epoch commit —
// that happens once the epoch is fully collected, through
// barrier.HummockCommitter — it is the per-node contribution a barrier
// commit folds in.
func (h *Handlers) CommitEpoch(_ context.Context, group hummock.CompactionGroupID, epoch key.Epoch, added []hummock.SSTInfo, removed []blockcache.ObjectID) error {
	h.Hummock.StageSSTs(group, epoch, added, removed)
	return nil
}

// ReportCompactionTask applies a compactor's finished task to the
// current version.
func (h *Handlers) ReportCompactionTask(ctx context.Context, result hummock.Result) error {
	return h.Hummock.ApplyCompactionResult(ctx, result)
}

// GetCompactionTask returns the next queued compaction task, if any.
func (h *Handlers) GetCompactionTask(ctx context.Context) (*hummock.Task, error) {
	return h.Hummock.NextCompactionTask(ctx)
}

// PinVersion returns the current version and a feed of every delta
// committed after it.
func (h *Handlers) PinVersion(_ context.Context) (*hummock.Version, <-chan hummock.Delta) {
	return h.Hummock.Current(), h.Hummock.Subscribe()
}
