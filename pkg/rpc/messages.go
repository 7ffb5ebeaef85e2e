package rpc

import (
	"github.com/cascadedb/cascade/pkg/actor"
	"github.com/cascadedb/cascade/pkg/barrier"
	"github.com/cascadedb/cascade/pkg/blockcache"
	"github.com/cascadedb/cascade/pkg/hummock"
	"github.com/cascadedb/cascade/pkg/key"
	"github.com/cascadedb/cascade/pkg/meta/catalog"
	"github.com/cascadedb/cascade/pkg/meta/cluster"
)

// --- Meta → Compute ---

// InjectBarrierRequest is the wire form of an
// inject_barrier(curr, prev, actors_to_send, actors_to_collect, mutation) call.
type InjectBarrierRequest struct {
	Actor           barrier.ActorID
	PrevEpoch       key.Epoch
	Epoch           key.Epoch
	ActorsToCollect []barrier.ActorID
	Mutation        *barrier.Mutation
}

type InjectBarrierResponse struct{}

// BuildActorsRequest asks a compute node to (re)build the actors a
// fragment places on it.
type BuildActorsRequest struct {
	Fragment *catalog.Fragment
}

type BuildActorsResponse struct{}

// UpdateActorsRequest pushes channel wiring changes for already-built
// actors (an update_actors(actors, channels) call), used by a rescale
// mutation rather than a full rebuild.
type UpdateActorsRequest struct {
	Fragment *catalog.Fragment
}

type UpdateActorsResponse struct{}

// DropActorsRequest tears down actors on a compute node. A nil ActorIDs
// means "every actor this node runs" — recovery's ActorDropper uses that
// form; a targeted rescale uses an explicit list.
type DropActorsRequest struct {
	ActorIDs []actor.ID
}

type DropActorsResponse struct{}

// --- Compute → Meta ---

// CollectRequest is a collect(curr) acknowledgement.
type CollectRequest struct {
	Actor actor.ID
	Epoch key.Epoch
}

type CollectResponse struct{}

// ReportActorFailureRequest tells meta that an actor died on a compute
// node and will never send its own collect acknowledgement again;
// Reason is the error that killed it, kept as a plain string since
// nothing on the meta side needs to type-switch on it.
type ReportActorFailureRequest struct {
	Actor  actor.ID
	Reason string
}

type ReportActorFailureResponse struct{}

// CommitEpochRequest bundles the SSTs a compute node flushed for epoch
// with the barrier-driven commit, folding commit_epoch(epoch, ssts) into
// one wire call even though
// hummock.VersionManager splits it into StageSSTs then CommitEpoch.
type CommitEpochRequest struct {
	Group      hummock.CompactionGroupID
	Epoch      key.Epoch
	AddedSSTs  []hummock.SSTInfo
	RemovedIDs []blockcache.ObjectID
}

type CommitEpochResponse struct{}

// ReportCompactionTaskRequest is a compactor's report_compaction_task(task, result).
type ReportCompactionTaskRequest struct {
	Result hummock.Result
}

type ReportCompactionTaskResponse struct{}

// GetCompactionTaskRequest asks meta for the next task its Planner has
// queued for this compactor to run. report_compaction_task implies a pull
// side meta must also serve, since nothing else hands a compactor work to
// report back on.
type GetCompactionTaskRequest struct{}

// GetCompactionTaskReply's Task is nil when no task is queued; the
// compactor backs off and asks again rather than treating that as an
// error.
type GetCompactionTaskReply struct {
	Task *hummock.Task
}

// PinVersionRequest opens the version-delta stream a compute node's
// localversion.Mirror runs as its DeltaSource.
type PinVersionRequest struct{}

// PinVersionReply carries one hummock.Delta per message on the stream
// PinVersion opens; the first reply instead carries the pinned starting
// Version in full so a newly-joined compute node doesn't need every
// historical delta since version 0.
type PinVersionReply struct {
	Initial *hummock.Version
	Delta   *hummock.Delta
}

// JoinRequest registers a compute node with meta's cluster membership
// table (pkg/meta/cluster). The steady-state pin/commit/compaction calls
// don't cover initial bootstrap; a compute node has to become visible to
// meta's scheduler somehow before any of those make sense.
type JoinRequest struct {
	Node *cluster.ComputeNode
}

type JoinResponse struct{}

// HeartbeatRequest keeps an already-joined node's LastHeartbeat current;
// a missed heartbeat is what pkg/meta/recovery's failure detection acts
// on in a real deployment.
type HeartbeatRequest struct {
	NodeID    string
	NowMillis int64
}

type HeartbeatResponse struct{}
