package rpc

import (
	"context"
	"io"

	"google.golang.org/grpc"

	"github.com/cascadedb/cascade/pkg/actor"
	"github.com/cascadedb/cascade/pkg/barrier"
	"github.com/cascadedb/cascade/pkg/blockcache"
	"github.com/cascadedb/cascade/pkg/hummock"
	"github.com/cascadedb/cascade/pkg/key"
	"github.com/cascadedb/cascade/pkg/meta/catalog"
	"github.com/cascadedb/cascade/pkg/meta/cluster"
)

const (
	computeServiceName = "cascade.rpc.Compute"
	metaServiceName    = "cascade.rpc.Meta"
)

// handlerType is an unused marker, the same trick pkg/streaming/channel
// uses: RegisterService only checks the registered value implements it,
// and every value does, since methods are wired directly into the
// ServiceDesc instead of through a generated interface.
type handlerType interface{}

func unaryCallOpt() []grpc.CallOption {
	return []grpc.CallOption{grpc.CallContentSubtype(codecName)}
}

// --- Compute-side server: receives Meta → Compute RPCs ---

// ComputeHandlers is what a compute node's RPC server dispatches to.
// BuildActors/UpdateActors/DropActors mirror pkg/meta/recovery's
// ActorBuilder/ActorDropper so a single local implementation backs both
// the in-process recovery path and the RPC path.
type ComputeHandlers interface {
	InjectBarrier(ctx context.Context, actorID barrier.ActorID, prevEpoch, epoch key.Epoch, actorsToCollect []barrier.ActorID, mutation *barrier.Mutation) error
	BuildActors(ctx context.Context, fragment *catalog.Fragment) error
	UpdateActors(ctx context.Context, fragment *catalog.Fragment) error
	DropActors(ctx context.Context, ids []actor.ID) error
}

// ComputeServer adapts ComputeHandlers onto a grpc.ServiceDesc.
type ComputeServer struct {
	Handlers ComputeHandlers
}

// RegisterComputeServer registers srv's service on s.
func RegisterComputeServer(s *grpc.Server, srv *ComputeServer) {
	s.RegisterService(srv.serviceDesc(), srv)
}

func (s *ComputeServer) serviceDesc() *grpc.ServiceDesc {
	return &grpc.ServiceDesc{
		ServiceName: computeServiceName,
		HandlerType: (*handlerType)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "InjectBarrier", Handler: s.handleInjectBarrier},
			{MethodName: "BuildActors", Handler: s.handleBuildActors},
			{MethodName: "UpdateActors", Handler: s.handleUpdateActors},
			{MethodName: "DropActors", Handler: s.handleDropActors},
		},
	}
}

func (s *ComputeServer) handleInjectBarrier(_ interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	var req InjectBarrierRequest
	if err := dec(&req); err != nil {
		return nil, err
	}
	if err := s.Handlers.InjectBarrier(ctx, req.Actor, req.PrevEpoch, req.Epoch, req.ActorsToCollect, req.Mutation); err != nil {
		return nil, err
	}
	return &InjectBarrierResponse{}, nil
}

func (s *ComputeServer) handleBuildActors(_ interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	var req BuildActorsRequest
	if err := dec(&req); err != nil {
		return nil, err
	}
	if err := s.Handlers.BuildActors(ctx, req.Fragment); err != nil {
		return nil, err
	}
	return &BuildActorsResponse{}, nil
}

func (s *ComputeServer) handleUpdateActors(_ interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	var req UpdateActorsRequest
	if err := dec(&req); err != nil {
		return nil, err
	}
	if err := s.Handlers.UpdateActors(ctx, req.Fragment); err != nil {
		return nil, err
	}
	return &UpdateActorsResponse{}, nil
}

func (s *ComputeServer) handleDropActors(_ interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	var req DropActorsRequest
	if err := dec(&req); err != nil {
		return nil, err
	}
	if err := s.Handlers.DropActors(ctx, req.ActorIDs); err != nil {
		return nil, err
	}
	return &DropActorsResponse{}, nil
}

// --- Meta-side server: receives Compute → Meta RPCs ---

// MetaHandlers is what meta's RPC server dispatches to: the barrier
// manager for Collect, hummock.VersionManager for CommitEpoch and
// PinVersion, and the compaction task queue for ReportCompactionTask.
type MetaHandlers interface {
	Collect(ctx context.Context, actorID actor.ID, epoch key.Epoch) error
	// ReportActorFailure tells meta an actor died without ever reaching
	// its own Collect call, the path a barrier's collection timeout
	// would otherwise be the only way to notice.
	ReportActorFailure(ctx context.Context, actorID actor.ID, reason string) error
	CommitEpoch(ctx context.Context, group hummock.CompactionGroupID, epoch key.Epoch, added []hummock.SSTInfo, removed []blockcache.ObjectID) error
	ReportCompactionTask(ctx context.Context, result hummock.Result) error
	// GetCompactionTask returns the next queued task, or nil if none is
	// ready.
	GetCompactionTask(ctx context.Context) (*hummock.Task, error)
	// PinVersion returns the version to start a new subscriber from and a
	// channel of every delta committed after it. The stream ends when ctx
	// is done or the channel is closed; meta's implementation
	// (pkg/meta/server) never closes it.
	PinVersion(ctx context.Context) (*hummock.Version, <-chan hummock.Delta)
	// Join registers a newly-started compute node with cluster membership.
	Join(ctx context.Context, node *cluster.ComputeNode) error
	// Heartbeat refreshes an already-joined node's liveness.
	Heartbeat(ctx context.Context, nodeID string, nowMillis int64) error
}

// MetaServer adapts MetaHandlers onto a grpc.ServiceDesc.
type MetaServer struct {
	Handlers MetaHandlers
}

// RegisterMetaServer registers srv's service on s.
func RegisterMetaServer(s *grpc.Server, srv *MetaServer) {
	s.RegisterService(srv.serviceDesc(), srv)
}

var pinVersionStreamDesc = grpc.StreamDesc{
	StreamName:    "PinVersion",
	ServerStreams: true,
}

func (s *MetaServer) serviceDesc() *grpc.ServiceDesc {
	return &grpc.ServiceDesc{
		ServiceName: metaServiceName,
		HandlerType: (*handlerType)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "Collect", Handler: s.handleCollect},
			{MethodName: "ReportActorFailure", Handler: s.handleReportActorFailure},
			{MethodName: "CommitEpoch", Handler: s.handleCommitEpoch},
			{MethodName: "ReportCompactionTask", Handler: s.handleReportCompactionTask},
			{MethodName: "GetCompactionTask", Handler: s.handleGetCompactionTask},
			{MethodName: "Join", Handler: s.handleJoin},
			{MethodName: "Heartbeat", Handler: s.handleHeartbeat},
		},
		Streams: []grpc.StreamDesc{{
			StreamName:    "PinVersion",
			Handler:       s.handlePinVersion,
			ServerStreams: true,
		}},
	}
}

func (s *MetaServer) handleCollect(_ interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	var req CollectRequest
	if err := dec(&req); err != nil {
		return nil, err
	}
	if err := s.Handlers.Collect(ctx, req.Actor, req.Epoch); err != nil {
		return nil, err
	}
	return &CollectResponse{}, nil
}

func (s *MetaServer) handleReportActorFailure(_ interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	var req ReportActorFailureRequest
	if err := dec(&req); err != nil {
		return nil, err
	}
	if err := s.Handlers.ReportActorFailure(ctx, req.Actor, req.Reason); err != nil {
		return nil, err
	}
	return &ReportActorFailureResponse{}, nil
}

func (s *MetaServer) handleCommitEpoch(_ interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	var req CommitEpochRequest
	if err := dec(&req); err != nil {
		return nil, err
	}
	if err := s.Handlers.CommitEpoch(ctx, req.Group, req.Epoch, req.AddedSSTs, req.RemovedIDs); err != nil {
		return nil, err
	}
	return &CommitEpochResponse{}, nil
}

func (s *MetaServer) handleReportCompactionTask(_ interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	var req ReportCompactionTaskRequest
	if err := dec(&req); err != nil {
		return nil, err
	}
	if err := s.Handlers.ReportCompactionTask(ctx, req.Result); err != nil {
		return nil, err
	}
	return &ReportCompactionTaskResponse{}, nil
}

func (s *MetaServer) handleGetCompactionTask(_ interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	var req GetCompactionTaskRequest
	if err := dec(&req); err != nil {
		return nil, err
	}
	task, err := s.Handlers.GetCompactionTask(ctx)
	if err != nil {
		return nil, err
	}
	return &GetCompactionTaskReply{Task: task}, nil
}

func (s *MetaServer) handleJoin(_ interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	var req JoinRequest
	if err := dec(&req); err != nil {
		return nil, err
	}
	if err := s.Handlers.Join(ctx, req.Node); err != nil {
		return nil, err
	}
	return &JoinResponse{}, nil
}

func (s *MetaServer) handleHeartbeat(_ interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	var req HeartbeatRequest
	if err := dec(&req); err != nil {
		return nil, err
	}
	if err := s.Handlers.Heartbeat(ctx, req.NodeID, req.NowMillis); err != nil {
		return nil, err
	}
	return &HeartbeatResponse{}, nil
}

func (s *MetaServer) handlePinVersion(_ interface{}, stream grpc.ServerStream) error {
	ctx := stream.Context()
	var req PinVersionRequest
	if err := stream.RecvMsg(&req); err != nil {
		return err
	}

	initial, deltas := s.Handlers.PinVersion(ctx)
	if err := stream.SendMsg(&PinVersionReply{Initial: initial}); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case delta, ok := <-deltas:
			if !ok {
				return io.EOF
			}
			d := delta
			if err := stream.SendMsg(&PinVersionReply{Delta: &d}); err != nil {
				return err
			}
		}
	}
}
