package rpc

import (
	"context"
	"fmt"
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

// ComputeClient calls the Compute-side service on one compute node's
// address, standing in for pkg/barrier.Injector and
// pkg/meta/recovery.ActorBuilder/ActorDropper in a real deployment.
type ComputeClient struct {
	conn *grpc.ClientConn
	addr string
}

// DialCompute opens a connection to a compute node's RPC server.
func DialCompute(addr string, opts ...grpc.DialOption) (*ComputeClient, error) {
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial compute node %s: %w", addr, err)
	}
	return &ComputeClient{conn: conn, addr: addr}, nil
}

// Close releases the underlying connection.
func (c *ComputeClient) Close() error { return c.conn.Close() }

func (c *ComputeClient) invoke(ctx context.Context, method string, req, reply interface{}) error {
	full := "/" + computeServiceName + "/" + method
	if err := c.conn.Invoke(ctx, full, req, reply, unaryCallOpt()...); err != nil {
		return fmt.Errorf("rpc: %s to %s: %w", method, c.addr, err)
	}
	return nil
}

// InjectBarrier implements barrier.Injector.
func (c *ComputeClient) InjectBarrier(ctx context.Context, actorID barrier.ActorID, prevEpoch, epoch key.Epoch, actorsToCollect []barrier.ActorID, mutation *barrier.Mutation) error {
	req := &InjectBarrierRequest{Actor: actorID, PrevEpoch: prevEpoch, Epoch: epoch, ActorsToCollect: actorsToCollect, Mutation: mutation}
	return c.invoke(ctx, "InjectBarrier", req, &InjectBarrierResponse{})
}

// BuildActors implements recovery.ActorBuilder.
func (c *ComputeClient) BuildActors(ctx context.Context, fragment *catalog.Fragment) error {
	return c.invoke(ctx, "BuildActors", &BuildActorsRequest{Fragment: fragment}, &BuildActorsResponse{})
}

// UpdateActors pushes channel wiring for a rescaled fragment.
func (c *ComputeClient) UpdateActors(ctx context.Context, fragment *catalog.Fragment) error {
	return c.invoke(ctx, "UpdateActors", &UpdateActorsRequest{Fragment: fragment}, &UpdateActorsResponse{})
}

// DropActors tears down the given actors, or every actor on the node if
// ids is nil.
func (c *ComputeClient) DropActors(ctx context.Context, ids []actor.ID) error {
	return c.invoke(ctx, "DropActors", &DropActorsRequest{ActorIDs: ids}, &DropActorsResponse{})
}

// MetaClient calls the Meta-side service, standing in for
// actor.Collector and hummock's upload/compaction reporting paths.
type MetaClient struct {
	conn *grpc.ClientConn
	addr string
}

// DialMeta opens a connection to meta's RPC server.
func DialMeta(addr string, opts ...grpc.DialOption) (*MetaClient, error) {
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial meta %s: %w", addr, err)
	}
	return &MetaClient{conn: conn, addr: addr}, nil
}

// Close releases the underlying connection.
func (c *MetaClient) Close() error { return c.conn.Close() }

func (c *MetaClient) invoke(ctx context.Context, method string, req, reply interface{}) error {
	full := "/" + metaServiceName + "/" + method
	if err := c.conn.Invoke(ctx, full, req, reply, unaryCallOpt()...); err != nil {
		return fmt.Errorf("rpc: %s to %s: %w", method, c.addr, err)
	}
	return nil
}

// Collect implements actor.Collector.
func (c *MetaClient) Collect(ctx context.Context, actorID actor.ID, epoch key.Epoch) error {
	return c.invoke(ctx, "Collect", &CollectRequest{Actor: actorID, Epoch: epoch}, &CollectResponse{})
}

// ReportActorFailure implements pkg/compute.Reporter, telling meta an
// actor died locally so recovery doesn't have to wait out a barrier
// collection timeout to find out.
func (c *MetaClient) ReportActorFailure(ctx context.Context, actorID actor.ID, reason string) error {
	req := &ReportActorFailureRequest{Actor: actorID, Reason: reason}
	return c.invoke(ctx, "ReportActorFailure", req, &ReportActorFailureResponse{})
}

// CommitEpoch reports a shared buffer flush's SSTs alongside the epoch
// they belong to.
func (c *MetaClient) CommitEpoch(ctx context.Context, group hummock.CompactionGroupID, epoch key.Epoch, added []hummock.SSTInfo, removed []blockcache.ObjectID) error {
	req := &CommitEpochRequest{Group: group, Epoch: epoch, AddedSSTs: added, RemovedIDs: removed}
	return c.invoke(ctx, "CommitEpoch", req, &CommitEpochResponse{})
}

// ReportCompactionTask reports a finished compaction task's result.
func (c *MetaClient) ReportCompactionTask(ctx context.Context, result hummock.Result) error {
	return c.invoke(ctx, "ReportCompactionTask", &ReportCompactionTaskRequest{Result: result}, &ReportCompactionTaskResponse{})
}

// GetCompactionTask asks meta for the next queued task, returning nil if
// none is ready.
func (c *MetaClient) GetCompactionTask(ctx context.Context) (*hummock.Task, error) {
	var reply GetCompactionTaskReply
	if err := c.invoke(ctx, "GetCompactionTask", &GetCompactionTaskRequest{}, &reply); err != nil {
		return nil, err
	}
	return reply.Task, nil
}

// Join registers this compute node with meta's cluster membership table.
func (c *MetaClient) Join(ctx context.Context, node *cluster.ComputeNode) error {
	return c.invoke(ctx, "Join", &JoinRequest{Node: node}, &JoinResponse{})
}

// Heartbeat refreshes this node's liveness on meta.
func (c *MetaClient) Heartbeat(ctx context.Context, nodeID string, nowMillis int64) error {
	return c.invoke(ctx, "Heartbeat", &HeartbeatRequest{NodeID: nodeID, NowMillis: nowMillis}, &HeartbeatResponse{})
}

var pinVersionCallOpt = grpc.CallContentSubtype(codecName)

// VersionStream is a live pin_version subscription whose first reply,
// the starting version, PinVersion has already read; every Recv returns
// one delta. It implements localversion.DeltaSource.
type VersionStream struct {
	stream grpc.ClientStream
}

// PinVersion opens the version-delta stream, returning the starting
// Version and a stream a localversion.Mirror can Run against.
func (c *MetaClient) PinVersion(ctx context.Context) (*hummock.Version, *VersionStream, error) {
	stream, err := c.conn.NewStream(ctx, &pinVersionStreamDesc, "/"+metaServiceName+"/PinVersion", grpc.CallContentSubtype(codecName))
	if err != nil {
		return nil, nil, fmt.Errorf("rpc: pin_version to %s: %w", c.addr, err)
	}
	if err := stream.SendMsg(&PinVersionRequest{}); err != nil {
		return nil, nil, fmt.Errorf("rpc: pin_version request to %s: %w", c.addr, err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, nil, fmt.Errorf("rpc: pin_version close-send to %s: %w", c.addr, err)
	}

	var first PinVersionReply
	if err := stream.RecvMsg(&first); err != nil {
		return nil, nil, fmt.Errorf("rpc: pin_version initial version from %s: %w", c.addr, err)
	}
	return first.Initial, &VersionStream{stream: stream}, nil
}

// Recv implements pkg/hummock/localversion.DeltaSource.
func (v *VersionStream) Recv(ctx context.Context) (hummock.Delta, error) {
	var reply PinVersionReply
	if err := v.stream.RecvMsg(&reply); err != nil {
		if err == io.EOF {
			return hummock.Delta{}, ctx.Err()
		}
		return hummock.Delta{}, err
	}
	if reply.Delta == nil {
		return hummock.Delta{}, fmt.Errorf("rpc: pin_version stream sent an empty delta")
	}
	return *reply.Delta, nil
}
