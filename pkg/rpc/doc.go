// Package rpc wires meta and compute together over gRPC. Every RPC a
// compute node and meta exchange is a plain Go struct marshaled through a
// JSON grpc.encoding.Codec, the same
// approach pkg/streaming/channel takes for cross-node exchange, rather
// than generated protobuf stubs — no .proto source exists anywhere in
// this codebase's lineage to generate from.
//
// Two gRPC services are registered on the two kinds of node:
//
//   - "cascade.rpc.Compute", served by a compute node, called by meta:
//     InjectBarrier, BuildActors, UpdateActors, DropActors.
//   - "cascade.rpc.Meta", served by meta, called by compute nodes and
//     compactors: Collect, ReportActorFailure, CommitEpoch,
//     ReportCompactionTask, GetCompactionTask, Join, Heartbeat,
//     PinVersion (streaming).
//
// ComputeClient and MetaClient each wrap a *grpc.ClientConn and expose
// one method per RPC; they and the adapters in meta_adapters.go satisfy
// the small interfaces pkg/barrier, pkg/actor and pkg/meta/recovery
// define, so those packages never import pkg/rpc themselves.
// ComputeServer and MetaServer dispatch incoming calls to the
// ComputeHandlers and MetaHandlers interfaces.
package rpc
