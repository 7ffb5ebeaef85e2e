// Package compute is the compute-node side of the control plane: it
// turns pkg/rpc's ComputeHandlers calls (InjectBarrier, BuildActors,
// UpdateActors, DropActors) into pkg/actor.Scheduler and
// pkg/hummock/localversion.Mirror operations, the way pkg/worker turns
// manager RPCs into worker-side lifecycle calls in a container orchestrator.
package compute
