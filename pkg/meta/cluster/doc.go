// Package cluster tracks compute node membership for the meta service:
// who has joined, their address, and whether they are still heartbeating
//. It is a thin, bucket-keyed domain layer over
// pkg/metastore, the same relationship pkg/manager/manager.go has to
// pkg/storage.Store in a typical container orchestrator.
package cluster
