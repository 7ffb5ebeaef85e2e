// Package channel implements the transport between streaming fragments:
// bounded in-process channels, the hash/broadcast/simple/no-shuffle
// dispatchers that fan a chunk out across a downstream edge, and a
// gRPC-backed exchange for edges that cross a node boundary.
package channel
