// Package logstore implements the decoupled sink's durable buffer
//: an append-only journal over a state table keyed by
// (epoch, seq_id). A sink appends chunks as they arrive so a barrier can
// commit the epoch before delivery to the external system completes;
// once delivery catches up, Truncate marks entries below the delivered
// epoch for cleanup, which the state table's watermark mechanism turns
// into a range delete at the next commit.
package logstore
