// Package executor implements the streaming operators: hash aggregation,
// hash join, Top-N / group Top-N, dedup, watermark
// filter, source backfill, sink, and the stateless union/project/filter/
// expand operators. Every operator implements Operator, a pull-based
// Next(ctx) that returns the next streaming.Message from its upstream(s)
// — mirroring the "one type per concern, driven by a common loop" shape
// a reconciliation loop takes, generalized from reconciling cluster
// state to reconciling one epoch's worth of rows.
package executor
