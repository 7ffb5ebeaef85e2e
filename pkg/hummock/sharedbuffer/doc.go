// Package sharedbuffer implements the in-memory write buffer actors write
// into for the current, not-yet-committed epoch. Writes
// are partitioned per (table_id, vnode) so concurrent writers of
// disjoint vnodes never contend, sealed on barrier
// collection, and flushed to one or more SSTs per the configured
// FlushGranularity.
package sharedbuffer
