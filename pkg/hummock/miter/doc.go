// Package miter implements the k-way merge iterator with MVCC resolution
// used both by reads (merging shared-buffer, pending-upload, and
// persisted-version sources) and by compaction (merging a task's input
// SSTs).
package miter
