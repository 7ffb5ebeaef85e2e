package hummock

import "github.com/cascadedb/cascade/pkg/key"

// CompactionGroupID identifies one independently-compacting shard of the
// keyspace. Compaction picks are serialized within a group but run
// concurrently across groups.
type CompactionGroupID uint32

// defaultTablesPerGroup bounds how many tables share one compaction
// group before a new group is opened, so one hot table's compaction
// backlog cannot stall an unrelated table sharing its group.
const defaultTablesPerGroup = 16

// GroupOf returns the compaction group a table's SSTs are sharded into.
// Grouping by a fixed table-count bucket keeps the mapping stable across
// restarts without meta having to persist an explicit table->group
// index. Every table maps to its bucket's group; there is no per-table
// override.
func GroupOf(tableID key.TableID) CompactionGroupID {
	return CompactionGroupID(uint32(tableID) / defaultTablesPerGroup)
}
