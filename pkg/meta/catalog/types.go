package catalog

import (
	"github.com/cascadedb/cascade/pkg/actor"
	"github.com/cascadedb/cascade/pkg/key"
)

// Database is the top-level namespace; schemas live underneath it.
type Database struct {
	ID   uint32
	Name string
}

// Schema groups tables within a database.
type Schema struct {
	ID         uint32
	DatabaseID uint32
	Name       string
}

// TableKind distinguishes a table's role: a plain table backing a
// materialized view, an external source, or an index.
type TableKind int

const (
	TableKindMaterializedView TableKind = iota
	TableKindSource
	TableKindIndex
)

// Column describes one column of a Table for the purposes of Cascade's
// schema-agnostic Row (pkg/streaming): name and position are all the
// catalog tracks, since operators compare datums structurally.
type Column struct {
	Name string
}

// Table is one entry in the catalog: a state table backed by Hummock
// under key.TableID, plus the metadata needed to rebuild its fragment's
// executor chain.
type Table struct {
	ID       key.TableID
	SchemaID uint32
	Name     string
	Kind     TableKind
	Columns  []Column
	PKCols   []int
	// FragmentID is the root fragment materializing this table, set once
	// the streaming job that owns it has been planned.
	FragmentID uint32
}

// Sink delivers a table's change stream to an external system
//.
type Sink struct {
	ID         uint32
	Name       string
	TableID    key.TableID
	FragmentID uint32
	Decoupled  bool
}

// Subscription is a retained, two-epoch-diff change log reader over a
// table (pkg/subscription).
type Subscription struct {
	ID              uint32
	Name            string
	TableID         key.TableID
	RetentionEpochs uint64
}

// Fragment is one parallelized logical operator: a plan node maps to one
// fragment with N actors sharing a schema and state-table template
//. FragmentID is scoped cluster-wide.
type Fragment struct {
	ID       uint32
	TableID  key.TableID
	Kind     string // e.g. "HashAgg", "HashJoin", "SourceBackfill", "Sink"
	Actors   []FragmentActor
	Upstream []uint32 // fragment ids this fragment reads from
}

// FragmentActor is one parallel instance of a Fragment, pinned to the
// compute node hosting it.
type FragmentActor struct {
	ActorID actor.ID
	NodeID  string
	VNodes  []key.VNode
}
