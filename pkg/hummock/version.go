package hummock

import (
	"fmt"

	"github.com/cascadedb/cascade/pkg/blockcache"
	"github.com/cascadedb/cascade/pkg/key"
	"github.com/cascadedb/cascade/pkg/sstable"
)

// SSTInfo is one SST's placement within a version: enough to locate and
// bound-check it without opening the object.
type SSTInfo struct {
	ObjectID    blockcache.ObjectID
	Level       int
	SmallestKey []byte
	LargestKey  []byte
	TableIDMin  key.TableID
	TableIDMax  key.TableID
	FileSize    int64
}

// Overlaps reports whether the SST's key range intersects [smallest, largest].
func (s SSTInfo) Overlaps(smallest, largest []byte) bool {
	return key.Compare(s.SmallestKey, largest) <= 0 && key.Compare(s.LargestKey, smallest) >= 0
}

// MetaOf builds an SSTInfo from a just-finished builder's metadata.
func MetaOf(id blockcache.ObjectID, level int, m sstable.Meta) SSTInfo {
	return SSTInfo{
		ObjectID:    id,
		Level:       level,
		SmallestKey: m.SmallestKey,
		LargestKey:  m.LargestKey,
		TableIDMin:  m.TableIDMin,
		TableIDMax:  m.TableIDMax,
		FileSize:    int64(m.FileSize),
	}
}

// numLevels caps Li→Li+1 compaction at one fixed level count per group;
// L0 (index 0) holds overlapping flush output, L1..numLevels-1 are
// non-overlapping within a group.
const numLevels = 5

// GroupVersion is one compaction group's slice of a Version: its levels
// and the highest epoch committed into it.
type GroupVersion struct {
	Levels         [numLevels][]SSTInfo
	CommittedEpoch key.Epoch
}

func (gv GroupVersion) clone() GroupVersion {
	var out GroupVersion
	out.CommittedEpoch = gv.CommittedEpoch
	for i := range gv.Levels {
		out.Levels[i] = append([]SSTInfo(nil), gv.Levels[i]...)
	}
	return out
}

// Version is the immutable, numbered snapshot of every compaction
// group's SSTs. A Version is never mutated after
// creation; updates always produce a new Version via Apply.
type Version struct {
	ID     uint64
	Groups map[CompactionGroupID]GroupVersion
}

// NewVersion returns version 0 with no SSTs.
func NewVersion() *Version {
	return &Version{ID: 0, Groups: map[CompactionGroupID]GroupVersion{}}
}

// Delta describes one version transition: SSTs added and removed (by
// object id) plus a newly-committed epoch, scoped to one compaction
// group: `{added_ssts, removed_ssts, new_committed_epoch}`.
type Delta struct {
	Group      CompactionGroupID
	AddedSSTs  []SSTInfo
	RemovedIDs []blockcache.ObjectID
	NewEpoch   key.Epoch
}

// Apply produces a new Version by applying delta to v, without mutating
// v. This is the only way a Version is ever updated; meta is the single
// caller.
func (v *Version) Apply(delta Delta) *Version {
	next := &Version{ID: v.ID + 1, Groups: make(map[CompactionGroupID]GroupVersion, len(v.Groups)+1)}
	for g, gv := range v.Groups {
		next.Groups[g] = gv.clone()
	}

	gv, ok := next.Groups[delta.Group]
	if !ok {
		gv = GroupVersion{}
	}

	removed := make(map[blockcache.ObjectID]bool, len(delta.RemovedIDs))
	for _, id := range delta.RemovedIDs {
		removed[id] = true
	}

	for lvl := range gv.Levels {
		if len(removed) == 0 {
			continue
		}
		kept := gv.Levels[lvl][:0:0]
		for _, sst := range gv.Levels[lvl] {
			if !removed[sst.ObjectID] {
				kept = append(kept, sst)
			}
		}
		gv.Levels[lvl] = kept
	}

	for _, sst := range delta.AddedSSTs {
		if sst.Level < 0 || sst.Level >= numLevels {
			continue
		}
		gv.Levels[sst.Level] = append(gv.Levels[sst.Level], sst)
	}

	if delta.NewEpoch > gv.CommittedEpoch {
		gv.CommittedEpoch = delta.NewEpoch
	}
	next.Groups[delta.Group] = gv
	return next
}

// SSTIDs returns every SST object id referenced anywhere in the version,
// across all groups and levels. GC uses this to compute what is live.
func (v *Version) SSTIDs() map[blockcache.ObjectID]bool {
	out := map[blockcache.ObjectID]bool{}
	for _, gv := range v.Groups {
		for _, level := range gv.Levels {
			for _, sst := range level {
				out[sst.ObjectID] = true
			}
		}
	}
	return out
}

// Group returns a group's slice of the version, or the zero value if the
// group has no SSTs yet.
func (v *Version) Group(g CompactionGroupID) GroupVersion {
	return v.Groups[g]
}

// String is for log lines, not for parsing.
func (v *Version) String() string {
	total := 0
	for _, gv := range v.Groups {
		for _, l := range gv.Levels {
			total += len(l)
		}
	}
	return fmt.Sprintf("version(id=%d, groups=%d, ssts=%d)", v.ID, len(v.Groups), total)
}
