package hummock

import (
	"github.com/cascadedb/cascade/pkg/blockcache"
	"github.com/cascadedb/cascade/pkg/key"
)

// l0CountThreshold and l0BytesThreshold gate when L0 has accumulated
// enough overlapping flush output to justify a merge into L1.
const (
	l0CountThreshold = 4
	l0BytesThreshold = 64 << 20
)

// TaskID identifies one compaction task handed to a compactor.
type TaskID uint64

// Task describes one compaction for a compactor to execute: read every
// input SST through a merge iterator with MVCC resolution, write
// non-overlapping output SSTs for the target level.
type Task struct {
	ID          TaskID
	Group       CompactionGroupID
	InputLevel  int
	OutputLevel int
	Inputs      []SSTInfo
	// DropTombstones is true only for tasks compacting into the bottom
	// level, where a delete can finally be discarded instead of carried
	// forward.
	DropTombstones bool
}

// Planner scans a Version for policy violations and proposes compaction
// tasks. It holds no state of its own beyond a task id counter; meta's
// VersionManager owns the authoritative task queue.
type Planner struct {
	nextTaskID TaskID
}

// NewPlanner creates a planner starting its task ids at 1.
func NewPlanner() *Planner { return &Planner{nextTaskID: 1} }

// Plan proposes at most one task per compaction group per call, so picks
// stay serialized per group; callers loop until Plan returns no tasks to
// drain a backlog.
func (p *Planner) Plan(v *Version) []Task {
	var tasks []Task
	for g, gv := range v.Groups {
		if t, ok := p.planL0(g, gv); ok {
			tasks = append(tasks, t)
			continue
		}
		if t, ok := p.planTiered(g, gv); ok {
			tasks = append(tasks, t)
		}
	}
	return tasks
}

func (p *Planner) planL0(g CompactionGroupID, gv GroupVersion) (Task, bool) {
	l0 := gv.Levels[0]
	if len(l0) == 0 {
		return Task{}, false
	}
	var totalBytes int64
	for _, s := range l0 {
		totalBytes += s.FileSize
	}
	if len(l0) < l0CountThreshold && totalBytes < l0BytesThreshold {
		return Task{}, false
	}

	smallest, largest := rangeOf(l0)
	inputs := append([]SSTInfo(nil), l0...)
	for _, s := range gv.Levels[1] {
		if s.Overlaps(smallest, largest) {
			inputs = append(inputs, s)
		}
	}

	t := Task{
		ID:             p.nextTaskID,
		Group:          g,
		InputLevel:     0,
		OutputLevel:    1,
		Inputs:         inputs,
		DropTombstones: numLevels == 2,
	}
	p.nextTaskID++
	return t, true
}

// sizeTieredThreshold is how many SSTs accumulate in a non-L0 level
// before its oldest entries are pushed down a level.
const sizeTieredThreshold = 8

func (p *Planner) planTiered(g CompactionGroupID, gv GroupVersion) (Task, bool) {
	for lvl := 1; lvl < numLevels-1; lvl++ {
		if len(gv.Levels[lvl]) < sizeTieredThreshold {
			continue
		}
		// Tie-break by picking the source SST already first in level
		// order: levels always append older writes ahead of newer ones,
		// so index 0 is the oldest candidate — favoring removal of
		// older data first.
		src := gv.Levels[lvl][0]
		inputs := []SSTInfo{src}
		for _, s := range gv.Levels[lvl+1] {
			if s.Overlaps(src.SmallestKey, src.LargestKey) {
				inputs = append(inputs, s)
			}
		}
		t := Task{
			ID:             p.nextTaskID,
			Group:          g,
			InputLevel:     lvl,
			OutputLevel:    lvl + 1,
			Inputs:         inputs,
			DropTombstones: lvl+1 == numLevels-1,
		}
		p.nextTaskID++
		return t, true
	}
	return Task{}, false
}

func rangeOf(ssts []SSTInfo) (smallest, largest []byte) {
	for i, s := range ssts {
		if i == 0 || key.Compare(s.SmallestKey, smallest) < 0 {
			smallest = s.SmallestKey
		}
		if i == 0 || key.Compare(s.LargestKey, largest) > 0 {
			largest = s.LargestKey
		}
	}
	return smallest, largest
}

// Result is what a compactor reports back after executing a Task.
type Result struct {
	TaskID  TaskID
	Group   CompactionGroupID
	Outputs []SSTInfo
	Removed []blockcache.ObjectID
}

// DeltaFor turns a compactor's result into the version delta meta
// applies: the task's inputs are removed, its outputs added, at whatever
// level the task targeted.
func (t Task) DeltaFor(outputs []SSTInfo) Delta {
	removed := make([]blockcache.ObjectID, len(t.Inputs))
	for i, s := range t.Inputs {
		removed[i] = s.ObjectID
	}
	return Delta{
		Group:      t.Group,
		AddedSSTs:  outputs,
		RemovedIDs: removed,
	}
}
