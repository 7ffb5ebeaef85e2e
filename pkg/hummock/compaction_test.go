package hummock

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cascadedb/cascade/pkg/blockcache"
)

func TestPlanL0TriggersOnCount(t *testing.T) {
	v := NewVersion()
	delta := Delta{Group: 1}
	for i := 0; i < l0CountThreshold; i++ {
		delta.AddedSSTs = append(delta.AddedSSTs, SSTInfo{
			ObjectID:    uint64(i) + 1,
			Level:       0,
			SmallestKey: []byte{byte(i)},
			LargestKey:  []byte{byte(i), 0xff},
		})
	}
	v = v.Apply(delta)

	p := NewPlanner()
	tasks := p.Plan(v)
	require.Len(t, tasks, 1)
	require.Equal(t, 0, tasks[0].InputLevel)
	require.Equal(t, 1, tasks[0].OutputLevel)
	require.Len(t, tasks[0].Inputs, l0CountThreshold)
}

func TestPlanL0PullsInOverlappingL1(t *testing.T) {
	v := NewVersion()
	delta := Delta{Group: 1}
	for i := 0; i < l0CountThreshold; i++ {
		delta.AddedSSTs = append(delta.AddedSSTs, SSTInfo{
			ObjectID:    uint64(i) + 1,
			Level:       0,
			SmallestKey: []byte{0x10},
			LargestKey:  []byte{0x20},
		})
	}
	delta.AddedSSTs = append(delta.AddedSSTs,
		SSTInfo{ObjectID: 100, Level: 1, SmallestKey: []byte{0x15}, LargestKey: []byte{0x18}},
		SSTInfo{ObjectID: 101, Level: 1, SmallestKey: []byte{0x90}, LargestKey: []byte{0x95}},
	)
	v = v.Apply(delta)

	p := NewPlanner()
	tasks := p.Plan(v)
	require.Len(t, tasks, 1)

	var sawOverlap, sawDisjoint bool
	for _, s := range tasks[0].Inputs {
		if s.ObjectID == 100 {
			sawOverlap = true
		}
		if s.ObjectID == 101 {
			sawDisjoint = true
		}
	}
	require.True(t, sawOverlap, "overlapping L1 SST must be pulled into the task")
	require.False(t, sawDisjoint, "disjoint L1 SST must not be pulled in")
}

func TestPlanProducesNoTaskBelowThreshold(t *testing.T) {
	v := NewVersion()
	v = v.Apply(Delta{
		Group:     1,
		AddedSSTs: []SSTInfo{{ObjectID: 1, Level: 0, SmallestKey: []byte{1}, LargestKey: []byte{2}}},
	})
	p := NewPlanner()
	require.Empty(t, p.Plan(v))
}

func TestDeltaForRemovesInputsAddsOutputs(t *testing.T) {
	task := Task{
		Group:  1,
		Inputs: []SSTInfo{{ObjectID: 1}, {ObjectID: 2}},
	}
	outputs := []SSTInfo{{ObjectID: 3, Level: 1}}
	d := task.DeltaFor(outputs)
	require.ElementsMatch(t, d.RemovedIDs, []blockcache.ObjectID{1, 2})
	require.Equal(t, outputs, d.AddedSSTs)
}
