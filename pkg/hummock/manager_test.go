package hummock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadedb/cascade/pkg/blockcache"
	"github.com/cascadedb/cascade/pkg/key"
)

func TestCommitEpochMergesStagedSSTsAndBumpsEveryGroup(t *testing.T) {
	vm := NewVersionManager(nil)
	sub := vm.Subscribe()

	sst := SSTInfo{ObjectID: blockcache.ObjectID(1), Level: 0, SmallestKey: []byte("a"), LargestKey: []byte("z")}
	vm.StageSSTs(1, 100, []SSTInfo{sst}, nil)

	require.NoError(t, vm.CommitEpoch(context.Background(), 100))

	v := vm.Current()
	assert.Equal(t, key.Epoch(100), v.Group(1).CommittedEpoch)
	assert.Equal(t, []SSTInfo{sst}, v.Group(1).Levels[0])

	select {
	case d := <-sub:
		assert.Equal(t, CompactionGroupID(1), d.Group)
		assert.Equal(t, key.Epoch(100), d.NewEpoch)
	default:
		t.Fatal("expected a delta to be broadcast")
	}
}

func TestCommitEpochBumpsGroupsWithNothingStaged(t *testing.T) {
	vm := NewVersionManager(nil)
	vm.StageSSTs(1, 100, []SSTInfo{{ObjectID: 1, SmallestKey: []byte("a"), LargestKey: []byte("z")}}, nil)
	require.NoError(t, vm.CommitEpoch(context.Background(), 100))

	require.NoError(t, vm.CommitEpoch(context.Background(), 101))
	assert.Equal(t, key.Epoch(101), vm.Current().Group(1).CommittedEpoch)
}

func TestRollbackToDiscardsUncommittedStagedSSTs(t *testing.T) {
	vm := NewVersionManager(nil)
	vm.StageSSTs(1, 100, []SSTInfo{{ObjectID: 1, SmallestKey: []byte("a"), LargestKey: []byte("z")}}, nil)
	require.NoError(t, vm.CommitEpoch(context.Background(), 100))

	vm.StageSSTs(1, 101, []SSTInfo{{ObjectID: 2, SmallestKey: []byte("b"), LargestKey: []byte("y")}}, nil)
	require.NoError(t, vm.RollbackTo(context.Background(), 100))

	require.NoError(t, vm.CommitEpoch(context.Background(), 101))
	assert.Empty(t, vm.Current().Group(1).Levels[0][1:], "the staged-but-rolled-back SST must not appear")
	assert.Len(t, vm.Current().Group(1).Levels[0], 1, "only the epoch-100 SST survives rollback")
}

func TestRollbackToRejectsAnEpochNotReflectedInCurrentVersion(t *testing.T) {
	vm := NewVersionManager(nil)
	vm.StageSSTs(1, 100, []SSTInfo{{ObjectID: 1, SmallestKey: []byte("a"), LargestKey: []byte("z")}}, nil)
	require.NoError(t, vm.CommitEpoch(context.Background(), 100))

	err := vm.RollbackTo(context.Background(), 99)
	require.Error(t, err)
}

func TestNextCompactionTaskQueuesAnL0MergeOnceThresholdIsCrossed(t *testing.T) {
	vm := NewVersionManager(nil)
	var l0 []SSTInfo
	for i := 0; i < 4; i++ {
		l0 = append(l0, SSTInfo{ObjectID: blockcache.ObjectID(i + 1), Level: 0, SmallestKey: []byte("a"), LargestKey: []byte("z")})
	}
	vm.StageSSTs(1, 100, l0, nil)
	require.NoError(t, vm.CommitEpoch(context.Background(), 100))

	task, err := vm.NextCompactionTask(context.Background())
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, CompactionGroupID(1), task.Group)
	assert.Len(t, task.Inputs, 4)
}

func TestNextCompactionTaskReturnsNilWhenNothingIsQueued(t *testing.T) {
	vm := NewVersionManager(nil)
	task, err := vm.NextCompactionTask(context.Background())
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestApplyCompactionResultReplacesInputsWithOutputs(t *testing.T) {
	vm := NewVersionManager(nil)
	var l0 []SSTInfo
	for i := 0; i < 4; i++ {
		l0 = append(l0, SSTInfo{ObjectID: blockcache.ObjectID(i + 1), Level: 0, SmallestKey: []byte("a"), LargestKey: []byte("z")})
	}
	vm.StageSSTs(1, 100, l0, nil)
	require.NoError(t, vm.CommitEpoch(context.Background(), 100))

	task, err := vm.NextCompactionTask(context.Background())
	require.NoError(t, err)
	require.NotNil(t, task)

	output := SSTInfo{ObjectID: blockcache.ObjectID(99), Level: 1, SmallestKey: []byte("a"), LargestKey: []byte("z")}
	require.NoError(t, vm.ApplyCompactionResult(context.Background(), Result{TaskID: task.ID, Group: task.Group, Outputs: []SSTInfo{output}}))

	assert.Empty(t, vm.Current().Group(1).Levels[0])
	assert.Equal(t, []SSTInfo{output}, vm.Current().Group(1).Levels[1])
}

func TestApplyCompactionResultRejectsAnUnknownTask(t *testing.T) {
	vm := NewVersionManager(nil)
	err := vm.ApplyCompactionResult(context.Background(), Result{TaskID: 404})
	require.Error(t, err)
}
