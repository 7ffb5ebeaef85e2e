package hummock

import (
	"context"
	"fmt"
	"sync"

	"github.com/cascadedb/cascade/pkg/blockcache"
	"github.com/cascadedb/cascade/pkg/key"
)

// staged holds SSTs a compute node has reported flushed for an epoch,
// waiting for that epoch's barrier to finish collecting everywhere
// before they become visible in a new committed Version. Mirrors the
// "shared buffer sealed, upload reported to meta, meta issues a version
// delta" pipeline.
type staged struct {
	added   []SSTInfo
	removed []blockcache.ObjectID
}

// VersionManager is meta's single authority over the current Hummock
// Version: the one place the "meta is the sole writer of new versions"
// invariant is enforced. It satisfies pkg/barrier.HummockCommitter and
// pkg/meta/recovery.HummockRollback, and is the source a compute node's
// pkg/hummock/localversion.Mirror streams deltas from via pkg/rpc's
// pin_version call.
type VersionManager struct {
	mu      sync.Mutex
	current *Version
	pins    *PinSet

	pending map[CompactionGroupID]map[key.Epoch]*staged

	planner *Planner
	queued  []Task
	issued  map[TaskID]Task

	subsMu sync.Mutex
	subs   []chan Delta
}

// NewVersionManager starts from initial, or a fresh empty version if nil.
func NewVersionManager(initial *Version) *VersionManager {
	if initial == nil {
		initial = NewVersion()
	}
	return &VersionManager{
		current: initial,
		pins:    NewPinSet(),
		pending: make(map[CompactionGroupID]map[key.Epoch]*staged),
		planner: NewPlanner(),
		issued:  make(map[TaskID]Task),
	}
}

// NextCompactionTask pops a queued task for a compactor to run, refilling
// the queue from the planner against the current version whenever it
// runs dry. Returns nil, nil when nothing is currently worth compacting.
func (m *VersionManager) NextCompactionTask(_ context.Context) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.queued) == 0 {
		m.queued = m.planner.Plan(m.current)
	}
	if len(m.queued) == 0 {
		return nil, nil
	}
	t := m.queued[0]
	m.queued = m.queued[1:]
	m.issued[t.ID] = t
	return &t, nil
}

// ApplyCompactionResult folds a finished compaction task's output SSTs
// into the current version, replacing its inputs, and broadcasts the
// resulting delta. Unlike CommitEpoch this isn't gated by a barrier: a
// compaction result is visible as soon as the compactor reports it.
func (m *VersionManager) ApplyCompactionResult(_ context.Context, result Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.issued[result.TaskID]
	if !ok {
		return fmt.Errorf("hummock: report for unknown or already-reported task %d", result.TaskID)
	}
	delete(m.issued, result.TaskID)

	delta := task.DeltaFor(result.Outputs)
	delta.RemovedIDs = append(delta.RemovedIDs, result.Removed...)
	m.current = m.current.Apply(delta)
	m.broadcast([]Delta{delta})
	return nil
}

// Current returns the latest committed version.
func (m *VersionManager) Current() *Version {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Pins exposes the pin tracker so a pin_version/unpin_version RPC
// handler can record and release holds on behalf of compute nodes.
func (m *VersionManager) Pins() *PinSet {
	return m.pins
}

// StageSSTs records SSTs a compute node reported flushed for epoch,
// scoped to one compaction group. It does not change Current(); the
// SSTs become visible only when CommitEpoch is called for this epoch,
// the way the wire RPC `commit_epoch(epoch, ssts)` bundles both in one
// call but this package splits across the report and the barrier-driven
// commit that follows it.
func (m *VersionManager) StageSSTs(group CompactionGroupID, epoch key.Epoch, added []SSTInfo, removed []blockcache.ObjectID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byEpoch, ok := m.pending[group]
	if !ok {
		byEpoch = make(map[key.Epoch]*staged)
		m.pending[group] = byEpoch
	}
	s, ok := byEpoch[epoch]
	if !ok {
		s = &staged{}
		byEpoch[epoch] = s
	}
	s.added = append(s.added, added...)
	s.removed = append(s.removed, removed...)
}

// CommitEpoch applies every group's staged SSTs for epoch as one new
// Version, advancing CommittedEpoch, then broadcasts the resulting
// deltas to every subscribed compute node. Groups with nothing staged
// for epoch still get a CommittedEpoch bump, so a reader pinned at epoch
// observes every write whose barrier collected at epoch even if that
// group's shared buffer happened to be empty.
func (m *VersionManager) CommitEpoch(_ context.Context, epoch key.Epoch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	groups := map[CompactionGroupID]*staged{}
	for g, byEpoch := range m.pending {
		if s, ok := byEpoch[epoch]; ok {
			groups[g] = s
			delete(byEpoch, epoch)
		}
	}
	for g := range m.current.Groups {
		if _, ok := groups[g]; !ok {
			groups[g] = &staged{}
		}
	}

	var deltas []Delta
	for g, s := range groups {
		delta := Delta{Group: g, AddedSSTs: s.added, RemovedIDs: s.removed, NewEpoch: epoch}
		m.current = m.current.Apply(delta)
		deltas = append(deltas, delta)
	}

	m.broadcast(deltas)
	return nil
}

// RollbackTo checks that every group's CommittedEpoch in Current()
// equals recoveryEpoch, returning an error (and keeping the staged
// reports) if any group differs, then discards every staged
// (uncommitted) SST report. Current() itself is left unchanged; no
// earlier version is retained to return to.
// pkg/meta/recovery calls this during step 3 of the recovery protocol.
func (m *VersionManager) RollbackTo(_ context.Context, recoveryEpoch key.Epoch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for g := range m.current.Groups {
		gv := m.current.Group(g)
		if gv.CommittedEpoch != recoveryEpoch {
			return fmt.Errorf("hummock: rollback to epoch %d: group %d is at committed epoch %d, version has no snapshot at the target epoch", recoveryEpoch, g, gv.CommittedEpoch)
		}
	}
	m.pending = make(map[CompactionGroupID]map[key.Epoch]*staged)
	return nil
}

// Subscribe registers a channel that receives every delta CommitEpoch
// applies from now on, for a compute node's localversion.Mirror to pull
// from over pkg/rpc's pin_version stream.
func (m *VersionManager) Subscribe() <-chan Delta {
	ch := make(chan Delta, 32)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *VersionManager) broadcast(deltas []Delta) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		for _, d := range deltas {
			select {
			case ch <- d:
			default:
				// A slow subscriber falls behind Current(); it will pick
				// up the merged state on its next successful Recv because
				// deltas are cumulative, not a replay log.
			}
		}
	}
}
