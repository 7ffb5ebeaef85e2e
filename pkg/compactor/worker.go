// Package compactor runs the compactor side of compaction: pull a
// compaction task from meta, stream its inputs through a merge iterator
// with MVCC resolution, write non-overlapping output SSTs, and report
// the result back. pkg/hummock only plans tasks (Planner) and folds a
// reported Result into a new Version (VersionManager); this package is
// the missing third leg that actually executes one.
package compactor

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/cascadedb/cascade/pkg/blockcache"
	"github.com/cascadedb/cascade/pkg/cerrors"
	"github.com/cascadedb/cascade/pkg/hummock"
	"github.com/cascadedb/cascade/pkg/hummock/miter"
	"github.com/cascadedb/cascade/pkg/key"
	"github.com/cascadedb/cascade/pkg/objectstore"
	"github.com/cascadedb/cascade/pkg/sstable"
)

// TaskSource is the subset of *pkg/rpc.MetaClient a Worker pulls tasks
// from and reports results to. Kept narrow, the same decoupling
// pkg/hummock/flush's Committer interface uses, so this package never
// imports pkg/rpc.
type TaskSource interface {
	GetCompactionTask(ctx context.Context) (*hummock.Task, error)
	ReportCompactionTask(ctx context.Context, result hummock.Result) error
}

// idAllocator hands out object ids namespaced by this compactor's id,
// the same FNV-prefix-plus-counter scheme pkg/hummock/flush's private
// idAllocator uses for compute nodes — duplicated rather than exported
// from flush, since a compactor is not a compute node and has no
// sharedbuffer-flush concerns to pull in alongside it.
type idAllocator struct {
	prefix  uint64
	counter atomic.Uint64
}

func newIDAllocator(workerID string) *idAllocator {
	h := fnv.New32a()
	_, _ = h.Write([]byte(workerID))
	return &idAllocator{prefix: uint64(h.Sum32()) << 32}
}

func (a *idAllocator) next() blockcache.ObjectID {
	return blockcache.ObjectID(a.prefix | a.counter.Add(1))
}

// Worker pulls and executes compaction tasks on a poll loop. Several
// Workers may run concurrently against the same meta, the data-parallel
// scheduling a data-parallel compactor pool calls for; nothing here serializes across
// Workers, since meta's VersionManager already serializes task issuance
// per compaction-group.
type Worker struct {
	ID           string
	Cache        *blockcache.Cache
	Store        objectstore.Store
	Meta         TaskSource
	PollInterval time.Duration

	log zerolog.Logger
	ids *idAllocator
}

// New builds a Worker. logger is typically pkg/log.WithComponent("compactor").
func New(id string, cache *blockcache.Cache, store objectstore.Store, meta TaskSource, logger zerolog.Logger) *Worker {
	return &Worker{
		ID:           id,
		Cache:        cache,
		Store:        store,
		Meta:         meta,
		PollInterval: time.Second,
		log:          logger,
		ids:          newIDAllocator(id),
	}
}

// Run polls for tasks until ctx is done, executing and reporting each
// one it receives. A poll returning nil, nil (no task ready) sleeps for
// PollInterval before trying again; an RPC error from GetCompactionTask
// is tagged cerrors.TransientIO and retried after PollInterval rather
// than ending the loop — exactly the kind that policy covers. A RunOnce
// error is logged and the loop polls again at once; the failed task is
// not reported to meta.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, err := w.Meta.GetCompactionTask(ctx)
		if err != nil {
			tagged := cerrors.New(cerrors.TransientIO, "compactor.get_compaction_task", err)
			w.log.Error().Err(tagged).Bool("retryable", cerrors.Retryable(cerrors.KindOf(tagged))).Msg("get compaction task failed")
			w.sleep(ctx)
			continue
		}
		if task == nil {
			w.sleep(ctx)
			continue
		}

		if err := w.RunOnce(ctx, *task); err != nil {
			w.log.Error().Uint64("task_id", uint64(task.ID)).Err(err).Msg("compaction task failed, will be re-queued")
		}
	}
}

func (w *Worker) sleep(ctx context.Context) {
	t := time.NewTimer(w.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// RunOnce executes a single task end to end: read every input through a
// cache-backed SST iterator, merge with MVCC resolution dropping
// tombstones only when the task targets the bottom level, write one
// output SST, and report the result to meta.
func (w *Worker) RunOnce(ctx context.Context, task hummock.Task) error {
	sources := make([]miter.SourceIter, 0, len(task.Inputs))
	for _, sst := range task.Inputs {
		idx, err := w.Cache.Index(ctx, sst.ObjectID)
		if err != nil {
			return fmt.Errorf("compactor: load index for object %d: %w", sst.ObjectID, err)
		}
		src := blockcache.NewSource(ctx, w.Cache, sst.ObjectID, idx)
		it := sstable.NewIteratorWithSource(idx, src, false)
		if err := it.Rewind(); err != nil {
			return fmt.Errorf("compactor: rewind object %d: %w", sst.ObjectID, err)
		}
		sources = append(sources, it)
	}

	// A compaction must retain every version still reachable by a live
	// pin, so the merge reads at the maximum epoch rather than any one
	// read-pin — resolving MVCC duplicates across inputs without
	// discarding versions a snapshot reader might still need.
	merged := miter.New(sources, key.Epoch(math.MaxInt64), task.DropTombstones)

	b := sstable.NewBuilder(defaultExpectedKeys)
	count := 0
	for merged.IsValid() {
		if err := b.Add(merged.Key(), merged.Value()); err != nil {
			return fmt.Errorf("compactor: build output: %w", err)
		}
		count++
		if err := merged.Next(); err != nil {
			return fmt.Errorf("compactor: advance merge: %w", err)
		}
	}

	result := hummock.Result{TaskID: task.ID, Group: task.Group}
	if count > 0 {
		data, meta, err := b.Finish()
		if err != nil {
			return fmt.Errorf("compactor: finish output sst: %w", err)
		}
		id := w.ids.next()
		if err := w.Store.PutStreaming(ctx, hummock.ObjectKey(id), bytes.NewReader(data)); err != nil {
			return fmt.Errorf("compactor: upload output object %d: %w", id, err)
		}
		result.Outputs = []hummock.SSTInfo{hummock.MetaOf(id, task.OutputLevel, meta)}
	}
	for _, sst := range task.Inputs {
		result.Removed = append(result.Removed, sst.ObjectID)
	}

	if err := w.Meta.ReportCompactionTask(ctx, result); err != nil {
		return fmt.Errorf("compactor: report task %d: %w", task.ID, err)
	}
	w.log.Info().Uint64("task_id", uint64(task.ID)).Int("inputs", len(task.Inputs)).Int("rows", count).Msg("compaction task done")
	return nil
}

// defaultExpectedKeys sizes the output builder's initial block-entry
// hint; it only affects preallocation, never correctness.
const defaultExpectedKeys = 256
