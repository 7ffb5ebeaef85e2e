// Package flush turns a sealed shared-buffer generation into uploaded
// SSTs and a commit_epoch report, the write side of the compute node's
// memtable-to-object-store pipeline.
package flush

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"sync/atomic"

	"github.com/cascadedb/cascade/pkg/blockcache"
	"github.com/cascadedb/cascade/pkg/hummock"
	"github.com/cascadedb/cascade/pkg/hummock/sharedbuffer"
	"github.com/cascadedb/cascade/pkg/key"
	"github.com/cascadedb/cascade/pkg/objectstore"
	"github.com/cascadedb/cascade/pkg/sstable"
)

// Committer is the subset of *pkg/rpc.MetaClient a Flusher needs: report
// a group's flushed SSTs for an epoch. Kept as a narrow interface so this
// package never imports pkg/rpc, which already imports pkg/hummock.
type Committer interface {
	CommitEpoch(ctx context.Context, group hummock.CompactionGroupID, epoch key.Epoch, added []hummock.SSTInfo, removed []blockcache.ObjectID) error
}

// idAllocator hands out object ids that stay unique across compute nodes
// without a centralized allocator service: the high 32 bits are an FNV
// hash of the owning node's id, the low 32 an in-process counter. Two
// nodes colliding would need a hash collision and equal counters at once.
type idAllocator struct {
	prefix  uint64
	counter atomic.Uint64
}

func newIDAllocator(nodeID string) *idAllocator {
	h := fnv.New32a()
	_, _ = h.Write([]byte(nodeID))
	return &idAllocator{prefix: uint64(h.Sum32()) << 32}
}

func (a *idAllocator) next() blockcache.ObjectID {
	return blockcache.ObjectID(a.prefix | a.counter.Add(1))
}

// Flusher builds one SST per flush task in a sealed generation, uploads
// each to the object store, and reports the batch to meta.
type Flusher struct {
	Store objectstore.Store
	Meta  Committer
	ids   *idAllocator
}

// New builds a Flusher whose object ids are namespaced to nodeID.
func New(nodeID string, store objectstore.Store, meta Committer) *Flusher {
	return &Flusher{Store: store, Meta: meta, ids: newIDAllocator(nodeID)}
}

// Flush uploads sealed's flush tasks as SSTs at level 0 and reports them
// as group's contribution to epoch. An empty sealed generation still
// reports, with nil added.
func (f *Flusher) Flush(ctx context.Context, sealed *sharedbuffer.Sealed, group hummock.CompactionGroupID, epoch key.Epoch) error {
	tasks := sealed.FlushTasks()
	if len(tasks) == 0 {
		return f.Meta.CommitEpoch(ctx, group, epoch, nil, nil)
	}

	added := make([]hummock.SSTInfo, 0, len(tasks))
	for _, task := range tasks {
		info, err := f.buildAndUpload(ctx, task)
		if err != nil {
			return err
		}
		added = append(added, info)
	}

	return f.Meta.CommitEpoch(ctx, group, epoch, added, nil)
}

func (f *Flusher) buildAndUpload(ctx context.Context, task sharedbuffer.FlushTask) (hummock.SSTInfo, error) {
	b := sstable.NewBuilder(len(task.Entries))
	for _, e := range task.Entries {
		if err := b.Add(e.FullKey, e.Value); err != nil {
			return hummock.SSTInfo{}, fmt.Errorf("flush: build sst: %w", err)
		}
	}
	data, meta, err := b.Finish()
	if err != nil {
		return hummock.SSTInfo{}, fmt.Errorf("flush: finish sst: %w", err)
	}

	id := f.ids.next()
	if err := f.Store.PutStreaming(ctx, hummock.ObjectKey(id), bytes.NewReader(data)); err != nil {
		return hummock.SSTInfo{}, fmt.Errorf("flush: upload object %d: %w", id, err)
	}
	return hummock.MetaOf(id, 0, meta), nil
}
