package hummock

import (
	"context"
	"fmt"
	"time"

	"github.com/cascadedb/cascade/pkg/blockcache"
	"github.com/cascadedb/cascade/pkg/objectstore"
)

// GCSweeper periodically deletes SST objects that are no longer
// referenced by the current version or any pinned older version.
type GCSweeper struct {
	store       objectstore.Store
	pins        *PinSet
	gracePeriod time.Duration
	now         func() time.Time
}

// NewGCSweeper creates a sweeper that waits gracePeriod past an object's
// creation before deleting it, so an object created just after a version
// stopped being current still survives long enough for an in-flight pin
// acquisition racing the version swap to find it.
func NewGCSweeper(store objectstore.Store, pins *PinSet, gracePeriod time.Duration) *GCSweeper {
	return &GCSweeper{store: store, pins: pins, gracePeriod: gracePeriod, now: time.Now}
}

// Sweep runs one pass: current is the live version (always retained in
// full), plus whatever SSTs any other pin still references. Every other
// SST object under the "sst/" prefix older than the grace period is
// deleted.
func (g *GCSweeper) Sweep(ctx context.Context, current *Version) (deleted int, err error) {
	live := current.SSTIDs()
	for id := range g.pins.LiveSSTIDs() {
		live[id] = true
	}

	objs, err := g.store.List(ctx, "sst/")
	if err != nil {
		return 0, fmt.Errorf("hummock: gc list: %w", err)
	}

	cutoff := g.now().Add(-g.gracePeriod)
	for _, obj := range objs {
		id, ok := parseObjectKey(obj.Key)
		if !ok || live[id] {
			continue
		}
		if obj.CreatedAt.After(cutoff) {
			continue // too young: might still be referenced by a pin not yet visible to us
		}
		if err := g.store.Delete(ctx, obj.Key); err != nil {
			return deleted, fmt.Errorf("hummock: gc delete %s: %w", obj.Key, err)
		}
		deleted++
	}
	return deleted, nil
}

// ObjectKey returns the object-store key an SST with the given id is
// stored under: the same key blockcache.ObjectKey gives, so the cache
// reads what every writer of SST objects (flush, compaction) wrote and
// GC's own parseObjectKey below recognizes it.
func ObjectKey(id blockcache.ObjectID) string {
	return blockcache.ObjectKey(id)
}

func parseObjectKey(k string) (blockcache.ObjectID, bool) {
	const prefix = "sst/"
	const suffix = ".sst"
	if len(k) <= len(prefix)+len(suffix) || k[:len(prefix)] != prefix {
		return 0, false
	}
	digits := k[len(prefix) : len(k)-len(suffix)]
	var id blockcache.ObjectID
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, false
		}
		id = id*10 + blockcache.ObjectID(c-'0')
	}
	return id, true
}
