package objectstore

import (
	"context"
	"io"
	"time"
)

// ObjectMeta describes a stored object without its body.
type ObjectMeta struct {
	Key       string
	Size      int64
	CreatedAt time.Time
}

// Store is the interface every SST object is written through; version
// deltas are kept in memory and never stored here. Keys are flat
// strings; callers impose any hierarchy
// (compaction group, object id) by convention.
type Store interface {
	// PutStreaming writes an object from r, replacing any prior object at
	// the same key. The object is not visible to GetRange, Head or List until
	// PutStreaming returns successfully.
	PutStreaming(ctx context.Context, key string, r io.Reader) error

	// GetRange reads [offset, offset+length) of an object. length < 0
	// reads to the end of the object.
	GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error)

	// Head returns an object's metadata without reading its body.
	Head(ctx context.Context, key string) (ObjectMeta, error)

	// List returns metadata for every object whose key has the given
	// prefix, ordered by key.
	List(ctx context.Context, prefix string) ([]ObjectMeta, error)

	// Delete removes an object. Deleting a missing key is not an error,
	// matching the idempotent delete semantics compaction's GC sweep
	// (pkg/hummock) depends on.
	Delete(ctx context.Context, key string) error
}

// ErrNotFound is returned by GetRange and Head when the key does not exist.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "objectstore: object not found" }
