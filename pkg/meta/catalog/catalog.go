package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/cascadedb/cascade/pkg/metastore"
)

const (
	bucketDatabases     = "catalog_databases"
	bucketSchemas       = "catalog_schemas"
	bucketTables        = "catalog_tables"
	bucketSinks         = "catalog_sinks"
	bucketSubscriptions = "catalog_subscriptions"
	bucketFragments     = "catalog_fragments"
)

// Catalog is the meta service's object catalog, replicated via whatever
// metastore.Store the caller wires in.
type Catalog struct {
	store metastore.Store
}

// New builds a Catalog over store.
func New(store metastore.Store) *Catalog {
	return &Catalog{store: store}
}

func u32key(id uint32) string { return strconv.FormatUint(uint64(id), 10) }

func put(ctx context.Context, store metastore.Store, bucket, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("catalog: marshal %s/%s: %w", bucket, key, err)
	}
	if err := metastore.Put(ctx, store, bucket, key, data); err != nil {
		return fmt.Errorf("catalog: put %s/%s: %w", bucket, key, err)
	}
	return nil
}

func get(ctx context.Context, store metastore.Store, bucket, key string, out interface{}) error {
	data, err := store.Get(ctx, bucket, key)
	if err != nil {
		return fmt.Errorf("catalog: get %s/%s: %w", bucket, key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("catalog: unmarshal %s/%s: %w", bucket, key, err)
	}
	return nil
}

// CreateDatabase adds a database; name conflicts are the caller's to
// check via ListDatabases (catalog conflicts are a DDL-time concern,
// a "schema/catalog conflict" error, not a check here).
func (c *Catalog) CreateDatabase(ctx context.Context, db *Database) error {
	return put(ctx, c.store, bucketDatabases, u32key(db.ID), db)
}

func (c *Catalog) GetDatabase(ctx context.Context, id uint32) (*Database, error) {
	var db Database
	if err := get(ctx, c.store, bucketDatabases, u32key(id), &db); err != nil {
		return nil, err
	}
	return &db, nil
}

func (c *Catalog) CreateSchema(ctx context.Context, s *Schema) error {
	return put(ctx, c.store, bucketSchemas, u32key(s.ID), s)
}

func (c *Catalog) GetSchema(ctx context.Context, id uint32) (*Schema, error) {
	var s Schema
	if err := get(ctx, c.store, bucketSchemas, u32key(id), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateTable registers a table's catalog entry.
func (c *Catalog) CreateTable(ctx context.Context, t *Table) error {
	return put(ctx, c.store, bucketTables, u32key(uint32(t.ID)), t)
}

func (c *Catalog) GetTable(ctx context.Context, id uint32) (*Table, error) {
	var t Table
	if err := get(ctx, c.store, bucketTables, u32key(id), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// DropTable removes a table's catalog entry. The underlying Hummock data
// and its fragment's actors are torn down separately by the caller
// (pkg/meta/recovery's drop-actor path): DDL is just barriers carrying
// mutations, so catalog removal and actor teardown are driven by the
// same barrier, not one operation.
func (c *Catalog) DropTable(ctx context.Context, id uint32) error {
	if err := metastore.Delete(ctx, c.store, bucketTables, u32key(id)); err != nil {
		return fmt.Errorf("catalog: drop table %d: %w", id, err)
	}
	return nil
}

func (c *Catalog) ListTables(ctx context.Context) ([]*Table, error) {
	all, err := c.store.ScanPrefix(ctx, bucketTables, "")
	if err != nil {
		return nil, fmt.Errorf("catalog: list tables: %w", err)
	}
	tables := make([]*Table, 0, len(all))
	for _, data := range all {
		var t Table
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("catalog: unmarshal table: %w", err)
		}
		tables = append(tables, &t)
	}
	return tables, nil
}

func (c *Catalog) CreateSink(ctx context.Context, s *Sink) error {
	return put(ctx, c.store, bucketSinks, u32key(s.ID), s)
}

func (c *Catalog) GetSink(ctx context.Context, id uint32) (*Sink, error) {
	var s Sink
	if err := get(ctx, c.store, bucketSinks, u32key(id), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Catalog) CreateSubscription(ctx context.Context, s *Subscription) error {
	return put(ctx, c.store, bucketSubscriptions, u32key(s.ID), s)
}

func (c *Catalog) GetSubscription(ctx context.Context, id uint32) (*Subscription, error) {
	var s Subscription
	if err := get(ctx, c.store, bucketSubscriptions, u32key(id), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateFragment registers a fragment and its initial actor placement.
func (c *Catalog) CreateFragment(ctx context.Context, f *Fragment) error {
	return put(ctx, c.store, bucketFragments, u32key(f.ID), f)
}

func (c *Catalog) GetFragment(ctx context.Context, id uint32) (*Fragment, error) {
	var f Fragment
	if err := get(ctx, c.store, bucketFragments, u32key(id), &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// UpdateFragment overwrites a fragment's actor placement, the write a
// rescale or recovery mutation makes once a barrier carrying it has been
// collected from every actor.
func (c *Catalog) UpdateFragment(ctx context.Context, f *Fragment) error {
	return put(ctx, c.store, bucketFragments, u32key(f.ID), f)
}

func (c *Catalog) ListFragments(ctx context.Context) ([]*Fragment, error) {
	all, err := c.store.ScanPrefix(ctx, bucketFragments, "")
	if err != nil {
		return nil, fmt.Errorf("catalog: list fragments: %w", err)
	}
	fragments := make([]*Fragment, 0, len(all))
	for _, data := range all {
		var f Fragment
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("catalog: unmarshal fragment: %w", err)
		}
		fragments = append(fragments, &f)
	}
	return fragments, nil
}

// Parallelism returns the number of actors a fragment currently runs,
// the introspection rw_streaming_parallelism exposes in the system this
// spec was distilled from — used here and in tests to assert rescale
// outcomes directly rather than only through side effects.
func (c *Catalog) Parallelism(ctx context.Context, fragmentID uint32) (int, error) {
	f, err := c.GetFragment(ctx, fragmentID)
	if err != nil {
		return 0, err
	}
	return len(f.Actors), nil
}
