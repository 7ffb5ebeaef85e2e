package metastore

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	bolt "go.etcd.io/bbolt"
)

// BoltStore implements Store directly over a local BoltDB file. It backs
// a single meta replica's applied state; in a multi-replica cluster it
// sits behind the raft.FSM in fsm.go so every replica's BoltStore ends up
// with the same contents.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if needed) a BoltDB file under dataDir.
// Buckets are created on first use rather than up front, since metastore
// has no fixed bucket list — pkg/meta/cluster and pkg/meta/catalog each
// pick their own bucket names.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	db, err := bolt.Open(filepath.Join(dataDir, "cascade-meta.db"), 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("metastore: open bolt db: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func (s *BoltStore) Get(_ context.Context, bucket, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return NotFound(bucket, key)
		}
		v := b.Get([]byte(key))
		if v == nil {
			return NotFound(bucket, key)
		}
		value = append([]byte(nil), v...)
		return nil
	})
	return value, err
}

func (s *BoltStore) ScanPrefix(_ context.Context, bucket, prefix string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && strings.HasPrefix(string(k), prefix); k, v = c.Next() {
			out[string(k)] = append([]byte(nil), v...)
		}
		return nil
	})
	return out, err
}

// Txn applies ops atomically in one BoltDB transaction, creating any
// bucket an op references that doesn't exist yet.
func (s *BoltStore) Txn(_ context.Context, ops []Op) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, op := range ops {
			b, err := tx.CreateBucketIfNotExists([]byte(op.Bucket))
			if err != nil {
				return fmt.Errorf("metastore: open bucket %s: %w", op.Bucket, err)
			}
			switch op.Kind {
			case OpPut:
				if err := b.Put([]byte(op.Key), op.Value); err != nil {
					return fmt.Errorf("metastore: put %s/%s: %w", op.Bucket, op.Key, err)
				}
			case OpDelete:
				if err := b.Delete([]byte(op.Key)); err != nil {
					return fmt.Errorf("metastore: delete %s/%s: %w", op.Bucket, op.Key, err)
				}
			}
		}
		return nil
	})
}

// dump copies every bucket's contents out for a snapshot (fsm.go).
func (s *BoltStore) dump() (map[string]map[string][]byte, error) {
	out := make(map[string]map[string][]byte)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bolt.Bucket) error {
			bucket := make(map[string][]byte)
			if err := b.ForEach(func(k, v []byte) error {
				bucket[string(k)] = append([]byte(nil), v...)
				return nil
			}); err != nil {
				return err
			}
			out[string(name)] = bucket
			return nil
		})
	})
	return out, err
}

// load replaces the store's contents with a previously dumped snapshot.
func (s *BoltStore) load(snapshot map[string]map[string][]byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var existing [][]byte
		if err := tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			existing = append(existing, append([]byte(nil), name...))
			return nil
		}); err != nil {
			return err
		}
		for _, name := range existing {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
		}
		for bucket, kvs := range snapshot {
			b, err := tx.CreateBucketIfNotExists([]byte(bucket))
			if err != nil {
				return err
			}
			for k, v := range kvs {
				if err := b.Put([]byte(k), v); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
