package metastore

import (
	"context"
	"strings"
	"sync"
)

// MemStore is an in-memory Store so tests can run without real
// infrastructure.
type MemStore struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
}

// NewMemStore builds an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{buckets: make(map[string]map[string][]byte)}
}

func (m *MemStore) Get(_ context.Context, bucket, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.buckets[bucket]
	if !ok {
		return nil, NotFound(bucket, key)
	}
	v, ok := b[key]
	if !ok {
		return nil, NotFound(bucket, key)
	}
	return append([]byte(nil), v...), nil
}

func (m *MemStore) ScanPrefix(_ context.Context, bucket, prefix string) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]byte)
	for k, v := range m.buckets[bucket] {
		if strings.HasPrefix(k, prefix) {
			out[k] = append([]byte(nil), v...)
		}
	}
	return out, nil
}

func (m *MemStore) Txn(_ context.Context, ops []Op) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range ops {
		b, ok := m.buckets[op.Bucket]
		if !ok {
			b = make(map[string][]byte)
			m.buckets[op.Bucket] = b
		}
		switch op.Kind {
		case OpPut:
			b[op.Key] = append([]byte(nil), op.Value...)
		case OpDelete:
			delete(b, op.Key)
		}
	}
	return nil
}

func (m *MemStore) Close() error { return nil }
