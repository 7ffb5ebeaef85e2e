package metastore

import (
	"context"
	"errors"
)

// OpKind tags one operation within a Txn.
type OpKind int

const (
	OpPut OpKind = iota
	OpDelete
)

// Op is one write within a transaction: put or delete a single key in a
// bucket. A Txn's ops all apply atomically, or none do.
type Op struct {
	Kind   OpKind
	Bucket string
	Key    string
	Value  []byte
}

// PutOp builds an Op that writes value at bucket/key.
func PutOp(bucket, key string, value []byte) Op {
	return Op{Kind: OpPut, Bucket: bucket, Key: key, Value: value}
}

// DeleteOp builds an Op that removes bucket/key.
func DeleteOp(bucket, key string) Op {
	return Op{Kind: OpDelete, Bucket: bucket, Key: key}
}

// Store is the meta store's key-value interface:
// get/put/delete of a single key, prefix scans, and multi-key
// transactions applied atomically. Callers own marshaling; Store deals
// only in bytes.
type Store interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	ScanPrefix(ctx context.Context, bucket, prefix string) (map[string][]byte, error)
	Txn(ctx context.Context, ops []Op) error
	Close() error
}

// Put is a convenience single-op Txn.
func Put(ctx context.Context, s Store, bucket, key string, value []byte) error {
	return s.Txn(ctx, []Op{PutOp(bucket, key, value)})
}

// Delete is a convenience single-op Txn.
func Delete(ctx context.Context, s Store, bucket, key string) error {
	return s.Txn(ctx, []Op{DeleteOp(bucket, key)})
}

// notFoundError is returned by Get when bucket/key has no value. Callers
// test for it with IsNotFound.
type notFoundError struct{ bucket, key string }

func (e *notFoundError) Error() string { return "metastore: not found: " + e.bucket + "/" + e.key }

// NotFound builds the not-found error Get implementations return.
func NotFound(bucket, key string) error { return &notFoundError{bucket, key} }

// IsNotFound reports whether err is (or wraps) a not-found error.
func IsNotFound(err error) bool {
	var nf *notFoundError
	return errors.As(err, &nf)
}
