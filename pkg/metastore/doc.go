// Package metastore implements the meta store's core primitive: a
// key-value store with multi-key transactions and prefix scans,
// replicated across meta replicas via Raft. pkg/meta/cluster and
// pkg/meta/catalog are thin, bucket-keyed domain layers built on top of
// the Store interface here; metastore itself knows nothing about nodes,
// tables or fragments.
package metastore
