// Package blockcache implements the two-tier cache in front of pkg/objectstore
//: a small meta cache holding parsed SST indexes, and a
// larger, size-accounted block cache holding decoded data blocks keyed by
// (object id, block index). Both are built on hashicorp/golang-lru/v2,
// the same cache library the reference pack's erigon/bsc nodes use for
// their in-memory state and trie-node caches.
package blockcache
