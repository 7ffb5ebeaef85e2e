// Package objectstore defines the external storage interface SSTs are
// written to and read from: a flat object namespace with
// streaming writes, byte-range reads, listing and deletion. No object
// store SDK in the reference pack (S3, GCS, Azure Blob clients) has a
// retrievable, verifiable API surface, so this package ships two
// implementations built on the standard library: an in-memory store for
// tests, and a local-filesystem store for single-node development,
// matching how every storage engine in the pack falls back to a plain
// directory layout when no cloud SDK is configured.
package objectstore
