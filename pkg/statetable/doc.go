// Package statetable implements the row-store abstraction streaming
// operators keep their state in: rows keyed by
// (table_id, vnode, pk_bytes), buffered against the shared buffer at the
// operator's current write epoch, with watermark-driven range cleanup
// for windowed operators. Shaped like a generic entity store —
// create/get/update/delete/list — re-keyed from named entities to an
// ordered (vnode, pk) row space.
package statetable
