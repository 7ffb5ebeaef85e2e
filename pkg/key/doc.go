// Package key implements Cascade's full-key encoding: the byte layout
// that gives every version of every row a total order inside an SST.
//
// A full key is table_id(4) || vnode(1) || user_key || epoch_be_inverted(8).
// Comparing full keys as byte strings yields table id ascending, vnode
// ascending, user key ascending, epoch descending — so the newest version
// of a user key always sorts first, which is what every iterator in
// pkg/sstable and pkg/hummock/miter relies on.
package key
