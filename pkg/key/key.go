package key

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Epoch is a monotonic 64-bit timestamp: wall-clock milliseconds in the
// upper bits, a logical counter in the lower bits.
type Epoch uint64

const logicalBits = 16
const logicalMask = (uint64(1) << logicalBits) - 1

// NewEpoch packs a millisecond timestamp and a logical counter into one
// Epoch. The counter must fit in the low bits reserved for it; barrier
// generation (pkg/barrier) only ever increments it within one millisecond.
func NewEpoch(millis int64, logical uint16) Epoch {
	return Epoch(uint64(millis)<<logicalBits | uint64(logical))
}

// PhysicalTime returns the millisecond component of the epoch.
func (e Epoch) PhysicalTime() int64 { return int64(uint64(e) >> logicalBits) }

// Logical returns the logical-counter component of the epoch.
func (e Epoch) Logical() uint16 { return uint16(uint64(e) & logicalMask) }

// TableID identifies a table's slice of the keyspace.
type TableID uint32

// VNode is a virtual node in [0, 256).
type VNode uint8

// NumVNodes is the total number of virtual nodes a table's rows are
// bucketed across.
const NumVNodes = 256

// ValueKind tags a stored value as a live put or a deletion tombstone.
type ValueKind uint8

const (
	// Put marks a value as live data.
	Put ValueKind = iota
	// Delete marks a tombstone: the key did not exist as of this epoch.
	Delete
)

// Value is the tagged union SSTs and the shared buffer store per full key.
type Value struct {
	Kind ValueKind
	Data []byte
}

// IsDelete reports whether this value is a tombstone.
func (v Value) IsDelete() bool { return v.Kind == Delete }

const (
	tableIDLen = 4
	vnodeLen   = 1
	epochLen   = 8
)

// FullKey is the key actually stored in an SST: table id, vnode, user key
// and an inverted epoch, concatenated so that byte-order comparison gives
// the MVCC-correct total order.
type FullKey struct {
	TableID TableID
	VNode   VNode
	UserKey []byte
	Epoch   Epoch
}

// Encode serializes a FullKey to its comparable byte-string form.
func Encode(fk FullKey) []byte {
	buf := make([]byte, tableIDLen+vnodeLen+len(fk.UserKey)+epochLen)
	binary.BigEndian.PutUint32(buf[0:4], uint32(fk.TableID))
	buf[4] = byte(fk.VNode)
	n := copy(buf[5:], fk.UserKey)
	// Inverting the epoch bits before writing it big-endian makes larger
	// (newer) epochs sort first among versions of the same user key.
	binary.BigEndian.PutUint64(buf[5+n:], ^uint64(fk.Epoch))
	return buf
}

// Decode parses a byte string produced by Encode back into its fields.
// The returned UserKey aliases buf; callers that retain it past buf's
// reuse must copy it.
func Decode(buf []byte) (FullKey, error) {
	if len(buf) < tableIDLen+vnodeLen+epochLen {
		return FullKey{}, fmt.Errorf("key: full key too short: %d bytes", len(buf))
	}
	tableID := TableID(binary.BigEndian.Uint32(buf[0:4]))
	vnode := VNode(buf[4])
	userKeyEnd := len(buf) - epochLen
	userKey := buf[5:userKeyEnd]
	epoch := Epoch(^binary.BigEndian.Uint64(buf[userKeyEnd:]))
	return FullKey{TableID: tableID, VNode: vnode, UserKey: userKey, Epoch: epoch}, nil
}

// UserKeyOf strips the epoch suffix off an encoded full key, returning the
// bytes a bloom filter should be built and probed against (spec requires
// bloom filters over user keys, not full keys, so a read at any epoch of a
// user key hits the same filter entry).
func UserKeyOf(encoded []byte) []byte {
	if len(encoded) < epochLen {
		return nil
	}
	return encoded[:len(encoded)-epochLen]
}

// Compare orders two encoded full keys. It is a plain bytes.Compare, kept
// as a named function so call sites document *why* byte order is correct
// rather than repeating the invariant in comments everywhere.
func Compare(a, b []byte) int { return bytes.Compare(a, b) }

// SameUserKey reports whether two encoded full keys share the same
// table id, vnode and user key, differing only (if at all) in epoch.
func SameUserKey(a, b []byte) bool {
	if len(a) < epochLen || len(b) < epochLen {
		return bytes.Equal(a, b)
	}
	return bytes.Equal(a[:len(a)-epochLen], b[:len(b)-epochLen])
}

// VNodeOf hashes a distribution key to a virtual node in [0, NumVNodes).
func VNodeOf(distributionKey []byte) VNode {
	var h uint32 = 2166136261
	for _, c := range distributionKey {
		h ^= uint32(c)
		h *= 16777619
	}
	return VNode(h % NumVNodes)
}
