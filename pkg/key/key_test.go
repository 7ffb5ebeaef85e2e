package key

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		fk   FullKey
	}{
		{"simple", FullKey{TableID: 1, VNode: 3, UserKey: []byte("hello"), Epoch: 100}},
		{"empty user key", FullKey{TableID: 42, VNode: 255, UserKey: []byte{}, Epoch: 0}},
		{"max epoch", FullKey{TableID: 0, VNode: 0, UserKey: []byte("z"), Epoch: Epoch(^uint64(0))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := Encode(tt.fk)
			decoded, err := Decode(encoded)
			require.NoError(t, err)
			assert.Equal(t, tt.fk.TableID, decoded.TableID)
			assert.Equal(t, tt.fk.VNode, decoded.VNode)
			assert.Equal(t, tt.fk.UserKey, decoded.UserKey)
			assert.Equal(t, tt.fk.Epoch, decoded.Epoch)
		})
	}
}

func TestOrderingUserKeyAscEpochDesc(t *testing.T) {
	a := Encode(FullKey{TableID: 1, VNode: 0, UserKey: []byte("a"), Epoch: 100})
	b := Encode(FullKey{TableID: 1, VNode: 0, UserKey: []byte("a"), Epoch: 200})
	c := Encode(FullKey{TableID: 1, VNode: 0, UserKey: []byte("b"), Epoch: 50})

	// Same user key: newer epoch (200) sorts before older epoch (100).
	assert.True(t, Compare(b, a) < 0)
	// Different user key: "a" sorts before "b" regardless of epoch.
	assert.True(t, Compare(a, c) < 0)
	assert.True(t, Compare(b, c) < 0)
}

func TestOrderingAcrossTableAndVNode(t *testing.T) {
	t1v0 := Encode(FullKey{TableID: 1, VNode: 0, UserKey: []byte("x"), Epoch: 1})
	t1v1 := Encode(FullKey{TableID: 1, VNode: 1, UserKey: []byte("a"), Epoch: 1})
	t2v0 := Encode(FullKey{TableID: 2, VNode: 0, UserKey: []byte("a"), Epoch: 1})

	assert.True(t, Compare(t1v0, t1v1) < 0, "vnode 0 sorts before vnode 1 within a table")
	assert.True(t, Compare(t1v1, t2v0) < 0, "table 1 sorts before table 2 regardless of vnode/user key")
}

func TestSameUserKey(t *testing.T) {
	a := Encode(FullKey{TableID: 1, VNode: 0, UserKey: []byte("k"), Epoch: 10})
	b := Encode(FullKey{TableID: 1, VNode: 0, UserKey: []byte("k"), Epoch: 20})
	c := Encode(FullKey{TableID: 1, VNode: 0, UserKey: []byte("k2"), Epoch: 10})

	assert.True(t, SameUserKey(a, b))
	assert.False(t, SameUserKey(a, c))
}

func TestUserKeyOf(t *testing.T) {
	fk := FullKey{TableID: 7, VNode: 9, UserKey: []byte("row-pk"), Epoch: 5}
	encoded := Encode(fk)
	uk := UserKeyOf(encoded)
	// The user-key prefix used for bloom filters must be stable across
	// epochs of the same logical key.
	fk2 := fk
	fk2.Epoch = 6
	assert.Equal(t, uk, UserKeyOf(Encode(fk2)))
}

func TestVNodeOfDistribution(t *testing.T) {
	v1 := VNodeOf([]byte("user-123"))
	v2 := VNodeOf([]byte("user-123"))
	assert.Equal(t, v1, v2, "hashing must be deterministic")
	assert.Less(t, uint8(v1), uint8(NumVNodes))
}

func TestNewEpochPacksPhysicalAndLogical(t *testing.T) {
	e := NewEpoch(1_700_000_000_000, 42)
	assert.Equal(t, int64(1_700_000_000_000), e.PhysicalTime())
	assert.Equal(t, uint16(42), e.Logical())
}

func TestDecodeTooShort(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	assert.Error(t, err)
}
