package hummock

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPinTracksLiveSSTs(t *testing.T) {
	ps := NewPinSet()
	v1 := NewVersion().Apply(Delta{Group: 1, AddedSSTs: []SSTInfo{{ObjectID: 1, Level: 0}}})

	tok := ps.Pin(v1)
	require.True(t, ps.IsPinned(v1.ID))
	require.True(t, ps.LiveSSTIDs()[1])

	ps.Unpin(tok)
	require.False(t, ps.IsPinned(v1.ID))
	require.Empty(t, ps.LiveSSTIDs())
}

func TestUnpinOfUnknownTokenPanics(t *testing.T) {
	ps := NewPinSet()
	require.Panics(t, func() { ps.Unpin(999) })
}

func TestMultiplePinsOnSameVersion(t *testing.T) {
	ps := NewPinSet()
	v1 := NewVersion().Apply(Delta{Group: 1, AddedSSTs: []SSTInfo{{ObjectID: 1, Level: 0}}})

	t1 := ps.Pin(v1)
	t2 := ps.Pin(v1)
	ps.Unpin(t1)
	require.True(t, ps.IsPinned(v1.ID), "second pin must keep the version live")
	ps.Unpin(t2)
	require.False(t, ps.IsPinned(v1.ID))
}
