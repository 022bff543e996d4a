package page

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPage_StickyDirtyBit(t *testing.T) {
	p := New(ID(1), 16)
	require.False(t, p.IsDirty())

	p.SetDirty(true)
	require.True(t, p.IsDirty())

	// Passing false must never clear a sticky dirty bit.
	p.SetDirty(false)
	require.True(t, p.IsDirty())

	p.ClearDirty()
	require.False(t, p.IsDirty())
}

func TestPage_PinUnpin(t *testing.T) {
	p := New(ID(1), 16)
	require.Equal(t, uint32(0), p.GetPinCount())
	p.Pin()
	p.Pin()
	require.Equal(t, uint32(2), p.GetPinCount())
	p.Unpin()
	require.Equal(t, uint32(1), p.GetPinCount())
	p.Unpin()
	require.Equal(t, uint32(0), p.GetPinCount())
	// Unpinning below zero must not underflow.
	p.Unpin()
	require.Equal(t, uint32(0), p.GetPinCount())
}

func TestPage_Reset(t *testing.T) {
	p := New(ID(5), 4)
	copy(p.GetData(), []byte{1, 2, 3, 4})
	p.SetDirty(true)
	p.Pin()

	p.Reset()

	require.Equal(t, Invalid, p.GetPageID())
	require.False(t, p.IsDirty())
	require.Equal(t, uint32(0), p.GetPinCount())
	require.Equal(t, []byte{0, 0, 0, 0}, p.GetData())
}

func TestPage_LatchRoundTrip(t *testing.T) {
	p := New(ID(1), 4)
	p.Lock()
	p.Unlock()
	p.RLock()
	p.RUnlock()
	require.True(t, p.TryLock())
	p.Unlock()
}
