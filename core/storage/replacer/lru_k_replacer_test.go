package replacer

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestLRUKReplacer_InfiniteDistancePreferred exercises the scenario named
// against a pool of 7 frames with K=2: frames with fewer than two recorded
// accesses have infinite backward k-distance and are evicted before any
// frame that has accumulated two or more accesses.
func TestLRUKReplacer_InfiniteDistancePreferred(t *testing.T) {
	r := NewLRUKReplacer(7, 2, zap.NewNop())

	// Frame 1: two accesses, finite distance.
	r.RecordAccess(1)
	r.RecordAccess(1)
	r.SetEvictable(1, true)

	// Frame 2: one access only, infinite distance.
	r.RecordAccess(2)
	r.SetEvictable(2, true)

	victim, ok := r.Evict()
	require.True(t, ok)
	require.Equal(t, 2, victim, "frame with fewer than K accesses must be preferred for eviction")
}

func TestLRUKReplacer_TieBreakByOldestAccess(t *testing.T) {
	r := NewLRUKReplacer(7, 2, zap.NewNop())

	r.RecordAccess(1) // oldest first access
	r.RecordAccess(2)
	r.SetEvictable(1, true)
	r.SetEvictable(2, true)

	victim, ok := r.Evict()
	require.True(t, ok)
	require.Equal(t, 1, victim, "among tied infinite-distance frames, the oldest first access wins")
}

func TestLRUKReplacer_OnlyEvictableFramesConsidered(t *testing.T) {
	r := NewLRUKReplacer(7, 2, zap.NewNop())
	r.RecordAccess(1)
	r.RecordAccess(2)
	r.SetEvictable(2, true)

	victim, ok := r.Evict()
	require.True(t, ok)
	require.Equal(t, 2, victim)
}

func TestLRUKReplacer_RemovePanicsOnPinned(t *testing.T) {
	r := NewLRUKReplacer(4, 2, zap.NewNop())
	r.RecordAccess(1)
	require.Panics(t, func() { r.Remove(1) })
}

func TestLRUKReplacer_SizeTracksEvictableCount(t *testing.T) {
	r := NewLRUKReplacer(4, 2, zap.NewNop())
	r.RecordAccess(1)
	r.RecordAccess(2)
	require.Equal(t, 0, r.Size())
	r.SetEvictable(1, true)
	require.Equal(t, 1, r.Size())
	r.SetEvictable(2, true)
	require.Equal(t, 2, r.Size())
	r.SetEvictable(1, false)
	require.Equal(t, 1, r.Size())
}

func TestLRUKReplacer_EvictReturnsFalseWhenEmpty(t *testing.T) {
	r := NewLRUKReplacer(4, 2, zap.NewNop())
	_, ok := r.Evict()
	require.False(t, ok)
}
