package hashtable

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashTable_InsertFindRemove(t *testing.T) {
	ht := New[string, int](nil)
	ht.Insert("a", 1)
	ht.Insert("b", 2)

	v, ok := ht.Find("a")
	require.True(t, ok)
	require.Equal(t, 1, v)

	require.True(t, ht.Remove("a"))
	_, ok = ht.Find("a")
	require.False(t, ok)

	require.False(t, ht.Remove("a"))
}

func TestHashTable_OverwriteExisting(t *testing.T) {
	ht := New[string, int](nil)
	ht.Insert("a", 1)
	ht.Insert("a", 2)
	v, ok := ht.Find("a")
	require.True(t, ok)
	require.Equal(t, 2, v)
	require.Equal(t, 1, ht.Len())
}

func TestHashTable_GrowsBeyondInitialBucketSize(t *testing.T) {
	ht := New[int, int](func(k int) uint64 { return uint64(k) })
	const n = 500
	for i := 0; i < n; i++ {
		ht.Insert(i, i*i)
	}
	require.Equal(t, n, ht.Len())
	for i := 0; i < n; i++ {
		v, ok := ht.Find(i)
		require.True(t, ok)
		require.Equal(t, i*i, v)
	}
}

func TestHashTable_CustomHashAndPageIDKeys(t *testing.T) {
	type pageID int32
	ht := New[pageID, int](func(k pageID) uint64 { return uint64(uint32(k)) })
	ht.Insert(pageID(7), 42)
	v, ok := ht.Find(pageID(7))
	require.True(t, ok)
	require.Equal(t, 42, v)
}
