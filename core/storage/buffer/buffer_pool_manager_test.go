package buffer

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gojodb-core/gojodb/core/storage/disk"
	"github.com/gojodb-core/gojodb/core/storage/page"
)

func newTestManager(t *testing.T, poolSize, replacerK int) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.db")
	dm, err := disk.Open(path, 4096, true, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { dm.Close() })
	return NewManager(poolSize, replacerK, dm, zap.NewNop(), Metrics{})
}

func TestBufferPoolManager_NewPageAndFetch(t *testing.T) {
	bp := newTestManager(t, 4, 2)

	p, id := bp.NewPage()
	require.NotNil(t, p)
	copy(p.GetData(), []byte("payload"))
	require.True(t, bp.UnpinPage(id, true))

	fetched := bp.FetchPage(id)
	require.NotNil(t, fetched)
	require.Equal(t, byte('p'), fetched.GetData()[0])
	require.True(t, bp.UnpinPage(id, false))
}

// TestBufferPoolManager_EvictionWithPoolSizeOne exercises the scenario
// named for a single-frame pool: allocating a second page while the first is
// pinned must fail, and must succeed once the first is unpinned (making it
// evictable).
func TestBufferPoolManager_EvictionWithPoolSizeOne(t *testing.T) {
	bp := newTestManager(t, 1, 2)

	_, id1 := bp.NewPage()
	require.NotEqual(t, page.Invalid, id1)

	p2, id2 := bp.NewPage()
	require.Nil(t, p2)
	require.Equal(t, page.Invalid, id2)

	require.True(t, bp.UnpinPage(id1, false))

	p3, id3 := bp.NewPage()
	require.NotNil(t, p3)
	require.NotEqual(t, page.Invalid, id3)
}

func TestBufferPoolManager_DirtyVictimFlushedBeforeEviction(t *testing.T) {
	bp := newTestManager(t, 1, 2)

	p1, id1 := bp.NewPage()
	copy(p1.GetData(), []byte("dirty data"))
	require.True(t, bp.UnpinPage(id1, true))

	_, id2 := bp.NewPage()
	require.NotEqual(t, page.Invalid, id2)
	bp.UnpinPage(id2, false)

	refetched := bp.FetchPage(id1)
	require.NotNil(t, refetched)
	require.Equal(t, byte('d'), refetched.GetData()[0])
	bp.UnpinPage(id1, false)
}

func TestBufferPoolManager_UnpinUnknownPageFails(t *testing.T) {
	bp := newTestManager(t, 2, 2)
	require.False(t, bp.UnpinPage(page.ID(999), false))
}

func TestBufferPoolManager_DeletePageRejectsPinned(t *testing.T) {
	bp := newTestManager(t, 2, 2)
	_, id := bp.NewPage()
	require.False(t, bp.DeletePage(id))
	bp.UnpinPage(id, false)
	require.True(t, bp.DeletePage(id))
}

func TestBufferPoolManager_FlushAllClearsDirtyBits(t *testing.T) {
	bp := newTestManager(t, 2, 2)
	_, id := bp.NewPage()
	bp.UnpinPage(id, true)

	bp.FlushAll()

	refetched := bp.FetchPage(id)
	require.NotNil(t, refetched)
	require.False(t, refetched.IsDirty())
	bp.UnpinPage(id, false)
}
