package txn

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/gojodb-core/gojodb/core/storage/page"
)

func TestTransaction_New(t *testing.T) {
	tr := New(1, RepeatableRead)
	require.Equal(t, uint64(1), tr.ID)
	require.Equal(t, StateGrowing, tr.State())
}

func TestTransaction_TableLockGrantRevoke(t *testing.T) {
	tr := New(1, RepeatableRead)
	require.False(t, tr.HasTableLock("orders", Shared))

	tr.GrantTableLock("orders", Shared)
	require.True(t, tr.HasTableLock("orders", Shared))
	require.True(t, tr.HasAnyTableLock("orders"))

	mode, ok := tr.HeldTableLockMode("orders")
	require.True(t, ok)
	require.Equal(t, Shared, mode)

	tr.RevokeTableLock("orders", Shared)
	require.False(t, tr.HasAnyTableLock("orders"))
	_, ok = tr.HeldTableLockMode("orders")
	require.False(t, ok)
}

func TestTransaction_RowLockGrantRevokeAndCount(t *testing.T) {
	tr := New(1, RepeatableRead)
	rid := uuid.New()

	tr.GrantRowLock("orders", rid, Exclusive)
	require.True(t, tr.HasRowLock("orders", rid, Exclusive))
	require.Equal(t, 1, tr.RowLockCount("orders"))

	mode, ok := tr.HeldRowLockMode("orders", rid)
	require.True(t, ok)
	require.Equal(t, Exclusive, mode)

	tr.RevokeRowLock("orders", rid, Exclusive)
	require.Equal(t, 0, tr.RowLockCount("orders"))
	_, ok = tr.HeldRowLockMode("orders", rid)
	require.False(t, ok)
}

func TestTransaction_DeletedPagesDrainOnce(t *testing.T) {
	tr := New(1, RepeatableRead)
	tr.AddDeletedPage(page.ID(7))
	tr.AddDeletedPage(page.ID(9))

	drained := tr.DrainDeletedPages()
	require.ElementsMatch(t, []page.ID{7, 9}, drained)

	require.Empty(t, tr.DrainDeletedPages())
}
