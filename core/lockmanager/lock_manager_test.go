package lockmanager

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gojodb-core/gojodb/core/txn"
)

func newTestManager() *Manager {
	return NewManager(20*time.Millisecond, zap.NewNop(), Metrics{})
}

func TestLockManager_SharedLocksAreCompatible(t *testing.T) {
	m := newTestManager()
	t1 := txn.New(1, txn.RepeatableRead)
	t2 := txn.New(2, txn.RepeatableRead)

	require.NoError(t, m.LockTable(t1, txn.Shared, "orders"))
	require.NoError(t, m.LockTable(t2, txn.Shared, "orders"))
}

// TestLockManager_UpgradeConflictBetweenTwoTransactions exercises the named
// scenario: both T1 and T2 hold S on the same resource, and both attempt to
// upgrade to X. T2 must abort with UpgradeConflict once it observes T1's
// upgrade already in progress; T1's upgrade stays queued behind T2's S and
// is granted once T2 releases it.
func TestLockManager_UpgradeConflictBetweenTwoTransactions(t *testing.T) {
	m := newTestManager()
	t1 := txn.New(1, txn.RepeatableRead)
	t2 := txn.New(2, txn.RepeatableRead)

	require.NoError(t, m.LockTable(t1, txn.Shared, "orders"))
	require.NoError(t, m.LockTable(t2, txn.Shared, "orders"))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(1)
	go func() { defer wg.Done(); errs[0] = m.LockTable(t1, txn.Exclusive, "orders") }()
	time.Sleep(10 * time.Millisecond) // ensure t1's upgrade request is enqueued first
	errs[1] = m.LockTable(t2, txn.Exclusive, "orders")
	require.NoError(t, m.UnlockTable(t2, "orders"))
	wg.Wait()

	require.NoError(t, errs[0])
	require.Error(t, errs[1])
	var abortErr *TransactionAbortError
	require.ErrorAs(t, errs[1], &abortErr)
	require.Equal(t, UpgradeConflict, abortErr.Reason)
}

func TestLockManager_IncompatibleUpgradeAborts(t *testing.T) {
	m := newTestManager()
	t1 := txn.New(1, txn.RepeatableRead)

	require.NoError(t, m.LockTable(t1, txn.Shared, "orders"))
	// S -> IS is not a valid upgrade direction.
	err := m.LockTable(t1, txn.IntentionShared, "orders")
	var abortErr *TransactionAbortError
	require.ErrorAs(t, err, &abortErr)
	require.Equal(t, IncompatibleUpgrade, abortErr.Reason)
}

func TestLockManager_RowLockRequiresTableLock(t *testing.T) {
	m := newTestManager()
	t1 := txn.New(1, txn.RepeatableRead)
	rid := uuid.New()

	err := m.LockRow(t1, txn.Shared, "orders", rid)
	var abortErr *TransactionAbortError
	require.ErrorAs(t, err, &abortErr)
	require.Equal(t, TableLockNotPresent, abortErr.Reason)
}

func TestLockManager_IntentionLockOnRowRejected(t *testing.T) {
	m := newTestManager()
	t1 := txn.New(1, txn.RepeatableRead)
	rid := uuid.New()

	err := m.LockRow(t1, txn.IntentionShared, "orders", rid)
	var abortErr *TransactionAbortError
	require.ErrorAs(t, err, &abortErr)
	require.Equal(t, AttemptedIntentionLockOnRow, abortErr.Reason)
}

func TestLockManager_UnlockTableBeforeRowsAborts(t *testing.T) {
	m := newTestManager()
	t1 := txn.New(1, txn.RepeatableRead)
	rid := uuid.New()

	require.NoError(t, m.LockTable(t1, txn.IntentionExclusive, "orders"))
	require.NoError(t, m.LockRow(t1, txn.Exclusive, "orders", rid))

	err := m.UnlockTable(t1, "orders")
	var abortErr *TransactionAbortError
	require.ErrorAs(t, err, &abortErr)
	require.Equal(t, TableUnlockedBeforeUnlockingRows, abortErr.Reason)
}

func TestLockManager_UnlockWithoutHoldingAborts(t *testing.T) {
	m := newTestManager()
	t1 := txn.New(1, txn.RepeatableRead)

	err := m.UnlockTable(t1, "orders")
	var abortErr *TransactionAbortError
	require.ErrorAs(t, err, &abortErr)
	require.Equal(t, AttemptedUnlockButNoLockHeld, abortErr.Reason)
}

func TestLockManager_ReadUncommittedRejectsSharedLocks(t *testing.T) {
	m := newTestManager()
	t1 := txn.New(1, txn.ReadUncommitted)

	err := m.LockTable(t1, txn.Shared, "orders")
	var abortErr *TransactionAbortError
	require.ErrorAs(t, err, &abortErr)
	require.Equal(t, LockSharedOnReadUncommitted, abortErr.Reason)
}

// TestLockManager_RepeatableReadEndsGrowingOnSharedRelease exercises the
// isolation-policy scenario: under REPEATABLE_READ, releasing either an S
// or an X lock ends the growing phase, after which acquiring a new lock
// aborts with LockOnShrinking. This test releases an S lock.
func TestLockManager_RepeatableReadEndsGrowingOnSharedRelease(t *testing.T) {
	m := newTestManager()
	t1 := txn.New(1, txn.RepeatableRead)

	require.NoError(t, m.LockTable(t1, txn.Shared, "orders"))
	require.NoError(t, m.LockTable(t1, txn.IntentionShared, "customers"))
	require.NoError(t, m.UnlockTable(t1, "orders"))
	require.Equal(t, txn.StateShrinking, t1.State())

	err := m.LockTable(t1, txn.Shared, "products")
	var abortErr *TransactionAbortError
	require.ErrorAs(t, err, &abortErr)
	require.Equal(t, LockOnShrinking, abortErr.Reason)
}

func TestLockManager_ReadCommittedOnlyEndsGrowingOnExclusiveRelease(t *testing.T) {
	m := newTestManager()
	t1 := txn.New(1, txn.ReadCommitted)

	require.NoError(t, m.LockTable(t1, txn.Shared, "orders"))
	require.NoError(t, m.UnlockTable(t1, "orders"))
	require.Equal(t, txn.StateGrowing, t1.State(), "releasing S under READ_COMMITTED must not end growing phase")

	require.NoError(t, m.LockTable(t1, txn.Exclusive, "customers"))
	require.NoError(t, m.UnlockTable(t1, "customers"))
	require.Equal(t, txn.StateShrinking, t1.State(), "releasing X under READ_COMMITTED ends growing phase")
}

// TestLockManager_DeadlockDetectionAbortsYoungest exercises the named
// scenario: T10 and T20 each hold a lock the other wants, forming a cycle.
// The detector must abort the transaction with the larger id (T20).
func TestLockManager_DeadlockDetectionAbortsYoungest(t *testing.T) {
	m := newTestManager()
	t10 := txn.New(10, txn.RepeatableRead)
	t20 := txn.New(20, txn.RepeatableRead)
	m.RegisterTransaction(t10)
	m.RegisterTransaction(t20)
	m.Start()
	defer m.Stop()

	require.NoError(t, m.LockTable(t10, txn.Exclusive, "a"))
	require.NoError(t, m.LockTable(t20, txn.Exclusive, "b"))

	var wg sync.WaitGroup
	wg.Add(2)
	var err10, err20 error
	go func() { defer wg.Done(); err10 = m.LockTable(t10, txn.Exclusive, "b") }()
	go func() { defer wg.Done(); err20 = m.LockTable(t20, txn.Exclusive, "a") }()
	wg.Wait()

	require.NoError(t, err10)
	require.ErrorIs(t, err20, ErrDeadlockVictim)
}

func TestAbortReason_String(t *testing.T) {
	require.Equal(t, "LOCK_ON_SHRINKING", LockOnShrinking.String())
	require.Equal(t, "UNKNOWN_ABORT_REASON", AbortReason(99).String())
}
