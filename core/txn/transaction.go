// Package txn defines the transaction handle threaded through the lock
// manager and the B+ tree: its two-phase-locking state, isolation level,
// the lock sets the lock manager mutates, and the deleted-page set the
// B+ tree drains once an operation releases every latch on its path.
//
// Grounded on the small enum-plus-struct shape of
// core/transaction/transaction.go, generalized from that file's
// single-phase COMMIT/ABORT states to the GROWING/SHRINKING two-phase
// model this module's lock manager requires.
package txn

import (
	"sync"

	"github.com/gojodb-core/gojodb/core/storage/page"
	"github.com/google/uuid"
)

// State is a transaction's position in the two-phase-locking protocol.
type State int

const (
	StateGrowing State = iota
	StateShrinking
	StateCommitted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateGrowing:
		return "GROWING"
	case StateShrinking:
		return "SHRINKING"
	case StateCommitted:
		return "COMMITTED"
	case StateAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// IsolationLevel controls which lock acquisitions are legal and which
// releases end the growing phase.
type IsolationLevel int

const (
	ReadUncommitted IsolationLevel = iota
	ReadCommitted
	RepeatableRead
)

func (l IsolationLevel) String() string {
	switch l {
	case ReadUncommitted:
		return "READ_UNCOMMITTED"
	case ReadCommitted:
		return "READ_COMMITTED"
	case RepeatableRead:
		return "REPEATABLE_READ"
	default:
		return "UNKNOWN"
	}
}

// LockMode is one of the five multi-granularity lock modes.
type LockMode int

const (
	IntentionShared LockMode = iota
	IntentionExclusive
	Shared
	SharedIntentionExclusive
	Exclusive
)

func (m LockMode) String() string {
	switch m {
	case IntentionShared:
		return "IS"
	case IntentionExclusive:
		return "IX"
	case Shared:
		return "S"
	case SharedIntentionExclusive:
		return "SIX"
	case Exclusive:
		return "X"
	default:
		return "UNKNOWN"
	}
}

// RowID identifies a row within a table for row-level locking.
type RowID = uuid.UUID

// Transaction is a single logical unit of work. The held-lock sets are
// mutated only by the lock manager, and the deleted-page set only by the
// B+ tree; every accessor takes the transaction's own mutex.
type Transaction struct {
	ID             uint64
	IsolationLvl   IsolationLevel

	mu    sync.Mutex
	state State

	// Held-lock sets, one per table mode plus the two row modes, keyed by
	// table oid (and, for rows, further keyed by row id).
	sharedTableLocks    map[string]struct{}
	exclusiveTableLocks map[string]struct{}
	isTableLocks        map[string]struct{}
	ixTableLocks        map[string]struct{}
	sixTableLocks       map[string]struct{}
	sharedRowLocks      map[string]map[RowID]struct{}
	exclusiveRowLocks   map[string]map[RowID]struct{}

	deletedPages []page.ID
}

// New constructs a transaction in the GROWING state.
func New(id uint64, isolation IsolationLevel) *Transaction {
	return &Transaction{
		ID:                  id,
		IsolationLvl:        isolation,
		state:               StateGrowing,
		sharedTableLocks:    make(map[string]struct{}),
		exclusiveTableLocks: make(map[string]struct{}),
		isTableLocks:        make(map[string]struct{}),
		ixTableLocks:        make(map[string]struct{}),
		sixTableLocks:       make(map[string]struct{}),
		sharedRowLocks:      make(map[string]map[RowID]struct{}),
		exclusiveRowLocks:   make(map[string]map[RowID]struct{}),
	}
}

func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transaction) SetState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

// tableSet returns the table held-lock set for mode, or nil for a value
// outside the five lock modes.
func (t *Transaction) tableSet(mode LockMode) map[string]struct{} {
	switch mode {
	case IntentionShared:
		return t.isTableLocks
	case IntentionExclusive:
		return t.ixTableLocks
	case Shared:
		return t.sharedTableLocks
	case SharedIntentionExclusive:
		return t.sixTableLocks
	case Exclusive:
		return t.exclusiveTableLocks
	}
	return nil
}

func (t *Transaction) GrantTableLock(oid string, mode LockMode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tableSet(mode)[oid] = struct{}{}
}

func (t *Transaction) RevokeTableLock(oid string, mode LockMode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tableSet(mode), oid)
}

func (t *Transaction) HasTableLock(oid string, mode LockMode) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.tableSet(mode)[oid]
	return ok
}

// HasAnyTableLock reports whether the transaction holds any lock at all on
// oid, of any mode.
func (t *Transaction) HasAnyTableLock(oid string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, set := range []map[string]struct{}{t.isTableLocks, t.ixTableLocks, t.sharedTableLocks, t.sixTableLocks, t.exclusiveTableLocks} {
		if _, ok := set[oid]; ok {
			return true
		}
	}
	return false
}

// HeldTableLockMode returns the single mode the transaction currently
// holds on oid, if any. A transaction holds at most one table lock mode
// per oid at a time: upgrades replace the prior entry rather than adding
// to it.
func (t *Transaction) HeldTableLockMode(oid string) (LockMode, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range []LockMode{IntentionShared, IntentionExclusive, Shared, SharedIntentionExclusive, Exclusive} {
		if _, ok := t.tableSet(m)[oid]; ok {
			return m, true
		}
	}
	return 0, false
}

// HeldRowLockMode returns the mode (S or X) the transaction holds on
// (oid, rid), if any.
func (t *Transaction) HeldRowLockMode(oid string, rid RowID) (LockMode, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rows, ok := t.exclusiveRowLocks[oid]; ok {
		if _, ok := rows[rid]; ok {
			return Exclusive, true
		}
	}
	if rows, ok := t.sharedRowLocks[oid]; ok {
		if _, ok := rows[rid]; ok {
			return Shared, true
		}
	}
	return 0, false
}

func (t *Transaction) rowSet(mode LockMode) map[string]map[RowID]struct{} {
	if mode == Exclusive {
		return t.exclusiveRowLocks
	}
	return t.sharedRowLocks
}

func (t *Transaction) GrantRowLock(oid string, rid RowID, mode LockMode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set := t.rowSet(mode)
	if set[oid] == nil {
		set[oid] = make(map[RowID]struct{})
	}
	set[oid][rid] = struct{}{}
}

func (t *Transaction) RevokeRowLock(oid string, rid RowID, mode LockMode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rows, ok := t.rowSet(mode)[oid]; ok {
		delete(rows, rid)
	}
}

func (t *Transaction) HasRowLock(oid string, rid RowID, mode LockMode) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rows, ok := t.rowSet(mode)[oid]
	if !ok {
		return false
	}
	_, ok = rows[rid]
	return ok
}

// RowLockCount returns how many row locks (of any mode) the transaction
// still holds under oid, used to enforce unlock-rows-before-table.
func (t *Transaction) RowLockCount(oid string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.sharedRowLocks[oid]) + len(t.exclusiveRowLocks[oid])
	return n
}

// AddDeletedPage records a page freed during a structural B+ tree
// modification. It must not actually be deallocated until every latch the
// operation is holding has been released.
func (t *Transaction) AddDeletedPage(id page.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deletedPages = append(t.deletedPages, id)
}

// DrainDeletedPages returns and clears the deleted-page set.
func (t *Transaction) DrainDeletedPages() []page.ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.deletedPages
	t.deletedPages = nil
	return out
}
