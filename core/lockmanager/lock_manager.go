// Package lockmanager implements hierarchical multi-granularity locking
// over tables and rows, with isolation-level-aware acquisition/release
// rules and a background deadlock detector.
//
// Grounded on two idioms pulled from elsewhere in the codebase: the small
// enum-plus-struct transaction shape of core/transaction/transaction.go
// (generalized here into core/txn's two-phase state machine), and the
// sync.Mutex + sync.Cond wait/broadcast pattern core/write_engine/wal's
// log_manager.go uses for its flush waiters, generalized here into one
// condition variable per lock-request queue with strict FIFO granting.
package lockmanager

import (
	"sort"
	"sync"
	"time"

	commonutils "github.com/gojodb-core/gojodb/internal/common_utils"

	"github.com/gojodb-core/gojodb/core/txn"
	"go.uber.org/zap"
)

type lockRequest struct {
	txnID   uint64
	mode    txn.LockMode
	granted bool
}

type lockRequestQueue struct {
	mu        sync.Mutex
	cond      *sync.Cond
	requests  []*lockRequest
	upgrading *uint64
}

func newLockRequestQueue() *lockRequestQueue {
	q := &lockRequestQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// rowKey identifies a (table oid, row id) pair as a map key.
type rowKey struct {
	oid string
	rid txn.RowID
}

// Metrics are optional counters the caller can wire to an observability
// backend; the zero value means "don't record".
type Metrics struct {
	OnLockWait func(d time.Duration)
	OnDeadlock func(victimTxnID uint64)
	OnAbort    func(reason AbortReason)
}

// Manager is the hierarchical lock manager: table and row lock request
// queues, a transaction registry for the deadlock detector, and the
// wait-for graph the detector rebuilds from scratch on every scan.
type Manager struct {
	log *zap.Logger

	tableMu     sync.Mutex
	tableQueues map[string]*lockRequestQueue

	rowMu     sync.Mutex
	rowQueues map[rowKey]*lockRequestQueue

	txnsMu sync.Mutex
	txns   map[uint64]*txn.Transaction

	waitForMu sync.Mutex

	cycleInterval time.Duration
	stopCh        chan struct{}
	wg            sync.WaitGroup
	metrics       Metrics
}

// NewManager constructs a lock manager whose background deadlock detector
// scans every cycleInterval once Start is called.
func NewManager(cycleInterval time.Duration, log *zap.Logger, metrics Metrics) *Manager {
	return &Manager{
		log:           log,
		tableQueues:   make(map[string]*lockRequestQueue),
		rowQueues:     make(map[rowKey]*lockRequestQueue),
		txns:          make(map[uint64]*txn.Transaction),
		cycleInterval: cycleInterval,
		metrics:       metrics,
	}
}

// RegisterTransaction makes t visible to the deadlock detector.
func (m *Manager) RegisterTransaction(t *txn.Transaction) {
	m.txnsMu.Lock()
	defer m.txnsMu.Unlock()
	m.txns[t.ID] = t
}

// UnregisterTransaction drops t from the detector's registry, normally
// called once a transaction has committed or aborted and released all
// its locks.
func (m *Manager) UnregisterTransaction(t *txn.Transaction) {
	m.txnsMu.Lock()
	defer m.txnsMu.Unlock()
	delete(m.txns, t.ID)
}

// Start launches the background cycle-detection loop. Stop must be called
// to release it.
func (m *Manager) Start() {
	m.stopCh = make(chan struct{})
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cycleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.RunCycleDetection()
			}
		}
	}()
}

// Stop halts the background deadlock detector.
func (m *Manager) Stop() {
	if m.stopCh != nil {
		close(m.stopCh)
		m.wg.Wait()
	}
}

func compatible(granted, requested txn.LockMode) bool {
	switch granted {
	case txn.IntentionShared:
		return requested != txn.Exclusive
	case txn.IntentionExclusive:
		return requested == txn.IntentionShared || requested == txn.IntentionExclusive
	case txn.Shared:
		return requested == txn.IntentionShared || requested == txn.Shared
	case txn.SharedIntentionExclusive:
		return requested == txn.IntentionShared
	case txn.Exclusive:
		return false
	}
	return false
}

func canUpgrade(from, to txn.LockMode) bool {
	switch from {
	case txn.IntentionShared:
		return to == txn.Shared || to == txn.Exclusive || to == txn.IntentionExclusive || to == txn.SharedIntentionExclusive
	case txn.Shared:
		return to == txn.Exclusive || to == txn.SharedIntentionExclusive
	case txn.IntentionExclusive:
		return to == txn.Exclusive || to == txn.SharedIntentionExclusive
	case txn.SharedIntentionExclusive:
		return to == txn.Exclusive
	}
	return false
}

// preCheckAcquire applies the isolation/phase rules common to both table
// and row acquisition. It aborts t and returns the typed error on failure.
func (m *Manager) preCheckAcquire(t *txn.Transaction, mode txn.LockMode) error {
	if t.IsolationLvl == txn.ReadUncommitted {
		if mode == txn.Shared || mode == txn.IntentionShared || mode == txn.SharedIntentionExclusive {
			return m.abort(t, LockSharedOnReadUncommitted)
		}
	}
	if t.State() == txn.StateShrinking {
		switch t.IsolationLvl {
		case txn.RepeatableRead:
			return m.abort(t, LockOnShrinking)
		case txn.ReadCommitted:
			if mode != txn.Shared && mode != txn.IntentionShared {
				return m.abort(t, LockOnShrinking)
			}
		case txn.ReadUncommitted:
			if mode != txn.IntentionExclusive && mode != txn.Exclusive {
				return m.abort(t, LockOnShrinking)
			}
		}
	}
	return nil
}

func (m *Manager) abort(t *txn.Transaction, reason AbortReason) error {
	t.SetState(txn.StateAborted)
	if m.metrics.OnAbort != nil {
		m.metrics.OnAbort(reason)
	}
	if m.log != nil {
		m.log.Warn("transaction aborted", zap.Uint64("txn_id", t.ID), zap.String("reason", reason.String()))
	}
	return &TransactionAbortError{TxnID: t.ID, Reason: reason}
}

func (m *Manager) getOrCreateTableQueue(oid string) *lockRequestQueue {
	m.tableMu.Lock()
	defer m.tableMu.Unlock()
	q, ok := m.tableQueues[oid]
	if !ok {
		q = newLockRequestQueue()
		m.tableQueues[oid] = q
	}
	return q
}

func (m *Manager) getOrCreateRowQueue(oid string, rid txn.RowID) *lockRequestQueue {
	m.rowMu.Lock()
	defer m.rowMu.Unlock()
	k := rowKey{oid, rid}
	q, ok := m.rowQueues[k]
	if !ok {
		q = newLockRequestQueue()
		m.rowQueues[k] = q
	}
	return q
}

// grantLock scans q.requests in granted order; candidate may be granted
// only if every already-granted request ahead of it is compatible, and no
// ungranted request appears strictly before it (strict FIFO).
func grantLock(q *lockRequestQueue, candidate *lockRequest) bool {
	for _, r := range q.requests {
		if r == candidate {
			return true
		}
		if !r.granted {
			return false
		}
		if !compatible(r.mode, candidate.mode) {
			return false
		}
	}
	return true
}

func removeRequest(q *lockRequestQueue, req *lockRequest) {
	for i, r := range q.requests {
		if r == req {
			q.requests = append(q.requests[:i], q.requests[i+1:]...)
			return
		}
	}
}

// acquire is the shared body of LockTable/LockRow once granularity-specific
// pre-checks have passed: enqueue-or-upgrade, wait for grant, update the
// transaction's held-lock set on success.
func (m *Manager) acquire(t *txn.Transaction, q *lockRequestQueue, mode txn.LockMode, onGrant func(), onUpgradeReplace func(old txn.LockMode)) error {
	q.mu.Lock()

	var existing *lockRequest
	for _, r := range q.requests {
		if r.txnID == t.ID {
			existing = r
			break
		}
	}

	var req *lockRequest
	switch {
	case existing != nil && existing.mode == mode:
		q.mu.Unlock()
		return nil
	case existing != nil:
		if q.upgrading != nil {
			q.mu.Unlock()
			return m.abort(t, UpgradeConflict)
		}
		if !canUpgrade(existing.mode, mode) {
			q.mu.Unlock()
			return m.abort(t, IncompatibleUpgrade)
		}
		oldMode := existing.mode
		removeRequest(q, existing)
		req = &lockRequest{txnID: t.ID, mode: mode}
		insertAfterLastGranted(q, req)
		id := t.ID
		q.upgrading = &id
		defer func() {
			if onUpgradeReplace != nil {
				onUpgradeReplace(oldMode)
			}
		}()
	default:
		req = &lockRequest{txnID: t.ID, mode: mode}
		q.requests = append(q.requests, req)
	}

	start := time.Now()
	for !grantLock(q, req) {
		if t.State() == txn.StateAborted {
			removeRequest(q, req)
			if q.upgrading != nil && *q.upgrading == t.ID {
				q.upgrading = nil
			}
			q.cond.Broadcast()
			q.mu.Unlock()
			return ErrDeadlockVictim
		}
		q.cond.Wait()
	}
	if m.metrics.OnLockWait != nil {
		m.metrics.OnLockWait(time.Since(start))
	}

	req.granted = true
	if q.upgrading != nil && *q.upgrading == t.ID {
		q.upgrading = nil
	}
	onGrant()
	q.cond.Broadcast()
	q.mu.Unlock()
	return nil
}

func insertAfterLastGranted(q *lockRequestQueue, req *lockRequest) {
	lastGranted := -1
	for i, r := range q.requests {
		if r.granted {
			lastGranted = i
		}
	}
	pos := lastGranted + 1
	q.requests = append(q.requests, nil)
	copy(q.requests[pos+1:], q.requests[pos:])
	q.requests[pos] = req
}

// LockTable acquires mode on table oid for t, blocking until granted or
// the transaction is aborted.
func (m *Manager) LockTable(t *txn.Transaction, mode txn.LockMode, oid string) error {
	if err := m.preCheckAcquire(t, mode); err != nil {
		return err
	}
	q := m.getOrCreateTableQueue(oid)
	return m.acquire(t, q, mode,
		func() { t.GrantTableLock(oid, mode) },
		func(old txn.LockMode) { t.RevokeTableLock(oid, old) },
	)
}

// UnlockTable releases t's lock on oid.
func (m *Manager) UnlockTable(t *txn.Transaction, oid string) error {
	mode, held := t.HeldTableLockMode(oid)
	if !held {
		return m.abort(t, AttemptedUnlockButNoLockHeld)
	}
	if t.RowLockCount(oid) > 0 {
		return m.abort(t, TableUnlockedBeforeUnlockingRows)
	}
	q := m.getOrCreateTableQueue(oid)
	m.release(t, q, mode)
	t.RevokeTableLock(oid, mode)
	return nil
}

// LockRow acquires mode on (oid, rid) for t.
func (m *Manager) LockRow(t *txn.Transaction, mode txn.LockMode, oid string, rid txn.RowID) error {
	if mode == txn.IntentionShared || mode == txn.IntentionExclusive || mode == txn.SharedIntentionExclusive {
		return m.abort(t, AttemptedIntentionLockOnRow)
	}
	if err := m.preCheckAcquire(t, mode); err != nil {
		return err
	}
	if mode == txn.Exclusive {
		if !t.HasTableLock(oid, txn.IntentionExclusive) && !t.HasTableLock(oid, txn.Exclusive) && !t.HasTableLock(oid, txn.SharedIntentionExclusive) {
			return m.abort(t, TableLockNotPresent)
		}
	} else {
		if !t.HasAnyTableLock(oid) {
			return m.abort(t, TableLockNotPresent)
		}
	}
	q := m.getOrCreateRowQueue(oid, rid)
	return m.acquire(t, q, mode,
		func() { t.GrantRowLock(oid, rid, mode) },
		func(old txn.LockMode) { t.RevokeRowLock(oid, rid, old) },
	)
}

// UnlockRow releases t's lock on (oid, rid).
func (m *Manager) UnlockRow(t *txn.Transaction, oid string, rid txn.RowID) error {
	mode, held := t.HeldRowLockMode(oid, rid)
	if !held {
		return m.abort(t, AttemptedUnlockButNoLockHeld)
	}
	q := m.getOrCreateRowQueue(oid, rid)
	m.release(t, q, mode)
	t.RevokeRowLock(oid, rid, mode)
	return nil
}

// release removes t's granted request from q and decides whether this
// release ends the transaction's growing phase under its isolation level.
func (m *Manager) release(t *txn.Transaction, q *lockRequestQueue, mode txn.LockMode) {
	q.mu.Lock()
	for _, r := range q.requests {
		if r.txnID == t.ID {
			removeRequest(q, r)
			break
		}
	}
	q.cond.Broadcast()
	q.mu.Unlock()

	endsGrowing := false
	switch t.IsolationLvl {
	case txn.RepeatableRead:
		endsGrowing = mode == txn.Shared || mode == txn.Exclusive
	case txn.ReadCommitted, txn.ReadUncommitted:
		endsGrowing = mode == txn.Exclusive
	}
	if endsGrowing && t.State() == txn.StateGrowing {
		t.SetState(txn.StateShrinking)
	}
}

// RunCycleDetection performs one scan: rebuild the wait-for graph from
// every table and row queue, run DFS from each vertex in ascending id
// order, and abort the youngest transaction in any cycle found.
func (m *Manager) RunCycleDetection() {
	m.waitForMu.Lock()
	defer m.waitForMu.Unlock()

	graph := make(map[uint64]map[uint64]bool)
	addEdge := func(from, to uint64) {
		if from == to {
			return
		}
		if graph[from] == nil {
			graph[from] = make(map[uint64]bool)
		}
		graph[from][to] = true
	}

	m.tableMu.Lock()
	tableOIDs := make([]string, 0, len(m.tableQueues))
	tableQueues := make([]*lockRequestQueue, 0, len(m.tableQueues))
	for oid, q := range m.tableQueues {
		tableOIDs = append(tableOIDs, oid)
		tableQueues = append(tableQueues, q)
	}
	m.tableMu.Unlock()

	m.rowMu.Lock()
	rowKeys := make([]rowKey, 0, len(m.rowQueues))
	rowQueues := make([]*lockRequestQueue, 0, len(m.rowQueues))
	for k, q := range m.rowQueues {
		rowKeys = append(rowKeys, k)
		rowQueues = append(rowQueues, q)
	}
	m.rowMu.Unlock()

	scan := func(q *lockRequestQueue) {
		q.mu.Lock()
		defer q.mu.Unlock()
		for i, r := range q.requests {
			if r.granted {
				continue
			}
			for j := 0; j < i; j++ {
				g := q.requests[j]
				if g.granted {
					addEdge(r.txnID, g.txnID)
				}
			}
		}
	}
	for _, q := range tableQueues {
		scan(q)
	}
	for _, q := range rowQueues {
		scan(q)
	}

	victim, ok := findCycleVictim(graph)
	if !ok {
		return
	}

	m.txnsMu.Lock()
	vt, known := m.txns[victim]
	m.txnsMu.Unlock()
	if known {
		vt.SetState(txn.StateAborted)
	}
	if m.log != nil {
		m.log.Warn("deadlock detected, aborting victim",
			zap.Uint64("victim_txn_id", victim),
			zap.Int64("detector_goroutine_id", commonutils.GoID()))
	}
	if m.metrics.OnDeadlock != nil {
		m.metrics.OnDeadlock(victim)
	}

	// A deadlock abort implies rollback: release every lock the victim
	// already holds, not just its pending requests, or the rest of the
	// cycle stays blocked on a lock the victim will never give up itself.
	// Every queue is broadcast on regardless of whether a release happened
	// on it, since the victim's own acquire call may be parked in
	// cond.Wait() on a queue where it holds no grant at all — that
	// goroutine only re-checks its aborted state on wakeup.
	releaseVictim := func(q *lockRequestQueue) (txn.LockMode, bool) {
		q.mu.Lock()
		defer q.mu.Unlock()
		defer q.cond.Broadcast()
		for _, r := range q.requests {
			if r.txnID == victim && r.granted {
				mode := r.mode
				removeRequest(q, r)
				return mode, true
			}
		}
		return 0, false
	}
	for i, q := range tableQueues {
		if mode, released := releaseVictim(q); released && known {
			vt.RevokeTableLock(tableOIDs[i], mode)
		}
	}
	for i, q := range rowQueues {
		if mode, released := releaseVictim(q); released && known {
			vt.RevokeRowLock(rowKeys[i].oid, rowKeys[i].rid, mode)
		}
	}
}

// findCycleVictim runs DFS from every vertex in ascending id order,
// visiting each vertex's out-edges in ascending id order, and returns the
// maximum-id vertex of the cycle closed by the first back-edge found.
func findCycleVictim(graph map[uint64]map[uint64]bool) (uint64, bool) {
	vertices := make([]uint64, 0, len(graph))
	for v := range graph {
		vertices = append(vertices, v)
	}
	sort.Slice(vertices, func(i, j int) bool { return vertices[i] < vertices[j] })

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[uint64]int)
	stack := make([]uint64, 0, len(vertices))

	var victim uint64
	found := false

	var visit func(v uint64) bool
	visit = func(v uint64) bool {
		color[v] = gray
		stack = append(stack, v)

		neighbors := make([]uint64, 0, len(graph[v]))
		for n := range graph[v] {
			neighbors = append(neighbors, n)
		}
		sort.Slice(neighbors, func(i, j int) bool { return neighbors[i] < neighbors[j] })

		for _, n := range neighbors {
			switch color[n] {
			case white:
				if visit(n) {
					return true
				}
			case gray:
				// The cycle is the stack suffix from n to v.
				max := n
				for i := len(stack) - 1; i >= 0 && stack[i] != n; i-- {
					if stack[i] > max {
						max = stack[i]
					}
				}
				victim = max
				found = true
				return true
			}
		}
		color[v] = black
		stack = stack[:len(stack)-1]
		return false
	}

	for _, v := range vertices {
		if color[v] == white {
			if visit(v) {
				return victim, found
			}
		}
	}
	return 0, false
}
