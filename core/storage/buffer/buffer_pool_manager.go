// Package buffer implements the fixed-size buffer pool that mediates all
// access to the paged on-disk heap: it owns the frame array, the free
// list, the page table (an extendible hash table), and an LRU-K replacer,
// and enforces pin semantics and the sticky dirty bit.
//
// Directly adapted from
// core/write_engine/memtable/bufferpoolmanager.go — same method set
// (NewPage, FetchPage, UnpinPage, FlushPage, FlushAll) and the same
// single-mutex-serializes-everything design — with the ad hoc
// container/list LRU and inline map replaced by the dedicated replacer and
// hashtable components, and all WAL/LSN hooks removed (WAL is a named
// non-goal of this module).
package buffer

import (
	"fmt"
	"sync"

	"github.com/gojodb-core/gojodb/core/storage/disk"
	"github.com/gojodb-core/gojodb/core/storage/hashtable"
	"github.com/gojodb-core/gojodb/core/storage/page"
	"github.com/gojodb-core/gojodb/core/storage/replacer"
	"go.uber.org/zap"
)

// ErrBufferPoolFull is returned when every frame is pinned and none can be
// evicted to satisfy a NewPage or FetchPage request.
var ErrBufferPoolFull = fmt.Errorf("buffer pool is full and no pages can be evicted")

// Manager owns pool_size frames and mediates all disk traffic through a
// single mutex: correctness and simplicity first. Finer-grained latching of
// the pool's own bookkeeping is left to future work.
type Manager struct {
	mu sync.Mutex

	disk *disk.Manager
	log  *zap.Logger

	poolSize int
	frames   []*page.Page
	freeList []int // frame indices not currently holding a resident page
	pageTbl  *hashtable.HashTable[page.ID, int]
	replacer *replacer.LRUKReplacer

	metrics Metrics
}

// Metrics are optional counters the caller can wire to an observability
// backend (see internal/metrics); the zero value means "don't record".
type Metrics struct {
	OnHit   func()
	OnMiss  func()
	OnEvict func()
	OnFlush func()
}

func (m Metrics) hit() {
	if m.OnHit != nil {
		m.OnHit()
	}
}
func (m Metrics) miss() {
	if m.OnMiss != nil {
		m.OnMiss()
	}
}
func (m Metrics) evict() {
	if m.OnEvict != nil {
		m.OnEvict()
	}
}
func (m Metrics) flush() {
	if m.OnFlush != nil {
		m.OnFlush()
	}
}

// NewManager constructs a buffer pool of poolSize frames, tracking the last
// replacerK accesses per frame for LRU-K eviction.
func NewManager(poolSize, replacerK int, dm *disk.Manager, log *zap.Logger, metrics Metrics) *Manager {
	bp := &Manager{
		disk:     dm,
		log:      log,
		poolSize: poolSize,
		frames:   make([]*page.Page, poolSize),
		pageTbl:  hashtable.New[page.ID, int](func(id page.ID) uint64 { return uint64(uint32(id)) }),
		replacer: replacer.NewLRUKReplacer(poolSize, replacerK, log),
		metrics:  metrics,
	}
	for i := 0; i < poolSize; i++ {
		bp.frames[i] = page.New(page.Invalid, dm.GetPageSize())
		bp.freeList = append(bp.freeList, i)
	}
	return bp
}

// GetPageSize returns the fixed page size backing every frame.
func (bp *Manager) GetPageSize() int { return bp.disk.GetPageSize() }

// grabFrameLocked returns a frame index ready to hold a new page identity:
// either one from the free list, or one evicted via the replacer (flushing
// it first if dirty). Must be called with bp.mu held.
func (bp *Manager) grabFrameLocked() (int, error) {
	if n := len(bp.freeList); n > 0 {
		idx := bp.freeList[n-1]
		bp.freeList = bp.freeList[:n-1]
		return idx, nil
	}

	frameIdx, ok := bp.replacer.Evict()
	if !ok {
		return 0, ErrBufferPoolFull
	}
	bp.metrics.evict()
	victim := bp.frames[frameIdx]
	if victim.IsDirty() && victim.GetPageID() != page.Invalid {
		if err := bp.disk.WritePage(victim.GetPageID(), victim.GetData()); err != nil {
			return 0, fmt.Errorf("flushing victim page %d: %w", victim.GetPageID(), err)
		}
		victim.ClearDirty()
	}
	if victim.GetPageID() != page.Invalid {
		bp.pageTbl.Remove(victim.GetPageID())
	}
	victim.Reset()
	return frameIdx, nil
}

// NewPage allocates a fresh page id and pins it into a frame. Returns
// (nil, Invalid) iff every frame is pinned.
func (bp *Manager) NewPage() (*page.Page, page.ID) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	frameIdx, err := bp.grabFrameLocked()
	if err != nil {
		if bp.log != nil {
			bp.log.Warn("buffer pool full, cannot allocate new page")
		}
		return nil, page.Invalid
	}

	id, err := bp.disk.AllocatePage()
	if err != nil {
		bp.freeList = append(bp.freeList, frameIdx)
		if bp.log != nil {
			bp.log.Error("failed to allocate page on disk", zap.Error(err))
		}
		return nil, page.Invalid
	}

	p := bp.frames[frameIdx]
	p.SetPageID(id)
	p.SetPinCount(1)
	bp.pageTbl.Insert(id, frameIdx)
	bp.replacer.RecordAccess(frameIdx)
	bp.replacer.SetEvictable(frameIdx, false)
	return p, id
}

// FetchPage returns the page for id, pinning it. If not resident it is
// read from disk into a free or evicted frame. Returns nil if the pool is
// full of pinned frames or the disk read fails.
func (bp *Manager) FetchPage(id page.ID) *page.Page {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if frameIdx, ok := bp.pageTbl.Find(id); ok {
		p := bp.frames[frameIdx]
		p.Pin()
		bp.replacer.RecordAccess(frameIdx)
		bp.replacer.SetEvictable(frameIdx, false)
		bp.metrics.hit()
		return p
	}
	bp.metrics.miss()

	frameIdx, err := bp.grabFrameLocked()
	if err != nil {
		if bp.log != nil {
			bp.log.Warn("buffer pool full, cannot fetch page", zap.Int32("page_id", int32(id)))
		}
		return nil
	}

	p := bp.frames[frameIdx]
	if err := bp.disk.ReadPage(id, p.GetData()); err != nil {
		bp.freeList = append(bp.freeList, frameIdx)
		if bp.log != nil {
			bp.log.Error("failed to read page from disk", zap.Int32("page_id", int32(id)), zap.Error(err))
		}
		return nil
	}
	p.SetPageID(id)
	p.SetPinCount(1)
	bp.pageTbl.Insert(id, frameIdx)
	bp.replacer.RecordAccess(frameIdx)
	bp.replacer.SetEvictable(frameIdx, false)
	return p
}

// UnpinPage decrements id's pin count. isDirty, if true, sticks the dirty
// bit (it can never be cleared by passing false here). Once the pin count
// reaches zero the frame becomes evictable. Returns false if the page is
// not resident.
func (bp *Manager) UnpinPage(id page.ID, isDirty bool) bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	frameIdx, ok := bp.pageTbl.Find(id)
	if !ok {
		return false
	}
	p := bp.frames[frameIdx]
	if p.GetPinCount() == 0 {
		return false
	}
	p.Unpin()
	if isDirty {
		p.SetDirty(true)
	}
	if p.GetPinCount() == 0 {
		bp.replacer.SetEvictable(frameIdx, true)
	}
	return true
}

// FlushPage writes id's page to disk unconditionally if resident, clearing
// its dirty bit. Returns false iff not resident.
func (bp *Manager) FlushPage(id page.ID) bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	frameIdx, ok := bp.pageTbl.Find(id)
	if !ok {
		return false
	}
	p := bp.frames[frameIdx]
	if err := bp.disk.WritePage(id, p.GetData()); err != nil {
		if bp.log != nil {
			bp.log.Error("failed to flush page", zap.Int32("page_id", int32(id)), zap.Error(err))
		}
		return false
	}
	p.ClearDirty()
	bp.metrics.flush()
	return true
}

// FlushAll flushes every resident, dirty frame.
func (bp *Manager) FlushAll() {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	for _, p := range bp.frames {
		if p.GetPageID() != page.Invalid && p.IsDirty() {
			if err := bp.disk.WritePage(p.GetPageID(), p.GetData()); err != nil {
				if bp.log != nil {
					bp.log.Error("failed to flush page during FlushAll", zap.Int32("page_id", int32(p.GetPageID())), zap.Error(err))
				}
				continue
			}
			p.ClearDirty()
			bp.metrics.flush()
		}
	}
	_ = bp.disk.Sync()
}

// DeletePage frees a page's frame and informs the disk manager the page id
// may be reused. Returns true if the page was not resident (trivially
// satisfied) or was resident, unpinned, and successfully evicted. Returns
// false if the page is resident and still pinned.
func (bp *Manager) DeletePage(id page.ID) bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	frameIdx, ok := bp.pageTbl.Find(id)
	if !ok {
		return true
	}
	p := bp.frames[frameIdx]
	if p.GetPinCount() > 0 {
		return false
	}
	bp.replacer.SetEvictable(frameIdx, true)
	bp.replacer.Remove(frameIdx)
	bp.pageTbl.Remove(id)
	p.Reset()
	bp.freeList = append(bp.freeList, frameIdx)
	_ = bp.disk.DeallocatePage(id)
	return true
}
