// Package page defines the fixed-size, disk-resident page format shared by
// the buffer pool and the B+ tree. A Page is a raw byte buffer plus the
// bookkeeping (pin count, dirty flag, latch) the buffer pool needs to decide
// when it is safe to evict or reuse a frame.
package page

import (
	"sync"
	"time"
)

// ID identifies a page on disk. It is a 32-bit signed integer; Invalid (-1)
// is reserved and never allocated.
type ID int32

// Invalid is the reserved page identifier meaning "no page".
const Invalid ID = -1

// HeaderPageID is the well-known page holding the index-name -> root-page-id
// directory, always the first page of the file.
const HeaderPageID ID = 0

// DefaultPageSize is the default fixed page size in bytes.
const DefaultPageSize = 4096

// Page is an in-memory copy of one disk page plus the metadata the buffer
// pool uses to manage its lifetime. Exactly one Page struct backs a given
// frame for the lifetime of the buffer pool; its identity (which page id it
// represents) changes across fetch/evict cycles.
type Page struct {
	id        ID
	data      []byte
	pinCount  uint32
	isDirty   bool
	updatedAt time.Time

	// latch protects the in-memory contents of this specific page and
	// implements the crab-latching protocol used by the B+ tree. It is
	// independent of the buffer pool's own mutex, which only protects the
	// page table / free list / replacer bookkeeping.
	latch sync.RWMutex
}

// New allocates a Page frame of the given size. The frame is reused across
// many page identities over its lifetime; callers must call Reset before
// repurposing it for a different page id.
func New(id ID, size int) *Page {
	return &Page{
		id:   id,
		data: make([]byte, size),
	}
}

// Reset clears a frame's identity and contents so it can be reused for a
// different page. Pin count and dirty flag are cleared unconditionally —
// Reset is only called by the buffer pool once a frame has been fully
// evicted (flushed if dirty, removed from the page table).
func (p *Page) Reset() {
	p.id = Invalid
	p.pinCount = 0
	p.isDirty = false
	for i := range p.data {
		p.data[i] = 0
	}
}

func (p *Page) GetData() []byte             { return p.data }
func (p *Page) SetData(newData []byte) bool { copy(p.data, newData); return true }
func (p *Page) GetPageID() ID               { return p.id }
func (p *Page) SetPageID(id ID)             { p.id = id }
func (p *Page) IsDirty() bool                { return p.isDirty }

func (p *Page) Pin() { p.pinCount++ }

func (p *Page) Unpin() {
	if p.pinCount > 0 {
		p.pinCount--
	}
}

func (p *Page) GetPinCount() uint32         { return p.pinCount }
func (p *Page) SetPinCount(pinCount uint32) { p.pinCount = pinCount }

// SetDirty marks the page dirty. The dirty bit is sticky: once set it can
// only be cleared by ClearDirty, called by the buffer pool after a
// successful flush. A caller passing dirty=false here (e.g. an unpin that
// made no modification) must never undo a previously-sticky dirty bit.
func (p *Page) SetDirty(dirty bool) {
	if dirty {
		p.isDirty = true
	}
}

// ClearDirty clears the sticky dirty bit. Only the buffer pool's flush path
// should call this.
func (p *Page) ClearDirty() { p.isDirty = false }

func (p *Page) UpdatedAt(t time.Time)   { p.updatedAt = t }
func (p *Page) GetUpdatedAt() time.Time { return p.updatedAt }

// RLock acquires a read (shared) latch on the page.
func (p *Page) RLock() { p.latch.RLock() }

// RUnlock releases a read (shared) latch on the page.
func (p *Page) RUnlock() { p.latch.RUnlock() }

// Lock acquires a write (exclusive) latch on the page.
func (p *Page) Lock() { p.latch.Lock() }

// TryLock attempts to acquire a write latch without blocking.
func (p *Page) TryLock() bool { return p.latch.TryLock() }

// Unlock releases a write (exclusive) latch on the page.
func (p *Page) Unlock() { p.latch.Unlock() }
