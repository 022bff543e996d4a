// Package replacer implements the LRU-K frame replacement policy used by
// the buffer pool to choose an eviction victim. It is deliberately
// independent of the buffer pool's own page table / free list —
// core/write_engine/memtable/bufferpoolmanager.go wired LRU bookkeeping
// (container/list + map) straight into BufferPoolManager; this module
// pulls that concern out into its own component and generalizes
// single-access LRU into K-distance tracking.
package replacer

import (
	"sync"

	"go.uber.org/zap"
)

// history is the bounded ring of the last K access timestamps for one
// frame, plus whether the frame is currently evictable.
type history struct {
	accesses  []int64 // ring buffer, oldest first, capped at k
	evictable bool
}

// backwardKDistance returns the distance since the K-th-most-recent
// access, or 1<<62 if fewer than k accesses have been recorded
// (meaning the frame has infinite backward k-distance and is preferred for
// eviction).
func (h *history) backwardKDistance(now int64, k int) int64 {
	if len(h.accesses) < k {
		return int64(1) << 62 // effectively +Inf, without importing math for one constant
	}
	kth := h.accesses[len(h.accesses)-k]
	return now - kth
}

func (h *history) earliestAccess() int64 {
	if len(h.accesses) == 0 {
		return int64(1) << 62
	}
	return h.accesses[0]
}

// LRUKReplacer selects eviction victims among the frames marked evictable,
// preferring the one with the largest backward K-distance; frames with
// fewer than K recorded accesses (infinite distance) are preferred over
// any frame with a finite distance, and ties among infinite-distance
// frames are broken by the oldest first-access timestamp.
type LRUKReplacer struct {
	mu        sync.Mutex
	k         int
	clock     int64 // monotonic counter, incremented on every access
	frames    map[int]*history
	evictable int
	log       *zap.Logger
}

// NewLRUKReplacer constructs a replacer tracking the last k accesses per
// frame across numFrames frame slots.
func NewLRUKReplacer(numFrames, k int, log *zap.Logger) *LRUKReplacer {
	return &LRUKReplacer{
		k:      k,
		frames: make(map[int]*history, numFrames),
		log:    log,
	}
}

// RecordAccess appends the current logical timestamp to frame id's history,
// retaining only the most recent K entries.
func (r *LRUKReplacer) RecordAccess(frameID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock++
	h, ok := r.frames[frameID]
	if !ok {
		h = &history{}
		r.frames[frameID] = h
	}
	h.accesses = append(h.accesses, r.clock)
	if len(h.accesses) > r.k {
		h.accesses = h.accesses[len(h.accesses)-r.k:]
	}
}

// SetEvictable flips a frame's evictability, adjusting the replacer's
// evictable-frame count. For a frame with no recorded history an empty,
// non-evictable record is created first and the flag is then applied to it
// as for any other frame.
func (r *LRUKReplacer) SetEvictable(frameID int, evictable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.frames[frameID]
	if !ok {
		h = &history{}
		r.frames[frameID] = h
	}
	if h.evictable == evictable {
		return
	}
	h.evictable = evictable
	if evictable {
		r.evictable++
	} else {
		r.evictable--
	}
}

// Size returns the number of currently evictable frames.
func (r *LRUKReplacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evictable
}

// Remove drops a frame's history entirely. The frame must currently be
// evictable; removing a pinned (non-evictable) frame is a contract
// violation and panics.
func (r *LRUKReplacer) Remove(frameID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.frames[frameID]
	if !ok {
		return
	}
	if !h.evictable {
		panic("replacer: Remove called on a non-evictable frame")
	}
	r.evictable--
	delete(r.frames, frameID)
}

// Evict picks the evictable frame with the largest backward K-distance,
// breaking ties by the oldest first-access timestamp. Frames with fewer
// than K recorded accesses are preferred over any with a finite distance.
// Returns (0, false) if no frame is evictable.
func (r *LRUKReplacer) Evict() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.evictable == 0 {
		return 0, false
	}
	var (
		victim    int
		found     bool
		bestDist  int64 = -1
		bestEarly int64
	)
	for id, h := range r.frames {
		if !h.evictable {
			continue
		}
		dist := h.backwardKDistance(r.clock, r.k)
		early := h.earliestAccess()
		switch {
		case !found:
			victim, bestDist, bestEarly, found = id, dist, early, true
		case dist > bestDist:
			victim, bestDist, bestEarly = id, dist, early
		case dist == bestDist && early < bestEarly:
			victim, bestEarly = id, early
		}
	}
	if !found {
		return 0, false
	}
	r.evictable--
	delete(r.frames, victim)
	return victim, true
}
