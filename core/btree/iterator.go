package btree

import "github.com/gojodb-core/gojodb/core/storage/page"

// Iterator is a forward-scan cursor over a leaf page id and an offset
// within it. It holds a read latch and a pin on its current leaf while
// positioned; advancing off the end of a leaf follows the next-leaf
// pointer chain. Concurrent structural modifications are not isolated
// against: an iterator may skip or re-observe entries if the tree is
// split or merged while the iterator is paused between calls. This is
// documented behavior, not a bug.
type Iterator[K any, V any] struct {
	tree   *BTree[K, V]
	leaf   *page.Page
	node   *Node[K, V]
	offset int
}

// Begin returns an iterator positioned at the first key in the tree.
func (t *BTree[K, V]) Begin() (*Iterator[K, V], error) {
	leafPage, leafNode, err := t.findLeftmostRead()
	if err != nil {
		return nil, err
	}
	return &Iterator[K, V]{tree: t, leaf: leafPage, node: leafNode, offset: 0}, nil
}

// BeginKey returns an iterator positioned at key, or at the first key
// greater than it if key is absent.
func (t *BTree[K, V]) BeginKey(key K) (*Iterator[K, V], error) {
	leafPage, leafNode, err := t.findLeafRead(key)
	if err != nil {
		return nil, err
	}
	if leafPage == nil {
		return &Iterator[K, V]{tree: t}, nil
	}
	idx, _ := leafNode.findKey(key, t.cmp)
	it := &Iterator[K, V]{tree: t, leaf: leafPage, node: leafNode, offset: idx}
	it.skipToValid()
	return it, nil
}

// End returns the canonical exhausted iterator (INVALID, 0).
func (t *BTree[K, V]) End() *Iterator[K, V] {
	return &Iterator[K, V]{tree: t}
}

// IsEnd reports whether the iterator has no more entries.
func (it *Iterator[K, V]) IsEnd() bool {
	return it.leaf == nil
}

// Key and Value return the entry at the iterator's current position.
// Calling them on an exhausted iterator panics, matching the documented
// contract that callers check IsEnd first.
func (it *Iterator[K, V]) Key() K {
	return it.node.keys[it.offset]
}

func (it *Iterator[K, V]) Value() V {
	return it.node.values[it.offset]
}

// skipToValid advances across exhausted leaves until offset points at a
// real entry or the iterator reaches end.
func (it *Iterator[K, V]) skipToValid() {
	for it.leaf != nil && it.offset >= it.node.Size() {
		next := it.node.nextPageID
		it.leaf.RUnlock()
		it.tree.bpm.UnpinPage(it.node.pageID, false)
		if next == page.Invalid {
			it.leaf = nil
			it.node = nil
			it.offset = 0
			return
		}
		nextPage := it.tree.bpm.FetchPage(next)
		if nextPage == nil {
			it.leaf = nil
			it.node = nil
			it.offset = 0
			return
		}
		nextPage.RLock()
		nextNode, err := it.tree.loadNode(nextPage)
		if err != nil {
			nextPage.RUnlock()
			it.tree.bpm.UnpinPage(next, false)
			it.leaf = nil
			it.node = nil
			it.offset = 0
			return
		}
		it.leaf = nextPage
		it.node = nextNode
		it.offset = 0
	}
}

// Next advances the iterator by one entry.
func (it *Iterator[K, V]) Next() {
	if it.leaf == nil {
		return
	}
	it.offset++
	it.skipToValid()
}

// Close releases the iterator's held latch and pin, if any. Callers that
// drain an iterator to IsEnd() need not call this; it is for early
// abandonment.
func (it *Iterator[K, V]) Close() {
	if it.leaf != nil {
		it.leaf.RUnlock()
		it.tree.bpm.UnpinPage(it.node.pageID, false)
		it.leaf = nil
		it.node = nil
	}
}
