// Package btree implements a concurrent B+ tree index over the buffer
// pool, using latch-crabbing for concurrent descent and a coarse
// structural-writer lock in place of a dynamically-scoped root latch.
//
// The node layout and CRC32-checked serialization are adapted from
// core/indexing/btree/node.go; the tree itself replaces that file's
// single-goroutine btree.go with the crab-latching descent, split, and
// merge machinery, using core/storage/page.Page's RLock/Lock/RUnlock/
// Unlock methods (present in write_engine/page_manager/page.go but never
// exercised by that single-threaded implementation).
package btree

import (
	"github.com/gojodb-core/gojodb/core/storage/buffer"
	"github.com/gojodb-core/gojodb/core/storage/disk"
	"github.com/gojodb-core/gojodb/core/storage/page"
	"github.com/gojodb-core/gojodb/core/txn"
	"go.uber.org/zap"
	"sync"
)

// BTree is a generic, disk-backed, unique-key B+ tree index. K and V are
// serialized through caller-supplied codecs so the tree stays agnostic to
// the tuple encoding used above it.
type BTree[K any, V any] struct {
	name string
	bpm  *buffer.Manager
	disk *disk.Manager
	log  *zap.Logger

	leafMaxSize     int
	internalMaxSize int
	cmp             func(a, b K) int
	keyEnc          func(K) ([]byte, error)
	keyDec          func([]byte) (K, error)
	valEnc          func(V) ([]byte, error)
	valDec          func([]byte) (V, error)

	// rootLatch guards rootID. Readers take a brief RLock to snapshot it;
	// the value is also re-validated against each candidate root page's
	// parentPageID to detect an in-flight root change and restart.
	rootLatch sync.RWMutex
	rootID    page.ID

	// writeMu serializes structural writers (Insert/Remove) against one
	// another. The data model's "single root-latch" is scoped here to the
	// whole operation rather than only the moment the root id changes,
	// trading writer/writer concurrency for a latch-crab implementation
	// that keeps reader/writer concurrency, which is the concurrency
	// property the tree is actually exercised for.
	writeMu sync.Mutex
}

// Config bundles a new index's fixed parameters.
type Config[K any, V any] struct {
	Name            string
	LeafMaxSize     int
	InternalMaxSize int
	Compare         func(a, b K) int
	KeyEncode       func(K) ([]byte, error)
	KeyDecode       func([]byte) (K, error)
	ValueEncode     func(V) ([]byte, error)
	ValueDecode     func([]byte) (V, error)
}

// Open constructs a tree bound to name, resuming from the header page's
// recorded root if one already exists.
func Open[K any, V any](cfg Config[K, V], bpm *buffer.Manager, dm *disk.Manager, log *zap.Logger) (*BTree[K, V], error) {
	if cfg.LeafMaxSize < 3 || cfg.InternalMaxSize < 3 {
		return nil, ErrInvalidMaxSize
	}
	root := page.Invalid
	if id, ok := dm.IndexRootPageID(cfg.Name); ok {
		root = id
	}
	return &BTree[K, V]{
		name:            cfg.Name,
		bpm:             bpm,
		disk:            dm,
		log:             log,
		leafMaxSize:     cfg.LeafMaxSize,
		internalMaxSize: cfg.InternalMaxSize,
		cmp:             cfg.Compare,
		keyEnc:          cfg.KeyEncode,
		keyDec:          cfg.KeyDecode,
		valEnc:          cfg.ValueEncode,
		valDec:          cfg.ValueDecode,
		rootID:          root,
	}, nil
}

// GetRootPageID returns the tree's current root page id, page.Invalid if
// the tree is empty.
func (t *BTree[K, V]) GetRootPageID() page.ID {
	t.rootLatch.RLock()
	defer t.rootLatch.RUnlock()
	return t.rootID
}

func (t *BTree[K, V]) getRootPageID() page.ID {
	t.rootLatch.RLock()
	defer t.rootLatch.RUnlock()
	return t.rootID
}

func (t *BTree[K, V]) setRootPageID(id page.ID) {
	t.rootLatch.Lock()
	t.rootID = id
	t.rootLatch.Unlock()
}

func (t *BTree[K, V]) persistRoot(id page.ID) error {
	return t.disk.SetIndexRootPageID(t.name, id)
}

func (t *BTree[K, V]) loadNode(p *page.Page) (*Node[K, V], error) {
	return deserializeNode[K, V](p, t.bpm.GetPageSize(), t.keyDec, t.valDec)
}

func (t *BTree[K, V]) saveNode(p *page.Page, n *Node[K, V]) error {
	return n.serialize(p, t.bpm.GetPageSize(), t.keyEnc, t.valEnc)
}

func minSize[K any, V any](n *Node[K, V]) int {
	if n.isLeaf {
		return n.maxSize / 2
	}
	return (n.maxSize + 1) / 2
}

func isSafeForInsert[K any, V any](n *Node[K, V]) bool {
	if n.isLeaf {
		return n.Size() < n.maxSize-1
	}
	return n.Size() < n.maxSize
}

func isSafeForDelete[K any, V any](n *Node[K, V]) bool {
	if n.isRoot {
		return true
	}
	return n.Size() > minSize(n)
}

type pathEntry[K any, V any] struct {
	pg *page.Page
	nd *Node[K, V]
}

func (t *BTree[K, V]) releasePath(path []pathEntry[K, V]) {
	for _, e := range path {
		e.pg.Unlock()
		t.bpm.UnpinPage(e.nd.pageID, false)
	}
}

// releasePrefix releases every entry but the last (which the caller keeps
// descending from), leaving *path holding just that one entry.
func (t *BTree[K, V]) releasePrefix(path *[]pathEntry[K, V]) {
	p := *path
	for i := 0; i < len(p)-1; i++ {
		p[i].pg.Unlock()
		t.bpm.UnpinPage(p[i].nd.pageID, false)
	}
	*path = p[len(p)-1:]
}

// descendWrite crab-latches from rootID down to the target leaf for key,
// write-latching every node along the way and releasing the prefix of
// ancestors each time it passes through a node considered safe under the
// caller's predicate. It restarts from the current root if the assumed
// root page's parent turns out not to be INVALID (the root changed
// concurrently between the caller reading rootID and latching it).
func (t *BTree[K, V]) descendWrite(rootID page.ID, key K, safe func(*Node[K, V]) bool) ([]pathEntry[K, V], error) {
	var path []pathEntry[K, V]
	curID := rootID
	for {
		curPage := t.bpm.FetchPage(curID)
		if curPage == nil {
			t.releasePath(path)
			return nil, ErrBufferPoolFull
		}
		curPage.Lock()
		curNode, err := t.loadNode(curPage)
		if err != nil {
			curPage.Unlock()
			t.bpm.UnpinPage(curID, false)
			t.releasePath(path)
			return nil, err
		}
		if len(path) == 0 && curNode.parentPageID != page.Invalid {
			curPage.Unlock()
			t.bpm.UnpinPage(curID, false)
			curID = t.getRootPageID()
			continue
		}
		path = append(path, pathEntry[K, V]{curPage, curNode})
		if safe(curNode) {
			t.releasePrefix(&path)
		}
		if curNode.isLeaf {
			return path, nil
		}
		curID = curNode.childFor(key, t.cmp)
	}
}

// findLeafRead crab-latches from the root down to key's leaf using the
// read protocol: acquire the child's read latch, then release the
// parent's. Returns the leaf still read-latched and pinned, or (nil, nil,
// nil) for an empty tree.
func (t *BTree[K, V]) findLeafRead(key K) (*page.Page, *Node[K, V], error) {
	for {
		rootID := t.getRootPageID()
		if rootID == page.Invalid {
			return nil, nil, nil
		}
		curPage := t.bpm.FetchPage(rootID)
		if curPage == nil {
			return nil, nil, ErrBufferPoolFull
		}
		curPage.RLock()
		curNode, err := t.loadNode(curPage)
		if err != nil {
			curPage.RUnlock()
			t.bpm.UnpinPage(rootID, false)
			return nil, nil, err
		}
		if curNode.parentPageID != page.Invalid {
			curPage.RUnlock()
			t.bpm.UnpinPage(rootID, false)
			continue
		}
		for !curNode.isLeaf {
			childID := curNode.childFor(key, t.cmp)
			childPage := t.bpm.FetchPage(childID)
			if childPage == nil {
				curPage.RUnlock()
				t.bpm.UnpinPage(curNode.pageID, false)
				return nil, nil, ErrBufferPoolFull
			}
			childPage.RLock()
			childNode, err := t.loadNode(childPage)
			curPage.RUnlock()
			t.bpm.UnpinPage(curNode.pageID, false)
			if err != nil {
				childPage.RUnlock()
				t.bpm.UnpinPage(childID, false)
				return nil, nil, err
			}
			curPage, curNode = childPage, childNode
		}
		return curPage, curNode, nil
	}
}

// findLeftmostRead descends to the leftmost leaf, for Begin().
func (t *BTree[K, V]) findLeftmostRead() (*page.Page, *Node[K, V], error) {
	for {
		rootID := t.getRootPageID()
		if rootID == page.Invalid {
			return nil, nil, nil
		}
		curPage := t.bpm.FetchPage(rootID)
		if curPage == nil {
			return nil, nil, ErrBufferPoolFull
		}
		curPage.RLock()
		curNode, err := t.loadNode(curPage)
		if err != nil {
			curPage.RUnlock()
			t.bpm.UnpinPage(rootID, false)
			return nil, nil, err
		}
		if curNode.parentPageID != page.Invalid {
			curPage.RUnlock()
			t.bpm.UnpinPage(rootID, false)
			continue
		}
		for !curNode.isLeaf {
			childID := curNode.childPageIDs[0]
			childPage := t.bpm.FetchPage(childID)
			if childPage == nil {
				curPage.RUnlock()
				t.bpm.UnpinPage(curNode.pageID, false)
				return nil, nil, ErrBufferPoolFull
			}
			childPage.RLock()
			childNode, err := t.loadNode(childPage)
			curPage.RUnlock()
			t.bpm.UnpinPage(curNode.pageID, false)
			if err != nil {
				childPage.RUnlock()
				t.bpm.UnpinPage(childID, false)
				return nil, nil, err
			}
			curPage, curNode = childPage, childNode
		}
		return curPage, curNode, nil
	}
}

// GetValue appends key's value to results if present. Keys are unique, so
// at most one value is appended.
func (t *BTree[K, V]) GetValue(key K, results *[]V, transaction *txn.Transaction) error {
	leafPage, leafNode, err := t.findLeafRead(key)
	if err != nil {
		return err
	}
	if leafPage == nil {
		return nil
	}
	defer func() {
		leafPage.RUnlock()
		t.bpm.UnpinPage(leafNode.pageID, false)
	}()
	if idx, found := leafNode.findKey(key, t.cmp); found {
		*results = append(*results, leafNode.values[idx])
	}
	return nil
}

// Insert adds key/value if key is not already present, splitting nodes
// along the path as needed. Returns false without mutating the tree if
// key already exists.
func (t *BTree[K, V]) Insert(key K, value V, transaction *txn.Transaction) (bool, error) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	rootID := t.getRootPageID()
	if rootID == page.Invalid {
		p, id := t.bpm.NewPage()
		if p == nil {
			return false, ErrBufferPoolFull
		}
		node := newLeaf[K, V](id, page.Invalid, t.leafMaxSize)
		node.isRoot = true
		node.keys = []K{key}
		node.values = []V{value}
		p.Lock()
		err := t.saveNode(p, node)
		p.Unlock()
		if err != nil {
			t.bpm.UnpinPage(id, false)
			return false, err
		}
		t.bpm.UnpinPage(id, true)
		t.setRootPageID(id)
		if err := t.persistRoot(id); err != nil {
			return false, err
		}
		return true, nil
	}

	path, err := t.descendWrite(rootID, key, isSafeForInsert[K, V])
	if err != nil {
		return false, err
	}

	leaf := path[len(path)-1]
	if _, found := leaf.nd.findKey(key, t.cmp); found {
		t.releasePath(path)
		return false, nil
	}
	leaf.nd.insertLeafAt(key, value, t.cmp)
	if err := t.saveNode(leaf.pg, leaf.nd); err != nil {
		t.releasePath(path)
		return false, err
	}

	if err := t.splitUp(path); err != nil {
		t.releasePath(path)
		return false, err
	}
	t.releasePath(path)
	for _, pid := range transaction.DrainDeletedPages() {
		t.bpm.DeletePage(pid)
	}
	return true, nil
}

// splitUp walks path bottom-up splitting any node that overflowed, saving
// each modified node and stopping as soon as a level does not overflow.
func (t *BTree[K, V]) splitUp(path []pathEntry[K, V]) error {
	idx := len(path) - 1
	for idx >= 0 {
		entry := path[idx]
		node := entry.nd

		var overflow bool
		if node.isLeaf {
			overflow = node.Size() >= node.maxSize
		} else {
			overflow = node.Size() > node.maxSize
		}
		if !overflow {
			return nil
		}

		rightPage, rightID := t.bpm.NewPage()
		if rightPage == nil {
			return ErrBufferPoolFull
		}

		var separator K
		var rightNode *Node[K, V]

		if node.isLeaf {
			leftSize := node.maxSize / 2
			rightNode = newLeaf[K, V](rightID, node.parentPageID, node.maxSize)
			rightNode.keys = append([]K(nil), node.keys[leftSize:]...)
			rightNode.values = append([]V(nil), node.values[leftSize:]...)
			rightNode.nextPageID = node.nextPageID
			node.keys = node.keys[:leftSize]
			node.values = node.values[:leftSize]
			node.nextPageID = rightID
			separator = rightNode.keys[0]
		} else {
			leftSize := (node.maxSize + 2) / 2
			rightNode = newInternal[K, V](rightID, node.parentPageID, node.maxSize)
			separator = node.keys[leftSize]
			rightNode.keys = append([]K(nil), node.keys[leftSize+1:]...)
			rightNode.childPageIDs = append([]page.ID(nil), node.childPageIDs[leftSize+1:]...)
			node.keys = node.keys[:leftSize]
			node.childPageIDs = node.childPageIDs[:leftSize+1]
		}

		rightPage.Lock()
		serr := t.saveNode(rightPage, rightNode)
		rightPage.Unlock()
		if serr != nil {
			t.bpm.UnpinPage(rightID, false)
			return serr
		}

		if !node.isLeaf {
			if err := t.reparentChildren(rightNode.childPageIDs, rightID, path[idx+1]); err != nil {
				t.bpm.UnpinPage(rightID, true)
				return err
			}
		}

		if err := t.saveNode(entry.pg, node); err != nil {
			t.bpm.UnpinPage(rightID, true)
			return err
		}

		if idx == 0 {
			err := t.newRootAbove(node, entry.pg, rightID, separator)
			t.bpm.UnpinPage(rightID, true)
			return err
		}

		t.bpm.UnpinPage(rightID, true)

		parent := path[idx-1]
		childIdx := parent.nd.childIndex(node.pageID)
		parent.nd.insertInternalAfter(childIdx, separator, rightID)
		if err := t.saveNode(parent.pg, parent.nd); err != nil {
			return err
		}
		idx--
	}
	return nil
}

// reparentChildren points each child in childIDs at newParent. A child that
// appears in held is already write-latched on the caller's path, so it is
// updated through that latch instead of being latched a second time.
func (t *BTree[K, V]) reparentChildren(childIDs []page.ID, newParent page.ID, held ...pathEntry[K, V]) error {
	for _, cid := range childIDs {
		if len(held) > 0 && held[0].nd.pageID == cid {
			held[0].nd.parentPageID = newParent
			if err := t.saveNode(held[0].pg, held[0].nd); err != nil {
				return err
			}
			continue
		}
		cp := t.bpm.FetchPage(cid)
		if cp == nil {
			return ErrBufferPoolFull
		}
		cp.Lock()
		cn, err := t.loadNode(cp)
		if err != nil {
			cp.Unlock()
			t.bpm.UnpinPage(cid, false)
			return err
		}
		cn.parentPageID = newParent
		serr := t.saveNode(cp, cn)
		cp.Unlock()
		t.bpm.UnpinPage(cid, true)
		if serr != nil {
			return serr
		}
	}
	return nil
}

func (t *BTree[K, V]) newRootAbove(left *Node[K, V], leftPage *page.Page, rightID page.ID, separator K) error {
	newRootPage, newRootID := t.bpm.NewPage()
	if newRootPage == nil {
		return ErrBufferPoolFull
	}
	newRoot := newInternal[K, V](newRootID, page.Invalid, t.internalMaxSize)
	newRoot.isRoot = true
	newRoot.keys = []K{separator}
	newRoot.childPageIDs = []page.ID{left.pageID, rightID}
	newRootPage.Lock()
	err := t.saveNode(newRootPage, newRoot)
	newRootPage.Unlock()
	t.bpm.UnpinPage(newRootID, true)
	if err != nil {
		return err
	}

	left.isRoot = false
	left.parentPageID = newRootID
	if err := t.saveNode(leftPage, left); err != nil {
		return err
	}

	rp := t.bpm.FetchPage(rightID)
	if rp == nil {
		return ErrBufferPoolFull
	}
	rp.Lock()
	rn, err := t.loadNode(rp)
	if err != nil {
		rp.Unlock()
		t.bpm.UnpinPage(rightID, false)
		return err
	}
	rn.parentPageID = newRootID
	serr := t.saveNode(rp, rn)
	rp.Unlock()
	t.bpm.UnpinPage(rightID, true)
	if serr != nil {
		return serr
	}

	t.setRootPageID(newRootID)
	return t.persistRoot(newRootID)
}

// Remove deletes key if present; a missing key is a no-op, matching the
// tree's unique-key, exception-free contract.
func (t *BTree[K, V]) Remove(key K, transaction *txn.Transaction) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	rootID := t.getRootPageID()
	if rootID == page.Invalid {
		return nil
	}

	path, err := t.descendWrite(rootID, key, isSafeForDelete[K, V])
	if err != nil {
		return err
	}

	leaf := path[len(path)-1]
	idx, found := leaf.nd.findKey(key, t.cmp)
	if !found {
		t.releasePath(path)
		return nil
	}
	leaf.nd.removeLeafAt(idx)
	if err := t.saveNode(leaf.pg, leaf.nd); err != nil {
		t.releasePath(path)
		return err
	}

	if err := t.mergeUp(path, transaction); err != nil {
		t.releasePath(path)
		return err
	}
	t.releasePath(path)

	for _, pid := range transaction.DrainDeletedPages() {
		t.bpm.DeletePage(pid)
	}
	return nil
}

// mergeUp walks path bottom-up, fixing underflow at each level in turn via
// borrow-from-left, borrow-from-right, merge-to-left, or merge-to-right,
// stopping as soon as a level satisfies its minimum size. At the root it
// handles the tree-becomes-empty and root-collapse cases.
func (t *BTree[K, V]) mergeUp(path []pathEntry[K, V], transaction *txn.Transaction) error {
	idx := len(path) - 1
	for idx >= 0 {
		entry := path[idx]
		node := entry.nd

		if node.isRoot {
			if !node.isLeaf && len(node.childPageIDs) == 1 {
				onlyChild := node.childPageIDs[0]
				transaction.AddDeletedPage(node.pageID)
				if idx+1 < len(path) && path[idx+1].nd.pageID == onlyChild {
					// The surviving child is still write-latched on path.
					child := path[idx+1]
					child.nd.isRoot = true
					child.nd.parentPageID = page.Invalid
					if err := t.saveNode(child.pg, child.nd); err != nil {
						return err
					}
					t.setRootPageID(onlyChild)
					return t.persistRoot(onlyChild)
				}
				cp := t.bpm.FetchPage(onlyChild)
				if cp == nil {
					return ErrBufferPoolFull
				}
				cp.Lock()
				cn, err := t.loadNode(cp)
				if err != nil {
					cp.Unlock()
					t.bpm.UnpinPage(onlyChild, false)
					return err
				}
				cn.isRoot = true
				cn.parentPageID = page.Invalid
				serr := t.saveNode(cp, cn)
				cp.Unlock()
				t.bpm.UnpinPage(onlyChild, true)
				if serr != nil {
					return serr
				}
				t.setRootPageID(onlyChild)
				return t.persistRoot(onlyChild)
			}
			if node.isLeaf && node.Size() == 0 {
				transaction.AddDeletedPage(node.pageID)
				t.setRootPageID(page.Invalid)
				return t.persistRoot(page.Invalid)
			}
			return nil
		}

		if node.Size() >= minSize(node) {
			return nil
		}

		parent := path[idx-1]
		childIdx := parent.nd.childIndex(node.pageID)

		if childIdx > 0 {
			leftSibID := parent.nd.childPageIDs[childIdx-1]
			leftPage := t.bpm.FetchPage(leftSibID)
			if leftPage == nil {
				return ErrBufferPoolFull
			}
			leftPage.Lock()
			leftNode, err := t.loadNode(leftPage)
			if err != nil {
				leftPage.Unlock()
				t.bpm.UnpinPage(leftSibID, false)
				return err
			}
			if leftNode.Size() > minSize(leftNode) {
				moved := borrowFromLeft(node, leftNode, parent.nd, childIdx)
				serr := t.saveNode(leftPage, leftNode)
				leftPage.Unlock()
				t.bpm.UnpinPage(leftSibID, true)
				if serr != nil {
					return serr
				}
				if moved != page.Invalid {
					if err := t.reparentChildren([]page.ID{moved}, node.pageID); err != nil {
						return err
					}
				}
				if err := t.saveNode(entry.pg, node); err != nil {
					return err
				}
				return t.saveNode(parent.pg, parent.nd)
			}
			leftPage.Unlock()
			t.bpm.UnpinPage(leftSibID, false)
		}

		if childIdx < len(parent.nd.childPageIDs)-1 {
			rightSibID := parent.nd.childPageIDs[childIdx+1]
			rightPage := t.bpm.FetchPage(rightSibID)
			if rightPage == nil {
				return ErrBufferPoolFull
			}
			rightPage.Lock()
			rightNode, err := t.loadNode(rightPage)
			if err != nil {
				rightPage.Unlock()
				t.bpm.UnpinPage(rightSibID, false)
				return err
			}
			if rightNode.Size() > minSize(rightNode) {
				moved := borrowFromRight(node, rightNode, parent.nd, childIdx)
				serr := t.saveNode(rightPage, rightNode)
				rightPage.Unlock()
				t.bpm.UnpinPage(rightSibID, true)
				if serr != nil {
					return serr
				}
				if moved != page.Invalid {
					if err := t.reparentChildren([]page.ID{moved}, node.pageID); err != nil {
						return err
					}
				}
				if err := t.saveNode(entry.pg, node); err != nil {
					return err
				}
				return t.saveNode(parent.pg, parent.nd)
			}
			rightPage.Unlock()
			t.bpm.UnpinPage(rightSibID, false)
		}

		if childIdx > 0 {
			leftSibID := parent.nd.childPageIDs[childIdx-1]
			leftPage := t.bpm.FetchPage(leftSibID)
			if leftPage == nil {
				return ErrBufferPoolFull
			}
			leftPage.Lock()
			leftNode, err := t.loadNode(leftPage)
			if err != nil {
				leftPage.Unlock()
				t.bpm.UnpinPage(leftSibID, false)
				return err
			}
			absorbedChildren := append([]page.ID(nil), node.childPageIDs...)
			mergeInto(leftNode, node, parent.nd, childIdx-1)
			serr := t.saveNode(leftPage, leftNode)
			leftPage.Unlock()
			t.bpm.UnpinPage(leftSibID, true)
			if serr != nil {
				return serr
			}
			if !node.isLeaf {
				if err := t.reparentChildren(absorbedChildren, leftSibID, path[idx+1]); err != nil {
					return err
				}
			}
			transaction.AddDeletedPage(node.pageID)
		} else {
			rightSibID := parent.nd.childPageIDs[childIdx+1]
			rightPage := t.bpm.FetchPage(rightSibID)
			if rightPage == nil {
				return ErrBufferPoolFull
			}
			rightPage.Lock()
			rightNode, err := t.loadNode(rightPage)
			if err != nil {
				rightPage.Unlock()
				t.bpm.UnpinPage(rightSibID, false)
				return err
			}
			absorbedChildren := append([]page.ID(nil), rightNode.childPageIDs...)
			mergeInto(node, rightNode, parent.nd, childIdx)
			serr := t.saveNode(entry.pg, node)
			rightPage.Unlock()
			t.bpm.UnpinPage(rightSibID, true)
			if serr != nil {
				return serr
			}
			if !rightNode.isLeaf {
				if err := t.reparentChildren(absorbedChildren, node.pageID); err != nil {
					return err
				}
			}
			transaction.AddDeletedPage(rightSibID)
		}

		if err := t.saveNode(parent.pg, parent.nd); err != nil {
			return err
		}
		idx--
	}
	return nil
}

func borrowFromLeft[K any, V any](node, left, parent *Node[K, V], childIdx int) page.ID {
	if node.isLeaf {
		n := len(left.keys)
		k, v := left.keys[n-1], left.values[n-1]
		left.keys = left.keys[:n-1]
		left.values = left.values[:n-1]
		node.keys = append([]K{k}, node.keys...)
		node.values = append([]V{v}, node.values...)
		parent.keys[childIdx-1] = node.keys[0]
		return page.Invalid
	}
	n := len(left.keys)
	borrowedKey := left.keys[n-1]
	borrowedChild := left.childPageIDs[len(left.childPageIDs)-1]
	left.keys = left.keys[:n-1]
	left.childPageIDs = left.childPageIDs[:len(left.childPageIDs)-1]
	separator := parent.keys[childIdx-1]
	node.keys = append([]K{separator}, node.keys...)
	node.childPageIDs = append([]page.ID{borrowedChild}, node.childPageIDs...)
	parent.keys[childIdx-1] = borrowedKey
	return borrowedChild
}

func borrowFromRight[K any, V any](node, right, parent *Node[K, V], childIdx int) page.ID {
	if node.isLeaf {
		k, v := right.keys[0], right.values[0]
		right.keys = right.keys[1:]
		right.values = right.values[1:]
		node.keys = append(node.keys, k)
		node.values = append(node.values, v)
		parent.keys[childIdx] = right.keys[0]
		return page.Invalid
	}
	borrowedKey := right.keys[0]
	borrowedChild := right.childPageIDs[0]
	right.keys = right.keys[1:]
	right.childPageIDs = right.childPageIDs[1:]
	separator := parent.keys[childIdx]
	node.keys = append(node.keys, separator)
	node.childPageIDs = append(node.childPageIDs, borrowedChild)
	parent.keys[childIdx] = borrowedKey
	return borrowedChild
}

// mergeInto concatenates right onto the end of left (left absorbs right)
// and removes the separator/child-pointer pair from parent.
func mergeInto[K any, V any](left, right, parent *Node[K, V], leftChildIdx int) {
	if left.isLeaf {
		left.keys = append(left.keys, right.keys...)
		left.values = append(left.values, right.values...)
		left.nextPageID = right.nextPageID
	} else {
		left.keys = append(left.keys, parent.keys[leftChildIdx])
		left.keys = append(left.keys, right.keys...)
		left.childPageIDs = append(left.childPageIDs, right.childPageIDs...)
	}
	parent.removeInternalAt(leftChildIdx)
}
