// Node's serialize/deserialize pair and its trailing CRC32 checksum are
// adapted from core/indexing/btree/node.go, extended with the fields the
// data model requires beyond what that node carried: an explicit is-root
// discriminator, a max-size bound stored on the page itself (so a page
// read back after restart knows its own capacity without consulting a
// separate catalog), and a next-leaf pointer chain.
package btree

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/gojodb-core/gojodb/core/storage/page"
)

// Node is an in-memory, deserialized view of one B+ tree page. Leaves carry
// keys and values plus a next-leaf pointer; internal nodes carry keys and
// one more child page id than they have keys.
type Node[K any, V any] struct {
	pageID       page.ID
	parentPageID page.ID
	isLeaf       bool
	isRoot       bool
	maxSize      int

	keys         []K
	values       []V       // leaf only
	childPageIDs []page.ID // internal only, len(childPageIDs) == len(keys)+1
	nextPageID   page.ID   // leaf only, page.Invalid if none
}

// Size returns the node's current entry count: key/value pairs for a leaf,
// keys for an internal node (children are always one more).
func (n *Node[K, V]) Size() int { return len(n.keys) }

func newLeaf[K any, V any](id page.ID, parent page.ID, maxSize int) *Node[K, V] {
	return &Node[K, V]{
		pageID:       id,
		parentPageID: parent,
		isLeaf:       true,
		maxSize:      maxSize,
		nextPageID:   page.Invalid,
	}
}

func newInternal[K any, V any](id page.ID, parent page.ID, maxSize int) *Node[K, V] {
	return &Node[K, V]{
		pageID:       id,
		parentPageID: parent,
		isLeaf:       false,
		maxSize:      maxSize,
	}
}

// findKey returns the index of key within a leaf's sorted keys, and whether
// it was found.
func (n *Node[K, V]) findKey(key K, cmp func(K, K) int) (int, bool) {
	lo, hi := 0, len(n.keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if cmp(n.keys[mid], key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(n.keys) && cmp(n.keys[lo], key) == 0 {
		return lo, true
	}
	return lo, false
}

// childFor returns the child page id an internal node would descend into
// for key: the first child whose separator is strictly greater than key,
// or the last child if none are.
func (n *Node[K, V]) childFor(key K, cmp func(K, K) int) page.ID {
	i := 0
	for i < len(n.keys) && cmp(n.keys[i], key) <= 0 {
		i++
	}
	return n.childPageIDs[i]
}

// insertLeafAt inserts a key/value pair into a leaf at the sorted position.
func (n *Node[K, V]) insertLeafAt(key K, value V, cmp func(K, K) int) {
	idx, _ := n.findKey(key, cmp)
	n.keys = append(n.keys, key)
	copy(n.keys[idx+1:], n.keys[idx:])
	n.keys[idx] = key
	n.values = append(n.values, value)
	copy(n.values[idx+1:], n.values[idx:])
	n.values[idx] = value
}

// removeLeafAt removes the key/value pair at idx.
func (n *Node[K, V]) removeLeafAt(idx int) {
	n.keys = append(n.keys[:idx], n.keys[idx+1:]...)
	n.values = append(n.values[:idx], n.values[idx+1:]...)
}

// insertInternalAfter inserts separator/rightChild immediately after the
// child pointer at childIdx (the left sibling that just split).
func (n *Node[K, V]) insertInternalAfter(childIdx int, separator K, rightChild page.ID) {
	keyIdx := childIdx
	n.keys = append(n.keys, separator)
	copy(n.keys[keyIdx+1:], n.keys[keyIdx:])
	n.keys[keyIdx] = separator

	childPos := childIdx + 1
	n.childPageIDs = append(n.childPageIDs, page.Invalid)
	copy(n.childPageIDs[childPos+1:], n.childPageIDs[childPos:])
	n.childPageIDs[childPos] = rightChild
}

// childIndex returns the position of childID among this internal node's
// children.
func (n *Node[K, V]) childIndex(childID page.ID) int {
	for i, c := range n.childPageIDs {
		if c == childID {
			return i
		}
	}
	return -1
}

// removeInternalAt removes the key at keyIdx and the child pointer that
// follows it.
func (n *Node[K, V]) removeInternalAt(keyIdx int) {
	n.keys = append(n.keys[:keyIdx], n.keys[keyIdx+1:]...)
	n.childPageIDs = append(n.childPageIDs[:keyIdx+1], n.childPageIDs[keyIdx+2:]...)
}

// --- serialization ---

func (n *Node[K, V]) serialize(p *page.Page, pageSize int, keyEnc func(K) ([]byte, error), valEnc func(V) ([]byte, error)) error {
	buf := new(bytes.Buffer)

	var flags byte
	if n.isLeaf {
		flags |= 1 << 0
	}
	if n.isRoot {
		flags |= 1 << 1
	}
	binary.Write(buf, binary.LittleEndian, flags)
	binary.Write(buf, binary.LittleEndian, int32(n.parentPageID))
	binary.Write(buf, binary.LittleEndian, uint16(n.maxSize))
	binary.Write(buf, binary.LittleEndian, uint16(len(n.keys)))

	for _, k := range n.keys {
		kd, err := keyEnc(k)
		if err != nil {
			return fmt.Errorf("%w: key: %v", ErrSerialization, err)
		}
		binary.Write(buf, binary.LittleEndian, uint16(len(kd)))
		buf.Write(kd)
	}

	if n.isLeaf {
		for _, v := range n.values {
			vd, err := valEnc(v)
			if err != nil {
				return fmt.Errorf("%w: value: %v", ErrSerialization, err)
			}
			binary.Write(buf, binary.LittleEndian, uint16(len(vd)))
			buf.Write(vd)
		}
		binary.Write(buf, binary.LittleEndian, int32(n.nextPageID))
	} else {
		binary.Write(buf, binary.LittleEndian, uint16(len(n.childPageIDs)))
		for _, c := range n.childPageIDs {
			binary.Write(buf, binary.LittleEndian, int32(c))
		}
	}

	data := buf.Bytes()
	if len(data)+checksumSize > pageSize {
		return fmt.Errorf("%w: node payload %d bytes exceeds page size %d", ErrValueTooLargeForPage, len(data), pageSize)
	}
	out := p.GetData()
	copy(out, data)
	for i := len(data); i < pageSize-checksumSize; i++ {
		out[i] = 0
	}
	checksum := crc32.ChecksumIEEE(out[:pageSize-checksumSize])
	binary.LittleEndian.PutUint32(out[pageSize-checksumSize:], checksum)
	p.SetDirty(true)
	return nil
}

func deserializeNode[K any, V any](p *page.Page, pageSize int, keyDec func([]byte) (K, error), valDec func([]byte) (V, error)) (*Node[K, V], error) {
	data := p.GetData()
	stored := binary.LittleEndian.Uint32(data[pageSize-checksumSize:])
	calc := crc32.ChecksumIEEE(data[:pageSize-checksumSize])
	if stored != calc {
		return nil, fmt.Errorf("%w: stored=0x%x calculated=0x%x page=%d", ErrChecksumMismatch, stored, calc, p.GetPageID())
	}

	r := bytes.NewReader(data[:pageSize-checksumSize])
	n := &Node[K, V]{pageID: p.GetPageID()}

	var flags byte
	if err := binary.Read(r, binary.LittleEndian, &flags); err != nil {
		return nil, fmt.Errorf("%w: flags: %v", ErrDeserialization, err)
	}
	n.isLeaf = flags&(1<<0) != 0
	n.isRoot = flags&(1<<1) != 0

	var parent int32
	if err := binary.Read(r, binary.LittleEndian, &parent); err != nil {
		return nil, fmt.Errorf("%w: parent: %v", ErrDeserialization, err)
	}
	n.parentPageID = page.ID(parent)

	var maxSize uint16
	if err := binary.Read(r, binary.LittleEndian, &maxSize); err != nil {
		return nil, fmt.Errorf("%w: maxSize: %v", ErrDeserialization, err)
	}
	n.maxSize = int(maxSize)

	var numKeys uint16
	if err := binary.Read(r, binary.LittleEndian, &numKeys); err != nil {
		return nil, fmt.Errorf("%w: numKeys: %v", ErrDeserialization, err)
	}
	n.keys = make([]K, numKeys)
	for i := range n.keys {
		var l uint16
		if err := binary.Read(r, binary.LittleEndian, &l); err != nil {
			return nil, fmt.Errorf("%w: key length %d: %v", ErrDeserialization, i, err)
		}
		kd := make([]byte, l)
		if _, err := io.ReadFull(r, kd); err != nil {
			return nil, fmt.Errorf("%w: key data %d: %v", ErrDeserialization, i, err)
		}
		k, err := keyDec(kd)
		if err != nil {
			return nil, fmt.Errorf("%w: decoding key %d: %v", ErrDeserialization, i, err)
		}
		n.keys[i] = k
	}

	if n.isLeaf {
		n.values = make([]V, numKeys)
		for i := range n.values {
			var l uint16
			if err := binary.Read(r, binary.LittleEndian, &l); err != nil {
				return nil, fmt.Errorf("%w: value length %d: %v", ErrDeserialization, i, err)
			}
			vd := make([]byte, l)
			if _, err := io.ReadFull(r, vd); err != nil {
				return nil, fmt.Errorf("%w: value data %d: %v", ErrDeserialization, i, err)
			}
			v, err := valDec(vd)
			if err != nil {
				return nil, fmt.Errorf("%w: decoding value %d: %v", ErrDeserialization, i, err)
			}
			n.values[i] = v
		}
		var next int32
		if err := binary.Read(r, binary.LittleEndian, &next); err != nil {
			return nil, fmt.Errorf("%w: nextPageID: %v", ErrDeserialization, err)
		}
		n.nextPageID = page.ID(next)
		n.childPageIDs = nil
	} else {
		var numChildren uint16
		if err := binary.Read(r, binary.LittleEndian, &numChildren); err != nil {
			return nil, fmt.Errorf("%w: numChildren: %v", ErrDeserialization, err)
		}
		n.childPageIDs = make([]page.ID, numChildren)
		for i := range n.childPageIDs {
			var c int32
			if err := binary.Read(r, binary.LittleEndian, &c); err != nil {
				return nil, fmt.Errorf("%w: childPageID %d: %v", ErrDeserialization, i, err)
			}
			n.childPageIDs[i] = page.ID(c)
		}
		n.values = nil
	}
	return n, nil
}
