// Package btree implements a copy-on-write B+Tree keyed by opaque byte
// strings (document identifiers in practice). Nodes are plain page-sized
// byte slices; callers supply get/new/del callbacks bound to a pager
// read view or write session, so the tree itself never touches a file.
//
// Grounded on the teacher's pkg/btree/{node,btree,iterator}.go, generalized
// from fixed string keys/values to opaque identifier keys, overflow-aware
// leaf values, and sibling-linked leaves for cursor resumption.
package btree

import (
	"bytes"
	"encoding/binary"

	"github.com/nainya/dendrodb/pkg/pager"
)

const (
	BNODE_NODE = 1 // internal nodes without values
	BNODE_LEAF = 2 // leaf nodes with values
)

const (
	// HEADER covers the type/key-count pair plus the leaf sibling links.
	// Internal nodes carry the same fixed header but leave the link fields
	// zeroed; paying 16 bytes on every node keeps kvPos uniform across
	// both node types.
	HEADER             = 4 + 16
	BTREE_PAGE_SIZE    = pager.PageSize
	BTREE_MAX_KEY_SIZE = 1000 // headroom well beyond the 12-byte identifier keys actually stored
	BTREE_MAX_VAL_SIZE = 3000 // inline document bytes, or a tiny overflow reference

	prevOff = 4
	nextOff = 12
)

// BNode represents a B+Tree node as a byte slice.
type BNode []byte

func (node BNode) btype() uint16 {
	return binary.LittleEndian.Uint16(node[0:2])
}

func (node BNode) nkeys() uint16 {
	return binary.LittleEndian.Uint16(node[2:4])
}

func (node BNode) setHeader(btype uint16, nkeys uint16) {
	binary.LittleEndian.PutUint16(node[0:2], btype)
	binary.LittleEndian.PutUint16(node[2:4], nkeys)
}

// getPrev/getNext return the sibling leaf's page id, or
// pager.InvalidPageID at either end of the chain. Valid for leaf nodes
// only; internal nodes never populate these fields. Sibling links are a
// same-snapshot fast path: they are never rewritten on a neighboring
// node once it has been committed, so pkg/engine re-validates a saved
// cursor position by key before trusting one across a commit boundary.
func (node BNode) getPrev() pager.PageID {
	return pager.PageID(binary.LittleEndian.Uint64(node[prevOff:]))
}

func (node BNode) setPrev(id pager.PageID) {
	binary.LittleEndian.PutUint64(node[prevOff:], uint64(id))
}

func (node BNode) getNext() pager.PageID {
	return pager.PageID(binary.LittleEndian.Uint64(node[nextOff:]))
}

func (node BNode) setNext(id pager.PageID) {
	binary.LittleEndian.PutUint64(node[nextOff:], uint64(id))
}

// getPtr returns the child pointer at idx (internal nodes only).
func (node BNode) getPtr(idx uint16) pager.PageID {
	if idx >= node.nkeys() {
		panic("index out of range")
	}
	pos := HEADER + 8*idx
	return pager.PageID(binary.LittleEndian.Uint64(node[pos:]))
}

func (node BNode) setPtr(idx uint16, val pager.PageID) {
	if idx >= node.nkeys() {
		panic("index out of range")
	}
	pos := HEADER + 8*idx
	binary.LittleEndian.PutUint64(node[pos:], uint64(val))
}

func offsetPos(node BNode, idx uint16) uint16 {
	if idx < 1 || idx > node.nkeys() {
		panic("index out of range")
	}
	return HEADER + 8*node.nkeys() + 2*(idx-1)
}

func (node BNode) getOffset(idx uint16) uint16 {
	if idx == 0 {
		return 0
	}
	return binary.LittleEndian.Uint16(node[offsetPos(node, idx):])
}

func (node BNode) setOffset(idx uint16, offset uint16) {
	binary.LittleEndian.PutUint16(node[offsetPos(node, idx):], offset)
}

// kvPos returns the position of the nth KV pair.
func (node BNode) kvPos(idx uint16) uint16 {
	if idx > node.nkeys() {
		panic("index out of range")
	}
	return HEADER + 8*node.nkeys() + 2*node.nkeys() + node.getOffset(idx)
}

func (node BNode) getKey(idx uint16) []byte {
	if idx >= node.nkeys() {
		panic("index out of range")
	}
	pos := node.kvPos(idx)
	klen := binary.LittleEndian.Uint16(node[pos:])
	return node[pos+4:][:klen]
}

// getVal returns the raw stored value bytes: a one-byte kind tag
// (valueInline or valueOverflow) followed by either the inline document
// bytes or an encoded pager.OverflowRef.
func (node BNode) getVal(idx uint16) []byte {
	if idx >= node.nkeys() {
		panic("index out of range")
	}
	pos := node.kvPos(idx)
	klen := binary.LittleEndian.Uint16(node[pos+0:])
	vlen := binary.LittleEndian.Uint16(node[pos+2:])
	return node[pos+4+klen:][:vlen]
}

func (node BNode) nbytes() uint16 {
	return node.kvPos(node.nkeys())
}

// nodeLookupLE returns the index of the last key <= the search key.
func nodeLookupLE(node BNode, key []byte) uint16 {
	nkeys := node.nkeys()
	found := uint16(0)

	// The first key is a copy from the parent node, thus it's always
	// less than or equal to the search key.
	for i := uint16(1); i < nkeys; i++ {
		cmp := bytes.Compare(node.getKey(i), key)
		if cmp <= 0 {
			found = i
		}
		if cmp >= 0 {
			break
		}
	}
	return found
}

func nodeAppendRange(new BNode, old BNode, dstNew uint16, srcOld uint16, n uint16) {
	if srcOld+n > old.nkeys() {
		panic("source range out of bounds")
	}
	if dstNew+n > new.nkeys() {
		panic("destination range out of bounds")
	}
	if n == 0 {
		return
	}

	if old.btype() == BNODE_NODE {
		for i := uint16(0); i < n; i++ {
			new.setPtr(dstNew+i, old.getPtr(srcOld+i))
		}
	}

	dstBegin := new.getOffset(dstNew)
	srcBegin := old.getOffset(srcOld)
	for i := uint16(1); i <= n; i++ {
		offset := dstBegin + old.getOffset(srcOld+i) - srcBegin
		new.setOffset(dstNew+i, offset)
	}

	begin := old.kvPos(srcOld)
	end := old.kvPos(srcOld + n)
	copy(new[new.kvPos(dstNew):], old[begin:end])
}

func nodeAppendKV(new BNode, idx uint16, ptr pager.PageID, key []byte, val []byte) {
	new.setPtr(idx, ptr)

	pos := new.kvPos(idx)
	binary.LittleEndian.PutUint16(new[pos+0:], uint16(len(key)))
	binary.LittleEndian.PutUint16(new[pos+2:], uint16(len(val)))
	copy(new[pos+4:], key)
	copy(new[pos+4+uint16(len(key)):], val)

	new.setOffset(idx+1, new.getOffset(idx)+4+uint16(len(key)+len(val)))
}

func init() {
	node1max := HEADER + 8 + 2 + 4 + BTREE_MAX_KEY_SIZE + BTREE_MAX_VAL_SIZE
	if node1max > BTREE_PAGE_SIZE {
		panic("node size exceeds page size")
	}
}
