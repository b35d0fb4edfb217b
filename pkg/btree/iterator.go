package btree

import (
	"bytes"

	"github.com/nainya/dendrodb/pkg/pager"
)

// BIter walks the tree in key order, holding the full root-to-leaf path
// in memory. Because every node it holds was read once at SeekLE time,
// the path is a stable snapshot: subsequent writes against the same
// BTree value (a fresh Insert/Delete allocates new pages rather than
// mutating these) never invalidate an iterator already in flight.
type BIter struct {
	tree *BTree
	path []BNode  // root to leaf
	pos  []uint16 // index at each level
}

// NewIterator creates an iterator over the tree.
func (tree *BTree) NewIterator() *BIter {
	return &BIter{
		tree: tree,
		path: make([]BNode, 0, 8),
		pos:  make([]uint16, 0, 8),
	}
}

// SeekLE positions the iterator at the last key <= the given key.
// Returns false if the tree is empty.
func (iter *BIter) SeekLE(key []byte) bool {
	iter.path = iter.path[:0]
	iter.pos = iter.pos[:0]

	if iter.tree.root == pager.InvalidPageID {
		return false
	}

	node := BNode(iter.tree.get(iter.tree.root))
	for {
		iter.path = append(iter.path, node)
		idx := nodeLookupLE(node, key)
		iter.pos = append(iter.pos, idx)

		if node.btype() == BNODE_LEAF {
			break
		}
		node = BNode(iter.tree.get(node.getPtr(idx)))
	}

	return true
}

// Valid reports whether the iterator sits on a real key.
func (iter *BIter) Valid() bool {
	if len(iter.path) == 0 {
		return false
	}
	leaf := iter.path[len(iter.path)-1]
	pos := iter.pos[len(iter.pos)-1]
	return pos < leaf.nkeys()
}

// Key returns the current key.
func (iter *BIter) Key() []byte {
	if !iter.Valid() {
		return nil
	}
	leaf := iter.path[len(iter.path)-1]
	return leaf.getKey(iter.pos[len(iter.pos)-1])
}

// Doc returns the current document, reassembled from its overflow chain
// if it was stored out-of-line.
func (iter *BIter) Doc() ([]byte, error) {
	if !iter.Valid() {
		return nil, nil
	}
	leaf := iter.path[len(iter.path)-1]
	stored := leaf.getVal(iter.pos[len(iter.pos)-1])
	return iter.tree.decodeValue(stored)
}

// Next advances to the next key. Returns false once the scan is
// exhausted.
func (iter *BIter) Next() bool {
	if len(iter.path) == 0 {
		return false
	}

	leafIdx := len(iter.pos) - 1
	iter.pos[leafIdx]++

	leaf := iter.path[leafIdx]
	if iter.pos[leafIdx] < leaf.nkeys() {
		return true
	}

	iter.path = iter.path[:leafIdx]
	iter.pos = iter.pos[:leafIdx]

	for len(iter.pos) > 0 {
		parentIdx := len(iter.pos) - 1
		iter.pos[parentIdx]++

		parent := iter.path[parentIdx]
		if iter.pos[parentIdx] < parent.nkeys() {
			return iter.descendToLeftmost()
		}

		iter.path = iter.path[:parentIdx]
		iter.pos = iter.pos[:parentIdx]
	}

	return false
}

func (iter *BIter) descendToLeftmost() bool {
	for {
		parentIdx := len(iter.path) - 1
		parent := iter.path[parentIdx]
		pos := iter.pos[parentIdx]

		child := BNode(iter.tree.get(parent.getPtr(pos)))
		iter.path = append(iter.path, child)

		if child.btype() == BNODE_LEAF {
			iter.pos = append(iter.pos, 0)
			return true
		}
		iter.pos = append(iter.pos, 0)
	}
}

// Resume re-derives the iterator's position after the BTree has been
// rebound to a possibly-newer root (a commit may have happened since
// lastKey was produced). It seeks to the first key >= lastKey: if
// lastKey is still present the scan resumes just past it; if it was
// deleted, the scan resumes at whatever now occupies that point in key
// order. This is the key-based fallback spec.md's cursor resumption
// relies on instead of trusting a page id across a commit boundary.
func (iter *BIter) Resume(lastKey []byte) bool {
	if !iter.SeekLE(lastKey) {
		return false
	}
	if iter.Valid() && bytes.Compare(iter.Key(), lastKey) <= 0 {
		return iter.Next()
	}
	return iter.Valid()
}

// Scan visits every key >= start in order until callback returns false.
func (tree *BTree) Scan(start []byte, callback func(key []byte, doc []byte) (bool, error)) error {
	iter := tree.NewIterator()
	if !iter.SeekLE(start) {
		return nil
	}
	if iter.Valid() && bytes.Compare(iter.Key(), start) < 0 {
		if !iter.Next() {
			return nil
		}
	}

	for iter.Valid() {
		doc, err := iter.Doc()
		if err != nil {
			return err
		}
		cont, err := callback(iter.Key(), doc)
		if err != nil || !cont {
			return err
		}
		if !iter.Next() {
			return nil
		}
	}
	return nil
}
