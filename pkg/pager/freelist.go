package pager

import "encoding/binary"

// freeListHeader is the 8-byte "next node" prefix of every freelist page.
const freeListHeader = 8

// freeListCap is how many page pointers fit after the header in one page.
const freeListCap = (PageSize - freeListHeader) / 8

// flNode is a freelist page viewed as an unrolled linked-list node: an
// 8-byte "next" pointer followed by up to freeListCap page-id slots.
//
// Grounded on the teacher's pkg/storage/freelist.go LNode, unchanged in
// on-disk layout.
type flNode []byte

func (n flNode) next() PageID        { return PageID(binary.LittleEndian.Uint64(n[0:8])) }
func (n flNode) setNext(p PageID)    { binary.LittleEndian.PutUint64(n[0:8], uint64(p)) }
func (n flNode) ptr(i int) PageID {
	off := freeListHeader + i*8
	return PageID(binary.LittleEndian.Uint64(n[off:]))
}
func (n flNode) setPtr(i int, p PageID) {
	off := freeListHeader + i*8
	binary.LittleEndian.PutUint64(n[off:], uint64(p))
}

// freeList is the reusable-page pool, directly adapted from the teacher's
// unrolled linked list (pkg/storage/freelist.go). get/newPage/setPage are
// wired to the owning Pager's raw page I/O.
type freeList struct {
	get    func(PageID) []byte
	newPage func([]byte) PageID
	setPage func(PageID, []byte)

	headPage PageID
	headSeq  uint64
	tailPage PageID
	tailSeq  uint64
}

// total reports how many pages are currently reusable.
func (fl *freeList) total() int {
	if fl.headSeq >= fl.tailSeq {
		return 0
	}
	return int(fl.tailSeq - fl.headSeq)
}

// popHead removes and returns a reusable page id, or InvalidPageID if none
// are available.
func (fl *freeList) popHead() PageID {
	if fl.headSeq >= fl.tailSeq || fl.headPage == InvalidPageID {
		return InvalidPageID
	}
	node := flNode(fl.get(fl.headPage))
	idx := int(fl.headSeq % freeListCap)
	ptr := node.ptr(idx)
	fl.headSeq++

	if fl.headSeq%freeListCap == 0 {
		next := node.next()
		if next != InvalidPageID {
			fl.pushTail(fl.headPage)
			fl.headPage = next
		}
	}
	return ptr
}

// pushTail makes ptr reusable. Callers (Pager.drainQuarantine) are responsible for
// holding the page in quarantine until no active read view could still
// observe its pre-free contents (spec.md §5).
func (fl *freeList) pushTail(ptr PageID) {
	if fl.tailPage == InvalidPageID {
		page := make([]byte, PageSize)
		flNode(page).setNext(InvalidPageID)
		fl.tailPage = fl.newPage(page)
		fl.headPage = fl.tailPage
	}

	idx := int(fl.tailSeq % freeListCap)
	if idx == 0 && fl.tailSeq > 0 {
		newNodePage := make([]byte, PageSize)
		flNode(newNodePage).setNext(InvalidPageID)
		newTail := fl.newPage(newNodePage)

		old := make([]byte, PageSize)
		copy(old, fl.get(fl.tailPage))
		flNode(old).setNext(newTail)
		fl.setPage(fl.tailPage, old)

		fl.tailPage = newTail
		idx = 0
	}

	page := make([]byte, PageSize)
	copy(page, fl.get(fl.tailPage))
	flNode(page).setPtr(idx, ptr)
	fl.setPage(fl.tailPage, page)
	fl.tailSeq++
}
