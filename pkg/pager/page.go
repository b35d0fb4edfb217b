// Package pager owns the on-disk page file: the header page, page
// allocation/free-list bookkeeping, a bounded read cache, a single writer's
// dirty-page overlay, and the reader generation registry that implements
// snapshot isolation by quarantining freed pages (spec.md §4, §5).
//
// Grounded on the teacher's mmap-backed storage/kv.go, adapted from
// mmap-plus-double-meta-page-fsync durability to explicit pread/pwrite plus
// an external write-ahead journal (pkg/wal), since spec.md §4.2 requires a
// separately recoverable journal file rather than an in-place meta page.
package pager

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/nainya/dendrodb/pkg/dberr"
)

// PageSize is the fixed size in bytes of every page, including the header
// page and overflow pages (spec.md §4.1).
const PageSize = 4096

// PageID addresses a single page by its zero-based offset in the file
// (byte offset = PageID * PageSize).
type PageID uint64

// InvalidPageID is never a valid allocated page (the header always occupies 0).
const InvalidPageID PageID = 0

const (
	headerMagic        = "DendroDB"
	headerFormatVersion = uint16(1)
	headerPageSize      = PageSize // header itself always occupies exactly one page
)

// header is the decoded contents of page 0.
type header struct {
	formatVersion uint16
	pageSize      uint32
	catalogRoot   PageID
	nextPageID    PageID // allocator cursor: first never-yet-used page id
	freeHeadPage  PageID
	freeHeadSeq   uint64
	freeTailPage  PageID
	freeTailSeq   uint64
	lastTxnID     uint64
}

// encodeHeader serializes h into a full PageSize page image.
func encodeHeader(h header) []byte {
	buf := make([]byte, PageSize)
	copy(buf[0:8], headerMagic)
	binary.LittleEndian.PutUint16(buf[8:10], h.formatVersion)
	binary.LittleEndian.PutUint32(buf[10:14], h.pageSize)
	binary.LittleEndian.PutUint64(buf[14:22], uint64(h.catalogRoot))
	binary.LittleEndian.PutUint64(buf[22:30], uint64(h.nextPageID))
	binary.LittleEndian.PutUint64(buf[30:38], uint64(h.freeHeadPage))
	binary.LittleEndian.PutUint64(buf[38:46], h.freeHeadSeq)
	binary.LittleEndian.PutUint64(buf[46:54], uint64(h.freeTailPage))
	binary.LittleEndian.PutUint64(buf[54:62], h.freeTailSeq)
	binary.LittleEndian.PutUint64(buf[62:70], h.lastTxnID)
	crc := crc32.ChecksumIEEE(buf[0:70])
	binary.LittleEndian.PutUint32(buf[70:74], crc)
	return buf
}

// decodeHeader parses a page-0 image, validating the magic and checksum.
func decodeHeader(buf []byte) (header, error) {
	var h header
	if len(buf) < PageSize {
		return h, dberr.New(dberr.KindNotAValidDatabase, "pager.decodeHeader")
	}
	if string(buf[0:8]) != headerMagic {
		return h, dberr.New(dberr.KindNotAValidDatabase, "pager.decodeHeader")
	}
	crc := crc32.ChecksumIEEE(buf[0:70])
	if binary.LittleEndian.Uint32(buf[70:74]) != crc {
		return h, dberr.New(dberr.KindCorruption, "pager.decodeHeader")
	}
	h.formatVersion = binary.LittleEndian.Uint16(buf[8:10])
	h.pageSize = binary.LittleEndian.Uint32(buf[10:14])
	h.catalogRoot = PageID(binary.LittleEndian.Uint64(buf[14:22]))
	h.nextPageID = PageID(binary.LittleEndian.Uint64(buf[22:30]))
	h.freeHeadPage = PageID(binary.LittleEndian.Uint64(buf[30:38]))
	h.freeHeadSeq = binary.LittleEndian.Uint64(buf[38:46])
	h.freeTailPage = PageID(binary.LittleEndian.Uint64(buf[46:54]))
	h.freeTailSeq = binary.LittleEndian.Uint64(buf[54:62])
	h.lastTxnID = binary.LittleEndian.Uint64(buf[62:70])
	if h.pageSize != PageSize {
		return h, dberr.New(dberr.KindNotAValidDatabase, "pager.decodeHeader")
	}
	return h, nil
}
