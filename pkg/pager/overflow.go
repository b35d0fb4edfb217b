package pager

import (
	"encoding/binary"

	"github.com/nainya/dendrodb/pkg/dberr"
)

// Grounded on novasql's internal/storage overflow chain (OverflowManager):
// a fixed-size page header of next-page-id + used-byte-count, followed by
// as much of the payload as fits, chained until exhausted.
const (
	overflowOffNext    = 0
	overflowOffLen     = 8
	overflowHeaderSize = 12
	overflowPayloadMax = PageSize - overflowHeaderSize
)

// overflowNone marks the last page in a chain.
const overflowNone PageID = 0

// OverflowRef locates an oversized leaf value stored out-of-line
// (spec.md §4.3: values above the inline threshold chain across pages).
type OverflowRef struct {
	FirstPage PageID
	Length    uint32
}

// Encode packs the reference into the 12 bytes stored inline in the leaf
// entry in place of the value itself.
func (r OverflowRef) Encode() []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(r.FirstPage))
	binary.LittleEndian.PutUint32(buf[8:12], r.Length)
	return buf
}

// DecodeOverflowRef parses a reference previously produced by Encode.
func DecodeOverflowRef(b []byte) (OverflowRef, error) {
	if len(b) < 12 {
		return OverflowRef{}, dberr.New(dberr.KindCorruption, "pager.DecodeOverflowRef")
	}
	return OverflowRef{
		FirstPage: PageID(binary.LittleEndian.Uint64(b[0:8])),
		Length:    binary.LittleEndian.Uint32(b[8:12]),
	}, nil
}

// WriteOverflow stages value as a chain of overflow pages inside ws and
// returns a reference to it. Always writes at least one page, even for an
// empty value, so FreeOverflow has something to free.
func (ws *WriteSession) WriteOverflow(value []byte) OverflowRef {
	total := len(value)

	var first, prev PageID
	havePrev := false
	offset := 0

	for offset <= total {
		chunk := total - offset
		if chunk > overflowPayloadMax {
			chunk = overflowPayloadMax
		}

		id := ws.AllocatePage()
		buf := make([]byte, PageSize)
		binary.LittleEndian.PutUint64(buf[overflowOffNext:overflowOffNext+8], uint64(overflowNone))
		binary.LittleEndian.PutUint32(buf[overflowOffLen:overflowOffLen+4], uint32(chunk))
		if chunk > 0 {
			copy(buf[overflowHeaderSize:overflowHeaderSize+chunk], value[offset:offset+chunk])
		}
		ws.WritePage(id, buf)

		if havePrev {
			prevBuf := append([]byte(nil), ws.ReadPage(prev)...)
			binary.LittleEndian.PutUint64(prevBuf[overflowOffNext:overflowOffNext+8], uint64(id))
			ws.WritePage(prev, prevBuf)
		} else {
			first = id
		}

		prev = id
		havePrev = true
		offset += chunk
		if chunk == 0 {
			break
		}
	}

	return OverflowRef{FirstPage: first, Length: uint32(total)}
}

// ReadOverflow walks the chain starting at ref.FirstPage and returns the
// reassembled value. Pages are read through p's committed state (used by
// readers) — see WriteSession.ReadOverflow for the writer-visible variant.
func (p *Pager) ReadOverflow(ref OverflowRef) ([]byte, error) {
	return readOverflowChain(ref, func(id PageID) ([]byte, error) { return p.ReadPage(id) })
}

// ReadOverflow reads an overflow chain through the session's overlay, so a
// value written earlier in the same transaction is visible before commit.
func (ws *WriteSession) ReadOverflow(ref OverflowRef) ([]byte, error) {
	return readOverflowChain(ref, func(id PageID) ([]byte, error) { return ws.ReadPage(id), nil })
}

func readOverflowChain(ref OverflowRef, read func(PageID) ([]byte, error)) ([]byte, error) {
	if ref.Length == 0 {
		return []byte{}, nil
	}
	result := make([]byte, ref.Length)
	remaining := int(ref.Length)
	pos := 0
	id := ref.FirstPage

	for {
		buf, err := read(id)
		if err != nil {
			return nil, err
		}
		if len(buf) < overflowHeaderSize {
			return nil, dberr.New(dberr.KindCorruption, "pager.readOverflowChain")
		}
		next := PageID(binary.LittleEndian.Uint64(buf[overflowOffNext : overflowOffNext+8]))
		used := int(binary.LittleEndian.Uint32(buf[overflowOffLen : overflowOffLen+4]))
		if used > overflowPayloadMax {
			used = overflowPayloadMax
		}
		if used > remaining {
			used = remaining
		}
		if used > 0 {
			copy(result[pos:pos+used], buf[overflowHeaderSize:overflowHeaderSize+used])
			pos += used
			remaining -= used
		}
		if remaining <= 0 || next == overflowNone {
			break
		}
		id = next
	}

	return result, nil
}

// FreeOverflow queues every page in the chain for quarantine.
func (ws *WriteSession) FreeOverflow(ref OverflowRef) {
	id := ref.FirstPage
	seen := make(map[PageID]bool)
	for {
		if seen[id] {
			break
		}
		seen[id] = true
		buf := ws.ReadPage(id)
		if len(buf) < overflowHeaderSize {
			break
		}
		next := PageID(binary.LittleEndian.Uint64(buf[overflowOffNext : overflowOffNext+8]))
		ws.FreePage(id)
		if next == overflowNone {
			break
		}
		id = next
	}
}
