package pager

import (
	"time"

	"github.com/nainya/dendrodb/pkg/dberr"
	"golang.org/x/sys/unix"
)

// WriteSession is the single writer's uncommitted overlay: modified
// existing pages, newly appended pages not yet in the file, and pages
// freed during the transaction. At most one WriteSession may be open at a
// time (spec.md §5: single writer, many readers); writerMu enforces this.
//
// Grounded on the teacher's page.updates/page.temp overlay in
// pkg/storage/kv.go, generalized with a freed-page quarantine list instead
// of immediate freelist reuse.
type WriteSession struct {
	p *Pager

	dirty map[PageID][]byte // id < tempStart, rewritten in place (new contents, old id)
	temp  [][]byte          // brand-new pages, ids = tempStart + index

	tempStart uint64
	freed     []PageID // pages freed during this session

	savedFree freeListSnapshot
	catalogRoot PageID

	closed bool
}

type freeListSnapshot struct {
	headPage PageID
	headSeq  uint64
	tailPage PageID
	tailSeq  uint64
}

// BeginWrite opens the single writer session. The caller must Commit or
// Rollback it before another writer may begin.
func (p *Pager) BeginWrite() *WriteSession {
	p.writerMu.Lock()
	p.mu.Lock()
	defer p.mu.Unlock()

	ws := &WriteSession{
		p:         p,
		dirty:     make(map[PageID][]byte),
		tempStart: p.flushed,
		savedFree: freeListSnapshot{
			headPage: p.free.headPage,
			headSeq:  p.free.headSeq,
			tailPage: p.free.tailPage,
			tailSeq:  p.free.tailSeq,
		},
		catalogRoot: p.hdr.catalogRoot,
	}
	return ws
}

// CatalogRoot returns the session's working catalog root.
func (ws *WriteSession) CatalogRoot() PageID { return ws.catalogRoot }

// SetCatalogRoot updates the session's working catalog root, applied to
// the header at Commit.
func (ws *WriteSession) SetCatalogRoot(id PageID) { ws.catalogRoot = id }

// ReadPage resolves id through this session's overlay first, falling back
// to the pager's committed state. This is the only page-read path that may
// observe uncommitted writes.
func (ws *WriteSession) ReadPage(id PageID) []byte {
	if data, ok := ws.dirty[id]; ok {
		return data
	}
	if id >= PageID(ws.tempStart) {
		idx := int(uint64(id) - ws.tempStart)
		if idx < len(ws.temp) {
			return ws.temp[idx]
		}
	}
	ws.p.mu.Lock()
	defer ws.p.mu.Unlock()
	return ws.p.readPageLocked(id)
}

// AllocatePage returns a page id and a zeroed page buffer for the caller
// to populate and stage with WritePage. It first tries to reuse a
// quarantine-cleared freelist page, falling back to appending a new page.
func (ws *WriteSession) AllocatePage() PageID {
	id := ws.popFreelist()
	if id != InvalidPageID {
		return id
	}
	id = PageID(ws.tempStart) + PageID(len(ws.temp))
	ws.temp = append(ws.temp, make([]byte, PageSize))
	return id
}

// overlayRead lets the freelist read pages through the session overlay
// while it mutates the session's in-progress freelist snapshot.
func (ws *WriteSession) overlayRead(id PageID) []byte { return ws.ReadPage(id) }

// popFreelist pops one reusable page id, reading/writing freelist node
// pages through the session overlay so a rollback can discard the change.
func (ws *WriteSession) popFreelist() PageID {
	fl := freeList{
		get:     ws.overlayRead,
		newPage: func(data []byte) PageID { return ws.stageNewPage(data) },
		setPage: func(id PageID, data []byte) { ws.stageDirtyPage(id, data) },
	}
	fl.headPage, fl.headSeq = ws.savedFree.headPage, ws.savedFree.headSeq
	fl.tailPage, fl.tailSeq = ws.savedFree.tailPage, ws.savedFree.tailSeq

	id := fl.popHead()

	ws.savedFree.headPage, ws.savedFree.headSeq = fl.headPage, fl.headSeq
	ws.savedFree.tailPage, ws.savedFree.tailSeq = fl.tailPage, fl.tailSeq
	return id
}

func (ws *WriteSession) stageNewPage(data []byte) PageID {
	id := PageID(ws.tempStart) + PageID(len(ws.temp))
	ws.temp = append(ws.temp, append([]byte(nil), data...))
	return id
}

func (ws *WriteSession) stageDirtyPage(id PageID, data []byte) {
	ws.WritePage(id, data)
}

// WritePage stages a new image for an existing or newly allocated page id.
func (ws *WriteSession) WritePage(id PageID, data []byte) {
	buf := append([]byte(nil), data...)
	if id >= PageID(ws.tempStart) {
		idx := int(uint64(id) - ws.tempStart)
		if idx < len(ws.temp) {
			ws.temp[idx] = buf
			return
		}
	}
	ws.dirty[id] = buf
}

// FreePage marks id as no longer reachable. If it was allocated in this
// same session it is simply discarded; otherwise it is queued for
// quarantine until no existing read view can still observe it.
func (ws *WriteSession) FreePage(id PageID) {
	if id >= PageID(ws.tempStart) {
		// Allocated and freed within the same uncommitted session: nothing to
		// quarantine, it never became visible to any reader.
		return
	}
	delete(ws.dirty, id)
	ws.freed = append(ws.freed, id)
}

// DirtyPages returns every page id and image staged in this session, for
// the txn manager to frame into the journal before calling Commit.
func (ws *WriteSession) DirtyPages() map[PageID][]byte {
	out := make(map[PageID][]byte, len(ws.dirty)+len(ws.temp))
	for id, data := range ws.dirty {
		out[id] = data
	}
	for i, data := range ws.temp {
		out[PageID(ws.tempStart)+PageID(i)] = data
	}
	return out
}

// Commit durably applies every staged page to the file, advances the
// reader generation, and queues freed pages for quarantine. txnID is
// recorded in the header for diagnostic purposes only.
func (ws *WriteSession) Commit(txnID uint64) error {
	if ws.closed {
		return dberr.New(dberr.KindInvalidOperation, "pager.WriteSession.Commit")
	}
	defer ws.release()

	p := ws.p
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := unix.Flock(int(p.file.Fd()), unix.LOCK_EX); err != nil {
		return dberr.Wrap(dberr.KindBusy, "pager.WriteSession.Commit", err)
	}
	defer unix.Flock(int(p.file.Fd()), unix.LOCK_SH)

	start := time.Now()

	for id, data := range ws.dirty {
		if err := p.writeFileLocked(id, data); err != nil {
			return err
		}
	}
	for i, data := range ws.temp {
		id := PageID(ws.tempStart) + PageID(i)
		if err := p.writeFileLocked(id, data); err != nil {
			return err
		}
	}
	if uint64(ws.tempStart)+uint64(len(ws.temp)) > p.flushed {
		p.flushed = ws.tempStart + uint64(len(ws.temp))
	}

	p.free.headPage, p.free.headSeq = ws.savedFree.headPage, ws.savedFree.headSeq
	p.free.tailPage, p.free.tailSeq = ws.savedFree.tailPage, ws.savedFree.tailSeq
	p.hdr.catalogRoot = ws.catalogRoot
	p.hdr.nextPageID = PageID(p.flushed)
	p.hdr.freeHeadPage, p.hdr.freeHeadSeq = p.free.headPage, p.free.headSeq
	p.hdr.freeTailPage, p.hdr.freeTailSeq = p.free.tailPage, p.free.tailSeq
	p.hdr.lastTxnID = txnID

	if _, err := p.file.WriteAt(encodeHeader(p.hdr), 0); err != nil {
		return dberr.Wrap(dberr.KindIO, "pager.WriteSession.Commit", err)
	}
	if err := p.file.Sync(); err != nil {
		return dberr.Wrap(dberr.KindIO, "pager.WriteSession.Commit", err)
	}
	p.cache.put(0, encodeHeader(p.hdr))

	p.genMu.Lock()
	gen := p.generation
	p.generation++
	p.genMu.Unlock()

	if len(ws.freed) > 0 {
		qs := make([]quarantinedPage, len(ws.freed))
		for i, id := range ws.freed {
			qs[i] = quarantinedPage{id: id, freedAtGen: gen}
		}
		p.quarantine = append(p.quarantine, qs...)
	}

	if p.metrics != nil {
		p.metrics.PageWritesTotal.Add(float64(len(ws.dirty) + len(ws.temp)))
	}
	p.log.LogCommit(txnID, len(ws.dirty)+len(ws.temp), time.Since(start), nil)

	return nil
}

// Rollback discards every staged change; the file is left byte-identical
// to its state before BeginWrite (spec.md §5).
func (ws *WriteSession) Rollback() {
	if ws.closed {
		return
	}
	ws.release()
}

func (ws *WriteSession) release() {
	ws.closed = true
	ws.p.writerMu.Unlock()
}
