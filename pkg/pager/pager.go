package pager

import (
	"fmt"
	"os"
	"sync"

	"github.com/nainya/dendrodb/internal/logger"
	"github.com/nainya/dendrodb/internal/metrics"
	"github.com/nainya/dendrodb/pkg/dberr"
	"golang.org/x/sys/unix"
)

// Options configures a Pager.
type Options struct {
	// CacheCapacity is the number of committed pages held in the read cache.
	CacheCapacity int
	Logger        *logger.Logger
	Metrics       *metrics.Metrics
}

// Pager owns the page file: the committed page count, the header fields,
// the reusable-page freelist, a bounded read cache, and the reader
// generation registry. All mutation of committed state happens through a
// single WriteSession at a time (spec.md §5: single writer, many readers).
type Pager struct {
	mu        sync.Mutex // guards everything below except the generation registry
	writerMu  sync.Mutex // serializes WriteSessions: single writer (spec.md §5)
	file      *os.File
	path      string

	log     *logger.Logger
	metrics *metrics.Metrics

	flushed uint64 // number of pages physically present in the file, including header
	hdr     header
	free    freeList
	cache   *pageCache

	writerLocked bool

	genMu      sync.Mutex
	generation uint64
	readViews  map[uint64]int
	quarantine []quarantinedPage
}

type quarantinedPage struct {
	id         PageID
	freedAtGen uint64
}

// Open opens or creates the page file at path, taking a shared advisory
// lock for the lifetime of the Pager (exclusive only during commit, per
// spec.md §5's single-writer/many-reader file lock contract).
func Open(path string, opts Options) (*Pager, error) {
	if opts.CacheCapacity <= 0 {
		opts.CacheCapacity = 1024
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, dberr.Wrap(dberr.KindIO, "pager.Open", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, dberr.Wrap(dberr.KindBusy, "pager.Open", err)
	}

	p := &Pager{
		file:      f,
		path:      path,
		log:       opts.Logger.With("pager"),
		metrics:   opts.Metrics,
		cache:     newPageCache(opts.CacheCapacity),
		readViews: make(map[uint64]int),
	}
	p.free.get = p.readPageLocked
	p.free.newPage = p.appendPageLocked
	p.free.setPage = p.writePageLocked

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, dberr.Wrap(dberr.KindIO, "pager.Open", err)
	}

	if fi.Size() == 0 {
		p.hdr = header{
			formatVersion: headerFormatVersion,
			pageSize:      PageSize,
			catalogRoot:   InvalidPageID,
			nextPageID:    1,
		}
		p.flushed = 1
		if _, err := f.WriteAt(encodeHeader(p.hdr), 0); err != nil {
			f.Close()
			return nil, dberr.Wrap(dberr.KindIO, "pager.Open", err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, dberr.Wrap(dberr.KindIO, "pager.Open", err)
		}
	} else {
		buf := make([]byte, PageSize)
		if _, err := f.ReadAt(buf, 0); err != nil {
			f.Close()
			return nil, dberr.Wrap(dberr.KindIO, "pager.Open", err)
		}
		hdr, err := decodeHeader(buf)
		if err != nil {
			f.Close()
			return nil, err
		}
		p.hdr = hdr
		p.flushed = uint64(fi.Size()) / PageSize
		p.free.headPage = hdr.freeHeadPage
		p.free.headSeq = hdr.freeHeadSeq
		p.free.tailPage = hdr.freeTailPage
		p.free.tailSeq = hdr.freeTailSeq
	}

	return p, nil
}

// Close releases the page file and its advisory lock.
func (p *Pager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	unix.Flock(int(p.file.Fd()), unix.LOCK_UN)
	if err := p.file.Close(); err != nil {
		return dberr.Wrap(dberr.KindIO, "pager.Close", err)
	}
	return nil
}

// ApplyRecoveredPage writes a journal-replayed page image directly to the
// file, bypassing the write-session overlay. Only valid before any
// transaction has been opened against this Pager (spec.md §4.2: recovery
// runs once at startup, ahead of normal operation).
func (p *Pager) ApplyRecoveredPage(id PageID, image []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.writeFileLocked(id, image); err != nil {
		return err
	}
	if uint64(id)+1 > p.flushed {
		p.flushed = uint64(id) + 1
	}
	return nil
}

// CatalogRoot returns the page id of the collection catalog's root node.
func (p *Pager) CatalogRoot() PageID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hdr.catalogRoot
}

// ReadPage returns the committed contents of id. Safe for concurrent
// readers: it never observes a writer's uncommitted overlay.
func (p *Pager) ReadPage(id PageID) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readPageLocked(id), nil
}

func (p *Pager) readPageLocked(id PageID) []byte {
	if data, ok := p.cache.get(id); ok {
		p.recordRead("hit")
		return data
	}
	buf := make([]byte, PageSize)
	if _, err := p.file.ReadAt(buf, int64(id)*PageSize); err != nil {
		p.recordRead("fault")
		return buf
	}
	p.cache.put(id, buf)
	p.recordRead("miss")
	return buf
}

func (p *Pager) recordRead(result string) {
	if p.metrics != nil {
		p.metrics.RecordPageRead(result)
	}
}

func (p *Pager) appendPageLocked(data []byte) PageID {
	id := PageID(p.flushed)
	if err := p.writeFileLocked(id, data); err != nil {
		p.log.Error().Err(err).Msg("append page during freelist maintenance failed")
	}
	p.flushed++
	return id
}

func (p *Pager) writePageLocked(id PageID, data []byte) {
	if err := p.writeFileLocked(id, data); err != nil {
		p.log.Error().Err(err).Msg("write page during freelist maintenance failed")
	}
}

func (p *Pager) writeFileLocked(id PageID, data []byte) error {
	if len(data) != PageSize {
		return dberr.New(dberr.KindCorruption, "pager.writeFileLocked")
	}
	if _, err := p.file.WriteAt(data, int64(id)*PageSize); err != nil {
		return dberr.Wrap(dberr.KindIO, "pager.writeFileLocked", err)
	}
	p.cache.put(id, append([]byte(nil), data...))
	return nil
}

// AcquireReadView pins the currently committed generation so that pages
// freed after this call remain readable until ReleaseReadView is called
// (spec.md §5: "freed pages are quarantined until no view observes them").
func (p *Pager) AcquireReadView() uint64 {
	p.genMu.Lock()
	defer p.genMu.Unlock()
	gen := p.generation
	p.readViews[gen]++
	if p.metrics != nil {
		p.metrics.ReadersActive.Inc()
	}
	return gen
}

// ReleaseReadView unpins a generation acquired by AcquireReadView and
// migrates any now-unobservable quarantined pages into the reusable
// freelist.
func (p *Pager) ReleaseReadView(gen uint64) {
	p.genMu.Lock()
	p.readViews[gen]--
	if p.readViews[gen] <= 0 {
		delete(p.readViews, gen)
	}
	min := p.minActiveGenerationLocked()
	p.genMu.Unlock()
	if p.metrics != nil {
		p.metrics.ReadersActive.Dec()
	}

	p.drainQuarantine(min)
}

func (p *Pager) minActiveGenerationLocked() uint64 {
	min := p.generation
	for gen := range p.readViews {
		if gen < min {
			min = gen
		}
	}
	return min
}

// drainQuarantine moves every quarantined page freed at or before
// safeGeneration into the real freelist, since no active read view can
// still reach it.
func (p *Pager) drainQuarantine(safeGeneration uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	kept := p.quarantine[:0]
	for _, q := range p.quarantine {
		if q.freedAtGen < safeGeneration {
			p.cache.invalidate(q.id)
			p.free.pushTail(q.id)
		} else {
			kept = append(kept, q)
		}
	}
	p.quarantine = kept
}

func (p *Pager) currentGeneration() uint64 {
	p.genMu.Lock()
	defer p.genMu.Unlock()
	return p.generation
}

func (p *Pager) String() string {
	return fmt.Sprintf("pager(%s, flushed=%d, free=%d)", p.path, p.flushed, p.free.total())
}
