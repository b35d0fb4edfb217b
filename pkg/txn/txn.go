// Package txn implements the engine's transaction manager: single-writer,
// many-reader concurrency with Auto/Read/Write modes and nested-auto
// joining of an enclosing explicit transaction (spec.md §5).
//
// Grounded on the teacher's pkg/storage/transaction.go KVTX Begin/Commit/
// Abort lifecycle, generalized from a single implicit write transaction to
// explicit Read/Write handles plus an auto-wrapping convenience path, and
// wired to pkg/wal for durability instead of the teacher's double
// meta-page fsync.
package txn

import (
	"sync/atomic"
	"time"

	"github.com/nainya/dendrodb/internal/logger"
	"github.com/nainya/dendrodb/internal/metrics"
	"github.com/nainya/dendrodb/pkg/btree"
	"github.com/nainya/dendrodb/pkg/dberr"
	"github.com/nainya/dendrodb/pkg/pager"
	"github.com/nainya/dendrodb/pkg/wal"
)

// Mode selects what a transaction may do.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
)

func (m Mode) String() string {
	if m == ModeWrite {
		return "write"
	}
	return "read"
}

// State tracks a transaction's lifecycle.
type State int

const (
	StateActive State = iota
	StateCommitted
	StateAborted
)

// Txn is a handle to an open transaction. Insert/Update/Delete operations
// on a ModeRead transaction fail with dberr.KindInvalidOperation.
type Txn struct {
	ID    uint64
	Mode  Mode
	Auto  bool // opened implicitly for a single operation, per spec.md §5
	State State

	mgr     *Manager
	ws      *pager.WriteSession // non-nil only for ModeWrite
	readGen uint64              // pinned generation, used by ModeRead and by ModeWrite reads of its own session
}

// Session returns the underlying write session, or nil for a read
// transaction.
func (t *Txn) Session() *pager.WriteSession { return t.ws }

// CatalogRoot returns the page id the transaction should resolve the
// collection catalog from: the write session's working root for a write
// transaction, or, for a read transaction, the pager's most recently
// committed root at the time of the call. That root is not pinned: a commit
// that lands while a read transaction is open is visible to its later
// CatalogRoot calls.
func (t *Txn) CatalogRoot() pager.PageID {
	if t.ws != nil {
		return t.ws.CatalogRoot()
	}
	return t.mgr.pgr.CatalogRoot()
}

// ReadPage resolves id through the transaction's view: the write session's
// overlay for a write transaction, or the pager's committed state for a
// read transaction (valid as long as the read view stays pinned).
func (t *Txn) ReadPage(id pager.PageID) ([]byte, error) {
	if t.ws != nil {
		return t.ws.ReadPage(id), nil
	}
	return t.mgr.pgr.ReadPage(id)
}

// BindTree wires tree's page-store callbacks to this transaction's view:
// the write session's overlay for a write transaction, or the pager's
// committed state (read-only) for a read transaction. Catalog and
// collection trees are bound this way rather than carrying their own
// pager plumbing.
func (t *Txn) BindTree(tree *btree.BTree) {
	if t.ws != nil {
		ws := t.ws
		tree.SetCallbacks(
			func(id pager.PageID) []byte { return ws.ReadPage(id) },
			func(data []byte) pager.PageID {
				id := ws.AllocatePage()
				ws.WritePage(id, data)
				return id
			},
			ws.WritePage,
			ws.FreePage,
			ws.WriteOverflow,
			ws.ReadOverflow,
			ws.FreeOverflow,
		)
		return
	}

	p := t.mgr.pgr
	tree.SetCallbacks(
		func(id pager.PageID) []byte {
			data, _ := p.ReadPage(id)
			return data
		},
		func([]byte) pager.PageID { panic("btree: write attempted in a read transaction") },
		func(pager.PageID, []byte) { panic("btree: write attempted in a read transaction") },
		func(pager.PageID) { panic("btree: write attempted in a read transaction") },
		func([]byte) pager.OverflowRef { panic("btree: write attempted in a read transaction") },
		func(ref pager.OverflowRef) ([]byte, error) { return p.ReadOverflow(ref) },
		func(pager.OverflowRef) { panic("btree: write attempted in a read transaction") },
	)
}

// Manager coordinates the single writer, the reader generation registry,
// and durability through the journal.
type Manager struct {
	pgr     *pager.Pager
	journal *wal.WAL
	log     *logger.Logger
	metrics *metrics.Metrics

	nextID uint64

	explicit *Txn // the application's currently open explicit transaction, if any
}

// NewManager builds a transaction manager bound to a pager and journal.
func NewManager(p *pager.Pager, j *wal.WAL, log *logger.Logger, m *metrics.Metrics) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{pgr: p, journal: j, log: log.With("txn"), metrics: m}
}

func (m *Manager) allocID() uint64 { return atomic.AddUint64(&m.nextID, 1) }

// Begin opens an explicit transaction. Only one explicit transaction may
// be open against a Manager at a time; a second Begin call fails with
// dberr.KindInvalidOperation until the first is committed or rolled back.
func (m *Manager) Begin(mode Mode) (*Txn, error) {
	if m.explicit != nil {
		return nil, dberr.New(dberr.KindInvalidOperation, "txn.Begin")
	}
	t := m.open(mode, false)
	m.explicit = t
	return t, nil
}

// WithAuto runs fn inside a transaction suitable for one operation
// (spec.md §5: "nested auto-transactions join the enclosing explicit
// transaction"). If an explicit transaction is already open, fn runs
// inside it directly with no separate commit. Otherwise a short-lived auto
// transaction is opened, committed on success, and rolled back on error.
func (m *Manager) WithAuto(mode Mode, fn func(t *Txn) error) error {
	if m.explicit != nil {
		t := m.explicit
		if mode == ModeWrite && t.Mode == ModeRead {
			return dberr.New(dberr.KindInvalidOperation, "txn.WithAuto")
		}
		return fn(t)
	}

	t := m.open(mode, true)
	if err := fn(t); err != nil {
		m.Rollback(t)
		return err
	}
	return m.Commit(t)
}

func (m *Manager) open(mode Mode, auto bool) *Txn {
	t := &Txn{ID: m.allocID(), Mode: mode, Auto: auto, State: StateActive, mgr: m}
	if mode == ModeWrite {
		t.ws = m.pgr.BeginWrite()
	} else {
		t.readGen = m.pgr.AcquireReadView()
	}
	return t
}

// Commit durably applies a write transaction's changes, or releases a read
// transaction's pinned snapshot.
func (m *Manager) Commit(t *Txn) error {
	if t.State != StateActive {
		return dberr.New(dberr.KindInvalidOperation, "txn.Commit")
	}

	if t.Mode == ModeRead {
		m.pgr.ReleaseReadView(t.readGen)
		t.State = StateCommitted
		m.clearExplicit(t)
		if m.metrics != nil {
			m.metrics.RecordCommit(commitMode(t), 0)
		}
		return nil
	}

	start := time.Now()
	dirty := t.ws.DirtyPages()

	if m.journal != nil {
		if err := m.journal.WriteBegin(t.ID); err != nil {
			return dberr.Wrap(dberr.KindIO, "txn.Commit", err)
		}
		for id, image := range dirty {
			if err := m.journal.WritePageImage(t.ID, uint64(id), image); err != nil {
				return dberr.Wrap(dberr.KindIO, "txn.Commit", err)
			}
		}
		if err := m.journal.WriteCommit(t.ID); err != nil {
			return dberr.Wrap(dberr.KindIO, "txn.Commit", err)
		}
		if err := m.journal.Fsync(); err != nil {
			return dberr.Wrap(dberr.KindIO, "txn.Commit", err)
		}
		if m.metrics != nil {
			m.metrics.WalFsyncsTotal.Inc()
		}
	}

	if err := t.ws.Commit(t.ID); err != nil {
		return err
	}

	t.State = StateCommitted
	m.clearExplicit(t)
	if m.metrics != nil {
		m.metrics.RecordCommit(commitMode(t), time.Since(start))
	}
	return nil
}

// Rollback discards a write transaction's staged changes, or releases a
// read transaction's pinned snapshot, leaving the database unchanged.
func (m *Manager) Rollback(t *Txn) {
	if t.State != StateActive {
		return
	}
	if t.Mode == ModeWrite {
		t.ws.Rollback()
	} else {
		m.pgr.ReleaseReadView(t.readGen)
	}
	t.State = StateAborted
	m.clearExplicit(t)
	if m.metrics != nil {
		m.metrics.TxnAbortsTotal.Inc()
	}
}

func (m *Manager) clearExplicit(t *Txn) {
	if !t.Auto && m.explicit == t {
		m.explicit = nil
	}
}

func commitMode(t *Txn) string {
	if t.Auto {
		return "auto"
	}
	return t.Mode.String()
}
