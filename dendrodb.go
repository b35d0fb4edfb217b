// Package dendrodb is an embedded document database: a paged file with a
// write-ahead journal, a copy-on-write B-tree keyed by document identifier,
// a free-page manager, and an in-process query/update executor. It wires
// together the engine's component packages (pkg/pager, pkg/wal, pkg/txn,
// pkg/btree, pkg/catalog, pkg/document, pkg/query, pkg/engine, pkg/ident)
// into the single public surface below.
package dendrodb

import (
	"github.com/nainya/dendrodb/internal/logger"
	"github.com/nainya/dendrodb/internal/metrics"
	"github.com/nainya/dendrodb/pkg/btree"
	"github.com/nainya/dendrodb/pkg/catalog"
	"github.com/nainya/dendrodb/pkg/dberr"
	"github.com/nainya/dendrodb/pkg/document"
	"github.com/nainya/dendrodb/pkg/engine"
	"github.com/nainya/dendrodb/pkg/ident"
	"github.com/nainya/dendrodb/pkg/pager"
	"github.com/nainya/dendrodb/pkg/query"
	"github.com/nainya/dendrodb/pkg/txn"
	"github.com/nainya/dendrodb/pkg/wal"
)

// identifierField is the document key holding a document's primary
// identifier (spec.md §3).
const identifierField = "_id"

// CollectionMeta describes one collection's identity and storage location.
type CollectionMeta struct {
	Name        string
	ID          uint32
	MetaVersion uint32
}

// TxMode selects what an explicit transaction may do.
type TxMode int

const (
	ModeReadOnly TxMode = iota
	ModeReadWrite
)

func (m TxMode) toInternal() txn.Mode {
	if m == ModeReadWrite {
		return txn.ModeWrite
	}
	return txn.ModeRead
}

// DB is an open database. A DB is safe for concurrent use by multiple
// goroutines: pkg/txn serializes writers and snapshot-isolates readers
// (spec.md §5).
type DB struct {
	pgr          *pager.Pager
	journal      *wal.WAL
	mgr          *txn.Manager
	log          *logger.Logger
	metrics      *metrics.Metrics
	checkpointer *wal.Checkpointer
}

// Open opens or creates the database at path (data file) plus a journal
// file alongside it, replays any committed-but-unflushed journal entries
// left by an unclean shutdown, and returns a ready DB.
func Open(path string, opts ...Option) (*DB, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	log := logger.New(logger.Config{Level: cfg.logLevel})
	m := cfg.metrics
	if m == nil {
		m = metrics.New()
	}

	journal := &wal.WAL{Path: path + ".journal"}
	if err := journal.Open(); err != nil {
		return nil, dberr.Wrap(dberr.KindIO, "dendrodb.Open", err)
	}

	pgr, err := pager.Open(path, pager.Options{
		CacheCapacity: cfg.cacheCapacity,
		Logger:        log,
		Metrics:       m,
	})
	if err != nil {
		journal.Close()
		return nil, err
	}

	recovery := wal.NewRecovery(journal)
	stats, err := recovery.RecoverWithStats(func(pageID uint64, image []byte) error {
		return pgr.ApplyRecoveredPage(pager.PageID(pageID), image)
	})
	if err != nil {
		pgr.Close()
		journal.Close()
		return nil, dberr.Wrap(dberr.KindIO, "dendrodb.Open", err)
	}
	log.LogRecovery(stats.CommittedTxns, stats.UncommittedTxns, stats.ReplayedOperations)

	mgr := txn.NewManager(pgr, journal, log, m)

	db := &DB{pgr: pgr, journal: journal, mgr: mgr, log: log, metrics: m}

	if !cfg.disableCheckpoint {
		db.checkpointer = wal.NewCheckpointer(journal, func() error { return nil })
		db.checkpointer.SetInterval(cfg.checkpointInterval)
		db.checkpointer.Start()
	}

	return db, nil
}

// Close stops background checkpointing and releases the data file and
// journal handles.
func (db *DB) Close() error {
	if db.checkpointer != nil {
		db.checkpointer.Stop()
	}
	if err := db.journal.Close(); err != nil {
		return dberr.Wrap(dberr.KindIO, "dendrodb.Close", err)
	}
	return db.pgr.Close()
}

// Metrics returns the database's Prometheus collectors for the caller to
// register against its own registry or scrape directly.
func (db *DB) Metrics() *metrics.Metrics { return db.metrics }

// Tx is a handle to an explicit transaction opened by StartTransaction.
type Tx struct {
	db  *DB
	txn *txn.Txn
}

// StartTransaction opens an explicit transaction. Only one explicit
// transaction may be open against a DB at a time (spec.md §5); a second
// call fails with dberr.KindInvalidOperation until the first is committed
// or rolled back.
func (db *DB) StartTransaction(mode TxMode) (*Tx, error) {
	t, err := db.mgr.Begin(mode.toInternal())
	if err != nil {
		return nil, err
	}
	return &Tx{db: db, txn: t}, nil
}

// Commit durably applies the transaction's writes (or releases a read
// transaction's pinned snapshot).
func (tx *Tx) Commit() error { return tx.db.mgr.Commit(tx.txn) }

// Rollback discards the transaction's writes (or releases a read
// transaction's pinned snapshot), leaving the database unchanged.
func (tx *Tx) Rollback() error {
	tx.db.mgr.Rollback(tx.txn)
	return nil
}

// CreateCollection registers a new, empty collection.
func (db *DB) CreateCollection(name string) (CollectionMeta, error) {
	var out CollectionMeta
	err := db.mgr.WithAuto(txn.ModeWrite, func(t *txn.Txn) error {
		m, err := catalog.Open(t).Create(name)
		if err != nil {
			return err
		}
		out = CollectionMeta{Name: name, ID: m.ID, MetaVersion: m.MetaVersion}
		return nil
	})
	return out, err
}

// ListCollectionNames returns every collection name in lexicographic order.
func (db *DB) ListCollectionNames() ([]string, error) {
	var out []string
	err := db.mgr.WithAuto(txn.ModeRead, func(t *txn.Txn) error {
		names, err := catalog.Open(t).List()
		out = names
		return err
	})
	return out, err
}

// DropCollection deletes every document in the collection's own tree,
// freeing the pages that backed them, then removes the catalog entry.
func (db *DB) DropCollection(name string) error {
	return db.mgr.WithAuto(txn.ModeWrite, func(t *txn.Txn) error {
		cat := catalog.Open(t)
		meta, ok, err := cat.Get(name)
		if err != nil {
			return err
		}
		if !ok {
			return dberr.New(dberr.KindCollectionNotFound, "dendrodb.DropCollection")
		}

		var tree btree.BTree
		tree.SetRoot(meta.Root)
		t.BindTree(&tree)
		if err := reclaimAll(&tree); err != nil {
			return err
		}

		return cat.Drop(name)
	})
}

// reclaimAll deletes every real key in tree, freeing its pages. The
// permanent empty-key sentinel left by the tree's first insert (pkg/btree)
// is deleted along with everything else, since the whole tree is going away.
func reclaimAll(tree *btree.BTree) error {
	for {
		var key []byte
		found := false
		if err := tree.Scan(nil, func(k, _ []byte) (bool, error) {
			key = append([]byte(nil), k...)
			found = true
			return false, nil
		}); err != nil {
			return err
		}
		if !found {
			return nil
		}
		if _, err := tree.Delete(key); err != nil {
			return err
		}
	}
}

// GetCollectionMeta returns a collection's identity and current
// meta-version.
func (db *DB) GetCollectionMeta(name string) (CollectionMeta, error) {
	var out CollectionMeta
	err := db.mgr.WithAuto(txn.ModeRead, func(t *txn.Txn) error {
		m, ok, err := catalog.Open(t).Get(name)
		if err != nil {
			return err
		}
		if !ok {
			return dberr.New(dberr.KindCollectionNotFound, "dendrodb.GetCollectionMeta")
		}
		out = CollectionMeta{Name: name, ID: m.ID, MetaVersion: m.MetaVersion}
		return nil
	})
	return out, err
}

// Count returns the number of documents in collection.
func (db *DB) Count(collection string) (int64, error) {
	var n int64
	err := db.mgr.WithAuto(txn.ModeRead, func(t *txn.Txn) error {
		cat := catalog.Open(t)
		meta, ok, err := cat.Get(collection)
		if err != nil {
			return err
		}
		if !ok {
			return dberr.New(dberr.KindCollectionNotFound, "dendrodb.Count")
		}
		var tree btree.BTree
		tree.SetRoot(meta.Root)
		t.BindTree(&tree)
		return tree.Scan(nil, func(key, _ []byte) (bool, error) {
			if len(key) > 0 {
				n++
			}
			return true, nil
		})
	})
	return n, err
}

// Insert stores doc in collection, keyed by its _id field. If doc has no
// _id, Insert assigns a freshly generated 12-byte identifier (spec.md §3);
// otherwise the caller's _id, of any value type, is used as-is and becomes
// the document's primary key. It returns the identifier value and whether
// one was generated rather than supplied.
func (db *DB) Insert(collection string, doc document.Document) (document.Value, bool, error) {
	var (
		idVal     document.Value
		generated bool
	)

	err := db.mgr.WithAuto(txn.ModeWrite, func(t *txn.Txn) error {
		cat := catalog.Open(t)
		meta, ok, err := cat.Get(collection)
		if err != nil {
			return err
		}
		if !ok {
			return dberr.New(dberr.KindCollectionNotFound, "dendrodb.Insert")
		}

		stored := doc.Clone()
		if existing, ok := stored.Get(identifierField); ok {
			idVal = existing
		} else {
			id := ident.Generate()
			idVal = document.NewIdentifier(id)
			stored.Set(identifierField, idVal)
			generated = true
		}

		var tree btree.BTree
		tree.SetRoot(meta.Root)
		t.BindTree(&tree)

		key := document.EncodeKey(idVal)
		if _, found, err := tree.Get(key); err != nil {
			return err
		} else if found {
			return dberr.New(dberr.KindDuplicateKey, "dendrodb.Insert")
		}
		if err := tree.Insert(key, document.Encode(stored)); err != nil {
			return err
		}
		return cat.SetRoot(collection, tree.GetRoot())
	})
	return idVal, generated, err
}

// Find compiles predicate into a scan plan and returns a Cursor over
// collection's matching rows. A zero-value predicate matches every
// document.
func (db *DB) Find(collection string, predicate document.Document) (*engine.Cursor, error) {
	if err := db.mgr.WithAuto(txn.ModeRead, func(t *txn.Txn) error {
		_, ok, err := catalog.Open(t).Get(collection)
		if err != nil {
			return err
		}
		if !ok {
			return dberr.New(dberr.KindCollectionNotFound, "dendrodb.Find")
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return engine.NewCursor(db.mgr, db.metrics, collection, &predicate), nil
}

// matchedKeys materializes every key in collection whose stored document
// currently matches pred, in a single read-only scan (spec.md §4.8:
// "materialize matched keys in a read-only scan, then apply mutations via
// point lookups within the same write transaction" — a point-in-time list
// of keys rather than a live cursor, since the write transaction that
// follows will itself move the tree's root on every mutation).
func matchedKeys(t *txn.Txn, collection string, pred document.Document) ([][]byte, error) {
	cat := catalog.Open(t)
	meta, ok, err := cat.Get(collection)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, dberr.New(dberr.KindCollectionNotFound, "dendrodb.matchedKeys")
	}

	var tree btree.BTree
	tree.SetRoot(meta.Root)
	t.BindTree(&tree)

	var keys [][]byte
	err = tree.Scan(nil, func(key, stored []byte) (bool, error) {
		if len(key) == 0 {
			return true, nil
		}
		d, err := document.Decode(stored)
		if err != nil {
			return false, err
		}
		ok, err := query.Match(&pred, d)
		if err != nil {
			return false, err
		}
		if ok {
			keys = append(keys, append([]byte(nil), key...))
		}
		return true, nil
	})
	return keys, err
}

// Update applies mutation to every document in collection matching
// predicate, returning the number of documents changed. Per spec.md §4.8,
// the identifier field can never be touched by an update operator
// (guaranteed by pkg/query.Apply), so every match is replaced in place by
// its unchanged key.
func (db *DB) Update(collection string, predicate, mutation document.Document) (int64, error) {
	var n int64
	err := db.mgr.WithAuto(txn.ModeWrite, func(t *txn.Txn) error {
		keys, err := matchedKeys(t, collection, predicate)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
		}

		cat := catalog.Open(t)
		meta, ok, err := cat.Get(collection)
		if err != nil {
			return err
		}
		if !ok {
			return dberr.New(dberr.KindCollectionNotFound, "dendrodb.Update")
		}
		var tree btree.BTree
		tree.SetRoot(meta.Root)
		t.BindTree(&tree)

		for _, key := range keys {
			stored, found, err := tree.Get(key)
			if err != nil {
				return err
			}
			if !found {
				// Deleted by an earlier iteration of this same update, e.g. via
				// a self-referential predicate; nothing left to mutate.
				continue
			}
			d, err := document.Decode(stored)
			if err != nil {
				return err
			}
			updated, err := query.Apply(d, &mutation)
			if err != nil {
				return err
			}
			if err := tree.Insert(key, document.Encode(updated)); err != nil {
				return err
			}
			n++
		}
		return cat.SetRoot(collection, tree.GetRoot())
	})
	return n, err
}

// Delete removes every document in collection matching predicate,
// returning the number of documents removed.
func (db *DB) Delete(collection string, predicate document.Document) (int64, error) {
	var n int64
	err := db.mgr.WithAuto(txn.ModeWrite, func(t *txn.Txn) error {
		keys, err := matchedKeys(t, collection, predicate)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
		}

		cat := catalog.Open(t)
		meta, ok, err := cat.Get(collection)
		if err != nil {
			return err
		}
		if !ok {
			return dberr.New(dberr.KindCollectionNotFound, "dendrodb.Delete")
		}
		var tree btree.BTree
		tree.SetRoot(meta.Root)
		t.BindTree(&tree)

		for _, key := range keys {
			if deleted, err := tree.Delete(key); err != nil {
				return err
			} else if deleted {
				n++
			}
		}
		return cat.SetRoot(collection, tree.GetRoot())
	})
	return n, err
}

// DeleteAll removes every document in collection, returning the number
// removed. Equivalent to Delete(collection, document.Document{}) but
// avoids a predicate-matching pass over every stored document.
func (db *DB) DeleteAll(collection string) (int64, error) {
	var n int64
	err := db.mgr.WithAuto(txn.ModeWrite, func(t *txn.Txn) error {
		cat := catalog.Open(t)
		meta, ok, err := cat.Get(collection)
		if err != nil {
			return err
		}
		if !ok {
			return dberr.New(dberr.KindCollectionNotFound, "dendrodb.DeleteAll")
		}
		var tree btree.BTree
		tree.SetRoot(meta.Root)
		t.BindTree(&tree)

		var keys [][]byte
		if err := tree.Scan(nil, func(key, _ []byte) (bool, error) {
			if len(key) > 0 {
				keys = append(keys, append([]byte(nil), key...))
			}
			return true, nil
		}); err != nil {
			return err
		}
		for _, key := range keys {
			if deleted, err := tree.Delete(key); err != nil {
				return err
			} else if deleted {
				n++
			}
		}
		return cat.SetRoot(collection, tree.GetRoot())
	})
	return n, err
}
