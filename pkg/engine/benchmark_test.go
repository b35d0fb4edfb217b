package engine

import (
	"path/filepath"
	"testing"

	"github.com/nainya/dendrodb/pkg/btree"
	"github.com/nainya/dendrodb/pkg/catalog"
	"github.com/nainya/dendrodb/pkg/dberr"
	"github.com/nainya/dendrodb/pkg/document"
	"github.com/nainya/dendrodb/pkg/ident"
	"github.com/nainya/dendrodb/pkg/pager"
	"github.com/nainya/dendrodb/pkg/txn"
	"github.com/nainya/dendrodb/pkg/wal"
)

func newBenchManager(tb testing.TB) *txn.Manager {
	tb.Helper()
	dir := tb.TempDir()
	p, err := pager.Open(filepath.Join(dir, "data.db"), pager.Options{})
	if err != nil {
		tb.Fatalf("pager.Open: %v", err)
	}
	tb.Cleanup(func() { p.Close() })

	w := &wal.WAL{Path: filepath.Join(dir, "data.wal")}
	if err := w.Open(); err != nil {
		tb.Fatalf("wal.Open: %v", err)
	}
	tb.Cleanup(func() { w.Close() })

	return txn.NewManager(p, w, nil, nil)
}

func createCollectionBench(tb testing.TB, mgr *txn.Manager, name string) {
	tb.Helper()
	err := mgr.WithAuto(txn.ModeWrite, func(tx *txn.Txn) error {
		_, err := catalog.Open(tx).Create(name)
		return err
	})
	if err != nil {
		tb.Fatalf("create collection %s: %v", name, err)
	}
}

func insertDocBench(tb testing.TB, mgr *txn.Manager, coll string, d *document.Document) ident.ID {
	tb.Helper()
	id := ident.Generate()
	idVal := document.NewIdentifier(id)
	d.Set("_id", idVal)
	encoded := document.Encode(d)
	key := document.EncodeKey(idVal)

	err := mgr.WithAuto(txn.ModeWrite, func(tx *txn.Txn) error {
		cat := catalog.Open(tx)
		meta, ok, err := cat.Get(coll)
		if err != nil {
			return err
		}
		if !ok {
			return dberr.New(dberr.KindCollectionNotFound, "engine_bench.insertDocBench")
		}

		var tree btree.BTree
		tree.SetRoot(meta.Root)
		tx.BindTree(&tree)
		if err := tree.Insert(key, encoded); err != nil {
			return err
		}
		return cat.SetRoot(coll, tree.GetRoot())
	})
	if err != nil {
		tb.Fatalf("insert into %s: %v", coll, err)
	}
	return id
}

func BenchmarkCursorFullScan(b *testing.B) {
	mgr := newBenchManager(b)
	createCollectionBench(b, mgr, "widgets")

	numDocs := 10000
	for i := 0; i < numDocs; i++ {
		d := document.New()
		d.Set("n", document.NewInt64(int64(i)))
		insertDocBench(b, mgr, "widgets", d)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c := NewCursor(mgr, nil, "widgets", nil)
		count := 0
		for c.Step() {
			count++
		}
		if c.State() != StateDone {
			b.Fatalf("expected Done, got %v (err=%v)", c.State(), c.Err())
		}
		if count != numDocs {
			b.Fatalf("expected %d rows, got %d", numDocs, count)
		}
	}
}

func BenchmarkCursorPointLookup(b *testing.B) {
	mgr := newBenchManager(b)
	createCollectionBench(b, mgr, "widgets")

	numDocs := 1000
	ids := make([]document.Value, numDocs)
	for i := 0; i < numDocs; i++ {
		d := document.New()
		d.Set("n", document.NewInt64(int64(i)))
		id := insertDocBench(b, mgr, "widgets", d)
		ids[i] = document.NewIdentifier(id)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pred := document.New()
		pred.Set("_id", ids[i%numDocs])
		c := NewCursor(mgr, nil, "widgets", pred)
		if !c.Step() {
			b.Fatalf("expected a row, err=%v", c.Err())
		}
	}
}
