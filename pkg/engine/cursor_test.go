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

func newTestManager(t *testing.T) *txn.Manager {
	t.Helper()
	dir := t.TempDir()
	p, err := pager.Open(filepath.Join(dir, "data.db"), pager.Options{})
	if err != nil {
		t.Fatalf("pager.Open: %v", err)
	}
	t.Cleanup(func() { p.Close() })

	w := &wal.WAL{Path: filepath.Join(dir, "data.wal")}
	if err := w.Open(); err != nil {
		t.Fatalf("wal.Open: %v", err)
	}
	t.Cleanup(func() { w.Close() })

	return txn.NewManager(p, w, nil, nil)
}

func createCollection(t *testing.T, mgr *txn.Manager, name string) {
	t.Helper()
	err := mgr.WithAuto(txn.ModeWrite, func(tx *txn.Txn) error {
		_, err := catalog.Open(tx).Create(name)
		return err
	})
	if err != nil {
		t.Fatalf("create collection %s: %v", name, err)
	}
}

func insertDoc(t *testing.T, mgr *txn.Manager, coll string, d *document.Document) ident.ID {
	t.Helper()
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
			return dberr.New(dberr.KindCollectionNotFound, "engine_test.insertDoc")
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
		t.Fatalf("insert into %s: %v", coll, err)
	}
	return id
}

func TestCursorFullScanFindsAllMatches(t *testing.T) {
	mgr := newTestManager(t)
	createCollection(t, mgr, "widgets")

	want := map[int64]bool{}
	for i := 0; i < 5; i++ {
		d := document.New()
		d.Set("n", document.NewInt64(int64(i)))
		insertDoc(t, mgr, "widgets", d)
		want[int64(i)] = true
	}

	c := NewCursor(mgr, nil, "widgets", nil)
	got := map[int64]bool{}
	for c.Step() {
		n, ok := c.Get().Get("n")
		if !ok {
			t.Fatal("expected field n on every row")
		}
		got[n.AsInt64()] = true
	}
	if c.State() != StateDone {
		t.Fatalf("expected Done, got %v (err=%v)", c.State(), c.Err())
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(got))
	}
	for k := range want {
		if !got[k] {
			t.Errorf("missing row n=%d", k)
		}
	}
}

func TestCursorFullScanAppliesPredicate(t *testing.T) {
	mgr := newTestManager(t)
	createCollection(t, mgr, "widgets")

	for i := 0; i < 10; i++ {
		d := document.New()
		d.Set("n", document.NewInt64(int64(i)))
		insertDoc(t, mgr, "widgets", d)
	}

	pred := document.New()
	pred.Set("n", document.NewDocument(gteDoc(5)))

	c := NewCursor(mgr, nil, "widgets", pred)
	count := 0
	for c.Step() {
		n, _ := c.Get().Get("n")
		if n.AsInt64() < 5 {
			t.Errorf("predicate should have excluded n=%d", n.AsInt64())
		}
		count++
	}
	if count != 5 {
		t.Errorf("expected 5 matching rows, got %d", count)
	}
}

func gteDoc(n int64) *document.Document {
	d := document.New()
	d.Set("$gte", document.NewInt64(n))
	return d
}

func TestCursorPointLookupByIdentifier(t *testing.T) {
	mgr := newTestManager(t)
	createCollection(t, mgr, "widgets")

	d := document.New()
	d.Set("name", document.NewString("gadget"))
	id := insertDoc(t, mgr, "widgets", d)

	// An unrelated second document must not be returned by the lookup.
	other := document.New()
	other.Set("name", document.NewString("other"))
	insertDoc(t, mgr, "widgets", other)

	pred := document.New()
	pred.Set("_id", document.NewIdentifier(id))

	c := NewCursor(mgr, nil, "widgets", pred)
	if c.plan.Kind != PlanPointLookup {
		t.Fatal("expected predicate on _id to compile to a point lookup")
	}
	if !c.Step() {
		t.Fatalf("expected a row, state=%v err=%v", c.State(), c.Err())
	}
	name, _ := c.Get().Get("name")
	if name.AsString() != "gadget" {
		t.Errorf("expected gadget, got %s", name.AsString())
	}
	if c.Step() {
		t.Error("expected point lookup to yield exactly one row")
	}
	if c.State() != StateDone {
		t.Errorf("expected Done after single row consumed, got %v", c.State())
	}
}

func TestCursorEmptyCollectionIsImmediatelyDone(t *testing.T) {
	mgr := newTestManager(t)
	createCollection(t, mgr, "empty")

	c := NewCursor(mgr, nil, "empty", nil)
	if c.Step() {
		t.Fatal("expected no rows on an empty collection")
	}
	if c.State() != StateDone {
		t.Errorf("expected Done, got %v", c.State())
	}
}

func TestCursorUnknownCollectionErrors(t *testing.T) {
	mgr := newTestManager(t)

	c := NewCursor(mgr, nil, "ghost", nil)
	if c.Step() {
		t.Fatal("expected no rows for a missing collection")
	}
	if c.State() != StateError || !dberr.Is(c.Err(), dberr.KindCollectionNotFound) {
		t.Fatalf("expected CollectionNotFound error, got state=%v err=%v", c.State(), c.Err())
	}
}

func TestCursorDetectsStaleCursorAcrossSteps(t *testing.T) {
	mgr := newTestManager(t)
	createCollection(t, mgr, "items")

	for i := 0; i < 2; i++ {
		d := document.New()
		d.Set("n", document.NewInt64(int64(i)))
		insertDoc(t, mgr, "items", d)
	}

	c := NewCursor(mgr, nil, "items", nil)
	if !c.Step() {
		t.Fatalf("expected first row, state=%v err=%v", c.State(), c.Err())
	}

	// A write lands between Step calls, moving the collection's root and
	// bumping its meta-version.
	extra := document.New()
	extra.Set("n", document.NewInt64(99))
	insertDoc(t, mgr, "items", extra)

	if c.Step() {
		t.Fatal("expected the second Step to detect staleness, not return a row")
	}
	if c.State() != StateError || !dberr.Is(c.Err(), dberr.KindStaleCursor) {
		t.Fatalf("expected StaleCursor error, got state=%v err=%v", c.State(), c.Err())
	}
}

func TestCursorToStr(t *testing.T) {
	mgr := newTestManager(t)
	createCollection(t, mgr, "widgets")

	d := document.New()
	d.Set("name", document.NewString("gadget"))
	d.Set("count", document.NewInt64(3))
	insertDoc(t, mgr, "widgets", d)

	c := NewCursor(mgr, nil, "widgets", nil)
	if !c.Step() {
		t.Fatalf("expected a row, state=%v err=%v", c.State(), c.Err())
	}
	s := c.ToStr()
	if s == "" {
		t.Error("expected a non-empty debug string")
	}
}
