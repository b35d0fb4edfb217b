// Package catalog maps collection names to their storage location: a
// distinguished B-tree rooted at the pager's header page, keyed by
// collection name, valued with a CollectionMeta. Every structural change
// to a collection (create, drop, or a document insert/update/delete that
// moves the collection's own B-tree root) bumps MetaVersion, which
// pkg/engine uses to detect a cursor whose underlying collection has
// moved under it.
//
// Grounded on the teacher's pkg/metadata/store.go prefix-indexed B-tree
// usage pattern (encode a key, tx.Set, tx.Commit), simplified from its
// multi-index metadata model to a single name-keyed catalog.
package catalog

import (
	"encoding/binary"
	"sort"

	"github.com/nainya/dendrodb/pkg/btree"
	"github.com/nainya/dendrodb/pkg/dberr"
	"github.com/nainya/dendrodb/pkg/pager"
	"github.com/nainya/dendrodb/pkg/txn"
)

// Meta describes one collection's identity and storage location.
type Meta struct {
	ID          uint32
	MetaVersion uint32
	Root        pager.PageID
}

func encodeMeta(m Meta) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], m.ID)
	binary.LittleEndian.PutUint32(buf[4:8], m.MetaVersion)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(m.Root))
	return buf
}

func decodeMeta(b []byte) (Meta, error) {
	if len(b) < 16 {
		return Meta{}, dberr.New(dberr.KindCorruption, "catalog.decodeMeta")
	}
	return Meta{
		ID:          binary.LittleEndian.Uint32(b[0:4]),
		MetaVersion: binary.LittleEndian.Uint32(b[4:8]),
		Root:        pager.PageID(binary.LittleEndian.Uint64(b[8:16])),
	}, nil
}

// Catalog is a handle to the collection catalog bound to one
// transaction. A fresh Catalog must be opened per transaction (Open),
// mirroring how pkg/btree.BTree is bound to a single read/write view.
type Catalog struct {
	t    *txn.Txn
	tree btree.BTree
}

// Open binds a Catalog to t's transaction view, resuming the catalog
// tree from t's current catalog root.
func Open(t *txn.Txn) *Catalog {
	c := &Catalog{t: t}
	c.tree.SetRoot(t.CatalogRoot())
	t.BindTree(&c.tree)
	return c
}

// Get looks up a collection by name.
func (c *Catalog) Get(name string) (Meta, bool, error) {
	stored, ok, err := c.tree.Get([]byte(name))
	if err != nil || !ok {
		return Meta{}, ok, err
	}
	m, err := decodeMeta(stored)
	return m, err == nil, err
}

// List returns every collection name in lexicographic order.
func (c *Catalog) List() ([]string, error) {
	var names []string
	err := c.tree.Scan(nil, func(key, _ []byte) (bool, error) {
		if len(key) > 0 {
			names = append(names, string(key))
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Create registers a brand-new, empty collection, failing with
// dberr.KindCollectionExists if name is already registered.
func (c *Catalog) Create(name string) (Meta, error) {
	if _, ok, err := c.Get(name); err != nil {
		return Meta{}, err
	} else if ok {
		return Meta{}, dberr.New(dberr.KindCollectionExists, "catalog.Create")
	}

	id, err := c.nextID()
	if err != nil {
		return Meta{}, err
	}
	m := Meta{ID: id, MetaVersion: 1, Root: pager.InvalidPageID}
	if err := c.put(name, m); err != nil {
		return Meta{}, err
	}
	return m, nil
}

// Drop removes a collection's catalog entry. The caller is responsible
// for reclaiming the collection's own B-tree pages before calling Drop.
func (c *Catalog) Drop(name string) error {
	if _, ok, err := c.Get(name); err != nil {
		return err
	} else if !ok {
		return dberr.New(dberr.KindCollectionNotFound, "catalog.Drop")
	}
	if _, err := c.tree.Delete([]byte(name)); err != nil {
		return err
	}
	c.t.Session().SetCatalogRoot(c.tree.GetRoot())
	return nil
}

// SetRoot updates a collection's own B-tree root and bumps its
// MetaVersion, recording that its document set or shape changed.
func (c *Catalog) SetRoot(name string, root pager.PageID) error {
	m, ok, err := c.Get(name)
	if err != nil {
		return err
	}
	if !ok {
		return dberr.New(dberr.KindCollectionNotFound, "catalog.SetRoot")
	}
	m.Root = root
	m.MetaVersion++
	return c.put(name, m)
}

func (c *Catalog) put(name string, m Meta) error {
	if err := c.tree.Insert([]byte(name), encodeMeta(m)); err != nil {
		return err
	}
	c.t.Session().SetCatalogRoot(c.tree.GetRoot())
	return nil
}

// nextID allocates a collection id by scanning the current maximum and
// adding one; catalogs are small and created rarely, so a full scan is
// the teacher's approach (pkg/metadata has no dedicated id sequence
// either) rather than adding a header-page counter for this alone.
func (c *Catalog) nextID() (uint32, error) {
	var max uint32
	err := c.tree.Scan(nil, func(key, stored []byte) (bool, error) {
		if len(key) == 0 {
			return true, nil
		}
		m, err := decodeMeta(stored)
		if err != nil {
			return false, err
		}
		if m.ID > max {
			max = m.ID
		}
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}
