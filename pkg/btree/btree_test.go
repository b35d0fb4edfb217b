package btree

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/nainya/dendrodb/pkg/pager"
)

// testContext simulates the page store a pager.WriteSession provides, so
// the tree can be exercised without an on-disk file. Overflow chains are
// modeled as a simple map from chain id to its ordered chunk ids —
// pkg/pager's own tests cover the real on-disk chain format.
type testContext struct {
	tree   BTree
	ref    map[string]string
	pages  map[pager.PageID][]byte
	chains map[pager.PageID][]pager.PageID
	next   pager.PageID
}

const testChunkSize = 256

func newTestContext() *testContext {
	c := &testContext{
		pages:  map[pager.PageID][]byte{},
		chains: map[pager.PageID][]pager.PageID{},
		ref:    map[string]string{},
		next:   1,
	}
	c.tree.SetCallbacks(
		func(id pager.PageID) []byte {
			node, ok := c.pages[id]
			if !ok {
				panic("page not found")
			}
			return node
		},
		func(node []byte) pager.PageID {
			if BNode(node).nbytes() > BTREE_PAGE_SIZE {
				panic("node too large")
			}
			id := c.alloc()
			c.pages[id] = append([]byte(nil), node...)
			return id
		},
		func(id pager.PageID, node []byte) {
			c.pages[id] = append([]byte(nil), node...)
		},
		func(id pager.PageID) {
			if _, ok := c.pages[id]; !ok {
				panic("page not allocated")
			}
			delete(c.pages, id)
		},
		c.writeOverflow,
		c.readOverflow,
		c.freeOverflow,
	)
	return c
}

func (c *testContext) alloc() pager.PageID {
	id := c.next
	c.next++
	return id
}

func (c *testContext) writeOverflow(doc []byte) pager.OverflowRef {
	var ids []pager.PageID
	for offset := 0; offset < len(doc) || len(ids) == 0; offset += testChunkSize {
		end := offset + testChunkSize
		if end > len(doc) {
			end = len(doc)
		}
		id := c.alloc()
		c.pages[id] = append([]byte(nil), doc[offset:end]...)
		ids = append(ids, id)
		if end == len(doc) {
			break
		}
	}
	first := ids[0]
	c.chains[first] = ids
	return pager.OverflowRef{FirstPage: first, Length: uint32(len(doc))}
}

func (c *testContext) readOverflow(ref pager.OverflowRef) ([]byte, error) {
	ids := c.chains[ref.FirstPage]
	out := make([]byte, 0, ref.Length)
	for _, id := range ids {
		out = append(out, c.pages[id]...)
	}
	return out[:ref.Length], nil
}

func (c *testContext) freeOverflow(ref pager.OverflowRef) {
	for _, id := range c.chains[ref.FirstPage] {
		delete(c.pages, id)
	}
	delete(c.chains, ref.FirstPage)
}

func (c *testContext) add(key, val string) {
	if err := c.tree.Insert([]byte(key), []byte(val)); err != nil {
		panic(err)
	}
	c.ref[key] = val
}

func (c *testContext) del(key string) bool {
	delete(c.ref, key)
	ok, err := c.tree.Delete([]byte(key))
	if err != nil {
		panic(err)
	}
	return ok
}

func TestBTreeBasicInsertGet(t *testing.T) {
	c := newTestContext()

	c.add("key1", "val1")
	c.add("key2", "val2")
	c.add("key3", "val3")

	val, ok, err := c.tree.Get([]byte("key2"))
	if err != nil || !ok {
		t.Fatalf("key2 not found: %v", err)
	}
	if string(val) != "val2" {
		t.Errorf("expected val2, got %s", val)
	}

	_, ok, _ = c.tree.Get([]byte("key4"))
	if ok {
		t.Error("expected key4 to not exist")
	}
}

func TestBTreeUpdate(t *testing.T) {
	c := newTestContext()

	c.add("key1", "val1")
	c.add("key1", "val1_updated")

	val, ok, _ := c.tree.Get([]byte("key1"))
	if !ok {
		t.Fatal("key1 not found")
	}
	if string(val) != "val1_updated" {
		t.Errorf("expected val1_updated, got %s", val)
	}
}

func TestBTreeDelete(t *testing.T) {
	c := newTestContext()

	c.add("key1", "val1")
	c.add("key2", "val2")
	c.add("key3", "val3")

	if ok := c.del("key2"); !ok {
		t.Error("expected successful delete")
	}

	if _, ok, _ := c.tree.Get([]byte("key2")); ok {
		t.Error("key2 should be deleted")
	}

	val, ok, _ := c.tree.Get([]byte("key1"))
	if !ok || string(val) != "val1" {
		t.Error("key1 should still exist")
	}
}

func TestBTreeMultipleInsertions(t *testing.T) {
	c := newTestContext()

	for i := 0; i < 100; i++ {
		c.add(fmt.Sprintf("key%03d", i), fmt.Sprintf("val%03d", i))
	}

	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("key%03d", i)
		want := fmt.Sprintf("val%03d", i)
		val, ok, _ := c.tree.Get([]byte(key))
		if !ok || string(val) != want {
			t.Errorf("key %s: expected %s, got %s (ok=%v)", key, want, val, ok)
		}
	}
}

func TestBTree1500InsertionsForcesSplitting(t *testing.T) {
	c := newTestContext()

	for i := 0; i < 1500; i++ {
		c.add(fmt.Sprintf("key%05d", i), fmt.Sprintf("value%05d", i))
	}

	for i := 0; i < 1500; i++ {
		key := fmt.Sprintf("key%05d", i)
		want := fmt.Sprintf("value%05d", i)
		val, ok, _ := c.tree.Get([]byte(key))
		if !ok || string(val) != want {
			t.Errorf("key %s: expected %s, got %s (ok=%v)", key, want, val, ok)
		}
	}
}

func TestBTreeInsertDeleteMixed(t *testing.T) {
	c := newTestContext()

	for i := 0; i < 50; i++ {
		c.add(fmt.Sprintf("key%03d", i), fmt.Sprintf("val%03d", i))
	}
	for i := 0; i < 50; i += 2 {
		c.del(fmt.Sprintf("key%03d", i))
	}

	for i := 0; i < 50; i += 2 {
		key := fmt.Sprintf("key%03d", i)
		if _, ok, _ := c.tree.Get([]byte(key)); ok {
			t.Errorf("key %s should be deleted", key)
		}
	}
	for i := 1; i < 50; i += 2 {
		key := fmt.Sprintf("key%03d", i)
		want := fmt.Sprintf("val%03d", i)
		val, ok, _ := c.tree.Get([]byte(key))
		if !ok || string(val) != want {
			t.Errorf("key %s: expected %s, got %s (ok=%v)", key, want, val, ok)
		}
	}
}

func TestBTreeNonExistentDelete(t *testing.T) {
	c := newTestContext()
	c.add("key1", "val1")

	ok, err := c.tree.Delete([]byte("key2"))
	if err != nil || ok {
		t.Error("expected delete to fail for non-existent key")
	}
}

func TestBTreeEmptyTree(t *testing.T) {
	c := newTestContext()

	if _, ok, _ := c.tree.Get([]byte("key1")); ok {
		t.Error("expected Get to fail on empty tree")
	}
	if ok, _ := c.tree.Delete([]byte("key1")); ok {
		t.Error("expected Delete to fail on empty tree")
	}
}

func TestBTreeSentinelKey(t *testing.T) {
	c := newTestContext()
	c.add("a", "val_a")

	if _, ok, _ := c.tree.Get([]byte("0")); ok {
		t.Error("expected key '0' to not exist")
	}
}

func TestBTreeIdentifierKeysAndOverflowValue(t *testing.T) {
	c := newTestContext()

	key := make([]byte, 12)
	for i := range key {
		key[i] = byte(i)
	}
	big := bytes.Repeat([]byte("x"), inlineThreshold*3)

	if err := c.tree.Insert(key, big); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, ok, err := c.tree.Get(key)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got, big) {
		t.Fatal("overflow value did not round-trip")
	}

	if _, ok := c.chains[c.overflowFirstPageFor(t, key)]; !ok {
		t.Fatal("expected an overflow chain to be recorded")
	}

	deleted, err := c.tree.Delete(key)
	if err != nil || !deleted {
		t.Fatalf("Delete: deleted=%v err=%v", deleted, err)
	}
	if len(c.chains) != 0 {
		t.Error("expected overflow chain to be freed on delete")
	}
}

func (c *testContext) overflowFirstPageFor(t *testing.T, key []byte) pager.PageID {
	t.Helper()
	node := BNode(c.tree.get(c.tree.root))
	stored, ok := treeGet(&c.tree, node, key)
	if !ok || stored[0] != valueOverflow {
		t.Fatal("expected key to be stored as an overflow value")
	}
	ref, err := pager.DecodeOverflowRef(stored[1:])
	if err != nil {
		t.Fatal(err)
	}
	return ref.FirstPage
}
