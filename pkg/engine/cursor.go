package engine

import (
	"fmt"
	"strings"

	"github.com/nainya/dendrodb/internal/metrics"
	"github.com/nainya/dendrodb/pkg/btree"
	"github.com/nainya/dendrodb/pkg/catalog"
	"github.com/nainya/dendrodb/pkg/dberr"
	"github.com/nainya/dendrodb/pkg/document"
	"github.com/nainya/dendrodb/pkg/query"
	"github.com/nainya/dendrodb/pkg/txn"
)

// State is a Cursor's position in its Init -> HasRow -> Done/Error
// lifecycle (spec.md §4.9).
type State int

const (
	StateInit State = iota
	StateHasRow
	StateDone
	StateError
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateHasRow:
		return "hasrow"
	case StateDone:
		return "done"
	default:
		return "error"
	}
}

// Cursor is a single-forward-iteration object over a collection's
// matching rows. Each Step opens a short, independent read transaction
// rather than pinning one snapshot for the cursor's whole life — a
// collection's own B-tree root moves on every structural change (§4.4:
// copy-on-write replaces the root on every insert/update/delete), so a
// long-lived cursor would otherwise either starve the freelist's
// quarantine (§5) by pinning an old snapshot indefinitely, or silently
// read a mix of pre- and post-commit state. Instead every Step resumes
// the scan by key (btree.BIter.Resume) and checks the collection's
// meta_version against what the cursor first observed; a mismatch means
// the collection's shape changed under the cursor, surfaced as
// dberr.KindStaleCursor rather than silently producing skipped or
// duplicated rows.
type Cursor struct {
	mgr        *txn.Manager
	metrics    *metrics.Metrics
	collection string
	pred       *document.Document
	plan       Plan

	state State
	err   error

	current  *document.Document
	lastKey  []byte
	consumed bool // point lookups yield at most one row

	haveVersion bool
	expectVer   uint32
}

// NewCursor compiles pred into a plan and returns a cursor in state Init.
// A nil metrics is accepted and disables step instrumentation.
func NewCursor(mgr *txn.Manager, m *metrics.Metrics, collection string, pred *document.Document) *Cursor {
	return &Cursor{
		mgr:        mgr,
		metrics:    m,
		collection: collection,
		pred:       pred,
		plan:       Compile(pred),
		state:      StateInit,
	}
}

// State returns the cursor's current lifecycle state.
func (c *Cursor) State() State { return c.state }

// Err returns the error that produced StateError, or nil.
func (c *Cursor) Err() error { return c.err }

// Get returns the current row. Valid only in StateHasRow.
func (c *Cursor) Get() *document.Document { return c.current }

// ToStr renders the current row as a compact debug string. It is a
// diagnostic helper, not a stable serialization format.
func (c *Cursor) ToStr() string {
	if c.current == nil {
		return ""
	}
	return toDebugString(document.NewDocument(c.current))
}

func toDebugString(v document.Value) string {
	switch v.Type {
	case document.TypeDocument:
		d := v.AsDocument()
		if d == nil {
			return "{}"
		}
		parts := make([]string, 0, d.Len())
		for _, k := range d.Keys() {
			fv, _ := d.Get(k)
			parts = append(parts, fmt.Sprintf("%s:%s", k, toDebugString(fv)))
		}
		return "{" + strings.Join(parts, ",") + "}"
	case document.TypeArray:
		parts := make([]string, 0, len(v.AsArray()))
		for _, e := range v.AsArray() {
			parts = append(parts, toDebugString(e))
		}
		return "[" + strings.Join(parts, ",") + "]"
	case document.TypeString:
		return fmt.Sprintf("%q", v.AsString())
	case document.TypeInt64:
		return fmt.Sprintf("%d", v.AsInt64())
	case document.TypeDouble:
		return fmt.Sprintf("%g", v.AsDouble())
	case document.TypeBoolean:
		return fmt.Sprintf("%t", v.AsBool())
	case document.TypeNull:
		return "null"
	case document.TypeIdentifier:
		return v.AsIdentifier().String()
	case document.TypeDateTime:
		return v.AsDateTime().String()
	case document.TypeBinary:
		return fmt.Sprintf("bin(%d)", len(v.AsBinary()))
	default:
		return ""
	}
}

// Close releases the cursor. Because no transaction is pinned between
// Step calls, Close only marks the cursor as finished; it is safe to call
// more than once.
func (c *Cursor) Close() error {
	c.state = StateDone
	c.current = nil
	return nil
}

// Step advances the cursor. From Init it opens the scan and finds the
// first matching row; from HasRow it finds the next one; on exhaustion it
// transitions to Done. It returns true iff the cursor is now in HasRow.
func (c *Cursor) Step() bool {
	if c.state == StateDone || c.state == StateError {
		return false
	}
	if c.plan.Kind == PlanPointLookup && c.consumed {
		c.finish(StateDone, nil)
		return false
	}

	for {
		doc, key, found, err := c.advance()
		if err != nil {
			c.finish(StateError, err)
			return false
		}
		if !found {
			c.finish(StateDone, nil)
			return false
		}
		c.lastKey = key
		if c.plan.Kind == PlanPointLookup {
			c.consumed = true
		}

		ok, err := query.Match(c.pred, doc)
		if err != nil {
			c.finish(StateError, err)
			return false
		}
		if ok {
			c.current = doc
			c.state = StateHasRow
			c.record()
			return true
		}
		if c.plan.Kind == PlanPointLookup {
			c.finish(StateDone, nil)
			return false
		}
		// Full scan: the candidate didn't match, resume from this key.
	}
}

func (c *Cursor) finish(s State, err error) {
	c.state = s
	c.err = err
	c.current = nil
	c.record()
}

func (c *Cursor) record() {
	if c.metrics != nil {
		c.metrics.RecordCursorStep(c.state.String())
	}
}

// advance opens one short read transaction and returns the next candidate
// row strictly after the cursor's last-visited key.
func (c *Cursor) advance() (*document.Document, []byte, bool, error) {
	var (
		resultDoc *document.Document
		resultKey []byte
		found     bool
	)

	err := c.mgr.WithAuto(txn.ModeRead, func(t *txn.Txn) error {
		cat := catalog.Open(t)
		meta, ok, err := cat.Get(c.collection)
		if err != nil {
			return err
		}
		if !ok {
			return dberr.New(dberr.KindCollectionNotFound, "engine.Cursor.Step")
		}
		if c.haveVersion && meta.MetaVersion != c.expectVer {
			return dberr.New(dberr.KindStaleCursor, "engine.Cursor.Step")
		}
		c.expectVer = meta.MetaVersion
		c.haveVersion = true

		var tree btree.BTree
		tree.SetRoot(meta.Root)
		t.BindTree(&tree)

		if c.plan.Kind == PlanPointLookup {
			stored, ok, err := tree.Get(c.plan.ID)
			if err != nil || !ok {
				return err
			}
			d, err := document.Decode(stored)
			if err != nil {
				return err
			}
			resultDoc, resultKey, found = d, c.plan.ID, true
			return nil
		}

		iter := tree.NewIterator()
		if !iter.Resume(c.lastKey) {
			return nil
		}
		stored, err := iter.Doc()
		if err != nil {
			return err
		}
		d, err := document.Decode(stored)
		if err != nil {
			return err
		}
		resultDoc = d
		resultKey = append([]byte(nil), iter.Key()...)
		found = true
		return nil
	})
	if err != nil {
		return nil, nil, false, err
	}
	return resultDoc, resultKey, found, nil
}
