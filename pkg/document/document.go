package document

import "strings"

// Document is an ordered string-keyed mapping of values. Field order is
// insertion order and is preserved through encode/decode round-trips
// (spec.md §3: "field order is significant and preserved").
type Document struct {
	keys []string
	vals map[string]Value
}

// New returns an empty document.
func New() *Document {
	return &Document{vals: make(map[string]Value)}
}

// Len returns the number of top-level fields.
func (d *Document) Len() int { return len(d.keys) }

// Keys returns the field names in insertion order. The returned slice must
// not be mutated by the caller.
func (d *Document) Keys() []string { return d.keys }

// Get returns the value stored at the top-level field name, if present.
func (d *Document) Get(name string) (Value, bool) {
	v, ok := d.vals[name]
	return v, ok
}

// Set inserts or overwrites a top-level field, preserving the original
// position on overwrite and appending on insert.
func (d *Document) Set(name string, v Value) {
	if d.vals == nil {
		d.vals = make(map[string]Value)
	}
	if _, exists := d.vals[name]; !exists {
		d.keys = append(d.keys, name)
	}
	d.vals[name] = v
}

// Delete removes a top-level field, reporting whether it was present.
func (d *Document) Delete(name string) bool {
	if _, ok := d.vals[name]; !ok {
		return false
	}
	delete(d.vals, name)
	for i, k := range d.keys {
		if k == name {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
	return true
}

// Rename moves the value at from to to, preserving from's position. Returns
// false if from is absent or to already exists.
func (d *Document) Rename(from, to string) bool {
	if from == to {
		_, ok := d.vals[from]
		return ok
	}
	v, ok := d.vals[from]
	if !ok {
		return false
	}
	if _, exists := d.vals[to]; exists {
		return false
	}
	delete(d.vals, from)
	d.vals[to] = v
	for i, k := range d.keys {
		if k == from {
			d.keys[i] = to
			break
		}
	}
	return true
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	out := New()
	for _, k := range d.keys {
		out.Set(k, cloneValue(d.vals[k]))
	}
	return out
}

func cloneValue(v Value) Value {
	switch v.Type {
	case TypeDocument:
		if v.doc == nil {
			return v
		}
		return NewDocument(v.doc.Clone())
	case TypeArray:
		cp := make([]Value, len(v.arr))
		for i, e := range v.arr {
			cp[i] = cloneValue(e)
		}
		return NewArray(cp)
	case TypeBinary:
		return NewBinary(v.bin)
	default:
		return v
	}
}

// splitPath splits a dotted field path ("a.b.2.c") into its segments.
func splitPath(path string) []string {
	return strings.Split(path, ".")
}

// GetPath resolves a dotted field path through nested documents and arrays
// (array segments are ASCII-decimal indices, per the array encoding in
// codec.go). Returns false if any segment is missing (spec.md §4.6:
// "missing fields compare as absent, distinct from an explicit null").
func (d *Document) GetPath(path string) (Value, bool) {
	segs := splitPath(path)
	cur := Value{Type: TypeDocument, doc: d}
	for _, seg := range segs {
		switch cur.Type {
		case TypeDocument:
			if cur.doc == nil {
				return Value{}, false
			}
			v, ok := cur.doc.Get(seg)
			if !ok {
				return Value{}, false
			}
			cur = v
		case TypeArray:
			idx, ok := parseArrayIndex(seg, len(cur.arr))
			if !ok {
				return Value{}, false
			}
			cur = cur.arr[idx]
		default:
			return Value{}, false
		}
	}
	return cur, true
}

func parseArrayIndex(seg string, n int) (int, bool) {
	if seg == "" {
		return 0, false
	}
	idx := 0
	for _, r := range seg {
		if r < '0' || r > '9' {
			return 0, false
		}
		idx = idx*10 + int(r-'0')
	}
	if idx < 0 || idx >= n {
		return 0, false
	}
	return idx, true
}

// SetPath writes v at a dotted field path, creating intermediate documents
// as needed. An array segment may only address an existing element and
// only as the path's last segment (paths descending into an array element
// return false); SetPath does not extend arrays.
func (d *Document) SetPath(path string, v Value) bool {
	segs := splitPath(path)
	return setPathIn(d, segs, v)
}

func setPathIn(d *Document, segs []string, v Value) bool {
	if len(segs) == 1 {
		d.Set(segs[0], v)
		return true
	}
	head, rest := segs[0], segs[1:]
	child, ok := d.Get(head)
	if !ok {
		nd := New()
		if !setPathIn(nd, rest, v) {
			return false
		}
		d.Set(head, NewDocument(nd))
		return true
	}
	switch child.Type {
	case TypeDocument:
		nd := child.doc
		if nd == nil {
			nd = New()
		}
		if !setPathIn(nd, rest, v) {
			return false
		}
		d.Set(head, NewDocument(nd))
		return true
	case TypeArray:
		idx, ok := parseArrayIndex(rest[0], len(child.arr))
		if !ok || len(rest) != 1 {
			return false
		}
		arr := append([]Value(nil), child.arr...)
		arr[idx] = v
		d.Set(head, NewArray(arr))
		return true
	default:
		return false
	}
}

// UnsetPath removes the field at a dotted path, reporting whether it was
// present.
func (d *Document) UnsetPath(path string) bool {
	segs := splitPath(path)
	if len(segs) == 1 {
		return d.Delete(segs[0])
	}
	parent, ok := d.GetPath(strings.Join(segs[:len(segs)-1], "."))
	if !ok || parent.Type != TypeDocument || parent.doc == nil {
		return false
	}
	return parent.doc.Delete(segs[len(segs)-1])
}
