// Package document implements the engine's typed document value model
// (spec.md §3, §4.5): an ordered string-keyed mapping to tagged values, and
// its self-describing binary codec.
//
// Grounded on the teacher's tag-prefixed, length-prefixed composite-key
// codec in pkg/storage/encoding.go, retargeted to the spec's exact tag set
// and to recursive document/array containers instead of flat sort keys.
package document

import (
	"time"

	"github.com/nainya/dendrodb/pkg/ident"
)

// Type is the one-byte tag prefixing every encoded value (spec.md §4.5).
type Type byte

const (
	TypeDouble     Type = 0x01
	TypeString     Type = 0x02
	TypeBinary     Type = 0x05
	TypeIdentifier Type = 0x07
	TypeBoolean    Type = 0x08
	TypeDateTime   Type = 0x09
	TypeNull       Type = 0x0A
	TypeDocument   Type = 0x13
	TypeInt64      Type = 0x16
	TypeArray      Type = 0x17
)

func (t Type) String() string {
	switch t {
	case TypeDouble:
		return "double"
	case TypeString:
		return "string"
	case TypeBinary:
		return "binary"
	case TypeIdentifier:
		return "identifier"
	case TypeBoolean:
		return "boolean"
	case TypeDateTime:
		return "datetime"
	case TypeNull:
		return "null"
	case TypeDocument:
		return "document"
	case TypeInt64:
		return "int64"
	case TypeArray:
		return "array"
	default:
		return "unknown"
	}
}

// typeRank orders types for heterogeneous $lt/$gt-style comparisons
// (spec.md §4.7: "heterogeneous types compare by type rank first").
// Ranking follows the host database's documented sort order: null, numbers,
// strings, documents, arrays, binary, identifier, boolean, datetime.
func typeRank(t Type) int {
	switch t {
	case TypeNull:
		return 0
	case TypeDouble, TypeInt64:
		return 1
	case TypeString:
		return 2
	case TypeDocument:
		return 3
	case TypeArray:
		return 4
	case TypeBinary:
		return 5
	case TypeIdentifier:
		return 6
	case TypeBoolean:
		return 7
	case TypeDateTime:
		return 8
	default:
		return 99
	}
}

// Value is a tagged union over the engine's value model.
type Value struct {
	Type Type

	double   float64
	str      string
	bin      []byte
	id       ident.ID
	boolean  bool
	datetime time.Time
	doc      *Document
	int64v   int64
	arr      []Value
}

// Null is the singleton null value.
var Null = Value{Type: TypeNull}

func NewDouble(v float64) Value  { return Value{Type: TypeDouble, double: v} }
func NewString(v string) Value   { return Value{Type: TypeString, str: v} }
func NewBinary(v []byte) Value   { return Value{Type: TypeBinary, bin: append([]byte(nil), v...)} }
func NewIdentifier(v ident.ID) Value { return Value{Type: TypeIdentifier, id: v} }
func NewBool(v bool) Value       { return Value{Type: TypeBoolean, boolean: v} }
func NewInt64(v int64) Value     { return Value{Type: TypeInt64, int64v: v} }

// NewDateTime stores t truncated to millisecond precision (spec.md §3: "UTC
// timestamp in milliseconds").
func NewDateTime(t time.Time) Value {
	ms := t.UnixMilli()
	return Value{Type: TypeDateTime, datetime: time.UnixMilli(ms).UTC()}
}

func NewDocument(d *Document) Value { return Value{Type: TypeDocument, doc: d} }
func NewArray(v []Value) Value      { return Value{Type: TypeArray, arr: append([]Value(nil), v...)} }

func (v Value) AsDouble() float64      { return v.double }
func (v Value) AsString() string       { return v.str }
func (v Value) AsBinary() []byte       { return v.bin }
func (v Value) AsIdentifier() ident.ID { return v.id }
func (v Value) AsBool() bool           { return v.boolean }
func (v Value) AsDateTime() time.Time  { return v.datetime }
func (v Value) AsDocument() *Document  { return v.doc }
func (v Value) AsInt64() int64         { return v.int64v }
func (v Value) AsArray() []Value       { return v.arr }

// IsNumeric reports whether the value is a double or int64 (spec.md §4.8:
// $inc/$mul operate on "existing integer or double").
func (v Value) IsNumeric() bool {
	return v.Type == TypeDouble || v.Type == TypeInt64
}

// Number returns the value as a float64 regardless of whether it is stored
// as double or int64.
func (v Value) Number() float64 {
	if v.Type == TypeInt64 {
		return float64(v.int64v)
	}
	return v.double
}

// Equal reports deep value equality, used by $eq/$in/matcher dispatch.
func Equal(a, b Value) bool {
	return Compare(a, b) == 0
}

// Compare orders two values: first by type rank, then by value within the
// same type (spec.md §4.7). Returns <0, 0, or >0.
func Compare(a, b Value) int {
	ra, rb := typeRank(a.Type), typeRank(b.Type)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}

	switch a.Type {
	case TypeNull:
		return 0
	case TypeDouble, TypeInt64:
		an, bn := a.Number(), b.Number()
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		default:
			return 0
		}
	case TypeString:
		return compareStrings(a.str, b.str)
	case TypeBinary:
		return compareBytes(a.bin, b.bin)
	case TypeIdentifier:
		return compareBytes(a.id[:], b.id[:])
	case TypeBoolean:
		if a.boolean == b.boolean {
			return 0
		}
		if !a.boolean {
			return -1
		}
		return 1
	case TypeDateTime:
		switch {
		case a.datetime.Before(b.datetime):
			return -1
		case a.datetime.After(b.datetime):
			return 1
		default:
			return 0
		}
	case TypeDocument:
		return compareDocuments(a.doc, b.doc)
	case TypeArray:
		return compareArrays(a.arr, b.arr)
	default:
		return 0
	}
}

func compareStrings(a, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

func compareDocuments(a, b *Document) int {
	if a == nil || b == nil {
		if a == b {
			return 0
		}
		if a == nil {
			return -1
		}
		return 1
	}
	n := len(a.keys)
	if len(b.keys) < n {
		n = len(b.keys)
	}
	for i := 0; i < n; i++ {
		if c := compareStrings(a.keys[i], b.keys[i]); c != 0 {
			return c
		}
		av, _ := a.Get(a.keys[i])
		bv, _ := b.Get(b.keys[i])
		if c := Compare(av, bv); c != 0 {
			return c
		}
	}
	switch {
	case len(a.keys) < len(b.keys):
		return -1
	case len(a.keys) > len(b.keys):
		return 1
	default:
		return 0
	}
}

func compareArrays(a, b []Value) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}
