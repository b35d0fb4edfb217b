package document

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/nainya/dendrodb/pkg/dberr"
	"github.com/nainya/dendrodb/pkg/ident"
)

// Encode produces the self-describing binary form of d (spec.md §4.5):
// a uint32 little-endian total length (including itself), a uint32 field
// count, then each field as a length-prefixed UTF-8 key followed by a
// tagged value. Arrays encode as documents whose keys are ASCII decimal
// indices in order.
func Encode(d *Document) []byte {
	buf := make([]byte, 4, 64)
	buf = appendDocumentBody(buf, d)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(buf)))
	return buf
}

func appendDocumentBody(buf []byte, d *Document) []byte {
	var count uint32
	if d != nil {
		count = uint32(len(d.keys))
	}
	cbuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(cbuf, count)
	buf = append(buf, cbuf...)
	if d == nil {
		return buf
	}
	for _, k := range d.keys {
		buf = appendString(buf, k)
		buf = appendValue(buf, d.vals[k])
	}
	return buf
}

func appendString(buf []byte, s string) []byte {
	lbuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lbuf, uint32(len(s)))
	buf = append(buf, lbuf...)
	return append(buf, s...)
}

func appendValue(buf []byte, v Value) []byte {
	buf = append(buf, byte(v.Type))
	switch v.Type {
	case TypeDouble:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, math.Float64bits(v.double))
		buf = append(buf, b...)
	case TypeString:
		buf = appendString(buf, v.str)
	case TypeBinary:
		lbuf := make([]byte, 4)
		binary.LittleEndian.PutUint32(lbuf, uint32(len(v.bin)))
		buf = append(buf, lbuf...)
		buf = append(buf, v.bin...)
	case TypeIdentifier:
		buf = append(buf, v.id[:]...)
	case TypeBoolean:
		if v.boolean {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case TypeDateTime:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, uint64(v.datetime.UnixMilli()))
		buf = append(buf, b...)
	case TypeNull:
		// no payload
	case TypeDocument:
		start := len(buf)
		buf = append(buf, 0, 0, 0, 0)
		buf = appendDocumentBody(buf, v.doc)
		binary.LittleEndian.PutUint32(buf[start:start+4], uint32(len(buf)-start))
	case TypeInt64:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, uint64(v.int64v))
		buf = append(buf, b...)
	case TypeArray:
		start := len(buf)
		buf = append(buf, 0, 0, 0, 0)
		arrDoc := New()
		for i, e := range v.arr {
			arrDoc.Set(strconv.Itoa(i), e)
		}
		buf = appendDocumentBody(buf, arrDoc)
		binary.LittleEndian.PutUint32(buf[start:start+4], uint32(len(buf)-start))
	}
	return buf
}

// EncodeKey produces the B-tree key bytes for a document's identifier value
// (spec.md §3: the primary key is whatever value the _id field holds, not
// only a generated identifier). It reuses the tagged value encoding so
// distinct values, including across types, never collide.
func EncodeKey(v Value) []byte {
	return appendValue(nil, v)
}

// Decode parses the binary form produced by Encode.
func Decode(b []byte) (*Document, error) {
	if len(b) < 8 {
		return nil, dberr.Wrap(dberr.KindCorruption, "document.Decode", fmt.Errorf("buffer too short: %d bytes", len(b)))
	}
	total := binary.LittleEndian.Uint32(b[0:4])
	if int(total) != len(b) {
		return nil, dberr.Wrap(dberr.KindCorruption, "document.Decode",
			fmt.Errorf("length prefix %d does not match buffer size %d", total, len(b)))
	}
	d, _, err := decodeDocumentBody(b[4:])
	if err != nil {
		return nil, err
	}
	return d, nil
}

func decodeDocumentBody(b []byte) (*Document, int, error) {
	if len(b) < 4 {
		return nil, 0, dberr.Wrap(dberr.KindCorruption, "document.decodeDocumentBody", fmt.Errorf("truncated field count"))
	}
	count := binary.LittleEndian.Uint32(b[0:4])
	off := 4
	d := New()
	for i := uint32(0); i < count; i++ {
		key, n, err := decodeString(b[off:])
		if err != nil {
			return nil, 0, err
		}
		off += n
		v, n, err := decodeValue(b[off:])
		if err != nil {
			return nil, 0, err
		}
		off += n
		d.Set(key, v)
	}
	return d, off, nil
}

func decodeString(b []byte) (string, int, error) {
	if len(b) < 4 {
		return "", 0, dberr.Wrap(dberr.KindCorruption, "document.decodeString", fmt.Errorf("truncated string length"))
	}
	l := binary.LittleEndian.Uint32(b[0:4])
	if uint32(len(b)-4) < l {
		return "", 0, dberr.Wrap(dberr.KindCorruption, "document.decodeString", fmt.Errorf("truncated string body"))
	}
	return string(b[4 : 4+l]), int(4 + l), nil
}

func decodeValue(b []byte) (Value, int, error) {
	if len(b) < 1 {
		return Value{}, 0, dberr.Wrap(dberr.KindCorruption, "document.decodeValue", fmt.Errorf("truncated value tag"))
	}
	tag := Type(b[0])
	off := 1
	switch tag {
	case TypeDouble:
		if len(b[off:]) < 8 {
			return Value{}, 0, shortValue("double")
		}
		bits := binary.LittleEndian.Uint64(b[off : off+8])
		return NewDouble(math.Float64frombits(bits)), off + 8, nil
	case TypeString:
		s, n, err := decodeString(b[off:])
		if err != nil {
			return Value{}, 0, err
		}
		return NewString(s), off + n, nil
	case TypeBinary:
		if len(b[off:]) < 4 {
			return Value{}, 0, shortValue("binary")
		}
		l := binary.LittleEndian.Uint32(b[off : off+4])
		start := off + 4
		if uint32(len(b)-start) < l {
			return Value{}, 0, shortValue("binary")
		}
		return NewBinary(b[start : start+int(l)]), start + int(l), nil
	case TypeIdentifier:
		if len(b[off:]) < ident.Size {
			return Value{}, 0, shortValue("identifier")
		}
		id, _ := ident.FromBytes(b[off : off+ident.Size])
		return NewIdentifier(id), off + ident.Size, nil
	case TypeBoolean:
		if len(b[off:]) < 1 {
			return Value{}, 0, shortValue("boolean")
		}
		return NewBool(b[off] != 0), off + 1, nil
	case TypeDateTime:
		if len(b[off:]) < 8 {
			return Value{}, 0, shortValue("datetime")
		}
		ms := int64(binary.LittleEndian.Uint64(b[off : off+8]))
		return NewDateTime(time.UnixMilli(ms).UTC()), off + 8, nil
	case TypeNull:
		return Null, off, nil
	case TypeDocument:
		if len(b[off:]) < 4 {
			return Value{}, 0, shortValue("document")
		}
		total := binary.LittleEndian.Uint32(b[off : off+4])
		if uint32(len(b)-off) < total {
			return Value{}, 0, shortValue("document")
		}
		sub, _, err := decodeDocumentBody(b[off+4 : off+int(total)])
		if err != nil {
			return Value{}, 0, err
		}
		return NewDocument(sub), off + int(total), nil
	case TypeInt64:
		if len(b[off:]) < 8 {
			return Value{}, 0, shortValue("int64")
		}
		return NewInt64(int64(binary.LittleEndian.Uint64(b[off : off+8]))), off + 8, nil
	case TypeArray:
		if len(b[off:]) < 4 {
			return Value{}, 0, shortValue("array")
		}
		total := binary.LittleEndian.Uint32(b[off : off+4])
		if uint32(len(b)-off) < total {
			return Value{}, 0, shortValue("array")
		}
		sub, _, err := decodeDocumentBody(b[off+4 : off+int(total)])
		if err != nil {
			return Value{}, 0, err
		}
		arr := make([]Value, sub.Len())
		for i, k := range sub.Keys() {
			v, _ := sub.Get(k)
			arr[i] = v
		}
		return NewArray(arr), off + int(total), nil
	default:
		return Value{}, 0, dberr.Wrap(dberr.KindCorruption, "document.decodeValue",
			fmt.Errorf("unknown type tag 0x%02x", byte(tag)))
	}
}

func shortValue(what string) error {
	return dberr.Wrap(dberr.KindCorruption, "document.decodeValue", fmt.Errorf("truncated %s value", what))
}
