package document

import (
	"testing"
	"time"

	"github.com/nainya/dendrodb/pkg/ident"
)

func buildSample() *Document {
	d := New()
	d.Set("_id", NewIdentifier(ident.GenerateAt(time.Unix(1700000000, 0))))
	d.Set("name", NewString("alice"))
	d.Set("age", NewInt64(30))
	d.Set("score", NewDouble(9.5))
	d.Set("active", NewBool(true))
	d.Set("joined", NewDateTime(time.UnixMilli(1700000000123).UTC()))
	d.Set("nil", Null)
	d.Set("blob", NewBinary([]byte{0xDE, 0xAD, 0xBE, 0xEF}))

	nested := New()
	nested.Set("city", NewString("nowhere"))
	d.Set("address", NewDocument(nested))

	d.Set("tags", NewArray([]Value{NewString("a"), NewString("b"), NewInt64(3)}))
	return d
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	orig := buildSample()
	enc := Encode(orig)

	got, err := Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got.Len() != orig.Len() {
		t.Fatalf("field count mismatch: got %d want %d", got.Len(), orig.Len())
	}
	for i, k := range orig.Keys() {
		if got.Keys()[i] != k {
			t.Fatalf("field order mismatch at %d: got %q want %q", i, got.Keys()[i], k)
		}
	}

	name, ok := got.Get("name")
	if !ok || name.AsString() != "alice" {
		t.Fatalf("name round-trip failed: %+v", name)
	}
	age, ok := got.Get("age")
	if !ok || age.AsInt64() != 30 {
		t.Fatalf("age round-trip failed: %+v", age)
	}
	score, ok := got.Get("score")
	if !ok || score.AsDouble() != 9.5 {
		t.Fatalf("score round-trip failed: %+v", score)
	}
	blob, ok := got.Get("blob")
	if !ok || len(blob.AsBinary()) != 4 {
		t.Fatalf("blob round-trip failed: %+v", blob)
	}

	addr, ok := got.GetPath("address.city")
	if !ok || addr.AsString() != "nowhere" {
		t.Fatalf("nested path round-trip failed: %+v", addr)
	}

	tag1, ok := got.GetPath("tags.1")
	if !ok || tag1.AsString() != "b" {
		t.Fatalf("array path round-trip failed: %+v", tag1)
	}
}

func TestEncodeDeterministic(t *testing.T) {
	d := buildSample()
	a := Encode(d)
	b := Encode(d)
	if len(a) != len(b) {
		t.Fatalf("encode length not stable: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("encode not byte-stable at offset %d", i)
		}
	}
}

func TestEncodeKeyDistinguishesAcrossTypes(t *testing.T) {
	intKey := EncodeKey(NewInt64(0))
	strKey := EncodeKey(NewString("0"))
	if string(intKey) == string(strKey) {
		t.Fatal("expected differently-typed _id values to produce distinct keys")
	}
	if len(intKey) == 0 {
		t.Fatal("expected a non-empty key for a non-null value")
	}
}

func TestEncodeKeyStableForEqualValues(t *testing.T) {
	a := EncodeKey(NewInt64(42))
	b := EncodeKey(NewInt64(42))
	if string(a) != string(b) {
		t.Fatal("expected equal values to encode to identical keys")
	}
}

func TestDecodeRejectsTruncated(t *testing.T) {
	d := buildSample()
	enc := Encode(d)
	if _, err := Decode(enc[:len(enc)-3]); err == nil {
		t.Fatal("expected error decoding truncated buffer")
	}
}

func TestSetPathCreatesIntermediateDocuments(t *testing.T) {
	d := New()
	if !d.SetPath("a.b.c", NewInt64(7)) {
		t.Fatal("SetPath returned false")
	}
	v, ok := d.GetPath("a.b.c")
	if !ok || v.AsInt64() != 7 {
		t.Fatalf("SetPath/GetPath round-trip failed: %+v", v)
	}
}

func TestUnsetPath(t *testing.T) {
	d := New()
	d.SetPath("a.b", NewInt64(1))
	if !d.UnsetPath("a.b") {
		t.Fatal("UnsetPath returned false")
	}
	if _, ok := d.GetPath("a.b"); ok {
		t.Fatal("field still present after UnsetPath")
	}
}

func TestCompareTypeRanking(t *testing.T) {
	if Compare(NewInt64(1), NewString("a")) >= 0 {
		t.Fatal("numeric should rank below string")
	}
	if Compare(Null, NewInt64(0)) >= 0 {
		t.Fatal("null should rank below numeric")
	}
	if Compare(NewInt64(5), NewDouble(5)) != 0 {
		t.Fatal("int64 and double of equal value should compare equal")
	}
}
