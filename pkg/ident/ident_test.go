package ident

import (
	"testing"
	"time"
)

func TestGenerateAtEncodesTimestampBigEndian(t *testing.T) {
	at := time.Unix(0x01020304, 0)
	id := GenerateAt(at)
	if id[0] != 0x01 || id[1] != 0x02 || id[2] != 0x03 || id[3] != 0x04 {
		t.Fatalf("expected big-endian timestamp prefix, got %x", id[:4])
	}
}

func TestGenerateMonotonicCounterAcrossCalls(t *testing.T) {
	at := time.Unix(1000, 0)
	a := GenerateAt(at)
	b := GenerateAt(at)
	if Compare(a, b) >= 0 {
		t.Fatalf("expected successive identifiers at the same timestamp to strictly increase, got %s then %s", a, b)
	}
}

func TestBytesAndFromBytesRoundTrip(t *testing.T) {
	id := Generate()
	back, ok := FromBytes(id.Bytes())
	if !ok {
		t.Fatal("expected FromBytes to accept a well-formed identifier")
	}
	if back != id {
		t.Errorf("round trip mismatch: %s != %s", back, id)
	}
}

func TestFromBytesRejectsWrongLength(t *testing.T) {
	if _, ok := FromBytes([]byte{1, 2, 3}); ok {
		t.Fatal("expected FromBytes to reject a short slice")
	}
}

func TestStringAndFromHexRoundTrip(t *testing.T) {
	id := Generate()
	s := id.String()
	if len(s) != Size*2 {
		t.Fatalf("expected a %d-character hex string, got %d: %q", Size*2, len(s), s)
	}
	back, ok := FromHex(s)
	if !ok {
		t.Fatalf("expected FromHex to parse %q", s)
	}
	if back != id {
		t.Errorf("round trip mismatch: %s != %s", back, id)
	}
}

func TestCompareOrdersByUnsignedBytes(t *testing.T) {
	a := ID{0x00}
	b := ID{0xFF}
	if Compare(a, b) >= 0 {
		t.Error("expected 0x00... to sort before 0xFF...")
	}
	if Compare(b, a) <= 0 {
		t.Error("expected 0xFF... to sort after 0x00...")
	}
	if Compare(a, a) != 0 {
		t.Error("expected an identifier to compare equal to itself")
	}
}
