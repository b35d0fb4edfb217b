package query

import (
	"testing"

	"github.com/nainya/dendrodb/pkg/dberr"
	"github.com/nainya/dendrodb/pkg/document"
)

func doc(pairs ...any) *document.Document {
	d := document.New()
	for i := 0; i+1 < len(pairs); i += 2 {
		if sub, ok := pairs[i+1].(*document.Document); ok {
			d.Set(pairs[i].(string), document.NewDocument(sub))
			continue
		}
		d.Set(pairs[i].(string), pairs[i+1].(document.Value))
	}
	return d
}

func TestMatchBareValueEquality(t *testing.T) {
	d := doc("name", document.NewString("ada"), "age", document.NewInt64(30))

	pred := doc("name", document.NewString("ada"))
	ok, err := Match(pred, d)
	if err != nil || !ok {
		t.Fatalf("expected match, got ok=%v err=%v", ok, err)
	}

	pred = doc("name", document.NewString("grace"))
	ok, _ = Match(pred, d)
	if ok {
		t.Error("expected no match on differing value")
	}
}

func TestMatchMissingFieldNeverEqualsNull(t *testing.T) {
	d := doc("a", document.NewInt64(1))

	pred := doc("b", document.Null)
	ok, _ := Match(pred, d)
	if ok {
		t.Error("missing field must not equal null")
	}

	pred = doc("b", doc("$exists", document.NewBool(false)))
	ok, err := Match(pred, d)
	if err != nil || !ok {
		t.Fatalf("expected $exists:false to match a missing field, ok=%v err=%v", ok, err)
	}
}

func TestMatchComparisonOperators(t *testing.T) {
	d := doc("score", document.NewInt64(50))

	cases := []struct {
		op   string
		val  document.Value
		want bool
	}{
		{"$gt", document.NewInt64(10), true},
		{"$gt", document.NewInt64(50), false},
		{"$gte", document.NewInt64(50), true},
		{"$lt", document.NewInt64(100), true},
		{"$lte", document.NewInt64(49), false},
		{"$ne", document.NewInt64(1), true},
		{"$eq", document.NewInt64(50), true},
	}
	for _, c := range cases {
		pred := doc("score", doc(c.op, c.val))
		ok, err := Match(pred, d)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", c.op, err)
		}
		if ok != c.want {
			t.Errorf("%s: expected %v, got %v", c.op, c.want, ok)
		}
	}
}

func TestMatchInNin(t *testing.T) {
	d := doc("tag", document.NewString("b"))

	pred := doc("tag", doc("$in", document.NewArray([]document.Value{
		document.NewString("a"), document.NewString("b"),
	})))
	ok, err := Match(pred, d)
	if err != nil || !ok {
		t.Fatalf("expected $in match, ok=%v err=%v", ok, err)
	}

	pred = doc("tag", doc("$nin", document.NewArray([]document.Value{
		document.NewString("a"), document.NewString("b"),
	})))
	ok, _ = Match(pred, d)
	if ok {
		t.Error("expected $nin to reject a member of the list")
	}
}

func TestMatchInNinRejectNonArrayOperand(t *testing.T) {
	d := doc("tag", document.NewString("b"))

	pred := doc("tag", doc("$in", document.NewString("b")))
	_, err := Match(pred, d)
	if !dberr.Is(err, dberr.KindInvalidQuery) {
		t.Fatalf("expected KindInvalidQuery for a non-array $in operand, got %v", err)
	}

	pred = doc("tag", doc("$nin", document.NewInt64(1)))
	_, err = Match(pred, d)
	if !dberr.Is(err, dberr.KindInvalidQuery) {
		t.Fatalf("expected KindInvalidQuery for a non-array $nin operand, got %v", err)
	}
}

func TestMatchSize(t *testing.T) {
	d := doc("items", document.NewArray([]document.Value{
		document.NewInt64(1), document.NewInt64(2), document.NewInt64(3),
	}))

	pred := doc("items", doc("$size", document.NewInt64(3)))
	ok, err := Match(pred, d)
	if err != nil || !ok {
		t.Fatalf("expected $size match, ok=%v err=%v", ok, err)
	}

	pred = doc("items", doc("$size", document.NewInt64(2)))
	ok, _ = Match(pred, d)
	if ok {
		t.Error("expected $size mismatch to fail")
	}
}

func TestMatchType(t *testing.T) {
	d := doc("v", document.NewString("x"))
	pred := doc("v", doc("$type", document.NewInt64(int64(document.TypeString))))
	ok, err := Match(pred, d)
	if err != nil || !ok {
		t.Fatalf("expected $type match, ok=%v err=%v", ok, err)
	}
}

func TestMatchRegexWithOptions(t *testing.T) {
	d := doc("name", document.NewString("Ada"))

	pred := doc("name", doc("$regex", document.NewString("^ada$"), "$options", document.NewString("i")))
	ok, err := Match(pred, d)
	if err != nil || !ok {
		t.Fatalf("expected case-insensitive regex match, ok=%v err=%v", ok, err)
	}

	pred = doc("name", doc("$regex", document.NewString("^ada$")))
	ok, _ = Match(pred, d)
	if ok {
		t.Error("expected case-sensitive regex to fail on differing case")
	}
}

func TestMatchLogicalAndOrNot(t *testing.T) {
	d := doc("a", document.NewInt64(1), "b", document.NewInt64(2))

	pred := doc("$and", document.NewArray([]document.Value{
		document.NewDocument(doc("a", document.NewInt64(1))),
		document.NewDocument(doc("b", document.NewInt64(2))),
	}))
	ok, err := Match(pred, d)
	if err != nil || !ok {
		t.Fatalf("expected $and match, ok=%v err=%v", ok, err)
	}

	pred = doc("$or", document.NewArray([]document.Value{
		document.NewDocument(doc("a", document.NewInt64(99))),
		document.NewDocument(doc("b", document.NewInt64(2))),
	}))
	ok, err = Match(pred, d)
	if err != nil || !ok {
		t.Fatalf("expected $or match, ok=%v err=%v", ok, err)
	}

	pred = doc("$not", document.NewDocument(doc("a", document.NewInt64(1))))
	ok, _ = Match(pred, d)
	if ok {
		t.Error("expected $not to negate a matching sub-predicate")
	}
}

func TestMatchImplicitConjunctionAcrossTopLevelFields(t *testing.T) {
	d := doc("a", document.NewInt64(1), "b", document.NewInt64(2))

	pred := doc("a", document.NewInt64(1), "b", document.NewInt64(99))
	ok, _ := Match(pred, d)
	if ok {
		t.Error("expected conjunction across top-level keys to fail when one mismatches")
	}
}

func TestMatchDottedPath(t *testing.T) {
	inner := doc("city", document.NewString("nyc"))
	d := doc("address", document.NewDocument(inner))

	pred := doc("address.city", document.NewString("nyc"))
	ok, err := Match(pred, d)
	if err != nil || !ok {
		t.Fatalf("expected dotted-path match, ok=%v err=%v", ok, err)
	}
}

func TestMatchInvalidLogicalOperandErrors(t *testing.T) {
	d := doc("a", document.NewInt64(1))
	pred := doc("$and", document.NewString("not-a-list"))
	_, err := Match(pred, d)
	if !dberr.Is(err, dberr.KindInvalidQuery) {
		t.Fatalf("expected KindInvalidQuery, got %v", err)
	}
}
