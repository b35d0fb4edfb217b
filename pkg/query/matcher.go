// Package query evaluates predicate documents against candidate documents
// and applies update-operator documents to produce mutated documents
// (spec.md §4.7, §4.8).
//
// Grounded on the teacher's small, composable, map-keyed filter dispatch
// (pkg/query/engine.go's getStringFilter lookups and switch-on-operation
// executors), reworked from a per-store filter map into the operator table
// named in SPEC_FULL.md, driven over document.Document/document.Value
// instead of map[string]interface{}.
package query

import (
	"regexp"
	"strings"

	"github.com/nainya/dendrodb/pkg/dberr"
	"github.com/nainya/dendrodb/pkg/document"
)

// Match reports whether doc satisfies the predicate. A predicate's
// top-level keys are either logical operators ($and, $or, $not) or dotted
// field paths; multiple top-level keys are an implicit conjunction.
func Match(pred, doc *document.Document) (bool, error) {
	if pred == nil {
		return true, nil
	}
	return matchDoc(pred, doc)
}

func matchDoc(pred, doc *document.Document) (bool, error) {
	for _, key := range pred.Keys() {
		v, _ := pred.Get(key)
		ok, err := matchClause(key, v, doc)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func matchClause(key string, v document.Value, doc *document.Document) (bool, error) {
	switch key {
	case "$and":
		return matchLogical(v, doc, true)
	case "$or":
		return matchLogical(v, doc, false)
	case "$not":
		return matchNot(v, doc)
	default:
		return matchField(key, v, doc)
	}
}

func matchLogical(v document.Value, doc *document.Document, and bool) (bool, error) {
	preds, err := subPredicates(v)
	if err != nil {
		return false, err
	}
	if len(preds) == 0 {
		return false, dberr.New(dberr.KindInvalidQuery, "query.Match")
	}
	for _, p := range preds {
		ok, err := matchDoc(p, doc)
		if err != nil {
			return false, err
		}
		if and && !ok {
			return false, nil
		}
		if !and && ok {
			return true, nil
		}
	}
	return and, nil
}

func matchNot(v document.Value, doc *document.Document) (bool, error) {
	sub, ok := asPredicate(v)
	if !ok {
		return false, dberr.New(dberr.KindInvalidQuery, "query.Match")
	}
	ok, err := matchDoc(sub, doc)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// subPredicates unpacks $and/$or's operand, which spec.md §4.7 allows as
// either an array of sub-predicate documents or a document whose values
// are sub-predicate documents.
func subPredicates(v document.Value) ([]*document.Document, error) {
	switch v.Type {
	case document.TypeArray:
		arr := v.AsArray()
		out := make([]*document.Document, 0, len(arr))
		for _, e := range arr {
			sub, ok := asPredicate(e)
			if !ok {
				return nil, dberr.New(dberr.KindInvalidQuery, "query.subPredicates")
			}
			out = append(out, sub)
		}
		return out, nil
	case document.TypeDocument:
		d := v.AsDocument()
		if d == nil {
			return nil, dberr.New(dberr.KindInvalidQuery, "query.subPredicates")
		}
		out := make([]*document.Document, 0, d.Len())
		for _, k := range d.Keys() {
			sv, _ := d.Get(k)
			sub, ok := asPredicate(sv)
			if !ok {
				return nil, dberr.New(dberr.KindInvalidQuery, "query.subPredicates")
			}
			out = append(out, sub)
		}
		return out, nil
	default:
		return nil, dberr.New(dberr.KindInvalidQuery, "query.subPredicates")
	}
}

func asPredicate(v document.Value) (*document.Document, bool) {
	if v.Type != document.TypeDocument || v.AsDocument() == nil {
		return nil, false
	}
	return v.AsDocument(), true
}

func matchField(path string, clause document.Value, doc *document.Document) (bool, error) {
	actual, present := doc.GetPath(path)
	if clause.Type == document.TypeDocument && isOperatorDoc(clause.AsDocument()) {
		return matchOperators(clause.AsDocument(), actual, present)
	}
	// A bare value means equality (spec.md §4.7: "a bare value meaning
	// 'equals'"). Missing fields never equal anything, including null.
	if !present {
		return false, nil
	}
	return document.Equal(actual, clause), nil
}

// isOperatorDoc reports whether d is an operator document (every key is an
// operator name) rather than a literal document value to match by equality.
// $options rides alongside $regex and is not itself an operator to dispatch.
func isOperatorDoc(d *document.Document) bool {
	if d == nil || d.Len() == 0 {
		return false
	}
	for _, k := range d.Keys() {
		if len(k) == 0 || k[0] != '$' {
			return false
		}
	}
	return true
}

func matchOperators(ops *document.Document, actual document.Value, present bool) (bool, error) {
	for _, op := range ops.Keys() {
		if op == "$options" {
			continue // consumed by $regex
		}
		v, _ := ops.Get(op)
		ok, err := matchOperator(op, v, ops, actual, present)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func matchOperator(op string, v document.Value, siblings *document.Document, actual document.Value, present bool) (bool, error) {
	switch op {
	case "$eq":
		return present && document.Equal(actual, v), nil
	case "$ne":
		return !present || !document.Equal(actual, v), nil
	case "$gt":
		return present && document.Compare(actual, v) > 0, nil
	case "$gte":
		return present && document.Compare(actual, v) >= 0, nil
	case "$lt":
		return present && document.Compare(actual, v) < 0, nil
	case "$lte":
		return present && document.Compare(actual, v) <= 0, nil
	case "$in":
		found, err := containsValue(v, actual)
		if err != nil {
			return false, err
		}
		return present && found, nil
	case "$nin":
		found, err := containsValue(v, actual)
		if err != nil {
			return false, err
		}
		return !present || !found, nil
	case "$exists":
		return present == v.AsBool(), nil
	case "$type":
		return present && byte(actual.Type) == typeTagOperand(v), nil
	case "$size":
		return present && actual.Type == document.TypeArray && int64(len(actual.AsArray())) == sizeOperand(v), nil
	case "$regex":
		if !present {
			return false, nil
		}
		return matchRegex(v, siblings, actual)
	default:
		return false, dberr.New(dberr.KindInvalidQuery, "query.matchOperator")
	}
}

// containsValue reports whether actual appears in operand, which must be an
// array (spec.md §7: a non-array $in/$nin operand is an InvalidQuery).
func containsValue(operand, actual document.Value) (bool, error) {
	if operand.Type != document.TypeArray {
		return false, dberr.New(dberr.KindInvalidQuery, "query.containsValue")
	}
	for _, e := range operand.AsArray() {
		if document.Equal(e, actual) {
			return true, nil
		}
	}
	return false, nil
}

func typeTagOperand(v document.Value) byte {
	if v.IsNumeric() {
		return byte(int64(v.Number()))
	}
	return 0
}

func sizeOperand(v document.Value) int64 {
	if v.IsNumeric() {
		return int64(v.Number())
	}
	return -1
}

// matchRegex evaluates $regex, honoring a sibling $options key ("i" for
// case-insensitive, "m" for multiline) the way the host database's own
// query language does.
func matchRegex(pattern document.Value, siblings *document.Document, actual document.Value) (bool, error) {
	if actual.Type != document.TypeString || pattern.Type != document.TypeString {
		return false, nil
	}
	expr := pattern.AsString()
	if siblings != nil {
		if opts, ok := siblings.Get("$options"); ok && opts.Type == document.TypeString {
			expr = regexFlags(opts.AsString()) + expr
		}
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return false, dberr.Wrap(dberr.KindInvalidQuery, "query.matchRegex", err)
	}
	return re.MatchString(actual.AsString()), nil
}

func regexFlags(options string) string {
	var flags strings.Builder
	for _, r := range options {
		if r == 'i' || r == 'm' || r == 's' {
			flags.WriteRune(r)
		}
	}
	if flags.Len() == 0 {
		return ""
	}
	return "(?" + flags.String() + ")"
}
