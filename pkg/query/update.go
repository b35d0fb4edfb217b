package query

import (
	"github.com/nainya/dendrodb/pkg/dberr"
	"github.com/nainya/dendrodb/pkg/document"
)

// identifierField is the document key holding the collection's primary
// identifier; update operators may never touch it (spec.md §4.8).
const identifierField = "_id"

// Apply mutates a clone of doc according to mutation and returns it.
// mutation's top-level keys must all be update operators ($set, $unset,
// $inc, $mul, $min, $max, $rename, $push, $pop); mixing operator and
// non-operator keys fails with dberr.KindInvalidUpdate.
func Apply(doc *document.Document, mutation *document.Document) (*document.Document, error) {
	if mutation == nil || mutation.Len() == 0 {
		return doc.Clone(), nil
	}
	if err := validateOperatorDoc(mutation); err != nil {
		return nil, err
	}

	out := doc.Clone()
	for _, op := range mutation.Keys() {
		args, _ := mutation.Get(op)
		argsDoc := args.AsDocument()
		if args.Type != document.TypeDocument || argsDoc == nil {
			return nil, dberr.New(dberr.KindInvalidUpdate, "query.Apply")
		}
		if err := applyOperator(op, argsDoc, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func validateOperatorDoc(mutation *document.Document) error {
	for _, k := range mutation.Keys() {
		if len(k) == 0 || k[0] != '$' {
			return dberr.New(dberr.KindInvalidUpdate, "query.Apply")
		}
	}
	return nil
}

func applyOperator(op string, args *document.Document, out *document.Document) error {
	switch op {
	case "$set":
		return applySet(args, out)
	case "$unset":
		return applyUnset(args, out)
	case "$inc":
		return applyArith(args, out, false)
	case "$mul":
		return applyArith(args, out, true)
	case "$min":
		return applyMinMax(args, out, true)
	case "$max":
		return applyMinMax(args, out, false)
	case "$rename":
		return applyRename(args, out)
	case "$push":
		return applyPush(args, out)
	case "$pop":
		return applyPop(args, out)
	default:
		return dberr.New(dberr.KindInvalidUpdate, "query.Apply")
	}
}

func guardIdentifier(path string) error {
	if path == identifierField {
		return dberr.New(dberr.KindInvalidUpdate, "query.Apply")
	}
	return nil
}

func applySet(args *document.Document, out *document.Document) error {
	for _, path := range args.Keys() {
		if err := guardIdentifier(path); err != nil {
			return err
		}
		v, _ := args.Get(path)
		if !out.SetPath(path, v) {
			return dberr.New(dberr.KindInvalidUpdate, "query.$set")
		}
	}
	return nil
}

func applyUnset(args *document.Document, out *document.Document) error {
	for _, path := range args.Keys() {
		if err := guardIdentifier(path); err != nil {
			return err
		}
		out.UnsetPath(path)
	}
	return nil
}

// applyArith implements $inc (mul=false) and $mul (mul=true): add or
// multiply a numeric field, type-preserving; a missing field becomes the
// operand for $inc, and the operand for $mul (multiplying an implicit
// zero would always yield zero, which is never useful).
func applyArith(args *document.Document, out *document.Document, mul bool) error {
	for _, path := range args.Keys() {
		if err := guardIdentifier(path); err != nil {
			return err
		}
		operand, _ := args.Get(path)
		if !operand.IsNumeric() {
			return dberr.New(dberr.KindTypeMismatch, "query.$inc")
		}
		current, present := out.GetPath(path)
		if !present {
			if !out.SetPath(path, operand) {
				return dberr.New(dberr.KindInvalidUpdate, "query.$inc")
			}
			continue
		}
		if !current.IsNumeric() {
			return dberr.New(dberr.KindTypeMismatch, "query.$inc")
		}
		result := current.Number() + operand.Number()
		if mul {
			result = current.Number() * operand.Number()
		}
		if !out.SetPath(path, numericLike(current, result)) {
			return dberr.New(dberr.KindInvalidUpdate, "query.$inc")
		}
	}
	return nil
}

// numericLike preserves the field's existing representation (int64 vs
// double) across an $inc/$mul, per spec.md §4.8 ("type-preserving").
func numericLike(prior document.Value, result float64) document.Value {
	if prior.Type == document.TypeInt64 {
		return document.NewInt64(int64(result))
	}
	return document.NewDouble(result)
}

func applyMinMax(args *document.Document, out *document.Document, min bool) error {
	for _, path := range args.Keys() {
		if err := guardIdentifier(path); err != nil {
			return err
		}
		candidate, _ := args.Get(path)
		current, present := out.GetPath(path)
		if !present {
			if !out.SetPath(path, candidate) {
				return dberr.New(dberr.KindInvalidUpdate, "query.$min")
			}
			continue
		}
		c := document.Compare(candidate, current)
		replace := (min && c < 0) || (!min && c > 0)
		if replace {
			if !out.SetPath(path, candidate) {
				return dberr.New(dberr.KindInvalidUpdate, "query.$min")
			}
		}
	}
	return nil
}

func applyRename(args *document.Document, out *document.Document) error {
	for _, from := range args.Keys() {
		toVal, _ := args.Get(from)
		if toVal.Type != document.TypeString {
			return dberr.New(dberr.KindInvalidUpdate, "query.$rename")
		}
		to := toVal.AsString()
		if err := guardIdentifier(from); err != nil {
			return err
		}
		if err := guardIdentifier(to); err != nil {
			return err
		}
		if _, present := out.Get(from); !present {
			continue // no-op if source missing, per spec.md §4.8
		}
		if !out.Rename(from, to) {
			return dberr.New(dberr.KindInvalidUpdate, "query.$rename")
		}
	}
	return nil
}

func applyPush(args *document.Document, out *document.Document) error {
	for _, path := range args.Keys() {
		if err := guardIdentifier(path); err != nil {
			return err
		}
		v, _ := args.Get(path)
		current, present := out.GetPath(path)
		var arr []document.Value
		if present {
			if current.Type != document.TypeArray {
				return dberr.New(dberr.KindTypeMismatch, "query.$push")
			}
			arr = current.AsArray()
		}
		arr = append(arr, v)
		if !out.SetPath(path, document.NewArray(arr)) {
			return dberr.New(dberr.KindInvalidUpdate, "query.$push")
		}
	}
	return nil
}

func applyPop(args *document.Document, out *document.Document) error {
	for _, path := range args.Keys() {
		if err := guardIdentifier(path); err != nil {
			return err
		}
		dir, _ := args.Get(path)
		if !dir.IsNumeric() {
			return dberr.New(dberr.KindInvalidUpdate, "query.$pop")
		}
		current, present := out.GetPath(path)
		if !present {
			continue
		}
		if current.Type != document.TypeArray {
			return dberr.New(dberr.KindTypeMismatch, "query.$pop")
		}
		arr := current.AsArray()
		if len(arr) == 0 {
			continue
		}
		if dir.Number() < 0 {
			arr = arr[1:]
		} else {
			arr = arr[:len(arr)-1]
		}
		if !out.SetPath(path, document.NewArray(arr)) {
			return dberr.New(dberr.KindInvalidUpdate, "query.$pop")
		}
	}
	return nil
}
