// Package engine compiles a predicate into a scan plan and drives it
// through a single-forward-iteration Cursor (spec.md §4.9).
//
// Grounded on the teacher's pkg/btree/iterator.go BIter plus
// pkg/storage/transaction.go's transaction-scoped access, generalized into
// the Init/HasRow/Done/Error cursor contract and a plan-compiled scan.
package engine

import "github.com/nainya/dendrodb/pkg/document"

// identifierField is the document key holding the collection's primary
// identifier (spec.md §3).
const identifierField = "_id"

// PlanKind selects how a Cursor locates candidate rows.
type PlanKind int

const (
	PlanFullScan PlanKind = iota
	PlanPointLookup
)

// Plan is the executor's compiled access path for a predicate.
type Plan struct {
	Kind PlanKind
	ID   []byte // encoded _id key bytes, set only for PlanPointLookup
}

// Compile chooses point_lookup(identifier) when the predicate asserts a
// bare equality against the identifier field, otherwise full_scan
// (spec.md §4.9). A predicate combining an identifier equality with other
// fields still compiles to a point lookup; the remaining fields are
// checked against the fetched document like any other clause.
func Compile(pred *document.Document) Plan {
	if pred != nil {
		if v, ok := pred.Get(identifierField); ok {
			// An operator document ($in, $gt, ...) is not a bare equality.
			if d := v.AsDocument(); v.Type == document.TypeDocument && d != nil && d.Len() > 0 {
				operators := true
				for _, k := range d.Keys() {
					if len(k) == 0 || k[0] != '$' {
						operators = false
						break
					}
				}
				if operators {
					return Plan{Kind: PlanFullScan}
				}
			}
			return Plan{Kind: PlanPointLookup, ID: document.EncodeKey(v)}
		}
	}
	return Plan{Kind: PlanFullScan}
}
