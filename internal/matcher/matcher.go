// Package matcher joins uploaded variants against the clinical reference table.
package matcher

import (
	"github.com/variant-interpretation-server/internal/domain"
	"github.com/variant-interpretation-server/internal/reference"
)

// Pair is one uploaded variant with its clinical record, nil when unmatched
type Pair struct {
	Variant domain.Variant
	Record  *domain.ClinicalRecord
}

// Matched reports whether the pair found a clinical record
func (p Pair) Matched() bool {
	return p.Record != nil
}

// Result is the outcome of a join
type Result struct {
	Pairs   []Pair
	Matched int
	Total   int
}

// MatchedPairs returns only the pairs that found a clinical record, in input order
func (r Result) MatchedPairs() []Pair {
	out := make([]Pair, 0, r.Matched)
	for _, p := range r.Pairs {
		if p.Matched() {
			out = append(out, p)
		}
	}
	return out
}

// Unmatched returns the variants with no clinical record, in input order
func (r Result) Unmatched() []domain.Variant {
	out := make([]domain.Variant, 0, r.Total-r.Matched)
	for _, p := range r.Pairs {
		if !p.Matched() {
			out = append(out, p.Variant)
		}
	}
	return out
}

// Match left-joins uploaded against table on the normalized
// (chromosome, position, reference, alternate) key. The output has exactly one
// pair per uploaded variant, in input order. When the reference holds several
// rows for a key, the first row in file order is used.
func Match(uploaded []domain.Variant, table *reference.ClinicalTable) Result {
	result := Result{
		Pairs: make([]Pair, 0, len(uploaded)),
		Total: len(uploaded),
	}
	for _, v := range uploaded {
		rec, ok := table.Lookup(v)
		if ok {
			result.Matched++
		}
		result.Pairs = append(result.Pairs, Pair{Variant: v, Record: rec})
	}
	return result
}
