// Package query is jdbx's filter-to-SQL translator (spec §4.2-§4.4): a pure
// function from (filter, options, schema) to a parameterised SQL fragment
// plus a post-fetch projection descriptor, with a template cache keyed on
// filter shape.
package query

// M is a document filter or a sub-object within one — a bare map of field
// name (or "$and"/"$or"/"$nor"/"$not") to either a literal value (equality)
// or a nested operator object / slice of filters, mirroring the Mongo-style
// grammar in spec §4.2. Using a plain map (rather than a bespoke AST type
// per construct) keeps filter literals readable at call sites, the same
// tradeoff the teacher's bd query language makes with its typed AST nodes
// (internal/query/parser.go) for a textual grammar — ours is structural
// instead of textual, so a generic map walks naturally.
type M map[string]any

// Operator key constants, spelled out for callers that prefer not to hand-write string literals.
const (
	OpEq         = "$eq"
	OpNe         = "$ne"
	OpGt         = "$gt"
	OpGte        = "$gte"
	OpLt         = "$lt"
	OpLte        = "$lte"
	OpIn         = "$in"
	OpNin        = "$nin"
	OpExists     = "$exists"
	OpLike       = "$like"
	OpILike      = "$ilike"
	OpContains   = "$contains"
	OpStartsWith = "$startsWith"
	OpEndsWith   = "$endsWith"
	OpSize       = "$size"
	OpAll        = "$all"
	OpElemMatch  = "$elemMatch"
	OpIndex      = "$index"
	OpAnd        = "$and"
	OpOr         = "$or"
	OpNor        = "$nor"
	OpNot        = "$not"
)

// opCursorGt/opCursorLt are internal-only operators BuildCursorFilter uses
// for its synthesised keyset tuple comparisons. They compile to the same
// ">"/"<" SQL as $gt/$lt but, unlike them, are not a user-facing range
// predicate — spec §4.4's pagination promise covers any sortable field, so
// these skip requireRange's numeric-only gate (column.go).
const (
	opCursorGt = "$__cursorGt"
	opCursorLt = "$__cursorLt"
)

// knownOperators is used to distinguish "{field: {$gt: v}}" (an operator
// object) from a plain nested-document equality value "{field: {a: 1}}".
var knownOperators = map[string]bool{
	OpEq: true, OpNe: true, OpGt: true, OpGte: true, OpLt: true, OpLte: true,
	OpIn: true, OpNin: true, OpExists: true, OpLike: true, OpILike: true,
	OpContains: true, OpStartsWith: true, OpEndsWith: true, OpSize: true,
	OpAll: true, OpElemMatch: true, OpIndex: true,
	opCursorGt: true, opCursorLt: true,
}

// isOperatorObject reports whether v is a map whose keys are all recognised
// operator keys (spec §4.2's "V not an operator object" distinction).
func isOperatorObject(v any) (M, bool) {
	m, ok := asM(v)
	if !ok || len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if !knownOperators[k] {
			return nil, false
		}
	}
	return m, true
}

func asM(v any) (M, bool) {
	switch t := v.(type) {
	case M:
		return t, true
	case map[string]any:
		return M(t), true
	default:
		return nil, false
	}
}

func asSlice(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}
