package query

import "github.com/jdbx/jdbx/internal/jdbxerr"

// AnchorValues supplies the sort-key tuple (and _id) of the document a
// cursor anchors on, resolved by the caller (the coll package) via a
// lookup keyed on Cursor.After/Before before translation runs (spec §4.4
// step 1).
type AnchorValues struct {
	ID     string
	Values []any // one per entry of the sort spec, same order
}

// BuildCursorFilter synthesises the compound tuple-comparison filter of
// spec §4.4 step 2: ascending fields compare with ">" after an anchor ("<"
// before it), and ties cascade down the sort spec with a final _id
// tie-break.
func BuildCursorFilter(sort []SortField, anchor AnchorValues, before bool) (M, error) {
	if len(sort) == 0 {
		return nil, jdbxerr.New(jdbxerr.Query, "query.cursor", "cursor pagination requires a non-empty sort spec")
	}
	if len(anchor.Values) != len(sort) {
		return nil, jdbxerr.New(jdbxerr.Query, "query.cursor", "cursor anchor value count does not match sort spec")
	}

	var or []any
	for i := range sort {
		clause := M{}
		for j := 0; j < i; j++ {
			clause[sort[j].Field] = M{OpEq: anchor.Values[j]}
		}
		clause[sort[i].Field] = M{cmpOp(sort[i].Desc, before): anchor.Values[i]}
		or = append(or, clause)
	}

	// Final tie-break: every sort field equal, _id strictly beyond the anchor.
	tie := M{}
	for j := range sort {
		tie[sort[j].Field] = M{OpEq: anchor.Values[j]}
	}
	idOp := opCursorGt
	if before {
		idOp = opCursorLt
	}
	tie["_id"] = M{idOp: anchor.ID}
	or = append(or, tie)

	return M{OpOr: or}, nil
}

// cmpOp returns the cursor comparison operator for one sort field: ">" for
// ascending / "after", "<" for descending / "after", with before inverting
// both. It returns the internal opCursorGt/opCursorLt variants rather than
// $gt/$lt so the comparison bypasses requireRange's numeric-only gate.
func cmpOp(desc, before bool) string {
	gt := !desc
	if before {
		gt = !gt
	}
	if gt {
		return opCursorGt
	}
	return opCursorLt
}
