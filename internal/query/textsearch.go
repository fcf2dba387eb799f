package query

import "github.com/jdbx/jdbx/internal/jdbxerr"

// synthesizeTextSearch builds the additional "(fieldA LIKE ? OR ...)"
// filter from opts.textSearch (spec §4.2), expressed as an $or of
// per-field $contains (or a case-insensitive variant).
func synthesizeTextSearch(ts TextSearch) (M, error) {
	if ts.Text == "" || len(ts.Fields) == 0 {
		return nil, jdbxerr.New(jdbxerr.Query, "query.textsearch", "textSearch requires non-empty text and fields")
	}
	or := make([]any, 0, len(ts.Fields))
	op := OpContains
	for _, f := range ts.Fields {
		if ts.CaseSensitive {
			or = append(or, M{f: M{op: ts.Text}})
		} else {
			or = append(or, M{f: M{OpILike: "%" + ts.Text + "%"}})
		}
	}
	return M{OpOr: or}, nil
}
