package query

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/jdbx/jdbx/internal/jdbxerr"
	"github.com/jdbx/jdbx/internal/schema"
)

// SortField is one (field, direction) pair of an Options.Sort spec.
type SortField struct {
	Field string
	Desc  bool
}

// TextSearch synthesises a multi-field LIKE-style scan (spec §4.2).
type TextSearch struct {
	Text          string
	Fields        []string
	CaseSensitive bool
}

// Cursor anchors a page to a previously-seen document (spec §4.4). Exactly
// one of After/Before should be set.
type Cursor struct {
	After  string
	Before string
}

// Options mirrors spec §4.2's options record.
type Options struct {
	Sort       []SortField
	Limit      *int
	Skip       *int
	Projection M        // include {f:1,...} or exclude {f:0,...} mode
	Select     []string // shorthand for an include projection
	Omit       []string // shorthand for an exclude projection
	TextSearch *TextSearch
	Cursor     *Cursor
}

// Result is the translator's output: a parameterised SQL tail
// ("WHERE ... ORDER BY ... LIMIT ? OFFSET ?") plus its positional
// arguments and the post-fetch projection plan.
type Result struct {
	WhereSQL   string // empty if no filter at all (translates to no WHERE clause)
	OrderBySQL string
	LimitSQL   string
	Args       []any // WHERE-clause args, in placeholder order
	LimitArgs  []any // LIMIT/OFFSET args, in placeholder order
	Projection *ProjectionPlan
}

// SQLTail assembles the full "WHERE ... ORDER BY ... LIMIT ? OFFSET ?"
// fragment and its args in the order they must be bound.
func (r *Result) SQLTail() (string, []any) {
	var b strings.Builder
	args := append([]any(nil), r.Args...)
	if r.WhereSQL != "" {
		b.WriteString("WHERE ")
		b.WriteString(r.WhereSQL)
	}
	if r.OrderBySQL != "" {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(r.OrderBySQL)
	}
	if r.LimitSQL != "" {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(r.LimitSQL)
		args = append(args, r.LimitArgs...)
	}
	return b.String(), args
}

// Translate is the pure function at the heart of jdbx: (filter, options,
// schema) -> SQL tail + args + projection plan. It performs no I/O (spec
// §4.2). cursorFilter, if non-nil, is an additional filter synthesised by
// the caller from a resolved cursor anchor (spec §4.4) and is AND-combined
// with filter.
func Translate(filter M, opts Options, def *schema.Definition, cursorFilter M) (*Result, error) {
	combined := filter
	if cursorFilter != nil {
		combined = M{OpAnd: []any{filter, cursorFilter}}
	}
	if opts.TextSearch != nil {
		ts, err := synthesizeTextSearch(*opts.TextSearch)
		if err != nil {
			return nil, err
		}
		combined = M{OpAnd: []any{combined, ts}}
	}

	var args []any
	where := ""
	if len(combined) > 0 {
		var err error
		where, err = translateNode(combined, def, &args)
		if err != nil {
			return nil, err
		}
	}

	orderBy, err := buildOrderBy(opts.Sort, def)
	if err != nil {
		return nil, err
	}

	limitSQL, limitArgs := buildLimit(opts.Limit, opts.Skip)

	proj, err := buildProjection(opts)
	if err != nil {
		return nil, err
	}

	return &Result{
		WhereSQL:   where,
		OrderBySQL: orderBy,
		LimitSQL:   limitSQL,
		Args:       args,
		LimitArgs:  limitArgs,
		Projection: proj,
	}, nil
}

func buildOrderBy(sort []SortField, def *schema.Definition) (string, error) {
	if len(sort) == 0 {
		return "", nil
	}
	parts := make([]string, len(sort))
	for i, s := range sort {
		r := resolveColumn(s.Field, def)
		dir := "ASC"
		if s.Desc {
			dir = "DESC"
		}
		parts[i] = fmt.Sprintf("%s %s", r.ColumnSQL, dir)
	}
	return "ORDER BY " + strings.Join(parts, ", "), nil
}

func buildLimit(limit, skip *int) (string, []any) {
	var sql string
	var args []any
	if limit != nil {
		sql = "LIMIT ?"
		args = append(args, *limit)
	}
	if skip != nil {
		if sql == "" {
			// OFFSET without LIMIT is not valid SQL in SQLite; a very large
			// LIMIT makes "skip without limit" work as callers expect.
			sql = "LIMIT -1"
		}
		sql += " OFFSET ?"
		args = append(args, *skip)
	}
	return sql, args
}

// translateNode translates one filter node (top-level call, or a recursive
// call on a $and/$or/$nor/$not operand or an $elemMatch sub-filter),
// appending SQL parameter values to args in the exact order their "?"
// placeholders appear.
func translateNode(node M, def *schema.Definition, args *[]any) (string, error) {
	if len(node) == 0 {
		return "1=1", nil
	}

	var clauses []string
	for _, field := range sortedKeys(node) {
		value := node[field]
		var clause string
		var err error
		switch field {
		case OpAnd:
			clause, err = translateLogical(value, def, args, " AND ", "1=1")
		case OpOr:
			clause, err = translateLogical(value, def, args, " OR ", "1=0")
		case OpNor:
			var inner string
			inner, err = translateLogical(value, def, args, " OR ", "1=0")
			if err == nil {
				clause = "NOT (" + inner + ")"
			}
		case OpNot:
			sub, ok := asM(value)
			if !ok {
				return "", jdbxerr.New(jdbxerr.Query, "query.translate", "$not requires a filter object")
			}
			var inner string
			inner, err = translateNode(sub, def, args)
			if err == nil {
				clause = "NOT (" + inner + ")"
			}
		default:
			clause, err = translateField(field, value, def, args)
		}
		if err != nil {
			return "", err
		}
		clauses = append(clauses, "("+clause+")")
	}

	return strings.Join(clauses, " AND "), nil
}

func translateLogical(value any, def *schema.Definition, args *[]any, joiner, empty string) (string, error) {
	list, ok := asSlice(value)
	if !ok {
		return "", jdbxerr.New(jdbxerr.Query, "query.translate", "$and/$or/$nor require an array of filters")
	}
	if len(list) == 0 {
		return empty, nil
	}
	parts := make([]string, len(list))
	for i, item := range list {
		sub, ok := asM(item)
		if !ok {
			return "", jdbxerr.New(jdbxerr.Query, "query.translate", "$and/$or/$nor elements must be filter objects")
		}
		frag, err := translateNode(sub, def, args)
		if err != nil {
			return "", err
		}
		parts[i] = "(" + frag + ")"
	}
	return strings.Join(parts, joiner), nil
}

// translateField translates a single "field: value" construct, where value
// is either a plain equality value or an operator object (spec §4.2 table).
func translateField(field string, value any, def *schema.Definition, args *[]any) (string, error) {
	r := resolveColumn(field, def)

	if opObj, ok := isOperatorObject(value); ok {
		return translateOperators(field, r, opObj, def, args)
	}

	if value == nil {
		return r.ColumnSQL + " IS NULL", nil
	}
	*args = append(*args, encodeScalar(value))
	return r.ColumnSQL + " = ?", nil
}

// translateOperators translates every operator present on one field's
// operator object, AND-combining them (spec: "{ age: {$gte:18, $lt:65} }").
func translateOperators(field string, r resolved, ops M, def *schema.Definition, args *[]any) (string, error) {
	var parts []string
	for _, op := range sortedKeys(ops) {
		val := ops[op]
		frag, err := translateOneOperator(field, r, op, val, def, args)
		if err != nil {
			return "", err
		}
		parts = append(parts, frag)
	}
	return strings.Join(parts, " AND "), nil
}

func translateOneOperator(field string, r resolved, op string, val any, def *schema.Definition, args *[]any) (string, error) {
	switch op {
	case OpEq:
		if val == nil {
			return r.ColumnSQL + " IS NULL", nil
		}
		*args = append(*args, encodeScalar(val))
		return r.ColumnSQL + " = ?", nil

	case OpNe:
		if val == nil {
			return r.ColumnSQL + " IS NOT NULL", nil
		}
		*args = append(*args, encodeScalar(val))
		return fmt.Sprintf("(%s <> ? OR %s IS NULL)", r.ColumnSQL, r.ColumnSQL), nil

	case OpGt, OpGte, OpLt, OpLte:
		if err := requireRange(field, r); err != nil {
			return "", err
		}
		*args = append(*args, encodeScalar(val))
		return fmt.Sprintf("%s %s ?", r.ColumnSQL, comparisonSymbol(op)), nil

	case opCursorGt, opCursorLt:
		// Cursor keyset comparisons (cursor.go's BuildCursorFilter): ordering,
		// not a user-facing range predicate, so requireRange does not apply.
		*args = append(*args, encodeScalar(val))
		return fmt.Sprintf("%s %s ?", r.ColumnSQL, comparisonSymbol(op)), nil

	case OpIn:
		list, ok := asSlice(val)
		if !ok {
			return "", jdbxerr.New(jdbxerr.Query, "query.translate", "$in requires an array").WithField(field, val)
		}
		if len(list) == 0 {
			return "1=0", nil
		}
		ph := make([]string, len(list))
		for i, v := range list {
			*args = append(*args, encodeScalar(v))
			ph[i] = "?"
		}
		return fmt.Sprintf("%s IN (%s)", r.ColumnSQL, strings.Join(ph, ", ")), nil

	case OpNin:
		list, ok := asSlice(val)
		if !ok {
			return "", jdbxerr.New(jdbxerr.Query, "query.translate", "$nin requires an array").WithField(field, val)
		}
		if len(list) == 0 {
			return "1=1", nil
		}
		ph := make([]string, len(list))
		for i, v := range list {
			*args = append(*args, encodeScalar(v))
			ph[i] = "?"
		}
		return fmt.Sprintf("(%s NOT IN (%s) OR %s IS NULL)", r.ColumnSQL, strings.Join(ph, ", "), r.ColumnSQL), nil

	case OpExists:
		want, _ := val.(bool)
		path := fieldPath(field, def)
		if want {
			return fmt.Sprintf("json_type(body, '%s') IS NOT NULL", path), nil
		}
		return fmt.Sprintf("json_type(body, '%s') IS NULL", path), nil

	case OpLike:
		if err := requireString(field, r); err != nil {
			return "", err
		}
		s, _ := val.(string)
		*args = append(*args, s)
		return r.ColumnSQL + " LIKE ?", nil

	case OpILike:
		if err := requireString(field, r); err != nil {
			return "", err
		}
		s, _ := val.(string)
		*args = append(*args, s)
		return fmt.Sprintf("LOWER(%s) LIKE LOWER(?)", r.ColumnSQL), nil

	case OpContains:
		if err := requireString(field, r); err != nil {
			return "", err
		}
		s, _ := val.(string)
		*args = append(*args, "%"+escapeLike(s)+"%")
		return r.ColumnSQL + " LIKE ? ESCAPE '\\'", nil

	case OpStartsWith:
		if err := requireString(field, r); err != nil {
			return "", err
		}
		s, _ := val.(string)
		*args = append(*args, escapeLike(s)+"%")
		return r.ColumnSQL + " LIKE ? ESCAPE '\\'", nil

	case OpEndsWith:
		if err := requireString(field, r); err != nil {
			return "", err
		}
		s, _ := val.(string)
		*args = append(*args, "%"+escapeLike(s))
		return r.ColumnSQL + " LIKE ? ESCAPE '\\'", nil

	case OpSize:
		if err := requireArray(field, r); err != nil {
			return "", err
		}
		*args = append(*args, encodeScalar(val))
		return fmt.Sprintf("json_array_length(%s) = ?", r.ColumnSQL), nil

	case OpAll:
		if err := requireArray(field, r); err != nil {
			return "", err
		}
		list, ok := asSlice(val)
		if !ok {
			return "", jdbxerr.New(jdbxerr.Query, "query.translate", "$all requires an array").WithField(field, val)
		}
		var parts []string
		for _, v := range list {
			*args = append(*args, encodeScalar(v))
			parts = append(parts, fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%s) WHERE value = ?)", r.ColumnSQL))
		}
		if len(parts) == 0 {
			return "1=1", nil
		}
		return strings.Join(parts, " AND "), nil

	case OpElemMatch:
		if err := requireArray(field, r); err != nil {
			return "", err
		}
		sub, ok := asM(val)
		if !ok {
			return "", jdbxerr.New(jdbxerr.Query, "query.translate", "$elemMatch requires a filter object").WithField(field, val)
		}
		inner, err := translateNode(sub, nil, args)
		if err != nil {
			return "", err
		}
		// translateNode resolved bare field names via json_extract(body,...);
		// rewrite those against "value" (the json_each row) instead.
		inner = rewriteBodyToValue(inner)
		return fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%s) WHERE %s)", r.ColumnSQL, inner), nil

	case OpIndex:
		// { field: { $index: [N, V] } } — equality against the array
		// element at index N (spec §4.2).
		if err := requireArray(field, r); err != nil {
			return "", err
		}
		pair, ok := asSlice(val)
		if !ok || len(pair) != 2 {
			return "", jdbxerr.New(jdbxerr.Query, "query.translate", "$index requires a [N, V] pair").WithField(field, val)
		}
		n, ok := toInt(pair[0])
		if !ok {
			return "", jdbxerr.New(jdbxerr.Query, "query.translate", "$index N must be an integer").WithField(field, val)
		}
		path := fmt.Sprintf("$[%d]", n)
		if n < 0 {
			path = fmt.Sprintf("$[#%d]", n)
		}
		*args = append(*args, encodeScalar(pair[1]))
		return fmt.Sprintf("json_extract(%s, '%s') = ?", r.ColumnSQL, path), nil
	}
	return "", jdbxerr.New(jdbxerr.Query, "query.translate", fmt.Sprintf("unrecognised operator %q", op)).WithField(field, nil)
}

// sortedKeys returns m's keys in lexicographic order so that structurally
// identical filters always translate to byte-identical SQL regardless of
// the source map's iteration order — required for the template cache's
// shape-key scheme to be meaningful.
func sortedKeys(m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func comparisonSymbol(op string) string {
	switch op {
	case OpGt, opCursorGt:
		return ">"
	case OpGte:
		return ">="
	case OpLt, opCursorLt:
		return "<"
	case OpLte:
		return "<="
	}
	return "="
}

func escapeLike(s string) string {
	r := strings.NewReplacer("\\", "\\\\", "%", "\\%", "_", "\\_")
	return r.Replace(s)
}

func encodeScalar(v any) any {
	switch v.(type) {
	case map[string]any, M, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	default:
		return v
	}
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// rewriteBodyToValue rewrites "json_extract(body, '$.x')" fragments
// produced for an $elemMatch sub-filter into "json_extract(value, '$.x')",
// since each row of json_each(<col>) is exposed as the column "value", not
// "body". Other fragments, such as reserved-column or generated-column
// references, are left unchanged.
func rewriteBodyToValue(sql string) string {
	return strings.ReplaceAll(sql, "json_extract(body,", "json_extract(value,")
}
