package query

import (
	"fmt"

	"github.com/jdbx/jdbx/internal/jdbxerr"
	"github.com/jdbx/jdbx/internal/schema"
)

// resolved describes how a filter field maps onto SQL (spec §4.2 "<col>
// resolution"): the three reserved columns resolve directly; declared
// fields with a generated column use it; everything else falls back to
// inline json_extract.
type resolved struct {
	ColumnSQL string
	Type      schema.StorageType
	TypeKnown bool
}

// ColumnFor resolves field to its SQL column expression, for callers
// outside the translator (e.g. coll.Distinct) that need a single field's
// resolved SQL rather than a full filter translation. typeKnown is true
// for every schema-declared field, whether or not it has a generated
// column, and false for the reserved columns and for undeclared fields
// (which fall back to an inline json_extract).
func ColumnFor(field string, def *schema.Definition) (sqlExpr string, typeKnown bool) {
	r := resolveColumn(field, def)
	return r.ColumnSQL, r.TypeKnown
}

func resolveColumn(field string, def *schema.Definition) resolved {
	if col, ok := schema.ReservedColumn(field); ok {
		return resolved{ColumnSQL: quoteIdent(col), TypeKnown: false}
	}
	if def != nil {
		if f, ok := def.Field(field); ok {
			if f.HasColumn() {
				return resolved{ColumnSQL: quoteIdent(f.Column()), Type: f.StorageType, TypeKnown: true}
			}
			return resolved{ColumnSQL: jsonExtract(f.Path), Type: f.StorageType, TypeKnown: true}
		}
	}
	return resolved{ColumnSQL: jsonExtract("$." + field), TypeKnown: false}
}

// fieldPath returns the JSON path for field, used by $exists/$index and by
// cursor/text-search synthesis which need the raw path rather than a
// resolved column.
func fieldPath(field string, def *schema.Definition) string {
	if def != nil {
		if f, ok := def.Field(field); ok {
			return f.Path
		}
	}
	return "$." + field
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}

func jsonExtract(path string) string {
	return fmt.Sprintf("json_extract(body, '%s')", path)
}

// requireRange, requireString and requireArray enforce spec §4.2's
// per-operator-family type checks. Each is a no-op when the field's declared type is unknown, per "These checks are
// performed if the translator can determine the field's declared type".
func requireRange(field string, r resolved) error {
	if !r.TypeKnown {
		return nil
	}
	switch r.Type {
	case schema.INTEGER, schema.REAL, schema.NUMERIC:
		return nil
	default:
		return jdbxerr.New(jdbxerr.TypeMismatch, "query.translate",
			fmt.Sprintf("range operator applied to non-numeric field %q (type %s)", field, r.Type)).WithField(field, nil)
	}
}

func requireString(field string, r resolved) error {
	if !r.TypeKnown {
		return nil
	}
	if r.Type != schema.TEXT {
		return jdbxerr.New(jdbxerr.TypeMismatch, "query.translate",
			fmt.Sprintf("string operator applied to non-string field %q (type %s)", field, r.Type)).WithField(field, nil)
	}
	return nil
}

func requireArray(field string, r resolved) error {
	if !r.TypeKnown {
		return nil
	}
	if r.Type != schema.BLOB {
		return jdbxerr.New(jdbxerr.TypeMismatch, "query.translate",
			fmt.Sprintf("array operator applied to non-array field %q (type %s)", field, r.Type)).WithField(field, nil)
	}
	return nil
}
