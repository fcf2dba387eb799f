// Package schema lets callers declare a document collection once — fields,
// indexes, timestamps, a validator hook — and compiles that declaration into
// DDL (table, generated columns, indexes) plus the per-field metadata the
// query translator needs to resolve a filter field to a SQL column
// (spec §4.1).
package schema

// StorageType is the declared SQL storage affinity of a schema field.
type StorageType string

const (
	TEXT    StorageType = "TEXT"
	INTEGER StorageType = "INTEGER"
	REAL    StorageType = "REAL"
	BOOLEAN StorageType = "BOOLEAN"
	NUMERIC StorageType = "NUMERIC"
	BLOB    StorageType = "BLOB"
)

// Field is one declared document field.
type Field struct {
	Name        string      // user-visible name, possibly dot-separated
	Path        string      // JSON path, defaults to "$.<name>"
	StorageType StorageType
	Nullable    bool
	Indexed     bool
	Unique      bool
	Default     any // nil if none declared

	// column is the generated-column identifier this field resolves to, set
	// by Builder.Build once it's known whether a column is needed at all
	// (declared on the field directly, or pulled in by a compound index).
	column string
}

// HasColumn reports whether this field has been assigned a generated
// column. Only meaningful on a Definition returned by Builder.Build.
func (f Field) HasColumn() bool { return f.column != "" }

// Column returns the generated column identifier for this field, or ""
// if none was assigned.
func (f Field) Column() string { return f.column }

// CompoundIndex is a multi-column index over two or more already-declared fields.
type CompoundIndex struct {
	Name   string
	Fields []string
	Unique bool
}

// Validator is an opaque predicate from candidate document to error; a
// nil return means the document is valid. The concrete adapter (standard
// schema library, hand-written function, …) is an external collaborator —
// jdbx only ever calls this function (spec §9 "Validator as opaque predicate").
type Validator func(doc map[string]any) error

// Definition is an immutable, compiled schema: the ordered field list, the
// ordered compound-index list, the timestamps toggle and the validator.
// Obtained only via Builder.Build.
type Definition struct {
	fields     []Field
	fieldIndex map[string]int // name -> index into fields
	compound   []CompoundIndex
	timestamps bool
	validator  Validator
}

// Fields returns the declared fields in declaration order. The returned
// slice must not be mutated.
func (d *Definition) Fields() []Field { return d.fields }

// Field looks up a declared field by name.
func (d *Definition) Field(name string) (Field, bool) {
	i, ok := d.fieldIndex[name]
	if !ok {
		return Field{}, false
	}
	return d.fields[i], true
}

// CompoundIndexes returns the declared compound indexes in declaration order.
func (d *Definition) CompoundIndexes() []CompoundIndex { return d.compound }

// Timestamps reports whether createdAt/updatedAt are enabled.
func (d *Definition) Timestamps() bool { return d.timestamps }

// Validator returns the validator predicate, or nil if none was declared.
func (d *Definition) Validator() Validator { return d.validator }

// reservedColumns are table columns that resolve directly rather than
// through a generated column; the query translator short-circuits field
// resolution for these (spec §4.2).
var reservedColumns = map[string]string{
	"_id":       "_id",
	"createdAt": "createdAt",
	"updatedAt": "updatedAt",
}

// ReservedColumn returns the direct SQL column name for one of the three
// reserved fields, and ok=true, or ("", false) if name isn't reserved.
func ReservedColumn(name string) (string, bool) {
	c, ok := reservedColumns[name]
	return c, ok
}

func (f StorageType) valid() bool {
	switch f {
	case TEXT, INTEGER, REAL, BOOLEAN, NUMERIC, BLOB:
		return true
	default:
		return false
	}
}

func (t StorageType) String() string { return string(t) }
