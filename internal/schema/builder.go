package schema

import (
	"fmt"
	"strings"
)

// FieldOption configures one field() call.
type FieldOption struct {
	Indexed  bool
	Unique   bool
	Nullable bool
	Default  any
	Path     string // overrides the derived "$.<name>" path
}

// Builder accumulates field and index declarations before Build freezes
// them into an immutable Definition (spec §4.1).
type Builder struct {
	fields     []Field
	fieldIndex map[string]int
	compound   []CompoundIndex
	timestamps bool
	validator  Validator
	err        error // first error encountered, returned by Build
}

// NewBuilder starts an empty schema builder.
func NewBuilder() *Builder {
	return &Builder{fieldIndex: make(map[string]int)}
}

// Field registers one field. name accepts dot notation for nested access;
// if opts.Path is empty it is derived by prefixing "$." and keeping the
// dots, since SQLite JSON path syntax already addresses nested object
// properties with dot segments.
func (b *Builder) Field(name string, storageType StorageType, opts FieldOption) *Builder {
	if b.err != nil {
		return b
	}
	if name == "" {
		b.err = fmt.Errorf("schema: field name must not be empty")
		return b
	}
	if _, exists := b.fieldIndex[name]; exists {
		b.err = fmt.Errorf("schema: field %q already declared", name)
		return b
	}
	if !storageType.valid() {
		b.err = fmt.Errorf("schema: field %q has invalid storage type %q", name, storageType)
		return b
	}

	path := opts.Path
	if path == "" {
		path = "$." + name
	}

	f := Field{
		Name:        name,
		Path:        path,
		StorageType: storageType,
		Nullable:    opts.Nullable,
		Indexed:     opts.Indexed,
		Unique:      opts.Unique,
		Default:     opts.Default,
	}
	b.fieldIndex[name] = len(b.fields)
	b.fields = append(b.fields, f)
	return b
}

// CompoundIndex registers a multi-column index. Every field listed must
// already be declared via Field; Build reports an error otherwise.
func (b *Builder) CompoundIndex(name string, fields []string, unique bool) *Builder {
	if b.err != nil {
		return b
	}
	if len(fields) < 2 {
		b.err = fmt.Errorf("schema: compound index %q needs at least two fields", name)
		return b
	}
	b.compound = append(b.compound, CompoundIndex{Name: name, Fields: append([]string(nil), fields...), Unique: unique})
	return b
}

// Timestamps toggles createdAt/updatedAt columns.
func (b *Builder) Timestamps(enabled bool) *Builder {
	b.timestamps = enabled
	return b
}

// Validate sets the opaque validator predicate.
func (b *Builder) Validate(v Validator) *Builder {
	b.validator = v
	return b
}

// Build validates cross-references (compound index fields must be
// declared) and returns an immutable Definition, assigning generated
// columns to every field that is indexed, unique, or used by a compound
// index (spec §4.1: "Fields appearing only in a compound index still
// require a generated column; the compiler injects one if absent").
func (b *Builder) Build() (*Definition, error) {
	if b.err != nil {
		return nil, b.err
	}

	fields := append([]Field(nil), b.fields...)
	fieldIndex := make(map[string]int, len(fields))
	for i, f := range fields {
		fieldIndex[f.Name] = i
	}

	for _, ci := range b.compound {
		for _, fname := range ci.Fields {
			if _, ok := fieldIndex[fname]; !ok {
				return nil, fmt.Errorf("schema: compound index %q references undeclared field %q", ci.Name, fname)
			}
		}
	}

	for i := range fields {
		f := &fields[i]
		if f.Indexed || f.Unique || usedInCompound(b.compound, f.Name) {
			f.column = "_" + sanitizeIdentifier(f.Name)
		}
	}

	return &Definition{
		fields:     fields,
		fieldIndex: fieldIndex,
		compound:   append([]CompoundIndex(nil), b.compound...),
		timestamps: b.timestamps,
		validator:  b.validator,
	}, nil
}

func usedInCompound(compound []CompoundIndex, field string) bool {
	for _, ci := range compound {
		for _, f := range ci.Fields {
			if f == field {
				return true
			}
		}
	}
	return false
}

// sanitizeIdentifier turns a possibly dot-separated field name into a
// single safe SQL identifier segment (spec §4.1 edge case).
func sanitizeIdentifier(name string) string {
	return strings.ReplaceAll(name, ".", "_")
}
