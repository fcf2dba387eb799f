package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestCompileSeedS1 matches spec.md's seed scenario S1: email indexed
// unique, age indexed, name plain, compound ['age','email'], timestamps on.
func TestCompileSeedS1(t *testing.T) {
	def, err := NewBuilder().
		Field("email", TEXT, FieldOption{Indexed: true, Unique: true}).
		Field("age", INTEGER, FieldOption{Indexed: true}).
		Field("name", TEXT, FieldOption{}).
		CompoundIndex("age_email", []string{"age", "email"}, false).
		Timestamps(true).
		Build()
	require.NoError(t, err)

	c := Compile("users", def)

	require.Contains(t, c.CreateTable, `"_id" TEXT PRIMARY KEY`)
	require.Contains(t, c.CreateTable, `"body" BLOB NOT NULL`)
	require.Contains(t, c.CreateTable, `"createdAt" INTEGER NOT NULL`)
	require.Contains(t, c.CreateTable, `"updatedAt" INTEGER NOT NULL`)
	require.Contains(t, c.CreateTable, `"_email" TEXT GENERATED ALWAYS AS (json_extract(body, '$.email')) VIRTUAL`)
	require.Contains(t, c.CreateTable, `"_age" INTEGER GENERATED ALWAYS AS (json_extract(body, '$.age')) VIRTUAL`)
	require.NotContains(t, c.CreateTable, `_name`)

	require.Len(t, c.CreateIndexes, 3)
	var foundUnique bool
	for _, stmt := range c.CreateIndexes {
		if strings.Contains(stmt, "UNIQUE") && strings.Contains(stmt, "_email") {
			foundUnique = true
		}
	}
	require.True(t, foundUnique, "expected a unique index on _email, got %v", c.CreateIndexes)
}

func TestCompoundIndexInjectsColumnForUndeclaredlyIndexedField(t *testing.T) {
	def, err := NewBuilder().
		Field("a", TEXT, FieldOption{}).
		Field("b", TEXT, FieldOption{}).
		CompoundIndex("ab", []string{"a", "b"}, true).
		Build()
	require.NoError(t, err)

	fa, _ := def.Field("a")
	fb, _ := def.Field("b")
	require.True(t, fa.HasColumn())
	require.True(t, fb.HasColumn())

	c := Compile("t", def)
	require.Contains(t, c.CreateTable, `"_a" TEXT GENERATED ALWAYS AS (json_extract(body, '$.a')) VIRTUAL`)
	require.Len(t, c.CreateIndexes, 1)
}

func TestCompoundIndexUndeclaredFieldErrors(t *testing.T) {
	_, err := NewBuilder().
		Field("a", TEXT, FieldOption{}).
		CompoundIndex("bad", []string{"a", "missing"}, false).
		Build()
	require.Error(t, err)
}

func TestDotFieldSanitizesIdentifierKeepsPath(t *testing.T) {
	def, err := NewBuilder().
		Field("user.email", TEXT, FieldOption{Indexed: true}).
		Build()
	require.NoError(t, err)

	f, ok := def.Field("user.email")
	require.True(t, ok)
	require.Equal(t, "_user_email", f.Column())
	require.Equal(t, "$.user.email", f.Path)

	c := Compile("t", def)
	require.Contains(t, c.CreateTable, `"_user_email" TEXT GENERATED ALWAYS AS (json_extract(body, '$.user.email')) VIRTUAL`)
}

func TestUnindexedFieldGetsNoColumn(t *testing.T) {
	def, err := NewBuilder().Field("plain", TEXT, FieldOption{}).Build()
	require.NoError(t, err)
	f, ok := def.Field("plain")
	require.True(t, ok)
	require.False(t, f.HasColumn())
}

func TestDuplicateFieldErrors(t *testing.T) {
	_, err := NewBuilder().
		Field("a", TEXT, FieldOption{}).
		Field("a", TEXT, FieldOption{}).
		Build()
	require.Error(t, err)
}

func TestInvalidStorageTypeErrors(t *testing.T) {
	_, err := NewBuilder().Field("a", StorageType("WRONG"), FieldOption{}).Build()
	require.Error(t, err)
}
