package schema

import (
	"fmt"
	"strings"
)

// Compiled holds the DDL jdbx needs to create (or reconcile) a collection's
// backing table: the CREATE TABLE statement, followed by every CREATE INDEX
// statement (spec §4.1 / §6).
type Compiled struct {
	TableName      string
	CreateTable    string
	CreateIndexes  []string
	GeneratedCols  []GeneratedColumn // for Reconcile
}

// GeneratedColumn describes one virtual generated column backing an
// indexed/unique/compound-indexed field.
type GeneratedColumn struct {
	FieldName string
	Column    string
	Path      string
	Type      StorageType
}

// Compile produces the physical table layout for tableName per schema def,
// following spec §4.1's compilation rules exactly:
//
//  1. CREATE TABLE IF NOT EXISTS <table> (_id TEXT PRIMARY KEY, body BLOB NOT NULL
//     [, createdAt INTEGER NOT NULL, updatedAt INTEGER NOT NULL], <generated columns>)
//  2. CREATE [UNIQUE] INDEX for each indexed/unique field
//  3. CREATE [UNIQUE] INDEX for each compound index
func Compile(tableName string, def *Definition) *Compiled {
	var cols []string
	cols = append(cols, `"_id" TEXT PRIMARY KEY`)
	cols = append(cols, `"body" BLOB NOT NULL`)
	if def.Timestamps() {
		cols = append(cols, `"createdAt" INTEGER NOT NULL`)
		cols = append(cols, `"updatedAt" INTEGER NOT NULL`)
	}

	var generated []GeneratedColumn
	var indexStmts []string

	for _, f := range def.fields {
		if f.column == "" {
			continue
		}
		cols = append(cols, fmt.Sprintf(
			`"%s" %s GENERATED ALWAYS AS (json_extract(body, '%s')) VIRTUAL`,
			f.column, f.StorageType, f.Path,
		))
		generated = append(generated, GeneratedColumn{
			FieldName: f.Name, Column: f.column, Path: f.Path, Type: f.StorageType,
		})

		if f.Indexed || f.Unique {
			indexStmts = append(indexStmts, buildIndexStmt(tableName, indexName(tableName, f.Name), f.Unique, []string{f.column}))
		}
	}

	for _, ci := range def.compound {
		colNames := make([]string, len(ci.Fields))
		for i, fname := range ci.Fields {
			fld, _ := def.Field(fname)
			colNames[i] = fld.column
		}
		indexStmts = append(indexStmts, buildIndexStmt(tableName, indexName(tableName, ci.Name), ci.Unique, colNames))
	}

	createTable := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", tableName, strings.Join(cols, ",\n  "))

	return &Compiled{
		TableName:     tableName,
		CreateTable:   createTable,
		CreateIndexes: indexStmts,
		GeneratedCols: generated,
	}
}

func indexName(table, suffix string) string {
	return fmt.Sprintf("ix_%s_%s", table, sanitizeIdentifier(suffix))
}

func buildIndexStmt(table, name string, unique bool, cols []string) string {
	uniq := ""
	if unique {
		uniq = "UNIQUE "
	}
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = fmt.Sprintf(`"%s"`, c)
	}
	return fmt.Sprintf(`CREATE %sINDEX IF NOT EXISTS %s ON %s(%s)`, uniq, name, table, strings.Join(quoted, ", "))
}
