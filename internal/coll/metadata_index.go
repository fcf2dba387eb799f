package coll

import (
	"context"
	"fmt"

	"github.com/jdbx/jdbx/internal/jdbxerr"
)

// Metadata indexing of unschematized fields (SPEC_FULL.md §4, grounded on
// the teacher's internal/storage/sqlite/metadata_index.go
// updateMetadataIndex/indexFlatKeys): a side table indexing flat (and one
// level of nested) scalar keys of a document body that the schema doesn't
// declare. The side table is only written here; Find, Count and Distinct
// do not read it. Off by default; enabled per collection via
// EnableMetadataIndex.

func (c *Collection) metadataIndexEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metadataIndex
}

func (c *Collection) metadataIndexTable() string {
	return fmt.Sprintf("_%s_meta_index", c.name)
}

func ensureMetadataIndexTable(ctx context.Context, c *Collection) error {
	ex, err := c.execer(ctx)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  "doc_id" TEXT NOT NULL,
  "key" TEXT NOT NULL,
  "value_text" TEXT,
  "value_int" INTEGER,
  "value_real" REAL
)`, c.metadataIndexTable())
	if _, err := ex.ExecContext(ctx, stmt); err != nil {
		return jdbxerr.Classify("coll.EnableMetadataIndex", err)
	}
	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS ix_%s_doc ON %s("doc_id")`, c.name, c.metadataIndexTable())
	if _, err := ex.ExecContext(ctx, idx); err != nil {
		return jdbxerr.Classify("coll.EnableMetadataIndex", err)
	}
	idxKey := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS ix_%s_key ON %s("key")`, c.name, c.metadataIndexTable())
	if _, err := ex.ExecContext(ctx, idxKey); err != nil {
		return jdbxerr.Classify("coll.EnableMetadataIndex", err)
	}
	return nil
}

// updateMetadataIndex refreshes the index rows for one document: clears
// its existing entries and re-indexes the declared fields' complement
// (every top-level key, plus one level of nested namespacing, that the
// schema does not declare, whether or not a declared field has a
// generated column).
func (c *Collection) updateMetadataIndex(ctx context.Context, docID string, doc Doc) error {
	if !c.metadataIndexEnabled() {
		return nil
	}
	ex, err := c.execer(ctx)
	if err != nil {
		return err
	}
	if _, err := ex.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE "doc_id" = ?`, c.metadataIndexTable())); err != nil {
		return jdbxerr.Classify("coll.updateMetadataIndex", err)
	}
	return c.indexFlatKeys(ctx, docID, "", doc)
}

func (c *Collection) indexFlatKeys(ctx context.Context, docID, prefix string, m map[string]any) error {
	ex, err := c.execer(ctx)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf(`INSERT INTO %s ("doc_id", "key", "value_text", "value_int", "value_real") VALUES (?, ?, ?, ?, ?)`, c.metadataIndexTable())

	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if c.declaredField(fullKey) {
			continue // schema-declared fields are not indexed here
		}

		switch v := val.(type) {
		case string:
			if _, err := ex.ExecContext(ctx, stmt, docID, fullKey, v, nil, nil); err != nil {
				return jdbxerr.Classify("coll.indexFlatKeys", err)
			}
		case float64:
			if v == float64(int64(v)) {
				if _, err := ex.ExecContext(ctx, stmt, docID, fullKey, nil, int64(v), nil); err != nil {
					return jdbxerr.Classify("coll.indexFlatKeys", err)
				}
			} else {
				if _, err := ex.ExecContext(ctx, stmt, docID, fullKey, nil, nil, v); err != nil {
					return jdbxerr.Classify("coll.indexFlatKeys", err)
				}
			}
		case int64:
			if _, err := ex.ExecContext(ctx, stmt, docID, fullKey, nil, v, nil); err != nil {
				return jdbxerr.Classify("coll.indexFlatKeys", err)
			}
		case bool:
			i := int64(0)
			if v {
				i = 1
			}
			if _, err := ex.ExecContext(ctx, stmt, docID, fullKey, nil, i, nil); err != nil {
				return jdbxerr.Classify("coll.indexFlatKeys", err)
			}
		case map[string]any:
			if prefix == "" {
				if err := c.indexFlatKeys(ctx, docID, key, v); err != nil {
					return err
				}
			}
		default:
			continue // arrays, nulls, deeper structures skipped
		}
	}
	return nil
}

func (c *Collection) declaredField(name string) bool {
	_, ok := c.def.Field(name)
	return ok
}
