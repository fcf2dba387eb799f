package coll

import (
	"context"
	"fmt"

	"github.com/jdbx/jdbx/internal/events"
	"github.com/jdbx/jdbx/internal/idgen"
	"github.com/jdbx/jdbx/internal/jdbxerr"
	"github.com/jdbx/jdbx/internal/query"
	"github.com/jdbx/jdbx/internal/retry"
)

// Unset is the sentinel value a caller places in an update document to
// mean "remove this key" — Go has no distinct undefined value, so this
// stands in for the spec's "explicit undefined removes the field" (spec
// §9 "Deep merge semantics").
var Unset = struct{ unset bool }{unset: true}

// UpdateOptions is updateOne/updateMany/replaceOne's option record.
type UpdateOptions struct {
	Retry  *retry.Policy
	Upsert bool
}

// UpdateResult mirrors spec §4.5's {matchedCount, modifiedCount, upsertedId?}.
type UpdateResult struct {
	MatchedCount  int
	ModifiedCount int
	UpsertedID    string
}

// deepMerge merges patch into base per spec §9: objects merge recursively,
// arrays replace wholesale, Unset removes the key. base is mutated and
// returned.
func deepMerge(base, patch Doc) Doc {
	for k, v := range patch {
		if v == Unset {
			delete(base, k)
			continue
		}
		if sub, ok := v.(map[string]any); ok {
			if existing, ok := base[k].(map[string]any); ok {
				base[k] = deepMerge(cloneDoc(existing), sub)
				continue
			}
		}
		base[k] = v
	}
	return base
}

// applyUpdate unwraps a top-level $set (spec §9: "treat my payload as a
// partial document and merge it"; nested $set is not recognised) and
// deep-merges the result into doc.
func applyUpdate(doc Doc, update Doc) Doc {
	patch := update
	if set, ok := update["$set"].(map[string]any); ok && len(update) == 1 {
		patch = set
	}
	return deepMerge(doc, patch)
}

// UpdateOne resolves the target with FindOne, deep-merges update into its
// body, stamps updatedAt, validates, and writes it back (spec §4.5
// updateOne). With opts.Upsert and no match, inserts a new document
// combining filter's equality map with update.
func (c *Collection) UpdateOne(ctx context.Context, filter any, update Doc, opts UpdateOptions) (*UpdateResult, error) {
	f, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	p := c.effectiveRetry(opts.Retry)

	var result *UpdateResult
	var merged Doc
	err = retry.Run(ctx, "coll.UpdateOne", p, func(ctx context.Context) error {
		result = &UpdateResult{}
		merged = nil
		existing, err := c.findOneForMutation(ctx, f)
		if err != nil {
			return err
		}
		if existing == nil {
			if !opts.Upsert {
				return nil
			}
			seed := equalityFields(f)
			doc := applyUpdate(seed, update)
			doc, err := c.prepareInsert(doc)
			if err != nil {
				return err
			}
			if err := c.runValidator(doc); err != nil {
				return err
			}
			if err := c.insertRow(ctx, doc); err != nil {
				return err
			}
			result.UpsertedID = doc["_id"].(string)
			result.MatchedCount = 0
			result.ModifiedCount = 0
			merged = doc
			return nil
		}

		result.MatchedCount = 1
		doc := applyUpdate(cloneDoc(existing), update)
		if c.def.Timestamps() {
			doc["updatedAt"] = idgen.NowMillis()
		}
		if err := c.runValidator(doc); err != nil {
			return err
		}
		if err := c.writeBack(ctx, doc); err != nil {
			return err
		}
		result.ModifiedCount = 1
		merged = doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	if merged != nil {
		c.emit(events.Update, merged)
	}
	return result, nil
}

// UpdateMany finds every matching document and applies the same merge to
// each inside a single transaction (spec §4.5 updateMany). Upsert is
// rejected per spec §9's open-question resolution: bulk updates never
// upsert.
func (c *Collection) UpdateMany(ctx context.Context, filter any, update Doc, opts UpdateOptions) (*UpdateResult, error) {
	if opts.Upsert {
		return nil, jdbxerr.New(jdbxerr.Query, "coll.UpdateMany", "updateMany does not support upsert")
	}
	f, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	p := c.effectiveRetry(opts.Retry)

	result := &UpdateResult{}
	var updated []Doc
	err = retry.Run(ctx, "coll.UpdateMany", p, func(ctx context.Context) error {
		*result = UpdateResult{}
		updated = nil
		return c.db.WithTransaction(ctx, func(ctx context.Context) error {
			docs, err := c.findAllForMutation(ctx, f)
			if err != nil {
				return err
			}
			result.MatchedCount = len(docs)
			for _, existing := range docs {
				doc := applyUpdate(cloneDoc(existing), update)
				if c.def.Timestamps() {
					doc["updatedAt"] = idgen.NowMillis()
				}
				if err := c.runValidator(doc); err != nil {
					return err
				}
				if err := c.writeBack(ctx, doc); err != nil {
					return err
				}
				updated = append(updated, doc)
				result.ModifiedCount++
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if len(updated) > 0 {
		c.emit(events.UpdateMany, updated)
	}
	return result, nil
}

// ReplaceOne preserves _id/createdAt, stamps updatedAt, validates, and
// replaces the body wholesale (spec §4.5 replaceOne).
func (c *Collection) ReplaceOne(ctx context.Context, filter any, document Doc, opts UpdateOptions) (*UpdateResult, error) {
	f, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	p := c.effectiveRetry(opts.Retry)

	var result *UpdateResult
	var written Doc
	err = retry.Run(ctx, "coll.ReplaceOne", p, func(ctx context.Context) error {
		result = &UpdateResult{}
		written = nil
		existing, err := c.findOneForMutation(ctx, f)
		if err != nil {
			return err
		}
		if existing == nil {
			if !opts.Upsert {
				return nil
			}
			doc := cloneDoc(document)
			for k, v := range equalityFields(f) {
				if _, ok := doc[k]; !ok {
					doc[k] = v
				}
			}
			doc, err := c.prepareInsert(doc)
			if err != nil {
				return err
			}
			if err := c.runValidator(doc); err != nil {
				return err
			}
			if err := c.insertRow(ctx, doc); err != nil {
				return err
			}
			result.UpsertedID = doc["_id"].(string)
			written = doc
			return nil
		}

		result.MatchedCount = 1
		doc := cloneDoc(document)
		doc["_id"] = existing["_id"]
		if c.def.Timestamps() {
			doc["createdAt"] = existing["createdAt"]
			doc["updatedAt"] = idgen.NowMillis()
		}
		if err := c.runValidator(doc); err != nil {
			return err
		}
		if err := c.writeBack(ctx, doc); err != nil {
			return err
		}
		result.ModifiedCount = 1
		written = doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	if written != nil {
		c.emit(events.Replace, written)
	}
	return result, nil
}

// findOneForMutation resolves filter to its first matching document (or
// nil), via the _id fast path when possible, for callers that will
// immediately overwrite or delete it.
func (c *Collection) findOneForMutation(ctx context.Context, f query.M) (Doc, error) {
	if id, ok := isIDOnlyFilter(f); ok {
		ex, err := c.execer(ctx)
		if err != nil {
			return nil, err
		}
		return c.scanOne(ctx, ex, fmt.Sprintf(`SELECT %s FROM %s WHERE "_id" = ?`, c.selectCols(), c.name), id)
	}
	res, err := c.translate(f, query.Options{Limit: intPtr(1)}, nil)
	if err != nil {
		return nil, err
	}
	ex, err := c.execer(ctx)
	if err != nil {
		return nil, err
	}
	tail, args := res.SQLTail()
	stmt := fmt.Sprintf(`SELECT %s FROM %s %s`, c.selectCols(), c.name, tail)
	return c.scanOne(ctx, ex, stmt, args...)
}

func (c *Collection) findAllForMutation(ctx context.Context, f query.M) ([]Doc, error) {
	res, err := c.translate(f, query.Options{}, nil)
	if err != nil {
		return nil, err
	}
	ex, err := c.execer(ctx)
	if err != nil {
		return nil, err
	}
	tail, args := res.SQLTail()
	stmt := fmt.Sprintf(`SELECT %s FROM %s %s`, c.selectCols(), c.name, tail)
	rows, err := ex.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, jdbxerr.Classify("coll.findAllForMutation", err)
	}
	defer rows.Close()
	var docs []Doc
	for rows.Next() {
		doc, err := c.scanRow(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, jdbxerr.Classify("coll.findAllForMutation", rows.Err())
}

func (c *Collection) writeBack(ctx context.Context, doc Doc) error {
	ex, err := c.execer(ctx)
	if err != nil {
		return err
	}
	body, err := encodeBody(doc)
	if err != nil {
		return err
	}
	id, _ := doc["_id"].(string)
	if c.def.Timestamps() {
		updatedAt, _ := doc["updatedAt"].(int64)
		stmt := fmt.Sprintf(`UPDATE %s SET "body" = ?, "updatedAt" = ? WHERE "_id" = ?`, c.name)
		_, err = ex.ExecContext(ctx, stmt, body, updatedAt, id)
	} else {
		stmt := fmt.Sprintf(`UPDATE %s SET "body" = ? WHERE "_id" = ?`, c.name)
		_, err = ex.ExecContext(ctx, stmt, body, id)
	}
	if err != nil {
		return jdbxerr.Classify("coll.writeBack", err)
	}
	return c.updateMetadataIndex(ctx, id, doc)
}

// equalityFields extracts the plain-equality {field: value} entries of a
// filter, for upsert's "fields come from the filter (if a plain equality
// map)" rule (spec §4.5 updateOne).
func equalityFields(f query.M) Doc {
	out := make(Doc)
	for k, v := range f {
		switch k {
		case query.OpAnd, query.OpOr, query.OpNor, query.OpNot:
			continue
		}
		if _, isOp := v.(query.M); isOp {
			continue
		}
		if _, isOp := v.(map[string]any); isOp {
			continue
		}
		out[k] = v
	}
	return out
}

func intPtr(n int) *int { return &n }
