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

// ReturnDocument selects which state findOneAnd* returns.
type ReturnDocument int

const (
	ReturnAfter ReturnDocument = iota // default, spec §4.5
	ReturnBefore
)

// FindModifyOptions is the findOneAndDelete/Update/Replace option record.
type FindModifyOptions struct {
	Retry          *retry.Policy
	Sort           []query.SortField
	Upsert         bool
	ReturnDocument ReturnDocument
}

// FindOneAndDelete reads (respecting opts.Sort) then deletes inside one
// transaction, returning the deleted document or nil (spec §4.5).
func (c *Collection) FindOneAndDelete(ctx context.Context, filter any, opts FindModifyOptions) (Doc, error) {
	f, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	p := c.effectiveRetry(opts.Retry)

	var result Doc
	err = retry.Run(ctx, "coll.FindOneAndDelete", p, func(ctx context.Context) error {
		result = nil
		return c.db.WithTransaction(ctx, func(ctx context.Context) error {
			doc, err := c.findOneSorted(ctx, f, opts.Sort)
			if err != nil {
				return err
			}
			if doc == nil {
				return nil
			}
			ex, err := c.execer(ctx)
			if err != nil {
				return err
			}
			id, _ := doc["_id"].(string)
			if _, err := ex.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE "_id" = ?`, c.name), id); err != nil {
				return jdbxerr.Classify("coll.FindOneAndDelete", err)
			}
			result = doc
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if result != nil {
		c.emit(events.FindOneAndDelete, result)
	}
	return result, nil
}

// FindOneAndUpdate reads, applies the deep-merge update, writes it back,
// and returns the before- or after-state inside one transaction (spec
// §4.5). Supports upsert.
func (c *Collection) FindOneAndUpdate(ctx context.Context, filter any, update Doc, opts FindModifyOptions) (Doc, error) {
	f, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	p := c.effectiveRetry(opts.Retry)

	var result Doc
	var fired Doc
	err = retry.Run(ctx, "coll.FindOneAndUpdate", p, func(ctx context.Context) error {
		result = nil
		fired = nil
		return c.db.WithTransaction(ctx, func(ctx context.Context) error {
			existing, err := c.findOneSorted(ctx, f, opts.Sort)
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
				fired = doc
				if opts.ReturnDocument == ReturnBefore {
					result = nil
				} else {
					result = doc
				}
				return nil
			}

			before := cloneDoc(existing)
			after := applyUpdate(cloneDoc(existing), update)
			if c.def.Timestamps() {
				after["updatedAt"] = idgen.NowMillis()
			}
			if err := c.runValidator(after); err != nil {
				return err
			}
			if err := c.writeBack(ctx, after); err != nil {
				return err
			}
			fired = after
			if opts.ReturnDocument == ReturnBefore {
				result = before
			} else {
				result = after
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if fired != nil {
		c.emit(events.FindOneAndUpdate, fired)
	}
	return result, nil
}

// FindOneAndReplace reads, replaces the body wholesale (preserving _id and
// createdAt), and returns the before- or after-state inside one
// transaction (spec §4.5). Supports upsert.
func (c *Collection) FindOneAndReplace(ctx context.Context, filter any, document Doc, opts FindModifyOptions) (Doc, error) {
	f, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	p := c.effectiveRetry(opts.Retry)

	var result Doc
	var fired Doc
	err = retry.Run(ctx, "coll.FindOneAndReplace", p, func(ctx context.Context) error {
		result = nil
		fired = nil
		return c.db.WithTransaction(ctx, func(ctx context.Context) error {
			existing, err := c.findOneSorted(ctx, f, opts.Sort)
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
				fired = doc
				if opts.ReturnDocument == ReturnBefore {
					result = nil
				} else {
					result = doc
				}
				return nil
			}

			before := cloneDoc(existing)
			after := cloneDoc(document)
			after["_id"] = existing["_id"]
			if c.def.Timestamps() {
				after["createdAt"] = existing["createdAt"]
				after["updatedAt"] = idgen.NowMillis()
			}
			if err := c.runValidator(after); err != nil {
				return err
			}
			if err := c.writeBack(ctx, after); err != nil {
				return err
			}
			fired = after
			if opts.ReturnDocument == ReturnBefore {
				result = before
			} else {
				result = after
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if fired != nil {
		c.emit(events.FindOneAndReplace, fired)
	}
	return result, nil
}

// findOneSorted is findOneForMutation plus an optional sort spec, used by
// the findOneAnd* family which must honour opts.Sort when several rows
// match (spec §4.5 "respecting opts.sort").
func (c *Collection) findOneSorted(ctx context.Context, f query.M, sort []query.SortField) (Doc, error) {
	if len(sort) == 0 {
		return c.findOneForMutation(ctx, f)
	}
	res, err := c.translate(f, query.Options{Sort: sort, Limit: intPtr(1)}, nil)
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
