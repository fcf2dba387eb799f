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

// DeleteOptions is deleteOne/deleteMany's option record.
type DeleteOptions struct {
	Retry *retry.Policy
}

// DeleteResult reports how many rows a delete affected.
type DeleteResult struct {
	DeletedCount int
}

// DeleteOne issues DELETE ... WHERE _id = ? directly for a string or
// {_id: X} filter; otherwise resolves the target row with a LIMIT 1 find
// first (spec §4.5 deleteOne).
func (c *Collection) DeleteOne(ctx context.Context, filter any, opts DeleteOptions) (*DeleteResult, error) {
	f, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	p := c.effectiveRetry(opts.Retry)

	result := &DeleteResult{}
	var deleted Doc
	err = retry.Run(ctx, "coll.DeleteOne", p, func(ctx context.Context) error {
		*result = DeleteResult{}
		deleted = nil

		id, ok := isIDOnlyFilter(f)
		if !ok {
			doc, err := c.findOneForMutation(ctx, f)
			if err != nil {
				return err
			}
			if doc == nil {
				return nil
			}
			id, _ = doc["_id"].(string)
			deleted = doc
		}

		ex, err := c.execer(ctx)
		if err != nil {
			return err
		}
		res, err := ex.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE "_id" = ?`, c.name), id)
		if err != nil {
			return jdbxerr.Classify("coll.DeleteOne", err)
		}
		n, _ := res.RowsAffected()
		result.DeletedCount = int(n)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.DeletedCount > 0 {
		c.emit(events.Delete, deleted)
	}
	return result, nil
}

// DeleteMany issues a single DELETE over the translated WHERE (spec §4.5
// deleteMany).
func (c *Collection) DeleteMany(ctx context.Context, filter any, opts DeleteOptions) (*DeleteResult, error) {
	f, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	p := c.effectiveRetry(opts.Retry)

	result := &DeleteResult{}
	err = retry.Run(ctx, "coll.DeleteMany", p, func(ctx context.Context) error {
		*result = DeleteResult{}
		res, err := c.translate(f, query.Options{}, nil)
		if err != nil {
			return err
		}
		ex, err := c.execer(ctx)
		if err != nil {
			return err
		}
		where := ""
		if res.WhereSQL != "" {
			where = "WHERE " + res.WhereSQL
		}
		sqlRes, err := ex.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s %s`, c.name, where), res.Args...)
		if err != nil {
			return jdbxerr.Classify("coll.DeleteMany", err)
		}
		n, _ := sqlRes.RowsAffected()
		result.DeletedCount = int(n)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.DeletedCount > 0 {
		c.emit(events.DeleteMany, result.DeletedCount)
	}
	return result, nil
}

// SoftDeleteOne sets a deletedAt timestamp instead of physically removing
// the row (SPEC_FULL.md §4, grounded on the teacher's CreateTombstone in
// queries_delete.go). Physical deleteOne/deleteMany are unaffected.
func (c *Collection) SoftDeleteOne(ctx context.Context, filter any, opts DeleteOptions) (*DeleteResult, error) {
	f, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	p := c.effectiveRetry(opts.Retry)

	result := &DeleteResult{}
	var doc Doc
	err = retry.Run(ctx, "coll.SoftDeleteOne", p, func(ctx context.Context) error {
		*result = DeleteResult{}
		doc = nil
		existing, err := c.findOneForMutation(ctx, f)
		if err != nil {
			return err
		}
		if existing == nil {
			return nil
		}
		existing["deletedAt"] = idgen.NowMillis()
		if err := c.writeBack(ctx, existing); err != nil {
			return err
		}
		doc = existing
		result.DeletedCount = 1
		return nil
	})
	if err != nil {
		return nil, err
	}
	if doc != nil {
		c.emit(events.Delete, doc)
	}
	return result, nil
}
