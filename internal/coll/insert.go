package coll

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/jdbx/jdbx/internal/events"
	"github.com/jdbx/jdbx/internal/idgen"
	"github.com/jdbx/jdbx/internal/jdbxerr"
	"github.com/jdbx/jdbx/internal/retry"
)

// unorderedInsertConcurrency bounds how many unordered inserts run at
// once, since SQLite serialises writers anyway past a handful of
// in-flight statements.
const unorderedInsertConcurrency = 4

// InsertOptions is insertOne/insertMany's option record.
type InsertOptions struct {
	Retry   *retry.Policy
	Ordered *bool // insertMany only; default true (spec §4.5)
}

// InsertOne generates _id if absent, stamps timestamps, validates, writes
// the row, and fires an insert event on success (spec §4.5 insertOne,
// grounded on the teacher's CreateIssue transaction shape in
// internal/storage/dolt/issues.go, simplified to jdbx's single-table model).
func (c *Collection) InsertOne(ctx context.Context, input Doc, opts InsertOptions) (Doc, error) {
	p := c.effectiveRetry(opts.Retry)
	var result Doc
	err := retry.Run(ctx, "coll.InsertOne", p, func(ctx context.Context) error {
		doc, err := c.prepareInsert(input)
		if err != nil {
			return err
		}
		if err := c.runValidator(doc); err != nil {
			return err
		}
		if err := c.insertRow(ctx, doc); err != nil {
			return err
		}
		result = doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.emit(events.Insert, result)
	return result, nil
}

// prepareInsert returns a copy of input with _id and timestamps filled in.
func (c *Collection) prepareInsert(input Doc) (Doc, error) {
	doc := cloneDoc(input)
	id, _ := doc["_id"].(string)
	if id == "" {
		id = c.idFactory()
		doc["_id"] = id
	}
	if c.def.Timestamps() {
		now := idgen.NowMillis()
		if _, ok := doc["createdAt"]; !ok {
			doc["createdAt"] = now
		}
		if _, ok := doc["updatedAt"]; !ok {
			doc["updatedAt"] = now
		}
	}
	return doc, nil
}

func (c *Collection) insertRow(ctx context.Context, doc Doc) error {
	ex, err := c.execer(ctx)
	if err != nil {
		return err
	}
	classify := func(err error) error {
		cerr := jdbxerr.Classify("coll.InsertOne", err)
		if e, ok := cerr.(*jdbxerr.Error); ok && e.Code == jdbxerr.UniqueConstraint && e.Field != "" {
			e.Value = doc[e.Field]
		}
		return cerr
	}
	body, err := encodeBody(doc)
	if err != nil {
		return err
	}
	id, _ := doc["_id"].(string)

	if c.def.Timestamps() {
		createdAt, _ := doc["createdAt"].(int64)
		updatedAt, _ := doc["updatedAt"].(int64)
		stmt := fmt.Sprintf(`INSERT INTO %s ("_id", "body", "createdAt", "updatedAt") VALUES (?, ?, ?, ?)`, c.name)
		if _, err := ex.ExecContext(ctx, stmt, id, body, createdAt, updatedAt); err != nil {
			return classify(err)
		}
		return c.updateMetadataIndex(ctx, id, doc)
	}

	stmt := fmt.Sprintf(`INSERT INTO %s ("_id", "body") VALUES (?, ?)`, c.name)
	if _, err := ex.ExecContext(ctx, stmt, id, body); err != nil {
		return classify(err)
	}
	return c.updateMetadataIndex(ctx, id, doc)
}

// InsertManyResult reports the outcome of a bulk insert (spec §4.5
// insertMany).
type InsertManyResult struct {
	InsertedCount int
	InsertedIDs   []string
	Documents     []Doc
	Errors        []IndexedError // unordered mode only
}

// IndexedError pairs a bulk-operation input index with the error it produced.
type IndexedError struct {
	Index int
	Err   error
}

// InsertMany inserts every input. Ordered (the default) runs inside one
// transaction and aborts/rolls back on the first failure; unordered runs
// each insert independently and collects a per-index error list (spec
// §4.5).
func (c *Collection) InsertMany(ctx context.Context, inputs []Doc, opts InsertOptions) (*InsertManyResult, error) {
	ordered := opts.Ordered == nil || *opts.Ordered
	p := c.effectiveRetry(opts.Retry)

	if ordered {
		result := &InsertManyResult{}
		err := retry.Run(ctx, "coll.InsertMany", p, func(ctx context.Context) error {
			*result = InsertManyResult{}
			return c.db.WithTransaction(ctx, func(ctx context.Context) error {
				for _, in := range inputs {
					doc, err := c.prepareInsert(in)
					if err != nil {
						return err
					}
					if err := c.runValidator(doc); err != nil {
						return err
					}
					if err := c.insertRow(ctx, doc); err != nil {
						return err
					}
					result.Documents = append(result.Documents, doc)
					result.InsertedIDs = append(result.InsertedIDs, doc["_id"].(string))
					result.InsertedCount++
				}
				return nil
			})
		})
		if err != nil {
			return nil, err
		}
		c.emit(events.InsertMany, result.Documents)
		return result, nil
	}

	// Unordered mode fans each insert out to its own goroutine (spec §4.5
	// "unordered: continue past failures"; bounded so SQLite's single
	// writer doesn't just serialise every statement behind the limiter
	// anyway), grounded on golang.org/x/sync/errgroup's bounded-fan-out
	// idiom rather than a hand-rolled worker pool.
	type outcome struct {
		doc Doc
		err error
	}
	outcomes := make([]outcome, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(unorderedInsertConcurrency)
	for i, in := range inputs {
		i, in := i, in
		g.Go(func() error {
			var doc Doc
			err := retry.Run(gctx, "coll.InsertMany", p, func(ctx context.Context) error {
				d, err := c.prepareInsert(in)
				if err != nil {
					return err
				}
				if err := c.runValidator(d); err != nil {
					return err
				}
				if err := c.insertRow(ctx, d); err != nil {
					return err
				}
				doc = d
				return nil
			})
			outcomes[i] = outcome{doc: doc, err: err}
			return nil // per-item failures are collected, never abort the group
		})
	}
	_ = g.Wait()

	result := &InsertManyResult{}
	for i, o := range outcomes {
		if o.err != nil {
			result.Errors = append(result.Errors, IndexedError{Index: i, Err: o.err})
			continue
		}
		result.Documents = append(result.Documents, o.doc)
		result.InsertedIDs = append(result.InsertedIDs, o.doc["_id"].(string))
		result.InsertedCount++
	}
	if len(result.Documents) > 0 {
		c.emit(events.InsertMany, result.Documents)
	}
	return result, nil
}

func (c *Collection) runValidator(doc Doc) error {
	v := c.def.Validator()
	if v == nil {
		return nil
	}
	if err := v(doc); err != nil {
		if _, ok := err.(*jdbxerr.Error); ok {
			return err
		}
		return jdbxerr.Wrap(jdbxerr.Validation, "coll.validate", "document failed schema validation", err)
	}
	return nil
}
