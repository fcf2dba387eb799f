package coll

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jdbx/jdbx/internal/jdbxerr"
	"github.com/jdbx/jdbx/internal/query"
	"github.com/jdbx/jdbx/internal/retry"
)

// FindOptions mirrors query.Options plus the retry override every method
// accepts (spec §4.5).
type FindOptions struct {
	Sort       []query.SortField
	Limit      *int
	Skip       *int
	Projection query.M
	Select     []string
	Omit       []string
	Retry      *retry.Policy
}

func (o FindOptions) queryOptions() query.Options {
	return query.Options{
		Sort:       o.Sort,
		Limit:      o.Limit,
		Skip:       o.Skip,
		Projection: o.Projection,
		Select:     o.Select,
		Omit:       o.Omit,
	}
}

// FindById runs the _id fast path (spec §9 "ID-only fast paths"), skipping
// the translator entirely.
func (c *Collection) FindById(ctx context.Context, id string, opts FindOptions) (Doc, error) {
	p := c.effectiveRetry(opts.Retry)
	var result Doc
	err := retry.Run(ctx, "coll.FindById", p, func(ctx context.Context) error {
		ex, err := c.execer(ctx)
		if err != nil {
			return err
		}
		doc, err := c.scanOne(ctx, ex, fmt.Sprintf(`SELECT %s FROM %s WHERE "_id" = ?`, c.selectCols(), c.name), id)
		if err != nil {
			return err
		}
		result = doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result != nil {
		if plan, perr := query.BuildProjectionPlan(opts.queryOptions()); perr == nil && plan != nil {
			result = plan.Apply(result)
		}
	}
	return result, nil
}

// FindOne resolves filter (string shorthand becomes {_id: filter}), appends
// LIMIT 1, and returns the first row or nil (spec §4.5 findOne).
func (c *Collection) FindOne(ctx context.Context, filter any, opts FindOptions) (Doc, error) {
	f, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	if id, ok := isIDOnlyFilter(f); ok {
		return c.FindById(ctx, id, opts)
	}

	p := c.effectiveRetry(opts.Retry)
	one := 1
	qopts := opts.queryOptions()
	qopts.Limit = &one

	var result Doc
	err = retry.Run(ctx, "coll.FindOne", p, func(ctx context.Context) error {
		res, err := c.translate(f, qopts, nil)
		if err != nil {
			return err
		}
		ex, err := c.execer(ctx)
		if err != nil {
			return err
		}
		tail, args := res.SQLTail()
		stmt := fmt.Sprintf(`SELECT %s FROM %s %s`, c.selectCols(), c.name, tail)
		doc, err := c.scanOne(ctx, ex, stmt, args...)
		if err != nil {
			return err
		}
		if doc != nil && res.Projection != nil {
			doc = res.Projection.Apply(doc)
		}
		result = doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Find translates filter/opts, executes, decodes, and projects every row
// (spec §4.5 find).
func (c *Collection) Find(ctx context.Context, filter any, opts FindOptions) ([]Doc, error) {
	f, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	p := c.effectiveRetry(opts.Retry)
	qopts := opts.queryOptions()

	var docs []Doc
	err = retry.Run(ctx, "coll.Find", p, func(ctx context.Context) error {
		docs = nil
		res, err := c.translate(f, qopts, nil)
		if err != nil {
			return err
		}
		ex, err := c.execer(ctx)
		if err != nil {
			return err
		}
		tail, args := res.SQLTail()
		stmt := fmt.Sprintf(`SELECT %s FROM %s %s`, c.selectCols(), c.name, tail)
		rows, err := ex.QueryContext(ctx, stmt, args...)
		if err != nil {
			return jdbxerr.Classify("coll.Find", err)
		}
		defer rows.Close()
		for rows.Next() {
			doc, err := c.scanRow(rows)
			if err != nil {
				return err
			}
			if res.Projection != nil {
				doc = res.Projection.Apply(doc)
			}
			docs = append(docs, doc)
		}
		return jdbxerr.Classify("coll.Find", rows.Err())
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// FindWithCursor pages filter using query.BuildCursorFilter and cursor,
// resolving the anchor document via FindById (spec §4.4).
func (c *Collection) FindWithCursor(ctx context.Context, filter any, sortSpec []query.SortField, cursor *query.Cursor, limit int, opts FindOptions) ([]Doc, error) {
	f, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}

	var cursorFilter query.M
	if cursor != nil {
		anchorID := cursor.After
		before := false
		if anchorID == "" {
			anchorID = cursor.Before
			before = true
		}
		if anchorID == "" {
			return nil, jdbxerr.New(jdbxerr.Query, "coll.cursor", "cursor requires after or before")
		}
		anchor, err := c.FindById(ctx, anchorID, FindOptions{})
		if err != nil {
			return nil, err
		}
		if anchor == nil {
			return nil, jdbxerr.New(jdbxerr.NotFound, "coll.cursor", "cursor anchor document not found").WithField("_id", anchorID)
		}
		values := make([]any, len(sortSpec))
		for i, s := range sortSpec {
			values[i] = anchor[s.Field]
		}
		cursorFilter, err = query.BuildCursorFilter(sortSpec, query.AnchorValues{ID: anchorID, Values: values}, before)
		if err != nil {
			return nil, err
		}
	}

	p := c.effectiveRetry(opts.Retry)
	qopts := opts.queryOptions()
	qopts.Sort = sortSpec
	qopts.Limit = &limit

	var docs []Doc
	err = retry.Run(ctx, "coll.FindWithCursor", p, func(ctx context.Context) error {
		docs = nil
		res, err := c.translate(f, qopts, cursorFilter)
		if err != nil {
			return err
		}
		ex, err := c.execer(ctx)
		if err != nil {
			return err
		}
		tail, args := res.SQLTail()
		stmt := fmt.Sprintf(`SELECT %s FROM %s %s`, c.selectCols(), c.name, tail)
		rows, err := ex.QueryContext(ctx, stmt, args...)
		if err != nil {
			return jdbxerr.Classify("coll.FindWithCursor", err)
		}
		defer rows.Close()
		for rows.Next() {
			doc, err := c.scanRow(rows)
			if err != nil {
				return err
			}
			if res.Projection != nil {
				doc = res.Projection.Apply(doc)
			}
			docs = append(docs, doc)
		}
		return jdbxerr.Classify("coll.FindWithCursor", rows.Err())
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// Count runs SELECT COUNT(*) over the translated WHERE (spec §4.5 count).
func (c *Collection) Count(ctx context.Context, filter any, opts FindOptions) (int64, error) {
	f, err := normalizeFilter(filter)
	if err != nil {
		return 0, err
	}
	p := c.effectiveRetry(opts.Retry)
	var n int64
	err = retry.Run(ctx, "coll.Count", p, func(ctx context.Context) error {
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
		stmt := fmt.Sprintf(`SELECT COUNT(*) FROM %s %s`, c.name, where)
		row := ex.QueryRowContext(ctx, stmt, res.Args...)
		return jdbxerr.Classify("coll.Count", row.Scan(&n))
	})
	return n, err
}

// EstimatedDocumentCount is the filter-less fast path (spec §4.5).
func (c *Collection) EstimatedDocumentCount(ctx context.Context, opts FindOptions) (int64, error) {
	p := c.effectiveRetry(opts.Retry)
	var n int64
	err := retry.Run(ctx, "coll.EstimatedDocumentCount", p, func(ctx context.Context) error {
		ex, err := c.execer(ctx)
		if err != nil {
			return err
		}
		row := ex.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, c.name))
		return jdbxerr.Classify("coll.EstimatedDocumentCount", row.Scan(&n))
	})
	return n, err
}

// Distinct returns the sorted, deduplicated values of field across rows
// matching filter (spec §4.5 distinct), using the generated column when
// available.
func (c *Collection) Distinct(ctx context.Context, field string, filter any, opts FindOptions) ([]any, error) {
	f, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	p := c.effectiveRetry(opts.Retry)
	var out []any
	err = retry.Run(ctx, "coll.Distinct", p, func(ctx context.Context) error {
		out = nil
		res, err := c.translate(f, query.Options{}, nil)
		if err != nil {
			return err
		}
		ex, err := c.execer(ctx)
		if err != nil {
			return err
		}
		col := c.resolveDistinctColumn(field)
		where := ""
		if res.WhereSQL != "" {
			where = "WHERE " + res.WhereSQL
		}
		stmt := fmt.Sprintf(`SELECT DISTINCT %s FROM %s %s`, col, c.name, where)
		rows, err := ex.QueryContext(ctx, stmt, res.Args...)
		if err != nil {
			return jdbxerr.Classify("coll.Distinct", err)
		}
		defer rows.Close()
		var raw []any
		for rows.Next() {
			var v any
			if err := rows.Scan(&v); err != nil {
				return jdbxerr.Classify("coll.Distinct", err)
			}
			raw = append(raw, v)
		}
		if err := rows.Err(); err != nil {
			return jdbxerr.Classify("coll.Distinct", err)
		}
		out = sortedDistinct(raw)
		return nil
	})
	return out, err
}

func (c *Collection) resolveDistinctColumn(field string) string {
	col, _ := query.ColumnFor(field, c.def)
	return col
}

// Search is find with a synthesised multi-field text search (spec §4.5
// search).
func (c *Collection) Search(ctx context.Context, text string, fields []string, caseSensitive bool, opts FindOptions) ([]Doc, error) {
	qopts := opts.queryOptions()
	qopts.TextSearch = &query.TextSearch{Text: text, Fields: fields, CaseSensitive: caseSensitive}

	p := c.effectiveRetry(opts.Retry)
	var docs []Doc
	err := retry.Run(ctx, "coll.Search", p, func(ctx context.Context) error {
		docs = nil
		res, err := c.translate(query.M{}, qopts, nil)
		if err != nil {
			return err
		}
		ex, err := c.execer(ctx)
		if err != nil {
			return err
		}
		tail, args := res.SQLTail()
		stmt := fmt.Sprintf(`SELECT %s FROM %s %s`, c.selectCols(), c.name, tail)
		rows, err := ex.QueryContext(ctx, stmt, args...)
		if err != nil {
			return jdbxerr.Classify("coll.Search", err)
		}
		defer rows.Close()
		for rows.Next() {
			doc, err := c.scanRow(rows)
			if err != nil {
				return err
			}
			if res.Projection != nil {
				doc = res.Projection.Apply(doc)
			}
			docs = append(docs, doc)
		}
		return jdbxerr.Classify("coll.Search", rows.Err())
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// selectCols returns the SELECT list for this collection's row shape.
func (c *Collection) selectCols() string {
	if c.def.Timestamps() {
		return `"_id", "body", "createdAt", "updatedAt"`
	}
	return `"_id", "body"`
}

func (c *Collection) scanOne(ctx context.Context, ex interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, stmt string, args ...any) (Doc, error) {
	row := ex.QueryRowContext(ctx, stmt, args...)
	var id string
	var body []byte
	var createdAt, updatedAt sql.NullInt64
	var err error
	if c.def.Timestamps() {
		err = row.Scan(&id, &body, &createdAt, &updatedAt)
	} else {
		err = row.Scan(&id, &body)
	}
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, jdbxerr.Classify("coll.scanOne", err)
	}
	return decodeDoc(id, body, createdAt, updatedAt)
}

func (c *Collection) scanRow(rows *sql.Rows) (Doc, error) {
	var id string
	var body []byte
	var createdAt, updatedAt sql.NullInt64
	var err error
	if c.def.Timestamps() {
		err = rows.Scan(&id, &body, &createdAt, &updatedAt)
	} else {
		err = rows.Scan(&id, &body)
	}
	if err != nil {
		return nil, jdbxerr.Classify("coll.scanRow", err)
	}
	return decodeDoc(id, body, createdAt, updatedAt)
}
