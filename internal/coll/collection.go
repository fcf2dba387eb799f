// Package coll is jdbx's collection runtime (spec §4.5): CRUD, bulk
// insert, atomic find-and-modify, projection, distinct, retry and
// cancellation wrapping, and post-commit event emission. Grounded on the
// teacher's internal/storage/dolt/issues.go and queries*.go for the SQL
// shapes, and internal/storage/dolt/transaction.go for the
// read-then-mutate-in-one-transaction pattern used by the
// find-and-modify family.
package coll

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"sync"

	"github.com/jdbx/jdbx/internal/dbconn"
	"github.com/jdbx/jdbx/internal/events"
	"github.com/jdbx/jdbx/internal/idgen"
	"github.com/jdbx/jdbx/internal/jdbxerr"
	"github.com/jdbx/jdbx/internal/query"
	"github.com/jdbx/jdbx/internal/retry"
	"github.com/jdbx/jdbx/internal/schema"
)

// Doc is a decoded document: JSON object keys to values, always including
// "_id" and, when the collection has timestamps enabled, "createdAt"/
// "updatedAt" as millisecond integers.
type Doc = map[string]any

// Options is the common {signal, retry} envelope every method accepts
// (spec §4.5 "All methods accept an optional signal ... and retry policy
// override"). Ctx doubles as the cancellation signal (idiomatic Go: no
// separate AbortSignal type).
type Options struct {
	Retry *retry.Policy
}

// Collection is one jdbx document collection: a table plus its compiled
// schema, template cache, event emitter, and ID/retry configuration
// (spec §4.5, §4.8).
type Collection struct {
	name       string
	db         *dbconn.Database
	def        *schema.Definition
	compiled   *schema.Compiled
	cache      *query.Cache
	cacheOn    bool
	idFactory  idgen.Factory
	retryPolicy retry.Policy

	mu            sync.Mutex
	emitter       *events.Emitter
	metadataIndex bool
}

// New creates or attaches to tableName's backing table (CREATE TABLE IF
// NOT EXISTS + indexes, or PRAGMA-driven reconciliation against an
// existing table — spec §4.8 "collection(name, schema)").
func New(ctx context.Context, db *dbconn.Database, name string, def *schema.Definition) (*Collection, error) {
	compiled := schema.Compile(name, def)

	conn, err := db.Conn()
	if err != nil {
		return nil, err
	}
	if _, err := conn.ExecContext(ctx, compiled.CreateTable); err != nil {
		return nil, jdbxerr.Classify("coll.New", err)
	}
	if err := schema.Reconcile(ctx, conn, compiled); err != nil {
		return nil, jdbxerr.Classify("coll.New", err)
	}

	c := &Collection{
		name:        name,
		db:          db,
		def:         def,
		compiled:    compiled,
		cacheOn:     db.CacheEnabledByDefault(),
		idFactory:   db.IDGenerator(),
		retryPolicy: db.DefaultRetry(),
	}
	if c.cacheOn {
		c.cache = query.NewCache(query.DefaultCacheCap)
	}
	db.RegisterCollection(name, c)
	return c, nil
}

// Name returns the collection/table name.
func (c *Collection) Name() string { return c.name }

// Events returns the collection's event emitter, constructing it lazily
// on first access (spec §4.7 "created lazily on first registration").
func (c *Collection) Events() *events.Emitter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.emitter == nil {
		c.emitter = events.New()
	}
	return c.emitter
}

// emit fires name with payload only if an emitter already exists (one is
// created by the first call to Events). Call sites pass payload values they
// already hold, so no payload is built specially for the event.
func (c *Collection) emit(name events.Name, payload any) {
	c.mu.Lock()
	e := c.emitter
	c.mu.Unlock()
	if e != nil {
		e.Emit(name, payload)
	}
}

// InvalidateCache discards every cached query template, used on drop and
// on Database.Close (spec §4.5 "drop(): ... invalidate the cache").
func (c *Collection) InvalidateCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cacheOn {
		c.cache = query.NewCache(query.DefaultCacheCap)
	}
}

// EnableMetadataIndex turns on the side-table metadata index for
// unschematized fields (SPEC_FULL.md §4, grounded on the teacher's
// metadata_index.go). Off by default.
func (c *Collection) EnableMetadataIndex(ctx context.Context) error {
	c.mu.Lock()
	c.metadataIndex = true
	c.mu.Unlock()
	return ensureMetadataIndexTable(ctx, c)
}

func (c *Collection) effectiveRetry(override *retry.Policy) retry.Policy {
	if override == nil {
		return c.retryPolicy
	}
	return retry.Merge(c.retryPolicy, *override)
}

func (c *Collection) execer(ctx context.Context) (dbconn.Execer, error) {
	return c.db.Execer(ctx)
}

// translate runs filter/opts through the collection's cache (if enabled)
// or directly through the translator, scoped to this collection's schema.
func (c *Collection) translate(filter query.M, opts query.Options, cursorFilter query.M) (*query.Result, error) {
	if c.cacheOn {
		c.mu.Lock()
		cache := c.cache
		c.mu.Unlock()
		return cache.TranslateCached(filter, opts, c.def, cursorFilter)
	}
	return query.Translate(filter, opts, c.def, cursorFilter)
}

// normalizeFilter implements spec §6's "a filter argument that is a bare
// string is implicitly {_id: string}".
func normalizeFilter(filter any) (query.M, error) {
	switch f := filter.(type) {
	case string:
		return query.M{"_id": f}, nil
	case query.M:
		return f, nil
	case map[string]any:
		return query.M(f), nil
	case nil:
		return query.M{}, nil
	default:
		return nil, jdbxerr.New(jdbxerr.Query, "coll", "filter must be a string, a map, or nil")
	}
}

// isIDOnlyFilter reports whether filter is exactly {_id: X} (a plain
// equality, not an operator object), the fast-path spec §4.5's
// deleteOne/findOne shortcuts rely on.
func isIDOnlyFilter(filter query.M) (string, bool) {
	if len(filter) != 1 {
		return "", false
	}
	v, ok := filter["_id"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func decodeDoc(id string, body []byte, createdAt, updatedAt sql.NullInt64) (Doc, error) {
	var doc Doc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, jdbxerr.Wrap(jdbxerr.Database, "coll.decode", "failed to decode stored document", err)
	}
	doc["_id"] = id
	if createdAt.Valid {
		doc["createdAt"] = createdAt.Int64
	}
	if updatedAt.Valid {
		doc["updatedAt"] = updatedAt.Int64
	}
	return doc, nil
}

func encodeBody(doc Doc) ([]byte, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, jdbxerr.Wrap(jdbxerr.Database, "coll.encode", "failed to encode document", err)
	}
	return b, nil
}

func cloneDoc(doc Doc) Doc {
	out := make(Doc, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

// sortedDistinct returns the unique values in vals, sorted (spec §4.5
// "distinct ... return sorted unique values").
func sortedDistinct(vals []any) []any {
	seen := make(map[string]bool, len(vals))
	var out []any
	for _, v := range vals {
		key, err := json.Marshal(v)
		if err != nil {
			continue
		}
		if seen[string(key)] {
			continue
		}
		seen[string(key)] = true
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		ki, _ := json.Marshal(out[i])
		kj, _ := json.Marshal(out[j])
		return string(ki) < string(kj)
	})
	return out
}
