// Package jdbx is an embedded JSON document database layered over a SQL
// engine with native JSON support: declare typed collections, store each
// document as a JSON body keyed by a string _id, and query it with a
// MongoDB-style filter language compiled to parameterised SQL against
// generated columns. See internal/schema, internal/query, internal/coll,
// and internal/dbconn for the core compiler, translator, collection
// runtime, and connection/transaction surface respectively.
package jdbx

import (
	"context"

	"github.com/jdbx/jdbx/internal/coll"
	"github.com/jdbx/jdbx/internal/dbconn"
	"github.com/jdbx/jdbx/internal/events"
	"github.com/jdbx/jdbx/internal/idgen"
	"github.com/jdbx/jdbx/internal/query"
	"github.com/jdbx/jdbx/internal/retry"
	"github.com/jdbx/jdbx/internal/schema"
)

// Re-exported core types, so callers never need to import internal
// packages directly.
type (
	Doc               = coll.Doc
	M                 = query.M
	SchemaBuilder     = schema.Builder
	SchemaDefinition  = schema.Definition
	FieldOption       = schema.FieldOption
	Validator         = schema.Validator
	StorageType       = schema.StorageType
	RetryPolicy       = retry.Policy
	SortField         = query.SortField
	Cursor            = query.Cursor
	TextSearch        = query.TextSearch
	EventName         = events.Name
	EventListener     = events.Listener
	FindOptions       = coll.FindOptions
	InsertOptions     = coll.InsertOptions
	UpdateOptions     = coll.UpdateOptions
	DeleteOptions     = coll.DeleteOptions
	FindModifyOptions = coll.FindModifyOptions
	ReturnDocument    = coll.ReturnDocument
	InsertManyResult  = coll.InsertManyResult
	UpdateResult      = coll.UpdateResult
	DeleteResult      = coll.DeleteResult
	CountDiagnostics  = coll.CountDiagnostics
	IDFactory         = idgen.Factory
)

// Storage type constants.
const (
	TEXT    = schema.TEXT
	INTEGER = schema.INTEGER
	REAL    = schema.REAL
	BOOLEAN = schema.BOOLEAN
	NUMERIC = schema.NUMERIC
	BLOB    = schema.BLOB
)

// Return-document constants for findOneAnd* (spec §4.5).
const (
	ReturnAfter  = coll.ReturnAfter
	ReturnBefore = coll.ReturnBefore
)

// Event name constants (spec §4.7).
const (
	EventInsert            = events.Insert
	EventInsertMany        = events.InsertMany
	EventUpdate            = events.Update
	EventUpdateMany        = events.UpdateMany
	EventReplace           = events.Replace
	EventDelete            = events.Delete
	EventDeleteMany        = events.DeleteMany
	EventFindOneAndDelete  = events.FindOneAndDelete
	EventFindOneAndUpdate  = events.FindOneAndUpdate
	EventFindOneAndReplace = events.FindOneAndReplace
	EventDrop              = events.Drop
	EventError             = events.Error
)

// Unset, placed as a field's value in an update document, removes that
// field during a deep merge (spec §9's "explicit undefined removes the
// field").
var Unset = coll.Unset

// NewSchema starts an empty schema builder (spec §4.1).
func NewSchema() *SchemaBuilder { return schema.NewBuilder() }

// DefaultIDFactory generates a UUIDv4 string (spec §2).
func DefaultIDFactory() string { return idgen.Default() }

// HashIDFactory builds an alternate ID factory for Config.IDGenerator that
// derives a short ID (prefix plus a base36 hash) instead of a random UUID
// (SPEC_FULL.md §2, grounded on the teacher's bd-style issue IDs). seed is
// called once per generated ID; the hash covers its fields, the current
// time and an internal nonce that advances on every call. Collisions are
// not detected.
func HashIDFactory(prefix string, length int, seed func() (title, description, creator string)) IDFactory {
	return idgen.HashFactory(prefix, length, seed)
}

// Config mirrors spec §4.8's database-handle option table.
type Config struct {
	Database    string
	IDGenerator IDFactory
	Retry       RetryPolicy
	EnableCache bool
	OnClose     func()
	Debug       bool
}

// Database is the handle every collection and transaction is created
// from (spec §4.8).
type Database struct {
	conn *dbconn.Database
}

// Open creates (or attaches to) the engine at cfg.Database (spec §4.8).
func Open(cfg Config) (*Database, error) {
	conn, err := dbconn.Open(dbconn.Config{
		Database:    cfg.Database,
		IDGenerator: cfg.IDGenerator,
		Retry:       cfg.Retry,
		EnableCache: cfg.EnableCache,
		OnClose:     cfg.OnClose,
		Debug:       cfg.Debug,
	})
	if err != nil {
		return nil, err
	}
	return &Database{conn: conn}, nil
}

// Collection creates (or attaches to) a collection's backing table (spec
// §4.8 "collection(name, schema)").
func (d *Database) Collection(ctx context.Context, name string, def *SchemaDefinition) (*coll.Collection, error) {
	return coll.New(ctx, d.conn, name, def)
}

// Execute runs a parameterised SQL statement directly, the raw escape
// hatch of spec §6.
func (d *Database) Execute(ctx context.Context, query string, args ...any) error {
	_, err := d.conn.Execute(ctx, query, args...)
	return err
}

// WithTransaction begins a transaction, runs fn, and commits on success
// or rolls back on any failure including cancellation (spec §4.8
// "execute(callback)"). Collections obtained from d before or during fn
// automatically reuse the transaction's connection (spec §4.8 "nested
// calls ... reuse the same connection").
func (d *Database) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return d.conn.WithTransaction(ctx, fn)
}

// Close calls onClose, then releases the connection (spec §4.8).
func (d *Database) Close() error { return d.conn.Close() }
