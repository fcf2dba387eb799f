// Package dbconn owns the single SQL connection jdbx runs against, the ID
// factory, and the default retry policy (spec §4.8). Grounded on the
// teacher's internal/storage/ephemeral.Store for connection setup (DSN,
// single-conn pool, ncruces/go-sqlite3 driver) and
// internal/storage/dolt.DoltStore.RunInTransaction/runTransactionOnce for
// the transaction-scope pattern, adapted from Dolt's serialization-retry
// loop to jdbx's generic retry envelope plus "nested calls reuse the same
// connection" (spec §4.8).
package dbconn

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/jdbx/jdbx/internal/idgen"
	"github.com/jdbx/jdbx/internal/jdbxerr"
	"github.com/jdbx/jdbx/internal/retry"
)

// Config mirrors spec §4.8's database-handle option table.
type Config struct {
	Database    string // file path, or ":memory:"
	IDGenerator idgen.Factory
	Retry       retry.Policy
	EnableCache bool
	OnClose     func()
	Debug       bool // logs every execute() call, spec §6 "Execute surface"
}

// Database is the handle every collection and transaction borrows its
// connection from (spec §4.8). The zero value is not usable; construct
// with Open.
type Database struct {
	mu          sync.Mutex
	db          *sql.DB
	cfg         Config
	closed      bool
	collections map[string]collectionCloser
}

// collectionCloser is the minimal surface Database needs to tear a
// collection down on Close/drop, satisfied by *coll.Collection without
// dbconn importing coll (which itself imports dbconn).
type collectionCloser interface {
	InvalidateCache()
}

// Open creates (or attaches to) the SQLite-JSON engine at cfg.Database in
// WAL mode, single-connection (spec §4.8 "database" option; engine
// serialises writes, §5 "Scheduling model").
func Open(cfg Config) (*Database, error) {
	if cfg.Database == "" {
		cfg.Database = ":memory:"
	}
	if cfg.IDGenerator == nil {
		cfg.IDGenerator = idgen.Default
	}
	cfg.Retry = retry.Merge(retry.Default(), cfg.Retry)

	dsn := dsnFor(cfg.Database)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, jdbxerr.Wrap(jdbxerr.Connection, "dbconn.Open", "failed to open engine", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, jdbxerr.Wrap(jdbxerr.Connection, "dbconn.Open", "failed to ping engine", err)
	}

	return &Database{
		db:          db,
		cfg:         cfg,
		collections: make(map[string]collectionCloser),
	}, nil
}

func dsnFor(database string) string {
	if database == ":memory:" {
		return "file::memory:?_journal=WAL&_busy_timeout=5000&_foreign_keys=1&cache=shared"
	}
	return fmt.Sprintf("file:%s?_journal=WAL&_busy_timeout=5000&_foreign_keys=1", database)
}

// Conn returns the underlying *sql.DB, or a CONNECTION error if the
// database has been closed (spec §4.8 "subsequent operations ... fail
// with CONNECTION_CLOSED").
func (d *Database) Conn() (*sql.DB, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, jdbxerr.New(jdbxerr.Connection, "dbconn", "database connection is closed")
	}
	return d.db, nil
}

// IDGenerator returns the configured ID factory.
func (d *Database) IDGenerator() idgen.Factory { return d.cfg.IDGenerator }

// DefaultRetry returns the database-level retry policy (the base layer of
// spec §4.6's merge order).
func (d *Database) DefaultRetry() retry.Policy { return d.cfg.Retry }

// CacheEnabledByDefault reports the enableCache configuration default new
// collections inherit.
func (d *Database) CacheEnabledByDefault() bool { return d.cfg.EnableCache }

// Debug reports whether execute() should log statements (spec §6).
func (d *Database) Debug() bool { return d.cfg.Debug }

// RegisterCollection lets a collection register itself so Close can
// invalidate every per-collection cache during teardown.
func (d *Database) RegisterCollection(name string, c collectionCloser) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.collections[name] = c
}

// Execute runs a parameterised statement directly against the connection,
// the raw escape hatch of spec §6. Intended for callers who need SQL the
// collection API doesn't expose.
func (d *Database) Execute(ctx context.Context, query string, args ...any) (sql.Result, error) {
	db, err := d.Conn()
	if err != nil {
		return nil, err
	}
	if d.cfg.Debug {
		logExecute(query, args)
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, jdbxerr.Classify("dbconn.Execute", err)
	}
	return res, nil
}

// Close releases the connection after invoking onClose (spec §4.8).
// Subsequent operations must fail with a CONNECTION error; callers detect
// this via Conn returning one once closed is true.
func (d *Database) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	onClose := d.cfg.OnClose
	db := d.db
	for _, c := range d.collections {
		c.InvalidateCache()
	}
	d.mu.Unlock()

	if onClose != nil {
		onClose()
	}
	if err := db.Close(); err != nil {
		return jdbxerr.Wrap(jdbxerr.Connection, "dbconn.Close", "failed to close engine connection", err)
	}
	return nil
}
