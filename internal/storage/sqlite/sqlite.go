// Package sqlite implements the storage.Storage interface on top of an
// embedded, pure-Go SQLite engine (no cgo): ncruces/go-sqlite3 running the
// SQLite amalgamation inside a wazero WebAssembly runtime.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/gofrs/flock"

	"github.com/elemental-run/elemental/internal/errs"
	"github.com/elemental-run/elemental/internal/events"
	"github.com/elemental-run/elemental/internal/storage"
)

// SQLiteStorage is the sqlite-backed storage.Storage implementation.
type SQLiteStorage struct {
	db     *sql.DB
	path   string
	prefix string
	lock   *flock.Flock
	bus    *events.Bus

	spCounter atomic.Uint64
}

// SetEventBus attaches b so that CreateElement, UpdateElement,
// DeleteElement, AddDependency, RemoveDependency and AppendDocumentVersion
// publish to it after they commit. A store with no bus publishes nothing, so tests
// and tools that don't care about the bus can leave it unset.
//
// Operations run inside RunInTransaction (e.g. Workflow Pour) do not
// publish through this hook: the transaction may still roll back after
// any one of them runs. Callers that batch mutations in a transaction are
// responsible for publishing once the transaction has actually committed.
func (s *SQLiteStorage) SetEventBus(b *events.Bus) {
	s.bus = b
}

func (s *SQLiteStorage) publish(ev events.Event) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ev)
}

var _ storage.Storage = (*SQLiteStorage)(nil)

// New opens (creating if necessary) the database at path, applies pragmas,
// the base schema and the migration ladder, and returns a ready store.
//
// An advisory file lock is taken beside the database file for the lifetime
// of the store: SQLite's own locking serializes writers within one engine
// process, but an advisory lock additionally guards the schema-migration
// window against a second engine process racing to migrate the same file.
func New(ctx context.Context, path string) (*SQLiteStorage, error) {
	return Open(ctx, storage.Config{Path: path})
}

// Open opens the database described by cfg.
func Open(ctx context.Context, cfg storage.Config) (*SQLiteStorage, error) {
	dsn := cfg.Path
	if dsn != ":memory:" {
		lockPath := dsn + ".lock"
		lck := flock.New(lockPath)
		locked, err := lck.TryLockContext(ctx, 50*time.Millisecond)
		if err != nil || !locked {
			return nil, errs.Storage(err, "acquire advisory lock on database file")
		}
		s, err := open(ctx, dsn, cfg)
		if err != nil {
			_ = lck.Unlock()
			return nil, err
		}
		s.lock = lck
		return s, nil
	}
	return open(ctx, dsn, cfg)
}

func open(ctx context.Context, dsn string, cfg storage.Config) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errs.Storage(err, "open sqlite database")
	}

	// A single connection avoids SQLITE_BUSY thrash under WAL; reads and
	// writes alike are serialized over it.
	db.SetMaxOpenConns(1)

	busyTimeout := cfg.BusyTimeoutMS
	if busyTimeout == 0 {
		busyTimeout = 5000
	}
	cacheKB := cfg.CacheSizeKB
	if cacheKB == 0 {
		cacheKB = 20000
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout),
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA cache_size = -%d", cacheKB),
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, errs.Storage(err, "apply pragma "+p)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, errs.Storage(err, "apply base schema")
	}

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, errs.Storage(err, "run migrations")
	}

	s := &SQLiteStorage{db: db, path: dsn, prefix: cfg.Prefix}
	if cfg.Prefix != "" {
		if err := s.SetConfig(ctx, "element_prefix", cfg.Prefix); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *SQLiteStorage) Close() error {
	err := s.db.Close()
	if s.lock != nil {
		_ = s.lock.Unlock()
	}
	return err
}

func (s *SQLiteStorage) Path() string          { return s.path }
func (s *SQLiteStorage) UnderlyingDB() *sql.DB { return s.db }

// idPrefix returns the configured element ID prefix, defaulting to "el-".
func (s *SQLiteStorage) idPrefix(ctx context.Context) string {
	v, err := s.GetConfig(ctx, "element_prefix")
	if err != nil || v == "" {
		return "el-"
	}
	return v
}

// queryer is satisfied by *sql.DB, *sql.Conn and *sql.Tx alike, letting the
// element/dependency/query helpers below run unmodified whether they are
// called directly on the store or from inside a RunInTransaction callback.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *SQLiteStorage) q() queryer { return s.db }

// connTx adapts a single checked-out *sql.Conn to storage.Transaction for
// the duration of one RunInTransaction call.
type connTx struct {
	conn   *sql.Conn
	prefix string
}

func (t *connTx) q() queryer { return t.conn }

var _ storage.Transaction = (*connTx)(nil)

// RunInTransaction runs fn inside a BEGIN IMMEDIATE transaction, so the
// write lock is acquired up front rather than on first write, avoiding the
// upgrade deadlock SQLite otherwise allows between concurrent readers that
// both try to become writers.
func (s *SQLiteStorage) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return errs.Storage(err, "acquire connection")
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return errs.Storage(err, "begin transaction")
	}

	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(ctx, "ROLLBACK")
		}
	}()

	txn := &connTx{conn: conn, prefix: s.idPrefix(ctx)}
	if err := fn(txn); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return errs.Storage(err, "commit transaction")
	}
	committed = true
	return nil
}

// withSavepoint runs fn inside a named savepoint nested within an
// already-open transaction, releasing on success and rolling back to the
// savepoint (not the whole transaction) on failure.
func (s *SQLiteStorage) withSavepoint(ctx context.Context, conn *sql.Conn, fn func() error) error {
	name := fmt.Sprintf("sp_%d", s.spCounter.Add(1))
	if _, err := conn.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return errs.Storage(err, "create savepoint")
	}
	if err := fn(); err != nil {
		_, _ = conn.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name)
		return err
	}
	if _, err := conn.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return errs.Storage(err, "release savepoint")
	}
	return nil
}

// IntegrityCheck runs SQLite's built-in integrity checker and returns any
// problems it reports.
func (s *SQLiteStorage) IntegrityCheck(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "PRAGMA integrity_check")
	if err != nil {
		return nil, errs.Storage(err, "run integrity_check")
	}
	defer rows.Close()

	var problems []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, errs.Storage(err, "scan integrity_check row")
		}
		if line != "ok" {
			problems = append(problems, line)
		}
	}
	return problems, rows.Err()
}

// Optimize runs SQLite's query planner optimizer and reclaims free pages.
func (s *SQLiteStorage) Optimize(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return errs.Storage(err, "run optimize")
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return errs.Storage(err, "run vacuum")
	}
	return nil
}
