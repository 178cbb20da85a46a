package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Config describes how to reach the store.
type Config struct {
	// Driver is DriverSQLite (default) or DriverPostgres.
	Driver string
	// DSN is a file path for SQLite or a connection string for Postgres.
	DSN string
	// BusyTimeout bounds how long SQLite waits for the write lock.
	BusyTimeout time.Duration
	Logger      *slog.Logger
	// Now overrides the clock used for timestamps.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Driver == "" {
		c.Driver = DriverSQLite
	}
	if c.DSN == "" && c.Driver == DriverSQLite {
		c.DSN = "library.db"
	}
	if c.BusyTimeout <= 0 {
		c.BusyTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Database provides high-level helpers around a SQL connection pool.
type Database struct {
	db      *sqlx.DB
	dialect *dialect
	log     *slog.Logger
	now     func() time.Time
}

// NewDatabase opens (or creates) the SQLite database at dbPath.
func NewDatabase(dbPath string) (*Database, error) {
	return Open(context.Background(), Config{DSN: dbPath})
}

// Open connects to the store described by cfg and applies the schema.
func Open(ctx context.Context, cfg Config) (*Database, error) {
	cfg = cfg.withDefaults()
	dl, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	if dl == sqliteDialect {
		// Ensure directory exists so first-run succeeds.
		if dir := filepath.Dir(cfg.DSN); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
	}

	db, err := sqlx.Open(dl.driver, dl.dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dl.driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dl.driver, err)
	}

	if err := applyMigrations(ctx, db, dl); err != nil {
		db.Close()
		return nil, err
	}

	cfg.Logger.Debug("database opened", "driver", dl.driver)
	return &Database{db: db, dialect: dl, log: cfg.Logger, now: cfg.Now}, nil
}

// Close closes the connection pool.
func (d *Database) Close() error { return d.db.Close() }

// Driver returns the name of the driver in use.
func (d *Database) Driver() string { return d.dialect.driver }

// Now returns the current time from the configured clock.
func (d *Database) Now() time.Time { return d.now() }

// ---------------------------------------------------------------------------
// Schema
// ---------------------------------------------------------------------------

const schemaVersion = 1

func applyMigrations(ctx context.Context, db *sqlx.DB, dl *dialect) error {
	for _, p := range dl.pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("pragma: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	current, err := storedSchemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range dl.schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, db.Rebind(`INSERT INTO meta(key,value) VALUES('schema_version',?)
        ON CONFLICT(key) DO UPDATE SET value=excluded.value;`), strconv.Itoa(schemaVersion)); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	return tx.Commit()
}

// storedSchemaVersion returns 0 for a fresh database.
func storedSchemaVersion(ctx context.Context, db *sqlx.DB) (int, error) {
	var current int
	err := db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key='schema_version';`).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return current, nil
}

// ---------------------------------------------------------------------------
// Transactions and sessions
// ---------------------------------------------------------------------------

// withTx runs fn in a transaction. Any error rolls everything back.
func (d *Database) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Session is the per-request handle lifecycle operations run against. It
// carries its own log correlation id and is not meant to be shared between
// requests.
type Session struct {
	db  *Database
	id  string
	log *slog.Logger
}

// NewSession starts a unit of work on d.
func (d *Database) NewSession() *Session {
	id := uuid.NewString()
	return &Session{db: d, id: id, log: d.log.With("session", id)}
}

// ID returns the correlation id attached to the session's log lines.
func (s *Session) ID() string { return s.id }

// Database returns the store the session writes to.
func (s *Session) Database() *Database { return s.db }

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (d *Database) rebind(q string) string { return d.db.Rebind(q) }

// insertID runs an INSERT ... RETURNING id statement.
func (d *Database) insertID(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) (int64, error) {
	var id int64
	if err := q.QueryRowxContext(ctx, d.rebind(query), args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func notFound(err error, what string, id any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %v: %w", what, id, ErrNotFound)
	}
	return err
}

// utc normalises timestamps before they are bound so both engines store and
// compare them in one zone.
func utc(t time.Time) time.Time { return t.UTC() }
