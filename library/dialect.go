package library

import (
	"errors"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Logical names for the constraints the store relies on. Postgres reports
// them verbatim; SQLite reports column lists which are mapped back below.
const (
	constraintActiveLoan    = "loans_one_active_per_book"
	constraintISBN          = "books_isbn_key"
	constraintEmail         = "members_email_key"
	constraintTagName       = "tags_name_key"
	constraintBookTag       = "book_tags_book_tag_key"
	constraintProfileMember = "member_profiles_member_key"
	constraintStaffUsername = "staff_username_key"
)

type violationKind int

const (
	violationUnique violationKind = iota + 1
	violationForeignKey
	violationCheck
)

type violation struct {
	kind       violationKind
	constraint string
}

type dialect struct {
	driver   string
	builder  goqu.DialectWrapper
	pragmas  []string
	schema   []string
	dsn      func(cfg Config) string
	classify func(err error) (violation, bool)
}

func dialectFor(driver string) (*dialect, error) {
	switch driver {
	case "", DriverSQLite:
		return sqliteDialect, nil
	case DriverPostgres:
		return postgresDialect, nil
	}
	return nil, fmt.Errorf("unsupported driver %q", driver)
}

// ---------------------------------------------------------------------------
// SQLite
// ---------------------------------------------------------------------------

var sqliteDialect = &dialect{
	driver:  DriverSQLite,
	builder: goqu.Dialect("sqlite3"),
	// WAL improves write concurrency.
	pragmas: []string{`PRAGMA journal_mode=WAL;`},
	schema: []string{
		`CREATE TABLE IF NOT EXISTS authors (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL,
            country TEXT,
            created_at DATETIME NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS books (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            title TEXT NOT NULL,
            isbn TEXT NOT NULL UNIQUE,
            author_id INTEGER NOT NULL REFERENCES authors(id) ON DELETE RESTRICT,
            status TEXT NOT NULL DEFAULT 'AVAILABLE' CHECK (status IN ('AVAILABLE','LOANED','LOST')),
            created_at DATETIME NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS books_status_idx ON books(status);`,
		`CREATE TABLE IF NOT EXISTS members (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            full_name TEXT NOT NULL,
            email TEXT NOT NULL UNIQUE,
            joined_at DATETIME NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS member_profiles (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            member_id INTEGER NOT NULL UNIQUE REFERENCES members(id) ON DELETE CASCADE,
            nickname TEXT,
            risk_level TEXT NOT NULL DEFAULT 'LOW' CHECK (risk_level IN ('LOW','MED','HIGH')),
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS tags (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL UNIQUE,
            description TEXT NOT NULL DEFAULT ''
        );`,
		`CREATE TABLE IF NOT EXISTS book_tags (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            book_id INTEGER NOT NULL REFERENCES books(id) ON DELETE CASCADE,
            tag_id INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
            added_at DATETIME NOT NULL,
            UNIQUE(book_id, tag_id)
        );`,
		`CREATE TABLE IF NOT EXISTS loans (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            book_id INTEGER NOT NULL REFERENCES books(id) ON DELETE RESTRICT,
            member_id INTEGER NOT NULL REFERENCES members(id) ON DELETE CASCADE,
            loaned_at DATETIME NOT NULL,
            due_at DATETIME NOT NULL,
            returned_at DATETIME
        );`,
		`CREATE UNIQUE INDEX IF NOT EXISTS loans_one_active_per_book ON loans(book_id) WHERE returned_at IS NULL;`,
		`CREATE INDEX IF NOT EXISTS loans_member_idx ON loans(member_id);`,
		`CREATE TABLE IF NOT EXISTS staff (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            username TEXT NOT NULL UNIQUE,
            password_hash BLOB NOT NULL,
            created_at DATETIME NOT NULL
        );`,
	},
	dsn: func(cfg Config) string {
		// Foreign keys are off by default in SQLite. Immediate transactions
		// take the write lock at BEGIN so concurrent lifecycle writes queue on
		// busy_timeout instead of failing on lock upgrade.
		return fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=1&_txlock=immediate",
			cfg.DSN, cfg.BusyTimeout.Milliseconds())
	},
	classify: classifySQLite,
}

// SQLite names unique indexes by their column list.
var sqliteUniqueColumns = map[string]string{
	"loans.book_id":                       constraintActiveLoan,
	"books.isbn":                          constraintISBN,
	"members.email":                       constraintEmail,
	"tags.name":                           constraintTagName,
	"book_tags.book_id, book_tags.tag_id": constraintBookTag,
	"member_profiles.member_id":           constraintProfileMember,
	"staff.username":                      constraintStaffUsername,
}

func classifySQLite(err error) (violation, bool) {
	var se sqlite3.Error
	if !errors.As(err, &se) || se.Code != sqlite3.ErrConstraint {
		return violation{}, false
	}
	switch se.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		cols := strings.TrimPrefix(se.Error(), "UNIQUE constraint failed: ")
		return violation{kind: violationUnique, constraint: sqliteUniqueColumns[cols]}, true
	case sqlite3.ErrConstraintForeignKey:
		return violation{kind: violationForeignKey}, true
	case sqlite3.ErrConstraintCheck:
		return violation{kind: violationCheck}, true
	case sqlite3.ErrConstraintTrigger:
		// ON DELETE RESTRICT fires as a trigger constraint, not 787.
		if strings.Contains(se.Error(), sqliteForeignKeyMessage) {
			return violation{kind: violationForeignKey}, true
		}
	}
	return violation{}, false
}

const sqliteForeignKeyMessage = "FOREIGN KEY constraint failed"

// ---------------------------------------------------------------------------
// PostgreSQL
// ---------------------------------------------------------------------------

var postgresDialect = &dialect{
	driver:  DriverPostgres,
	builder: goqu.Dialect("postgres"),
	schema: []string{
		`CREATE TABLE IF NOT EXISTS authors (
            id BIGSERIAL PRIMARY KEY,
            name TEXT NOT NULL,
            country TEXT,
            created_at TIMESTAMPTZ NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS books (
            id BIGSERIAL PRIMARY KEY,
            title TEXT NOT NULL,
            isbn TEXT NOT NULL,
            author_id BIGINT NOT NULL REFERENCES authors(id) ON DELETE RESTRICT,
            status TEXT NOT NULL DEFAULT 'AVAILABLE',
            created_at TIMESTAMPTZ NOT NULL,
            CONSTRAINT books_isbn_key UNIQUE (isbn),
            CONSTRAINT books_status_check CHECK (status IN ('AVAILABLE','LOANED','LOST'))
        );`,
		`CREATE INDEX IF NOT EXISTS books_status_idx ON books(status);`,
		`CREATE TABLE IF NOT EXISTS members (
            id BIGSERIAL PRIMARY KEY,
            full_name TEXT NOT NULL,
            email TEXT NOT NULL,
            joined_at TIMESTAMPTZ NOT NULL,
            CONSTRAINT members_email_key UNIQUE (email)
        );`,
		`CREATE TABLE IF NOT EXISTS member_profiles (
            id BIGSERIAL PRIMARY KEY,
            member_id BIGINT NOT NULL REFERENCES members(id) ON DELETE CASCADE,
            nickname TEXT,
            risk_level TEXT NOT NULL DEFAULT 'LOW',
            created_at TIMESTAMPTZ NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL,
            CONSTRAINT member_profiles_member_key UNIQUE (member_id),
            CONSTRAINT member_profiles_risk_check CHECK (risk_level IN ('LOW','MED','HIGH'))
        );`,
		`CREATE TABLE IF NOT EXISTS tags (
            id BIGSERIAL PRIMARY KEY,
            name TEXT NOT NULL,
            description TEXT NOT NULL DEFAULT '',
            CONSTRAINT tags_name_key UNIQUE (name)
        );`,
		`CREATE TABLE IF NOT EXISTS book_tags (
            id BIGSERIAL PRIMARY KEY,
            book_id BIGINT NOT NULL REFERENCES books(id) ON DELETE CASCADE,
            tag_id BIGINT NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
            added_at TIMESTAMPTZ NOT NULL,
            CONSTRAINT book_tags_book_tag_key UNIQUE (book_id, tag_id)
        );`,
		`CREATE TABLE IF NOT EXISTS loans (
            id BIGSERIAL PRIMARY KEY,
            book_id BIGINT NOT NULL REFERENCES books(id) ON DELETE RESTRICT,
            member_id BIGINT NOT NULL REFERENCES members(id) ON DELETE CASCADE,
            loaned_at TIMESTAMPTZ NOT NULL,
            due_at TIMESTAMPTZ NOT NULL,
            returned_at TIMESTAMPTZ,
            CONSTRAINT loans_due_after_loaned CHECK (due_at > loaned_at)
        );`,
		`CREATE UNIQUE INDEX IF NOT EXISTS loans_one_active_per_book ON loans(book_id) WHERE returned_at IS NULL;`,
		`CREATE INDEX IF NOT EXISTS loans_member_idx ON loans(member_id);`,
		`CREATE TABLE IF NOT EXISTS staff (
            id BIGSERIAL PRIMARY KEY,
            username TEXT NOT NULL,
            password_hash BYTEA NOT NULL,
            created_at TIMESTAMPTZ NOT NULL,
            CONSTRAINT staff_username_key UNIQUE (username)
        );`,
	},
	dsn:      func(cfg Config) string { return cfg.DSN },
	classify: classifyPostgres,
}

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
	pqCheckViolation      = "23514"
)

func classifyPostgres(err error) (violation, bool) {
	var pe *pq.Error
	if !errors.As(err, &pe) {
		return violation{}, false
	}
	switch pe.Code {
	case pqUniqueViolation:
		return violation{kind: violationUnique, constraint: pe.Constraint}, true
	case pqForeignKeyViolation:
		return violation{kind: violationForeignKey, constraint: pe.Constraint}, true
	case pqCheckViolation:
		return violation{kind: violationCheck, constraint: pe.Constraint}, true
	}
	return violation{}, false
}
