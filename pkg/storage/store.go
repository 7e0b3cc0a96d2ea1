// Package storage is the persistence gate: every durable fact of the system
// (debates, events, messages, ratings, positions, flips) goes through the
// Store. Backed by embedded SQLite with schema migrations applied on open.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

//go:embed migrations
var migrationsFS embed.FS

// Storage errors. Callers branch with errors.Is.
var (
	// ErrNotFound marks a lookup for a row that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a write rejected by a uniqueness constraint.
	ErrConflict = errors.New("conflict")
	// ErrSealed marks a mutation of a debate that already reached a
	// terminal outcome.
	ErrSealed = errors.New("debate sealed")
)

// Schema modules migrated independently. Each tracks its version in its own
// migrations table so a module can evolve without renumbering the others.
var schemaModules = []struct {
	name string
	dir  string
}{
	{"core", "migrations/core"},
	{"agents", "migrations/agents"},
	{"memory", "migrations/memory"},
}

// Store is the SQLite-backed persistence layer.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// SQLite allows one writer; serializing writes in-process avoids
	// SQLITE_BUSY churn under concurrent debates.
	writeMu sync.Mutex
}

// Open opens (creating if needed) the database at path and applies pending
// migrations for every schema module. Pass ":memory:" for an in-memory store.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	const pragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	var dsn string
	if path == ":memory:" {
		dsn = "file::memory:?cache=shared&" + pragmas
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = "file:" + path + "?" + pragmas
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// The modernc driver is in-process; a small pool is enough and keeps
	// write contention low.
	db.SetMaxOpenConns(4)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if err := runMigrations(db, logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// runMigrations applies pending migrations for each schema module using
// embedded migration files, one migrations table per module.
func runMigrations(db *sql.DB, logger *slog.Logger) error {
	for _, mod := range schemaModules {
		driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{
			MigrationsTable: "schema_migrations_" + mod.name,
		})
		if err != nil {
			return fmt.Errorf("module %s: creating sqlite driver: %w", mod.name, err)
		}

		sourceDriver, err := iofs.New(migrationsFS, mod.dir)
		if err != nil {
			return fmt.Errorf("module %s: creating migration source: %w", mod.name, err)
		}

		m, err := migrate.NewWithInstance("iofs", sourceDriver, mod.name, driver)
		if err != nil {
			return fmt.Errorf("module %s: creating migrate instance: %w", mod.name, err)
		}

		err = m.Up()
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("module %s: applying migrations: %w", mod.name, err)
		}

		// Close only the source driver. m.Close() would close the shared
		// *sql.DB through the database driver.
		if err := sourceDriver.Close(); err != nil {
			return fmt.Errorf("module %s: closing migration source: %w", mod.name, err)
		}

		version, dirty, err := driver.Version()
		if err != nil {
			return fmt.Errorf("module %s: reading schema version: %w", mod.name, err)
		}
		if dirty {
			return fmt.Errorf("module %s: schema version %d is dirty, refusing to start", mod.name, version)
		}
		logger.Debug("schema module ready", "module", mod.name, "version", version)
	}
	return nil
}

// Health verifies the store answers a trivial query.
func (s *Store) Health(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("storage health check: %w", err)
	}
	return nil
}

// withTx runs fn inside a transaction, serialized against other writers.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a SQLite uniqueness failure.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// modernc surfaces constraint failures in the error text; there is no
	// exported error type to branch on.
	return strings.Contains(err.Error(), "constraint failed")
}
