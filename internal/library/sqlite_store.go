package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aidanlsb/bql/internal/logging"
)

// SchemaVersion is the current SQLite schema version. Version 1 databases
// are migrated on open.
const SchemaVersion = 2

// SQLiteStore keeps the library in a SQLite database. Rows are keyed by
// Key(name), so names differing only in case or punctuation collide.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// OpenSQLite opens or creates the database at path. Use ":memory:" for a
// throwaway database.
func OpenSQLite(path string, logger *slog.Logger) (*SQLiteStore, error) {
	logger = logging.Default(logger).With("component", "sqlite-store")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create library directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, path: path, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Debug("opened library", "path", path)
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = NORMAL;
		PRAGMA busy_timeout = 5000;

		CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS named_queries (
			key TEXT PRIMARY KEY,          -- Key(name)
			name TEXT NOT NULL UNIQUE,
			query TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			renamed_from TEXT NOT NULL DEFAULT '',
			updated_at INTEGER NOT NULL    -- Unix seconds
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	var version string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = 'version'").Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.db.Exec("INSERT INTO meta (key, value) VALUES ('version', ?)", strconv.Itoa(SchemaVersion))
		if err != nil {
			return fmt.Errorf("failed to record schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to read schema version: %w", err)
	case version == "1":
		return s.migrateV1()
	case version != strconv.Itoa(SchemaVersion):
		return fmt.Errorf("library database %s has schema version %s, expected %d", s.path, version, SchemaVersion)
	}
	return nil
}

// migrateV1 adds the rename marker column.
func (s *SQLiteStore) migrateV1() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("ALTER TABLE named_queries ADD COLUMN renamed_from TEXT NOT NULL DEFAULT ''"); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	if _, err := tx.Exec("UPDATE meta SET value = ? WHERE key = 'version'", strconv.Itoa(SchemaVersion)); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	s.logger.Info("migrated library schema", "path", s.path, "from", 1, "to", SchemaVersion)
	return nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, query, description, renamed_from FROM named_queries ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to load library: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Name, &e.Query, &e.Description, &e.RenamedFrom); err != nil {
			return nil, fmt.Errorf("failed to scan named query: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load library: %w", err)
	}
	return entries, nil
}

// Put implements Store. It fails with ErrNameExists when another name
// already owns the same key, unless that name is e.RenamedFrom.
func (s *SQLiteStore) Put(ctx context.Context, e Entry) error {
	if err := ValidateName(e.Name); err != nil {
		return err
	}
	key := Key(e.Name)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var owner string
	err = tx.QueryRowContext(ctx, "SELECT name FROM named_queries WHERE key = ?", key).Scan(&owner)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("failed to look up %q: %w", e.Name, err)
	case owner != e.Name && owner != e.RenamedFrom:
		return fmt.Errorf("%w: %q has the same key as %q", ErrNameExists, e.Name, owner)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO named_queries (key, name, query, description, renamed_from, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			name = excluded.name,
			query = excluded.query,
			description = excluded.description,
			renamed_from = excluded.renamed_from,
			updated_at = excluded.updated_at
	`, key, e.Name, e.Query, e.Description, e.RenamedFrom, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to store %q: %w", e.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %q: %w", e.Name, err)
	}
	s.logger.Debug("stored named query", "name", e.Name)
	return nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM named_queries WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("failed to delete %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete %q: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrNameNotFound, name)
	}
	s.logger.Debug("removed named query", "name", name)
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.logger.Debug("closed library", "path", s.path)
	return s.db.Close()
}
