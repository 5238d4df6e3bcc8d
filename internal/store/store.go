package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sort"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (collections, records, index entries)
// 1 - Added settings table
const currentSchemaVersion = 1

// Store is the local record store: named JSON collections in SQLite.
// Uses WAL mode and a single connection, so every transaction has exclusive
// access to the database while it runs.
type Store struct {
	db   *sql.DB
	defs map[string]CollectionDef
}

// Option configures Open.
type Option func(*openOptions)

type openOptions struct {
	collections []CollectionDef
}

// WithCollections replaces DefaultCollections with the given declarations.
func WithCollections(defs ...CollectionDef) Option {
	return func(o *openOptions) {
		o.collections = defs
	}
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas, schema, migrations and collection declarations.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement (index entries cascade with their record)
//
// This function is idempotent: collections and indexes missing from an
// existing database are added, and existing records are never removed.
// A newly declared index is backfilled from the records already stored.
func Open(path string, opts ...Option) (*Store, error) {
	o := openOptions{collections: DefaultCollections}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, unavailable("open database", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, unavailable("connect to database", err)
	}

	// SQLite only supports one writer at a time; a single connection also
	// makes RunTransaction exclusive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, unavailable("apply pragmas", err)
	}

	if err := checkIntegrity(db); err != nil {
		db.Close()
		return nil, unavailable("integrity check", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, unavailable("apply schema", err)
	}

	defs, err := registerCollections(context.Background(), db, o.collections)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, defs: defs}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Collections returns the declared collection names in sorted order.
func (s *Store) Collections() []string {
	names := make([]string, 0, len(s.defs))
	for name := range s.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// def returns the declaration of a collection.
func (s *Store) def(collection string) (CollectionDef, error) {
	d, ok := s.defs[collection]
	if !ok {
		return CollectionDef{}, fmt.Errorf("%w: %q", ErrUnknownCollection, collection)
	}
	return d, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// checkIntegrity refuses to serve a corrupted database file.
func checkIntegrity(db *sql.DB) error {
	var result string
	if err := db.QueryRow("PRAGMA quick_check").Scan(&result); err != nil {
		return err
	}
	if result != "ok" {
		return fmt.Errorf("quick_check: %s", result)
	}
	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the settings key/value table.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS settings (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// registerCollections records the declared collections and indexes.
// Declarations are additive: a collection's key field cannot change, and
// indexes that are no longer declared are left in place.
func registerCollections(ctx context.Context, db *sql.DB, defs []CollectionDef) (map[string]CollectionDef, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable("register collections: begin tx", err)
	}
	defer tx.Rollback()

	out := make(map[string]CollectionDef, len(defs))
	for _, def := range defs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO collections (name, key_field) VALUES (?, ?)
			ON CONFLICT(name) DO NOTHING
		`, def.Name, def.KeyField); err != nil {
			return nil, unavailable("register collection "+def.Name, err)
		}

		var keyField string
		if err := tx.QueryRowContext(ctx,
			`SELECT key_field FROM collections WHERE name = ?`, def.Name,
		).Scan(&keyField); err != nil {
			return nil, unavailable("register collection "+def.Name, err)
		}
		if keyField != def.KeyField {
			return nil, fmt.Errorf("register collection %s: key field is %q, declared %q",
				def.Name, keyField, def.KeyField)
		}

		for _, idx := range def.Indexes {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO collection_indexes (collection, name, field) VALUES (?, ?, ?)
				ON CONFLICT(collection, name) DO NOTHING
			`, def.Name, idx.Name, idx.Field)
			if err != nil {
				return nil, unavailable("register index "+def.Name+"."+idx.Name, err)
			}
			added, err := res.RowsAffected()
			if err != nil {
				return nil, unavailable("register index "+def.Name+"."+idx.Name, err)
			}
			if added > 0 {
				if err := backfillIndex(ctx, tx, def, idx); err != nil {
					return nil, err
				}
			}
		}

		out[def.Name] = def
	}

	if err := tx.Commit(); err != nil {
		return nil, unavailable("register collections: commit", err)
	}
	return out, nil
}

// backfillIndex populates a newly declared index from existing records.
func backfillIndex(ctx context.Context, tx *sql.Tx, def CollectionDef, idx IndexDef) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT key, data FROM records WHERE collection = ? ORDER BY seq`, def.Name)
	if err != nil {
		return unavailable("backfill "+idx.Name, err)
	}

	type entry struct{ key, value string }
	var entries []entry
	for rows.Next() {
		var key, data string
		if err := rows.Scan(&key, &data); err != nil {
			rows.Close()
			return unavailable("backfill "+idx.Name, err)
		}
		fields, err := decodeFields([]byte(data))
		if err != nil {
			// Unreadable records are skipped here; reads surface them.
			continue
		}
		for _, v := range indexValues(fields[idx.Field]) {
			entries = append(entries, entry{key: key, value: v})
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return unavailable("backfill "+idx.Name, err)
	}
	rows.Close()

	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO index_entries (collection, index_name, value, key) VALUES (?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`, def.Name, idx.Name, e.value, e.key); err != nil {
			return unavailable("backfill "+idx.Name, err)
		}
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
