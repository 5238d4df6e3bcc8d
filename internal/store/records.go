package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// Record is one stored JSON document and its key.
type Record struct {
	Key  string
	Data json.RawMessage
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Get returns the record stored under key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, collection, key string) (Record, error) {
	if _, err := s.def(collection); err != nil {
		return Record{}, err
	}
	return getRecord(ctx, s.db, collection, key)
}

// GetAll returns every record of a collection in insertion order.
// Returns an empty slice (not nil) for an empty collection.
func (s *Store) GetAll(ctx context.Context, collection string) ([]Record, error) {
	if _, err := s.def(collection); err != nil {
		return nil, err
	}
	return getAllRecords(ctx, s.db, collection)
}

// GetAllByIndex returns the records whose index value equals value.
func (s *Store) GetAllByIndex(ctx context.Context, collection, index, value string) ([]Record, error) {
	def, err := s.def(collection)
	if err != nil {
		return nil, err
	}
	return getRecordsByIndex(ctx, s.db, def, index, value)
}

// Keys returns the keys of a collection in insertion order without reading
// record bodies.
func (s *Store) Keys(ctx context.Context, collection string) ([]string, error) {
	if _, err := s.def(collection); err != nil {
		return nil, err
	}
	return listKeys(ctx, s.db, collection)
}

// Put upserts a record by its key field.
func (s *Store) Put(ctx context.Context, collection string, v any) error {
	return s.RunTransaction(ctx, []string{collection}, ReadWrite, func(tx *Tx) error {
		return tx.Put(ctx, collection, v)
	})
}

// Add inserts a record, failing with ErrDuplicateKey if the key exists.
func (s *Store) Add(ctx context.Context, collection string, v any) error {
	return s.RunTransaction(ctx, []string{collection}, ReadWrite, func(tx *Tx) error {
		return tx.Add(ctx, collection, v)
	})
}

// Delete removes a record. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, collection, key string) error {
	return s.RunTransaction(ctx, []string{collection}, ReadWrite, func(tx *Tx) error {
		return tx.Delete(ctx, collection, key)
	})
}

func getRecord(ctx context.Context, q querier, collection, key string) (Record, error) {
	var data string
	err := q.QueryRowContext(ctx, `
		SELECT data FROM records WHERE collection = ? AND key = ?
	`, collection, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("get %s/%s: %w", collection, key, ErrNotFound)
	}
	if err != nil {
		return Record{}, unavailable(fmt.Sprintf("get %s/%s", collection, key), err)
	}
	return Record{Key: key, Data: json.RawMessage(data)}, nil
}

func getAllRecords(ctx context.Context, q querier, collection string) ([]Record, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT key, data FROM records
		WHERE collection = ?
		ORDER BY seq ASC
	`, collection)
	if err != nil {
		return nil, unavailable("get all "+collection, err)
	}
	return scanRecords(rows, "get all "+collection)
}

func getRecordsByIndex(ctx context.Context, q querier, def CollectionDef, index, value string) ([]Record, error) {
	if _, ok := def.index(index); !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownIndex, def.Name, index)
	}
	rows, err := q.QueryContext(ctx, `
		SELECT r.key, r.data
		FROM index_entries e
		JOIN records r ON r.collection = e.collection AND r.key = e.key
		WHERE e.collection = ? AND e.index_name = ? AND e.value = ?
		ORDER BY r.seq ASC
	`, def.Name, index, value)
	if err != nil {
		return nil, unavailable(fmt.Sprintf("get %s by %s", def.Name, index), err)
	}
	return scanRecords(rows, fmt.Sprintf("get %s by %s", def.Name, index))
}

func listKeys(ctx context.Context, q querier, collection string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT key FROM records WHERE collection = ? ORDER BY seq ASC
	`, collection)
	if err != nil {
		return nil, unavailable("list keys "+collection, err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, unavailable("list keys "+collection, err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list keys "+collection, err)
	}
	return keys, nil
}

func scanRecords(rows *sql.Rows, op string) ([]Record, error) {
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var key, data string
		if err := rows.Scan(&key, &data); err != nil {
			return nil, unavailable(op, err)
		}
		records = append(records, Record{Key: key, Data: json.RawMessage(data)})
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(op, err)
	}
	return records, nil
}

// putRecord upserts the record and rewrites its index entries.
// seq is assigned on first insert and preserved on update.
func putRecord(ctx context.Context, q querier, collection string, rec encodedRecord) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO records (collection, key, data, seq)
		VALUES (?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM records WHERE collection = ?))
		ON CONFLICT(collection, key) DO UPDATE SET data = excluded.data
	`, collection, rec.key, rec.data, collection)
	if err != nil {
		return unavailable(fmt.Sprintf("put %s/%s", collection, rec.key), err)
	}
	return writeIndexEntries(ctx, q, collection, rec)
}

// addRecord inserts the record, mapping a primary key violation to
// ErrDuplicateKey.
func addRecord(ctx context.Context, q querier, collection string, rec encodedRecord) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO records (collection, key, data, seq)
		VALUES (?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM records WHERE collection = ?))
	`, collection, rec.key, rec.data, collection)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return fmt.Errorf("add %s/%s: %w", collection, rec.key, ErrDuplicateKey)
		}
		return unavailable(fmt.Sprintf("add %s/%s", collection, rec.key), err)
	}
	return writeIndexEntries(ctx, q, collection, rec)
}

func writeIndexEntries(ctx context.Context, q querier, collection string, rec encodedRecord) error {
	if _, err := q.ExecContext(ctx, `
		DELETE FROM index_entries WHERE collection = ? AND key = ?
	`, collection, rec.key); err != nil {
		return unavailable(fmt.Sprintf("index %s/%s", collection, rec.key), err)
	}
	for name, values := range rec.entries {
		for _, v := range values {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO index_entries (collection, index_name, value, key)
				VALUES (?, ?, ?, ?)
				ON CONFLICT DO NOTHING
			`, collection, name, v, rec.key); err != nil {
				return unavailable(fmt.Sprintf("index %s/%s", collection, rec.key), err)
			}
		}
	}
	return nil
}

// deleteRecord removes a record; index entries cascade.
func deleteRecord(ctx context.Context, q querier, collection, key string) error {
	if _, err := q.ExecContext(ctx, `
		DELETE FROM records WHERE collection = ? AND key = ?
	`, collection, key); err != nil {
		return unavailable(fmt.Sprintf("delete %s/%s", collection, key), err)
	}
	return nil
}

// clearCollection removes every record of a collection.
func clearCollection(ctx context.Context, q querier, collection string) error {
	if _, err := q.ExecContext(ctx, `
		DELETE FROM records WHERE collection = ?
	`, collection); err != nil {
		return unavailable("clear "+collection, err)
	}
	return nil
}
