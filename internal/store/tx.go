package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Mode selects whether a transaction may write.
type Mode int

const (
	// ReadOnly transactions reject every write with ErrReadOnly.
	ReadOnly Mode = iota + 1
	// ReadWrite transactions may write to their scoped collections.
	ReadWrite
)

// Tx is a transaction scoped to a fixed set of collections.
// All writes made through a Tx commit together or not at all.
type Tx struct {
	tx    *sql.Tx
	s     *Store
	scope map[string]bool
	mode  Mode
}

// RunTransaction executes fn with exclusive access to the named collections.
// If fn returns an error, or the commit fails, nothing fn wrote is kept.
//
// The store holds a single connection, so fn must use the Tx it is given;
// calling Store methods from inside fn blocks until the transaction ends.
func (s *Store) RunTransaction(ctx context.Context, collections []string, mode Mode, fn func(tx *Tx) error) error {
	scope := make(map[string]bool, len(collections))
	for _, c := range collections {
		if _, err := s.def(c); err != nil {
			return err
		}
		scope[c] = true
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin transaction", err)
	}
	defer sqlTx.Rollback() // No-op if committed

	if err := fn(&Tx{tx: sqlTx, s: s, scope: scope, mode: mode}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return unavailable("commit transaction", err)
	}
	return nil
}

// ReadAll reads every declared collection inside one read transaction, so
// the result is a consistent point-in-time view even while writers run.
func (s *Store) ReadAll(ctx context.Context) (map[string][]Record, error) {
	names := s.Collections()
	out := make(map[string][]Record, len(names))
	err := s.RunTransaction(ctx, names, ReadOnly, func(tx *Tx) error {
		for _, name := range names {
			records, err := tx.GetAll(ctx, name)
			if err != nil {
				return err
			}
			out[name] = records
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// check verifies that the collection is in scope and, for writes, that the
// transaction allows writing.
func (t *Tx) check(collection string, write bool) (CollectionDef, error) {
	def, err := t.s.def(collection)
	if err != nil {
		return CollectionDef{}, err
	}
	if !t.scope[collection] {
		return CollectionDef{}, fmt.Errorf("%w: %q", ErrOutOfScope, collection)
	}
	if write && t.mode != ReadWrite {
		return CollectionDef{}, fmt.Errorf("%w: %q", ErrReadOnly, collection)
	}
	return def, nil
}

// Get returns the record stored under key, or ErrNotFound.
func (t *Tx) Get(ctx context.Context, collection, key string) (Record, error) {
	if _, err := t.check(collection, false); err != nil {
		return Record{}, err
	}
	return getRecord(ctx, t.tx, collection, key)
}

// GetAll returns every record of a collection in insertion order.
func (t *Tx) GetAll(ctx context.Context, collection string) ([]Record, error) {
	if _, err := t.check(collection, false); err != nil {
		return nil, err
	}
	return getAllRecords(ctx, t.tx, collection)
}

// GetAllByIndex returns the records whose index value equals value.
func (t *Tx) GetAllByIndex(ctx context.Context, collection, index, value string) ([]Record, error) {
	def, err := t.check(collection, false)
	if err != nil {
		return nil, err
	}
	return getRecordsByIndex(ctx, t.tx, def, index, value)
}

// Keys returns the keys of a collection in insertion order.
func (t *Tx) Keys(ctx context.Context, collection string) ([]string, error) {
	if _, err := t.check(collection, false); err != nil {
		return nil, err
	}
	return listKeys(ctx, t.tx, collection)
}

// Put upserts a record by its key field.
func (t *Tx) Put(ctx context.Context, collection string, v any) error {
	def, err := t.check(collection, true)
	if err != nil {
		return err
	}
	rec, err := encodeRecord(def, v)
	if err != nil {
		return fmt.Errorf("put %s: %w", collection, err)
	}
	return putRecord(ctx, t.tx, collection, rec)
}

// Add inserts a record, failing with ErrDuplicateKey if the key exists.
func (t *Tx) Add(ctx context.Context, collection string, v any) error {
	def, err := t.check(collection, true)
	if err != nil {
		return err
	}
	rec, err := encodeRecord(def, v)
	if err != nil {
		return fmt.Errorf("add %s: %w", collection, err)
	}
	return addRecord(ctx, t.tx, collection, rec)
}

// Delete removes a record. Deleting an absent key is not an error.
func (t *Tx) Delete(ctx context.Context, collection, key string) error {
	if _, err := t.check(collection, true); err != nil {
		return err
	}
	return deleteRecord(ctx, t.tx, collection, key)
}

// Clear removes every record of a collection.
func (t *Tx) Clear(ctx context.Context, collection string) error {
	if _, err := t.check(collection, true); err != nil {
		return err
	}
	return clearCollection(ctx, t.tx, collection)
}
