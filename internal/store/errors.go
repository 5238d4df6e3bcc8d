package store

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable means the underlying database could not be opened or
	// queried. It is retryable and must never be read as "no data".
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrNotFound means the requested key is absent from the collection.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateKey is returned by Add when the key already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrUnknownCollection means the collection was never declared.
	ErrUnknownCollection = errors.New("unknown collection")

	// ErrUnknownIndex means the index is not declared on the collection.
	ErrUnknownIndex = errors.New("unknown index")

	// ErrInvalidRecord means the record is not a JSON object with a
	// non-empty string key field.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrOutOfScope means a transaction touched a collection it did not name.
	ErrOutOfScope = errors.New("collection not in transaction scope")

	// ErrReadOnly means a write was attempted in a ReadOnly transaction.
	ErrReadOnly = errors.New("write in read-only transaction")
)

// unavailable wraps a driver error so that callers can match both
// ErrStoreUnavailable and the underlying cause.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// IsUnavailable reports whether err means the store could not be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
