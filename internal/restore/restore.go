// Package restore replaces the contents of the local store with a snapshot.
//
// A restore is all or nothing. The document is decoded and validated in
// full before the store is touched, and the replacement itself runs in one
// transaction across every collection the document carries. Collections the
// document omits are left as they are.
package restore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/posvault/internal/backup"
	"github.com/roach88/posvault/internal/model"
	"github.com/roach88/posvault/internal/snapshot"
	"github.com/roach88/posvault/internal/store"
)

// Summary describes a completed restore.
type Summary struct {
	Timestamp string
	TenantID  string

	// Counts holds the number of records written per restored collection.
	Counts map[string]int
}

// Total returns the number of records written.
func (s *Summary) Total() int {
	n := 0
	for _, c := range s.Counts {
		n += c
	}
	return n
}

// Engine restores snapshots into a store.
type Engine struct {
	store  *store.Store
	logger *slog.Logger
}

// New creates a restore engine. A nil logger uses slog.Default().
func New(s *store.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: s, logger: logger}
}

// RestoreFromDocument validates data as a snapshot and replaces every
// collection it contains.
//
// A document that fails validation, or a record the store rejects, yields
// an error matching snapshot.ErrSnapshotInvalid and leaves the store
// unchanged. If the store itself fails the error matches
// store.ErrStoreUnavailable; the store is likewise unchanged.
func (e *Engine) RestoreFromDocument(ctx context.Context, data []byte) (*Summary, error) {
	doc, err := snapshot.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}

	var present []string
	for _, name := range model.Collections {
		if doc.Has(name) {
			present = append(present, name)
		}
	}

	summary := &Summary{
		Timestamp: doc.Timestamp,
		TenantID:  doc.TenantID,
		Counts:    make(map[string]int, len(present)),
	}

	err = e.store.RunTransaction(ctx, present, store.ReadWrite, func(tx *store.Tx) error {
		for _, name := range present {
			if err := tx.Clear(ctx, name); err != nil {
				return err
			}
			for i, raw := range doc.Collections[name] {
				if err := tx.Put(ctx, name, json.RawMessage(raw)); err != nil {
					if errors.Is(err, store.ErrInvalidRecord) {
						return &snapshot.ValidationError{
							Path:    fmt.Sprintf("%s[%d]", name, i),
							Message: err.Error(),
						}
					}
					return err
				}
			}
			summary.Counts[name] = len(doc.Collections[name])
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("restore: store unchanged: %w", err)
	}

	e.logger.Info("snapshot restored",
		"timestamp", doc.Timestamp,
		"tenant", doc.TenantID,
		"collections", len(present),
		"records", summary.Total())
	return summary, nil
}

// RestoreFromCloud fetches the snapshot at path and restores it.
func (e *Engine) RestoreFromCloud(ctx context.Context, f backup.Fetcher, path string) (*Summary, error) {
	data, err := f.Fetch(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("restore %s: fetch: %w", path, err)
	}
	e.logger.Debug("snapshot fetched", "path", path, "bytes", len(data))
	return e.RestoreFromDocument(ctx, data)
}
