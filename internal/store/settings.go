package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Setting returns a value from the settings area, or ErrNotFound.
// Settings are small process-level values kept outside the collections and
// therefore outside snapshots (for example the last backup timestamp).
func (s *Store) Setting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("setting %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", unavailable("setting "+key, err)
	}
	return value, nil
}

// SetSetting upserts a value in the settings area.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
	`, key, value)
	if err != nil {
		return unavailable("set setting "+key, err)
	}
	return nil
}
