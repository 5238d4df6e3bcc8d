package testutil

import (
	"path/filepath"
	"testing"

	"github.com/roach88/posvault/internal/store"
)

// OpenStore opens a fresh file-backed store in a per-test directory and
// closes it when the test ends.
func OpenStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "posvault.db"))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
