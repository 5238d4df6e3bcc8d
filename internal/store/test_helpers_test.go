package store

import (
	"path/filepath"
	"testing"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type testProduct struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Barcode    string `json:"barcode,omitempty"`
	CategoryID string `json:"category_id,omitempty"`
}

type testOrder struct {
	ID         string   `json:"id"`
	CustomerID string   `json:"customer_id,omitempty"`
	Status     string   `json:"status"`
	Tags       []string `json:"tags,omitempty"`
}
