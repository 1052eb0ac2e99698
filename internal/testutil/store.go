package testutil

import (
	"testing"

	"notesync-go/internal/store"
)

// NewTestStore creates an in-memory store for testing.
func NewTestStore() *store.Memory {
	return store.NewMemory()
}

// NewTestSQLite creates an in-memory SQLite store with schema applied.
// The store is automatically closed when the test completes.
func NewTestSQLite(t *testing.T) *store.SQLite {
	t.Helper()

	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}
