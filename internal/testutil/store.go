package testutil

import (
	"testing"

	"arc-go/internal/arc"
	"arc-go/internal/database"
)

// NewTestStore creates an in-memory SQLite index with the schema applied.
// The store is closed when the test completes.
func NewTestStore(t *testing.T) arc.IndexStore {
	t.Helper()

	s, err := database.NewMemoryIndexStore()
	if err != nil {
		t.Fatalf("failed to open index store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

// NewTestJSONStore creates a JSON index in a temporary directory.
func NewTestJSONStore(t *testing.T) arc.IndexStore {
	t.Helper()

	s, err := database.NewJSONIndexStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open index store: %v", err)
	}
	return s
}
