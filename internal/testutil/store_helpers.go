package testutil

import (
	"path/filepath"
	"testing"

	"github.com/mailroom/mailroom/internal/store"
)

// NewTestStore creates a temporary database for testing.
// The database is automatically closed when the test completes.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}
