package testutil

import (
	"path/filepath"
	"testing"

	"github.com/roach88/gatehouse/internal/store"
)

// OpenStore opens a SQLite store in the test's temporary directory and
// closes it when the test ends.
func OpenStore(t testing.TB) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "gatehouse.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
