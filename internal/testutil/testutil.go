// Package testutil provides shared test helpers: a throwaway people index and
// an in-memory record source.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/starford/arvore/internal/index"
)

// TestDB opens a SQLite people index in a per-test directory and closes it
// when the test ends.
func TestDB(t testing.TB) *index.DB {
	t.Helper()
	db, err := index.Open(filepath.Join(t.TempDir(), "arvore.db"))
	if err != nil {
		t.Fatalf("open test index: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}
