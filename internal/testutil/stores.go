package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lslebodn/assayist/internal/fixture"
	"github.com/lslebodn/assayist/internal/memstore"
	"github.com/lslebodn/assayist/internal/sqlitestore"
	"github.com/lslebodn/assayist/store"
)

// OpenSQLite opens a fresh SQLite store in a temp dir, closed at test end.
func OpenSQLite(t testing.TB) *sqlitestore.DB {
	t.Helper()

	db, err := sqlitestore.Open(filepath.Join(t.TempDir(), "assayist.db"), sqlitestore.Options{})
	require.NoError(t, err, "opening database")
	t.Cleanup(func() { db.Close() })
	return db
}

// SeedSQLite opens a SQLite store and loads docs into it in one transaction.
func SeedSQLite(t testing.TB, docs ...*fixture.Document) *sqlitestore.DB {
	t.Helper()

	db := OpenSQLite(t)
	err := db.Ingest(context.Background(), func(w store.Writer) error {
		_, err := fixture.ApplyAll(context.Background(), w, docs...)
		return err
	})
	require.NoError(t, err, "seeding database")
	return db
}

// SeedMemory creates an in-memory store holding docs.
func SeedMemory(t testing.TB, docs ...*fixture.Document) *memstore.Store {
	t.Helper()

	s := memstore.New()
	_, err := fixture.ApplyAll(context.Background(), s, docs...)
	require.NoError(t, err, "seeding memory store")
	return s
}

// Backends returns one seeded store per backend, keyed by name, so tests can
// assert that every backend agrees.
func Backends(t testing.TB, docs ...*fixture.Document) map[string]store.Store {
	t.Helper()

	return map[string]store.Store{
		"sqlite": SeedSQLite(t, docs...),
		"memory": SeedMemory(t, docs...),
	}
}
