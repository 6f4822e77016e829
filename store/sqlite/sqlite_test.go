package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/campus-engine/generic"
	"github.com/warp/campus-engine/generic/storetest"
	"github.com/warp/campus-engine/store/sqlite"
)

func newTestStore(t *testing.T, opts ...sqlite.Option) *sqlite.Store {
	store, err := sqlite.New(":memory:", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLite_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T, maxBytes int) storetest.Store {
		return newTestStore(t, sqlite.WithMaxDocumentBytes(maxBytes))
	})
}

func TestSQLite_DuplicateKeyNamesIndex(t *testing.T) {
	// GIVEN: A unique username index
	store := newTestStore(t)
	ctx := context.Background()
	spec := generic.IndexSpec{Name: "ux_credentials_username", Collection: "credentials", Fields: []string{"username"}}
	require.NoError(t, store.EnsureIndex(ctx, spec))
	require.NoError(t, store.Insert(ctx, "credentials", generic.Document{"id": generic.NewID(), "username": "amina"}))

	// WHEN: The same username is inserted again
	err := store.Insert(ctx, "credentials", generic.Document{"id": generic.NewID(), "username": "amina"})

	// THEN: The error names the violated index
	var dup *generic.DuplicateKeyError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "ux_credentials_username", dup.Index)
	assert.Equal(t, "credentials", dup.Collection)
}

func TestSQLite_IndexIsScopedToCollection(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureIndex(ctx, generic.IndexSpec{
		Name: "ux_credentials_username", Collection: "credentials", Fields: []string{"username"},
	}))

	// The same value in another collection is unaffected
	require.NoError(t, store.Insert(ctx, "credentials", generic.Document{"id": generic.NewID(), "username": "x"}))
	require.NoError(t, store.Insert(ctx, "guardians", generic.Document{"id": generic.NewID(), "username": "x"}))
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	// GIVEN: A file-backed store with one document
	path := filepath.Join(t.TempDir(), "campus.db")
	ctx := context.Background()

	first, err := sqlite.New(path)
	require.NoError(t, err)
	doc := generic.Document{"id": generic.NewID(), "name": "kept"}
	require.NoError(t, first.Insert(ctx, "things", doc))
	require.NoError(t, first.Close())

	// WHEN: The database is reopened
	second, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { second.Close() })

	// THEN: The document is still there
	got, err := second.FetchOne(ctx, "things", generic.Filter{"id": doc.ID()})
	require.NoError(t, err)
	assert.Equal(t, "kept", got["name"])
}
