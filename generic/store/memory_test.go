package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/campus-engine/generic"
	"github.com/warp/campus-engine/generic/store"
	"github.com/warp/campus-engine/generic/storetest"
)

func TestMemory_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T, maxBytes int) storetest.Store {
		return store.NewMemory(store.WithMaxDocumentBytes(maxBytes))
	})
}

func TestMemory_EnsureIndex_RejectsExistingDuplicates(t *testing.T) {
	// GIVEN: Two documents that already share a username
	m := store.NewMemory()
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		require.NoError(t, m.Insert(ctx, "credentials", generic.Document{"id": generic.NewID(), "username": "dup"}))
	}

	// WHEN: A unique index is declared over username
	err := m.EnsureIndex(ctx, generic.IndexSpec{Name: "ux_username", Collection: "credentials", Fields: []string{"username"}})

	// THEN: The declaration fails
	assert.ErrorIs(t, err, generic.ErrDuplicateKey)
}

func TestMemory_FetchedDocumentsAreCopies(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	doc := generic.Document{"id": generic.NewID(), "name": "original"}
	require.NoError(t, m.Insert(ctx, "things", doc))

	// Mutating the caller's map or a fetched map does not touch the store
	doc["name"] = "mutated-input"
	got, err := m.FetchOne(ctx, "things", generic.Filter{"id": doc.ID()})
	require.NoError(t, err)
	got["name"] = "mutated-output"

	again, err := m.FetchOne(ctx, "things", generic.Filter{"id": doc.ID()})
	require.NoError(t, err)
	assert.Equal(t, "original", again["name"])
}

func TestMemory_UpdateOutsideTx_IsAllOrNothing(t *testing.T) {
	// GIVEN: A unique index and two documents where updating both would collide
	m := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, m.EnsureIndex(ctx, generic.IndexSpec{Name: "ux_code", Collection: "things", Fields: []string{"code"}}))
	require.NoError(t, m.Insert(ctx, "things", generic.Document{"id": generic.NewID(), "code": "a", "group": "g"}))
	require.NoError(t, m.Insert(ctx, "things", generic.Document{"id": generic.NewID(), "code": "b", "group": "g"}))

	// WHEN: Setting the same code on both
	_, err := m.Update(ctx, "things", generic.Filter{"group": "g"}, generic.Document{"code": "same"})

	// THEN: Neither document changed
	require.ErrorIs(t, err, generic.ErrDuplicateKey)
	n, err := m.Count(ctx, "things", generic.Filter{"code": "same"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
