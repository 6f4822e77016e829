/*
Package storetest is the conformance suite every document store runs.

PURPOSE:
  The memory, SQLite and PostgreSQL stores must behave identically from
  the engines' point of view: same filter semantics, same unique index
  enforcement, same size limit, same rollback guarantees. Each store's
  tests call Run with a constructor; the suite does the rest.

USAGE:
  func TestConformance(t *testing.T) {
      storetest.Run(t, func(t *testing.T, maxBytes int) storetest.Store {
          return store.NewMemory(store.WithMaxDocumentBytes(maxBytes))
      })
  }
*/
package storetest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/campus-engine/generic"
)

// Store is what the suite needs from an implementation.
type Store interface {
	generic.TxStore
	generic.Indexer
}

// Factory builds a fresh, empty store with the given document size limit.
type Factory func(t *testing.T, maxDocumentBytes int) Store

// SmallLimit is the document limit the suite passes to factories.
const SmallLimit = 4096

var (
	contactIndex = generic.IndexSpec{
		Name:       "ux_people_org_contact",
		Collection: "people",
		Fields:     []string{"organization_id", "contact"},
	}
	activeIndex = generic.IndexSpec{
		Name:       "ux_plans_active_owner",
		Collection: "plans",
		Fields:     []string{"owner_id"},
		Where:      map[string]string{"status": "active"},
	}
)

// Run executes the conformance suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("InsertAndFetch", func(t *testing.T) { testInsertAndFetch(t, newStore) })
	t.Run("FilterSemantics", func(t *testing.T) { testFilterSemantics(t, newStore) })
	t.Run("SortLimitSkip", func(t *testing.T) { testSortLimitSkip(t, newStore) })
	t.Run("UpdateAndDelete", func(t *testing.T) { testUpdateAndDelete(t, newStore) })
	t.Run("UniqueIndex", func(t *testing.T) { testUniqueIndex(t, newStore) })
	t.Run("PartialUniqueIndex", func(t *testing.T) { testPartialUniqueIndex(t, newStore) })
	t.Run("DocumentTooLarge", func(t *testing.T) { testDocumentTooLarge(t, newStore) })
	t.Run("TxRollback", func(t *testing.T) { testTxRollback(t, newStore) })
	t.Run("TxCommit", func(t *testing.T) { testTxCommit(t, newStore) })
	t.Run("TxCancelledContext", func(t *testing.T) { testTxCancelled(t, newStore) })
	t.Run("Join", func(t *testing.T) { testJoin(t, newStore) })
}

func person(org generic.ID, name, contact string, age int) generic.Document {
	return generic.Document{
		"id":              generic.NewID(),
		"organization_id": org,
		"name":            name,
		"contact":         contact,
		"age":             age,
	}
}

func testInsertAndFetch(t *testing.T, newStore Factory) {
	// GIVEN: An empty store
	s := newStore(t, SmallLimit)
	ctx := context.Background()
	org := generic.NewID()

	// WHEN: A document is inserted
	doc := person(org, "Amina", "0170", 30)
	require.NoError(t, s.Insert(ctx, "people", doc))

	// THEN: It can be fetched back by id with normalized values
	got, err := s.FetchOne(ctx, "people", generic.Filter{"id": doc.ID()})
	require.NoError(t, err)
	assert.Equal(t, "Amina", got["name"])
	assert.Equal(t, float64(30), got["age"])
	assert.Equal(t, string(org), got["organization_id"])

	// AND: Missing documents report ErrNoDocument
	_, err = s.FetchOne(ctx, "people", generic.Filter{"id": generic.NewID()})
	assert.ErrorIs(t, err, generic.ErrNoDocument)

	// AND: Inserting the same id twice is a duplicate key
	err = s.Insert(ctx, "people", doc)
	assert.ErrorIs(t, err, generic.ErrDuplicateKey)
}

func testFilterSemantics(t *testing.T, newStore Factory) {
	s := newStore(t, SmallLimit)
	ctx := context.Background()
	orgA, orgB := generic.NewID(), generic.NewID()

	a := person(orgA, "A", "1", 10)
	b := person(orgA, "B", "2", 20)
	b["section_id"] = nil
	c := person(orgB, "C", "3", 30)
	c["section_id"] = generic.NewID()
	for _, d := range []generic.Document{a, b, c} {
		require.NoError(t, s.Insert(ctx, "people", d))
	}

	// Equality on a typed id
	docs, err := s.FetchMany(ctx, "people", generic.Filter{"organization_id": orgA}, generic.FindOptions{})
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	// Numbers compare regardless of Go type
	n, err := s.Count(ctx, "people", generic.Filter{"age": int64(20)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// nil matches both explicit null and absent fields
	n, err = s.Count(ctx, "people", generic.Filter{"section_id": nil})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// In matches any member
	docs, err = s.FetchMany(ctx, "people", generic.Filter{"id": generic.InIDs([]generic.ID{a.ID(), c.ID()})}, generic.FindOptions{})
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	// Empty In matches nothing
	n, err = s.Count(ctx, "people", generic.Filter{"id": generic.In{}})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func testSortLimitSkip(t *testing.T, newStore Factory) {
	s := newStore(t, SmallLimit)
	ctx := context.Background()
	org := generic.NewID()
	for i, name := range []string{"c", "a", "d", "b"} {
		require.NoError(t, s.Insert(ctx, "people", person(org, name, name, 40-i)))
	}

	docs, err := s.FetchMany(ctx, "people", nil, generic.SortBy("name", false))
	require.NoError(t, err)
	require.Len(t, docs, 4)
	assert.Equal(t, []any{"a", "b", "c", "d"}, []any{docs[0]["name"], docs[1]["name"], docs[2]["name"], docs[3]["name"]})

	docs, err = s.FetchMany(ctx, "people", nil, generic.FindOptions{
		Sort:  []generic.SortField{{Field: "age", Desc: true}},
		Limit: 2,
		Skip:  1,
	})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, float64(39), docs[0]["age"])
	assert.Equal(t, float64(38), docs[1]["age"])
}

func testUpdateAndDelete(t *testing.T, newStore Factory) {
	s := newStore(t, SmallLimit)
	ctx := context.Background()
	org := generic.NewID()
	a := person(org, "A", "1", 10)
	b := person(org, "B", "2", 20)
	require.NoError(t, s.Insert(ctx, "people", a))
	require.NoError(t, s.Insert(ctx, "people", b))

	// WHEN: Updating every document of the organization
	n, err := s.Update(ctx, "people", generic.Filter{"organization_id": org}, generic.Document{"status": "inactive"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// THEN: Untouched fields survive, set fields change
	got, err := s.FetchOne(ctx, "people", generic.Filter{"id": a.ID()})
	require.NoError(t, err)
	assert.Equal(t, "inactive", got["status"])
	assert.Equal(t, "A", got["name"])

	// Update with no match reports zero
	n, err = s.Update(ctx, "people", generic.Filter{"id": generic.NewID()}, generic.Document{"name": "x"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	// Delete removes only matches
	n, err = s.Delete(ctx, "people", generic.Filter{"id": a.ID()})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	count, err := s.Count(ctx, "people", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func testUniqueIndex(t *testing.T, newStore Factory) {
	s := newStore(t, SmallLimit)
	ctx := context.Background()
	require.NoError(t, s.EnsureIndex(ctx, contactIndex))
	require.NoError(t, s.EnsureIndex(ctx, contactIndex), "ensure is idempotent")

	orgA, orgB := generic.NewID(), generic.NewID()
	require.NoError(t, s.Insert(ctx, "people", person(orgA, "A", "0170", 1)))

	// Same contact in another organization is fine
	require.NoError(t, s.Insert(ctx, "people", person(orgB, "B", "0170", 1)))

	// Same contact in the same organization is rejected
	err := s.Insert(ctx, "people", person(orgA, "C", "0170", 1))
	var dup *generic.DuplicateKeyError
	require.ErrorAs(t, err, &dup)
	assert.ErrorIs(t, err, generic.ErrDuplicateKey)

	// Updates that would collide are rejected too
	other := person(orgA, "D", "0180", 1)
	require.NoError(t, s.Insert(ctx, "people", other))
	_, err = s.Update(ctx, "people", generic.Filter{"id": other.ID()}, generic.Document{"contact": "0170"})
	assert.ErrorIs(t, err, generic.ErrDuplicateKey)
}

func testPartialUniqueIndex(t *testing.T, newStore Factory) {
	s := newStore(t, SmallLimit)
	ctx := context.Background()
	require.NoError(t, s.EnsureIndex(ctx, activeIndex))
	owner := generic.NewID()

	plan := func(status string) generic.Document {
		return generic.Document{"id": generic.NewID(), "owner_id": owner, "status": status}
	}

	// Any number of inactive plans
	require.NoError(t, s.Insert(ctx, "plans", plan("inactive")))
	require.NoError(t, s.Insert(ctx, "plans", plan("inactive")))

	// Only one active plan
	first := plan("active")
	require.NoError(t, s.Insert(ctx, "plans", first))
	err := s.Insert(ctx, "plans", plan("active"))
	assert.ErrorIs(t, err, generic.ErrDuplicateKey)

	// After deactivating, a new active plan is accepted
	_, err = s.Update(ctx, "plans", generic.Filter{"owner_id": owner, "status": "active"}, generic.Document{"status": "inactive"})
	require.NoError(t, err)
	require.NoError(t, s.Insert(ctx, "plans", plan("active")))
}

func testDocumentTooLarge(t *testing.T, newStore Factory) {
	s := newStore(t, SmallLimit)
	ctx := context.Background()

	doc := person(generic.NewID(), "Big", "1", 1)
	doc["photo"] = strings.Repeat("x", SmallLimit)
	err := s.Insert(ctx, "people", doc)

	var tooLarge *generic.PayloadTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	assert.ErrorIs(t, err, generic.ErrDocumentTooLarge)
	assert.Equal(t, SmallLimit, tooLarge.Limit)

	// Growing an existing document past the limit is rejected as well
	small := person(generic.NewID(), "Small", "2", 1)
	require.NoError(t, s.Insert(ctx, "people", small))
	_, err = s.Update(ctx, "people", generic.Filter{"id": small.ID()}, generic.Document{"photo": strings.Repeat("y", SmallLimit)})
	assert.ErrorIs(t, err, generic.ErrPayloadTooLarge)
}

func testTxRollback(t *testing.T, newStore Factory) {
	s := newStore(t, SmallLimit)
	ctx := context.Background()
	org := generic.NewID()
	existing := person(org, "Existing", "0", 1)
	require.NoError(t, s.Insert(ctx, "people", existing))

	boom := errors.New("boom")

	// WHEN: A section writes, updates and deletes, then fails
	err := s.WithTx(ctx, func(tx generic.Store) error {
		if err := tx.Insert(ctx, "people", person(org, "New", "1", 2)); err != nil {
			return err
		}
		if _, err := tx.Update(ctx, "people", generic.Filter{"id": existing.ID()}, generic.Document{"name": "Changed"}); err != nil {
			return err
		}
		// Reads inside the section see the section's own writes
		n, err := tx.Count(ctx, "people", nil)
		if err != nil {
			return err
		}
		if n != 2 {
			return errors.New("section does not see its own insert")
		}
		return boom
	})

	// THEN: The error is returned unchanged and nothing persisted
	assert.ErrorIs(t, err, boom)
	n, err := s.Count(ctx, "people", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	got, err := s.FetchOne(ctx, "people", generic.Filter{"id": existing.ID()})
	require.NoError(t, err)
	assert.Equal(t, "Existing", got["name"])
}

func testTxCommit(t *testing.T, newStore Factory) {
	s := newStore(t, SmallLimit)
	ctx := context.Background()
	org := generic.NewID()

	err := s.WithTx(ctx, func(tx generic.Store) error {
		for i := 0; i < 3; i++ {
			if err := tx.Insert(ctx, "people", person(org, "P", string(rune('a'+i)), i)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	n, err := s.Count(ctx, "people", generic.Filter{"organization_id": org})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func testTxCancelled(t *testing.T, newStore Factory) {
	s := newStore(t, SmallLimit)
	ctx, cancel := context.WithCancel(context.Background())

	// WHEN: The context is cancelled mid-section
	err := s.WithTx(ctx, func(tx generic.Store) error {
		if err := tx.Insert(ctx, "people", person(generic.NewID(), "Lost", "1", 1)); err != nil {
			return err
		}
		cancel()
		return nil
	})

	// THEN: The section aborts and nothing persisted
	require.Error(t, err)
	n, err := s.Count(context.Background(), "people", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func testJoin(t *testing.T, newStore Factory) {
	s := newStore(t, SmallLimit)
	ctx := context.Background()
	org := generic.NewID()

	parentA := generic.Document{"id": generic.NewID(), "organization_id": org, "name": "A"}
	parentB := generic.Document{"id": generic.NewID(), "organization_id": org, "name": "B"}
	require.NoError(t, s.Insert(ctx, "parents", parentA))
	require.NoError(t, s.Insert(ctx, "parents", parentB))
	for i := 0; i < 2; i++ {
		require.NoError(t, s.Insert(ctx, "kids", generic.Document{"id": generic.NewID(), "parent_id": parentA.ID()}))
	}

	parents, err := s.FetchMany(ctx, "parents", generic.Filter{"organization_id": org}, generic.SortBy("name", false))
	require.NoError(t, err)

	joined, err := generic.Join(ctx, s, parents, generic.JoinSpec{
		From:         "kids",
		LocalField:   "id",
		ForeignField: "parent_id",
		As:           "kids",
		Many:         true,
	})
	require.NoError(t, err)
	require.Len(t, joined, 2)
	assert.Len(t, joined[0]["kids"], 2)
	assert.Len(t, joined[1]["kids"], 0)
	assert.NotContains(t, parents[0], "kids", "inputs are not mutated")
}
