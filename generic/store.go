/*
store.go - Persistence interface for schemaless documents

PURPOSE:
  Defines the interface between the workflow engines and the database.
  Engines never see SQL or driver types; they read and write Documents
  in named collections and group multi-write workflows in an atomic
  section via TxStore.WithTx.

KEY INTERFACES:
  Store:   fetch-one, fetch-many, insert, update, delete, count
  TxStore: Store plus WithTx (all-or-nothing unit of work)
  Indexer: unique index declaration, applied once at startup

ATOMIC SECTIONS:
  WithTx hands the callback a Store bound to the transaction. Every read
  and write inside the callback must go through that Store. If the
  callback returns an error, or the context is cancelled before commit,
  nothing is persisted.

UNIQUE INDEXES:
  Uniqueness rules (guardian contact, username, single active
  compensation structure, payment period, invoice period) are declared
  as IndexSpec values and enforced by the store, not by read-then-write
  checks alone. A violation surfaces as *DuplicateKeyError.

DOCUMENT SIZE:
  Stores reject documents whose encoded size exceeds their limit with
  *PayloadTooLargeError.

IMPLEMENTATIONS:
  - generic/store/memory.go: In-memory for tests and demos
  - store/sqlite/sqlite.go: SQLite (json_extract over a documents table)
  - store/postgres/postgres.go: PostgreSQL (JSONB via pgx)

EXAMPLE:
  err := store.WithTx(ctx, func(tx generic.Store) error {
      if err := tx.Insert(ctx, "credentials", cred); err != nil {
          return err
      }
      return tx.Insert(ctx, "students", student)
  })

SEE ALSO:
  - atomic.go: Timeout and retry wrapper around WithTx
  - join.go: Join helper built on FetchMany
*/
package generic

import (
	"context"
	"fmt"
	"regexp"
)

// DefaultMaxDocumentBytes mirrors the document limit of common document
// databases.
const DefaultMaxDocumentBytes = 16 << 20

// =============================================================================
// STORE - Interface for document persistence
// =============================================================================

// Store persists documents in named collections.
type Store interface {
	// FetchOne returns the first document matching filter, or ErrNoDocument.
	FetchOne(ctx context.Context, collection string, filter Filter) (Document, error)

	// FetchMany returns all documents matching filter.
	FetchMany(ctx context.Context, collection string, filter Filter, opts FindOptions) ([]Document, error)

	// Insert adds a document. The document must carry an "id".
	Insert(ctx context.Context, collection string, doc Document) error

	// Update sets the given fields on every matching document and returns
	// the number of documents matched.
	Update(ctx context.Context, collection string, filter Filter, set Document) (int64, error)

	// Delete removes every matching document and returns the count removed.
	Delete(ctx context.Context, collection string, filter Filter) (int64, error)

	// Count returns the number of matching documents.
	Count(ctx context.Context, collection string, filter Filter) (int64, error)
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// INDEXES
// =============================================================================

// IndexSpec declares a unique index over one collection. Where restricts
// the index to documents whose fields equal the given string values
// (a partial index).
type IndexSpec struct {
	Name       string
	Collection string
	Fields     []string
	Where      map[string]string
}

// Indexer applies index declarations.
type Indexer interface {
	EnsureIndex(ctx context.Context, spec IndexSpec) error
}

// Resetter deletes all documents. Used by demo scenarios.
type Resetter interface {
	Reset(ctx context.Context) error
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether s is safe to use as a collection,
// field or index name inside generated SQL.
func ValidIdentifier(s string) bool {
	return identifier.MatchString(s)
}

// Validate checks that every name in the declaration is a plain identifier.
func (s IndexSpec) Validate() error {
	if !ValidIdentifier(s.Name) || !ValidIdentifier(s.Collection) {
		return fmt.Errorf("invalid index %q on %q", s.Name, s.Collection)
	}
	if len(s.Fields) == 0 {
		return fmt.Errorf("index %q has no fields", s.Name)
	}
	for _, f := range s.Fields {
		if !ValidIdentifier(f) {
			return fmt.Errorf("index %q: invalid field %q", s.Name, f)
		}
	}
	for f := range s.Where {
		if !ValidIdentifier(f) {
			return fmt.Errorf("index %q: invalid where field %q", s.Name, f)
		}
	}
	return nil
}

// EnsureIndexes applies every declaration in order.
func EnsureIndexes(ctx context.Context, ix Indexer, groups ...[]IndexSpec) error {
	for _, specs := range groups {
		for _, spec := range specs {
			if err := ix.EnsureIndex(ctx, spec); err != nil {
				return fmt.Errorf("ensure index %s: %w", spec.Name, err)
			}
		}
	}
	return nil
}

// ValidateFilter checks filter field names.
func ValidateFilter(f Filter) error {
	for k := range f {
		if !ValidIdentifier(k) {
			return fmt.Errorf("invalid filter field %q", k)
		}
	}
	return nil
}

// ValidateOptions checks sort field names.
func ValidateOptions(opts FindOptions) error {
	for _, s := range opts.Sort {
		if !ValidIdentifier(s.Field) {
			return fmt.Errorf("invalid sort field %q", s.Field)
		}
	}
	return nil
}

// FetchInto fetches one document and decodes it into v.
func FetchInto(ctx context.Context, s Store, collection string, filter Filter, v any) error {
	doc, err := s.FetchOne(ctx, collection, filter)
	if err != nil {
		return err
	}
	return Decode(doc, v)
}

// FetchAll fetches and decodes every matching document.
func FetchAll[T any](ctx context.Context, s Store, collection string, filter Filter, opts FindOptions) ([]T, error) {
	docs, err := s.FetchMany(ctx, collection, filter, opts)
	if err != nil {
		return nil, err
	}
	return DecodeAll[T](docs)
}

// InsertValue encodes v and inserts it.
func InsertValue(ctx context.Context, s Store, collection string, v any) error {
	doc, err := Encode(v)
	if err != nil {
		return err
	}
	return s.Insert(ctx, collection, doc)
}
