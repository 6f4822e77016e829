/*
Package sqlite provides a SQLite-backed implementation of the document store.

PURPOSE:
  Implements generic.TxStore and generic.Indexer on a single SQLite
  table. Each document is one row holding its JSON body; filters, sorts
  and unique indexes are expressed with json_extract over that body.

KEY TABLE:
  documents(collection, id, body, created_at, updated_at)
    PRIMARY KEY (collection, id)

INDEXES:
  - idx_documents_org: (collection, organization_id) for tenant-scoped reads
  - One expression index per generic.IndexSpec, partial on collection
    (and on the spec's Where values), e.g.

      CREATE UNIQUE INDEX ux_compensation_active_staff ON documents(
          json_extract(body, '$.staff_id'))
      WHERE collection = 'compensation_structures'
        AND json_extract(body, '$.status') = 'active'

CONCURRENCY:
  Uses sync.RWMutex for thread-safety: writes and transactions take the
  write lock, reads take the read lock. An in-memory database is pinned
  to one connection (every connection would otherwise be a separate
  database).

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/campus.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). Unique indexes are created by
  EnsureIndex at startup.

SEE ALSO:
  - generic/store.go: Interface definitions
  - store/sqlite/query.go: Filter and sort translation
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/campus-engine/generic"
)

// Store implements generic.TxStore using SQLite.
type Store struct {
	db               *sql.DB
	mu               sync.RWMutex
	maxDocumentBytes int
}

// Option configures a Store.
type Option func(*options)

type options struct {
	maxDocumentBytes int
	maxOpenConns     int
}

// WithMaxDocumentBytes overrides the per-document size limit.
func WithMaxDocumentBytes(n int) Option {
	return func(o *options) { o.maxDocumentBytes = n }
}

// WithMaxOpenConns caps the connection pool. Ignored for ":memory:".
func WithMaxOpenConns(n int) Option {
	return func(o *options) { o.maxOpenConns = n }
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string, opts ...Option) (*Store, error) {
	o := options{maxDocumentBytes: generic.DefaultMaxDocumentBytes}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	switch {
	case dbPath == ":memory:":
		db.SetMaxOpenConns(1)
	case o.maxOpenConns > 0:
		db.SetMaxOpenConns(o.maxOpenConns)
	}

	store := &Store{db: db, maxDocumentBytes: o.maxDocumentBytes}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Reset deletes every document. Index definitions are kept.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM documents")
	return err
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		body TEXT NOT NULL CHECK (json_valid(body)),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (collection, id)
	);

	-- Tenant-scoped reads (hot path)
	CREATE INDEX IF NOT EXISTS idx_documents_org
		ON documents(collection, json_extract(body, '$.organization_id'));
	`
	_, err := s.db.Exec(schema)
	return err
}

// EnsureIndex creates a unique expression index for spec.
func (s *Store) EnsureIndex(ctx context.Context, spec generic.IndexSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	exprs := make([]string, len(spec.Fields))
	for i, f := range spec.Fields {
		exprs[i] = fieldExpr(f)
	}
	where := []string{"collection = " + quote(spec.Collection)}
	for _, f := range sortedKeys(spec.Where) {
		where = append(where, fieldExpr(f)+" = "+quote(spec.Where[f]))
	}
	ddl := fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON documents(%s) WHERE %s",
		spec.Name, strings.Join(exprs, ", "), strings.Join(where, " AND "))

	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return mapError(spec.Collection, err)
	}
	return nil
}

// =============================================================================
// STORE - Reads and writes outside a transaction
// =============================================================================

func (s *Store) FetchOne(ctx context.Context, coll string, filter generic.Filter) (generic.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fetchOne(ctx, s.db, coll, filter)
}

func (s *Store) FetchMany(ctx context.Context, coll string, filter generic.Filter, opts generic.FindOptions) ([]generic.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fetchMany(ctx, s.db, coll, filter, opts)
}

func (s *Store) Count(ctx context.Context, coll string, filter generic.Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count(ctx, s.db, coll, filter)
}

func (s *Store) Insert(ctx context.Context, coll string, doc generic.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(ctx, s.db, coll, doc)
}

// Update runs in its own transaction so a multi-document update is
// all-or-nothing.
func (s *Store) Update(ctx context.Context, coll string, filter generic.Filter, set generic.Document) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		n, err = s.update(ctx, tx, coll, filter, set)
		return err
	})
	return n, err
}

func (s *Store) Delete(ctx context.Context, coll string, filter generic.Filter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delete(ctx, s.db, coll, filter)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		return fn(&txStore{tx: tx, parent: s})
	})
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// txStore routes every call through the open transaction.
type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) FetchOne(ctx context.Context, coll string, filter generic.Filter) (generic.Document, error) {
	return ts.parent.fetchOne(ctx, ts.tx, coll, filter)
}

func (ts *txStore) FetchMany(ctx context.Context, coll string, filter generic.Filter, opts generic.FindOptions) ([]generic.Document, error) {
	return ts.parent.fetchMany(ctx, ts.tx, coll, filter, opts)
}

func (ts *txStore) Insert(ctx context.Context, coll string, doc generic.Document) error {
	return ts.parent.insert(ctx, ts.tx, coll, doc)
}

func (ts *txStore) Update(ctx context.Context, coll string, filter generic.Filter, set generic.Document) (int64, error) {
	return ts.parent.update(ctx, ts.tx, coll, filter, set)
}

func (ts *txStore) Delete(ctx context.Context, coll string, filter generic.Filter) (int64, error) {
	return ts.parent.delete(ctx, ts.tx, coll, filter)
}

func (ts *txStore) Count(ctx context.Context, coll string, filter generic.Filter) (int64, error) {
	return ts.parent.count(ctx, ts.tx, coll, filter)
}

// =============================================================================
// OPERATIONS - Shared by Store and txStore
// =============================================================================

func (s *Store) fetchOne(ctx context.Context, q querier, coll string, filter generic.Filter) (generic.Document, error) {
	docs, err := s.fetchMany(ctx, q, coll, filter, generic.FindOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, generic.ErrNoDocument
	}
	return docs[0], nil
}

func (s *Store) fetchMany(ctx context.Context, q querier, coll string, filter generic.Filter, opts generic.FindOptions) ([]generic.Document, error) {
	where, args, err := buildWhere(coll, filter)
	if err != nil {
		return nil, err
	}
	order, err := buildOrder(opts)
	if err != nil {
		return nil, err
	}
	query := "SELECT body FROM documents WHERE " + where + order + buildLimit(opts)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", coll, err)
	}
	defer rows.Close()

	docs := []generic.Document{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var doc generic.Document
		if err := json.Unmarshal([]byte(body), &doc); err != nil {
			return nil, fmt.Errorf("decode %s document: %w", coll, err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *Store) count(ctx context.Context, q querier, coll string, filter generic.Filter) (int64, error) {
	where, args, err := buildWhere(coll, filter)
	if err != nil {
		return 0, err
	}
	var n int64
	err = q.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents WHERE "+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", coll, err)
	}
	return n, nil
}

func (s *Store) insert(ctx context.Context, q querier, coll string, doc generic.Document) error {
	id := doc.ID()
	if id.IsZero() {
		return fmt.Errorf("insert into %s: document has no id", coll)
	}
	body, err := s.encode(coll, doc)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = q.ExecContext(ctx, `
		INSERT INTO documents (collection, id, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, coll, string(id), body, now, now)
	if err != nil {
		return mapError(coll, err)
	}
	return nil
}

func (s *Store) update(ctx context.Context, q querier, coll string, filter generic.Filter, set generic.Document) (int64, error) {
	docs, err := s.fetchMany(ctx, q, coll, filter, generic.FindOptions{})
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	patch := set.Clone()
	delete(patch, "id")

	for _, doc := range docs {
		for k, v := range patch {
			doc[k] = v
		}
		body, err := s.encode(coll, doc)
		if err != nil {
			return 0, err
		}
		_, err = q.ExecContext(ctx, `
			UPDATE documents SET body = ?, updated_at = ?
			WHERE collection = ? AND id = ?
		`, body, now, coll, string(doc.ID()))
		if err != nil {
			return 0, mapError(coll, err)
		}
	}
	return int64(len(docs)), nil
}

func (s *Store) delete(ctx context.Context, q querier, coll string, filter generic.Filter) (int64, error) {
	where, args, err := buildWhere(coll, filter)
	if err != nil {
		return 0, err
	}
	result, err := q.ExecContext(ctx, "DELETE FROM documents WHERE "+where, args...)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", coll, err)
	}
	return result.RowsAffected()
}

func (s *Store) encode(coll string, doc generic.Document) (string, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode %s document: %w", coll, err)
	}
	if s.maxDocumentBytes > 0 && len(body) > s.maxDocumentBytes {
		return "", &generic.PayloadTooLargeError{Collection: coll, Size: len(body), Limit: s.maxDocumentBytes}
	}
	return string(body), nil
}

// =============================================================================
// HELPERS
// =============================================================================

// mapError converts unique constraint failures into DuplicateKeyError.
func mapError(coll string, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) &&
		(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
		return &generic.DuplicateKeyError{Collection: coll, Index: indexName(sqliteErr.Error())}
	}
	return fmt.Errorf("%s: %w", coll, err)
}

// indexName extracts the index from "UNIQUE constraint failed: index 'ux_name'".
func indexName(msg string) string {
	const marker = "index '"
	i := strings.Index(msg, marker)
	if i < 0 {
		return "primary"
	}
	rest := msg[i+len(marker):]
	if j := strings.Index(rest, "'"); j >= 0 {
		return rest[:j]
	}
	return rest
}
