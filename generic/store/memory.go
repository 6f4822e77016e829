// Package store provides Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/warp/campus-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is a document store held in maps. Documents are cloned on the
// way in and out, so callers never share state with the store.
type Memory struct {
	mu               sync.RWMutex
	collections      map[string]*collection
	indexes          map[string][]generic.IndexSpec
	seq              int64
	maxDocumentBytes int
}

type collection struct {
	docs map[generic.ID]generic.Document
	seq  map[generic.ID]int64
}

func newCollection() *collection {
	return &collection{
		docs: make(map[generic.ID]generic.Document),
		seq:  make(map[generic.ID]int64),
	}
}

// Option configures a Memory store.
type Option func(*Memory)

// WithMaxDocumentBytes overrides the per-document size limit.
func WithMaxDocumentBytes(n int) Option {
	return func(m *Memory) { m.maxDocumentBytes = n }
}

func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		collections:      make(map[string]*collection),
		indexes:          make(map[string][]generic.IndexSpec),
		maxDocumentBytes: generic.DefaultMaxDocumentBytes,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Reset deletes every document. Index definitions are kept.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections = make(map[string]*collection)
	return nil
}

// EnsureIndex registers a unique index. Existing documents are checked.
func (m *Memory) EnsureIndex(_ context.Context, spec generic.IndexSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.indexes[spec.Collection] {
		if existing.Name == spec.Name {
			return nil
		}
	}
	c := m.collections[spec.Collection]
	if c != nil {
		seen := make(map[string]bool)
		for _, doc := range c.docs {
			k, ok := indexKey(spec, doc)
			if !ok {
				continue
			}
			if seen[k] {
				return &generic.DuplicateKeyError{Collection: spec.Collection, Index: spec.Name}
			}
			seen[k] = true
		}
	}
	m.indexes[spec.Collection] = append(m.indexes[spec.Collection], spec)
	return nil
}

func (m *Memory) FetchOne(ctx context.Context, coll string, filter generic.Filter) (generic.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fetchOneLocked(ctx, coll, filter)
}

func (m *Memory) FetchMany(ctx context.Context, coll string, filter generic.Filter, opts generic.FindOptions) ([]generic.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fetchManyLocked(ctx, coll, filter, opts)
}

func (m *Memory) Insert(ctx context.Context, coll string, doc generic.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(ctx, coll, doc)
}

func (m *Memory) Update(ctx context.Context, coll string, filter generic.Filter, set generic.Document) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// A multi-document update is all-or-nothing even outside WithTx.
	snap := m.snapshot()
	n, err := m.updateLocked(ctx, coll, filter, set)
	if err != nil {
		m.restore(snap)
		return 0, err
	}
	return n, nil
}

func (m *Memory) Delete(ctx context.Context, coll string, filter generic.Filter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(ctx, coll, filter)
}

func (m *Memory) Count(ctx context.Context, coll string, filter generic.Filter) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.countLocked(ctx, coll, filter)
}

// =============================================================================
// LOCKED OPERATIONS - Caller holds m.mu
// =============================================================================

func (m *Memory) fetchOneLocked(ctx context.Context, coll string, filter generic.Filter) (generic.Document, error) {
	docs, err := m.fetchManyLocked(ctx, coll, filter, generic.FindOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, generic.ErrNoDocument
	}
	return docs[0], nil
}

func (m *Memory) fetchManyLocked(ctx context.Context, coll string, filter generic.Filter, opts generic.FindOptions) ([]generic.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := m.collections[coll]
	if c == nil {
		return []generic.Document{}, nil
	}
	norm := normalizeFilter(filter)

	type hit struct {
		doc generic.Document
		seq int64
	}
	var hits []hit
	for id, doc := range c.docs {
		if matches(doc, norm) {
			hits = append(hits, hit{doc: doc, seq: c.seq[id]})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		for _, s := range opts.Sort {
			cmp := compareValues(hits[i].doc[s.Field], hits[j].doc[s.Field])
			if cmp == 0 {
				continue
			}
			if s.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return hits[i].seq < hits[j].seq
	})

	if opts.Skip > 0 {
		if opts.Skip >= len(hits) {
			hits = nil
		} else {
			hits = hits[opts.Skip:]
		}
	}
	if opts.Limit > 0 && len(hits) > opts.Limit {
		hits = hits[:opts.Limit]
	}

	out := make([]generic.Document, len(hits))
	for i, h := range hits {
		out[i] = h.doc.Clone()
	}
	return out, nil
}

func (m *Memory) insertLocked(ctx context.Context, coll string, doc generic.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := doc.Clone()
	id := stored.ID()
	if id.IsZero() {
		return fmt.Errorf("insert into %s: document has no id", coll)
	}
	if err := m.checkSize(coll, stored); err != nil {
		return err
	}
	c := m.collections[coll]
	if c == nil {
		c = newCollection()
		m.collections[coll] = c
	}
	if _, exists := c.docs[id]; exists {
		return &generic.DuplicateKeyError{Collection: coll, Index: "primary"}
	}
	if err := m.checkIndexes(coll, c, stored); err != nil {
		return err
	}
	m.seq++
	c.docs[id] = stored
	c.seq[id] = m.seq
	return nil
}

func (m *Memory) updateLocked(ctx context.Context, coll string, filter generic.Filter, set generic.Document) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c := m.collections[coll]
	if c == nil {
		return 0, nil
	}
	norm := normalizeFilter(filter)
	patch := set.Clone()
	delete(patch, "id")

	var ids []generic.ID
	for id, doc := range c.docs {
		if matches(doc, norm) {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		updated := make(generic.Document, len(c.docs[id])+len(patch))
		for k, v := range c.docs[id] {
			updated[k] = v
		}
		for k, v := range patch {
			updated[k] = v
		}
		if err := m.checkSize(coll, updated); err != nil {
			return 0, err
		}
		// Replace before checking so later documents in this batch are
		// compared against the new values.
		c.docs[id] = updated
		if err := m.checkIndexes(coll, c, updated); err != nil {
			return 0, err
		}
	}
	return int64(len(ids)), nil
}

func (m *Memory) deleteLocked(ctx context.Context, coll string, filter generic.Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c := m.collections[coll]
	if c == nil {
		return 0, nil
	}
	norm := normalizeFilter(filter)
	var n int64
	for id, doc := range c.docs {
		if matches(doc, norm) {
			delete(c.docs, id)
			delete(c.seq, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) countLocked(ctx context.Context, coll string, filter generic.Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c := m.collections[coll]
	if c == nil {
		return 0, nil
	}
	norm := normalizeFilter(filter)
	var n int64
	for _, doc := range c.docs {
		if matches(doc, norm) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) checkSize(coll string, doc generic.Document) error {
	if m.maxDocumentBytes <= 0 {
		return nil
	}
	if size := doc.Size(); size > m.maxDocumentBytes {
		return &generic.PayloadTooLargeError{Collection: coll, Size: size, Limit: m.maxDocumentBytes}
	}
	return nil
}

func (m *Memory) checkIndexes(coll string, c *collection, doc generic.Document) error {
	id := doc.ID()
	for _, spec := range m.indexes[coll] {
		k, ok := indexKey(spec, doc)
		if !ok {
			continue
		}
		for otherID, other := range c.docs {
			if otherID == id {
				continue
			}
			if otherKey, ok := indexKey(spec, other); ok && otherKey == k {
				return &generic.DuplicateKeyError{Collection: coll, Index: spec.Name}
			}
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONS - Snapshot + rollback
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The write lock is held for the whole section, so sections are serialized.
func (m *Memory) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	view := &txMemoryView{parent: m}

	if err := fn(view); err != nil {
		m.restore(snap)
		return err
	}
	if err := ctx.Err(); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	collections map[string]*collection
	seq         int64
}

// snapshot copies the maps. Stored documents are never mutated in place,
// so the documents themselves can be shared.
func (m *Memory) snapshot() memorySnapshot {
	cols := make(map[string]*collection, len(m.collections))
	for name, c := range m.collections {
		cp := &collection{
			docs: make(map[generic.ID]generic.Document, len(c.docs)),
			seq:  make(map[generic.ID]int64, len(c.seq)),
		}
		for id, doc := range c.docs {
			cp.docs[id] = doc
		}
		for id, s := range c.seq {
			cp.seq[id] = s
		}
		cols[name] = cp
	}
	return memorySnapshot{collections: cols, seq: m.seq}
}

func (m *Memory) restore(s memorySnapshot) {
	m.collections = s.collections
	m.seq = s.seq
}

type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) FetchOne(ctx context.Context, coll string, filter generic.Filter) (generic.Document, error) {
	return tv.parent.fetchOneLocked(ctx, coll, filter)
}

func (tv *txMemoryView) FetchMany(ctx context.Context, coll string, filter generic.Filter, opts generic.FindOptions) ([]generic.Document, error) {
	return tv.parent.fetchManyLocked(ctx, coll, filter, opts)
}

func (tv *txMemoryView) Insert(ctx context.Context, coll string, doc generic.Document) error {
	return tv.parent.insertLocked(ctx, coll, doc)
}

func (tv *txMemoryView) Update(ctx context.Context, coll string, filter generic.Filter, set generic.Document) (int64, error) {
	return tv.parent.updateLocked(ctx, coll, filter, set)
}

func (tv *txMemoryView) Delete(ctx context.Context, coll string, filter generic.Filter) (int64, error) {
	return tv.parent.deleteLocked(ctx, coll, filter)
}

func (tv *txMemoryView) Count(ctx context.Context, coll string, filter generic.Filter) (int64, error) {
	return tv.parent.countLocked(ctx, coll, filter)
}

// =============================================================================
// MATCHING
// =============================================================================

func normalizeFilter(f generic.Filter) generic.Filter {
	out := make(generic.Filter, len(f))
	for k, v := range f {
		if in, ok := v.(generic.In); ok {
			norm := make(generic.In, len(in))
			for i, item := range in {
				norm[i] = generic.NormalizeValue(item)
			}
			out[k] = norm
			continue
		}
		out[k] = generic.NormalizeValue(v)
	}
	return out
}

func matches(doc generic.Document, filter generic.Filter) bool {
	for field, want := range filter {
		got := doc[field]
		if in, ok := want.(generic.In); ok {
			found := false
			for _, item := range in {
				if got != nil && compareValues(got, item) == 0 {
					found = true
					break
				}
			}
			if !found {
				return false
			}
			continue
		}
		if want == nil {
			if got != nil {
				return false
			}
			continue
		}
		if got == nil || compareValues(got, want) != 0 {
			return false
		}
	}
	return true
}

// indexKey returns the uniqueness key of doc under spec, or false when
// the document is outside the (partial) index or has a null field.
func indexKey(spec generic.IndexSpec, doc generic.Document) (string, bool) {
	for field, want := range spec.Where {
		got, _ := doc[field].(string)
		if got != want {
			return "", false
		}
	}
	parts := make([]string, len(spec.Fields))
	for i, f := range spec.Fields {
		v := doc[f]
		if v == nil {
			return "", false
		}
		parts[i] = fmt.Sprintf("%T:%v", v, v)
	}
	return strings.Join(parts, "\x00"), true
}

// compareValues orders normalized JSON values: null < bool < number < string.
func compareValues(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch av := a.(type) {
	case nil:
		return 0
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	case float64:
		bv := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case string:
		return strings.Compare(av, b.(string))
	default:
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	case string:
		return 3
	default:
		return 4
	}
}
