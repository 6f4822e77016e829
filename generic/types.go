/*
Package generic provides the domain-agnostic core of the campus engine.

PURPOSE:
  This package contains the types every workflow shares: identifiers,
  money, schemaless documents and the filters used to query them. The
  enrollment, ledger, payroll and fee engines are all written against
  these types and the Store interface, never against a concrete database.

KEY CONCEPTS IN THIS FILE (types.go):
  - ID: A UUID-backed identifier, normalized once on ingress
  - Money: A decimal amount (no floating point anywhere near balances)
  - Document: A schemaless record as stored by the document store
  - Filter: Equality match over document fields (nil matches null/absent)
  - FindOptions: Sort, limit and skip for FetchMany

DESIGN PRINCIPLES:
  1. Precision: Money uses decimal.Decimal
  2. Type Safety: IDs are a distinct type, not bare strings
  3. One representation: documents round-trip through JSON so every
     store sees the same normalized values

USAGE:
  id := generic.NewID()
  fee := generic.NewMoney(1500)
  filter := generic.Filter{"organization_id": orgID, "status": "active"}

SEE ALSO:
  - store.go: Store and TxStore interfaces
  - errors.go: Error taxonomy shared by all engines
  - join.go: Join primitive over two collections
*/
package generic

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// ID - UUID-backed identifier
// =============================================================================

// ID identifies any document. The zero value means "no id".
type ID string

// NewID returns a fresh random identifier.
func NewID() ID {
	return ID(uuid.NewString())
}

// ParseID trims and validates s, returning the canonical lowercase form.
func ParseID(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid id %q: %w", s, err)
	}
	return ID(u.String()), nil
}

// MustParseID is ParseID for literals in tests and fixtures.
func MustParseID(s string) ID {
	id, err := ParseID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id ID) String() string { return string(id) }

// IsZero reports whether the id is empty.
func (id ID) IsZero() bool { return id == "" }

// UnmarshalJSON normalizes ids at the boundary so the rest of the
// code never sees untrimmed or mixed-case values.
func (id *ID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// IDPtr returns a pointer to id, or nil for the zero id.
func IDPtr(id ID) *ID {
	if id.IsZero() {
		return nil
	}
	return &id
}

// =============================================================================
// MONEY - Decimal amount
// =============================================================================

// Money is a currency-less decimal amount. Balances, fees and salaries
// all use it.
type Money struct {
	Value decimal.Decimal
}

func NewMoney(value int64) Money {
	return Money{Value: decimal.NewFromInt(value)}
}

func NewMoneyFromFloat(value float64) Money {
	return Money{Value: decimal.NewFromFloat(value)}
}

// ParseMoney parses a decimal string such as "1250.50".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Money{Value: d}, nil
}

func Zero() Money { return Money{Value: decimal.Zero} }

func (m Money) Add(other Money) Money { return Money{Value: m.Value.Add(other.Value)} }
func (m Money) Sub(other Money) Money { return Money{Value: m.Value.Sub(other.Value)} }
func (m Money) Neg() Money            { return Money{Value: m.Value.Neg()} }

func (m Money) IsZero() bool     { return m.Value.IsZero() }
func (m Money) IsNegative() bool { return m.Value.IsNegative() }
func (m Money) IsPositive() bool { return m.Value.IsPositive() }

func (m Money) LessThan(other Money) bool           { return m.Value.LessThan(other.Value) }
func (m Money) GreaterThanOrEqual(other Money) bool { return m.Value.GreaterThanOrEqual(other.Value) }
func (m Money) Equal(other Money) bool              { return m.Value.Equal(other.Value) }

// Max returns the larger of m and other.
func (m Money) Max(other Money) Money {
	if m.Value.LessThan(other.Value) {
		return other
	}
	return m
}

func (m Money) String() string { return m.Value.String() }

// MarshalJSON writes money as a JSON number so documents stay
// comparable and sortable in every store.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.Value.String()), nil
}

// UnmarshalJSON accepts both numbers and numeric strings.
func (m *Money) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		m.Value = decimal.Zero
		return nil
	}
	return m.Value.UnmarshalJSON(data)
}

// Sum adds all amounts.
func Sum(amounts ...Money) Money {
	total := Zero()
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// =============================================================================
// DOCUMENT - Schemaless record
// =============================================================================

// Document is a record as the store sees it. Every document has an "id"
// field; organization-scoped documents also carry "organization_id".
type Document map[string]any

// ID returns the document id, or the zero id if missing.
func (d Document) ID() ID {
	s, _ := d["id"].(string)
	return ID(s)
}

// Encode converts a typed value into a normalized Document.
func Encode(v any) (Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return doc, nil
}

// Decode converts a Document back into a typed value.
func Decode(doc Document, v any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

// DecodeAll decodes a slice of documents into a slice of T.
func DecodeAll[T any](docs []Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		var v T
		if err := Decode(doc, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Clone returns a deep copy of the document with all values normalized
// to their JSON representation (strings, float64, bool, nil, maps, slices).
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out, err := Encode(d)
	if err != nil {
		// Documents only ever hold JSON-encodable values.
		panic(err)
	}
	return out
}

// Size returns the encoded size of the document in bytes.
func (d Document) Size() int {
	raw, err := json.Marshal(d)
	if err != nil {
		return 0
	}
	return len(raw)
}

// =============================================================================
// FILTER - Equality match over fields
// =============================================================================

// Filter matches documents whose fields equal the given values.
// A nil value matches a null or absent field. An In value matches any
// of its members.
type Filter map[string]any

// In matches a field against a set of values.
type In []any

// InIDs builds an In over ids.
func InIDs(ids []ID) In {
	in := make(In, len(ids))
	for i, id := range ids {
		in[i] = id
	}
	return in
}

// With returns a copy of the filter with one more condition.
func (f Filter) With(field string, value any) Filter {
	out := make(Filter, len(f)+1)
	for k, v := range f {
		out[k] = v
	}
	out[field] = value
	return out
}

// NormalizeValue converts a filter value into the JSON representation
// stored documents use, so typed values (ID, Money, ints) compare equal.
func NormalizeValue(v any) any {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

// =============================================================================
// FIND OPTIONS
// =============================================================================

// SortField orders results by a single field.
type SortField struct {
	Field string
	Desc  bool
}

// FindOptions controls ordering and paging for FetchMany.
type FindOptions struct {
	Sort  []SortField
	Limit int
	Skip  int
}

// SortBy is shorthand for a single-field sort.
func SortBy(field string, desc bool) FindOptions {
	return FindOptions{Sort: []SortField{{Field: field, Desc: desc}}}
}
