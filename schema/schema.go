/*
Package schema validates request payloads against declared field tables.

PURPOSE:
  Every workflow payload is described once as a Shape: a table of the
  fields it recognizes, their kinds, defaults and limits. Decode checks
  raw JSON against the Shape, fills defaults, normalizes ids and dates,
  and only then decodes into the operation's typed request struct.
  Unknown fields are rejected.

SHAPE EXAMPLE:
  var PaymentShape = schema.Shape{
      "staff_id":   {Kind: schema.ID, Required: true},
      "month":      {Kind: schema.Integer, Required: true, Min: schema.Float(1), Max: schema.Float(12)},
      "deductions": {Kind: schema.Number, Default: 0, Min: schema.Float(0)},
      "method":     {Kind: schema.String, Allowed: []string{"Bank", "Mobile Banking", "Cash"}},
  }

USAGE:
  req, err := schema.Decode[payroll.PaymentRequest](body, payroll.PaymentShape)
  if err != nil {
      // *generic.ValidationError listing every bad field
  }

SEE ALSO:
  - generic/errors.go: ValidationError
  - enrollment/shapes.go, ledger/shapes.go, payroll/shapes.go, fees/shapes.go
*/
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/campus-engine/generic"
)

// =============================================================================
// FIELD TABLE
// =============================================================================

// Kind is the JSON type a field accepts.
type Kind string

const (
	String  Kind = "string"
	Number  Kind = "number"
	Integer Kind = "integer"
	Bool    Kind = "bool"
	Date    Kind = "date"
	ID      Kind = "id"
	Object  Kind = "object"
	Array   Kind = "array"
)

// Field declares one recognized field.
type Field struct {
	Kind     Kind
	Required bool
	// Default is used when the field is absent. A func() any is called.
	Default any
	// Nullable accepts an explicit null.
	Nullable bool
	// AllowEmpty accepts "" for String and ID kinds.
	AllowEmpty bool
	Allowed    []string
	Min        *float64
	Max        *float64
	MaxLen     int
	// Fields describes an Object; Items describes each Array element.
	Fields   Shape
	Items    *Field
	MinItems int
}

// Shape is the field table of one payload.
type Shape map[string]Field

// Float is a helper for Min and Max literals.
func Float(v float64) *float64 { return &v }

// =============================================================================
// ENTRY POINTS
// =============================================================================

// Decode validates raw against shape and decodes the result into T.
func Decode[T any](raw []byte, shape Shape) (T, error) {
	var out T
	clean, err := Validate(raw, shape)
	if err != nil {
		return out, err
	}
	if err := generic.Decode(clean, &out); err != nil {
		return out, generic.NewValidationError("", "%v", err)
	}
	return out, nil
}

// Validate returns the cleaned, defaulted payload.
func Validate(raw []byte, shape Shape) (generic.Document, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, generic.NewValidationError("", "malformed JSON: %v", err)
	}
	obj, ok := payload.(map[string]any)
	if !ok {
		return nil, generic.NewValidationError("", "payload must be a JSON object")
	}

	v := &validator{}
	clean := v.object("", obj, shape)
	if len(v.errs) > 0 {
		return nil, &generic.ValidationError{Fields: v.errs}
	}
	return generic.Document(clean), nil
}

// =============================================================================
// VALIDATOR
// =============================================================================

type validator struct {
	errs []generic.FieldError
}

func (v *validator) fail(path, format string, args ...any) {
	v.errs = append(v.errs, generic.FieldError{Field: path, Message: fmt.Sprintf(format, args...)})
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func (v *validator) object(path string, obj map[string]any, shape Shape) map[string]any {
	out := make(map[string]any, len(shape))

	unknown := make([]string, 0)
	for name := range obj {
		if _, ok := shape[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	for _, name := range unknown {
		v.fail(join(path, name), "is not allowed")
	}

	names := make([]string, 0, len(shape))
	for name := range shape {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		field := shape[name]
		fieldPath := join(path, name)
		raw, present := obj[name]

		if present && raw == nil {
			if field.Nullable {
				out[name] = nil
				continue
			}
			present = false
		}
		if !present {
			switch {
			case field.Required:
				v.fail(fieldPath, "is required")
			case field.Default != nil:
				out[name] = defaultValue(field.Default)
			}
			continue
		}
		if value, ok := v.value(fieldPath, raw, field); ok {
			out[name] = value
		}
	}
	return out
}

func defaultValue(d any) any {
	if fn, ok := d.(func() any); ok {
		return fn()
	}
	return d
}

func (v *validator) value(path string, raw any, field Field) (any, bool) {
	switch field.Kind {
	case String:
		return v.str(path, raw, field)
	case Number, Integer:
		return v.number(path, raw, field)
	case Bool:
		b, ok := raw.(bool)
		if !ok {
			v.fail(path, "must be a boolean")
		}
		return b, ok
	case Date:
		return v.date(path, raw)
	case ID:
		return v.id(path, raw, field)
	case Object:
		obj, ok := raw.(map[string]any)
		if !ok {
			v.fail(path, "must be an object")
			return nil, false
		}
		return v.object(path, obj, field.Fields), true
	case Array:
		return v.array(path, raw, field)
	default:
		v.fail(path, "has unsupported kind %q", field.Kind)
		return nil, false
	}
}

func (v *validator) str(path string, raw any, field Field) (any, bool) {
	s, ok := raw.(string)
	if !ok {
		v.fail(path, "must be a string")
		return nil, false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		if !field.AllowEmpty {
			v.fail(path, "is not allowed to be empty")
			return nil, false
		}
		return s, true
	}
	if field.MaxLen > 0 && len(s) > field.MaxLen {
		v.fail(path, "must be at most %d characters", field.MaxLen)
		return nil, false
	}
	if len(field.Allowed) > 0 && !contains(field.Allowed, s) {
		v.fail(path, "must be one of [%s]", strings.Join(field.Allowed, ", "))
		return nil, false
	}
	return s, true
}

func (v *validator) number(path string, raw any, field Field) (any, bool) {
	var text string
	switch n := raw.(type) {
	case json.Number:
		text = n.String()
	case string:
		text = strings.TrimSpace(n)
	default:
		v.fail(path, "must be a number")
		return nil, false
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		v.fail(path, "must be a number")
		return nil, false
	}
	if field.Kind == Integer && !d.Equal(d.Truncate(0)) {
		v.fail(path, "must be an integer")
		return nil, false
	}
	if field.Min != nil && d.LessThan(decimal.NewFromFloat(*field.Min)) {
		v.fail(path, "must be greater than or equal to %v", *field.Min)
		return nil, false
	}
	if field.Max != nil && d.GreaterThan(decimal.NewFromFloat(*field.Max)) {
		v.fail(path, "must be less than or equal to %v", *field.Max)
		return nil, false
	}
	return json.Number(d.String()), true
}

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

func (v *validator) date(path string, raw any) (any, bool) {
	s, ok := raw.(string)
	if !ok {
		v.fail(path, "must be a date")
		return nil, false
	}
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(time.RFC3339Nano), true
		}
	}
	v.fail(path, "must be a valid date (YYYY-MM-DD or RFC 3339)")
	return nil, false
}

func (v *validator) id(path string, raw any, field Field) (any, bool) {
	s, ok := raw.(string)
	if !ok {
		v.fail(path, "must be an id string")
		return nil, false
	}
	id, err := generic.ParseID(s)
	if err != nil {
		v.fail(path, "must be a valid id")
		return nil, false
	}
	if id.IsZero() && !field.AllowEmpty {
		v.fail(path, "is not allowed to be empty")
		return nil, false
	}
	return string(id), true
}

func (v *validator) array(path string, raw any, field Field) (any, bool) {
	items, ok := raw.([]any)
	if !ok {
		v.fail(path, "must be an array")
		return nil, false
	}
	if len(items) < field.MinItems {
		v.fail(path, "must contain at least %d items", field.MinItems)
		return nil, false
	}
	if field.Items == nil {
		return items, true
	}
	out := make([]any, 0, len(items))
	before := len(v.errs)
	for i, item := range items {
		itemPath := fmt.Sprintf("%s[%d]", path, i)
		if item == nil {
			v.fail(itemPath, "is required")
			continue
		}
		if value, ok := v.value(itemPath, item, *field.Items); ok {
			out = append(out, value)
		}
	}
	return out, len(v.errs) == before
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
