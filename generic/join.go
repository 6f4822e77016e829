/*
join.go - Join primitive over two collections

PURPOSE:
  Some listings need data from a second collection: guardians with the
  number of children enrolled, salary payments with the compensation
  structure they were paid under. Join performs the lookup in one extra
  query per call (an In filter over the local keys) instead of one query
  per row.

EXAMPLE:
  docs, _ := store.FetchMany(ctx, "guardians", scope, generic.FindOptions{})
  joined, _ := generic.Join(ctx, store, docs, generic.JoinSpec{
      From:         "students",
      LocalField:   "id",
      ForeignField: "guardian_id",
      As:           "children",
      Many:         true,
  })
*/
package generic

import (
	"context"
	"fmt"
)

// JoinSpec describes a lookup from local documents into another collection.
type JoinSpec struct {
	From         string
	LocalField   string
	ForeignField string
	As           string
	// Many attaches a slice of matches; otherwise the first match or nil.
	Many bool
	// Filter is applied to the foreign collection in addition to the key match.
	Filter Filter
}

// Join attaches matching foreign documents to each local document under
// spec.As. Local documents are returned as new maps; inputs are not mutated.
func Join(ctx context.Context, s Store, local []Document, spec JoinSpec) ([]Document, error) {
	keys := make(In, 0, len(local))
	seen := make(map[string]bool, len(local))
	for _, doc := range local {
		v := doc[spec.LocalField]
		if v == nil {
			continue
		}
		k := fmt.Sprint(NormalizeValue(v))
		if seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, v)
	}

	byKey := make(map[string][]Document)
	if len(keys) > 0 {
		filter := spec.Filter.With(spec.ForeignField, keys)
		foreign, err := s.FetchMany(ctx, spec.From, filter, FindOptions{})
		if err != nil {
			return nil, fmt.Errorf("join %s: %w", spec.From, err)
		}
		for _, f := range foreign {
			k := fmt.Sprint(NormalizeValue(f[spec.ForeignField]))
			byKey[k] = append(byKey[k], f)
		}
	}

	out := make([]Document, len(local))
	for i, doc := range local {
		joined := make(Document, len(doc)+1)
		for k, v := range doc {
			joined[k] = v
		}
		matches := byKey[fmt.Sprint(NormalizeValue(doc[spec.LocalField]))]
		if doc[spec.LocalField] == nil {
			matches = nil
		}
		switch {
		case spec.Many:
			if matches == nil {
				matches = []Document{}
			}
			joined[spec.As] = matches
		case len(matches) > 0:
			joined[spec.As] = matches[0]
		default:
			joined[spec.As] = nil
		}
		out[i] = joined
	}
	return out, nil
}
