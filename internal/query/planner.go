package query

import "go.mongodb.org/mongo-driver/bson/primitive"

// PlanKind is the access method a query plan chose.
type PlanKind int

const (
	PlanCollectionScan PlanKind = iota
	PlanPrimaryKeyFetch
	PlanIndexSeek
)

// IndexSpec describes one collection index for planning purposes: its name
// and ordered key parts. It mirrors the document-level IndexDescriptor
// without importing the root package, avoiding an import cycle.
type IndexSpec struct {
	Name  string
	Parts []KeyPart
	Unique bool
	Sparse bool
}

// Plan is the chosen access method plus whatever bound values/residual
// matcher the caller needs to execute it. The residual matcher must always be
// reapplied regardless of access method, since equality on a leading index
// field does not guarantee the rest of the filter matches.
type Plan struct {
	Kind        PlanKind
	Index       *IndexSpec
	EqualValues []interface{} // leading equality-bound values, in index part order
}

// Choose selects an access method for a compiled filter given in its raw
// map form (so it can inspect top-level equality clauses directly, before
// compilation loses that shape). filter values are raw decoded BSON values;
// idField is the name of the primary key field ("_id").
func Choose(filter map[string]interface{}, idField string, indexes []IndexSpec) Plan {
	if v, ok := filter[idField]; ok {
		if eq, ok := equalityValue(v); ok {
			_ = eq
			return Plan{Kind: PlanPrimaryKeyFetch, EqualValues: []interface{}{eq}}
		}
	}

	var best *IndexSpec
	var bestValues []interface{}

	for i := range indexes {
		idx := &indexes[i]
		if len(idx.Parts) == 0 {
			continue
		}
		values := make([]interface{}, 0, len(idx.Parts))
		for _, part := range idx.Parts {
			v, ok := filter[part.Path]
			if !ok {
				break
			}
			eq, ok := equalityValue(v)
			if !ok {
				break
			}
			values = append(values, eq)
		}
		if len(values) == 0 {
			continue
		}
		if best == nil || betterIndex(idx, values, best, bestValues) {
			best = idx
			bestValues = values
		}
	}

	if best != nil {
		return Plan{Kind: PlanIndexSeek, Index: best, EqualValues: bestValues}
	}

	return Plan{Kind: PlanCollectionScan}
}

// betterIndex reports whether candidate (matched with values) should replace
// cur (matched with curValues) as the planner's pick: longest matched prefix
// wins; ties are broken by fewer total key fields, then by lexicographic
// index name, so selection is deterministic regardless of map iteration
// order over a collection's indexes.
func betterIndex(candidate *IndexSpec, values []interface{}, cur *IndexSpec, curValues []interface{}) bool {
	if len(values) != len(curValues) {
		return len(values) > len(curValues)
	}
	if len(candidate.Parts) != len(cur.Parts) {
		return len(candidate.Parts) < len(cur.Parts)
	}
	return candidate.Name < cur.Name
}

// equalityValue extracts the scalar value being equality-tested for a filter
// clause, if the clause reduces to a single equality test: either an implicit
// scalar (not a map) or a { $eq: v } operator document with no siblings.
func equalityValue(cond interface{}) (interface{}, bool) {
	if _, isRegex := cond.(primitive.Regex); isRegex {
		return nil, false
	}
	m := toMap(cond)
	if m == nil {
		return cond, true
	}
	if len(m) != 1 {
		return nil, false
	}
	v, ok := m["$eq"]
	if !ok {
		return nil, false
	}
	return v, true
}
