package query

import "sort"

// SortSpec is one (field, descending) component of a sort order.
type SortSpec struct {
	Field      string
	Descending bool
}

// SortDocuments sorts docs in place according to spec, using BSON
// type-precedence comparison on each field in turn.
func SortDocuments(docs []map[string]interface{}, spec []SortSpec) {
	sort.SliceStable(docs, func(i, j int) bool {
		return less(docs[i], docs[j], spec)
	})
}

// SortPermutation returns a stable permutation of the indices [0,len(docs))
// that would put docs in sort order, without reordering docs itself. Callers
// that carry a second slice in parallel with docs (e.g. each document's
// original stored bytes) apply the same permutation to both.
func SortPermutation(docs []map[string]interface{}, spec []SortSpec) []int {
	idx := make([]int, len(docs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		return less(docs[idx[i]], docs[idx[j]], spec)
	})
	return idx
}

func less(a, b map[string]interface{}, spec []SortSpec) bool {
	for _, s := range spec {
		va, presentA := resolveScalar(a, s.Field)
		vb, presentB := resolveScalar(b, s.Field)
		c := compareMissing(va, presentA, vb, presentB)
		if c == 0 {
			continue
		}
		if s.Descending {
			return c > 0
		}
		return c < 0
	}
	return false
}

func resolveScalar(doc map[string]interface{}, path string) (interface{}, bool) {
	values, ok := resolvePath(doc, path)
	if !ok || len(values) == 0 {
		return nil, false
	}
	return values[0], true
}

func compareMissing(a interface{}, aPresent bool, b interface{}, bPresent bool) int {
	switch {
	case !aPresent && !bPresent:
		return 0
	case !aPresent:
		return -1
	case !bPresent:
		return 1
	default:
		return Compare(a, b)
	}
}
