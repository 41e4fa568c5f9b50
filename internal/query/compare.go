// Package query implements the filter matcher, composite-key encoder, and
// access-method planner shared by the document API. It mirrors the donor's
// minimal internal/query package but replaces its single-operator AST with a
// full MongoDB-style operator set and BSON type-precedence comparison.
package query

import (
	"sort"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TypeClass orders BSON value kinds per MongoDB's documented comparison
// order, used to compare values of different underlying Go types.
type TypeClass int

const (
	ClassMinKey TypeClass = iota
	ClassNull
	ClassNumber
	ClassString
	ClassDocument
	ClassArray
	ClassBinary
	ClassObjectID
	ClassBool
	ClassDateTime
	ClassTimestamp
	ClassRegex
	ClassMaxKey
)

// ClassOf returns the BSON comparison class of a decoded Go value.
func ClassOf(v interface{}) TypeClass {
	switch v.(type) {
	case nil:
		return ClassNull
	case primitive.MinKey:
		return ClassMinKey
	case primitive.MaxKey:
		return ClassMaxKey
	case int32, int64, float64, int:
		return ClassNumber
	case string:
		return ClassString
	case primitive.M, map[string]interface{}, primitive.D:
		return ClassDocument
	case primitive.A, []interface{}:
		return ClassArray
	case primitive.Binary:
		return ClassBinary
	case primitive.ObjectID:
		return ClassObjectID
	case bool:
		return ClassBool
	case primitive.DateTime:
		return ClassDateTime
	case primitive.Timestamp:
		return ClassTimestamp
	case primitive.Regex:
		return ClassRegex
	default:
		return ClassDocument
	}
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return float64(n), true
	}
	return 0, false
}

// Compare returns -1, 0, or 1 comparing a and b under BSON type precedence.
// Values of differing precedence compare by class order alone.
func Compare(a, b interface{}) int {
	ca, cb := ClassOf(a), ClassOf(b)
	if ca != cb {
		if ca < cb {
			return -1
		}
		return 1
	}

	switch ca {
	case ClassNull, ClassMinKey, ClassMaxKey:
		return 0
	case ClassNumber:
		fa, _ := asFloat(a)
		fb, _ := asFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	case ClassString:
		sa, sb := a.(string), b.(string)
		switch {
		case sa < sb:
			return -1
		case sa > sb:
			return 1
		default:
			return 0
		}
	case ClassBool:
		ba, bb := a.(bool), b.(bool)
		if ba == bb {
			return 0
		}
		if !ba && bb {
			return -1
		}
		return 1
	case ClassObjectID:
		oa, ob := a.(primitive.ObjectID), b.(primitive.ObjectID)
		return compareBytes(oa[:], ob[:])
	case ClassDateTime:
		da, db := a.(primitive.DateTime), b.(primitive.DateTime)
		switch {
		case da < db:
			return -1
		case da > db:
			return 1
		default:
			return 0
		}
	case ClassTimestamp:
		ta, tb := a.(primitive.Timestamp), b.(primitive.Timestamp)
		if ta.T != tb.T {
			if ta.T < tb.T {
				return -1
			}
			return 1
		}
		if ta.I != tb.I {
			if ta.I < tb.I {
				return -1
			}
			return 1
		}
		return 0
	case ClassBinary:
		ba, bb := a.(primitive.Binary), b.(primitive.Binary)
		return compareBytes(ba.Data, bb.Data)
	case ClassArray:
		aa := toSlice(a)
		ab := toSlice(b)
		n := len(aa)
		if len(ab) < n {
			n = len(ab)
		}
		for i := 0; i < n; i++ {
			if c := Compare(aa[i], ab[i]); c != 0 {
				return c
			}
		}
		switch {
		case len(aa) < len(ab):
			return -1
		case len(aa) > len(ab):
			return 1
		default:
			return 0
		}
	default:
		// Documents and anything else: compare by field count, then field by
		// field in sorted key order, matching MongoDB's best-effort semantics.
		return compareDocs(toMap(a), toMap(b))
	}
}

// Equal reports whether a and b are equal under $eq/$ne semantics: equal
// precedence and equal value.
func Equal(a, b interface{}) bool {
	return ClassOf(a) == ClassOf(b) && Compare(a, b) == 0
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

func toSlice(v interface{}) []interface{} {
	s, _ := asArray(v)
	return s
}

// asArray reports whether v is a BSON array, returning its elements. Unlike
// toSlice, it distinguishes "empty array" (ok=true, len 0) from "not an
// array at all" (ok=false), which $size and $in/$nin need to tell apart.
func asArray(v interface{}) ([]interface{}, bool) {
	switch s := v.(type) {
	case primitive.A:
		return []interface{}(s), true
	case []interface{}:
		return s, true
	default:
		return nil, false
	}
}

func toMap(v interface{}) map[string]interface{} {
	switch m := v.(type) {
	case primitive.M:
		return map[string]interface{}(m)
	case map[string]interface{}:
		return m
	case primitive.D:
		out := make(map[string]interface{}, len(m))
		for _, e := range m {
			out[e.Key] = e.Value
		}
		return out
	default:
		return nil
	}
}

func compareDocs(a, b map[string]interface{}) int {
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		bv, ok := b[k]
		if !ok {
			return 1
		}
		if c := Compare(a[k], bv); c != 0 {
			return c
		}
	}
	return 0
}
