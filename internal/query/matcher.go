package query

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// BadQueryError reports a filter document that failed to compile.
type BadQueryError struct {
	Msg string
}

func (e *BadQueryError) Error() string { return "bad query: " + e.Msg }

func badQuery(format string, args ...interface{}) error {
	return &BadQueryError{Msg: fmt.Sprintf(format, args...)}
}

// Matcher tests a decoded document (map[string]interface{}) for a match.
type Matcher interface {
	Match(doc map[string]interface{}) bool
}

// Compile builds a Matcher from a filter document, given as a map decoded
// from bson.D/bson.M. It returns a BadQueryError for malformed operators.
func Compile(filter map[string]interface{}, cache *RegexCache) (Matcher, error) {
	var clauses []Matcher
	for field, cond := range filter {
		switch field {
		case "$and":
			m, err := compileLogical(cond, cache)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, &andMatcher{children: m})
		case "$or":
			m, err := compileLogical(cond, cache)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, &orMatcher{children: m})
		case "$nor":
			m, err := compileLogical(cond, cache)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, &notMatcher{child: &orMatcher{children: m}})
		case "$not":
			sub := toMap(cond)
			if sub == nil {
				return nil, badQuery("$not requires a document operand")
			}
			child, err := Compile(sub, cache)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, &notMatcher{child: child})
		default:
			fm, err := compileField(field, cond, cache)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, fm)
		}
	}
	return &andMatcher{children: clauses}, nil
}

func compileLogical(cond interface{}, cache *RegexCache) ([]Matcher, error) {
	arr, ok := cond.([]interface{})
	if !ok {
		if a, ok2 := cond.(primitive.A); ok2 {
			arr = []interface{}(a)
		} else {
			return nil, badQuery("logical operator requires an array operand")
		}
	}
	out := make([]Matcher, 0, len(arr))
	for _, el := range arr {
		sub := toMap(el)
		if sub == nil {
			return nil, badQuery("logical operator array element must be a document")
		}
		m, err := Compile(sub, cache)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func compileField(path string, cond interface{}, cache *RegexCache) (Matcher, error) {
	ops := toMap(cond)
	if ops == nil {
		if rx, ok := cond.(primitive.Regex); ok {
			return &fieldMatcher{path: path, pred: regexPredicate(rx, cache)}, nil
		}
		return &fieldMatcher{path: path, pred: eqPredicate(cond)}, nil
	}

	hasOperators := false
	for k := range ops {
		if strings.HasPrefix(k, "$") {
			hasOperators = true
			break
		}
	}
	if !hasOperators {
		return &fieldMatcher{path: path, pred: eqPredicate(ops)}, nil
	}

	var preds []predicate
	for op, val := range ops {
		p, err := compileOperator(op, val, cache)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return &fieldMatcher{path: path, pred: allOf(preds)}, nil
}

type predicate func(v interface{}, present bool) bool

func allOf(preds []predicate) predicate {
	return func(v interface{}, present bool) bool {
		for _, p := range preds {
			if !p(v, present) {
				return false
			}
		}
		return true
	}
}

func eqPredicate(want interface{}) predicate {
	return func(v interface{}, present bool) bool {
		return present && Equal(v, want)
	}
}

func compileOperator(op string, val interface{}, cache *RegexCache) (predicate, error) {
	switch op {
	case "$eq":
		return eqPredicate(val), nil
	case "$ne":
		return func(v interface{}, present bool) bool { return !(present && Equal(v, val)) }, nil
	case "$gt":
		return func(v interface{}, present bool) bool { return present && Compare(v, val) > 0 }, nil
	case "$gte":
		return func(v interface{}, present bool) bool { return present && Compare(v, val) >= 0 }, nil
	case "$lt":
		return func(v interface{}, present bool) bool { return present && Compare(v, val) < 0 }, nil
	case "$lte":
		return func(v interface{}, present bool) bool { return present && Compare(v, val) <= 0 }, nil
	case "$in":
		set, ok := asArray(val)
		if !ok {
			return nil, badQuery("$in requires an array operand")
		}
		return func(v interface{}, present bool) bool {
			if !present {
				return false
			}
			for _, want := range set {
				if Equal(v, want) {
					return true
				}
			}
			return false
		}, nil
	case "$nin":
		set, ok := asArray(val)
		if !ok {
			return nil, badQuery("$nin requires an array operand")
		}
		return func(v interface{}, present bool) bool {
			if !present {
				return true
			}
			for _, want := range set {
				if Equal(v, want) {
					return false
				}
			}
			return true
		}, nil
	case "$exists":
		want, _ := val.(bool)
		return func(_ interface{}, present bool) bool { return present == want }, nil
	case "$type":
		return typePredicate(val)
	case "$all":
		want := toSlice(val)
		return func(v interface{}, present bool) bool {
			if !present {
				return false
			}
			have := toSlice(v)
			for _, w := range want {
				found := false
				for _, h := range have {
					if Equal(h, w) {
						found = true
						break
					}
				}
				if !found {
					return false
				}
			}
			return true
		}, nil
	case "$size":
		n, ok := asFloat(val)
		if !ok {
			return nil, badQuery("$size requires a numeric operand")
		}
		return func(v interface{}, present bool) bool {
			if !present {
				return false
			}
			arr, isArr := asArray(v)
			if !isArr {
				return false
			}
			return float64(len(arr)) == n
		}, nil
	case "$regex":
		rx, err := toRegex(val)
		if err != nil {
			return nil, err
		}
		if _, err := cache.Get(rx.Pattern, rx.Options); err != nil {
			return nil, badQuery("$regex: %v", err)
		}
		return regexPredicate(rx, cache), nil
	default:
		return nil, badQuery("unknown operator %q", op)
	}
}

func toRegex(val interface{}) (primitive.Regex, error) {
	switch r := val.(type) {
	case primitive.Regex:
		return r, nil
	case string:
		return primitive.Regex{Pattern: r}, nil
	default:
		return primitive.Regex{}, badQuery("$regex requires a string or regex operand")
	}
}

func regexPredicate(rx primitive.Regex, cache *RegexCache) predicate {
	return func(v interface{}, present bool) bool {
		if !present {
			return false
		}
		s, ok := v.(string)
		if !ok {
			return false
		}
		re, err := cache.Get(rx.Pattern, rx.Options)
		if err != nil {
			return false
		}
		return re.MatchString(s)
	}
}

var typeCodes = map[string]bsontype.Type{
	"double":    bsontype.Double,
	"string":    bsontype.String,
	"object":    bsontype.EmbeddedDocument,
	"array":     bsontype.Array,
	"binData":   bsontype.Binary,
	"objectId":  bsontype.ObjectID,
	"bool":      bsontype.Boolean,
	"date":      bsontype.DateTime,
	"null":      bsontype.Null,
	"regex":     bsontype.Regex,
	"int":       bsontype.Int32,
	"timestamp": bsontype.Timestamp,
	"long":      bsontype.Int64,
}

func typePredicate(val interface{}) (predicate, error) {
	elems, ok := asArray(val)
	if !ok {
		elems = []interface{}{val}
	}
	wants := make([]bsontype.Type, 0, len(elems))
	for _, el := range elems {
		t, err := resolveTypeCode(el)
		if err != nil {
			return nil, err
		}
		wants = append(wants, t)
	}
	return func(v interface{}, present bool) bool {
		if !present {
			return false
		}
		got := bsonTypeOf(v)
		for _, w := range wants {
			if got == w {
				return true
			}
		}
		return false
	}, nil
}

func resolveTypeCode(val interface{}) (bsontype.Type, error) {
	switch t := val.(type) {
	case string:
		code, ok := typeCodes[t]
		if !ok {
			return 0, badQuery("unknown $type alias %q", t)
		}
		return code, nil
	case int32:
		return bsontype.Type(t), nil
	case int64:
		return bsontype.Type(t), nil
	case int:
		return bsontype.Type(t), nil
	case float64:
		return bsontype.Type(int(t)), nil
	default:
		return 0, badQuery("invalid $type operand")
	}
}

func bsonTypeOf(v interface{}) bsontype.Type {
	switch x := v.(type) {
	case nil:
		return bsontype.Null
	case float64:
		return bsontype.Double
	case string:
		return bsontype.String
	case primitive.M, map[string]interface{}, primitive.D:
		return bsontype.EmbeddedDocument
	case primitive.A, []interface{}:
		return bsontype.Array
	case primitive.Binary:
		return bsontype.Binary
	case primitive.ObjectID:
		return bsontype.ObjectID
	case bool:
		return bsontype.Boolean
	case primitive.DateTime:
		return bsontype.DateTime
	case primitive.Regex:
		return bsontype.Regex
	case int32:
		return bsontype.Int32
	case primitive.Timestamp:
		return bsontype.Timestamp
	case int64:
		return bsontype.Int64
	default:
		_ = x
		return bsontype.Undefined
	}
}

type fieldMatcher struct {
	path string
	pred predicate
}

func (f *fieldMatcher) Match(doc map[string]interface{}) bool {
	values, present := resolvePath(doc, f.path)
	if !present {
		return f.pred(nil, false)
	}
	for _, v := range values {
		if f.pred(v, true) {
			return true
		}
	}
	return false
}

// resolvePath walks a dotted path through nested documents. When it crosses
// an array it returns every element's sub-value (element-of semantics); a
// non-array scalar field yields a single-element result.
func resolvePath(doc map[string]interface{}, path string) ([]interface{}, bool) {
	parts := strings.Split(path, ".")
	cur := []interface{}{doc}
	for _, part := range parts {
		var next []interface{}
		any := false
		for _, c := range cur {
			switch node := c.(type) {
			case map[string]interface{}:
				if v, ok := node[part]; ok {
					next = append(next, v)
					any = true
				}
			case primitive.M:
				if v, ok := node[part]; ok {
					next = append(next, v)
					any = true
				}
			case []interface{}:
				for _, el := range node {
					if m := toMap(el); m != nil {
						if v, ok := m[part]; ok {
							next = append(next, v)
							any = true
						}
					}
				}
			case primitive.A:
				for _, el := range node {
					if m := toMap(el); m != nil {
						if v, ok := m[part]; ok {
							next = append(next, v)
							any = true
						}
					}
				}
			}
		}
		if !any {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

type andMatcher struct{ children []Matcher }

func (a *andMatcher) Match(doc map[string]interface{}) bool {
	for _, c := range a.children {
		if !c.Match(doc) {
			return false
		}
	}
	return true
}

type orMatcher struct{ children []Matcher }

func (o *orMatcher) Match(doc map[string]interface{}) bool {
	if len(o.children) == 0 {
		return false
	}
	for _, c := range o.children {
		if c.Match(doc) {
			return true
		}
	}
	return false
}

type notMatcher struct{ child Matcher }

func (n *notMatcher) Match(doc map[string]interface{}) bool { return !n.child.Match(doc) }
