package query

import "testing"

func TestCompileImplicitEquality(t *testing.T) {
	m, err := Compile(map[string]interface{}{"name": "alice"}, NewRegexCache())
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if !m.Match(map[string]interface{}{"name": "alice"}) {
		t.Error("expected match on equal field")
	}
	if m.Match(map[string]interface{}{"name": "bob"}) {
		t.Error("expected no match on differing field")
	}
}

func TestCompileComparisonOperators(t *testing.T) {
	cases := []struct {
		name   string
		filter map[string]interface{}
		doc    map[string]interface{}
		want   bool
	}{
		{"gt true", map[string]interface{}{"age": map[string]interface{}{"$gt": int32(10)}}, map[string]interface{}{"age": int32(20)}, true},
		{"gt false", map[string]interface{}{"age": map[string]interface{}{"$gt": int32(10)}}, map[string]interface{}{"age": int32(5)}, false},
		{"in true", map[string]interface{}{"tag": map[string]interface{}{"$in": []interface{}{"a", "b"}}}, map[string]interface{}{"tag": "b"}, true},
		{"exists false field present", map[string]interface{}{"x": map[string]interface{}{"$exists": false}}, map[string]interface{}{"x": 1}, false},
		{"exists false field absent", map[string]interface{}{"x": map[string]interface{}{"$exists": false}}, map[string]interface{}{}, true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			m, err := Compile(c.filter, NewRegexCache())
			if err != nil {
				t.Fatalf("Compile failed: %v", err)
			}
			if got := m.Match(c.doc); got != c.want {
				t.Errorf("got %v, want %v", got, c.want)
			}
		})
	}
}

func TestCompileLogicalOperators(t *testing.T) {
	filter := map[string]interface{}{
		"$or": []interface{}{
			map[string]interface{}{"a": int32(1)},
			map[string]interface{}{"b": int32(2)},
		},
	}
	m, err := Compile(filter, NewRegexCache())
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if !m.Match(map[string]interface{}{"b": int32(2)}) {
		t.Error("expected $or branch to match")
	}
	if m.Match(map[string]interface{}{"a": int32(0), "b": int32(0)}) {
		t.Error("expected no match when neither branch matches")
	}
}

func TestCompileUnknownOperator(t *testing.T) {
	_, err := Compile(map[string]interface{}{"x": map[string]interface{}{"$bogus": 1}}, NewRegexCache())
	if err == nil {
		t.Fatal("expected BadQueryError for unknown operator")
	}
	if _, ok := err.(*BadQueryError); !ok {
		t.Errorf("expected *BadQueryError, got %T", err)
	}
}

func TestPathTraversalIntoArray(t *testing.T) {
	doc := map[string]interface{}{
		"items": []interface{}{
			map[string]interface{}{"qty": int32(1)},
			map[string]interface{}{"qty": int32(5)},
		},
	}
	m, err := Compile(map[string]interface{}{"items.qty": map[string]interface{}{"$gt": int32(3)}}, NewRegexCache())
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if !m.Match(doc) {
		t.Error("expected element-of match against array member")
	}
}

func TestCompareTypePrecedence(t *testing.T) {
	if Compare(nil, int32(1)) >= 0 {
		t.Error("null should compare less than a number")
	}
	if Compare(int32(1), "a") >= 0 {
		t.Error("number should compare less than a string")
	}
}
