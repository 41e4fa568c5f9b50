package motedb

import (
	"fmt"
	"math"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/motedb/motedb/internal/query"
)

// applyOperators computes the result of applying an update operator document
// to oldDoc, in the canonical order $unset, $set, $inc, $mul, $min, $max,
// $rename, then the array operators $push, $pull, $addToSet.
func applyOperators(oldDoc map[string]interface{}, update bson.D) (map[string]interface{}, error) {
	doc := shallowCopy(oldDoc)

	ops := update.Map()

	if v, ok := ops["$unset"]; ok {
		fields, err := asFieldMap(v)
		if err != nil {
			return nil, badUpdate("$unset: %v", err)
		}
		for field := range fields {
			unsetPath(doc, field)
		}
	}

	if v, ok := ops["$set"]; ok {
		fields, err := asFieldMap(v)
		if err != nil {
			return nil, badUpdate("$set: %v", err)
		}
		for field, val := range fields {
			setPath(doc, field, val)
		}
	}

	if v, ok := ops["$inc"]; ok {
		fields, err := asFieldMap(v)
		if err != nil {
			return nil, badUpdate("$inc: %v", err)
		}
		for field, val := range fields {
			cur, _ := getPath(doc, field)
			result, err := incValue(cur, val)
			if err != nil {
				return nil, badUpdate("$inc on %q %v", field, err)
			}
			setPath(doc, field, result)
		}
	}

	if v, ok := ops["$mul"]; ok {
		fields, err := asFieldMap(v)
		if err != nil {
			return nil, badUpdate("$mul: %v", err)
		}
		for field, val := range fields {
			cur, present := getPath(doc, field)
			if !present {
				cur = nil
			}
			result, err := mulValue(cur, val)
			if err != nil {
				return nil, badUpdate("$mul on %q %v", field, err)
			}
			setPath(doc, field, result)
		}
	}

	if v, ok := ops["$min"]; ok {
		fields, err := asFieldMap(v)
		if err != nil {
			return nil, badUpdate("$min: %v", err)
		}
		for field, val := range fields {
			cur, present := getPath(doc, field)
			if !present || query.Compare(val, cur) < 0 {
				setPath(doc, field, val)
			}
		}
	}

	if v, ok := ops["$max"]; ok {
		fields, err := asFieldMap(v)
		if err != nil {
			return nil, badUpdate("$max: %v", err)
		}
		for field, val := range fields {
			cur, present := getPath(doc, field)
			if !present || query.Compare(val, cur) > 0 {
				setPath(doc, field, val)
			}
		}
	}

	if v, ok := ops["$rename"]; ok {
		fields, err := asFieldMap(v)
		if err != nil {
			return nil, badUpdate("$rename: %v", err)
		}
		for from, toRaw := range fields {
			to, ok := toRaw.(string)
			if !ok {
				return nil, badUpdate("$rename target for %q must be a string", from)
			}
			if val, present := getPath(doc, from); present {
				unsetPath(doc, from)
				setPath(doc, to, val)
			}
		}
	}

	if v, ok := ops["$push"]; ok {
		fields, err := asFieldMap(v)
		if err != nil {
			return nil, badUpdate("$push: %v", err)
		}
		for field, val := range fields {
			cur, _ := getPath(doc, field)
			arr := toInterfaceSlice(cur)
			arr = append(arr, val)
			setPath(doc, field, arr)
		}
	}

	if v, ok := ops["$pull"]; ok {
		fields, err := asFieldMap(v)
		if err != nil {
			return nil, badUpdate("$pull: %v", err)
		}
		for field, val := range fields {
			cur, present := getPath(doc, field)
			if !present {
				continue
			}
			arr := toInterfaceSlice(cur)
			out := arr[:0:0]
			for _, el := range arr {
				if !query.Equal(el, val) {
					out = append(out, el)
				}
			}
			setPath(doc, field, out)
		}
	}

	if v, ok := ops["$addToSet"]; ok {
		fields, err := asFieldMap(v)
		if err != nil {
			return nil, badUpdate("$addToSet: %v", err)
		}
		for field, val := range fields {
			cur, _ := getPath(doc, field)
			arr := toInterfaceSlice(cur)
			found := false
			for _, el := range arr {
				if query.Equal(el, val) {
					found = true
					break
				}
			}
			if !found {
				arr = append(arr, val)
			}
			setPath(doc, field, arr)
		}
	}

	return doc, nil
}

func shallowCopy(doc map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

func asFieldMap(v interface{}) (map[string]interface{}, error) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, nil
	case bson.M:
		return map[string]interface{}(m), nil
	case bson.D:
		return m.Map(), nil
	default:
		return nil, badUpdate("operand must be a document")
	}
}

// intOrFloat classifies v as an integer or a float, returning both an int64
// and a float64 view so callers can do integer arithmetic and fall back to
// the float view without a second type switch.
func intOrFloat(v interface{}) (i int64, isInt bool, f float64, ok bool) {
	switch n := v.(type) {
	case int32:
		return int64(n), true, float64(n), true
	case int64:
		return n, true, float64(n), true
	case int:
		return int64(n), true, float64(n), true
	case float64:
		return 0, false, n, true
	default:
		return 0, false, 0, false
	}
}

// isWideInt reports whether v is an int64-width integer, as opposed to
// int32. Used to decide which integer width an $inc/$mul result preserves.
func isWideInt(v interface{}) bool {
	switch v.(type) {
	case int64, int:
		return true
	default:
		return false
	}
}

// incValue implements $inc's integer-width-preserving addition: when both
// cur and delta are integers and the sum does not overflow, the result
// stays an integer at the wider of the two operands' widths; otherwise it
// promotes to float64.
func incValue(cur, delta interface{}) (interface{}, error) {
	deltaI, deltaIsInt, deltaF, deltaOK := intOrFloat(delta)
	if !deltaOK {
		return nil, fmt.Errorf("requires a numeric operand")
	}
	if cur == nil {
		return delta, nil
	}
	curI, curIsInt, curF, curOK := intOrFloat(cur)
	if !curOK {
		return nil, fmt.Errorf("existing value is not numeric")
	}
	if !curIsInt || !deltaIsInt {
		return curF + deltaF, nil
	}

	sum := curI + deltaI
	if (deltaI > 0 && sum < curI) || (deltaI < 0 && sum > curI) {
		return curF + deltaF, nil
	}
	if isWideInt(cur) || isWideInt(delta) {
		return sum, nil
	}
	if sum < math.MinInt32 || sum > math.MaxInt32 {
		return curF + deltaF, nil
	}
	return int32(sum), nil
}

// mulValue implements $mul with the same integer-width-preserving rule as
// incValue: an absent field multiplies against zero, matching $inc's
// absent-field behavior of taking the operand's own type.
func mulValue(cur, factor interface{}) (interface{}, error) {
	factorI, factorIsInt, factorF, factorOK := intOrFloat(factor)
	if !factorOK {
		return nil, fmt.Errorf("requires a numeric operand")
	}
	if cur == nil {
		if factorIsInt {
			if isWideInt(factor) {
				return int64(0), nil
			}
			return int32(0), nil
		}
		return 0.0, nil
	}
	curI, curIsInt, curF, curOK := intOrFloat(cur)
	if !curOK {
		return nil, fmt.Errorf("existing value is not numeric")
	}
	if !curIsInt || !factorIsInt {
		return curF * factorF, nil
	}

	product := curI * factorI
	if curI != 0 && product/curI != factorI {
		return curF * factorF, nil
	}
	if isWideInt(cur) || isWideInt(factor) {
		return product, nil
	}
	if product < math.MinInt32 || product > math.MaxInt32 {
		return curF * factorF, nil
	}
	return int32(product), nil
}

func toInterfaceSlice(v interface{}) []interface{} {
	switch s := v.(type) {
	case []interface{}:
		return append([]interface{}{}, s...)
	default:
		return nil
	}
}

func getPath(doc map[string]interface{}, path string) (interface{}, bool) {
	parts := splitPath(path)
	cur := interface{}(doc)
	for _, p := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := m[p]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func setPath(doc map[string]interface{}, path string, value interface{}) {
	parts := splitPath(path)
	cur := doc
	for i, p := range parts {
		if i == len(parts)-1 {
			cur[p] = value
			return
		}
		next, ok := cur[p].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			cur[p] = next
		}
		cur = next
	}
}

func unsetPath(doc map[string]interface{}, path string) {
	parts := splitPath(path)
	cur := doc
	for i, p := range parts {
		if i == len(parts)-1 {
			delete(cur, p)
			return
		}
		next, ok := cur[p].(map[string]interface{})
		if !ok {
			return
		}
		cur = next
	}
}
