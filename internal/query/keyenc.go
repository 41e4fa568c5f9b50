package query

import (
	"encoding/binary"
	"math"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Direction is the sort direction of one component of an index key spec.
type Direction int8

const (
	Ascending  Direction = 1
	Descending Direction = -1
)

// KeyPart is one (field_path, direction) component of an index descriptor's
// key_spec.
type KeyPart struct {
	Path      string
	Direction Direction
}

const (
	sepByte    byte = 0x00
	escapeByte byte = 0xFE
)

// encodeScalar encodes a single decoded value into an order-preserving byte
// string prefixed with its BSON-precedence type tag.
func encodeScalar(v interface{}) []byte {
	class := ClassOf(v)
	buf := []byte{byte(class)}

	switch class {
	case ClassNull, ClassMinKey, ClassMaxKey:
		// tag alone is sufficient
	case ClassNumber:
		f, _ := asFloat(v)
		buf = append(buf, encodeFloatOrdered(f)...)
	case ClassString:
		buf = append(buf, escape([]byte(v.(string)))...)
	case ClassBool:
		if v.(bool) {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case ClassObjectID:
		oid := v.(primitive.ObjectID)
		buf = append(buf, escape(oid[:])...)
	case ClassDateTime:
		dt := v.(primitive.DateTime)
		buf = append(buf, encodeUint64Ordered(uint64(int64(dt))^(1<<63))...)
	case ClassTimestamp:
		ts := v.(primitive.Timestamp)
		var tb [8]byte
		binary.BigEndian.PutUint32(tb[0:4], ts.T)
		binary.BigEndian.PutUint32(tb[4:8], ts.I)
		buf = append(buf, tb[:]...)
	case ClassBinary:
		bin := v.(primitive.Binary)
		buf = append(buf, escape(bin.Data)...)
	default:
		// arrays/documents: not usable as a scalar index key component beyond
		// their type tag; comparisons fall back to collection scan residual
		// matching.
	}
	return buf
}

// escape prefixes every embedded sepByte, escapeByte or 0xFF byte with
// escapeByte so the separator used between composite-key components stays
// unambiguous.
func escape(b []byte) []byte {
	out := make([]byte, 0, len(b)+2)
	for _, c := range b {
		if c == sepByte || c == 0xFF || c == escapeByte {
			out = append(out, escapeByte)
		}
		out = append(out, c)
	}
	return out
}

// encodeFloatOrdered maps a float64 to a byte string whose unsigned
// lexicographic order matches the float's numeric order.
func encodeFloatOrdered(f float64) []byte {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	return encodeUint64Ordered(bits)
}

func encodeUint64Ordered(u uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], u)
	return buf[:]
}

func invert(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		out[i] = ^c
	}
	return out
}

// EncodeValue encodes a single scalar value into an order-preserving,
// type-tagged byte string. Used directly to build primary-tree keys from a
// document's _id value.
func EncodeValue(v interface{}) []byte {
	return encodeScalar(v)
}

// EncodeCompositeKey builds the physical B+Tree key for an index entry:
// per-component type-tagged, direction-inverted scalar encodings joined by a
// separator byte, followed by a separator and the document id bytes. The id
// suffix makes every physical key unique even though internal/kv's B+Tree
// only stores unique keys, simulating the duplicate-sorted index subtree
// required by the composite-key index entry model.
func EncodeCompositeKey(parts []KeyPart, values []interface{}, id []byte) []byte {
	var out []byte
	for i, v := range values {
		enc := encodeScalar(v)
		if i < len(parts) && parts[i].Direction == Descending {
			enc = invert(enc)
		}
		out = append(out, enc...)
		out = append(out, sepByte)
	}
	out = append(out, id...)
	return out
}

// EncodeBound builds a one-sided range bound (without an id suffix) for scans
// that seek to the start or end of a key prefix.
func EncodeBound(parts []KeyPart, values []interface{}) []byte {
	var out []byte
	for i, v := range values {
		enc := encodeScalar(v)
		if i < len(parts) && parts[i].Direction == Descending {
			enc = invert(enc)
		}
		out = append(out, enc...)
		out = append(out, sepByte)
	}
	return out
}
