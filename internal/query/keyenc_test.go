package query

import "testing"

func TestEncodeCompositeKeyOrderPreserving(t *testing.T) {
	parts := []KeyPart{{Path: "age", Direction: Ascending}}

	lower := EncodeCompositeKey(parts, []interface{}{int32(5)}, []byte("id1"))
	upper := EncodeCompositeKey(parts, []interface{}{int32(50)}, []byte("id2"))

	if compareBytes(lower, upper) >= 0 {
		t.Error("expected ascending encoding of 5 to sort before 50")
	}
}

func TestEncodeCompositeKeyDescendingInverts(t *testing.T) {
	parts := []KeyPart{{Path: "age", Direction: Descending}}

	lower := EncodeCompositeKey(parts, []interface{}{int32(5)}, []byte("id1"))
	upper := EncodeCompositeKey(parts, []interface{}{int32(50)}, []byte("id2"))

	if compareBytes(lower, upper) <= 0 {
		t.Error("expected descending encoding of 5 to sort after 50")
	}
}

func TestEscapeKeepsSeparatorUnambiguous(t *testing.T) {
	raw := string([]byte{0x00, 0xFF, 'a'})
	enc := encodeScalar(raw)
	for i := 1; i < len(enc)-1; i++ {
		// every raw 0x00 must be preceded by the escape byte
		if enc[i] == sepByte && enc[i-1] != escapeByte {
			t.Errorf("unescaped separator byte found at %d", i)
		}
	}
}
