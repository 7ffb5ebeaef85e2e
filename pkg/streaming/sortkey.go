package streaming

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeSortKey renders vals into a byte string whose lexicographic order
// matches the values' natural order, so Top-N's underlying state table can
// use it as an ordered primary key component of a sorted state table
// keyed by (group_key?, sort_key, pk). Supported types are int64,
// float64, string, []byte and bool; each field starts with a type tag
// (string and []byte share one, so equal contents encode identically).
// Numbers are fixed-width; string, []byte and bool fields end with a
// 0x00 0x00 terminator, and 0x00 bytes inside a string or []byte payload
// are escaped to 0x00 0xFF, so concatenating several encoded values
// preserves tuple order.
func EncodeSortKey(vals ...any) []byte {
	var out []byte
	for _, v := range vals {
		out = append(out, encodeSortField(v)...)
	}
	return out
}

const (
	tagInt byte = iota
	tagFloat
	tagString
	tagBool
)

func encodeSortField(v any) []byte {
	switch x := v.(type) {
	case int:
		return encodeInt(tagInt, int64(x))
	case int32:
		return encodeInt(tagInt, int64(x))
	case int64:
		return encodeInt(tagInt, x)
	case float32:
		return encodeFloat(float64(x))
	case float64:
		return encodeFloat(x)
	case bool:
		b := byte(0)
		if x {
			b = 1
		}
		return []byte{tagBool, b, 0x00, 0x00}
	case string:
		return encodeBytes([]byte(x))
	case []byte:
		return encodeBytes(x)
	default:
		return encodeBytes([]byte(fmt.Sprintf("%v", x)))
	}
}

func encodeInt(tag byte, n int64) []byte {
	buf := make([]byte, 9)
	buf[0] = tag
	// Flipping the sign bit maps the signed range onto an unsigned range
	// in the same relative order, so big-endian byte comparison matches
	// signed integer comparison.
	binary.BigEndian.PutUint64(buf[1:], uint64(n)^(1<<63))
	return buf
}

func encodeFloat(f float64) []byte {
	bits := math.Float64bits(f)
	if f >= 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	buf := make([]byte, 9)
	buf[0] = tagFloat
	binary.BigEndian.PutUint64(buf[1:], bits)
	return buf
}

func encodeBytes(b []byte) []byte {
	out := make([]byte, 0, len(b)+4)
	out = append(out, tagString)
	for _, c := range b {
		if c == 0x00 {
			out = append(out, 0x00, 0xff)
		} else {
			out = append(out, c)
		}
	}
	out = append(out, 0x00, 0x00)
	return out
}
