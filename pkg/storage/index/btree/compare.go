package btree

import (
	"bytes"
	"encoding/binary"
	"math"
)

// ColType selects the comparator for an index's fixed-width keys.
type ColType int32

const (
	// ColInt keys are 4-byte little-endian signed integers.
	ColInt ColType = iota

	// ColFloat keys are 8-byte little-endian IEEE 754 doubles.
	ColFloat

	// ColBytes keys are raw byte strings compared lexicographically
	// over their full fixed width.
	ColBytes
)

// KeyLen returns the mandated key width for the type, or 0 if any
// width is allowed.
func (t ColType) KeyLen() int {
	switch t {
	case ColInt:
		return 4
	case ColFloat:
		return 8
	default:
		return 0
	}
}

// Compare orders two keys of the given type and width, returning a
// negative, zero, or positive result.
func Compare(t ColType, colLen int, a, b []byte) int {
	switch t {
	case ColInt:
		x := int32(binary.LittleEndian.Uint32(a))
		y := int32(binary.LittleEndian.Uint32(b))
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case ColFloat:
		x := math.Float64frombits(binary.LittleEndian.Uint64(a))
		y := math.Float64frombits(binary.LittleEndian.Uint64(b))
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	default:
		return bytes.Compare(a[:colLen], b[:colLen])
	}
}

// IntKey encodes v as a ColInt key.
func IntKey(v int32) []byte {
	key := make([]byte, 4)
	binary.LittleEndian.PutUint32(key, uint32(v))
	return key
}

// FloatKey encodes v as a ColFloat key.
func FloatKey(v float64) []byte {
	key := make([]byte, 8)
	binary.LittleEndian.PutUint64(key, math.Float64bits(v))
	return key
}
