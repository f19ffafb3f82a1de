// Package keys encodes the key types of ordered page indexes.
//
// Fixed-width keys are stored inline in page slots, little-endian. String
// keys are external: a slot only holds a block reference and the key text
// lives in a block file, see internal/pagefile.
package keys

import (
	"cmp"
	"encoding/binary"
	"math"

	"github.com/hupe1980/inkdex/internal/storeerr"
)

// Type identifies a codec in persisted headers.
type Type byte

const (
	TypeInt32 Type = iota + 1
	TypeInt64
	TypeUint32
	TypeUint64
	TypeFloat64
	TypeString
)

// Codec converts keys of type K to and from bytes.
type Codec[K cmp.Ordered] interface {
	// Type identifies the codec.
	Type() Type
	// Size is the slot width of an inline key.
	Size() int
	// External reports whether keys are stored outside the page.
	External() bool
	// Encode returns the byte form of k.
	Encode(k K) []byte
	// Decode parses the byte form produced by Encode.
	Decode(b []byte) (K, error)
}

func short(t Type, b []byte, want int) error {
	if len(b) < want {
		return storeerr.Corrupt.New("key type %d: %d bytes, want %d", t, len(b), want)
	}
	return nil
}

// Int32 encodes int32 keys.
type Int32 struct{}

func (Int32) Type() Type     { return TypeInt32 }
func (Int32) Size() int      { return 4 }
func (Int32) External() bool { return false }
func (Int32) Encode(k int32) []byte {
	return binary.LittleEndian.AppendUint32(nil, uint32(k)) //nolint:gosec // G115: bit pattern
}

func (Int32) Decode(b []byte) (int32, error) {
	if err := short(TypeInt32, b, 4); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil //nolint:gosec // G115: bit pattern
}

// Int64 encodes int64 keys.
type Int64 struct{}

func (Int64) Type() Type     { return TypeInt64 }
func (Int64) Size() int      { return 8 }
func (Int64) External() bool { return false }
func (Int64) Encode(k int64) []byte {
	return binary.LittleEndian.AppendUint64(nil, uint64(k)) //nolint:gosec // G115: bit pattern
}

func (Int64) Decode(b []byte) (int64, error) {
	if err := short(TypeInt64, b, 8); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil //nolint:gosec // G115: bit pattern
}

// Uint32 encodes uint32 keys.
type Uint32 struct{}

func (Uint32) Type() Type              { return TypeUint32 }
func (Uint32) Size() int               { return 4 }
func (Uint32) External() bool          { return false }
func (Uint32) Encode(k uint32) []byte  { return binary.LittleEndian.AppendUint32(nil, k) }
func (Uint32) Decode(b []byte) (uint32, error) {
	if err := short(TypeUint32, b, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Uint64 encodes uint64 keys.
type Uint64 struct{}

func (Uint64) Type() Type             { return TypeUint64 }
func (Uint64) Size() int              { return 8 }
func (Uint64) External() bool         { return false }
func (Uint64) Encode(k uint64) []byte { return binary.LittleEndian.AppendUint64(nil, k) }
func (Uint64) Decode(b []byte) (uint64, error) {
	if err := short(TypeUint64, b, 8); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Float64 encodes float64 keys by their IEEE-754 bits.
type Float64 struct{}

func (Float64) Type() Type     { return TypeFloat64 }
func (Float64) Size() int      { return 8 }
func (Float64) External() bool { return false }
func (Float64) Encode(k float64) []byte {
	return binary.LittleEndian.AppendUint64(nil, math.Float64bits(k))
}

func (Float64) Decode(b []byte) (float64, error) {
	if err := short(TypeFloat64, b, 8); err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

// String encodes string keys as UTF-8. Pages store them externally.
type String struct{}

func (String) Type() Type                     { return TypeString }
func (String) Size() int                      { return 4 }
func (String) External() bool                 { return true }
func (String) Encode(k string) []byte         { return []byte(k) }
func (String) Decode(b []byte) (string, error) { return string(b), nil }
