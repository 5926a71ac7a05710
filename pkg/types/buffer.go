package types

import (
	"fmt"
	"slices"
)

// ElementType identifies the primitive type stored in a TypedBuffer.
type ElementType int

const (
	Byte ElementType = iota
	Short
	Int
	Float
	Double
)

// String returns the wire name used in sidecar metadata.
func (t ElementType) String() string {
	switch t {
	case Byte:
		return "BYTE"
	case Short:
		return "SHORT"
	case Int:
		return "INT"
	case Float:
		return "FLOAT"
	case Double:
		return "DOUBLE"
	default:
		return fmt.Sprintf("ElementType(%d)", int(t))
	}
}

// Width returns the encoded size of one element in bytes, or 0 for an
// unknown type.
func (t ElementType) Width() int {
	switch t {
	case Byte:
		return 1
	case Short:
		return 2
	case Int, Float:
		return 4
	case Double:
		return 8
	default:
		return 0
	}
}

// Valid reports whether t is one of the five supported types.
func (t ElementType) Valid() bool {
	return t.Width() > 0
}

// ParseElementType parses a wire name such as "FLOAT".
func ParseElementType(s string) (ElementType, error) {
	switch s {
	case "BYTE":
		return Byte, nil
	case "SHORT":
		return Short, nil
	case "INT":
		return Int, nil
	case "FLOAT":
		return Float, nil
	case "DOUBLE":
		return Double, nil
	default:
		return 0, fmt.Errorf("unknown element type %q", s)
	}
}

// Elements is the sealed set of element slices a TypedBuffer can hold.
type Elements interface {
	Type() ElementType
	Len() int
	elements()
}

// Bytes holds raw 8-bit elements.
type Bytes []byte

// Shorts holds signed 16-bit elements.
type Shorts []int16

// Ints holds signed 32-bit elements.
type Ints []int32

// Floats holds 32-bit IEEE 754 elements.
type Floats []float32

// Doubles holds 64-bit IEEE 754 elements.
type Doubles []float64

func (Bytes) Type() ElementType   { return Byte }
func (Shorts) Type() ElementType  { return Short }
func (Ints) Type() ElementType    { return Int }
func (Floats) Type() ElementType  { return Float }
func (Doubles) Type() ElementType { return Double }

func (e Bytes) Len() int   { return len(e) }
func (e Shorts) Len() int  { return len(e) }
func (e Ints) Len() int    { return len(e) }
func (e Floats) Len() int  { return len(e) }
func (e Doubles) Len() int { return len(e) }

func (Bytes) elements()   {}
func (Shorts) elements()  {}
func (Ints) elements()    {}
func (Floats) elements()  {}
func (Doubles) elements() {}

// TypedBuffer is a labelled numeric buffer produced by the geometry engine.
// It must not be modified once handed to the cache.
type TypedBuffer struct {
	Label    string
	Elements Elements
}

// NewByteBuffer returns a TypedBuffer holding bytes.
func NewByteBuffer(label string, data []byte) TypedBuffer {
	return TypedBuffer{Label: label, Elements: Bytes(data)}
}

// NewShortBuffer returns a TypedBuffer holding 16-bit integers.
func NewShortBuffer(label string, data []int16) TypedBuffer {
	return TypedBuffer{Label: label, Elements: Shorts(data)}
}

// NewIntBuffer returns a TypedBuffer holding 32-bit integers.
func NewIntBuffer(label string, data []int32) TypedBuffer {
	return TypedBuffer{Label: label, Elements: Ints(data)}
}

// NewFloatBuffer returns a TypedBuffer holding 32-bit floats.
func NewFloatBuffer(label string, data []float32) TypedBuffer {
	return TypedBuffer{Label: label, Elements: Floats(data)}
}

// NewDoubleBuffer returns a TypedBuffer holding 64-bit floats.
func NewDoubleBuffer(label string, data []float64) TypedBuffer {
	return TypedBuffer{Label: label, Elements: Doubles(data)}
}

// Type returns the element type, or -1 when the buffer holds nothing.
func (b TypedBuffer) Type() ElementType {
	if b.Elements == nil {
		return -1
	}
	return b.Elements.Type()
}

// NumElements returns the number of elements.
func (b TypedBuffer) NumElements() int {
	if b.Elements == nil {
		return 0
	}
	return b.Elements.Len()
}

// SizeBytes returns the encoded size of the elements.
func (b TypedBuffer) SizeBytes() int64 {
	if b.Elements == nil {
		return 0
	}
	return int64(b.Elements.Len()) * int64(b.Elements.Type().Width())
}

// Equal reports whether two buffers carry the same label, type and elements.
// Floating point elements are compared with ==, so NaN never equals NaN.
func (b TypedBuffer) Equal(o TypedBuffer) bool {
	if b.Label != o.Label || b.Type() != o.Type() {
		return false
	}
	switch e := b.Elements.(type) {
	case Bytes:
		return slices.Equal(e, o.Elements.(Bytes))
	case Shorts:
		return slices.Equal(e, o.Elements.(Shorts))
	case Ints:
		return slices.Equal(e, o.Elements.(Ints))
	case Floats:
		return slices.Equal(e, o.Elements.(Floats))
	case Doubles:
		return slices.Equal(e, o.Elements.(Doubles))
	case nil:
		return o.Elements == nil
	}
	return false
}
