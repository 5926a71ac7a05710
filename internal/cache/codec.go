package cache

import (
	"encoding/binary"
	"fmt"
	"math"

	cerrors "github.com/geomcache/geomcache/pkg/errors"
	"github.com/geomcache/geomcache/pkg/types"
)

// ErrUnsupportedType is returned for element types the codec cannot handle.
// It signals a broken producer, not a cache miss.
var ErrUnsupportedType = cerrors.NewError(cerrors.ErrCodeUnsupportedType, "unsupported element type")

// encodedLen returns the serialized size of e in bytes.
func encodedLen(e types.Elements) int {
	if e == nil {
		return 0
	}
	return e.Len() * e.Type().Width()
}

// appendEncoded appends the big-endian encoding of e to dst. Elements are
// written in order with no padding.
func appendEncoded(dst []byte, e types.Elements) ([]byte, error) {
	switch v := e.(type) {
	case types.Bytes:
		return append(dst, v...), nil
	case types.Shorts:
		for _, x := range v {
			dst = binary.BigEndian.AppendUint16(dst, uint16(x))
		}
		return dst, nil
	case types.Ints:
		for _, x := range v {
			dst = binary.BigEndian.AppendUint32(dst, uint32(x))
		}
		return dst, nil
	case types.Floats:
		for _, x := range v {
			dst = binary.BigEndian.AppendUint32(dst, math.Float32bits(x))
		}
		return dst, nil
	case types.Doubles:
		for _, x := range v {
			dst = binary.BigEndian.AppendUint64(dst, math.Float64bits(x))
		}
		return dst, nil
	default:
		return dst, fmt.Errorf("%w: %T", ErrUnsupportedType, e)
	}
}

// decode reads n elements of type t from src into newly allocated storage.
// src must hold at least n*t.Width() bytes; trailing bytes are an error too.
func decode(t types.ElementType, n int, src []byte) (types.Elements, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedType, int(t))
	}
	if n < 0 {
		return nil, fmt.Errorf("negative element count %d", n)
	}
	if n > maxElements(t) {
		return nil, fmt.Errorf("%s buffer of %d elements is too large", t, n)
	}
	if want := n * t.Width(); len(src) != want {
		return nil, fmt.Errorf("%s buffer of %d elements needs %d bytes, got %d", t, n, want, len(src))
	}

	switch t {
	case types.Byte:
		out := make(types.Bytes, n)
		copy(out, src)
		return out, nil
	case types.Short:
		out := make(types.Shorts, n)
		for i := range out {
			out[i] = int16(binary.BigEndian.Uint16(src[i*2:]))
		}
		return out, nil
	case types.Int:
		out := make(types.Ints, n)
		for i := range out {
			out[i] = int32(binary.BigEndian.Uint32(src[i*4:]))
		}
		return out, nil
	case types.Float:
		out := make(types.Floats, n)
		for i := range out {
			out[i] = math.Float32frombits(binary.BigEndian.Uint32(src[i*4:]))
		}
		return out, nil
	case types.Double:
		out := make(types.Doubles, n)
		for i := range out {
			out[i] = math.Float64frombits(binary.BigEndian.Uint64(src[i*8:]))
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
}

// maxElements is the largest element count of type t whose encoded size
// fits in an int. t must be valid.
func maxElements(t types.ElementType) int {
	return math.MaxInt / t.Width()
}
