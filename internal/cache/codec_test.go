package cache

import (
	"bytes"
	"errors"
	"math"
	"testing"

	cerrors "github.com/geomcache/geomcache/pkg/errors"
	"github.com/geomcache/geomcache/pkg/types"
)

func TestCodec_RoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		elems types.Elements
	}{
		{"bytes", types.Bytes{0, 1, 0x7f, 0x80, 0xff}},
		{"shorts", types.Shorts{0, 1, -1, math.MaxInt16, math.MinInt16}},
		{"ints", types.Ints{0, 42, -42, math.MaxInt32, math.MinInt32}},
		{"floats", types.Floats{0, 1.5, -2.25, math.MaxFloat32, float32(math.Inf(-1))}},
		{"doubles", types.Doubles{0, math.Pi, -math.E, math.MaxFloat64, math.SmallestNonzeroFloat64}},
		{"empty floats", types.Floats{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := appendEncoded(nil, tt.elems)
			if err != nil {
				t.Fatalf("appendEncoded() error = %v", err)
			}
			if len(data) != encodedLen(tt.elems) {
				t.Errorf("encoded %d bytes, encodedLen says %d", len(data), encodedLen(tt.elems))
			}

			got, err := decode(tt.elems.Type(), tt.elems.Len(), data)
			if err != nil {
				t.Fatalf("decode() error = %v", err)
			}
			if !(types.TypedBuffer{Elements: got}).Equal(types.TypedBuffer{Elements: tt.elems}) {
				t.Errorf("decode() = %v, want %v", got, tt.elems)
			}
		})
	}
}

func TestCodec_BigEndianLayout(t *testing.T) {
	tests := []struct {
		name  string
		elems types.Elements
		want  []byte
	}{
		{"short", types.Shorts{0x0102}, []byte{0x01, 0x02}},
		{"int", types.Ints{-2}, []byte{0xff, 0xff, 0xff, 0xfe}},
		{"float", types.Floats{1}, []byte{0x3f, 0x80, 0x00, 0x00}},
		{"double", types.Doubles{1}, []byte{0x3f, 0xf0, 0, 0, 0, 0, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := appendEncoded(nil, tt.elems)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("got % x, want % x", got, tt.want)
			}
		})
	}
}

func TestCodec_NaNSurvives(t *testing.T) {
	data, err := appendEncoded(nil, types.Doubles{math.NaN()})
	if err != nil {
		t.Fatal(err)
	}
	got, err := decode(types.Double, 1, data)
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsNaN(got.(types.Doubles)[0]) {
		t.Errorf("expected NaN, got %v", got)
	}
}

func TestCodec_Errors(t *testing.T) {
	if _, err := appendEncoded(nil, nil); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("appendEncoded(nil) error = %v, want ErrUnsupportedType", err)
	}
	if _, err := decode(types.ElementType(42), 1, []byte{0}); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("decode(unknown) error = %v, want ErrUnsupportedType", err)
	}
	if _, err := decode(types.Int, 2, make([]byte, 7)); err == nil {
		t.Error("expected error for short input")
	}
	if _, err := decode(types.Int, 1, make([]byte, 5)); err == nil {
		t.Error("expected error for trailing bytes")
	}
	if _, err := decode(types.Byte, -1, nil); err == nil {
		t.Error("expected error for negative count")
	}
	// 1<<61 doubles wrap to 0 bytes
	if _, err := decode(types.Double, 1<<61, nil); err == nil {
		t.Error("expected error for a count whose size overflows")
	}

	var cerr *cerrors.CacheError
	if !errors.As(ErrUnsupportedType, &cerr) || cerr.Code != cerrors.ErrCodeUnsupportedType {
		t.Errorf("ErrUnsupportedType code = %v, want %s", cerr, cerrors.ErrCodeUnsupportedType)
	}
}

func TestCodec_AppendsToScratch(t *testing.T) {
	scratch := make([]byte, 0, 64)
	scratch = append(scratch, 0xAA)

	got, err := appendEncoded(scratch, types.Shorts{1})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{0xAA, 0x00, 0x01}) {
		t.Errorf("got % x", got)
	}
}
