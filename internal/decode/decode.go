// Package decode converts raw little-endian constant payloads to and from symbolic elements.
//
// Only the payloads of small constants are ever decoded: the graph builder treats constant data as an
// opaque blob otherwise.
package decode

import (
	"encoding/binary"
	"math"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/dtypes/bfloat16"
	"github.com/gomlx/onnx-builder/symbolic"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// Size returns the number of bytes of a tensor of dtype with the given dimensions.
func Size(dtype dtypes.DType, dims ...int) (int, error) {
	if !Supported(dtype) {
		return 0, errors.Errorf("dtype %s not supported for constants", dtype)
	}
	for axis, d := range dims {
		if d < 0 {
			return 0, errors.Errorf("negative dimension %d at axis %d", d, axis)
		}
	}
	return dtype.SizeForDimensions(dims...), nil
}

// Supported returns whether constants of dtype can be decoded and encoded.
func Supported(dtype dtypes.DType) bool {
	switch dtype {
	case dtypes.Bool,
		dtypes.Int8, dtypes.Int16, dtypes.Int32, dtypes.Int64,
		dtypes.Uint8, dtypes.Uint16, dtypes.Uint32, dtypes.Uint64,
		dtypes.Float16, dtypes.BFloat16, dtypes.Float32, dtypes.Float64:
		return true
	}
	return false
}

func decodeInts[T constraints.Integer](raw []byte, count, size int, read func([]byte) T) []symbolic.Element {
	elements := make([]symbolic.Element, count)
	for ii := range elements {
		elements[ii] = symbolic.IntElement(int64(read(raw[ii*size:])))
	}
	return elements
}

func decodeFloats[T constraints.Float](raw []byte, count, size int, read func([]byte) T) []symbolic.Element {
	elements := make([]symbolic.Element, count)
	for ii := range elements {
		elements[ii] = symbolic.FloatElement(float64(read(raw[ii*size:])))
	}
	return elements
}

// Elements decodes the first count elements of dtype from raw.
func Elements(raw []byte, dtype dtypes.DType, count int) ([]symbolic.Element, error) {
	size, err := Size(dtype, count)
	if err != nil {
		return nil, err
	}
	if len(raw) < size {
		return nil, errors.Errorf("%d elements of %s need %d bytes, got %d", count, dtype, size, len(raw))
	}
	le := binary.LittleEndian
	switch dtype {
	case dtypes.Bool:
		elements := make([]symbolic.Element, count)
		for ii := range elements {
			elements[ii] = symbolic.BoolElement(raw[ii] != 0)
		}
		return elements, nil
	case dtypes.Int8:
		return decodeInts(raw, count, 1, func(b []byte) int8 { return int8(b[0]) }), nil
	case dtypes.Uint8:
		return decodeInts(raw, count, 1, func(b []byte) uint8 { return b[0] }), nil
	case dtypes.Int16:
		return decodeInts(raw, count, 2, func(b []byte) int16 { return int16(le.Uint16(b)) }), nil
	case dtypes.Uint16:
		return decodeInts(raw, count, 2, le.Uint16), nil
	case dtypes.Int32:
		return decodeInts(raw, count, 4, func(b []byte) int32 { return int32(le.Uint32(b)) }), nil
	case dtypes.Uint32:
		return decodeInts(raw, count, 4, le.Uint32), nil
	case dtypes.Int64:
		return decodeInts(raw, count, 8, func(b []byte) int64 { return int64(le.Uint64(b)) }), nil
	case dtypes.Uint64:
		elements := decodeInts(raw, count, 8, le.Uint64)
		for ii := range elements {
			// Elements hold int64 values: larger values are not tracked.
			if le.Uint64(raw[ii*8:]) > math.MaxInt64 {
				elements[ii] = symbolic.UnknownElement()
			}
		}
		return elements, nil
	case dtypes.Float16:
		return decodeFloats(raw, count, 2, func(b []byte) float32 {
			return float16.Frombits(le.Uint16(b)).Float32()
		}), nil
	case dtypes.BFloat16:
		return decodeFloats(raw, count, 2, func(b []byte) float32 {
			return bfloat16.FromBits(le.Uint16(b)).Float32()
		}), nil
	case dtypes.Float32:
		return decodeFloats(raw, count, 4, func(b []byte) float32 { return math.Float32frombits(le.Uint32(b)) }), nil
	case dtypes.Float64:
		return decodeFloats(raw, count, 8, func(b []byte) float64 { return math.Float64frombits(le.Uint64(b)) }), nil
	}
	return nil, errors.Errorf("dtype %s not supported for constants!?", dtype)
}

// Encode returns the raw little-endian payload of the given concrete elements.
// Float elements given for integer dtypes are truncated, and vice-versa converted.
func Encode(dtype dtypes.DType, elements []symbolic.Element) ([]byte, error) {
	size, err := Size(dtype, len(elements))
	if err != nil {
		return nil, err
	}
	raw := make([]byte, size)
	elementSize := size / max(len(elements), 1)
	le := binary.LittleEndian
	for ii, e := range elements {
		b := raw[ii*elementSize:]
		f, ok := e.Float()
		if !ok {
			return nil, errors.Errorf("element #%d is %s, only concrete values can be encoded", ii, e)
		}
		i := int64(f)
		if v, isInt := e.Int(); isInt {
			i = v
		}
		switch dtype {
		case dtypes.Bool:
			if i != 0 {
				b[0] = 1
			}
		case dtypes.Int8, dtypes.Uint8:
			b[0] = byte(i)
		case dtypes.Int16, dtypes.Uint16:
			le.PutUint16(b, uint16(i))
		case dtypes.Int32, dtypes.Uint32:
			le.PutUint32(b, uint32(i))
		case dtypes.Int64, dtypes.Uint64:
			le.PutUint64(b, uint64(i))
		case dtypes.Float16:
			le.PutUint16(b, float16.Fromfloat32(float32(f)).Bits())
		case dtypes.BFloat16:
			le.PutUint16(b, bfloat16.FromFloat64(f).Bits())
		case dtypes.Float32:
			le.PutUint32(b, math.Float32bits(float32(f)))
		case dtypes.Float64:
			le.PutUint64(b, math.Float64bits(f))
		}
	}
	return raw, nil
}
