package symbolic

import (
	"math"
	"strconv"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
)

// Element is the symbolic value of one scalar of a small tensor: Unknown, a named Param or a concrete
// Value. Values are stored either as an integer (used for integer and boolean dtypes) or as a float.
//
// The zero value is an Unknown element. Element is comparable.
type Element struct {
	kind    Kind
	name    string
	isFloat bool
	i       int64
	f       float64
}

// UnknownElement returns an element about which nothing is known.
func UnknownElement() Element { return Element{} }

// ParamElement returns a named element with unknown value, equal to every other element with the same name.
func ParamElement(name string) Element {
	if name == "" {
		exceptions.Panicf("symbolic.ParamElement() requires a non-empty name")
	}
	return Element{kind: KindParam, name: name}
}

// IntElement returns a concrete integer element.
func IntElement(v int64) Element { return Element{kind: KindValue, i: v} }

// FloatElement returns a concrete floating point element.
func FloatElement(v float64) Element { return Element{kind: KindValue, isFloat: true, f: v} }

// BoolElement returns a concrete boolean element, stored as the integer 0 or 1.
func BoolElement(v bool) Element {
	if v {
		return IntElement(1)
	}
	return IntElement(0)
}

// IntElements converts a list of integers to elements.
func IntElements(values ...int64) []Element {
	elements := make([]Element, len(values))
	for ii, v := range values {
		elements[ii] = IntElement(v)
	}
	return elements
}

// Kind returns the level of knowledge of the element.
func (e Element) Kind() Kind { return e.kind }

// IsUnknown returns whether nothing is known about the element.
func (e Element) IsUnknown() bool { return e.kind == KindUnknown }

// IsParam returns whether the element is a named parameter.
func (e Element) IsParam() bool { return e.kind == KindParam }

// IsValue returns whether the element is concrete.
func (e Element) IsValue() bool { return e.kind == KindValue }

// IsFloat returns whether the element holds a concrete floating point value.
func (e Element) IsFloat() bool { return e.kind == KindValue && e.isFloat }

// Name of a Param element, or "" for other kinds.
func (e Element) Name() string { return e.name }

// Int returns the value of a concrete integer element. It returns false for floats and non-concrete elements.
func (e Element) Int() (int64, bool) {
	if e.kind != KindValue || e.isFloat {
		return 0, false
	}
	return e.i, true
}

// Float returns the value of a concrete element as a float64.
func (e Element) Float() (float64, bool) {
	if e.kind != KindValue {
		return 0, false
	}
	if e.isFloat {
		return e.f, true
	}
	return float64(e.i), true
}

// Bool returns whether a concrete element is non-zero.
func (e Element) Bool() (value, ok bool) {
	if e.kind != KindValue {
		return false, false
	}
	if e.isFloat {
		return e.f != 0, true
	}
	return e.i != 0, true
}

// IsZero returns whether the element is a concrete zero.
func (e Element) IsZero() bool {
	v, ok := e.Bool()
	return ok && !v
}

// isIntValue returns whether e is a concrete integer equal to v.
func (e Element) isIntValue(v int64) bool {
	i, ok := e.Int()
	return ok && i == v
}

// String implements fmt.Stringer.
func (e Element) String() string {
	switch e.kind {
	case KindParam:
		return e.name
	case KindValue:
		if e.isFloat {
			return strconv.FormatFloat(e.f, 'g', -1, 64)
		}
		return strconv.FormatInt(e.i, 10)
	default:
		return "?"
	}
}

// DimToElement converts a dimension to the equivalent element, keeping Param names.
func DimToElement(d Dim) Element {
	switch d.kind {
	case KindParam:
		return ParamElement(d.name)
	case KindValue:
		return IntElement(int64(d.value))
	default:
		return UnknownElement()
	}
}

// ElementToDim converts an element holding a dimension size to a Dim.
//
// Negative values return an *AxisError, and non-integral floats a *TypeError.
func ElementToDim(e Element) (Dim, error) {
	switch e.kind {
	case KindParam:
		return Param(e.name), nil
	case KindValue:
		v := e.i
		if e.isFloat {
			if e.f != math.Trunc(e.f) {
				return Dim{}, NewTypeError(dtypes.Int64, dtypes.Float64, "dimension given as non-integral value %s", e)
			}
			v = int64(e.f)
		}
		if v < 0 {
			return Dim{}, NewAxisError(int(v), -1, "negative dimension")
		}
		return Value(int(v)), nil
	default:
		return Unknown(), nil
	}
}

// NormalizeIndex resolves a possibly negative index into an axis of size d.
//
// Negative indices are resolved modulo d only if d is known: otherwise the result is deferred as
// Unknown. Indices known to be out of range return an *AxisError.
func NormalizeIndex(index Element, d Dim) (Element, error) {
	if !index.IsValue() {
		return index, nil
	}
	var v int64
	if index.isFloat {
		v = int64(index.f)
	} else {
		v = index.i
	}
	size, known := d.Int()
	if !known {
		if v < 0 {
			return UnknownElement(), nil
		}
		return IntElement(v), nil
	}
	if v < -int64(size) || v >= int64(size) {
		return Element{}, NewAxisError(int(v), size, "index out of range")
	}
	if v < 0 {
		v += int64(size)
	}
	return IntElement(v), nil
}

// Cast converts the element to the representation of the given dtype: integer dtypes truncate floats
// toward zero and wrap around, float dtypes round to the precision of the dtype, and Bool maps non-zero
// values to 1.
func Cast(e Element, to dtypes.DType) Element {
	if e.kind != KindValue {
		return e
	}
	switch {
	case to == dtypes.Bool:
		v, _ := e.Bool()
		return BoolElement(v)
	case to.IsFloat():
		f, _ := e.Float()
		return FloatElement(RoundFloat(f, to))
	case to.IsInt():
		if e.isFloat {
			if math.IsNaN(e.f) || math.IsInf(e.f, 0) {
				return UnknownElement()
			}
			return IntElement(WrapInt(int64(e.f), to))
		}
		return IntElement(WrapInt(e.i, to))
	}
	return UnknownElement()
}

// CastAll applies Cast to every element.
func CastAll(elements []Element, to dtypes.DType) []Element {
	result := make([]Element, len(elements))
	for ii, e := range elements {
		result[ii] = Cast(e, to)
	}
	return result
}

// MustInt returns the concrete integer value of e, or panics with an *AxisError.
// It is meant for inference code that already checked the element is resolved.
func MustInt(e Element) int64 {
	if v, ok := e.Int(); ok {
		return v
	}
	if f, ok := e.Float(); ok {
		return int64(f)
	}
	panic(NewAxisError(0, -1, "element %s is not a concrete value", e))
}
