// Package symbolic implements the lattices used for graph-build-time inference: symbolic dimensions,
// symbolic shapes (with possibly unknown rank) and symbolic elements (scalar values tracked for small
// integer tensors, like shapes, axes lists and indices).
//
// Each lattice has three levels of knowledge: Unknown, Param (an unresolved but named value, like a
// dynamic "batch" axis) and Value (a concrete number).
package symbolic

import (
	"fmt"

	"github.com/gomlx/exceptions"
)

// Kind of knowledge held by a Dim or an Element.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindParam
	KindValue
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindUnknown:
		return "Unknown"
	case KindParam:
		return "Param"
	case KindValue:
		return "Value"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Dim is the symbolic size of one tensor axis.
//
// The zero value is an Unknown dimension. Dim is comparable, and two Dims are == only if they hold the
// same knowledge.
type Dim struct {
	kind  Kind
	name  string
	value int
}

// Unknown returns a dimension about which nothing is known.
func Unknown() Dim { return Dim{} }

// Param returns a named dimension whose size is not known, but that is equal to every other dimension
// with the same name.
func Param(name string) Dim {
	if name == "" {
		exceptions.Panicf("symbolic.Param() requires a non-empty name")
	}
	return Dim{kind: KindParam, name: name}
}

// Value returns a concrete dimension. It panics if n is negative.
func Value(n int) Dim {
	if n < 0 {
		exceptions.Panicf("symbolic.Value(%d): dimensions must be >= 0", n)
	}
	return Dim{kind: KindValue, value: n}
}

// Dims converts concrete sizes to dimensions.
func Dims(sizes ...int) []Dim {
	dims := make([]Dim, len(sizes))
	for ii, n := range sizes {
		dims[ii] = Value(n)
	}
	return dims
}

// Kind returns the level of knowledge of the dimension.
func (d Dim) Kind() Kind { return d.kind }

// IsUnknown returns whether nothing is known about the dimension.
func (d Dim) IsUnknown() bool { return d.kind == KindUnknown }

// IsParam returns whether the dimension is a named parameter.
func (d Dim) IsParam() bool { return d.kind == KindParam }

// IsValue returns whether the dimension is concrete.
func (d Dim) IsValue() bool { return d.kind == KindValue }

// IsValueOf returns whether the dimension is concrete and equal to n.
func (d Dim) IsValueOf(n int) bool { return d.kind == KindValue && d.value == n }

// Name of a Param dimension, or "" for other kinds.
func (d Dim) Name() string { return d.name }

// Int returns the concrete size and true, or (0, false) if the dimension is not a Value.
func (d Dim) Int() (int, bool) {
	if d.kind != KindValue {
		return 0, false
	}
	return d.value, true
}

// String implements fmt.Stringer: "?" for Unknown, the name for Param and the number for Value.
func (d Dim) String() string {
	switch d.kind {
	case KindParam:
		return d.name
	case KindValue:
		return fmt.Sprintf("%d", d.value)
	default:
		return "?"
	}
}

// Compatible returns whether a and b may describe the same axis size: either is Unknown, or both are
// Params with the same name, or both are equal Values.
func Compatible(a, b Dim) bool {
	if a.IsUnknown() || b.IsUnknown() {
		return true
	}
	return a == b
}

// MaxDefined returns the most informative of two dimensions believed to be equal: Value beats Param,
// which beats Unknown.
//
// Two different Values return a *ShapeError. Of two different Params, the one with the smallest name is
// returned, so the result doesn't depend on the order of the operands.
func MaxDefined(a, b Dim) (Dim, error) {
	if a.kind != b.kind {
		if a.kind > b.kind {
			return a, nil
		}
		return b, nil
	}
	if a.kind == KindValue && a.value != b.value {
		return Dim{}, NewShapeError(-1, a, b, "dimensions expected to be equal")
	}
	if a.kind == KindParam && b.name < a.name {
		return b, nil
	}
	return a, nil
}

// Broadcast returns the dimension resulting from broadcasting a and b with numpy rules.
//
// Value(1) broadcasts to anything, equal dimensions are kept, and two different Values other than 1
// return a *ShapeError. Anything else (e.g. an Unknown against a Value(3)) is Unknown, since the
// result depends on whether the unknown side is 1.
func Broadcast(a, b Dim) (Dim, error) {
	switch {
	case a.IsValueOf(1):
		return b, nil
	case b.IsValueOf(1):
		return a, nil
	case a == b && !a.IsUnknown():
		return a, nil
	case a.IsValue() && b.IsValue():
		return Dim{}, NewShapeError(-1, a, b, "dimensions cannot be broadcast")
	}
	return Unknown(), nil
}

// Add returns a + b.
func Add(a, b Dim) Dim {
	switch {
	case a.IsValue() && b.IsValue():
		return Value(a.value + b.value)
	case a.IsValueOf(0):
		return b
	case b.IsValueOf(0):
		return a
	}
	return Unknown()
}

// Sub returns a - b. It returns an error if the result is known to be negative.
func Sub(a, b Dim) (Dim, error) {
	switch {
	case a.IsValue() && b.IsValue():
		if a.value < b.value {
			return Dim{}, NewArithmeticError("Sub", a, b, "negative dimension")
		}
		return Value(a.value - b.value), nil
	case b.IsValueOf(0):
		return a, nil
	case a.IsParam() && a == b:
		return Value(0), nil
	}
	return Unknown(), nil
}

// Mul returns a * b. A Value(0) operand yields Value(0) even if the other operand is not known.
func Mul(a, b Dim) Dim {
	switch {
	case a.IsValueOf(0) || b.IsValueOf(0):
		return Value(0)
	case a.IsValue() && b.IsValue():
		return Value(a.value * b.value)
	case a.IsValueOf(1):
		return b
	case b.IsValueOf(1):
		return a
	}
	return Unknown()
}

// Div returns the floor of a / b. Dividing by Value(0) returns an *ArithmeticError.
func Div(a, b Dim) (Dim, error) {
	switch {
	case b.IsValueOf(0):
		return Dim{}, NewArithmeticError("Div", a, b, "division by zero")
	case a.IsValue() && b.IsValue():
		return Value(a.value / b.value), nil
	case b.IsValueOf(1):
		return a, nil
	case a.IsValueOf(0):
		return Value(0), nil
	case a.IsParam() && a == b:
		return Value(1), nil
	}
	return Unknown(), nil
}

// CeilDiv returns the ceiling of a / b. Dividing by Value(0) returns an *ArithmeticError.
func CeilDiv(a, b Dim) (Dim, error) {
	if a.IsValue() && b.IsValue() && b.value != 0 {
		return Value((a.value + b.value - 1) / b.value), nil
	}
	return Div(a, b)
}

// Product returns the product of all dims. The product of no dims is Value(1).
func Product(dims ...Dim) Dim {
	result := Value(1)
	for _, d := range dims {
		result = Mul(result, d)
	}
	return result
}

// PoolParams describes a sliding window along one axis, used by convolutions and pooling.
type PoolParams struct {
	Kernel, Stride, Dilation int
	PadBegin, PadEnd         int
	CeilMode                 bool
}

// PoolDim returns the number of window positions of a sliding window over an axis of size in:
//
//	floor_or_ceil((in + padBegin + padEnd - dilation*(kernel-1) - 1) / stride) + 1
//
// Strides and dilations smaller than 1 are treated as 1. It returns a *ShapeError if the window doesn't
// fit in the padded input.
func PoolDim(in Dim, p PoolParams) (Dim, error) {
	stride := max(p.Stride, 1)
	dilation := max(p.Dilation, 1)
	size, ok := in.Int()
	if !ok {
		if p.Kernel == 1 && stride == 1 && p.PadBegin == 0 && p.PadEnd == 0 {
			return in, nil
		}
		return Unknown(), nil
	}
	effectiveKernel := dilation*(p.Kernel-1) + 1
	padded := size + p.PadBegin + p.PadEnd
	if padded < effectiveKernel {
		return Dim{}, NewShapeError(-1, in, Value(effectiveKernel), "window larger than padded input of size %d", padded)
	}
	span := padded - effectiveKernel
	positions := span/stride + 1
	if p.CeilMode && span%stride != 0 {
		positions++
		// The last window must start inside the input or its leading padding.
		if (positions-1)*stride >= size+p.PadBegin {
			positions--
		}
	}
	return Value(positions), nil
}

// TransposedPoolDim returns the output size of a transposed sliding window (ConvTranspose):
//
//	stride*(in-1) + outputPadding + dilation*(kernel-1) + 1 - padBegin - padEnd
func TransposedPoolDim(in Dim, p PoolParams, outputPadding int) (Dim, error) {
	size, ok := in.Int()
	if !ok {
		return Unknown(), nil
	}
	stride := max(p.Stride, 1)
	dilation := max(p.Dilation, 1)
	out := stride*(size-1) + outputPadding + dilation*(p.Kernel-1) + 1 - p.PadBegin - p.PadEnd
	if out < 0 {
		return Dim{}, NewShapeError(-1, in, Value(p.Kernel), "transposed window produces negative size %d", out)
	}
	return Value(out), nil
}

// ResizeDim returns floor(in * scale), used by resizing operators. A scale of 1 preserves any dimension.
func ResizeDim(in Dim, scale float64) Dim {
	if scale == 1 {
		return in
	}
	size, ok := in.Int()
	if !ok {
		return Unknown()
	}
	return Value(int(float64(size) * scale))
}
