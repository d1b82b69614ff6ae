// Package partial implements the Partial Tensor: the graph-build-time abstraction of a tensor, with its
// dtype, its symbolic shape and, for small scalar or 1-D tensors, the symbolic value of each element.
//
// Element values are what allow shapes, axes lists and indices computed inside the graph to be resolved
// to concrete integers without executing anything.
package partial

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/onnx-builder/symbolic"
)

// DefaultElementCap is the default maximum number of elements tracked per tensor.
// Larger tensors are tracked shape-wise only.
var DefaultElementCap = 64

// Tensor is a Partial Tensor.
//
// Elements are tracked only for tensors of rank 0 (one element) or rank 1 (as many elements as the
// dimension), and only up to an element cap. When present, the number of elements always matches the
// dimension of the shape.
type Tensor struct {
	DType dtypes.DType
	Shape symbolic.Shape

	elements []symbolic.Element
}

// New returns a Partial Tensor without element information.
func New(dtype dtypes.DType, shape symbolic.Shape) *Tensor {
	return &Tensor{DType: dtype, Shape: shape.Clone()}
}

// Scalar returns a scalar Partial Tensor holding the element e.
func Scalar(dtype dtypes.DType, e symbolic.Element) *Tensor {
	return &Tensor{DType: dtype, Shape: symbolic.ScalarShape(), elements: []symbolic.Element{symbolic.Cast(e, dtype)}}
}

// FromElements returns a 1-D Partial Tensor with the given elements, if within elementCap.
// Above elementCap, the tensor only records the shape.
func FromElements(dtype dtypes.DType, elements []symbolic.Element, elementCap int) *Tensor {
	t := New(dtype, symbolic.ConcreteShape(len(elements)))
	if len(elements) <= elementCap {
		t.elements = symbolic.CastAll(elements, dtype)
	}
	return t
}

// FromInts returns a 1-D Partial Tensor with concrete integer elements.
func FromInts(dtype dtypes.DType, values ...int64) *Tensor {
	return FromElements(dtype, symbolic.IntElements(values...), max(len(values), DefaultElementCap))
}

// WithElements returns a copy of t holding the given elements.
//
// The elements are dropped (not an error) if t has rank larger than 1 or if there are more than
// elementCap of them. A shape of unknown rank becomes 1-D.
// It returns a *symbolic.ShapeError if the number of elements conflicts with a known dimension.
func (t *Tensor) WithElements(elements []symbolic.Element, elementCap int) (*Tensor, error) {
	result := t.Clone()
	result.elements = nil
	rank := t.Shape.Rank()
	if rank < 0 {
		if err := result.Shape.DeclareRank(1); err != nil {
			return nil, err
		}
		rank = 1
	}
	switch rank {
	case 0:
		if len(elements) != 1 {
			return nil, symbolic.NewShapeError(-1, symbolic.Value(1), symbolic.Value(len(elements)),
				"scalar must hold exactly one element")
		}
	case 1:
		d := t.Shape.Dim(0)
		merged, err := symbolic.MaxDefined(d, symbolic.Value(len(elements)))
		if err != nil {
			return nil, err
		}
		result.Shape = symbolic.MakeShape(merged)
	default:
		return result, nil
	}
	if len(elements) <= elementCap {
		result.elements = symbolic.CastAll(elements, t.DType)
	}
	return result, nil
}

// Clone returns a deep copy of t.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{DType: t.DType, Shape: t.Shape.Clone(), elements: slices.Clone(t.elements)}
}

// Rank returns the rank of the tensor, or -1 if unknown.
func (t *Tensor) Rank() int { return t.Shape.Rank() }

// HasElements returns whether element values are tracked.
func (t *Tensor) HasElements() bool { return t.elements != nil }

// Elements returns a copy of the tracked elements, or false if elements are not tracked.
func (t *Tensor) Elements() ([]symbolic.Element, bool) {
	if t.elements == nil {
		return nil, false
	}
	return slices.Clone(t.elements), true
}

// Element returns the element at position i, or Unknown if elements are not tracked.
func (t *Tensor) Element(i int) symbolic.Element {
	if t.elements == nil || i < 0 || i >= len(t.elements) {
		return symbolic.UnknownElement()
	}
	return t.elements[i]
}

// ElementsOrUnknown returns the tracked elements, or a list of Unknown elements if the tensor is
// a scalar or a 1-D tensor of concrete size not larger than elementCap.
// It returns false if the number of elements cannot be determined or is above elementCap.
func (t *Tensor) ElementsOrUnknown(elementCap int) ([]symbolic.Element, bool) {
	if t.elements != nil {
		return slices.Clone(t.elements), true
	}
	var n int
	switch t.Shape.Rank() {
	case 0:
		n = 1
	case 1:
		var ok bool
		n, ok = t.Shape.Dim(0).Int()
		if !ok {
			return nil, false
		}
	default:
		return nil, false
	}
	if n > elementCap {
		return nil, false
	}
	return make([]symbolic.Element, n), true
}

// Ints returns the elements as integers if they are all concrete.
func (t *Tensor) Ints() ([]int64, bool) {
	if t.elements == nil {
		return nil, false
	}
	values := make([]int64, len(t.elements))
	for ii, e := range t.elements {
		v, ok := e.Int()
		if !ok {
			f, isFloat := e.Float()
			if !isFloat {
				return nil, false
			}
			v = int64(f)
		}
		values[ii] = v
	}
	return values, true
}

// IsFullyResolved returns whether elements are tracked and all of them are concrete values.
func (t *Tensor) IsFullyResolved() bool {
	if t.elements == nil {
		return false
	}
	for _, e := range t.elements {
		if !e.IsValue() {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer, e.g. "Int64[3]{N, 3, ?}".
func (t *Tensor) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s%s", t.DType, t.Shape))
	if t.elements != nil {
		parts := make([]string, len(t.elements))
		for ii, e := range t.elements {
			parts[ii] = e.String()
		}
		sb.WriteString("{" + strings.Join(parts, ", ") + "}")
	}
	return sb.String()
}

// ElementAt returns the element i of an operand being broadcast to a larger 1-D tensor:
// operands with a single element are not indexed, and always return their element 0.
func ElementAt(elements []symbolic.Element, i int) symbolic.Element {
	if len(elements) == 1 {
		return elements[0]
	}
	return elements[i]
}
