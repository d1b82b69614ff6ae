package symbolic

import (
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
)

// Shape is a sequence of symbolic dimensions whose rank may itself be unknown.
//
// Shape values are immutable, except for DeclareRank: methods that change a shape return a new one.
// The zero value is a shape of unknown rank.
type Shape struct {
	dims      []Dim
	rankKnown bool
}

// UnknownShape returns a shape with unknown rank.
func UnknownShape() Shape { return Shape{} }

// MakeShape returns a shape of known rank with the given dimensions.
func MakeShape(dims ...Dim) Shape {
	return Shape{dims: slices.Clone(dims), rankKnown: true}
}

// ScalarShape returns the shape of a scalar: known rank 0.
func ScalarShape() Shape { return Shape{rankKnown: true} }

// ConcreteShape returns a shape of known rank with concrete dimensions.
func ConcreteShape(sizes ...int) Shape {
	return Shape{dims: Dims(sizes...), rankKnown: true}
}

// UnknownDims returns a shape of known rank with all dimensions Unknown.
func UnknownDims(rank int) Shape {
	return Shape{dims: make([]Dim, rank), rankKnown: true}
}

// HasRank returns whether the rank of the shape is known.
func (s Shape) HasRank() bool { return s.rankKnown }

// Rank returns the rank of the shape, or -1 if it is not known.
func (s Shape) Rank() int {
	if !s.rankKnown {
		return -1
	}
	return len(s.dims)
}

// IsScalar returns whether the shape is known to be a scalar.
func (s Shape) IsScalar() bool { return s.rankKnown && len(s.dims) == 0 }

// Dims returns a copy of the dimensions, or nil if the rank is not known.
func (s Shape) Dims() []Dim {
	if !s.rankKnown {
		return nil
	}
	return slices.Clone(s.dims)
}

// Dim returns the dimension of the given axis. Negative axes count from the end.
//
// It panics if the rank is unknown or the axis is out of range: use NormalizeAxis first for
// user provided axes.
func (s Shape) Dim(axis int) Dim {
	adjusted, err := s.NormalizeAxis(axis)
	if err != nil {
		panic(err)
	}
	return s.dims[adjusted]
}

// WithDim returns a copy of the shape with the dimension at axis replaced.
func (s Shape) WithDim(axis int, d Dim) Shape {
	adjusted, err := s.NormalizeAxis(axis)
	if err != nil {
		panic(err)
	}
	clone := s.Clone()
	clone.dims[adjusted] = d
	return clone
}

// DeclareRank fixes the rank of the shape in place.
//
// If the rank is already known and different from rank it returns a *RankError and the shape is not
// changed. If the rank was unknown, it becomes rank Unknown dimensions.
func (s *Shape) DeclareRank(rank int) error {
	if rank < 0 {
		exceptions.Panicf("Shape.DeclareRank(%d): rank must be >= 0", rank)
	}
	if s.rankKnown {
		if len(s.dims) != rank {
			return NewRankError(rank, len(s.dims), "conflicting rank declaration for shape %s", s)
		}
		return nil
	}
	s.dims = make([]Dim, rank)
	s.rankKnown = true
	return nil
}

// NormalizeAxis resolves a possibly negative axis against the declared rank.
//
// It returns a *RankError if the rank is unknown and an *AxisError if axis is not in [-rank, rank).
func (s Shape) NormalizeAxis(axis int) (int, error) {
	if !s.rankKnown {
		return 0, NewRankError(-1, -1, "cannot normalize axis %d of a shape with unknown rank", axis)
	}
	return AdjustAxisToRank(axis, len(s.dims))
}

// AdjustAxisToRank resolves a possibly negative axis against rank.
// It returns an *AxisError if axis is not in [-rank, rank).
func AdjustAxisToRank(axis, rank int) (int, error) {
	if axis < -rank || axis >= rank {
		return 0, NewAxisError(axis, rank, "axis out of range for rank %d", rank)
	}
	if axis < 0 {
		axis += rank
	}
	return axis, nil
}

// Clone returns a deep copy of the shape.
func (s Shape) Clone() Shape {
	return Shape{dims: slices.Clone(s.dims), rankKnown: s.rankKnown}
}

// Equal returns whether both shapes hold exactly the same knowledge.
func (s Shape) Equal(other Shape) bool {
	return s.rankKnown == other.rankKnown && slices.Equal(s.dims, other.dims)
}

// Size returns the number of elements of the shape, Unknown if the rank is unknown.
func (s Shape) Size() Dim {
	if !s.rankKnown {
		return Unknown()
	}
	return Product(s.dims...)
}

// Concrete returns the concrete dimensions if the rank and all dimensions are known.
func (s Shape) Concrete() ([]int, bool) {
	if !s.rankKnown {
		return nil, false
	}
	sizes := make([]int, len(s.dims))
	for ii, d := range s.dims {
		n, ok := d.Int()
		if !ok {
			return nil, false
		}
		sizes[ii] = n
	}
	return sizes, true
}

// IsConcrete returns whether the rank and all dimensions are known.
func (s Shape) IsConcrete() bool {
	_, ok := s.Concrete()
	return ok
}

// String implements fmt.Stringer, e.g. "[batch, 3, ?]" or "[*]" for unknown rank.
func (s Shape) String() string {
	if !s.rankKnown {
		return "[*]"
	}
	parts := make([]string, len(s.dims))
	for ii, d := range s.dims {
		parts[ii] = d.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Merge combines two shapes believed to describe the same tensor, taking the most informative
// dimension of each axis (see MaxDefined).
//
// Different known ranks return a *RankError, and conflicting dimensions a *ShapeError.
func (s Shape) Merge(other Shape) (Shape, error) {
	if !s.rankKnown {
		return other.Clone(), nil
	}
	if !other.rankKnown {
		return s.Clone(), nil
	}
	if len(s.dims) != len(other.dims) {
		return Shape{}, NewRankError(len(s.dims), len(other.dims), "cannot merge shapes %s and %s", s, other)
	}
	merged := UnknownDims(len(s.dims))
	for axis := range s.dims {
		d, err := MaxDefined(s.dims[axis], other.dims[axis])
		if err != nil {
			shapeErr := err.(*ShapeError)
			shapeErr.Axis = axis
			return Shape{}, shapeErr
		}
		merged.dims[axis] = d
	}
	return merged, nil
}

// BroadcastShapes returns the numpy broadcast of all shapes: ranks are aligned to the right, padding the
// shorter shapes with 1s on the left.
//
// Each axis is resolved over all operands at once, so the result doesn't depend on their order: any two
// different concrete sizes other than 1 are a *ShapeError. Otherwise the axis is the dimension shared by
// all operands not equal to Value(1) if they are identical, and Unknown if they are not.
//
// If any rank is unknown, the result has unknown rank (still checking compatibility of the known ones).
func BroadcastShapes(shapes ...Shape) (Shape, error) {
	rank := 0
	allKnown := true
	for _, s := range shapes {
		if !s.rankKnown {
			allKnown = false
			continue
		}
		rank = max(rank, len(s.dims))
	}
	result := UnknownDims(rank)
	for axis := range result.dims {
		d, err := broadcastAxis(shapes, rank, axis)
		if err != nil {
			return Shape{}, err
		}
		result.dims[axis] = d
	}
	if !allKnown {
		return UnknownShape(), nil
	}
	return result, nil
}

// broadcastAxis broadcasts the dimensions of axis (counted on the aligned rank) of all shapes of known rank.
func broadcastAxis(shapes []Shape, rank, axis int) (Dim, error) {
	var concrete, other Dim
	hasConcrete, hasOther, mixed := false, false, false
	for _, s := range shapes {
		if !s.rankKnown {
			continue
		}
		offset := rank - len(s.dims)
		if axis < offset {
			continue
		}
		d := s.dims[axis-offset]
		switch {
		case d.IsValueOf(1):
		case d.IsValue():
			if hasConcrete && d != concrete {
				return Dim{}, NewShapeError(axis, concrete, d, "dimensions cannot be broadcast")
			}
			concrete, hasConcrete = d, true
		default:
			if hasOther && d != other || d.IsUnknown() {
				mixed = true
			}
			other, hasOther = d, true
		}
	}
	switch {
	case hasConcrete && hasOther:
		return Unknown(), nil
	case hasConcrete:
		return concrete, nil
	case hasOther && !mixed:
		return other, nil
	case hasOther:
		return Unknown(), nil
	}
	return Value(1), nil
}
