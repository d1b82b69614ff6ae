package ops

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/onnx-builder/partial"
	"github.com/gomlx/onnx-builder/symbolic"
	"github.com/janpfeifer/must"
)

// This file holds the inference helpers shared by the operator catalogue.
// They panic on errors, as inference functions do, locating the errors at the offending input.

// at panics with err located at input, if err is not nil.
func at(err error, input int) {
	if err != nil {
		panic(symbolic.Locate(err, "", input))
	}
}

// optionalInput returns inputs[i], or nil if it is absent.
func optionalInput(inputs []*partial.Tensor, i int) *partial.Tensor {
	if i >= len(inputs) {
		return nil
	}
	return inputs[i]
}

// single wraps one output.
func single(t *partial.Tensor) []*partial.Tensor { return []*partial.Tensor{t} }

// withElements attaches elements to t if possible. Elements that conflict with the shape panic.
func withElements(ctx *InferContext, t *partial.Tensor, elements []symbolic.Element) *partial.Tensor {
	if elements == nil {
		return t
	}
	return must.M1(t.WithElements(elements, ctx.ElementCap))
}

// commonDType returns the common dtype of the given (non-absent) inputs, promoting if configured.
func commonDType(ctx *InferContext, inputs ...*partial.Tensor) dtypes.DType {
	var dts []dtypes.DType
	var positions []int
	for ii, t := range inputs {
		if t != nil {
			dts = append(dts, t.DType)
			positions = append(positions, ii)
		}
	}
	dtype, err := partial.PromoteDTypes(ctx.Promotion, dts...)
	if err != nil {
		typeErr := err.(*symbolic.TypeError)
		typeErr.Input = positions[typeErr.Input]
		panic(typeErr)
	}
	return dtype
}

// requireDType panics with a *symbolic.TypeError if input doesn't satisfy accept.
func requireDType(t *partial.Tensor, input int, description string, accept func(dtypes.DType) bool) {
	if !accept(t.DType) {
		err := symbolic.NewTypeError(dtypes.InvalidDType, t.DType, "expected %s", description)
		at(err, input)
	}
}

func isFloat(dtype dtypes.DType) bool   { return dtype.IsFloat() }
func isInteger(dtype dtypes.DType) bool { return dtype.IsInt() }
func isBool(dtype dtypes.DType) bool    { return dtype == dtypes.Bool }
func isIndex(dtype dtypes.DType) bool   { return dtype == dtypes.Int64 || dtype == dtypes.Int32 }

// broadcastInputs returns the numpy broadcast of the shapes of all (non-absent) inputs.
//
// On a mismatch, the error is located at the first input that makes the broadcast fail.
func broadcastInputs(inputs ...*partial.Tensor) symbolic.Shape {
	var shapes []symbolic.Shape
	var positions []int
	for ii, t := range inputs {
		if t != nil {
			shapes = append(shapes, t.Shape)
			positions = append(positions, ii)
		}
	}
	result, err := symbolic.BroadcastShapes(shapes...)
	if err != nil {
		for n := 2; n <= len(shapes); n++ {
			if _, prefixErr := symbolic.BroadcastShapes(shapes[:n]...); prefixErr != nil {
				at(prefixErr, positions[n-1])
			}
		}
		at(err, symbolic.NoInput)
	}
	return result
}

// requireRank panics with a *symbolic.RankError if the rank of input is known and different from rank.
// If the rank is unknown, it is declared.
func requireRank(t *partial.Tensor, input, rank int) symbolic.Shape {
	shape := t.Shape.Clone()
	at(shape.DeclareRank(rank), input)
	return shape
}

// requireMinRank panics with a *symbolic.RankError if the rank of input is known and smaller than rank.
func requireMinRank(t *partial.Tensor, input, rank int) {
	if r := t.Rank(); r >= 0 && r < rank {
		at(symbolic.NewRankError(rank, r, "rank must be at least %d", rank), input)
	}
}

// mergeDims returns MaxDefined(a, b), panicking with a located *symbolic.ShapeError.
func mergeDims(a, b symbolic.Dim, input, axis int) symbolic.Dim {
	d, err := symbolic.MaxDefined(a, b)
	if err != nil {
		err.(*symbolic.ShapeError).Axis = axis
		at(err, input)
	}
	return d
}

// normalizeAxis normalizes axis against rank, panicking with a located *symbolic.AxisError.
func normalizeAxis(axis, rank, input int) int {
	adjusted, err := symbolic.AdjustAxisToRank(axis, rank)
	at(err, input)
	return adjusted
}

// normalizeAxes normalizes and checks a list of axes for uniqueness.
func normalizeAxes(axes []int, rank, input int) []int {
	seen := make([]bool, rank)
	normalized := make([]int, len(axes))
	for ii, axis := range axes {
		adjusted := normalizeAxis(axis, rank, input)
		if seen[adjusted] {
			at(symbolic.NewAxisError(axis, rank, "repeated axis"), input)
		}
		seen[adjusted] = true
		normalized[ii] = adjusted
	}
	return normalized
}

// intsOf returns the concrete integer elements of an input, if available.
func intsOf(t *partial.Tensor) ([]int, bool) {
	if t == nil {
		return nil, false
	}
	values, ok := t.Ints()
	if !ok {
		return nil, false
	}
	ints := make([]int, len(values))
	for ii, v := range values {
		ints[ii] = int(v)
	}
	return ints, true
}

// axesFrom returns the axes of an operator that takes them either as an attribute (older versions of
// operators) or as an optional input. It returns ok=false if the axes are given as an input whose
// values are not known. Absent axes return (nil, true).
func axesFrom(ctx *InferContext, inputs []*partial.Tensor, inputIdx int) (axes []int, ok bool) {
	if t := optionalInput(inputs, inputIdx); t != nil {
		requireDType(t, inputIdx, "integer axes", isInteger)
		return intsOf(t)
	}
	return ctx.Attrs.IntsOr("axes", nil), true
}

// lengthOf returns the number of elements of a 1-D input, if known.
func lengthOf(t *partial.Tensor) (int, bool) {
	if t == nil || t.Rank() != 1 {
		return 0, false
	}
	return t.Shape.Dim(0).Int()
}

// shapeFromTensor converts a 1-D integer tensor holding a shape to a symbolic.Shape: each element becomes
// a dimension. If the elements are not tracked but the length is known, all dimensions are Unknown.
func shapeFromTensor(t *partial.Tensor, input int) symbolic.Shape {
	requireDType(t, input, "an integer shape", isInteger)
	shape := requireRank(t, input, 1)
	if elements, ok := t.Elements(); ok {
		dims := make([]symbolic.Dim, len(elements))
		for ii, e := range elements {
			d, err := symbolic.ElementToDim(e)
			at(err, input)
			dims[ii] = d
		}
		return symbolic.MakeShape(dims...)
	}
	if n, ok := shape.Dim(0).Int(); ok {
		return symbolic.UnknownDims(n)
	}
	return symbolic.UnknownShape()
}

// mapElements computes the elements of an elementwise operation with output shape outShape: each output
// element is fn applied to the broadcast elements of the inputs.
//
// It returns nil if the output is larger than the cap, not of rank <= 1, or if none of the inputs has
// tracked elements.
func mapElements(ctx *InferContext, outShape symbolic.Shape, inputs []*partial.Tensor,
	fn func(args []symbolic.Element) (symbolic.Element, error)) []symbolic.Element {
	if outShape.Rank() < 0 || outShape.Rank() > 1 {
		return nil
	}
	n, ok := outShape.Size().Int()
	if !ok || n > ctx.ElementCap {
		return nil
	}
	anyTracked := false
	operands := make([][]symbolic.Element, len(inputs))
	for ii, t := range inputs {
		if t == nil {
			continue
		}
		anyTracked = anyTracked || t.HasElements()
		elements, ok := t.ElementsOrUnknown(ctx.ElementCap)
		if !ok || (len(elements) != 1 && len(elements) != n) {
			return nil
		}
		operands[ii] = elements
	}
	if !anyTracked {
		return nil
	}
	result := make([]symbolic.Element, n)
	args := make([]symbolic.Element, len(inputs))
	for i := range n {
		for ii, elements := range operands {
			if elements == nil {
				args[ii] = symbolic.UnknownElement()
				continue
			}
			args[ii] = partial.ElementAt(elements, i)
		}
		e, err := fn(args)
		if err != nil {
			panic(err)
		}
		result[i] = e
	}
	return result
}

// sameShape returns a tensor with the same shape as t and the given dtype.
func sameShape(t *partial.Tensor, dtype dtypes.DType) *partial.Tensor {
	return partial.New(dtype, t.Shape)
}

// numOutputsAttr returns the number of outputs given by the "num_outputs" attribute, or defaultValue.
func numOutputsAttr(defaultValue int) func(Attributes) int {
	return func(attrs Attributes) int {
		return attrs.IntOr("num_outputs", defaultValue)
	}
}

// checkNumOutputs panics with an *ArityError if the "num_outputs" attribute is not in [1, maxOutputs].
func checkNumOutputs(ctx *InferContext, defaultValue, maxOutputs int) int {
	n := ctx.Attrs.IntOr("num_outputs", defaultValue)
	if n < 1 || n > maxOutputs {
		at(&ArityError{What: "outputs", Want: Optional(1, maxOutputs).String(), Got: n}, symbolic.NoInput)
	}
	return n
}
