package ops

import (
	"math"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/onnx-builder/partial"
	"github.com/gomlx/onnx-builder/symbolic"
)

func indexingOps() []*Contract {
	return []*Contract{
		{Name: "Gather", Arity: Fixed(2), Outputs: 1, Infer: inferGather},
		{Name: "GatherElements", Arity: Fixed(2), Outputs: 1, Infer: inferGatherElements},
		{Name: "GatherND", Arity: Fixed(2), Outputs: 1, Infer: inferGatherND},
		{Name: "ScatterElements", Arity: Fixed(3), Outputs: 1, Infer: inferScatter},
		{Name: "ScatterND", Arity: Fixed(3), Outputs: 1, Infer: inferScatter},
		{Name: "Slice", Arity: Optional(1, 5), Outputs: 1, Infer: inferSlice},
		{Name: "NonZero", Arity: Fixed(1), Outputs: 1, Infer: inferNonZero},
		{Name: "Compress", Arity: Fixed(2), Outputs: 1, Infer: inferCompress},
		{Name: "OneHot", Arity: Fixed(3), Outputs: 1, Infer: inferOneHot},
		{Name: "TopK", Arity: Fixed(2), Outputs: 2, Infer: inferTopK},
	}
}

func inferGather(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	data, indices := inputs[0], inputs[1]
	requireDType(indices, 1, "integer indices", isInteger)
	rank := data.Rank()
	if rank < 0 || indices.Rank() < 0 {
		return single(partial.New(data.DType, symbolic.UnknownShape()))
	}
	if rank == 0 {
		at(symbolic.NewRankError(1, 0, "Gather from a scalar"), 0)
	}
	axis := normalizeAxis(ctx.Attrs.IntOr("axis", 0), rank, 0)
	dims := data.Shape.Dims()
	axisDim := dims[axis]
	outDims := append(append(dims[:axis:axis], indices.Shape.Dims()...), dims[axis+1:]...)
	output := partial.New(data.DType, symbolic.MakeShape(outDims...))

	// Resolve (and validate) the indices against the gathered axis.
	indexElements, tracked := indices.Elements()
	if !tracked {
		return single(output)
	}
	resolved := make([]symbolic.Element, len(indexElements))
	for ii, index := range indexElements {
		normalized, err := symbolic.NormalizeIndex(index, axisDim)
		at(err, 1)
		resolved[ii] = normalized
	}
	if rank != 1 || output.Rank() > 1 {
		return single(output)
	}
	dataElements, ok := data.ElementsOrUnknown(ctx.ElementCap)
	if !ok || !data.HasElements() {
		return single(output)
	}
	gathered := make([]symbolic.Element, len(resolved))
	for ii, index := range resolved {
		if i, ok := index.Int(); ok {
			gathered[ii] = dataElements[i]
		}
	}
	return single(withElements(ctx, output, gathered))
}

func inferGatherElements(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	data, indices := inputs[0], inputs[1]
	requireDType(indices, 1, "integer indices", isInteger)
	rank := data.Rank()
	shape := indices.Shape.Clone()
	if rank >= 0 {
		at(shape.DeclareRank(rank), 1)
		normalizeAxis(ctx.Attrs.IntOr("axis", 0), rank, 0)
	}
	return single(partial.New(data.DType, shape))
}

func inferGatherND(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	data, indices := inputs[0], inputs[1]
	requireDType(indices, 1, "integer indices", isInteger)
	batchDims := ctx.Attrs.IntOr("batch_dims", 0)
	r, q := data.Rank(), indices.Rank()
	if r < 0 || q < 0 {
		return single(partial.New(data.DType, symbolic.UnknownShape()))
	}
	requireMinRank(data, 0, batchDims+1)
	requireMinRank(indices, 1, batchDims+1)
	k, ok := indices.Shape.Dim(q - 1).Int()
	if !ok {
		return single(partial.New(data.DType, symbolic.UnknownShape()))
	}
	if batchDims+k > r {
		at(symbolic.NewAxisError(k, r-batchDims+1, "GatherND index tuples longer than the data rank"), 1)
	}
	indexDims := indices.Shape.Dims()
	dataDims := data.Shape.Dims()
	for axis := range batchDims {
		indexDims[axis] = mergeDims(indexDims[axis], dataDims[axis], 1, axis)
	}
	outDims := append(indexDims[:q-1:q-1], dataDims[batchDims+k:]...)
	return single(partial.New(data.DType, symbolic.MakeShape(outDims...)))
}

func inferScatter(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	data, indices, updates := inputs[0], inputs[1], inputs[2]
	requireDType(indices, 1, "integer indices", isInteger)
	commonDType(ctx, data, nil, updates)
	if ctx.Op == "ScatterElements" {
		shape := indices.Shape.Clone()
		if data.Rank() >= 0 {
			at(shape.DeclareRank(data.Rank()), 1)
			normalizeAxis(ctx.Attrs.IntOr("axis", 0), data.Rank(), 0)
		}
		mergeShapes(shape, updates.Shape, 2)
	}
	return single(sameShape(data, data.DType))
}

// sliceEnd is the value of Slice's end at or above which the slice runs through the end of the axis.
const sliceEnd = math.MaxInt32

// sliceParam returns one of the starts, ends, axes or steps inputs of Slice (or its attribute in the older
// form of the operator) as elements, with its length (-1 if unknown) and whether its elements are known.
func sliceParam(ctx *InferContext, inputs []*partial.Tensor, input int, attr string) (elements []symbolic.Element,
	length int, known bool) {
	if len(inputs) == 1 {
		if !ctx.Attrs.Has(attr) {
			return nil, 0, true
		}
		values := ctx.Attrs.Ints(attr)
		elements = make([]symbolic.Element, len(values))
		for ii, v := range values {
			elements[ii] = symbolic.IntElement(int64(v))
		}
		return elements, len(values), true
	}
	t := optionalInput(inputs, input)
	if t == nil {
		return nil, 0, true
	}
	requireDType(t, input, "integer "+attr, isIndex)
	requireRank(t, input, 1)
	elements, known = t.Elements()
	if known {
		return elements, len(elements), true
	}
	if n, ok := lengthOf(t); ok {
		return nil, n, false
	}
	return nil, -1, false
}

// sliceDim returns the dimension of a sliced axis, and the concrete (start, step, length) if known.
func sliceDim(d symbolic.Dim, start, end, step symbolic.Element) (dim symbolic.Dim, first, stride, length int,
	concrete bool) {
	s, sOK := start.Int()
	e, eOK := end.Int()
	st, stOK := step.Int()
	if !sOK || !eOK || !stOK {
		return symbolic.Unknown(), 0, 0, 0, false
	}
	n, nOK := d.Int()
	if !nOK {
		if s == 0 && st == 1 && e >= sliceEnd {
			return d, 0, 0, 0, false
		}
		return symbolic.Unknown(), 0, 0, 0, false
	}
	if s < 0 {
		s += int64(n)
	}
	if e < 0 {
		e += int64(n)
	}
	if st > 0 {
		s = min(max(s, 0), int64(n))
		e = min(max(e, 0), int64(n))
		length = int(max(0, (e-s+st-1)/st))
	} else {
		s = min(max(s, 0), int64(n-1))
		e = min(max(e, -1), int64(n-1))
		length = int(max(0, (s-e-st-1)/-st))
	}
	return symbolic.Value(length), int(s), int(st), length, true
}

func inferSlice(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	data := inputs[0]
	rank := data.Rank()
	starts, numStarts, startsKnown := sliceParam(ctx, inputs, 1, "starts")
	ends, numEnds, endsKnown := sliceParam(ctx, inputs, 2, "ends")
	axes, numAxes, axesKnown := sliceParam(ctx, inputs, 3, "axes")
	steps, numSteps, stepsKnown := sliceParam(ctx, inputs, 4, "steps")
	if numStarts >= 0 && numEnds >= 0 && numStarts != numEnds {
		at(&ArityError{What: "ends", Want: "same length as starts", Got: numEnds}, 2)
	}
	if rank < 0 {
		return single(partial.New(data.DType, symbolic.UnknownShape()))
	}
	if !axesKnown || !startsKnown && numStarts < 0 {
		return single(partial.New(data.DType, symbolic.UnknownDims(rank)))
	}
	if axes == nil && numAxes == 0 {
		for axis := range numStarts {
			axes = append(axes, symbolic.IntElement(int64(axis)))
		}
	}
	for _, axis := range axes {
		if _, ok := axis.Int(); !ok {
			return single(partial.New(data.DType, symbolic.UnknownDims(rank)))
		}
	}
	if len(axes) != numStarts {
		at(&ArityError{What: "axes", Want: "same length as starts", Got: len(axes)}, 3)
	}
	if numSteps > 0 && numSteps != numStarts {
		at(&ArityError{What: "steps", Want: "same length as starts", Got: numSteps}, 4)
	}

	dims := data.Shape.Dims()
	sliced := make([]bool, rank)
	var first, stride, length int
	concrete := rank == 1
	for ii, axisElement := range axes {
		axis := normalizeAxis(int(symbolic.MustInt(axisElement)), rank, 3)
		if sliced[axis] {
			at(symbolic.NewAxisError(axis, rank, "repeated axis"), 3)
		}
		sliced[axis] = true
		start, end, step := symbolic.UnknownElement(), symbolic.UnknownElement(), symbolic.IntElement(1)
		if startsKnown {
			start = starts[ii]
		}
		if endsKnown {
			end = ends[ii]
		}
		if numSteps > 0 {
			step = symbolic.UnknownElement()
			if stepsKnown {
				step = steps[ii]
			}
		}
		if step.IsZero() {
			at(symbolic.NewAxisError(0, -1, "Slice step can't be 0"), 4)
		}
		var axisConcrete bool
		dims[axis], first, stride, length, axisConcrete = sliceDim(dims[axis], start, end, step)
		concrete = concrete && axisConcrete
	}
	output := partial.New(data.DType, symbolic.MakeShape(dims...))
	elements, tracked := data.Elements()
	if !tracked || !concrete || len(axes) != 1 {
		return single(output)
	}
	slicedElements := make([]symbolic.Element, length)
	for ii := range slicedElements {
		slicedElements[ii] = elements[first+ii*stride]
	}
	return single(withElements(ctx, output, slicedElements))
}

func inferNonZero(_ *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	x := inputs[0]
	rankDim := symbolic.Unknown()
	if x.Rank() >= 0 {
		rankDim = symbolic.Value(x.Rank())
	}
	count := symbolic.Unknown()
	if elements, ok := x.Elements(); ok {
		n := 0
		for _, e := range elements {
			if !e.IsValue() {
				n = -1
				break
			}
			if !e.IsZero() {
				n++
			}
		}
		if n >= 0 {
			count = symbolic.Value(n)
		}
	}
	return single(partial.New(dtypes.Int64, symbolic.MakeShape(rankDim, count)))
}

func inferCompress(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	data, condition := inputs[0], inputs[1]
	requireDType(condition, 1, "a boolean condition", isBool)
	requireRank(condition, 1, 1)
	count := symbolic.Unknown()
	conditionElements, conditionKnown := condition.Elements()
	var selected []int
	if conditionKnown {
		for ii, e := range conditionElements {
			b, ok := e.Bool()
			if !ok {
				conditionKnown = false
				break
			}
			if b {
				selected = append(selected, ii)
			}
		}
		if conditionKnown {
			count = symbolic.Value(len(selected))
		}
	}
	var outShape symbolic.Shape
	switch {
	case !ctx.Attrs.Has("axis"):
		outShape = symbolic.MakeShape(count)
	case data.Rank() < 0:
		outShape = symbolic.UnknownShape()
	default:
		axis := normalizeAxis(ctx.Attrs.Int("axis"), data.Rank(), 0)
		outShape = data.Shape.WithDim(axis, count)
	}
	output := partial.New(data.DType, outShape)
	elements, tracked := data.Elements()
	if !tracked || !conditionKnown || data.Rank() != 1 {
		return single(output)
	}
	compressed := make([]symbolic.Element, 0, len(selected))
	for _, ii := range selected {
		if ii < len(elements) {
			compressed = append(compressed, elements[ii])
		}
	}
	return single(withElements(ctx, output, compressed))
}

func inferOneHot(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	indices, depth, values := inputs[0], inputs[1], inputs[2]
	requireDType(indices, 0, "numeric indices", func(dtype dtypes.DType) bool { return dtype != dtypes.Bool })
	if r := depth.Rank(); r > 1 {
		at(symbolic.NewRankError(0, r, "OneHot depth must be a scalar"), 1)
	}
	valuesShape := requireRank(values, 2, 1)
	mergeDims(valuesShape.Dim(0), symbolic.Value(2), 2, 0)
	rank := indices.Rank()
	if rank < 0 {
		return single(partial.New(values.DType, symbolic.UnknownShape()))
	}
	depthDim := symbolic.Unknown()
	if depth.HasElements() {
		d, err := symbolic.ElementToDim(depth.Element(0))
		at(err, 1)
		depthDim = d
	}
	axis := normalizeAxis(ctx.Attrs.IntOr("axis", -1), rank+1, 0)
	dims := indices.Shape.Dims()
	dims = append(dims[:axis:axis], append([]symbolic.Dim{depthDim}, dims[axis:]...)...)
	return single(partial.New(values.DType, symbolic.MakeShape(dims...)))
}

func inferTopK(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	x, k := inputs[0], inputs[1]
	requireDType(k, 1, "an Int64 k", isIndex)
	requireRank(k, 1, 1)
	rank := x.Rank()
	if rank < 0 {
		return []*partial.Tensor{
			partial.New(x.DType, symbolic.UnknownShape()),
			partial.New(dtypes.Int64, symbolic.UnknownShape()),
		}
	}
	axis := normalizeAxis(ctx.Attrs.IntOr("axis", -1), rank, 0)
	kDim := symbolic.Unknown()
	if k.HasElements() {
		d, err := symbolic.ElementToDim(k.Element(0))
		at(err, 1)
		kDim = d
	}
	axisDim := x.Shape.Dim(axis)
	if kv, ok := kDim.Int(); ok {
		if n, ok := axisDim.Int(); ok && kv > n {
			at(symbolic.NewShapeError(axis, kDim, axisDim, "TopK k larger than the axis dimension"), 1)
		}
	}
	outShape := x.Shape.WithDim(axis, kDim)
	return []*partial.Tensor{partial.New(x.DType, outShape), partial.New(dtypes.Int64, outShape)}
}
