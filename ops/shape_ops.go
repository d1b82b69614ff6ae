package ops

import (
	"fmt"
	"slices"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/onnx-builder/partial"
	"github.com/gomlx/onnx-builder/symbolic"
)

func shapeOps() []*Contract {
	return []*Contract{
		{Name: "Shape", Arity: Fixed(1), Outputs: 1, Infer: inferShape},
		{Name: "Size", Arity: Fixed(1), Outputs: 1, Infer: inferSize},
		{Name: "Reshape", Arity: Fixed(2), Outputs: 1, Infer: inferReshape},
		{Name: "Flatten", Arity: Fixed(1), Outputs: 1, Infer: inferFlatten},
		{Name: "Squeeze", Arity: Optional(1, 2), Outputs: 1, Infer: inferSqueeze},
		{Name: "Unsqueeze", Arity: Optional(1, 2), Outputs: 1, Infer: inferUnsqueeze},
		{Name: "Transpose", Arity: Fixed(1), Outputs: 1, Infer: inferTranspose},
		{Name: "Concat", Arity: Variadic(1), Outputs: 1, Infer: inferConcat},
		{Name: "Split", Arity: Optional(1, 2), OutputsFn: splitOutputs, Infer: inferSplit},
		{Name: "Expand", Arity: Fixed(2), Outputs: 1, Infer: inferExpand},
		{Name: "Tile", Arity: Fixed(2), Outputs: 1, Infer: inferTile},
		{Name: "Cast", Arity: Fixed(1), Outputs: 1, Infer: inferCast},
		{Name: "CastLike", Arity: Fixed(2), Outputs: 1, Infer: inferCast},
		{Name: "Trilu", Arity: Optional(1, 2), Outputs: 1, Infer: inferTrilu},
	}
}

// carryElements attaches the elements of source to output, if output is of rank <= 1 and has the same
// number of elements.
func carryElements(ctx *InferContext, output, source *partial.Tensor) *partial.Tensor {
	if output.Rank() < 0 || output.Rank() > 1 || !source.HasElements() {
		return output
	}
	elements, _ := source.Elements()
	if n, ok := output.Shape.Size().Int(); ok && n != len(elements) {
		return output
	}
	return withElements(ctx, output, elements)
}

// clampIndex clamps index to [0, size], with negative values counting from size.
func clampIndex(index, size int) int {
	if index < 0 {
		index += size
	}
	return min(max(index, 0), size)
}

func inferShape(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	x := inputs[0]
	rank := x.Rank()
	if rank < 0 {
		return single(partial.New(dtypes.Int64, symbolic.MakeShape(symbolic.Unknown())))
	}
	start := clampIndex(ctx.Attrs.IntOr("start", 0), rank)
	end := rank
	if ctx.Attrs.Has("end") {
		end = clampIndex(ctx.Attrs.Int("end"), rank)
	}
	end = max(start, end)
	elements := make([]symbolic.Element, 0, end-start)
	for _, d := range x.Shape.Dims()[start:end] {
		elements = append(elements, symbolic.DimToElement(d))
	}
	output := partial.New(dtypes.Int64, symbolic.MakeShape(symbolic.Value(len(elements))))
	return single(withElements(ctx, output, elements))
}

func inferSize(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	x := inputs[0]
	output := partial.New(dtypes.Int64, symbolic.ScalarShape())
	if x.Rank() < 0 {
		return single(output)
	}
	return single(withElements(ctx, output, []symbolic.Element{symbolic.DimToElement(x.Shape.Size())}))
}

// dimQuotient returns the symbolic quotient of the product of numerators by the product of denominators:
// named parameters present on both sides cancel out. It returns Unknown if the quotient can't be expressed
// as a single dimension.
func dimQuotient(numerators, denominators []symbolic.Dim) (symbolic.Dim, error) {
	params := make(map[string]int)
	numValue, denValue := 1, 1
	for _, d := range numerators {
		switch d.Kind() {
		case symbolic.KindUnknown:
			return symbolic.Unknown(), nil
		case symbolic.KindParam:
			params[d.Name()]++
		default:
			v, _ := d.Int()
			numValue *= v
		}
	}
	for _, d := range denominators {
		switch d.Kind() {
		case symbolic.KindUnknown:
			return symbolic.Unknown(), nil
		case symbolic.KindParam:
			params[d.Name()]--
		default:
			v, _ := d.Int()
			denValue *= v
		}
	}
	var leftover []string
	for name, count := range params {
		if count < 0 {
			return symbolic.Unknown(), nil
		}
		for range count {
			leftover = append(leftover, name)
		}
	}
	if denValue == 0 {
		return symbolic.Unknown(), nil
	}
	if numValue%denValue != 0 {
		if len(leftover) == 0 {
			return symbolic.Unknown(), symbolic.NewShapeError(-1, symbolic.Value(numValue),
				symbolic.Value(denValue), "size %d is not divisible by %d", numValue, denValue)
		}
		return symbolic.Unknown(), nil
	}
	quotient := numValue / denValue
	switch {
	case len(leftover) == 0:
		return symbolic.Value(quotient), nil
	case len(leftover) == 1 && quotient == 1:
		return symbolic.Param(leftover[0]), nil
	}
	return symbolic.Unknown(), nil
}

func inferReshape(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	data, target := inputs[0], inputs[1]
	requireDType(target, 1, "an integer shape", isInteger)
	targetShape := requireRank(target, 1, 1)
	allowZero := ctx.Attrs.BoolOr("allowzero", false)
	elements, ok := target.Elements()
	if !ok {
		if n, ok := targetShape.Dim(0).Int(); ok {
			return single(carryElements(ctx, partial.New(data.DType, symbolic.UnknownDims(n)), data))
		}
		return single(partial.New(data.DType, symbolic.UnknownShape()))
	}

	dims := make([]symbolic.Dim, len(elements))
	inferredAxis := -1
	for axis, e := range elements {
		v, isInt := e.Int()
		switch {
		case !e.IsValue():
			d, err := symbolic.ElementToDim(e)
			at(err, 1)
			dims[axis] = d
		case !isInt:
			at(symbolic.NewTypeError(dtypes.Int64, target.DType, "Reshape target must hold integers"), 1)
		case v == -1:
			if inferredAxis >= 0 {
				at(symbolic.NewAxisError(axis, len(elements), "only one dimension can be -1 in Reshape, got also %d",
					inferredAxis), 1)
			}
			inferredAxis = axis
		case v == 0 && !allowZero:
			if data.Rank() < 0 {
				dims[axis] = symbolic.Unknown()
			} else if axis >= data.Rank() {
				at(symbolic.NewAxisError(axis, data.Rank(), "Reshape copies dimension %d (0 in target) out of range",
					axis), 1)
			} else {
				dims[axis] = data.Shape.Dim(axis)
			}
		case v < 0:
			at(symbolic.NewAxisError(int(v), len(elements), "invalid Reshape target dimension %d", v), 1)
		default:
			dims[axis] = symbolic.Value(int(v))
		}
	}

	if data.Rank() >= 0 {
		if inferredAxis >= 0 {
			others := slices.Concat(dims[:inferredAxis], dims[inferredAxis+1:])
			d, err := dimQuotient(data.Shape.Dims(), others)
			at(err, 1)
			dims[inferredAxis] = d
		} else {
			inSize, inOK := data.Shape.Size().Int()
			outSize, outOK := symbolic.Product(dims...).Int()
			if inOK && outOK && inSize != outSize {
				at(symbolic.NewShapeError(-1, symbolic.Value(inSize), symbolic.Value(outSize),
					"Reshape of %s to %s changes the number of elements", data.Shape, symbolic.MakeShape(dims...)), 1)
			}
		}
	} else if inferredAxis >= 0 {
		dims[inferredAxis] = symbolic.Unknown()
	}
	return single(carryElements(ctx, partial.New(data.DType, symbolic.MakeShape(dims...)), data))
}

func inferFlatten(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	x := inputs[0]
	rank := x.Rank()
	if rank < 0 {
		return single(partial.New(x.DType, symbolic.UnknownDims(2)))
	}
	axis := normalizeAxis(ctx.Attrs.IntOr("axis", 1), rank+1, 0)
	dims := x.Shape.Dims()
	outer, inner := symbolic.Product(dims[:axis]...), symbolic.Product(dims[axis:]...)
	return single(partial.New(x.DType, symbolic.MakeShape(outer, inner)))
}

func inferSqueeze(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	x := inputs[0]
	rank := x.Rank()
	axes, known := axesFrom(ctx, inputs, 1)
	switch {
	case !known:
		if n, ok := lengthOf(inputs[1]); ok && rank >= 0 {
			return single(partial.New(x.DType, symbolic.UnknownDims(max(rank-n, 0))))
		}
		return single(partial.New(x.DType, symbolic.UnknownShape()))
	case rank < 0:
		return single(partial.New(x.DType, symbolic.UnknownShape()))
	}
	dims := x.Shape.Dims()
	squeezed := make([]bool, rank)
	if len(axes) == 0 {
		for axis, d := range dims {
			if !d.IsValue() {
				// Can't tell whether this axis would be squeezed.
				return single(partial.New(x.DType, symbolic.UnknownShape()))
			}
			squeezed[axis] = d.IsValueOf(1)
		}
	} else {
		for _, axis := range normalizeAxes(axes, rank, 0) {
			if d := dims[axis]; d.IsValue() && !d.IsValueOf(1) {
				at(symbolic.NewShapeError(axis, d, symbolic.Value(1), "Squeeze of an axis not of size 1"), 0)
			}
			squeezed[axis] = true
		}
	}
	var outDims []symbolic.Dim
	for axis, d := range dims {
		if !squeezed[axis] {
			outDims = append(outDims, d)
		}
	}
	return single(carryElements(ctx, partial.New(x.DType, symbolic.MakeShape(outDims...)), x))
}

func inferUnsqueeze(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	x := inputs[0]
	rank := x.Rank()
	axes, known := axesFrom(ctx, inputs, 1)
	if !known {
		if n, ok := lengthOf(inputs[1]); ok && rank >= 0 {
			return single(partial.New(x.DType, symbolic.UnknownDims(rank+n)))
		}
		return single(partial.New(x.DType, symbolic.UnknownShape()))
	}
	if len(axes) == 0 {
		at(&ArityError{What: "axes", Want: "1 or more", Got: 0}, 1)
	}
	if rank < 0 {
		return single(partial.New(x.DType, symbolic.UnknownShape()))
	}
	outRank := rank + len(axes)
	inserted := make([]bool, outRank)
	for _, axis := range normalizeAxes(axes, outRank, 0) {
		inserted[axis] = true
	}
	dims := x.Shape.Dims()
	outDims := make([]symbolic.Dim, 0, outRank)
	for axis := range outRank {
		if inserted[axis] {
			outDims = append(outDims, symbolic.Value(1))
			continue
		}
		outDims = append(outDims, dims[0])
		dims = dims[1:]
	}
	return single(carryElements(ctx, partial.New(x.DType, symbolic.MakeShape(outDims...)), x))
}

func inferTranspose(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	x := inputs[0]
	rank := x.Rank()
	perm := ctx.Attrs.IntsOr("perm", nil)
	if rank < 0 {
		if perm != nil {
			return single(partial.New(x.DType, symbolic.UnknownDims(len(perm))))
		}
		return single(partial.New(x.DType, symbolic.UnknownShape()))
	}
	if perm == nil {
		perm = make([]int, rank)
		for ii := range perm {
			perm[ii] = rank - 1 - ii
		}
	}
	if len(perm) != rank {
		at(symbolic.NewRankError(len(perm), rank, "Transpose perm has %d axes", len(perm)), 0)
	}
	perm = normalizeAxes(perm, rank, 0)
	dims := make([]symbolic.Dim, rank)
	for ii, axis := range perm {
		dims[ii] = x.Shape.Dim(axis)
	}
	return single(carryElements(ctx, partial.New(x.DType, symbolic.MakeShape(dims...)), x))
}

func inferConcat(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	dtype := commonDType(ctx, inputs...)
	rank := -1
	for ii, t := range inputs {
		switch r := t.Rank(); {
		case r < 0:
		case rank < 0:
			rank = r
		case r != rank:
			at(symbolic.NewRankError(rank, r, "Concat inputs must have the same rank"), ii)
		}
	}
	if rank < 0 {
		return single(partial.New(dtype, symbolic.UnknownShape()))
	}
	if rank == 0 {
		at(symbolic.NewRankError(1, 0, "Concat of scalars"), 0)
	}
	axis := normalizeAxis(ctx.Attrs.Int("axis"), rank, 0)
	dims := symbolic.UnknownDims(rank).Dims()
	dims[axis] = symbolic.Value(0)
	for ii, t := range inputs {
		if t.Rank() < 0 {
			dims[axis] = symbolic.Unknown()
			continue
		}
		for a, d := range t.Shape.Dims() {
			if a == axis {
				dims[axis] = symbolic.Add(dims[axis], d)
				continue
			}
			dims[a] = mergeDims(dims[a], d, ii, a)
		}
	}
	output := partial.New(dtype, symbolic.MakeShape(dims...))
	if rank != 1 {
		return single(output)
	}

	// Concatenation of 1-D tensors: track the elements if any input has them.
	var elements []symbolic.Element
	anyTracked := false
	for _, t := range inputs {
		tElements, ok := t.ElementsOrUnknown(ctx.ElementCap)
		if !ok {
			return single(output)
		}
		anyTracked = anyTracked || t.HasElements()
		elements = append(elements, symbolic.CastAll(tElements, dtype)...)
	}
	if !anyTracked || len(elements) > ctx.ElementCap {
		return single(output)
	}
	return single(withElements(ctx, output, elements))
}

// splitOutputs returns the number of outputs of Split: given by the "num_outputs" attribute, or by the
// length of the "split" attribute. Split with the sizes given as an input requires "num_outputs".
func splitOutputs(attrs Attributes) int {
	if attrs.Has("num_outputs") {
		return attrs.Int("num_outputs")
	}
	if attrs.Has("split") {
		return len(attrs.Ints("split"))
	}
	return 1
}

func inferSplit(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	x := inputs[0]
	numOutputs := splitOutputs(ctx.Attrs)
	if numOutputs < 1 {
		at(&ArityError{What: "outputs", Want: "1 or more", Got: numOutputs}, symbolic.NoInput)
	}
	sizes, sizesKnown := ctx.Attrs.IntsOr("split", nil), true
	if t := optionalInput(inputs, 1); t != nil {
		requireDType(t, 1, "integer split sizes", isInteger)
		requireRank(t, 1, 1)
		if n, ok := lengthOf(t); ok && n != numOutputs {
			at(&ArityError{What: "split sizes", Want: fmt.Sprint(numOutputs), Got: n,
				Extra: "number of split sizes must match num_outputs"}, 1)
		}
		sizes, sizesKnown = intsOf(t)
	}
	if sizesKnown && sizes != nil && len(sizes) != numOutputs {
		at(&ArityError{What: `attribute "split"`, Want: fmt.Sprint(numOutputs), Got: len(sizes),
			Extra: "number of split sizes must match num_outputs"}, symbolic.NoInput)
	}

	outputs := make([]*partial.Tensor, numOutputs)
	rank := x.Rank()
	if rank < 0 {
		for ii := range outputs {
			outputs[ii] = partial.New(x.DType, symbolic.UnknownShape())
		}
		return outputs
	}
	axis := normalizeAxis(ctx.Attrs.IntOr("axis", 0), rank, 0)
	d := x.Shape.Dim(axis)
	splitDims := make([]symbolic.Dim, numOutputs)
	switch {
	case !sizesKnown:
		for ii := range splitDims {
			splitDims[ii] = symbolic.Unknown()
		}
	case sizes != nil:
		total := 0
		for ii, size := range sizes {
			if size < 0 {
				at(symbolic.NewAxisError(size, 0, "negative split size"), 1)
			}
			total += size
			splitDims[ii] = symbolic.Value(size)
		}
		if n, ok := d.Int(); ok && n != total {
			at(symbolic.NewShapeError(axis, d, symbolic.Value(total), "split sizes don't add up to the axis dimension"), 0)
		}
	case numOutputs == 1:
		splitDims[0] = d
	default:
		n, ok := d.Int()
		if !ok {
			for ii := range splitDims {
				splitDims[ii] = symbolic.Unknown()
			}
			break
		}
		chunk := (n + numOutputs - 1) / numOutputs
		last := n - chunk*(numOutputs-1)
		if last < 0 {
			at(symbolic.NewShapeError(axis, d, symbolic.Value(numOutputs), "can't split %d into %d outputs", n, numOutputs), 0)
		}
		for ii := range splitDims {
			splitDims[ii] = symbolic.Value(chunk)
		}
		splitDims[numOutputs-1] = symbolic.Value(last)
	}

	elements, tracked := x.Elements()
	offset := 0
	for ii, sd := range splitDims {
		output := partial.New(x.DType, x.Shape.WithDim(axis, sd))
		size, sizeKnown := sd.Int()
		if tracked && rank == 1 && sizeKnown && offset+size <= len(elements) {
			output = withElements(ctx, output, elements[offset:offset+size])
		}
		offset += size
		outputs[ii] = output
	}
	return outputs
}

func inferExpand(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	x := inputs[0]
	target := shapeFromTensor(inputs[1], 1)
	outShape, err := symbolic.BroadcastShapes(x.Shape, target)
	at(err, 1)
	output := partial.New(x.DType, outShape)
	elements := mapElements(ctx, outShape, inputs[:1], func(args []symbolic.Element) (symbolic.Element, error) {
		return args[0], nil
	})
	return single(withElements(ctx, output, elements))
}

func inferTile(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	x, repeatsT := inputs[0], inputs[1]
	requireDType(repeatsT, 1, "integer repeats", isInteger)
	requireRank(repeatsT, 1, 1)
	rank := x.Rank()
	if n, ok := lengthOf(repeatsT); ok && rank >= 0 && n != rank {
		at(symbolic.NewRankError(rank, n, "Tile repeats must have one value per axis"), 1)
	}
	if rank < 0 {
		if n, ok := lengthOf(repeatsT); ok {
			return single(partial.New(x.DType, symbolic.UnknownDims(n)))
		}
		return single(partial.New(x.DType, symbolic.UnknownShape()))
	}
	repeats := shapeFromTensor(repeatsT, 1)
	dims := x.Shape.Dims()
	for axis, d := range dims {
		r := symbolic.Unknown()
		if repeats.HasRank() {
			r = repeats.Dim(axis)
		}
		dims[axis] = symbolic.Mul(d, r)
	}
	output := partial.New(x.DType, symbolic.MakeShape(dims...))
	elements, ok := x.Elements()
	times, timesOK := repeats.Concrete()
	if !ok || rank != 1 || !timesOK || len(elements)*times[0] > ctx.ElementCap {
		return single(output)
	}
	var tiled []symbolic.Element
	for range times[0] {
		tiled = append(tiled, elements...)
	}
	return single(withElements(ctx, output, tiled))
}

func inferCast(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	x := inputs[0]
	var to dtypes.DType
	if ctx.Op == "CastLike" {
		to = inputs[1].DType
	} else {
		to = ctx.Attrs.DType("to")
	}
	output := sameShape(x, to)
	if elements, ok := x.Elements(); ok {
		output = withElements(ctx, output, symbolic.CastAll(elements, to))
	}
	return single(output)
}

func inferTrilu(_ *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	x := inputs[0]
	requireMinRank(x, 0, 2)
	if k := optionalInput(inputs, 1); k != nil {
		requireDType(k, 1, "an integer diagonal offset", isInteger)
		if r := k.Rank(); r > 0 {
			at(symbolic.NewRankError(0, r, "Trilu k must be a scalar"), 1)
		}
	}
	return single(sameShape(x, x.DType))
}
