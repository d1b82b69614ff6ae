package ops

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/onnx-builder/partial"
	"github.com/gomlx/onnx-builder/symbolic"
)

func spatialOps() []*Contract {
	return []*Contract{
		{Name: "MaxPool", Arity: Fixed(1), OutputsFn: numOutputsAttr(1), Infer: inferPool},
		{Name: "AveragePool", Arity: Fixed(1), Outputs: 1, Infer: inferPool},
		{Name: "LpPool", Arity: Fixed(1), Outputs: 1, Infer: inferPool},
		{Name: "GlobalAveragePool", Arity: Fixed(1), Outputs: 1, Infer: inferGlobalPool},
		{Name: "GlobalMaxPool", Arity: Fixed(1), Outputs: 1, Infer: inferGlobalPool},
		{Name: "GlobalLpPool", Arity: Fixed(1), Outputs: 1, Infer: inferGlobalPool},
		{Name: "Resize", Arity: Optional(1, 4), Outputs: 1, Infer: inferResize},
		{Name: "DepthToSpace", Arity: Fixed(1), Outputs: 1, Infer: inferDepthToSpace},
		{Name: "SpaceToDepth", Arity: Fixed(1), Outputs: 1, Infer: inferSpaceToDepth},
		{Name: "Pad", Arity: Optional(1, 4), Outputs: 1, Infer: inferPad},
		{Name: "Einsum", Arity: Variadic(1), Outputs: 1, Infer: inferEinsum},
	}
}

func inferPool(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	x := inputs[0]
	numOutputs := 1
	if ctx.Op == "MaxPool" {
		numOutputs = checkNumOutputs(ctx, 1, 2)
	}
	kernel := ctx.Attrs.Ints("kernel_shape")
	rank := x.Rank()
	if rank < 0 {
		rank = len(kernel) + 2
	}
	shape := requireRank(x, 0, rank)
	if rank < 3 {
		at(symbolic.NewRankError(3, rank, "%s input must be [batch, channels, spatial...]", ctx.Op), 0)
	}
	dims := shape.Dims()
	attrs := readWindowAttrs(ctx, rank-2, nil)
	outShape := symbolic.MakeShape(append(dims[:2:2], attrs.outputDims(dims[2:])...)...)
	outputs := []*partial.Tensor{partial.New(x.DType, outShape)}
	if numOutputs == 2 {
		outputs = append(outputs, partial.New(dtypes.Int64, outShape))
	}
	return outputs
}

func inferGlobalPool(_ *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	x := inputs[0]
	requireMinRank(x, 0, 3)
	if x.Rank() < 0 {
		return single(partial.New(x.DType, symbolic.UnknownShape()))
	}
	dims := x.Shape.Dims()
	for ii := 2; ii < len(dims); ii++ {
		dims[ii] = symbolic.Value(1)
	}
	return single(partial.New(x.DType, symbolic.MakeShape(dims...)))
}

func inferResize(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	x := inputs[0]
	scales, sizes := optionalInput(inputs, 2), optionalInput(inputs, 3)
	rank := x.Rank()
	switch {
	case sizes != nil:
		target := shapeFromTensor(sizes, 3)
		if rank >= 0 && target.HasRank() && target.Rank() != rank && !ctx.Attrs.Has("axes") {
			at(symbolic.NewRankError(rank, target.Rank(), "Resize sizes must have one value per axis"), 3)
		}
		if ctx.Attrs.Has("axes") && rank >= 0 {
			// Sizes only for the given axes.
			dims := x.Shape.Dims()
			for ii, axis := range normalizeAxes(ctx.Attrs.Ints("axes"), rank, 0) {
				dims[axis] = symbolic.Unknown()
				if target.HasRank() && ii < target.Rank() {
					dims[axis] = target.Dim(ii)
				}
			}
			return single(partial.New(x.DType, symbolic.MakeShape(dims...)))
		}
		if !target.HasRank() && rank >= 0 {
			target = symbolic.UnknownDims(rank)
		}
		return single(partial.New(x.DType, target))
	case scales != nil:
		requireDType(scales, 2, "float scales", isFloat)
		requireRank(scales, 2, 1)
		if rank < 0 {
			return single(partial.New(x.DType, symbolic.UnknownShape()))
		}
		axes := ctx.Attrs.IntsOr("axes", nil)
		if axes == nil {
			axes = make([]int, rank)
			for ii := range axes {
				axes[ii] = ii
			}
		}
		axes = normalizeAxes(axes, rank, 0)
		if n, ok := lengthOf(scales); ok && n != len(axes) {
			at(symbolic.NewRankError(len(axes), n, "Resize scales must have one value per resized axis"), 2)
		}
		elements, known := scales.Elements()
		dims := x.Shape.Dims()
		for ii, axis := range axes {
			dims[axis] = symbolic.Unknown()
			if !known {
				continue
			}
			if scale, ok := elements[ii].Float(); ok {
				dims[axis] = symbolic.ResizeDim(x.Shape.Dim(axis), scale)
			}
		}
		return single(partial.New(x.DType, symbolic.MakeShape(dims...)))
	}
	at(&ArityError{What: "scales or sizes", Want: "1", Got: 0, Extra: "Resize requires either scales or sizes"}, 2)
	return nil
}

// blockDims returns the [batch, channels, height, width] dims of the input of DepthToSpace and SpaceToDepth.
func blockDims(ctx *InferContext, x *partial.Tensor) ([]symbolic.Dim, int) {
	shape := requireRank(x, 0, 4)
	blockSize := ctx.Attrs.Int("blocksize")
	if blockSize < 1 {
		at(symbolic.NewAxisError(blockSize, -1, "blocksize must be positive"), 0)
	}
	return shape.Dims(), blockSize
}

// exactDiv divides d by divisor, panicking with a located *symbolic.ShapeError if d is known not to be
// divisible by it.
func exactDiv(d symbolic.Dim, divisor, axis int) symbolic.Dim {
	if n, ok := d.Int(); ok && n%divisor != 0 {
		at(symbolic.NewShapeError(axis, d, symbolic.Value(divisor), "dimension not divisible by %d", divisor), 0)
	}
	q, err := symbolic.Div(d, symbolic.Value(divisor))
	at(err, 0)
	return q
}

func inferDepthToSpace(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	dims, b := blockDims(ctx, inputs[0])
	block := symbolic.Value(b)
	dims[1] = exactDiv(dims[1], b*b, 1)
	dims[2], dims[3] = symbolic.Mul(dims[2], block), symbolic.Mul(dims[3], block)
	return single(partial.New(inputs[0].DType, symbolic.MakeShape(dims...)))
}

func inferSpaceToDepth(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	dims, b := blockDims(ctx, inputs[0])
	dims[1] = symbolic.Mul(dims[1], symbolic.Value(b*b))
	dims[2], dims[3] = exactDiv(dims[2], b, 2), exactDiv(dims[3], b, 3)
	return single(partial.New(inputs[0].DType, symbolic.MakeShape(dims...)))
}

// padDim returns d padded by begin and end, which may be negative (cropping).
func padDim(d symbolic.Dim, begin, end symbolic.Element) symbolic.Dim {
	b, bOK := begin.Int()
	e, eOK := end.Int()
	if !bOK || !eOK {
		return symbolic.Unknown()
	}
	total := int(b + e)
	if total >= 0 {
		return symbolic.Add(d, symbolic.Value(total))
	}
	padded, err := symbolic.Sub(d, symbolic.Value(-total))
	at(err, 1)
	return padded
}

func inferPad(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	data := inputs[0]
	rank := data.Rank()
	var pads []symbolic.Element
	padsKnown := true
	if t := optionalInput(inputs, 1); t != nil {
		requireDType(t, 1, "Int64 pads", isIndex)
		requireRank(t, 1, 1)
		pads, padsKnown = t.Elements()
	} else {
		for _, p := range ctx.Attrs.Ints("pads") {
			pads = append(pads, symbolic.IntElement(int64(p)))
		}
	}
	if value := optionalInput(inputs, 2); value != nil {
		requireScalar(value, 2)
		commonDType(ctx, data, nil, value)
	}
	if rank < 0 {
		return single(partial.New(data.DType, symbolic.UnknownShape()))
	}
	axes := make([]int, rank)
	for ii := range axes {
		axes[ii] = ii
	}
	if t := optionalInput(inputs, 3); t != nil {
		values, ok := intsOf(t)
		if !ok {
			return single(partial.New(data.DType, symbolic.UnknownDims(rank)))
		}
		axes = normalizeAxes(values, rank, 3)
	}
	if !padsKnown {
		dims := data.Shape.Dims()
		for _, axis := range axes {
			dims[axis] = symbolic.Unknown()
		}
		return single(partial.New(data.DType, symbolic.MakeShape(dims...)))
	}
	if len(pads) != 2*len(axes) {
		at(symbolic.NewRankError(2*len(axes), len(pads), "Pad needs a begin and an end pad per axis"), 1)
	}
	dims := data.Shape.Dims()
	for ii, axis := range axes {
		dims[axis] = padDim(dims[axis], pads[ii], pads[ii+len(axes)])
	}
	output := partial.New(data.DType, symbolic.MakeShape(dims...))

	// Constant padding of a tracked 1-D tensor.
	elements, tracked := data.Elements()
	n, nOK := dims[0].Int()
	if !tracked || rank != 1 || !nOK || n > ctx.ElementCap || ctx.Attrs.StringOr("mode", "constant") != "constant" {
		return single(output)
	}
	begin, _ := pads[0].Int()
	fill := symbolic.Cast(symbolic.IntElement(0), data.DType)
	if value := optionalInput(inputs, 2); value != nil {
		fill = symbolic.Cast(value.Element(0), data.DType)
	}
	padded := make([]symbolic.Element, n)
	for ii := range padded {
		src := ii - int(begin)
		if src >= 0 && src < len(elements) {
			padded[ii] = elements[src]
		} else {
			padded[ii] = fill
		}
	}
	return single(withElements(ctx, output, padded))
}

const einsumEllipsis = "..."

// parseEinsum splits an equation like "ij,jk->ik" in the labels of its inputs and output. The implicit
// output (no "->") is formed by the labels appearing exactly once, in alphabetical order.
func parseEinsum(equation string) (inputLabels []string, outputLabels string) {
	equation = strings.ReplaceAll(equation, " ", "")
	lhs, rhs, explicit := strings.Cut(equation, "->")
	inputLabels = strings.Split(lhs, ",")
	if explicit {
		return inputLabels, rhs
	}
	counts := make(map[rune]int)
	for _, term := range inputLabels {
		for _, label := range strings.ReplaceAll(term, einsumEllipsis, "") {
			counts[label]++
		}
	}
	var once []rune
	for label, count := range counts {
		if count == 1 {
			once = append(once, label)
		}
	}
	slices.Sort(once)
	if strings.Contains(lhs, einsumEllipsis) {
		return inputLabels, einsumEllipsis + string(once)
	}
	return inputLabels, string(once)
}

func inferEinsum(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	dtype := commonDType(ctx, inputs...)
	inputLabels, outputLabels := parseEinsum(ctx.Attrs.String("equation"))
	if len(inputLabels) != len(inputs) {
		at(&ArityError{What: "inputs", Want: "one per equation term", Got: len(inputs),
			Extra: fmt.Sprintf("equation has %d terms", len(inputLabels))}, symbolic.NoInput)
	}
	labelDims := make(map[rune]symbolic.Dim)
	hasEllipsis := false
	for ii, term := range inputLabels {
		if strings.Contains(term, einsumEllipsis) {
			hasEllipsis = true
			requireMinRank(inputs[ii], ii, len(term)-len(einsumEllipsis))
			continue
		}
		shape := requireRank(inputs[ii], ii, len(term))
		for axis, label := range []rune(term) {
			d := shape.Dim(axis)
			if previous, found := labelDims[label]; found {
				d = mergeDims(previous, d, ii, axis)
			}
			labelDims[label] = d
		}
	}
	if hasEllipsis {
		return single(partial.New(dtype, symbolic.UnknownShape()))
	}
	dims := make([]symbolic.Dim, 0, len(outputLabels))
	for axis, label := range []rune(outputLabels) {
		d, found := labelDims[label]
		if !found {
			at(symbolic.NewAxisError(axis, -1, "Einsum output label %q not in any input", label), symbolic.NoInput)
		}
		dims = append(dims, d)
	}
	return single(partial.New(dtype, symbolic.MakeShape(dims...)))
}
