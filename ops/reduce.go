package ops

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/onnx-builder/partial"
	"github.com/gomlx/onnx-builder/symbolic"
)

// reductionFolds lists the reductions whose elements are folded when reducing a tracked 1-D tensor.
var reductionFolds = map[string]symbolic.BinaryOp{
	"ReduceSum":  symbolic.OpAdd,
	"ReduceProd": symbolic.OpMul,
	"ReduceMax":  symbolic.OpMax,
	"ReduceMin":  symbolic.OpMin,
}

func reduceOps() []*Contract {
	var contracts []*Contract
	for _, name := range []string{
		"ReduceSum", "ReduceProd", "ReduceMax", "ReduceMin", "ReduceMean", "ReduceL1", "ReduceL2",
		"ReduceLogSum", "ReduceLogSumExp", "ReduceSumSquare",
	} {
		contracts = append(contracts, &Contract{Name: name, Arity: Optional(1, 2), Outputs: 1, Infer: inferReduce})
	}
	contracts = append(contracts,
		&Contract{Name: "ArgMax", Arity: Fixed(1), Outputs: 1, Infer: inferArgReduce},
		&Contract{Name: "ArgMin", Arity: Fixed(1), Outputs: 1, Infer: inferArgReduce},
		&Contract{Name: "CumSum", Arity: Fixed(2), Outputs: 1, Infer: inferCumSum},
	)
	return contracts
}

// reducedShape returns the shape of x reduced over axes (already normalized).
func reducedShape(shape symbolic.Shape, axes []int, keepDims bool) symbolic.Shape {
	reduced := make([]bool, shape.Rank())
	for _, axis := range axes {
		reduced[axis] = true
	}
	var dims []symbolic.Dim
	for axis, d := range shape.Dims() {
		switch {
		case !reduced[axis]:
			dims = append(dims, d)
		case keepDims:
			dims = append(dims, symbolic.Value(1))
		}
	}
	return symbolic.MakeShape(dims...)
}

func inferReduce(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	x := inputs[0]
	keepDims := ctx.Attrs.BoolOr("keepdims", true)
	noopWithEmptyAxes := ctx.Attrs.BoolOr("noop_with_empty_axes", false)
	axes, known := axesFrom(ctx, inputs, 1)
	rank := x.Rank()
	if !known {
		// Axes given by a tensor whose values are not known.
		switch {
		case rank < 0:
			return single(partial.New(x.DType, symbolic.UnknownShape()))
		case keepDims:
			return single(partial.New(x.DType, symbolic.UnknownDims(rank)))
		}
		if n, ok := lengthOf(inputs[1]); ok && n > 0 {
			return single(partial.New(x.DType, symbolic.UnknownDims(max(rank-n, 0))))
		}
		return single(partial.New(x.DType, symbolic.UnknownShape()))
	}
	if len(axes) == 0 {
		if noopWithEmptyAxes {
			return single(x.Clone())
		}
		if rank < 0 {
			if keepDims {
				return single(partial.New(x.DType, symbolic.UnknownShape()))
			}
			return single(partial.New(x.DType, symbolic.ScalarShape()))
		}
		axes = make([]int, rank)
		for ii := range axes {
			axes[ii] = ii
		}
	}
	if rank < 0 {
		return single(partial.New(x.DType, symbolic.UnknownShape()))
	}
	axes = normalizeAxes(axes, rank, 0)
	output := partial.New(x.DType, reducedShape(x.Shape, axes, keepDims))

	fold, found := reductionFolds[ctx.Op]
	if !found || rank > 1 || !x.HasElements() {
		return single(output)
	}
	elements, _ := x.Elements()
	if len(elements) == 0 {
		return single(output)
	}
	acc := elements[0]
	for _, e := range elements[1:] {
		var err error
		acc, err = symbolic.FoldBinary(fold, acc, e, x.DType)
		at(err, 0)
	}
	return single(withElements(ctx, output, []symbolic.Element{acc}))
}

func inferArgReduce(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	x := inputs[0]
	keepDims := ctx.Attrs.BoolOr("keepdims", true)
	rank := x.Rank()
	if rank < 0 {
		return single(partial.New(dtypes.Int64, symbolic.UnknownShape()))
	}
	axis := normalizeAxis(ctx.Attrs.IntOr("axis", 0), rank, 0)
	if d := x.Shape.Dim(axis); d.IsValueOf(0) {
		at(symbolic.NewShapeError(axis, d, symbolic.Value(1), "%s over an empty axis", ctx.Op), 0)
	}
	output := partial.New(dtypes.Int64, reducedShape(x.Shape, []int{axis}, keepDims))
	if rank != 1 {
		return single(output)
	}
	elements, ok := x.Elements()
	if !ok {
		return single(output)
	}
	selectLast := ctx.Attrs.BoolOr("select_last_index", false)
	compare := symbolic.OpGreater
	if ctx.Op == "ArgMin" {
		compare = symbolic.OpLess
	}
	if selectLast {
		compare = symbolic.OpGreaterOrEqual
		if ctx.Op == "ArgMin" {
			compare = symbolic.OpLessOrEqual
		}
	}
	best := 0
	for ii := 1; ii < len(elements); ii++ {
		better, err := symbolic.FoldBinary(compare, elements[ii], elements[best], x.DType)
		at(err, 0)
		isBetter, known := better.Bool()
		if !known {
			return single(output)
		}
		if isBetter {
			best = ii
		}
	}
	return single(withElements(ctx, output, []symbolic.Element{symbolic.IntElement(int64(best))}))
}

func inferCumSum(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	x, axisTensor := inputs[0], inputs[1]
	requireDType(axisTensor, 1, "an integer axis", isInteger)
	if r := axisTensor.Rank(); r > 1 {
		at(symbolic.NewRankError(0, r, "CumSum axis must be a scalar or a 1-element tensor"), 1)
	}
	if axes, ok := intsOf(axisTensor); ok && len(axes) == 1 && x.Rank() >= 0 {
		normalizeAxis(axes[0], x.Rank(), 1)
	}
	output := sameShape(x, x.DType)
	if x.Rank() != 1 || !x.HasElements() {
		return single(output)
	}
	elements, _ := x.Elements()
	exclusive := ctx.Attrs.BoolOr("exclusive", false)
	reverse := ctx.Attrs.BoolOr("reverse", false)
	n := len(elements)
	result := make([]symbolic.Element, n)
	acc := symbolic.Cast(symbolic.IntElement(0), x.DType)
	for step := range n {
		i := step
		if reverse {
			i = n - 1 - step
		}
		if exclusive {
			result[i] = acc
		}
		var err error
		acc, err = symbolic.FoldBinary(symbolic.OpAdd, acc, elements[i], x.DType)
		at(err, 0)
		if !exclusive {
			result[i] = acc
		}
	}
	return single(withElements(ctx, output, result))
}
