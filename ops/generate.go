package ops

import (
	"math"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/onnx-builder/partial"
	"github.com/gomlx/onnx-builder/symbolic"
)

func generatorOps() []*Contract {
	return []*Contract{
		{Name: "Range", Arity: Fixed(3), Outputs: 1, Infer: inferRange},
		{Name: "ConstantOfShape", Arity: Fixed(1), Outputs: 1, Infer: inferConstantOfShape},
		{Name: "EyeLike", Arity: Fixed(1), Outputs: 1, Infer: inferLike},
		{Name: "RandomNormalLike", Arity: Fixed(1), Outputs: 1, Infer: inferLike},
		{Name: "RandomUniformLike", Arity: Fixed(1), Outputs: 1, Infer: inferLike},
	}
}

func requireScalar(t *partial.Tensor, input int) {
	if r := t.Rank(); r > 0 {
		at(symbolic.NewRankError(0, r, "expected a scalar"), input)
	}
}

func inferRange(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	for ii, t := range inputs {
		requireScalar(t, ii)
	}
	dtype := commonDType(ctx, inputs...)
	start, limit, delta := inputs[0].Element(0), inputs[1].Element(0), inputs[2].Element(0)
	if delta.IsZero() {
		at(symbolic.NewArithmeticError("Range", limit, delta, "delta can't be 0"), 2)
	}

	length := symbolic.Unknown()
	if start.IsValue() && limit.IsValue() && delta.IsValue() {
		s, _ := start.Float()
		l, _ := limit.Float()
		d, _ := delta.Float()
		length = symbolic.Value(int(max(math.Ceil((l-s)/d), 0)))
	} else if isIntValue(start, 0) && isIntValue(delta, 1) && !limit.IsUnknown() {
		// Range(0, N, 1) has length N.
		d, err := symbolic.ElementToDim(limit)
		at(err, 1)
		length = d
	}
	output := partial.New(dtype, symbolic.MakeShape(length))
	n, ok := length.Int()
	if !ok || n > ctx.ElementCap {
		return single(output)
	}
	elements := make([]symbolic.Element, n)
	acc := start
	for ii := range elements {
		elements[ii] = acc
		var err error
		acc, err = symbolic.FoldBinary(symbolic.OpAdd, acc, delta, dtype)
		at(err, 0)
	}
	return single(withElements(ctx, output, elements))
}

func isIntValue(e symbolic.Element, v int64) bool {
	i, ok := e.Int()
	return ok && i == v
}

func inferConstantOfShape(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	shape := shapeFromTensor(inputs[0], 0)
	dtype := ctx.Attrs.DTypeOr("dtype", dtypes.Float32)
	var value symbolic.Element
	switch v := ctx.Attrs["value"].(type) {
	case nil:
		value = symbolic.IntElement(0)
	case float32, float64:
		value = symbolic.FloatElement(ctx.Attrs.FloatOr("value", 0))
	case bool:
		value = symbolic.BoolElement(v)
	default:
		value = symbolic.IntElement(int64(ctx.Attrs.IntOr("value", 0)))
	}
	output := partial.New(dtype, shape)
	if shape.Rank() > 1 {
		return single(output)
	}
	n, ok := shape.Size().Int()
	if !ok || n > ctx.ElementCap {
		return single(output)
	}
	elements := make([]symbolic.Element, n)
	for ii := range elements {
		elements[ii] = value
	}
	return single(withElements(ctx, output, elements))
}

// inferLike infers operators that generate a tensor shaped like their input, optionally with another dtype.
func inferLike(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	x := inputs[0]
	if ctx.Op == "EyeLike" {
		requireRank(x, 0, 2)
	}
	return single(sameShape(x, ctx.Attrs.DTypeOr("dtype", x.DType)))
}
